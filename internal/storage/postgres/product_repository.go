package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/petmarket/internal/domain"
)

const productColumns = `id, seller_id, name, description, amount, image_url, category, is_sold, sold_at, buyer_id, created_at, updated_at`

type productRepository struct {
	q querier
}

func (r *productRepository) CreateProduct(ctx context.Context, product domain.Product) (domain.Product, error) {
	if err := product.Validate(); err != nil {
		return domain.Product{}, err
	}
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.MarkReleased(product.CreatedAt)

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO products (
			id, seller_id, name, description, amount, image_url, category,
			is_sold, sold_at, buyer_id, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,FALSE,NULL,NULL,$8,$9)
	`,
		product.ID, product.SellerID, product.Name, product.Description, product.Amount,
		product.ImageURL, product.Category, product.CreatedAt, product.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Product{}, fmt.Errorf("product %s already exists", product.ID)
		}
		return domain.Product{}, fmt.Errorf("insert product: %w", err)
	}
	return product, nil
}

func (r *productRepository) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	product, err := scanProduct(r.q.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1
	`, strings.TrimSpace(id)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return product, nil
}

// GetProducts возвращает найденные объявления в порядке запроса, без повторов.
func (r *productRepository) GetProducts(ctx context.Context, ids []string) ([]domain.Product, error) {
	if len(ids) == 0 {
		return []domain.Product{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	found, err := collect(ctx, r.q, scanProduct, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	byID := make(map[string]domain.Product, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}

	result := make([]domain.Product, 0, len(byID))
	for _, id := range ids {
		product, ok := byID[id]
		if !ok {
			continue
		}
		result = append(result, product)
		delete(byID, id)
	}
	return result, nil
}

func (r *productRepository) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !filter.IncludeSold {
		conds = append(conds, "is_sold = FALSE")
	}
	if c := strings.TrimSpace(filter.Category); c != "" {
		conds = append(conds, "LOWER(category) = LOWER("+arg(c)+")")
	}
	if s := strings.TrimSpace(filter.SellerID); s != "" {
		conds = append(conds, "seller_id = "+arg(s))
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		p := arg("%" + escapeLike(q) + "%")
		conds = append(conds, "(name ILIKE "+p+" OR description ILIKE "+p+")")
	}

	query := `SELECT ` + productColumns + ` FROM products`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}

	result, err := collect(ctx, r.q, scanProduct, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return result, nil
}

// ReserveIfAvailable атомарно помечает товар проданным.
// Условие is_sold = FALSE в самом UPDATE гарантирует единственного победителя.
func (r *productRepository) ReserveIfAvailable(ctx context.Context, productID, buyerID string, at time.Time) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	product, err := scanProduct(r.q.QueryRowContext(ctx, `
		UPDATE products
		SET is_sold = TRUE,
		    sold_at = $3,
		    buyer_id = $2,
		    updated_at = $3
		WHERE id = $1
		  AND is_sold = FALSE
		RETURNING `+productColumns,
		productID, buyerID, at,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductUnavailable
		}
		if isLockConflict(err) {
			return domain.Product{}, fmt.Errorf("%w: %v", domain.ErrProductUnavailable, err)
		}
		return domain.Product{}, fmt.Errorf("reserve product: %w", err)
	}
	return product, nil
}

// Release снимает резерв, только если товар держит expectedHolderID.
func (r *productRepository) Release(ctx context.Context, productID, expectedHolderID string, at time.Time) (domain.Product, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	product, err := scanProduct(r.q.QueryRowContext(ctx, `
		UPDATE products
		SET is_sold = FALSE,
		    sold_at = NULL,
		    buyer_id = NULL,
		    updated_at = $3
		WHERE id = $1
		  AND is_sold = TRUE
		  AND buyer_id = $2
		RETURNING `+productColumns,
		productID, expectedHolderID, at,
	))
	if err == nil {
		return product, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, false, fmt.Errorf("release product: %w", err)
	}

	current, err := r.GetProduct(ctx, productID)
	if errors.Is(err, domain.ErrProductNotFound) {
		return domain.Product{}, false, nil
	}
	if err != nil {
		return domain.Product{}, false, err
	}
	return current, false, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var (
		product domain.Product
		soldAt  sql.NullTime
		buyerID sql.NullString
	)
	if err := row.Scan(
		&product.ID, &product.SellerID, &product.Name, &product.Description, &product.Amount,
		&product.ImageURL, &product.Category, &product.IsSold, &soldAt, &buyerID,
		&product.CreatedAt, &product.UpdatedAt,
	); err != nil {
		return domain.Product{}, err
	}
	if soldAt.Valid {
		t := soldAt.Time.UTC()
		product.SoldAt = &t
	}
	if buyerID.Valid {
		b := buyerID.String
		product.BuyerID = &b
	}
	product.CreatedAt = product.CreatedAt.UTC()
	product.UpdatedAt = product.UpdatedAt.UTC()
	return product, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

var (
	_ domain.ProductStore    = (*productRepository)(nil)
	_ domain.ProductReserver = (*productRepository)(nil)
)
