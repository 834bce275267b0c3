package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/petmarket/internal/domain"
)

type productRepositoryInMemory struct {
	store *Store
}

// CreateProduct сохраняет новое объявление в статусе "в продаже".
func (r *productRepositoryInMemory) CreateProduct(_ context.Context, product domain.Product) (domain.Product, error) {
	if err := product.Validate(); err != nil {
		return domain.Product{}, err
	}
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = product.CreatedAt
	product.MarkReleased(product.UpdatedAt)

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, exists := r.store.products[product.ID]; exists {
		return domain.Product{}, fmt.Errorf("product %s already exists", product.ID)
	}
	r.store.products[product.ID] = product.Clone()
	return product, nil
}

// GetProduct возвращает объявление или ErrProductNotFound.
func (r *productRepositoryInMemory) GetProduct(_ context.Context, id string) (domain.Product, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	product, ok := r.store.products[strings.TrimSpace(id)]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product.Clone(), nil
}

// GetProducts возвращает найденные объявления в порядке запроса, без повторов.
func (r *productRepositoryInMemory) GetProducts(_ context.Context, ids []string) ([]domain.Product, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	result := make([]domain.Product, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if product, ok := r.store.products[id]; ok {
			result = append(result, product.Clone())
		}
	}
	return result, nil
}

// ListProducts возвращает объявления по фильтру, новые первыми.
func (r *productRepositoryInMemory) ListProducts(_ context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	result := make([]domain.Product, 0)
	for _, product := range r.store.products {
		if filter.Matches(product) {
			result = append(result, product.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

var _ domain.ProductStore = (*productRepositoryInMemory)(nil)
