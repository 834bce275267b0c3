package httpapi

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/petmarket/internal/domain"
)

const maxListLimit = 500

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	var req createProductRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}

	var amount string
	if len(req.Amount) == 0 || json.Unmarshal(req.Amount, &amount) != nil {
		writeError(w, r, h.logger, domain.ErrProductAmountRequired)
		return
	}

	product, err := h.products.CreateProduct(r.Context(), domain.Product{
		ID:          uuid.NewString(),
		SellerID:    principal.ID,
		Name:        req.Name,
		Description: req.Description,
		Amount:      amount,
		ImageURL:    req.ImageURL,
		Category:    strings.TrimSpace(req.Category),
		CreatedAt:   h.now(),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.logger.WithField("product_id", product.ID).WithField("seller_id", product.SellerID).Info("product listed")
	writeJSON(w, http.StatusCreated, toProductResponse(product))
}

// listProducts отдаёт публичный каталог. Проданные скрыты, пока не передан includeSold=true.
func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.ProductFilter{
		IncludeSold: q.Get("includeSold") == "true",
		Category:    q.Get("category"),
		Query:       q.Get("q"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeMessage(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		filter.Limit = min(limit, maxListLimit)
	}

	list, err := h.products.ListProducts(r.Context(), filter)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponses(list))
}

func (h *Handler) listMyProducts(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	list, err := h.products.ListProducts(r.Context(), domain.ProductFilter{
		SellerID:    principal.ID,
		IncludeSold: true,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponses(list))
}

// listCategories возвращает отсортированный список категорий всех объявлений.
func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	list, err := h.products.ListProducts(r.Context(), domain.ProductFilter{IncludeSold: true})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	seen := make(map[string]struct{}, len(list))
	categories := make([]string, 0)
	for _, p := range list {
		if _, ok := seen[p.Category]; ok {
			continue
		}
		seen[p.Category] = struct{}{}
		categories = append(categories, p.Category)
	}
	sort.Strings(categories)
	writeJSON(w, http.StatusOK, categories)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.products.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(product))
}
