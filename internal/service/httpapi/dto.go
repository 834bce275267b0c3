package httpapi

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/petmarket/internal/domain"
)

// Ответы содержат канонические поля (sellerId, customerId, buyerId) и их
// старые зеркала (hostId, adopterId) для клиентов прежней версии.

type itemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type shippingDTO struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Address    string `json:"address"`
	City       string `json:"city"`
	Country    string `json:"country"`
	PostalCode string `json:"postalCode"`
}

type createOrderRequest struct {
	Items    []itemRequest `json:"items"`
	Shipping shippingDTO   `json:"shipping"`
}

type statusUpdateRequest struct {
	Status         string `json:"status"`
	Note           string `json:"note"`
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"trackingNumber"`
	// ETA — RFC 3339 или дата без времени (2006-01-02, полночь UTC).
	ETA string `json:"eta"`
}

var etaLayouts = []string{time.RFC3339Nano, time.DateOnly}

// parseETA разбирает ETA; пустая строка означает «не менять».
func parseETA(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range etaLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unsupported eta format %q", raw)
}

type createProductRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// Amount обязан быть строкой: "$500", "500.00". Число в JSON отклоняется.
	Amount   json.RawMessage `json:"amount"`
	ImageURL string          `json:"imageUrl"`
	Category string          `json:"category"`
}

type orderItemResponse struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Amount    string `json:"amount"`
	Quantity  int    `json:"quantity"`
	ImageURL  string `json:"imageUrl,omitempty"`
	SellerID  string `json:"sellerId,omitempty"`
	HostID    string `json:"hostId,omitempty"`
}

type historyResponse struct {
	Status string    `json:"status"`
	Note   string    `json:"note"`
	At     time.Time `json:"at"`
}

type trackingResponse struct {
	Carrier        string            `json:"carrier,omitempty"`
	TrackingNumber string            `json:"trackingNumber,omitempty"`
	ETA            *time.Time        `json:"eta,omitempty"`
	History        []historyResponse `json:"history"`
}

type orderResponse struct {
	ID               string              `json:"id"`
	CustomerID       string              `json:"customerId"`
	AdopterID        string              `json:"adopterId"`
	Items            []orderItemResponse `json:"items"`
	Total            json.Number         `json:"total"`
	Status           string              `json:"status"`
	DeliveryTracking trackingResponse    `json:"deliveryTracking"`
	Shipping         shippingDTO         `json:"shipping"`
	Version          int64               `json:"version"`
	CreatedAt        time.Time           `json:"createdAt"`
	UpdatedAt        time.Time           `json:"updatedAt"`
}

type productResponse struct {
	ID          string     `json:"id"`
	SellerID    string     `json:"sellerId"`
	HostID      string     `json:"hostId"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Amount      string     `json:"amount"`
	ImageURL    string     `json:"imageUrl,omitempty"`
	Category    string     `json:"category"`
	IsSold      bool       `json:"isSold"`
	SoldAt      *time.Time `json:"soldAt"`
	BuyerID     *string    `json:"buyerId"`
	AdopterID   *string    `json:"adopterId"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (s shippingDTO) toDomain() domain.Shipping {
	return domain.Shipping{
		Name:       s.Name,
		Email:      s.Email,
		Address:    s.Address,
		City:       s.City,
		Country:    s.Country,
		PostalCode: s.PostalCode,
	}
}

func toShippingDTO(s domain.Shipping) shippingDTO {
	return shippingDTO{
		Name:       s.Name,
		Email:      s.Email,
		Address:    s.Address,
		City:       s.City,
		Country:    s.Country,
		PostalCode: s.PostalCode,
	}
}

func toOrderResponse(o domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemResponse{
			ProductID: it.ProductID,
			Name:      it.Name,
			Amount:    it.Amount,
			Quantity:  it.Quantity,
			ImageURL:  it.ImageURL,
			SellerID:  it.SellerID,
			HostID:    it.SellerID,
		})
	}
	history := make([]historyResponse, 0, len(o.Tracking.History))
	for _, h := range o.Tracking.History {
		history = append(history, historyResponse{Status: string(h.Status), Note: h.Note, At: h.At})
	}
	return orderResponse{
		ID:         o.ID,
		CustomerID: o.CustomerID,
		AdopterID:  o.CustomerID,
		Items:      items,
		Total:      json.Number(o.Total.String()),
		Status:     string(o.Status),
		DeliveryTracking: trackingResponse{
			Carrier:        o.Tracking.Carrier,
			TrackingNumber: o.Tracking.TrackingNumber,
			ETA:            o.Tracking.ETA,
			History:        history,
		},
		Shipping:  toShippingDTO(o.Shipping),
		Version:   o.Version,
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

func toOrderResponses(orders []domain.Order) []orderResponse {
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	return out
}

func toProductResponse(p domain.Product) productResponse {
	return productResponse{
		ID:          p.ID,
		SellerID:    p.SellerID,
		HostID:      p.SellerID,
		Name:        p.Name,
		Description: p.Description,
		Amount:      p.Amount,
		ImageURL:    p.ImageURL,
		Category:    p.Category,
		IsSold:      p.IsSold,
		SoldAt:      p.SoldAt,
		BuyerID:     p.BuyerID,
		AdopterID:   p.BuyerID,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func toProductResponses(products []domain.Product) []productResponse {
	out := make([]productResponse, 0, len(products))
	for _, p := range products {
		out = append(out, toProductResponse(p))
	}
	return out
}
