package notify

import (
	"encoding/json"
	"fmt"

	"github.com/vladislavdragonenkov/petmarket/internal/domain"
)

// Payload — JSON-представление уведомления в outbox и Kafka.
type Payload struct {
	Event      string `json:"event"`
	OrderID    string `json:"order_id"`
	CustomerID string `json:"customer_id"`
	Status     string `json:"status,omitempty"`
	To         string `json:"to,omitempty"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
}

// EncodePayload сериализует уведомление.
func EncodePayload(n domain.Notification) ([]byte, error) {
	return json.Marshal(Payload{
		Event:      string(n.Event),
		OrderID:    n.OrderID,
		CustomerID: n.CustomerID,
		Status:     string(n.Status),
		To:         n.To,
		Subject:    n.Subject,
		Body:       n.Body,
	})
}

// DecodePayload восстанавливает уведомление из JSON.
func DecodePayload(data []byte) (domain.Notification, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.Notification{}, fmt.Errorf("decode notification payload: %w", err)
	}
	return domain.Notification{
		Event:      domain.NotificationEvent(p.Event),
		OrderID:    p.OrderID,
		CustomerID: p.CustomerID,
		Status:     domain.OrderStatus(p.Status),
		To:         p.To,
		Subject:    p.Subject,
		Body:       p.Body,
	}, nil
}
