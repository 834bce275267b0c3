package notify

import (
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/petmarket/internal/domain"
)

// OrderCreated формирует письмо-подтверждение заказа.
func OrderCreated(order domain.Order) domain.Notification {
	return domain.Notification{
		Event:      domain.NotificationOrderCreated,
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Status:     order.Status,
		To:         order.Shipping.Email,
		Subject:    "Order Confirmation",
		Body:       fmt.Sprintf("Thank you for your order! Your order ID is %s. Total: %s", order.ID, order.Total.String()),
	}
}

// OrderCancelled формирует письмо об отмене заказа.
func OrderCancelled(order domain.Order) domain.Notification {
	return domain.Notification{
		Event:      domain.NotificationOrderCancelled,
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Status:     order.Status,
		To:         order.Shipping.Email,
		Subject:    "Order Cancelled",
		Body:       fmt.Sprintf("Your order %s has been cancelled.", order.ID),
	}
}

// OrderStatusChanged формирует письмо о смене статуса. Заметка из истории добавляется в текст.
func OrderStatusChanged(order domain.Order, note string) domain.Notification {
	body := fmt.Sprintf("Your order %s is now %s.", order.ID, order.Status)
	if order.Tracking.TrackingNumber != "" {
		body += fmt.Sprintf(" Tracking number: %s", order.Tracking.TrackingNumber)
		if order.Tracking.Carrier != "" {
			body += fmt.Sprintf(" (%s)", order.Tracking.Carrier)
		}
		body += "."
	}
	if note = strings.TrimSpace(note); note != "" {
		body += " " + note
	}
	return domain.Notification{
		Event:      domain.NotificationOrderStatusChanged,
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Status:     order.Status,
		To:         order.Shipping.Email,
		Subject:    fmt.Sprintf("Order %s", order.Status),
		Body:       body,
	}
}
