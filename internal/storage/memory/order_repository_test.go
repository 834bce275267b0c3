package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/petmarket/internal/domain"
	"github.com/vladislavdragonenkov/petmarket/internal/storage/memory"
)

func newOrder(id string, createdAt time.Time) domain.Order {
	return domain.NewOrder(id, "customer-1", []domain.OrderItem{
		{ProductID: "pet-1", Name: "Barsik", Amount: "500", Quantity: 1, SellerID: "seller-1"},
	}, domain.Shipping{Email: "anna@example.com"}, createdAt)
}

func TestOrderRepository_CreateGet(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	order := newOrder("order-1", time.Now().UTC())

	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Create(ctx, order); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected duplicate create to fail, got %v", err)
	}

	stored, err := repo.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.ID != order.ID || !stored.Total.Equal(order.Total) {
		t.Fatalf("unexpected stored order: %+v", stored)
	}

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepository_ListByCustomerNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"order-a", "order-b", "order-c"} {
		if err := repo.Create(ctx, newOrder(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}
	other := newOrder("order-x", base)
	other.CustomerID = "customer-2"
	if err := repo.Create(ctx, other); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	orders, err := repo.ListByCustomer(ctx, "customer-1", 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(orders) != 3 {
		t.Fatalf("expected 3 orders, got %d", len(orders))
	}
	if orders[0].ID != "order-c" || orders[2].ID != "order-a" {
		t.Fatalf("expected newest first, got %s..%s", orders[0].ID, orders[2].ID)
	}

	limited, err := repo.ListByCustomer(ctx, "customer-1", 2)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected limit 2, got %d", len(limited))
	}
}

func TestOrderRepository_Save(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	order := newOrder("order-1", time.Now().UTC())
	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	stored, err := repo.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}

	if err := stored.ApplyStatusUpdate(domain.StatusUpdate{Status: domain.OrderStatusConfirmed}, time.Now().UTC()); err != nil {
		t.Fatalf("apply update failed: %v", err)
	}
	if err := repo.Save(ctx, stored); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	updated, err := repo.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if updated.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected confirmed, got %s", updated.Status)
	}
	if updated.Version != stored.Version+1 {
		t.Fatalf("expected version increment, got %d", updated.Version)
	}
}

func TestOrderRepository_SaveVersionConflict(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	order := newOrder("order-1", time.Now().UTC())
	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	order.Version = 42
	if err := repo.Save(ctx, order); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected version conflict error, got %v", err)
	}
}

func TestOrderRepository_SaveRejectsHistoryRewrite(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	order := newOrder("order-1", time.Now().UTC())
	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	order.Tracking.History[0].Note = "rewritten"
	if err := repo.Save(ctx, order); !errors.Is(err, domain.ErrHistoryRewrite) {
		t.Fatalf("expected ErrHistoryRewrite, got %v", err)
	}
}
