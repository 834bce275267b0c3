package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/petmarket/internal/domain"
)

func TestOrderRepository_PostgresCreateGetListAndSave(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)
	ctx := context.Background()

	now := time.Now().UTC().Round(time.Microsecond)
	order1 := sampleOrder("order-1", "customer-1", now.Add(-2*time.Minute))
	order2 := sampleOrder("order-2", "customer-1", now.Add(-time.Minute))

	if err := repo.Create(ctx, order1); err != nil {
		t.Fatalf("create order1: %v", err)
	}
	if err := repo.Create(ctx, order2); err != nil {
		t.Fatalf("create order2: %v", err)
	}

	got, err := repo.Get(ctx, order1.ID)
	if err != nil {
		t.Fatalf("get order1: %v", err)
	}
	if got.ID != order1.ID || got.CustomerID != order1.CustomerID || got.Status != order1.Status {
		t.Fatalf("unexpected order payload: %+v", got)
	}
	if len(got.Items) != len(order1.Items) {
		t.Fatalf("unexpected items count: got=%d want=%d", len(got.Items), len(order1.Items))
	}
	if !got.Total.Equal(decimal.RequireFromString("741")) {
		t.Fatalf("unexpected total: %s", got.Total)
	}
	if got.Shipping.Email != "anna@example.com" {
		t.Fatalf("unexpected shipping: %+v", got.Shipping)
	}
	if len(got.Tracking.History) != 1 || got.Tracking.History[0].Note != domain.NoteOrderCreated {
		t.Fatalf("unexpected history: %+v", got.Tracking.History)
	}

	listed, err := repo.ListByCustomer(ctx, "customer-1", 1)
	if err != nil {
		t.Fatalf("list by customer with limit: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != order2.ID {
		t.Fatalf("unexpected list result with limit: %+v", listed)
	}

	all, err := repo.ListByCustomer(ctx, "customer-1", 0)
	if err != nil {
		t.Fatalf("list by customer without limit: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(all))
	}

	eta := now.Add(48 * time.Hour)
	if err := got.ApplyStatusUpdate(domain.StatusUpdate{
		Status:         domain.OrderStatusShipped,
		Note:           "Handed to courier",
		Carrier:        "DHL",
		TrackingNumber: "TRK-1",
		ETA:            &eta,
	}, now.Add(time.Minute)); err != nil {
		t.Fatalf("apply status update: %v", err)
	}
	if err := repo.Save(ctx, got); err != nil {
		t.Fatalf("save order: %v", err)
	}

	updated, err := repo.Get(ctx, order1.ID)
	if err != nil {
		t.Fatalf("get updated order: %v", err)
	}
	if updated.Status != domain.OrderStatusShipped {
		t.Fatalf("unexpected status after save: %s", updated.Status)
	}
	if updated.Version != got.Version+1 {
		t.Fatalf("unexpected version after save: got=%d want=%d", updated.Version, got.Version+1)
	}
	if updated.Tracking.Carrier != "DHL" || updated.Tracking.ETA == nil {
		t.Fatalf("tracking not persisted: %+v", updated.Tracking)
	}
	if len(updated.Tracking.History) != 2 || updated.Tracking.History[1].Note != "Handed to courier" {
		t.Fatalf("history not appended: %+v", updated.Tracking.History)
	}
}

func TestOrderRepository_PostgresErrors(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)
	ctx := context.Background()

	now := time.Now().UTC().Round(time.Microsecond)
	base := sampleOrder("order-errors", "customer-2", now)

	if _, err := repo.Get(ctx, "missing-order"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}

	if err := repo.Save(ctx, base); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound on save missing, got %v", err)
	}

	if err := repo.Create(ctx, base); err != nil {
		t.Fatalf("create base order: %v", err)
	}
	if err := repo.Create(ctx, base); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected ErrOrderVersionConflict on duplicate create, got %v", err)
	}

	stale := base.Clone()
	stale.Status = domain.OrderStatusConfirmed
	stale.UpdatedAt = now.Add(time.Minute)
	stale.Version = 42
	if err := repo.Save(ctx, stale); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected ErrOrderVersionConflict on stale save, got %v", err)
	}

	rewritten := base.Clone()
	rewritten.Tracking.History[0].Note = "rewritten"
	if err := repo.Save(ctx, rewritten); !errors.Is(err, domain.ErrHistoryRewrite) {
		t.Fatalf("expected ErrHistoryRewrite, got %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Fatal("expected unique violation for code 23505")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "22001"}) {
		t.Fatal("unexpected unique violation for non-unique code")
	}
	if isUniqueViolation(errors.New("plain error")) {
		t.Fatal("plain error must not be unique violation")
	}
}

func sampleOrder(id, customerID string, createdAt time.Time) domain.Order {
	items := []domain.OrderItem{
		{ProductID: id + "-pet-1", Name: "Barsik", Amount: "$500", Quantity: 1, SellerID: "seller-1"},
		{ProductID: id + "-pet-2", Name: "Collar", Amount: "120.50", Quantity: 2, SellerID: "seller-2"},
	}
	return domain.NewOrder(id, customerID, items, domain.Shipping{
		Name:    "Anna",
		Email:   "anna@example.com",
		Address: "Lenina 1",
		City:    "Kazan",
		Country: "RU",
	}, createdAt)
}
