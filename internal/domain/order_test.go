package domain_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/petmarket/internal/domain"
)

// helper для создания базового заказа с двумя позициями.
func makeOrder(now time.Time) domain.Order {
	return domain.NewOrder("order-1", "customer-1", []domain.OrderItem{
		{ProductID: "pet-1", Name: "Barsik", Amount: "$500", Quantity: 1, SellerID: "seller-1"},
		{ProductID: "pet-2", Name: "Rex", Amount: "120.50", Quantity: 2, SellerID: "seller-2"},
	}, domain.Shipping{Name: "Anna", Email: "anna@example.com"}, now)
}

func TestNewOrder_PendingWithCreatedHistory(t *testing.T) {
	now := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	order := makeOrder(now)

	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending status, got %s", order.Status)
	}
	if !order.Total.Equal(decimal.RequireFromString("741")) {
		t.Fatalf("expected total 741, got %s", order.Total)
	}
	if len(order.Tracking.History) != 1 {
		t.Fatalf("expected one history entry, got %d", len(order.Tracking.History))
	}
	entry := order.Tracking.History[0]
	if entry.Status != domain.OrderStatusPending || entry.Note != domain.NoteOrderCreated || !entry.At.Equal(now) {
		t.Fatalf("unexpected creation entry: %+v", entry)
	}
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestNewOrder_ItemsAreSnapshot(t *testing.T) {
	items := []domain.OrderItem{{ProductID: "pet-1", Name: "Barsik", Amount: "500", Quantity: 1}}
	order := domain.NewOrder("order-1", "customer-1", items, domain.Shipping{}, time.Now().UTC())

	items[0].Amount = "900"
	items[0].Name = "Renamed"

	if order.Items[0].Amount != "500" || order.Items[0].Name != "Barsik" {
		t.Fatalf("order items must not follow source slice changes: %+v", order.Items[0])
	}
	if !order.Total.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("total changed after source edit: %s", order.Total)
	}
}

func TestOrderCancel_IsIdempotent(t *testing.T) {
	now := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	order := makeOrder(now)

	if !order.Cancel(now.Add(time.Minute)) {
		t.Fatal("first cancel must change the order")
	}
	if order.Cancel(now.Add(2 * time.Minute)) {
		t.Fatal("second cancel must be a no-op")
	}

	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", order.Status)
	}
	if len(order.Tracking.History) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(order.Tracking.History))
	}
	last := order.Tracking.History[1]
	if last.Status != domain.OrderStatusCancelled || last.Note != domain.NoteOrderCancelled {
		t.Fatalf("unexpected cancel entry: %+v", last)
	}
}

func TestOrderApplyStatusUpdate(t *testing.T) {
	now := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	eta := now.Add(72 * time.Hour)

	cases := []struct {
		name       string
		update     domain.StatusUpdate
		wantStatus domain.OrderStatus
		wantErr    error
	}{
		{
			name:       "status and tracking",
			update:     domain.StatusUpdate{Status: domain.OrderStatusShipped, Note: "handed to courier", Carrier: "DHL", TrackingNumber: "TRK-1", ETA: &eta},
			wantStatus: domain.OrderStatusShipped,
		},
		{
			name:       "note only keeps status",
			update:     domain.StatusUpdate{Note: "called the buyer"},
			wantStatus: domain.OrderStatusPending,
		},
		{
			name:       "backward transition is allowed",
			update:     domain.StatusUpdate{Status: domain.OrderStatusPending},
			wantStatus: domain.OrderStatusPending,
		},
		{
			name:    "unknown status",
			update:  domain.StatusUpdate{Status: "lost"},
			wantErr: domain.ErrInvalidStatus,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder(now)
			err := order.ApplyStatusUpdate(tc.update, now.Add(time.Hour))
			if tc.wantErr != nil {
				if err != tc.wantErr {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				if len(order.Tracking.History) != 1 {
					t.Fatal("rejected update must not touch history")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if order.Status != tc.wantStatus {
				t.Fatalf("expected status %s, got %s", tc.wantStatus, order.Status)
			}
			if len(order.Tracking.History) != 2 {
				t.Fatalf("expected exactly one appended entry, got %d", len(order.Tracking.History))
			}
			last := order.Tracking.History[1]
			if last.Status != tc.wantStatus || last.Note != tc.update.Note {
				t.Fatalf("unexpected history entry: %+v", last)
			}
		})
	}
}

func TestOrderApplyStatusUpdate_KeepsTrackingWhenEmpty(t *testing.T) {
	now := time.Now().UTC()
	order := makeOrder(now)
	if err := order.ApplyStatusUpdate(domain.StatusUpdate{Carrier: "DHL", TrackingNumber: "TRK-1"}, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := order.ApplyStatusUpdate(domain.StatusUpdate{Status: domain.OrderStatusDelivered}, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Tracking.Carrier != "DHL" || order.Tracking.TrackingNumber != "TRK-1" {
		t.Fatalf("tracking fields must survive empty update: %+v", order.Tracking)
	}
}

func TestOrderAppendHistory_Monotonic(t *testing.T) {
	now := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	order := makeOrder(now)

	// Часы откатились назад: запись всё равно не должна оказаться раньше предыдущей.
	entry := order.AppendHistory(domain.OrderStatusConfirmed, "", now.Add(-time.Hour))
	if entry.At.Before(now) {
		t.Fatalf("history entry went back in time: %v", entry.At)
	}
	if !domain.HistoryExtends(nil, order.Tracking.History) {
		t.Fatal("history must be chronologically ordered")
	}
}

func TestHistoryExtends(t *testing.T) {
	now := time.Now().UTC()
	base := []domain.HistoryEntry{
		{Status: domain.OrderStatusPending, Note: domain.NoteOrderCreated, At: now},
	}
	appended := append(append([]domain.HistoryEntry(nil), base...), domain.HistoryEntry{Status: domain.OrderStatusConfirmed, At: now.Add(time.Second)})
	rewritten := []domain.HistoryEntry{{Status: domain.OrderStatusConfirmed, Note: "edited", At: now}}

	if !domain.HistoryExtends(base, appended) {
		t.Fatal("append must be accepted")
	}
	if domain.HistoryExtends(base, rewritten) {
		t.Fatal("rewrite must be rejected")
	}
	if domain.HistoryExtends(appended, base) {
		t.Fatal("truncation must be rejected")
	}
}

func TestOrderValidateInvariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(o *domain.Order)
	}{
		{
			name: "no customer",
			mut: func(o *domain.Order) {
				o.CustomerID = ""
			},
		},
		{
			name: "no items",
			mut: func(o *domain.Order) {
				o.Items = nil
			},
		},
		{
			name: "qty invalid",
			mut: func(o *domain.Order) {
				o.Items[0].Quantity = 0
			},
		},
		{
			name: "unknown status",
			mut: func(o *domain.Order) {
				o.Status = "archived"
			},
		},
		{
			name: "history out of order",
			mut: func(o *domain.Order) {
				o.Tracking.History = append(o.Tracking.History, domain.HistoryEntry{
					Status: domain.OrderStatusConfirmed,
					At:     o.Tracking.History[0].At.Add(-time.Hour),
				})
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder(time.Now().UTC())
			tc.mut(&order)

			if len(order.ValidateInvariants()) == 0 {
				t.Fatalf("expected validation errors for case %s", tc.name)
			}
		})
	}
}

func TestParseOrderStatus(t *testing.T) {
	status, err := domain.ParseOrderStatus(" Shipped ")
	if err != nil || status != domain.OrderStatusShipped {
		t.Fatalf("expected shipped, got %q (%v)", status, err)
	}
	if _, err := domain.ParseOrderStatus("refunded"); err != domain.ErrInvalidStatus {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestOrderClone_DoesNotShareHistory(t *testing.T) {
	order := makeOrder(time.Now().UTC())
	clone := order.Clone()
	clone.AppendHistory(domain.OrderStatusConfirmed, "", time.Now().UTC())
	clone.Items[0].Name = "changed"

	if len(order.Tracking.History) != 1 {
		t.Fatal("clone must not share history backing array")
	}
	if order.Items[0].Name != "Barsik" {
		t.Fatal("clone must not share items backing array")
	}
}
