package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCategory проставляется объявлению без категории.
const DefaultCategory = "General"

// Product — объявление о питомце или товаре в каталоге.
type Product struct {
	ID          string
	SellerID    string
	Name        string
	Description string
	// Amount хранит цену в исходном текстовом виде, например "$500" или "500.00".
	Amount    string
	ImageURL  string
	Category  string
	IsSold    bool
	SoldAt    *time.Time
	BuyerID   *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProductFilter описывает выборку объявлений для каталога.
type ProductFilter struct {
	// IncludeSold включает в выдачу уже проданные объявления.
	IncludeSold bool
	Category    string
	// Query ищет подстроку в названии и описании без учёта регистра.
	Query    string
	SellerID string
	Limit    int
}

// Price возвращает числовое значение цены объявления.
func (p Product) Price() decimal.Decimal {
	return ParsePrice(p.Amount)
}

// Available сообщает, можно ли зарезервировать объявление.
func (p Product) Available() bool {
	return !p.IsSold
}

// ReservationConsistent проверяет инвариант резерва:
// проданный товар имеет soldAt и buyerId, непроданный не имеет ни того, ни другого.
func (p Product) ReservationConsistent() bool {
	if p.IsSold {
		return p.SoldAt != nil && p.BuyerID != nil && *p.BuyerID != ""
	}
	return p.SoldAt == nil && p.BuyerID == nil
}

// HeldBy сообщает, зарезервирован ли товар указанным покупателем.
func (p Product) HeldBy(buyerID string) bool {
	return p.IsSold && p.BuyerID != nil && *p.BuyerID == buyerID
}

// MarkReserved переводит объявление в проданное состояние.
// Вызывается только хранилищем внутри атомарной операции резерва.
func (p *Product) MarkReserved(buyerID string, at time.Time) {
	buyer := buyerID
	soldAt := at
	p.IsSold = true
	p.SoldAt = &soldAt
	p.BuyerID = &buyer
	p.UpdatedAt = at
}

// MarkReleased возвращает объявление в продажу.
func (p *Product) MarkReleased(at time.Time) {
	p.IsSold = false
	p.SoldAt = nil
	p.BuyerID = nil
	p.UpdatedAt = at
}

// Matches проверяет объявление на соответствие фильтру каталога.
func (f ProductFilter) Matches(p Product) bool {
	if !f.IncludeSold && p.IsSold {
		return false
	}
	if f.Category != "" && !strings.EqualFold(f.Category, p.Category) {
		return false
	}
	if f.SellerID != "" && f.SellerID != p.SellerID {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		if !strings.Contains(strings.ToLower(p.Name), q) && !strings.Contains(strings.ToLower(p.Description), q) {
			return false
		}
	}
	return true
}

// Validate проверяет поля нового объявления и проставляет категорию по умолчанию.
func (p *Product) Validate() error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return ErrProductNameRequired
	}
	if strings.TrimSpace(p.Amount) == "" {
		return ErrProductAmountRequired
	}
	if strings.TrimSpace(p.SellerID) == "" {
		return ErrSellerRequired
	}
	if strings.TrimSpace(p.Category) == "" {
		p.Category = DefaultCategory
	}
	return nil
}

// Clone возвращает копию без общих указателей.
func (p Product) Clone() Product {
	if p.SoldAt != nil {
		soldAt := *p.SoldAt
		p.SoldAt = &soldAt
	}
	if p.BuyerID != nil {
		buyer := *p.BuyerID
		p.BuyerID = &buyer
	}
	return p
}
