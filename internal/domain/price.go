package domain

import (
	"regexp"

	"github.com/shopspring/decimal"
)

var priceNoise = regexp.MustCompile(`[^0-9.]`)

// ParsePrice извлекает число из текстовой цены: все символы, кроме цифр и точки,
// отбрасываются. Нераспознанная строка даёт 0.
func ParsePrice(amount string) decimal.Decimal {
	cleaned := priceNoise.ReplaceAllString(amount, "")
	if cleaned == "" {
		return decimal.Zero
	}
	value, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero
	}
	return value
}

// LineTotal возвращает стоимость позиции: цена × количество.
func LineTotal(amount string, quantity int) decimal.Decimal {
	return ParsePrice(amount).Mul(decimal.NewFromInt(int64(quantity)))
}
