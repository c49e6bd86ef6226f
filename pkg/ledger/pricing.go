package ledger

import (
	"github.com/shopspring/decimal"

	"docqa/pkg/domain"
)

// DefaultRatePerThousand is the price of 1000 tokens.
var DefaultRatePerThousand = decimal.NewFromInt(100)

// Tariff prices completions by consumed tokens.
type Tariff struct {
	RatePerThousand decimal.Decimal
}

func NewTariff(rate decimal.Decimal) Tariff {
	if !rate.IsPositive() {
		rate = DefaultRatePerThousand
	}
	return Tariff{RatePerThousand: rate}
}

// Cost returns round(totalTokens/1000 * rate, 2). Administrators pay nothing.
func (t Tariff) Cost(totalTokens int, role domain.UserRole) decimal.Decimal {
	if role == domain.RoleAdmin || totalTokens <= 0 {
		return decimal.Zero
	}
	rate := t.RatePerThousand
	if !rate.IsPositive() {
		rate = DefaultRatePerThousand
	}
	return decimal.NewFromInt(int64(totalTokens)).
		Div(decimal.NewFromInt(1000)).
		Mul(rate).
		Round(2)
}
