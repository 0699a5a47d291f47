// Package commission computes affiliate commissions from order amounts.
package commission

import (
	"github.com/shopspring/decimal"

	"affiliate-tracking/internal/models"
)

var hundred = decimal.NewFromInt(100)

// Commission is a computed commission snapshot.
type Commission struct {
	Type  models.CommissionType `json:"type"`
	Value decimal.Decimal       `json:"value"`
}

// Compute returns the commission for amount under the given type and rate.
// Fixed commissions ignore the amount. Percentage commissions are rounded to
// two places, half away from zero. Unknown types are treated as percentage.
func Compute(amount decimal.Decimal, t models.CommissionType, rate decimal.Decimal) Commission {
	if t == models.CommissionFixed {
		return Commission{Type: t, Value: rate.Round(2)}
	}
	return Commission{
		Type:  models.CommissionPercentage,
		Value: amount.Mul(rate).Div(hundred).Round(2),
	}
}

// Effective picks the commission type and rate for an affiliate, falling back
// field by field to the tenant defaults where the affiliate omits them.
func Effective(a models.Affiliate, t models.Tenant) (models.CommissionType, decimal.Decimal) {
	ct := a.CommissionType
	if !ct.Valid() {
		ct = t.DefaultCommissionType
	}
	rate := t.DefaultCommissionRate
	if a.CommissionRate.Valid {
		rate = a.CommissionRate.Decimal
	}
	return ct, rate
}
