package repository

import (
	"github.com/shopspring/decimal"
)

// pricePlaces is the fixed scale of persisted and published prices.
const pricePlaces = 4

func roundPrice(v *float64) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := decimal.NewFromFloat(*v).Round(pricePlaces)
	return &d
}

func priceString(v *float64) *string {
	d := roundPrice(v)
	if d == nil {
		return nil
	}
	s := d.StringFixed(pricePlaces)
	return &s
}

func decimalFloat(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	f := d.InexactFloat64()
	return &f
}
