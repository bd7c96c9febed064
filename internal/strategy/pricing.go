package strategy

import (
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// RoundPrice applies the exchange tick convention: INR quoted symbols trade
// in whole rupees, everything else in cents. Halves round to even.
func RoundPrice(symbol string, price decimal.Decimal) decimal.Decimal {
	if strings.HasSuffix(strings.ToUpper(symbol), "INR") {
		return price.RoundBank(0)
	}
	return price.RoundBank(2)
}

// TakeProfitPrice is RoundPrice(entry × (1 + tpPercent/100)).
func TakeProfitPrice(symbol string, entry decimal.Decimal, tpPercent float64) decimal.Decimal {
	factor := decimal.NewFromInt(1).Add(decimal.NewFromFloat(tpPercent).Div(hundred))
	return RoundPrice(symbol, entry.Mul(factor))
}

// dropPrice is RoundPrice(ref × (1 − dropPercent/100)).
func dropPrice(symbol string, ref decimal.Decimal, dropPercent float64) decimal.Decimal {
	factor := decimal.NewFromInt(1).Sub(decimal.NewFromFloat(dropPercent).Div(hundred))
	return RoundPrice(symbol, ref.Mul(factor))
}
