package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	SizingCapital    = "capital"
	SizingFixedLot   = "fixed_lot"
	SizingRoundedLot = "rounded_lot"
)

// NewSizer returns the sizing policy for mode.
func NewSizer(mode string) (Sizer, error) {
	switch mode {
	case SizingCapital, "":
		return CapitalSizer{}, nil
	case SizingFixedLot:
		return FixedLotSizer{}, nil
	case SizingRoundedLot:
		return RoundedLotSizer{}, nil
	default:
		return nil, fmt.Errorf("strategy: unknown sizing mode %q", mode)
	}
}

// CapitalSizer spends a fixed capital per trade:
// floor((capital/price)/step) × step.
type CapitalSizer struct{}

func (CapitalSizer) Mode() string { return SizingCapital }

func (CapitalSizer) Quantity(inst Instrument, price decimal.Decimal) (decimal.Decimal, bool) {
	if !price.IsPositive() || !inst.StepSize.IsPositive() || !inst.Capital.IsPositive() {
		return decimal.Zero, false
	}
	steps := inst.Capital.Div(price).Div(inst.StepSize).Floor()
	return finish(inst, steps.Mul(inst.StepSize))
}

// FixedLotSizer always buys the configured lot.
type FixedLotSizer struct{}

func (FixedLotSizer) Mode() string { return SizingFixedLot }

func (FixedLotSizer) Quantity(inst Instrument, price decimal.Decimal) (decimal.Decimal, bool) {
	if !price.IsPositive() {
		return decimal.Zero, false
	}
	return finish(inst, inst.LotSize)
}

// RoundedLotSizer buys the configured lot rounded down to whole steps.
type RoundedLotSizer struct{}

func (RoundedLotSizer) Mode() string { return SizingRoundedLot }

func (RoundedLotSizer) Quantity(inst Instrument, price decimal.Decimal) (decimal.Decimal, bool) {
	if !price.IsPositive() || !inst.StepSize.IsPositive() {
		return decimal.Zero, false
	}
	steps := inst.LotSize.Div(inst.StepSize).Floor()
	return finish(inst, steps.Mul(inst.StepSize))
}

// finish applies quantity precision and the one-step minimum.
func finish(inst Instrument, qty decimal.Decimal) (decimal.Decimal, bool) {
	precision := inst.QtyPrecision
	if precision <= 0 {
		precision = DefaultQtyPrecision
	}
	qty = qty.Round(precision)
	if !qty.IsPositive() || qty.LessThan(inst.StepSize) {
		return decimal.Zero, false
	}
	return qty, true
}
