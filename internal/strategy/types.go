package strategy

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultQtyPrecision is the number of quantity decimals sent to the exchange.
const DefaultQtyPrecision int32 = 6

// Instrument is one tradable symbol with its sizing parameters.
// Immutable after config load.
type Instrument struct {
	Symbol       string
	StepSize     decimal.Decimal
	Capital      decimal.Decimal // capital mode
	LotSize      decimal.Decimal // fixed_lot and rounded_lot modes
	QtyPrecision int32
}

// NewInstrument converts config floats into an Instrument.
func NewInstrument(symbol string, step, capital, lot float64, qtyPrecision int32) Instrument {
	if qtyPrecision <= 0 {
		qtyPrecision = DefaultQtyPrecision
	}
	return Instrument{
		Symbol:       strings.ToUpper(symbol),
		StepSize:     decimal.NewFromFloat(step),
		Capital:      decimal.NewFromFloat(capital),
		LotSize:      decimal.NewFromFloat(lot),
		QtyPrecision: qtyPrecision,
	}
}

// Branch names which trigger rule fired.
type Branch string

const (
	BranchNone  Branch = ""
	BranchEntry Branch = "entry"
	BranchGrid  Branch = "grid"
)

// TriggerInput is the account and market view for one evaluation.
type TriggerInput struct {
	Symbol      string
	Price       decimal.Decimal // zero when no price is cached
	HasPosition bool
	EntryPrice  decimal.Decimal
	OpenSells   []float64 // ascending
}

// Decision is the trigger outcome. TriggerPrice is zero when no grid
// reference exists.
type Decision struct {
	Fire         bool
	Branch       Branch
	TriggerPrice decimal.Decimal
}

// Sizer decides how much to buy at a given price.
type Sizer interface {
	Mode() string
	Quantity(inst Instrument, price decimal.Decimal) (decimal.Decimal, bool)
}

// Trigger decides whether the current tick should buy.
type Trigger interface {
	Mode() string
	ShouldBuy(in TriggerInput) Decision
	TriggerPrice(in TriggerInput) (decimal.Decimal, bool)
}
