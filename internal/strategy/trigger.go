package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	TriggerLowestSell = "lowest_sell"
	TriggerFixedDrop  = "fixed_drop"
)

// NewTrigger returns the trigger policy for mode.
func NewTrigger(mode string, dropPercent float64) (Trigger, error) {
	switch mode {
	case TriggerLowestSell, "":
		return LowestSellTrigger{DropPercent: dropPercent}, nil
	case TriggerFixedDrop:
		return FixedDropTrigger{DropPercent: dropPercent}, nil
	default:
		return nil, fmt.Errorf("strategy: unknown trigger mode %q", mode)
	}
}

// LowestSellTrigger buys when price falls DropPercent below the lowest
// resting take-profit sell.
type LowestSellTrigger struct {
	DropPercent float64
}

func (LowestSellTrigger) Mode() string { return TriggerLowestSell }

func (t LowestSellTrigger) TriggerPrice(in TriggerInput) (decimal.Decimal, bool) {
	if len(in.OpenSells) == 0 {
		return decimal.Zero, false
	}
	lowest := decimal.NewFromFloat(in.OpenSells[0])
	return dropPrice(in.Symbol, lowest, t.DropPercent), true
}

func (t LowestSellTrigger) ShouldBuy(in TriggerInput) Decision {
	return decide(t, in)
}

// FixedDropTrigger buys when price falls DropPercent below the position's
// entry price. Without a position it falls back to the lowest open sell.
type FixedDropTrigger struct {
	DropPercent float64
}

func (FixedDropTrigger) Mode() string { return TriggerFixedDrop }

func (t FixedDropTrigger) TriggerPrice(in TriggerInput) (decimal.Decimal, bool) {
	if in.HasPosition && in.EntryPrice.IsPositive() {
		return dropPrice(in.Symbol, in.EntryPrice, t.DropPercent), true
	}
	return LowestSellTrigger(t).TriggerPrice(in)
}

func (t FixedDropTrigger) ShouldBuy(in TriggerInput) Decision {
	return decide(t, in)
}

func decide(t Trigger, in TriggerInput) Decision {
	if !in.Price.IsPositive() {
		return Decision{}
	}
	if !in.HasPosition && len(in.OpenSells) == 0 {
		return Decision{Fire: true, Branch: BranchEntry}
	}
	trigger, ok := t.TriggerPrice(in)
	if !ok {
		return Decision{}
	}
	if in.Price.LessThanOrEqual(trigger) {
		return Decision{Fire: true, Branch: BranchGrid, TriggerPrice: trigger}
	}
	return Decision{TriggerPrice: trigger}
}
