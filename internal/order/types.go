package order

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"pi42-grid/internal/strategy"
)

var (
	// ErrCooldown means the instrument traded too recently.
	ErrCooldown = errors.New("order: instrument in cooldown")
	// ErrNoPrice means no usable mark price is cached.
	ErrNoPrice = errors.New("order: no price")
	// ErrNoQuantity means the sizing policy produced nothing to buy.
	ErrNoQuantity = errors.New("order: quantity below one step")
	// ErrUnknownSymbol means the symbol is not in the instrument table.
	ErrUnknownSymbol = errors.New("order: unknown symbol")
)

// TradeState is the per-instrument cooldown memory.
type TradeState struct {
	LastSubmission time.Time
}

// InCooldown reports whether now is within cooldown of the last submission.
func (t TradeState) InCooldown(now time.Time, cooldown time.Duration) bool {
	if t.LastSubmission.IsZero() || cooldown <= 0 {
		return false
	}
	return now.Sub(t.LastSubmission) < cooldown
}

// Remaining returns the cooldown left at now, zero when none.
func (t TradeState) Remaining(now time.Time, cooldown time.Duration) time.Duration {
	if !t.InCooldown(now, cooldown) {
		return 0
	}
	return cooldown - now.Sub(t.LastSubmission)
}

// Intent is a fully priced buy before it is sent.
type Intent struct {
	ID              string
	Symbol          string
	Qty             decimal.Decimal
	EntryPrice      decimal.Decimal
	TakeProfitPrice decimal.Decimal
	Branch          strategy.Branch
}

// Attempt describes what TryBuy did.
type Attempt struct {
	Decision  strategy.Decision
	Submitted bool
	Intent    Intent
}
