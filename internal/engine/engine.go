package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"pi42-grid/internal/events"
	"pi42-grid/internal/order"
	"pi42-grid/internal/state"
	"pi42-grid/internal/strategy"
)

// PriceSource is the read side of the price table.
type PriceSource interface {
	Price(symbol string) (float64, bool)
	GetWithAge(symbol string) (float64, time.Duration, bool)
}

// Submitter is the part of order.Submitter the engine drives.
type Submitter interface {
	TryBuy(ctx context.Context, symbol string, decide func() strategy.Decision) (order.Attempt, error)
	TradeState(symbol string) order.TradeState
	CooldownRemaining(symbol string) time.Duration
	Quantity(symbol string, price float64) (decimal.Decimal, bool)
}

// EvaluationObserver is told the outcome of every evaluation.
type EvaluationObserver interface {
	ObserveEvaluation(symbol string, st State, branch strategy.Branch)
}

// Config wires an Engine. Bus, Observer and Logger are optional.
type Config struct {
	Symbols    []string
	Store      *state.Store
	Prices     PriceSource
	Trigger    strategy.Trigger
	Submitter  Submitter
	SizingMode string
	Bus        *events.Bus
	Observer   EvaluationObserver
	Logger     logrus.FieldLogger
}

// Engine is the per-instrument state machine:
// UNREADY until the store has loaded, IDLE while waiting for a trigger,
// ARMED during a submission, COOLDOWN after a successful one.
type Engine struct {
	cfg     Config
	symbols []string
	known   map[string]bool
	log     logrus.FieldLogger

	mu     sync.RWMutex
	states map[string]State
}

var _ Service = (*Engine)(nil)

func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	e := &Engine{
		cfg:     cfg,
		symbols: append([]string(nil), cfg.Symbols...),
		known:   make(map[string]bool, len(cfg.Symbols)),
		log:     cfg.Logger.WithField("component", "engine"),
		states:  make(map[string]State, len(cfg.Symbols)),
	}
	for _, sym := range cfg.Symbols {
		e.known[sym] = true
		e.states[sym] = StateUnready
	}
	return e
}

// Symbols returns the configured instruments in order.
func (e *Engine) Symbols() []string {
	return append([]string(nil), e.symbols...)
}

// Tracks reports whether symbol is a configured instrument.
func (e *Engine) Tracks(symbol string) bool {
	return e.known[symbol]
}

// Evaluate runs one decision for symbol and returns the resulting state.
func (e *Engine) Evaluate(ctx context.Context, symbol string) State {
	if !e.known[symbol] {
		return StateIdle
	}
	if !e.cfg.Store.Ready() {
		return e.finish(symbol, StateUnready, strategy.BranchNone)
	}
	if _, ok := e.cfg.Prices.Price(symbol); !ok {
		return e.finish(symbol, StateIdle, strategy.BranchNone)
	}

	attempt, err := e.cfg.Submitter.TryBuy(ctx, symbol, func() strategy.Decision {
		d := e.cfg.Trigger.ShouldBuy(e.triggerInput(symbol))
		if d.Fire {
			e.setState(symbol, StateArmed)
			fields := logrus.Fields{"symbol": symbol, "branch": string(d.Branch)}
			if d.Branch == strategy.BranchGrid {
				fields["trigger"] = d.TriggerPrice.String()
			}
			e.log.WithFields(fields).Info("buy triggered")
		}
		return d
	})

	switch {
	case errors.Is(err, order.ErrCooldown):
		return e.finish(symbol, StateCooldown, strategy.BranchNone)
	case err != nil:
		if errors.Is(err, order.ErrNoPrice) || errors.Is(err, order.ErrNoQuantity) {
			e.log.WithFields(logrus.Fields{"symbol": symbol, "reason": err.Error()}).Debug("buy skipped")
		}
		return e.finish(symbol, StateIdle, attempt.Decision.Branch)
	case attempt.Submitted:
		return e.finish(symbol, StateCooldown, attempt.Decision.Branch)
	default:
		return e.finish(symbol, StateIdle, strategy.BranchNone)
	}
}

// State reports the current state; an expired cooldown reads as IDLE.
func (e *Engine) State(symbol string) State {
	if !e.cfg.Store.Ready() {
		return StateUnready
	}
	e.mu.RLock()
	st, ok := e.states[symbol]
	e.mu.RUnlock()
	if !ok {
		return StateIdle
	}
	if e.cfg.Submitter.CooldownRemaining(symbol) > 0 {
		if st != StateArmed {
			return StateCooldown
		}
		return st
	}
	if st == StateCooldown || st == StateUnready {
		return StateIdle
	}
	return st
}

// TriggerPrice is the current grid trigger for symbol, if any.
func (e *Engine) TriggerPrice(symbol string) (decimal.Decimal, bool) {
	return e.cfg.Trigger.TriggerPrice(e.triggerInput(symbol))
}

func (e *Engine) triggerInput(symbol string) strategy.TriggerInput {
	in := strategy.TriggerInput{
		Symbol:    symbol,
		OpenSells: e.cfg.Store.OpenSellPrices(symbol),
	}
	if p, ok := e.cfg.Prices.Price(symbol); ok {
		in.Price = decimal.NewFromFloat(p)
	}
	if pos, ok := e.cfg.Store.Position(symbol); ok && pos.Quantity > 0 {
		in.HasPosition = true
		in.EntryPrice = decimal.NewFromFloat(pos.EntryPrice)
	}
	return in
}

func (e *Engine) setState(symbol string, st State) State {
	e.mu.Lock()
	prev := e.states[symbol]
	e.states[symbol] = st
	e.mu.Unlock()
	if prev != st && e.cfg.Bus != nil {
		e.cfg.Bus.Publish(events.EventEngineState, events.EngineState{Symbol: symbol, From: string(prev), To: string(st)})
	}
	return prev
}

func (e *Engine) finish(symbol string, st State, branch strategy.Branch) State {
	if prev := e.setState(symbol, st); prev == StateUnready && st != StateUnready {
		e.log.WithField("symbol", symbol).Info("instrument ready")
	}
	if e.cfg.Observer != nil {
		e.cfg.Observer.ObserveEvaluation(symbol, st, branch)
	}
	return st
}

// InstrumentStatus assembles the reporting view for symbol.
func (e *Engine) InstrumentStatus(symbol string) (InstrumentStatus, bool) {
	if !e.known[symbol] {
		return InstrumentStatus{}, false
	}
	st := InstrumentStatus{
		Symbol:            symbol,
		State:             e.State(symbol),
		LastSubmission:    e.cfg.Submitter.TradeState(symbol).LastSubmission,
		CooldownRemaining: e.cfg.Submitter.CooldownRemaining(symbol),
	}
	sells := e.cfg.Store.OpenSellPrices(symbol)
	st.OpenSells = len(sells)
	if len(sells) > 0 {
		st.LowestSell = sells[0]
	}
	if price, age, ok := e.cfg.Prices.GetWithAge(symbol); ok && price > 0 {
		st.Price = price
		st.PriceAge = age
		if qty, ok := e.cfg.Submitter.Quantity(symbol, price); ok {
			st.NextQty = qty.String()
		}
	}
	if trig, ok := e.TriggerPrice(symbol); ok {
		st.TriggerPrice = trig.String()
	}
	if pos, ok := e.cfg.Store.Position(symbol); ok && pos.Quantity > 0 {
		st.HasPosition = true
		st.PositionQty = pos.Quantity
		st.EntryPrice = pos.EntryPrice
		if st.Price > 0 {
			st.UnrealizedPnL = (st.Price - pos.EntryPrice) * pos.Quantity
		}
	}
	return st, true
}

// SystemStatus reports every instrument in configuration order.
func (e *Engine) SystemStatus() SystemStatus {
	out := SystemStatus{
		Ready:       e.cfg.Store.Ready(),
		SizingMode:  e.cfg.SizingMode,
		TriggerMode: e.cfg.Trigger.Mode(),
		Instruments: make([]InstrumentStatus, 0, len(e.symbols)),
		GeneratedAt: time.Now().UTC(),
	}
	for _, sym := range e.symbols {
		if st, ok := e.InstrumentStatus(sym); ok {
			out.Instruments = append(out.Instruments, st)
		}
	}
	return out
}
