// Package engine decides, per instrument and per price tick, whether to buy.
// It fuses the latest mark price with the reconciled account state and hands
// a firing decision to the order submitter under the instrument's lock.
package engine

import "context"

// Service is what the feed, dashboard and API layer need from the engine.
type Service interface {
	Evaluate(ctx context.Context, symbol string) State
	State(symbol string) State
	InstrumentStatus(symbol string) (InstrumentStatus, bool)
	SystemStatus() SystemStatus
	Symbols() []string
}
