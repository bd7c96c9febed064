package engine

import "time"

// State is the per-instrument decision state.
type State string

const (
	StateUnready  State = "UNREADY"
	StateIdle     State = "IDLE"
	StateCooldown State = "COOLDOWN"
	StateArmed    State = "ARMED" // transient: decided to buy, submission in flight
)

// InstrumentStatus is the per-symbol view used by the dashboard and API.
type InstrumentStatus struct {
	Symbol            string        `json:"symbol"`
	State             State         `json:"state"`
	Price             float64       `json:"price,omitempty"`
	PriceAge          time.Duration `json:"price_age_ns,omitempty"`
	TriggerPrice      string        `json:"trigger_price,omitempty"`
	NextQty           string        `json:"next_qty,omitempty"`
	OpenSells         int           `json:"open_sells"`
	LowestSell        float64       `json:"lowest_sell,omitempty"`
	HasPosition       bool          `json:"has_position"`
	PositionQty       float64       `json:"position_qty,omitempty"`
	EntryPrice        float64       `json:"entry_price,omitempty"`
	UnrealizedPnL     float64       `json:"unrealized_pnl,omitempty"`
	LastSubmission    time.Time     `json:"last_submission,omitzero"`
	CooldownRemaining time.Duration `json:"cooldown_remaining_ns,omitempty"`
}

// SystemStatus is the bot-wide view.
type SystemStatus struct {
	Ready       bool               `json:"ready"`
	SizingMode  string             `json:"sizing_mode"`
	TriggerMode string             `json:"trigger_mode"`
	Instruments []InstrumentStatus `json:"instruments"`
	GeneratedAt time.Time          `json:"generated_at"`
}
