package events

import "time"

// Event enumerates high-level topics inside the grid bot.
type Event string

const (
	EventPriceTick       Event = "price_tick"
	EventEngineState     Event = "engine_state"
	EventPositionChange  Event = "position_change"
	EventOrdersRefreshed Event = "orders_refreshed"
	EventStreamStatus    Event = "stream_status"
	EventOrderSubmitted  Event = "order.submitted"
	EventOrderRejected   Event = "order.rejected"
)

// PriceTick is published for every accepted mark-price update.
type PriceTick struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	At     time.Time `json:"at"`
}

// EngineState is published when an instrument changes state.
type EngineState struct {
	Symbol string `json:"symbol"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// PositionChange is published when a poll observes a different quantity.
type PositionChange struct {
	Symbol     string  `json:"symbol"`
	Quantity   float64 `json:"quantity"`
	EntryPrice float64 `json:"entry_price"`
}

// OrdersRefreshed summarizes one open-orders pass.
type OrdersRefreshed struct {
	Total int       `json:"total"`
	At    time.Time `json:"at"`
}

// StreamStatus reports stream connects and disconnects.
type StreamStatus struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

// OrderAttempt is published for every submission that reached the exchange
// client, accepted or not.
type OrderAttempt struct {
	ID              string    `json:"id"`
	Symbol          string    `json:"symbol"`
	Qty             string    `json:"qty"`
	EntryPrice      string    `json:"entry_price"`
	TakeProfitPrice string    `json:"take_profit_price"`
	Status          string    `json:"status"`
	ExchangeOrderID string    `json:"exchange_order_id,omitempty"`
	Error           string    `json:"error,omitempty"`
	At              time.Time `json:"at"`
}
