package common

import "github.com/shopspring/decimal"

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType denotes the order types the grid places.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusAccepted OrderStatus = "ACCEPTED"
	StatusRejected OrderStatus = "REJECTED"
	StatusDryRun   OrderStatus = "DRY_RUN"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// OrderRequest captures an order intent to be sent to an exchange.
// Price is zero for market orders.
type OrderRequest struct {
	Symbol          string
	Side            Side
	Type            OrderType
	Qty             decimal.Decimal
	Price           decimal.Decimal
	TakeProfitPrice decimal.Decimal
	ReduceOnly      bool
	MarginAsset     string
	ClientID        string // local id, never sent; used for logging and audit rows
}

// OrderResult returns the exchange ack.
type OrderResult struct {
	ExchangeOrderID string
	Status          OrderStatus
	ClientID        string
	Raw             []byte
}
