package market

// MarkPrice is one markPriceUpdate event.
type MarkPrice struct {
	Symbol string
	Price  float64
	Time   int64 // event time (ms) when the venue sends one
}
