package state

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"
)

// Position is the exchange's view of one open position. Absent means flat.
type Position struct {
	Symbol     string          `json:"symbol"`
	Quantity   float64         `json:"quantity"`
	EntryPrice float64         `json:"entry_price"`
	Raw        json.RawMessage `json:"-"`
}

// OpenOrder is one resting order on the account.
type OpenOrder struct {
	Symbol string          `json:"symbol"`
	Side   string          `json:"side"`
	Price  float64         `json:"price"`
	Raw    json.RawMessage `json:"-"`
}

// Store keeps the reconciled account view. Positions are written only by the
// position poller and orders only by the order poller; everyone else reads.
type Store struct {
	mu              sync.RWMutex
	positions       map[string]Position
	orders          map[string][]OpenOrder
	positionsLoaded bool
	ordersLoaded    bool
	positionsAt     time.Time
	ordersAt        time.Time
}

func NewStore() *Store {
	return &Store{
		positions: make(map[string]Position),
		orders:    make(map[string][]OpenOrder),
	}
}

// SetPosition stores the latest position for symbol; a nil position marks
// the symbol flat.
func (s *Store) SetPosition(symbol string, pos *Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pos == nil {
		delete(s.positions, symbol)
		return
	}
	p := *pos
	p.Symbol = symbol
	s.positions[symbol] = p
}

// MarkPositionsLoaded records a pass in which every symbol succeeded.
func (s *Store) MarkPositionsLoaded(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positionsLoaded = true
	s.positionsAt = at
}

// ReplaceOrders swaps the whole orders snapshot and marks orders loaded.
func (s *Store) ReplaceOrders(bySymbol map[string][]OpenOrder, at time.Time) {
	next := make(map[string][]OpenOrder, len(bySymbol))
	for sym, orders := range bySymbol {
		next[sym] = append([]OpenOrder(nil), orders...)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = next
	s.ordersLoaded = true
	s.ordersAt = at
}

// Position returns the cached position for symbol.
func (s *Store) Position(symbol string) (Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[symbol]
	return p, ok
}

// HasPosition reports a strictly positive quantity.
func (s *Store) HasPosition(symbol string) bool {
	p, ok := s.Position(symbol)
	return ok && p.Quantity > 0
}

// OpenSellPrices returns the prices of resting sells, ascending.
func (s *Store) OpenSellPrices(symbol string) []float64 {
	s.mu.RLock()
	orders := s.orders[symbol]
	prices := make([]float64, 0, len(orders))
	for _, o := range orders {
		if isSell(o) && o.Price > 0 {
			prices = append(prices, o.Price)
		}
	}
	s.mu.RUnlock()
	sort.Float64s(prices)
	return prices
}

// HasOpenTakeProfitSell reports any resting sell for symbol.
func (s *Store) HasOpenTakeProfitSell(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orders[symbol] {
		if isSell(o) {
			return true
		}
	}
	return false
}

// Ready is true once both positions and orders have loaded at least once.
func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.positionsLoaded && s.ordersLoaded
}

func (s *Store) PositionsLoaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.positionsLoaded
}

func (s *Store) OrdersLoaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ordersLoaded
}

// Snapshot is a point-in-time copy for reporting.
type Snapshot struct {
	PositionsLoaded bool                   `json:"positions_loaded"`
	OrdersLoaded    bool                   `json:"orders_loaded"`
	PositionsAt     time.Time              `json:"positions_at"`
	OrdersAt        time.Time              `json:"orders_at"`
	Positions       map[string]Position    `json:"positions"`
	Orders          map[string][]OpenOrder `json:"orders"`
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		PositionsLoaded: s.positionsLoaded,
		OrdersLoaded:    s.ordersLoaded,
		PositionsAt:     s.positionsAt,
		OrdersAt:        s.ordersAt,
		Positions:       make(map[string]Position, len(s.positions)),
		Orders:          make(map[string][]OpenOrder, len(s.orders)),
	}
	for k, v := range s.positions {
		snap.Positions[k] = v
	}
	for k, v := range s.orders {
		snap.Orders[k] = append([]OpenOrder(nil), v...)
	}
	return snap
}

func isSell(o OpenOrder) bool {
	return strings.EqualFold(o.Side, "SELL")
}
