package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// PriceTick is the latest mark price seen for a symbol.
type PriceTick struct {
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price"`
	ObservedAt time.Time `json:"observed_at"`
}

// PriceTable holds one live tick per symbol. Entries are overwritten in
// place and never removed; readers see the latest write or nothing.
type PriceTable struct {
	shards [numShards]*priceShard
}

type priceShard struct {
	mu    sync.RWMutex
	items map[string]PriceTick
}

// NewPriceTable creates an empty sharded table.
func NewPriceTable() *PriceTable {
	t := &PriceTable{}
	for i := 0; i < numShards; i++ {
		t.shards[i] = &priceShard{items: make(map[string]PriceTick)}
	}
	return t
}

func (t *PriceTable) getShard(key string) *priceShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return t.shards[h.Sum32()%numShards]
}

// Set overwrites the tick for symbol.
func (t *PriceTable) Set(symbol string, price float64, at time.Time) {
	shard := t.getShard(symbol)
	shard.mu.Lock()
	shard.items[symbol] = PriceTick{Symbol: symbol, Price: price, ObservedAt: at}
	shard.mu.Unlock()
}

// Get returns the tick for symbol.
func (t *PriceTable) Get(symbol string) (PriceTick, bool) {
	shard := t.getShard(symbol)
	shard.mu.RLock()
	tick, ok := shard.items[symbol]
	shard.mu.RUnlock()
	return tick, ok
}

// Price returns the latest price; ok is false when nothing usable is cached.
func (t *PriceTable) Price(symbol string) (float64, bool) {
	tick, ok := t.Get(symbol)
	if !ok || tick.Price <= 0 {
		return 0, false
	}
	return tick.Price, true
}

// GetWithAge retrieves price and its age.
func (t *PriceTable) GetWithAge(symbol string) (float64, time.Duration, bool) {
	tick, ok := t.Get(symbol)
	if !ok {
		return 0, 0, false
	}
	return tick.Price, time.Since(tick.ObservedAt), true
}

// Len returns total items across all shards.
func (t *PriceTable) Len() int {
	total := 0
	for _, shard := range t.shards {
		shard.mu.RLock()
		total += len(shard.items)
		shard.mu.RUnlock()
	}
	return total
}

// Snapshot copies every tick (for reporting).
func (t *PriceTable) Snapshot() map[string]PriceTick {
	result := make(map[string]PriceTick)
	for _, shard := range t.shards {
		shard.mu.RLock()
		for sym, tick := range shard.items {
			result[sym] = tick
		}
		shard.mu.RUnlock()
	}
	return result
}

// Stats provides table statistics.
type Stats struct {
	TotalItems  int            `json:"total_items"`
	ShardCounts [numShards]int `json:"shard_counts"`
	OldestAge   time.Duration  `json:"oldest_age"`
}

// Stats returns table statistics.
func (t *PriceTable) Stats() Stats {
	stats := Stats{}
	var oldest time.Time

	for i, shard := range t.shards {
		shard.mu.RLock()
		stats.ShardCounts[i] = len(shard.items)
		stats.TotalItems += len(shard.items)
		for _, tick := range shard.items {
			if oldest.IsZero() || tick.ObservedAt.Before(oldest) {
				oldest = tick.ObservedAt
			}
		}
		shard.mu.RUnlock()
	}

	if !oldest.IsZero() {
		stats.OldestAge = time.Since(oldest)
	}
	return stats
}
