package reconciliation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"pi42-grid/internal/events"
	"pi42-grid/internal/state"
	"pi42-grid/pkg/db"
	"pi42-grid/pkg/exchanges/pi42"
)

type fakePositions struct {
	mu   sync.Mutex
	data map[string][]pi42.Position
	errs map[string]error
}

func (f *fakePositions) GetOpenPositions(_ context.Context, symbol string) ([]pi42.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[symbol]; err != nil {
		return nil, err
	}
	return f.data[symbol], nil
}

type fakeOrders struct {
	orders []pi42.OpenOrder
	err    error
}

func (f *fakeOrders) GetOpenOrders(context.Context) ([]pi42.OpenOrder, error) {
	return f.orders, f.err
}

type memRecorder struct {
	mu        sync.Mutex
	positions map[string]db.Position
}

func (m *memRecorder) UpsertPosition(_ context.Context, p db.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[p.Symbol] = p
	return nil
}

func (m *memRecorder) DeletePosition(_ context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, symbol)
	return nil
}

func quietOptions(bus *events.Bus) Options {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return Options{Bus: bus, Logger: logger}
}

func TestRefreshPositionsAllSucceed(t *testing.T) {
	src := &fakePositions{data: map[string][]pi42.Position{
		"XINR": {
			{ContractPair: "OTHERINR", Quantity: 9},
			{ContractPair: "XINR", Quantity: 6, EntryPrice: 1000},
		},
	}}
	store := state.NewStore()
	rec := &memRecorder{positions: map[string]db.Position{}}
	bus := events.NewBus()
	changes, unsub := bus.Subscribe(events.EventPositionChange, 4)
	defer unsub()

	p := NewPositionPoller(src, store, rec, []string{"XINR", "YINR"}, quietOptions(bus))
	if err := p.RefreshPositions(context.Background()); err != nil {
		t.Fatalf("RefreshPositions: %v", err)
	}
	if !store.PositionsLoaded() {
		t.Fatal("positions should be loaded")
	}
	pos, ok := store.Position("XINR")
	if !ok || pos.Quantity != 6 || pos.EntryPrice != 1000 {
		t.Fatalf("XINR position=%+v ok=%v", pos, ok)
	}
	if _, ok := store.Position("YINR"); ok {
		t.Fatal("YINR should be flat")
	}
	if rec.positions["XINR"].Qty != 6 {
		t.Fatalf("position not persisted: %+v", rec.positions)
	}
	select {
	case ev := <-changes:
		if ev.(events.PositionChange).Symbol != "XINR" {
			t.Fatalf("unexpected change %+v", ev)
		}
	default:
		t.Fatal("expected a position change event")
	}
}

func TestRefreshPositionsPartialFailureKeepsLastGood(t *testing.T) {
	src := &fakePositions{
		data: map[string][]pi42.Position{"XINR": {{ContractPair: "XINR", Quantity: 6}}},
		errs: map[string]error{},
	}
	store := state.NewStore()
	p := NewPositionPoller(src, store, nil, []string{"XINR", "YINR"}, quietOptions(nil))

	src.errs["YINR"] = errors.New("timeout")
	if err := p.RefreshPositions(context.Background()); err == nil {
		t.Fatal("expected error for YINR")
	}
	if store.PositionsLoaded() {
		t.Fatal("partial pass must not set loaded")
	}
	if !store.HasPosition("XINR") {
		t.Fatal("successful symbol should be stored immediately")
	}

	delete(src.errs, "YINR")
	if err := p.RefreshPositions(context.Background()); err != nil {
		t.Fatalf("RefreshPositions: %v", err)
	}
	if !store.PositionsLoaded() {
		t.Fatal("full pass should set loaded")
	}

	src.errs["XINR"] = errors.New("status 500")
	_ = p.RefreshPositions(context.Background())
	if !store.HasPosition("XINR") || !store.PositionsLoaded() {
		t.Fatal("failure must retain last good value and loaded flag")
	}
}

func TestRefreshOrdersPartitionsBySymbol(t *testing.T) {
	src := &fakeOrders{orders: []pi42.OpenOrder{
		{Symbol: "XINR", Side: "SELL", Price: 1100},
		{Symbol: "XINR", Side: "sell", Price: 1050},
		{Symbol: "ZINR", Side: "SELL", Price: 5},
	}}
	store := state.NewStore()
	o := NewOrderPoller(src, store, []string{"XINR", "YINR"}, quietOptions(events.NewBus()))

	if err := o.RefreshOrders(context.Background()); err != nil {
		t.Fatalf("RefreshOrders: %v", err)
	}
	if !store.OrdersLoaded() {
		t.Fatal("orders should be loaded")
	}
	prices := store.OpenSellPrices("XINR")
	if len(prices) != 2 || prices[0] != 1050 {
		t.Fatalf("OpenSellPrices=%v", prices)
	}
	if store.HasOpenTakeProfitSell("YINR") {
		t.Fatal("YINR should have an empty set")
	}
	if store.HasOpenTakeProfitSell("ZINR") {
		t.Fatal("unconfigured symbols are not tracked")
	}
}

func TestRefreshOrdersFailureKeepsSnapshot(t *testing.T) {
	src := &fakeOrders{orders: []pi42.OpenOrder{{Symbol: "XINR", Side: "SELL", Price: 1100}}}
	store := state.NewStore()
	o := NewOrderPoller(src, store, []string{"XINR"}, quietOptions(nil))
	if err := o.RefreshOrders(context.Background()); err != nil {
		t.Fatal(err)
	}
	src.err = errors.New("boom")
	if err := o.RefreshOrders(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if !store.HasOpenTakeProfitSell("XINR") {
		t.Fatal("failed poll must not clear orders")
	}
}

func TestStartRunsImmediately(t *testing.T) {
	src := &fakeOrders{}
	store := state.NewStore()
	opts := quietOptions(nil)
	opts.Interval = time.Hour
	o := NewOrderPoller(src, store, []string{"XINR"}, opts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for !store.OrdersLoaded() {
		if time.Now().After(deadline) {
			t.Fatal("first pass did not run")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
