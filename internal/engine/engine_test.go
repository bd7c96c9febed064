package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"pi42-grid/internal/order"
	"pi42-grid/internal/state"
	"pi42-grid/internal/strategy"
	"pi42-grid/pkg/cache"
	exchange "pi42-grid/pkg/exchanges/common"
)

type fakeGateway struct {
	calls atomic.Int32
	fail  atomic.Bool
}

func (g *fakeGateway) PlaceOrder(_ context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	g.calls.Add(1)
	if g.fail.Load() {
		return exchange.OrderResult{}, errors.New("status 400")
	}
	return exchange.OrderResult{Status: exchange.StatusAccepted, ClientID: req.ClientID}, nil
}

type harness struct {
	engine *Engine
	store  *state.Store
	prices *cache.PriceTable
	gw     *fakeGateway
}

func newHarness(t *testing.T, cooldown time.Duration) *harness {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	store := state.NewStore()
	prices := cache.NewPriceTable()
	gw := &fakeGateway{}
	sub := order.NewSubmitter(gw, prices, order.Config{
		Instruments: []strategy.Instrument{strategy.NewInstrument("XINR", 0.05, 6000, 0, 0)},
		Sizer:       strategy.CapitalSizer{},
		TPPercent:   2.5,
		Cooldown:    cooldown,
		Logger:      logger,
	})
	eng := New(Config{
		Symbols:    []string{"XINR"},
		Store:      store,
		Prices:     prices,
		Trigger:    strategy.LowestSellTrigger{DropPercent: 5},
		Submitter:  sub,
		SizingMode: strategy.SizingCapital,
		Logger:     logger,
	})
	return &harness{engine: eng, store: store, prices: prices, gw: gw}
}

func (h *harness) ready() {
	h.store.MarkPositionsLoaded(time.Now())
	h.store.ReplaceOrders(nil, time.Now())
}

func TestEvaluateUnreadyDoesNothing(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.prices.Set("XINR", 1000, time.Now())
	if st := h.engine.Evaluate(context.Background(), "XINR"); st != StateUnready {
		t.Fatalf("state=%s want UNREADY", st)
	}
	h.store.MarkPositionsLoaded(time.Now())
	if st := h.engine.Evaluate(context.Background(), "XINR"); st != StateUnready {
		t.Fatalf("orders not loaded: state=%s want UNREADY", st)
	}
	if h.gw.calls.Load() != 0 {
		t.Fatal("no submission expected before readiness")
	}
}

func TestEvaluateNoPriceIsIdle(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.ready()
	if st := h.engine.Evaluate(context.Background(), "XINR"); st != StateIdle {
		t.Fatalf("state=%s want IDLE", st)
	}
	if h.gw.calls.Load() != 0 {
		t.Fatal("no submission expected without price")
	}
}

func TestEntryBuyThenCooldown(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.ready()
	h.prices.Set("XINR", 1000, time.Now())

	if st := h.engine.Evaluate(context.Background(), "XINR"); st != StateCooldown {
		t.Fatalf("state=%s want COOLDOWN", st)
	}
	for i := 0; i < 10; i++ {
		if st := h.engine.Evaluate(context.Background(), "XINR"); st != StateCooldown {
			t.Fatalf("tick %d: state=%s want COOLDOWN", i, st)
		}
	}
	if h.gw.calls.Load() != 1 {
		t.Fatalf("calls=%d want 1", h.gw.calls.Load())
	}
	if h.engine.State("XINR") != StateCooldown {
		t.Fatalf("State=%s want COOLDOWN", h.engine.State("XINR"))
	}
}

func TestGridTriggerThreshold(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.store.SetPosition("XINR", &state.Position{Quantity: 6, EntryPrice: 1000})
	h.store.MarkPositionsLoaded(time.Now())
	h.store.ReplaceOrders(map[string][]state.OpenOrder{
		"XINR": {{Symbol: "XINR", Side: "SELL", Price: 1000}, {Symbol: "XINR", Side: "SELL", Price: 1025}},
	}, time.Now())

	h.prices.Set("XINR", 951, time.Now())
	if st := h.engine.Evaluate(context.Background(), "XINR"); st != StateIdle {
		t.Fatalf("951: state=%s want IDLE", st)
	}
	if trig, ok := h.engine.TriggerPrice("XINR"); !ok || trig.String() != "950" {
		t.Fatalf("trigger=%s ok=%v", trig, ok)
	}

	h.prices.Set("XINR", 950, time.Now())
	if st := h.engine.Evaluate(context.Background(), "XINR"); st != StateCooldown {
		t.Fatalf("950: state=%s want COOLDOWN", st)
	}
	if h.gw.calls.Load() != 1 {
		t.Fatalf("calls=%d want 1", h.gw.calls.Load())
	}
}

func TestPositionWithoutSellsNeverBuys(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.store.SetPosition("XINR", &state.Position{Quantity: 6, EntryPrice: 1000})
	h.ready()
	h.prices.Set("XINR", 1, time.Now())
	if st := h.engine.Evaluate(context.Background(), "XINR"); st != StateIdle {
		t.Fatalf("state=%s want IDLE", st)
	}
	if h.gw.calls.Load() != 0 {
		t.Fatal("no submission expected")
	}
}

func TestFailedSubmissionReturnsToIdle(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.ready()
	h.prices.Set("XINR", 1000, time.Now())
	h.gw.fail.Store(true)

	if st := h.engine.Evaluate(context.Background(), "XINR"); st != StateIdle {
		t.Fatalf("state=%s want IDLE", st)
	}
	h.gw.fail.Store(false)
	if st := h.engine.Evaluate(context.Background(), "XINR"); st != StateCooldown {
		t.Fatalf("retry state=%s want COOLDOWN", st)
	}
	if h.gw.calls.Load() != 2 {
		t.Fatalf("calls=%d want 2", h.gw.calls.Load())
	}
}

func TestCooldownExpiryReadsIdle(t *testing.T) {
	h := newHarness(t, 30*time.Millisecond)
	h.ready()
	h.prices.Set("XINR", 1000, time.Now())
	h.engine.Evaluate(context.Background(), "XINR")

	time.Sleep(50 * time.Millisecond)
	if st := h.engine.State("XINR"); st != StateIdle {
		t.Fatalf("State=%s want IDLE after cooldown", st)
	}
}

func TestConcurrentTicksSubmitOnce(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.ready()
	h.prices.Set("XINR", 1000, time.Now())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.engine.Evaluate(context.Background(), "XINR")
		}()
	}
	wg.Wait()
	if h.gw.calls.Load() != 1 {
		t.Fatalf("calls=%d want 1", h.gw.calls.Load())
	}
}

func TestInstrumentStatus(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.store.SetPosition("XINR", &state.Position{Quantity: 6, EntryPrice: 1000})
	h.ready()
	h.store.ReplaceOrders(map[string][]state.OpenOrder{"XINR": {{Side: "SELL", Price: 1025}}}, time.Now())
	h.prices.Set("XINR", 1010, time.Now())

	st, ok := h.engine.InstrumentStatus("XINR")
	if !ok {
		t.Fatal("expected status")
	}
	if st.UnrealizedPnL != 60 || !st.HasPosition || st.OpenSells != 1 {
		t.Fatalf("unexpected status %+v", st)
	}
	if st.TriggerPrice != "974" {
		t.Fatalf("trigger=%s want 974", st.TriggerPrice)
	}
	if _, ok := h.engine.InstrumentStatus("NOPE"); ok {
		t.Fatal("unknown symbol should have no status")
	}
	sys := h.engine.SystemStatus()
	if !sys.Ready || len(sys.Instruments) != 1 || sys.TriggerMode != strategy.TriggerLowestSell {
		t.Fatalf("unexpected system status %+v", sys)
	}
}

type heldGateway struct {
	entered chan struct{}
	release chan struct{}
}

func (g *heldGateway) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	close(g.entered)
	select {
	case <-g.release:
	case <-ctx.Done():
		return exchange.OrderResult{}, ctx.Err()
	}
	return exchange.OrderResult{Status: exchange.StatusAccepted, ClientID: req.ClientID}, nil
}

func TestStatusReadsDoNotWaitOnInFlightOrder(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	store := state.NewStore()
	prices := cache.NewPriceTable()
	gw := &heldGateway{entered: make(chan struct{}), release: make(chan struct{})}
	sub := order.NewSubmitter(gw, prices, order.Config{
		Instruments: []strategy.Instrument{strategy.NewInstrument("XINR", 0.05, 6000, 0, 0)},
		Sizer:       strategy.CapitalSizer{},
		TPPercent:   2.5,
		Cooldown:    time.Minute,
		Logger:      logger,
	})
	eng := New(Config{
		Symbols:   []string{"XINR"},
		Store:     store,
		Prices:    prices,
		Trigger:   strategy.LowestSellTrigger{DropPercent: 5},
		Submitter: sub,
		Logger:    logger,
	})
	store.MarkPositionsLoaded(time.Now())
	store.ReplaceOrders(nil, time.Now())
	prices.Set("XINR", 1000, time.Now())

	result := make(chan State, 1)
	go func() { result <- eng.Evaluate(context.Background(), "XINR") }()
	select {
	case <-gw.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("order never reached the gateway")
	}

	reads := make(chan State, 1)
	go func() {
		eng.SystemStatus()
		st, _ := eng.InstrumentStatus("XINR")
		reads <- st.State
	}()
	select {
	case st := <-reads:
		if st != StateArmed {
			t.Errorf("state during submission=%s want %s", st, StateArmed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("status read blocked while an order was in flight")
	}

	close(gw.release)
	if st := <-result; st != StateCooldown {
		t.Fatalf("state after submission=%s want %s", st, StateCooldown)
	}
	if eng.State("XINR") != StateCooldown {
		t.Fatalf("State=%s want %s", eng.State("XINR"), StateCooldown)
	}
}
