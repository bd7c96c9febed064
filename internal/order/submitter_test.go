package order

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"pi42-grid/internal/events"
	"pi42-grid/internal/strategy"
	"pi42-grid/pkg/db"
	exchange "pi42-grid/pkg/exchanges/common"
)

type fakeGateway struct {
	calls atomic.Int32
	delay time.Duration
	err   error

	mu   sync.Mutex
	last exchange.OrderRequest
}

func (g *fakeGateway) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	g.calls.Add(1)
	g.mu.Lock()
	g.last = req
	g.mu.Unlock()
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return exchange.OrderResult{}, ctx.Err()
		}
	}
	if g.err != nil {
		return exchange.OrderResult{}, g.err
	}
	return exchange.OrderResult{Status: exchange.StatusAccepted, ExchangeOrderID: "ex-1", ClientID: req.ClientID}, nil
}

type fakePrices map[string]float64

func (f fakePrices) Price(symbol string) (float64, bool) {
	p, ok := f[symbol]
	return p, ok && p > 0
}

type memRecorder struct {
	mu   sync.Mutex
	rows []db.Submission
}

func (m *memRecorder) CreateSubmission(_ context.Context, s db.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, s)
	return nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newTestSubmitter(gw exchange.Gateway, prices PriceSource, rec Recorder, bus *events.Bus) *Submitter {
	return NewSubmitter(gw, prices, Config{
		Instruments: []strategy.Instrument{strategy.NewInstrument("XINR", 0.05, 6000, 0, 0)},
		Sizer:       strategy.CapitalSizer{},
		TPPercent:   2.5,
		Cooldown:    20 * time.Second,
		Recorder:    rec,
		Bus:         bus,
		Logger:      quietLogger(),
	})
}

func TestSubmitMarketBuyPricesOrder(t *testing.T) {
	gw := &fakeGateway{}
	rec := &memRecorder{}
	bus := events.NewBus()
	submitted, unsub := bus.Subscribe(events.EventOrderSubmitted, 1)
	defer unsub()

	s := newTestSubmitter(gw, fakePrices{"XINR": 1000.2}, rec, bus)
	if err := s.SubmitMarketBuy(context.Background(), "XINR"); err != nil {
		t.Fatalf("SubmitMarketBuy: %v", err)
	}

	if gw.last.Qty.String() != "5.95" {
		t.Fatalf("qty=%s", gw.last.Qty)
	}
	if gw.last.TakeProfitPrice.String() != "1025" {
		t.Fatalf("tp=%s want 1025", gw.last.TakeProfitPrice)
	}
	if gw.last.Side != exchange.SideBuy || gw.last.Type != exchange.OrderTypeMarket || gw.last.MarginAsset != "INR" {
		t.Fatalf("unexpected request %+v", gw.last)
	}
	if len(rec.rows) != 1 || rec.rows[0].Status != "ACCEPTED" || rec.rows[0].EntryPrice != "1000" {
		t.Fatalf("unexpected audit rows %+v", rec.rows)
	}
	if rec.rows[0].ID != gw.last.ClientID {
		t.Fatal("audit id should match client id")
	}
	select {
	case <-submitted:
	default:
		t.Fatal("expected order.submitted event")
	}
	if s.CooldownRemaining("XINR") <= 0 {
		t.Fatal("cooldown should be active after success")
	}
}

func TestCapitalSizingAtRoundPrice(t *testing.T) {
	gw := &fakeGateway{}
	s := newTestSubmitter(gw, fakePrices{"XINR": 1000}, nil, nil)
	if err := s.SubmitMarketBuy(context.Background(), "XINR"); err != nil {
		t.Fatal(err)
	}
	if gw.last.Qty.StringFixed(2) != "6.00" {
		t.Fatalf("qty=%s want 6.00", gw.last.Qty.StringFixed(2))
	}
}

func TestSubmitFailsFastWithoutPrice(t *testing.T) {
	gw := &fakeGateway{}
	s := newTestSubmitter(gw, fakePrices{}, nil, nil)
	if err := s.SubmitMarketBuy(context.Background(), "XINR"); !errors.Is(err, ErrNoPrice) {
		t.Fatalf("err=%v want ErrNoPrice", err)
	}
	if gw.calls.Load() != 0 {
		t.Fatal("no network call expected")
	}
	if !s.TradeState("XINR").LastSubmission.IsZero() {
		t.Fatal("failed attempt must not stamp")
	}
}

func TestSubmitFailsFastWithoutQuantity(t *testing.T) {
	gw := &fakeGateway{}
	s := newTestSubmitter(gw, fakePrices{"XINR": 1e9}, nil, nil)
	if err := s.SubmitMarketBuy(context.Background(), "XINR"); !errors.Is(err, ErrNoQuantity) {
		t.Fatalf("err=%v want ErrNoQuantity", err)
	}
	if gw.calls.Load() != 0 {
		t.Fatal("no network call expected")
	}
}

func TestFailedSubmissionDoesNotStamp(t *testing.T) {
	gw := &fakeGateway{err: errors.New("status 500")}
	rec := &memRecorder{}
	s := newTestSubmitter(gw, fakePrices{"XINR": 1000}, rec, nil)

	if err := s.SubmitMarketBuy(context.Background(), "XINR"); err == nil {
		t.Fatal("expected error")
	}
	if s.CooldownRemaining("XINR") != 0 {
		t.Fatal("failure must leave the instrument tradable")
	}
	if len(rec.rows) != 1 || rec.rows[0].Status != "REJECTED" || rec.rows[0].Error == "" {
		t.Fatalf("rejection not recorded: %+v", rec.rows)
	}

	gw.err = nil
	if err := s.SubmitMarketBuy(context.Background(), "XINR"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if gw.calls.Load() != 2 {
		t.Fatalf("calls=%d want 2", gw.calls.Load())
	}
}

func TestConcurrentSubmissionsWithinCooldown(t *testing.T) {
	gw := &fakeGateway{delay: 20 * time.Millisecond}
	s := newTestSubmitter(gw, fakePrices{"XINR": 1000}, nil, nil)

	const n = 32
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		cooldowns atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.SubmitMarketBuy(context.Background(), "XINR")
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, ErrCooldown):
				cooldowns.Add(1)
			default:
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded.Load() != 1 || gw.calls.Load() != 1 {
		t.Fatalf("succeeded=%d calls=%d, want exactly one", succeeded.Load(), gw.calls.Load())
	}
	if cooldowns.Load() != n-1 {
		t.Fatalf("cooldowns=%d want %d", cooldowns.Load(), n-1)
	}
}

func TestCooldownExpires(t *testing.T) {
	gw := &fakeGateway{}
	s := newTestSubmitter(gw, fakePrices{"XINR": 1000}, nil, nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	if err := s.SubmitMarketBuy(context.Background(), "XINR"); err != nil {
		t.Fatal(err)
	}
	now = now.Add(19 * time.Second)
	if err := s.SubmitMarketBuy(context.Background(), "XINR"); !errors.Is(err, ErrCooldown) {
		t.Fatalf("err=%v want ErrCooldown", err)
	}
	now = now.Add(time.Second)
	if err := s.SubmitMarketBuy(context.Background(), "XINR"); err != nil {
		t.Fatalf("after cooldown: %v", err)
	}
}

func TestTryBuyNoFire(t *testing.T) {
	gw := &fakeGateway{}
	s := newTestSubmitter(gw, fakePrices{"XINR": 1000}, nil, nil)
	attempt, err := s.TryBuy(context.Background(), "XINR", func() strategy.Decision { return strategy.Decision{} })
	if err != nil || attempt.Submitted {
		t.Fatalf("attempt=%+v err=%v", attempt, err)
	}
	if gw.calls.Load() != 0 {
		t.Fatal("no call expected")
	}
	if _, err := s.TryBuy(context.Background(), "NOPE", nil); !errors.Is(err, ErrUnknownSymbol) {
		t.Fatalf("err=%v want ErrUnknownSymbol", err)
	}
}

func TestTradeStateReadableDuringSubmission(t *testing.T) {
	gw := &fakeGateway{delay: 500 * time.Millisecond}
	s := newTestSubmitter(gw, fakePrices{"XINR": 1000}, nil, nil)

	done := make(chan error, 1)
	go func() { done <- s.SubmitMarketBuy(context.Background(), "XINR") }()
	for gw.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	start := time.Now()
	if rem := s.CooldownRemaining("XINR"); rem != 0 {
		t.Fatalf("cooldown before the order completed=%v", rem)
	}
	if took := time.Since(start); took > 100*time.Millisecond {
		t.Fatalf("TradeState waited %v on the in-flight order", took)
	}

	if err := <-done; err != nil {
		t.Fatalf("SubmitMarketBuy: %v", err)
	}
	if s.TradeState("XINR").LastSubmission.IsZero() {
		t.Fatal("expected stamp after success")
	}
}
