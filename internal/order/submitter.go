package order

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"pi42-grid/internal/events"
	"pi42-grid/internal/strategy"
	"pi42-grid/pkg/db"
	exchange "pi42-grid/pkg/exchanges/common"
	"pi42-grid/pkg/exchanges/pi42"
)

// PriceSource returns the latest cached mark price.
type PriceSource interface {
	Price(symbol string) (float64, bool)
}

// Recorder persists submission attempts.
type Recorder interface {
	CreateSubmission(ctx context.Context, s db.Submission) error
}

// SubmitObserver receives the outcome of every exchange call.
type SubmitObserver interface {
	ObserveSubmission(symbol, status string, took time.Duration)
}

// Config for a Submitter. Recorder, Bus and Observer are optional.
type Config struct {
	Instruments []strategy.Instrument
	Sizer       strategy.Sizer
	TPPercent   float64
	Cooldown    time.Duration
	Timeout     time.Duration // per order request; default 15s
	Recorder    Recorder
	Bus         *events.Bus
	Observer    SubmitObserver
	Logger      logrus.FieldLogger
}

// slot serialises submissions for one instrument. last holds the UnixNano
// of the last successful submission and is readable without mu, so status
// reads never wait on an order in flight.
type slot struct {
	mu   sync.Mutex
	last atomic.Int64
}

func (sl *slot) tradeState() TradeState {
	n := sl.last.Load()
	if n == 0 {
		return TradeState{}
	}
	return TradeState{LastSubmission: time.Unix(0, n)}
}

// Submitter prices, signs and sends market buys with an attached take-profit.
// Each instrument has its own lock held from the cooldown check through the
// network call to the cooldown stamp.
type Submitter struct {
	gateway     exchange.Gateway
	prices      PriceSource
	instruments map[string]strategy.Instrument
	slots       map[string]*slot
	cfg         Config
	log         logrus.FieldLogger
	now         func() time.Time
}

func NewSubmitter(gw exchange.Gateway, prices PriceSource, cfg Config) *Submitter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Sizer == nil {
		cfg.Sizer = strategy.CapitalSizer{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	s := &Submitter{
		gateway:     gw,
		prices:      prices,
		instruments: make(map[string]strategy.Instrument, len(cfg.Instruments)),
		slots:       make(map[string]*slot, len(cfg.Instruments)),
		cfg:         cfg,
		log:         cfg.Logger.WithField("component", "submitter"),
		now:         time.Now,
	}
	// The slot map is fixed after construction so lookups need no lock.
	for _, inst := range cfg.Instruments {
		s.instruments[inst.Symbol] = inst
		s.slots[inst.Symbol] = &slot{}
	}
	return s
}

// TradeState returns the cooldown state for symbol without waiting on an
// in-flight submission.
func (s *Submitter) TradeState(symbol string) TradeState {
	sl, ok := s.slots[symbol]
	if !ok {
		return TradeState{}
	}
	return sl.tradeState()
}

// CooldownRemaining is zero when the symbol may trade.
func (s *Submitter) CooldownRemaining(symbol string) time.Duration {
	return s.TradeState(symbol).Remaining(s.now(), s.cfg.Cooldown)
}

// Quantity is the size the next order for symbol would have at price.
func (s *Submitter) Quantity(symbol string, price float64) (decimal.Decimal, bool) {
	inst, ok := s.instruments[symbol]
	if !ok {
		return decimal.Zero, false
	}
	return s.cfg.Sizer.Quantity(inst, decimal.NewFromFloat(price))
}

// SubmitMarketBuy sends a buy for symbol unless it is in cooldown.
func (s *Submitter) SubmitMarketBuy(ctx context.Context, symbol string) error {
	_, err := s.TryBuy(ctx, symbol, func() strategy.Decision {
		return strategy.Decision{Fire: true}
	})
	return err
}

// TryBuy runs decide and, when it fires, submits, all inside the
// instrument's critical section. ErrCooldown is returned without calling
// decide. A decision that does not fire returns a nil error and
// Submitted=false.
func (s *Submitter) TryBuy(ctx context.Context, symbol string, decide func() strategy.Decision) (Attempt, error) {
	sl, ok := s.slots[symbol]
	if !ok {
		return Attempt{}, ErrUnknownSymbol
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.tradeState().InCooldown(s.now(), s.cfg.Cooldown) {
		return Attempt{}, ErrCooldown
	}
	decision := decide()
	attempt := Attempt{Decision: decision}
	if !decision.Fire {
		return attempt, nil
	}

	intent, err := s.price(symbol, decision.Branch)
	if err != nil {
		return attempt, err
	}
	attempt.Intent = intent
	if err := s.send(ctx, intent); err != nil {
		return attempt, err
	}
	sl.last.Store(s.now().UnixNano())
	attempt.Submitted = true
	return attempt, nil
}

// price re-reads the price and sizes the order. No network.
func (s *Submitter) price(symbol string, branch strategy.Branch) (Intent, error) {
	p, ok := s.prices.Price(symbol)
	if !ok {
		return Intent{}, ErrNoPrice
	}
	inst := s.instruments[symbol]
	last := decimal.NewFromFloat(p)
	qty, ok := s.cfg.Sizer.Quantity(inst, last)
	if !ok {
		return Intent{}, ErrNoQuantity
	}
	entry := strategy.RoundPrice(symbol, last)
	return Intent{
		ID:              uuid.NewString(),
		Symbol:          symbol,
		Qty:             qty,
		EntryPrice:      entry,
		TakeProfitPrice: strategy.TakeProfitPrice(symbol, entry, s.cfg.TPPercent),
		Branch:          branch,
	}, nil
}

func (s *Submitter) send(ctx context.Context, in Intent) error {
	req := exchange.OrderRequest{
		Symbol:          in.Symbol,
		Side:            exchange.SideBuy,
		Type:            exchange.OrderTypeMarket,
		Qty:             in.Qty,
		Price:           decimal.Zero,
		TakeProfitPrice: in.TakeProfitPrice,
		MarginAsset:     "INR",
		ClientID:        in.ID,
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	start := time.Now()
	res, err := s.gateway.PlaceOrder(reqCtx, req)
	took := time.Since(start)
	cancel()

	status := res.Status
	if err != nil {
		status = exchange.StatusRejected
	}
	if status == "" {
		status = exchange.StatusUnknown
	}
	if s.cfg.Observer != nil {
		s.cfg.Observer.ObserveSubmission(in.Symbol, string(status), took)
	}

	fields := logrus.Fields{
		"symbol":      in.Symbol,
		"id":          in.ID,
		"branch":      string(in.Branch),
		"qty":         in.Qty.String(),
		"entry":       in.EntryPrice.String(),
		"take_profit": in.TakeProfitPrice.String(),
		"status":      string(status),
		"took_ms":     took.Milliseconds(),
	}
	if err != nil {
		var apiErr *pi42.APIError
		if errors.As(err, &apiErr) {
			fields["http_status"] = apiErr.Status
		}
		s.log.WithFields(fields).WithError(err).Error("order failed")
	} else {
		fields["exchange_order_id"] = res.ExchangeOrderID
		s.log.WithFields(fields).Info("order placed")
	}

	s.record(in, status, res.ExchangeOrderID, err)
	return err
}

func (s *Submitter) record(in Intent, status exchange.OrderStatus, exchangeID string, sendErr error) {
	errText := ""
	if sendErr != nil {
		errText = sendErr.Error()
	}
	now := s.now().UTC()

	if s.cfg.Recorder != nil {
		// Detached so a cancelled tick context still leaves an audit row.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := s.cfg.Recorder.CreateSubmission(ctx, db.Submission{
			ID:              in.ID,
			Symbol:          in.Symbol,
			Side:            string(exchange.SideBuy),
			Qty:             in.Qty.String(),
			EntryPrice:      in.EntryPrice.String(),
			TakeProfitPrice: in.TakeProfitPrice.String(),
			Status:          string(status),
			Error:           errText,
			ExchangeOrderID: exchangeID,
			TriggerBranch:   string(in.Branch),
			CreatedAt:       now,
		})
		cancel()
		if err != nil {
			s.log.WithError(err).WithField("symbol", in.Symbol).Warn("persist submission failed")
		}
	}

	if s.cfg.Bus != nil {
		topic := events.EventOrderSubmitted
		if sendErr != nil {
			topic = events.EventOrderRejected
		}
		s.cfg.Bus.Publish(topic, events.OrderAttempt{
			ID:              in.ID,
			Symbol:          in.Symbol,
			Qty:             in.Qty.String(),
			EntryPrice:      in.EntryPrice.String(),
			TakeProfitPrice: in.TakeProfitPrice.String(),
			Status:          string(status),
			ExchangeOrderID: exchangeID,
			Error:           errText,
			At:              now,
		})
	}
}
