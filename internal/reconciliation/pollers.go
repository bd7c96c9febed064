package reconciliation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"pi42-grid/internal/events"
	"pi42-grid/internal/state"
	"pi42-grid/pkg/db"
	"pi42-grid/pkg/exchanges/pi42"
)

// PositionSource fetches open positions for one symbol.
type PositionSource interface {
	GetOpenPositions(ctx context.Context, symbol string) ([]pi42.Position, error)
}

// OrderSource fetches every resting order on the account.
type OrderSource interface {
	GetOpenOrders(ctx context.Context) ([]pi42.OpenOrder, error)
}

// PositionRecorder persists reconciled positions for audit.
type PositionRecorder interface {
	UpsertPosition(ctx context.Context, p db.Position) error
	DeletePosition(ctx context.Context, symbol string) error
}

// PollObserver receives the outcome of every poll request.
type PollObserver interface {
	ObservePoll(kind string, err error, took time.Duration)
}

// Options shared by both pollers.
type Options struct {
	Interval time.Duration // between passes; default 5s
	Timeout  time.Duration // per request; default 10s
	Bus      *events.Bus
	Observer PollObserver
	Logger   logrus.FieldLogger
}

func (o *Options) defaults(component string) {
	if o.Interval <= 0 {
		o.Interval = 5 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	o.Logger = o.Logger.WithField("component", component)
}

// PositionPoller refreshes the position half of the state store.
type PositionPoller struct {
	source   PositionSource
	store    *state.Store
	recorder PositionRecorder
	symbols  []string
	opts     Options
	now      func() time.Time
}

// NewPositionPoller builds a poller for symbols. recorder may be nil.
func NewPositionPoller(source PositionSource, store *state.Store, recorder PositionRecorder, symbols []string, opts Options) *PositionPoller {
	opts.defaults("position-poller")
	return &PositionPoller{
		source:   source,
		store:    store,
		recorder: recorder,
		symbols:  append([]string(nil), symbols...),
		opts:     opts,
		now:      time.Now,
	}
}

// Start runs a pass immediately and then every interval until ctx is done.
func (p *PositionPoller) Start(ctx context.Context) {
	go runLoop(ctx, p.opts.Interval, func() {
		if err := p.RefreshPositions(ctx); err != nil && ctx.Err() == nil {
			p.opts.Logger.WithError(err).Warn("position refresh incomplete")
		}
	})
	p.opts.Logger.WithField("interval", p.opts.Interval.String()).Info("position poller started")
}

// RefreshPositions queries every symbol once. Successful symbols are stored
// immediately; a failed symbol keeps its last good value. The loaded flag is
// set only when the whole pass succeeded.
func (p *PositionPoller) RefreshPositions(ctx context.Context) error {
	var errs []error
	for _, sym := range p.symbols {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := p.refreshOne(ctx, sym); err != nil {
			p.opts.Logger.WithError(err).WithField("symbol", sym).Warn("position poll failed")
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if !p.store.PositionsLoaded() {
		p.opts.Logger.Info("positions synced")
	}
	p.store.MarkPositionsLoaded(p.now())
	return nil
}

func (p *PositionPoller) refreshOne(ctx context.Context, sym string) error {
	reqCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	start := time.Now()
	list, err := p.source.GetOpenPositions(reqCtx, sym)
	if p.opts.Observer != nil {
		p.opts.Observer.ObservePoll("positions", err, time.Since(start))
	}
	if err != nil {
		return err
	}

	var next *state.Position
	for _, raw := range list {
		if raw.ContractPair == sym {
			next = &state.Position{
				Symbol:     sym,
				Quantity:   raw.Quantity.Float64(),
				EntryPrice: raw.EntryPrice.Float64(),
				Raw:        raw.Raw,
			}
			break
		}
	}

	prev, had := p.store.Position(sym)
	p.store.SetPosition(sym, next)
	p.record(ctx, sym, next)

	changed := (next == nil && had) || (next != nil && (!had || prev.Quantity != next.Quantity))
	if changed && p.opts.Bus != nil {
		ev := events.PositionChange{Symbol: sym}
		if next != nil {
			ev.Quantity = next.Quantity
			ev.EntryPrice = next.EntryPrice
		}
		p.opts.Bus.Publish(events.EventPositionChange, ev)
	}
	return nil
}

func (p *PositionPoller) record(ctx context.Context, sym string, pos *state.Position) {
	if p.recorder == nil {
		return
	}
	var err error
	if pos == nil {
		err = p.recorder.DeletePosition(ctx, sym)
	} else {
		err = p.recorder.UpsertPosition(ctx, db.Position{
			Symbol:     sym,
			Qty:        pos.Quantity,
			EntryPrice: pos.EntryPrice,
			Raw:        string(pos.Raw),
			UpdatedAt:  p.now().UTC(),
		})
	}
	if err != nil {
		p.opts.Logger.WithError(err).WithField("symbol", sym).Warn("persist position failed")
	}
}

// OrderPoller refreshes the open-orders half of the state store.
type OrderPoller struct {
	source  OrderSource
	store   *state.Store
	symbols []string
	opts    Options
	now     func() time.Time
}

func NewOrderPoller(source OrderSource, store *state.Store, symbols []string, opts Options) *OrderPoller {
	opts.defaults("order-poller")
	return &OrderPoller{
		source:  source,
		store:   store,
		symbols: append([]string(nil), symbols...),
		opts:    opts,
		now:     time.Now,
	}
}

// Start runs a pass immediately and then every interval until ctx is done.
func (o *OrderPoller) Start(ctx context.Context) {
	go runLoop(ctx, o.opts.Interval, func() {
		if err := o.RefreshOrders(ctx); err != nil && ctx.Err() == nil {
			o.opts.Logger.WithError(err).Warn("open orders poll failed")
		}
	})
	o.opts.Logger.WithField("interval", o.opts.Interval.String()).Info("order poller started")
}

// RefreshOrders fetches all open orders once and replaces the snapshot.
// Configured symbols with no orders get an empty set.
func (o *OrderPoller) RefreshOrders(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()

	start := time.Now()
	list, err := o.source.GetOpenOrders(reqCtx)
	if o.opts.Observer != nil {
		o.opts.Observer.ObservePoll("orders", err, time.Since(start))
	}
	if err != nil {
		return err
	}

	bySymbol := make(map[string][]state.OpenOrder, len(o.symbols))
	for _, sym := range o.symbols {
		bySymbol[sym] = nil
	}
	for _, raw := range list {
		if _, ok := bySymbol[raw.Symbol]; !ok {
			continue
		}
		bySymbol[raw.Symbol] = append(bySymbol[raw.Symbol], state.OpenOrder{
			Symbol: raw.Symbol,
			Side:   strings.ToUpper(raw.Side),
			Price:  raw.Price.Float64(),
			Raw:    raw.Raw,
		})
	}

	firstLoad := !o.store.OrdersLoaded()
	now := o.now()
	o.store.ReplaceOrders(bySymbol, now)
	if firstLoad {
		o.opts.Logger.WithField("orders", len(list)).Info("orders synced")
	}
	if o.opts.Bus != nil {
		o.opts.Bus.Publish(events.EventOrdersRefreshed, events.OrdersRefreshed{Total: len(list), At: now})
	}
	return nil
}

func runLoop(ctx context.Context, interval time.Duration, pass func()) {
	pass()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			pass()
		case <-ctx.Done():
			return
		}
	}
}
