package market

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"pi42-grid/internal/engine"
	"pi42-grid/internal/events"
	"pi42-grid/pkg/cache"
	pimarket "pi42-grid/pkg/market/pi42"
)

// Subscriber opens one mark-price stream session.
type Subscriber interface {
	SubscribeMarkPrices(ctx context.Context, symbols []string) (<-chan pimarket.MarkPrice, func(), error)
}

// Evaluator runs one decision per tick.
type Evaluator interface {
	Evaluate(ctx context.Context, symbol string) engine.State
}

// FeedObserver receives tick and connection counts.
type FeedObserver interface {
	ObserveTick(symbol string, tracked bool)
	ObserveStream(connected bool)
}

// worker owes one evaluation per pending tick. Evaluations read the latest
// price from the table, so a counter is all the tick needs to leave behind.
type worker struct {
	pending atomic.Int64
	wake    chan struct{}
}

func (w *worker) signal() {
	w.pending.Add(1)
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Feed streams mark prices into the price table and evaluates each tick
// for configured symbols. Each symbol has one worker so ticks for a symbol
// are evaluated one at a time, once per tick, while different symbols
// proceed independently.
type Feed struct {
	Stream         Subscriber
	Prices         *cache.PriceTable
	Engine         Evaluator
	Bus            *events.Bus
	Symbols        []string
	ReconnectDelay time.Duration // default 5s
	Observer       FeedObserver
	Logger         logrus.FieldLogger

	workers map[string]*worker
	log     logrus.FieldLogger
}

// Run blocks until ctx is done, reconnecting after every disconnect.
func (f *Feed) Run(ctx context.Context) {
	if f.Logger == nil {
		f.Logger = logrus.StandardLogger()
	}
	f.log = f.Logger.WithField("component", "feed")
	log := f.log
	if f.Stream == nil || f.Prices == nil {
		log.Warn("market feed not fully configured; skipping start")
		return
	}
	delay := f.ReconnectDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}

	var wg sync.WaitGroup
	f.startWorkers(ctx, &wg)
	defer wg.Wait()

	for {
		if err := f.session(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Warn("stream session failed")
			f.streamStatus(false, err)
		}
		if ctx.Err() != nil {
			return
		}
		log.WithField("delay", delay.String()).Info("reconnecting stream")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// session runs one connection until it drops.
func (f *Feed) session(ctx context.Context) error {
	ch, stop, err := f.Stream.SubscribeMarkPrices(ctx, f.Symbols)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer stop()
	f.streamStatus(true, nil)
	f.log.WithField("symbols", len(f.Symbols)).Info("mark price stream subscribed")

	for mp := range ch {
		f.handle(mp)
	}
	if ctx.Err() == nil {
		f.log.Warn("mark price stream disconnected")
		f.streamStatus(false, nil)
	}
	return nil
}

// handle writes the table, publishes the tick and queues an evaluation.
func (f *Feed) handle(mp pimarket.MarkPrice) {
	if mp.Symbol == "" || mp.Price <= 0 {
		return
	}
	at := time.Now()
	f.Prices.Set(mp.Symbol, mp.Price, at)
	if f.Bus != nil {
		f.Bus.Publish(events.EventPriceTick, events.PriceTick{Symbol: mp.Symbol, Price: mp.Price, At: at})
	}

	w, tracked := f.workers[mp.Symbol]
	if f.Observer != nil {
		f.Observer.ObserveTick(mp.Symbol, tracked)
	}
	if tracked {
		w.signal()
	}
}

func (f *Feed) startWorkers(ctx context.Context, wg *sync.WaitGroup) {
	f.workers = make(map[string]*worker, len(f.Symbols))
	for _, sym := range f.Symbols {
		w := &worker{wake: make(chan struct{}, 1)}
		f.workers[sym] = w
		wg.Add(1)
		go func(sym string, w *worker) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-w.wake:
				}
				for n := w.pending.Swap(0); n > 0; n-- {
					if ctx.Err() != nil {
						return
					}
					f.evaluate(ctx, sym)
				}
			}
		}(sym, w)
	}
}

func (f *Feed) evaluate(ctx context.Context, sym string) {
	if f.Engine == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			f.log.WithFields(logrus.Fields{
				"symbol": sym,
				"panic":  fmt.Sprint(r),
				"stack":  string(debug.Stack()),
			}).Error("evaluation panicked")
		}
	}()
	f.Engine.Evaluate(ctx, sym)
}

func (f *Feed) streamStatus(connected bool, err error) {
	if f.Observer != nil {
		f.Observer.ObserveStream(connected)
	}
	if f.Bus == nil {
		return
	}
	ev := events.StreamStatus{Connected: connected}
	if err != nil {
		ev.Error = err.Error()
	}
	f.Bus.Publish(events.EventStreamStatus, ev)
}
