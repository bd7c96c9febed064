package monitor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"pi42-grid/internal/engine"
)

// StatusSource is the read-only engine view.
type StatusSource interface {
	SystemStatus() engine.SystemStatus
}

// Dashboard logs one line per instrument every interval.
type Dashboard struct {
	Source   StatusSource
	Interval time.Duration
	Logger   logrus.FieldLogger
}

func (d *Dashboard) Start(ctx context.Context) {
	if d.Source == nil {
		return
	}
	if d.Interval <= 0 {
		d.Interval = 5 * time.Second
	}
	if d.Logger == nil {
		d.Logger = logrus.StandardLogger()
	}
	log := d.Logger.WithField("component", "dashboard")
	go func() {
		t := time.NewTicker(d.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				d.Render(log)
			}
		}
	}()
}

// Render writes the current status.
func (d *Dashboard) Render(log logrus.FieldLogger) {
	sys := d.Source.SystemStatus()
	if !sys.Ready {
		log.Info("waiting for positions and orders")
	}
	for _, st := range sys.Instruments {
		log.WithFields(Fields(st)).Info("instrument")
	}
}

// Fields flattens an instrument status into log fields.
func Fields(st engine.InstrumentStatus) logrus.Fields {
	f := logrus.Fields{
		"symbol": st.Symbol,
		"state":  string(st.State),
		"sells":  st.OpenSells,
	}
	if st.Price > 0 {
		f["price"] = st.Price
	} else {
		f["price"] = "-"
	}
	if st.TriggerPrice != "" {
		f["trigger"] = st.TriggerPrice
	}
	if st.NextQty != "" {
		f["next_qty"] = st.NextQty
	}
	if st.HasPosition {
		f["entry"] = st.EntryPrice
		f["qty"] = st.PositionQty
		f["pnl"] = st.UnrealizedPnL
	}
	if st.CooldownRemaining > 0 {
		f["cooldown"] = st.CooldownRemaining.Round(time.Second).String()
	}
	return f
}
