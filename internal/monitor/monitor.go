package monitor

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"pi42-grid/internal/events"
)

// Monitor watches the bus for conditions an operator should hear about:
// rejected orders, stream drops and position changes.
type Monitor struct {
	Bus    *events.Bus
	Sink   AlertSink
	Logger logrus.FieldLogger
}

func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil || m.Sink == nil {
		if m.Logger != nil {
			m.Logger.Warn("monitor not fully configured; skipping")
		}
		return
	}
	stream, unsub := m.Bus.SubscribeMany(50, events.EventOrderRejected, events.EventStreamStatus, events.EventPositionChange)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				if text, alert := formatAlert(msg); alert {
					if err := m.Sink.Send(text); err != nil && m.Logger != nil {
						m.Logger.WithError(err).Warn("alert delivery failed")
					}
				}
			}
		}
	}()
}

func formatAlert(msg events.Message) (string, bool) {
	switch p := msg.Payload.(type) {
	case events.OrderAttempt:
		return fmt.Sprintf("order rejected %s qty=%s: %s", p.Symbol, p.Qty, p.Error), true
	case events.StreamStatus:
		if p.Connected {
			return "", false
		}
		if p.Error != "" {
			return "price stream down: " + p.Error, true
		}
		return "price stream disconnected", true
	case events.PositionChange:
		if p.Quantity == 0 {
			return fmt.Sprintf("position closed %s", p.Symbol), true
		}
		return fmt.Sprintf("position %s qty=%g entry=%g", p.Symbol, p.Quantity, p.EntryPrice), true
	default:
		return "", false
	}
}
