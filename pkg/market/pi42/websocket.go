package market

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	DefaultStreamURL = "https://fawss.pi42.com/"

	eventSubscribe       = "subscribe"
	eventMarkPriceUpdate = "markPriceUpdate"
)

// StreamClient speaks the Socket.IO dialect of the Pi42 public stream.
type StreamClient struct {
	StreamURL        string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	dialer           *websocket.Dialer
	log              logrus.FieldLogger
}

// NewStreamClient builds a stream client for the given base URL.
func NewStreamClient(streamURL string, logger logrus.FieldLogger) *StreamClient {
	if streamURL == "" {
		streamURL = DefaultStreamURL
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &StreamClient{
		StreamURL:        streamURL,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		dialer:           &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:              logger.WithField("component", "pi42-stream"),
	}
}

// SubscribeMarkPrices connects, joins the default namespace, subscribes to
// <symbol>@markPrice for every symbol and streams parsed updates. The channel
// is closed when the connection drops or ctx is done; the caller decides
// whether to reconnect. stop is safe to call more than once.
func (c *StreamClient) SubscribeMarkPrices(ctx context.Context, symbols []string) (<-chan MarkPrice, func(), error) {
	u, err := socketURL(c.StreamURL)
	if err != nil {
		return nil, nil, err
	}
	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial pi42 stream: %w", err)
	}

	hs, err := c.handshake(conn, symbols)
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}

	out := make(chan MarkPrice, 256)
	finished := make(chan struct{})
	var (
		once    sync.Once
		writeMu sync.Mutex
	)
	write := func(msg []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(c.WriteTimeout))
		return conn.WriteMessage(websocket.TextMessage, msg)
	}
	stop := func() {
		once.Do(func() {
			_ = write([]byte{eioMessage, sioDisconnect})
			_ = conn.Close()
		})
	}

	// Close the socket on cancellation so the blocking read returns.
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-finished:
		}
	}()

	go func() {
		defer close(finished)
		defer close(out)
		defer stop()
		for {
			_ = conn.SetReadDeadline(time.Now().Add(hs.ReadDeadline()))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil ||
					websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
					strings.Contains(err.Error(), "use of closed network connection") {
					return
				}
				c.log.WithError(err).Warn("stream read error")
				return
			}
			if len(msg) == 0 {
				continue
			}

			switch msg[0] {
			case eioPing:
				if err := write([]byte{eioPong}); err != nil {
					c.log.WithError(err).Warn("stream pong failed")
					return
				}
				continue
			case eioClose:
				c.log.Info("stream closed by server")
				return
			case eioMessage:
			default:
				continue
			}

			if len(msg) > 1 && msg[1] == sioDisconnect {
				c.log.Info("stream namespace disconnected by server")
				return
			}
			name, data, err := decodeEvent(msg)
			if err != nil {
				if !errors.Is(err, errNotEvent) {
					c.log.WithError(err).Debug("stream decode error")
				}
				continue
			}
			if name != eventMarkPriceUpdate || data == nil {
				continue
			}
			mp, err := parseMarkPrice(data)
			if err != nil {
				c.log.WithError(err).Debug("stream markPrice parse error")
				continue
			}
			select {
			case out <- mp:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, stop, nil
}

// handshake consumes the open packet, connects the default namespace and
// emits the subscription.
func (c *StreamClient) handshake(conn *websocket.Conn, symbols []string) (handshake, error) {
	deadline := time.Now().Add(c.HandshakeTimeout)
	_ = conn.SetReadDeadline(deadline)
	_ = conn.SetWriteDeadline(deadline)

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return handshake{}, fmt.Errorf("read open packet: %w", err)
	}
	hs, err := parseHandshake(msg)
	if err != nil {
		return handshake{}, err
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte{eioMessage, sioConnect}); err != nil {
		return handshake{}, fmt.Errorf("namespace connect: %w", err)
	}
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return handshake{}, fmt.Errorf("await namespace ack: %w", err)
		}
		if len(msg) == 1 && msg[0] == eioPing {
			if err := conn.WriteMessage(websocket.TextMessage, []byte{eioPong}); err != nil {
				return handshake{}, err
			}
			continue
		}
		if len(msg) >= 2 && msg[0] == eioMessage && msg[1] == sioConnectError {
			return handshake{}, fmt.Errorf("namespace connect rejected: %s", truncate(msg[2:]))
		}
		if len(msg) >= 2 && msg[0] == eioMessage && msg[1] == sioConnect {
			break
		}
	}

	sub, err := encodeEvent(eventSubscribe, map[string][]string{"params": Channels(symbols)})
	if err != nil {
		return handshake{}, err
	}
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		return handshake{}, fmt.Errorf("subscribe: %w", err)
	}
	c.log.WithFields(logrus.Fields{"sid": hs.SID, "channels": len(symbols)}).Info("stream connected")
	return hs, nil
}
