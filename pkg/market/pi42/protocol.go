package market

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Engine.IO v4 / Socket.IO v5 packet prefixes used by the Pi42 stream.
const (
	eioOpen    = '0'
	eioClose   = '1'
	eioPing    = '2'
	eioPong    = '3'
	eioMessage = '4'

	sioConnect      = '0'
	sioDisconnect   = '1'
	sioEvent        = '2'
	sioConnectError = '4'
)

var errNotEvent = errors.New("not an event packet")

// handshake is the payload of the Engine.IO open packet.
type handshake struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"`
	PingTimeout  int    `json:"pingTimeout"`
}

// ReadDeadline is how long the reader may wait for the server's next ping.
func (h handshake) ReadDeadline() time.Duration {
	d := time.Duration(h.PingInterval+h.PingTimeout) * time.Millisecond
	if d <= 0 {
		return 60 * time.Second
	}
	return d
}

// socketURL turns an https/wss base such as https://fawss.pi42.com/ into the
// Engine.IO websocket endpoint.
func socketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse stream url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported stream scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/socket.io/"
	}
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func parseHandshake(msg []byte) (handshake, error) {
	var h handshake
	if len(msg) == 0 || msg[0] != eioOpen {
		return h, fmt.Errorf("expected open packet, got %q", truncate(msg))
	}
	if err := json.Unmarshal(msg[1:], &h); err != nil {
		return h, fmt.Errorf("decode open packet: %w", err)
	}
	return h, nil
}

// encodeEvent renders a Socket.IO event packet: 42["name",payload].
func encodeEvent(name string, payload any) ([]byte, error) {
	b, err := json.Marshal([]any{name, payload})
	if err != nil {
		return nil, err
	}
	return append([]byte{eioMessage, sioEvent}, b...), nil
}

// decodeEvent splits a 42[...] packet into its name and first argument.
func decodeEvent(msg []byte) (string, json.RawMessage, error) {
	if len(msg) < 2 || msg[0] != eioMessage || msg[1] != sioEvent {
		return "", nil, errNotEvent
	}
	body := msg[2:]
	// An optional ack id precedes the array.
	i := 0
	for i < len(body) && body[i] >= '0' && body[i] <= '9' {
		i++
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(body[i:], &parts); err != nil {
		return "", nil, fmt.Errorf("decode event: %w", err)
	}
	if len(parts) == 0 {
		return "", nil, errors.New("decode event: empty array")
	}
	var name string
	if err := json.Unmarshal(parts[0], &name); err != nil {
		return "", nil, fmt.Errorf("decode event name: %w", err)
	}
	if len(parts) < 2 {
		return name, nil, nil
	}
	return name, parts[1], nil
}

// parseMarkPrice decodes {s, p, E} into a MarkPrice with an upper-cased symbol.
func parseMarkPrice(data json.RawMessage) (MarkPrice, error) {
	var raw struct {
		Symbol    string `json:"s"`
		Price     any    `json:"p"`
		EventTime any    `json:"E"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return MarkPrice{}, err
	}
	return MarkPrice{
		Symbol: strings.ToUpper(strings.TrimSpace(raw.Symbol)),
		Price:  toFloat(raw.Price),
		Time:   int64(toFloat(raw.EventTime)),
	}, nil
}

// Channels renders the markPrice subscription list for symbols.
func Channels(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, strings.ToLower(s)+"@markPrice")
	}
	return out
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f
	case float64:
		return t
	case json.Number:
		f, _ := t.Float64()
		return f
	default:
		return 0
	}
}

func truncate(b []byte) string {
	if len(b) > 64 {
		return string(b[:64]) + "..."
	}
	return string(b)
}
