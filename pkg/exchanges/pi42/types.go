package pi42

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Number accepts both JSON numbers and numeric strings; Pi42 mixes the two.
type Number float64

func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*n = 0
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		unq, err := strconv.Unquote(s)
		if err != nil {
			return err
		}
		s = strings.TrimSpace(unq)
		if s == "" {
			*n = 0
			return nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("pi42: parse number %q: %w", s, err)
	}
	*n = Number(f)
	return nil
}

func (n Number) Float64() float64 { return float64(n) }

// Position is one record of GET /v1/positions/OPEN.
type Position struct {
	ContractPair string          `json:"contractPair"`
	Quantity     Number          `json:"quantity"`
	EntryPrice   Number          `json:"entryPrice"`
	PositionType string          `json:"positionType"`
	Raw          json.RawMessage `json:"-"`
}

// OpenOrder is one record of GET /v1/order/open-orders.
type OpenOrder struct {
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	Type          string          `json:"type"`
	Price         Number          `json:"price"`
	OrigQty       Number          `json:"origQty"`
	ClientOrderID string          `json:"clientOrderId"`
	Raw           json.RawMessage `json:"-"`
}

// PlaceOrderBody is the exact body of POST /v1/order/place-order. Field
// order is the serialization order and therefore part of the signature.
type PlaceOrderBody struct {
	Timestamp       string      `json:"timestamp"`
	PlaceType       string      `json:"placeType"`
	Quantity        json.Number `json:"quantity"`
	Side            string      `json:"side"`
	Price           json.Number `json:"price"`
	Symbol          string      `json:"symbol"`
	Type            string      `json:"type"`
	ReduceOnly      bool        `json:"reduceOnly"`
	MarginAsset     string      `json:"marginAsset"`
	DeviceType      string      `json:"deviceType"`
	UserCategory    string      `json:"userCategory"`
	TakeProfitPrice json.Number `json:"takeProfitPrice"`
}

type placeOrderResp struct {
	OrderID       json.RawMessage `json:"orderId"`
	ClientOrderID string          `json:"clientOrderId"`
	Status        string          `json:"status"`
}

// decodeRecords unmarshals an array of records and keeps each raw payload.
func decodeRecords[T any](body []byte, setRaw func(*T, json.RawMessage)) ([]T, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raws))
	for _, r := range raws {
		var rec T
		if err := json.Unmarshal(r, &rec); err != nil {
			return nil, err
		}
		setRaw(&rec, r)
		out = append(out, rec)
	}
	return out, nil
}
