package pi42

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"pi42-grid/pkg/exchanges/common"
)

const (
	DefaultBaseURL = "https://fapi.pi42.com"

	placeOrderPath = "/v1/order/place-order"
	positionsPath  = "/v1/positions/OPEN"
	openOrdersPath = "/v1/order/open-orders"
)

// ErrMissingCredentials is returned before any request when key or secret is empty.
var ErrMissingCredentials = errors.New("pi42: API key/secret required")

// APIError is a non-2xx response; Body is kept for diagnosis.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pi42 %s %s status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// Config holds Pi42 credentials and transport settings.
type Config struct {
	APIKey    string
	APISecret string
	BaseURL   string
	Timeout   time.Duration // per request; 0 means 15s
	RateLimit float64       // requests per second; 0 disables throttling
	DryRun    bool          // sign and log order placement without sending it
}

// Client talks to the Pi42 futures REST API.
type Client struct {
	cfg         Config
	baseURL     string
	signer      *Signer
	httpClient  *http.Client
	rateLimiter *common.RateLimiter
	log         logrus.FieldLogger
	now         func() time.Time
}

// NewClient creates a Pi42 REST client.
func NewClient(cfg Config, logger logrus.FieldLogger) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{
		cfg:         cfg,
		baseURL:     base,
		signer:      NewSigner(cfg.APISecret),
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		rateLimiter: common.NewRateLimiter(cfg.RateLimit, 5),
		log:         logger.WithField("component", "pi42"),
		now:         time.Now,
	}
}

// RateLimiter exposes the outbound limiter for status reporting.
func (c *Client) RateLimiter() *common.RateLimiter {
	return c.rateLimiter
}

func (c *Client) timestamp() string {
	return strconv.FormatInt(c.now().UnixMilli(), 10)
}

// BuildOrderBody renders an order request as the place-order body.
func BuildOrderBody(req common.OrderRequest, timestamp string) PlaceOrderBody {
	marginAsset := req.MarginAsset
	if marginAsset == "" {
		marginAsset = "INR"
	}
	orderType := req.Type
	if orderType == "" {
		orderType = common.OrderTypeMarket
	}
	return PlaceOrderBody{
		Timestamp:       timestamp,
		PlaceType:       "ORDER_FORM",
		Quantity:        json.Number(req.Qty.String()),
		Side:            string(req.Side),
		Price:           json.Number(req.Price.String()),
		Symbol:          req.Symbol,
		Type:            string(orderType),
		ReduceOnly:      req.ReduceOnly,
		MarginAsset:     marginAsset,
		DeviceType:      "WEB",
		UserCategory:    "EXTERNAL",
		TakeProfitPrice: json.Number(req.TakeProfitPrice.String()),
	}
}

// EncodeOrderBody serializes the body compactly with a fixed key order.
// The returned bytes are both signed and transmitted.
func EncodeOrderBody(body PlaceOrderBody) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(body); err != nil {
		return nil, fmt.Errorf("encode order: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// PlaceOrder submits a bracket-style order (market buy with take-profit).
func (c *Client) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return common.OrderResult{}, ErrMissingCredentials
	}
	payload, err := EncodeOrderBody(BuildOrderBody(req, c.timestamp()))
	if err != nil {
		return common.OrderResult{}, err
	}
	signature := c.signer.Sign(payload)

	if c.cfg.DryRun {
		c.log.WithFields(logrus.Fields{
			"symbol": req.Symbol,
			"body":   string(payload),
		}).Info("dry run: order not sent")
		return common.OrderResult{Status: common.StatusDryRun, ClientID: req.ClientID, Raw: payload}, nil
	}

	body, err := c.do(ctx, http.MethodPost, placeOrderPath, "", payload, signature)
	if err != nil {
		return common.OrderResult{}, err
	}
	res := common.OrderResult{Status: common.StatusAccepted, ClientID: req.ClientID, Raw: body}
	var resp placeOrderResp
	if err := json.Unmarshal(body, &resp); err == nil {
		res.ExchangeOrderID = firstNonEmpty(strings.Trim(string(resp.OrderID), `"`), resp.ClientOrderID)
	}
	return res, nil
}

// GetOpenPositions returns open positions filtered to contractPair == symbol.
func (c *Client) GetOpenPositions(ctx context.Context, symbol string) ([]Position, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return nil, ErrMissingCredentials
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("timestamp", c.timestamp())
	query := params.Encode()

	body, err := c.do(ctx, http.MethodGet, positionsPath, query, nil, c.signer.SignString(query))
	if err != nil {
		return nil, err
	}
	all, err := decodeRecords(body, func(p *Position, raw json.RawMessage) { p.Raw = raw })
	if err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	out := all[:0]
	for _, p := range all {
		if p.ContractPair == symbol {
			out = append(out, p)
		}
	}
	return out, nil
}

// GetOpenOrders returns every resting order on the account.
func (c *Client) GetOpenOrders(ctx context.Context) ([]OpenOrder, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return nil, ErrMissingCredentials
	}
	query := "timestamp=" + c.timestamp()

	body, err := c.do(ctx, http.MethodGet, openOrdersPath, query, nil, c.signer.SignString(query))
	if err != nil {
		return nil, err
	}
	orders, err := decodeRecords(body, func(o *OpenOrder, raw json.RawMessage) { o.Raw = raw })
	if err != nil {
		return nil, fmt.Errorf("decode open orders: %w", err)
	}
	return orders, nil
}

// do sends a signed request and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, method, path, query string, payload []byte, signature string) ([]byte, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("pi42 rate limit wait: %w", err)
	}

	endpoint := c.baseURL + path
	if query != "" {
		endpoint += "?" + query
	}
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("api-key", c.cfg.APIKey)
	req.Header.Set("signature", signature)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pi42 %s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("pi42 %s %s read body: %w", method, path, err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &APIError{Method: method, Path: path, Status: res.StatusCode, Body: string(body)}
	}
	return body, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" && v != "null" {
			return v
		}
	}
	return ""
}
