package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrMissingCredentials is the one unrecoverable startup error.
var ErrMissingCredentials = errors.New("config: API_KEY and SECRET_KEY are required")

// Config holds environment-driven settings for the grid bot.
type Config struct {
	// Exchange
	APIKey    string
	APISecret string
	BaseURL   string
	StreamURL string
	DryRun    bool // sign and record orders without sending them

	// Instruments
	InstrumentsFile string
	Symbols         []string // optional allow-list applied to the instrument table
	Instruments     []Instrument

	// Strategy
	SizingMode      string  // capital, fixed_lot, rounded_lot
	TriggerMode     string  // lowest_sell, fixed_drop
	CapitalPerTrade float64 // default capital when an instrument sets none
	DropPercent     float64
	TPPercent       float64
	Cooldown        time.Duration

	// Workers
	PositionPollInterval time.Duration
	OrderPollInterval    time.Duration
	DashboardInterval    time.Duration
	OrderTimeout         time.Duration
	PollTimeout          time.Duration
	StreamReconnectDelay time.Duration
	RESTRateLimit        float64 // requests per second

	// Operator API
	EnableAPI bool
	APIHost   string // bind host; empty means all interfaces, or loopback without JWTSecret
	Port      string
	JWTSecret string // empty disables auth on /api
	APIUser   string
	APIPass   string

	// Persistence
	DBPath string

	// Logging
	LogLevel  string
	LogFormat string // json or text
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		APIKey:               os.Getenv("API_KEY"),
		APISecret:            os.Getenv("SECRET_KEY"),
		BaseURL:              getEnv("BASE_URL", "https://fapi.pi42.com"),
		StreamURL:            getEnv("WS_URL", "https://fawss.pi42.com/"),
		DryRun:               getEnv("DRY_RUN", "false") == "true",
		InstrumentsFile:      getEnv("INSTRUMENTS_FILE", "instruments.yaml"),
		Symbols:              splitAndTrim(getEnv("SYMBOLS", "")),
		SizingMode:           strings.ToLower(getEnv("SIZING_MODE", "capital")),
		TriggerMode:          strings.ToLower(getEnv("TRIGGER_MODE", "lowest_sell")),
		CapitalPerTrade:      getEnvFloat("CAPITAL_PER_TRADE", 10000),
		DropPercent:          getEnvFloat("DROP_PERCENT", getEnvFloat("RISE_PERCENT", 3)),
		TPPercent:            getEnvFloat("TP_PERCENT", 1.5),
		Cooldown:             time.Duration(getEnvFloat("TRADE_COOLDOWN", 20) * float64(time.Second)),
		PositionPollInterval: getEnvDuration("POSITION_POLL_INTERVAL", 5*time.Second),
		OrderPollInterval:    getEnvDuration("ORDER_POLL_INTERVAL", 5*time.Second),
		DashboardInterval:    getEnvDuration("DASHBOARD_INTERVAL", 5*time.Second),
		OrderTimeout:         getEnvDuration("ORDER_TIMEOUT", 15*time.Second),
		PollTimeout:          getEnvDuration("POLL_TIMEOUT", 10*time.Second),
		StreamReconnectDelay: getEnvDuration("STREAM_RECONNECT_DELAY", 5*time.Second),
		RESTRateLimit:        getEnvFloat("REST_RATE_LIMIT", 10),
		EnableAPI:            getEnv("ENABLE_API", "true") == "true",
		Port:                 getEnv("PORT", "8080"),
		APIHost:              os.Getenv("API_HOST"),
		JWTSecret:            os.Getenv("JWT_SECRET"),
		APIUser:              getEnv("API_USER", "admin"),
		APIPass:              os.Getenv("API_PASSWORD"),
		DBPath:               getEnv("DB_PATH", "./data/grid.db"),
		LogLevel:             strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:            strings.ToLower(getEnv("LOG_FORMAT", "json")),
	}

	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, ErrMissingCredentials
	}

	instruments, err := LoadInstruments(cfg.InstrumentsFile)
	if err != nil {
		return nil, err
	}
	cfg.Instruments = FilterInstruments(instruments, cfg.Symbols)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would make the strategy meaningless.
func (c *Config) Validate() error {
	switch c.SizingMode {
	case "capital", "fixed_lot", "rounded_lot":
	default:
		return fmt.Errorf("config: unknown SIZING_MODE %q", c.SizingMode)
	}
	switch c.TriggerMode {
	case "lowest_sell", "fixed_drop":
	default:
		return fmt.Errorf("config: unknown TRIGGER_MODE %q", c.TriggerMode)
	}
	if len(c.Instruments) == 0 {
		return errors.New("config: no instruments configured")
	}
	if c.DropPercent <= 0 || c.DropPercent >= 100 {
		return fmt.Errorf("config: DROP_PERCENT must be in (0,100), got %v", c.DropPercent)
	}
	if c.TPPercent <= 0 {
		return fmt.Errorf("config: TP_PERCENT must be positive, got %v", c.TPPercent)
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("config: TRADE_COOLDOWN must not be negative")
	}
	for i := range c.Instruments {
		inst := &c.Instruments[i]
		if inst.Step <= 0 {
			return fmt.Errorf("config: instrument %s: step must be positive", inst.Symbol)
		}
		if inst.Capital == 0 {
			inst.Capital = c.CapitalPerTrade
		}
		if c.SizingMode != "capital" && inst.Lot <= 0 {
			return fmt.Errorf("config: instrument %s: lot required for %s sizing", inst.Symbol, c.SizingMode)
		}
	}
	return nil
}

// APIListenAddr is the operator API bind address. Without JWT_SECRET the
// API has no auth, so it listens on loopback unless API_HOST says otherwise.
func (c *Config) APIListenAddr() string {
	host := c.APIHost
	if host == "" && c.JWTSecret == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, c.Port)
}

// SymbolList returns the configured symbols in table order.
func (c *Config) SymbolList() []string {
	out := make([]string, 0, len(c.Instruments))
	for _, inst := range c.Instruments {
		out = append(out, inst.Symbol)
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.ToUpper(strings.TrimSpace(p)); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// getEnvDuration accepts Go durations ("5s") or plain seconds ("5").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second))
	}
	return def
}
