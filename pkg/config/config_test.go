package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func TestLoadRequiresCredentials(t *testing.T) {
	t.Chdir(t.TempDir())
	setEnv(t, map[string]string{"API_KEY": "", "SECRET_KEY": ""})
	if _, err := Load(); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	setEnv(t, map[string]string{
		"API_KEY":          "k",
		"SECRET_KEY":       "s",
		"INSTRUMENTS_FILE": "missing.yaml",
		"TRADE_COOLDOWN":   "20",
		"RISE_PERCENT":     "4",
	})
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Instruments) != len(DefaultInstruments()) {
		t.Fatalf("instruments=%d, expected defaults", len(cfg.Instruments))
	}
	if cfg.Instruments[0].Capital != 10000 {
		t.Fatalf("default capital not applied: %+v", cfg.Instruments[0])
	}
	if cfg.Cooldown != 20*time.Second {
		t.Fatalf("Cooldown=%v", cfg.Cooldown)
	}
	if cfg.DropPercent != 4 {
		t.Fatalf("RISE_PERCENT alias not honoured: %v", cfg.DropPercent)
	}
	if cfg.PositionPollInterval != 5*time.Second || cfg.OrderTimeout != 15*time.Second {
		t.Fatalf("unexpected intervals %v %v", cfg.PositionPollInterval, cfg.OrderTimeout)
	}
}

func TestLoadInstrumentsFileAndFilter(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "inst.yaml")
	doc := "instruments:\n  - symbol: xinr\n    step: 0.05\n    capital: 6000\n  - symbol: YINR\n    step: 1\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	setEnv(t, map[string]string{
		"API_KEY":          "k",
		"SECRET_KEY":       "s",
		"INSTRUMENTS_FILE": path,
		"SYMBOLS":          "xinr",
	})
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Instruments) != 1 || cfg.Instruments[0].Symbol != "XINR" || cfg.Instruments[0].Capital != 6000 {
		t.Fatalf("unexpected instruments %+v", cfg.Instruments)
	}
}

func TestParseInstrumentsRejectsDuplicates(t *testing.T) {
	_, err := ParseInstruments([]byte("instruments:\n  - symbol: A\n    step: 1\n  - symbol: a\n    step: 1\n"))
	if err == nil {
		t.Fatal("expected duplicate symbol error")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			SizingMode:  "capital",
			TriggerMode: "lowest_sell",
			DropPercent: 3,
			TPPercent:   1.5,
			Instruments: []Instrument{{Symbol: "XINR", Step: 0.05}},
		}
	}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"ok", func(*Config) {}, false},
		{"bad sizing", func(c *Config) { c.SizingMode = "martingale" }, true},
		{"bad trigger", func(c *Config) { c.TriggerMode = "rsi" }, true},
		{"zero drop", func(c *Config) { c.DropPercent = 0 }, true},
		{"no instruments", func(c *Config) { c.Instruments = nil }, true},
		{"zero step", func(c *Config) { c.Instruments[0].Step = 0 }, true},
		{"fixed lot needs lot", func(c *Config) { c.SizingMode = "fixed_lot" }, true},
		{"fixed lot with lot", func(c *Config) {
			c.SizingMode = "fixed_lot"
			c.Instruments[0].Lot = 1
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate err=%v, wantErr=%v", err, tt.wantErr)
			}
		})
	}
}

func TestAPIListenAddr(t *testing.T) {
	tests := []struct {
		name   string
		host   string
		secret string
		want   string
	}{
		{"no secret stays on loopback", "", "", "127.0.0.1:8080"},
		{"secret binds all interfaces", "", "s3cret", ":8080"},
		{"explicit host wins", "0.0.0.0", "", "0.0.0.0:8080"},
		{"explicit host with secret", "10.0.0.5", "s3cret", "10.0.0.5:8080"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{Port: "8080", APIHost: tt.host, JWTSecret: tt.secret}
			if got := c.APIListenAddr(); got != tt.want {
				t.Fatalf("APIListenAddr()=%q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoadWithoutJWTSecretBindsLoopback(t *testing.T) {
	t.Chdir(t.TempDir())
	setEnv(t, map[string]string{
		"API_KEY":          "k",
		"SECRET_KEY":       "s",
		"INSTRUMENTS_FILE": "missing.yaml",
		"JWT_SECRET":       "",
		"API_HOST":         "",
		"PORT":             "9090",
	})
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.APIListenAddr(); got != "127.0.0.1:9090" {
		t.Fatalf("APIListenAddr()=%q, want loopback", got)
	}
}
