package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"pi42-grid/pkg/config"
	pimarket "pi42-grid/pkg/market/pi42"
)

// stream_check opens one mark-price session for the configured symbols and
// logs every update until interrupted or CHECK_DURATION elapses.
//
// Usage:
//
//	go run ./scripts/stream_check
//
// Only WS_URL, INSTRUMENTS_FILE and SYMBOLS are read; credentials are not needed.

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.Info("=== Stream check starting ===")

	instruments, err := config.LoadInstruments(getenv("INSTRUMENTS_FILE", "instruments.yaml"))
	if err != nil {
		log.WithError(err).Fatal("load instruments")
	}
	var symbols []string
	for _, inst := range config.FilterInstruments(instruments, splitSymbols(os.Getenv("SYMBOLS"))) {
		symbols = append(symbols, inst.Symbol)
	}

	duration, err := time.ParseDuration(getenv("CHECK_DURATION", "30s"))
	if err != nil {
		log.WithError(err).Fatal("CHECK_DURATION")
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, duration)
	defer cancelTimeout()

	client := pimarket.NewStreamClient(getenv("WS_URL", pimarket.DefaultStreamURL), log)
	updates, stop, err := client.SubscribeMarkPrices(ctx, symbols)
	if err != nil {
		log.WithError(err).Fatal("subscribe")
	}
	defer stop()

	counts := make(map[string]int)
	for mp := range updates {
		counts[mp.Symbol]++
		log.WithFields(logrus.Fields{"symbol": mp.Symbol, "price": mp.Price}).Info("mark price")
	}
	for _, sym := range symbols {
		entry := log.WithFields(logrus.Fields{"symbol": sym, "updates": counts[sym]})
		if counts[sym] == 0 {
			entry.Warn("no updates received")
			continue
		}
		entry.Info("summary")
	}
	log.Info("=== Stream check finished ===")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitSymbols(val string) []string {
	var out []string
	for _, p := range strings.Split(val, ",") {
		if t := strings.ToUpper(strings.TrimSpace(p)); t != "" {
			out = append(out, t)
		}
	}
	return out
}
