package main

import (
	"context"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"pi42-grid/internal/strategy"
	"pi42-grid/pkg/config"
	exchange "pi42-grid/pkg/exchanges/common"
	"pi42-grid/pkg/exchanges/pi42"
)

// trading_api_check queries the Pi42 account endpoints the trader depends on
// and prints the order body it would send, without sending it.
//
// Usage:
//
//	go run ./scripts/trading_api_check
//
// Environment is the same as the trader (API_KEY, SECRET_KEY, SYMBOLS, ...).
//
//	CHECK_PRICE  mark price used to size the sample order (default 1000)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.Info("=== Trading API check starting ===")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("config load error")
	}

	client := pi42.NewClient(pi42.Config{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		BaseURL:   cfg.BaseURL,
		Timeout:   cfg.PollTimeout,
		RateLimit: cfg.RESTRateLimit,
		DryRun:    true,
	}, log)

	for _, sym := range cfg.SymbolList() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		positions, err := client.GetOpenPositions(ctx, sym)
		cancel()
		if err != nil {
			log.WithError(err).WithField("symbol", sym).Error("positions")
			continue
		}
		if len(positions) == 0 {
			log.WithField("symbol", sym).Info("flat")
			continue
		}
		for _, p := range positions {
			log.WithFields(logrus.Fields{
				"symbol": sym,
				"qty":    p.Quantity.Float64(),
				"entry":  p.EntryPrice.Float64(),
			}).Info("position")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	orders, err := client.GetOpenOrders(ctx)
	if err != nil {
		log.WithError(err).Error("open orders")
	} else {
		log.WithField("count", len(orders)).Info("open orders")
		for _, o := range orders {
			log.WithFields(logrus.Fields{
				"symbol": o.Symbol,
				"side":   o.Side,
				"price":  o.Price.Float64(),
			}).Info("open order")
		}
	}

	if len(cfg.Instruments) == 0 {
		return
	}
	inst := cfg.Instruments[0]
	price := decimal.RequireFromString(getenv("CHECK_PRICE", "1000"))
	sizer, err := strategy.NewSizer(cfg.SizingMode)
	if err != nil {
		log.WithError(err).Fatal("sizing mode")
	}
	qty, ok := sizer.Quantity(strategy.NewInstrument(inst.Symbol, inst.Step, inst.Capital, inst.Lot, inst.QtyPrecision), price)
	if !ok {
		log.WithField("symbol", inst.Symbol).Warn("sample order below step size")
		return
	}
	res, err := client.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:          inst.Symbol,
		Side:            exchange.SideBuy,
		Type:            exchange.OrderTypeMarket,
		Qty:             qty,
		TakeProfitPrice: strategy.TakeProfitPrice(inst.Symbol, price, cfg.TPPercent),
		MarginAsset:     "INR",
	})
	if err != nil {
		log.WithError(err).Error("sample order")
		return
	}
	log.WithField("body", string(res.Raw)).Info("sample order body (not sent)")
	log.Info("=== Trading API check finished ===")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
