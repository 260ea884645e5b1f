package marketdata

import (
	"context"
	"time"
)

// Candle is one OHLCV bar. Sequences are ordered oldest first.
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

type OrderbookTop struct {
	Bid float64 `json:"bid"`
	Ask float64 `json:"ask"`
	Mid float64 `json:"mid"`
}

// SpreadPct is the full bid/ask spread as a percentage of mid.
func (o OrderbookTop) SpreadPct() float64 {
	if o.Mid <= 0 || o.Ask <= 0 || o.Bid <= 0 {
		return 0
	}
	return (o.Ask - o.Bid) / o.Mid * 100
}

// Provider is the market-data collaborator used by the tick engine and the brokers.
type Provider interface {
	GetMidPrices(ctx context.Context, markets []string) (map[string]float64, error)
	GetCandles(ctx context.Context, market, interval string, count int) ([]Candle, error)
	GetOrderbookTop(ctx context.Context, market string) (OrderbookTop, error)
}
