package marketdata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"tradeloop/internal/client/venue"
)

// Client serves the Provider contract from the venue's public endpoints,
// preferring the websocket mids cache when it is fresh.
type Client struct {
	Venue  *venue.Client
	Stream *venue.MidsStream
	// StreamMaxAge bounds how old streamed mids may be before REST is used.
	StreamMaxAge time.Duration
	Logger       *zap.Logger
	Now          func() time.Time
}

func (c *Client) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

// GetMidPrices returns mids for the requested markets. Markets the venue
// does not quote are absent from the map.
func (c *Client) GetMidPrices(ctx context.Context, markets []string) (map[string]float64, error) {
	if mids, ok := c.Stream.Snapshot(markets, c.StreamMaxAge); ok {
		return mids, nil
	}
	all, err := c.Venue.AllMids(ctx)
	if err != nil {
		return nil, fmt.Errorf("marketdata: mids: %w", err)
	}
	out := make(map[string]float64, len(markets))
	for _, m := range markets {
		if v, ok := all[m]; ok && v > 0 {
			out[m] = v
		}
	}
	return out, nil
}

func (c *Client) GetCandles(ctx context.Context, market, interval string, count int) ([]Candle, error) {
	step, err := IntervalDuration(interval)
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		count = 100
	}
	end := c.now()
	start := end.Add(-step * time.Duration(count))
	raw, err := c.Venue.CandleSnapshot(ctx, market, interval, start, end)
	if err != nil {
		return nil, fmt.Errorf("marketdata: candles %s: %w", market, err)
	}
	out := make([]Candle, 0, len(raw))
	for _, r := range raw {
		out = append(out, Candle{OpenTime: r.OpenTime, Open: r.Open, High: r.High, Low: r.Low, Close: r.Close, Volume: r.Volume})
	}
	if len(out) > count {
		out = out[len(out)-count:]
	}
	return out, nil
}

func (c *Client) GetOrderbookTop(ctx context.Context, market string) (OrderbookTop, error) {
	book, err := c.Venue.L2Book(ctx, market)
	if err != nil {
		return OrderbookTop{}, fmt.Errorf("marketdata: book %s: %w", market, err)
	}
	bid, ask := book.Top()
	if bid <= 0 || ask <= 0 {
		return OrderbookTop{}, fmt.Errorf("marketdata: empty book for %s", market)
	}
	return OrderbookTop{Bid: bid, Ask: ask, Mid: (bid + ask) / 2}, nil
}

// IntervalDuration parses venue candle intervals such as 1m, 15m, 4h, 1d.
func IntervalDuration(interval string) (time.Duration, error) {
	s := strings.TrimSpace(interval)
	if len(s) < 2 {
		return 0, fmt.Errorf("marketdata: invalid interval %q", interval)
	}
	var n int
	if _, err := fmt.Sscanf(s[:len(s)-1], "%d", &n); err != nil || n <= 0 {
		return 0, fmt.Errorf("marketdata: invalid interval %q", interval)
	}
	switch s[len(s)-1] {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("marketdata: invalid interval %q", interval)
}
