package venue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

type Level struct {
	Price float64
	Size  float64
}

type Book struct {
	Coin string
	Bids []Level
	Asks []Level
}

// Top returns best bid and ask; zero when a side is empty.
func (b Book) Top() (bid, ask float64) {
	if len(b.Bids) > 0 {
		bid = b.Bids[0].Price
	}
	if len(b.Asks) > 0 {
		ask = b.Asks[0].Price
	}
	return bid, ask
}

type Asset struct {
	Index       int
	Name        string
	SzDecimals  int
	MaxLeverage int
}

// AllMids returns mid prices keyed by coin.
func (c *Client) AllMids(ctx context.Context) (map[string]float64, error) {
	var raw map[string]string
	if err := c.info(ctx, map[string]any{"type": "allMids"}, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(raw))
	for coin, v := range raw {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		out[coin] = f
	}
	return out, nil
}

type rawCandle struct {
	T int64  `json:"t"`
	O string `json:"o"`
	H string `json:"h"`
	L string `json:"l"`
	C string `json:"c"`
	V string `json:"v"`
}

// CandleSnapshot returns candles for coin in [start, end], oldest first.
func (c *Client) CandleSnapshot(ctx context.Context, coin, interval string, start, end time.Time) ([]Candle, error) {
	if strings.TrimSpace(coin) == "" {
		return nil, fmt.Errorf("coin is required")
	}
	req := map[string]any{
		"type": "candleSnapshot",
		"req": map[string]any{
			"coin":      coin,
			"interval":  interval,
			"startTime": start.UnixMilli(),
			"endTime":   end.UnixMilli(),
		},
	}
	var raw []rawCandle
	if err := c.info(ctx, req, &raw); err != nil {
		return nil, err
	}
	out := make([]Candle, 0, len(raw))
	for _, r := range raw {
		out = append(out, Candle{
			OpenTime: time.UnixMilli(r.T).UTC(),
			Open:     parseFloat(r.O),
			High:     parseFloat(r.H),
			Low:      parseFloat(r.L),
			Close:    parseFloat(r.C),
			Volume:   parseFloat(r.V),
		})
	}
	return out, nil
}

type rawLevel struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
	N  int    `json:"n"`
}

// L2Book returns the aggregated book; levels are best first.
func (c *Client) L2Book(ctx context.Context, coin string) (Book, error) {
	if strings.TrimSpace(coin) == "" {
		return Book{}, fmt.Errorf("coin is required")
	}
	var raw struct {
		Coin   string       `json:"coin"`
		Levels [][]rawLevel `json:"levels"`
	}
	if err := c.info(ctx, map[string]any{"type": "l2Book", "coin": coin}, &raw); err != nil {
		return Book{}, err
	}
	book := Book{Coin: coin}
	if len(raw.Levels) > 0 {
		book.Bids = levels(raw.Levels[0])
	}
	if len(raw.Levels) > 1 {
		book.Asks = levels(raw.Levels[1])
	}
	return book, nil
}

// Meta returns the perpetual universe in index order.
func (c *Client) Meta(ctx context.Context) ([]Asset, error) {
	var raw struct {
		Universe []struct {
			Name        string `json:"name"`
			SzDecimals  int    `json:"szDecimals"`
			MaxLeverage int    `json:"maxLeverage"`
		} `json:"universe"`
	}
	if err := c.info(ctx, map[string]any{"type": "meta"}, &raw); err != nil {
		return nil, err
	}
	out := make([]Asset, 0, len(raw.Universe))
	for i, u := range raw.Universe {
		out = append(out, Asset{Index: i, Name: u.Name, SzDecimals: u.SzDecimals, MaxLeverage: u.MaxLeverage})
	}
	return out, nil
}

// AccountValue returns the margin summary account value for user.
func (c *Client) AccountValue(ctx context.Context, user string) (float64, error) {
	if strings.TrimSpace(user) == "" {
		return 0, fmt.Errorf("user is required")
	}
	var raw struct {
		MarginSummary struct {
			AccountValue string `json:"accountValue"`
		} `json:"marginSummary"`
	}
	if err := c.info(ctx, map[string]any{"type": "clearinghouseState", "user": user}, &raw); err != nil {
		return 0, err
	}
	return parseFloat(raw.MarginSummary.AccountValue), nil
}

// Assets caches the asset universe for the life of the process. Asset
// indexes never change once listed, so entries are loaded once and only
// refreshed on a miss.
type Assets struct {
	Client *Client

	mu     sync.Mutex
	byName sync.Map
}

func (a *Assets) Lookup(ctx context.Context, coin string) (Asset, error) {
	if v, ok := a.byName.Load(coin); ok {
		return v.(Asset), nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if v, ok := a.byName.Load(coin); ok {
		return v.(Asset), nil
	}
	universe, err := a.Client.Meta(ctx)
	if err != nil {
		return Asset{}, err
	}
	for _, asset := range universe {
		a.byName.Store(asset.Name, asset)
	}
	if v, ok := a.byName.Load(coin); ok {
		return v.(Asset), nil
	}
	return Asset{}, fmt.Errorf("unknown asset %q", coin)
}

func levels(raw []rawLevel) []Level {
	out := make([]Level, 0, len(raw))
	for _, l := range raw {
		out = append(out, Level{Price: parseFloat(l.Px), Size: parseFloat(l.Sz)})
	}
	return out
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}
