// Package marketdatatest provides a fixed-price marketdata.Provider.
package marketdatatest

import (
	"context"
	"fmt"
	"sync"

	"tradeloop/internal/marketdata"
)

// Static serves mids, candles and books set by the test.
type Static struct {
	mu      sync.RWMutex
	mids    map[string]float64
	candles map[string][]marketdata.Candle
	books   map[string]marketdata.OrderbookTop
	Err     error
}

func NewStatic(mids map[string]float64) *Static {
	s := &Static{mids: map[string]float64{}, candles: map[string][]marketdata.Candle{}, books: map[string]marketdata.OrderbookTop{}}
	for k, v := range mids {
		s.mids[k] = v
	}
	return s
}

func (s *Static) SetMid(market string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mids[market] = price
}

func (s *Static) SetCandles(market string, candles []marketdata.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candles[market] = candles
}

func (s *Static) SetBook(market string, top marketdata.OrderbookTop) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books[market] = top
}

func (s *Static) GetMidPrices(_ context.Context, markets []string) (map[string]float64, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(markets))
	for _, m := range markets {
		if v, ok := s.mids[m]; ok {
			out[m] = v
		}
	}
	return out, nil
}

func (s *Static) GetCandles(_ context.Context, market, _ string, count int) ([]marketdata.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.candles[market]
	if count > 0 && len(c) > count {
		c = c[len(c)-count:]
	}
	return append([]marketdata.Candle(nil), c...), nil
}

func (s *Static) GetOrderbookTop(_ context.Context, market string) (marketdata.OrderbookTop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if top, ok := s.books[market]; ok {
		return top, nil
	}
	mid, ok := s.mids[market]
	if !ok {
		return marketdata.OrderbookTop{}, fmt.Errorf("marketdata: no book for %s", market)
	}
	return marketdata.OrderbookTop{Bid: mid, Ask: mid, Mid: mid}, nil
}
