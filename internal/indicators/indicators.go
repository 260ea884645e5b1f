// Package indicators computes the technical snapshot attached to each decision.
package indicators

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"

	"tradeloop/internal/marketdata"
)

const (
	FastEMAPeriod = 20
	SlowEMAPeriod = 50
	RSIPeriod     = 14
	ATRPeriod     = 14
)

// Snapshot holds every indicator that could be computed; missing ones are nil.
type Snapshot struct {
	Price          float64  `json:"price"`
	Candles        int      `json:"candles"`
	EMAFast        *float64 `json:"ema20,omitempty"`
	EMASlow        *float64 `json:"ema50,omitempty"`
	RSI            *float64 `json:"rsi14,omitempty"`
	ATR            *float64 `json:"atr14,omitempty"`
	ATRPct         *float64 `json:"atr_pct,omitempty"`
	StdevPct       *float64 `json:"stdev_pct,omitempty"`
	PriceChangePct *float64 `json:"price_change_pct,omitempty"`
}

// Compute derives the snapshot from candles. price overrides the last close
// when positive.
func Compute(candles []marketdata.Candle, price float64) (Snapshot, error) {
	if len(candles) == 0 {
		return Snapshot{}, fmt.Errorf("indicators: no candles")
	}
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	if price <= 0 {
		price = closes[len(closes)-1]
	}
	if price <= 0 {
		return Snapshot{}, fmt.Errorf("indicators: non-positive price")
	}
	out := Snapshot{Price: price, Candles: len(candles)}
	if v, err := EMA(closes, FastEMAPeriod); err == nil {
		out.EMAFast = &v
	}
	if v, err := EMA(closes, SlowEMAPeriod); err == nil {
		out.EMASlow = &v
	}
	if v, err := RSI(closes, RSIPeriod); err == nil {
		out.RSI = &v
	}
	if v, err := ATR(candles, ATRPeriod); err == nil {
		out.ATR = &v
		pct := v / price * 100
		out.ATRPct = &pct
	}
	if v, err := ReturnsStdevPct(closes); err == nil {
		out.StdevPct = &v
	}
	if first := closes[0]; first > 0 {
		pct := (closes[len(closes)-1] - first) / first * 100
		out.PriceChangePct = &pct
	}
	return out, nil
}

// EMADivergencePct is |fast-slow| relative to price, in percent.
func (s Snapshot) EMADivergencePct() (float64, bool) {
	if s.EMAFast == nil || s.EMASlow == nil || s.Price <= 0 {
		return 0, false
	}
	return math.Abs(*s.EMAFast-*s.EMASlow) / s.Price * 100, true
}

// EMA seeds with the simple mean of the first period values.
func EMA(values []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("period must be positive, got %d", period)
	}
	if len(values) < period {
		return 0, fmt.Errorf("not enough values: need %d, got %d", period, len(values))
	}
	seed, err := stats.Mean(values[:period])
	if err != nil {
		return 0, err
	}
	k := 2.0 / float64(period+1)
	ema := seed
	for _, v := range values[period:] {
		ema = v*k + ema*(1-k)
	}
	return ema, nil
}

// RSI uses Wilder smoothing.
func RSI(closes []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("period must be positive, got %d", period)
	}
	if len(closes) < period+1 {
		return 0, fmt.Errorf("not enough closes: need %d, got %d", period+1, len(closes))
	}
	var gain, loss float64
	for i := 1; i <= period; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	for i := period + 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
	}
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50, nil
		}
		return 100, nil
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), nil
}

// ATR is the Wilder-smoothed average true range.
func ATR(candles []marketdata.Candle, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("period must be positive, got %d", period)
	}
	if len(candles) < period+1 {
		return 0, fmt.Errorf("not enough candles: need %d, got %d", period+1, len(candles))
	}
	trs := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		trs = append(trs, trueRange(candles[i], candles[i-1]))
	}
	atr, err := stats.Mean(trs[:period])
	if err != nil {
		return 0, err
	}
	for _, tr := range trs[period:] {
		atr = (atr*float64(period-1) + tr) / float64(period)
	}
	return atr, nil
}

func trueRange(cur, prev marketdata.Candle) float64 {
	return math.Max(cur.High-cur.Low, math.Max(math.Abs(cur.High-prev.Close), math.Abs(cur.Low-prev.Close)))
}

// ReturnsStdevPct is the sample standard deviation of bar-to-bar returns, in percent.
func ReturnsStdevPct(closes []float64) (float64, error) {
	if len(closes) < 3 {
		return 0, fmt.Errorf("not enough closes: need 3, got %d", len(closes))
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 {
			continue
		}
		returns = append(returns, (closes[i]-closes[i-1])/closes[i-1]*100)
	}
	return stats.StandardDeviationSample(returns)
}
