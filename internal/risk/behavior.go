package risk

import (
	"strings"

	"tradeloop/internal/filters"
	"tradeloop/internal/indicators"
)

const (
	TrendDivergencePct = 0.5
	BreakoutATRPct     = 2.0
	OversoldRSI        = 30.0
	OverboughtRSI      = 70.0
)

// keyword order matters: trend words are the most generic.
var behaviorKeywords = []struct {
	behavior string
	words    []string
}{
	{filters.BehaviorBreakout, []string{"breakout", "break out", "breaking out", "range expansion", "new high", "new low"}},
	{filters.BehaviorMeanReversion, []string{"mean reversion", "mean-reversion", "revert", "oversold", "overbought", "reversal", "bounce"}},
	{filters.BehaviorTrend, []string{"trend", "momentum", "continuation", "higher highs", "lower lows"}},
}

// Classify labels the setup from indicators, falling back to the model's
// reasoning text. Empty means unclassified.
func Classify(s *indicators.Snapshot, text string) string {
	if s != nil {
		if div, ok := s.EMADivergencePct(); ok && div >= TrendDivergencePct {
			return filters.BehaviorTrend
		}
		if s.ATRPct != nil && *s.ATRPct >= BreakoutATRPct {
			return filters.BehaviorBreakout
		}
		if s.RSI != nil && (*s.RSI <= OversoldRSI || *s.RSI >= OverboughtRSI) {
			return filters.BehaviorMeanReversion
		}
	}
	lower := strings.ToLower(text)
	for _, kw := range behaviorKeywords {
		for _, w := range kw.words {
			if strings.Contains(lower, w) {
				return kw.behavior
			}
		}
	}
	return ""
}

func BehaviorLabel(name string) string {
	switch name {
	case filters.BehaviorTrend:
		return "Trend"
	case filters.BehaviorBreakout:
		return "Breakout"
	case filters.BehaviorMeanReversion:
		return "Mean-reversion"
	}
	return name
}
