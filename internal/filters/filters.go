// Package filters turns a strategy's stored filter JSON into the canonical
// structure read by the exit engine and the risk gates.
//
// Older strategies used a flat camelCase shape and a single "entry mode"
// string instead of a behaviors set. Normalize upgrades those once at load
// time; nothing downstream looks at the raw document.
package filters

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	ExitSignal   = "signal"
	ExitTPSL     = "tp_sl"
	ExitTrailing = "trailing"
	ExitTime     = "time"

	TimingImmediate = "immediate"
	TimingOpen      = "candle_open"
	TimingClose     = "candle_close"
	TimingBoundary  = "candle_boundary"

	BehaviorTrend         = "trend"
	BehaviorBreakout      = "breakout"
	BehaviorMeanReversion = "mean_reversion"

	DefaultMinConfidence    = 0.65
	DefaultToleranceSeconds = 30
	DefaultMaxPositionUSD   = 1000
	DefaultMaxLeverage      = 3
)

type Config struct {
	Entry        EntryRules   `json:"entry"`
	Exit         ExitRules    `json:"exit"`
	Guardrails   Guardrails   `json:"guardrails"`
	TradeControl TradeControl `json:"trade_control"`
	Risk         RiskLimits   `json:"risk"`
}

type Behaviors struct {
	Trend         bool `json:"trend"`
	Breakout      bool `json:"breakout"`
	MeanReversion bool `json:"mean_reversion"`
}

func (b Behaviors) Enabled(name string) bool {
	switch name {
	case BehaviorTrend:
		return b.Trend
	case BehaviorBreakout:
		return b.Breakout
	case BehaviorMeanReversion:
		return b.MeanReversion
	}
	return false
}

func (b Behaviors) Any() bool {
	return b.Trend || b.Breakout || b.MeanReversion
}

type EntryTiming struct {
	Mode             string `json:"mode"`
	TimeframeMinutes int    `json:"timeframe_minutes"`
	ToleranceSeconds int    `json:"tolerance_seconds"`
}

type EntryRules struct {
	MinConfidence       float64     `json:"min_confidence"`
	Behaviors           Behaviors   `json:"behaviors"`
	ConfirmationSignals int         `json:"confirmation_signals"`
	VolatilityMaxPct    float64     `json:"volatility_max_pct,omitempty"`
	Timing              EntryTiming `json:"timing"`
	MaxSlippagePct      float64     `json:"max_slippage_pct,omitempty"`
}

// ExitRules holds the mode-selected exit policy. Zero thresholds are disabled.
type ExitRules struct {
	Mode               string  `json:"mode"`
	TakeProfitPct      float64 `json:"take_profit_pct,omitempty"`
	StopLossPct        float64 `json:"stop_loss_pct,omitempty"`
	TrailingStopPct    float64 `json:"trailing_stop_pct,omitempty"`
	InitialStopLossPct float64 `json:"initial_stop_loss_pct,omitempty"`
	MaxHoldMinutes     float64 `json:"max_hold_minutes,omitempty"`
	MaxLossPct         float64 `json:"max_loss_pct,omitempty"`
	MaxProfitPct       float64 `json:"max_profit_pct,omitempty"`
}

type Guardrails struct {
	AllowLong  bool `json:"allow_long"`
	AllowShort bool `json:"allow_short"`
}

type TradeControl struct {
	MaxTradesPerHour          int     `json:"max_trades_per_hour,omitempty"`
	MaxTradesPerDay           int     `json:"max_trades_per_day,omitempty"`
	CooldownMinutes           float64 `json:"cooldown_minutes,omitempty"`
	MinHoldMinutes            float64 `json:"min_hold_minutes,omitempty"`
	AllowReentrySameDirection bool    `json:"allow_reentry_same_direction"`
}

type RiskLimits struct {
	MaxPositionUSD    float64 `json:"max_position_usd"`
	MaxLeverage       float64 `json:"max_leverage"`
	MaxDailyLossPct   float64 `json:"max_daily_loss_pct,omitempty"`
	DailyLossAnchor   string  `json:"daily_loss_anchor,omitempty"`
	ConfidenceScaling bool    `json:"confidence_scaling"`
}

// Daily loss anchors. Drawdown is measured from starting equity unless the
// strategy opts into the first equity point of the UTC day.
const (
	AnchorStarting = "starting"
	AnchorDay      = "day"
)

// Defaults carries deployment-level fallbacks applied during normalization.
type Defaults struct {
	MinConfidence float64
}

func DefaultConfig(d Defaults) Config {
	minConf := d.MinConfidence
	if minConf <= 0 {
		minConf = DefaultMinConfidence
	}
	return Config{
		Entry: EntryRules{
			MinConfidence:       minConf,
			Behaviors:           Behaviors{Trend: true, Breakout: true, MeanReversion: true},
			ConfirmationSignals: 1,
			Timing:              EntryTiming{Mode: TimingImmediate, ToleranceSeconds: DefaultToleranceSeconds},
		},
		Exit:       ExitRules{Mode: ExitSignal},
		Guardrails: Guardrails{AllowLong: true, AllowShort: true},
		Risk:       RiskLimits{MaxPositionUSD: DefaultMaxPositionUSD, MaxLeverage: DefaultMaxLeverage},
	}
}

// Normalize parses a stored filter document, canonical or legacy, into Config.
func Normalize(raw []byte, d Defaults) (Config, error) {
	cfg := DefaultConfig(d)
	if len(strings.TrimSpace(string(raw))) == 0 || strings.TrimSpace(string(raw)) == "null" {
		return cfg, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Config{}, fmt.Errorf("filters: decode: %w", err)
	}

	entry := section(doc, "entry", "entryRules", "entry_rules")
	exit := section(doc, "exit", "exitRules", "exit_rules")
	guard := section(doc, "guardrails", "guards")
	control := section(doc, "trade_control", "tradeControl")
	risk := section(doc, "risk", "riskLimits", "risk_limits")

	// entry
	if v, ok := firstFloat(entry, doc, "min_confidence", "minConfidence"); ok {
		cfg.Entry.MinConfidence = fraction(v)
	}
	behaviors, err := resolveBehaviors(entry, doc)
	if err != nil {
		return Config{}, err
	}
	cfg.Entry.Behaviors = behaviors
	if v, ok := firstFloat(entry, doc, "confirmation_signals", "confirmationSignals", "required_signals"); ok && v >= 1 {
		cfg.Entry.ConfirmationSignals = int(v)
	}
	if v, ok := firstFloat(entry, doc, "volatility_max_pct", "volatilityMaxPct", "maxVolatilityPct"); ok {
		cfg.Entry.VolatilityMaxPct = v
	}
	if v, ok := firstFloat(entry, doc, "max_slippage_pct", "maxSlippagePct"); ok {
		cfg.Entry.MaxSlippagePct = v
	}
	timing := section(entry, "timing", "entryTiming", "entry_timing")
	if v, ok := firstString(timing, nil, "mode"); ok {
		cfg.Entry.Timing.Mode = strings.ToLower(v)
	} else if v, ok := firstString(entry, doc, "timing_mode", "timingMode"); ok {
		cfg.Entry.Timing.Mode = strings.ToLower(v)
	}
	if v, ok := firstFloat(timing, entry, "timeframe_minutes", "timeframeMinutes"); ok {
		cfg.Entry.Timing.TimeframeMinutes = int(v)
	}
	if v, ok := firstFloat(timing, entry, "tolerance_seconds", "toleranceSeconds"); ok && v > 0 {
		cfg.Entry.Timing.ToleranceSeconds = int(v)
	}

	// exit
	if v, ok := firstString(exit, nil, "mode", "exit_mode", "exitMode"); ok {
		cfg.Exit.Mode = canonicalExitMode(v)
	} else if v, ok := firstString(doc, nil, "exit_mode", "exitMode"); ok {
		cfg.Exit.Mode = canonicalExitMode(v)
	}
	floatInto(&cfg.Exit.TakeProfitPct, exit, doc, "take_profit_pct", "takeProfitPct")
	floatInto(&cfg.Exit.StopLossPct, exit, doc, "stop_loss_pct", "stopLossPct")
	floatInto(&cfg.Exit.TrailingStopPct, exit, doc, "trailing_stop_pct", "trailingStopPct")
	floatInto(&cfg.Exit.InitialStopLossPct, exit, doc, "initial_stop_loss_pct", "initialStopLossPct")
	floatInto(&cfg.Exit.MaxHoldMinutes, exit, doc, "max_hold_minutes", "maxHoldMinutes")
	floatInto(&cfg.Exit.MaxLossPct, exit, doc, "max_loss_pct", "maxLossPct")
	floatInto(&cfg.Exit.MaxProfitPct, exit, doc, "max_profit_pct", "maxProfitPct")
	if v, ok := firstFloat(exit, doc, "max_hold_hours", "maxHoldHours"); ok && cfg.Exit.MaxHoldMinutes == 0 {
		cfg.Exit.MaxHoldMinutes = v * 60
	}
	cfg.Exit.StopLossPct = abs(cfg.Exit.StopLossPct)
	cfg.Exit.InitialStopLossPct = abs(cfg.Exit.InitialStopLossPct)
	cfg.Exit.MaxLossPct = abs(cfg.Exit.MaxLossPct)

	// guardrails
	if v, ok := firstBool(guard, doc, "allow_long", "allowLong"); ok {
		cfg.Guardrails.AllowLong = v
	}
	if v, ok := firstBool(guard, doc, "allow_short", "allowShort"); ok {
		cfg.Guardrails.AllowShort = v
	}

	// trade control
	if v, ok := firstFloat(control, doc, "max_trades_per_hour", "maxTradesPerHour"); ok {
		cfg.TradeControl.MaxTradesPerHour = int(v)
	}
	if v, ok := firstFloat(control, doc, "max_trades_per_day", "maxTradesPerDay"); ok {
		cfg.TradeControl.MaxTradesPerDay = int(v)
	}
	floatInto(&cfg.TradeControl.CooldownMinutes, control, doc, "cooldown_minutes", "cooldownMinutes")
	floatInto(&cfg.TradeControl.MinHoldMinutes, control, doc, "min_hold_minutes", "minHoldMinutes")
	if v, ok := firstBool(control, doc, "allow_reentry_same_direction", "allowReentrySameDirection", "allowReentry"); ok {
		cfg.TradeControl.AllowReentrySameDirection = v
	}

	// risk
	if v, ok := firstFloat(risk, doc, "max_position_usd", "maxPositionUsd", "maxPositionUSD"); ok && v > 0 {
		cfg.Risk.MaxPositionUSD = v
	}
	if v, ok := firstFloat(risk, doc, "max_leverage", "maxLeverage"); ok && v > 0 {
		cfg.Risk.MaxLeverage = v
	}
	floatInto(&cfg.Risk.MaxDailyLossPct, risk, doc, "max_daily_loss_pct", "maxDailyLossPct")
	cfg.Risk.MaxDailyLossPct = abs(cfg.Risk.MaxDailyLossPct)
	if v, ok := firstString(risk, doc, "daily_loss_anchor", "dailyLossAnchor"); ok {
		cfg.Risk.DailyLossAnchor = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := firstBool(risk, doc, "confidence_scaling", "confidenceScaling"); ok {
		cfg.Risk.ConfidenceScaling = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Exit.Mode {
	case ExitSignal, ExitTPSL, ExitTrailing, ExitTime:
	default:
		return fmt.Errorf("filters: unknown exit mode %q", c.Exit.Mode)
	}
	switch c.Risk.DailyLossAnchor {
	case "", AnchorStarting, AnchorDay:
	default:
		return fmt.Errorf("filters: unknown daily_loss_anchor %q", c.Risk.DailyLossAnchor)
	}
	switch c.Entry.Timing.Mode {
	case TimingImmediate, TimingOpen, TimingClose, TimingBoundary:
	default:
		return fmt.Errorf("filters: unknown entry timing mode %q", c.Entry.Timing.Mode)
	}
	if c.Entry.Timing.Mode != TimingImmediate && c.Entry.Timing.TimeframeMinutes <= 0 {
		return fmt.Errorf("filters: entry timing %q requires timeframe_minutes", c.Entry.Timing.Mode)
	}
	if c.Entry.MinConfidence < 0 || c.Entry.MinConfidence > 1 {
		return fmt.Errorf("filters: min_confidence %v out of range", c.Entry.MinConfidence)
	}
	if c.TradeControl.MaxTradesPerHour < 0 || c.TradeControl.MaxTradesPerDay < 0 {
		return fmt.Errorf("filters: trade caps must be >= 0")
	}
	return nil
}

// resolveBehaviors reads the behaviors object, or derives it from the legacy
// single entry mode when the object is absent.
func resolveBehaviors(entry, doc map[string]any) (Behaviors, error) {
	if obj := section(entry, "behaviors", "entryBehaviors", "entry_behaviors"); obj != nil {
		var b Behaviors
		b.Trend, _ = firstBool(obj, nil, "trend", "trendFollowing", "trend_following")
		b.Breakout, _ = firstBool(obj, nil, "breakout")
		b.MeanReversion, _ = firstBool(obj, nil, "mean_reversion", "meanReversion")
		return b, nil
	}
	if list, ok := firstList(entry, doc, "behaviors", "entryBehaviors"); ok {
		var b Behaviors
		for _, name := range list {
			switch canonicalBehavior(name) {
			case BehaviorTrend:
				b.Trend = true
			case BehaviorBreakout:
				b.Breakout = true
			case BehaviorMeanReversion:
				b.MeanReversion = true
			default:
				return Behaviors{}, fmt.Errorf("filters: unknown entry behavior %q", name)
			}
		}
		return b, nil
	}
	legacy, ok := firstString(entry, nil, "mode", "entry_mode", "entryMode")
	if !ok {
		legacy, ok = firstString(doc, nil, "entry_mode", "entryMode")
	}
	if !ok {
		return Behaviors{Trend: true, Breakout: true, MeanReversion: true}, nil
	}
	switch strings.ToLower(strings.TrimSpace(legacy)) {
	case "", "any", "all", "auto":
		return Behaviors{Trend: true, Breakout: true, MeanReversion: true}, nil
	}
	switch canonicalBehavior(legacy) {
	case BehaviorTrend:
		return Behaviors{Trend: true}, nil
	case BehaviorBreakout:
		return Behaviors{Breakout: true}, nil
	case BehaviorMeanReversion:
		return Behaviors{MeanReversion: true}, nil
	}
	return Behaviors{}, fmt.Errorf("filters: unknown legacy entry mode %q", legacy)
}

func canonicalBehavior(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	switch key {
	case "trend", "trend_following", "trendfollowing", "momentum":
		return BehaviorTrend
	case "breakout", "break_out":
		return BehaviorBreakout
	case "mean_reversion", "meanreversion", "reversion", "reversal":
		return BehaviorMeanReversion
	}
	return ""
}

func canonicalExitMode(mode string) string {
	key := strings.ToLower(strings.TrimSpace(mode))
	switch key {
	case "tp_sl", "tpsl", "tp/sl", "take_profit_stop_loss", "takeprofit":
		return ExitTPSL
	case "trailing", "trailing_stop", "trailingstop":
		return ExitTrailing
	case "time", "time_based", "timebased":
		return ExitTime
	case "signal", "ai", "":
		return ExitSignal
	}
	return key
}

func section(doc map[string]any, keys ...string) map[string]any {
	if doc == nil {
		return nil
	}
	for _, k := range keys {
		if v, ok := doc[k].(map[string]any); ok {
			return v
		}
	}
	return nil
}

// lookup checks the primary section first, then the fallback (flat legacy) map.
func lookup(primary, fallback map[string]any, keys ...string) (any, bool) {
	for _, m := range []map[string]any{primary, fallback} {
		if m == nil {
			continue
		}
		for _, k := range keys {
			if v, ok := m[k]; ok && v != nil {
				return v, true
			}
		}
	}
	return nil, false
}

func firstFloat(primary, fallback map[string]any, keys ...string) (float64, bool) {
	v, ok := lookup(primary, fallback, keys...)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		var f float64
		if _, err := fmt.Sscanf(strings.TrimSpace(n), "%g", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}

func floatInto(dst *float64, primary, fallback map[string]any, keys ...string) {
	if v, ok := firstFloat(primary, fallback, keys...); ok {
		*dst = v
	}
}

func firstString(primary, fallback map[string]any, keys ...string) (string, bool) {
	v, ok := lookup(primary, fallback, keys...)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return strings.TrimSpace(s), ok
}

func firstBool(primary, fallback map[string]any, keys ...string) (bool, bool) {
	v, ok := lookup(primary, fallback, keys...)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

func firstList(primary, fallback map[string]any, keys ...string) ([]string, bool) {
	v, ok := lookup(primary, fallback, keys...)
	if !ok {
		return nil, false
	}
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out, true
}

// fraction accepts confidence as either 0..1 or a 0..100 percentage.
func fraction(v float64) float64 {
	if v > 1 {
		return v / 100
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
