package filters

import (
	"strings"
	"testing"
)

func TestNormalizeEmptyUsesDefaults(t *testing.T) {
	cfg, err := Normalize(nil, Defaults{MinConfidence: 0.7})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if cfg.Entry.MinConfidence != 0.7 {
		t.Fatalf("min_confidence=%v want=0.7", cfg.Entry.MinConfidence)
	}
	if !cfg.Entry.Behaviors.Trend || !cfg.Entry.Behaviors.Breakout || !cfg.Entry.Behaviors.MeanReversion {
		t.Fatalf("behaviors=%+v want all enabled", cfg.Entry.Behaviors)
	}
	if cfg.Exit.Mode != ExitSignal {
		t.Fatalf("exit mode=%q want=signal", cfg.Exit.Mode)
	}
	if !cfg.Guardrails.AllowLong || !cfg.Guardrails.AllowShort {
		t.Fatalf("guardrails=%+v", cfg.Guardrails)
	}
}

func TestNormalizeCanonical(t *testing.T) {
	raw := []byte(`{
		"entry": {"min_confidence": 0.8, "behaviors": {"trend": true, "breakout": false, "mean_reversion": true},
		          "timing": {"mode": "candle_close", "timeframe_minutes": 15, "tolerance_seconds": 45}},
		"exit": {"mode": "tp_sl", "take_profit_pct": 5, "stop_loss_pct": -3},
		"guardrails": {"allow_short": false},
		"trade_control": {"max_trades_per_hour": 2, "cooldown_minutes": 30},
		"risk": {"max_position_usd": 2500, "max_leverage": 5, "confidence_scaling": true}
	}`)
	cfg, err := Normalize(raw, Defaults{})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if cfg.Entry.MinConfidence != 0.8 {
		t.Fatalf("min_confidence=%v", cfg.Entry.MinConfidence)
	}
	if cfg.Entry.Behaviors.Breakout || !cfg.Entry.Behaviors.Trend {
		t.Fatalf("behaviors=%+v", cfg.Entry.Behaviors)
	}
	if cfg.Entry.Timing.Mode != TimingClose || cfg.Entry.Timing.TimeframeMinutes != 15 || cfg.Entry.Timing.ToleranceSeconds != 45 {
		t.Fatalf("timing=%+v", cfg.Entry.Timing)
	}
	if cfg.Exit.Mode != ExitTPSL || cfg.Exit.TakeProfitPct != 5 || cfg.Exit.StopLossPct != 3 {
		t.Fatalf("exit=%+v", cfg.Exit)
	}
	if cfg.Guardrails.AllowShort || !cfg.Guardrails.AllowLong {
		t.Fatalf("guardrails=%+v", cfg.Guardrails)
	}
	if cfg.TradeControl.MaxTradesPerHour != 2 || cfg.TradeControl.CooldownMinutes != 30 {
		t.Fatalf("trade_control=%+v", cfg.TradeControl)
	}
	if cfg.Risk.MaxPositionUSD != 2500 || cfg.Risk.MaxLeverage != 5 || !cfg.Risk.ConfidenceScaling {
		t.Fatalf("risk=%+v", cfg.Risk)
	}
}

func TestNormalizeLegacyEntryMode(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Behaviors
	}{
		{"nested trend", `{"entry":{"mode":"trend"}}`, Behaviors{Trend: true}},
		{"flat breakout", `{"entryMode":"breakout"}`, Behaviors{Breakout: true}},
		{"reversal alias", `{"entry":{"entryMode":"meanReversion"}}`, Behaviors{MeanReversion: true}},
		{"any", `{"entry":{"mode":"any"}}`, Behaviors{Trend: true, Breakout: true, MeanReversion: true}},
		{"list form", `{"entry":{"behaviors":["trend","breakout"]}}`, Behaviors{Trend: true, Breakout: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Normalize([]byte(tc.raw), Defaults{})
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if cfg.Entry.Behaviors != tc.want {
				t.Fatalf("behaviors=%+v want=%+v", cfg.Entry.Behaviors, tc.want)
			}
		})
	}
}

func TestNormalizeLegacyFlatShape(t *testing.T) {
	raw := []byte(`{"minConfidence": 70, "exitMode": "trailing_stop", "trailingStopPct": 2, "allowLong": false, "maxHoldHours": 4}`)
	cfg, err := Normalize(raw, Defaults{})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if cfg.Entry.MinConfidence != 0.7 {
		t.Fatalf("min_confidence=%v want=0.7", cfg.Entry.MinConfidence)
	}
	if cfg.Exit.Mode != ExitTrailing || cfg.Exit.TrailingStopPct != 2 {
		t.Fatalf("exit=%+v", cfg.Exit)
	}
	if cfg.Exit.MaxHoldMinutes != 240 {
		t.Fatalf("max_hold_minutes=%v want=240", cfg.Exit.MaxHoldMinutes)
	}
	if cfg.Guardrails.AllowLong {
		t.Fatalf("allow_long should be false")
	}
}

func TestNormalizeRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"exit mode":      `{"exit":{"mode":"moon"}}`,
		"legacy mode":    `{"entry":{"mode":"scalping"}}`,
		"timing":         `{"entry":{"timing":{"mode":"candle_open"}}}`,
		"behavior name":  `{"entry":{"behaviors":["grid"]}}`,
		"malformed json": `{"entry":`,
	}
	for name, raw := range cases {
		if _, err := Normalize([]byte(raw), Defaults{}); err == nil {
			t.Fatalf("%s: expected error", name)
		} else if !strings.HasPrefix(err.Error(), "filters:") {
			t.Fatalf("%s: err=%v", name, err)
		}
	}
}

func TestNormalizeDailyLossAnchor(t *testing.T) {
	cfg, err := Normalize([]byte(`{"risk": {"max_daily_loss_pct": 8}}`), Defaults{})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if cfg.Risk.DailyLossAnchor != "" {
		t.Fatalf("anchor=%q want default", cfg.Risk.DailyLossAnchor)
	}
	cfg, err = Normalize([]byte(`{"risk": {"dailyLossAnchor": "Day"}}`), Defaults{})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if cfg.Risk.DailyLossAnchor != AnchorDay {
		t.Fatalf("anchor=%q want=day", cfg.Risk.DailyLossAnchor)
	}
	if _, err := Normalize([]byte(`{"risk": {"daily_loss_anchor": "week"}}`), Defaults{}); err == nil || !strings.Contains(err.Error(), "daily_loss_anchor") {
		t.Fatalf("err=%v want daily_loss_anchor error", err)
	}
}
