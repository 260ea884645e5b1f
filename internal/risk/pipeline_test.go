package risk

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradeloop/internal/config"
	"tradeloop/internal/filters"
	"tradeloop/internal/indicators"
	"tradeloop/internal/models"
	"tradeloop/internal/reasoning"
	"tradeloop/internal/repository/memory"
)

var testNow = time.Date(2026, 3, 2, 10, 7, 0, 0, time.UTC)

func ptr(v float64) *float64 { return &v }

func baseInput() Input {
	return Input{
		Intent:  reasoning.Intent{Bias: reasoning.BiasLong, Confidence: 0.8, Reasoning: "steady trend continuation"},
		Market:  "BTC",
		Price:   60000,
		Filters: filters.DefaultConfig(filters.Defaults{}),
		Account: models.Account{
			ID:             1,
			StartingEquity: decimal.NewFromInt(10000),
			CashBalance:    decimal.NewFromInt(10000),
			Equity:         decimal.NewFromInt(10000),
		},
		Prices: map[string]float64{"BTC": 60000},
		Now:    testNow,
	}
}

func newPipeline() (*Pipeline, *memory.Store) {
	store := memory.New()
	return &Pipeline{Config: config.RiskConfig{DefaultMinConfidence: 0.65, EquityFraction: 0.1}, Repo: store}, store
}

func TestConfidenceFloorRejectsAndShortCircuits(t *testing.T) {
	p, _ := newPipeline()
	in := baseInput()
	in.Intent.Confidence = 0.55
	in.Filters.Guardrails.AllowLong = false

	res, err := p.Evaluate(context.Background(), in)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Passed {
		t.Fatalf("expected rejection")
	}
	if res.Reason != "Confidence 55% below minimum 65%" {
		t.Fatalf("reason=%q", res.Reason)
	}
	if res.Gate != GateConfidence || len(res.Checks) != 1 {
		t.Fatalf("gate=%q checks=%+v want only confidence evaluated", res.Gate, res.Checks)
	}
	if res.Order == nil || res.Order.NotionalUSD != 0 {
		t.Fatalf("order=%+v want unsized proposal", res.Order)
	}
}

func TestDirectionGuardrails(t *testing.T) {
	cases := []struct {
		bias   string
		mutate func(*filters.Config)
		want   string
	}{
		{reasoning.BiasLong, func(c *filters.Config) { c.Guardrails.AllowLong = false }, "Long entries disabled"},
		{reasoning.BiasShort, func(c *filters.Config) { c.Guardrails.AllowShort = false }, "Short entries disabled"},
		{reasoning.BiasNeutral, func(*filters.Config) {}, "Neutral intent, no entry"},
		{reasoning.BiasHold, func(*filters.Config) {}, "Hold intent, no entry"},
		{reasoning.BiasClose, func(*filters.Config) {}, "Close intent, no entry"},
	}
	p, _ := newPipeline()
	for _, tc := range cases {
		in := baseInput()
		in.Intent.Bias = tc.bias
		tc.mutate(&in.Filters)
		res, err := p.Evaluate(context.Background(), in)
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if res.Passed || res.Reason != tc.want || res.Gate != GateDirection {
			t.Fatalf("bias=%s res=%+v want %q", tc.bias, res, tc.want)
		}
	}
}

func TestBehaviorGate(t *testing.T) {
	p, _ := newPipeline()

	in := baseInput()
	in.Indicators = &indicators.Snapshot{Price: 100, EMAFast: ptr(101), EMASlow: ptr(99)}
	in.Filters.Entry.Behaviors = filters.Behaviors{Breakout: true}
	res, _ := p.Evaluate(context.Background(), in)
	if res.Reason != "Trend entries disabled" || res.Behavior != filters.BehaviorTrend {
		t.Fatalf("res=%+v want trend disabled", res)
	}

	in = baseInput()
	in.Filters.Entry.Behaviors = filters.Behaviors{}
	res, _ = p.Evaluate(context.Background(), in)
	if res.Reason != "All entry behaviors disabled" {
		t.Fatalf("reason=%q", res.Reason)
	}

	in = baseInput()
	in.Intent.Reasoning = "no clear setup"
	in.Filters.Entry.Behaviors = filters.Behaviors{MeanReversion: true}
	res, _ = p.Evaluate(context.Background(), in)
	if !res.Passed || res.Behavior != "" {
		t.Fatalf("unclassified setup should pass: %+v", res)
	}
}

func TestClassifyPrecedence(t *testing.T) {
	snap := &indicators.Snapshot{Price: 100, ATRPct: ptr(2.5), RSI: ptr(25)}
	if got := Classify(snap, ""); got != filters.BehaviorBreakout {
		t.Fatalf("got=%q want=breakout", got)
	}
	snap.ATRPct = ptr(1)
	if got := Classify(snap, ""); got != filters.BehaviorMeanReversion {
		t.Fatalf("got=%q want=mean_reversion", got)
	}
	if got := Classify(nil, "Price looks oversold after the flush"); got != filters.BehaviorMeanReversion {
		t.Fatalf("keyword got=%q", got)
	}
	if got := Classify(nil, "clean breakout above the range"); got != filters.BehaviorBreakout {
		t.Fatalf("keyword got=%q", got)
	}
}

func TestTradeControlLimits(t *testing.T) {
	ctx := context.Background()
	p, store := newPipeline()
	for i := 0; i < 3; i++ {
		_ = store.InsertTrade(ctx, &models.Trade{
			AccountID:  1,
			Market:     "ETH",
			Action:     models.ActionOpen,
			Side:       models.SideLong,
			ExecutedAt: testNow.Add(-time.Duration(10+i) * time.Minute),
		})
	}

	in := baseInput()
	in.Filters.TradeControl.MaxTradesPerHour = 3
	res, err := p.Evaluate(ctx, in)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Reason != "Hourly trade limit reached (3/3)" {
		t.Fatalf("reason=%q", res.Reason)
	}

	in = baseInput()
	in.Filters.TradeControl.MaxTradesPerDay = 2
	res, _ = p.Evaluate(ctx, in)
	if res.Reason != "Daily trade limit reached (3/2)" {
		t.Fatalf("reason=%q", res.Reason)
	}
}

func TestCooldownAndReentry(t *testing.T) {
	ctx := context.Background()
	p, store := newPipeline()
	_ = store.InsertTrade(ctx, &models.Trade{
		AccountID:  1,
		Market:     "BTC",
		Action:     models.ActionClose,
		Side:       models.SideLong,
		ExecutedAt: testNow.Add(-18 * time.Minute),
	})

	in := baseInput()
	in.Filters.TradeControl.CooldownMinutes = 30
	res, _ := p.Evaluate(ctx, in)
	if res.Reason != "Cooldown active for BTC (12m remaining)" {
		t.Fatalf("reason=%q", res.Reason)
	}

	in = baseInput()
	res, _ = p.Evaluate(ctx, in)
	if res.Reason != "Re-entry long after same-direction exit not allowed" {
		t.Fatalf("reason=%q", res.Reason)
	}

	in.Intent.Bias = reasoning.BiasShort
	if res, _ = p.Evaluate(ctx, in); !res.Passed {
		t.Fatalf("opposite direction should pass: %+v", res)
	}

	in = baseInput()
	in.Filters.TradeControl.AllowReentrySameDirection = true
	if res, _ = p.Evaluate(ctx, in); !res.Passed {
		t.Fatalf("allowed re-entry should pass: %+v", res)
	}
}

func TestMinimumHold(t *testing.T) {
	p, _ := newPipeline()
	in := baseInput()
	in.Filters.TradeControl.MinHoldMinutes = 30
	in.Positions = []models.Position{{
		AccountID:     1,
		Market:        "BTC",
		Side:          models.SideLong,
		Size:          decimal.NewFromFloat(0.01),
		AvgEntryPrice: decimal.NewFromInt(60000),
		OpenedAt:      testNow.Add(-12*time.Minute - 20*time.Second),
	}}
	res, _ := p.Evaluate(context.Background(), in)
	if res.Reason != "Minimum hold time not met (12m < 30m)" {
		t.Fatalf("reason=%q", res.Reason)
	}
}

func TestRiskLimitsSizing(t *testing.T) {
	p, _ := newPipeline()
	in := baseInput()
	res, err := p.Evaluate(context.Background(), in)
	if err != nil || !res.Passed {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	if res.Order.NotionalUSD != 1000 || res.Order.Leverage != 1 {
		t.Fatalf("order=%+v want notional 1000", res.Order)
	}

	in.Account.Equity = decimal.NewFromInt(5000)
	res, _ = p.Evaluate(context.Background(), in)
	if res.Order.NotionalUSD != 500 {
		t.Fatalf("notional=%v want=500", res.Order.NotionalUSD)
	}

	in.Filters.Risk.ConfidenceScaling = true
	in.Intent.Confidence = 0.825
	res, _ = p.Evaluate(context.Background(), in)
	if res.Order.NotionalUSD != 750 {
		t.Fatalf("scaled notional=%v want=750", res.Order.NotionalUSD)
	}
}

func TestSizeNotional(t *testing.T) {
	if got := SizeNotional(100000, 1000, 0.1, true, 1, 0.65); got != 1000 {
		t.Fatalf("capped=%v want=1000", got)
	}
	if got := SizeNotional(2000, 1000, 0.1, true, 1, 0.65); got != 1000 {
		t.Fatalf("full confidence=%v want=1000", got)
	}
	if got := SizeNotional(2000, 1000, 0.1, false, 1, 0.65); got != 200 {
		t.Fatalf("unscaled=%v want=200", got)
	}
}

func TestDailyLossMeasuredFromStartingEquity(t *testing.T) {
	ctx := context.Background()
	p, store := newPipeline()
	// flat today, but 30% below where the account started
	_ = store.InsertEquityPoint(ctx, &models.EquityPoint{AccountID: 1, Equity: decimal.NewFromInt(7000), RecordedAt: testNow.Add(-2 * time.Hour)})

	in := baseInput()
	in.Filters.Risk.MaxDailyLossPct = 10
	in.Account.Equity = decimal.NewFromInt(7000)
	res, err := p.Evaluate(ctx, in)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Passed || res.Gate != GateRiskLimits || res.Reason != "Daily loss 30% exceeds limit 10%" {
		t.Fatalf("passed=%v gate=%q reason=%q", res.Passed, res.Gate, res.Reason)
	}

	// above starting equity but down on the day
	_ = store.InsertEquityPoint(ctx, &models.EquityPoint{AccountID: 1, Equity: decimal.NewFromInt(12000), RecordedAt: testNow.Add(-1 * time.Hour)})
	in.Filters.Risk.MaxDailyLossPct = 5
	in.Account.Equity = decimal.NewFromInt(10400)
	res, _ = p.Evaluate(ctx, in)
	if res.Gate == GateRiskLimits {
		t.Fatalf("unexpected risk rejection: %q", res.Reason)
	}
}

func TestDailyLossDayAnchorUsesFirstPointOfDay(t *testing.T) {
	ctx := context.Background()
	p, store := newPipeline()
	_ = store.InsertEquityPoint(ctx, &models.EquityPoint{AccountID: 1, Equity: decimal.NewFromInt(12000), RecordedAt: testNow.Add(-26 * time.Hour)})
	_ = store.InsertEquityPoint(ctx, &models.EquityPoint{AccountID: 1, Equity: decimal.NewFromInt(11000), RecordedAt: testNow.Add(-9 * time.Hour)})
	_ = store.InsertEquityPoint(ctx, &models.EquityPoint{AccountID: 1, Equity: decimal.NewFromInt(10500), RecordedAt: testNow.Add(-1 * time.Hour)})

	in := baseInput()
	in.Filters.Risk.MaxDailyLossPct = 5
	in.Filters.Risk.DailyLossAnchor = filters.AnchorDay
	in.Account.Equity = decimal.NewFromInt(10400)
	res, _ := p.Evaluate(ctx, in)
	if res.Reason != "Daily loss 5.45% exceeds limit 5%" {
		t.Fatalf("reason=%q", res.Reason)
	}
}

func TestLeverageCap(t *testing.T) {
	p, _ := newPipeline()
	in := baseInput()
	in.Account.Equity = decimal.NewFromInt(1000)
	in.Prices["ETH"] = 3000
	in.Positions = []models.Position{{
		Market:        "ETH",
		Side:          models.SideShort,
		Size:          decimal.NewFromInt(1),
		AvgEntryPrice: decimal.NewFromInt(3000),
	}}
	res, _ := p.Evaluate(context.Background(), in)
	if res.Reason != "Leverage 3.10x would exceed max 3.00x" {
		t.Fatalf("reason=%q", res.Reason)
	}
}

func TestConfirmationAndVolatility(t *testing.T) {
	p, _ := newPipeline()
	in := baseInput()
	in.Intent.Confidence = 0.7
	in.Filters.Entry.ConfirmationSignals = 3
	res, _ := p.Evaluate(context.Background(), in)
	if res.Reason != "Confidence 70% below 3-signal confirmation requirement 75%" {
		t.Fatalf("reason=%q", res.Reason)
	}
	if got := RequiredConfidence(0.9, 5); got != ConfirmationCap {
		t.Fatalf("required=%v want cap", got)
	}

	in = baseInput()
	in.Filters.Entry.VolatilityMaxPct = 3
	in.Intent.Reasoning = "trend"
	in.Indicators = &indicators.Snapshot{Price: 100, StdevPct: ptr(4), PriceChangePct: ptr(-1)}
	res, _ = p.Evaluate(context.Background(), in)
	if res.Reason != "Volatility 4% exceeds max 3%" || res.Gate != GateConfirmation {
		t.Fatalf("res=%+v", res)
	}
}

func TestEntryTimingWindow(t *testing.T) {
	p, _ := newPipeline()
	in := baseInput()
	in.Filters.Entry.Timing = filters.EntryTiming{Mode: filters.TimingOpen, TimeframeMinutes: 15, ToleranceSeconds: 30}
	res, _ := p.Evaluate(context.Background(), in)
	if res.Reason != "Outside entry window (420s into 15m candle)" {
		t.Fatalf("reason=%q", res.Reason)
	}

	in.Now = time.Date(2026, 3, 2, 10, 14, 40, 0, time.UTC)
	in.Filters.Entry.Timing.Mode = filters.TimingBoundary
	if res, _ = p.Evaluate(context.Background(), in); !res.Passed {
		t.Fatalf("20s before close should pass boundary: %+v", res)
	}
}

func TestSlippageEstimate(t *testing.T) {
	p, _ := newPipeline()
	in := baseInput()
	in.Filters.Entry.MaxSlippagePct = 0.02
	res, _ := p.Evaluate(context.Background(), in)
	if !strings.HasPrefix(res.Reason, "Estimated slippage 0.05% exceeds max 0.02%") {
		t.Fatalf("reason=%q", res.Reason)
	}
}
