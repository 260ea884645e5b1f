package exit

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"tradeloop/internal/filters"
	"tradeloop/internal/models"
)

func position(side string, size, entry float64) models.Position {
	return models.Position{
		AccountID:     1,
		Market:        "BTC",
		Side:          side,
		Size:          decimal.NewFromFloat(size),
		AvgEntryPrice: decimal.NewFromFloat(entry),
	}
}

func TestTakeProfitAtThreshold(t *testing.T) {
	cfg := filters.ExitRules{Mode: filters.ExitTPSL, TakeProfitPct: 5, StopLossPct: 3}
	res := Evaluate(position(models.SideLong, 1, 60000), 63000, cfg, 10, nil)
	if !res.ShouldExit || res.Rule != RuleTakeProfit {
		t.Fatalf("res=%+v want take profit", res)
	}
	if !strings.Contains(res.Reason, "Take profit") {
		t.Fatalf("reason=%q", res.Reason)
	}
	if res.PnLPct != 5 {
		t.Fatalf("pnl=%v want=5", res.PnLPct)
	}
}

func TestTakeProfitCheckedBeforeStopLoss(t *testing.T) {
	cfg := filters.ExitRules{Mode: filters.ExitTPSL, TakeProfitPct: 1, StopLossPct: 0.5}
	res := Evaluate(position(models.SideShort, 2, 3000), 2900, cfg, 0, nil)
	if res.Rule != RuleTakeProfit {
		t.Fatalf("rule=%q want take_profit", res.Rule)
	}
	res = Evaluate(position(models.SideShort, 2, 3000), 3030, cfg, 0, nil)
	if res.Rule != RuleStopLoss {
		t.Fatalf("rule=%q want stop_loss", res.Rule)
	}
	res = Evaluate(position(models.SideShort, 2, 3000), 3010, cfg, 0, nil)
	if res.ShouldExit {
		t.Fatalf("unexpected exit %+v", res)
	}
}

func TestTrailingStopFromPeak(t *testing.T) {
	cfg := filters.ExitRules{Mode: filters.ExitTrailing, TrailingStopPct: 2, InitialStopLossPct: 5}
	pos := position(models.SideLong, 1, 100)
	peak := decimal.NewFromFloat(110)
	pos.PeakPrice = &peak

	res := Evaluate(pos, 108, cfg, 0, nil)
	if res.ShouldExit {
		t.Fatalf("1.8%% retrace should hold: %+v", res)
	}
	res = Evaluate(pos, 107, cfg, 0, nil)
	if !res.ShouldExit || res.Rule != RuleTrailingStop {
		t.Fatalf("res=%+v want trailing stop", res)
	}
	if res.PeakPrice != 110 {
		t.Fatalf("peak=%v want=110", res.PeakPrice)
	}
}

func TestTrailingPeakFromTradeHistoryShort(t *testing.T) {
	cfg := filters.ExitRules{Mode: filters.ExitTrailing, TrailingStopPct: 3}
	pos := position(models.SideShort, 1, 100)
	history := []models.Trade{
		{Market: "BTC", Price: decimal.NewFromFloat(100)},
		{Market: "BTC", Price: decimal.NewFromFloat(90)},
		{Market: "ETH", Price: decimal.NewFromFloat(10)},
	}
	res := Evaluate(pos, 92.8, cfg, 0, history)
	if !res.ShouldExit || res.PeakPrice != 90 {
		t.Fatalf("res=%+v want trailing exit from 90", res)
	}
}

func TestInitialStopOnlyWhenTrailingQuiet(t *testing.T) {
	cfg := filters.ExitRules{Mode: filters.ExitTrailing, TrailingStopPct: 10, InitialStopLossPct: 4}
	res := Evaluate(position(models.SideLong, 1, 100), 95, cfg, 0, nil)
	if !res.ShouldExit || res.Rule != RuleInitialStopLoss {
		t.Fatalf("res=%+v want initial stop", res)
	}
	res = Evaluate(position(models.SideLong, 1, 100), 89, cfg, 0, nil)
	if res.Rule != RuleTrailingStop {
		t.Fatalf("rule=%q want trailing_stop first", res.Rule)
	}
}

func TestTimeBased(t *testing.T) {
	cfg := filters.ExitRules{Mode: filters.ExitTime, MaxHoldMinutes: 240}
	if res := Evaluate(position(models.SideLong, 1, 100), 100, cfg, 240, nil); res.ShouldExit {
		t.Fatalf("age equal to max must hold: %+v", res)
	}
	res := Evaluate(position(models.SideLong, 1, 100), 100, cfg, 241, nil)
	if !res.ShouldExit || res.Rule != RuleMaxHold {
		t.Fatalf("res=%+v want max hold", res)
	}
}

func TestSignalModeGuardrailsOnly(t *testing.T) {
	cfg := filters.ExitRules{Mode: filters.ExitSignal, TakeProfitPct: 1}
	if res := Evaluate(position(models.SideLong, 1, 100), 150, cfg, 9999, nil); res.ShouldExit {
		t.Fatalf("signal mode must ignore tp: %+v", res)
	}
	cfg.MaxLossPct = 10
	cfg.MaxProfitPct = 20
	if res := Evaluate(position(models.SideLong, 1, 100), 89, cfg, 0, nil); res.Rule != RuleMaxLoss {
		t.Fatalf("rule=%q want max_loss", res.Rule)
	}
	if res := Evaluate(position(models.SideLong, 1, 100), 121, cfg, 0, nil); res.Rule != RuleMaxProfit {
		t.Fatalf("rule=%q want max_profit", res.Rule)
	}
}

func TestSignalConflict(t *testing.T) {
	cases := []struct {
		side, bias string
		want       bool
	}{
		{models.SideLong, "short", true},
		{models.SideShort, "long", true},
		{models.SideLong, "long", false},
		{models.SideLong, "neutral", false},
		{models.SideShort, "hold", false},
		{models.SideShort, "close", true},
		{models.SideLong, "close", true},
		{"", "close", false},
	}
	for _, tc := range cases {
		if _, got := SignalConflict(tc.side, tc.bias); got != tc.want {
			t.Fatalf("SignalConflict(%s,%s)=%v want=%v", tc.side, tc.bias, got, tc.want)
		}
	}
}
