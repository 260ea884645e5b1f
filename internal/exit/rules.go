// Package exit decides whether an open position should be closed under the
// strategy's exit policy. It has no side effects.
package exit

import (
	"fmt"

	"tradeloop/internal/filters"
	"tradeloop/internal/models"
)

const (
	RuleTakeProfit      = "take_profit"
	RuleStopLoss        = "stop_loss"
	RuleTrailingStop    = "trailing_stop"
	RuleInitialStopLoss = "initial_stop_loss"
	RuleMaxHold         = "max_hold_time"
	RuleMaxLoss         = "max_loss"
	RuleMaxProfit       = "max_profit"
	RuleSignalConflict  = "signal_conflict"
)

type Result struct {
	ShouldExit bool    `json:"should_exit"`
	Rule       string  `json:"rule,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	PnLPct     float64 `json:"pnl_pct"`
	PeakPrice  float64 `json:"peak_price,omitempty"`
}

func hold(pnl float64) Result {
	return Result{PnLPct: pnl}
}

// Evaluate applies cfg to one position at price. ageMinutes is measured from
// the open trade that started the position; history is that position's trades.
func Evaluate(pos models.Position, price float64, cfg filters.ExitRules, ageMinutes float64, history []models.Trade) Result {
	entry := pos.AvgEntryPrice.InexactFloat64()
	if entry <= 0 || price <= 0 || !pos.Size.IsPositive() {
		return Result{}
	}
	pnl := PnLPct(pos.Side, entry, price)

	switch cfg.Mode {
	case filters.ExitTPSL:
		if cfg.TakeProfitPct > 0 && pnl >= cfg.TakeProfitPct {
			return Result{ShouldExit: true, Rule: RuleTakeProfit, PnLPct: pnl,
				Reason: fmt.Sprintf("Take profit: %+.2f%% >= %.2f%%", pnl, cfg.TakeProfitPct)}
		}
		if cfg.StopLossPct > 0 && pnl <= -cfg.StopLossPct {
			return Result{ShouldExit: true, Rule: RuleStopLoss, PnLPct: pnl,
				Reason: fmt.Sprintf("Stop loss: %+.2f%% <= -%.2f%%", pnl, cfg.StopLossPct)}
		}
		return hold(pnl)

	case filters.ExitTrailing:
		peak := PeakPrice(pos, history)
		res := hold(pnl)
		res.PeakPrice = peak
		if cfg.TrailingStopPct > 0 && peak > 0 {
			retrace := RetracePct(pos.Side, peak, price)
			if retrace >= cfg.TrailingStopPct {
				res.ShouldExit = true
				res.Rule = RuleTrailingStop
				res.Reason = fmt.Sprintf("Trailing stop: retraced %.2f%% from peak %.4f (limit %.2f%%)", retrace, peak, cfg.TrailingStopPct)
				return res
			}
		}
		if cfg.InitialStopLossPct > 0 && pnl <= -cfg.InitialStopLossPct {
			res.ShouldExit = true
			res.Rule = RuleInitialStopLoss
			res.Reason = fmt.Sprintf("Initial stop loss: %+.2f%% <= -%.2f%%", pnl, cfg.InitialStopLossPct)
		}
		return res

	case filters.ExitTime:
		if cfg.MaxHoldMinutes > 0 && ageMinutes > cfg.MaxHoldMinutes {
			return Result{ShouldExit: true, Rule: RuleMaxHold, PnLPct: pnl,
				Reason: fmt.Sprintf("Max hold time exceeded: %.0fm > %.0fm", ageMinutes, cfg.MaxHoldMinutes)}
		}
		return hold(pnl)

	default:
		// signal mode: only the hard guardrails exit on their own.
		if cfg.MaxLossPct > 0 && pnl <= -cfg.MaxLossPct {
			return Result{ShouldExit: true, Rule: RuleMaxLoss, PnLPct: pnl,
				Reason: fmt.Sprintf("Max loss guardrail: %+.2f%% <= -%.2f%%", pnl, cfg.MaxLossPct)}
		}
		if cfg.MaxProfitPct > 0 && pnl >= cfg.MaxProfitPct {
			return Result{ShouldExit: true, Rule: RuleMaxProfit, PnLPct: pnl,
				Reason: fmt.Sprintf("Max profit guardrail: %+.2f%% >= %.2f%%", pnl, cfg.MaxProfitPct)}
		}
		return hold(pnl)
	}
}

// SignalConflict reports whether a fresh intent bias ends the held
// position: an opposing direction or an explicit close. Neutral and hold
// never do.
func SignalConflict(side, bias string) (Result, bool) {
	if side != models.SideLong && side != models.SideShort {
		return Result{}, false
	}
	switch {
	case bias == biasClose:
		return Result{
			ShouldExit: true,
			Rule:       RuleSignalConflict,
			Reason:     fmt.Sprintf("Signal exit: close intent on %s position", side),
		}, true
	case (side == models.SideLong && bias == models.SideShort) || (side == models.SideShort && bias == models.SideLong):
		return Result{
			ShouldExit: true,
			Rule:       RuleSignalConflict,
			Reason:     fmt.Sprintf("Signal exit: %s intent against %s position", bias, side),
		}, true
	}
	return Result{}, false
}

const biasClose = "close"

// PnLPct is the unleveraged move from entry to price in the position's favour.
func PnLPct(side string, entry, price float64) float64 {
	if entry <= 0 {
		return 0
	}
	if side == models.SideShort {
		return (entry - price) * 100 / entry
	}
	return (price - entry) * 100 / entry
}

// RetracePct is how far price has moved back from peak against the position.
func RetracePct(side string, peak, price float64) float64 {
	if peak <= 0 {
		return 0
	}
	if side == models.SideShort {
		return (price - peak) * 100 / peak
	}
	return (peak - price) * 100 / peak
}

// PeakPrice is the most favourable price seen for the position: highest for
// longs, lowest for shorts, seeded from the entry price.
func PeakPrice(pos models.Position, history []models.Trade) float64 {
	peak := pos.AvgEntryPrice.InexactFloat64()
	if pos.PeakPrice != nil {
		peak = TrackPeak(pos.Side, peak, pos.PeakPrice.InexactFloat64())
	}
	for _, t := range history {
		if t.Market != pos.Market {
			continue
		}
		peak = TrackPeak(pos.Side, peak, t.Price.InexactFloat64())
	}
	return peak
}

// TrackPeak folds one observed price into peak.
func TrackPeak(side string, peak, price float64) float64 {
	if price <= 0 {
		return peak
	}
	if peak <= 0 {
		return price
	}
	if side == models.SideShort {
		if price < peak {
			return price
		}
		return peak
	}
	if price > peak {
		return price
	}
	return peak
}
