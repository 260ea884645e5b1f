package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradeloop/internal/accounting"
	"tradeloop/internal/broker"
	"tradeloop/internal/exit"
	"tradeloop/internal/models"
	"tradeloop/internal/reasoning"
	"tradeloop/internal/repository"
	"tradeloop/internal/risk"
	"tradeloop/internal/tracing"
)

// GateExit labels the risk result of exit decisions.
const GateExit = "exit"

// runExits evaluates every open position under the strategy's exit policy
// and closes the ones that trigger, before any entry is considered.
func (o *Orchestrator) runExits(ctx context.Context, t *tick) error {
	held := append([]models.Position(nil), t.positions...)
	closed := 0
	for _, pos := range held {
		px, ok := t.prices[pos.Market]
		if !ok {
			continue
		}
		age, history, err := o.positionHistory(ctx, t, pos)
		if err != nil {
			return fmt.Errorf("exit history %s: %w", pos.Market, err)
		}
		res := exit.Evaluate(pos, px, t.filters.Exit, age, history)
		if !res.ShouldExit {
			continue
		}
		if err := o.executeExit(ctx, t, pos, px, res, nil); err != nil {
			return err
		}
		closed++
	}
	if closed == 0 {
		return nil
	}
	return o.refresh(ctx, t)
}

// positionHistory returns the position's age in minutes, measured from the
// open trade that started it, and the trades booked since.
func (o *Orchestrator) positionHistory(ctx context.Context, t *tick, pos models.Position) (float64, []models.Trade, error) {
	opened := pos.OpenedAt
	last, err := o.Repo.LastOpenTrade(ctx, t.account.ID, pos.Market)
	if err != nil {
		return 0, nil, err
	}
	if last != nil && !last.ExecutedAt.IsZero() {
		opened = last.ExecutedAt
	}
	market := pos.Market
	asc := true
	history, err := o.Repo.ListTrades(ctx, repository.ListTradesParams{
		AccountID: t.account.ID,
		Market:    &market,
		Since:     &opened,
		Limit:     500,
		Asc:       &asc,
	})
	if err != nil {
		return 0, nil, err
	}
	if opened.IsZero() {
		return 0, history, nil
	}
	return t.now.Sub(opened).Minutes(), history, nil
}

// executeExit closes pos in full and writes its own decision row. intent is
// set when the exit comes from a conflicting model signal.
func (o *Orchestrator) executeExit(ctx context.Context, t *tick, pos models.Position, price float64, res exit.Result, intent *reasoning.Intent) error {
	side := models.OppositeSide(pos.Side)
	notional := pos.Size.Mul(pos.AvgEntryPrice).InexactFloat64()
	order := broker.Order{
		Mode:        t.session.Mode,
		AccountID:   t.account.ID,
		SessionID:   t.session.ID,
		Market:      pos.Market,
		Side:        side,
		NotionalUSD: notional,
		SlippageBps: o.Config.SlippageBps,
		FeeBps:      o.Config.FeeBps,
		Close:       true,
		Reason:      res.Reason,
	}
	out := o.place(ctx, order)
	o.Metrics.IncExit(res.Rule, pos.Side)

	rr := risk.Result{Passed: out.Filled(), Gate: GateExit, Reason: res.Reason}
	if !out.Filled() {
		rr.Reason = out.Error
	}
	d := &models.Decision{
		TickID:    t.id,
		SessionID: t.session.ID,
		AccountID: t.account.ID,
		Market:    pos.Market,
		MarketSnapshot: jsonOf(exitSnapshot{
			Market:   pos.Market,
			Price:    price,
			Position: viewPosition(pos),
			PnLPct:   res.PnLPct,
			Peak:     res.PeakPrice,
		}),
		Intent:        jsonOf(intent),
		ActionSummary: "Exit: " + res.Reason,
		RiskResult:    jsonOf(rr),
		ProposedOrder: jsonOf(proposedOrder{Market: pos.Market, Bias: reasoning.BiasClose, Side: side, NotionalUSD: notional}),
		Executed:      out.Filled(),
	}
	if intent != nil {
		d.Confidence = intent.Confidence
	}
	if !out.Filled() {
		d.Error = strPtr(out.Error)
	}
	if err := o.Repo.InsertDecision(ctx, d); err != nil {
		return fmt.Errorf("insert exit decision: %w", err)
	}
	o.Metrics.IncDecision(decisionOutcome(out))
	t.report.Exits = append(t.report.Exits, ExitReport{
		Market:     pos.Market,
		Side:       pos.Side,
		Rule:       res.Rule,
		Reason:     res.Reason,
		Status:     out.Status,
		DecisionID: d.ID,
	})
	o.logger().Info("engine: exit",
		zap.String("tick_id", t.id),
		zap.String("market", pos.Market),
		zap.String("rule", res.Rule),
		zap.String("status", out.Status),
		zap.String("realized_pnl", out.RealizedPnL.StringFixed(2)),
	)
	return nil
}

// place submits an order under a span and never fails the tick.
func (o *Orchestrator) place(ctx context.Context, order broker.Order) broker.Result {
	ctx, span := tracing.Tracer().Start(ctx, "broker.PlaceOrder")
	defer span.End()
	if o.Broker == nil {
		return broker.Result{Status: broker.StatusFailed, Failure: broker.FailureValidation, Error: "broker not configured"}
	}
	out := o.Broker.PlaceOrder(ctx, order)
	o.Metrics.IncOrder(order.Mode, out.Status)
	if out.Status == broker.StatusFailed {
		o.logger().Warn("engine: order failed",
			zap.Uint64("session_id", order.SessionID),
			zap.String("market", order.Market),
			zap.String("side", order.Side),
			zap.String("failure", out.Failure),
			zap.String("error", out.Error),
		)
	}
	return out
}

// refresh reloads account and positions after ledger writes and re-marks
// the positions in memory.
func (o *Orchestrator) refresh(ctx context.Context, t *tick) error {
	acct, err := o.Repo.GetAccount(ctx, t.account.ID)
	if err != nil {
		return fmt.Errorf("reload account: %w", err)
	}
	if acct == nil {
		return fmt.Errorf("account %d vanished", t.account.ID)
	}
	if err := o.loadPositions(ctx, t); err != nil {
		return err
	}
	decPrices := make(map[string]decimal.Decimal, len(t.prices))
	for m, px := range t.prices {
		decPrices[m] = decimal.NewFromFloat(px)
	}
	accounting.MarkPositions(t.positions, decPrices)
	acct.Equity = accounting.Equity(acct.CashBalance, t.positions)
	t.account = *acct
	return nil
}

func decisionOutcome(r broker.Result) string {
	switch r.Status {
	case broker.StatusFilled:
		return "executed"
	case broker.StatusSkipped:
		return "skipped"
	}
	return "failed"
}
