package engine

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"tradeloop/internal/broker"
	"tradeloop/internal/exit"
	"tradeloop/internal/filters"
	"tradeloop/internal/indicators"
	"tradeloop/internal/models"
	"tradeloop/internal/reasoning"
	"tradeloop/internal/repository"
	"tradeloop/internal/risk"
	"tradeloop/internal/tracing"
)

// maxReasonLen caps the model rationale copied onto trades.
const maxReasonLen = 500

// evaluateEntry runs the reasoning call, a possible signal exit, the risk
// gates and execution for the selected market, and always writes one
// decision row.
func (o *Orchestrator) evaluateEntry(ctx context.Context, t *tick, market string) error {
	d := &models.Decision{
		TickID:    t.id,
		SessionID: t.session.ID,
		AccountID: t.account.ID,
		Market:    market,
	}
	price, ok := t.prices[market]
	if !ok {
		d.ActionSummary = "Skipped: no price for " + market
		d.Error = strPtr(fmt.Sprintf("no mid price for %s", market))
		return o.record(ctx, t, d, "failed")
	}

	snap, ind := o.gather(ctx, t, market, price)
	d.MarketSnapshot = jsonOf(snap)
	d.IndicatorsSnapshot = jsonOf(ind)

	recent, err := o.recentDecisions(ctx, t)
	if err != nil {
		o.logger().Warn("engine: recent decisions unavailable", zap.String("tick_id", t.id), zap.Error(err))
	}
	req := reasoning.Request{
		Provider: t.strategy.ModelProvider,
		Model:    t.strategy.ModelName,
		System:   reasoning.SystemPrompt(t.strategy.Prompt),
		User:     userPrompt(buildContext(t, snap, ind, recent)),
	}
	rctx, span := tracing.Tracer().Start(ctx, "reasoning.Decide")
	span.SetAttributes(attribute.String("provider", req.Provider), attribute.String("model", req.Model))
	var resp reasoning.Response
	if o.Reasoner == nil {
		err = fmt.Errorf("reasoning: %w", reasoning.ErrNoProvider)
	} else {
		resp, err = o.Reasoner.Decide(rctx, req)
	}
	span.End()
	if err != nil {
		d.ActionSummary = "Reasoning failed"
		d.Error = strPtr(err.Error())
		o.logger().Warn("engine: reasoning failed", zap.String("tick_id", t.id), zap.String("market", market), zap.Error(err))
		return o.record(ctx, t, d, "failed")
	}
	intent := resp.Intent
	d.Intent = jsonOf(intent)
	d.Confidence = intent.Confidence

	// In signal mode an opposing intent closes the held position first.
	if t.filters.Exit.Mode == filters.ExitSignal {
		if pos := findPosition(t.positions, market); pos != nil {
			if res, conflict := exit.SignalConflict(pos.Side, intent.Bias); conflict {
				res.PnLPct = exit.PnLPct(pos.Side, pos.AvgEntryPrice.InexactFloat64(), price)
				if err := o.executeExit(ctx, t, *pos, price, res, &intent); err != nil {
					return err
				}
				if err := o.refresh(ctx, t); err != nil {
					return err
				}
			}
		}
	}

	if o.Risk == nil {
		return fmt.Errorf("risk pipeline not configured")
	}
	rr, err := o.Risk.Evaluate(ctx, risk.Input{
		Intent:     intent,
		Market:     market,
		Price:      price,
		Indicators: ind,
		Orderbook:  snap.Orderbook,
		Filters:    t.filters,
		Account:    t.account,
		Positions:  t.positions,
		Prices:     t.prices,
		Now:        t.now,
	})
	if err != nil {
		d.ActionSummary = "Risk evaluation failed"
		d.Error = strPtr(err.Error())
		if rerr := o.record(ctx, t, d, "failed"); rerr != nil {
			return rerr
		}
		return err
	}

	proposed := proposedOrder{Market: market, Bias: intent.Bias}
	if rr.Order != nil {
		proposed.Side = rr.Order.Side
		proposed.NotionalUSD = rr.Order.NotionalUSD
		proposed.Leverage = rr.Order.Leverage
	}
	d.ProposedOrder = jsonOf(proposed)

	if !rr.Passed {
		d.RiskResult = jsonOf(rr)
		d.ActionSummary = "No entry: " + rr.Reason
		o.Metrics.IncGateRejection(rr.Gate)
		outcome := "rejected"
		if !intent.IsEntry() {
			outcome = "hold"
		}
		return o.record(ctx, t, d, outcome)
	}

	order := broker.Order{
		Mode:        t.session.Mode,
		AccountID:   t.account.ID,
		SessionID:   t.session.ID,
		Market:      market,
		Side:        rr.Order.Side,
		NotionalUSD: rr.Order.NotionalUSD,
		SlippageBps: o.Config.SlippageBps,
		FeeBps:      o.Config.FeeBps,
		Leverage:    rr.Order.Leverage,
		Reason:      truncate(intent.Reasoning, maxReasonLen),
	}
	out := o.place(ctx, order)
	if out.Filled() {
		rr.Checks = append(rr.Checks, risk.Check{Name: risk.GateExecution, Status: "pass", Value: out.Status})
		d.Executed = true
		d.ActionSummary = fmt.Sprintf("%s %s %s $%.2f @ %s",
			actionVerb(out.Action), order.Side, market, order.NotionalUSD, out.FillPrice.StringFixed(4))
	} else {
		reason := out.Error
		if reason == "" {
			reason = "order " + out.Status
		}
		rr.Reject(risk.GateExecution, reason)
		d.Error = strPtr(reason)
		d.ActionSummary = "Order " + out.Status + ": " + reason
	}
	d.RiskResult = jsonOf(rr)
	return o.record(ctx, t, d, decisionOutcome(out))
}

// gather collects the optional market features. Each failure only drops
// that feature from the context.
func (o *Orchestrator) gather(ctx context.Context, t *tick, market string, price float64) (marketSnapshot, *indicators.Snapshot) {
	log := o.logger().With(zap.String("tick_id", t.id), zap.String("market", market))
	snap := marketSnapshot{Market: market, Price: price, Interval: o.Config.CandleInterval}

	var ind *indicators.Snapshot
	count := o.Config.CandleCount
	if count <= 0 {
		count = 100
	}
	candles, err := o.Market.GetCandles(ctx, market, o.Config.CandleInterval, count)
	if err != nil {
		log.Warn("engine: candles unavailable", zap.Error(err))
	} else if len(candles) > 0 {
		snap.Candles = lastCandles(candles, contextCandles)
		s, err := indicators.Compute(candles, price)
		if err != nil {
			log.Warn("engine: indicators unavailable", zap.Error(err))
		} else {
			ind = &s
		}
	}

	book, err := o.Market.GetOrderbookTop(ctx, market)
	if err != nil {
		log.Warn("engine: orderbook unavailable", zap.Error(err))
	} else {
		snap.Orderbook = &book
	}
	return snap, ind
}

func (o *Orchestrator) recentDecisions(ctx context.Context, t *tick) ([]models.Decision, error) {
	if o.Config.RecentDecisions <= 0 {
		return nil, nil
	}
	sid := t.session.ID
	return o.Repo.ListDecisions(ctx, repository.ListDecisionsParams{SessionID: &sid, Limit: o.Config.RecentDecisions})
}

func (o *Orchestrator) record(ctx context.Context, t *tick, d *models.Decision, outcome string) error {
	if d.RiskResult == nil {
		d.RiskResult = jsonOf(nil)
	}
	if err := o.Repo.InsertDecision(ctx, d); err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	o.Metrics.IncDecision(outcome)
	t.report.DecisionID = d.ID
	t.report.Summary = d.ActionSummary
	t.report.Executed = d.Executed
	return nil
}

func findPosition(positions []models.Position, market string) *models.Position {
	for i := range positions {
		if positions[i].Market == market {
			return &positions[i]
		}
	}
	return nil
}

func actionVerb(action string) string {
	switch action {
	case models.ActionOpen:
		return "Opened"
	case models.ActionIncrease:
		return "Increased"
	case models.ActionReduce:
		return "Reduced"
	case models.ActionClose:
		return "Closed"
	}
	return "Filled"
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
