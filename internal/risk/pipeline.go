package risk

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tradeloop/internal/config"
	"tradeloop/internal/filters"
	"tradeloop/internal/indicators"
	"tradeloop/internal/marketdata"
	"tradeloop/internal/models"
	"tradeloop/internal/reasoning"
	"tradeloop/internal/repository"
)

const (
	GateConfidence   = "confidence"
	GateDirection    = "direction"
	GateBehavior     = "behavior"
	GateTradeControl = "trade_control"
	GateRiskLimits   = "risk_limits"
	GateConfirmation = "confirmation"
	GateTiming       = "timing"
	GateExecution    = "execution"
)

const (
	DefaultEquityFraction       = 0.1
	DefaultEstimatedSlippagePct = 0.05

	ConfirmationStep = 0.05
	ConfirmationCap  = 0.95

	// ReentryWindow bounds how long a same-direction exit blocks re-entry.
	ReentryWindow = time.Hour
)

type Check struct {
	Name   string `json:"name"`
	Status string `json:"status"` // pass|fail
	Value  any    `json:"value,omitempty"`
	Msg    string `json:"msg,omitempty"`
}

// ProposedOrder is the sized entry produced by the gates. It is attached to
// the decision even when a later gate rejects.
type ProposedOrder struct {
	Market      string  `json:"market"`
	Side        string  `json:"side"`
	NotionalUSD float64 `json:"notional_usd"`
	Leverage    float64 `json:"leverage"`
	Confidence  float64 `json:"confidence"`
}

type Result struct {
	Passed   bool           `json:"passed"`
	Gate     string         `json:"gate,omitempty"`
	Reason   string         `json:"reason,omitempty"`
	Behavior string         `json:"behavior,omitempty"`
	Checks   []Check        `json:"checks"`
	Order    *ProposedOrder `json:"-"`
}

// Reject marks the result failed at gate with reason.
func (r *Result) Reject(gate, reason string) {
	r.Passed = false
	r.Gate = gate
	r.Reason = reason
	r.Checks = append(r.Checks, Check{Name: gate, Status: "fail", Msg: reason})
}

type Input struct {
	Intent     reasoning.Intent
	Market     string
	Price      float64
	Indicators *indicators.Snapshot
	Orderbook  *marketdata.OrderbookTop
	Filters    filters.Config
	Account    models.Account
	// Positions are already marked to market.
	Positions []models.Position
	Prices    map[string]float64
	Now       time.Time
}

// Pipeline runs gates 1 through 7. Gate 8 (execution) belongs to the caller.
type Pipeline struct {
	Config config.RiskConfig
	Repo   repository.Repository
	Logger *zap.Logger
}

type evaluation struct {
	in       Input
	res      *Result
	side     string
	floor    float64
	position *models.Position
}

type gate struct {
	name string
	run  func(ctx context.Context, e *evaluation) (string, error)
}

// Evaluate returns the first failing gate's reason, or a passed result with
// a sized order. Errors are storage failures, never rejections.
func (p *Pipeline) Evaluate(ctx context.Context, in Input) (Result, error) {
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}
	res := Result{}
	e := &evaluation{in: in, res: &res, floor: p.minConfidence(in.Filters)}
	switch in.Intent.Bias {
	case reasoning.BiasLong:
		e.side = models.SideLong
	case reasoning.BiasShort:
		e.side = models.SideShort
	}
	if e.side != "" {
		res.Order = &ProposedOrder{Market: in.Market, Side: e.side, Confidence: in.Intent.Confidence}
	}
	for i := range in.Positions {
		if in.Positions[i].Market == in.Market {
			e.position = &in.Positions[i]
			break
		}
	}

	gates := []gate{
		{GateConfidence, p.confidence},
		{GateDirection, p.direction},
		{GateBehavior, p.behavior},
		{GateTradeControl, p.tradeControl},
		{GateRiskLimits, p.riskLimits},
		{GateConfirmation, p.confirmation},
		{GateTiming, p.timing},
	}
	for _, g := range gates {
		reason, err := g.run(ctx, e)
		if err != nil {
			return res, fmt.Errorf("risk: %s: %w", g.name, err)
		}
		if reason != "" {
			res.Reject(g.name, reason)
			p.logger().Debug("risk: reject",
				zap.String("gate", g.name),
				zap.String("market", in.Market),
				zap.String("bias", in.Intent.Bias),
				zap.Float64("confidence", in.Intent.Confidence),
				zap.String("reason", reason),
			)
			return res, nil
		}
		res.Checks = append(res.Checks, Check{Name: g.name, Status: "pass"})
	}
	res.Passed = true
	return res, nil
}

func (p *Pipeline) logger() *zap.Logger {
	if p == nil || p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

func (p *Pipeline) minConfidence(f filters.Config) float64 {
	if f.Entry.MinConfidence > 0 {
		return f.Entry.MinConfidence
	}
	if p != nil && p.Config.DefaultMinConfidence > 0 {
		return p.Config.DefaultMinConfidence
	}
	return filters.DefaultMinConfidence
}

// gate 1
func (p *Pipeline) confidence(_ context.Context, e *evaluation) (string, error) {
	if e.in.Intent.Confidence < e.floor {
		return fmt.Sprintf("Confidence %s%% below minimum %s%%", pct(e.in.Intent.Confidence), pct(e.floor)), nil
	}
	return "", nil
}

// gate 2
func (p *Pipeline) direction(_ context.Context, e *evaluation) (string, error) {
	g := e.in.Filters.Guardrails
	switch e.in.Intent.Bias {
	case reasoning.BiasLong:
		if !g.AllowLong {
			return "Long entries disabled", nil
		}
	case reasoning.BiasShort:
		if !g.AllowShort {
			return "Short entries disabled", nil
		}
	case reasoning.BiasNeutral:
		return "Neutral intent, no entry", nil
	case reasoning.BiasHold:
		return "Hold intent, no entry", nil
	case reasoning.BiasClose:
		return "Close intent, no entry", nil
	default:
		return fmt.Sprintf("Unknown bias %q", e.in.Intent.Bias), nil
	}
	return "", nil
}

// gate 3
func (p *Pipeline) behavior(_ context.Context, e *evaluation) (string, error) {
	behaviors := e.in.Filters.Entry.Behaviors
	if !behaviors.Any() {
		return "All entry behaviors disabled", nil
	}
	name := Classify(e.in.Indicators, e.in.Intent.Reasoning)
	e.res.Behavior = name
	if name != "" && !behaviors.Enabled(name) {
		return fmt.Sprintf("%s entries disabled", BehaviorLabel(name)), nil
	}
	return "", nil
}

// gate 4
func (p *Pipeline) tradeControl(ctx context.Context, e *evaluation) (string, error) {
	tc := e.in.Filters.TradeControl
	if p == nil || p.Repo == nil {
		return "", nil
	}
	acct := e.in.Account.ID
	market := e.in.Market
	now := e.in.Now

	var (
		hourCount, dayCount int64
		last, lastOpen      *models.Trade
	)
	g, gctx := errgroup.WithContext(ctx)
	if tc.MaxTradesPerHour > 0 {
		g.Go(func() error {
			since := now.Add(-time.Hour)
			n, err := p.Repo.CountTrades(gctx, repository.ListTradesParams{AccountID: acct, Since: &since})
			hourCount = n
			return err
		})
	}
	if tc.MaxTradesPerDay > 0 {
		g.Go(func() error {
			since := now.Add(-24 * time.Hour)
			n, err := p.Repo.CountTrades(gctx, repository.ListTradesParams{AccountID: acct, Since: &since})
			dayCount = n
			return err
		})
	}
	g.Go(func() error {
		t, err := p.Repo.LastTrade(gctx, acct, market)
		last = t
		return err
	})
	if tc.MinHoldMinutes > 0 && e.position != nil {
		g.Go(func() error {
			t, err := p.Repo.LastOpenTrade(gctx, acct, market)
			lastOpen = t
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	if tc.MaxTradesPerHour > 0 && hourCount >= int64(tc.MaxTradesPerHour) {
		return fmt.Sprintf("Hourly trade limit reached (%d/%d)", hourCount, tc.MaxTradesPerHour), nil
	}
	if tc.MaxTradesPerDay > 0 && dayCount >= int64(tc.MaxTradesPerDay) {
		return fmt.Sprintf("Daily trade limit reached (%d/%d)", dayCount, tc.MaxTradesPerDay), nil
	}
	cooldown := minutes(tc.CooldownMinutes)
	if cooldown > 0 && last != nil {
		if elapsed := now.Sub(last.ExecutedAt); elapsed < cooldown {
			remaining := int(math.Ceil((cooldown - elapsed).Minutes()))
			return fmt.Sprintf("Cooldown active for %s (%dm remaining)", market, remaining), nil
		}
	}
	if tc.MinHoldMinutes > 0 && e.position != nil {
		opened := e.position.OpenedAt
		if opened.IsZero() && lastOpen != nil {
			opened = lastOpen.ExecutedAt
		}
		if !opened.IsZero() {
			age := now.Sub(opened).Minutes()
			if age < tc.MinHoldMinutes {
				return fmt.Sprintf("Minimum hold time not met (%sm < %sm)", num(math.Floor(age)), num(tc.MinHoldMinutes)), nil
			}
		}
	}
	if !tc.AllowReentrySameDirection && e.position == nil && last != nil &&
		last.Action == models.ActionClose && last.Side == e.side {
		window := ReentryWindow
		if cooldown > window {
			window = cooldown
		}
		if now.Sub(last.ExecutedAt) < window {
			return fmt.Sprintf("Re-entry %s after same-direction exit not allowed", e.side), nil
		}
	}
	return "", nil
}

// gate 5
func (p *Pipeline) riskLimits(ctx context.Context, e *evaluation) (string, error) {
	limits := e.in.Filters.Risk
	equity := e.in.Account.Equity.InexactFloat64()

	if limits.MaxDailyLossPct > 0 {
		ref := e.in.Account.StartingEquity.InexactFloat64()
		if limits.DailyLossAnchor == filters.AnchorDay {
			var err error
			if ref, err = p.dailyReference(ctx, e.in.Account, e.in.Now); err != nil {
				return "", err
			}
		}
		if ref > 0 {
			drawdown := (ref - equity) / ref * 100
			if drawdown >= limits.MaxDailyLossPct {
				return fmt.Sprintf("Daily loss %s%% exceeds limit %s%%", num(round2(drawdown)), num(limits.MaxDailyLossPct)), nil
			}
		}
	}
	if equity <= 0 {
		return "Account equity depleted", nil
	}

	maxPos := limits.MaxPositionUSD
	if maxPos <= 0 {
		maxPos = filters.DefaultMaxPositionUSD
	}
	maxLev := limits.MaxLeverage
	if maxLev <= 0 {
		maxLev = filters.DefaultMaxLeverage
	}
	frac := DefaultEquityFraction
	if p != nil && p.Config.EquityFraction > 0 {
		frac = p.Config.EquityFraction
	}
	notional := SizeNotional(equity, maxPos, frac, limits.ConfidenceScaling, e.in.Intent.Confidence, e.floor)

	leverage := 1.0
	if l := e.in.Intent.Leverage; l != nil && *l > 1 {
		leverage = math.Min(*l, maxLev)
	}
	if e.res.Order != nil {
		e.res.Order.NotionalUSD = notional
		e.res.Order.Leverage = leverage
	}

	after := exposureAfter(e.in.Positions, e.in.Prices, e.in.Market, e.side, notional)
	if lev := after / equity; lev > maxLev+1e-9 {
		return fmt.Sprintf("Leverage %.2fx would exceed max %.2fx", lev, maxLev), nil
	}
	return "", nil
}

// dailyReference is the first equity point of the UTC day, else starting equity.
func (p *Pipeline) dailyReference(ctx context.Context, acct models.Account, now time.Time) (float64, error) {
	ref := acct.StartingEquity.InexactFloat64()
	if p == nil || p.Repo == nil {
		return ref, nil
	}
	u := now.UTC()
	midnight := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	pt, err := p.Repo.FirstEquityPointSince(ctx, acct.ID, midnight)
	if err != nil {
		return 0, err
	}
	if pt != nil && pt.Equity.IsPositive() {
		ref = pt.Equity.InexactFloat64()
	}
	return ref, nil
}

// SizeNotional is min(maxPos, equity*frac), scaled toward maxPos by how far
// confidence exceeds floor when scaling is on.
func SizeNotional(equity, maxPos, frac float64, scaling bool, confidence, floor float64) float64 {
	base := math.Min(maxPos, equity*frac)
	if scaling && floor < 1 && confidence > floor && maxPos > base {
		base += (maxPos - base) * (confidence - floor) / (1 - floor)
	}
	return round2(math.Max(base, 0))
}

func exposureAfter(positions []models.Position, prices map[string]float64, market, side string, notional float64) float64 {
	total := 0.0
	touched := false
	for _, pos := range positions {
		price := prices[pos.Market]
		if price <= 0 {
			price = pos.AvgEntryPrice.InexactFloat64()
		}
		n := math.Abs(pos.Size.InexactFloat64() * price)
		if pos.Market != market {
			total += n
			continue
		}
		touched = true
		signed := n
		if pos.Side == models.SideShort {
			signed = -n
		}
		if side == models.SideShort {
			signed -= notional
		} else {
			signed += notional
		}
		total += math.Abs(signed)
	}
	if !touched {
		total += notional
	}
	return total
}

// gate 6
func (p *Pipeline) confirmation(_ context.Context, e *evaluation) (string, error) {
	entry := e.in.Filters.Entry
	if n := entry.ConfirmationSignals; n > 1 {
		required := RequiredConfidence(e.floor, n)
		if e.in.Intent.Confidence < required {
			return fmt.Sprintf("Confidence %s%% below %d-signal confirmation requirement %s%%",
				pct(e.in.Intent.Confidence), n, pct(required)), nil
		}
	}
	if entry.VolatilityMaxPct > 0 {
		if v, ok := Volatility(e.in.Indicators); ok && v > entry.VolatilityMaxPct {
			return fmt.Sprintf("Volatility %s%% exceeds max %s%%", num(round2(v)), num(entry.VolatilityMaxPct)), nil
		}
	}
	return "", nil
}

// RequiredConfidence raises the floor by one step per extra confirming signal.
func RequiredConfidence(floor float64, signals int) float64 {
	if signals <= 1 {
		return floor
	}
	req := floor + ConfirmationStep*float64(signals-1)
	return math.Round(math.Min(ConfirmationCap, req)*1e4) / 1e4
}

// Volatility prefers ATR%, then returns stdev%, then absolute price change.
func Volatility(s *indicators.Snapshot) (float64, bool) {
	if s == nil {
		return 0, false
	}
	switch {
	case s.ATRPct != nil:
		return *s.ATRPct, true
	case s.StdevPct != nil:
		return *s.StdevPct, true
	case s.PriceChangePct != nil:
		return math.Abs(*s.PriceChangePct), true
	}
	return 0, false
}

// gate 7
func (p *Pipeline) timing(_ context.Context, e *evaluation) (string, error) {
	entry := e.in.Filters.Entry
	if into, tf, ok := outsideWindow(entry.Timing, e.in.Now); !ok {
		return fmt.Sprintf("Outside entry window (%ds into %dm candle)", into, tf), nil
	}
	if entry.MaxSlippagePct > 0 {
		est := p.estimatedSlippagePct(e.in.Orderbook)
		if est > entry.MaxSlippagePct {
			return fmt.Sprintf("Estimated slippage %s%% exceeds max %s%%", num(round4(est)), num(entry.MaxSlippagePct)), nil
		}
	}
	return "", nil
}

// outsideWindow reports ok=false when now is outside the configured window.
func outsideWindow(t filters.EntryTiming, now time.Time) (int64, int, bool) {
	if t.Mode == "" || t.Mode == filters.TimingImmediate || t.TimeframeMinutes <= 0 {
		return 0, 0, true
	}
	tf := int64(t.TimeframeMinutes) * 60
	tol := int64(t.ToleranceSeconds)
	if tol <= 0 {
		tol = filters.DefaultToleranceSeconds
	}
	into := now.Unix() % tf
	nearOpen := into <= tol
	nearClose := tf-into <= tol
	ok := false
	switch t.Mode {
	case filters.TimingOpen:
		ok = nearOpen
	case filters.TimingClose:
		ok = nearClose
	case filters.TimingBoundary:
		ok = nearOpen || nearClose
	default:
		ok = true
	}
	return into, t.TimeframeMinutes, ok
}

func (p *Pipeline) estimatedSlippagePct(book *marketdata.OrderbookTop) float64 {
	est := DefaultEstimatedSlippagePct
	if p == nil {
		return est
	}
	if p.Config.EstimatedSlippagePct > 0 {
		est = p.Config.EstimatedSlippagePct
	}
	if p.Config.UseOrderbookSlippage && book != nil {
		if spread := book.SpreadPct(); spread > 0 {
			est = spread / 2
		}
	}
	return est
}

func minutes(v float64) time.Duration {
	return time.Duration(v * float64(time.Minute))
}

func pct(v float64) string {
	return num(math.Round(v*1000) / 10)
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round4(v float64) float64 { return math.Round(v*1e4) / 1e4 }
