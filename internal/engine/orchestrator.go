// Package engine runs one tick of a trading session: market selection,
// mark-to-market, exits, reasoning, risk gates, execution and equity.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"tradeloop/internal/accounting"
	"tradeloop/internal/broker"
	"tradeloop/internal/config"
	"tradeloop/internal/exit"
	"tradeloop/internal/filters"
	"tradeloop/internal/lease"
	"tradeloop/internal/marketdata"
	"tradeloop/internal/metrics"
	"tradeloop/internal/models"
	"tradeloop/internal/reasoning"
	"tradeloop/internal/repository"
	"tradeloop/internal/risk"
	"tradeloop/internal/tracing"
)

var (
	ErrSessionNotFound   = errors.New("engine: session not found")
	ErrSessionNotRunning = errors.New("engine: session not running")
	ErrStrategyNotFound  = errors.New("engine: strategy not found")
	ErrNoMarkets         = errors.New("engine: session has no markets")
	ErrNoPrices          = errors.New("engine: no market prices")
	ErrTickInProgress    = errors.New("engine: tick already in progress")
)

// Reasoner is the reasoning-model collaborator.
type Reasoner interface {
	Decide(ctx context.Context, req reasoning.Request) (reasoning.Response, error)
}

type Orchestrator struct {
	Repo     repository.Repository
	Market   marketdata.Provider
	Reasoner Reasoner
	Risk     *risk.Pipeline
	Broker   broker.Broker
	// Locker serializes ticks per session when set.
	Locker   lease.Locker
	Equity   EquitySource
	Config   config.EngineConfig
	Defaults filters.Defaults
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	Now      func() time.Time
}

// ExitReport describes one exit attempted during a tick.
type ExitReport struct {
	Market     string `json:"market"`
	Side       string `json:"side"`
	Rule       string `json:"rule"`
	Reason     string `json:"reason"`
	Status     string `json:"status"`
	DecisionID uint64 `json:"decision_id"`
}

type Report struct {
	TickID      string                     `json:"tick_id"`
	SessionID   uint64                     `json:"session_id"`
	AccountID   uint64                     `json:"account_id"`
	Market      string                     `json:"market"`
	MarketIndex int                        `json:"market_index"`
	Prices      map[string]float64         `json:"prices"`
	Exits       []ExitReport               `json:"exits,omitempty"`
	DecisionID  uint64                     `json:"decision_id"`
	Summary     string                     `json:"summary"`
	Executed    bool                       `json:"executed"`
	Equity      decimal.Decimal            `json:"equity"`
	Reconcile   *accounting.Reconciliation `json:"reconcile,omitempty"`
	DurationMS  int64                      `json:"duration_ms"`
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

func (o *Orchestrator) logger() *zap.Logger {
	if o == nil || o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// tick carries the per-invocation state shared by the steps.
type tick struct {
	id        string
	now       time.Time
	session   models.Session
	strategy  models.Strategy
	filters   filters.Config
	account   models.Account
	positions []models.Position
	prices    map[string]float64
	report    *Report
}

// Tick processes one tick of a session. Fatal errors leave no state behind
// except the session's last-tick timestamp.
func (o *Orchestrator) Tick(ctx context.Context, sessionID uint64) (*Report, error) {
	started := o.now()
	ctx, span := tracing.Tracer().Start(ctx, "engine.Tick")
	span.SetAttributes(attribute.Int64("session_id", int64(sessionID)))
	defer span.End()

	report, err := o.tick(ctx, sessionID, started)
	outcome := "ok"
	switch {
	case errors.Is(err, ErrTickInProgress), errors.Is(err, ErrSessionNotRunning):
		outcome = "skipped"
	case err != nil:
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger().Error("engine: tick failed", zap.Uint64("session_id", sessionID), zap.Error(err))
	}
	elapsed := o.now().Sub(started)
	o.Metrics.ObserveTick(outcome, elapsed)
	if report != nil {
		report.DurationMS = elapsed.Milliseconds()
		span.SetAttributes(attribute.String("tick_id", report.TickID), attribute.String("market", report.Market))
	}
	return report, err
}

func (o *Orchestrator) tick(ctx context.Context, sessionID uint64, now time.Time) (*Report, error) {
	sess, err := o.Repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return nil, fmt.Errorf("%w: %d", ErrSessionNotFound, sessionID)
	}
	if sess.Status != models.SessionRunning {
		return nil, fmt.Errorf("%w: %d is %s", ErrSessionNotRunning, sessionID, sess.Status)
	}

	budget := Deadline(sess.Cadence(), o.Config.TickTimeoutFloor)
	if o.Locker != nil {
		l, err := o.Locker.Acquire(ctx, "session:"+strconv.FormatUint(sess.ID, 10), budget)
		if errors.Is(err, lease.ErrHeld) {
			return nil, fmt.Errorf("%w: session %d", ErrTickInProgress, sess.ID)
		}
		if err != nil {
			return nil, fmt.Errorf("lease: %w", err)
		}
		defer func() {
			if err := l.Release(context.WithoutCancel(ctx)); err != nil {
				o.logger().Warn("engine: lease release failed", zap.Uint64("session_id", sess.ID), zap.Error(err))
			}
		}()
	}

	// Written before any external call so a crash cannot replay this window.
	if err := o.Repo.TouchSessionTick(ctx, sess.ID, now); err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	t := &tick{
		id:      ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		now:     now,
		session: *sess,
	}
	t.report = &Report{TickID: t.id, SessionID: sess.ID}

	strategy, err := o.Repo.GetStrategy(ctx, sess.StrategyID)
	if err != nil {
		return t.report, fmt.Errorf("load strategy: %w", err)
	}
	if strategy == nil {
		return t.report, fmt.Errorf("%w: %d", ErrStrategyNotFound, sess.StrategyID)
	}
	t.strategy = *strategy
	if t.filters, err = filters.Normalize(strategy.Filters, o.Defaults); err != nil {
		return t.report, fmt.Errorf("strategy %d filters: %w", strategy.ID, err)
	}

	markets := sess.MarketList()
	if len(markets) == 0 {
		return t.report, fmt.Errorf("%w: %d", ErrNoMarkets, sess.ID)
	}
	idx := SelectMarket(anchor(*sess), now, sess.Cadence(), len(markets))
	market := markets[idx]
	t.report.Market, t.report.MarketIndex = market, idx

	found, err := o.findAccount(ctx, *sess)
	if err != nil {
		return t.report, fmt.Errorf("find account: %w", err)
	}
	if found != nil {
		t.account = *found
		if err := o.loadPositions(ctx, t); err != nil {
			return t.report, err
		}
	}
	if err := o.fetchPrices(ctx, t, market); err != nil {
		return t.report, err
	}
	// Creating or linking the account waits until prices are known.
	acct, err := o.resolveAccount(ctx, *sess, found)
	if err != nil {
		return t.report, fmt.Errorf("resolve account: %w", err)
	}
	t.account = *acct
	t.report.AccountID = acct.ID
	if err := o.markToMarket(ctx, t); err != nil {
		return t.report, err
	}

	log := o.logger().With(zap.String("tick_id", t.id), zap.Uint64("session_id", sess.ID), zap.String("market", market))
	log.Debug("engine: tick start", zap.Int("market_index", idx), zap.Int("positions", len(t.positions)))

	if err := o.runExits(ctx, t); err != nil {
		return t.report, err
	}
	if err := o.evaluateEntry(ctx, t, market); err != nil {
		return t.report, err
	}
	if err := o.settle(ctx, t); err != nil {
		return t.report, err
	}
	log.Info("engine: tick done",
		zap.String("summary", t.report.Summary),
		zap.Bool("executed", t.report.Executed),
		zap.Int("exits", len(t.report.Exits)),
		zap.String("equity", t.report.Equity.StringFixed(2)),
	)
	return t.report, nil
}

func (o *Orchestrator) loadPositions(ctx context.Context, t *tick) error {
	positions, err := o.Repo.ListPositions(ctx, t.account.ID)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	t.positions = positions
	return nil
}

// fetchPrices loads mids for the selected market and every held market.
// Losing all of them aborts the tick; losing some keeps the stale marks.
func (o *Orchestrator) fetchPrices(ctx context.Context, t *tick, market string) error {
	want := []string{market}
	seen := map[string]bool{market: true}
	for _, p := range t.positions {
		if !seen[p.Market] {
			seen[p.Market] = true
			want = append(want, p.Market)
		}
	}
	sort.Strings(want[1:])

	ctx, span := tracing.Tracer().Start(ctx, "marketdata.GetMidPrices")
	prices, err := o.Market.GetMidPrices(ctx, want)
	span.End()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoPrices, err)
	}
	valid := map[string]float64{}
	for m, px := range prices {
		if px > 0 {
			valid[m] = px
		}
	}
	if len(valid) == 0 {
		return fmt.Errorf("%w for %v", ErrNoPrices, want)
	}
	if len(valid) < len(want) {
		o.logger().Warn("engine: partial prices", zap.String("tick_id", t.id), zap.Strings("wanted", want), zap.Int("got", len(valid)))
	}
	t.prices = valid
	t.report.Prices = valid
	return nil
}

// markToMarket refreshes unrealized PnL and peak prices and rewrites equity.
func (o *Orchestrator) markToMarket(ctx context.Context, t *tick) error {
	if len(t.positions) == 0 {
		return nil
	}
	decPrices := make(map[string]decimal.Decimal, len(t.prices))
	for m, px := range t.prices {
		decPrices[m] = decimal.NewFromFloat(px)
	}
	accounting.MarkPositions(t.positions, decPrices)
	for i := range t.positions {
		p := &t.positions[i]
		px, ok := t.prices[p.Market]
		if !ok {
			continue
		}
		seed := p.AvgEntryPrice.InexactFloat64()
		if p.PeakPrice != nil {
			seed = p.PeakPrice.InexactFloat64()
		}
		peak := decimal.NewFromFloat(exit.TrackPeak(p.Side, seed, px))
		p.PeakPrice = &peak
	}
	return o.Repo.InTx(ctx, func(tx repository.Repository) error {
		acct, err := tx.LockAccount(ctx, t.account.ID)
		if err != nil {
			return err
		}
		if acct == nil {
			return fmt.Errorf("account %d vanished", t.account.ID)
		}
		for i := range t.positions {
			if err := tx.SavePosition(ctx, &t.positions[i]); err != nil {
				return err
			}
		}
		equity := accounting.Equity(acct.CashBalance, t.positions)
		if err := tx.UpdateAccountBalances(ctx, acct.ID, acct.CashBalance, equity); err != nil {
			return err
		}
		acct.Equity = equity
		t.account = *acct
		return nil
	})
}

// settle recomputes equity from fresh ledger state, appends an equity point
// and reconciles. Reconciliation never fails the tick.
func (o *Orchestrator) settle(ctx context.Context, t *tick) error {
	var (
		acct      *models.Account
		positions []models.Position
	)
	err := o.Repo.InTx(ctx, func(tx repository.Repository) error {
		var err error
		acct, err = tx.LockAccount(ctx, t.account.ID)
		if err != nil {
			return err
		}
		if acct == nil {
			return fmt.Errorf("account %d vanished", t.account.ID)
		}
		positions, err = tx.ListPositions(ctx, acct.ID)
		if err != nil {
			return err
		}
		decPrices := make(map[string]decimal.Decimal, len(t.prices))
		for m, px := range t.prices {
			decPrices[m] = decimal.NewFromFloat(px)
		}
		if accounting.MarkPositions(positions, decPrices) > 0 {
			for i := range positions {
				if err := tx.SavePosition(ctx, &positions[i]); err != nil {
					return err
				}
			}
		}
		unrealized := accounting.SumUnrealized(positions)
		acct.Equity = acct.CashBalance.Add(unrealized)
		if err := tx.UpdateAccountBalances(ctx, acct.ID, acct.CashBalance, acct.Equity); err != nil {
			return err
		}
		return tx.InsertEquityPoint(ctx, &models.EquityPoint{
			AccountID:     acct.ID,
			SessionID:     t.session.ID,
			Equity:        acct.Equity,
			CashBalance:   acct.CashBalance,
			UnrealizedPnL: unrealized,
			RecordedAt:    t.now,
		})
	})
	if err != nil {
		return fmt.Errorf("settle equity: %w", err)
	}
	t.account = *acct
	t.positions = positions
	t.report.Equity = acct.Equity
	o.Metrics.SetEquity(acct.ID, acct.Equity.InexactFloat64())

	trades, err := AllTrades(ctx, o.Repo, acct.ID)
	if err != nil {
		o.logger().Warn("engine: reconcile skipped", zap.String("tick_id", t.id), zap.Error(err))
		return nil
	}
	tol := decimal.NewFromFloat(o.Config.ReconcileTol)
	rec := accounting.Reconcile(*acct, trades, positions, tol)
	t.report.Reconcile = &rec
	if !rec.OK {
		o.Metrics.IncMismatch()
		o.logger().Warn("engine: reconciliation mismatch",
			zap.String("tick_id", t.id),
			zap.Uint64("account_id", acct.ID),
			zap.Object("reconcile", rec),
		)
	}
	return nil
}

// AllTrades pages through an account's full trade history.
func AllTrades(ctx context.Context, repo repository.Repository, accountID uint64) ([]models.Trade, error) {
	const pageSize = 500
	asc := true
	var out []models.Trade
	for offset := 0; ; offset += pageSize {
		page, err := repo.ListTrades(ctx, repository.ListTradesParams{
			AccountID: accountID,
			Limit:     pageSize,
			Offset:    offset,
			Asc:       &asc,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < pageSize {
			return out, nil
		}
	}
}
