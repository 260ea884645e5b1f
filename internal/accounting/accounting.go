// Package accounting aggregates ledger state and checks the equity identity
//
//	equity = cash + Σ unrealized = starting + realized - fees + unrealized
//
// Everything here is pure; callers decide what to log or persist.
package accounting

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zapcore"

	"tradeloop/internal/models"
)

// DefaultTolerance is the absolute USD drift accepted before a mismatch is reported.
var DefaultTolerance = decimal.NewFromFloat(0.01)

type Totals struct {
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	Fees          decimal.Decimal `json:"fees"`
	NetPnL        decimal.Decimal `json:"net_pnl"`
	TradeCount    int             `json:"trade_count"`
	OpenPositions int             `json:"open_positions"`
}

func ComputeTotals(trades []models.Trade, positions []models.Position) Totals {
	out := Totals{TradeCount: len(trades), OpenPositions: len(positions)}
	for _, t := range trades {
		out.RealizedPnL = out.RealizedPnL.Add(t.RealizedPnL)
		out.Fees = out.Fees.Add(t.Fee)
	}
	out.UnrealizedPnL = SumUnrealized(positions)
	out.NetPnL = out.RealizedPnL.Sub(out.Fees).Add(out.UnrealizedPnL)
	return out
}

func SumUnrealized(positions []models.Position) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range positions {
		sum = sum.Add(p.UnrealizedPnL)
	}
	return sum
}

// Equity is the authoritative equity of an account: cash plus open PnL.
func Equity(cash decimal.Decimal, positions []models.Position) decimal.Decimal {
	return cash.Add(SumUnrealized(positions))
}

// MarkPositions recomputes unrealized PnL from prices. Positions without a
// price keep their previous mark. It returns how many were re-marked.
func MarkPositions(positions []models.Position, prices map[string]decimal.Decimal) int {
	n := 0
	for i := range positions {
		px, ok := prices[positions[i].Market]
		if !ok || !px.IsPositive() {
			continue
		}
		positions[i].UnrealizedPnL = positions[i].MarkPnL(px)
		n++
	}
	return n
}

type Reconciliation struct {
	StartingEquity decimal.Decimal `json:"starting_equity"`
	Cash           decimal.Decimal `json:"cash"`
	Expected       decimal.Decimal `json:"expected"`
	Actual         decimal.Decimal `json:"actual"`
	Diff           decimal.Decimal `json:"diff"`
	IdentityDiff   decimal.Decimal `json:"identity_diff"`
	Totals         Totals          `json:"totals"`
	OK             bool            `json:"ok"`
}

// Reconcile compares the account's equity against the value implied by its
// trade history and open positions, and against cash + open PnL.
func Reconcile(account models.Account, trades []models.Trade, positions []models.Position, tolerance decimal.Decimal) Reconciliation {
	if !tolerance.IsPositive() {
		tolerance = DefaultTolerance
	}
	totals := ComputeTotals(trades, positions)
	expected := account.StartingEquity.Add(totals.NetPnL)
	identity := account.Equity.Sub(Equity(account.CashBalance, positions))
	diff := account.Equity.Sub(expected)
	return Reconciliation{
		StartingEquity: account.StartingEquity,
		Cash:           account.CashBalance,
		Expected:       expected,
		Actual:         account.Equity,
		Diff:           diff,
		IdentityDiff:   identity,
		Totals:         totals,
		OK:             diff.Abs().LessThanOrEqual(tolerance) && identity.Abs().LessThanOrEqual(tolerance),
	}
}

func (r Reconciliation) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("starting_equity", r.StartingEquity.StringFixed(2))
	enc.AddString("cash", r.Cash.StringFixed(2))
	enc.AddString("realized", r.Totals.RealizedPnL.StringFixed(4))
	enc.AddString("unrealized", r.Totals.UnrealizedPnL.StringFixed(4))
	enc.AddString("fees", r.Totals.Fees.StringFixed(4))
	enc.AddString("expected", r.Expected.StringFixed(4))
	enc.AddString("actual", r.Actual.StringFixed(4))
	enc.AddString("diff", r.Diff.StringFixed(4))
	enc.AddString("identity_diff", r.IdentityDiff.StringFixed(4))
	enc.AddBool("ok", r.OK)
	return nil
}
