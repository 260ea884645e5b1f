package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tradeloop/internal/accounting"
	"tradeloop/internal/models"
	"tradeloop/internal/repository"
)

// Epsilon is the size below which a position is treated as closed.
var Epsilon = decimal.New(1, -8)

var (
	ErrNothingToClose = errors.New("broker: no position to close")
	ErrDustSize       = errors.New("broker: fill size below minimum position size")
)

// ClosePolicy decides how much of an opposite-side order applies to an
// existing position. Orders within Tolerance of the full size close it
// exactly; larger orders are clamped. A position never flips in one fill.
type ClosePolicy struct {
	Tolerance decimal.Decimal
}

func DefaultClosePolicy() ClosePolicy {
	return ClosePolicy{Tolerance: decimal.NewFromFloat(0.05)}
}

// CloseSize returns the size to take off existing for an opposite order of
// requested size.
func (p ClosePolicy) CloseSize(existing, requested decimal.Decimal, force bool) decimal.Decimal {
	if force || requested.GreaterThanOrEqual(existing) {
		return existing
	}
	band := existing.Mul(decimal.NewFromInt(1).Sub(p.Tolerance))
	if requested.GreaterThanOrEqual(band) {
		return existing
	}
	return requested
}

// Fill is an executed order to be booked against an account.
type Fill struct {
	AccountID uint64
	SessionID uint64
	Market    string
	Side      string // order direction: long buys, short sells
	Size      decimal.Decimal
	Price     decimal.Decimal
	Fee       decimal.Decimal
	Leverage  float64
	Close     bool
	// Exact books Size as filled instead of applying the close band.
	Exact        bool
	VenueOrderID *string
	Reason       string
}

type Applied struct {
	Action      string
	Side        string
	Size        decimal.Decimal
	Price       decimal.Decimal
	Fee         decimal.Decimal
	RealizedPnL decimal.Decimal
	Trade       models.Trade
}

// Ledger books fills under the cash-settled margin model: opening or adding
// moves only the fee out of cash; reducing or closing moves realized PnL
// net of fee.
type Ledger struct {
	Repo   repository.Repository
	Policy ClosePolicy
	Now    func() time.Time
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

// Apply books f in one transaction and returns what was booked.
func (l *Ledger) Apply(ctx context.Context, f Fill) (Applied, error) {
	if l == nil || l.Repo == nil {
		return Applied{}, fmt.Errorf("broker: ledger not configured")
	}
	if !f.Size.IsPositive() || !f.Price.IsPositive() {
		return Applied{}, fmt.Errorf("broker: non-positive fill size or price")
	}
	policy := l.Policy
	if policy.Tolerance.IsZero() {
		policy = DefaultClosePolicy()
	}
	now := l.now()

	var out Applied
	err := l.Repo.InTx(ctx, func(tx repository.Repository) error {
		acct, err := tx.LockAccount(ctx, f.AccountID)
		if err != nil {
			return err
		}
		if acct == nil {
			return fmt.Errorf("broker: account %d not found", f.AccountID)
		}
		pos, err := tx.GetPosition(ctx, f.AccountID, f.Market)
		if err != nil {
			return err
		}

		cash := acct.CashBalance
		switch {
		case pos == nil || pos.Side == f.Side:
			if f.Close {
				return ErrNothingToClose
			}
			if f.Size.LessThan(Epsilon) {
				return ErrDustSize
			}
			out, err = l.add(ctx, tx, pos, f, now)
			if err != nil {
				return err
			}
			cash = cash.Sub(out.Fee)
		default:
			out, err = l.reduce(ctx, tx, *pos, f, policy)
			if err != nil {
				return err
			}
			cash = cash.Add(out.RealizedPnL).Sub(out.Fee)
		}

		trade := models.Trade{
			AccountID:    f.AccountID,
			SessionID:    f.SessionID,
			Market:       f.Market,
			Action:       out.Action,
			Side:         out.Side,
			Size:         out.Size,
			Price:        out.Price,
			Fee:          out.Fee,
			RealizedPnL:  out.RealizedPnL,
			VenueOrderID: f.VenueOrderID,
			Reason:       f.Reason,
			ExecutedAt:   now,
		}
		if err := tx.InsertTrade(ctx, &trade); err != nil {
			return err
		}
		out.Trade = trade

		positions, err := tx.ListPositions(ctx, f.AccountID)
		if err != nil {
			return err
		}
		equity := accounting.Equity(cash, positions)
		return tx.UpdateAccountBalances(ctx, f.AccountID, cash, equity)
	})
	if err != nil {
		return Applied{}, err
	}
	return out, nil
}

func (l *Ledger) add(ctx context.Context, tx repository.Repository, pos *models.Position, f Fill, now time.Time) (Applied, error) {
	out := Applied{Side: f.Side, Size: f.Size, Price: f.Price, Fee: f.Fee, RealizedPnL: decimal.Zero}
	var next models.Position
	if pos == nil {
		out.Action = models.ActionOpen
		next = models.Position{
			AccountID:     f.AccountID,
			Market:        f.Market,
			Side:          f.Side,
			Size:          f.Size,
			AvgEntryPrice: f.Price,
			OpenedAt:      now,
		}
		peak := f.Price
		next.PeakPrice = &peak
	} else {
		out.Action = models.ActionIncrease
		next = *pos
		total := pos.Size.Add(f.Size)
		next.AvgEntryPrice = pos.Size.Mul(pos.AvgEntryPrice).Add(f.Size.Mul(f.Price)).Div(total)
		next.Size = total
	}
	if f.Leverage > 0 {
		lev := decimal.NewFromFloat(f.Leverage)
		next.Leverage = &lev
	}
	next.UnrealizedPnL = next.MarkPnL(f.Price)
	if err := tx.SavePosition(ctx, &next); err != nil {
		return Applied{}, err
	}
	return out, nil
}

func (l *Ledger) reduce(ctx context.Context, tx repository.Repository, pos models.Position, f Fill, policy ClosePolicy) (Applied, error) {
	size := policy.CloseSize(pos.Size, f.Size, f.Close)
	if f.Exact {
		size = decimal.Min(f.Size, pos.Size)
	}
	fee := f.Fee
	if !size.Equal(f.Size) && f.Size.IsPositive() {
		fee = f.Fee.Mul(size).Div(f.Size)
	}
	diff := f.Price.Sub(pos.AvgEntryPrice)
	if pos.Side == models.SideShort {
		diff = diff.Neg()
	}
	out := Applied{
		Side:        pos.Side,
		Size:        size,
		Price:       f.Price,
		Fee:         fee,
		RealizedPnL: diff.Mul(size),
	}

	remaining := pos.Size.Sub(size)
	if remaining.LessThanOrEqual(Epsilon) {
		out.Action = models.ActionClose
		return out, tx.DeletePosition(ctx, pos.AccountID, pos.Market)
	}
	out.Action = models.ActionReduce
	pos.Size = remaining
	pos.UnrealizedPnL = pos.MarkPnL(f.Price)
	return out, tx.SavePosition(ctx, &pos)
}
