package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradeloop/internal/models"
	"tradeloop/internal/repository"
)

func TestInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	acct := &models.Account{UserID: "u1", Mode: models.ModeSimulated, CashBalance: decimal.NewFromInt(100)}
	if err := s.CreateAccount(ctx, acct); err != nil {
		t.Fatalf("create: %v", err)
	}

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx repository.Repository) error {
		if err := tx.UpdateAccountBalances(ctx, acct.ID, decimal.NewFromInt(1), decimal.NewFromInt(1)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v want=boom", err)
	}
	got, _ := s.GetAccount(ctx, acct.ID)
	if !got.CashBalance.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("cash=%s want=100 after rollback", got.CashBalance)
	}

	err = s.InTx(ctx, func(tx repository.Repository) error {
		return tx.UpdateAccountBalances(ctx, acct.ID, decimal.NewFromInt(7), decimal.NewFromInt(7))
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	got, _ = s.GetAccount(ctx, acct.ID)
	if !got.CashBalance.Equal(decimal.NewFromInt(7)) {
		t.Fatalf("cash=%s want=7 after commit", got.CashBalance)
	}
}

func TestTradeWindowsAndLastOpen(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, action := range []string{models.ActionOpen, models.ActionIncrease, models.ActionClose, models.ActionOpen} {
		_ = s.InsertTrade(ctx, &models.Trade{
			AccountID:  1,
			Market:     "BTC",
			Action:     action,
			Side:       models.SideLong,
			ExecutedAt: base.Add(time.Duration(i) * 20 * time.Minute),
		})
	}
	since := base.Add(30 * time.Minute)
	n, _ := s.CountTrades(ctx, repository.ListTradesParams{AccountID: 1, Since: &since})
	if n != 2 {
		t.Fatalf("count since=%d want=2", n)
	}
	last, _ := s.LastOpenTrade(ctx, 1, "BTC")
	if last == nil || !last.ExecutedAt.Equal(base.Add(60*time.Minute)) {
		t.Fatalf("last open=%v", last)
	}
	asc := true
	items, _ := s.ListTrades(ctx, repository.ListTradesParams{AccountID: 1, Asc: &asc, Limit: 2})
	if len(items) != 2 || items[0].Action != models.ActionOpen || items[1].Action != models.ActionIncrease {
		t.Fatalf("asc page=%+v", items)
	}
}
