package engine

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradeloop/internal/models"
	"tradeloop/internal/repository"
)

// EquitySource reports the venue equity used to seed a live account.
type EquitySource interface {
	StartingEquity(ctx context.Context, sess models.Session) (decimal.Decimal, error)
}

// EnsureAccount returns the (user, mode, venue) account, creating it funded
// with starting equity when absent.
func EnsureAccount(ctx context.Context, repo repository.Repository, userID, mode, venue string, starting decimal.Decimal) (*models.Account, error) {
	acct, err := repo.FindAccount(ctx, userID, mode, venue)
	if err != nil || acct != nil {
		return acct, err
	}
	acct = &models.Account{
		UserID:         userID,
		Mode:           mode,
		Venue:          venue,
		StartingEquity: starting,
		CashBalance:    starting,
		Equity:         starting,
	}
	if err := repo.CreateAccount(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// findAccount loads the session's account without creating or linking one.
func (o *Orchestrator) findAccount(ctx context.Context, sess models.Session) (*models.Account, error) {
	if sess.AccountID != 0 {
		acct, err := o.Repo.GetAccount(ctx, sess.AccountID)
		if err != nil || acct != nil {
			return acct, err
		}
	}
	return o.Repo.FindAccount(ctx, sess.UserID, sess.Mode, sess.AccountVenue())
}

// resolveAccount returns found, or creates the account when it is nil, and
// links it to the session. Live accounts are seeded from venue equity on
// first use; simulated ones are normally created at start.
func (o *Orchestrator) resolveAccount(ctx context.Context, sess models.Session, found *models.Account) (*models.Account, error) {
	acct := found
	if acct == nil {
		starting := decimal.NewFromFloat(o.Config.StartingEquity)
		if sess.Mode == models.ModeLive {
			starting = decimal.Zero
			if o.Equity != nil {
				v, err := o.Equity.StartingEquity(ctx, sess)
				if err != nil {
					o.logger().Warn("engine: live starting equity unavailable",
						zap.Uint64("session_id", sess.ID), zap.Error(err))
				} else {
					starting = v
				}
			}
		}
		var err error
		acct, err = EnsureAccount(ctx, o.Repo, sess.UserID, sess.Mode, sess.AccountVenue(), starting)
		if err != nil {
			return nil, err
		}
	}
	if acct.ID != sess.AccountID {
		if err := o.Repo.SetSessionAccount(ctx, sess.ID, acct.ID); err != nil {
			return nil, err
		}
	}
	return acct, nil
}
