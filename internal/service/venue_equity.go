package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"tradeloop/internal/client/venue"
	"tradeloop/internal/models"
)

// VenueEquity reads the starting equity of a live account from the venue.
type VenueEquity struct {
	Client      *venue.Client
	Credentials *CredentialStore
}

func (v *VenueEquity) StartingEquity(ctx context.Context, sess models.Session) (decimal.Decimal, error) {
	if v == nil || v.Client == nil || v.Credentials == nil {
		return decimal.Zero, fmt.Errorf("venue equity not configured")
	}
	addr, err := v.Credentials.Address(ctx, sess.AccountID)
	if err != nil {
		return decimal.Zero, err
	}
	value, err := v.Client.AccountValue(ctx, addr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("account value: %w", err)
	}
	return decimal.NewFromFloat(value), nil
}
