package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradeloop/internal/marketdata"
)

var bps = decimal.NewFromInt(10000)

// SimBroker fills at mid adjusted by slippage and books into the ledger.
type SimBroker struct {
	Market marketdata.Provider
	Ledger *Ledger
	Logger *zap.Logger
}

func (b *SimBroker) PlaceOrder(ctx context.Context, o Order) Result {
	if o.NotionalUSD <= 0 {
		return skipped("non-positive notional")
	}
	if b.Market == nil || b.Ledger == nil {
		return failed(FailureValidation, fmt.Errorf("simulated broker not configured"))
	}
	mids, err := b.Market.GetMidPrices(ctx, []string{o.Market})
	if err != nil {
		return failed(FailureNetwork, err)
	}
	mid := mids[o.Market]
	if mid <= 0 {
		return failed(FailureVenue, fmt.Errorf("no mid price for %s", o.Market))
	}

	price := SlippedPrice(decimal.NewFromFloat(mid), o.SlippageBps, o.IsBuy())
	notional := decimal.NewFromFloat(o.NotionalUSD)
	size := notional.DivRound(price, 10)
	if !size.IsPositive() {
		return skipped("size rounds to zero")
	}
	if !o.Close && size.LessThan(Epsilon) {
		return skipped(ErrDustSize.Error())
	}
	fee := size.Mul(price).Mul(decimal.NewFromInt(int64(o.FeeBps))).Div(bps)

	applied, err := b.Ledger.Apply(ctx, Fill{
		AccountID: o.AccountID,
		SessionID: o.SessionID,
		Market:    o.Market,
		Side:      o.Side,
		Size:      size,
		Price:     price,
		Fee:       fee,
		Leverage:  o.Leverage,
		Close:     o.Close,
		Reason:    o.Reason,
	})
	if errors.Is(err, ErrNothingToClose) || errors.Is(err, ErrDustSize) {
		return skipped(err.Error())
	}
	if err != nil {
		if b.Logger != nil {
			b.Logger.Warn("sim broker: ledger apply failed",
				zap.Uint64("account_id", o.AccountID),
				zap.String("market", o.Market),
				zap.Error(err),
			)
		}
		return failed(FailureLedger, err)
	}
	return filledFrom(applied)
}

// SlippedPrice moves mid against the taker by slippageBps.
func SlippedPrice(mid decimal.Decimal, slippageBps int, buy bool) decimal.Decimal {
	slip := decimal.NewFromInt(int64(slippageBps)).Div(bps)
	if buy {
		return mid.Mul(decimal.NewFromInt(1).Add(slip))
	}
	return mid.Mul(decimal.NewFromInt(1).Sub(slip))
}
