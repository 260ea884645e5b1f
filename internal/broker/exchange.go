package broker

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradeloop/internal/client/venue"
	"tradeloop/internal/config"
	"tradeloop/internal/models"
)

// LiveTradingSwitch is the system setting that gates every venue submission.
const LiveTradingSwitch = "trading.live_enabled"

type Venue interface {
	L2Book(ctx context.Context, coin string) (venue.Book, error)
	PlaceOrder(ctx context.Context, signer venue.Signer, req venue.OrderRequest) (*venue.OrderResult, error)
}

type AssetLookup interface {
	Lookup(ctx context.Context, coin string) (venue.Asset, error)
}

type SignerSource interface {
	Signer(ctx context.Context, accountID uint64) (venue.Signer, error)
}

type Switches interface {
	IsEnabled(ctx context.Context, key string, fallback bool) bool
}

// ExchangeBroker emulates a market order with an aggressive IOC limit order
// priced off top of book. It refuses every order outside live mode.
type ExchangeBroker struct {
	Venue       Venue
	Assets      AssetLookup
	Credentials SignerSource
	Switches    Switches
	Ledger      *Ledger
	Config      config.ExchangeConfig
	Logger      *zap.Logger
}

func (b *ExchangeBroker) PlaceOrder(ctx context.Context, o Order) Result {
	if o.Mode != models.ModeLive {
		return skipped(fmt.Sprintf("exchange broker refuses %q mode", o.Mode))
	}
	if o.NotionalUSD <= 0 {
		return skipped("non-positive notional")
	}
	if b.Switches == nil || !b.Switches.IsEnabled(ctx, LiveTradingSwitch, false) {
		return skipped("live trading disabled")
	}
	if b.Venue == nil || b.Assets == nil || b.Credentials == nil {
		return failed(FailureValidation, fmt.Errorf("exchange broker not configured"))
	}

	signer, err := b.Credentials.Signer(ctx, o.AccountID)
	if err != nil {
		return failed(FailureValidation, fmt.Errorf("credentials: %w", err))
	}
	asset, err := b.Assets.Lookup(ctx, o.Market)
	if err != nil {
		return failed(classify(err), fmt.Errorf("asset: %w", err))
	}
	book, err := b.Venue.L2Book(ctx, o.Market)
	if err != nil {
		return failed(classify(err), fmt.Errorf("book: %w", err))
	}
	bid, ask := book.Top()
	touch := bid
	if o.IsBuy() {
		touch = ask
	}
	if touch <= 0 {
		return failed(FailureVenue, fmt.Errorf("empty book for %s", o.Market))
	}

	sigFigs := b.Config.PriceSigFigs
	if sigFigs <= 0 {
		sigFigs = 5
	}
	limit := SlippedPrice(decimal.NewFromFloat(touch), o.SlippageBps, o.IsBuy())
	limitPx := venue.RoundSigFigs(limit.InexactFloat64(), sigFigs)

	size, err := b.orderSize(ctx, o, limit)
	if err != nil {
		return failed(FailureLedger, err)
	}
	size = venue.FloorSize(size, asset.SzDecimals)
	if !size.IsPositive() {
		return skipped("size rounds to zero")
	}

	cloid := uuid.New()
	req := venue.OrderRequest{
		Asset:      asset.Index,
		IsBuy:      o.IsBuy(),
		LimitPx:    venue.FormatPrice(limitPx),
		Size:       size.String(),
		ReduceOnly: o.Close,
		TIF:        venue.TIFIoc,
		Cloid:      "0x" + hex.EncodeToString(cloid[:]),
	}
	res, err := b.Venue.PlaceOrder(ctx, signer, req)
	if err != nil {
		out := failed(classify(err), err)
		var apiErr *venue.APIError
		if errors.As(err, &apiErr) {
			out.VenueResponse = []byte(fmt.Sprintf("%q", apiErr.Body))
		}
		b.warn("exchange broker: submit failed", o, err)
		return out
	}

	out := Result{VenueOrderID: res.OrderID, VenueResponse: res.Raw}
	if res.Status != venue.OrderFilled || res.TotalSz <= 0 {
		out.Status = StatusFailed
		out.Failure = FailureVenue
		out.Error = res.Error
		if out.Error == "" {
			out.Error = "order not filled: " + res.Status
		}
		return out
	}

	fillPrice := decimal.NewFromFloat(res.AvgPx)
	fillSize := decimal.NewFromFloat(res.TotalSz)
	fee := fillSize.Mul(fillPrice).Mul(decimal.NewFromInt(int64(o.FeeBps))).Div(bps)
	out.Status = StatusFilled
	out.FillPrice = fillPrice
	out.FillSize = fillSize
	out.Fee = fee

	if b.Ledger == nil {
		return out
	}
	oid := res.OrderID
	applied, err := b.Ledger.Apply(ctx, Fill{
		AccountID:    o.AccountID,
		SessionID:    o.SessionID,
		Market:       o.Market,
		Side:         o.Side,
		Size:         fillSize,
		Price:        fillPrice,
		Fee:          fee,
		Leverage:     o.Leverage,
		Close:        o.Close,
		Exact:        o.Close,
		VenueOrderID: &oid,
		Reason:       o.Reason,
	})
	if err != nil {
		b.warn("exchange broker: ledger mirror failed", o, err)
		out.Failure = FailureLedger
		out.Error = "ledger mirror: " + err.Error()
		return out
	}
	out.Action = applied.Action
	out.RealizedPnL = applied.RealizedPnL
	return out
}

func (b *ExchangeBroker) orderSize(ctx context.Context, o Order, limit decimal.Decimal) (decimal.Decimal, error) {
	if o.Close && b.Ledger != nil && b.Ledger.Repo != nil {
		pos, err := b.Ledger.Repo.GetPosition(ctx, o.AccountID, o.Market)
		if err != nil {
			return decimal.Zero, err
		}
		if pos != nil {
			return pos.Size, nil
		}
	}
	return decimal.NewFromFloat(o.NotionalUSD).DivRound(limit, 10), nil
}

func (b *ExchangeBroker) warn(msg string, o Order, err error) {
	if b.Logger == nil {
		return
	}
	b.Logger.Warn(msg,
		zap.Uint64("account_id", o.AccountID),
		zap.String("market", o.Market),
		zap.String("side", o.Side),
		zap.Error(err),
	)
}

func classify(err error) string {
	var apiErr *venue.APIError
	if errors.As(err, &apiErr) {
		return FailureVenue
	}
	return FailureNetwork
}
