package broker

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeloop/internal/client/venue"
	"tradeloop/internal/config"
	"tradeloop/internal/marketdata/marketdatatest"
	"tradeloop/internal/models"
	"tradeloop/internal/repository/memory"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func setup(t *testing.T, mids map[string]float64) (*memory.Store, *marketdatatest.Static, *SimBroker, uint64) {
	t.Helper()
	store := memory.New()
	acct := &models.Account{
		UserID:         "u1",
		Mode:           models.ModeSimulated,
		StartingEquity: d("10000"),
		CashBalance:    d("10000"),
		Equity:         d("10000"),
	}
	require.NoError(t, store.CreateAccount(context.Background(), acct))
	md := marketdatatest.NewStatic(mids)
	sim := &SimBroker{Market: md, Ledger: &Ledger{Repo: store}}
	return store, md, sim, acct.ID
}

func order(acct uint64, side string, notional float64) Order {
	return Order{Mode: models.ModeSimulated, AccountID: acct, Market: "BTC", Side: side, NotionalUSD: notional}
}

func TestSimOpenThenIncreaseAveragesEntry(t *testing.T) {
	ctx := context.Background()
	store, md, sim, acct := setup(t, map[string]float64{"BTC": 100})

	res := sim.PlaceOrder(ctx, order(acct, models.SideLong, 1000))
	require.Equal(t, StatusFilled, res.Status, res.Error)
	assert.Equal(t, models.ActionOpen, res.Action)
	assert.True(t, res.FillSize.Equal(d("10")), res.FillSize.String())

	md.SetMid("BTC", 110)
	res = sim.PlaceOrder(ctx, order(acct, models.SideLong, 1100))
	require.Equal(t, StatusFilled, res.Status)
	assert.Equal(t, models.ActionIncrease, res.Action)

	pos, err := store.GetPosition(ctx, acct, "BTC")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.True(t, pos.Size.Equal(d("20")))
	assert.True(t, pos.AvgEntryPrice.Equal(d("105")), pos.AvgEntryPrice.String())

	a, _ := store.GetAccount(ctx, acct)
	assert.True(t, a.CashBalance.Equal(d("10000")), "opening must not move notional into cash")
	assert.InDelta(t, 10100, a.Equity.InexactFloat64(), 1e-6)
}

func TestSimFeeAndSlippage(t *testing.T) {
	ctx := context.Background()
	store, _, sim, acct := setup(t, map[string]float64{"BTC": 100})
	o := order(acct, models.SideLong, 1000)
	o.SlippageBps = 10
	o.FeeBps = 10

	res := sim.PlaceOrder(ctx, o)
	require.Equal(t, StatusFilled, res.Status)
	assert.True(t, res.FillPrice.Equal(d("100.1")), res.FillPrice.String())
	assert.InDelta(t, 1.0, res.Fee.InexactFloat64(), 1e-9)

	a, _ := store.GetAccount(ctx, acct)
	assert.InDelta(t, 9999, a.CashBalance.InexactFloat64(), 1e-9)

	o.Side = models.SideShort
	o.Close = true
	res = sim.PlaceOrder(ctx, o)
	require.Equal(t, StatusFilled, res.Status)
	assert.True(t, res.FillPrice.Equal(d("99.9")), res.FillPrice.String())
}

func TestSimCloseRealizesTakeProfit(t *testing.T) {
	ctx := context.Background()
	store, md, sim, acct := setup(t, map[string]float64{"BTC": 60000})
	res := sim.PlaceOrder(ctx, order(acct, models.SideLong, 60000))
	require.Equal(t, StatusFilled, res.Status)
	require.True(t, res.FillSize.Equal(d("1")))

	md.SetMid("BTC", 63000)
	closing := order(acct, models.SideShort, 60000)
	closing.Close = true
	res = sim.PlaceOrder(ctx, closing)
	require.Equal(t, StatusFilled, res.Status)
	assert.Equal(t, models.ActionClose, res.Action)
	assert.True(t, res.FillSize.Equal(d("1")), "close is exact-sized: %s", res.FillSize)
	assert.True(t, res.RealizedPnL.Equal(d("3000")), res.RealizedPnL.String())

	pos, _ := store.GetPosition(ctx, acct, "BTC")
	assert.Nil(t, pos)
	a, _ := store.GetAccount(ctx, acct)
	assert.True(t, a.CashBalance.Equal(d("13000")))
	assert.True(t, a.Equity.Equal(d("13000")))

	trades := store.Trades()
	require.Len(t, trades, 2)
	assert.Equal(t, models.SideLong, trades[1].Side)
}

func TestSimOppositeOrderNeverFlips(t *testing.T) {
	ctx := context.Background()
	store, _, sim, acct := setup(t, map[string]float64{"BTC": 100})
	require.Equal(t, StatusFilled, sim.PlaceOrder(ctx, order(acct, models.SideLong, 100)).Status)

	res := sim.PlaceOrder(ctx, order(acct, models.SideShort, 150))
	require.Equal(t, StatusFilled, res.Status)
	assert.Equal(t, models.ActionClose, res.Action)
	assert.True(t, res.FillSize.Equal(d("1")))

	positions, _ := store.ListPositions(ctx, acct)
	assert.Empty(t, positions)
}

func TestSimPartialReduce(t *testing.T) {
	ctx := context.Background()
	store, md, sim, acct := setup(t, map[string]float64{"BTC": 100})
	require.Equal(t, StatusFilled, sim.PlaceOrder(ctx, order(acct, models.SideLong, 200)).Status)

	md.SetMid("BTC", 110)
	res := sim.PlaceOrder(ctx, order(acct, models.SideShort, 110))
	require.Equal(t, StatusFilled, res.Status)
	assert.Equal(t, models.ActionReduce, res.Action)
	assert.InDelta(t, 10, res.RealizedPnL.InexactFloat64(), 1e-6)

	pos, _ := store.GetPosition(ctx, acct, "BTC")
	require.NotNil(t, pos)
	assert.InDelta(t, 1, pos.Size.InexactFloat64(), 1e-9)
	a, _ := store.GetAccount(ctx, acct)
	assert.InDelta(t, 10010, a.CashBalance.InexactFloat64(), 1e-6)
}

func TestSimNoOps(t *testing.T) {
	ctx := context.Background()
	_, md, sim, acct := setup(t, map[string]float64{"BTC": 100})

	assert.Equal(t, StatusSkipped, sim.PlaceOrder(ctx, order(acct, models.SideLong, 0)).Status)
	assert.Equal(t, StatusSkipped, sim.PlaceOrder(ctx, order(acct, models.SideLong, -5)).Status)

	closing := order(acct, models.SideShort, 100)
	closing.Close = true
	assert.Equal(t, StatusSkipped, sim.PlaceOrder(ctx, closing).Status)

	md.SetMid("BTC", 0)
	res := sim.PlaceOrder(ctx, order(acct, models.SideLong, 100))
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, FailureVenue, res.Failure)

	// $0.0001 at 60000 is below the minimum position size
	store, _, dust, dacct := setup(t, map[string]float64{"BTC": 60000})
	res = dust.PlaceOrder(ctx, order(dacct, models.SideLong, 0.0001))
	assert.Equal(t, StatusSkipped, res.Status)
	pos, err := store.GetPosition(ctx, dacct, "BTC")
	require.NoError(t, err)
	assert.Nil(t, pos)
	assert.Empty(t, store.Trades())

	_, err = dust.Ledger.Apply(ctx, Fill{AccountID: dacct, Market: "BTC", Side: models.SideLong, Size: d("0.000000005"), Price: d("60000")})
	assert.ErrorIs(t, err, ErrDustSize)
}

func TestClosePolicy(t *testing.T) {
	p := DefaultClosePolicy()
	assert.True(t, p.CloseSize(d("1"), d("0.96"), false).Equal(d("1")))
	assert.True(t, p.CloseSize(d("1"), d("0.5"), false).Equal(d("0.5")))
	assert.True(t, p.CloseSize(d("1"), d("1.3"), false).Equal(d("1")))
	assert.True(t, p.CloseSize(d("1"), d("0.1"), true).Equal(d("1")))
}

func TestRouter(t *testing.T) {
	ctx := context.Background()
	_, _, sim, acct := setup(t, map[string]float64{"BTC": 100})
	live := &fakeVenue{}
	r := &Router{Sim: sim, Live: &ExchangeBroker{Venue: live}}

	res := r.PlaceOrder(ctx, order(acct, models.SideLong, 100))
	assert.Equal(t, StatusFilled, res.Status)

	o := order(acct, models.SideLong, 100)
	o.Mode = "paper"
	res = r.PlaceOrder(ctx, o)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, FailureValidation, res.Failure)
}

type fakeVenue struct {
	book   venue.Book
	result *venue.OrderResult
	err    error
	got    []venue.OrderRequest
}

func (f *fakeVenue) L2Book(context.Context, string) (venue.Book, error) { return f.book, nil }

func (f *fakeVenue) PlaceOrder(_ context.Context, _ venue.Signer, req venue.OrderRequest) (*venue.OrderResult, error) {
	f.got = append(f.got, req)
	return f.result, f.err
}

type fakeAssets struct{}

func (fakeAssets) Lookup(context.Context, string) (venue.Asset, error) {
	return venue.Asset{Index: 0, Name: "BTC", SzDecimals: 5}, nil
}

type fakeSigner struct{}

func (fakeSigner) Address() string { return "0xabc" }
func (fakeSigner) SignAction(any, int64) (venue.Signature, error) {
	return venue.Signature{R: "0x1", S: "0x2", V: 27}, nil
}

type fakeCreds struct{}

func (fakeCreds) Signer(context.Context, uint64) (venue.Signer, error) { return fakeSigner{}, nil }

type fakeSwitches map[string]bool

func (f fakeSwitches) IsEnabled(_ context.Context, key string, fallback bool) bool {
	if v, ok := f[key]; ok {
		return v
	}
	return fallback
}

func liveSetup(t *testing.T, enabled bool) (*memory.Store, *fakeVenue, *ExchangeBroker, uint64) {
	store, _, _, acct := setup(t, nil)
	fv := &fakeVenue{
		book: venue.Book{
			Bids: []venue.Level{{Price: 62990, Size: 1}},
			Asks: []venue.Level{{Price: 63000, Size: 1}},
		},
		result: &venue.OrderResult{Status: venue.OrderFilled, OrderID: "777", AvgPx: 63005, TotalSz: 0.00999, Raw: []byte(`{"status":"ok"}`)},
	}
	b := &ExchangeBroker{
		Venue:       fv,
		Assets:      fakeAssets{},
		Credentials: fakeCreds{},
		Switches:    fakeSwitches{LiveTradingSwitch: enabled},
		Ledger:      &Ledger{Repo: store},
		Config:      config.ExchangeConfig{PriceSigFigs: 5},
	}
	return store, fv, b, acct
}

func TestExchangeRefusesOutsideLiveMode(t *testing.T) {
	_, fv, b, acct := liveSetup(t, true)
	for _, mode := range []string{models.ModeSimulated, models.ModeCompetition, ""} {
		o := order(acct, models.SideLong, 630)
		o.Mode = mode
		res := b.PlaceOrder(context.Background(), o)
		assert.Equal(t, StatusSkipped, res.Status, mode)
	}
	assert.Empty(t, fv.got, "no venue call outside live mode")
}

func TestExchangeKillSwitch(t *testing.T) {
	_, fv, b, acct := liveSetup(t, false)
	o := order(acct, models.SideLong, 630)
	o.Mode = models.ModeLive
	res := b.PlaceOrder(context.Background(), o)
	assert.Equal(t, StatusSkipped, res.Status)
	assert.Equal(t, "live trading disabled", res.Error)
	assert.Empty(t, fv.got)
}

func TestExchangeSubmitsIOCAndMirrorsFill(t *testing.T) {
	ctx := context.Background()
	store, fv, b, acct := liveSetup(t, true)
	o := order(acct, models.SideLong, 630)
	o.Mode = models.ModeLive
	o.SlippageBps = 5

	res := b.PlaceOrder(ctx, o)
	require.Equal(t, StatusFilled, res.Status, res.Error)
	require.Len(t, fv.got, 1)
	req := fv.got[0]
	assert.Equal(t, "63032", req.LimitPx)
	assert.Equal(t, "0.00999", req.Size)
	assert.Equal(t, venue.TIFIoc, req.TIF)
	assert.True(t, req.IsBuy)
	assert.Len(t, req.Cloid, 34)
	assert.Equal(t, "777", res.VenueOrderID)
	assert.JSONEq(t, `{"status":"ok"}`, string(res.VenueResponse))

	pos, _ := store.GetPosition(ctx, acct, "BTC")
	require.NotNil(t, pos)
	assert.InDelta(t, 0.00999, pos.Size.InexactFloat64(), 1e-12)
	trades := store.Trades()
	require.Len(t, trades, 1)
	require.NotNil(t, trades[0].VenueOrderID)
	assert.Equal(t, "777", *trades[0].VenueOrderID)
}

func TestExchangeVenueRejection(t *testing.T) {
	_, fv, b, acct := liveSetup(t, true)
	fv.result = &venue.OrderResult{Status: venue.OrderError, Error: "Order could not immediately match", Raw: []byte(`{"status":"ok"}`)}
	o := order(acct, models.SideShort, 630)
	o.Mode = models.ModeLive

	res := b.PlaceOrder(context.Background(), o)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, FailureVenue, res.Failure)
	assert.Contains(t, res.Error, "immediately match")
	assert.False(t, fv.got[0].IsBuy)

	fv.result = nil
	fv.err = &venue.APIError{Status: 500, Body: "boom"}
	res = b.PlaceOrder(context.Background(), o)
	assert.Equal(t, FailureVenue, res.Failure)
}

func TestExchangeCloseMirrorsVenueSize(t *testing.T) {
	ctx := context.Background()
	store, fv, b, acct := liveSetup(t, true)
	require.NoError(t, store.SavePosition(ctx, &models.Position{
		AccountID:     acct,
		Market:        "BTC",
		Side:          models.SideLong,
		Size:          d("0.0158739"),
		AvgEntryPrice: d("60000"),
	}))
	fv.result = &venue.OrderResult{Status: venue.OrderFilled, OrderID: "778", AvgPx: 62990, TotalSz: 0.01587}

	o := order(acct, models.SideShort, 1000)
	o.Mode = models.ModeLive
	o.Close = true
	res := b.PlaceOrder(ctx, o)
	require.Equal(t, StatusFilled, res.Status, res.Error)
	require.Len(t, fv.got, 1)
	assert.Equal(t, "0.01587", fv.got[0].Size)
	assert.True(t, fv.got[0].ReduceOnly)
	assert.Equal(t, models.ActionReduce, res.Action)
	assert.True(t, res.RealizedPnL.Equal(d("47.4513")), res.RealizedPnL.String())

	pos, err := store.GetPosition(ctx, acct, "BTC")
	require.NoError(t, err)
	require.NotNil(t, pos, "venue dust must stay tracked")
	assert.True(t, pos.Size.Equal(d("0.0000039")), pos.Size.String())
}
