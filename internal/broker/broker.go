// Package broker executes orders. The simulated and exchange brokers share
// one contract so the tick engine never branches on trading mode.
package broker

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"

	"tradeloop/internal/models"
)

const (
	StatusFilled  = "filled"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"

	FailureNetwork    = "network"
	FailureVenue      = "venue"
	FailureValidation = "validation"
	FailureLedger     = "ledger"
)

type Order struct {
	Mode        string
	AccountID   uint64
	SessionID   uint64
	Market      string
	Side        string // long buys, short sells
	NotionalUSD float64
	SlippageBps int
	FeeBps      int
	Leverage    float64
	// Close takes off exactly the existing position regardless of notional.
	Close  bool
	Reason string
}

// IsBuy reports the order direction.
func (o Order) IsBuy() bool { return o.Side == models.SideLong }

type Result struct {
	Status        string          `json:"status"`
	Action        string          `json:"action,omitempty"`
	FillPrice     decimal.Decimal `json:"fill_price"`
	FillSize      decimal.Decimal `json:"fill_size"`
	Fee           decimal.Decimal `json:"fee"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	VenueOrderID  string          `json:"venue_order_id,omitempty"`
	VenueResponse json.RawMessage `json:"venue_response,omitempty"`
	Failure       string          `json:"failure,omitempty"`
	Error         string          `json:"error,omitempty"`
}

func (r Result) Filled() bool { return r.Status == StatusFilled }

func skipped(reason string) Result {
	return Result{Status: StatusSkipped, Error: reason}
}

func failed(kind string, err error) Result {
	return Result{Status: StatusFailed, Failure: kind, Error: err.Error()}
}

func filledFrom(a Applied) Result {
	return Result{
		Status:      StatusFilled,
		Action:      a.Action,
		FillPrice:   a.Price,
		FillSize:    a.Size,
		Fee:         a.Fee,
		RealizedPnL: a.RealizedPnL,
	}
}

type Broker interface {
	PlaceOrder(ctx context.Context, order Order) Result
}

// Router dispatches on the order's trading mode.
type Router struct {
	Sim  Broker
	Live Broker
}

func (r *Router) PlaceOrder(ctx context.Context, order Order) Result {
	switch order.Mode {
	case models.ModeSimulated, models.ModeCompetition:
		if r.Sim == nil {
			return Result{Status: StatusFailed, Failure: FailureValidation, Error: "simulated broker not configured"}
		}
		return r.Sim.PlaceOrder(ctx, order)
	case models.ModeLive:
		if r.Live == nil {
			return Result{Status: StatusFailed, Failure: FailureValidation, Error: "live broker not configured"}
		}
		return r.Live.PlaceOrder(ctx, order)
	}
	return Result{Status: StatusFailed, Failure: FailureValidation, Error: "unknown trading mode " + order.Mode}
}
