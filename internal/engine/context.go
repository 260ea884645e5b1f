package engine

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"tradeloop/internal/indicators"
	"tradeloop/internal/marketdata"
	"tradeloop/internal/models"
)

// contextCandles bounds how many bars are shown to the model.
const contextCandles = 20

type positionView struct {
	Market        string  `json:"market"`
	Side          string  `json:"side"`
	Size          float64 `json:"size"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	Leverage      float64 `json:"leverage,omitempty"`
	OpenedAt      string  `json:"opened_at"`
}

func viewPosition(p models.Position) positionView {
	v := positionView{
		Market:        p.Market,
		Side:          p.Side,
		Size:          p.Size.InexactFloat64(),
		AvgEntryPrice: p.AvgEntryPrice.InexactFloat64(),
		UnrealizedPnL: p.UnrealizedPnL.InexactFloat64(),
	}
	if p.Leverage != nil {
		v.Leverage = p.Leverage.InexactFloat64()
	}
	if !p.OpenedAt.IsZero() {
		v.OpenedAt = p.OpenedAt.UTC().Format(time.RFC3339)
	}
	return v
}

type accountView struct {
	StartingEquity float64 `json:"starting_equity"`
	CashBalance    float64 `json:"cash_balance"`
	Equity         float64 `json:"equity"`
}

type marketSnapshot struct {
	Market    string                   `json:"market"`
	Price     float64                  `json:"price"`
	Interval  string                   `json:"interval,omitempty"`
	Orderbook *marketdata.OrderbookTop `json:"orderbook,omitempty"`
	Candles   []marketdata.Candle      `json:"candles,omitempty"`
}

type exitSnapshot struct {
	Market   string       `json:"market"`
	Price    float64      `json:"price"`
	Position positionView `json:"position"`
	PnLPct   float64      `json:"pnl_pct"`
	Peak     float64      `json:"peak_price,omitempty"`
}

type recentDecision struct {
	At       string  `json:"at"`
	Market   string  `json:"market"`
	Summary  string  `json:"summary"`
	Conf     float64 `json:"confidence"`
	Executed bool    `json:"executed"`
}

// decisionContext is the user message sent to the reasoning model.
type decisionContext struct {
	Time            string               `json:"time"`
	Market          marketSnapshot       `json:"market"`
	Indicators      *indicators.Snapshot `json:"indicators,omitempty"`
	Account         accountView          `json:"account"`
	Positions       []positionView       `json:"positions"`
	RecentDecisions []recentDecision     `json:"recent_decisions,omitempty"`
}

type proposedOrder struct {
	Market      string  `json:"market"`
	Bias        string  `json:"bias"`
	Side        string  `json:"side,omitempty"`
	NotionalUSD float64 `json:"notional_usd"`
	Leverage    float64 `json:"leverage,omitempty"`
}

func buildContext(t *tick, snap marketSnapshot, ind *indicators.Snapshot, recent []models.Decision) decisionContext {
	c := decisionContext{
		Time:       t.now.Format(time.RFC3339),
		Market:     snap,
		Indicators: ind,
		Account: accountView{
			StartingEquity: t.account.StartingEquity.InexactFloat64(),
			CashBalance:    t.account.CashBalance.InexactFloat64(),
			Equity:         t.account.Equity.InexactFloat64(),
		},
		Positions: make([]positionView, 0, len(t.positions)),
	}
	for _, p := range t.positions {
		c.Positions = append(c.Positions, viewPosition(p))
	}
	// oldest first reads naturally in a prompt
	for i := len(recent) - 1; i >= 0; i-- {
		d := recent[i]
		c.RecentDecisions = append(c.RecentDecisions, recentDecision{
			At:       d.CreatedAt.UTC().Format(time.RFC3339),
			Market:   d.Market,
			Summary:  d.ActionSummary,
			Conf:     d.Confidence,
			Executed: d.Executed,
		})
	}
	return c
}

func userPrompt(c decisionContext) string {
	raw, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		raw = []byte("{}")
	}
	return "Evaluate " + c.Market.Market + " using the context below.\n\n" + string(raw)
}

func lastCandles(c []marketdata.Candle, n int) []marketdata.Candle {
	if len(c) > n {
		return c[len(c)-n:]
	}
	return c
}

func jsonOf(v any) datatypes.JSON {
	raw, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(raw)
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
