package handler

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"tradeloop/internal/models"
)

type sessionView struct {
	ID             uint64     `json:"id"`
	UserID         string     `json:"user_id"`
	Name           string     `json:"name"`
	StrategyID     uint64     `json:"strategy_id"`
	AccountID      uint64     `json:"account_id,omitempty"`
	Mode           string     `json:"mode"`
	Status         string     `json:"status"`
	Venue          string     `json:"venue"`
	Markets        []string   `json:"markets"`
	CadenceSeconds int        `json:"cadence_seconds"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	LastTickAt     *time.Time `json:"last_tick_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func viewSession(s models.Session) sessionView {
	return sessionView{
		ID:             s.ID,
		UserID:         s.UserID,
		Name:           s.Name,
		StrategyID:     s.StrategyID,
		AccountID:      s.AccountID,
		Mode:           s.Mode,
		Status:         s.Status,
		Venue:          s.Venue,
		Markets:        s.MarketList(),
		CadenceSeconds: s.CadenceSeconds,
		StartedAt:      s.StartedAt,
		LastTickAt:     s.LastTickAt,
		CreatedAt:      s.CreatedAt,
	}
}

type strategyView struct {
	ID            uint64          `json:"id"`
	UserID        string          `json:"user_id,omitempty"`
	Name          string          `json:"name"`
	ModelProvider string          `json:"model_provider"`
	ModelName     string          `json:"model_name"`
	Prompt        string          `json:"prompt"`
	Filters       json.RawMessage `json:"filters"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func viewStrategy(s models.Strategy) strategyView {
	return strategyView{
		ID:            s.ID,
		UserID:        s.UserID,
		Name:          s.Name,
		ModelProvider: s.ModelProvider,
		ModelName:     s.ModelName,
		Prompt:        s.Prompt,
		Filters:       rawOrNull(s.Filters),
		UpdatedAt:     s.UpdatedAt,
	}
}

type accountView struct {
	ID             uint64          `json:"id"`
	UserID         string          `json:"user_id"`
	Mode           string          `json:"mode"`
	Venue          string          `json:"venue,omitempty"`
	StartingEquity decimal.Decimal `json:"starting_equity"`
	CashBalance    decimal.Decimal `json:"cash_balance"`
	Equity         decimal.Decimal `json:"equity"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func viewAccount(a models.Account) accountView {
	return accountView{
		ID:             a.ID,
		UserID:         a.UserID,
		Mode:           a.Mode,
		Venue:          a.Venue,
		StartingEquity: a.StartingEquity,
		CashBalance:    a.CashBalance,
		Equity:         a.Equity,
		UpdatedAt:      a.UpdatedAt,
	}
}

type positionView struct {
	Market        string           `json:"market"`
	Side          string           `json:"side"`
	Size          decimal.Decimal  `json:"size"`
	AvgEntryPrice decimal.Decimal  `json:"avg_entry_price"`
	UnrealizedPnL decimal.Decimal  `json:"unrealized_pnl"`
	Leverage      *decimal.Decimal `json:"leverage,omitempty"`
	PeakPrice     *decimal.Decimal `json:"peak_price,omitempty"`
	OpenedAt      time.Time        `json:"opened_at"`
}

func viewPositions(items []models.Position) []positionView {
	out := make([]positionView, 0, len(items))
	for _, p := range items {
		out = append(out, positionView{
			Market:        p.Market,
			Side:          p.Side,
			Size:          p.Size,
			AvgEntryPrice: p.AvgEntryPrice,
			UnrealizedPnL: p.UnrealizedPnL,
			Leverage:      p.Leverage,
			PeakPrice:     p.PeakPrice,
			OpenedAt:      p.OpenedAt,
		})
	}
	return out
}

type tradeView struct {
	ID           uint64          `json:"id"`
	SessionID    uint64          `json:"session_id"`
	Market       string          `json:"market"`
	Action       string          `json:"action"`
	Side         string          `json:"side"`
	Size         decimal.Decimal `json:"size"`
	Price        decimal.Decimal `json:"price"`
	Fee          decimal.Decimal `json:"fee"`
	RealizedPnL  decimal.Decimal `json:"realized_pnl"`
	VenueOrderID *string         `json:"venue_order_id,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	ExecutedAt   time.Time       `json:"executed_at"`
}

func viewTrades(items []models.Trade) []tradeView {
	out := make([]tradeView, 0, len(items))
	for _, t := range items {
		out = append(out, tradeView{
			ID:           t.ID,
			SessionID:    t.SessionID,
			Market:       t.Market,
			Action:       t.Action,
			Side:         t.Side,
			Size:         t.Size,
			Price:        t.Price,
			Fee:          t.Fee,
			RealizedPnL:  t.RealizedPnL,
			VenueOrderID: t.VenueOrderID,
			Reason:       t.Reason,
			ExecutedAt:   t.ExecutedAt,
		})
	}
	return out
}

type decisionView struct {
	ID                 uint64          `json:"id"`
	TickID             string          `json:"tick_id"`
	SessionID          uint64          `json:"session_id"`
	AccountID          uint64          `json:"account_id"`
	Market             string          `json:"market"`
	MarketSnapshot     json.RawMessage `json:"market_snapshot"`
	IndicatorsSnapshot json.RawMessage `json:"indicators_snapshot"`
	Intent             json.RawMessage `json:"intent"`
	Confidence         float64         `json:"confidence"`
	ActionSummary      string          `json:"action_summary"`
	RiskResult         json.RawMessage `json:"risk_result"`
	ProposedOrder      json.RawMessage `json:"proposed_order"`
	Executed           bool            `json:"executed"`
	Error              *string         `json:"error,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

func viewDecisions(items []models.Decision) []decisionView {
	out := make([]decisionView, 0, len(items))
	for _, d := range items {
		out = append(out, decisionView{
			ID:                 d.ID,
			TickID:             d.TickID,
			SessionID:          d.SessionID,
			AccountID:          d.AccountID,
			Market:             d.Market,
			MarketSnapshot:     rawOrNull(d.MarketSnapshot),
			IndicatorsSnapshot: rawOrNull(d.IndicatorsSnapshot),
			Intent:             rawOrNull(d.Intent),
			Confidence:         d.Confidence,
			ActionSummary:      d.ActionSummary,
			RiskResult:         rawOrNull(d.RiskResult),
			ProposedOrder:      rawOrNull(d.ProposedOrder),
			Executed:           d.Executed,
			Error:              d.Error,
			CreatedAt:          d.CreatedAt,
		})
	}
	return out
}

type equityView struct {
	Equity        decimal.Decimal `json:"equity"`
	CashBalance   decimal.Decimal `json:"cash_balance"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	RecordedAt    time.Time       `json:"recorded_at"`
}

func viewEquity(items []models.EquityPoint) []equityView {
	out := make([]equityView, 0, len(items))
	for _, p := range items {
		out = append(out, equityView{
			Equity:        p.Equity,
			CashBalance:   p.CashBalance,
			UnrealizedPnL: p.UnrealizedPnL,
			RecordedAt:    p.RecordedAt,
		})
	}
	return out
}

func rawOrNull(b []byte) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage("null")
	}
	return json.RawMessage(b)
}
