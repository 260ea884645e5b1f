package service

import (
	"io"
	"time"

	"github.com/gocarina/gocsv"

	"tradeloop/internal/models"
)

// TradeRecord is the flat CSV shape of a trade.
type TradeRecord struct {
	ID           uint64 `csv:"id"`
	ExecutedAt   string `csv:"executed_at"`
	AccountID    uint64 `csv:"account_id"`
	SessionID    uint64 `csv:"session_id"`
	Market       string `csv:"market"`
	Action       string `csv:"action"`
	Side         string `csv:"side"`
	Size         string `csv:"size"`
	Price        string `csv:"price"`
	Fee          string `csv:"fee"`
	RealizedPnL  string `csv:"realized_pnl"`
	VenueOrderID string `csv:"venue_order_id"`
	Reason       string `csv:"reason"`
}

func TradeRecords(trades []models.Trade) []*TradeRecord {
	out := make([]*TradeRecord, 0, len(trades))
	for _, t := range trades {
		r := &TradeRecord{
			ID:          t.ID,
			ExecutedAt:  t.ExecutedAt.UTC().Format(time.RFC3339),
			AccountID:   t.AccountID,
			SessionID:   t.SessionID,
			Market:      t.Market,
			Action:      t.Action,
			Side:        t.Side,
			Size:        t.Size.String(),
			Price:       t.Price.String(),
			Fee:         t.Fee.String(),
			RealizedPnL: t.RealizedPnL.String(),
			Reason:      t.Reason,
		}
		if t.VenueOrderID != nil {
			r.VenueOrderID = *t.VenueOrderID
		}
		out = append(out, r)
	}
	return out
}

// WriteTradesCSV writes trades with a header row.
func WriteTradesCSV(w io.Writer, trades []models.Trade) error {
	return gocsv.Marshal(TradeRecords(trades), w)
}
