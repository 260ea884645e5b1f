// Package memory is an in-process implementation of repository.Repository
// used by tests and local dry runs.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradeloop/internal/models"
	"tradeloop/internal/repository"
)

type state struct {
	nextID     uint64
	sessions   map[uint64]models.Session
	strategies map[uint64]models.Strategy
	accounts   map[uint64]models.Account
	positions  map[uint64]models.Position
	trades     []models.Trade
	decisions  []models.Decision
	equity     []models.EquityPoint
	settings   map[string]models.SystemSetting
}

func newState() *state {
	return &state{
		sessions:   map[uint64]models.Session{},
		strategies: map[uint64]models.Strategy{},
		accounts:   map[uint64]models.Account{},
		positions:  map[uint64]models.Position{},
		settings:   map[string]models.SystemSetting{},
	}
}

func (s *state) clone() *state {
	out := newState()
	out.nextID = s.nextID
	for k, v := range s.sessions {
		out.sessions[k] = v
	}
	for k, v := range s.strategies {
		out.strategies[k] = v
	}
	for k, v := range s.accounts {
		out.accounts[k] = v
	}
	for k, v := range s.positions {
		out.positions[k] = v
	}
	for k, v := range s.settings {
		out.settings[k] = v
	}
	out.trades = append([]models.Trade(nil), s.trades...)
	out.decisions = append([]models.Decision(nil), s.decisions...)
	out.equity = append([]models.EquityPoint(nil), s.equity...)
	return out
}

func (s *state) id() uint64 {
	s.nextID++
	return s.nextID
}

// Store keeps every record in memory behind one mutex. InTx applies fn to a
// copy and publishes it only when fn succeeds.
type Store struct {
	mu   *sync.Mutex
	data *state
	inTx bool

	// Now stamps rows that carry server-side timestamps.
	Now func() time.Time
}

func New() *Store {
	return &Store{mu: &sync.Mutex{}, data: newState(), Now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) InTx(ctx context.Context, fn func(tx repository.Repository) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &Store{mu: s.mu, data: s.data.clone(), inTx: true, Now: s.Now}
	if err := fn(tx); err != nil {
		return err
	}
	s.data = tx.data
	return nil
}

func (s *Store) CreateSession(ctx context.Context, item *models.Session) error {
	defer s.lock()()
	if item.ID == 0 {
		item.ID = s.data.id()
	}
	item.CreatedAt = s.now()
	item.UpdatedAt = item.CreatedAt
	s.data.sessions[item.ID] = *item
	return nil
}

func (s *Store) GetSession(ctx context.Context, id uint64) (*models.Session, error) {
	defer s.lock()()
	item, ok := s.data.sessions[id]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (s *Store) ListSessions(ctx context.Context, params repository.ListSessionsParams) ([]models.Session, error) {
	defer s.lock()()
	var out []models.Session
	for _, item := range s.data.sessions {
		if params.Status != nil && item.Status != *params.Status {
			continue
		}
		if params.UserID != nil && item.UserID != *params.UserID {
			continue
		}
		if params.Mode != nil && item.Mode != *params.Mode {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return page(out, params.Offset, params.Limit), nil
}

func (s *Store) UpdateSessionStatus(ctx context.Context, id uint64, status string, startedAt *time.Time) error {
	defer s.lock()()
	item, ok := s.data.sessions[id]
	if !ok {
		return nil
	}
	item.Status = status
	if startedAt != nil {
		at := startedAt.UTC()
		item.StartedAt = &at
	}
	item.UpdatedAt = s.now()
	s.data.sessions[id] = item
	return nil
}

func (s *Store) SetSessionAccount(ctx context.Context, id uint64, accountID uint64) error {
	defer s.lock()()
	item, ok := s.data.sessions[id]
	if !ok {
		return nil
	}
	item.AccountID = accountID
	s.data.sessions[id] = item
	return nil
}

func (s *Store) TouchSessionTick(ctx context.Context, id uint64, at time.Time) error {
	defer s.lock()()
	item, ok := s.data.sessions[id]
	if !ok {
		return nil
	}
	at = at.UTC()
	item.LastTickAt = &at
	s.data.sessions[id] = item
	return nil
}

func (s *Store) CreateStrategy(ctx context.Context, item *models.Strategy) error {
	defer s.lock()()
	if item.ID == 0 {
		item.ID = s.data.id()
	}
	item.CreatedAt = s.now()
	item.UpdatedAt = item.CreatedAt
	s.data.strategies[item.ID] = *item
	return nil
}

func (s *Store) GetStrategy(ctx context.Context, id uint64) (*models.Strategy, error) {
	defer s.lock()()
	item, ok := s.data.strategies[id]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (s *Store) UpdateStrategy(ctx context.Context, item *models.Strategy) error {
	defer s.lock()()
	if _, ok := s.data.strategies[item.ID]; !ok {
		return nil
	}
	item.UpdatedAt = s.now()
	s.data.strategies[item.ID] = *item
	return nil
}

func (s *Store) CreateAccount(ctx context.Context, item *models.Account) error {
	defer s.lock()()
	if item.ID == 0 {
		item.ID = s.data.id()
	}
	item.CreatedAt = s.now()
	item.UpdatedAt = item.CreatedAt
	s.data.accounts[item.ID] = *item
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id uint64) (*models.Account, error) {
	defer s.lock()()
	item, ok := s.data.accounts[id]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

// LockAccount is GetAccount: transactions already run under the store mutex.
func (s *Store) LockAccount(ctx context.Context, id uint64) (*models.Account, error) {
	return s.GetAccount(ctx, id)
}

func (s *Store) FindAccount(ctx context.Context, userID, mode, venue string) (*models.Account, error) {
	defer s.lock()()
	for _, item := range s.data.accounts {
		if item.UserID == strings.TrimSpace(userID) && item.Mode == mode && item.Venue == venue {
			out := item
			return &out, nil
		}
	}
	return nil, nil
}

func (s *Store) UpdateAccountBalances(ctx context.Context, id uint64, cash, equity decimal.Decimal) error {
	defer s.lock()()
	item, ok := s.data.accounts[id]
	if !ok {
		return nil
	}
	item.CashBalance = cash
	item.Equity = equity
	item.UpdatedAt = s.now()
	s.data.accounts[id] = item
	return nil
}

func (s *Store) findPosition(accountID uint64, market string) (uint64, bool) {
	for id, item := range s.data.positions {
		if item.AccountID == accountID && item.Market == market {
			return id, true
		}
	}
	return 0, false
}

func (s *Store) GetPosition(ctx context.Context, accountID uint64, market string) (*models.Position, error) {
	defer s.lock()()
	id, ok := s.findPosition(accountID, strings.TrimSpace(market))
	if !ok {
		return nil, nil
	}
	item := s.data.positions[id]
	return &item, nil
}

func (s *Store) ListPositions(ctx context.Context, accountID uint64) ([]models.Position, error) {
	defer s.lock()()
	var out []models.Position
	for _, item := range s.data.positions {
		if item.AccountID == accountID {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Market < out[j].Market })
	return out, nil
}

func (s *Store) SavePosition(ctx context.Context, item *models.Position) error {
	defer s.lock()()
	if id, ok := s.findPosition(item.AccountID, item.Market); ok {
		item.ID = id
		item.CreatedAt = s.data.positions[id].CreatedAt
	} else {
		item.ID = s.data.id()
		item.CreatedAt = s.now()
	}
	item.UpdatedAt = s.now()
	s.data.positions[item.ID] = *item
	return nil
}

func (s *Store) DeletePosition(ctx context.Context, accountID uint64, market string) error {
	defer s.lock()()
	if id, ok := s.findPosition(accountID, strings.TrimSpace(market)); ok {
		delete(s.data.positions, id)
	}
	return nil
}

func (s *Store) InsertTrade(ctx context.Context, item *models.Trade) error {
	defer s.lock()()
	item.ID = s.data.id()
	item.CreatedAt = s.now()
	s.data.trades = append(s.data.trades, *item)
	return nil
}

func (s *Store) matchTrades(params repository.ListTradesParams) []models.Trade {
	var out []models.Trade
	for _, item := range s.data.trades {
		if item.AccountID != params.AccountID {
			continue
		}
		if params.SessionID != nil && item.SessionID != *params.SessionID {
			continue
		}
		if params.Market != nil && item.Market != *params.Market {
			continue
		}
		if params.Action != nil && item.Action != *params.Action {
			continue
		}
		if params.Since != nil && item.ExecutedAt.Before(*params.Since) {
			continue
		}
		if params.Until != nil && !item.ExecutedAt.Before(*params.Until) {
			continue
		}
		out = append(out, item)
	}
	return out
}

func (s *Store) ListTrades(ctx context.Context, params repository.ListTradesParams) ([]models.Trade, error) {
	defer s.lock()()
	out := s.matchTrades(params)
	asc := params.Asc != nil && *params.Asc
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ExecutedAt.Equal(out[j].ExecutedAt) {
			if asc {
				return out[i].ID < out[j].ID
			}
			return out[i].ID > out[j].ID
		}
		if asc {
			return out[i].ExecutedAt.Before(out[j].ExecutedAt)
		}
		return out[i].ExecutedAt.After(out[j].ExecutedAt)
	})
	return page(out, params.Offset, params.Limit), nil
}

func (s *Store) CountTrades(ctx context.Context, params repository.ListTradesParams) (int64, error) {
	defer s.lock()()
	return int64(len(s.matchTrades(params))), nil
}

func (s *Store) LastTrade(ctx context.Context, accountID uint64, market string) (*models.Trade, error) {
	return s.lastTrade(accountID, market, "")
}

func (s *Store) LastOpenTrade(ctx context.Context, accountID uint64, market string) (*models.Trade, error) {
	return s.lastTrade(accountID, market, models.ActionOpen)
}

func (s *Store) lastTrade(accountID uint64, market, action string) (*models.Trade, error) {
	defer s.lock()()
	var best *models.Trade
	for i := range s.data.trades {
		item := s.data.trades[i]
		if item.AccountID != accountID || item.Market != market {
			continue
		}
		if action != "" && item.Action != action {
			continue
		}
		if best == nil || !item.ExecutedAt.Before(best.ExecutedAt) {
			cp := item
			best = &cp
		}
	}
	return best, nil
}

func (s *Store) InsertDecision(ctx context.Context, item *models.Decision) error {
	defer s.lock()()
	item.ID = s.data.id()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.now()
	}
	s.data.decisions = append(s.data.decisions, *item)
	return nil
}

func (s *Store) ListDecisions(ctx context.Context, params repository.ListDecisionsParams) ([]models.Decision, error) {
	defer s.lock()()
	var out []models.Decision
	for _, item := range s.data.decisions {
		if params.SessionID != nil && item.SessionID != *params.SessionID {
			continue
		}
		if params.Market != nil && item.Market != *params.Market {
			continue
		}
		if params.Executed != nil && item.Executed != *params.Executed {
			continue
		}
		if params.Since != nil && item.CreatedAt.Before(*params.Since) {
			continue
		}
		out = append(out, item)
	}
	asc := params.Asc != nil && *params.Asc
	sort.SliceStable(out, func(i, j int) bool {
		if asc {
			return out[i].ID < out[j].ID
		}
		return out[i].ID > out[j].ID
	})
	return page(out, params.Offset, params.Limit), nil
}

func (s *Store) InsertEquityPoint(ctx context.Context, item *models.EquityPoint) error {
	defer s.lock()()
	item.ID = s.data.id()
	s.data.equity = append(s.data.equity, *item)
	return nil
}

func (s *Store) ListEquityPoints(ctx context.Context, params repository.ListEquityPointsParams) ([]models.EquityPoint, error) {
	defer s.lock()()
	var out []models.EquityPoint
	for _, item := range s.data.equity {
		if item.AccountID != params.AccountID {
			continue
		}
		if params.Since != nil && item.RecordedAt.Before(*params.Since) {
			continue
		}
		if params.Until != nil && !item.RecordedAt.Before(*params.Until) {
			continue
		}
		out = append(out, item)
	}
	asc := params.Asc != nil && *params.Asc
	sort.SliceStable(out, func(i, j int) bool {
		if asc {
			return out[i].RecordedAt.Before(out[j].RecordedAt)
		}
		return out[i].RecordedAt.After(out[j].RecordedAt)
	})
	return page(out, params.Offset, params.Limit), nil
}

func (s *Store) FirstEquityPointSince(ctx context.Context, accountID uint64, since time.Time) (*models.EquityPoint, error) {
	defer s.lock()()
	var best *models.EquityPoint
	for i := range s.data.equity {
		item := s.data.equity[i]
		if item.AccountID != accountID || item.RecordedAt.Before(since) {
			continue
		}
		if best == nil || item.RecordedAt.Before(best.RecordedAt) {
			cp := item
			best = &cp
		}
	}
	return best, nil
}

func (s *Store) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	defer s.lock()()
	item, ok := s.data.settings[strings.TrimSpace(key)]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (s *Store) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	defer s.lock()()
	key := strings.TrimSpace(item.Key)
	if key == "" {
		return nil
	}
	if existing, ok := s.data.settings[key]; ok {
		item.ID = existing.ID
		item.CreatedAt = existing.CreatedAt
	} else {
		item.ID = s.data.id()
	}
	s.data.settings[key] = *item
	return nil
}

// Trades returns every stored trade in insertion order.
func (s *Store) Trades() []models.Trade {
	defer s.lock()()
	return append([]models.Trade(nil), s.data.trades...)
}

// Decisions returns every stored decision in insertion order.
func (s *Store) Decisions() []models.Decision {
	defer s.lock()()
	return append([]models.Decision(nil), s.data.decisions...)
}

func page[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
