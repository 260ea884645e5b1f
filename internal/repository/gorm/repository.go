package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tradeloop/internal/models"
	"tradeloop/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx repository.Repository) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// --- sessions ---------------------------------------------------------------

func (s *Store) CreateSession(ctx context.Context, item *models.Session) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetSession(ctx context.Context, id uint64) (*models.Session, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.Session
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListSessions(ctx context.Context, params repository.ListSessionsParams) ([]models.Session, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Session{})
	if params.UserID != nil && strings.TrimSpace(*params.UserID) != "" {
		query = query.Where("user_id = ?", strings.TrimSpace(*params.UserID))
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.Mode != nil && strings.TrimSpace(*params.Mode) != "" {
		query = query.Where("mode = ?", strings.TrimSpace(*params.Mode))
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "id")
	query = query.Limit(normalizeLimit(params.Limit, 100)).Offset(normalizeOffset(params.Offset))
	var items []models.Session
	if err := query.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateSessionStatus(ctx context.Context, id uint64, status string, startedAt *time.Time) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	updates := map[string]any{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	if startedAt != nil {
		updates["started_at"] = startedAt.UTC()
	}
	return s.db.WithContext(ctx).Model(&models.Session{}).Where("id = ?", id).Updates(updates).Error
}

func (s *Store) SetSessionAccount(ctx context.Context, id uint64, accountID uint64) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Session{}).Where("id = ?", id).
		Updates(map[string]any{"account_id": accountID, "updated_at": time.Now().UTC()}).Error
}

func (s *Store) TouchSessionTick(ctx context.Context, id uint64, at time.Time) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Session{}).Where("id = ?", id).
		UpdateColumn("last_tick_at", at.UTC()).Error
}

// --- strategies -------------------------------------------------------------

func (s *Store) CreateStrategy(ctx context.Context, item *models.Strategy) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetStrategy(ctx context.Context, id uint64) (*models.Strategy, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.Strategy
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpdateStrategy(ctx context.Context, item *models.Strategy) error {
	if s == nil || s.db == nil || item == nil || item.ID == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Strategy{}).Where("id = ?", item.ID).Updates(map[string]any{
		"name":           item.Name,
		"model_provider": item.ModelProvider,
		"model_name":     item.ModelName,
		"prompt":         item.Prompt,
		"filters":        item.Filters,
		"updated_at":     time.Now().UTC(),
	}).Error
}

// --- accounts ---------------------------------------------------------------

func (s *Store) CreateAccount(ctx context.Context, item *models.Account) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetAccount(ctx context.Context, id uint64) (*models.Account, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.Account
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) LockAccount(ctx context.Context, id uint64) (*models.Account, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.Account
	err := s.lockingAccount(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) lockingAccount(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
}

func (s *Store) FindAccount(ctx context.Context, userID, mode, venue string) (*models.Account, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Account
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND mode = ? AND venue = ?", strings.TrimSpace(userID), mode, venue).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpdateAccountBalances(ctx context.Context, id uint64, cash, equity decimal.Decimal) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Account{}).Where("id = ?", id).Updates(map[string]any{
		"cash_balance": cash,
		"equity":       equity,
		"updated_at":   time.Now().UTC(),
	}).Error
}

// --- positions --------------------------------------------------------------

func (s *Store) GetPosition(ctx context.Context, accountID uint64, market string) (*models.Position, error) {
	if s == nil || s.db == nil || accountID == 0 {
		return nil, nil
	}
	var item models.Position
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND market = ?", accountID, strings.TrimSpace(market)).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListPositions(ctx context.Context, accountID uint64) ([]models.Position, error) {
	if s == nil || s.db == nil || accountID == 0 {
		return nil, nil
	}
	var items []models.Position
	if err := s.db.WithContext(ctx).Where("account_id = ?", accountID).Order("market asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) SavePosition(ctx context.Context, item *models.Position) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.UpdatedAt = time.Now().UTC()
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account_id"}, {Name: "market"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"side",
			"size",
			"avg_entry_price",
			"unrealized_pnl",
			"leverage",
			"peak_price",
			"opened_at",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) DeletePosition(ctx context.Context, accountID uint64, market string) error {
	if s == nil || s.db == nil || accountID == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Where("account_id = ? AND market = ?", accountID, strings.TrimSpace(market)).
		Delete(&models.Position{}).Error
}

// --- trades -----------------------------------------------------------------

func (s *Store) InsertTrade(ctx context.Context, item *models.Trade) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) tradesQuery(ctx context.Context, params repository.ListTradesParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Trade{}).Where("account_id = ?", params.AccountID)
	if params.SessionID != nil {
		query = query.Where("session_id = ?", *params.SessionID)
	}
	if params.Market != nil && strings.TrimSpace(*params.Market) != "" {
		query = query.Where("market = ?", strings.TrimSpace(*params.Market))
	}
	if params.Action != nil && strings.TrimSpace(*params.Action) != "" {
		query = query.Where("action = ?", strings.TrimSpace(*params.Action))
	}
	if params.Since != nil {
		query = query.Where("executed_at >= ?", params.Since.UTC())
	}
	if params.Until != nil {
		query = query.Where("executed_at < ?", params.Until.UTC())
	}
	return query
}

func (s *Store) ListTrades(ctx context.Context, params repository.ListTradesParams) ([]models.Trade, error) {
	if s == nil || s.db == nil || params.AccountID == 0 {
		return nil, nil
	}
	query := s.tradesQuery(ctx, params)
	query = applyOrder(query, params.OrderBy, params.Asc, "executed_at")
	query = query.Order("id desc")
	query = query.Limit(normalizeLimit(params.Limit, 200)).Offset(normalizeOffset(params.Offset))
	var items []models.Trade
	if err := query.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountTrades(ctx context.Context, params repository.ListTradesParams) (int64, error) {
	if s == nil || s.db == nil || params.AccountID == 0 {
		return 0, nil
	}
	var count int64
	if err := s.tradesQuery(ctx, params).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) LastTrade(ctx context.Context, accountID uint64, market string) (*models.Trade, error) {
	return s.lastTrade(ctx, accountID, market, "")
}

func (s *Store) LastOpenTrade(ctx context.Context, accountID uint64, market string) (*models.Trade, error) {
	return s.lastTrade(ctx, accountID, market, models.ActionOpen)
}

func (s *Store) lastTrade(ctx context.Context, accountID uint64, market, action string) (*models.Trade, error) {
	if s == nil || s.db == nil || accountID == 0 {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Trade{}).
		Where("account_id = ? AND market = ?", accountID, strings.TrimSpace(market))
	if action != "" {
		query = query.Where("action = ?", action)
	}
	var item models.Trade
	err := query.Order("executed_at desc").Order("id desc").First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// --- decisions --------------------------------------------------------------

func (s *Store) InsertDecision(ctx context.Context, item *models.Decision) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListDecisions(ctx context.Context, params repository.ListDecisionsParams) ([]models.Decision, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Decision{})
	if params.SessionID != nil {
		query = query.Where("session_id = ?", *params.SessionID)
	}
	if params.Market != nil && strings.TrimSpace(*params.Market) != "" {
		query = query.Where("market = ?", strings.TrimSpace(*params.Market))
	}
	if params.Executed != nil {
		query = query.Where("executed = ?", *params.Executed)
	}
	if params.Since != nil {
		query = query.Where("created_at >= ?", params.Since.UTC())
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	query = query.Order("id desc")
	query = query.Limit(normalizeLimit(params.Limit, 50)).Offset(normalizeOffset(params.Offset))
	var items []models.Decision
	if err := query.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- equity -----------------------------------------------------------------

func (s *Store) InsertEquityPoint(ctx context.Context, item *models.EquityPoint) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListEquityPoints(ctx context.Context, params repository.ListEquityPointsParams) ([]models.EquityPoint, error) {
	if s == nil || s.db == nil || params.AccountID == 0 {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.EquityPoint{}).Where("account_id = ?", params.AccountID)
	if params.Since != nil {
		query = query.Where("recorded_at >= ?", params.Since.UTC())
	}
	if params.Until != nil {
		query = query.Where("recorded_at < ?", params.Until.UTC())
	}
	query = applyOrder(query, "recorded_at", params.Asc, "recorded_at")
	query = query.Limit(normalizeLimit(params.Limit, 500)).Offset(normalizeOffset(params.Offset))
	var items []models.EquityPoint
	if err := query.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) FirstEquityPointSince(ctx context.Context, accountID uint64, since time.Time) (*models.EquityPoint, error) {
	if s == nil || s.db == nil || accountID == 0 {
		return nil, nil
	}
	var item models.EquityPoint
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND recorded_at >= ?", accountID, since.UTC()).
		Order("recorded_at asc").
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// --- settings ---------------------------------------------------------------

func (s *Store) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	var item models.SystemSetting
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	if s == nil || s.db == nil || item == nil || strings.TrimSpace(item.Key) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"kind", "value", "updated_by", "updated_at"}),
	}).Create(item).Error
}

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
