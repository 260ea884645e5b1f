package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"tradeloop/internal/config"
	"tradeloop/internal/engine"
	"tradeloop/internal/filters"
	"tradeloop/internal/models"
	"tradeloop/internal/repository"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidSettingValue = errors.New("setting value must be valid json")
)

type CreateSessionInput struct {
	UserID         string   `json:"user_id"`
	Name           string   `json:"name"`
	StrategyID     uint64   `json:"strategy_id"`
	Mode           string   `json:"mode"`
	Venue          string   `json:"venue"`
	Markets        []string `json:"markets"`
	CadenceSeconds int      `json:"cadence_seconds"`
}

// SessionService is the control surface over session lifecycle.
type SessionService struct {
	Repo   repository.Repository
	Engine config.EngineConfig
	Venue  string
	Logger *zap.Logger
	Now    func() time.Time
}

func (s *SessionService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *SessionService) Create(ctx context.Context, in CreateSessionInput) (*models.Session, error) {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	mode := strings.ToLower(strings.TrimSpace(in.Mode))
	if mode == "" {
		mode = models.ModeSimulated
	}
	switch mode {
	case models.ModeSimulated, models.ModeLive, models.ModeCompetition:
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidInput, in.Mode)
	}
	markets := normalizeMarkets(in.Markets)
	if len(markets) == 0 {
		return nil, fmt.Errorf("%w: at least one market is required", ErrInvalidInput)
	}
	if in.CadenceSeconds <= 0 {
		return nil, fmt.Errorf("%w: cadence_seconds must be positive", ErrInvalidInput)
	}
	strategy, err := s.Repo.GetStrategy(ctx, in.StrategyID)
	if err != nil {
		return nil, err
	}
	if strategy == nil {
		return nil, fmt.Errorf("%w: strategy %d", ErrNotFound, in.StrategyID)
	}
	venue := strings.TrimSpace(in.Venue)
	if venue == "" {
		venue = s.Venue
	}
	raw, _ := json.Marshal(markets)
	item := &models.Session{
		UserID:         userID,
		Name:           strings.TrimSpace(in.Name),
		StrategyID:     strategy.ID,
		Mode:           mode,
		Status:         models.SessionStopped,
		Venue:          venue,
		Markets:        datatypes.JSON(raw),
		CadenceSeconds: in.CadenceSeconds,
	}
	if err := s.Repo.CreateSession(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *SessionService) Get(ctx context.Context, id uint64) (*models.Session, error) {
	item, err := s.Repo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("%w: session %d", ErrNotFound, id)
	}
	return item, nil
}

// Start marks a session running. The first start anchors round-robin market
// selection; simulated books are funded here so the first tick has equity.
func (s *SessionService) Start(ctx context.Context, id uint64) (*models.Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var startedAt *time.Time
	if sess.StartedAt == nil {
		now := s.now()
		startedAt = &now
	}
	err = s.Repo.InTx(ctx, func(tx repository.Repository) error {
		if models.IsSimulatedMode(sess.Mode) {
			acct, err := engine.EnsureAccount(ctx, tx, sess.UserID, sess.Mode, sess.AccountVenue(), decimal.NewFromFloat(s.Engine.StartingEquity))
			if err != nil {
				return err
			}
			if sess.AccountID != acct.ID {
				if err := tx.SetSessionAccount(ctx, sess.ID, acct.ID); err != nil {
					return err
				}
			}
		}
		return tx.UpdateSessionStatus(ctx, sess.ID, models.SessionRunning, startedAt)
	})
	if err != nil {
		return nil, err
	}
	if s.Logger != nil {
		s.Logger.Info("session started", zap.Uint64("session_id", sess.ID), zap.String("mode", sess.Mode))
	}
	return s.Get(ctx, id)
}

func (s *SessionService) Stop(ctx context.Context, id uint64) (*models.Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.Repo.UpdateSessionStatus(ctx, sess.ID, models.SessionStopped, nil); err != nil {
		return nil, err
	}
	if s.Logger != nil {
		s.Logger.Info("session stopped", zap.Uint64("session_id", sess.ID))
	}
	return s.Get(ctx, id)
}

func (s *SessionService) List(ctx context.Context, params repository.ListSessionsParams) ([]models.Session, error) {
	return s.Repo.ListSessions(ctx, params)
}

func normalizeMarkets(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, m := range in {
		m = strings.ToUpper(strings.TrimSpace(m))
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

type StrategyInput struct {
	UserID        string          `json:"user_id" yaml:"user_id"`
	Name          string          `json:"name" yaml:"name"`
	ModelProvider string          `json:"model_provider" yaml:"model_provider"`
	ModelName     string          `json:"model_name" yaml:"model_name"`
	Prompt        string          `json:"prompt" yaml:"prompt"`
	Filters       json.RawMessage `json:"filters" yaml:"-"`
}

// StrategyService validates filter documents before they are stored.
type StrategyService struct {
	Repo     repository.Repository
	Defaults filters.Defaults
}

func (s *StrategyService) validate(in StrategyInput) (datatypes.JSON, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.ModelProvider) == "" || strings.TrimSpace(in.ModelName) == "" {
		return nil, fmt.Errorf("%w: model_provider and model_name are required", ErrInvalidInput)
	}
	if _, err := filters.Normalize(in.Filters, s.Defaults); err != nil {
		return nil, fmt.Errorf("%w: filters: %v", ErrInvalidInput, err)
	}
	if len(in.Filters) == 0 {
		return datatypes.JSON("{}"), nil
	}
	return datatypes.JSON(in.Filters), nil
}

func (s *StrategyService) Create(ctx context.Context, in StrategyInput) (*models.Strategy, error) {
	raw, err := s.validate(in)
	if err != nil {
		return nil, err
	}
	item := &models.Strategy{
		UserID:        strings.TrimSpace(in.UserID),
		Name:          strings.TrimSpace(in.Name),
		ModelProvider: strings.ToLower(strings.TrimSpace(in.ModelProvider)),
		ModelName:     strings.TrimSpace(in.ModelName),
		Prompt:        in.Prompt,
		Filters:       raw,
	}
	if err := s.Repo.CreateStrategy(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *StrategyService) Get(ctx context.Context, id uint64) (*models.Strategy, error) {
	item, err := s.Repo.GetStrategy(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("%w: strategy %d", ErrNotFound, id)
	}
	return item, nil
}

// Update replaces a strategy in place. Running sessions pick it up next tick.
func (s *StrategyService) Update(ctx context.Context, id uint64, in StrategyInput) (*models.Strategy, error) {
	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	raw, err := s.validate(in)
	if err != nil {
		return nil, err
	}
	if uid := strings.TrimSpace(in.UserID); uid != "" {
		item.UserID = uid
	}
	item.Name = strings.TrimSpace(in.Name)
	item.ModelProvider = strings.ToLower(strings.TrimSpace(in.ModelProvider))
	item.ModelName = strings.TrimSpace(in.ModelName)
	item.Prompt = in.Prompt
	item.Filters = raw
	if err := s.Repo.UpdateStrategy(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}
