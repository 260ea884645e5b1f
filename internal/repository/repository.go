package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"tradeloop/internal/models"
)

// Repository is the storage collaborator of the tick engine. Getters return
// (nil, nil) when the row does not exist.
type Repository interface {
	// InTx runs fn against a repository bound to a single transaction.
	InTx(ctx context.Context, fn func(tx Repository) error) error

	// sessions
	CreateSession(ctx context.Context, item *models.Session) error
	GetSession(ctx context.Context, id uint64) (*models.Session, error)
	ListSessions(ctx context.Context, params ListSessionsParams) ([]models.Session, error)
	UpdateSessionStatus(ctx context.Context, id uint64, status string, startedAt *time.Time) error
	SetSessionAccount(ctx context.Context, id uint64, accountID uint64) error
	TouchSessionTick(ctx context.Context, id uint64, at time.Time) error

	// strategies
	CreateStrategy(ctx context.Context, item *models.Strategy) error
	GetStrategy(ctx context.Context, id uint64) (*models.Strategy, error)
	UpdateStrategy(ctx context.Context, item *models.Strategy) error

	// accounts
	CreateAccount(ctx context.Context, item *models.Account) error
	GetAccount(ctx context.Context, id uint64) (*models.Account, error)
	// LockAccount reads the account for update. Inside InTx it holds the row
	// until commit so concurrent ledger writers of one account serialize.
	LockAccount(ctx context.Context, id uint64) (*models.Account, error)
	FindAccount(ctx context.Context, userID, mode, venue string) (*models.Account, error)
	UpdateAccountBalances(ctx context.Context, id uint64, cash, equity decimal.Decimal) error

	// positions
	GetPosition(ctx context.Context, accountID uint64, market string) (*models.Position, error)
	ListPositions(ctx context.Context, accountID uint64) ([]models.Position, error)
	SavePosition(ctx context.Context, item *models.Position) error
	DeletePosition(ctx context.Context, accountID uint64, market string) error

	// trades
	InsertTrade(ctx context.Context, item *models.Trade) error
	ListTrades(ctx context.Context, params ListTradesParams) ([]models.Trade, error)
	CountTrades(ctx context.Context, params ListTradesParams) (int64, error)
	LastTrade(ctx context.Context, accountID uint64, market string) (*models.Trade, error)
	LastOpenTrade(ctx context.Context, accountID uint64, market string) (*models.Trade, error)

	// decisions
	InsertDecision(ctx context.Context, item *models.Decision) error
	ListDecisions(ctx context.Context, params ListDecisionsParams) ([]models.Decision, error)

	// equity
	InsertEquityPoint(ctx context.Context, item *models.EquityPoint) error
	ListEquityPoints(ctx context.Context, params ListEquityPointsParams) ([]models.EquityPoint, error)
	FirstEquityPointSince(ctx context.Context, accountID uint64, since time.Time) (*models.EquityPoint, error)

	// settings
	GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error)
	UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error
}

type ListSessionsParams struct {
	Limit   int
	Offset  int
	UserID  *string
	Status  *string
	Mode    *string
	OrderBy string
	Asc     *bool
}

type ListTradesParams struct {
	Limit     int
	Offset    int
	AccountID uint64
	SessionID *uint64
	Market    *string
	Action    *string
	Since     *time.Time
	Until     *time.Time
	OrderBy   string
	Asc       *bool
}

type ListDecisionsParams struct {
	Limit     int
	Offset    int
	SessionID *uint64
	Market    *string
	Executed  *bool
	Since     *time.Time
	OrderBy   string
	Asc       *bool
}

type ListEquityPointsParams struct {
	Limit     int
	Offset    int
	AccountID uint64
	Since     *time.Time
	Until     *time.Time
	Asc       *bool
}
