// Package store defines the persistence contract the engine runs against.
// The engine never assumes more than key-indexed load/store semantics; the
// relational layout lives entirely in the implementations.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("store: not found")
	// Nicknames are unique across all games, matching the source schema,
	// even though tickers and companies are game-scoped.
	ErrDuplicateNickname = errors.New("store: nickname already taken")
	ErrDuplicateJoinKey  = errors.New("store: join key already in use")
)

type DealType string

const (
	DealBuy  DealType = "BUY"
	DealSell DealType = "SELL"
)

type GameRecord struct {
	ID               int64
	JoinKey          string
	Name             string
	ConfigLink       string
	Timezone         int       // UTC offset in whole hours
	StartDay         time.Time // date-only, zero = unset
	EndDay           time.Time // date-only, zero = unset (game never scheduled)
	OpenTime         string    // "HH:MM", game-local
	CloseTime        string    // "HH:MM", game-local
	MarketOpen       bool
	RegistrationOpen bool
	StartPrice       float64
	StartCash        float64
	MaxPercentage    float64
	SellFactor       float64
	BuyFactor        float64
	ExtraCash        float64
	AdminContact     string
	ChartLink        string
}

type CompanyRecord struct {
	ID     int64
	GameID int64
	Name   string
	Ticker string
	Price  float64
	Effect float64
}

type GameUserRecord struct {
	ID         int64
	IdentityID int64
	GameID     int64
	FirstName  string
	LastName   string
	Nickname   string
	Cash       float64
	Active     bool
}

type ShareRecord struct {
	ID        int64
	CompanyID int64
	OwnerID   int64
}

type TransactionRecord struct {
	ID        int64
	Day       time.Time
	ActorID   int64
	Type      DealType
	CompanyID int64
	Quantity  int
}

type IdentityRecord struct {
	ID          int64
	DisplayName string
	Superadmin  bool
	Blocked     bool
}

type Games interface {
	CreateGame(ctx context.Context) (int64, error)
	Game(ctx context.Context, id int64) (GameRecord, error)
	GameIDs(ctx context.Context) ([]int64, error)
	GameIDByJoinKey(ctx context.Context, key string) (int64, error)
	UpdateGame(ctx context.Context, rec GameRecord) error
}

type Companies interface {
	CreateCompany(ctx context.Context, rec CompanyRecord) (int64, error)
	Company(ctx context.Context, id int64) (CompanyRecord, error)
	CompanyIDs(ctx context.Context, gameID int64) ([]int64, error)
	UpdateCompany(ctx context.Context, rec CompanyRecord) error
}

type GameUsers interface {
	CreateGameUser(ctx context.Context, rec GameUserRecord) (int64, error)
	GameUser(ctx context.Context, id int64) (GameUserRecord, error)
	GameUserIDs(ctx context.Context, gameID int64) ([]int64, error)
	GameUserIDByIdentity(ctx context.Context, identityID, gameID int64) (int64, error)
	ActiveGameUserID(ctx context.Context, identityID int64) (int64, error)
	UpdateGameUser(ctx context.Context, rec GameUserRecord) error
	// ActivateGameUser marks the game-user active and deactivates any other
	// active game-user of the same identity in the same write.
	ActivateGameUser(ctx context.Context, id int64) error
	NicknameTaken(ctx context.Context, nickname string) (bool, error)
}

type Shares interface {
	CreateShare(ctx context.Context, companyID, ownerID int64) (int64, error)
	Share(ctx context.Context, id int64) (ShareRecord, error)
	// ShareIDs lists shares owned by ownerID; companyID 0 means any company.
	ShareIDs(ctx context.Context, ownerID, companyID int64) ([]int64, error)
	DeleteShare(ctx context.Context, id int64) error
}

type Transactions interface {
	AppendTransaction(ctx context.Context, rec TransactionRecord) (int64, error)
	// SharesTraded sums the quantity over the company's transactions of the
	// given type on the given day.
	SharesTraded(ctx context.Context, companyID int64, day time.Time, deal DealType) (int, error)
}

type CompanyHistory interface {
	AppendCompanyHistory(ctx context.Context, companyID int64, day time.Time, price float64) error
}

type Identities interface {
	UpsertIdentity(ctx context.Context, id int64, displayName string) error
	Identity(ctx context.Context, id int64) (IdentityRecord, error)
	SetSuperadmin(ctx context.Context, id int64, v bool) error
	SetBlocked(ctx context.Context, id int64, v bool) error
	SuperadminIDs(ctx context.Context) ([]int64, error)
}

type Store interface {
	Games
	Companies
	GameUsers
	Shares
	Transactions
	CompanyHistory
	Identities
}

// Day truncates t to a date-only value in UTC so records compare by calendar
// day regardless of the wall clock they were produced with.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
