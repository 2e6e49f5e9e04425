package game

import (
	"context"
	"errors"
	"sync"

	"bourse/internal/store"
)

// GameUser is a player's participation record within one game.
type GameUser struct {
	reg *Registry
	mu  sync.Mutex
	rec store.GameUserRecord
}

func (u *GameUser) snapshot() store.GameUserRecord {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.rec
}

func (u *GameUser) ID() int64         { return u.snapshot().ID }
func (u *GameUser) IdentityID() int64 { return u.snapshot().IdentityID }
func (u *GameUser) GameID() int64     { return u.snapshot().GameID }
func (u *GameUser) FirstName() string { return u.snapshot().FirstName }
func (u *GameUser) LastName() string  { return u.snapshot().LastName }
func (u *GameUser) Nickname() string  { return u.snapshot().Nickname }
func (u *GameUser) Cash() float64     { return u.snapshot().Cash }
func (u *GameUser) IsActive() bool    { return u.snapshot().Active }

func (u *GameUser) Game(ctx context.Context) (*Game, error) {
	return u.reg.Game(ctx, u.GameID())
}

func (u *GameUser) reload(ctx context.Context) error {
	rec, err := u.reg.store.GameUser(ctx, u.ID())
	if err != nil {
		return err
	}
	u.mu.Lock()
	u.rec = rec
	u.mu.Unlock()
	return nil
}

func (u *GameUser) update(ctx context.Context, mutate func(*store.GameUserRecord)) error {
	rec := u.snapshot()
	mutate(&rec)
	if err := u.reg.store.UpdateGameUser(ctx, rec); err != nil {
		return err
	}
	return u.reload(ctx)
}

func (u *GameUser) ChangeFirstName(ctx context.Context, name string) error {
	return u.update(ctx, func(rec *store.GameUserRecord) { rec.FirstName = name })
}

func (u *GameUser) ChangeLastName(ctx context.Context, name string) error {
	return u.update(ctx, func(rec *store.GameUserRecord) { rec.LastName = name })
}

// ChangeNickname rejects nicknames already taken by any game-user in any
// game. Uniqueness is global, matching the storage schema.
func (u *GameUser) ChangeNickname(ctx context.Context, nickname string) error {
	if nickname != u.Nickname() {
		taken, err := u.reg.store.NicknameTaken(ctx, nickname)
		if err != nil {
			return err
		}
		if taken {
			return ErrDuplicateNickname
		}
	}
	err := u.update(ctx, func(rec *store.GameUserRecord) { rec.Nickname = nickname })
	if errors.Is(err, store.ErrDuplicateNickname) {
		return ErrDuplicateNickname
	}
	return err
}

// Activate makes this the identity's single active game-user; any previous
// active one is deactivated in the same store write.
func (u *GameUser) Activate(ctx context.Context) error {
	if err := u.reg.store.ActivateGameUser(ctx, u.ID()); err != nil {
		return err
	}
	return u.reload(ctx)
}

func (u *GameUser) setCash(ctx context.Context, cash float64) error {
	return u.update(ctx, func(rec *store.GameUserRecord) { rec.Cash = round2(cash) })
}

// Shares lists the user's holdings; companyID 0 means all companies.
func (u *GameUser) Shares(ctx context.Context, companyID int64) ([]*Share, error) {
	ids, err := u.reg.store.ShareIDs(ctx, u.ID(), companyID)
	if err != nil {
		return nil, err
	}
	out := make([]*Share, 0, len(ids))
	for _, id := range ids {
		sh, err := u.reg.Share(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, sh)
	}
	return out, nil
}

func (u *GameUser) HoldingCount(ctx context.Context, companyID int64) (int, error) {
	ids, err := u.reg.store.ShareIDs(ctx, u.ID(), companyID)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// HoldingValue is the current worth of the user's shares in one company.
// A share has no price of its own; it is always worth the company price.
func (u *GameUser) HoldingValue(ctx context.Context, companyID int64) (float64, error) {
	count, err := u.HoldingCount(ctx, companyID)
	if err != nil {
		return 0, err
	}
	company, err := u.reg.Company(ctx, companyID)
	if err != nil {
		return 0, err
	}
	return company.Price() * float64(count), nil
}

// PortfolioSize is cash plus the current value of every held share,
// recomputed from live prices on every call. It is never cached across a
// price update.
func (u *GameUser) PortfolioSize(ctx context.Context) (float64, error) {
	shares, err := u.Shares(ctx, 0)
	if err != nil {
		return 0, err
	}
	total := u.Cash()
	for _, sh := range shares {
		price, err := sh.Price(ctx)
		if err != nil {
			return 0, err
		}
		total += price
	}
	return total, nil
}
