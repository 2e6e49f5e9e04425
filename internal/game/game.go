package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"bourse/internal/sheet"
	"bourse/internal/store"
)

// Game is one independent instance of the simulated market. The record is a
// cache of the storage row: every mutator writes through and re-hydrates, so
// the in-memory state never runs ahead of the store.
type Game struct {
	reg *Registry
	mu  sync.Mutex
	rec store.GameRecord
}

func (g *Game) snapshot() store.GameRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rec
}

func (g *Game) reload(ctx context.Context) error {
	rec, err := g.reg.store.Game(ctx, g.ID())
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.rec = rec
	g.mu.Unlock()
	return nil
}

func (g *Game) update(ctx context.Context, mutate func(*store.GameRecord)) error {
	rec := g.snapshot()
	mutate(&rec)
	if err := g.reg.store.UpdateGame(ctx, rec); err != nil {
		return err
	}
	return g.reload(ctx)
}

func (g *Game) ID() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rec.ID
}

func (g *Game) Name() string             { return g.snapshot().Name }
func (g *Game) JoinKey() string          { return g.snapshot().JoinKey }
func (g *Game) ConfigLink() string       { return g.snapshot().ConfigLink }
func (g *Game) AdminContact() string     { return g.snapshot().AdminContact }
func (g *Game) ChartLink() string        { return g.snapshot().ChartLink }
func (g *Game) StartPrice() float64      { return g.snapshot().StartPrice }
func (g *Game) StartCash() float64       { return g.snapshot().StartCash }
func (g *Game) MaxPercentage() float64   { return g.snapshot().MaxPercentage }
func (g *Game) SellFactor() float64      { return g.snapshot().SellFactor }
func (g *Game) BuyFactor() float64       { return g.snapshot().BuyFactor }
func (g *Game) IsMarketOpen() bool       { return g.snapshot().MarketOpen }
func (g *Game) IsRegistrationOpen() bool { return g.snapshot().RegistrationOpen }

// IsConfigured reports whether the base values have been loaded from the
// configuration feed. StartDay is always part of a valid base-value set.
func (g *Game) IsConfigured() bool {
	return !g.snapshot().StartDay.IsZero()
}

// Timezone is the game's fixed UTC offset location.
func (g *Game) Timezone() *time.Location {
	offset := g.snapshot().Timezone
	return time.FixedZone(fmt.Sprintf("UTC%+d", offset), offset*3600)
}

// Today is the current calendar day in the game's own timezone.
func (g *Game) Today() time.Time {
	return store.Day(g.reg.now().In(g.Timezone()))
}

// IsRunning reports whether today falls inside the trading date range.
func (g *Game) IsRunning() bool {
	rec := g.snapshot()
	if rec.StartDay.IsZero() || rec.EndDay.IsZero() {
		return false
	}
	today := g.Today()
	return !today.Before(rec.StartDay) && !today.After(rec.EndDay)
}

// IsEnded reports whether the game is over for scheduling purposes. A game
// with no end day configured counts as ended: it cannot be scheduled until
// an end day is set.
func (g *Game) IsEnded() bool {
	rec := g.snapshot()
	if rec.EndDay.IsZero() {
		return true
	}
	return g.Today().After(rec.EndDay)
}

func (g *Game) OpenMarket(ctx context.Context) error {
	if g.IsMarketOpen() {
		return nil
	}
	g.reg.log.Info("open market", "game_id", g.ID())
	return g.update(ctx, func(rec *store.GameRecord) { rec.MarketOpen = true })
}

func (g *Game) CloseMarket(ctx context.Context) error {
	if !g.IsMarketOpen() {
		return nil
	}
	g.reg.log.Info("close market", "game_id", g.ID())
	return g.update(ctx, func(rec *store.GameRecord) { rec.MarketOpen = false })
}

func (g *Game) SetRegistrationOpen(ctx context.Context, open bool) error {
	return g.update(ctx, func(rec *store.GameRecord) { rec.RegistrationOpen = open })
}

// ChangeConfigLink stores the new link, re-derives the display name from the
// sheet title, issues a fresh single-use join key and writes it back to the
// sheet so the operator can hand it out.
func (g *Game) ChangeConfigLink(ctx context.Context, link string) error {
	title, err := g.reg.feed.Title(ctx, link)
	if err != nil {
		return fmt.Errorf("read sheet title: %w", err)
	}
	joinKey := fmt.Sprintf("%d%s", g.ID(), randKey(5))
	err = g.update(ctx, func(rec *store.GameRecord) {
		rec.ConfigLink = link
		rec.Name = title
		rec.JoinKey = joinKey
	})
	if err != nil {
		return err
	}
	if err := g.reg.feed.WriteJoinKey(ctx, link, joinKey); err != nil {
		return fmt.Errorf("write join key to sheet: %w", err)
	}
	return nil
}

// LoadConfigIfReady reads the base values once the sheet operator has marked
// them ready. Returns false without mutating anything when the sheet is not
// ready or the values do not parse; both cases are retried by the config
// poll.
func (g *Game) LoadConfigIfReady(ctx context.Context) (bool, error) {
	link := g.ConfigLink()
	ready, err := g.reg.feed.Ready(ctx, link)
	if err != nil {
		return false, err
	}
	if !ready {
		g.reg.log.Info("config not ready", "game_id", g.ID())
		return false, nil
	}
	values, err := g.reg.feed.BaseValues(ctx, link)
	if err != nil {
		if errors.Is(err, sheet.ErrUnavailable) {
			return false, err
		}
		// Malformed values abort this attempt only; the game stays
		// unconfigured until the operator fixes the sheet.
		g.reg.log.Error("config values not correct", "game_id", g.ID(), "err", err)
		return false, nil
	}
	err = g.update(ctx, func(rec *store.GameRecord) {
		rec.Timezone = values.Timezone
		rec.StartDay = store.Day(values.StartDay)
		if values.EndDay.IsZero() {
			rec.EndDay = time.Time{}
		} else {
			rec.EndDay = store.Day(values.EndDay)
		}
		rec.OpenTime = values.OpenTime
		rec.CloseTime = values.CloseTime
		rec.StartPrice = values.StartPrice
		rec.StartCash = values.StartCash
		rec.MaxPercentage = values.MaxPercentage
		rec.SellFactor = values.SellFactor
		rec.BuyFactor = values.BuyFactor
		rec.ExtraCash = values.ExtraCash
		rec.AdminContact = values.AdminContact
		rec.ChartLink = values.ChartLink
	})
	if err != nil {
		return false, err
	}
	g.reg.log.Info("config loaded", "game_id", g.ID())
	return true, nil
}

// LoadRoster creates a company per roster row at the starting price. Rows
// whose ticker already exists are skipped, so a re-run cannot duplicate the
// roster.
func (g *Game) LoadRoster(ctx context.Context) error {
	rows, err := g.reg.feed.Companies(ctx, g.ConfigLink())
	if err != nil {
		return err
	}
	existing, err := g.Companies(ctx)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(existing))
	for _, c := range existing {
		seen[c.Ticker()] = true
	}
	startPrice := g.StartPrice()
	for _, row := range rows {
		if seen[row.Ticker] {
			continue
		}
		_, err := g.reg.store.CreateCompany(ctx, store.CompanyRecord{
			GameID: g.ID(),
			Name:   row.Name,
			Ticker: row.Ticker,
			Price:  startPrice,
		})
		if err != nil {
			return fmt.Errorf("create company %s: %w", row.Ticker, err)
		}
	}
	return nil
}

// JoinOpen admits an identity into the game: a game-user seeded with the
// starting cash, made the identity's single active game-user.
func (g *Game) JoinOpen(ctx context.Context, identityID int64) (*GameUser, error) {
	if !g.IsRegistrationOpen() {
		return nil, ErrRegistrationClosed
	}
	_, err := g.reg.store.GameUserIDByIdentity(ctx, identityID, g.ID())
	switch {
	case err == nil:
		return nil, ErrDuplicateJoin
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}
	id, err := g.reg.store.CreateGameUser(ctx, store.GameUserRecord{
		IdentityID: identityID,
		GameID:     g.ID(),
		Cash:       round2(g.StartCash()),
	})
	if err != nil {
		return nil, err
	}
	if err := g.reg.store.ActivateGameUser(ctx, id); err != nil {
		return nil, err
	}
	return g.reg.GameUser(ctx, id)
}

// ExportRegistration appends the completed profile to the sheet's
// registration tab.
func (g *Game) ExportRegistration(ctx context.Context, gu *GameUser) error {
	displayName := ""
	if identity, err := g.reg.Identity(ctx, gu.IdentityID()); err == nil {
		displayName = identity.DisplayName()
	}
	return g.reg.feed.AppendRegistration(ctx, g.ConfigLink(), sheet.Registration{
		LastName:    gu.LastName(),
		FirstName:   gu.FirstName(),
		Nickname:    gu.Nickname(),
		DisplayName: displayName,
	})
}

func (g *Game) FAQ(ctx context.Context) ([]sheet.QA, error) {
	return g.reg.feed.FAQ(ctx, g.ConfigLink())
}

func (g *Game) Companies(ctx context.Context) ([]*Company, error) {
	ids, err := g.reg.store.CompanyIDs(ctx, g.ID())
	if err != nil {
		return nil, err
	}
	out := make([]*Company, 0, len(ids))
	for _, id := range ids {
		c, err := g.reg.Company(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (g *Game) GameUsers(ctx context.Context) ([]*GameUser, error) {
	ids, err := g.reg.store.GameUserIDs(ctx, g.ID())
	if err != nil {
		return nil, err
	}
	out := make([]*GameUser, 0, len(ids))
	for _, id := range ids {
		gu, err := g.reg.GameUser(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, gu)
	}
	return out, nil
}

// OpenTimeServer and CloseTimeServer convert the configured game-local
// open/close times into the server's timezone for scheduling, wrapping on
// the 24-hour clock.
func (g *Game) OpenTimeServer() (hour, minute int, err error) {
	return g.localTimeInServerTZ(g.snapshot().OpenTime)
}

func (g *Game) CloseTimeServer() (hour, minute int, err error) {
	return g.localTimeInServerTZ(g.snapshot().CloseTime)
}

func (g *Game) localTimeInServerTZ(clock string) (int, int, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return 0, 0, fmt.Errorf("parse game time %q: %w", clock, err)
	}
	hour := t.Hour() - g.snapshot().Timezone + g.reg.serverTZ
	hour = ((hour % 24) + 24) % 24
	return hour, t.Minute(), nil
}

// JobBeforeOpen reads today's row from the sheet's timetable and opens or
// closes the market to match.
func (g *Game) JobBeforeOpen(ctx context.Context) error {
	day, open, err := g.reg.feed.Timetable(ctx, g.ConfigLink())
	if err != nil {
		return err
	}
	if store.Day(day).Equal(g.Today()) && open {
		return g.OpenMarket(ctx)
	}
	return g.CloseMarket(ctx)
}
