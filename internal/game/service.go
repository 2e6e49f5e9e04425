package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bourse/internal/sched"
	"bourse/internal/sheet"
	"bourse/internal/store"
)

// Service is the engine's front door: everything the API, the scheduler and
// the CLI do goes through it. It owns the registry and hands out live
// aggregates. The whole engine runs in one process: a single Service and a
// single registry mutate each game, and the scheduler drives lifecycle jobs
// through that same Service.
type Service struct {
	reg *Registry
	log *slog.Logger

	sched     *sched.Scheduler
	pollEvery time.Duration
}

func NewService(st store.Store, feed sheet.Feed, serverTZ int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		reg: NewRegistry(st, feed, serverTZ, logger),
		log: logger,
	}
}

// SetClock pins the engine clock; tests use it to place "today" exactly.
func (s *Service) SetClock(now func() time.Time) { s.reg.SetClock(now) }

// AttachScheduler lets the service register lifecycle jobs as a side effect
// of its operations: binding a config link starts the readiness poll without
// waiting for a restart. Without one, scheduling is the caller's problem.
func (s *Service) AttachScheduler(sc *sched.Scheduler, pollEvery time.Duration) {
	s.sched = sc
	s.pollEvery = pollEvery
}

// EnsureIdentity records or refreshes a chat-platform account and returns its
// aggregate. Safe to call on every inbound request.
func (s *Service) EnsureIdentity(ctx context.Context, id int64, displayName string) (*Identity, error) {
	if err := s.reg.store.UpsertIdentity(ctx, id, displayName); err != nil {
		return nil, err
	}
	// The upsert may have changed a row cached before this call.
	s.reg.mu.Lock()
	delete(s.reg.identities, id)
	s.reg.mu.Unlock()
	return s.reg.Identity(ctx, id)
}

func (s *Service) Identity(ctx context.Context, id int64) (*Identity, error) {
	return s.reg.Identity(ctx, id)
}

func (s *Service) PromoteSuperadmin(ctx context.Context, id int64) error {
	identity, err := s.reg.Identity(ctx, id)
	if err != nil {
		return err
	}
	return identity.SetSuperadmin(ctx, true)
}

func (s *Service) Ban(ctx context.Context, id int64) error {
	identity, err := s.reg.Identity(ctx, id)
	if err != nil {
		return err
	}
	return identity.SetBlocked(ctx, true)
}

func (s *Service) Unban(ctx context.Context, id int64) error {
	identity, err := s.reg.Identity(ctx, id)
	if err != nil {
		return err
	}
	return identity.SetBlocked(ctx, false)
}

func (s *Service) SuperadminIDs(ctx context.Context) ([]int64, error) {
	return s.reg.store.SuperadminIDs(ctx)
}

// CreateGame makes an empty, unconfigured game. It only becomes playable
// after SetConfigLink and a successful config load.
func (s *Service) CreateGame(ctx context.Context) (*Game, error) {
	id, err := s.reg.store.CreateGame(ctx)
	if err != nil {
		return nil, err
	}
	s.log.Info("game created", "game_id", id)
	return s.reg.Game(ctx, id)
}

func (s *Service) Game(ctx context.Context, id int64) (*Game, error) {
	return s.reg.Game(ctx, id)
}

func (s *Service) Games(ctx context.Context) ([]*Game, error) {
	ids, err := s.reg.store.GameIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Game, 0, len(ids))
	for _, id := range ids {
		g, err := s.reg.Game(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func (s *Service) GameByJoinKey(ctx context.Context, key string) (*Game, error) {
	id, err := s.reg.store.GameIDByJoinKey(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrEntityNotFound
		}
		return nil, err
	}
	return s.reg.Game(ctx, id)
}

func (s *Service) GameUser(ctx context.Context, id int64) (*GameUser, error) {
	return s.reg.GameUser(ctx, id)
}

// ActiveGameUser resolves the identity's single active participation.
func (s *Service) ActiveGameUser(ctx context.Context, identityID int64) (*GameUser, error) {
	id, err := s.reg.store.ActiveGameUserID(ctx, identityID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrEntityNotFound
		}
		return nil, err
	}
	return s.reg.GameUser(ctx, id)
}

func (s *Service) Company(ctx context.Context, id int64) (*Company, error) {
	return s.reg.Company(ctx, id)
}

// SetConfigLink validates the link against the feed before binding it to the
// game; a link the feed cannot serve is rejected outright.
func (s *Service) SetConfigLink(ctx context.Context, gameID int64, link string) error {
	g, err := s.reg.Game(ctx, gameID)
	if err != nil {
		return err
	}
	if err := s.reg.feed.Validate(ctx, link); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfigLink, err)
	}
	if err := g.ChangeConfigLink(ctx, link); err != nil {
		return err
	}
	if s.sched != nil && !g.IsConfigured() {
		s.ScheduleConfigPoll(s.sched, gameID, s.pollEvery)
	}
	return nil
}

// Join admits the identity into the game behind the join key and activates
// the resulting game-user.
func (s *Service) Join(ctx context.Context, identityID int64, joinKey string) (*GameUser, error) {
	g, err := s.GameByJoinKey(ctx, joinKey)
	if err != nil {
		return nil, err
	}
	gu, err := g.JoinOpen(ctx, identityID)
	if err != nil {
		return nil, err
	}
	s.log.Info("identity joined game", "game_id", g.ID(), "identity_id", identityID, "game_user_id", gu.ID())
	return gu, nil
}

// ForceSettlement runs the full after-close pipeline immediately, outside the
// schedule. Admin escape hatch.
func (s *Service) ForceSettlement(ctx context.Context, gameID int64) error {
	g, err := s.reg.Game(ctx, gameID)
	if err != nil {
		return err
	}
	s.log.Info("forced settlement", "game_id", gameID)
	return g.JobAfterClose(ctx)
}

// ForceConfigReload re-reads the base values regardless of the readiness
// flag having been consumed before. A sheet not marked ready, or one whose
// values do not parse, is reported as ErrConfigNotReady.
func (s *Service) ForceConfigReload(ctx context.Context, gameID int64) (bool, error) {
	g, err := s.reg.Game(ctx, gameID)
	if err != nil {
		return false, err
	}
	loaded, err := g.LoadConfigIfReady(ctx)
	if err != nil {
		return false, err
	}
	if !loaded {
		return false, ErrConfigNotReady
	}
	return true, nil
}
