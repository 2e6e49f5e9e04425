package game

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"bourse/internal/sheet"
	"bourse/internal/store"
)

// Registry is the process-wide identity map over aggregates. A get either
// returns the cached instance or loads it from storage; a load miss is cached
// as a "known missing" sentinel so stale ids do not re-query storage on every
// lookup. There is no eviction beyond InvalidateAll, which settlement runs
// before reading anything.
type Registry struct {
	store    store.Store
	feed     sheet.Feed
	log      *slog.Logger
	serverTZ int
	now      func() time.Time

	mu         sync.Mutex
	games      map[int64]*Game
	companies  map[int64]*Company
	users      map[int64]*GameUser
	shares     map[int64]*Share
	identities map[int64]*Identity

	lockMu    sync.Mutex
	userLocks map[int64]*sync.Mutex
}

func NewRegistry(st store.Store, feed sheet.Feed, serverTZ int, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		store:     st,
		feed:      feed,
		log:       logger,
		serverTZ:  serverTZ,
		now:       time.Now,
		userLocks: make(map[int64]*sync.Mutex),
	}
	r.reset()
	return r
}

// SetClock replaces the wall clock; tests pin it to fixed instants.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

func (r *Registry) reset() {
	r.games = make(map[int64]*Game)
	r.companies = make(map[int64]*Company)
	r.users = make(map[int64]*GameUser)
	r.shares = make(map[int64]*Share)
	r.identities = make(map[int64]*Identity)
}

// InvalidateAll evicts every cached aggregate of every type. Settlement calls
// it once before reading, so a whole pass works from fresh storage reads.
func (r *Registry) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reset()
}

func (r *Registry) Game(ctx context.Context, id int64) (*Game, error) {
	return getOrLoad(ctx, r, func() map[int64]*Game { return r.games }, id,
		func(ctx context.Context, id int64) (*Game, error) {
			rec, err := r.store.Game(ctx, id)
			if err != nil {
				return nil, err
			}
			return &Game{reg: r, rec: rec}, nil
		})
}

func (r *Registry) Company(ctx context.Context, id int64) (*Company, error) {
	return getOrLoad(ctx, r, func() map[int64]*Company { return r.companies }, id,
		func(ctx context.Context, id int64) (*Company, error) {
			rec, err := r.store.Company(ctx, id)
			if err != nil {
				return nil, err
			}
			return &Company{reg: r, rec: rec}, nil
		})
}

func (r *Registry) GameUser(ctx context.Context, id int64) (*GameUser, error) {
	return getOrLoad(ctx, r, func() map[int64]*GameUser { return r.users }, id,
		func(ctx context.Context, id int64) (*GameUser, error) {
			rec, err := r.store.GameUser(ctx, id)
			if err != nil {
				return nil, err
			}
			return &GameUser{reg: r, rec: rec}, nil
		})
}

func (r *Registry) Share(ctx context.Context, id int64) (*Share, error) {
	return getOrLoad(ctx, r, func() map[int64]*Share { return r.shares }, id,
		func(ctx context.Context, id int64) (*Share, error) {
			rec, err := r.store.Share(ctx, id)
			if err != nil {
				return nil, err
			}
			return &Share{reg: r, rec: rec}, nil
		})
}

func (r *Registry) Identity(ctx context.Context, id int64) (*Identity, error) {
	return getOrLoad(ctx, r, func() map[int64]*Identity { return r.identities }, id,
		func(ctx context.Context, id int64) (*Identity, error) {
			rec, err := r.store.Identity(ctx, id)
			if err != nil {
				return nil, err
			}
			return &Identity{reg: r, rec: rec}, nil
		})
}

// getOrLoad resolves the cache through an accessor because InvalidateAll
// swaps the maps out wholesale; a captured map would resurrect evicted
// entries.
func getOrLoad[T any](ctx context.Context, r *Registry, table func() map[int64]*T, id int64,
	load func(context.Context, int64) (*T, error)) (*T, error) {

	r.mu.Lock()
	if v, ok := table()[id]; ok {
		r.mu.Unlock()
		if v == nil {
			return nil, ErrEntityNotFound
		}
		return v, nil
	}
	r.mu.Unlock()

	v, err := load(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r.mu.Lock()
			table()[id] = nil
			r.mu.Unlock()
			return nil, ErrEntityNotFound
		}
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := table()[id]; ok && cached != nil {
		return cached, nil
	}
	table()[id] = v
	return v, nil
}

// forgetShare marks a deleted share as known missing so later lookups by its
// id fail fast instead of hitting storage.
func (r *Registry) forgetShare(id int64) {
	r.mu.Lock()
	r.shares[id] = nil
	r.mu.Unlock()
}

// userLock serializes deal execution per game-user: the whole
// validate-then-execute sequence of a buy or sell runs under it, closing the
// check-then-act window two interleaved deals would otherwise have.
func (r *Registry) userLock(gameUserID int64) *sync.Mutex {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()
	mu, ok := r.userLocks[gameUserID]
	if !ok {
		mu = &sync.Mutex{}
		r.userLocks[gameUserID] = mu
	}
	return mu
}
