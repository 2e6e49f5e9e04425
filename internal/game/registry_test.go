package game

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"bourse/internal/store"
)

type countingStore struct {
	store.Store
	gameLoads atomic.Int64
}

func (c *countingStore) Game(ctx context.Context, id int64) (store.GameRecord, error) {
	c.gameLoads.Add(1)
	return c.Store.Game(ctx, id)
}

func TestRegistryReturnsSameInstance(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	g, err := svc.CreateGame(ctx)
	if err != nil {
		t.Fatalf("create game: %v", err)
	}
	again, err := svc.Game(ctx, g.ID())
	if err != nil {
		t.Fatalf("get game: %v", err)
	}
	if g != again {
		t.Fatalf("expected the identical aggregate instance on repeated gets")
	}
}

func TestRegistryCachesMissing(t *testing.T) {
	svc, st, _ := newTestService(t)
	counting := &countingStore{Store: st}
	svc.reg.store = counting
	ctx := context.Background()

	if _, err := svc.Game(ctx, 404); !errors.Is(err, ErrEntityNotFound) {
		t.Fatalf("expected ErrEntityNotFound, got %v", err)
	}
	loads := counting.gameLoads.Load()

	if _, err := svc.Game(ctx, 404); !errors.Is(err, ErrEntityNotFound) {
		t.Fatalf("expected ErrEntityNotFound, got %v", err)
	}
	if counting.gameLoads.Load() != loads {
		t.Fatalf("missing id was re-queried, want cached not-found")
	}
}

func TestInvalidateAllEvicts(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	g, err := svc.CreateGame(ctx)
	if err != nil {
		t.Fatalf("create game: %v", err)
	}
	svc.reg.InvalidateAll()

	fresh, err := svc.Game(ctx, g.ID())
	if err != nil {
		t.Fatalf("get game after invalidate: %v", err)
	}
	if fresh == g {
		t.Fatalf("expected a fresh instance after InvalidateAll")
	}
}

func TestInvalidateAllClearsMissingSentinel(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Game(ctx, 7); !errors.Is(err, ErrEntityNotFound) {
		t.Fatalf("expected ErrEntityNotFound, got %v", err)
	}

	// The id comes into existence later; a full invalidation must let the
	// registry see it.
	for {
		id, err := st.CreateGame(ctx)
		if err != nil {
			t.Fatalf("create game: %v", err)
		}
		if id >= 7 {
			break
		}
	}
	svc.reg.InvalidateAll()
	if _, err := svc.Game(ctx, 7); err != nil {
		t.Fatalf("expected game 7 to load after invalidate, got %v", err)
	}
}
