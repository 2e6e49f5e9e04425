package sched

import (
	"context"
	"testing"
	"time"
)

var base = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func pinned(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestAddEveryFiresAfterInterval(t *testing.T) {
	sc := New(nil)
	sc.SetClock(pinned(base))
	runs := 0
	sc.AddEvery(Key{GameID: 1, Kind: KindConfigPoll}, 10*time.Second, func(ctx context.Context) Action {
		runs++
		return Keep
	})

	sc.Tick(context.Background())
	if runs != 0 {
		t.Fatalf("job fired before its interval elapsed")
	}

	sc.SetClock(pinned(base.Add(10 * time.Second)))
	sc.Tick(context.Background())
	if runs != 1 {
		t.Fatalf("runs = %d, want 1", runs)
	}

	// Not due again until another full interval.
	sc.SetClock(pinned(base.Add(15 * time.Second)))
	sc.Tick(context.Background())
	if runs != 1 {
		t.Fatalf("runs = %d, want still 1", runs)
	}
	sc.SetClock(pinned(base.Add(21 * time.Second)))
	sc.Tick(context.Background())
	if runs != 2 {
		t.Fatalf("runs = %d, want 2", runs)
	}
}

func TestAddReplacesExistingKey(t *testing.T) {
	sc := New(nil)
	sc.SetClock(pinned(base))
	key := Key{GameID: 1, Kind: KindConfigPoll}

	var first, second int
	sc.AddEvery(key, time.Second, func(ctx context.Context) Action { first++; return Keep })
	sc.AddEvery(key, time.Second, func(ctx context.Context) Action { second++; return Keep })
	if sc.Len() != 1 {
		t.Fatalf("jobs = %d, want the same key replaced", sc.Len())
	}

	sc.SetClock(pinned(base.Add(2 * time.Second)))
	sc.Tick(context.Background())
	if first != 0 || second != 1 {
		t.Fatalf("replaced job ran: first=%d second=%d", first, second)
	}
}

func TestRemoveActionUnregisters(t *testing.T) {
	sc := New(nil)
	sc.SetClock(pinned(base))
	key := Key{GameID: 3, Kind: KindAfterClose}
	runs := 0
	sc.AddEvery(key, time.Second, func(ctx context.Context) Action {
		runs++
		return Remove
	})

	sc.SetClock(pinned(base.Add(2 * time.Second)))
	sc.Tick(context.Background())
	if runs != 1 {
		t.Fatalf("runs = %d, want 1", runs)
	}
	if sc.Has(key) {
		t.Fatalf("job still registered after returning Remove")
	}

	sc.SetClock(pinned(base.Add(10 * time.Second)))
	sc.Tick(context.Background())
	if runs != 1 {
		t.Fatalf("removed job ran again")
	}
}

func TestAddDailyFiresAtWallClock(t *testing.T) {
	sc := New(nil)
	sc.SetClock(pinned(base)) // 12:00
	runs := 0
	sc.AddDaily(Key{GameID: 2, Kind: KindBeforeOpen}, 18, 30, func(ctx context.Context) Action {
		runs++
		return Keep
	})

	sc.SetClock(pinned(base.Add(6 * time.Hour))) // 18:00
	sc.Tick(context.Background())
	if runs != 0 {
		t.Fatalf("daily job fired before its wall-clock time")
	}

	sc.SetClock(pinned(base.Add(6*time.Hour + 31*time.Minute))) // 18:31
	sc.Tick(context.Background())
	if runs != 1 {
		t.Fatalf("runs = %d, want 1", runs)
	}

	// Same day again: nothing. Next day at 18:30: fires once more.
	sc.SetClock(pinned(base.Add(8 * time.Hour)))
	sc.Tick(context.Background())
	if runs != 1 {
		t.Fatalf("daily job fired twice in one day")
	}
	sc.SetClock(pinned(base.Add(24*time.Hour + 6*time.Hour + 31*time.Minute)))
	sc.Tick(context.Background())
	if runs != 2 {
		t.Fatalf("runs = %d, want 2 after the next day", runs)
	}
}

func TestAddDailySchedulesForTomorrowWhenPast(t *testing.T) {
	sc := New(nil)
	sc.SetClock(pinned(base)) // 12:00
	runs := 0
	sc.AddDaily(Key{GameID: 2, Kind: KindAfterClose}, 9, 0, func(ctx context.Context) Action {
		runs++
		return Keep
	})

	// 09:00 already passed today; the job must not fire until tomorrow.
	sc.SetClock(pinned(base.Add(4 * time.Hour)))
	sc.Tick(context.Background())
	if runs != 0 {
		t.Fatalf("past wall-clock time fired on registration day")
	}
	sc.SetClock(pinned(base.Add(22 * time.Hour))) // next day 10:00
	sc.Tick(context.Background())
	if runs != 1 {
		t.Fatalf("runs = %d, want 1 on the following day", runs)
	}
}

func TestRemoveGameDropsAllKinds(t *testing.T) {
	sc := New(nil)
	sc.SetClock(pinned(base))
	noop := func(ctx context.Context) Action { return Keep }
	sc.AddEvery(Key{GameID: 5, Kind: KindConfigPoll}, time.Second, noop)
	sc.AddDaily(Key{GameID: 5, Kind: KindBeforeOpen}, 9, 0, noop)
	sc.AddDaily(Key{GameID: 6, Kind: KindBeforeOpen}, 9, 0, noop)

	sc.RemoveGame(5)
	if sc.Has(Key{GameID: 5, Kind: KindConfigPoll}) || sc.Has(Key{GameID: 5, Kind: KindBeforeOpen}) {
		t.Fatalf("game 5 jobs survived RemoveGame")
	}
	if !sc.Has(Key{GameID: 6, Kind: KindBeforeOpen}) {
		t.Fatalf("unrelated game's job was removed")
	}
}
