// Package sched is a small in-process job scheduler. Jobs are registered
// under an explicit (game, kind) key, so re-registering replaces instead of
// piling up duplicates, and a job can be cancelled by key without holding a
// handle to it.
package sched

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Kind string

const (
	KindConfigPoll Kind = "config-poll"
	KindBeforeOpen Kind = "before-open"
	KindAfterClose Kind = "after-close"
)

// Key identifies one scheduled job. One job per game per kind.
type Key struct {
	GameID int64
	Kind   Kind
}

// Action is what a job run tells the scheduler to do with its registration.
type Action int

const (
	Keep Action = iota
	Remove
)

// Func is one job run. Returning Remove unregisters the job.
type Func func(ctx context.Context) Action

type job struct {
	key    Key
	run    Func
	every  time.Duration // interval jobs
	hour   int           // daily jobs
	minute int
	daily  bool
	next   time.Time
}

// Scheduler ticks once a second and runs every job whose next fire time has
// passed. Jobs run inline on the tick goroutine: the engine's jobs are short
// and their ordering per game matters more than parallelism.
type Scheduler struct {
	log *slog.Logger
	now func() time.Time

	mu   sync.Mutex
	jobs map[Key]*job
}

func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		log:  logger,
		now:  time.Now,
		jobs: make(map[Key]*job),
	}
}

// SetClock pins the scheduler clock for tests.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// AddEvery registers an interval job. An existing job under the same key is
// replaced.
func (s *Scheduler) AddEvery(key Key, every time.Duration, run Func) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[key] = &job{
		key:   key,
		run:   run,
		every: every,
		next:  s.now().Add(every),
	}
	s.log.Info("job scheduled", "game_id", key.GameID, "kind", string(key.Kind), "every", every.String())
}

// AddDaily registers a job firing once a day at hour:minute server time. An
// existing job under the same key is replaced.
func (s *Scheduler) AddDaily(key Key, hour, minute int, run Func) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := &job{
		key:    key,
		run:    run,
		hour:   hour,
		minute: minute,
		daily:  true,
	}
	j.next = nextDaily(s.now(), hour, minute)
	s.jobs[key] = j
	s.log.Info("job scheduled", "game_id", key.GameID, "kind", string(key.Kind),
		"at", j.next.Format("15:04"))
}

func (s *Scheduler) Remove(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[key]; ok {
		delete(s.jobs, key)
		s.log.Info("job removed", "game_id", key.GameID, "kind", string(key.Kind))
	}
}

// RemoveGame drops every job of one game, whatever the kind.
func (s *Scheduler) RemoveGame(gameID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.jobs {
		if key.GameID == gameID {
			delete(s.jobs, key)
		}
	}
}

func (s *Scheduler) Has(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[key]
	return ok
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Tick runs every due job once. Exposed so tests can drive the scheduler
// without real time.
func (s *Scheduler) Tick(ctx context.Context) {
	now := func() time.Time {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.now()
	}()

	s.mu.Lock()
	due := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if !now.Before(j.next) {
			due = append(due, j)
		}
	}
	s.mu.Unlock()

	for _, j := range due {
		action := j.run(ctx)

		s.mu.Lock()
		current, ok := s.jobs[j.key]
		if ok && current == j {
			if action == Remove {
				delete(s.jobs, j.key)
			} else if j.daily {
				j.next = nextDaily(now, j.hour, j.minute)
			} else {
				j.next = now.Add(j.every)
			}
		}
		s.mu.Unlock()
	}
}

// Run ticks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

func nextDaily(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
