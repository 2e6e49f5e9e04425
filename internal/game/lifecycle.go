package game

import (
	"context"
	"time"

	"bourse/internal/sched"
)

// ScheduleConfigPoll polls the game's sheet until the base values load, then
// seeds the roster, opens the market and hands scheduling over to the daily
// jobs. Feed failures keep the poll alive; only a successful load retires it.
func (s *Service) ScheduleConfigPoll(sc *sched.Scheduler, gameID int64, every time.Duration) {
	key := sched.Key{GameID: gameID, Kind: sched.KindConfigPoll}
	sc.AddEvery(key, every, func(ctx context.Context) sched.Action {
		g, err := s.reg.Game(ctx, gameID)
		if err != nil {
			s.log.Error("config poll: game gone", "game_id", gameID, "err", err)
			return sched.Remove
		}
		loaded, err := g.LoadConfigIfReady(ctx)
		if err != nil {
			s.log.Error("config poll attempt failed", "game_id", gameID, "err", err)
			return sched.Keep
		}
		if !loaded {
			return sched.Keep
		}
		if err := g.LoadRoster(ctx); err != nil {
			s.log.Error("load roster", "game_id", gameID, "err", err)
			return sched.Keep
		}
		if err := g.OpenMarket(ctx); err != nil {
			s.log.Error("open market after config", "game_id", gameID, "err", err)
			return sched.Keep
		}
		s.ScheduleDailyJobs(sc, g)
		return sched.Remove
	})
}

// ScheduleDailyJobs registers the before-open and after-close jobs at the
// game's configured times, converted to server time. The jobs re-resolve the
// game on every run so a settlement's cache flush cannot strand them on a
// stale instance, and retire themselves once the game is over.
func (s *Service) ScheduleDailyJobs(sc *sched.Scheduler, g *Game) {
	gameID := g.ID()

	openH, openM, err := g.OpenTimeServer()
	if err != nil {
		s.log.Error("schedule daily jobs", "game_id", gameID, "err", err)
		return
	}
	closeH, closeM, err := g.CloseTimeServer()
	if err != nil {
		s.log.Error("schedule daily jobs", "game_id", gameID, "err", err)
		return
	}

	sc.AddDaily(sched.Key{GameID: gameID, Kind: sched.KindBeforeOpen}, openH, openM,
		func(ctx context.Context) sched.Action {
			g, err := s.reg.Game(ctx, gameID)
			if err != nil {
				s.log.Error("before-open: game gone", "game_id", gameID, "err", err)
				return sched.Remove
			}
			if g.IsEnded() {
				return sched.Remove
			}
			if err := g.JobBeforeOpen(ctx); err != nil {
				s.log.Error("before-open job failed", "game_id", gameID, "err", err)
			}
			return sched.Keep
		})

	sc.AddDaily(sched.Key{GameID: gameID, Kind: sched.KindAfterClose}, closeH, closeM,
		func(ctx context.Context) sched.Action {
			g, err := s.reg.Game(ctx, gameID)
			if err != nil {
				s.log.Error("after-close: game gone", "game_id", gameID, "err", err)
				return sched.Remove
			}
			// IsEnded is strictly after the end day, so the last trading
			// day still settles; the day after, the job retires untriggered.
			if g.IsEnded() {
				return sched.Remove
			}
			if err := g.JobAfterClose(ctx); err != nil {
				s.log.Error("after-close job failed", "game_id", gameID, "err", err)
			}
			return sched.Keep
		})
}

// ReconcileJobs rebuilds the job table from storage on startup: configured
// games that are not over get their daily jobs, games with a link but no
// loaded config get a poll. Anything else stays unscheduled.
func (s *Service) ReconcileJobs(ctx context.Context, sc *sched.Scheduler, pollEvery time.Duration) error {
	games, err := s.Games(ctx)
	if err != nil {
		return err
	}
	for _, g := range games {
		switch {
		case g.IsConfigured() && !g.IsEnded():
			s.ScheduleDailyJobs(sc, g)
		case !g.IsConfigured() && g.ConfigLink() != "":
			s.ScheduleConfigPoll(sc, g.ID(), pollEvery)
		}
	}
	s.log.Info("jobs reconciled", "games", len(games), "jobs", sc.Len())
	return nil
}
