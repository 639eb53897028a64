// Package janitor runs the backend's scheduled housekeeping: forfeiting
// rounds nobody finished, removing battles nobody joined and expiring
// stale matchmaking entries.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/gabrieltornquist7/history-clue/internal/battle"
	"github.com/gabrieltornquist7/history-clue/internal/lobby"
	"github.com/gabrieltornquist7/history-clue/internal/metrics"
)

type Config struct {
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL" envDefault:"10s"`
	ForfeitGrace    time.Duration `env:"FORFEIT_GRACE" envDefault:"30s"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"5m"`
	AbandonAfter    time.Duration `env:"ABANDON_AFTER" envDefault:"1h"`
	QueueTTL        time.Duration `env:"QUEUE_TTL" envDefault:"30s"`
}

// Store is the slice of the battle store the janitor sweeps.
type Store interface {
	ListActiveRounds(ctx context.Context) ([]battle.Round, error)
	ForfeitMissing(ctx context.Context, roundID string, at time.Time) (bool, error)
	DeleteAbandoned(ctx context.Context, cutoff time.Time) ([]string, error)
	ExpireQueue(ctx context.Context, cutoff time.Time) (int, error)
}

type Resolver interface {
	Resolve(ctx context.Context, matchID string) (lobby.Resolution, error)
}

type Janitor struct {
	store    Store
	resolver Resolver
	timing   battle.Timing
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

func New(store Store, resolver Resolver, timing battle.Timing, cfg Config, logger *slog.Logger) *Janitor {
	return &Janitor{
		store:    store,
		resolver: resolver,
		timing:   timing,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock overrides the time source.
func (j *Janitor) SetClock(now func() time.Time) { j.now = now }

// SweepForfeits gives every round still open ForfeitGrace after its
// deadline a zero-score forfeit for each missing player, then resolves it.
// Rounds that already have both submissions but were never resolved are
// resolved too. It returns the number of rounds resolved.
func (j *Janitor) SweepForfeits(ctx context.Context) (int, error) {
	rounds, err := j.store.ListActiveRounds(ctx)
	if err != nil {
		return 0, err
	}

	now := j.now()
	resolved := 0
	for _, r := range rounds {
		overdue := now.After(j.timing.Deadline(r).Add(j.cfg.ForfeitGrace))
		if !overdue && !r.BothSubmitted() {
			continue
		}
		if overdue && !r.BothSubmitted() {
			filled, err := j.store.ForfeitMissing(ctx, r.ID, now)
			if err != nil {
				return resolved, err
			}
			if filled {
				j.logger.Info("round forfeited", "battle_id", r.BattleID, "round", r.RoundNumber,
					"player1_forfeit", !r.Player1.Submitted(), "player2_forfeit", !r.Player2.Submitted())
			}
		}

		res, err := j.resolver.Resolve(ctx, r.BattleID)
		if err != nil {
			j.logger.Warn("resolving overdue round", "battle_id", r.BattleID, "error", err)
			continue
		}
		if res.RoundResolved {
			resolved++
		}
	}
	return resolved, nil
}

// CleanAbandoned deletes waiting battles older than AbandonAfter.
func (j *Janitor) CleanAbandoned(ctx context.Context) (int, error) {
	ids, err := j.store.DeleteAbandoned(ctx, j.now().Add(-j.cfg.AbandonAfter))
	if err != nil {
		return 0, err
	}
	if len(ids) > 0 {
		j.logger.Info("abandoned battles removed", "count", len(ids))
	}
	return len(ids), nil
}

// ExpireQueue drops matchmaking entries older than QueueTTL, which is at
// least as long as a client's search timeout.
func (j *Janitor) ExpireQueue(ctx context.Context) (int, error) {
	n, err := j.store.ExpireQueue(ctx, j.now().Add(-j.cfg.QueueTTL))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		j.logger.Info("stale queue entries expired", "count", n)
	}
	return n, nil
}

// Run schedules every job and blocks until ctx is done.
func (j *Janitor) Run(ctx context.Context) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}

	jobs := []struct {
		name  string
		every time.Duration
		fn    func(context.Context) (int, error)
	}{
		{"forfeit_sweep", j.cfg.SweepInterval, j.SweepForfeits},
		{"abandoned_cleanup", j.cfg.CleanupInterval, j.CleanAbandoned},
		{"queue_expiry", j.cfg.SweepInterval, j.ExpireQueue},
	}
	for _, job := range jobs {
		_, err := sched.NewJob(
			gocron.DurationJob(job.every),
			gocron.NewTask(j.task(ctx, job.name, job.fn)),
			gocron.WithName(job.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("scheduling %s: %w", job.name, err)
		}
	}

	sched.Start()
	j.logger.Info("janitor started", "sweep_interval", j.cfg.SweepInterval, "cleanup_interval", j.cfg.CleanupInterval)
	<-ctx.Done()

	if err := sched.Shutdown(); err != nil {
		return fmt.Errorf("stopping scheduler: %w", err)
	}
	return nil
}

func (j *Janitor) task(ctx context.Context, name string, fn func(context.Context) (int, error)) func() {
	return func() {
		start := time.Now()
		n, err := fn(ctx)
		metrics.RecordJanitorRun(name, err, start)
		if err != nil {
			j.logger.Error("janitor job failed", "job", name, "error", err)
			return
		}
		j.logger.Debug("janitor job done", "job", name, "affected", n)
	}
}
