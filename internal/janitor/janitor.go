package janitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"benchboard/internal/domain"
	"benchboard/internal/store"
)

// Janitor evicts finished tasks once they have been terminal for longer than
// the retention window. Processing tasks are never touched.
type Janitor struct {
	repo      store.Repository
	retention time.Duration
	schedule  string
	cron      *cron.Cron
	mu        sync.Mutex
	started   bool
	now       func() time.Time
	logger    zerolog.Logger
}

type Option func(*Janitor)

func WithClock(now func() time.Time) Option {
	return func(j *Janitor) { j.now = now }
}

func New(repo store.Repository, retention time.Duration, schedule string, opts ...Option) (*Janitor, error) {
	if err := ValidateSchedule(schedule); err != nil {
		return nil, fmt.Errorf("janitor schedule %q: %w", schedule, err)
	}
	if retention <= 0 {
		return nil, fmt.Errorf("janitor retention must be positive, got %s", retention)
	}
	logger := log.With().Str("component", "janitor").Logger()
	j := &Janitor{
		repo:      repo,
		retention: retention,
		schedule:  schedule,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(j)
	}
	j.cron = cron.New(cron.WithChain(cron.Recover(cronLogger{logger}), cron.SkipIfStillRunning(cronLogger{logger})))
	return j, nil
}

var ErrStarted = errors.New("janitor already started")

// Start schedules recurring sweeps. It does not block. A Janitor starts at
// most once; later calls return ErrStarted.
func (j *Janitor) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.started {
		return ErrStarted
	}
	if _, err := j.cron.AddFunc(j.schedule, func() { j.Sweep(context.Background()) }); err != nil {
		return err
	}
	j.cron.Start()
	j.started = true
	j.logger.Info().Str("schedule", j.schedule).Dur("retention", j.retention).Msg("janitor started")
	return nil
}

// Stop halts scheduling. The returned context is done once a sweep that is
// already running has returned.
func (j *Janitor) Stop() context.Context {
	return j.cron.Stop()
}

// Sweep runs one pass and returns the number of removed tasks. Problems with
// single records are logged and skipped; a panic aborts only this pass.
func (j *Janitor) Sweep(ctx context.Context) (removed int) {
	defer func() {
		if r := recover(); r != nil {
			j.logger.Error().Interface("panic", r).Int("removed", removed).Msg("sweep aborted")
		}
	}()

	now := j.now()
	recs, err := j.repo.List(ctx)
	if err != nil {
		j.logger.Error().Err(err).Msg("failed to list tasks")
		return 0
	}

	for _, rec := range recs {
		if !j.expired(rec, now) {
			continue
		}
		if err := j.repo.Delete(ctx, rec.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			j.logger.Error().Err(err).Str("task_id", rec.ID).Msg("failed to evict task")
			continue
		}
		removed++
	}

	if removed > 0 {
		j.logger.Info().Int("removed", removed).Int("remaining", j.repo.Len()).Msg("evicted finished tasks")
	}
	return removed
}

func (j *Janitor) expired(rec domain.TaskRecord, now time.Time) bool {
	if !rec.State.Terminal() {
		return false
	}
	if rec.FinishedAt == nil {
		j.logger.Warn().Str("task_id", rec.ID).Str("state", string(rec.State)).Msg("terminal task without finish time, skipping")
		return false
	}
	return now.Sub(*rec.FinishedAt) > j.retention
}

// ValidateSchedule accepts standard cron expressions and descriptors such as "@every 1h".
func ValidateSchedule(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}

// cronLogger routes cron's own messages to zerolog.
type cronLogger struct{ l zerolog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
