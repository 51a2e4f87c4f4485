package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"benchboard/internal/domain"
	"benchboard/internal/pipeline"
	"benchboard/internal/store"
	"benchboard/internal/worker"
)

var (
	ErrNotFound     = store.ErrNotFound
	ErrInvalidOwner = errors.New("owner id is required")
	ErrEmptyBatch   = errors.New("batch contains no files")
)

const acceptedMessage = "File upload accepted, processing started"

// Coordinator accepts uploads, runs the stage pipeline off the request path
// and answers status queries from the task store.
type Coordinator struct {
	repo   store.Repository
	runner pipeline.Runner
	pool   *worker.Pool
	now    func() time.Time
	logger zerolog.Logger
}

type Option func(*Coordinator)

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func New(repo store.Repository, runner pipeline.Runner, pool *worker.Pool, opts ...Option) *Coordinator {
	c := &Coordinator{
		repo:   repo,
		runner: runner,
		pool:   pool,
		now:    time.Now,
		logger: log.With().Str("component", "coordinator").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit stores a Processing record and schedules the pipeline. It returns
// before any stage runs; pipeline failures only show up via GetStatus.
func (c *Coordinator) Submit(ctx context.Context, ownerID string, desc domain.PayloadDescriptor) (domain.SubmitResult, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return domain.SubmitResult{}, ErrInvalidOwner
	}

	var rec domain.TaskRecord
	for attempt := 0; ; attempt++ {
		now := c.now()
		rec = domain.TaskRecord{
			ID:          newID(ownerID, now),
			OwnerID:     ownerID,
			State:       domain.StateProcessing,
			Payload:     desc,
			SubmittedAt: now,
		}
		err := c.repo.Create(ctx, rec)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrExists) || attempt == 2 {
			return domain.SubmitResult{}, fmt.Errorf("create task: %w", err)
		}
	}
	tasksSubmitted.Inc()

	c.logger.Info().
		Str("task_id", rec.ID).
		Str("owner_id", ownerID).
		Str("payload", desc.Name).
		Str("kind", string(desc.Kind)).
		Int64("size", desc.Size).
		Msg("task submitted")

	if err := c.pool.Go(func() { c.process(rec) }); err != nil {
		if ferr := c.repo.Fail(ctx, rec.ID, err.Error(), c.now()); ferr != nil {
			c.logger.Error().Err(ferr).Str("task_id", rec.ID).Msg("failed to record rejected task")
		}
		return domain.SubmitResult{}, fmt.Errorf("schedule task %s: %w", rec.ID, err)
	}

	return domain.SubmitResult{TaskID: rec.ID, Message: acceptedMessage}, nil
}

// process runs with its own context: once accepted a task always runs to a
// terminal state.
func (c *Coordinator) process(rec domain.TaskRecord) {
	ctx := context.Background()
	results, runErr := c.run(ctx, rec.Payload)
	finished := c.now()

	var err error
	state := domain.StateCompleted
	if runErr != nil {
		state = domain.StateFailed
		err = c.repo.Fail(ctx, rec.ID, runErr.Error(), finished)
	} else {
		err = c.repo.Complete(ctx, rec.ID, results, finished)
	}
	if err != nil {
		c.logger.Error().Err(err).Str("task_id", rec.ID).Msg("failed to record task outcome")
		return
	}

	latency := finished.Sub(rec.SubmittedAt)
	if latency < 0 {
		latency = 0
	}
	tasksFinished.WithLabelValues(string(state)).Inc()
	taskDuration.Observe(latency.Seconds())

	ev := c.logger.Info()
	if runErr != nil {
		ev = c.logger.Warn().Err(runErr)
	}
	ev.Str("task_id", rec.ID).
		Str("owner_id", rec.OwnerID).
		Str("state", string(state)).
		Dur("duration", latency).
		Msg("task finished")
}

// run turns a runner panic into an ordinary failure so the task still
// reaches a terminal state.
func (c *Coordinator) run(ctx context.Context, desc domain.PayloadDescriptor) (results domain.StageResults, err error) {
	defer func() {
		if r := recover(); r != nil {
			results, err = domain.StageResults{}, fmt.Errorf("pipeline panic: %v", r)
		}
	}()
	return c.runner.Run(ctx, desc)
}

func (c *Coordinator) GetStatus(ctx context.Context, taskID string) (domain.TaskRecord, error) {
	return c.repo.Get(ctx, taskID)
}

func (c *Coordinator) ListTasksForOwner(ctx context.Context, ownerID string) ([]domain.TaskRecord, error) {
	return c.repo.ListByOwner(ctx, strings.TrimSpace(ownerID))
}

// SubmitBatch submits every payload individually. The batch id is only a
// handle for the caller; nothing about the batch is stored.
func (c *Coordinator) SubmitBatch(ctx context.Context, ownerID string, descs []domain.PayloadDescriptor) (domain.BatchResult, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return domain.BatchResult{}, ErrInvalidOwner
	}
	if len(descs) == 0 {
		return domain.BatchResult{}, ErrEmptyBatch
	}

	out := domain.BatchResult{
		BatchID: "batch_" + newID(ownerID, c.now()),
		TaskIDs: make([]string, 0, len(descs)),
	}
	for _, d := range descs {
		res, err := c.Submit(ctx, ownerID, d)
		if err != nil {
			return out, fmt.Errorf("submit %q: %w", d.Name, err)
		}
		out.TaskIDs = append(out.TaskIDs, res.TaskID)
	}

	c.logger.Info().Str("batch_id", out.BatchID).Int("tasks", len(out.TaskIDs)).Msg("batch submitted")
	return out, nil
}

// GetBatchStatus aggregates the current state of the given tasks. Unknown ids
// count toward Total but never toward FractionDone's numerator.
func (c *Coordinator) GetBatchStatus(ctx context.Context, taskIDs []string) (domain.BatchStatus, error) {
	st := domain.BatchStatus{
		Total: len(taskIDs),
		Tasks: make([]domain.BatchTaskStatus, 0, len(taskIDs)),
	}
	for _, id := range taskIDs {
		rec, err := c.repo.Get(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			st.NotFound++
			st.Tasks = append(st.Tasks, domain.BatchTaskStatus{TaskID: id, State: domain.StateNotFound})
			continue
		}
		if err != nil {
			return domain.BatchStatus{}, fmt.Errorf("get task %s: %w", id, err)
		}
		switch rec.State {
		case domain.StateCompleted:
			st.Completed++
		case domain.StateFailed:
			st.Failed++
		default:
			st.Processing++
		}
		st.Tasks = append(st.Tasks, domain.BatchTaskStatus{TaskID: id, State: rec.State, Task: &rec})
	}
	if st.Total > 0 {
		st.FractionDone = float64(st.Completed+st.Failed) / float64(st.Total)
	}
	return st, nil
}

// Shutdown stops accepting submissions and waits for in-flight pipelines
// until ctx is done. Submit returns worker.ErrClosed afterwards.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	return c.pool.Wait(ctx)
}

// newID is "<owner>_<unix millis>_<random>"; the random part keeps ids unique
// for concurrent submissions by one owner within the same millisecond.
func newID(ownerID string, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%d_%s", sanitizeOwner(ownerID), now.UnixMilli(), suffix)
}

func sanitizeOwner(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '-'
		}
	}, s)
}
