package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"benchboard/internal/domain"
)

var (
	ErrNotFound = errors.New("task not found")
	ErrExists   = errors.New("task already exists")
	ErrTerminal = errors.New("task already finished")
)

// Repository holds TaskRecords. Implementations must be safe for concurrent use.
type Repository interface {
	Create(ctx context.Context, rec domain.TaskRecord) error
	Get(ctx context.Context, id string) (domain.TaskRecord, error)
	Complete(ctx context.Context, id string, results domain.StageResults, finishedAt time.Time) error
	Fail(ctx context.Context, id, reason string, finishedAt time.Time) error
	ListByOwner(ctx context.Context, ownerID string) ([]domain.TaskRecord, error)
	List(ctx context.Context) ([]domain.TaskRecord, error)
	Delete(ctx context.Context, id string) error
	Len() int
}

var _ Repository = (*MemoryRepo)(nil)

type entry struct {
	rec domain.TaskRecord
	seq uint64
}

// MemoryRepo is the process-local task table. Records returned to callers are
// deep copies.
type MemoryRepo struct {
	mu    sync.RWMutex
	tasks map[string]*entry
	seq   uint64
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{tasks: make(map[string]*entry)}
}

func (r *MemoryRepo) Create(_ context.Context, rec domain.TaskRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[rec.ID]; ok {
		return ErrExists
	}
	r.seq++
	r.tasks[rec.ID] = &entry{rec: rec.Clone(), seq: r.seq}
	return nil
}

func (r *MemoryRepo) Get(_ context.Context, id string) (domain.TaskRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tasks[id]
	if !ok {
		return domain.TaskRecord{}, ErrNotFound
	}
	return e.rec.Clone(), nil
}

func (r *MemoryRepo) Complete(_ context.Context, id string, results domain.StageResults, finishedAt time.Time) error {
	return r.finish(id, finishedAt, func(rec *domain.TaskRecord) {
		rec.State = domain.StateCompleted
		res := results
		if res.Scan.Findings == nil {
			res.Scan.Findings = []string{}
		}
		rec.Results = &res
	})
}

func (r *MemoryRepo) Fail(_ context.Context, id, reason string, finishedAt time.Time) error {
	return r.finish(id, finishedAt, func(rec *domain.TaskRecord) {
		rec.State = domain.StateFailed
		rec.FailureReason = reason
	})
}

// finish applies the single terminal transition. A task that is already
// terminal is left untouched.
func (r *MemoryRepo) finish(id string, finishedAt time.Time, apply func(*domain.TaskRecord)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if e.rec.State.Terminal() {
		return ErrTerminal
	}
	if finishedAt.Before(e.rec.SubmittedAt) {
		finishedAt = e.rec.SubmittedAt
	}
	rec := e.rec.Clone()
	apply(&rec)
	rec.FinishedAt = &finishedAt
	e.rec = rec
	return nil
}

// ListByOwner returns the owner's tasks, most recently submitted first.
func (r *MemoryRepo) ListByOwner(_ context.Context, ownerID string) ([]domain.TaskRecord, error) {
	r.mu.RLock()
	matches := make([]*entry, 0)
	for _, e := range r.tasks {
		if e.rec.OwnerID == ownerID {
			matches = append(matches, e)
		}
	}
	out := make([]domain.TaskRecord, 0, len(matches))
	sortNewestFirst(matches)
	for _, e := range matches {
		out = append(out, e.rec.Clone())
	}
	r.mu.RUnlock()
	return out, nil
}

func (r *MemoryRepo) List(_ context.Context) ([]domain.TaskRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*entry, 0, len(r.tasks))
	for _, e := range r.tasks {
		all = append(all, e)
	}
	sortNewestFirst(all)
	out := make([]domain.TaskRecord, 0, len(all))
	for _, e := range all {
		out = append(out, e.rec.Clone())
	}
	return out, nil
}

func (r *MemoryRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(r.tasks, id)
	return nil
}

func (r *MemoryRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// Ties on submission time fall back to insertion order.
func sortNewestFirst(es []*entry) {
	sort.Slice(es, func(i, j int) bool {
		a, b := es[i], es[j]
		if !a.rec.SubmittedAt.Equal(b.rec.SubmittedAt) {
			return a.rec.SubmittedAt.After(b.rec.SubmittedAt)
		}
		return a.seq > b.seq
	})
}
