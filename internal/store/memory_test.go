package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"benchboard/internal/domain"
	"benchboard/internal/store"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newRecord(id, owner string, submitted time.Time) domain.TaskRecord {
	return domain.TaskRecord{
		ID:          id,
		OwnerID:     owner,
		State:       domain.StateProcessing,
		Payload:     domain.NewPayload("csv", id+".csv", 2048),
		SubmittedAt: submitted,
	}
}

func TestMemoryRepo_Create(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		setup   func(r *store.MemoryRepo)
		rec     domain.TaskRecord
		wantErr error
	}{
		{
			name:  "new record",
			setup: func(r *store.MemoryRepo) {},
			rec:   newRecord("t1", "alice", base),
		},
		{
			name: "duplicate id",
			setup: func(r *store.MemoryRepo) {
				require.NoError(t, r.Create(context.Background(), newRecord("t1", "alice", base)))
			},
			rec:     newRecord("t1", "bob", base),
			wantErr: store.ErrExists,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := store.NewMemoryRepo()
			tc.setup(r)
			err := r.Create(context.Background(), tc.rec)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			got, err := r.Get(context.Background(), tc.rec.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.rec, got)
		})
	}
}

func TestMemoryRepo_GetNotFound(t *testing.T) {
	t.Parallel()
	_, err := store.NewMemoryRepo().Get(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemoryRepo_GetReturnsCopy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := store.NewMemoryRepo()
	require.NoError(t, r.Create(ctx, newRecord("t1", "alice", base)))
	require.NoError(t, r.Complete(ctx, "t1", domain.StageResults{
		Scan: domain.ScanResult{Verdict: domain.VerdictPass, Findings: []string{}},
	}, base.Add(time.Second)))

	got, err := r.Get(ctx, "t1")
	require.NoError(t, err)
	got.State = domain.StateFailed
	got.Results.Scan.Findings = append(got.Results.Scan.Findings, "tampered")
	*got.FinishedAt = base.Add(time.Hour)

	again, err := r.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, again.State)
	assert.Empty(t, again.Results.Scan.Findings)
	assert.Equal(t, base.Add(time.Second), *again.FinishedAt)
}

func TestMemoryRepo_TerminalTransitionOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := store.NewMemoryRepo()
	require.NoError(t, r.Create(ctx, newRecord("t1", "alice", base)))

	require.NoError(t, r.Fail(ctx, "t1", "validate: bad kind", base.Add(time.Second)))
	require.ErrorIs(t, r.Complete(ctx, "t1", domain.StageResults{}, base.Add(2*time.Second)), store.ErrTerminal)
	require.ErrorIs(t, r.Fail(ctx, "t1", "again", base.Add(2*time.Second)), store.ErrTerminal)

	got, err := r.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, got.State)
	assert.Equal(t, "validate: bad kind", got.FailureReason)
	assert.Nil(t, got.Results)
	assert.Equal(t, base.Add(time.Second), *got.FinishedAt)

	require.ErrorIs(t, r.Fail(ctx, "missing", "x", base), store.ErrNotFound)
}

func TestMemoryRepo_FinishClampsToSubmission(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := store.NewMemoryRepo()
	require.NoError(t, r.Create(ctx, newRecord("t1", "alice", base)))
	require.NoError(t, r.Complete(ctx, "t1", domain.StageResults{}, base.Add(-time.Minute)))

	got, err := r.Get(ctx, "t1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got.Latency(), time.Duration(0))
	assert.NotNil(t, got.Results.Scan.Findings)
}

func TestMemoryRepo_ListByOwnerNewestFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := store.NewMemoryRepo()
	require.NoError(t, r.Create(ctx, newRecord("a-old", "alice", base)))
	require.NoError(t, r.Create(ctx, newRecord("b-1", "bob", base.Add(time.Minute))))
	require.NoError(t, r.Create(ctx, newRecord("a-new", "alice", base.Add(2*time.Minute))))
	require.NoError(t, r.Create(ctx, newRecord("a-tie", "alice", base.Add(2*time.Minute))))
	// Finishing out of order must not affect ordering.
	require.NoError(t, r.Fail(ctx, "a-old", "x", base.Add(time.Hour)))

	got, err := r.ListByOwner(ctx, "alice")
	require.NoError(t, err)
	ids := make([]string, 0, len(got))
	for _, rec := range got {
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, []string{"a-tie", "a-new", "a-old"}, ids)

	none, err := r.ListByOwner(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryRepo_Delete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := store.NewMemoryRepo()
	require.NoError(t, r.Create(ctx, newRecord("t1", "alice", base)))
	require.Equal(t, 1, r.Len())

	require.NoError(t, r.Delete(ctx, "t1"))
	require.ErrorIs(t, r.Delete(ctx, "t1"), store.ErrNotFound)
	assert.Equal(t, 0, r.Len())
}

func TestMemoryRepo_ConcurrentAccess(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := store.NewMemoryRepo()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('A'+i%26)) + time.Duration(i).String()
			_ = r.Create(ctx, newRecord(id, "alice", base.Add(time.Duration(i)*time.Second)))
			_, _ = r.ListByOwner(ctx, "alice")
			_ = r.Complete(ctx, id, domain.StageResults{}, base.Add(time.Hour))
			_, _ = r.Get(ctx, id)
		}(i)
	}
	wg.Wait()

	all, err := r.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 50)
	for _, rec := range all {
		assert.Equal(t, domain.StateCompleted, rec.State)
	}
}
