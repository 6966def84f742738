package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/metrics"
	"github.com/vladislavdragonenkov/orders/internal/storage/memory"
)

var _ domain.IdempotencyRepository = (*scriptedKeyStore)(nil)

func newTestWorker(store domain.IdempotencyRepository, options ...CleanupOption) *CleanupWorker {
	base := []CleanupOption{WithMetrics(metrics.NewCleanupMetrics(prometheus.NewRegistry()))}
	return NewCleanupWorker(store, append(base, options...)...)
}

func TestCleanupWorker_SweepBatches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		results    []int
		maxBatches int
		want       SweepResult
	}{
		{name: "nothing expired", results: []int{0}, maxBatches: 5, want: SweepResult{Batches: 1}},
		{name: "drains in batches", results: []int{2, 2, 1}, maxBatches: 5, want: SweepResult{Deleted: 5, Batches: 3}},
		{name: "full last batch needs one more call", results: []int{2, 2, 0}, maxBatches: 5, want: SweepResult{Deleted: 4, Batches: 3}},
		{name: "stops at max batches", results: []int{2, 2, 2, 2}, maxBatches: 2, want: SweepResult{Deleted: 4, Batches: 2, Truncated: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := &scriptedKeyStore{results: tt.results}
			worker := newTestWorker(store, WithBatchSize(2), WithMaxBatches(tt.maxBatches))

			got, err := worker.Sweep(context.Background())
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
			require.Equal(t, tt.want.Batches, store.calls())
		})
	}
}

func TestCleanupWorker_SweepUsesClockAsCutoff(t *testing.T) {
	t.Parallel()

	cutoff := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := &scriptedKeyStore{}
	worker := newTestWorker(store, WithClock(func() time.Time { return cutoff }))

	_, err := worker.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, cutoff, store.lastBefore())
}

func TestCleanupWorker_SweepReportsPartialProgressOnError(t *testing.T) {
	t.Parallel()

	store := &scriptedKeyStore{results: []int{2}, errs: []error{nil, errors.New("connection reset")}}
	worker := newTestWorker(store, WithBatchSize(2))

	got, err := worker.Sweep(context.Background())
	require.ErrorContains(t, err, "connection reset")
	require.Equal(t, 2, got.Deleted)
}

func TestCleanupWorker_SweepCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := &scriptedKeyStore{}
	_, err := newTestWorker(store).Sweep(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, store.calls())
}

func TestCleanupWorker_RunCatchesUpAndStops(t *testing.T) {
	t.Parallel()

	// Первый проход упирается в maxBatches, второй должен начаться через catchUpDelay,
	// а не через час.
	store := &scriptedKeyStore{results: []int{1, 0}}
	worker := newTestWorker(store, WithBatchSize(1), WithMaxBatches(1), WithInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	require.Eventually(t, func() bool { return store.calls() >= 2 }, 3*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup worker did not stop on cancel")
	}
}

func TestCleanupWorker_RunWithoutStore(t *testing.T) {
	t.Parallel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		newTestWorker(nil).Run(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker without store must return immediately")
	}
}

func TestCleanupWorker_SweepMemoryKeys(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := memory.NewIdempotencyRepository(memory.WithIdempotencyClock(clock))

	for _, key := range []string{"post-1", "post-2", "post-3"} {
		_, err := store.CreateProcessing(ctx, key, "hash", now.Add(-time.Minute))
		require.NoError(t, err)
	}
	_, err := store.CreateProcessing(ctx, "post-live", "hash", now.Add(time.Hour))
	require.NoError(t, err)

	got, err := newTestWorker(store, WithBatchSize(2), WithClock(clock)).Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, SweepResult{Deleted: 3, Batches: 2}, got)

	_, err = store.Get(ctx, "post-live")
	require.NoError(t, err)
}

// scriptedKeyStore отдаёт заранее заданные результаты DeleteExpired.
type scriptedKeyStore struct {
	mu sync.Mutex

	results []int
	errs    []error
	n       int
	before  time.Time
}

func (s *scriptedKeyStore) CreateProcessing(context.Context, string, string, time.Time) (domain.IdempotencyRecord, error) {
	panic("not implemented")
}

func (s *scriptedKeyStore) Get(context.Context, string) (domain.IdempotencyRecord, error) {
	panic("not implemented")
}

func (s *scriptedKeyStore) MarkDone(context.Context, string, []byte, int) error {
	panic("not implemented")
}

func (s *scriptedKeyStore) MarkFailed(context.Context, string, []byte, int) error {
	panic("not implemented")
}

func (s *scriptedKeyStore) DeleteExpired(_ context.Context, before time.Time, _ int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.n
	s.n++
	s.before = before

	if i < len(s.errs) && s.errs[i] != nil {
		return 0, s.errs[i]
	}
	if i < len(s.results) {
		return s.results[i], nil
	}
	return 0, nil
}

func (s *scriptedKeyStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

func (s *scriptedKeyStore) lastBefore() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.before
}
