package integration

// ============================================================================
// Coordination Integration Test
// Purpose: Exercise the full lifecycle against one in-process store: worker
// registration, job dispatch with dedup, worker results, result polling,
// shutdown cascade and poll admission control
// ============================================================================

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LAPS-Group/laps/internal/config"
	"github.com/LAPS-Group/laps/internal/dispatch"
	"github.com/LAPS-Group/laps/internal/gate"
	"github.com/LAPS-Group/laps/internal/mapstore"
	"github.com/LAPS-Group/laps/internal/metrics"
	"github.com/LAPS-Group/laps/internal/registry"
	"github.com/LAPS-Group/laps/internal/runner"
	"github.com/LAPS-Group/laps/internal/store"
	"github.com/LAPS-Group/laps/pkg/types"
)

type system struct {
	store      *store.Store
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	gate       *gate.Gate
	maps       *mapstore.Store
	jobs       config.JobConfig
	mapID      int32
}

func startSystem(t *testing.T) *system {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	st := store.New(client, "laps.testing")

	jobs := config.JobConfig{
		TokenTimeout:      600,
		CacheTimeout:      600,
		ResultTimeout:     600,
		PollTimeout:       2,
		PollTimes:         20,
		MaxPollingClients: 4,
	}
	collector := metrics.NewCollector()
	reg := registry.New(st, jobs, collector)
	maps := mapstore.New(st)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		reg.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("registry loops did not stop")
		}
	})

	mapID, err := maps.Put(context.Background(), []byte("png"), types.MapMeta{Width: 50, Height: 50})
	require.NoError(t, err)

	return &system{
		store:      st,
		registry:   reg,
		dispatcher: dispatch.New(st, reg, maps, jobs, collector),
		gate:       gate.New(st, jobs, collector),
		maps:       maps,
		jobs:       jobs,
		mapID:      mapID,
	}
}

func (s *system) startWorker(t *testing.T, module types.ModuleInfo) (stop func()) {
	t.Helper()
	r := runner.New(s.store, module, runner.DummyPathfinder, s.jobs.ResultTTL())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	t.Cleanup(cancel)
	return func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("worker did not stop")
		}
	}
}

func (s *system) waitRegistered(t *testing.T, module types.ModuleInfo, want bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		ok, err := s.registry.IsRegistered(context.Background(), module)
		return err == nil && ok == want
	}, 10*time.Second, 20*time.Millisecond, "registration state never became %v", want)
}

// TestJobRoundTrip tests submit -> worker -> poll with deduplication of a
// concurrent identical submission.
func TestJobRoundTrip(t *testing.T) {
	s := startSystem(t)
	ctx := context.Background()
	module := types.ModuleInfo{Name: "dummy", Version: "0.0.0"}

	stop := s.startWorker(t, module)
	defer stop()
	s.waitRegistered(t, module, true)

	sub := types.JobSubmission{
		Start:     types.Vector{X: 1, Y: 2},
		Stop:      types.Vector{X: 3, Y: 1},
		MapID:     s.mapID,
		Algorithm: module,
	}
	token, err := s.dispatcher.Submit(ctx, sub)
	require.NoError(t, err)

	// An identical concurrent submission collapses onto the same job.
	token2, err := s.dispatcher.Submit(ctx, sub)
	require.NoError(t, err)
	assert.Equal(t, token, token2)

	var result types.JobResult
	require.Eventually(t, func() bool {
		r, err := s.gate.Poll(ctx, token)
		if err != nil {
			return false
		}
		result = r
		return true
	}, 15*time.Second, 50*time.Millisecond, "job never completed")

	assert.Equal(t, types.OutcomeSuccess, result.Outcome)
	assert.Equal(t, types.Vector{X: 1, Y: 2}, result.Points[0])
	assert.Equal(t, types.Vector{X: 3, Y: 1}, result.Points[len(result.Points)-1])
}

// TestWorkerPoolSurvivesPartialShutdown tests that a module with several
// workers stays registered until the last one leaves.
func TestWorkerPoolSurvivesPartialShutdown(t *testing.T) {
	s := startSystem(t)
	ctx := context.Background()
	module := types.ModuleInfo{Name: "pool", Version: "1.0.0"}

	// Three workers of the same module, registered through raw events the
	// way worker processes post them.
	for i := 0; i < 3; i++ {
		require.NoError(t, s.store.RPush(ctx, s.store.RegisterQueueKey(), module.Canonical()).Err())
	}
	s.waitRegistered(t, module, true)
	require.Eventually(t, func() bool {
		n, err := s.registry.WorkerCount(context.Background(), module)
		return err == nil && n == 3
	}, 10*time.Second, 20*time.Millisecond)

	// Two of them shut down; the module stays live.
	for i := 0; i < 2; i++ {
		require.NoError(t, s.store.RPush(ctx, s.store.ShutdownQueueKey(), module.Canonical()).Err())
	}
	require.Eventually(t, func() bool {
		n, err := s.registry.WorkerCount(context.Background(), module)
		return err == nil && n == 1
	}, 10*time.Second, 20*time.Millisecond)
	ok, err := s.registry.IsRegistered(ctx, module)
	require.NoError(t, err)
	assert.True(t, ok)

	// The last one removes it.
	require.NoError(t, s.store.RPush(ctx, s.store.ShutdownQueueKey(), module.Canonical()).Err())
	s.waitRegistered(t, module, false)
}

// TestShutdownCascade tests that jobs queued for a module whose last worker
// exits come back as Cancelled and the module's cache entries disappear.
func TestShutdownCascade(t *testing.T) {
	s := startSystem(t)
	ctx := context.Background()
	module := types.ModuleInfo{Name: "doomed", Version: "0.1.0"}

	// A worker registers but never consumes its queue.
	require.NoError(t, s.store.RPush(ctx, s.store.RegisterQueueKey(), module.Canonical()).Err())
	s.waitRegistered(t, module, true)

	// Two distinct jobs pile up.
	subA := types.JobSubmission{
		Start:     types.Vector{X: 1, Y: 1},
		Stop:      types.Vector{X: 5, Y: 5},
		MapID:     s.mapID,
		Algorithm: module,
	}
	subB := subA
	subB.Stop = types.Vector{X: 9, Y: 9}

	tokenA, err := s.dispatcher.Submit(ctx, subA)
	require.NoError(t, err)
	tokenB, err := s.dispatcher.Submit(ctx, subB)
	require.NoError(t, err)

	// The worker dies.
	require.NoError(t, s.store.RPush(ctx, s.store.ShutdownQueueKey(), module.Canonical()).Err())
	s.waitRegistered(t, module, false)

	// Both jobs are observably cancelled, not timed out.
	for _, token := range []string{tokenA, tokenB} {
		var result types.JobResult
		require.Eventually(t, func() bool {
			r, err := s.gate.Poll(context.Background(), token)
			if err != nil {
				return false
			}
			result = r
			return true
		}, 15*time.Second, 50*time.Millisecond, "cancelled result never appeared")
		assert.Equal(t, types.OutcomeCancelled, result.Outcome)
		assert.Empty(t, result.Points)
	}

	// No cache entries for the dead module survive; a new submission would
	// be fresh work.
	keys, err := s.store.ScanKeys(ctx, s.store.CacheModulePattern(module))
	require.NoError(t, err)
	assert.Empty(t, keys)
}

// TestPollAdmission tests the global poller cap across gate invocations.
func TestPollAdmission(t *testing.T) {
	s := startSystem(t)
	ctx := context.Background()

	require.NoError(t, s.store.Set(ctx, s.store.PollRateLimiterKey(), s.jobs.MaxPollingClients, 0).Err())

	_, err := s.gate.Poll(ctx, "any")
	assert.ErrorIs(t, err, gate.ErrTooManyPollers)

	require.NoError(t, s.store.Decr(ctx, s.store.PollRateLimiterKey()).Err())

	_, err = s.gate.Poll(ctx, "any")
	assert.ErrorIs(t, err, gate.ErrUnknownToken)
}
