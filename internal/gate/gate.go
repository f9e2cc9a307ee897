// ============================================================================
// LAPS Result Gate - Bounded Polling with Admission Control
// ============================================================================
//
// Package: internal/gate
// Purpose: Resolves a client token to a job id and polls the job's result
// slot under a global concurrency cap. One Poll invocation performs a bounded
// loop of result reads and returns either the result or "not ready"; the
// client re-invokes until ready or it gives up. The gate never blocks a
// caller indefinitely.
//
// Admission control is a shared counter in the store, incremented on entry.
// A poller that takes the counter above the cap decrements it right back and
// is rejected outright rather than queued. Every other path out of Poll
// decrements exactly once.
//
// ============================================================================

package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/LAPS-Group/laps/internal/config"
	"github.com/LAPS-Group/laps/internal/metrics"
	"github.com/LAPS-Group/laps/internal/store"
	"github.com/LAPS-Group/laps/pkg/types"
)

var log = slog.Default()

var (
	// ErrUnknownToken means the token resolves to no job. Tokens are never
	// recreated, so the caller should stop retrying.
	ErrUnknownToken = errors.New("unknown token")
	// ErrNotReady means the poll loop exhausted its attempts without finding
	// a result. The caller may poll again.
	ErrNotReady = errors.New("result not ready")
	// ErrTooManyPollers is the admission-control rejection. Distinct from
	// ErrNotReady so clients can back off instead of hammering.
	ErrTooManyPollers = errors.New("too many polling clients")
)

// Gate serves result polls.
type Gate struct {
	store   *store.Store
	jobs    config.JobConfig
	metrics *metrics.Collector
}

// New creates a Gate.
func New(s *store.Store, jobs config.JobConfig, m *metrics.Collector) *Gate {
	return &Gate{store: s, jobs: jobs, metrics: m}
}

// Poll resolves token and polls for the job's result. It returns the result
// as written by the worker or the cancellation cascade; stripping the job id
// from the client-visible payload is the transport layer's job. The result is
// read, not deleted, so a retry after a dropped response sees the same
// answer until the slot's TTL expires.
func (g *Gate) Poll(ctx context.Context, token string) (types.JobResult, error) {
	limiterKey := g.store.PollRateLimiterKey()

	inFlight, err := g.store.Incr(ctx, limiterKey).Result()
	if err != nil {
		return types.JobResult{}, fmt.Errorf("entering poll admission: %w", err)
	}
	if inFlight > g.jobs.MaxPollingClients {
		// Hard reject, undoing our own increment. The decrement runs on a
		// detached context so a caller hangup cannot leak a slot.
		if err := g.store.Decr(context.WithoutCancel(ctx), limiterKey).Err(); err != nil {
			log.Error("Leaving poll admission failed after reject", "error", err)
		}
		g.metrics.RecordPollRejected()
		return types.JobResult{}, ErrTooManyPollers
	}

	g.metrics.PollerEntered()
	start := time.Now()
	defer func() {
		if err := g.store.Decr(context.WithoutCancel(ctx), limiterKey).Err(); err != nil {
			log.Error("Leaving poll admission failed", "error", err)
		}
		g.metrics.PollerLeft()
		g.metrics.RecordPollDuration(time.Since(start).Seconds())
	}()

	jobIDRaw, err := g.store.Get(ctx, g.store.TokenKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return types.JobResult{}, ErrUnknownToken
	}
	if err != nil {
		return types.JobResult{}, fmt.Errorf("resolving token: %w", err)
	}
	jobID, err := strconv.ParseInt(jobIDRaw, 10, 32)
	if err != nil {
		return types.JobResult{}, fmt.Errorf("parsing job id %q: %w", jobIDRaw, err)
	}

	resultKey := g.store.JobResultKey(int32(jobID))
	interval := g.jobs.PollInterval()
	for attempt := 0; attempt < g.jobs.PollTimes; attempt++ {
		raw, err := g.store.Get(ctx, resultKey).Bytes()
		if err == nil {
			var result types.JobResult
			if err := json.Unmarshal(raw, &result); err != nil {
				return types.JobResult{}, fmt.Errorf("parsing result of job %d: %w", jobID, err)
			}
			return result, nil
		}
		if !errors.Is(err, redis.Nil) {
			return types.JobResult{}, fmt.Errorf("reading result of job %d: %w", jobID, err)
		}

		select {
		case <-ctx.Done():
			return types.JobResult{}, ctx.Err()
		case <-time.After(interval):
		}
	}
	return types.JobResult{}, ErrNotReady
}
