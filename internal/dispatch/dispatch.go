// ============================================================================
// LAPS Job Dispatcher - Submission, Dedup Cache, Token Issuance
// ============================================================================
//
// Package: internal/dispatch
// Purpose: Accepts a validated job submission, collapses identical concurrent
// submissions onto one underlying job via the dedup cache, enqueues new work
// onto the target module's work queue, and hands the client an opaque token
// it can poll with.
//
// Submission flow:
//   1. Cache lookup by fingerprint - a hit refreshes TTLs and returns the
//      cached token without touching the queue.
//   2. Validation, first failure wins: equal endpoints, unregistered module,
//      unknown map, point outside map bounds.
//   3. Dispatch: atomic job id allocation, queue push, token generation,
//      token and cache mappings with their configured TTLs.
//
// ============================================================================

package dispatch

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/LAPS-Group/laps/internal/config"
	"github.com/LAPS-Group/laps/internal/mapstore"
	"github.com/LAPS-Group/laps/internal/metrics"
	"github.com/LAPS-Group/laps/internal/registry"
	"github.com/LAPS-Group/laps/internal/store"
	"github.com/LAPS-Group/laps/pkg/types"
)

var log = slog.Default()

// Input errors, surfaced to the caller verbatim and never retried
// server-side. An unknown map is reported as mapstore.ErrNotFound.
var (
	// ErrEqualEndpoints rejects zero-length path requests.
	ErrEqualEndpoints = errors.New("start and stop endpoints are equal")
	// ErrModuleNotRegistered rejects submissions for modules with no live
	// worker.
	ErrModuleNotRegistered = errors.New("module is not registered")
	// ErrPointOutOfBounds rejects points outside the map's dimensions.
	ErrPointOutOfBounds = errors.New("point is outside the map bounds")
)

// tokenBytes is the entropy of a client token before base64 encoding.
const tokenBytes = 48

// Dispatcher routes client job submissions onto module work queues.
type Dispatcher struct {
	store    *store.Store
	registry *registry.Registry
	maps     *mapstore.Store
	jobs     config.JobConfig
	metrics  *metrics.Collector
}

// New creates a Dispatcher.
func New(s *store.Store, reg *registry.Registry, maps *mapstore.Store, jobs config.JobConfig, m *metrics.Collector) *Dispatcher {
	return &Dispatcher{store: s, registry: reg, maps: maps, jobs: jobs, metrics: m}
}

// Submit handles one job submission and returns the token the client polls
// with. Identical submissions within the cache TTL window receive the same
// token and create no additional queue entries.
func (d *Dispatcher) Submit(ctx context.Context, sub types.JobSubmission) (string, error) {
	cacheKey := d.store.CacheKey(sub.Algorithm, sub.Fingerprint())

	token, err := d.store.Get(ctx, cacheKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("reading dedup cache: %w", err)
	}
	if err == nil {
		refreshed, err := d.refreshHit(ctx, cacheKey, token)
		if err != nil {
			return "", err
		}
		if refreshed {
			d.metrics.RecordDeduplicated()
			log.Debug("Submission answered from dedup cache", "module", sub.Algorithm.Display())
			return token, nil
		}
		// The cached token's mapping already expired, so the token would be
		// useless to the caller. Fall through and dispatch fresh work; the
		// cache write below overwrites the stale entry.
	}

	if err := d.validate(ctx, sub); err != nil {
		return "", err
	}

	jobID, err := d.store.Incr(ctx, d.store.JobIDKey()).Result()
	if err != nil {
		return "", fmt.Errorf("allocating job id: %w", err)
	}

	job := types.JobInfo{
		JobID: int32(jobID),
		Start: sub.Start,
		Stop:  sub.Stop,
		MapID: sub.MapID,
	}
	payload, _ := json.Marshal(job)
	if err := d.store.RPush(ctx, d.store.WorkQueueKey(sub.Algorithm), payload).Err(); err != nil {
		return "", fmt.Errorf("enqueueing job %d: %w", job.JobID, err)
	}

	token, err = newToken()
	if err != nil {
		return "", err
	}
	if err := d.store.Set(ctx, d.store.TokenKey(token), jobID, d.jobs.TokenTTL()).Err(); err != nil {
		return "", fmt.Errorf("storing token mapping for job %d: %w", job.JobID, err)
	}
	// The cache entry is written after the token mapping so a concurrent
	// submitter that hits the cache always finds a resolvable token.
	if err := d.store.Set(ctx, cacheKey, token, d.jobs.CacheTTL()).Err(); err != nil {
		return "", fmt.Errorf("storing cache entry for job %d: %w", job.JobID, err)
	}

	d.metrics.RecordDispatch()
	log.Info("Dispatched job", "job_id", job.JobID, "module", sub.Algorithm.Display(), "map_id", job.MapID)
	return token, nil
}

// refreshHit extends the lifetime of a cache hit: the cache entry itself, the
// token mapping and, if the job already finished, its result slot. Reports
// false when the token mapping no longer exists.
func (d *Dispatcher) refreshHit(ctx context.Context, cacheKey, token string) (bool, error) {
	jobIDRaw, err := d.store.Get(ctx, d.store.TokenKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("resolving cached token: %w", err)
	}

	if err := d.store.Expire(ctx, cacheKey, d.jobs.CacheTTL()).Err(); err != nil {
		return false, fmt.Errorf("refreshing cache entry: %w", err)
	}
	if err := d.store.Expire(ctx, d.store.TokenKey(token), d.jobs.TokenTTL()).Err(); err != nil {
		return false, fmt.Errorf("refreshing token mapping: %w", err)
	}

	var jobID int64
	if _, convErr := fmt.Sscan(jobIDRaw, &jobID); convErr == nil {
		// Best-effort: the result slot only exists once the job finished.
		if err := d.store.Expire(ctx, d.store.JobResultKey(int32(jobID)), d.jobs.ResultTTL()).Err(); err != nil {
			log.Warn("Refreshing result slot failed", "job_id", jobID, "error", err)
		}
	}
	return true, nil
}

// validate runs the input checks in their contractual order; the first
// failure wins.
func (d *Dispatcher) validate(ctx context.Context, sub types.JobSubmission) error {
	if sub.Start == sub.Stop {
		return ErrEqualEndpoints
	}

	registered, err := d.registry.IsRegistered(ctx, sub.Algorithm)
	if err != nil {
		return err
	}
	if !registered {
		return ErrModuleNotRegistered
	}

	meta, err := d.maps.Meta(ctx, sub.MapID)
	if err != nil {
		return err
	}
	if !meta.Contains(sub.Start) || !meta.Contains(sub.Stop) {
		return ErrPointOutOfBounds
	}
	return nil
}

// newToken generates an opaque client token: a cryptographically random byte
// string, base64 URL-safe without padding.
func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
