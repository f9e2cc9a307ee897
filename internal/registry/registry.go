// ============================================================================
// LAPS Module Registry - Worker Pool Lifecycle
// ============================================================================
//
// Package: internal/registry
// Purpose: Tracks which (name, version) modules currently have live worker
// processes and how many. Workers announce themselves by pushing their
// ModuleInfo onto the registration queue and announce shutdown on a separate
// queue, so a burst of shutdowns can never starve new registrations.
//
// Core loops (one goroutine each, long-lived, woken by queue pushes):
//   1. Registration loop - INCR the module's worker counter; the worker that
//      takes the counter to exactly 1 inserts the module into the registered
//      set.
//   2. Shutdown loop - DECR the counter; the worker that takes it to zero or
//      below removes the module from the registered set and runs the
//      cancellation cascade synchronously before the loop continues.
//
// All counter mutations are single atomic store operations. The loops never
// read-modify-write, so any number of registry instances can run these loops
// concurrently without corrupting counts.
//
// ============================================================================

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/LAPS-Group/laps/internal/config"
	"github.com/LAPS-Group/laps/internal/metrics"
	"github.com/LAPS-Group/laps/internal/store"
	"github.com/LAPS-Group/laps/pkg/types"
)

var log = slog.Default()

// popTimeout bounds each blocking pop so the loops notice context
// cancellation promptly.
const popTimeout = time.Second

// Registry maintains the live module set and per-module worker counts.
type Registry struct {
	store   *store.Store
	jobs    config.JobConfig
	metrics *metrics.Collector
}

// New creates a Registry. The job config is needed because the shutdown path
// writes cancelled results with the configured result TTL.
func New(s *store.Store, jobs config.JobConfig, m *metrics.Collector) *Registry {
	return &Registry{store: s, jobs: jobs, metrics: m}
}

// Run starts the registration and shutdown consumer loops and blocks until
// the context is cancelled.
func (r *Registry) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.consume(ctx, r.store.RegisterQueueKey(), r.handleRegistration)
	}()
	go func() {
		defer wg.Done()
		r.consume(ctx, r.store.ShutdownQueueKey(), r.handleShutdown)
	}()
	wg.Wait()
	log.Info("Module registry stopped")
}

// consume pops events off one queue forever. Store errors are logged and the
// loop backs off briefly rather than spinning; corrupt events are handled by
// the per-event handler.
func (r *Registry) consume(ctx context.Context, queue string, handle func(context.Context, []byte)) {
	for {
		if ctx.Err() != nil {
			return
		}
		vals, err := r.store.BLPop(ctx, popTimeout, queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			log.Error("Popping from event queue failed", "queue", queue, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(popTimeout):
			}
			continue
		}
		// BLPOP returns the queue name followed by the value.
		handle(ctx, []byte(vals[1]))
	}
}

// handleRegistration processes one worker registration event.
func (r *Registry) handleRegistration(ctx context.Context, payload []byte) {
	var module types.ModuleInfo
	if err := json.Unmarshal(payload, &module); err != nil {
		log.Warn("Dropping corrupt registration message", "payload", string(payload), "error", err)
		return
	}

	count, err := r.store.Incr(ctx, r.store.WorkerCountKey(module)).Result()
	if err != nil {
		log.Error("Incrementing worker count failed", "module", module.Display(), "error", err)
		return
	}

	// The worker that takes the count to exactly 1 registers the module.
	if count == 1 {
		if err := r.store.SAdd(ctx, r.store.RegisteredModulesKey(), module.Canonical()).Err(); err != nil {
			log.Error("Adding module to registered set failed", "module", module.Display(), "error", err)
			return
		}
		r.metrics.ModuleRegistered()
		log.Info("Registered module", "module", module.Display())
	}
	log.Info("Worker registered", "module", module.Display(), "workers", count)
}

// handleShutdown processes one worker shutdown event.
func (r *Registry) handleShutdown(ctx context.Context, payload []byte) {
	var module types.ModuleInfo
	if err := json.Unmarshal(payload, &module); err != nil {
		log.Warn("Dropping corrupt shutdown message", "payload", string(payload), "error", err)
		return
	}

	count, err := r.store.Decr(ctx, r.store.WorkerCountKey(module)).Result()
	if err != nil {
		log.Error("Decrementing worker count failed", "module", module.Display(), "error", err)
		return
	}

	if count < 0 {
		// A shutdown arrived for a worker that never registered, or events
		// were re-ordered. The count is left as-is so the mismatch stays
		// visible; see the registry notes in DESIGN.md.
		log.Warn("Worker count went negative", "module", module.Display(), "count", count)
	}
	if count > 0 {
		log.Info("Worker shut down", "module", module.Display(), "workers", count)
		return
	}

	// Last worker gone: remove the module, then unwind its pending work
	// before consuming further shutdown events.
	removed, err := r.store.SRem(ctx, r.store.RegisteredModulesKey(), module.Canonical()).Result()
	if err != nil {
		log.Error("Removing module from registered set failed", "module", module.Display(), "error", err)
	} else if removed > 0 {
		r.metrics.ModuleUnregistered()
	}
	log.Info("Module shut down", "module", module.Display())

	if err := r.Cascade(ctx, module); err != nil {
		log.Error("Cancellation cascade failed", "module", module.Display(), "error", err)
	}
}

// RegisteredModules returns the modules that currently have at least one live
// worker. Entries that fail to deserialize are logged and skipped; corrupt
// data never aborts listing.
func (r *Registry) RegisteredModules(ctx context.Context) ([]types.ModuleInfo, error) {
	members, err := r.store.SMembers(ctx, r.store.RegisteredModulesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("reading registered module set: %w", err)
	}

	modules := make([]types.ModuleInfo, 0, len(members))
	for _, member := range members {
		var module types.ModuleInfo
		if err := json.Unmarshal([]byte(member), &module); err != nil {
			log.Warn("Skipping corrupt registered module entry", "entry", member, "error", err)
			continue
		}
		modules = append(modules, module)
	}
	return modules, nil
}

// IsRegistered reports whether the module currently has a live worker.
func (r *Registry) IsRegistered(ctx context.Context, module types.ModuleInfo) (bool, error) {
	ok, err := r.store.SIsMember(ctx, r.store.RegisteredModulesKey(), module.Canonical()).Result()
	if err != nil {
		return false, fmt.Errorf("checking registered module set: %w", err)
	}
	return ok, nil
}

// WorkerCount returns the module's live worker count. A module that never
// registered has a count of zero.
func (r *Registry) WorkerCount(ctx context.Context, module types.ModuleInfo) (int64, error) {
	val, err := r.store.Get(ctx, r.store.WorkerCountKey(module)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading worker count: %w", err)
	}
	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing worker count %q: %w", val, err)
	}
	return count, nil
}

// SetDesiredWorkers records how many workers of the module should exist. The
// registry does not enforce this; it is set at module upload time and read
// back for display and orchestration.
func (r *Registry) SetDesiredWorkers(ctx context.Context, module types.ModuleInfo, n int64) error {
	if err := r.store.Set(ctx, r.store.DesiredWorkersKey(module), n, 0).Err(); err != nil {
		return fmt.Errorf("storing desired worker count: %w", err)
	}
	return nil
}

// DesiredWorkers returns the recorded desired worker count, zero if unset.
func (r *Registry) DesiredWorkers(ctx context.Context, module types.ModuleInfo) (int64, error) {
	val, err := r.store.Get(ctx, r.store.DesiredWorkersKey(module)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading desired worker count: %w", err)
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing desired worker count %q: %w", val, err)
	}
	return n, nil
}
