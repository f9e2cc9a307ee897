// ============================================================================
// LAPS Module Runner - Worker-Side Harness
// ============================================================================
//
// Package: internal/runner
// Purpose: Hosts one worker process of a pathfinding module. The harness
// speaks the worker side of the coordination protocol: it registers the
// module on startup, pulls jobs off the module's work queue, invokes the
// pathfinding function, writes results into the job result slots the backend
// reads, and announces shutdown when stopped so the registry can decrement
// the worker count.
//
// The pathfinding algorithm itself is a plugged-in function; the harness owns
// only the protocol.
//
// ============================================================================

package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/LAPS-Group/laps/internal/store"
	"github.com/LAPS-Group/laps/pkg/types"
)

var log = slog.Default()

// ErrAlreadyRegistered means a module with the same name and version is
// already in the registered set. Refusing to start avoids two worker pools
// fighting over one identity.
var ErrAlreadyRegistered = errors.New("module already registered")

// popTimeout bounds each blocking pop so the loop notices cancellation.
const popTimeout = time.Second

// Pathfinder computes a path for one job. Returning an error marks the job
// failed; the error text is also pushed onto the backend module error log.
type Pathfinder func(ctx context.Context, job types.JobInfo) ([]types.Vector, error)

// Runner is one live worker of a module.
type Runner struct {
	store     *store.Store
	module    types.ModuleInfo
	find      Pathfinder
	resultTTL time.Duration
}

// New creates a Runner for the given module identity.
func New(s *store.Store, module types.ModuleInfo, find Pathfinder, resultTTL time.Duration) *Runner {
	return &Runner{store: s, module: module, find: find, resultTTL: resultTTL}
}

// Run registers the module, processes jobs until the context is cancelled,
// and posts the shutdown event on the way out.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.register(ctx); err != nil {
		return err
	}
	log.Info("Module registered", "module", r.module.Display())

	defer func() {
		// The shutdown event must go out even when we exit because ctx was
		// cancelled; a lost event would leave the worker count stuck high.
		err := r.store.RPush(context.WithoutCancel(ctx), r.store.ShutdownQueueKey(), r.module.Canonical()).Err()
		if err != nil {
			log.Error("Posting shutdown event failed", "module", r.module.Display(), "error", err)
			return
		}
		log.Info("Posted shutdown event", "module", r.module.Display())
	}()

	workKey := r.store.WorkQueueKey(r.module)
	for {
		if ctx.Err() != nil {
			return nil
		}
		vals, err := r.store.BLPop(ctx, popTimeout, workKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			return fmt.Errorf("popping from work queue: %w", err)
		}
		r.handle(ctx, []byte(vals[1]))
	}
}

// register announces this worker, refusing duplicate module identities.
func (r *Runner) register(ctx context.Context) error {
	exists, err := r.store.SIsMember(ctx, r.store.RegisteredModulesKey(), r.module.Canonical()).Result()
	if err != nil {
		return fmt.Errorf("checking registered module set: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, r.module.Display())
	}
	if err := r.store.RPush(ctx, r.store.RegisterQueueKey(), r.module.Canonical()).Err(); err != nil {
		return fmt.Errorf("posting registration event: %w", err)
	}
	return nil
}

// handle runs the pathfinder for one queued job and writes the result slot.
func (r *Runner) handle(ctx context.Context, payload []byte) {
	var job types.JobInfo
	if err := json.Unmarshal(payload, &job); err != nil {
		log.Warn("Dropping corrupt job message", "module", r.module.Display(), "error", err)
		r.LogError(ctx, fmt.Sprintf("corrupt job message: %v", err))
		return
	}
	log.Info("Got job", "module", r.module.Display(), "job_id", job.JobID)

	result := types.JobResult{JobID: job.JobID, Outcome: types.OutcomeSuccess}
	points, err := r.find(ctx, job)
	if err != nil {
		log.Warn("Pathfinder failed", "module", r.module.Display(), "job_id", job.JobID, "error", err)
		r.LogError(ctx, fmt.Sprintf("job %d failed: %v", job.JobID, err))
		result.Outcome = types.OutcomeFailure
		points = nil
	}
	if points == nil {
		points = []types.Vector{}
	}
	result.Points = points

	raw, _ := json.Marshal(result)
	key := r.store.JobResultKey(job.JobID)
	if err := r.store.Set(ctx, key, raw, r.resultTTL).Err(); err != nil {
		log.Error("Writing job result failed", "module", r.module.Display(), "job_id", job.JobID, "error", err)
		return
	}
	log.Info("Completed job", "module", r.module.Display(), "job_id", job.JobID, "outcome", result.Outcome)
}

// LogError pushes a runtime error report onto the backend module error log.
func (r *Runner) LogError(ctx context.Context, message string) {
	report := types.ModuleError{
		Message: message,
		Module:  r.module,
		Instant: time.Now().UTC(),
	}
	raw, _ := json.Marshal(report)
	if err := r.store.RPush(ctx, r.store.ErrorLogKey(), raw).Err(); err != nil {
		log.Error("Posting module error report failed", "module", r.module.Display(), "error", err)
	}
}
