// ============================================================================
// LAPS Cancellation Cascade - Module Shutdown Cleanup
// ============================================================================
//
// Package: internal/registry
// Purpose: When the last worker of a module exits, every job still queued for
// that module would otherwise hang until its client gives up polling. The
// cascade drains the queue, writes a Cancelled result into each drained job's
// result slot using the same key scheme the result gate reads, and purges the
// module's dedup cache entries so a future identical submission is treated as
// new work.
//
// ============================================================================

package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/LAPS-Group/laps/pkg/types"
)

// Cascade unwinds a module's in-flight state after its last worker exits.
// Invoked by the shutdown loop immediately after the module is removed from
// the registered set, and safe to invoke again: with an empty queue and no
// cache entries every step is a no-op.
//
// Each step is best-effort. A failure to cancel one job or delete one cache
// entry is logged and the cascade moves on, so a partially unreachable store
// never blocks cleanup of the rest.
func (r *Registry) Cascade(ctx context.Context, module types.ModuleInfo) error {
	workKey := r.store.WorkQueueKey(module)

	// Drain the whole queue without re-adding anything.
	pending, err := r.store.LRange(ctx, workKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("draining work queue for %s: %w", module.Display(), err)
	}
	if err := r.store.Del(ctx, workKey).Err(); err != nil {
		log.Error("Deleting drained work queue failed", "module", module.Display(), "error", err)
	}

	cancelled := 0
	for _, raw := range pending {
		var job types.JobInfo
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			log.Warn("Skipping corrupt queued job during cascade",
				"module", module.Display(), "entry", raw, "error", err)
			continue
		}

		// The cancelled result is written exactly where a worker would have
		// written a real one, so a polling client sees a normal terminal
		// outcome instead of a timeout.
		result := types.JobResult{
			JobID:   job.JobID,
			Outcome: types.OutcomeCancelled,
			Points:  []types.Vector{},
		}
		payload, _ := json.Marshal(result)
		key := r.store.JobResultKey(job.JobID)
		if err := r.store.Set(ctx, key, payload, r.jobs.ResultTTL()).Err(); err != nil {
			log.Error("Writing cancelled result failed",
				"module", module.Display(), "job_id", job.JobID, "error", err)
			continue
		}
		cancelled++
	}
	r.metrics.RecordCancelled(cancelled)

	// Purge the module's dedup cache entries so future identical submissions
	// dispatch fresh work instead of reusing a token tied to a dead module.
	purged := 0
	keys, err := r.store.ScanKeys(ctx, r.store.CacheModulePattern(module))
	if err != nil {
		log.Error("Scanning cache entries failed", "module", module.Display(), "error", err)
	} else if len(keys) > 0 {
		if err := r.store.Del(ctx, keys...).Err(); err != nil {
			log.Error("Deleting cache entries failed", "module", module.Display(), "error", err)
		} else {
			purged = len(keys)
		}
	}

	log.Info("Cancellation cascade finished",
		"module", module.Display(), "cancelled_jobs", cancelled, "purged_cache_entries", purged)
	return nil
}
