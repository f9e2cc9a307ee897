// ============================================================================
// LAPS Coordination Store - Redis Client and Key Scheme
// ============================================================================
//
// Package: internal/store
// Purpose: Owns the connection to the coordination store and the derived key
// namespace. Every key the system touches is built here; no other package
// formats key strings by hand.
//
// Key namespace (under the configured prefix, default "laps"):
//   <p>.backend.registered_modules               set of canonical ModuleInfo
//   <p>.backend.register-module                  registration event queue
//   <p>.backend.module-shutdown                  shutdown event queue
//   <p>.backend.modules.<name:ver>.workers       live worker counter
//   <p>.backend.modules.<name:ver>.desired_workers
//   <p>.runner.<name:ver>.work                   per-module work queue
//   <p>.backend.job_id                           job id counter
//   <p>.backend.jobs.<id>.result                 job result slot (TTL)
//   <p>.backend.jobs.cache.<name:ver>.<fp>       dedup cache entry (TTL)
//   <p>.backend.jobs.tokens.<token>              token -> job id (TTL)
//   <p>.backend.job_poll_ratelimiter             in-flight poller counter
//   <p>.backend.errors                           module runtime error log
//   <p>.mapdata / <p>.mapmeta / <p>.map_id       map image store
//
// ============================================================================

package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/LAPS-Group/laps/pkg/types"
)

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "laps"

// Config holds the coordination store connection settings.
type Config struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// Store wraps the Redis client together with the key scheme. The embedded
// client is used directly for all store primitives; Store only adds key
// construction and a few scan helpers.
type Store struct {
	*redis.Client
	prefix string
}

// Connect creates a client from config and verifies the connection with a
// ping before returning.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging coordination store at %s: %w", cfg.Address, err)
	}
	return New(client, cfg.KeyPrefix), nil
}

// New wraps an existing client. Tests use this with a miniredis-backed
// client; production code goes through Connect.
func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{Client: client, prefix: prefix}
}

// Key builds a general store key.
func (s *Store) Key(name string) string {
	return s.prefix + "." + name
}

// BackendKey builds a key for state owned by the backend itself.
func (s *Store) BackendKey(name string) string {
	return s.prefix + ".backend." + name
}

// RegisteredModulesKey is the set of currently registered modules.
func (s *Store) RegisteredModulesKey() string {
	return s.BackendKey("registered_modules")
}

// RegisterQueueKey is the queue workers push registration events onto.
func (s *Store) RegisterQueueKey() string {
	return s.BackendKey("register-module")
}

// ShutdownQueueKey is the queue workers push shutdown events onto.
func (s *Store) ShutdownQueueKey() string {
	return s.BackendKey("module-shutdown")
}

// WorkerCountKey is the live worker counter for a module.
func (s *Store) WorkerCountKey(m types.ModuleInfo) string {
	return s.BackendKey("modules." + m.Display() + ".workers")
}

// DesiredWorkersKey records how many workers of a module should exist. Set at
// module upload time, used for display only.
func (s *Store) DesiredWorkersKey(m types.ModuleInfo) string {
	return s.BackendKey("modules." + m.Display() + ".desired_workers")
}

// WorkQueueKey is the per-module work queue consumed by worker processes.
func (s *Store) WorkQueueKey(m types.ModuleInfo) string {
	return s.Key("runner." + m.Display() + ".work")
}

// JobIDKey is the shared job id counter.
func (s *Store) JobIDKey() string {
	return s.BackendKey("job_id")
}

// JobResultKey is the result slot for a job.
func (s *Store) JobResultKey(jobID int32) string {
	return s.BackendKey(fmt.Sprintf("jobs.%d.result", jobID))
}

// CacheKey is the dedup cache entry for a submission fingerprint. The module
// display form is part of the key so the cancellation cascade can purge a
// module's entries by pattern.
func (s *Store) CacheKey(m types.ModuleInfo, fingerprint string) string {
	return s.BackendKey("jobs.cache." + m.Display() + "." + fingerprint)
}

// CacheModulePattern matches every cache entry belonging to a module.
func (s *Store) CacheModulePattern(m types.ModuleInfo) string {
	return s.BackendKey("jobs.cache." + m.Display() + ".*")
}

// TokenKey maps a client token to a job id.
func (s *Store) TokenKey(token string) string {
	return s.BackendKey("jobs.tokens." + token)
}

// PollRateLimiterKey is the shared in-flight poller counter.
func (s *Store) PollRateLimiterKey() string {
	return s.BackendKey("job_poll_ratelimiter")
}

// ErrorLogKey is the list module runners push runtime errors onto.
func (s *Store) ErrorLogKey() string {
	return s.BackendKey("errors")
}

// MapDataKey is the hash of map id -> image bytes.
func (s *Store) MapDataKey() string {
	return s.Key("mapdata")
}

// MapMetaKey is the hash of map id -> serialized MapMeta.
func (s *Store) MapMetaKey() string {
	return s.Key("mapmeta")
}

// MapIDKey is the map id counter.
func (s *Store) MapIDKey() string {
	return s.Key("map_id")
}

// ScanKeys collects every key matching pattern. Used by the cancellation
// cascade to find a module's cache entries.
func (s *Store) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scanning %q: %w", pattern, err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}
