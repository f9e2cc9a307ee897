// ============================================================================
// LAPS Runner CLI - Worker Process Entry Point
// ============================================================================
//
// Package: internal/cli
// Purpose: Command tree for laps-runner, the worker-side harness binary. A
// runner is launched per worker process, usually by the container supervisor,
// with the module name and version as positional arguments so the supervisor
// can override them per deployment.
//
// ============================================================================

package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/LAPS-Group/laps/internal/runner"
	"github.com/LAPS-Group/laps/internal/store"
	"github.com/LAPS-Group/laps/pkg/types"
)

// BuildRunnerCLI assembles the laps-runner command.
func BuildRunnerCLI() *cobra.Command {
	var (
		redisAddr     string
		redisPassword string
		testMode      bool
		resultTimeout int
	)

	cmd := &cobra.Command{
		Use:   "laps-runner <name> <version>",
		Short: "Run one LAPS pathfinding worker",
		Long: `Run one worker process of a pathfinding module. The worker registers
itself with the backend, consumes the module's work queue and writes results
until interrupted, then deregisters.

This binary ships the built-in dummy pathfinder; real modules link the runner
package with their own algorithm.`,
		Args:    cobra.ExactArgs(2),
		Version: "1.0.0",
		RunE: func(cmd *cobra.Command, args []string) error {
			module := types.ModuleInfo{Name: args[0], Version: args[1]}

			prefix := store.DefaultPrefix
			if testMode {
				prefix = store.DefaultPrefix + ".testing"
			}
			client := redis.NewClient(&redis.Options{
				Addr:     redisAddr,
				Password: redisPassword,
			})
			defer client.Close()
			st := store.New(client, prefix)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			r := runner.New(st, module, runner.DummyPathfinder,
				time.Duration(resultTimeout)*time.Second)
			return r.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&redisAddr, "redis", "localhost:6379", "coordination store address")
	cmd.Flags().StringVar(&redisPassword, "redis-password", "", "coordination store password")
	cmd.Flags().BoolVar(&testMode, "test", false, "use the testing key namespace")
	cmd.Flags().IntVar(&resultTimeout, "result-timeout", 600, "result TTL in seconds")

	return cmd
}
