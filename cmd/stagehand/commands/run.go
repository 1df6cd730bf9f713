package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/stagehand/stagehand/pkg/engine"
	"github.com/stagehand/stagehand/pkg/inventory"
	"github.com/stagehand/stagehand/pkg/loader"
	"github.com/stagehand/stagehand/pkg/modules"
	"github.com/stagehand/stagehand/pkg/playbook"
	"github.com/stagehand/stagehand/pkg/stores"
)

func newRunCommand() *cobra.Command {
	var (
		tags            []string
		limit           []string
		check           bool
		forks           int
		continueOnError bool
		historyPath     string
	)

	cmd := &cobra.Command{
		Use:   "run <playbook>",
		Short: "Execute a playbook against the inventory",
		Long: `Execute a playbook against the inventory.

Each play targets the hosts its pattern expands to; tasks run
host-parallel up to --forks concurrent hosts, strictly sequential
within one host. A failed task stops that host's remaining tasks
without affecting other hosts.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if inventoryPath == "" {
				return fmt.Errorf("inventory file is required (use -i)")
			}

			ctx := cmd.Context()
			playbookPath := args[0]

			l := loader.New()
			pb, err := l.LoadPlaybook(playbookPath)
			if err != nil {
				return err
			}
			inv, err := l.LoadInventory(inventoryPath)
			if err != nil {
				return err
			}

			registry := modules.Builtin()
			if check {
				registry = registry.CheckMode()
				fmt.Fprintln(cmd.OutOrStdout(), "*** CHECK MODE: no changes will be applied ***")
			}

			orch := engine.NewOrchestrator(engine.NewExecutor(registry), engine.Options{
				Forks:           forks,
				ContinueOnError: continueOnError,
			})

			var recorder *runRecorder
			if historyPath != "" {
				recorder, err = newRunRecorder(ctx, historyPath, playbookPath)
				if err != nil {
					return err
				}
				defer recorder.Close()
			}

			results, execErr := execute(ctx, orch, pb, inv, tags, limit)

			if jsonOutput {
				if err := json.NewEncoder(cmd.OutOrStdout()).Encode(results); err != nil {
					return err
				}
			} else {
				printResults(cmd, results)
			}

			if recorder != nil {
				recorder.Record(ctx, results, execErr)
			}

			if execErr != nil {
				return execErr
			}
			if n := totalFailed(results); n > 0 {
				return fmt.Errorf("%w: %d task(s)", ErrTasksFailed, n)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&tags, "tags", "t", nil, "run only plays carrying at least one of these tags")
	cmd.Flags().StringSliceVarP(&limit, "limit", "l", nil, "restrict execution to these hosts")
	cmd.Flags().BoolVar(&check, "check", false, "dry run: report what would change without applying")
	cmd.Flags().IntVar(&forks, "forks", 10, "maximum concurrent hosts per play")
	cmd.Flags().BoolVar(&continueOnError, "continue-on-error", false, "keep running a host's tasks after a failure")
	cmd.Flags().StringVar(&historyPath, "history", "", "record the run in a SQLite database at this path")

	return cmd
}

// execute dispatches to the right orchestrator entry point for the
// given filters. Tag and host filters compose.
func execute(ctx context.Context, orch *engine.Orchestrator, pb playbook.Playbook, inv *inventory.Inventory, tags, limit []string) ([]engine.PlayResult, error) {
	switch {
	case len(tags) > 0 && len(limit) > 0:
		return orch.ExecuteWithTags(ctx, pb, inv.Restrict(limit), tags)
	case len(tags) > 0:
		return orch.ExecuteWithTags(ctx, pb, inv, tags)
	case len(limit) > 0:
		return orch.ExecuteWithHosts(ctx, pb, inv, limit)
	default:
		return orch.Execute(ctx, pb, inv)
	}
}

// printResults writes the human-readable run report.
func printResults(cmd *cobra.Command, results []engine.PlayResult) {
	out := cmd.OutOrStdout()

	for _, result := range results {
		fmt.Fprintf(out, "\nPLAY [%s]\n", result.Play)

		for _, hr := range result.Hosts {
			for _, outcome := range hr.Tasks {
				fmt.Fprintf(out, "  %-20s | %-30s ... %s\n", hr.Host, outcome.Task, statusLabel(outcome.Result))
			}
			for _, outcome := range hr.Handlers {
				fmt.Fprintf(out, "  %-20s | %-30s ... %s (handler)\n", hr.Host, outcome.Task, statusLabel(outcome.Result))
			}
		}

		c := result.Counts
		fmt.Fprintf(out, "  recap: ok=%d changed=%d failed=%d skipped=%d  (%s)\n",
			c.Ok, c.Changed, c.Failed, c.Skipped, result.Duration.Round(time.Millisecond))
	}
}

// statusLabel renders a task result as the report's status column.
func statusLabel(result playbook.TaskResult) string {
	if result.Skipped {
		return "SKIPPED"
	}
	switch result.Status {
	case playbook.StatusChanged:
		return "CHANGED"
	case playbook.StatusFailed:
		return "FAILED"
	default:
		return "OK"
	}
}

func totalFailed(results []engine.PlayResult) int {
	n := 0
	for _, result := range results {
		n += result.Counts.Failed
	}
	return n
}

// runRecorder persists run history through the stores layer.
type runRecorder struct {
	store *stores.SQLiteStore
	runID string
}

func newRunRecorder(ctx context.Context, path, playbookPath string) (*runRecorder, error) {
	store, err := stores.NewSQLiteStore(ctx, stores.DefaultConfig(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open run history: %w", err)
	}

	r := &runRecorder{store: store, runID: uuid.New().String()}
	run := &stores.Run{
		ID:           r.runID,
		PlaybookPath: playbookPath,
		Status:       stores.RunStatusRunning,
		StartedAt:    time.Now(),
	}
	if err := store.CreateRun(ctx, run); err != nil {
		_ = store.Close()
		return nil, err
	}
	return r, nil
}

// Record saves per-play and per-task records and finalizes the run.
// History failures are logged, never surfaced: recording must not turn
// a successful run into a failed one.
func (r *runRecorder) Record(ctx context.Context, results []engine.PlayResult, execErr error) {
	cancelled := ctx.Err() != nil
	// Detach from cancellation so a cancelled run still gets its partial
	// results and terminal status written.
	ctx = context.WithoutCancel(ctx)

	failed := execErr != nil

	for _, result := range results {
		if result.Failed() {
			failed = true
		}
		rec := &stores.PlayRecord{
			ID:          uuid.New().String(),
			RunID:       r.runID,
			Play:        result.Play,
			Ok:          result.Counts.Ok,
			Changed:     result.Counts.Changed,
			Failed:      result.Counts.Failed,
			Skipped:     result.Counts.Skipped,
			Unreachable: result.Counts.Unreachable,
			Duration:    result.Duration,
		}
		if err := r.store.SavePlayRecord(ctx, rec); err != nil {
			log.Warn().Err(err).Str("play", result.Play).Msg("Failed to record play")
		}
		r.recordTasks(ctx, result)
	}

	status := stores.RunStatusCompleted
	var errMsg *string
	if cancelled {
		status = stores.RunStatusCancelled
	} else if failed {
		status = stores.RunStatusFailed
	}
	if execErr != nil {
		msg := execErr.Error()
		errMsg = &msg
	}
	if err := r.store.CompleteRun(ctx, r.runID, status, errMsg); err != nil {
		log.Warn().Err(err).Msg("Failed to finalize run record")
	}
}

func (r *runRecorder) recordTasks(ctx context.Context, result engine.PlayResult) {
	save := func(host, task string, phase stores.TaskPhase, tr playbook.TaskResult) {
		rec := &stores.TaskRecord{
			ID:      uuid.New().String(),
			RunID:   r.runID,
			Play:    result.Play,
			Host:    host,
			Task:    task,
			Phase:   phase,
			Status:  string(tr.Status),
			Skipped: tr.Skipped,
			Output:  tr.Output,
		}
		if err := r.store.SaveTaskRecord(ctx, rec); err != nil {
			log.Warn().Err(err).Str("task", task).Msg("Failed to record task")
		}
	}

	for _, hr := range result.Hosts {
		for _, outcome := range hr.Tasks {
			save(hr.Host, outcome.Task, stores.TaskPhaseTask, outcome.Result)
		}
		for _, outcome := range hr.Handlers {
			save(hr.Host, outcome.Task, stores.TaskPhaseHandler, outcome.Result)
		}
	}
}

func (r *runRecorder) Close() {
	if err := r.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close run history store")
	}
}
