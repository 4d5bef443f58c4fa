package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/relayq/jobqueue"
	"github.com/relayq/jobqueue/job"
	"github.com/relayq/jobqueue/sqlstore"
)

var version = "0.1.0-dev"

var (
	storageURI string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "jobqueue",
		Short: "jobqueue - a persistent, lease-based job queue",
		Long: `jobqueue operates a durable job queue backed by SQLite or Postgres.

  jobqueue push     Enqueue a job
  jobqueue show      Show a job by ID
  jobqueue cancel    Cancel a waiting or running job
  jobqueue serve     Run workers against the configured storage

Run 'jobqueue <command> --help' for details on a specific command.`,
	}
	rootCmd.PersistentFlags().StringVar(&storageURI, "storage", os.Getenv("JOBQUEUE_STORAGE"), "storage backend URI (e.g. sqlite:///var/lib/jobqueue.db or postgres://...)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(map[string]any{
				"version": version,
			})
		},
	}

	var (
		pushType     string
		pushMessage  string
		pushPriority int
		pushUnique   string
		pushDelay    time.Duration
		pushCron     string
		pushRetries  int
	)
	pushCmd := &cobra.Command{
		Use:   "push",
		Short: "Enqueue a job",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := openQueue(cmd.Context())
			if err != nil {
				return printErrorJSON(err)
			}
			defer q.Stop(context.Background())

			opts := job.Options{
				Priority:  pushPriority,
				UniqueID:  pushUnique,
				Recurring: pushCron,
			}
			if pushDelay > 0 {
				when := time.Now().Add(pushDelay)
				opts.Scheduled = &when
			}
			if cmd.Flags().Changed("retries") {
				opts.Retries = &pushRetries
			}

			j, err := q.Push(cmd.Context(), pushType, []byte(pushMessage), opts)
			if err != nil {
				return printErrorJSON(err)
			}
			return printJSON(j)
		},
	}
	pushCmd.Flags().StringVar(&pushType, "type", "", "job type (required)")
	pushCmd.Flags().StringVar(&pushMessage, "message", "", "job payload")
	pushCmd.Flags().IntVar(&pushPriority, "priority", 0, "lower runs first")
	pushCmd.Flags().StringVar(&pushUnique, "unique-id", "", "dedupe key; rejected if a non-terminal job shares it")
	pushCmd.Flags().DurationVar(&pushDelay, "delay", 0, "delay before the job becomes runnable")
	pushCmd.Flags().StringVar(&pushCron, "cron", "", "cron expression for a recurring job")
	pushCmd.Flags().IntVar(&pushRetries, "retries", job.DefaultRetries, "retry attempts after the first failure")
	_ = pushCmd.MarkFlagRequired("type")

	var showID string
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show a job by ID",
		RunE: func(cmd *cobra.Command, args []string) error {
			storage, err := openStorage(cmd.Context())
			if err != nil {
				return printErrorJSON(err)
			}
			defer storage.Close()
			j, err := storage.FindJobByID(cmd.Context(), showID)
			if err != nil {
				return printErrorJSON(err)
			}
			if j == nil {
				return printErrorJSON(fmt.Errorf("job %q not found", showID))
			}
			return printJSON(j)
		},
	}
	showCmd.Flags().StringVar(&showID, "id", "", "job ID (required)")
	_ = showCmd.MarkFlagRequired("id")

	var (
		cancelID       string
		cancelUniqueID string
	)
	cancelCmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a waiting or running job",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := openQueue(cmd.Context())
			if err != nil {
				return printErrorJSON(err)
			}
			defer q.Stop(context.Background())

			j, err := q.Cancel(cmd.Context(), cancelID, cancelUniqueID)
			if err != nil {
				return printErrorJSON(err)
			}
			if j == nil {
				return printErrorJSON(fmt.Errorf("no matching job to cancel"))
			}
			return printJSON(j)
		},
	}
	cancelCmd.Flags().StringVar(&cancelID, "id", "", "job ID")
	cancelCmd.Flags().StringVar(&cancelUniqueID, "unique-id", "", "job unique ID, used when --id is empty")

	var serveHandlers []string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine, dispatching to no-op handlers for the given types",
		Long: `serve starts the polling engine against the configured storage and
registers a pass-through handler (one that succeeds immediately with no
output) for each --handle type. It is meant for smoke-testing a storage
backend, not for running real workloads; embed the jobqueue package
directly and register real handlers for that.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := openQueue(cmd.Context())
			if err != nil {
				return printErrorJSON(err)
			}

			for _, t := range serveHandlers {
				if err := q.Handle(t, 1, noopHandler); err != nil {
					return printErrorJSON(err)
				}
			}

			ctx, cancel := context.WithCancel(context.Background())
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigCh
				cancel()
			}()

			if err := q.Start(ctx); err != nil {
				cancel()
				return printErrorJSON(err)
			}

			// The TTL sweep only applies to a SQL-backed store; other
			// Storage implementations simply never run one.
			var sweeper *sqlstore.Sweeper
			if store, ok := q.Storage().(*sqlstore.Store); ok {
				sweeper = sqlstore.NewSweeper(store, sqlstore.DefaultTTLConfig(), slog.Default())
				sweeper.Start(ctx)
			}

			<-ctx.Done()

			if sweeper != nil {
				<-sweeper.Stop()
			}

			stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer stopCancel()
			return q.Stop(stopCtx)
		},
	}
	serveCmd.Flags().StringSliceVar(&serveHandlers, "handle", nil, "job type to register a no-op handler for (repeatable)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func noopHandler(ctx context.Context, h *jobqueue.JobHandle) ([]byte, error) {
	return nil, nil
}

func openStorage(ctx context.Context) (jobqueue.Storage, error) {
	if storageURI == "" {
		return nil, fmt.Errorf("--storage (or JOBQUEUE_STORAGE) is required")
	}
	return jobqueue.Open(ctx, storageURI)
}

func openQueue(ctx context.Context) (*jobqueue.JobQueue, error) {
	if storageURI == "" {
		return nil, fmt.Errorf("--storage (or JOBQUEUE_STORAGE) is required")
	}
	cfg := jobqueue.DefaultConfig()
	cfg.StorageURI = storageURI
	return jobqueue.New(ctx, cfg)
}

func printJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

func printErrorJSON(err error) error {
	output := map[string]any{
		"ok":    false,
		"error": err.Error(),
	}
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if encErr := encoder.Encode(output); encErr != nil {
		return fmt.Errorf("failed to encode error JSON: %w", encErr)
	}
	return err
}
