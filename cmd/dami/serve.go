package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/whiro/dami/internal/api"
	"github.com/whiro/dami/internal/container"
	"github.com/whiro/dami/internal/gcs"
	"github.com/whiro/dami/internal/jobs"
	"github.com/whiro/dami/internal/jobs/inmemory"
	"github.com/whiro/dami/internal/logger"
	"github.com/whiro/dami/internal/moneyforward"
	"github.com/whiro/dami/internal/pipeline"
	"github.com/whiro/dami/internal/scheduler"
	"github.com/whiro/dami/internal/schema"
)

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with the import worker and optional schedule",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if servePort != "" {
			settings.Server.Port = servePort
		}
		return withContainer(func(c *container.Container) error {
			return serve(cmd.Context(), c)
		})
	},
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "HTTP server port (overrides settings)")
}

func serve(ctx context.Context, c *container.Container) error {
	s := c.Settings()

	svc, err := c.ImportService(ctx)
	if err != nil {
		return err
	}
	store, err := c.Storage(ctx)
	if err != nil {
		return err
	}
	runs, err := c.ImportRuns(ctx)
	if err != nil {
		return err
	}
	transactions, err := c.Transactions(ctx)
	if err != nil {
		return err
	}

	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(s.Server.QueueSize, jobStore, inmemory.WithWorkers(s.Server.Workers))

	workerCtx, cancelWorker := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancelWorker()

	go func() {
		log.Info().Int("workers", s.Server.Workers).Msg("Starting job worker")
		if err := jobQueue.Start(workerCtx, importJobHandler(svc)); err != nil {
			log.Error().Err(err).Msg("Job worker stopped with error")
		}
	}()

	var sched *scheduler.Scheduler
	if s.Server.Schedule != "" {
		loc, err := time.LoadLocation(s.Server.ScheduleTZ)
		if err != nil {
			return fmt.Errorf("schedule timezone: %w", err)
		}
		sched, err = scheduler.New(s.Server.Schedule, loc, jobQueue)
		if err != nil {
			return err
		}
		sched.Start(workerCtx)
		log.Info().Str("schedule", s.Server.Schedule).Time("next", sched.Next()).Msg("Scheduled imports enabled")
	}

	handler := api.NewRouter(api.Deps{
		Publisher:    jobQueue,
		Jobs:         jobStore,
		Transactions: transactions,
		Runs:         runs,
		Uploader:     store,
		ExportPrefix: s.ExportPrefix(),
		AuthToken:    s.Server.AuthToken,
		Log:          log,
	})

	server := &http.Server{
		Addr:         ":" + s.Server.Port,
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", s.Server.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("server: %w", err)
	}

	log.Info().Msg("Shutting down server...")

	if sched != nil {
		sched.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	// In-flight imports finish before their context is cancelled.
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Import workers did not drain, cancelling running imports")
	}
	cancelWorker()
	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Server exited")
	return nil
}

// importer is the part of pipeline.ImportService the worker calls.
type importer interface {
	Import(ctx context.Context, req pipeline.Request) (*pipeline.ImportResult, error)
}

// importJobHandler runs queued import jobs. Errors that a retry cannot fix
// fail the job immediately.
func importJobHandler(svc importer) jobs.JobHandler {
	return func(ctx context.Context, job jobs.Job) error {
		importJob, ok := job.(*jobs.ImportJob)
		if !ok {
			return jobs.Permanent(fmt.Errorf("unexpected job type: %T", job))
		}

		result, err := svc.Import(ctx, pipeline.Request{
			Trigger:   importJob.Trigger,
			SourceURI: importJob.SourceURI,
			DryRun:    importJob.DryRun,
		})
		if result != nil {
			importJob.Result = jobResult(result)
		}
		if err != nil {
			if isPermanent(err) {
				return jobs.Permanent(err)
			}
			return err
		}
		return nil
	}
}

func jobResult(r *pipeline.ImportResult) *jobs.ImportJobResult {
	out := &jobs.ImportJobResult{
		RunID:       r.RunID,
		SourceURI:   r.SourceURI,
		RowsDeleted: r.RowsDeleted,
		RowsLoaded:  r.RowsLoaded,
		Skipped:     r.Skipped,
		SkipReason:  r.SkipReason,
	}
	if r.Window != nil {
		out.Window = r.Window.String()
	}
	return out
}

// isPermanent reports whether err comes from the export itself rather than
// from the services it is written to.
func isPermanent(err error) bool {
	var (
		missing     *schema.MissingColumnError
		mismatch    *schema.TypeMismatchError
		requiredNil *schema.RequiredNullError
		notFound    *gcs.BlobNotFoundError
		unsupported *gcs.UnsupportedFileTypeError
		invalid     *moneyforward.ExportError
	)
	return errors.As(err, &invalid) ||
		errors.As(err, &missing) ||
		errors.As(err, &mismatch) ||
		errors.As(err, &requiredNil) ||
		errors.As(err, &notFound) ||
		errors.As(err, &unsupported)
}
