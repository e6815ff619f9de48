// Package jobqueue runs background maintenance on River. Today that is the
// daily retention sweep removing archived conversations and completed action
// records past the configured window.
package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog/log"

	"github.com/coderbot/coderbot/internal/conversation"
)

// CleanupJobArgs parameterizes one retention sweep.
type CleanupJobArgs struct {
	RetentionDays int `json:"retention_days"`
}

func (CleanupJobArgs) Kind() string { return "retention_cleanup" }

// CleanupWorker executes retention sweeps against the conversation store.
type CleanupWorker struct {
	river.WorkerDefaults[CleanupJobArgs]
	store *conversation.Service
}

func (w *CleanupWorker) Work(ctx context.Context, job *river.Job[CleanupJobArgs]) error {
	removed, err := w.store.CleanupOld(ctx, job.Args.RetentionDays)
	if err != nil {
		return fmt.Errorf("retention cleanup failed: %w", err)
	}
	log.Info().
		Int64("conversations_removed", removed).
		Int("retention_days", job.Args.RetentionDays).
		Msg("retention cleanup finished")
	return nil
}

// JobQueue owns the River client and its connection pool.
type JobQueue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
}

// New builds a job queue running the retention sweep daily (and once at
// startup) with the given retention window.
func New(databaseURL string, store *conversation.Service, retentionDays int) (*JobQueue, error) {
	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &CleanupWorker{store: store})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 2},
		},
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(24*time.Hour),
				func() (river.JobArgs, *river.InsertOpts) {
					return CleanupJobArgs{RetentionDays: retentionDays}, nil
				},
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		},
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{client: client, pool: pool}, nil
}

// Start launches the workers and the periodic scheduler.
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop drains workers and closes the pool.
func (jq *JobQueue) Stop(ctx context.Context) error {
	err := jq.client.Stop(ctx)
	jq.pool.Close()
	return err
}
