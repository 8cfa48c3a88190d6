package queue

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivertype"

	"github.com/camforge/camforge/internal/store/model"
)

var ErrTaskNotFound = errors.New("task not found")

// Broker hands jobs to the queue and revokes them. The API process only
// needs this surface, the full client below adds the worker side.
type Broker interface {
	Dispatch(ctx context.Context, job *model.Job, maxAttempts int) (int64, error)
	Cancel(ctx context.Context, taskHandle int64) error
	TaskState(ctx context.Context, taskHandle int64) (string, error)
}

type Client struct {
	*river.Client[pgx.Tx]
}

var _ Broker = (*Client)(nil)

// NewInsertOnlyClient builds a client that can insert and cancel tasks but
// runs no workers. This is what the API process uses.
func NewInsertOnlyClient(pool *pgxpool.Pool) (*Client, error) {
	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{})
	if err != nil {
		return nil, err
	}
	return &Client{Client: riverClient}, nil
}

// WorkerConfig shapes the consuming side of the client.
type WorkerConfig struct {
	// QueueConcurrency caps concurrent workers per queue name.
	QueueConcurrency map[string]int

	// RetryPolicy schedules redeliveries for retryable failures.
	RetryPolicy river.ClientRetryPolicy

	FetchCooldown     time.Duration
	FetchPollInterval time.Duration
}

// NewWorkerClient builds a client that consumes tasks with the given
// pipeline worker registered.
func NewWorkerClient(pool *pgxpool.Pool, worker *PipelineWorker, cfg WorkerConfig) (*Client, error) {
	workers := river.NewWorkers()
	river.AddWorker(workers, worker)

	queues := make(map[string]river.QueueConfig, len(cfg.QueueConcurrency))
	for name, maxWorkers := range cfg.QueueConcurrency {
		if maxWorkers < 1 {
			maxWorkers = 1
		}
		queues[name] = river.QueueConfig{MaxWorkers: maxWorkers}
	}

	riverConfig := &river.Config{
		Queues:      queues,
		Workers:     workers,
		RetryPolicy: cfg.RetryPolicy,
	}
	if cfg.FetchCooldown > 0 {
		riverConfig.FetchCooldown = cfg.FetchCooldown
	}
	if cfg.FetchPollInterval > 0 {
		riverConfig.FetchPollInterval = cfg.FetchPollInterval
	}

	riverClient, err := river.NewClient(riverpgxv5.New(pool), riverConfig)
	if err != nil {
		return nil, err
	}
	return &Client{Client: riverClient}, nil
}

// Dispatch inserts a task for the job on the queue its type is bound to.
func (c *Client) Dispatch(ctx context.Context, job *model.Job, maxAttempts int) (int64, error) {
	queue, err := DefaultQueueFor(job.Type)
	if err != nil {
		return 0, err
	}

	result, err := c.Insert(ctx, TaskArgs{JobID: job.ID, JobType: job.Type}, &river.InsertOpts{
		Queue:       queue,
		MaxAttempts: maxAttempts,
	})
	if err != nil {
		return 0, err
	}
	return result.Job.ID, nil
}

// Cancel revokes a queued or running task. Cancelling a finished task is
// not an error.
func (c *Client) Cancel(ctx context.Context, taskHandle int64) error {
	_, err := c.JobCancel(ctx, taskHandle)
	if err != nil {
		if errors.Is(err, river.ErrNotFound) {
			return ErrTaskNotFound
		}
		return err
	}
	return nil
}

func (c *Client) TaskState(ctx context.Context, taskHandle int64) (string, error) {
	row, err := c.JobGet(ctx, taskHandle)
	if err != nil {
		if errors.Is(err, river.ErrNotFound) {
			return "", ErrTaskNotFound
		}
		return "", err
	}
	return string(row.State), nil
}

// IsFinishedState reports whether a river job state is terminal.
func IsFinishedState(state string) bool {
	switch rivertype.JobState(state) {
	case rivertype.JobStateCompleted, rivertype.JobStateCancelled, rivertype.JobStateDiscarded:
		return true
	default:
		return false
	}
}
