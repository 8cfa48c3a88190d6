package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/camforge/camforge/internal/store/model"
)

type Job interface {
	Create(ctx context.Context, job model.Job) (*model.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Job, error)
	GetByIdempotencyKey(ctx context.Context, jobType, key string) (*model.Job, error)
	List(ctx context.Context, filter *JobQueryFilter, opts *JobQueryOptions) (model.JobList, error)
	Delete(ctx context.Context, id uuid.UUID) error
	SetDispatched(ctx context.Context, id uuid.UUID, taskHandle int64) (*model.Job, error)
	MarkRunning(ctx context.Context, id uuid.UUID, attempt int, workerHost string) (*model.Job, error)
	MarkSucceeded(ctx context.Context, id uuid.UUID, metrics model.JobMetrics, artefacts []model.Artefact) (*model.Job, error)
	MarkFailed(ctx context.Context, id uuid.UUID, code string, message string, metrics *model.JobMetrics) (*model.Job, error)
	ResetForRequeue(ctx context.Context, id uuid.UUID) (*model.Job, error)
	InitialMigration(ctx context.Context) error
}

type JobStore struct {
	db *gorm.DB
}

// Make sure we conform to Job interface
var _ Job = (*JobStore)(nil)

func NewJobStore(db *gorm.DB) Job {
	return &JobStore{db: db}
}

func (j *JobStore) InitialMigration(ctx context.Context) error {
	return j.getDB(ctx).AutoMigrate(&model.Job{})
}

func (j *JobStore) Create(ctx context.Context, job model.Job) (*model.Job, error) {
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now().UTC()
	}
	result := j.getDB(ctx).Clauses(clause.Returning{}).Create(&job)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, result.Error
	}
	return &job, nil
}

func (j *JobStore) Get(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	var job model.Job
	result := j.getDB(ctx).First(&job, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, result.Error
	}
	return &job, nil
}

func (j *JobStore) GetByIdempotencyKey(ctx context.Context, jobType, key string) (*model.Job, error) {
	var job model.Job
	result := j.getDB(ctx).First(&job, "type = ? AND idempotency_key = ?", jobType, key)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, result.Error
	}
	return &job, nil
}

func (j *JobStore) List(ctx context.Context, filter *JobQueryFilter, opts *JobQueryOptions) (model.JobList, error) {
	var jobs model.JobList
	tx := j.getDB(ctx).Model(&jobs).Order("submitted_at DESC")

	if filter != nil {
		for _, fn := range filter.QueryFn {
			tx = fn(tx)
		}
	}
	if opts != nil {
		for _, fn := range opts.QueryFn {
			tx = fn(tx)
		}
	}

	result := tx.Find(&jobs)
	if result.Error != nil {
		return nil, result.Error
	}
	return jobs, nil
}

func (j *JobStore) Delete(ctx context.Context, id uuid.UUID) error {
	result := j.getDB(ctx).Unscoped().Delete(&model.Job{}, "id = ?", id.String())
	if result.Error != nil && !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return result.Error
	}
	return nil
}

// SetDispatched records the broker handle and moves the job to queued.
func (j *JobStore) SetDispatched(ctx context.Context, id uuid.UUID, taskHandle int64) (*model.Job, error) {
	job := model.NewJobFromId(id)
	job.Status = model.JobStatusQueued
	job.TaskHandle = &taskHandle

	result := j.getDB(ctx).Model(job).Clauses(clause.Returning{}).
		Select("status", "task_handle").Updates(&job)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrRecordNotFound
	}
	return job, nil
}

func (j *JobStore) MarkRunning(ctx context.Context, id uuid.UUID, attempt int, workerHost string) (*model.Job, error) {
	job, err := j.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	metrics := model.JobMetrics{WorkerHost: workerHost}
	if job.StartedAt != nil && job.Metrics != nil {
		// the wait was measured at first pickup, retries keep it
		metrics.QueueWaitMs = job.Metrics.Data.QueueWaitMs
	} else if metrics.QueueWaitMs = now.Sub(job.SubmittedAt).Milliseconds(); metrics.QueueWaitMs < 0 {
		metrics.QueueWaitMs = 0
	}

	job.Status = model.JobStatusRunning
	job.Attempts = attempt
	job.StartedAt = &now
	job.Metrics = model.MakeJSONField(metrics)

	result := j.getDB(ctx).Model(job).Clauses(clause.Returning{}).
		Select("status", "attempts", "started_at", "metrics").Updates(&job)
	if result.Error != nil {
		return nil, result.Error
	}
	return job, nil
}

func (j *JobStore) MarkSucceeded(ctx context.Context, id uuid.UUID, metrics model.JobMetrics, artefacts []model.Artefact) (*model.Job, error) {
	job, err := j.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job.Status = model.JobStatusSucceeded
	job.FinishedAt = &now
	job.ErrorCode = nil
	job.ErrorMessage = nil
	job.Metrics = model.MakeJSONField(j.mergeMetrics(job, metrics))
	if artefacts != nil {
		job.Artefacts = model.MakeJSONField(artefacts)
	}

	result := j.getDB(ctx).Model(job).Clauses(clause.Returning{}).
		Select("status", "finished_at", "error_code", "error_message", "metrics", "artefacts").Updates(&job)
	if result.Error != nil {
		return nil, result.Error
	}
	return job, nil
}

// MarkFailed makes the job terminally failed with the code naming the
// cause and the message carrying the detail.
func (j *JobStore) MarkFailed(ctx context.Context, id uuid.UUID, code string, message string, metrics *model.JobMetrics) (*model.Job, error) {
	job, err := j.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job.Status = model.JobStatusFailed
	job.FinishedAt = &now
	job.ErrorCode = &code
	job.ErrorMessage = &message
	if metrics != nil {
		job.Metrics = model.MakeJSONField(j.mergeMetrics(job, *metrics))
	}

	result := j.getDB(ctx).Model(job).Clauses(clause.Returning{}).
		Select("status", "finished_at", "error_code", "error_message", "metrics").Updates(&job)
	if result.Error != nil {
		return nil, result.Error
	}
	return job, nil
}

// ResetForRequeue returns a failed job to pending so it can be dispatched
// again. Attempt counters and per-attempt fields are cleared, the original
// payload and idempotency key stay untouched.
func (j *JobStore) ResetForRequeue(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	job, err := j.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	job.Status = model.JobStatusPending
	job.Attempts = 0
	job.TaskHandle = nil
	job.ErrorCode = nil
	job.ErrorMessage = nil
	job.StartedAt = nil
	job.FinishedAt = nil
	job.Metrics = nil
	job.SubmittedAt = time.Now().UTC()

	result := j.getDB(ctx).Model(job).Clauses(clause.Returning{}).
		Select("status", "attempts", "task_handle", "error_code", "error_message", "started_at", "finished_at", "metrics", "submitted_at").
		Updates(map[string]interface{}{
			"status":        job.Status,
			"attempts":      job.Attempts,
			"task_handle":   nil,
			"error_code":    nil,
			"error_message": nil,
			"started_at":    nil,
			"finished_at":   nil,
			"metrics":       nil,
			"submitted_at":  job.SubmittedAt,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	return job, nil
}

// mergeMetrics overlays the attempt metrics onto whatever MarkRunning stored,
// keeping the queue wait measured at pickup time.
func (j *JobStore) mergeMetrics(job *model.Job, metrics model.JobMetrics) model.JobMetrics {
	if job.Metrics != nil {
		if metrics.QueueWaitMs == 0 {
			metrics.QueueWaitMs = job.Metrics.Data.QueueWaitMs
		}
		if metrics.WorkerHost == "" {
			metrics.WorkerHost = job.Metrics.Data.WorkerHost
		}
	}
	return metrics
}

func (j *JobStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return j.db
}
