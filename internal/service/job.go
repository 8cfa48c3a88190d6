package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/camforge/camforge/internal/admission"
	"github.com/camforge/camforge/internal/events"
	"github.com/camforge/camforge/internal/queue"
	"github.com/camforge/camforge/internal/store"
	"github.com/camforge/camforge/internal/store/model"
	"github.com/camforge/camforge/pkg/metrics"
)

const maxIdempotencyKeyLength = 255

// Killer kills the process tree behind a running job. Wired when the API
// and the workers share a host, nil otherwise, in which case the queue-side
// revoke alone stops the run.
type Killer interface {
	KillByHandle(handle string) error
}

type JobService struct {
	store       store.Store
	broker      queue.Broker
	admission   admission.Controller
	producer    *events.EventProducer
	killer      Killer
	rules       map[string]admission.Rule
	maxAttempts int
}

func NewJobService(s store.Store, broker queue.Broker, adm admission.Controller, producer *events.EventProducer, killer Killer, rules map[string]admission.Rule, maxAttempts int) *JobService {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &JobService{
		store:       s,
		broker:      broker,
		admission:   adm,
		producer:    producer,
		killer:      killer,
		rules:       rules,
		maxAttempts: maxAttempts,
	}
}

// SubmitForm is what the handler passes down after decoding the request.
type SubmitForm struct {
	Type           string
	Payload        json.RawMessage
	IdempotencyKey *string
	ParentJobID    *uuid.UUID

	// Identity widens the rate bucket beyond the route class.
	Identity admission.Identity
}

// Submit admits, persists and dispatches one job. Admission checks run
// before anything is written, a rejected submission leaves no trace. When
// the broker refuses the dispatch, the freshly created row is rolled back
// so a retry of the same submission starts clean. The returned bool is true
// when a new job was created, false on an idempotency hit.
func (s *JobService) Submit(ctx context.Context, form SubmitForm) (*model.Job, bool, error) {
	logger := zap.S().Named("job_service")

	queueName, err := queue.DefaultQueueFor(form.Type)
	if err != nil {
		return nil, false, NewErrInvalidJob(err.Error())
	}
	if len(form.Payload) == 0 || !json.Valid(form.Payload) {
		return nil, false, NewErrInvalidJob("payload must be a valid JSON document")
	}
	if form.IdempotencyKey != nil {
		if *form.IdempotencyKey == "" || len(*form.IdempotencyKey) > maxIdempotencyKeyLength {
			return nil, false, NewErrInvalidJob("idempotency key must be between 1 and 255 characters")
		}
	}

	paused, err := s.admission.IsPaused(ctx, queueName)
	if err != nil {
		return nil, false, err
	}
	if paused {
		metrics.IncreaseQueuePausedMetric(queueName)
		return nil, false, NewErrQueuePaused(queueName)
	}

	allowed, err := s.admission.Allow(ctx, form.Type, form.Identity)
	if err != nil {
		return nil, false, err
	}
	if !allowed {
		metrics.IncreaseRateLimitedMetric(form.Type)
		rule := s.rules[form.Type]
		return nil, false, NewErrRateLimited(form.Type, rule.String())
	}

	if form.IdempotencyKey != nil {
		existing, err := s.store.Job().GetByIdempotencyKey(ctx, form.Type, *form.IdempotencyKey)
		if err == nil {
			logger.Infow("idempotent submission matched existing job", "job_id", existing.ID, "type", form.Type)
			return existing, false, nil
		}
		if !errors.Is(err, store.ErrRecordNotFound) {
			return nil, false, err
		}
	}

	job := model.Job{
		ID:             uuid.New(),
		Type:           form.Type,
		Status:         model.JobStatusPending,
		Queue:          queueName,
		IdempotencyKey: form.IdempotencyKey,
		Payload:        form.Payload,
		ParentJobID:    form.ParentJobID,
		SubmittedAt:    time.Now().UTC(),
	}

	created, err := s.store.Job().Create(ctx, job)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateKey) && form.IdempotencyKey != nil {
			// lost the race against a concurrent identical submission
			existing, err := s.store.Job().GetByIdempotencyKey(ctx, form.Type, *form.IdempotencyKey)
			return existing, false, err
		}
		return nil, false, err
	}

	taskHandle, err := s.broker.Dispatch(ctx, created, s.maxAttempts)
	if err != nil {
		logger.Errorw("dispatch failed, rolling back job", "job_id", created.ID, "error", err)
		if delErr := s.store.Job().Delete(ctx, created.ID); delErr != nil {
			logger.Errorw("rollback failed, job row is orphaned", "job_id", created.ID, "error", delErr)
		}
		return nil, false, NewErrBrokerUnavailable(err)
	}

	dispatched, err := s.store.Job().SetDispatched(ctx, created.ID, taskHandle)
	if err != nil {
		return nil, false, err
	}

	metrics.IncreaseJobsSubmittedMetric(form.Type)
	s.emitJobEvent(ctx, dispatched, "")
	logger.Infow("job submitted", "job_id", dispatched.ID, "type", form.Type, "queue", queueName)
	return dispatched, true, nil
}

func (s *JobService) Get(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	job, err := s.store.Job().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrJobNotFound(id)
		}
		return nil, err
	}
	return job, nil
}

func (s *JobService) List(ctx context.Context, filter *store.JobQueryFilter, opts *store.JobQueryOptions) (model.JobList, error) {
	return s.store.Job().List(ctx, filter, opts)
}

// Cancel revokes the queued task, kills the process tree when the run
// already started on this host, and flips the row to cancelled. Cancelling
// a terminal job changes nothing and reports the status it already has.
func (s *JobService) Cancel(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	logger := zap.S().Named("job_service")

	job, err := s.store.Job().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrJobNotFound(id)
		}
		return nil, err
	}

	if job.IsTerminal() {
		return nil, NewErrJobAlreadyTerminal(id, job.Status)
	}

	if job.TaskHandle != nil {
		if err := s.broker.Cancel(ctx, *job.TaskHandle); err != nil && !errors.Is(err, queue.ErrTaskNotFound) {
			return nil, err
		}
	}

	if s.killer != nil {
		if err := s.killer.KillByHandle(id.String()); err != nil {
			logger.Warnw("failed to kill process tree", "job_id", id, "error", err)
		}
	}

	cancelled, err := s.store.Job().MarkFailed(ctx, id, model.ErrCodeCancelled, "cancelled by operator", nil)
	if err != nil {
		return nil, err
	}

	s.emitJobEvent(ctx, cancelled, "cancelled by operator")
	logger.Infow("job cancelled", "job_id", id)
	return cancelled, nil
}

func (s *JobService) emitJobEvent(ctx context.Context, job *model.Job, reason string) {
	if s.producer == nil {
		return
	}
	event := events.JobEvent{
		JobID:     job.ID.String(),
		Type:      job.Type,
		Status:    job.Status,
		Queue:     job.Queue,
		Attempt:   job.Attempts,
		Error:     reason,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := s.producer.Write(ctx, events.JobMessageKind, bytes.NewReader(data)); err != nil {
		zap.S().Named("job_service").Warnf("failed to emit job event: %v", err)
	}
}
