package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/camforge/camforge/internal/queue"
	"github.com/camforge/camforge/internal/store"
	"github.com/camforge/camforge/internal/store/model"
)

type DeadLetterService struct {
	store       store.Store
	broker      queue.Broker
	maxAttempts int
}

func NewDeadLetterService(s store.Store, broker queue.Broker, maxAttempts int) *DeadLetterService {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &DeadLetterService{store: s, broker: broker, maxAttempts: maxAttempts}
}

// List returns dead letters newest first with the total count for
// pagination.
func (s *DeadLetterService) List(ctx context.Context, limit, offset int) (model.DeadLetterList, int64, error) {
	count, err := s.store.DeadLetter().Count(ctx)
	if err != nil {
		return nil, 0, err
	}

	opts := store.NewDeadLetterQueryOptions()
	if limit > 0 {
		opts = opts.WithLimit(limit)
	}
	if offset > 0 {
		opts = opts.WithOffset(offset)
	}

	letters, err := s.store.DeadLetter().List(ctx, opts)
	if err != nil {
		return nil, 0, err
	}
	return letters, count, nil
}

// Requeue puts the job behind a dead letter back onto its queue with a
// fresh attempt budget and removes the letter.
func (s *DeadLetterService) Requeue(ctx context.Context, id uint) (*model.Job, error) {
	logger := zap.S().Named("dlq_service")

	letter, err := s.store.DeadLetter().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrDeadLetterNotFound(id)
		}
		return nil, err
	}

	// reset, dispatch record and letter removal land together. Rolling back
	// on a broker failure keeps the failed row and its letter intact for the
	// next attempt.
	ctx, err = s.store.NewTransactionContext(ctx)
	if err != nil {
		return nil, err
	}

	job, err := s.store.Job().ResetForRequeue(ctx, letter.JobID)
	if err != nil {
		_, _ = store.Rollback(ctx)
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrJobNotFound(letter.JobID)
		}
		return nil, err
	}

	taskHandle, err := s.broker.Dispatch(ctx, job, s.maxAttempts)
	if err != nil {
		_, _ = store.Rollback(ctx)
		return nil, NewErrBrokerUnavailable(err)
	}

	job, err = s.store.Job().SetDispatched(ctx, job.ID, taskHandle)
	if err != nil {
		_, _ = store.Rollback(ctx)
		return nil, err
	}

	if err := s.store.DeadLetter().Delete(ctx, id); err != nil {
		_, _ = store.Rollback(ctx)
		return nil, err
	}

	if _, err := store.Commit(ctx); err != nil {
		return nil, err
	}

	logger.Infow("dead letter requeued", "dead_letter_id", id, "job_id", job.ID)
	return job, nil
}
