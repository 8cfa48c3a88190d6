package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/lthibault/jitterbug/v2"
	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"github.com/camforge/camforge/internal/events"
	"github.com/camforge/camforge/internal/store"
	"github.com/camforge/camforge/internal/store/model"
	"github.com/camforge/camforge/pkg/metrics"
)

const softLimitPollInterval = 5 * time.Second

// PipelineWorker executes every pipeline task kind. The concrete behavior
// comes from the registry binding for the job type carried in the args.
type PipelineWorker struct {
	river.WorkerDefaults[TaskArgs]

	store    store.Store
	registry *Registry
	producer *events.EventProducer

	// hard and soft limits per queue name, in seconds of wall time
	timeouts   map[string]time.Duration
	softLimits map[string]time.Duration

	hostname string
}

func NewPipelineWorker(s store.Store, registry *Registry, producer *events.EventProducer, timeLimits, softLimits map[string]int) *PipelineWorker {
	hostname, _ := os.Hostname()

	toDurations := func(limits map[string]int) map[string]time.Duration {
		out := make(map[string]time.Duration, len(limits))
		for queue, seconds := range limits {
			out[queue] = time.Duration(seconds) * time.Second
		}
		return out
	}

	return &PipelineWorker{
		store:      s,
		registry:   registry,
		producer:   producer,
		timeouts:   toDurations(timeLimits),
		softLimits: toDurations(softLimits),
		hostname:   hostname,
	}
}

// Timeout returns the worker deadline for the queue the task runs on. The
// supervisor enforces the hard limit itself, the 30s of slack here gives it
// room to kill the process tree and record the failure before river cancels
// the work context. -1 disables the deadline for queues without a limit.
func (w *PipelineWorker) Timeout(job *river.Job[TaskArgs]) time.Duration {
	queue, err := DefaultQueueFor(job.Args.JobType)
	if err != nil {
		return time.Minute
	}
	if limit, found := w.timeouts[queue]; found {
		return limit + 30*time.Second
	}
	return -1
}

func (w *PipelineWorker) Work(ctx context.Context, job *river.Job[TaskArgs]) error {
	logger := zap.S().Named("pipeline_worker").With(
		"job_id", job.Args.JobID,
		"job_type", job.Args.JobType,
		"attempt", job.Attempt,
	)

	binding, err := w.registry.Lookup(job.Args.JobType)
	if err != nil {
		// the mapping is closed at submission, this means a build skew
		logger.Errorf("no binding for job type: %v", err)
		return river.JobCancel(err)
	}

	jobRow, err := w.store.Job().Get(ctx, job.Args.JobID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			logger.Warn("job row is gone, discarding task")
			return river.JobCancel(err)
		}
		return err
	}

	// a cancel that landed while the task sat in the queue wins
	if jobRow.IsTerminal() {
		logger.Infof("job already in terminal status %s, skipping", jobRow.Status)
		return nil
	}

	jobRow, err = w.store.Job().MarkRunning(ctx, jobRow.ID, job.Attempt, w.hostname)
	if err != nil {
		return err
	}
	// the wait is measured at first pickup, retries would re-count it
	if job.Attempt <= 1 && jobRow.Metrics != nil {
		metrics.ObserveQueueWaitMetric(jobRow.Queue, float64(jobRow.Metrics.Data.QueueWaitMs)/1000.0)
	}
	w.emitJobEvent(ctx, jobRow, "")

	stopWatcher := w.watchSoftLimit(jobRow, logger)
	outcome := binding.Task.Run(ctx, jobRow)
	stopWatcher()

	if outcome.Err == nil {
		updated, err := w.store.Job().MarkSucceeded(ctx, jobRow.ID, outcome.Metrics, outcome.Artefacts)
		if err != nil {
			return err
		}
		w.observeLatency(updated)
		w.emitJobEvent(ctx, updated, "")
		logger.Info("job succeeded")
		return nil
	}

	// the hard limit or a cancel revoked the work context
	if ctx.Err() != nil {
		reason := fmt.Sprintf("attempt aborted: %v", outcome.Err)
		if updated, markErr := w.store.Job().MarkFailed(detach(ctx), jobRow.ID, model.ErrCodeCancelled, reason, &outcome.Metrics); markErr == nil {
			w.observeLatency(updated)
			w.emitJobEvent(detach(ctx), updated, reason)
		}
		return outcome.Err
	}

	metrics.IncreaseTaskFailuresMetric(binding.TaskName, failureReason(outcome))

	if outcome.Fatal {
		logger.Errorf("job failed fatally: %v", outcome.Err)
		return w.discard(ctx, jobRow, binding, outcome)
	}

	if job.Attempt >= job.MaxAttempts {
		logger.Errorf("job failed on final attempt %d: %v", job.Attempt, outcome.Err)
		if err := w.discard(ctx, jobRow, binding, outcome); err != nil {
			return err
		}
		// returning the error lets the queue account the exhausted attempt
		return outcome.Err
	}

	metrics.IncreaseTaskRetriesMetric(binding.TaskName)
	logger.Warnf("job failed, retry %d/%d follows: %v", job.Attempt, job.MaxAttempts, outcome.Err)
	return outcome.Err
}

// discard makes the failure terminal: the row flips to failed and the dead
// letter lands in the same transaction, then an event goes out. A failed
// transaction leaves the row untouched so the redelivery runs the attempt
// again instead of orphaning it between the two writes.
func (w *PipelineWorker) discard(ctx context.Context, jobRow *model.Job, binding Binding, outcome Outcome) error {
	reason := outcome.Err.Error()

	txCtx, err := w.store.NewTransactionContext(ctx)
	if err != nil {
		return err
	}

	updated, err := w.store.Job().MarkFailed(txCtx, jobRow.ID, terminalCode(outcome), reason, &outcome.Metrics)
	if err != nil {
		_, _ = store.Rollback(txCtx)
		return err
	}

	if _, err := w.store.DeadLetter().Create(txCtx, model.DeadLetter{
		JobID:    jobRow.ID,
		Task:     binding.TaskName,
		Reason:   reason,
		Attempts: updated.Attempts,
	}); err != nil {
		_, _ = store.Rollback(txCtx)
		return err
	}

	if _, err := store.Commit(txCtx); err != nil {
		return err
	}

	w.observeLatency(updated)
	metrics.IncreaseDeadLettersMetric(binding.TaskName)

	w.emitJobEvent(ctx, updated, reason)
	w.emitDeadLetterEvent(ctx, jobRow.ID.String(), binding.TaskName, reason)

	if outcome.Fatal {
		return river.JobCancel(outcome.Err)
	}
	return nil
}

// watchSoftLimit warns once when an attempt outlives the queue soft limit.
// The returned func stops the watcher.
func (w *PipelineWorker) watchSoftLimit(jobRow *model.Job, logger *zap.SugaredLogger) func() {
	softLimit, found := w.softLimits[jobRow.Queue]
	if !found || softLimit <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		ticker := jitterbug.New(softLimitPollInterval, &jitterbug.Norm{Stdev: 200 * time.Millisecond})
		defer ticker.Stop()

		start := time.Now()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if time.Since(start) >= softLimit {
					logger.Warnf("attempt passed the soft limit of %s", softLimit)
					metrics.IncreaseSoftLimitHitsMetric(jobRow.Type)
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

func (w *PipelineWorker) observeLatency(jobRow *model.Job) {
	if jobRow.FinishedAt == nil {
		return
	}
	metrics.ObserveJobLatencyMetric(jobRow.Type, jobRow.Status, jobRow.FinishedAt.Sub(jobRow.SubmittedAt).Seconds())
}

func (w *PipelineWorker) emitJobEvent(ctx context.Context, jobRow *model.Job, reason string) {
	if w.producer == nil {
		return
	}
	event := events.JobEvent{
		JobID:     jobRow.ID.String(),
		Type:      jobRow.Type,
		Status:    jobRow.Status,
		Queue:     jobRow.Queue,
		Attempt:   jobRow.Attempts,
		Error:     reason,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := w.producer.Write(ctx, events.JobMessageKind, bytes.NewReader(data)); err != nil {
		zap.S().Named("pipeline_worker").Warnf("failed to emit job event: %v", err)
	}
}

func (w *PipelineWorker) emitDeadLetterEvent(ctx context.Context, jobID, task, reason string) {
	if w.producer == nil {
		return
	}
	event := events.DeadLetterEvent{
		JobID:     jobID,
		Task:      task,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := w.producer.Write(ctx, events.DeadLetterMessageKind, bytes.NewReader(data)); err != nil {
		zap.S().Named("pipeline_worker").Warnf("failed to emit dead letter event: %v", err)
	}
}

func failureReason(outcome Outcome) string {
	switch {
	case outcome.Metrics.TimedOut:
		return "timeout"
	case outcome.Fatal:
		return "fatal"
	default:
		return "error"
	}
}

func terminalCode(outcome Outcome) string {
	if outcome.Metrics.TimedOut {
		return model.ErrCodeTimeLimitExceeded
	}
	return model.ErrCodeTaskException
}

// detach lets store updates land even though the work context is already
// cancelled.
func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
