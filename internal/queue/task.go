package queue

import (
	"context"

	"github.com/camforge/camforge/internal/store/model"
)

// Task executes one pipeline stage for a job. Implementations live in the
// tasks package and are wired into the registry at worker startup.
type Task interface {
	Run(ctx context.Context, job *model.Job) Outcome
}

// Outcome is the result of one task attempt. Err nil means success. Fatal
// failures are never retried, everything else is redelivered until the
// attempt budget runs out.
type Outcome struct {
	Metrics   model.JobMetrics
	Artefacts []model.Artefact
	Err       error
	Fatal     bool
}

func Success(metrics model.JobMetrics, artefacts []model.Artefact) Outcome {
	return Outcome{Metrics: metrics, Artefacts: artefacts}
}

func Retryable(err error, metrics model.JobMetrics) Outcome {
	return Outcome{Err: err, Metrics: metrics}
}

func Fatal(err error, metrics model.JobMetrics) Outcome {
	return Outcome{Err: err, Metrics: metrics, Fatal: true}
}
