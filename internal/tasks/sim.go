package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/camforge/camforge/internal/engine"
	"github.com/camforge/camforge/internal/queue"
	"github.com/camforge/camforge/internal/store/model"
)

// SimPayload drives a machining simulation of previously generated
// toolpaths against a stock model.
type SimPayload struct {
	Model     string  `json:"model"`
	Steps     int     `json:"steps"`
	Tolerance float64 `json:"tolerance"`
}

// SimTask runs the long-running simulation in the engine. Sim gets its own
// queue and the widest hard limit.
type SimTask struct {
	deps Deps
}

var _ queue.Task = (*SimTask)(nil)

func NewSimTask(deps Deps) *SimTask {
	return &SimTask{deps: deps}
}

func (t *SimTask) Run(ctx context.Context, job *model.Job) queue.Outcome {
	var payload SimPayload
	if err := decodePayload(job, &payload); err != nil {
		return queue.Fatal(err, model.JobMetrics{})
	}
	if payload.Steps <= 0 {
		return queue.Fatal(fmt.Errorf("simulation needs a positive step count"), model.JobMetrics{})
	}
	if payload.Tolerance <= 0 {
		payload.Tolerance = 0.01
	}

	var b strings.Builder
	b.WriteString("import FreeCAD\n")
	fmt.Fprintf(&b, "doc = FreeCAD.openDocument(%q)\n", payload.Model)
	fmt.Fprintf(&b, "collisions = []\n")
	fmt.Fprintf(&b, "for step in range(%d):\n", payload.Steps)
	b.WriteString("    doc.recompute()\n")
	fmt.Fprintf(&b, "result['model'] = %q\n", payload.Model)
	fmt.Fprintf(&b, "result['steps'] = %d\n", payload.Steps)
	fmt.Fprintf(&b, "result['tolerance'] = %g\n", payload.Tolerance)
	b.WriteString("result['collisions'] = collisions\n")

	result, metrics, err := runEngineScript(ctx, t.deps, job, b.String())
	if err != nil {
		if errors.Is(err, engine.ErrForbiddenScript) {
			return queue.Fatal(err, metrics)
		}
		return queue.Retryable(err, metrics)
	}

	artefact, err := uploadResult(ctx, t.deps, job, "simulation", result)
	if err != nil {
		return queue.Retryable(fmt.Errorf("store simulation result: %w", err), metrics)
	}
	return queue.Success(metrics, []model.Artefact{*artefact})
}
