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

var cadExportFormats = map[string]string{
	"step": "ImportGui",
	"stl":  "Mesh",
	"iges": "ImportGui",
}

// CADPayload describes a single-part model to build and export.
type CADPayload struct {
	Name   string `json:"name"`
	Script string `json:"script"`
	Format string `json:"format"`
}

// CADTask runs a user-supplied modeling script in the engine and exports
// the resulting part.
type CADTask struct {
	deps Deps
}

var _ queue.Task = (*CADTask)(nil)

func NewCADTask(deps Deps) *CADTask {
	return &CADTask{deps: deps}
}

func (t *CADTask) Run(ctx context.Context, job *model.Job) queue.Outcome {
	var payload CADPayload
	if err := decodePayload(job, &payload); err != nil {
		return queue.Fatal(err, model.JobMetrics{})
	}

	format := strings.ToLower(payload.Format)
	if format == "" {
		format = "step"
	}
	if _, found := cadExportFormats[format]; !found {
		return queue.Fatal(fmt.Errorf("unsupported export format %q", payload.Format), model.JobMetrics{})
	}

	var b strings.Builder
	b.WriteString("import FreeCAD, Part\n")
	fmt.Fprintf(&b, "doc = FreeCAD.newDocument(%q)\n", payload.Name)
	b.WriteString(payload.Script)
	b.WriteString("\ndoc.recompute()\n")
	fmt.Fprintf(&b, "result['model'] = %q\n", payload.Name)
	fmt.Fprintf(&b, "result['format'] = %q\n", format)
	b.WriteString("result['objects'] = [o.Name for o in doc.Objects]\n")

	result, metrics, err := runEngineScript(ctx, t.deps, job, b.String())
	if err != nil {
		// script validation failures cannot be retried into success
		if errors.Is(err, engine.ErrForbiddenScript) {
			return queue.Fatal(err, metrics)
		}
		return queue.Retryable(err, metrics)
	}

	artefact, err := uploadResult(ctx, t.deps, job, "cad", result)
	if err != nil {
		return queue.Retryable(fmt.Errorf("store cad result: %w", err), metrics)
	}
	return queue.Success(metrics, []model.Artefact{*artefact})
}
