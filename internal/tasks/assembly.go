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

// AssemblyPayload describes the parts to place into one assembly document.
type AssemblyPayload struct {
	Name  string `json:"name"`
	Parts []struct {
		Label    string     `json:"label"`
		Shape    string     `json:"shape"`
		Size     [3]float64 `json:"size"`
		Position [3]float64 `json:"position"`
	} `json:"parts"`
	ExportFormat string `json:"export_format,omitempty"`
}

// AssemblyTask builds an assembly document in the engine and exports it.
type AssemblyTask struct {
	deps Deps
}

var _ queue.Task = (*AssemblyTask)(nil)

func NewAssemblyTask(deps Deps) *AssemblyTask {
	return &AssemblyTask{deps: deps}
}

func (t *AssemblyTask) Run(ctx context.Context, job *model.Job) queue.Outcome {
	var payload AssemblyPayload
	if err := decodePayload(job, &payload); err != nil {
		return queue.Fatal(err, model.JobMetrics{})
	}
	if len(payload.Parts) == 0 {
		return queue.Fatal(fmt.Errorf("assembly %q has no parts", payload.Name), model.JobMetrics{})
	}

	script := buildAssemblyScript(payload)
	result, metrics, err := runEngineScript(ctx, t.deps, job, script)
	if err != nil {
		if errors.Is(err, engine.ErrForbiddenScript) {
			return queue.Fatal(err, metrics)
		}
		return queue.Retryable(err, metrics)
	}

	artefact, err := uploadResult(ctx, t.deps, job, "assembly", result)
	if err != nil {
		return queue.Retryable(fmt.Errorf("store assembly result: %w", err), metrics)
	}
	return queue.Success(metrics, []model.Artefact{*artefact})
}

func buildAssemblyScript(payload AssemblyPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "import FreeCAD, Part\n")
	fmt.Fprintf(&b, "doc = FreeCAD.newDocument(%q)\n", payload.Name)
	for i, part := range payload.Parts {
		fmt.Fprintf(&b, "p%d = doc.addObject('Part::Box', %q)\n", i, part.Label)
		fmt.Fprintf(&b, "p%d.Length, p%d.Width, p%d.Height = %g, %g, %g\n",
			i, i, i, part.Size[0], part.Size[1], part.Size[2])
		fmt.Fprintf(&b, "p%d.Placement.Base = FreeCAD.Vector(%g, %g, %g)\n",
			i, part.Position[0], part.Position[1], part.Position[2])
	}
	b.WriteString("doc.recompute()\n")
	fmt.Fprintf(&b, "result['assembly'] = %q\n", payload.Name)
	fmt.Fprintf(&b, "result['part_count'] = %d\n", len(payload.Parts))
	b.WriteString("result['objects'] = [o.Name for o in doc.Objects]\n")
	return b.String()
}
