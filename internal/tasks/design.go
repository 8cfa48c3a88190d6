package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/camforge/camforge/internal/queue"
	"github.com/camforge/camforge/internal/store/model"
)

// DesignPayload is a parametric design to resolve: named parameters plus
// constraints of the form "a <= b".
type DesignPayload struct {
	Name       string             `json:"name"`
	Parameters map[string]float64 `json:"parameters"`
	Rules      []DesignRule       `json:"rules"`
}

type DesignRule struct {
	Left  string `json:"left"`
	Op    string `json:"op"`
	Right string `json:"right"`
}

// DesignTask validates a parametric design against its rules.
type DesignTask struct {
	deps Deps
}

var _ queue.Task = (*DesignTask)(nil)

func NewDesignTask(deps Deps) *DesignTask {
	return &DesignTask{deps: deps}
}

func (t *DesignTask) Run(ctx context.Context, job *model.Job) queue.Outcome {
	var payload DesignPayload
	if err := decodePayload(job, &payload); err != nil {
		return queue.Fatal(err, model.JobMetrics{})
	}
	if len(payload.Parameters) == 0 {
		return queue.Fatal(fmt.Errorf("design %q has no parameters", payload.Name), model.JobMetrics{})
	}

	start := time.Now()
	violations := make([]string, 0)
	for i, rule := range payload.Rules {
		left, found := payload.Parameters[rule.Left]
		if !found {
			return queue.Fatal(fmt.Errorf("rule %d references unknown parameter %q", i, rule.Left), model.JobMetrics{})
		}
		right, found := payload.Parameters[rule.Right]
		if !found {
			return queue.Fatal(fmt.Errorf("rule %d references unknown parameter %q", i, rule.Right), model.JobMetrics{})
		}

		var holds bool
		switch rule.Op {
		case "<=":
			holds = left <= right
		case ">=":
			holds = left >= right
		case "<":
			holds = left < right
		case ">":
			holds = left > right
		case "==":
			holds = left == right
		default:
			return queue.Fatal(fmt.Errorf("rule %d has unknown operator %q", i, rule.Op), model.JobMetrics{})
		}
		if !holds {
			violations = append(violations, fmt.Sprintf("%s %s %s does not hold (%g vs %g)",
				rule.Left, rule.Op, rule.Right, left, right))
		}
	}

	metrics := model.JobMetrics{ElapsedMs: time.Since(start).Milliseconds()}
	result := map[string]any{
		"design":     payload.Name,
		"parameters": payload.Parameters,
		"valid":      len(violations) == 0,
		"violations": violations,
	}

	artefact, err := uploadResult(ctx, t.deps, job, "design", result)
	if err != nil {
		return queue.Retryable(fmt.Errorf("store design result: %w", err), metrics)
	}
	return queue.Success(metrics, []model.Artefact{*artefact})
}
