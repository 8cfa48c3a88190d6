// Package tasks holds the per-stage implementations the pipeline worker
// dispatches to. Engine-bound stages generate a script and run it under the
// supervisor, compute stages run in process.
package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/camforge/camforge/internal/artifacts"
	"github.com/camforge/camforge/internal/engine"
	"github.com/camforge/camforge/internal/queue"
	"github.com/camforge/camforge/internal/store/model"
	"github.com/camforge/camforge/internal/supervisor"
)

// Deps is everything a task may need. Tasks take what they use.
type Deps struct {
	Supervisor *supervisor.Supervisor
	Artifacts  *artifacts.Store
	ParentJobs ParentLookup

	EnginePath string
	WorkDir    string

	// TimeLimits holds the per-queue hard limit in seconds. The supervisor
	// enforces it below the worker deadline so a timeout surfaces as a
	// killed process, not a lost attempt.
	TimeLimits map[string]int
}

// ParentLookup resolves the parent job of a pipeline stage. The job store
// satisfies it.
type ParentLookup interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Job, error)
}

func (d Deps) hardLimit(queueName string) time.Duration {
	if seconds, found := d.TimeLimits[queueName]; found && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return 0
}

// runEngineScript writes the script, runs the engine under the supervisor
// and returns the result JSON the script produced.
func runEngineScript(ctx context.Context, deps Deps, job *model.Job, body string) (map[string]any, model.JobMetrics, error) {
	var metrics model.JobMetrics

	scriptDir := filepath.Join(deps.WorkDir, job.ID.String())
	scriptPath, err := engine.WriteScript(scriptDir, job.Type, body)
	if err != nil {
		return nil, metrics, err
	}
	defer func() {
		if err := os.RemoveAll(scriptDir); err != nil {
			zap.S().Named("tasks").Warnf("failed to clean up %s: %v", scriptDir, err)
		}
	}()

	outPath := filepath.Join(scriptDir, "result.json")
	result, err := deps.Supervisor.Run(ctx, supervisor.Command{
		Handle:  job.ID.String(),
		Path:    deps.EnginePath,
		Args:    []string{scriptPath},
		Env:     append(os.Environ(), engine.OutputEnvVar+"="+outPath),
		Dir:     scriptDir,
		Timeout: deps.hardLimit(job.Queue),
	})
	if err != nil {
		return nil, metrics, err
	}

	metrics.ExitCode = &result.ExitCode
	metrics.TimedOut = result.TimedOut
	metrics.ElapsedMs = engine.ParseElapsed(result.Stdout)
	if metrics.ElapsedMs == 0 {
		metrics.ElapsedMs = result.Elapsed.Milliseconds()
	}
	metrics.EngineOutput = result.Stderr

	if result.TimedOut {
		return nil, metrics, fmt.Errorf("engine run exceeded the hard limit")
	}
	if result.ExitCode != 0 {
		return nil, metrics, fmt.Errorf("engine exited with code %d", result.ExitCode)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, metrics, fmt.Errorf("engine produced no result file: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, metrics, fmt.Errorf("malformed engine result: %w", err)
	}
	return out, metrics, nil
}

// uploadResult stores the result document as the job artefact.
func uploadResult(ctx context.Context, deps Deps, job *model.Job, kind string, result any) (*model.Artefact, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("jobs/%s/%s.json", job.ID, kind)
	return deps.Artifacts.Upload(ctx, key, int64(len(data)), kind, bytes.NewReader(data))
}

// decodePayload unmarshals the job payload. A payload that does not parse
// can never succeed, the caller turns this into a fatal outcome.
func decodePayload(job *model.Job, v any) error {
	if len(job.Payload) == 0 {
		return fmt.Errorf("job %s has no payload", job.ID)
	}
	if err := json.Unmarshal(job.Payload, v); err != nil {
		return fmt.Errorf("malformed payload for job %s: %w", job.ID, err)
	}
	return nil
}

// NewRegistry wires every job type to its queue and task.
func NewRegistry(deps Deps) *queue.Registry {
	registry := queue.NewRegistry()
	registry.Register(model.JobTypeAssembly, queue.Binding{
		Queue: queue.QueueEngine, TaskName: "generate_assembly", Task: NewAssemblyTask(deps),
	})
	registry.Register(model.JobTypeCAD, queue.Binding{
		Queue: queue.QueueEngine, TaskName: "export_cad", Task: NewCADTask(deps),
	})
	registry.Register(model.JobTypeCAM, queue.Binding{
		Queue: queue.QueueCPU, TaskName: "generate_toolpaths", Task: NewCAMTask(deps),
	})
	registry.Register(model.JobTypeDesign, queue.Binding{
		Queue: queue.QueueCPU, TaskName: "resolve_design", Task: NewDesignTask(deps),
	})
	registry.Register(model.JobTypeSim, queue.Binding{
		Queue: queue.QueueSim, TaskName: "simulate_machining", Task: NewSimTask(deps),
	})
	registry.Register(model.JobTypeReport, queue.Binding{
		Queue: queue.QueuePostProc, TaskName: "build_report", Task: NewReportTask(deps),
	})
	return registry
}
