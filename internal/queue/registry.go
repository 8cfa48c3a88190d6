package queue

import (
	"fmt"

	"github.com/camforge/camforge/internal/store/model"
)

// Queue names. The engine queue runs one worker at a time because the
// engine process holds global document state.
const (
	QueueEngine   = "freecad"
	QueueCPU      = "cpu"
	QueueSim      = "sim"
	QueuePostProc = "postproc"
)

// Binding ties a job type to the queue it runs on and the task that
// executes it.
type Binding struct {
	Queue    string
	TaskName string
	Task     Task
}

// Registry is the closed mapping from job type to binding. Unknown types
// are rejected at submission, never at execution.
type Registry struct {
	bindings map[string]Binding
}

func NewRegistry() *Registry {
	return &Registry{bindings: make(map[string]Binding)}
}

// Register adds a binding. Registering a duplicate type panics, bindings
// are wired once at startup.
func (r *Registry) Register(jobType string, binding Binding) {
	if _, found := r.bindings[jobType]; found {
		panic(fmt.Sprintf("queue: job type %q registered twice", jobType))
	}
	r.bindings[jobType] = binding
}

func (r *Registry) Lookup(jobType string) (Binding, error) {
	binding, found := r.bindings[jobType]
	if !found {
		return Binding{}, fmt.Errorf("unknown job type %q", jobType)
	}
	return binding, nil
}

func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.bindings))
	for t := range r.bindings {
		types = append(types, t)
	}
	return types
}

// DefaultQueueFor returns the queue a job type runs on without requiring a
// full binding, used by the API process which never executes tasks.
func DefaultQueueFor(jobType string) (string, error) {
	switch jobType {
	case model.JobTypeAssembly, model.JobTypeCAD:
		return QueueEngine, nil
	case model.JobTypeCAM, model.JobTypeDesign:
		return QueueCPU, nil
	case model.JobTypeSim:
		return QueueSim, nil
	case model.JobTypeReport:
		return QueuePostProc, nil
	}
	return "", fmt.Errorf("unknown job type %q", jobType)
}
