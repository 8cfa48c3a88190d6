package queue_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/camforge/camforge/internal/queue"
	"github.com/camforge/camforge/internal/store/model"
)

type noopTask struct{}

func (noopTask) Run(ctx context.Context, job *model.Job) queue.Outcome {
	return queue.Success(model.JobMetrics{}, nil)
}

var _ = Describe("registry", func() {
	It("looks up a registered binding", func() {
		r := queue.NewRegistry()
		r.Register(model.JobTypeCAM, queue.Binding{
			Queue:    queue.QueueCPU,
			TaskName: "generate_toolpaths",
			Task:     noopTask{},
		})

		binding, err := r.Lookup(model.JobTypeCAM)
		Expect(err).To(BeNil())
		Expect(binding.Queue).To(Equal(queue.QueueCPU))
		Expect(binding.TaskName).To(Equal("generate_toolpaths"))
	})

	It("rejects an unknown job type", func() {
		r := queue.NewRegistry()
		_, err := r.Lookup("unknown")
		Expect(err).NotTo(BeNil())
	})

	It("panics on a duplicate registration", func() {
		r := queue.NewRegistry()
		r.Register(model.JobTypeCAM, queue.Binding{Queue: queue.QueueCPU, Task: noopTask{}})
		Expect(func() {
			r.Register(model.JobTypeCAM, queue.Binding{Queue: queue.QueueCPU, Task: noopTask{}})
		}).To(Panic())
	})

	It("lists the registered types", func() {
		r := queue.NewRegistry()
		r.Register(model.JobTypeCAM, queue.Binding{Queue: queue.QueueCPU, Task: noopTask{}})
		r.Register(model.JobTypeSim, queue.Binding{Queue: queue.QueueSim, Task: noopTask{}})
		Expect(r.Types()).To(ConsistOf(model.JobTypeCAM, model.JobTypeSim))
	})
})

var _ = Describe("queue mapping", func() {
	It("routes engine bound types to the engine queue", func() {
		for _, jobType := range []string{model.JobTypeAssembly, model.JobTypeCAD} {
			q, err := queue.DefaultQueueFor(jobType)
			Expect(err).To(BeNil())
			Expect(q).To(Equal(queue.QueueEngine))
		}
	})

	It("routes compute types to the cpu queue", func() {
		for _, jobType := range []string{model.JobTypeCAM, model.JobTypeDesign} {
			q, err := queue.DefaultQueueFor(jobType)
			Expect(err).To(BeNil())
			Expect(q).To(Equal(queue.QueueCPU))
		}
	})

	It("routes sim and report to their own queues", func() {
		q, err := queue.DefaultQueueFor(model.JobTypeSim)
		Expect(err).To(BeNil())
		Expect(q).To(Equal(queue.QueueSim))

		q, err = queue.DefaultQueueFor(model.JobTypeReport)
		Expect(err).To(BeNil())
		Expect(q).To(Equal(queue.QueuePostProc))
	})

	It("rejects an unknown type", func() {
		_, err := queue.DefaultQueueFor("unknown")
		Expect(err).NotTo(BeNil())
	})
})

var _ = Describe("task args", func() {
	It("returns the pipeline kind", func() {
		Expect(queue.TaskArgs{}.Kind()).To(Equal("pipeline_task"))
	})

	It("returns default insert options", func() {
		opts := queue.TaskArgs{}.InsertOpts()
		Expect(opts.Queue).To(Equal(queue.QueueCPU))
		Expect(opts.MaxAttempts).To(Equal(3))
	})
})
