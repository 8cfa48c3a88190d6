package queue_test

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"gorm.io/gorm"

	"github.com/camforge/camforge/internal/config"
	"github.com/camforge/camforge/internal/queue"
	"github.com/camforge/camforge/internal/store"
	"github.com/camforge/camforge/internal/store/model"
)

// taskFunc adapts a bare func into a Task for the worker tests.
type taskFunc func(ctx context.Context, job *model.Job) queue.Outcome

func (f taskFunc) Run(ctx context.Context, job *model.Job) queue.Outcome {
	return f(ctx, job)
}

var _ = Describe("pipeline worker", func() {
	newJob := func(jobType string) *river.Job[queue.TaskArgs] {
		return &river.Job[queue.TaskArgs]{
			JobRow: &rivertype.JobRow{},
			Args:   queue.TaskArgs{JobType: jobType},
		}
	}

	Context("timeout", func() {
		It("adds slack on top of the queue hard limit", func() {
			worker := queue.NewPipelineWorker(nil, queue.NewRegistry(), nil,
				map[string]int{"cpu": 300}, nil)

			Expect(worker.Timeout(newJob(model.JobTypeCAM))).To(Equal(330 * time.Second))
		})

		It("disables the deadline when the queue has no limit", func() {
			worker := queue.NewPipelineWorker(nil, queue.NewRegistry(), nil, nil, nil)

			Expect(worker.Timeout(newJob(model.JobTypeCAM))).To(Equal(time.Duration(-1)))
		})

		It("bounds unknown job types", func() {
			worker := queue.NewPipelineWorker(nil, queue.NewRegistry(), nil, nil, nil)

			Expect(worker.Timeout(newJob("unknown"))).To(Equal(time.Minute))
		})
	})
})

var _ = Describe("pipeline worker execution", Ordered, func() {
	var (
		s      store.Store
		gormdb *gorm.DB
	)

	BeforeAll(func() {
		db, err := store.InitDB(config.NewDefault())
		Expect(err).To(BeNil())

		s = store.NewStore(db)
		gormdb = db
		Expect(s.InitialMigration(context.TODO())).To(BeNil())
	})

	AfterAll(func() {
		s.Close()
	})

	AfterEach(func() {
		gormdb.Exec("DELETE FROM jobs;")
		gormdb.Exec("DELETE FROM dead_letters;")
	})

	newWorker := func(task queue.Task) *queue.PipelineWorker {
		registry := queue.NewRegistry()
		registry.Register(model.JobTypeCAM, queue.Binding{
			Queue:    queue.QueueCPU,
			TaskName: "generate_toolpaths",
			Task:     task,
		})
		return queue.NewPipelineWorker(s, registry, nil, nil, nil)
	}

	createJob := func(status string) *model.Job {
		job, err := s.Job().Create(context.TODO(), model.Job{
			ID:     uuid.New(),
			Type:   model.JobTypeCAM,
			Status: status,
			Queue:  queue.QueueCPU,
		})
		Expect(err).To(BeNil())
		return job
	}

	riverJob := func(id uuid.UUID, attempt, maxAttempts int) *river.Job[queue.TaskArgs] {
		return &river.Job[queue.TaskArgs]{
			JobRow: &rivertype.JobRow{Attempt: attempt, MaxAttempts: maxAttempts},
			Args:   queue.TaskArgs{JobID: id, JobType: model.JobTypeCAM},
		}
	}

	deadLetterCount := func() int64 {
		var count int64
		Expect(gormdb.Raw("SELECT COUNT(*) FROM dead_letters;").Scan(&count).Error).To(BeNil())
		return count
	}

	It("runs the task and records success with artefacts", func() {
		job := createJob(model.JobStatusQueued)
		worker := newWorker(taskFunc(func(ctx context.Context, j *model.Job) queue.Outcome {
			Expect(j.Status).To(Equal(model.JobStatusRunning))
			return queue.Success(
				model.JobMetrics{ElapsedMs: 1200},
				[]model.Artefact{{Key: "jobs/" + j.ID.String() + "/toolpaths.json", Size: 512}},
			)
		}))

		Expect(worker.Work(context.TODO(), riverJob(job.ID, 1, 3))).To(BeNil())

		fetched, err := s.Job().Get(context.TODO(), job.ID)
		Expect(err).To(BeNil())
		Expect(fetched.Status).To(Equal(model.JobStatusSucceeded))
		Expect(fetched.FinishedAt).NotTo(BeNil())
		Expect(fetched.Artefacts).NotTo(BeNil())
		Expect(fetched.Artefacts.Data).To(HaveLen(1))
		Expect(deadLetterCount()).To(Equal(int64(0)))
	})

	It("skips a job that went terminal while queued", func() {
		job := createJob(model.JobStatusFailed)
		ran := false
		worker := newWorker(taskFunc(func(ctx context.Context, j *model.Job) queue.Outcome {
			ran = true
			return queue.Success(model.JobMetrics{}, nil)
		}))

		Expect(worker.Work(context.TODO(), riverJob(job.ID, 1, 3))).To(BeNil())
		Expect(ran).To(BeFalse())

		fetched, err := s.Job().Get(context.TODO(), job.ID)
		Expect(err).To(BeNil())
		Expect(fetched.Status).To(Equal(model.JobStatusFailed))
	})

	It("retries a recoverable failure without a dead letter", func() {
		job := createJob(model.JobStatusQueued)
		boom := errors.New("engine crashed")
		worker := newWorker(taskFunc(func(ctx context.Context, j *model.Job) queue.Outcome {
			return queue.Retryable(boom, model.JobMetrics{})
		}))

		Expect(worker.Work(context.TODO(), riverJob(job.ID, 1, 3))).To(MatchError(boom))

		// the row stays running so a later attempt can pick it up
		fetched, err := s.Job().Get(context.TODO(), job.ID)
		Expect(err).To(BeNil())
		Expect(fetched.Status).To(Equal(model.JobStatusRunning))
		Expect(deadLetterCount()).To(Equal(int64(0)))
	})

	It("dead letters a recoverable failure on the final attempt", func() {
		job := createJob(model.JobStatusQueued)
		boom := errors.New("engine crashed")
		worker := newWorker(taskFunc(func(ctx context.Context, j *model.Job) queue.Outcome {
			return queue.Retryable(boom, model.JobMetrics{})
		}))

		Expect(worker.Work(context.TODO(), riverJob(job.ID, 3, 3))).To(MatchError(boom))

		fetched, err := s.Job().Get(context.TODO(), job.ID)
		Expect(err).To(BeNil())
		Expect(fetched.Status).To(Equal(model.JobStatusFailed))
		Expect(*fetched.ErrorCode).To(Equal(model.ErrCodeTaskException))
		Expect(*fetched.ErrorMessage).To(Equal("engine crashed"))
		Expect(deadLetterCount()).To(Equal(int64(1)))
	})

	It("dead letters a fatal failure on the first attempt", func() {
		job := createJob(model.JobStatusQueued)
		worker := newWorker(taskFunc(func(ctx context.Context, j *model.Job) queue.Outcome {
			return queue.Fatal(errors.New("malformed payload"), model.JobMetrics{})
		}))

		err := worker.Work(context.TODO(), riverJob(job.ID, 1, 3))
		Expect(err).NotTo(BeNil())

		fetched, getErr := s.Job().Get(context.TODO(), job.ID)
		Expect(getErr).To(BeNil())
		Expect(fetched.Status).To(Equal(model.JobStatusFailed))
		Expect(*fetched.ErrorCode).To(Equal(model.ErrCodeTaskException))
		Expect(deadLetterCount()).To(Equal(int64(1)))
	})

	It("records the time limit code when the attempt timed out", func() {
		job := createJob(model.JobStatusQueued)
		worker := newWorker(taskFunc(func(ctx context.Context, j *model.Job) queue.Outcome {
			return queue.Fatal(errors.New("hard limit of 300s exceeded"), model.JobMetrics{TimedOut: true})
		}))

		err := worker.Work(context.TODO(), riverJob(job.ID, 1, 3))
		Expect(err).NotTo(BeNil())

		fetched, getErr := s.Job().Get(context.TODO(), job.ID)
		Expect(getErr).To(BeNil())
		Expect(*fetched.ErrorCode).To(Equal(model.ErrCodeTimeLimitExceeded))
		Expect(deadLetterCount()).To(Equal(int64(1)))
	})

	It("marks a revoked attempt failed with the cancel code", func() {
		job := createJob(model.JobStatusQueued)
		ctx, cancel := context.WithCancel(context.TODO())
		defer cancel()
		worker := newWorker(taskFunc(func(taskCtx context.Context, j *model.Job) queue.Outcome {
			cancel()
			return queue.Retryable(taskCtx.Err(), model.JobMetrics{})
		}))

		Expect(worker.Work(ctx, riverJob(job.ID, 1, 3))).NotTo(BeNil())

		fetched, err := s.Job().Get(context.TODO(), job.ID)
		Expect(err).To(BeNil())
		Expect(fetched.Status).To(Equal(model.JobStatusFailed))
		Expect(*fetched.ErrorCode).To(Equal(model.ErrCodeCancelled))
		Expect(deadLetterCount()).To(Equal(int64(0)))
	})

	It("discards a task whose job row is gone", func() {
		worker := newWorker(taskFunc(func(ctx context.Context, j *model.Job) queue.Outcome {
			return queue.Success(model.JobMetrics{}, nil)
		}))

		err := worker.Work(context.TODO(), riverJob(uuid.New(), 1, 3))
		Expect(err).NotTo(BeNil())
	})
})
