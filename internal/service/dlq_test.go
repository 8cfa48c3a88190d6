package service_test

import (
	"context"
	"errors"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/camforge/camforge/internal/config"
	"github.com/camforge/camforge/internal/service"
	"github.com/camforge/camforge/internal/store"
	"github.com/camforge/camforge/internal/store/model"
)

var _ = Describe("dead letter service", Ordered, func() {
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

	// a failed job with its dead letter, the way the worker leaves them
	deadLetterFixture := func() (*model.Job, *model.DeadLetter) {
		job, err := s.Job().Create(context.TODO(), model.Job{
			ID:     uuid.New(),
			Type:   model.JobTypeCAM,
			Status: model.JobStatusPending,
			Queue:  "cpu",
		})
		Expect(err).To(BeNil())

		_, err = s.Job().MarkRunning(context.TODO(), job.ID, 3, "worker-1")
		Expect(err).To(BeNil())
		_, err = s.Job().MarkFailed(context.TODO(), job.ID, model.ErrCodeTaskException, "attempts exhausted", nil)
		Expect(err).To(BeNil())

		letter, err := s.DeadLetter().Create(context.TODO(), model.DeadLetter{
			JobID:    job.ID,
			Task:     "generate_toolpaths",
			Reason:   "attempts exhausted",
			Attempts: 3,
		})
		Expect(err).To(BeNil())
		return job, letter
	}

	Context("list", func() {
		It("returns letters with the total count", func() {
			deadLetterFixture()
			deadLetterFixture()

			srv := service.NewDeadLetterService(s, newTestBroker(), 3)
			letters, count, err := srv.List(context.TODO(), 1, 0)
			Expect(err).To(BeNil())
			Expect(count).To(Equal(int64(2)))
			Expect(letters).To(HaveLen(1))
		})
	})

	Context("requeue", func() {
		It("dispatches the job again and drops the letter", func() {
			job, letter := deadLetterFixture()
			broker := newTestBroker()
			srv := service.NewDeadLetterService(s, broker, 3)

			requeued, err := srv.Requeue(context.TODO(), letter.ID)
			Expect(err).To(BeNil())
			Expect(requeued.ID).To(Equal(job.ID))
			Expect(requeued.Status).To(Equal(model.JobStatusQueued))
			Expect(requeued.TaskHandle).NotTo(BeNil())
			Expect(broker.dispatched).To(HaveLen(1))

			// per-attempt fields were cleared before dispatch
			fetched, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(fetched.ErrorCode).To(BeNil())
			Expect(fetched.ErrorMessage).To(BeNil())
			Expect(fetched.Attempts).To(Equal(0))

			_, err = s.DeadLetter().Get(context.TODO(), letter.ID)
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})

		It("maps a missing letter to not found", func() {
			srv := service.NewDeadLetterService(s, newTestBroker(), 3)

			_, err := srv.Requeue(context.TODO(), 12345)
			var notFound *service.ErrDeadLetterNotFound
			Expect(errors.As(err, &notFound)).To(BeTrue())
		})

		It("keeps the letter when the broker is unavailable", func() {
			job, letter := deadLetterFixture()
			broker := newTestBroker()
			broker.dispatchErr = errors.New("connection refused")
			srv := service.NewDeadLetterService(s, broker, 3)

			_, err := srv.Requeue(context.TODO(), letter.ID)
			var unavailable *service.ErrBrokerUnavailable
			Expect(errors.As(err, &unavailable)).To(BeTrue())

			_, err = s.DeadLetter().Get(context.TODO(), letter.ID)
			Expect(err).To(BeNil())

			// the requeue reset was rolled back with the dispatch
			fetched, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(fetched.Status).To(Equal(model.JobStatusFailed))
			Expect(*fetched.ErrorCode).To(Equal(model.ErrCodeTaskException))
		})
	})
})
