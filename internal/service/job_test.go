package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/camforge/camforge/internal/admission"
	"github.com/camforge/camforge/internal/config"
	"github.com/camforge/camforge/internal/events"
	"github.com/camforge/camforge/internal/service"
	"github.com/camforge/camforge/internal/store"
	"github.com/camforge/camforge/internal/store/model"
)

var _ = Describe("job service", Ordered, func() {
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

	newService := func(broker *testBroker, controller admission.Controller, rules map[string]admission.Rule) *service.JobService {
		if controller == nil {
			controller = admission.NewMemoryController(rules)
		}
		return service.NewJobService(s, broker, controller, nil, nil, rules, 3)
	}

	Context("submit", func() {
		It("creates and dispatches a job", func() {
			broker := newTestBroker()
			srv := newService(broker, nil, nil)

			job, created, err := srv.Submit(context.TODO(), service.SubmitForm{
				Type:    model.JobTypeCAM,
				Payload: json.RawMessage(`{"boundary":[[0,0],[10,0],[10,10],[0,10]],"tool_diameter_mm":6}`),
			})
			Expect(err).To(BeNil())
			Expect(created).To(BeTrue())
			Expect(job.Status).To(Equal(model.JobStatusQueued))
			Expect(job.Queue).To(Equal("cpu"))
			Expect(job.TaskHandle).NotTo(BeNil())
			Expect(broker.dispatched).To(HaveLen(1))
			Expect(broker.maxAttempts[0]).To(Equal(3))
		})

		It("rejects an unknown job type", func() {
			srv := newService(newTestBroker(), nil, nil)

			_, _, err := srv.Submit(context.TODO(), service.SubmitForm{
				Type:    "unknown",
				Payload: json.RawMessage(`{}`),
			})
			var invalid *service.ErrInvalidJob
			Expect(errors.As(err, &invalid)).To(BeTrue())
		})

		It("rejects a malformed payload", func() {
			srv := newService(newTestBroker(), nil, nil)

			for _, payload := range []json.RawMessage{nil, json.RawMessage(`{broken`)} {
				_, _, err := srv.Submit(context.TODO(), service.SubmitForm{
					Type:    model.JobTypeCAM,
					Payload: payload,
				})
				var invalid *service.ErrInvalidJob
				Expect(errors.As(err, &invalid)).To(BeTrue())
			}
		})

		It("rejects an empty idempotency key", func() {
			srv := newService(newTestBroker(), nil, nil)

			key := ""
			_, _, err := srv.Submit(context.TODO(), service.SubmitForm{
				Type:           model.JobTypeCAM,
				Payload:        json.RawMessage(`{}`),
				IdempotencyKey: &key,
			})
			var invalid *service.ErrInvalidJob
			Expect(errors.As(err, &invalid)).To(BeTrue())
		})

		It("returns the existing job on an idempotency hit", func() {
			broker := newTestBroker()
			srv := newService(broker, nil, nil)

			key := "order-9"
			first, created, err := srv.Submit(context.TODO(), service.SubmitForm{
				Type:           model.JobTypeCAM,
				Payload:        json.RawMessage(`{}`),
				IdempotencyKey: &key,
			})
			Expect(err).To(BeNil())
			Expect(created).To(BeTrue())

			second, created, err := srv.Submit(context.TODO(), service.SubmitForm{
				Type:           model.JobTypeCAM,
				Payload:        json.RawMessage(`{}`),
				IdempotencyKey: &key,
			})
			Expect(err).To(BeNil())
			Expect(created).To(BeFalse())
			Expect(second.ID).To(Equal(first.ID))

			// only the first submission reached the broker
			Expect(broker.dispatched).To(HaveLen(1))
		})

		It("rejects a submission for a paused queue without creating a row", func() {
			controller := admission.NewMemoryController(nil)
			Expect(controller.Pause(context.TODO(), "cpu")).To(BeNil())
			srv := newService(newTestBroker(), controller, nil)

			_, _, err := srv.Submit(context.TODO(), service.SubmitForm{
				Type:    model.JobTypeCAM,
				Payload: json.RawMessage(`{}`),
			})
			var paused *service.ErrQueuePaused
			Expect(errors.As(err, &paused)).To(BeTrue())
			Expect(paused.Queue).To(Equal("cpu"))

			jobs, err := s.Job().List(context.TODO(), nil, nil)
			Expect(err).To(BeNil())
			Expect(jobs).To(BeEmpty())
		})

		It("rate limits submissions without creating rows", func() {
			rules := map[string]admission.Rule{
				model.JobTypeCAM: {Limit: 2, Window: time.Minute},
			}
			srv := newService(newTestBroker(), nil, rules)

			for i := 0; i < 2; i++ {
				_, _, err := srv.Submit(context.TODO(), service.SubmitForm{
					Type:    model.JobTypeCAM,
					Payload: json.RawMessage(`{}`),
				})
				Expect(err).To(BeNil())
			}

			_, _, err := srv.Submit(context.TODO(), service.SubmitForm{
				Type:    model.JobTypeCAM,
				Payload: json.RawMessage(`{}`),
			})
			var limited *service.ErrRateLimited
			Expect(errors.As(err, &limited)).To(BeTrue())
			Expect(limited.Class).To(Equal(model.JobTypeCAM))

			jobs, err := s.Job().List(context.TODO(), nil, nil)
			Expect(err).To(BeNil())
			Expect(jobs).To(HaveLen(2))
		})

		It("rate limits each submitter independently", func() {
			rules := map[string]admission.Rule{
				model.JobTypeCAM: {Limit: 1, Window: time.Minute},
			}
			srv := newService(newTestBroker(), nil, rules)

			alice := admission.Identity{Addr: "10.0.0.1", UserID: "alice"}
			bob := admission.Identity{Addr: "10.0.0.2", UserID: "bob"}

			_, _, err := srv.Submit(context.TODO(), service.SubmitForm{
				Type:     model.JobTypeCAM,
				Payload:  json.RawMessage(`{}`),
				Identity: alice,
			})
			Expect(err).To(BeNil())

			_, _, err = srv.Submit(context.TODO(), service.SubmitForm{
				Type:     model.JobTypeCAM,
				Payload:  json.RawMessage(`{}`),
				Identity: alice,
			})
			var limited *service.ErrRateLimited
			Expect(errors.As(err, &limited)).To(BeTrue())

			// a different caller still fits its own window
			_, _, err = srv.Submit(context.TODO(), service.SubmitForm{
				Type:     model.JobTypeCAM,
				Payload:  json.RawMessage(`{}`),
				Identity: bob,
			})
			Expect(err).To(BeNil())
		})

		It("re-reads the winner after losing the uniqueness race", func() {
			broker := newTestBroker()
			key := "order-race"
			form := service.SubmitForm{
				Type:           model.JobTypeCAM,
				Payload:        json.RawMessage(`{}`),
				IdempotencyKey: &key,
			}

			winner, created, err := newService(broker, nil, nil).Submit(context.TODO(), form)
			Expect(err).To(BeNil())
			Expect(created).To(BeTrue())

			// a racer whose pre-insert lookup missed hits the unique index
			// and must come back with the winner's row
			racing := &missOnceStore{Store: s}
			racing.misses.Add(1)
			srv := service.NewJobService(racing, broker, admission.NewMemoryController(nil), nil, nil, nil, 3)

			loser, created, err := srv.Submit(context.TODO(), form)
			Expect(err).To(BeNil())
			Expect(created).To(BeFalse())
			Expect(loser.ID).To(Equal(winner.ID))

			Expect(broker.dispatched).To(HaveLen(1))
			jobs, err := s.Job().List(context.TODO(), nil, nil)
			Expect(err).To(BeNil())
			Expect(jobs).To(HaveLen(1))
		})

		It("rolls back the row when the broker is unavailable", func() {
			broker := newTestBroker()
			broker.dispatchErr = errors.New("connection refused")
			srv := newService(broker, nil, nil)

			_, _, err := srv.Submit(context.TODO(), service.SubmitForm{
				Type:    model.JobTypeCAM,
				Payload: json.RawMessage(`{}`),
			})
			var unavailable *service.ErrBrokerUnavailable
			Expect(errors.As(err, &unavailable)).To(BeTrue())

			jobs, err := s.Job().List(context.TODO(), nil, nil)
			Expect(err).To(BeNil())
			Expect(jobs).To(BeEmpty())
		})

		It("emits a job event on submission", func() {
			writer := newTestWriter()
			producer := events.NewEventProducer(writer)
			srv := service.NewJobService(s, newTestBroker(), admission.NewMemoryController(nil), producer, nil, nil, 3)

			_, _, err := srv.Submit(context.TODO(), service.SubmitForm{
				Type:    model.JobTypeCAM,
				Payload: json.RawMessage(`{}`),
			})
			Expect(err).To(BeNil())

			Eventually(func() int {
				return len(writer.Events())
			}).WithTimeout(2 * time.Second).Should(BeNumerically(">=", 1))
			Expect(writer.Events()[0].Type()).To(Equal(events.JobMessageKind))
		})
	})

	Context("get", func() {
		It("returns a submitted job", func() {
			srv := newService(newTestBroker(), nil, nil)

			job, _, err := srv.Submit(context.TODO(), service.SubmitForm{
				Type:    model.JobTypeSim,
				Payload: json.RawMessage(`{"steps":10}`),
			})
			Expect(err).To(BeNil())

			fetched, err := srv.Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(fetched.ID).To(Equal(job.ID))
		})

		It("maps a missing job to not found", func() {
			srv := newService(newTestBroker(), nil, nil)

			_, err := srv.Get(context.TODO(), uuid.New())
			var notFound *service.ErrResourceNotFound
			Expect(errors.As(err, &notFound)).To(BeTrue())
		})
	})

	Context("cancel", func() {
		It("revokes the task and fails the job with the cancel code", func() {
			broker := newTestBroker()
			srv := newService(broker, nil, nil)

			job, _, err := srv.Submit(context.TODO(), service.SubmitForm{
				Type:    model.JobTypeCAM,
				Payload: json.RawMessage(`{}`),
			})
			Expect(err).To(BeNil())

			cancelled, err := srv.Cancel(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(cancelled.Status).To(Equal(model.JobStatusFailed))
			Expect(cancelled.ErrorCode).NotTo(BeNil())
			Expect(*cancelled.ErrorCode).To(Equal(model.ErrCodeCancelled))
			Expect(cancelled.FinishedAt).NotTo(BeNil())
			Expect(broker.cancelled).To(Equal([]int64{*job.TaskHandle}))
		})

		It("kills the process tree when a killer is wired", func() {
			broker := newTestBroker()
			killer := &testKiller{}
			srv := service.NewJobService(s, broker, admission.NewMemoryController(nil), nil, killer, nil, 3)

			job, _, err := srv.Submit(context.TODO(), service.SubmitForm{
				Type:    model.JobTypeCAM,
				Payload: json.RawMessage(`{}`),
			})
			Expect(err).To(BeNil())

			_, err = srv.Cancel(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(killer.handles).To(Equal([]string{job.ID.String()}))
		})

		It("refuses to cancel a terminal job", func() {
			srv := newService(newTestBroker(), nil, nil)

			job, _, err := srv.Submit(context.TODO(), service.SubmitForm{
				Type:    model.JobTypeCAM,
				Payload: json.RawMessage(`{}`),
			})
			Expect(err).To(BeNil())

			_, err = s.Job().MarkSucceeded(context.TODO(), job.ID, model.JobMetrics{}, nil)
			Expect(err).To(BeNil())

			_, err = srv.Cancel(context.TODO(), job.ID)
			var terminal *service.ErrJobAlreadyTerminal
			Expect(errors.As(err, &terminal)).To(BeTrue())
			Expect(terminal.Status).To(Equal(model.JobStatusSucceeded))
		})

		It("maps a missing job to not found", func() {
			srv := newService(newTestBroker(), nil, nil)

			_, err := srv.Cancel(context.TODO(), uuid.New())
			var notFound *service.ErrResourceNotFound
			Expect(errors.As(err, &notFound)).To(BeTrue())
		})
	})
})
