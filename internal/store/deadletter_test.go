package store_test

import (
	"context"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/camforge/camforge/internal/config"
	"github.com/camforge/camforge/internal/store"
	"github.com/camforge/camforge/internal/store/model"
)

var _ = Describe("dead letter store", Ordered, func() {
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
		gormdb.Exec("DELETE FROM dead_letters;")
	})

	It("creates and gets a dead letter", func() {
		letter, err := s.DeadLetter().Create(context.TODO(), model.DeadLetter{
			JobID:    uuid.New(),
			Task:     "generate_toolpaths",
			Reason:   "attempts exhausted",
			Attempts: 3,
		})
		Expect(err).To(BeNil())
		Expect(letter.ID).NotTo(BeZero())

		fetched, err := s.DeadLetter().Get(context.TODO(), letter.ID)
		Expect(err).To(BeNil())
		Expect(fetched.Task).To(Equal("generate_toolpaths"))
		Expect(fetched.Reason).To(Equal("attempts exhausted"))
	})

	It("returns not found for an unknown letter", func() {
		_, err := s.DeadLetter().Get(context.TODO(), 9999)
		Expect(err).To(MatchError(store.ErrRecordNotFound))
	})

	It("lists letters and counts them", func() {
		for i := 0; i < 3; i++ {
			_, err := s.DeadLetter().Create(context.TODO(), model.DeadLetter{
				JobID:  uuid.New(),
				Task:   "simulate_machining",
				Reason: "timeout",
			})
			Expect(err).To(BeNil())
		}

		letters, err := s.DeadLetter().List(context.TODO(), store.NewDeadLetterQueryOptions())
		Expect(err).To(BeNil())
		Expect(letters).To(HaveLen(3))

		count, err := s.DeadLetter().Count(context.TODO())
		Expect(err).To(BeNil())
		Expect(count).To(Equal(int64(3)))

		letters, err = s.DeadLetter().List(context.TODO(), store.NewDeadLetterQueryOptions().WithLimit(2))
		Expect(err).To(BeNil())
		Expect(letters).To(HaveLen(2))
	})

	It("deletes a letter", func() {
		letter, err := s.DeadLetter().Create(context.TODO(), model.DeadLetter{
			JobID:  uuid.New(),
			Task:   "build_report",
			Reason: "fatal",
		})
		Expect(err).To(BeNil())

		Expect(s.DeadLetter().Delete(context.TODO(), letter.ID)).To(BeNil())
		_, err = s.DeadLetter().Get(context.TODO(), letter.ID)
		Expect(err).To(MatchError(store.ErrRecordNotFound))
	})
})
