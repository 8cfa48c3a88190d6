package service_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/camforge/camforge/internal/admission"
	"github.com/camforge/camforge/internal/service"
)

var _ = Describe("queue service", func() {
	It("pauses and resumes a known queue", func() {
		controller := admission.NewMemoryController(nil)
		srv := service.NewQueueService(controller, nil)

		Expect(srv.Pause(context.TODO(), "freecad")).To(BeNil())

		paused, err := controller.IsPaused(context.TODO(), "freecad")
		Expect(err).To(BeNil())
		Expect(paused).To(BeTrue())

		Expect(srv.Resume(context.TODO(), "freecad")).To(BeNil())
		paused, err = controller.IsPaused(context.TODO(), "freecad")
		Expect(err).To(BeNil())
		Expect(paused).To(BeFalse())
	})

	It("rejects an unknown queue", func() {
		srv := service.NewQueueService(admission.NewMemoryController(nil), nil)

		var notFound *service.ErrQueueNotFound
		Expect(errors.As(srv.Pause(context.TODO(), "gpu"), &notFound)).To(BeTrue())
		Expect(errors.As(srv.Resume(context.TODO(), "gpu"), &notFound)).To(BeTrue())
	})

	It("reports the status of every queue", func() {
		controller := admission.NewMemoryController(nil)
		srv := service.NewQueueService(controller, nil)
		Expect(srv.Pause(context.TODO(), "sim")).To(BeNil())

		statuses, err := srv.Status(context.TODO())
		Expect(err).To(BeNil())
		Expect(statuses).To(HaveLen(4))

		byName := map[string]bool{}
		for _, status := range statuses {
			byName[status.Name] = status.Paused
		}
		Expect(byName["sim"]).To(BeTrue())
		Expect(byName["cpu"]).To(BeFalse())
		Expect(byName["freecad"]).To(BeFalse())
		Expect(byName["postproc"]).To(BeFalse())
	})
})
