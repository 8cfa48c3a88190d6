package queue_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/riverqueue/river/rivertype"

	"github.com/camforge/camforge/internal/queue"
)

var _ = Describe("backoff policy", func() {
	It("doubles the delay per attempt up to the cap", func() {
		p := queue.NewBackoffPolicy(2*time.Second, 300*time.Second)

		for attempt := 1; attempt <= 10; attempt++ {
			base := 2 * time.Second << (attempt - 1)
			if base > 300*time.Second {
				base = 300 * time.Second
			}
			delay := p.Delay(attempt)
			Expect(delay).To(BeNumerically(">=", base))
			Expect(delay).To(BeNumerically("<=", time.Duration(float64(base)*1.25)+time.Nanosecond))
			Expect(delay).To(BeNumerically("<=", 300*time.Second))
		}
	})

	It("never exceeds the cap", func() {
		p := queue.NewBackoffPolicy(10*time.Second, 60*time.Second)
		for i := 0; i < 100; i++ {
			Expect(p.Delay(20)).To(BeNumerically("<=", 60*time.Second))
		}
	})

	It("treats attempts below one as the first attempt", func() {
		p := queue.NewBackoffPolicy(2*time.Second, 300*time.Second)
		Expect(p.Delay(0)).To(BeNumerically(">=", 2*time.Second))
		Expect(p.Delay(-5)).To(BeNumerically("<=", time.Duration(float64(2*time.Second)*1.25)+time.Nanosecond))
	})

	It("schedules the next retry in the future", func() {
		p := queue.NewBackoffPolicy(2*time.Second, 300*time.Second)
		next := p.NextRetry(&rivertype.JobRow{Attempt: 1})
		Expect(next).To(BeTemporally(">", time.Now()))
	})
})
