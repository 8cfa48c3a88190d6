package events

import (
	"bytes"
	"context"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("producer", Ordered, func() {
	Context("write", func() {
		It("flushes buffered events to the writer", func() {
			w := newTestWriter()
			ep := NewEventProducer(w)

			err := ep.Write(context.TODO(), JobMessageKind, bytes.NewReader([]byte("msg1")))
			Expect(err).To(BeNil())
			err = ep.Write(context.TODO(), QueueMessageKind, bytes.NewReader([]byte("msg2")))
			Expect(err).To(BeNil())

			Eventually(func() int {
				return len(w.Messages())
			}).WithTimeout(2 * time.Second).Should(Equal(2))

			messages := w.Messages()
			Expect(messages[0].Type()).To(Equal(JobMessageKind))
			Expect(messages[1].Type()).To(Equal(QueueMessageKind))

			Expect(ep.Close()).To(BeNil())
		})

		It("stamps events with the default topic", func() {
			w := newTestWriter()
			ep := NewEventProducer(w)

			err := ep.Write(context.TODO(), JobMessageKind, bytes.NewReader([]byte("msg")))
			Expect(err).To(BeNil())

			Eventually(func() int {
				return len(w.Messages())
			}).WithTimeout(2 * time.Second).Should(Equal(1))
			Expect(w.Topics()).To(Equal([]string{defaultTopic}))

			Expect(ep.Close()).To(BeNil())
		})

		It("honours a custom output topic", func() {
			w := newTestWriter()
			ep := NewEventProducer(w, WithOutputTopic("camforge.custom"))

			err := ep.Write(context.TODO(), JobMessageKind, bytes.NewReader([]byte("msg")))
			Expect(err).To(BeNil())

			Eventually(func() []string {
				return w.Topics()
			}).WithTimeout(2 * time.Second).Should(Equal([]string{"camforge.custom"}))

			Expect(ep.Close()).To(BeNil())
		})
	})
})

type testwriter struct {
	mu       sync.Mutex
	messages []cloudevents.Event
	topics   []string
}

func newTestWriter() *testwriter {
	return &testwriter{}
}

func (t *testwriter) Write(ctx context.Context, topic string, e cloudevents.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, e)
	t.topics = append(t.topics, topic)
	return nil
}

func (t *testwriter) Close(_ context.Context) error {
	return nil
}

func (t *testwriter) Messages() []cloudevents.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]cloudevents.Event{}, t.messages...)
}

func (t *testwriter) Topics() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string{}, t.topics...)
}
