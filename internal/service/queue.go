package service

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/camforge/camforge/internal/admission"
	"github.com/camforge/camforge/internal/events"
	"github.com/camforge/camforge/internal/queue"
)

var knownQueues = []string{queue.QueueEngine, queue.QueueCPU, queue.QueueSim, queue.QueuePostProc}

type QueueService struct {
	admission admission.Controller
	producer  *events.EventProducer
}

func NewQueueService(adm admission.Controller, producer *events.EventProducer) *QueueService {
	return &QueueService{admission: adm, producer: producer}
}

// QueueStatus is the admission view of one queue.
type QueueStatus struct {
	Name   string `json:"name"`
	Paused bool   `json:"paused"`
}

func (s *QueueService) Pause(ctx context.Context, queueName string) error {
	if err := validQueue(queueName); err != nil {
		return err
	}
	if err := s.admission.Pause(ctx, queueName); err != nil {
		return err
	}
	s.emitQueueEvent(ctx, queueName, true)
	zap.S().Named("queue_service").Infow("queue paused", "queue", queueName)
	return nil
}

func (s *QueueService) Resume(ctx context.Context, queueName string) error {
	if err := validQueue(queueName); err != nil {
		return err
	}
	if err := s.admission.Resume(ctx, queueName); err != nil {
		return err
	}
	s.emitQueueEvent(ctx, queueName, false)
	zap.S().Named("queue_service").Infow("queue resumed", "queue", queueName)
	return nil
}

func (s *QueueService) Status(ctx context.Context) ([]QueueStatus, error) {
	statuses := make([]QueueStatus, 0, len(knownQueues))
	for _, name := range knownQueues {
		paused, err := s.admission.IsPaused(ctx, name)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, QueueStatus{Name: name, Paused: paused})
	}
	return statuses, nil
}

func validQueue(name string) error {
	for _, known := range knownQueues {
		if known == name {
			return nil
		}
	}
	return NewErrQueueNotFound(name)
}

func (s *QueueService) emitQueueEvent(ctx context.Context, queueName string, paused bool) {
	if s.producer == nil {
		return
	}
	event := events.QueueEvent{
		Queue:     queueName,
		Paused:    paused,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := s.producer.Write(ctx, events.QueueMessageKind, bytes.NewReader(data)); err != nil {
		zap.S().Named("queue_service").Warnf("failed to emit queue event: %v", err)
	}
}
