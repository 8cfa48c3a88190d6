package service

import (
	"fmt"

	"github.com/google/uuid"
)

type ErrResourceNotFound struct {
	error
}

func NewErrResourceNotFound(id uuid.UUID, resourceType string) *ErrResourceNotFound {
	return &ErrResourceNotFound{fmt.Errorf("%s %s not found", resourceType, id)}
}

func NewErrJobNotFound(id uuid.UUID) *ErrResourceNotFound {
	return NewErrResourceNotFound(id, "job")
}

type ErrInvalidJob struct {
	error
}

func NewErrInvalidJob(message string) *ErrInvalidJob {
	return &ErrInvalidJob{fmt.Errorf("invalid job: %s", message)}
}

type ErrQueuePaused struct {
	error
	Queue string
}

func NewErrQueuePaused(queue string) *ErrQueuePaused {
	return &ErrQueuePaused{error: fmt.Errorf("queue %s is paused", queue), Queue: queue}
}

type ErrRateLimited struct {
	error
	Class string
}

func NewErrRateLimited(class, rule string) *ErrRateLimited {
	return &ErrRateLimited{error: fmt.Errorf("rate limit %s exceeded for %s submissions", rule, class), Class: class}
}

type ErrBrokerUnavailable struct {
	error
}

func NewErrBrokerUnavailable(cause error) *ErrBrokerUnavailable {
	return &ErrBrokerUnavailable{fmt.Errorf("job accepted but could not be dispatched: %v", cause)}
}

type ErrJobAlreadyTerminal struct {
	error
	Status string
}

func NewErrJobAlreadyTerminal(id uuid.UUID, status string) *ErrJobAlreadyTerminal {
	return &ErrJobAlreadyTerminal{
		error:  fmt.Errorf("job %s is already %s", id, status),
		Status: status,
	}
}

type ErrQueueNotFound struct {
	error
}

func NewErrQueueNotFound(name string) *ErrQueueNotFound {
	return &ErrQueueNotFound{fmt.Errorf("unknown queue %q", name)}
}

type ErrDeadLetterNotFound struct {
	error
}

func NewErrDeadLetterNotFound(id uint) *ErrDeadLetterNotFound {
	return &ErrDeadLetterNotFound{fmt.Errorf("dead letter %d not found", id)}
}
