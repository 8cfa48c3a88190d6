package queue

import (
	"math/rand"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

// BackoffPolicy schedules retries with exponential backoff and jitter so a
// burst of failures does not come back as a synchronized burst of retries.
type BackoffPolicy struct {
	Base time.Duration
	Cap  time.Duration

	// JitterFraction widens each delay by up to this fraction, 0.25 by
	// default.
	JitterFraction float64
}

var _ river.ClientRetryPolicy = (*BackoffPolicy)(nil)

func NewBackoffPolicy(base, cap time.Duration) *BackoffPolicy {
	return &BackoffPolicy{
		Base:           base,
		Cap:            cap,
		JitterFraction: 0.25,
	}
}

// Delay computes the backoff for the given attempt, starting at 1.
func (p *BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.Base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.Cap {
			delay = p.Cap
			break
		}
	}
	if delay > p.Cap {
		delay = p.Cap
	}

	fraction := p.JitterFraction
	if fraction <= 0 {
		fraction = 0.25
	}
	jitter := time.Duration(rand.Float64() * fraction * float64(delay))
	if delay+jitter > p.Cap {
		return p.Cap
	}
	return delay + jitter
}

func (p *BackoffPolicy) NextRetry(job *rivertype.JobRow) time.Time {
	return time.Now().Add(p.Delay(job.Attempt))
}
