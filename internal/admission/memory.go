package admission

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryController keeps admission state in process memory. It is the
// default backend and is correct as long as a single API instance runs.
type MemoryController struct {
	mu      sync.RWMutex
	rules   map[string]Rule
	paused  map[string]struct{}
	buckets map[string][]time.Time

	now func() time.Time
}

var _ Controller = (*MemoryController)(nil)

func NewMemoryController(rules map[string]Rule) *MemoryController {
	return &MemoryController{
		rules:   rules,
		paused:  make(map[string]struct{}),
		buckets: make(map[string][]time.Time),
		now:     time.Now,
	}
}

func (m *MemoryController) Pause(ctx context.Context, queue string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused[queue] = struct{}{}
	return nil
}

func (m *MemoryController) Resume(ctx context.Context, queue string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.paused, queue)
	return nil
}

func (m *MemoryController) IsPaused(ctx context.Context, queue string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, found := m.paused[queue]
	return found, nil
}

func (m *MemoryController) PausedQueues(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	queues := make([]string, 0, len(m.paused))
	for queue := range m.paused {
		queues = append(queues, queue)
	}
	sort.Strings(queues)
	return queues, nil
}

func (m *MemoryController) Allow(ctx context.Context, class string, id Identity) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rule, found := m.rules[class]
	if !found {
		// no rule means no limit for that class
		return true, nil
	}

	key := BucketKey(class, id)
	now := m.now()
	cutoff := now.Add(-rule.Window)

	// prune expired entries lazily, on access only
	bucket := m.buckets[key]
	keep := bucket[:0]
	for _, t := range bucket {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}

	if len(keep) >= rule.Limit {
		m.buckets[key] = keep
		return false, nil
	}

	m.buckets[key] = append(keep, now)
	return true, nil
}
