package scheduler

import (
	"context"
	"sync"

	"github.com/nextlevelbuilder/matrixclaw/internal/realtime"
)

// Scheduler is the top-level coordinator: one named queue per destination,
// created lazily, each running its own independent FIFO.
type Scheduler struct {
	mu        sync.RWMutex
	queues    map[string]*queue
	selector  Selector
	retry     RetryPolicy
	processor Processor
	clock     *realtime.Timer
	ctx       context.Context
}

// NewScheduler creates a Scheduler. processor may be bound later via
// SetProcessor — per spec.md §4.3, binding after enqueue immediately
// begins processing whatever is already queued.
func NewScheduler(ctx context.Context, selector Selector, retry RetryPolicy, clock *realtime.Timer) *Scheduler {
	if selector == nil {
		selector = QueueMessages
	}
	if retry == nil {
		retry = RetryBackoffRatelimit
	}
	if clock == nil {
		clock = realtime.Default
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &Scheduler{
		queues:   make(map[string]*queue),
		selector: selector,
		retry:    retry,
		clock:    clock,
		ctx:      ctx,
	}
}

// SetProcessor binds the actor that dispatches one event. Existing queues
// with a pending, not-yet-dispatching head begin processing immediately.
func (s *Scheduler) SetProcessor(fn Processor) {
	s.mu.Lock()
	s.processor = fn
	queues := make([]*queue, 0, len(s.queues))
	for _, q := range s.queues {
		queues = append(queues, q)
	}
	s.mu.Unlock()

	for _, q := range queues {
		q.mu.Lock()
		q.kickLocked(s)
		q.mu.Unlock()
	}
}

// Enqueue consults the queue selector. A selector that returns ok=false
// means "send concurrently" — Enqueue returns (nil, false) and the caller
// is expected to invoke the processor itself. Otherwise the event is
// appended to its named queue and a Pending settle-result is returned.
func (s *Scheduler) Enqueue(ctx context.Context, event Event) (*Pending, bool) {
	name, ok := s.selector(event)
	if !ok {
		return nil, false
	}

	q := s.getOrCreateQueue(name)
	pending := newPending()

	q.mu.Lock()
	if q.ctx == nil {
		q.ctx = ctx
	}
	q.items = append(q.items, &queuedEvent{event: event, pending: pending})
	q.kickLocked(s)
	q.mu.Unlock()

	return pending, true
}

// QueueFor returns a shallow snapshot of a named queue's pending events, in
// FIFO order.
func (s *Scheduler) QueueFor(name string) []Event {
	s.mu.RLock()
	q, ok := s.queues[name]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Event, 0, len(q.items))
	for _, it := range q.items {
		out = append(out, it.event)
	}
	return out
}

// Remove removes the event with the given id from whichever queue holds
// it, by identity. If it was the head of an active queue, processing
// continues with the next event. Its settle-result rejects with CANCELLED.
func (s *Scheduler) Remove(eventID string) bool {
	s.mu.RLock()
	queues := make([]*queue, 0, len(s.queues))
	for _, q := range s.queues {
		queues = append(queues, q)
	}
	s.mu.RUnlock()

	for _, q := range queues {
		if q.remove(s, eventID) {
			return true
		}
	}
	return false
}

func (s *Scheduler) getOrCreateQueue(name string) *queue {
	s.mu.RLock()
	q, ok := s.queues[name]
	s.mu.RUnlock()
	if ok {
		return q
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.queues[name]; ok {
		return q
	}
	q = &queue{name: name}
	s.queues[name] = q
	return q
}
