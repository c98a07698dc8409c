package scheduler

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/matrixclaw/internal/httpapi"
	"github.com/nextlevelbuilder/matrixclaw/internal/mxerr"
	"github.com/nextlevelbuilder/matrixclaw/internal/realtime"
)

// Processor actually dispatches one event and yields its server reply.
// txnID is minted once per event (on its first dispatch attempt) and
// handed back unchanged on every retry, so the server can collapse
// duplicate sends.
type Processor func(ctx context.Context, event Event, txnID string) (httpapi.Reply, error)

type queueState int

const (
	stateIdle queueState = iota
	stateDispatching
	stateSleeping
)

// queuedEvent is a single entry in a queue, carrying its own retry state.
// This is spec.md's QueuedEvent.
type queuedEvent struct {
	event    Event
	attempts int
	txnID    string
	pending  *Pending
	removed  bool
}

// queue is spec.md's Queue: a name, a FIFO sequence, and whether it's
// currently processing. Adapted from the teacher's SessionQueue — same
// "single in-flight head, sleep-then-retry" shape, generalized from
// per-session concurrency control to the spec's per-queue-name FIFO with a
// retry policy instead of a drop policy.
type queue struct {
	name string

	mu       sync.Mutex
	items    []*queuedEvent
	state    queueState
	sleepKey realtime.Key

	ctx context.Context // parent context, captured on first enqueue
}

// kickLocked starts dispatching the head if the queue is idle, has a
// pending item, and a processor is bound. Must be called with q.mu held.
func (q *queue) kickLocked(s *Scheduler) {
	if q.state != stateIdle || len(q.items) == 0 {
		return
	}
	s.mu.RLock()
	proc := s.processor
	s.mu.RUnlock()
	if proc == nil {
		slog.Debug("scheduler: queue has pending items but no processor bound yet", "queue", q.name, "err", ErrNoProcessor)
		return
	}
	q.state = stateDispatching
	go q.dispatchHead(s, proc)
}

// dispatchHead runs the processor for the current head and advances the
// state machine per spec.md §4.3's diagram.
func (q *queue) dispatchHead(s *Scheduler, proc Processor) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.state = stateIdle
		q.mu.Unlock()
		return
	}
	head := q.items[0]
	if head.removed {
		q.popHeadLocked()
		head.pending.settle(Outcome{Err: mxerr.Cancelled()})
		q.kickLocked(s)
		q.mu.Unlock()
		return
	}
	head.attempts++
	if head.txnID == "" {
		head.txnID = uuid.NewString()
	}
	attempts, txnID := head.attempts, head.txnID
	ctx := q.ctx
	if ctx == nil {
		ctx = s.ctx
	}
	q.mu.Unlock()

	reply, err := proc(ctx, head.event, txnID)

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 || q.items[0] != head {
		// Head was removed and already settled while we were dispatching.
		return
	}

	if head.removed {
		q.popHeadLocked()
		head.pending.settle(Outcome{Err: mxerr.Cancelled()})
		q.kickLocked(s)
		return
	}

	if err == nil {
		q.popHeadLocked()
		head.pending.settle(Outcome{Reply: reply})
		q.kickLocked(s)
		return
	}

	wait := s.retry(head.event, attempts, err)
	if isGiveUp(wait) {
		q.popHeadLocked()
		head.pending.settle(Outcome{Err: mxerr.GaveUp(err)})
		q.kickLocked(s)
		return
	}

	q.state = stateSleeping
	q.sleepKey = s.clock.Schedule(func(args ...any) {
		q.mu.Lock()
		if len(q.items) == 0 || q.items[0] != head || head.removed {
			q.state = stateIdle
			q.kickLocked(s)
			q.mu.Unlock()
			return
		}
		q.state = stateDispatching
		q.mu.Unlock()
		go q.dispatchHead(s, proc)
	}, wait)
}

// popHeadLocked removes the current head. Must be called with q.mu held.
func (q *queue) popHeadLocked() {
	if len(q.items) == 0 {
		return
	}
	q.items = q.items[1:]
	q.state = stateIdle
}

// remove finds eventID in this queue and settles it as CANCELLED.
func (q *queue) remove(s *Scheduler, eventID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, it := range q.items {
		if it.event.ID != eventID {
			continue
		}
		if i == 0 && q.state != stateIdle {
			// Head is in flight (dispatching) or sleeping before a retry.
			// Mark it so the in-flight/sleeping continuation discards the
			// result instead of settling success, and abort the retry
			// timer if one is armed.
			it.removed = true
			if q.state == stateSleeping {
				s.clock.Cancel(q.sleepKey)
				q.popHeadLocked()
				it.pending.settle(Outcome{Err: mxerr.Cancelled()})
				q.kickLocked(s)
			}
			return true
		}
		// Not yet dispatched: remove directly.
		q.items = append(q.items[:i], q.items[i+1:]...)
		it.pending.settle(Outcome{Err: mxerr.Cancelled()})
		return true
	}
	return false
}
