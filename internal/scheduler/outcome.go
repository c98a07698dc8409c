package scheduler

import (
	"context"

	"github.com/nextlevelbuilder/matrixclaw/internal/httpapi"
)

// Outcome is what a queued event settles with.
type Outcome struct {
	Reply httpapi.Reply
	Err   error
}

// Pending is the settle-result promise returned by Enqueue. Mirrors
// httpapi.PendingResult's shape (a channel plus a blocking Wait) so callers
// across this module use one consistent "pending result" idiom rather than
// a dual callback/promise surface.
type Pending struct {
	done chan Outcome
}

func newPending() *Pending {
	return &Pending{done: make(chan Outcome, 1)}
}

func (p *Pending) settle(o Outcome) {
	p.done <- o
	close(p.done)
}

// Wait blocks until the event settles or ctx is done.
func (p *Pending) Wait(ctx context.Context) (Outcome, error) {
	select {
	case o := <-p.done:
		return o, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}
