package httpapi

import (
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/matrixclaw/internal/realtime"
)

// localTimeoutGuard arms a deadline timer for a single pending request and
// cancels that request if the deadline fires first. Upload progress calls
// Kick to push the deadline back, so a slow-but-live upload is never killed
// by localTimeoutMs while a genuinely stuck one still is.
//
// Shape (TTL timer + post-close guard) is grounded on the teacher's typing
// indicator controller: a single timer armed at Start, rearmed on each
// "still alive" signal, and a closed flag that makes every path after the
// first fire a no-op.
type localTimeoutGuard struct {
	mu      sync.Mutex
	closed  bool
	timer   realtime.Key
	clock   *realtime.Timer
	onFire  func()
	timeout time.Duration
}

func newLocalTimeoutGuard(clock *realtime.Timer, timeout time.Duration, onFire func()) *localTimeoutGuard {
	g := &localTimeoutGuard{clock: clock, timeout: timeout, onFire: onFire}
	if timeout > 0 {
		g.arm()
	}
	return g
}

func (g *localTimeoutGuard) arm() {
	g.timer = g.clock.Schedule(func(args ...any) {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.closed {
			return
		}
		g.closed = true
		slog.Debug("httpapi: local timeout fired", "timeout", g.timeout)
		g.onFire()
	}, g.timeout)
}

// Kick pushes the deadline back by the original timeout. Called on every
// upload progress notification.
func (g *localTimeoutGuard) Kick() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || g.timeout <= 0 {
		return
	}
	g.clock.Cancel(g.timer)
	g.arm()
}

// Cancel disarms the guard. Safe to call multiple times.
func (g *localTimeoutGuard) Cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.closed = true
	g.clock.Cancel(g.timer)
}
