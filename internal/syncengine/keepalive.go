package syncengine

import (
	"context"
	"net/url"
	"time"

	"github.com/nextlevelbuilder/matrixclaw/internal/httpapi"
)

const (
	keepAliveBudget     = 5 * time.Second
	keepAliveInitial    = 2 * time.Second
	keepAliveMaxBackoff = 32 * time.Second
)

// runKeepAlive repeatedly polls GET /versions (cheap, unauthenticated)
// until it succeeds or ctx is cancelled, per spec §4.5's failure path.
// Backoff doubles from 2s up to a 32s cap. If the actual sleep between
// attempts exceeds twice what was planned, the attempt counter resets to
// 1 — a sign of process suspension, treated as a fresh wake-up rather than
// a continuation of the old backoff schedule.
func (e *Engine) runKeepAlive(ctx context.Context) error {
	attempt := 1
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stopCh:
			return nil
		default:
		}

		reqCtx, cancel := context.WithTimeout(ctx, keepAliveBudget)
		err := e.pingVersions(reqCtx)
		cancel()
		if err == nil {
			return nil
		}

		planned := backoffFor(attempt)
		slept := e.sleep(ctx, planned)
		if slept > 2*planned {
			attempt = 1
		} else {
			attempt++
		}
	}
}

func (e *Engine) pingVersions(ctx context.Context) error {
	pr, err := e.gw.Request(ctx, "GET", "/versions", url.Values{}, nil, httpapi.RequestOpts{Prefix: httpapi.PrefixClient})
	if err != nil {
		return err
	}
	_, err = pr.Wait(ctx)
	return err
}

// sleep blocks for d (or until ctx/stopCh fire) and returns the actual
// elapsed wall-clock time, so callers can detect suspension.
func (e *Engine) sleep(ctx context.Context, d time.Duration) time.Duration {
	start := nowFunc()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	case <-e.stopCh:
	}
	return nowFunc().Sub(start)
}

// backoffFor implements the 2,4,8,16,32,32,... sequence.
func backoffFor(attempt int) time.Duration {
	d := keepAliveInitial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= keepAliveMaxBackoff {
			return keepAliveMaxBackoff
		}
	}
	if d > keepAliveMaxBackoff {
		return keepAliveMaxBackoff
	}
	return d
}
