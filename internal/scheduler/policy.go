package scheduler

import (
	"time"

	"github.com/nextlevelbuilder/matrixclaw/internal/mxerr"
)

// Selector decides which named queue an event is routed to. Returning
// ok=false means "send concurrently, do not queue" — the scheduler hands
// nothing back and the caller is expected to invoke the processor directly.
type Selector func(event Event) (queueName string, ok bool)

// QueueMessages is the default selector: message-shaped events serialize
// through the "message" queue, everything else bypasses queuing.
func QueueMessages(event Event) (string, bool) {
	if event.IsMessageType() {
		return "message", true
	}
	return "", false
}

// RetryPolicy decides how long to wait before retrying a failed dispatch.
// A negative return means give up.
type RetryPolicy func(event Event, attempts int, err error) time.Duration

// giveUp is returned by RetryBackoffRatelimit to signal "stop retrying".
// Duration has no natural negative sentinel that reads cleanly, so this is
// named rather than a bare -1 scattered through call sites.
const giveUp = -1 * time.Millisecond

func isGiveUp(wait time.Duration) bool { return wait < 0 }

// RetryBackoffRatelimit is the default retry policy (spec §4.3):
//   - a rate-limited MATRIX_ERROR waits exactly the server-supplied
//     retry_after_ms;
//   - otherwise, after more than 4 attempts, give up;
//   - otherwise wait 1000*2^attempts ms (2s, 4s, 8s, 16s).
func RetryBackoffRatelimit(event Event, attempts int, err error) time.Duration {
	if ms, ok := mxerr.RetryAfterMs(err); ok {
		return time.Duration(ms) * time.Millisecond
	}
	if attempts > 4 {
		return giveUp
	}
	return time.Duration(1000*pow2(attempts)) * time.Millisecond
}

func pow2(n int) int64 {
	if n < 0 {
		return 1
	}
	result := int64(1)
	for i := 0; i < n; i++ {
		result *= 2
	}
	return result
}
