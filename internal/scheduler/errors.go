package scheduler

import "errors"

var (
	// ErrNoProcessor is returned (to the logs, never to a caller) when a
	// queue's head is dispatched before SetProcessor has ever been called.
	// Dispatch simply doesn't start; this is not a user-facing error.
	ErrNoProcessor = errors.New("scheduler: no processor bound yet")
)
