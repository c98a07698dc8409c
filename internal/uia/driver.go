// Package uia drives the interactive-authentication (UIA) handshake: the
// multi-round challenge where an otherwise-legitimate request comes back
// with HTTP 401 and a description of the remaining login stages.
package uia

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/nextlevelbuilder/matrixclaw/internal/httpapi"
	"github.com/nextlevelbuilder/matrixclaw/internal/mxerr"
)

type driverState int

const (
	stateIdle driverState = iota
	stateRequesting
	stateAwaitingUser
	stateResolved
	stateRejected
)

// ChallengeBody is the 401 response body the homeserver sends describing
// the remaining UIA flows.
type ChallengeBody struct {
	Flows     []Flow          `json:"flows"`
	Completed []string        `json:"completed"`
	Session   string          `json:"session"`
	Params    json.RawMessage `json:"params"`
	Errcode   string          `json:"errcode"`
	Error     string          `json:"error"`
}

// Flow is one advertised sequence of login stage types.
type Flow struct {
	Stages []string `json:"stages"`
}

// StageError is what the stage callback receives when the last reply
// carried an errcode/error; nil when there was none.
type StageError struct {
	Errcode string
	Error   string
}

// DoRequest actually issues the protected request, stamped with the
// current auth dict (nil on the very first attempt).
type DoRequest func(ctx context.Context, authDict map[string]any) (httpapi.Reply, error)

// StartStage is the UI hook invoked whenever the driver needs the caller
// to gather input for the named login stage.
type StartStage func(loginType string, stageErr *StageError)

// Driver runs one UIA negotiation. Not reusable once Resolved/Rejected.
type Driver struct {
	doRequest  DoRequest
	startStage StartStage

	mu        sync.Mutex
	state     driverState
	sessionID string
	flow      []string
	completed map[string]bool
	params    map[string]json.RawMessage
	lastErr   *StageError
	pending   *pendingResult
}

type pendingResult struct {
	done  chan struct{}
	reply httpapi.Reply
	err   error
}

func newPendingResult() *pendingResult {
	return &pendingResult{done: make(chan struct{})}
}

func (p *pendingResult) settle(reply httpapi.Reply, err error) {
	p.reply, p.err = reply, err
	close(p.done)
}

// New constructs a Driver. initialChallenge is the last 401 body if the
// caller already has one (skips straight to AwaitingUser); nil starts a
// fresh request with no auth dict.
func New(doRequest DoRequest, startStage StartStage, initialChallenge *ChallengeBody) *Driver {
	d := &Driver{
		doRequest:  doRequest,
		startStage: startStage,
		completed:  make(map[string]bool),
		params:     make(map[string]json.RawMessage),
	}
	if initialChallenge != nil {
		d.applyChallengeLocked(initialChallenge)
		if _, ok := d.nextStageLocked(); ok {
			d.state = stateAwaitingUser
		} else {
			d.state = stateRejected
		}
	}
	return d
}

// Begin starts the negotiation and blocks until it resolves or rejects.
func (d *Driver) Begin(ctx context.Context) (httpapi.Reply, error) {
	d.mu.Lock()
	if d.state == stateAwaitingUser {
		// Constructed with an initial challenge: the stage the caller
		// must fill in is already known, so prompt for it immediately
		// rather than waiting on a request that was never issued.
		d.pending = newPendingResult()
		pr := d.pending
		stage, _ := d.nextStageLocked()
		stageErr := d.lastErr
		d.mu.Unlock()
		go d.startStage(stage, stageErr)
		return pr.wait(ctx)
	}
	if d.state == stateRejected {
		d.mu.Unlock()
		return httpapi.Reply{}, mxerr.NoIncompleteFlows()
	}
	if d.state != stateIdle {
		d.mu.Unlock()
		return httpapi.Reply{}, mxerr.Cancelled()
	}
	d.state = stateRequesting
	d.pending = newPendingResult()
	pr := d.pending
	d.mu.Unlock()

	d.attempt(ctx, nil)
	return pr.wait(ctx)
}

// Submit supplies the user's answer for the current stage and re-attempts
// the protected request. authDict must not include "session" or "type" —
// the driver stamps those itself.
func (d *Driver) Submit(ctx context.Context, stageType string, authDict map[string]any) {
	d.mu.Lock()
	if d.state != stateAwaitingUser {
		d.mu.Unlock()
		return
	}
	d.state = stateRequesting
	dict := make(map[string]any, len(authDict)+2)
	for k, v := range authDict {
		dict[k] = v
	}
	dict["type"] = stageType
	dict["session"] = d.sessionID
	d.mu.Unlock()

	d.attempt(ctx, dict)
}

// SessionID returns the current session id, or "" before the first
// challenge has been seen.
func (d *Driver) SessionID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessionID
}

// ParamsFor returns the server-supplied params for a stage type, if any.
func (d *Driver) ParamsFor(stageType string) (json.RawMessage, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.params[stageType]
	return p, ok
}

func (d *Driver) attempt(ctx context.Context, authDict map[string]any) {
	reply, err := d.safeDoRequest(ctx, authDict)

	d.mu.Lock()
	defer d.mu.Unlock()

	if err == nil {
		d.state = stateResolved
		d.pending.settle(reply, nil)
		return
	}

	challenge, isChallenge := asChallenge(err)
	if !isChallenge {
		d.state = stateRejected
		d.pending.settle(httpapi.Reply{}, err)
		return
	}

	d.applyChallengeLocked(challenge)

	stage, ok := d.nextStageLocked()
	if !ok {
		d.state = stateRejected
		d.pending.settle(httpapi.Reply{}, mxerr.NoIncompleteFlows())
		return
	}

	d.state = stateAwaitingUser
	stageErr := d.lastErr
	go d.startStage(stage, stageErr)
}

// safeDoRequest recovers a panicking doRequest and turns it into an error
// so the caller's error-handling path is uniform regardless of how the
// request callback fails.
func (d *Driver) safeDoRequest(ctx context.Context, authDict map[string]any) (reply httpapi.Reply, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = mxerr.GaveUp(nil)
		}
	}()
	return d.doRequest(ctx, authDict)
}

// applyChallengeLocked merges a 401 challenge body into driver state. Must
// be called with d.mu held.
func (d *Driver) applyChallengeLocked(c *ChallengeBody) {
	d.sessionID = c.Session
	if len(c.Flows) > 0 && d.flow == nil {
		d.flow = c.Flows[0].Stages
	}
	for _, s := range c.Completed {
		d.completed[s] = true
	}
	if c.Errcode != "" || c.Error != "" {
		d.lastErr = &StageError{Errcode: c.Errcode, Error: c.Error}
	} else {
		d.lastErr = nil
	}
}

// nextStageLocked returns the first stage of the chosen flow not yet
// completed. Must be called with d.mu held.
func (d *Driver) nextStageLocked() (string, bool) {
	for _, stage := range d.flow {
		if !d.completed[stage] {
			return stage, true
		}
	}
	return "", false
}

func (p *pendingResult) wait(ctx context.Context) (httpapi.Reply, error) {
	select {
	case <-p.done:
		return p.reply, p.err
	case <-ctx.Done():
		return httpapi.Reply{}, ctx.Err()
	}
}

// asChallenge extracts a ChallengeBody from an HTTP 401 error, if the
// error is shaped like one.
func asChallenge(err error) (*ChallengeBody, bool) {
	mxe, ok := mxerr.As(err)
	if !ok || mxe.Kind != mxerr.KindHTTPStatus || mxe.HTTPStatus != 401 {
		return nil, false
	}
	var c ChallengeBody
	if jsonErr := json.Unmarshal(mxe.Body, &c); jsonErr != nil || len(c.Flows) == 0 {
		return nil, false
	}
	return &c, true
}
