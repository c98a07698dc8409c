// Package httpapi is the thin, retry-free HTTP surface every other
// component in this module issues requests through. It owns JSON framing,
// local-timeout enforcement (via internal/realtime), authorized-request
// access-token attachment, the M_UNKNOWN_TOKEN logged-out notification, and
// upload progress reporting. It deliberately does not retry — that policy
// lives in internal/scheduler and internal/syncengine's keep-alive loop.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/matrixclaw/internal/mxerr"
	"github.com/nextlevelbuilder/matrixclaw/internal/realtime"
)

// Matrix client API base paths (§6.2).
const (
	PrefixR0       = "/_matrix/client/r0"
	PrefixUnstable = "/_matrix/client/unstable"
	PrefixIdentity = "/_matrix/identity/api/v1"
	PrefixMediaR0  = "/_matrix/media/r0"
	PrefixMediaUp  = "/_matrix/media/v1/upload"
	PrefixClient   = "/_matrix/client"
)

// Config configures a Gateway: the HTTP-related construction options plus
// an optional HTTPClient (http.DefaultClient when nil).
type Config struct {
	BaseURL        string
	IDBaseURL      string
	HTTPClient     *http.Client
	AccessToken    string
	ExtraParams    url.Values
	LocalTimeoutMs int
	OnlyData       bool
	Prefix         string
}

// Gateway is a stateless façade over one homeserver base URL. "Stateless"
// means no retry/queue state — only the access token and logged-out
// subscriber list are held, exactly as much state as the spec requires.
type Gateway struct {
	cfg   Config
	clock *realtime.Timer

	mu          sync.Mutex
	loggedOut   []func()
}

// New creates a Gateway. clock defaults to realtime.Default if nil.
func New(cfg Config, clock *realtime.Timer) *Gateway {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Prefix == "" {
		cfg.Prefix = PrefixR0
	}
	if clock == nil {
		clock = realtime.Default
	}
	return &Gateway{cfg: cfg, clock: clock}
}

// RequestOpts carries per-call overrides.
type RequestOpts struct {
	LocalTimeoutMs int // 0 = use Config.LocalTimeoutMs
	Prefix         string
}

func (g *Gateway) localTimeout(opts RequestOpts) time.Duration {
	ms := opts.LocalTimeoutMs
	if ms == 0 {
		ms = g.cfg.LocalTimeoutMs
	}
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// FormURL builds an absolute URL for path under prefix (or g.cfg.Prefix if
// prefix is empty), with params appended as a query string.
func (g *Gateway) FormURL(path string, params url.Values, prefix string) string {
	if prefix == "" {
		prefix = g.cfg.Prefix
	}
	full := strings.TrimRight(g.cfg.BaseURL, "/") + prefix + path

	merged := url.Values{}
	for k, v := range g.cfg.ExtraParams {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}
	if len(merged) == 0 {
		return full
	}
	return full + "?" + merged.Encode()
}

// Request issues one JSON-by-default HTTP request and returns a
// PendingResult immediately; the caller either Waits on it or holds its
// Cancel for later.
func (g *Gateway) Request(ctx context.Context, method, path string, query url.Values, body any, opts RequestOpts) (*PendingResult, error) {
	pr, innerCtx := newPendingResult(ctx)

	guard := newLocalTimeoutGuard(g.clock, g.localTimeout(opts), pr.Cancel)

	req, err := g.buildRequest(innerCtx, method, g.FormURL(path, query, opts.Prefix), body)
	if err != nil {
		guard.Cancel()
		return nil, err
	}

	go g.do(pr, guard, req, nil)
	return pr, nil
}

// AuthorizedRequest is Request with the configured access token attached as
// a query parameter. On M_UNKNOWN_TOKEN it also notifies logged-out
// subscribers; the original caller still observes the rejection.
func (g *Gateway) AuthorizedRequest(ctx context.Context, method, path string, query url.Values, body any, opts RequestOpts) (*PendingResult, error) {
	if query == nil {
		query = url.Values{}
	}
	query = cloneValues(query)
	query.Set("access_token", g.cfg.AccessToken)

	pr, innerCtx := newPendingResult(ctx)
	guard := newLocalTimeoutGuard(g.clock, g.localTimeout(opts), pr.Cancel)

	req, err := g.buildRequest(innerCtx, method, g.FormURL(path, query, opts.Prefix), body)
	if err != nil {
		guard.Cancel()
		return nil, err
	}

	go g.do(pr, guard, req, g.notifyIfUnknownToken)
	return pr, nil
}

// OnLoggedOut registers a subscriber notified whenever an authorized
// request comes back with M_UNKNOWN_TOKEN.
func (g *Gateway) OnLoggedOut(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.loggedOut = append(g.loggedOut, fn)
}

func (g *Gateway) notifyIfUnknownToken(err error) {
	if e, ok := mxerr.As(err); !ok || e.Errcode != "M_UNKNOWN_TOKEN" {
		return
	}
	g.mu.Lock()
	subs := append([]func(){}, g.loggedOut...)
	g.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

func (g *Gateway) buildRequest(ctx context.Context, method, fullURL string, body any) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("httpapi: encode body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("httpapi: build request: %w", err)
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do executes req and settles pr. onErrHook, if non-nil, observes the
// classified error before it's returned (used for the logged-out channel).
func (g *Gateway) do(pr *PendingResult, guard *localTimeoutGuard, req *http.Request, onErrHook func(error)) {
	resp, err := g.cfg.HTTPClient.Do(req)
	guard.Cancel()

	if err != nil {
		classified := classifyTransportError(pr.ctx, err)
		if onErrHook != nil {
			onErrHook(classified)
		}
		pr.settle(Reply{}, classified)
		return
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		classified := mxerr.Network(readErr)
		if onErrHook != nil {
			onErrHook(classified)
		}
		pr.settle(Reply{}, classified)
		return
	}

	if resp.StatusCode >= 400 {
		classified := classifyErrorBody(resp.StatusCode, data)
		if onErrHook != nil {
			onErrHook(classified)
		}
		pr.settle(Reply{}, classified)
		return
	}

	pr.settle(Reply{Code: resp.StatusCode, Headers: resp.Header, Data: data}, nil)
}

// classifyTransportError distinguishes a caller/timeout cancellation from a
// genuine network failure.
func classifyTransportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return mxerr.Cancelled()
	}
	return mxerr.Network(err)
}

// errorBody mirrors the wire shape in spec.md §6.2: {errcode, error,
// retry_after_ms?}.
type errorBody struct {
	Errcode      string `json:"errcode"`
	Error        string `json:"error"`
	RetryAfterMs *int64 `json:"retry_after_ms,omitempty"`
}

func classifyErrorBody(status int, data []byte) error {
	var body errorBody
	if err := json.Unmarshal(data, &body); err == nil && body.Errcode != "" {
		if body.Errcode == "M_LIMIT_EXCEEDED" && body.RetryAfterMs != nil {
			return mxerr.RateLimited(*body.RetryAfterMs)
		}
		if body.Errcode == "M_UNKNOWN_TOKEN" {
			return mxerr.UnknownToken()
		}
		return mxerr.Matrix(body.Errcode, body.Error, status)
	}

	// No recognized errcode. A 401 with no errcode is the UIA challenge
	// shape ({flows, session, ...}) rather than a plain Matrix error;
	// keep the raw body so internal/uia can decode it.
	if status == http.StatusUnauthorized {
		return mxerr.HTTPStatusWithBody(status, data)
	}
	return mxerr.HTTPStatus(status, fmt.Errorf("unrecognized error body (status %d)", status))
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
