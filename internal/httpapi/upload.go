package httpapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// UploadOpts enumerates the options spec.md §4.2 lists explicitly.
type UploadOpts struct {
	Name           string
	Type           string
	RawResponse    bool
	OnlyContentURI bool
	LocalTimeoutMs int
	OnProgress     func(sent, total int64)
}

// progressReader wraps a reader, reporting bytes read and kicking the
// local-timeout guard on every chunk so a slow-but-live upload isn't
// killed by a fixed deadline.
type progressReader struct {
	io.Reader
	total    int64
	sent     int64
	onChunk  func(sent, total int64)
	kick     func()
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.Reader.Read(buf)
	if n > 0 {
		p.sent += int64(n)
		if p.kick != nil {
			p.kick()
		}
		if p.onChunk != nil {
			p.onChunk(p.sent, p.total)
		}
	}
	return n, err
}

// Upload POSTs blob to the media upload path (§6.2), rearming the local
// timeout on every progress notification.
func (g *Gateway) Upload(ctx context.Context, blob io.Reader, size int64, opts UploadOpts) (*PendingResult, error) {
	pr, innerCtx := newPendingResult(ctx)
	guard := newLocalTimeoutGuard(g.clock, g.localTimeout(RequestOpts{LocalTimeoutMs: opts.LocalTimeoutMs}), pr.Cancel)

	wrapped := &progressReader{
		Reader:  blob,
		total:   size,
		onChunk: opts.OnProgress,
		kick:    guard.Kick,
	}

	query := url.Values{"access_token": {g.cfg.AccessToken}}
	if opts.Name != "" {
		query.Set("filename", opts.Name)
	}

	fullURL := g.cfg.BaseURL + PrefixMediaUp + "?" + query.Encode()
	req, err := http.NewRequestWithContext(innerCtx, http.MethodPost, fullURL, wrapped)
	if err != nil {
		guard.Cancel()
		return nil, fmt.Errorf("httpapi: build upload request: %w", err)
	}
	req.ContentLength = size
	if opts.Type != "" {
		req.Header.Set("Content-Type", opts.Type)
	}

	go g.do(pr, guard, req, nil)
	return pr, nil
}
