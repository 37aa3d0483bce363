package fetch

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/rotisserie/eris"

	"github.com/openonco/policywatch/internal/canonical"
)

const maxBodyBytes = 2 * 1024 * 1024

// RenderedFetcher is the standard fetch path. It loads the page, waits a
// fixed settle delay for client-side content, then reduces the document to
// visible plain text.
type RenderedFetcher struct {
	timeout     time.Duration
	settleDelay time.Duration
	userAgent   string
}

// RenderedOption configures a RenderedFetcher.
type RenderedOption func(*RenderedFetcher)

// WithTimeout sets the per-fetch hard timeout.
func WithTimeout(d time.Duration) RenderedOption {
	return func(f *RenderedFetcher) { f.timeout = d }
}

// WithSettleDelay sets the post-load wait before text extraction.
func WithSettleDelay(d time.Duration) RenderedOption {
	return func(f *RenderedFetcher) { f.settleDelay = d }
}

// WithUserAgent overrides the default User-Agent.
func WithUserAgent(ua string) RenderedOption {
	return func(f *RenderedFetcher) { f.userAgent = ua }
}

// NewRenderedFetcher creates a RenderedFetcher with sensible defaults.
func NewRenderedFetcher(opts ...RenderedOption) *RenderedFetcher {
	f := &RenderedFetcher{
		timeout:     45 * time.Second,
		settleDelay: 1500 * time.Millisecond,
		userAgent:   "Mozilla/5.0 (compatible; PolicyWatch/1.0)",
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *RenderedFetcher) Name() string { return "rendered" }

// Fetch loads a URL with a fresh session, waits the settle delay, and
// returns canonical text. Blocked or error responses fail the attempt.
func (f *RenderedFetcher) Fetch(ctx context.Context, targetURL string) (*Page, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	// Fresh jar and transport per call: one attempt's cookie state must not
	// bleed into the next.
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, eris.Wrap(err, "rendered: cookie jar")
	}
	client := &http.Client{
		Jar: jar,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     30 * time.Second,
		},
	}
	defer client.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "rendered: create request")
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "rendered: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, eris.Wrap(err, "rendered: read body")
	}

	if blocked, blockType := DetectBlock(resp, body); blocked {
		return nil, eris.Errorf("rendered: blocked (%s)", blockType)
	}

	if resp.StatusCode >= 400 {
		err := eris.Errorf("rendered: status %d", resp.StatusCode)
		if isRetryableStatus(resp.StatusCode) {
			return nil, wrapTransient(err, resp.StatusCode)
		}
		return nil, err
	}

	// Let client-side content settle before extracting visible text.
	if f.settleDelay > 0 {
		timer := time.NewTimer(f.settleDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, eris.Wrap(ctx.Err(), "rendered: settle wait")
		case <-timer.C:
		}
	}

	html := string(body)
	return &Page{
		URL:         targetURL,
		Title:       canonical.Title(html),
		Text:        canonical.Text(html),
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
		Protocol:    ProtocolRendered,
	}, nil
}
