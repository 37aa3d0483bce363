package fetch

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/openonco/policywatch/internal/canonical"
	"github.com/openonco/policywatch/internal/resilience"
)

const maxRedirects = 5

// LegacyFetcher speaks plain HTTP/1.1 and follows redirects by hand. Some
// payer hosts fingerprint modern client stacks (h2, automatic redirects,
// standard header order) and serve them challenge pages; a bare 1.1 request
// sails through.
type LegacyFetcher struct {
	timeout   time.Duration
	userAgent string
}

// LegacyOption configures a LegacyFetcher.
type LegacyOption func(*LegacyFetcher)

// WithLegacyTimeout sets the per-fetch hard timeout.
func WithLegacyTimeout(d time.Duration) LegacyOption {
	return func(f *LegacyFetcher) { f.timeout = d }
}

// NewLegacyFetcher creates a LegacyFetcher with sensible defaults.
func NewLegacyFetcher(opts ...LegacyOption) *LegacyFetcher {
	f := &LegacyFetcher{
		timeout:   45 * time.Second,
		userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64)",
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *LegacyFetcher) Name() string { return "legacy_http1" }

// Fetch retrieves a URL over HTTP/1.1, chasing up to maxRedirects redirects
// manually with a fresh transport per call.
func (f *LegacyFetcher) Fetch(ctx context.Context, targetURL string) (*Page, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	// TLSNextProto set to an empty map disables h2 negotiation entirely.
	transport := &http.Transport{
		ForceAttemptHTTP2:   false,
		TLSNextProto:        map[string]func(string, *tls.Conn) http.RoundTripper{},
		MaxIdleConnsPerHost: 1,
	}
	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	defer client.CloseIdleConnections()

	current := targetURL
	var resp *http.Response
	var body []byte

	for hop := 0; ; hop++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
		if err != nil {
			return nil, eris.Wrap(err, "legacy: create request")
		}
		req.Header.Set("User-Agent", f.userAgent)
		req.Header.Set("Accept", "text/html")
		req.Header.Set("Connection", "close")

		resp, err = client.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "legacy: fetch")
		}

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			loc := resp.Header.Get("Location")
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if loc == "" {
				return nil, eris.Errorf("legacy: redirect %d without location", resp.StatusCode)
			}
			if hop >= maxRedirects {
				return nil, eris.Errorf("legacy: too many redirects from %s", targetURL)
			}
			next, err := resp.Request.URL.Parse(loc)
			if err != nil {
				return nil, eris.Wrap(err, "legacy: parse redirect location")
			}
			current = next.String()
			continue
		}

		body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		_ = resp.Body.Close()
		if err != nil {
			return nil, eris.Wrap(err, "legacy: read body")
		}
		break
	}

	if blocked, blockType := DetectBlock(resp, body); blocked {
		return nil, eris.Errorf("legacy: blocked (%s)", blockType)
	}

	if resp.StatusCode >= 400 {
		err := eris.Errorf("legacy: status %d", resp.StatusCode)
		if isRetryableStatus(resp.StatusCode) {
			return nil, wrapTransient(err, resp.StatusCode)
		}
		return nil, err
	}

	html := string(body)
	return &Page{
		URL:         current,
		Title:       canonical.Title(html),
		Text:        canonical.Text(html),
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
		Protocol:    ProtocolLegacyHTTP1,
	}, nil
}

// isRetryableStatus reports whether an HTTP status merits another attempt.
func isRetryableStatus(code int) bool {
	return resilience.IsTransientHTTPStatus(code)
}

func wrapTransient(err error, statusCode int) error {
	return resilience.NewTransientError(err, statusCode)
}

// HostOf extracts the host from a raw URL, empty on parse failure. The
// crawler keys politeness limiters by it.
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
