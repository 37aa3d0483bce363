// Package fetch retrieves payer policy pages. Two paths exist: the standard
// rendered fetch, and a raw HTTP/1.1 legacy path for hosts whose anti-bot
// defenses reject modern protocol stacks.
package fetch

import "context"

// Page holds one fetched page reduced to canonical plain text.
type Page struct {
	URL         string
	Title       string
	Text        string
	ContentType string
	StatusCode  int
	Protocol    string
}

// Protocol names reported in URLResult records.
const (
	ProtocolRendered    = "rendered"
	ProtocolLegacyHTTP1 = "legacy_http1"
)

// Fetcher fetches a single URL and returns its canonicalized content.
// Implementations must create a fresh isolated session per call so cookie
// or connection state never leaks between attempts or targets.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
	Name() string
}
