// Package crawler orchestrates fetching the target catalog: tiers run
// strictly in sequence, targets within a tier run concurrently under a
// bounded worker pool, and every request to one host is serialized behind
// a politeness interval.
package crawler

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/openonco/policywatch/internal/fetch"
	"github.com/openonco/policywatch/internal/model"
	"github.com/openonco/policywatch/internal/resilience"
)

const (
	defaultConcurrency = 5
	defaultPoliteness  = 3 * time.Second
	defaultMaxRetries  = 2
	defaultBackoffBase = time.Second
)

// PageResult is one URL's fetch outcome with the page, when it succeeded.
type PageResult struct {
	Result model.URLResult
	Page   *fetch.Page
}

// TargetResult is the complete, deterministic outcome for one target.
type TargetResult struct {
	Target  model.Target
	Pages   []PageResult
	Outcome model.TargetOutcome
}

// Crawler fetches targets through the rendered and legacy protocol paths.
type Crawler struct {
	rendered fetch.Fetcher
	legacy   fetch.Fetcher

	concurrency int
	politeness  time.Duration
	maxRetries  int
	backoffBase time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	log *zap.Logger
}

// CrawlerOption configures a Crawler.
type CrawlerOption func(*Crawler)

// WithConcurrency bounds how many targets in one tier fetch at once.
func WithConcurrency(n int) CrawlerOption {
	return func(c *Crawler) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithPoliteness sets the per-host delay between sequential requests.
func WithPoliteness(d time.Duration) CrawlerOption {
	return func(c *Crawler) { c.politeness = d }
}

// WithMaxRetries sets how many extra attempts follow a failed fetch.
func WithMaxRetries(n int) CrawlerOption {
	return func(c *Crawler) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithBackoffBase sets the exponential backoff base delay.
func WithBackoffBase(d time.Duration) CrawlerOption {
	return func(c *Crawler) {
		if d > 0 {
			c.backoffBase = d
		}
	}
}

// New creates a Crawler over the two fetch paths.
func New(rendered, legacy fetch.Fetcher, opts ...CrawlerOption) *Crawler {
	c := &Crawler{
		rendered:    rendered,
		legacy:      legacy,
		concurrency: defaultConcurrency,
		politeness:  defaultPoliteness,
		maxRetries:  defaultMaxRetries,
		backoffBase: defaultBackoffBase,
		limiters:    make(map[string]*rate.Limiter),
		log:         zap.L().Named("crawler"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run crawls targets tier by tier. Tier 1 fully drains before tier 2
// starts. The result slice preserves input order; a run always returns one
// outcome per target regardless of failures.
func (c *Crawler) Run(ctx context.Context, targets []model.Target) []TargetResult {
	results := make([]TargetResult, len(targets))

	for _, tier := range tiersOf(targets) {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.concurrency)

		for i := range targets {
			if targets[i].Tier != tier {
				continue
			}
			i := i
			g.Go(func() error {
				results[i] = c.crawlTarget(gctx, targets[i])
				// A target's exhausted retries never abort siblings.
				return nil
			})
		}
		// Workers only return nil; Wait is a tier barrier.
		_ = g.Wait()

		c.log.Info("tier complete", zap.Int("tier", tier))
	}

	return results
}

// crawlTarget fetches every configured URL for one target sequentially.
// The target fails only when all URLs fail; partial success proceeds with
// whatever text was retrieved.
func (c *Crawler) crawlTarget(ctx context.Context, target model.Target) TargetResult {
	start := time.Now()
	tr := TargetResult{Target: target}

	var combined []string
	anyOK := false
	for _, tu := range target.AllURLs() {
		pr := c.fetchURL(ctx, target, tu)
		tr.Pages = append(tr.Pages, pr)
		tr.Outcome.URLs = append(tr.Outcome.URLs, pr.Result)
		if pr.Result.OK {
			anyOK = true
			combined = append(combined, pr.Page.Text)
		}
	}

	tr.Outcome.PayerID = target.PayerID
	tr.Outcome.Tier = target.Tier
	tr.Outcome.CombinedText = strings.Join(combined, "\n\n")
	tr.Outcome.Failed = !anyOK
	tr.Outcome.Elapsed = time.Since(start).Milliseconds()

	if tr.Outcome.Failed {
		c.log.Warn("target failed: all urls exhausted",
			zap.String("payer_id", target.PayerID),
			zap.Int("urls", len(tr.Outcome.URLs)))
	}
	return tr
}

// fetchURL attempts one URL through the protocol chain: legacy HTTP/1.1
// first when the target requires it, falling through to the rendered path.
// Each path retries transient failures with exponential backoff.
func (c *Crawler) fetchURL(ctx context.Context, target model.Target, tu model.TargetURL) PageResult {
	chain := []fetch.Fetcher{c.rendered}
	if target.RequiresLegacyProtocol {
		chain = []fetch.Fetcher{c.legacy, c.rendered}
	}

	result := model.URLResult{URL: tu.URL, PageType: tu.PageType}
	var lastErr error

	for _, f := range chain {
		page, attempts, err := resilience.DoVal(ctx, resilience.RetryConfig{
			MaxAttempts: c.maxRetries + 1,
			BaseBackoff: c.backoffBase,
			OnRetry:     resilience.RetryLogger(f.Name(), tu.URL),
		}, func(ctx context.Context) (*fetch.Page, error) {
			// Politeness applies per request, serialized per host,
			// regardless of which fetcher or attempt issues it.
			if err := c.waitHost(ctx, tu.URL); err != nil {
				return nil, err
			}
			return f.Fetch(ctx, tu.URL)
		})
		result.Attempts += attempts

		if err == nil {
			result.OK = true
			result.Protocol = page.Protocol
			c.log.Debug("url fetched",
				zap.String("url", tu.URL),
				zap.String("protocol", page.Protocol),
				zap.Int("attempts", result.Attempts))
			return PageResult{Result: result, Page: page}
		}

		lastErr = err
		c.log.Warn("fetch path exhausted",
			zap.String("url", tu.URL),
			zap.String("fetcher", f.Name()),
			zap.Error(err))
	}

	result.Error = lastErr.Error()
	return PageResult{Result: result}
}

// waitHost blocks until this host's politeness interval allows another
// request.
func (c *Crawler) waitHost(ctx context.Context, rawURL string) error {
	host := fetch.HostOf(rawURL)

	c.mu.Lock()
	limiter, ok := c.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(c.politeness), 1)
		c.limiters[host] = limiter
	}
	c.mu.Unlock()

	return limiter.Wait(ctx)
}

func tiersOf(targets []model.Target) []int {
	seen := make(map[int]bool)
	var tiers []int
	for _, t := range targets {
		if !seen[t.Tier] {
			seen[t.Tier] = true
			tiers = append(tiers, t.Tier)
		}
	}
	sort.Ints(tiers)
	return tiers
}
