package model

import "time"

// URLResult records the outcome of fetching one target URL, including which
// protocol path ultimately served it.
type URLResult struct {
	URL      string   `json:"url"`
	PageType PageType `json:"page_type"`
	OK       bool     `json:"ok"`
	Protocol string   `json:"protocol,omitempty"` // "legacy_http1" or "rendered"
	Attempts int      `json:"attempts"`
	Error    string   `json:"error,omitempty"`
}

// TargetOutcome is the deterministic per-target result of a crawl batch.
// Failed is true only when every URL failed after retries.
type TargetOutcome struct {
	PayerID      string      `json:"payer_id"`
	Tier         int         `json:"tier"`
	URLs         []URLResult `json:"urls"`
	CombinedText string      `json:"-"`
	Failed       bool        `json:"failed"`
	Elapsed      int64       `json:"elapsed_ms"`
}

// RunStats summarizes a completed crawl-and-reconcile run. A run always
// produces stats, regardless of partial failures.
type RunStats struct {
	TargetsCrawled   int `json:"targets_crawled"`
	TargetsFailed    int `json:"targets_failed"`
	URLsFetched      int `json:"urls_fetched"`
	URLsFailed       int `json:"urls_failed"`
	ArtifactsCreated int `json:"artifacts_created"`
	Unchanged        int `json:"unchanged"`
	ExtractionErrors int `json:"extraction_errors"`
	ProposalsEmitted int `json:"proposals_emitted"`
}

// Run is the persisted record of one crawl batch.
type Run struct {
	ID         string     `json:"id"`
	DryRun     bool       `json:"dry_run"`
	Stats      RunStats   `json:"stats"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
