// Package pipeline runs one crawl-and-reconcile batch: crawl the target
// catalog, snapshot changed pages as artifacts, extract coverage assertions,
// refresh delegation facts, reconcile determinations, and stage anything
// that changed as proposals for review.
package pipeline

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/openonco/policywatch/internal/artifact"
	"github.com/openonco/policywatch/internal/crawler"
	"github.com/openonco/policywatch/internal/delegation"
	"github.com/openonco/policywatch/internal/extraction"
	"github.com/openonco/policywatch/internal/model"
	"github.com/openonco/policywatch/internal/proposal"
	"github.com/openonco/policywatch/internal/reconcile"
	"github.com/openonco/policywatch/internal/registry"
	"github.com/openonco/policywatch/internal/store"
)

// Pipeline wires the run loop's collaborators.
type Pipeline struct {
	registry   *registry.Registry
	crawler    *crawler.Crawler
	artifacts  *artifact.Writer
	extractor  extraction.Extractor
	delegation *delegation.Engine
	reconciler *reconcile.Engine
	queue      *proposal.Queue
	store      store.Store
	log        *zap.Logger
	now        func() time.Time
}

// Deps bundles the pipeline's collaborators.
type Deps struct {
	Registry   *registry.Registry
	Crawler    *crawler.Crawler
	Artifacts  *artifact.Writer
	Extractor  extraction.Extractor
	Delegation *delegation.Engine
	Reconciler *reconcile.Engine
	Queue      *proposal.Queue
	Store      store.Store
}

// New creates a Pipeline.
func New(deps Deps) *Pipeline {
	return &Pipeline{
		registry:   deps.Registry,
		crawler:    deps.Crawler,
		artifacts:  deps.Artifacts,
		extractor:  deps.Extractor,
		delegation: deps.Delegation,
		reconciler: deps.Reconciler,
		queue:      deps.Queue,
		store:      deps.Store,
		log:        zap.L().Named("pipeline"),
		now:        time.Now,
	}
}

// RunOptions narrows one batch run.
type RunOptions struct {
	// DryRun exercises fetch and extraction without persisting artifacts
	// or emitting proposals.
	DryRun bool
	// Tier restricts the run to one tier; 0 means all tiers.
	Tier int
	// PayerID restricts the run to one target; empty means all.
	PayerID string
}

// Run executes one batch. Per-target and per-artifact failures are logged
// and counted, never fatal: a run always completes with stats. Only startup
// conditions (no targets selected, run-record creation) return an error.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*model.Run, error) {
	targets := p.selectTargets(opts)
	if len(targets) == 0 {
		return nil, eris.New("pipeline: no targets selected")
	}

	run := &model.Run{DryRun: opts.DryRun, StartedAt: p.now().UTC()}
	if !opts.DryRun {
		created, err := p.store.CreateRun(ctx, opts.DryRun)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: create run")
		}
		run = created
	}

	p.log.Info("run started",
		zap.String("run_id", run.ID),
		zap.Bool("dry_run", opts.DryRun),
		zap.Int("targets", len(targets)))

	results := p.crawler.Run(ctx, targets)

	stats := model.RunStats{}
	for _, tr := range results {
		p.processTarget(ctx, tr, opts.DryRun, &stats)
	}

	run.Stats = stats
	if !opts.DryRun {
		if err := p.store.FinishRun(ctx, run.ID, stats); err != nil {
			// The batch itself succeeded; losing the bookkeeping row is
			// worth a log line, not a failed run.
			p.log.Error("finish run record", zap.Error(err))
		}
	}
	finished := p.now().UTC()
	run.FinishedAt = &finished

	p.log.Info("run complete",
		zap.String("run_id", run.ID),
		zap.Int("targets_crawled", stats.TargetsCrawled),
		zap.Int("targets_failed", stats.TargetsFailed),
		zap.Int("artifacts_created", stats.ArtifactsCreated),
		zap.Int("unchanged", stats.Unchanged),
		zap.Int("proposals_emitted", stats.ProposalsEmitted))
	return run, nil
}

// Backfill re-extracts the latest stored artifact for each (payer, policy)
// through the Batch API and reconciles the results. Used after a prompt or
// test-catalog change to refresh assertions without re-crawling.
func (p *Pipeline) Backfill(ctx context.Context, batch *extraction.BatchExtractor, payerID string) (*model.RunStats, error) {
	artifacts, err := p.store.ListArtifacts(ctx, store.ArtifactFilter{PayerID: payerID})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: list artifacts")
	}

	latest := latestPerPolicy(artifacts)
	if len(latest) == 0 {
		return nil, eris.New("pipeline: no artifacts to backfill")
	}

	reqs := make([]extraction.Request, 0, len(latest))
	for _, a := range latest {
		reqs = append(reqs, extraction.Request{
			PayerID:     a.PayerID,
			ArtifactID:  a.ArtifactID,
			SourceURL:   a.SourceURL,
			Content:     a.Content,
			TestCatalog: p.registry.TestCatalog(),
		})
	}

	p.log.Info("backfill started", zap.Int("artifacts", len(reqs)))

	results, err := batch.ExtractAll(ctx, reqs)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: batch extract")
	}

	stats := model.RunStats{}
	type pair struct{ payerID, testID string }
	touched := make(map[pair]bool)
	for _, br := range results {
		if br.Err != nil {
			stats.ExtractionErrors++
			p.log.Error("backfill extraction failed",
				zap.String("artifact_id", br.Request.ArtifactID),
				zap.Error(br.Err))
			continue
		}
		for _, a := range br.Result.Assertions {
			if err := p.store.InsertAssertion(ctx, a); err != nil {
				p.log.Error("persist assertion",
					zap.String("payer_id", a.PayerID),
					zap.String("test_id", a.TestID),
					zap.Error(err))
				continue
			}
			touched[pair{a.PayerID, a.TestID}] = true
			p.anchorQuotes(ctx, a)
		}
	}

	for pr := range touched {
		p.reconcileAndPropose(ctx, pr.payerID, pr.testID, &stats)
	}

	p.log.Info("backfill complete",
		zap.Int("artifacts", len(reqs)),
		zap.Int("extraction_errors", stats.ExtractionErrors),
		zap.Int("proposals_emitted", stats.ProposalsEmitted))
	return &stats, nil
}

// latestPerPolicy keeps the newest artifact for each (payer, policy) pair.
func latestPerPolicy(artifacts []model.Artifact) []model.Artifact {
	type key struct{ payerID, policyID string }
	newest := make(map[key]model.Artifact)
	for _, a := range artifacts {
		k := key{a.PayerID, a.PolicyID}
		if cur, ok := newest[k]; !ok || a.FetchedAt.After(cur.FetchedAt) {
			newest[k] = a
		}
	}
	out := make([]model.Artifact, 0, len(newest))
	for _, a := range newest {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ArtifactID < out[j].ArtifactID })
	return out
}

func (p *Pipeline) selectTargets(opts RunOptions) []model.Target {
	var out []model.Target
	for _, t := range p.registry.Targets() {
		if opts.Tier != 0 && t.Tier != opts.Tier {
			continue
		}
		if opts.PayerID != "" && t.PayerID != opts.PayerID {
			continue
		}
		out = append(out, t)
	}
	return out
}

// processTarget handles everything downstream of the crawl for one target.
func (p *Pipeline) processTarget(ctx context.Context, tr crawler.TargetResult, dryRun bool, stats *model.RunStats) {
	stats.TargetsCrawled++
	for _, u := range tr.Outcome.URLs {
		if u.OK {
			stats.URLsFetched++
		} else {
			stats.URLsFailed++
		}
	}
	if tr.Outcome.Failed {
		stats.TargetsFailed++
		return
	}

	payerID := tr.Target.PayerID

	// Delegation detection runs on the combined text; the detected store
	// is last-write-wins, so concurrent targets never conflict.
	detections := delegation.Detect(payerID, firstSourceURL(tr), tr.Outcome.CombinedText, p.now().UTC())
	for _, d := range detections {
		// Evaluate against the pre-detection state, then record: whether a
		// detection is news depends on what the engine believed before it.
		if !dryRun {
			p.maybeProposeDelegation(ctx, d, stats)
		}
		p.delegation.Detected().Put(d)
	}

	changed, primaryArtifactID := p.storeArtifacts(ctx, tr, dryRun, stats)
	if !changed {
		return
	}

	res, err := p.extractor.Extract(ctx, extraction.Request{
		PayerID:     payerID,
		ArtifactID:  primaryArtifactID,
		SourceURL:   firstSourceURL(tr),
		Content:     tr.Outcome.CombinedText,
		TestCatalog: p.registry.TestCatalog(),
	})
	if err != nil {
		// Extraction failure is isolated to this target.
		stats.ExtractionErrors++
		p.log.Error("extraction failed",
			zap.String("payer_id", payerID),
			zap.Error(err))
		return
	}

	if dryRun {
		p.log.Info("dry run: extraction produced assertions",
			zap.String("payer_id", payerID),
			zap.Int("assertions", len(res.Assertions)))
		return
	}

	touched := make(map[string]bool)
	for _, a := range res.Assertions {
		if err := p.store.InsertAssertion(ctx, a); err != nil {
			p.log.Error("persist assertion",
				zap.String("payer_id", a.PayerID),
				zap.String("test_id", a.TestID),
				zap.Error(err))
			continue
		}
		touched[a.TestID] = true
		p.anchorQuotes(ctx, a)
	}

	for testID := range touched {
		p.reconcileAndPropose(ctx, payerID, testID, stats)
	}
}

// storeArtifacts snapshots each fetched page keyed by page type. Returns
// whether any content changed (extraction is skipped for fully unchanged
// targets) and the first created artifact's id for evidence citations.
func (p *Pipeline) storeArtifacts(ctx context.Context, tr crawler.TargetResult, dryRun bool, stats *model.RunStats) (bool, string) {
	if dryRun {
		// No persistence; treat every fetched page as changed so the dry
		// run still exercises extraction.
		return true, ""
	}

	changed := false
	primary := ""
	for _, pr := range tr.Pages {
		if !pr.Result.OK {
			continue
		}
		res, err := p.artifacts.Store(ctx, tr.Target.PayerID, string(pr.Result.PageType),
			pr.Page.URL, pr.Page.ContentType, pr.Page.Text)
		if err != nil {
			p.log.Error("store artifact",
				zap.String("payer_id", tr.Target.PayerID),
				zap.String("url", pr.Page.URL),
				zap.Error(err))
			continue
		}
		if res.Created {
			changed = true
			stats.ArtifactsCreated++
			if primary == "" {
				primary = res.Artifact.ArtifactID
			}
		} else {
			stats.Unchanged++
		}
	}
	return changed, primary
}

// anchorQuotes attaches each assertion quote to its source artifact. A
// quote the canonical text no longer contains is logged and skipped; the
// assertion itself stands.
func (p *Pipeline) anchorQuotes(ctx context.Context, a model.CoverageAssertion) {
	if a.SourceDocumentID == "" {
		return
	}
	for _, q := range a.Quotes {
		if _, err := p.artifacts.Anchor(ctx, a.SourceDocumentID, q); err != nil {
			p.log.Warn("anchor quote",
				zap.String("artifact_id", a.SourceDocumentID),
				zap.Error(err))
		}
	}
}

// reconcileAndPropose recomputes the determination for one (payer, test)
// pair and stages a proposal when it differs from the value on file.
func (p *Pipeline) reconcileAndPropose(ctx context.Context, payerID, testID string, stats *model.RunStats) {
	assertions, err := p.store.ListAssertions(ctx, store.AssertionFilter{PayerID: payerID, TestID: testID})
	if err != nil {
		p.log.Error("list assertions", zap.String("payer_id", payerID), zap.Error(err))
		return
	}

	next := p.reconciler.Reconcile(payerID, testID, assertions)
	if next == nil {
		return
	}

	prev, err := p.store.GetDetermination(ctx, payerID, testID)
	if err != nil {
		p.log.Error("load determination", zap.String("payer_id", payerID), zap.Error(err))
		return
	}
	if !next.Differs(prev) {
		return
	}

	if err := p.store.PutDetermination(ctx, *next); err != nil {
		p.log.Error("persist determination", zap.String("payer_id", payerID), zap.Error(err))
		return
	}

	operative := operativeEntry(next)
	payload := map[string]any{
		"payer_id": payerID,
		"test_id":  testID,
		"layer":    string(next.SourceLayer),
		"status":   string(next.Status),
		"criteria": next.Criteria,
	}
	evidence := model.ProposalEvidence{
		ArtifactID: operative.SourceDocumentID,
		Quotes:     operativeQuotes(next, assertions),
	}
	if _, err := p.queue.Submit(ctx, model.ProposalCoverageAssertion, payload, evidence); err != nil {
		p.log.Error("submit coverage proposal", zap.String("payer_id", payerID), zap.Error(err))
		return
	}
	stats.ProposalsEmitted++
}

// maybeProposeDelegation stages a delegation_update proposal when a
// detection names an LBM the seed map does not already credit.
func (p *Pipeline) maybeProposeDelegation(ctx context.Context, d delegation.Detection, stats *model.RunStats) {
	current := p.delegation.Status(d.PayerID, "")
	if current != nil && current.Fact.DelegatesTo == d.DelegatesTo &&
		current.Fact.EvidenceLevel == model.EvidenceConfirmed {
		return
	}

	payload := map[string]any{
		"payer_id":     d.PayerID,
		"delegates_to": d.DelegatesTo,
		"confidence":   d.Confidence,
	}
	evidence := model.ProposalEvidence{
		SourceURL: d.SourceURL,
		Quotes:    d.Quotes,
	}
	if _, err := p.queue.Submit(ctx, model.ProposalDelegationUpdate, payload, evidence); err != nil {
		p.log.Error("submit delegation proposal", zap.String("payer_id", d.PayerID), zap.Error(err))
		return
	}
	stats.ProposalsEmitted++
}

func operativeEntry(d *model.Determination) model.ChangelogEntry {
	for _, e := range d.Changelog {
		if e.Operative {
			return e
		}
	}
	if len(d.Changelog) > 0 {
		return d.Changelog[0]
	}
	return model.ChangelogEntry{}
}

func operativeQuotes(d *model.Determination, assertions []model.CoverageAssertion) []string {
	for _, a := range assertions {
		if a.Layer == d.SourceLayer && a.Status == d.Status {
			return a.Quotes
		}
	}
	return nil
}

func firstSourceURL(tr crawler.TargetResult) string {
	for _, pr := range tr.Pages {
		if pr.Result.OK {
			return pr.Page.URL
		}
	}
	return ""
}
