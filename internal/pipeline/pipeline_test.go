package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openonco/policywatch/internal/artifact"
	"github.com/openonco/policywatch/internal/crawler"
	"github.com/openonco/policywatch/internal/delegation"
	"github.com/openonco/policywatch/internal/extraction"
	"github.com/openonco/policywatch/internal/fetch"
	"github.com/openonco/policywatch/internal/model"
	"github.com/openonco/policywatch/internal/proposal"
	"github.com/openonco/policywatch/internal/reconcile"
	"github.com/openonco/policywatch/internal/registry"
	"github.com/openonco/policywatch/internal/store"
)

const singleTargetYAML = `
targets:
  - payer_id: payer-aetna
    display_name: Aetna
    tier: 1
    urls_by_page_type:
      coverage:
        - https://aetna.example.com/coverage
tests:
  - signatera
`

const coverageQuote = "Signatera is considered medically necessary for stage II colorectal cancer"

// scriptedFetcher serves fixed text per URL; missing URLs 404.
type scriptedFetcher struct {
	mu    sync.Mutex
	text  map[string]string
	calls int
}

func (f *scriptedFetcher) Name() string { return "rendered" }

func (f *scriptedFetcher) Fetch(_ context.Context, url string) (*fetch.Page, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	text, ok := f.text[url]
	if !ok {
		return nil, eris.New("rendered: status 404")
	}
	return &fetch.Page{
		URL:         url,
		Text:        text,
		ContentType: "text/html",
		StatusCode:  200,
		Protocol:    fetch.ProtocolRendered,
	}, nil
}

// fakeExtractor records requests and replays a scripted result.
type fakeExtractor struct {
	mu   sync.Mutex
	reqs []extraction.Request
	fn   func(req extraction.Request) (*extraction.Result, error)
}

func (f *fakeExtractor) Extract(_ context.Context, req extraction.Request) (*extraction.Result, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	return f.fn(req)
}

func (f *fakeExtractor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func extractorOf(assertions func(req extraction.Request) []model.CoverageAssertion) *fakeExtractor {
	return &fakeExtractor{fn: func(req extraction.Request) (*extraction.Result, error) {
		return &extraction.Result{Assertions: assertions(req)}, nil
	}}
}

func emptyExtractor() *fakeExtractor {
	return extractorOf(func(extraction.Request) []model.CoverageAssertion { return nil })
}

func signateraExtractor() *fakeExtractor {
	return extractorOf(func(req extraction.Request) []model.CoverageAssertion {
		return []model.CoverageAssertion{{
			PayerID:          req.PayerID,
			TestID:           "signatera",
			Layer:            model.LayerUMCriteria,
			Status:           model.StatusSupports,
			Criteria:         model.Criteria{CancerTypes: []string{"colorectal"}, Stage: "II", PriorAuth: true},
			SourceDocumentID: req.ArtifactID,
			Confidence:       0.9,
			Quotes:           []string{coverageQuote},
		}}
	})
}

func newTestPipeline(t *testing.T, targetsYAML string, fetcher *scriptedFetcher, ex extraction.Extractor) (*Pipeline, *store.SQLiteStore) {
	t.Helper()
	dir := t.TempDir()

	targetsPath := filepath.Join(dir, "targets.yaml")
	require.NoError(t, os.WriteFile(targetsPath, []byte(targetsYAML), 0o644))
	reg, err := registry.LoadTargets(targetsPath)
	require.NoError(t, err)

	st, err := store.NewSQLite(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	c := crawler.New(fetcher, fetcher,
		crawler.WithPoliteness(0),
		crawler.WithBackoffBase(time.Millisecond))

	p := New(Deps{
		Registry:   reg,
		Crawler:    c,
		Artifacts:  artifact.NewWriter(st),
		Extractor:  ex,
		Delegation: delegation.NewEngine(nil, delegation.NewDetectedStore()),
		Reconciler: reconcile.NewEngine(),
		Queue:      proposal.NewQueue(st),
		Store:      st,
	})
	return p, st
}

func TestPipeline_FullFlow(t *testing.T) {
	ctx := context.Background()
	fetcher := &scriptedFetcher{text: map[string]string{
		"https://aetna.example.com/coverage": "Coverage Policy\n\n" + coverageQuote + ". Prior authorization is required.",
	}}
	ex := signateraExtractor()
	p, st := newTestPipeline(t, singleTargetYAML, fetcher, ex)

	run, err := p.Run(ctx, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, run.Stats.TargetsCrawled)
	assert.Equal(t, 0, run.Stats.TargetsFailed)
	assert.Equal(t, 1, run.Stats.ArtifactsCreated)
	assert.Equal(t, 1, run.Stats.ProposalsEmitted)

	// The artifact was snapshotted and the cited quote anchored to it.
	artifacts, err := st.ListArtifacts(ctx, store.ArtifactFilter{PayerID: "payer-aetna"})
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	require.Len(t, artifacts[0].Anchors, 1)
	assert.Equal(t, coverageQuote, artifacts[0].Anchors[0].Quote)
	assert.Equal(t, "Coverage Policy", artifacts[0].Anchors[0].Heading)

	// The assertion landed and reconciliation produced a determination.
	assertions, err := st.ListAssertions(ctx, store.AssertionFilter{PayerID: "payer-aetna", TestID: "signatera"})
	require.NoError(t, err)
	require.Len(t, assertions, 1)
	assert.Equal(t, artifacts[0].ArtifactID, assertions[0].SourceDocumentID)

	det, err := st.GetDetermination(ctx, "payer-aetna", "signatera")
	require.NoError(t, err)
	require.NotNil(t, det)
	assert.Equal(t, model.StatusSupports, det.Status)
	assert.Equal(t, model.LayerUMCriteria, det.SourceLayer)
	assert.Equal(t, "II", det.Criteria.Stage)

	// The change was staged for review, not silently applied.
	proposals, err := st.ListProposals(ctx, store.ProposalFilter{Status: model.ProposalPending})
	require.NoError(t, err)
	require.Len(t, proposals, 1)
	assert.Equal(t, model.ProposalCoverageAssertion, proposals[0].Type)
	assert.Equal(t, "payer-aetna", proposals[0].Payload["payer_id"])
	assert.Equal(t, "signatera", proposals[0].Payload["test_id"])
	assert.Equal(t, artifacts[0].ArtifactID, proposals[0].Evidence.ArtifactID)
	assert.Contains(t, proposals[0].Evidence.Quotes, coverageQuote)

	// The run record carries the final stats.
	persisted, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.Stats, persisted.Stats)
	assert.NotNil(t, persisted.FinishedAt)
}

func TestPipeline_UnchangedCrawlIsNoOp(t *testing.T) {
	ctx := context.Background()
	fetcher := &scriptedFetcher{text: map[string]string{
		"https://aetna.example.com/coverage": "Coverage Policy\n\n" + coverageQuote + ".",
	}}
	ex := signateraExtractor()
	p, st := newTestPipeline(t, singleTargetYAML, fetcher, ex)

	_, err := p.Run(ctx, RunOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, ex.callCount())

	run2, err := p.Run(ctx, RunOptions{})
	require.NoError(t, err)

	// Same content hash: no new artifact, extraction skipped entirely.
	assert.Equal(t, 0, run2.Stats.ArtifactsCreated)
	assert.Equal(t, 1, run2.Stats.Unchanged)
	assert.Equal(t, 0, run2.Stats.ProposalsEmitted)
	assert.Equal(t, 1, ex.callCount())

	artifacts, err := st.ListArtifacts(ctx, store.ArtifactFilter{PayerID: "payer-aetna"})
	require.NoError(t, err)
	assert.Len(t, artifacts, 1)

	proposals, err := st.ListProposals(ctx, store.ProposalFilter{})
	require.NoError(t, err)
	assert.Len(t, proposals, 1)
}

func TestPipeline_ChangedContentCreatesNewArtifactAndProposal(t *testing.T) {
	ctx := context.Background()
	fetcher := &scriptedFetcher{text: map[string]string{
		"https://aetna.example.com/coverage": "Coverage Policy\n\n" + coverageQuote + ".",
	}}
	deniesQuote := "Signatera is considered investigational for all indications"
	first := true
	ex := extractorOf(func(req extraction.Request) []model.CoverageAssertion {
		a := model.CoverageAssertion{
			PayerID:          req.PayerID,
			TestID:           "signatera",
			Layer:            model.LayerUMCriteria,
			Status:           model.StatusSupports,
			SourceDocumentID: req.ArtifactID,
			Confidence:       0.9,
		}
		if !first {
			a.Status = model.StatusDenies
			a.Quotes = []string{deniesQuote}
		}
		return []model.CoverageAssertion{a}
	})
	p, st := newTestPipeline(t, singleTargetYAML, fetcher, ex)

	_, err := p.Run(ctx, RunOptions{})
	require.NoError(t, err)

	first = false
	fetcher.mu.Lock()
	fetcher.text["https://aetna.example.com/coverage"] = "Coverage Policy\n\n" + deniesQuote + "."
	fetcher.mu.Unlock()

	run2, err := p.Run(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, run2.Stats.ArtifactsCreated)
	assert.Equal(t, 1, run2.Stats.ProposalsEmitted)

	artifacts, err := st.ListArtifacts(ctx, store.ArtifactFilter{PayerID: "payer-aetna"})
	require.NoError(t, err)
	assert.Len(t, artifacts, 2)

	// Most recent assertion wins within the same layer.
	det, err := st.GetDetermination(ctx, "payer-aetna", "signatera")
	require.NoError(t, err)
	require.NotNil(t, det)
	assert.Equal(t, model.StatusDenies, det.Status)
}

func TestPipeline_DryRunPersistsNothing(t *testing.T) {
	ctx := context.Background()
	fetcher := &scriptedFetcher{text: map[string]string{
		"https://aetna.example.com/coverage": "Coverage Policy\n\n" + coverageQuote + ".",
	}}
	ex := signateraExtractor()
	p, st := newTestPipeline(t, singleTargetYAML, fetcher, ex)

	run, err := p.Run(ctx, RunOptions{DryRun: true})
	require.NoError(t, err)
	assert.True(t, run.DryRun)

	// Extraction is still exercised so a dry run validates the whole path.
	assert.Equal(t, 1, ex.callCount())

	artifacts, err := st.ListArtifacts(ctx, store.ArtifactFilter{})
	require.NoError(t, err)
	assert.Empty(t, artifacts)

	assertions, err := st.ListAssertions(ctx, store.AssertionFilter{})
	require.NoError(t, err)
	assert.Empty(t, assertions)

	proposals, err := st.ListProposals(ctx, store.ProposalFilter{})
	require.NoError(t, err)
	assert.Empty(t, proposals)

	runs, err := st.ListRuns(ctx, store.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestPipeline_ExtractionErrorIsIsolated(t *testing.T) {
	ctx := context.Background()
	fetcher := &scriptedFetcher{text: map[string]string{
		"https://aetna.example.com/coverage": "Coverage Policy text.",
	}}
	ex := &fakeExtractor{fn: func(extraction.Request) (*extraction.Result, error) {
		return nil, eris.New("extraction: model unavailable")
	}}
	p, st := newTestPipeline(t, singleTargetYAML, fetcher, ex)

	run, err := p.Run(ctx, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, run.Stats.ExtractionErrors)
	assert.Equal(t, 0, run.Stats.ProposalsEmitted)
	// The artifact was still snapshotted before extraction failed.
	assert.Equal(t, 1, run.Stats.ArtifactsCreated)

	persisted, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, persisted.Stats.ExtractionErrors)
	assert.NotNil(t, persisted.FinishedAt)
}

func TestPipeline_FailedTargetIsCountedNotFatal(t *testing.T) {
	ctx := context.Background()
	// No URLs scripted: every fetch 404s.
	fetcher := &scriptedFetcher{text: map[string]string{}}
	ex := emptyExtractor()
	p, _ := newTestPipeline(t, singleTargetYAML, fetcher, ex)

	run, err := p.Run(ctx, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, run.Stats.TargetsCrawled)
	assert.Equal(t, 1, run.Stats.TargetsFailed)
	assert.Equal(t, 1, run.Stats.URLsFailed)
	assert.Equal(t, 0, ex.callCount())
}

func TestPipeline_DelegationDetectionStagesProposal(t *testing.T) {
	ctx := context.Background()
	fetcher := &scriptedFetcher{text: map[string]string{
		"https://aetna.example.com/coverage": "Prior authorization requests for molecular testing " +
			"must be submitted through eviCore healthcare before services are rendered.",
	}}
	ex := emptyExtractor()
	p, st := newTestPipeline(t, singleTargetYAML, fetcher, ex)

	run, err := p.Run(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, run.Stats.ProposalsEmitted)

	proposals, err := st.ListProposals(ctx, store.ProposalFilter{Type: model.ProposalDelegationUpdate})
	require.NoError(t, err)
	require.Len(t, proposals, 1)
	assert.Equal(t, "payer-aetna", proposals[0].Payload["payer_id"])
	assert.Equal(t, "lbm-evicore", proposals[0].Payload["delegates_to"])
	assert.NotEmpty(t, proposals[0].Evidence.Quotes)
	assert.Equal(t, "https://aetna.example.com/coverage", proposals[0].Evidence.SourceURL)

	// The detection also lands in the runtime store for status queries.
	status := p.delegation.Status("payer-aetna", "")
	require.NotNil(t, status)
	assert.Equal(t, "lbm-evicore", status.Fact.DelegatesTo)
}

func TestPipeline_ConfirmedDelegationIsNotReProposed(t *testing.T) {
	ctx := context.Background()
	fetcher := &scriptedFetcher{text: map[string]string{
		"https://aetna.example.com/coverage": "Laboratory services are managed by eviCore healthcare.",
	}}
	ex := emptyExtractor()
	p, st := newTestPipeline(t, singleTargetYAML, fetcher, ex)

	seed := map[string]model.DelegationFact{
		"payer-aetna": {
			PayerID:       "payer-aetna",
			DelegatesTo:   "lbm-evicore",
			EvidenceLevel: model.EvidenceConfirmed,
			LastVerified:  time.Now().UTC(),
		},
	}
	p.delegation = delegation.NewEngine(seed, delegation.NewDetectedStore())

	run, err := p.Run(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, run.Stats.ProposalsEmitted)

	proposals, err := st.ListProposals(ctx, store.ProposalFilter{Type: model.ProposalDelegationUpdate})
	require.NoError(t, err)
	assert.Empty(t, proposals)
}

func TestPipeline_NoTargetsSelectedIsAnError(t *testing.T) {
	fetcher := &scriptedFetcher{text: map[string]string{}}
	p, _ := newTestPipeline(t, singleTargetYAML, fetcher, emptyExtractor())

	_, err := p.Run(context.Background(), RunOptions{PayerID: "payer-unknown"})
	require.Error(t, err)

	_, err = p.Run(context.Background(), RunOptions{Tier: 3})
	require.Error(t, err)
}

func TestPipeline_TierAndPayerFilters(t *testing.T) {
	ctx := context.Background()
	yaml := `
targets:
  - payer_id: payer-aetna
    tier: 1
    urls_by_page_type:
      coverage:
        - https://aetna.example.com/coverage
  - payer_id: payer-uhc
    tier: 2
    urls_by_page_type:
      coverage:
        - https://uhc.example.com/coverage
`
	fetcher := &scriptedFetcher{text: map[string]string{
		"https://aetna.example.com/coverage": "aetna text",
		"https://uhc.example.com/coverage":   "uhc text",
	}}
	ex := emptyExtractor()
	p, _ := newTestPipeline(t, yaml, fetcher, ex)

	run, err := p.Run(ctx, RunOptions{Tier: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, run.Stats.TargetsCrawled)

	run, err = p.Run(ctx, RunOptions{PayerID: "payer-aetna"})
	require.NoError(t, err)
	assert.Equal(t, 1, run.Stats.TargetsCrawled)
}
