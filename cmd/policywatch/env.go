package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/openonco/policywatch/internal/artifact"
	"github.com/openonco/policywatch/internal/crawler"
	"github.com/openonco/policywatch/internal/delegation"
	"github.com/openonco/policywatch/internal/extraction"
	"github.com/openonco/policywatch/internal/fetch"
	"github.com/openonco/policywatch/internal/model"
	"github.com/openonco/policywatch/internal/pipeline"
	"github.com/openonco/policywatch/internal/proposal"
	"github.com/openonco/policywatch/internal/reconcile"
	"github.com/openonco/policywatch/internal/registry"
	"github.com/openonco/policywatch/internal/store"
	anthropicpkg "github.com/openonco/policywatch/pkg/anthropic"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "policywatch.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initQueue builds the proposal queue with the apply actions bound. Applying
// is the only path by which a reviewed change reaches the authoritative
// stores.
func initQueue(st store.Store) *proposal.Queue {
	q := proposal.NewQueue(st)
	q.RegisterApplier(model.ProposalDelegationUpdate, applyDelegationUpdate(st))
	q.RegisterApplier(model.ProposalCoverageAssertion, applyCoverageAssertion(st))
	return q
}

// decodePayload round-trips the stored payload map into a typed struct.
func decodePayload(payload map[string]any, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "marshal proposal payload")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return eris.Wrap(err, "decode proposal payload")
	}
	return nil
}

func applyDelegationUpdate(st store.Store) proposal.ApplyFunc {
	return func(ctx context.Context, p model.Proposal) error {
		var payload struct {
			PayerID     string `json:"payer_id"`
			DelegatesTo string `json:"delegates_to"`
		}
		if err := decodePayload(p.Payload, &payload); err != nil {
			return err
		}

		// Human approval upgrades the evidence level to confirmed.
		fact := model.DelegationFact{
			PayerID:       payload.PayerID,
			DelegatesTo:   payload.DelegatesTo,
			Scope:         "laboratory_benefit_management",
			EvidenceLevel: model.EvidenceConfirmed,
			Evidence: model.DelegationEvidence{
				SourceURL:          p.Evidence.SourceURL,
				Quotes:             p.Evidence.Quotes,
				DetectedAt:         p.CreatedAt,
				VerificationMethod: "human_review",
			},
			LastVerified: time.Now().UTC(),
		}
		return st.UpsertDelegationFact(ctx, fact)
	}
}

func applyCoverageAssertion(st store.Store) proposal.ApplyFunc {
	return func(ctx context.Context, p model.Proposal) error {
		var payload struct {
			PayerID  string                `json:"payer_id"`
			TestID   string                `json:"test_id"`
			Layer    model.Layer           `json:"layer"`
			Status   model.AssertionStatus `json:"status"`
			Criteria model.Criteria        `json:"criteria"`
		}
		if err := decodePayload(p.Payload, &payload); err != nil {
			return err
		}

		det := model.Determination{
			PayerID:     payload.PayerID,
			TestID:      payload.TestID,
			Status:      payload.Status,
			SourceLayer: payload.Layer,
			Criteria:    payload.Criteria,
			Confidence:  1.0,
			Changelog: []model.ChangelogEntry{{
				Layer:            payload.Layer,
				Status:           payload.Status,
				SourceDocumentID: p.Evidence.ArtifactID,
				Operative:        true,
			}},
			ReconciledAt: time.Now().UTC(),
		}
		return st.PutDetermination(ctx, det)
	}
}

// buildDelegationEngine layers persisted facts over the curated seed file.
// A fact written by an applied proposal outranks the seed for its payer.
func buildDelegationEngine(ctx context.Context, st store.Store) (*delegation.Engine, error) {
	seed, err := registry.LoadDelegationSeed(cfg.Registry.DelegationSeedPath)
	if err != nil {
		return nil, err
	}

	facts, err := st.ListDelegationFacts(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "list delegation facts")
	}
	for _, f := range facts {
		seed[f.PayerID] = f
	}

	return delegation.NewEngine(seed, delegation.NewDetectedStore(),
		delegation.WithVerificationWindow(time.Duration(cfg.Delegation.VerificationWindowDays)*24*time.Hour),
		delegation.WithConfirmThreshold(cfg.Delegation.ConfirmThreshold),
	), nil
}

// pipelineEnv bundles everything a crawl run needs, with one Close.
type pipelineEnv struct {
	Store    store.Store
	Queue    *proposal.Queue
	Pipeline *pipeline.Pipeline
	Batch    *extraction.BatchExtractor
}

func (e *pipelineEnv) Close() {
	_ = e.Store.Close()
}

func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	if err := cfg.Validate("crawl"); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	reg, err := registry.LoadTargets(cfg.Registry.TargetsPath)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	eng, err := buildDelegationEngine(ctx, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
	claude := extraction.NewClaudeExtractor(anthropicClient,
		extraction.WithModel(cfg.Anthropic.Model))

	rendered := fetch.NewRenderedFetcher(
		fetch.WithTimeout(cfg.Crawl.FetchTimeout()),
		fetch.WithSettleDelay(cfg.Crawl.SettleDelay()))
	legacy := fetch.NewLegacyFetcher(
		fetch.WithLegacyTimeout(cfg.Crawl.FetchTimeout()))

	c := crawler.New(rendered, legacy,
		crawler.WithConcurrency(cfg.Crawl.Concurrency),
		crawler.WithPoliteness(cfg.Crawl.Politeness()),
		crawler.WithMaxRetries(cfg.Crawl.MaxRetries),
		crawler.WithBackoffBase(cfg.Crawl.BackoffBase()))

	queue := initQueue(st)

	p := pipeline.New(pipeline.Deps{
		Registry:   reg,
		Crawler:    c,
		Artifacts:  artifact.NewWriter(st),
		Extractor:  claude,
		Delegation: eng,
		Reconciler: reconcile.NewEngine(),
		Queue:      queue,
		Store:      st,
	})

	zap.L().Info("pipeline initialized",
		zap.Int("targets", len(reg.Targets())),
		zap.Int("tests", len(reg.TestCatalog())),
		zap.String("store", cfg.Store.Driver))

	return &pipelineEnv{
		Store:    st,
		Queue:    queue,
		Pipeline: p,
		Batch:    extraction.NewBatchExtractor(claude),
	}, nil
}
