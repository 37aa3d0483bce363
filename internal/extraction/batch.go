package extraction

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/openonco/policywatch/pkg/anthropic"
)

// minBatchSize is the smallest workload worth the Batch API's latency.
// Below it, sequential direct calls finish faster.
const minBatchSize = 4

// BatchResult pairs one request with its outcome. Per-item failures are
// recorded here, not returned as an error: one bad artifact never sinks a
// backfill.
type BatchResult struct {
	Request Request
	Result  *Result
	Err     error
}

// BatchExtractor re-extracts many artifacts in one Batch API round trip at
// half price, warming the prompt cache with a primer request first.
type BatchExtractor struct {
	*ClaudeExtractor
	pollInterval time.Duration
	pollTimeout  time.Duration
}

// BatchOption configures a BatchExtractor.
type BatchOption func(*BatchExtractor)

// WithPollInterval overrides the initial batch poll interval.
func WithPollInterval(d time.Duration) BatchOption {
	return func(b *BatchExtractor) { b.pollInterval = d }
}

// WithPollTimeout overrides the batch poll timeout.
func WithPollTimeout(d time.Duration) BatchOption {
	return func(b *BatchExtractor) { b.pollTimeout = d }
}

// NewBatchExtractor creates a batch extractor sharing the direct
// extractor's client, model, and parsing.
func NewBatchExtractor(e *ClaudeExtractor, opts ...BatchOption) *BatchExtractor {
	b := &BatchExtractor{
		ClaudeExtractor: e,
		pollInterval:    2 * time.Second,
		pollTimeout:     30 * time.Minute,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ExtractAll processes every request and returns one result per request, in
// input order. Small workloads go through sequential direct calls; larger
// ones through the Batch API.
func (b *BatchExtractor) ExtractAll(ctx context.Context, reqs []Request) ([]BatchResult, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	if len(reqs) < minBatchSize {
		return b.extractSequential(ctx, reqs), nil
	}
	return b.extractBatch(ctx, reqs)
}

func (b *BatchExtractor) extractSequential(ctx context.Context, reqs []Request) []BatchResult {
	out := make([]BatchResult, len(reqs))
	for i, req := range reqs {
		res, err := b.Extract(ctx, req)
		out[i] = BatchResult{Request: req, Result: res, Err: err}
	}
	return out
}

func (b *BatchExtractor) extractBatch(ctx context.Context, reqs []Request) ([]BatchResult, error) {
	system := anthropic.BuildCachedSystemBlocks(systemPrompt)
	temp := 0.0

	buildReq := func(req Request) anthropic.MessageRequest {
		content := req.Content
		if len(content) > maxContentChars {
			content = content[:maxContentChars]
		}
		return anthropic.MessageRequest{
			Model:       b.model,
			MaxTokens:   4096,
			Temperature: &temp,
			System:      system,
			Messages: []anthropic.Message{
				{Role: "user", Content: buildUserPrompt(req.PayerID, req.TestCatalog, content)},
			},
		}
	}

	// Prime the cache with the first request, then batch the rest against
	// the warm prompt. The primer's answer counts like any other.
	out := make([]BatchResult, len(reqs))
	primerResp, err := anthropic.PrimerRequest(ctx, b.client, buildReq(reqs[0]))
	if err != nil {
		return nil, eris.Wrap(err, "extraction: batch primer")
	}
	primerResp.Usage.LogCost(b.model, "batch_primer")
	out[0] = b.parseBatchItem(reqs[0], primerResp)

	items := make([]anthropic.BatchRequestItem, 0, len(reqs)-1)
	for _, req := range reqs[1:] {
		items = append(items, anthropic.BatchRequestItem{
			CustomID: req.ArtifactID,
			Params:   buildReq(req),
		})
	}

	batch, err := b.client.CreateBatch(ctx, anthropic.BatchRequest{Requests: items})
	if err != nil {
		return nil, eris.Wrap(err, "extraction: create batch")
	}
	b.log.Info("extraction batch submitted",
		zap.String("batch_id", batch.ID),
		zap.Int("items", len(items)))

	batch, err = anthropic.PollBatch(ctx, b.client, batch.ID,
		anthropic.WithPollInterval(b.pollInterval),
		anthropic.WithPollTimeout(b.pollTimeout))
	if err != nil {
		return nil, eris.Wrap(err, "extraction: poll batch")
	}

	iter, err := b.client.GetBatchResults(ctx, batch.ID)
	if err != nil {
		return nil, eris.Wrap(err, "extraction: get batch results")
	}
	results, err := anthropic.CollectBatchResults(iter)
	if err != nil {
		return nil, eris.Wrap(err, "extraction: collect batch results")
	}

	for i, req := range reqs[1:] {
		resp, ok := results[req.ArtifactID]
		if !ok {
			out[i+1] = BatchResult{Request: req,
				Err: eris.Errorf("extraction: no batch result for artifact %s", req.ArtifactID)}
			continue
		}
		out[i+1] = b.parseBatchItem(req, resp)
	}
	return out, nil
}

func (b *BatchExtractor) parseBatchItem(req Request, resp *anthropic.MessageResponse) BatchResult {
	var raw rawResponse
	if err := json.Unmarshal([]byte(cleanJSON(extractText(resp))), &raw); err != nil {
		return BatchResult{Request: req,
			Err: eris.Wrapf(err, "extraction: parse response for artifact %s", req.ArtifactID)}
	}
	return BatchResult{Request: req, Result: b.toResult(req, raw)}
}
