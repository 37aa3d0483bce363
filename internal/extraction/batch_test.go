package extraction

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openonco/policywatch/pkg/anthropic"
)

// fakeBatchClient scripts the full batch round trip: primer, submit, poll,
// results. Responses are keyed by custom id; the primer gets primerResponse.
type fakeBatchClient struct {
	primerResponse string
	responses      map[string]string

	messageCalls int
	batchCreated *anthropic.BatchRequest
	pollsLeft    int
}

func (f *fakeBatchClient) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.messageCalls++
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: f.primerResponse}},
	}, nil
}

func (f *fakeBatchClient) CreateBatch(_ context.Context, req anthropic.BatchRequest) (*anthropic.BatchResponse, error) {
	f.batchCreated = &req
	return &anthropic.BatchResponse{ID: "batch-1", ProcessingStatus: "in_progress"}, nil
}

func (f *fakeBatchClient) GetBatch(_ context.Context, batchID string) (*anthropic.BatchResponse, error) {
	if f.pollsLeft > 0 {
		f.pollsLeft--
		return &anthropic.BatchResponse{ID: batchID, ProcessingStatus: "in_progress"}, nil
	}
	return &anthropic.BatchResponse{ID: batchID, ProcessingStatus: "ended"}, nil
}

func (f *fakeBatchClient) GetBatchResults(context.Context, string) (anthropic.BatchResultIterator, error) {
	var items []anthropic.BatchResultItem
	for id, text := range f.responses {
		items = append(items, anthropic.BatchResultItem{
			CustomID: id,
			Type:     "succeeded",
			Message: &anthropic.MessageResponse{
				Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
			},
		})
	}
	return &sliceIterator{items: items}, nil
}

type sliceIterator struct {
	items []anthropic.BatchResultItem
	pos   int
}

func (it *sliceIterator) Next() bool {
	if it.pos >= len(it.items) {
		return false
	}
	it.pos++
	return true
}

func (it *sliceIterator) Item() anthropic.BatchResultItem { return it.items[it.pos-1] }
func (it *sliceIterator) Err() error                      { return nil }
func (it *sliceIterator) Close() error                    { return nil }

func supportsJSON(testID string) string {
	return fmt.Sprintf(`{"assertions": [{"test_id": %q, "layer": "policy_stance", "status": "supports", "confidence": 0.8}]}`, testID)
}

func batchRequests(n int) []Request {
	reqs := make([]Request, n)
	for i := range reqs {
		reqs[i] = Request{
			PayerID:     fmt.Sprintf("payer-%d", i),
			ArtifactID:  fmt.Sprintf("art-%d", i),
			Content:     "policy text",
			TestCatalog: []string{"signatera"},
		}
	}
	return reqs
}

func TestBatchExtractor_SmallWorkloadGoesDirect(t *testing.T) {
	fc := &fakeClient{response: supportsJSON("signatera")}
	b := NewBatchExtractor(NewClaudeExtractor(fc))

	results, err := b.ExtractAll(context.Background(), batchRequests(2))
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, br := range results {
		require.NoError(t, br.Err)
		assert.Len(t, br.Result.Assertions, 1)
	}
}

func TestBatchExtractor_LargeWorkloadUsesBatchAPI(t *testing.T) {
	fc := &fakeBatchClient{
		primerResponse: supportsJSON("signatera"),
		responses: map[string]string{
			"art-1": supportsJSON("signatera"),
			"art-2": supportsJSON("signatera"),
			"art-3": `{"assertions": []}`,
		},
		pollsLeft: 2,
	}
	b := NewBatchExtractor(NewClaudeExtractor(fc),
		WithPollInterval(time.Millisecond),
		WithPollTimeout(time.Second))

	results, err := b.ExtractAll(context.Background(), batchRequests(4))
	require.NoError(t, err)
	require.Len(t, results, 4)

	// One primer call; the rest rode the batch.
	assert.Equal(t, 1, fc.messageCalls)
	require.NotNil(t, fc.batchCreated)
	assert.Len(t, fc.batchCreated.Requests, 3)

	require.NoError(t, results[0].Err)
	assert.Len(t, results[0].Result.Assertions, 1)
	require.NoError(t, results[3].Err)
	assert.Empty(t, results[3].Result.Assertions)
}

func TestBatchExtractor_MissingBatchItemIsPerItemError(t *testing.T) {
	fc := &fakeBatchClient{
		primerResponse: supportsJSON("signatera"),
		responses: map[string]string{
			"art-1": supportsJSON("signatera"),
			// art-2 and art-3 never come back.
		},
	}
	b := NewBatchExtractor(NewClaudeExtractor(fc), WithPollInterval(time.Millisecond))

	results, err := b.ExtractAll(context.Background(), batchRequests(4))
	require.NoError(t, err)

	require.NoError(t, results[1].Err)
	assert.Error(t, results[2].Err)
	assert.Error(t, results[3].Err)
}

func TestBatchExtractor_EmptyInput(t *testing.T) {
	b := NewBatchExtractor(NewClaudeExtractor(&fakeClient{}))
	results, err := b.ExtractAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBatchExtractor_DirectErrorIsPerItem(t *testing.T) {
	fc := &fakeClient{err: eris.New("api down")}
	b := NewBatchExtractor(NewClaudeExtractor(fc))

	results, err := b.ExtractAll(context.Background(), batchRequests(1))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
}
