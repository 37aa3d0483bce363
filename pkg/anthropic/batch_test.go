package anthropic

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pollClient scripts a sequence of batch statuses for PollBatch.
type pollClient struct {
	statuses []string
	calls    int
	err      error
}

func (c *pollClient) CreateMessage(context.Context, MessageRequest) (*MessageResponse, error) {
	return nil, eris.New("not implemented")
}

func (c *pollClient) CreateBatch(context.Context, BatchRequest) (*BatchResponse, error) {
	return nil, eris.New("not implemented")
}

func (c *pollClient) GetBatch(_ context.Context, batchID string) (*BatchResponse, error) {
	if c.err != nil {
		return nil, c.err
	}
	status := c.statuses[len(c.statuses)-1]
	if c.calls < len(c.statuses) {
		status = c.statuses[c.calls]
	}
	c.calls++
	return &BatchResponse{ID: batchID, ProcessingStatus: status}, nil
}

func (c *pollClient) GetBatchResults(context.Context, string) (BatchResultIterator, error) {
	return nil, eris.New("not implemented")
}

func fastPoll() []PollOption {
	return []PollOption{
		WithPollInterval(time.Millisecond),
		WithPollCap(2 * time.Millisecond),
		WithPollTimeout(time.Second),
	}
}

func TestPollBatch_EndsAfterProgress(t *testing.T) {
	c := &pollClient{statuses: []string{"in_progress", "in_progress", "ended"}}

	batch, err := PollBatch(context.Background(), c, "batch-1", fastPoll()...)
	require.NoError(t, err)
	assert.Equal(t, "ended", batch.ProcessingStatus)
	assert.Equal(t, 3, c.calls)
}

func TestPollBatch_ExpiredIsError(t *testing.T) {
	c := &pollClient{statuses: []string{"expired"}}

	_, err := PollBatch(context.Background(), c, "batch-1", fastPoll()...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}

func TestPollBatch_CanceledIsError(t *testing.T) {
	c := &pollClient{statuses: []string{"canceling"}}

	_, err := PollBatch(context.Background(), c, "batch-1", fastPoll()...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "canceled")
}

func TestPollBatch_TimesOut(t *testing.T) {
	c := &pollClient{statuses: []string{"in_progress"}}

	_, err := PollBatch(context.Background(), c, "batch-1",
		WithPollInterval(5*time.Millisecond),
		WithPollTimeout(time.Millisecond))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestPollBatch_GetBatchErrorPropagates(t *testing.T) {
	c := &pollClient{err: eris.New("api down")}

	_, err := PollBatch(context.Background(), c, "batch-1", fastPoll()...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poll batch batch-1")
}

// fakeIterator replays a fixed result list.
type fakeIterator struct {
	items  []BatchResultItem
	pos    int
	err    error
	closed bool
}

func (it *fakeIterator) Next() bool {
	if it.err != nil || it.pos >= len(it.items) {
		return false
	}
	it.pos++
	return true
}

func (it *fakeIterator) Item() BatchResultItem { return it.items[it.pos-1] }
func (it *fakeIterator) Err() error            { return it.err }
func (it *fakeIterator) Close() error          { it.closed = true; return nil }

func TestCollectBatchResults(t *testing.T) {
	iter := &fakeIterator{items: []BatchResultItem{
		{CustomID: "artifact-a", Type: "succeeded", Message: &MessageResponse{ID: "msg-a"}},
		{CustomID: "artifact-b", Type: "errored"},
		{CustomID: "artifact-c", Type: "succeeded", Message: &MessageResponse{ID: "msg-c"}},
	}}

	results, err := CollectBatchResults(iter)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "msg-a", results["artifact-a"].ID)
	assert.Equal(t, "msg-c", results["artifact-c"].ID)
	assert.True(t, iter.closed)
}

func TestCollectBatchResultsDetailed_TracksFailures(t *testing.T) {
	iter := &fakeIterator{items: []BatchResultItem{
		{CustomID: "artifact-a", Type: "succeeded", Message: &MessageResponse{ID: "msg-a"}},
		{CustomID: "artifact-b", Type: "errored"},
		{CustomID: "artifact-c", Type: "expired"},
	}}

	result, err := CollectBatchResultsDetailed(iter)
	require.NoError(t, err)
	assert.Len(t, result.Succeeded, 1)
	require.Len(t, result.Failures, 2)
	assert.Equal(t, "artifact-b", result.Failures[0].CustomID)
	assert.Equal(t, "errored", result.Failures[0].Type)
	assert.Equal(t, "expired", result.Failures[1].Type)
}

func TestCollectBatchResults_IteratorError(t *testing.T) {
	iter := &fakeIterator{err: eris.New("stream truncated")}

	_, err := CollectBatchResults(iter)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collect batch results")
}
