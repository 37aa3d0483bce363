package proposal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openonco/policywatch/internal/model"
	"github.com/openonco/policywatch/internal/store"
)

func newTestQueue(t *testing.T) (*Queue, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return NewQueue(st), st
}

func coveragePayload() map[string]any {
	return map[string]any{
		"payer_id": "payer-aetna",
		"test_id":  "signatera",
		"layer":    "um_criteria",
		"status":   "conditional",
	}
}

func TestNewID_TypePrefixedAndTimeOrdered(t *testing.T) {
	t1 := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 8, 27, 11, 0, 0, 0, time.UTC)

	id1 := NewID(model.ProposalCoverageAssertion, t1)
	id2 := NewID(model.ProposalCoverageAssertion, t2)

	assert.Contains(t, id1, "coverage_assertion-20260827T100000Z-")
	assert.Less(t, id1[:len("coverage_assertion-20260827T100000Z")], id2[:len("coverage_assertion-20260827T110000Z")])
}

func TestQueue_SubmitValidProposal(t *testing.T) {
	q, _ := newTestQueue(t)

	p, err := q.Submit(context.Background(), model.ProposalCoverageAssertion, coveragePayload(),
		model.ProposalEvidence{ArtifactID: "art-1", Quotes: []string{"is covered"}})
	require.NoError(t, err)
	assert.Equal(t, model.ProposalPending, p.Status)

	got, err := q.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "payer-aetna", got.Payload["payer_id"])
}

func TestQueue_SubmitRejectsInvalidPayload(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Submit(ctx, model.ProposalCoverageAssertion, map[string]any{"payer_id": "p"}, model.ProposalEvidence{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")

	_, err = q.Submit(ctx, model.ProposalDelegationUpdate, map[string]any{"payer_id": "p", "delegates_to": ""}, model.ProposalEvidence{})
	require.Error(t, err)

	_, err = q.Submit(ctx, model.ProposalType("bogus"), map[string]any{}, model.ProposalEvidence{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown type")

	// Nothing was admitted.
	all, err := q.List(ctx, store.ProposalFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestQueue_ApproveThenApply(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	applied := false
	q.RegisterApplier(model.ProposalCoverageAssertion, func(ctx context.Context, p model.Proposal) error {
		applied = true
		return nil
	})

	p, err := q.Submit(ctx, model.ProposalCoverageAssertion, coveragePayload(), model.ProposalEvidence{})
	require.NoError(t, err)

	approved, err := q.Approve(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProposalApproved, approved.Status)
	require.NotNil(t, approved.ReviewedAt)

	done, err := q.Apply(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProposalApplied, done.Status)
	require.NotNil(t, done.AppliedAt)
	assert.True(t, applied)
}

func TestQueue_RejectIsTerminal(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	p, err := q.Submit(ctx, model.ProposalCoverageAssertion, coveragePayload(), model.ProposalEvidence{})
	require.NoError(t, err)

	rejected, err := q.Reject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProposalRejected, rejected.Status)

	_, err = q.Approve(ctx, p.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid transition")

	// The rejected record stays on file.
	got, err := q.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProposalRejected, got.Status)
}

func TestQueue_ApplyRequiresApproval(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	q.RegisterApplier(model.ProposalCoverageAssertion, func(context.Context, model.Proposal) error { return nil })

	p, err := q.Submit(ctx, model.ProposalCoverageAssertion, coveragePayload(), model.ProposalEvidence{})
	require.NoError(t, err)

	_, err = q.Apply(ctx, p.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot apply")
}

func TestQueue_ApplyWithoutApplierFails(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	p, err := q.Submit(ctx, model.ProposalDelegationUpdate,
		map[string]any{"payer_id": "p", "delegates_to": "lbm-evicore"}, model.ProposalEvidence{})
	require.NoError(t, err)
	_, err = q.Approve(ctx, p.ID)
	require.NoError(t, err)

	_, err = q.Apply(ctx, p.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no applier")
}

func TestQueue_ApplierErrorLeavesStatusApproved(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	q.RegisterApplier(model.ProposalCoverageAssertion, func(context.Context, model.Proposal) error {
		return eris.New("downstream unavailable")
	})

	p, err := q.Submit(ctx, model.ProposalCoverageAssertion, coveragePayload(), model.ProposalEvidence{})
	require.NoError(t, err)
	_, err = q.Approve(ctx, p.ID)
	require.NoError(t, err)

	_, err = q.Apply(ctx, p.ID)
	require.Error(t, err)

	got, err := q.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProposalApproved, got.Status)
	assert.Nil(t, got.AppliedAt)
}

func TestQueue_DoubleApplyFails(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	q.RegisterApplier(model.ProposalCoverageAssertion, func(context.Context, model.Proposal) error { return nil })

	p, err := q.Submit(ctx, model.ProposalCoverageAssertion, coveragePayload(), model.ProposalEvidence{})
	require.NoError(t, err)
	_, err = q.Approve(ctx, p.ID)
	require.NoError(t, err)
	_, err = q.Apply(ctx, p.ID)
	require.NoError(t, err)

	_, err = q.Apply(ctx, p.ID)
	require.Error(t, err)
}
