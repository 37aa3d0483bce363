// Package proposal stages machine-detected changes for human review. The
// queue is append-only: rejected proposals stay on file, and a proposal's
// status only moves along pending → approved → applied or pending → rejected.
package proposal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/openonco/policywatch/internal/model"
	"github.com/openonco/policywatch/internal/store"
)

// ApplyFunc executes an approved proposal's change against the system of
// record. Registered per proposal type.
type ApplyFunc func(ctx context.Context, p model.Proposal) error

// Queue validates, persists, and transitions proposals.
type Queue struct {
	store    store.Store
	appliers map[model.ProposalType]ApplyFunc
	now      func() time.Time
	log      *zap.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// NewQueue creates a proposal queue over the given store.
func NewQueue(st store.Store, opts ...Option) *Queue {
	q := &Queue{
		store:    st,
		appliers: make(map[model.ProposalType]ApplyFunc),
		now:      time.Now,
		log:      zap.L().Named("proposal"),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// RegisterApplier binds the apply action for one proposal type.
func (q *Queue) RegisterApplier(t model.ProposalType, fn ApplyFunc) {
	q.appliers[t] = fn
}

// NewID builds a type-prefixed, time-ordered proposal id. Lexicographic
// order within a type is chronological.
func NewID(t model.ProposalType, now time.Time) string {
	return fmt.Sprintf("%s-%s-%s", t, now.UTC().Format("20060102T150405Z"), uuid.New().String()[:8])
}

// Submit validates a proposal payload and appends it to the queue as
// pending. Invalid payloads are refused before admission.
func (q *Queue) Submit(ctx context.Context, t model.ProposalType, payload map[string]any, evidence model.ProposalEvidence) (*model.Proposal, error) {
	if err := validatePayload(t, payload); err != nil {
		return nil, err
	}

	now := q.now().UTC()
	p := model.Proposal{
		ID:        NewID(t, now),
		Type:      t,
		Status:    model.ProposalPending,
		Payload:   payload,
		Evidence:  evidence,
		CreatedAt: now,
	}
	if err := q.store.InsertProposal(ctx, p); err != nil {
		return nil, eris.Wrap(err, "proposal: submit")
	}

	q.log.Info("proposal submitted",
		zap.String("id", p.ID),
		zap.String("type", string(t)))
	return &p, nil
}

// Approve moves a pending proposal to approved.
func (q *Queue) Approve(ctx context.Context, id string) (*model.Proposal, error) {
	return q.transition(ctx, id, model.ProposalApproved)
}

// Reject moves a pending proposal to rejected. The record stays on file.
func (q *Queue) Reject(ctx context.Context, id string) (*model.Proposal, error) {
	return q.transition(ctx, id, model.ProposalRejected)
}

// Apply executes an approved proposal via its registered applier, then
// marks it applied. A type with no applier cannot be applied.
func (q *Queue) Apply(ctx context.Context, id string) (*model.Proposal, error) {
	p, err := q.store.GetProposal(ctx, id)
	if err != nil {
		return nil, eris.Wrap(err, "proposal: load for apply")
	}
	if !p.CanTransition(model.ProposalApplied) {
		return nil, eris.Errorf("proposal: cannot apply %s in status %s", id, p.Status)
	}

	fn, ok := q.appliers[p.Type]
	if !ok {
		return nil, eris.Errorf("proposal: no applier registered for type %s", p.Type)
	}
	if err := fn(ctx, *p); err != nil {
		return nil, eris.Wrapf(err, "proposal: apply %s", id)
	}

	return q.transition(ctx, id, model.ProposalApplied)
}

// Get returns one proposal.
func (q *Queue) Get(ctx context.Context, id string) (*model.Proposal, error) {
	return q.store.GetProposal(ctx, id)
}

// List returns proposals matching the filter.
func (q *Queue) List(ctx context.Context, filter store.ProposalFilter) ([]model.Proposal, error) {
	return q.store.ListProposals(ctx, filter)
}

func (q *Queue) transition(ctx context.Context, id string, next model.ProposalStatus) (*model.Proposal, error) {
	p, err := q.store.GetProposal(ctx, id)
	if err != nil {
		return nil, eris.Wrap(err, "proposal: load for transition")
	}
	if !p.CanTransition(next) {
		return nil, eris.Errorf("proposal: invalid transition %s -> %s for %s", p.Status, next, id)
	}

	at := q.now().UTC()
	if err := q.store.UpdateProposalStatus(ctx, id, next, at); err != nil {
		return nil, eris.Wrap(err, "proposal: update status")
	}

	p.Status = next
	if next == model.ProposalApplied {
		p.AppliedAt = &at
	} else {
		p.ReviewedAt = &at
	}

	q.log.Info("proposal transitioned",
		zap.String("id", id),
		zap.String("status", string(next)))
	return p, nil
}

// validatePayload enforces the per-type payload contract before a proposal
// is admitted.
func validatePayload(t model.ProposalType, payload map[string]any) error {
	switch t {
	case model.ProposalCoverageAssertion:
		return requireFields(t, payload, "payer_id", "test_id", "layer", "status")
	case model.ProposalDelegationUpdate:
		return requireFields(t, payload, "payer_id", "delegates_to")
	default:
		return eris.Errorf("proposal: unknown type %q", t)
	}
}

func requireFields(t model.ProposalType, payload map[string]any, fields ...string) error {
	var missing []string
	for _, f := range fields {
		v, ok := payload[f]
		if !ok {
			missing = append(missing, f)
			continue
		}
		if s, isStr := v.(string); isStr && s == "" {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return eris.Errorf("proposal: %s payload missing %s", t, strings.Join(missing, ", "))
	}
	return nil
}
