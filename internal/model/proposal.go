package model

import "time"

// ProposalType identifies the kind of change a proposal stages for review.
type ProposalType string

const (
	ProposalCoverageAssertion ProposalType = "coverage_assertion"
	ProposalDelegationUpdate  ProposalType = "delegation_update"
)

// ProposalStatus is the review state machine position.
// pending → {approved, rejected}; approved → applied.
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalApproved ProposalStatus = "approved"
	ProposalRejected ProposalStatus = "rejected"
	ProposalApplied  ProposalStatus = "applied"
)

// ProposalEvidence carries the citations backing a proposal.
type ProposalEvidence struct {
	ArtifactID string   `json:"artifact_id,omitempty"`
	SourceURL  string   `json:"source_url,omitempty"`
	Quotes     []string `json:"quotes,omitempty"`
}

// Proposal is an append-only staging record awaiting human review.
type Proposal struct {
	ID         string           `json:"id"`
	Type       ProposalType     `json:"type"`
	Status     ProposalStatus   `json:"status"`
	Payload    map[string]any   `json:"payload"`
	Evidence   ProposalEvidence `json:"evidence"`
	CreatedAt  time.Time        `json:"created_at"`
	ReviewedAt *time.Time       `json:"reviewed_at,omitempty"`
	AppliedAt  *time.Time       `json:"applied_at,omitempty"`
}

// CanTransition reports whether the state machine permits moving from the
// proposal's current status to next.
func (p Proposal) CanTransition(next ProposalStatus) bool {
	switch p.Status {
	case ProposalPending:
		return next == ProposalApproved || next == ProposalRejected
	case ProposalApproved:
		return next == ProposalApplied
	default:
		return false
	}
}
