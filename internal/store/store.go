// Package store persists artifacts, coverage facts, proposals, and run
// records. Two implementations exist: SQLite for single-operator use and
// Postgres for shared deployments. Callers program against Store and never
// see the driver.
package store

import (
	"context"
	"time"

	"github.com/openonco/policywatch/internal/model"
)

// ArtifactFilter specifies criteria for listing artifacts.
type ArtifactFilter struct {
	PayerID  string `json:"payer_id,omitempty"`
	PolicyID string `json:"policy_id,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

// AssertionFilter specifies criteria for listing coverage assertions.
type AssertionFilter struct {
	PayerID string      `json:"payer_id,omitempty"`
	TestID  string      `json:"test_id,omitempty"`
	Layer   model.Layer `json:"layer,omitempty"`
}

// ProposalFilter specifies criteria for listing proposals.
type ProposalFilter struct {
	Status model.ProposalStatus `json:"status,omitempty"`
	Type   model.ProposalType   `json:"type,omitempty"`
	Limit  int                  `json:"limit,omitempty"`
	Offset int                  `json:"offset,omitempty"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// Store defines the persistence interface for the monitoring pipeline.
type Store interface {
	// Artifacts. Immutability is enforced above this layer: the artifact
	// body is written once, then only last_checked_at and anchors move.
	LatestArtifact(ctx context.Context, payerID, policyID string) (*model.Artifact, error)
	GetArtifact(ctx context.Context, artifactID string) (*model.Artifact, error)
	InsertArtifact(ctx context.Context, a model.Artifact) error
	TouchArtifact(ctx context.Context, artifactID string, checkedAt time.Time) error
	AppendAnchors(ctx context.Context, artifactID string, anchors []model.Anchor) error
	ListArtifacts(ctx context.Context, filter ArtifactFilter) ([]model.Artifact, error)

	// Coverage assertions (append-only) and reconciled determinations.
	InsertAssertion(ctx context.Context, a model.CoverageAssertion) error
	ListAssertions(ctx context.Context, filter AssertionFilter) ([]model.CoverageAssertion, error)
	GetDetermination(ctx context.Context, payerID, testID string) (*model.Determination, error)
	PutDetermination(ctx context.Context, d model.Determination) error

	// Delegation facts. Upsert keyed by payer: last write wins.
	UpsertDelegationFact(ctx context.Context, f model.DelegationFact) error
	ListDelegationFacts(ctx context.Context) ([]model.DelegationFact, error)

	// Proposals
	InsertProposal(ctx context.Context, p model.Proposal) error
	GetProposal(ctx context.Context, id string) (*model.Proposal, error)
	ListProposals(ctx context.Context, filter ProposalFilter) ([]model.Proposal, error)
	UpdateProposalStatus(ctx context.Context, id string, status model.ProposalStatus, at time.Time) error

	// Runs
	CreateRun(ctx context.Context, dryRun bool) (*model.Run, error)
	FinishRun(ctx context.Context, runID string, stats model.RunStats) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
