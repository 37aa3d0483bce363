// Package extraction turns canonicalized policy text into structured
// coverage assertions. The LLM proposes; nothing here is authoritative
// until reconciliation and human review downstream.
package extraction

import (
	"context"

	"github.com/openonco/policywatch/internal/model"
)

// Request carries one artifact's text through extraction.
type Request struct {
	PayerID    string
	ArtifactID string
	SourceURL  string
	Content    string
	// TestCatalog lists the MRD/ctDNA test ids to look for. Assertions
	// about tests outside the catalog are dropped.
	TestCatalog []string
}

// Result is the structured outcome for one artifact. An empty Assertions
// slice is a valid result: the document simply says nothing about the
// catalog. That is distinct from an extraction error.
type Result struct {
	Assertions []model.CoverageAssertion
	// RawQuotes preserves every quote the extractor cited, for anchoring.
	RawQuotes []string
}

// Extractor produces coverage assertions from policy text.
type Extractor interface {
	Extract(ctx context.Context, req Request) (*Result, error)
}
