package model

import "time"

// Layer identifies which authority level produced a coverage assertion.
type Layer string

const (
	LayerUMCriteria   Layer = "um_criteria"
	LayerLBMGuideline Layer = "lbm_guideline"
	LayerDelegation   Layer = "delegation"
	LayerPolicyStance Layer = "policy_stance"
	LayerOverlay      Layer = "overlay"
)

// LayersByAuthority lists layers in descending authority. UM criteria are
// the rules actually applied at claim time, so they outrank everything.
func LayersByAuthority() []Layer {
	return []Layer{LayerUMCriteria, LayerLBMGuideline, LayerDelegation, LayerPolicyStance, LayerOverlay}
}

// LayerRank returns the authority rank of a layer (0 = highest). Unknown
// layers rank below all known ones.
func LayerRank(l Layer) int {
	for i, known := range LayersByAuthority() {
		if known == l {
			return i
		}
	}
	return len(LayersByAuthority())
}

// AssertionStatus is what a single layer says about coverage.
type AssertionStatus string

const (
	StatusSupports    AssertionStatus = "supports"
	StatusDenies      AssertionStatus = "denies"
	StatusConditional AssertionStatus = "conditional"
	StatusUnclear     AssertionStatus = "unclear"
)

// Criteria holds the structured conditions attached to a coverage assertion.
type Criteria struct {
	CancerTypes     []string `json:"cancer_types,omitempty"`
	Stage           string   `json:"stage,omitempty"`
	PriorAuth       bool     `json:"prior_auth,omitempty"`
	DocumentationOf string   `json:"documentation_of,omitempty"`
	Notes           string   `json:"notes,omitempty"`
}

// CoverageAssertion is one layer's statement about coverage of one test by
// one payer. Assertions are immutable; a new fact supersedes, never mutates.
type CoverageAssertion struct {
	PayerID          string          `json:"payer_id"`
	TestID           string          `json:"test_id"`
	Layer            Layer           `json:"layer"`
	Status           AssertionStatus `json:"assertion_status"`
	Criteria         Criteria        `json:"criteria"`
	SourceDocumentID string          `json:"source_document_id"`
	Confidence       float64         `json:"confidence"`
	Quotes           []string        `json:"quotes,omitempty"`
	EffectiveDate    *time.Time      `json:"effective_date,omitempty"`
	ExpirationDate   *time.Time      `json:"expiration_date,omitempty"`
}

// InWindow reports whether the assertion is valid at the given instant.
// The window is [effectiveDate, expirationDate).
func (a CoverageAssertion) InWindow(now time.Time) bool {
	if a.EffectiveDate != nil && now.Before(*a.EffectiveDate) {
		return false
	}
	if a.ExpirationDate != nil && !now.Before(*a.ExpirationDate) {
		return false
	}
	return true
}

// Conflict flags two layers that disagree in a way the engine will not
// arbitrate. Both quotes travel with the flag so a reviewer can adjudicate.
type Conflict struct {
	HigherLayer Layer           `json:"higher_layer"`
	LowerLayer  Layer           `json:"lower_layer"`
	HigherState AssertionStatus `json:"higher_status"`
	LowerState  AssertionStatus `json:"lower_status"`
	HigherQuote []string        `json:"higher_quotes,omitempty"`
	LowerQuote  []string        `json:"lower_quotes,omitempty"`
}

// ChangelogEntry records one underlying assertion that fed a determination.
type ChangelogEntry struct {
	Layer            Layer           `json:"layer"`
	Status           AssertionStatus `json:"status"`
	SourceDocumentID string          `json:"source_document_id"`
	Operative        bool            `json:"operative"`
}

// Determination is the reconciled, operative coverage answer for one
// (payer, test) pair, with the full trail of what produced it.
type Determination struct {
	PayerID      string           `json:"payer_id"`
	TestID       string           `json:"test_id"`
	Status       AssertionStatus  `json:"status"`
	SourceLayer  Layer            `json:"source_layer"`
	Criteria     Criteria         `json:"criteria"`
	Confidence   float64          `json:"confidence"`
	Conflicts    []Conflict       `json:"conflicts,omitempty"`
	Changelog    []ChangelogEntry `json:"changelog"`
	ReconciledAt time.Time        `json:"reconciled_at"`
}

// Differs reports whether two determinations would read differently to a
// reviewer: operative status, source layer, or conflict count changed.
func (d Determination) Differs(prev *Determination) bool {
	if prev == nil {
		return true
	}
	return d.Status != prev.Status ||
		d.SourceLayer != prev.SourceLayer ||
		len(d.Conflicts) != len(prev.Conflicts)
}
