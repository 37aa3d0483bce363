package model

import "time"

// EvidenceLevel expresses confidence that a delegation fact is true,
// independent of whether it is currently in force.
type EvidenceLevel string

const (
	EvidenceSuspected EvidenceLevel = "suspected"
	EvidenceConfirmed EvidenceLevel = "confirmed"
)

// Effectiveness expresses whether a delegation fact is in force in time,
// independent of how confident we are in it.
type Effectiveness string

const (
	EffectivenessPending   Effectiveness = "pending"
	EffectivenessEffective Effectiveness = "effective"
	EffectivenessExpired   Effectiveness = "expired"
)

// LegacyDelegationStatus is the single-enum status consumed by older
// downstream readers. Derived from the two axes, never authoritative.
type LegacyDelegationStatus string

const (
	LegacyActive    LegacyDelegationStatus = "active"
	LegacyConfirmed LegacyDelegationStatus = "confirmed"
	LegacySuspected LegacyDelegationStatus = "suspected"
	LegacyExpired   LegacyDelegationStatus = "expired"
)

// LOBAll marks a delegation that applies to every line of business.
const LOBAll = "all"

// DelegationEvidence records where and how a delegation fact was observed.
type DelegationEvidence struct {
	SourceURL          string    `yaml:"source_url" json:"source_url"`
	Quotes             []string  `yaml:"quotes" json:"quotes"`
	DetectedAt         time.Time `yaml:"detected_at" json:"detected_at"`
	VerificationMethod string    `yaml:"verification_method" json:"verification_method"`
}

// DelegationFact asserts that a payer delegates benefit management for a
// scope of services to an LBM. EvidenceLevel and Effectiveness are
// orthogonal: one is belief, the other is time-validity.
type DelegationFact struct {
	PayerID          string             `yaml:"payer_id" json:"payer_id"`
	DelegatesTo      string             `yaml:"delegates_to" json:"delegates_to"`
	Scope            string             `yaml:"scope" json:"scope"`
	LinesOfBusiness  []string           `yaml:"lines_of_business" json:"lines_of_business"`
	EvidenceLevel    EvidenceLevel      `yaml:"evidence_level" json:"evidence_level"`
	Effectiveness    Effectiveness      `yaml:"-" json:"effectiveness"`
	EffectiveDate    *time.Time         `yaml:"effective_date" json:"effective_date,omitempty"`
	EffectiveEndDate *time.Time         `yaml:"effective_end_date" json:"effective_end_date,omitempty"`
	Evidence         DelegationEvidence `yaml:"evidence" json:"evidence"`
	LastVerified     time.Time          `yaml:"last_verified" json:"last_verified"`
}

// CoversLOB reports whether the fact applies to the given line of business.
// A fact with no explicit lines, or with "all", covers everything.
func (f DelegationFact) CoversLOB(lob string) bool {
	if len(f.LinesOfBusiness) == 0 {
		return true
	}
	for _, l := range f.LinesOfBusiness {
		if l == LOBAll || l == lob {
			return true
		}
	}
	return false
}

// EffectivenessAt computes time-validity from the fact's date window. It is
// a pure function of (effectiveDate, effectiveEndDate, now).
func EffectivenessAt(effectiveDate, effectiveEndDate *time.Time, now time.Time) Effectiveness {
	if effectiveDate != nil && now.Before(*effectiveDate) {
		return EffectivenessPending
	}
	if effectiveEndDate != nil && !now.Before(*effectiveEndDate) {
		return EffectivenessExpired
	}
	return EffectivenessEffective
}

// LegacyStatus derives the backward-compatible single status from the two
// axes. Expired always wins; suspected evidence maps to suspected;
// confirmed+effective maps to active; anything else is confirmed.
func LegacyStatus(level EvidenceLevel, eff Effectiveness) LegacyDelegationStatus {
	if eff == EffectivenessExpired {
		return LegacyExpired
	}
	if level == EvidenceSuspected {
		return LegacySuspected
	}
	if eff == EffectivenessEffective {
		return LegacyActive
	}
	return LegacyConfirmed
}

// DelegationStatus is the resolved answer to "who manages benefits for this
// payer": the fact plus applicability of a requested line of business.
type DelegationStatus struct {
	Fact          DelegationFact         `json:"fact"`
	LOBApplicable bool                   `json:"lob_applicable"`
	RoutingNote   string                 `json:"routing_note,omitempty"`
	Legacy        LegacyDelegationStatus `json:"legacy_status"`
}
