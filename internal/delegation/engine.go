package delegation

import (
	"fmt"
	"time"

	"github.com/openonco/policywatch/internal/model"
)

const (
	defaultVerificationWindow = 90 * 24 * time.Hour
	defaultConfirmThreshold   = 0.8
)

// Engine resolves delegation status from the seed map and runtime
// detections. Resolution is a pure function of the two fact sources and
// the clock; the engine never mutates the seed.
type Engine struct {
	seed             map[string]model.DelegationFact
	detected         *DetectedStore
	window           time.Duration
	confirmThreshold float64
	now              func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithVerificationWindow sets how long a confirmation stays fresh before
// evidence decays back to suspected.
func WithVerificationWindow(d time.Duration) Option {
	return func(e *Engine) { e.window = d }
}

// WithConfirmThreshold sets the detection confidence above which evidence
// counts as confirmed.
func WithConfirmThreshold(t float64) Option {
	return func(e *Engine) { e.confirmThreshold = t }
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine over a seed map and a detected store.
func NewEngine(seed map[string]model.DelegationFact, detected *DetectedStore, opts ...Option) *Engine {
	if seed == nil {
		seed = map[string]model.DelegationFact{}
	}
	if detected == nil {
		detected = NewDetectedStore()
	}
	e := &Engine{
		seed:             seed,
		detected:         detected,
		window:           defaultVerificationWindow,
		confirmThreshold: defaultConfirmThreshold,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Detected exposes the detection store for the crawler to feed.
func (e *Engine) Detected() *DetectedStore {
	return e.detected
}

// Status resolves who manages benefits for a payer, optionally filtered to
// one line of business. A nil return means the payer manages benefits
// internally: no fact from either source.
func (e *Engine) Status(payerID, lineOfBusiness string) *model.DelegationStatus {
	now := e.now()
	static, hasStatic := e.seed[payerID]
	det, hasDetected := e.detected.Get(payerID)

	if !hasStatic && !hasDetected {
		return nil
	}

	if !hasStatic {
		// Detection only: synthesize a fact. Scope is unknown, so it
		// covers all lines of business and is assumed in force.
		level := model.EvidenceSuspected
		if det.Confidence > e.confirmThreshold {
			level = model.EvidenceConfirmed
		}
		fact := model.DelegationFact{
			PayerID:         payerID,
			DelegatesTo:     det.DelegatesTo,
			LinesOfBusiness: []string{model.LOBAll},
			EvidenceLevel:   level,
			Effectiveness:   model.EffectivenessEffective,
			Evidence: model.DelegationEvidence{
				SourceURL:          det.SourceURL,
				Quotes:             det.Quotes,
				DetectedAt:         det.DetectedAt,
				VerificationMethod: "pattern_detection",
			},
			LastVerified: det.DetectedAt,
		}
		return &model.DelegationStatus{
			Fact:          fact,
			LOBApplicable: true,
			Legacy:        model.LegacyStatus(level, fact.Effectiveness),
		}
	}

	fact := static
	fact.Effectiveness = model.EffectivenessAt(fact.EffectiveDate, fact.EffectiveEndDate, now)

	lobApplicable := true
	routingNote := ""
	if lineOfBusiness != "" && !fact.CoversLOB(lineOfBusiness) {
		// Never silently apply an inapplicable delegation.
		lobApplicable = false
		routingNote = fmt.Sprintf("delegation to %s does not cover line of business %q; route to payer UM directly",
			fact.DelegatesTo, lineOfBusiness)
	}

	if hasDetected && det.Confidence > e.confirmThreshold {
		fact.EvidenceLevel = model.EvidenceConfirmed
		fact.LastVerified = det.DetectedAt
		fact.Evidence = model.DelegationEvidence{
			SourceURL:          det.SourceURL,
			Quotes:             det.Quotes,
			DetectedAt:         det.DetectedAt,
			VerificationMethod: "pattern_detection",
		}
	} else if !hasDetected && fact.LastVerified.Before(now.Add(-e.window)) {
		// Stale confirmation with nothing new backing it decays.
		fact.EvidenceLevel = model.EvidenceSuspected
	}

	return &model.DelegationStatus{
		Fact:          fact,
		LOBApplicable: lobApplicable,
		RoutingNote:   routingNote,
		Legacy:        model.LegacyStatus(fact.EvidenceLevel, fact.Effectiveness),
	}
}
