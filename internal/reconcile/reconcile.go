// Package reconcile merges per-layer coverage assertions for one
// (payer, test) pair into a single operative determination. Authority
// order is fixed: um_criteria > lbm_guideline > delegation >
// policy_stance > overlay. The engine never arbitrates genuine
// disagreement; it flags conflicts for a human.
package reconcile

import (
	"time"

	"go.uber.org/zap"

	"github.com/openonco/policywatch/internal/model"
)

// Engine reconciles assertions into determinations.
type Engine struct {
	now func() time.Time
	log *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock injects the time source used for validity-window filtering.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a reconciliation engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{now: time.Now, log: zap.L().Named("reconcile")}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reconcile merges the assertions for one (payer, test) pair. Assertions
// outside their validity window are excluded before layering; if that
// empties a layer, resolution falls through to the next. Returns nil when
// no assertion survives the window filter.
func (e *Engine) Reconcile(payerID, testID string, assertions []model.CoverageAssertion) *model.Determination {
	now := e.now()

	byLayer := e.pickPerLayer(payerID, testID, assertions, now)
	if len(byLayer) == 0 {
		return nil
	}

	d := &model.Determination{
		PayerID:      payerID,
		TestID:       testID,
		Status:       model.StatusUnclear,
		ReconciledAt: now,
	}

	// Walk layers in authority order; the first non-unclear status is
	// operative. Every surviving assertion lands in the changelog.
	var operative *model.CoverageAssertion
	for _, layer := range model.LayersByAuthority() {
		a, ok := byLayer[layer]
		if !ok {
			continue
		}
		entry := model.ChangelogEntry{
			Layer:            layer,
			Status:           a.Status,
			SourceDocumentID: a.SourceDocumentID,
		}
		if operative == nil && a.Status != model.StatusUnclear {
			operative = a
			entry.Operative = true
		}
		d.Changelog = append(d.Changelog, entry)
	}

	if operative != nil {
		d.Status = operative.Status
		d.SourceLayer = operative.Layer
		d.Criteria = operative.Criteria
		d.Confidence = operative.Confidence
	} else {
		// Everything is unclear; report the highest layer present.
		for _, layer := range model.LayersByAuthority() {
			if a, ok := byLayer[layer]; ok {
				d.SourceLayer = a.Layer
				d.Criteria = a.Criteria
				d.Confidence = a.Confidence
				break
			}
		}
	}

	d.Conflicts = e.findConflicts(byLayer)
	return d
}

// pickPerLayer window-filters assertions and reduces each layer to one.
// Same-layer ties break toward the most recent effective date; an exact
// tie with differing statuses is surfaced as unclear rather than picked
// arbitrarily.
func (e *Engine) pickPerLayer(payerID, testID string, assertions []model.CoverageAssertion, now time.Time) map[model.Layer]*model.CoverageAssertion {
	byLayer := make(map[model.Layer]*model.CoverageAssertion)
	for i := range assertions {
		a := assertions[i]
		if a.PayerID != payerID || a.TestID != testID {
			continue
		}
		if !a.InWindow(now) {
			continue
		}

		current, ok := byLayer[a.Layer]
		if !ok {
			byLayer[a.Layer] = &a
			continue
		}

		switch compareEffective(a.EffectiveDate, current.EffectiveDate) {
		case 1:
			byLayer[a.Layer] = &a
		case 0:
			if a.Status != current.Status {
				e.log.Warn("same-layer assertions tie with different statuses",
					zap.String("payer_id", payerID),
					zap.String("test_id", testID),
					zap.String("layer", string(a.Layer)))
				merged := *current
				merged.Status = model.StatusUnclear
				merged.Quotes = append(append([]string{}, current.Quotes...), a.Quotes...)
				byLayer[a.Layer] = &merged
			}
		}
	}
	return byLayer
}

// findConflicts flags pairs where a higher layer is unclear while a lower
// layer takes a definite position the next definite layer disagrees with.
// Quotes from both sides travel with the flag.
func (e *Engine) findConflicts(byLayer map[model.Layer]*model.CoverageAssertion) []model.Conflict {
	layers := model.LayersByAuthority()
	var conflicts []model.Conflict

	for i, higher := range layers {
		ha, ok := byLayer[higher]
		if !ok {
			continue
		}
		for _, lower := range layers[i+1:] {
			la, ok := byLayer[lower]
			if !ok {
				continue
			}
			if disagree(ha.Status, la.Status) {
				conflicts = append(conflicts, model.Conflict{
					HigherLayer: higher,
					LowerLayer:  lower,
					HigherState: ha.Status,
					LowerState:  la.Status,
					HigherQuote: ha.Quotes,
					LowerQuote:  la.Quotes,
				})
			}
		}
	}
	return conflicts
}

// disagree reports whether two statuses take incompatible definite
// positions, or the higher is unclear while the lower is definite.
func disagree(higher, lower model.AssertionStatus) bool {
	if higher == model.StatusUnclear {
		return lower != model.StatusUnclear
	}
	if higher == model.StatusSupports || higher == model.StatusConditional {
		return lower == model.StatusDenies
	}
	if higher == model.StatusDenies {
		return lower == model.StatusSupports || lower == model.StatusConditional
	}
	return false
}

// compareEffective orders two effective dates; nil sorts oldest.
func compareEffective(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	case a.After(*b):
		return 1
	case b.After(*a):
		return -1
	default:
		return 0
	}
}
