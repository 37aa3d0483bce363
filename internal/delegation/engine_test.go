package delegation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openonco/policywatch/internal/model"
)

func fixedNow() time.Time {
	return time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
}

func newTestEngine(seed map[string]model.DelegationFact, detected *DetectedStore) *Engine {
	return NewEngine(seed, detected, WithClock(fixedNow))
}

func TestEngine_NoFactsReturnsNil(t *testing.T) {
	e := newTestEngine(nil, nil)
	assert.Nil(t, e.Status("payer-unknown", ""))
}

func TestEngine_DetectedOnly_HighConfidenceConfirms(t *testing.T) {
	det := NewDetectedStore()
	det.Put(Detection{
		PayerID: "payer-uhc", DelegatesTo: "lbm-evicore", Confidence: 0.9,
		Quotes: []string{"genetic testing benefits are managed by eviCore"}, DetectedAt: fixedNow(),
	})
	e := newTestEngine(nil, det)

	st := e.Status("payer-uhc", "")
	require.NotNil(t, st)
	assert.Equal(t, model.EvidenceConfirmed, st.Fact.EvidenceLevel)
	assert.Equal(t, model.EffectivenessEffective, st.Fact.Effectiveness)
	assert.Equal(t, []string{model.LOBAll}, st.Fact.LinesOfBusiness)
	assert.Equal(t, model.LegacyActive, st.Legacy)
	assert.True(t, st.LOBApplicable)
}

func TestEngine_DetectedOnly_LowConfidenceStaysSuspected(t *testing.T) {
	det := NewDetectedStore()
	det.Put(Detection{PayerID: "payer-x", DelegatesTo: "lbm-avalon", Confidence: 0.6, DetectedAt: fixedNow()})
	e := newTestEngine(nil, det)

	st := e.Status("payer-x", "")
	require.NotNil(t, st)
	assert.Equal(t, model.EvidenceSuspected, st.Fact.EvidenceLevel)
	assert.Equal(t, model.LegacySuspected, st.Legacy)
}

func TestEngine_StaticFact_LOBGating(t *testing.T) {
	seed := map[string]model.DelegationFact{
		"payer-aetna": {
			PayerID: "payer-aetna", DelegatesTo: "lbm-carelon",
			LinesOfBusiness: []string{"commercial"},
			EvidenceLevel:   model.EvidenceConfirmed,
			LastVerified:    fixedNow().Add(-24 * time.Hour),
		},
	}
	e := newTestEngine(seed, nil)

	st := e.Status("payer-aetna", "medicare_advantage")
	require.NotNil(t, st)
	assert.False(t, st.LOBApplicable)
	assert.Contains(t, st.RoutingNote, "medicare_advantage")
	assert.Contains(t, st.RoutingNote, "lbm-carelon")

	// The matching line of business applies without a note.
	st = e.Status("payer-aetna", "commercial")
	require.NotNil(t, st)
	assert.True(t, st.LOBApplicable)
	assert.Empty(t, st.RoutingNote)
}

func TestEngine_EffectivenessFromDates(t *testing.T) {
	future := fixedNow().Add(30 * 24 * time.Hour)
	past := fixedNow().Add(-60 * 24 * time.Hour)
	ended := fixedNow().Add(-10 * 24 * time.Hour)

	tests := []struct {
		name  string
		start *time.Time
		end   *time.Time
		want  model.Effectiveness
	}{
		{"pending before start", &future, nil, model.EffectivenessPending},
		{"effective inside window", &past, &future, model.EffectivenessEffective},
		{"expired past end", &past, &ended, model.EffectivenessExpired},
		{"no dates means effective", nil, nil, model.EffectivenessEffective},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seed := map[string]model.DelegationFact{
				"p": {
					PayerID: "p", DelegatesTo: "lbm-evicore",
					EvidenceLevel: model.EvidenceConfirmed,
					EffectiveDate: tt.start, EffectiveEndDate: tt.end,
					LastVerified: fixedNow(),
				},
			}
			st := newTestEngine(seed, nil).Status("p", "")
			require.NotNil(t, st)
			assert.Equal(t, tt.want, st.Fact.Effectiveness)
		})
	}
}

func TestEngine_DetectionUpgradesStaticFact(t *testing.T) {
	seed := map[string]model.DelegationFact{
		"payer-bcbs": {
			PayerID: "payer-bcbs", DelegatesTo: "lbm-avalon",
			EvidenceLevel: model.EvidenceSuspected,
			LastVerified:  fixedNow().Add(-200 * 24 * time.Hour),
		},
	}
	det := NewDetectedStore()
	det.Put(Detection{
		PayerID: "payer-bcbs", DelegatesTo: "lbm-avalon", Confidence: 0.9,
		SourceURL: "https://bcbs.example.com/bulletin", DetectedAt: fixedNow(),
	})
	e := newTestEngine(seed, det)

	st := e.Status("payer-bcbs", "")
	require.NotNil(t, st)
	assert.Equal(t, model.EvidenceConfirmed, st.Fact.EvidenceLevel)
	assert.Equal(t, fixedNow(), st.Fact.LastVerified)
	assert.Equal(t, "pattern_detection", st.Fact.Evidence.VerificationMethod)
}

func TestEngine_StaleConfirmationDecays(t *testing.T) {
	seed := map[string]model.DelegationFact{
		"payer-cigna": {
			PayerID: "payer-cigna", DelegatesTo: "lbm-evicore",
			EvidenceLevel: model.EvidenceConfirmed,
			LastVerified:  fixedNow().Add(-120 * 24 * time.Hour),
		},
	}
	e := newTestEngine(seed, nil)

	st := e.Status("payer-cigna", "")
	require.NotNil(t, st)
	assert.Equal(t, model.EvidenceSuspected, st.Fact.EvidenceLevel)
	assert.Equal(t, model.LegacySuspected, st.Legacy)
}

func TestEngine_FreshConfirmationDoesNotDecay(t *testing.T) {
	seed := map[string]model.DelegationFact{
		"payer-cigna": {
			PayerID: "payer-cigna", DelegatesTo: "lbm-evicore",
			EvidenceLevel: model.EvidenceConfirmed,
			LastVerified:  fixedNow().Add(-30 * 24 * time.Hour),
		},
	}
	st := newTestEngine(seed, nil).Status("payer-cigna", "")
	require.NotNil(t, st)
	assert.Equal(t, model.EvidenceConfirmed, st.Fact.EvidenceLevel)
	assert.Equal(t, model.LegacyActive, st.Legacy)
}

func TestEngine_ExpiredAlwaysWinsLegacy(t *testing.T) {
	past := fixedNow().Add(-60 * 24 * time.Hour)
	ended := fixedNow().Add(-10 * 24 * time.Hour)
	seed := map[string]model.DelegationFact{
		"p": {
			PayerID: "p", DelegatesTo: "lbm-evicore",
			EvidenceLevel: model.EvidenceConfirmed,
			EffectiveDate: &past, EffectiveEndDate: &ended,
			LastVerified: fixedNow(),
		},
	}
	st := newTestEngine(seed, nil).Status("p", "")
	require.NotNil(t, st)
	assert.Equal(t, model.LegacyExpired, st.Legacy)
}

func TestEngine_SeedNeverMutated(t *testing.T) {
	seed := map[string]model.DelegationFact{
		"payer-cigna": {
			PayerID: "payer-cigna", DelegatesTo: "lbm-evicore",
			EvidenceLevel: model.EvidenceConfirmed,
			LastVerified:  fixedNow().Add(-120 * 24 * time.Hour),
		},
	}
	e := newTestEngine(seed, nil)
	_ = e.Status("payer-cigna", "")

	// Decay applies to the returned copy only.
	assert.Equal(t, model.EvidenceConfirmed, seed["payer-cigna"].EvidenceLevel)
}

func TestDetectedStore_LastWriteWins(t *testing.T) {
	s := NewDetectedStore()
	s.Put(Detection{PayerID: "p", DelegatesTo: "lbm-evicore", Confidence: 0.5})
	s.Put(Detection{PayerID: "p", DelegatesTo: "lbm-carelon", Confidence: 0.9})

	d, ok := s.Get("p")
	require.True(t, ok)
	assert.Equal(t, "lbm-carelon", d.DelegatesTo)
	assert.Len(t, s.All(), 1)
}
