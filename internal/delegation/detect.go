// Package delegation answers "who manages benefits for this payer" from two
// sources: a curated seed map and runtime detections against fetched policy
// text. Evidence confidence and time-validity are kept on separate axes.
package delegation

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

// Detection is one runtime observation of delegation language in fetched
// text. Detections are point-in-time snapshots, not counters: a later
// detection for the same payer simply replaces the earlier one.
type Detection struct {
	PayerID     string    `json:"payer_id"`
	DelegatesTo string    `json:"delegates_to"`
	Confidence  float64   `json:"confidence"`
	Quotes      []string  `json:"quotes"`
	SourceURL   string    `json:"source_url"`
	DetectedAt  time.Time `json:"detected_at"`
}

// knownLBMs maps the LBM names that appear in payer announcements to the
// catalog ids used everywhere else.
var knownLBMs = map[string]string{
	"evicore":       "lbm-evicore",
	"carelon":       "lbm-carelon",
	"avalon":        "lbm-avalon",
	"aim specialty": "lbm-carelon", // AIM rebranded as Carelon
	"optum":         "lbm-optum",
	"ebm":           "lbm-ebm",
}

// delegationPattern pairs a phrasing regex with the confidence it carries.
// Announcement language is stronger evidence than routing language.
type delegationPattern struct {
	re         *regexp.Regexp
	confidence float64
}

var delegationPatterns = []delegationPattern{
	// Explicit delegation announcements.
	{regexp.MustCompile(`(?i)(?:benefits?|laboratory services|genetic testing)[^.]{0,80}(?:managed|administered|delegated)\s+(?:by|to)\s+([A-Za-z][A-Za-z ]{2,40})`), 0.9},
	{regexp.MustCompile(`(?i)has\s+(?:partnered|contracted)\s+with\s+([A-Za-z][A-Za-z ]{2,40})\s+to\s+(?:manage|administer|review)`), 0.85},
	// Prior-auth routing language: weaker, the LBM may only handle intake.
	{regexp.MustCompile(`(?i)prior\s+authorization[^.]{0,80}(?:through|via|submitted to)\s+([A-Za-z][A-Za-z ]{2,40})`), 0.6},
	{regexp.MustCompile(`(?i)requests?\s+(?:must|should)\s+be\s+(?:submitted|directed)\s+to\s+([A-Za-z][A-Za-z ]{2,40})`), 0.55},
}

// maxQuoteLen bounds the supporting quote pulled around a match.
const maxQuoteLen = 240

// Detect scans canonical text for delegation language naming a known LBM.
// One detection per (payer, LBM) is returned, keeping the highest-confidence
// match and collecting the quotes that supported it.
func Detect(payerID, sourceURL, text string, now time.Time) []Detection {
	found := make(map[string]*Detection)

	for _, p := range delegationPatterns {
		for _, m := range p.re.FindAllStringSubmatchIndex(text, -1) {
			name := strings.TrimSpace(text[m[2]:m[3]])
			lbmID, ok := matchLBM(name)
			if !ok {
				continue
			}

			quote := quoteAround(text, m[0], m[1])
			d, seen := found[lbmID]
			if !seen {
				found[lbmID] = &Detection{
					PayerID:     payerID,
					DelegatesTo: lbmID,
					Confidence:  p.confidence,
					Quotes:      []string{quote},
					SourceURL:   sourceURL,
					DetectedAt:  now,
				}
				continue
			}
			if p.confidence > d.Confidence {
				d.Confidence = p.confidence
			}
			d.Quotes = append(d.Quotes, quote)
		}
	}

	out := make([]Detection, 0, len(found))
	for _, lbmID := range sortedKeys(found) {
		out = append(out, *found[lbmID])
	}
	return out
}

func matchLBM(name string) (string, bool) {
	lower := strings.ToLower(name)
	for needle, id := range knownLBMs {
		if strings.Contains(lower, needle) {
			return id, true
		}
	}
	return "", false
}

func quoteAround(text string, start, end int) string {
	if end-start > maxQuoteLen {
		end = start + maxQuoteLen
	}
	return strings.TrimSpace(text[start:end])
}

func sortedKeys(m map[string]*Detection) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Deterministic output order for stable runs and tests.
	sort.Strings(keys)
	return keys
}
