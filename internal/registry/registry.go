// Package registry loads the static crawl-target catalog and the curated
// delegation seed map. Both are immutable once loaded; a run never mutates
// them.
package registry

import (
	"net/url"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/openonco/policywatch/internal/model"
)

// Registry is the in-memory target catalog.
type Registry struct {
	targets []model.Target
	byPayer map[string]model.Target
	tests   []string
}

type targetsFile struct {
	Targets []model.Target `yaml:"targets"`
	Tests   []string       `yaml:"tests"`
}

// defaultTestCatalog is the MRD/ctDNA test set monitored when the catalog
// file does not name its own.
var defaultTestCatalog = []string{
	"signatera",
	"guardant-reveal",
	"clonoseq",
	"foundationone-tracker",
	"haystack-mrd",
}

// LoadTargets reads and validates the target catalog. An unreadable or
// invalid catalog is fatal to the run.
func LoadTargets(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: read targets %s", path)
	}

	var file targetsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, eris.Wrap(err, "registry: parse targets")
	}

	r := &Registry{byPayer: make(map[string]model.Target, len(file.Targets))}
	for _, t := range file.Targets {
		if err := validateTarget(t); err != nil {
			return nil, err
		}
		if _, dup := r.byPayer[t.PayerID]; dup {
			return nil, eris.Errorf("registry: duplicate payer id %q", t.PayerID)
		}
		r.byPayer[t.PayerID] = t
		r.targets = append(r.targets, t)
	}

	if len(r.targets) == 0 {
		return nil, eris.New("registry: no targets configured")
	}

	r.tests = file.Tests
	if len(r.tests) == 0 {
		r.tests = defaultTestCatalog
	}

	return r, nil
}

func validateTarget(t model.Target) error {
	if t.PayerID == "" {
		return eris.New("registry: target missing payer_id")
	}
	if t.Tier < 1 || t.Tier > 3 {
		return eris.Errorf("registry: target %s has invalid tier %d", t.PayerID, t.Tier)
	}
	urls := t.AllURLs()
	if len(urls) == 0 {
		return eris.Errorf("registry: target %s has no urls", t.PayerID)
	}
	for _, tu := range urls {
		u, err := url.Parse(tu.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return eris.Errorf("registry: target %s has invalid url %q", t.PayerID, tu.URL)
		}
	}
	for pt := range t.URLsByPageType {
		known := false
		for _, k := range model.PageTypes() {
			if pt == k {
				known = true
				break
			}
		}
		if !known {
			return eris.Errorf("registry: target %s has unknown page type %q", t.PayerID, pt)
		}
	}
	return nil
}

// TestCatalog returns the monitored test ids.
func (r *Registry) TestCatalog() []string {
	return r.tests
}

// Targets returns all targets in catalog order.
func (r *Registry) Targets() []model.Target {
	return r.targets
}

// Get returns the target for a payer, if configured.
func (r *Registry) Get(payerID string) (model.Target, bool) {
	t, ok := r.byPayer[payerID]
	return t, ok
}

// ByTier returns the targets in one tier, in catalog order.
func (r *Registry) ByTier(tier int) []model.Target {
	var out []model.Target
	for _, t := range r.targets {
		if t.Tier == tier {
			out = append(out, t)
		}
	}
	return out
}

// Tiers returns the distinct tiers present, ascending. Tier 1 crawls first.
func (r *Registry) Tiers() []int {
	seen := make(map[int]bool)
	var tiers []int
	for _, t := range r.targets {
		if !seen[t.Tier] {
			seen[t.Tier] = true
			tiers = append(tiers, t.Tier)
		}
	}
	sort.Ints(tiers)
	return tiers
}
