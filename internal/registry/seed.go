package registry

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/openonco/policywatch/internal/model"
)

type seedFile struct {
	Delegations []model.DelegationFact `yaml:"delegations"`
}

// LoadDelegationSeed reads the manually curated delegation map: one fact
// per payer, stating which LBM manages which lines of business. A missing
// file is not an error; a deployment may run on detection alone.
func LoadDelegationSeed(path string) (map[string]model.DelegationFact, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]model.DelegationFact{}, nil
		}
		return nil, eris.Wrapf(err, "registry: read delegation seed %s", path)
	}

	var file seedFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, eris.Wrap(err, "registry: parse delegation seed")
	}

	seed := make(map[string]model.DelegationFact, len(file.Delegations))
	for _, f := range file.Delegations {
		if f.PayerID == "" || f.DelegatesTo == "" {
			return nil, eris.New("registry: seed delegation missing payer_id or delegates_to")
		}
		if _, dup := seed[f.PayerID]; dup {
			return nil, eris.Errorf("registry: duplicate seed delegation for payer %q", f.PayerID)
		}
		if f.EvidenceLevel == "" {
			f.EvidenceLevel = model.EvidenceConfirmed
		}
		seed[f.PayerID] = f
	}

	return seed, nil
}
