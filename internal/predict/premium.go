package predict

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/numisdata/lotvalue/internal/model"
)

// DefaultPremium is the markup over metal value applied when a metal has no
// entry in the premium table.
const DefaultPremium = 1.15

// PremiumTable maps metals to numismatic premium multipliers.
type PremiumTable struct {
	Default float64                 `yaml:"default"`
	Metals  map[model.Metal]float64 `yaml:"metals"`
}

// DefaultPremiums returns a table with only the default multiplier.
func DefaultPremiums() PremiumTable {
	return PremiumTable{Default: DefaultPremium}
}

// For returns the multiplier for m.
func (t PremiumTable) For(m model.Metal) float64 {
	if v, ok := t.Metals[m]; ok && v > 0 {
		return v
	}
	if t.Default > 0 {
		return t.Default
	}
	return DefaultPremium
}

// LoadPremiums reads a YAML premium table:
//
//	default: 1.15
//	metals:
//	  Au: 1.08
//	  Ag: 1.30
func LoadPremiums(path string) (PremiumTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PremiumTable{}, eris.Wrapf(err, "predict: read premiums %s", path)
	}
	t := DefaultPremiums()
	if err := yaml.Unmarshal(data, &t); err != nil {
		return PremiumTable{}, eris.Wrapf(err, "predict: parse premiums %s", path)
	}
	if t.Default < 1 {
		return PremiumTable{}, eris.Errorf("predict: default premium %.2f must be at least 1", t.Default)
	}
	for m, v := range t.Metals {
		if !m.Valid() {
			return PremiumTable{}, eris.Errorf("predict: unknown metal %q in premiums", m)
		}
		if v < 1 {
			return PremiumTable{}, eris.Errorf("predict: premium for %s is %.2f, must be at least 1", m, v)
		}
	}
	return t, nil
}
