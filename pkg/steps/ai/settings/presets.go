package settings

import (
	"os"
	"sort"

	"github.com/go-go-golems/loom/pkg/inference/engine"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type PresetGlobals struct {
	DefaultModelAlias string `yaml:"default_model_alias,omitempty" json:"default_model_alias,omitempty"`
	MaxTokens         *int   `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	ContextLength     *int   `yaml:"context_length,omitempty" json:"context_length,omitempty"`
}

type ModelPreset struct {
	APIName     string `yaml:"api_name" json:"api_name"`
	Company     string `yaml:"company,omitempty" json:"company,omitempty"`
	DisplayName string `yaml:"display_name,omitempty" json:"display_name,omitempty"`
	MaxTokens   *int   `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
}

// ModelPresets maps short aliases to provider model names. The file format is
// shared between YAML and JSON.
type ModelPresets struct {
	Globals PresetGlobals          `yaml:"globals" json:"globals"`
	Models  map[string]ModelPreset `yaml:"models" json:"models"`
}

func NewModelPresets() *ModelPresets {
	return &ModelPresets{Models: map[string]ModelPreset{}}
}

// LoadModelPresets reads a presets file. A missing file yields empty presets.
func LoadModelPresets(path string) (*ModelPresets, error) {
	ret := NewModelPresets()
	if path == "" {
		return ret, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ret, nil
		}
		return nil, errors.Wrapf(err, "read model presets %s", path)
	}
	if err := yaml.Unmarshal(b, ret); err != nil {
		return nil, errors.Wrapf(err, "parse model presets %s", path)
	}
	if ret.Models == nil {
		ret.Models = map[string]ModelPreset{}
	}
	return ret, nil
}

// Resolve returns the preset registered under alias.
func (p *ModelPresets) Resolve(alias string) (ModelPreset, error) {
	if p != nil && alias != "" {
		if rec, ok := p.Models[alias]; ok && rec.APIName != "" {
			return rec, nil
		}
	}
	return ModelPreset{}, errors.Wrapf(engine.ErrUnknownModelAlias, "%q", alias)
}

// DefaultAlias picks the first alias of preferredCompany, then the global
// default, then the alphabetically first alias. It returns "" when there are
// no presets.
func (p *ModelPresets) DefaultAlias(preferredCompany string) string {
	if p == nil || len(p.Models) == 0 {
		return ""
	}
	aliases := make([]string, 0, len(p.Models))
	for alias := range p.Models {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	if preferredCompany != "" {
		for _, alias := range aliases {
			if p.Models[alias].Company == preferredCompany {
				return alias
			}
		}
	}
	if d := p.Globals.DefaultModelAlias; d != "" {
		if _, ok := p.Models[d]; ok {
			return d
		}
	}
	return aliases[0]
}
