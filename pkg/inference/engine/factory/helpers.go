package factory

import (
	"github.com/go-go-golems/loom/pkg/inference/engine"
	"github.com/go-go-golems/loom/pkg/steps/ai/settings"
)

// NewAdapterFromStepSettings creates an adapter directly from step settings.
func NewAdapterFromStepSettings(ss *settings.StepSettings, presets *settings.ModelPresets) (engine.Adapter, error) {
	return NewStandardAdapterFactory().CreateAdapter(ss, presets)
}

// NewAdapterFromManager creates an adapter from the current settings of m.
func NewAdapterFromManager(m *settings.Manager) (engine.Adapter, error) {
	ss, presets := m.Current()
	return NewAdapterFromStepSettings(ss, presets)
}
