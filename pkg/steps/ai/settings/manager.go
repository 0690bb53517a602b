package settings

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Manager holds the current settings and presets. Reload re-reads both files
// and swaps them in atomically, keeping the previous values when the new
// files do not parse or validate. Nothing here watches files on its own.
type Manager struct {
	mu          sync.RWMutex
	path        string
	presetsPath string
	overrides   []func(*StepSettings)
	settings    *StepSettings
	presets     *ModelPresets
	listeners   []func(*StepSettings, *ModelPresets)
}

type ManagerOption func(*Manager)

// WithOverride registers a function applied after every load, used to layer
// command line flags over the file.
func WithOverride(f func(*StepSettings)) ManagerOption {
	return func(m *Manager) {
		m.overrides = append(m.overrides, f)
	}
}

func WithPresetsPath(path string) ManagerOption {
	return func(m *Manager) {
		m.presetsPath = path
	}
}

// NewManager loads settings from path. An empty path uses the defaults.
func NewManager(path string, options ...ManagerOption) (*Manager, error) {
	m := &Manager{path: path}
	for _, o := range options {
		o(m)
	}
	s, p, err := m.load()
	if err != nil {
		return nil, err
	}
	m.settings = s
	m.presets = p
	return m, nil
}

// NewStaticManager wraps already built settings. Reload is a no-op beyond
// re-applying overrides.
func NewStaticManager(s *StepSettings, p *ModelPresets) *Manager {
	if p == nil {
		p = NewModelPresets()
	}
	return &Manager{settings: s, presets: p}
}

func (m *Manager) load() (*StepSettings, *ModelPresets, error) {
	var s *StepSettings
	if m.path == "" {
		if m.settings != nil {
			s = m.settings.Clone()
		} else {
			s = NewStepSettings()
		}
	} else {
		f, err := os.Open(m.path)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "open settings %s", m.path)
		}
		defer func() {
			_ = f.Close()
		}()
		s, err = NewStepSettingsFromYAML(f)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "parse settings %s", m.path)
		}
	}
	for _, o := range m.overrides {
		o(s)
	}
	if err := s.Validate(); err != nil {
		return nil, nil, errors.Wrap(err, "invalid settings")
	}

	p := m.presets
	if m.presetsPath != "" || p == nil {
		var err error
		p, err = LoadModelPresets(m.presetsPath)
		if err != nil {
			return nil, nil, err
		}
	}
	return s, p, nil
}

// Current returns a copy of the active settings and the active presets.
func (m *Manager) Current() (*StepSettings, *ModelPresets) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings.Clone(), m.presets
}

func (m *Manager) Reload() error {
	m.mu.RLock()
	s, p, err := m.load()
	m.mu.RUnlock()
	if err != nil {
		log.Warn().Err(err).Str("path", m.path).Msg("settings reload failed, keeping previous settings")
		return err
	}

	m.mu.Lock()
	m.settings = s
	m.presets = p
	listeners := append([]func(*StepSettings, *ModelPresets){}, m.listeners...)
	m.mu.Unlock()

	log.Info().Str("path", m.path).Str("presets", m.presetsPath).Msg("settings reloaded")
	for _, l := range listeners {
		l(s.Clone(), p)
	}
	return nil
}

// OnReload registers a callback invoked after each successful reload.
func (m *Manager) OnReload(f func(*StepSettings, *ModelPresets)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, f)
}

// Paths returns the files a watcher should observe.
func (m *Manager) Paths() []string {
	var ret []string
	if m.path != "" {
		ret = append(ret, m.path)
	}
	if m.presetsPath != "" {
		ret = append(ret, m.presetsPath)
	}
	return ret
}
