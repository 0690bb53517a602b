package main

import (
	"os"
	"strings"

	"github.com/go-go-golems/loom/pkg/conversation/store"
	"github.com/go-go-golems/loom/pkg/inference"
	"github.com/go-go-golems/loom/pkg/inference/completion"
	"github.com/go-go-golems/loom/pkg/inference/session"
	"github.com/go-go-golems/loom/pkg/savestate"
	"github.com/go-go-golems/loom/pkg/steps/ai/settings"
	"github.com/go-go-golems/loom/pkg/steps/ai/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// apiKeyEnv lists, per chat.api_keys entry, the environment variables it
// is read from when the settings file does not set it.
var apiKeyEnv = map[string][]string{
	"openai-api-key":     {"OPENAI_API_KEY"},
	"claude-api-key":     {"ANTHROPIC_API_KEY", "CLAUDE_API_KEY"},
	"gemini-api-key":     {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	"openrouter-api-key": {"OPENROUTER_API_KEY"},
	"anyscale-api-key":   {"ANYSCALE_API_KEY"},
	"fireworks-api-key":  {"FIREWORKS_API_KEY"},
}

type app struct {
	settings *settings.Manager
	store    store.Store
	saves    *savestate.Store
	sessions *session.Manager
	sink     inference.EventSink
}

func applyFlags(ss *settings.StepSettings) {
	if v := viper.GetString("provider"); v != "" {
		t := types.ApiType(strings.ToLower(v))
		ss.Chat.ApiType = &t
	}
	if v := viper.GetString("model"); v != "" {
		ss.Chat.ModelAlias = &v
	}
	if v := viper.GetString("engine"); v != "" {
		ss.Chat.Engine = &v
	}
	if v := viper.GetString("store"); v != "" {
		ss.Storage.Type = v
	}
	if v := viper.GetString("store-path"); v != "" {
		ss.Storage.Path = v
	}
	if v := viper.GetString("saves-dir"); v != "" {
		ss.Saves.Directory = v
	}
	for key, envs := range apiKeyEnv {
		if ss.Chat.APIKeys[key] != "" {
			continue
		}
		if v := viper.GetString(key); v != "" {
			ss.Chat.APIKeys[key] = v
			continue
		}
		for _, env := range envs {
			if v := os.Getenv(env); v != "" {
				ss.Chat.APIKeys[key] = v
				break
			}
		}
	}
}

func openStore(s *settings.StorageSettings) (store.Store, error) {
	path := s.Path
	switch store.Type(s.Type) {
	case store.TypeFile:
		if path == "" {
			path = "conversations.json"
		}
	case store.TypeSQLite:
		if path == "" {
			path = "conversations.db"
		}
	}
	return store.Open(store.Type(s.Type), path)
}

func systemPrompt(ss *settings.StepSettings) (string, error) {
	v := viper.GetString("system")
	if v == "" {
		return ss.SystemPrompt(), nil
	}
	if strings.HasPrefix(v, "@") {
		b, err := os.ReadFile(strings.TrimPrefix(v, "@"))
		if err != nil {
			return "", errors.Wrap(err, "read system prompt")
		}
		return string(b), nil
	}
	return v, nil
}

// newApp wires settings, storage, the completion engine and the session
// manager. A nil sink discards stream events.
func newApp(sink inference.EventSink) (*app, error) {
	if sink == nil {
		sink = inference.NewNullSink()
	}
	m, err := settings.NewManager(
		viper.GetString("settings"),
		settings.WithPresetsPath(viper.GetString("presets")),
		settings.WithOverride(applyFlags),
	)
	if err != nil {
		return nil, err
	}
	ss, presets := m.Current()

	st, err := openStore(ss.Storage)
	if err != nil {
		return nil, err
	}
	saves := savestate.NewStore(ss.Saves.Directory)

	e, err := completion.NewFromSettings(st, ss, presets, completion.WithSink(sink))
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	system, err := systemPrompt(ss)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	ret := &app{
		settings: m,
		store:    st,
		saves:    saves,
		sink:     sink,
		sessions: session.NewManager(e,
			session.WithSaves(saves),
			session.WithSystemPrompt(system),
		),
	}
	m.OnReload(ret.reload)

	log.Debug().
		Str("provider", e.Adapter().Name()).
		Str("model", e.DefaultOptions().Model).
		Str("store", ss.Storage.Type).
		Str("saves", saves.Dir()).
		Msg("loom initialized")
	return ret, nil
}

// reload swaps in an engine built from the new settings. The conversation
// store stays the one opened at startup.
func (a *app) reload(ss *settings.StepSettings, presets *settings.ModelPresets) {
	e, err := completion.NewFromSettings(a.store, ss, presets, completion.WithSink(a.sink))
	if err != nil {
		log.Warn().Err(err).Msg("could not rebuild completion engine, keeping previous one")
		return
	}
	system, err := systemPrompt(ss)
	if err != nil {
		log.Warn().Err(err).Msg("could not reload system prompt")
	} else {
		a.sessions.SetSystemPrompt(system)
	}
	a.sessions.SetEngine(e)
	log.Info().Str("model", e.DefaultOptions().Model).Str("provider", e.Adapter().Name()).Msg("completion engine reloaded")
}

func (a *app) Close() error {
	return a.store.Close()
}
