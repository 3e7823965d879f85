package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/oakmere/chatvault/pkg/eventbus"
)

// Settings is the on-disk configuration.
type Settings struct {
	StorePath    string            `yaml:"store_path"`
	DebounceMS   int               `yaml:"debounce_ms"`
	DefaultModel string            `yaml:"default_model"`
	KnownModels  []string          `yaml:"known_models"`
	EventBus     eventbus.Settings `yaml:"event_bus"`
}

func Default() Settings {
	return Settings{
		StorePath:    "chatvault.db",
		DebounceMS:   500,
		DefaultModel: "gpt-4o",
		KnownModels:  []string{"gpt-4o", "claude-3-5-sonnet"},
	}
}

// Load reads settings from a YAML file. An empty path yields the defaults;
// fields absent from the file keep their default values.
func Load(path string) (Settings, error) {
	s := Default()
	if path == "" {
		return s, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, errors.Wrapf(err, "config: read %s", path)
	}
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return Settings{}, errors.Wrapf(err, "config: parse %s", path)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s Settings) Validate() error {
	if s.StorePath == "" {
		return errors.New("config: store_path is empty")
	}
	if s.DebounceMS < 0 {
		return errors.New("config: debounce_ms is negative")
	}
	if s.DefaultModel == "" {
		return errors.New("config: default_model is empty")
	}
	return nil
}

func (s Settings) Debounce() time.Duration {
	return time.Duration(s.DebounceMS) * time.Millisecond
}
