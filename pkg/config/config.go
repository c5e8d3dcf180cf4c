// Package config resolves the ambient settings every other package in this
// module depends on: where the shared filesystem namespace lives and the
// per-pattern defaults services are created with when a caller doesn't
// override them.
//
// The load order mirrors the teacher's layered config: built-in defaults,
// then an optional config file, then environment variable overrides, with
// later layers winning.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	yaml "github.com/jesseduffield/yaml"
)

// EnvConfigFile overrides the default config file path.
const EnvConfigFile = "ICEORYX2_CONFIG"

// EnvRoot overrides the default filesystem root under which services,
// ports and locks are created.
const EnvRoot = "ICEORYX2_ROOT"

// Global contains the settings shared by every Node created in this
// process. Fields are PascalCase in Go but camelCase in the on-disk
// config.yml, matching the teacher's `UserConfig` convention.
type Global struct {
	// Root is the filesystem directory under which services/, ports/ and
	// their lock files are created. See EXTERNAL INTERFACES §6.
	Root string `yaml:"root,omitempty"`

	// CreationTimeoutMillis bounds the adaptive-backoff wait in
	// Service.Open while a static artifact is `BeingCreated` by a peer.
	CreationTimeoutMillis int64 `yaml:"creationTimeoutMillis,omitempty"`

	// Event holds the default per-pattern settings new Event services are
	// created with when the caller supplies zero values.
	Event EventDefaults `yaml:"event,omitempty"`

	// Debug enables verbose JSON logging (level from LOG_LEVEL, debug by
	// default) to iceoryx2.log under Root, instead of the production
	// logger, which discards everything below error level.
	Debug bool `yaml:"debug,omitempty"`
}

// EventDefaults are the StaticConfig fields of spec §3 for the Event
// messaging pattern.
type EventDefaults struct {
	MaxNotifiers     uint32 `yaml:"maxNotifiers,omitempty"`
	MaxListeners     uint32 `yaml:"maxListeners,omitempty"`
	EventIDMaxValue  uint64 `yaml:"eventIdMaxValue,omitempty"`
	DeadlineDisabled bool   `yaml:"deadlineDisabled,omitempty"`
}

// Default returns the built-in configuration, used as the base that a
// config file and environment variables are layered on top of.
func Default() Global {
	return Global{
		Root:                  defaultRoot(),
		CreationTimeoutMillis: 5000,
		Event: EventDefaults{
			MaxNotifiers:    8,
			MaxListeners:    8,
			EventIDMaxValue: 255,
		},
	}
}

func defaultRoot() string {
	return filepath.Join(string(filepath.Separator)+"tmp", "iceoryx2", strconv.Itoa(os.Getuid()))
}

// Load resolves the effective configuration: defaults, then an optional
// YAML file (either ICEORYX2_CONFIG or the platform default path), then
// ICEORYX2_ROOT overriding Root last since it's the most operationally
// common override.
func Load() (Global, error) {
	cfg := Default()

	path := configFilePath()
	if content, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return cfg, err
		}
	} else if !os.IsNotExist(err) {
		return cfg, err
	}

	if root := os.Getenv(EnvRoot); root != "" {
		cfg.Root = root
	}

	return normalize(cfg), nil
}

func configFilePath() string {
	if p := os.Getenv(EnvConfigFile); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "iceoryx2", "config.yml")
}

// normalize clamps 0-valued capacities up to 1 per spec §3 invariants
// ("creation rounds up from 0 with a warning" — the warning itself is the
// caller's responsibility since normalize has no logger).
func normalize(cfg Global) Global {
	if cfg.Event.MaxNotifiers == 0 {
		cfg.Event.MaxNotifiers = 1
	}
	if cfg.Event.MaxListeners == 0 {
		cfg.Event.MaxListeners = 1
	}
	return cfg
}
