package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/JoNeedsSleep/machiave-llm/meta"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// Load reads the YAML file at path, if any, then applies MACHIAVELLM_*
// environment overrides:
//
//	MACHIAVELLM_GAME_ROUNDS_PER_PHASE=2 -> game.rounds_per_phase
//	MACHIAVELLM_GAME_POWERS=FRANCE,ENGLAND -> game.powers
//	MACHIAVELLM_LOG_LEVEL=debug -> log.level
//
// Unset values fall back to Default.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("%w: config file %s is larger than %d bytes", ErrInvalid, path, maxConfigFileSize)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(meta.ENV_PREFIX, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	applyDefaults(k, &cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps MACHIAVELLM_SECTION_FIELD_NAME to section.field_name. Comma
// separated lists become slices.
func envKey(key, value string) (string, any) {
	key = strings.ToLower(strings.TrimPrefix(key, meta.ENV_PREFIX))
	section, field, ok := strings.Cut(key, "_")
	if !ok || section == "" || field == "" {
		return "", nil
	}
	if section == "game" && field == "powers" {
		return section + "." + field, strings.Split(value, ",")
	}
	return section + "." + field, value
}

// applyDefaults fills what the sources left unset. Keys whose zero value is
// meaningful are checked for presence instead of zero.
func applyDefaults(k *koanf.Koanf, cfg *Config) {
	def := Default()

	if len(cfg.Game.Powers) == 0 {
		cfg.Game.Powers = def.Game.Powers
	}
	if !k.Exists("game.rounds_per_phase") {
		cfg.Game.RoundsPerPhase = def.Game.RoundsPerPhase
	}
	if cfg.Game.Parallelism == 0 {
		cfg.Game.Parallelism = def.Game.Parallelism
	}
	if cfg.Checkpoint.Dir == "" {
		cfg.Checkpoint.Dir = def.Checkpoint.Dir
	}
	if cfg.Engine.Kind == "" {
		cfg.Engine.Kind = def.Engine.Kind
	}
	if cfg.Engine.Timeout == 0 {
		cfg.Engine.Timeout = def.Engine.Timeout
	}

	if len(cfg.Models) == 0 {
		cfg.Models = def.Models
	}
	fallback := defaultModel()
	for name, m := range cfg.Models {
		if m.SystemPrompt == "" {
			m.SystemPrompt = fallback.SystemPrompt
		}
		if !k.Exists("models." + name + ".temperature") {
			m.Temperature = fallback.Temperature
		}
		if m.MaxTokens == 0 {
			m.MaxTokens = fallback.MaxTokens
		}
		if m.MaxRetries == 0 {
			m.MaxRetries = fallback.MaxRetries
		}
		cfg.Models[name] = m
	}
	if len(cfg.Assignments) == 0 {
		cfg.Assignments = def.Assignments
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}
	if cfg.Metrics.ReportDir == "" {
		cfg.Metrics.ReportDir = def.Metrics.ReportDir
	}
}
