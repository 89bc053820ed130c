// Package config holds the run configuration: which powers play, which model
// speaks for each of them, where checkpoints go and how the engine is reached.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/JoNeedsSleep/machiave-llm/game"
	"github.com/JoNeedsSleep/machiave-llm/llm"
	"github.com/JoNeedsSleep/machiave-llm/meta"
	"github.com/rs/zerolog"
)

var ErrInvalid = errors.New("invalid configuration")

const (
	EngineLocal  = "local"
	EngineRemote = "remote"
)

type Config struct {
	Game       GameConfig             `koanf:"game"`
	Checkpoint CheckpointConfig       `koanf:"checkpoint"`
	Engine     EngineConfig           `koanf:"engine"`
	Models     map[string]ModelConfig `koanf:"models"`
	// Assignments maps a power to a key of Models.
	Assignments map[string]string `koanf:"assignments"`
	Log         LogConfig         `koanf:"log"`
	Metrics     MetricsConfig     `koanf:"metrics"`
}

type GameConfig struct {
	Powers         []string `koanf:"powers"`
	RoundsPerPhase int      `koanf:"rounds_per_phase"`
	Debug          bool     `koanf:"debug"`
	Parallelism    int      `koanf:"parallelism"`
	MaxPhases      int      `koanf:"max_phases"`
	// Seed drives the random agents of debug mode. 0 picks one from the clock.
	Seed uint64 `koanf:"seed"`
}

type CheckpointConfig struct {
	Dir string `koanf:"dir"`
	// Journal is the sqlite file recording every save. Defaults to a file inside Dir.
	Journal string `koanf:"journal"`
}

type EngineConfig struct {
	Kind    string        `koanf:"kind"`
	URL     string        `koanf:"url"`
	GameID  string        `koanf:"game_id"`
	Timeout time.Duration `koanf:"timeout"`
}

// ModelConfig is one named model endpoint. The name is a config key and
// cannot contain dots; Model carries the provider's identifier.
type ModelConfig struct {
	Provider          string  `koanf:"provider"`
	Model             string  `koanf:"model"`
	BaseURL           string  `koanf:"base_url"`
	APIKeyEnv         string  `koanf:"api_key_env"`
	SystemPrompt      string  `koanf:"system_prompt"`
	Temperature       float64 `koanf:"temperature"`
	MaxTokens         int     `koanf:"max_tokens"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	MaxRetries        int     `koanf:"max_retries"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type MetricsConfig struct {
	// Addr serves /metrics while a run is active. Empty disables it.
	Addr      string `koanf:"addr"`
	ReportDir string `koanf:"report_dir"`
}

func defaultModel() ModelConfig {
	return ModelConfig{
		Provider:     meta.DEFAULT_PROVIDER,
		Model:        meta.DEFAULT_MODEL,
		APIKeyEnv:    meta.DEFAULT_API_KEY_ENV,
		SystemPrompt: meta.SYSTEM_PROMPT,
		Temperature:  meta.TEMPERATURE,
		MaxTokens:    meta.MAX_TOKENS,
		MaxRetries:   meta.MAX_RETRIES,
	}
}

// Default is the seven standard powers on a single OpenAI model.
func Default() Config {
	powers := make([]string, 0, len(game.StandardPowers))
	assignments := make(map[string]string, len(game.StandardPowers))
	for _, p := range game.StandardPowers {
		powers = append(powers, string(p))
		assignments[string(p)] = meta.DEFAULT_MODEL
	}
	return Config{
		Game: GameConfig{
			Powers:         powers,
			RoundsPerPhase: meta.ROUNDS_PER_PHASE,
			Parallelism:    meta.PARALLELISM,
			MaxPhases:      meta.MAX_PHASES,
		},
		Checkpoint: CheckpointConfig{
			Dir: meta.CHECKPOINT_DIR,
		},
		Engine: EngineConfig{
			Kind:    EngineLocal,
			Timeout: meta.ENGINE_TIMEOUT,
		},
		Models:      map[string]ModelConfig{meta.DEFAULT_MODEL: defaultModel()},
		Assignments: assignments,
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			ReportDir: meta.REPORT_DIR,
		},
	}
}

func (c Config) Powers() []game.Power {
	return game.ParsePowers(c.Game.Powers)
}

// JournalPath resolves the journal location.
func (c Config) JournalPath() string {
	if c.Checkpoint.Journal != "" {
		return c.Checkpoint.Journal
	}
	return filepath.Join(c.Checkpoint.Dir, meta.JOURNAL_FILE)
}

// ModelFor returns the model assigned to p. Assignment keys match the power
// name case-insensitively.
func (c Config) ModelFor(p game.Power) (string, ModelConfig, error) {
	for key, name := range c.Assignments {
		if game.ParsePower(key) != p {
			continue
		}
		m, ok := c.Models[name]
		if !ok {
			return "", ModelConfig{}, fmt.Errorf("%s is assigned to unknown model %q", p, name)
		}
		return name, m, nil
	}
	return "", ModelConfig{}, fmt.Errorf("no model assigned to %s", p)
}

// Options resolves the API key from the environment.
func (m ModelConfig) Options() llm.Options {
	opts := llm.Options{
		Provider:     m.Provider,
		Model:        m.Model,
		BaseURL:      m.BaseURL,
		SystemPrompt: m.SystemPrompt,
		Temperature:  m.Temperature,
		MaxTokens:    m.MaxTokens,
	}
	if m.APIKeyEnv != "" {
		opts.APIKey = os.Getenv(m.APIKeyEnv)
	}
	return opts
}

func (c Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	powers := c.Powers()
	if len(powers) == 0 {
		invalid("game.powers must name at least one power")
	}
	if c.Game.RoundsPerPhase < 0 {
		invalid("game.rounds_per_phase must not be negative, got %d", c.Game.RoundsPerPhase)
	}
	if c.Game.Parallelism < 1 {
		invalid("game.parallelism must be at least 1, got %d", c.Game.Parallelism)
	}
	if c.Game.MaxPhases < 0 {
		invalid("game.max_phases must not be negative, got %d", c.Game.MaxPhases)
	}
	if c.Checkpoint.Dir == "" {
		invalid("checkpoint.dir is required")
	}

	switch c.Engine.Kind {
	case EngineLocal:
	case EngineRemote:
		if c.Engine.URL == "" {
			invalid("engine.url is required for a remote engine")
		}
	default:
		invalid("engine.kind must be %q or %q, got %q", EngineLocal, EngineRemote, c.Engine.Kind)
	}
	if c.Engine.Timeout < 0 {
		invalid("engine.timeout must not be negative")
	}

	for name, m := range c.Models {
		if m.Provider == "" {
			invalid("models.%s.provider is required", name)
		}
		if m.Model == "" {
			invalid("models.%s.model is required", name)
		}
		if m.Temperature < 0 {
			invalid("models.%s.temperature must not be negative", name)
		}
		if m.MaxTokens < 1 {
			invalid("models.%s.max_tokens must be positive", name)
		}
		if m.RequestsPerSecond < 0 {
			invalid("models.%s.requests_per_second must not be negative", name)
		}
	}
	// random agents need no model
	if !c.Game.Debug {
		for _, p := range powers {
			if _, _, err := c.ModelFor(p); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		invalid("log.level: %v", err)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		invalid("log.format must be console or json, got %q", c.Log.Format)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}
