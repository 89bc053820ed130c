package runner

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/JoNeedsSleep/machiave-llm/agent"
	"github.com/JoNeedsSleep/machiave-llm/checkpoint"
	"github.com/JoNeedsSleep/machiave-llm/checkpoint/journal"
	"github.com/JoNeedsSleep/machiave-llm/config"
	"github.com/JoNeedsSleep/machiave-llm/engine"
	"github.com/JoNeedsSleep/machiave-llm/game"
	"github.com/JoNeedsSleep/machiave-llm/llm"
	"github.com/JoNeedsSleep/machiave-llm/meta"
	"github.com/JoNeedsSleep/machiave-llm/utils"
	"github.com/rs/zerolog/log"
)

func httpClient(cfg *config.Config, o Options) *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return &http.Client{Timeout: cfg.Engine.Timeout}
}

func newEngine(ctx context.Context, cfg *config.Config, o Options) (engine.Engine, error) {
	if cfg.Engine.Kind != config.EngineRemote {
		return engine.NewLocal(engine.StandardOpening()), nil
	}
	client := httpClient(cfg, o)
	if cfg.Engine.GameID != "" {
		return engine.NewRemote(cfg.Engine.URL, cfg.Engine.GameID, client), nil
	}
	remote, err := engine.RemoteLoader{BaseURL: cfg.Engine.URL, Client: client}.Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create game on %s: %w", cfg.Engine.URL, err)
	}
	log.Info().Str("game_id", remote.GameID()).Msg("created remote game")
	return remote, nil
}

func engineLoader(cfg *config.Config, o Options) engine.Loader {
	if cfg.Engine.Kind == config.EngineRemote {
		return engine.RemoteLoader{BaseURL: cfg.Engine.URL, Client: httpClient(cfg, o)}
	}
	return engine.LocalLoader{}
}

// NewAgents builds the gateway registry of a run. Debug runs get seeded random
// agents; otherwise every power talks to the model assigned to it.
func NewAgents(cfg *config.Config, powers []game.Power, debug bool, providers llm.Providers) (*agent.Registry, error) {
	if debug {
		seed := cfg.Game.Seed
		if seed == 0 {
			seed = uint64(time.Now().UnixNano())
		}
		return agent.NewRegistry(func(p game.Power) (agent.Gateway, error) {
			// distinct but reproducible stream per power
			return agent.NewRandom(seed + uint64(utils.FindIndex(powers, p))), nil
		}), nil
	}

	if providers == nil {
		providers = llm.DefaultProviders()
	}
	return agent.NewRegistry(func(p game.Power) (agent.Gateway, error) {
		name, model, err := cfg.ModelFor(p)
		if err != nil {
			return nil, err
		}
		completer, err := providers.New(model.Options())
		if err != nil {
			return nil, err
		}
		completer = llm.WithRateLimit(completer, model.RequestsPerSecond, 1)
		completer = llm.WithRetry(completer, uint(max(model.MaxRetries, 1)), meta.RETRY_INITIAL_INTERVAL)
		log.Debug().Str("power", string(p)).Str("model", name).Msg("gateway ready")
		return agent.NewLLMAgent(completer, powers), nil
	}), nil
}

// openJournal returns nil when the journal cannot be opened; checkpoints
// are still written without it.
func openJournal(ctx context.Context, cfg *config.Config) (*journal.Journal, func()) {
	path := cfg.JournalPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		log.Warn().Err(err).Msg("journal disabled")
		return nil, func() {}
	}
	j, err := journal.Open(path)
	if err != nil {
		log.Warn().Err(err).Msg("journal disabled")
		return nil, func() {}
	}
	if err := j.Migrate(ctx); err != nil {
		_ = j.Close()
		log.Warn().Err(err).Msg("journal disabled")
		return nil, func() {}
	}
	return j, func() {
		if err := j.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close journal")
		}
	}
}

// Listing is what the checkpoints command prints.
type Listing struct {
	Buckets []string        `json:"buckets"`
	History []journal.Entry `json:"history"`
}

// Checkpoints lists the bucket keys, newest first, and up to limit journal
// entries. A missing journal yields an empty history.
func Checkpoints(ctx context.Context, cfg *config.Config, limit int) (*Listing, error) {
	buckets, err := checkpoint.NewStore(cfg.Checkpoint.Dir).List(ctx)
	if err != nil {
		return nil, err
	}
	listing := &Listing{Buckets: buckets, History: []journal.Entry{}}

	if _, err := os.Stat(cfg.JournalPath()); err != nil {
		return listing, nil
	}
	j, err := journal.Open(cfg.JournalPath())
	if err != nil {
		return nil, err
	}
	defer j.Close()
	if err := j.Migrate(ctx); err != nil {
		return nil, err
	}
	listing.History, err = j.History(ctx, "", limit)
	if err != nil {
		return nil, err
	}
	return listing, nil
}
