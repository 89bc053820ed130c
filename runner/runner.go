// Package runner assembles a game run from configuration: engine, agents,
// checkpoint store, journal and metrics. It is what the CLI commands call.
package runner

import (
	"context"
	"fmt"
	"net/http"

	"github.com/JoNeedsSleep/machiave-llm/checkpoint"
	"github.com/JoNeedsSleep/machiave-llm/config"
	"github.com/JoNeedsSleep/machiave-llm/engine"
	"github.com/JoNeedsSleep/machiave-llm/gamemaster"
	"github.com/JoNeedsSleep/machiave-llm/llm"
	"github.com/JoNeedsSleep/machiave-llm/memory"
	"github.com/JoNeedsSleep/machiave-llm/metrics"
	"github.com/rs/zerolog/log"
)

// Options carries what the configuration file cannot: collaborators and
// command line overrides. Nil fields fall back to defaults.
type Options struct {
	Providers  llm.Providers
	Collector  metrics.Collector
	HTTPClient *http.Client
	// Rounds and Debug take precedence over the configuration and, on resume,
	// over the checkpoint metadata.
	Rounds *int
	Debug  *bool
}

// Result summarizes a finished or interrupted run.
type Result struct {
	RunID     string
	State     gamemaster.State
	Records   []metrics.PhaseRecord
	ReportDir string
}

type settings struct {
	rounds int
	debug  bool
	runID  string
	memory *memory.Book
}

func settingsFrom(cfg *config.Config, o Options) settings {
	s := settings{
		rounds: cfg.Game.RoundsPerPhase,
		debug:  cfg.Game.Debug,
	}
	if o.Rounds != nil {
		s.rounds = *o.Rounds
	}
	if o.Debug != nil {
		s.debug = *o.Debug
	}
	return s
}

// Start plays a new game.
func Start(ctx context.Context, cfg *config.Config, o Options) (*Result, error) {
	eng, err := newEngine(ctx, cfg, o)
	if err != nil {
		return nil, err
	}
	return play(ctx, cfg, o, eng, settingsFrom(cfg, o))
}

// Resume continues the game saved in bucket. Rounds, debug mode and run id
// come from the checkpoint unless overridden.
func Resume(ctx context.Context, cfg *config.Config, bucket string, o Options) (*Result, error) {
	store := checkpoint.NewStore(cfg.Checkpoint.Dir)
	cp, err := store.Load(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint %s: %w", bucket, err)
	}

	eng, err := engineLoader(cfg, o).Deserialize(ctx, cp.State)
	if err != nil {
		return nil, fmt.Errorf("failed to restore engine from %s: %w", bucket, err)
	}

	s := settingsFrom(cfg, o)
	if !cp.Metadata.IsZero() {
		if o.Rounds == nil {
			s.rounds = cp.Metadata.RoundsPerPhase
		}
		if o.Debug == nil {
			s.debug = cp.Metadata.DebugMode
		}
		s.runID = cp.Metadata.RunID
	}
	s.memory = cp.Memory

	log.Info().Str("bucket", bucket).Str("phase", cp.Metadata.Phase).Str("run_id", s.runID).Msg("resuming from checkpoint")
	return play(ctx, cfg, o, eng, s)
}

func play(ctx context.Context, cfg *config.Config, o Options, eng engine.Engine, s settings) (*Result, error) {
	powers := cfg.Powers()

	agents, err := NewAgents(cfg, powers, s.debug, o.Providers)
	if err != nil {
		return nil, err
	}
	if err := agents.Warm(powers); err != nil {
		return nil, err
	}

	options := []gamemaster.Option{
		gamemaster.WithRounds(s.rounds),
		gamemaster.WithDebug(s.debug),
		gamemaster.WithParallelism(cfg.Game.Parallelism),
		gamemaster.WithMaxPhases(cfg.Game.MaxPhases),
		gamemaster.WithCollector(o.Collector),
		gamemaster.WithRunID(s.runID),
		gamemaster.WithMemory(s.memory),
	}

	j, closeJournal := openJournal(ctx, cfg)
	defer closeJournal()
	if j != nil {
		options = append(options, gamemaster.WithJournal(j))
	}

	store := checkpoint.NewStore(cfg.Checkpoint.Dir)
	gm := gamemaster.New(eng, powers, agents, store, options...)

	runErr := gm.RunGame(ctx)

	// the report covers the phases played even when the run stopped early
	result := &Result{RunID: gm.RunID(), State: gm.State(), Records: gm.Records()}
	dir, err := writeReport(cfg, result)
	if err != nil {
		log.Warn().Err(err).Msg("failed to write phase report")
	}
	result.ReportDir = dir

	return result, runErr
}

func writeReport(cfg *config.Config, result *Result) (string, error) {
	writer, err := metrics.NewWriter(cfg.Metrics.ReportDir, result.RunID)
	if err != nil {
		return "", err
	}
	if err := writer.WritePhaseRecords(result.Records); err != nil {
		return "", err
	}
	log.Info().Str("dir", writer.Dir()).Msgf("stored %d phase record(s)", len(result.Records))
	return writer.Dir(), nil
}
