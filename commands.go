package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/JoNeedsSleep/machiave-llm/config"
	"github.com/JoNeedsSleep/machiave-llm/metrics"
	"github.com/JoNeedsSleep/machiave-llm/runner"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	configPath  string
	metricsAddr string

	// run and resume flags
	debugMode  bool
	rounds     int
	engineKind string

	// checkpoints flags
	outputJSON   bool
	historyLimit int
)

var rootCmd = &cobra.Command{
	Use:   "machiavellm",
	Short: "Diplomacy played by language models",
	Long: `machiavellm runs a game of Diplomacy in which every power is played by a
language model. Each phase starts with rounds of private negotiation, then
every power submits orders and the adjudicator processes the phase. The
engine and every power's memory are checkpointed after each phase.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a new game",
	Long: `Start a new game and play it until the engine reports it is over.

Examples:
  # Dry run with random orders against the built-in scripted engine
  machiavellm run --debug

  # Two negotiation rounds per phase against an adjudicator service
  machiavellm run --rounds 2 --engine remote --config machiavellm.yaml`,
	Args: cobra.NoArgs,
	RunE: runGame,
}

var resumeCmd = &cobra.Command{
	Use:   "resume <bucket>",
	Short: "Resume a game from a checkpoint",
	Long: `Resume a game from the checkpoint stored under an hour bucket such as
2025_03_01_14. Rounds per phase and debug mode are taken from the checkpoint
unless given on the command line.`,
	Args: cobra.ExactArgs(1),
	RunE: resumeGame,
}

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "List checkpoints",
	Long:  `List the checkpoint buckets, newest first, and the journal of recent saves.`,
	Args:  cobra.NoArgs,
	RunE:  listCheckpoints,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while a game runs")

	for _, cmd := range []*cobra.Command{runCmd, resumeCmd} {
		cmd.Flags().BoolVar(&debugMode, "debug", false, "skip negotiation and play random legal orders")
		cmd.Flags().IntVar(&rounds, "rounds", 0, "negotiation rounds per phase")
	}
	runCmd.Flags().StringVar(&engineKind, "engine", "", "engine to play against: local or remote")

	checkpointsCmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	checkpointsCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of journal entries")

	rootCmd.AddCommand(runCmd, resumeCmd, checkpointsCmd)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("engine") {
		cfg.Engine.Kind = engineKind
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.Metrics.Addr = metricsAddr
	}
	setupLogging(cfg.Log)
	return cfg, nil
}

func setupLogging(c config.LogConfig) {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if c.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	}
}

// runOptions turns the flags that were set into overrides.
func runOptions(cmd *cobra.Command) runner.Options {
	var o runner.Options
	if cmd.Flags().Changed("rounds") {
		o.Rounds = &rounds
	}
	if cmd.Flags().Changed("debug") {
		o.Debug = &debugMode
	}
	return o
}

// withMetrics serves /metrics for the lifetime of ctx when an address is set.
func withMetrics(ctx context.Context, cfg *config.Config, o *runner.Options) {
	if cfg.Metrics.Addr == "" {
		return
	}
	reg := prometheus.NewRegistry()
	o.Collector = metrics.NewPrometheus(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Msg("metrics server stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info().Str("addr", cfg.Metrics.Addr).Msg("serving metrics")
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func runGame(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd)
	defer cancel()

	o := runOptions(cmd)
	withMetrics(ctx, cfg, &o)

	result, err := runner.Start(ctx, cfg, o)
	report(result)
	return err
}

func resumeGame(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd)
	defer cancel()

	o := runOptions(cmd)
	withMetrics(ctx, cfg, &o)

	result, err := runner.Resume(ctx, cfg, args[0], o)
	report(result)
	return err
}

func report(result *runner.Result) {
	if result == nil {
		return
	}
	log.Info().Str("run_id", result.RunID).Str("state", result.State.String()).Str("report", result.ReportDir).
		Msgf("played %d phase(s)", len(result.Records))
}

func listCheckpoints(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	listing, err := runner.Checkpoints(cmd.Context(), cfg, historyLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if outputJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(listing)
	}

	if len(listing.Buckets) == 0 {
		fmt.Fprintf(out, "No checkpoints in %s\n", cfg.Checkpoint.Dir)
		return nil
	}
	fmt.Fprintln(out, "BUCKETS")
	for _, b := range listing.Buckets {
		fmt.Fprintf(out, "  %s\n", b)
	}
	if len(listing.History) == 0 {
		return nil
	}

	fmt.Fprintln(out, "\nHISTORY")
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  SAVED\tBUCKET\tPHASE\tRUN")
	for _, e := range listing.History {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", e.CreatedAt.Format(time.DateTime), e.Bucket, e.Phase, e.RunID)
	}
	return w.Flush()
}
