package gamemaster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JoNeedsSleep/machiave-llm/agent"
	"github.com/JoNeedsSleep/machiave-llm/checkpoint"
	"github.com/JoNeedsSleep/machiave-llm/checkpoint/journal"
	"github.com/JoNeedsSleep/machiave-llm/engine"
	"github.com/JoNeedsSleep/machiave-llm/game"
	"github.com/JoNeedsSleep/machiave-llm/memory"
	"github.com/JoNeedsSleep/machiave-llm/meta"
	"github.com/JoNeedsSleep/machiave-llm/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrCheckpointWrite halts a run whose phase could not be persisted.
var ErrCheckpointWrite = errors.New("checkpoint write failed")

// State is the position of the orchestrator inside a phase.
type State int

const (
	AwaitingNegotiation State = iota
	AwaitingOrders
	Processing
	Done
)

func (s State) String() string {
	switch s {
	case AwaitingNegotiation:
		return "awaiting_negotiation"
	case AwaitingOrders:
		return "awaiting_orders"
	case Processing:
		return "processing"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Saver persists a checkpoint and returns its key.
type Saver interface {
	Save(ctx context.Context, state []byte, book *memory.Book, meta *checkpoint.Metadata) (string, error)
}

// Journal records successful checkpoints.
type Journal interface {
	Record(ctx context.Context, entry journal.Entry) error
}

// GameMaster runs the negotiation and order loop, one engine phase at a time.
// It owns the memory logs of every power.
type GameMaster struct {
	engine      engine.Engine
	powers      []game.Power
	agents      *agent.Registry
	saver       Saver
	journal     Journal
	metrics     metrics.Collector
	memory      *memory.Book
	rounds      int
	debug       bool
	parallelism int
	maxPhases   int
	runID       string
	now         func() time.Time

	mu      sync.Mutex
	state   State
	records []metrics.PhaseRecord
}

// New panics on a nil collaborator or an empty or duplicated power list.
func New(eng engine.Engine, powers []game.Power, agents *agent.Registry, saver Saver, options ...Option) *GameMaster {
	if eng == nil || agents == nil || saver == nil {
		panic("game master needs an engine, an agent registry and a checkpoint saver")
	}
	if len(powers) == 0 {
		panic("need at least one power")
	}
	seen := make(map[game.Power]bool, len(powers))
	for _, p := range powers {
		if seen[p] {
			panic(fmt.Sprintf("power %s listed twice", p))
		}
		seen[p] = true
	}

	gm := &GameMaster{ // Default values
		engine:      eng,
		powers:      append([]game.Power(nil), powers...),
		agents:      agents,
		saver:       saver,
		metrics:     metrics.NewDummyCollector(),
		rounds:      meta.ROUNDS_PER_PHASE,
		parallelism: meta.PARALLELISM,
		maxPhases:   meta.MAX_PHASES,
		now:         time.Now,
	}
	for _, option := range options {
		option(gm)
	}
	if gm.memory == nil {
		gm.memory = memory.New(gm.powers)
	} else {
		gm.memory.Ensure(gm.powers)
	}
	if gm.runID == "" {
		gm.runID = uuid.NewString()
	}
	gm.state = gm.phaseEntryState()
	return gm
}

// phaseEntryState is where every phase starts: negotiation is skipped in
// debug mode or when no rounds are configured.
func (gm *GameMaster) phaseEntryState() State {
	if gm.debug || gm.rounds == 0 {
		return AwaitingOrders
	}
	return AwaitingNegotiation
}

func (gm *GameMaster) State() State {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	return gm.state
}

func (gm *GameMaster) setState(s State) {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	gm.state = s
}

func (gm *GameMaster) Memory() *memory.Book {
	return gm.memory
}

func (gm *GameMaster) RunID() string {
	return gm.runID
}

func (gm *GameMaster) Powers() []game.Power {
	return append([]game.Power(nil), gm.powers...)
}

// Records returns one record per processed phase, oldest first.
func (gm *GameMaster) Records() []metrics.PhaseRecord {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	return append([]metrics.PhaseRecord(nil), gm.records...)
}

// RunGame plays phases until the engine reports the game is over, the phase
// limit is reached or an unrecoverable error occurs. Engine errors and
// checkpoint write failures stop the run; agent failures never do.
func (gm *GameMaster) RunGame(ctx context.Context) error {
	log.Info().Str("run_id", gm.runID).Msgf("starting run with %d powers, %d negotiation round(s) per phase, debug=%t",
		len(gm.powers), gm.rounds, gm.debug)

	for step := 1; ; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := gm.engine.IsDone(ctx)
		if err != nil {
			return fmt.Errorf("failed to query engine: %w", err)
		}
		if done {
			gm.setState(Done)
			log.Info().Str("run_id", gm.runID).Msgf("game is over after %d phase(s)", step-1)
			return nil
		}
		if gm.maxPhases > 0 && step > gm.maxPhases {
			log.Info().Str("run_id", gm.runID).Msgf("stopped after %d phase(s) (phase limit)", gm.maxPhases)
			return nil
		}
		if err := gm.playPhase(ctx, step); err != nil {
			return err
		}
	}
}

func (gm *GameMaster) playPhase(ctx context.Context, step int) error {
	start := gm.now()
	phase, err := gm.engine.CurrentPhase(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current phase: %w", err)
	}
	logger := log.With().Str("run_id", gm.runID).Str("phase", phase).Logger()
	gm.metrics.PhaseStarted(phase)

	// fetched fresh every phase, never carried over
	board, err := gm.engine.State(ctx)
	if err != nil {
		return fmt.Errorf("phase %s: failed to get board state: %w", phase, err)
	}
	possible, err := gm.engine.PossibleOrders(ctx)
	if err != nil {
		return fmt.Errorf("phase %s: failed to get possible orders: %w", phase, err)
	}

	record := metrics.PhaseRecord{Step: step, Phase: phase, StartTime: start}

	if gm.phaseEntryState() == AwaitingNegotiation {
		gm.setState(AwaitingNegotiation)
		for round := 0; round < gm.rounds; round++ {
			if err := gm.negotiate(ctx, phase, round, board, &record); err != nil {
				return err
			}
		}
	} else if gm.debug {
		logger.Debug().Msg("debug mode, skipping negotiation")
	}

	gm.setState(AwaitingOrders)
	orders, err := gm.collectOrders(ctx, phase, possible, board, &record)
	if err != nil {
		return err
	}
	for _, p := range gm.powers {
		if len(orders[p]) == 0 {
			continue
		}
		if err := gm.engine.SetOrders(ctx, p, orders[p]); err != nil {
			return fmt.Errorf("phase %s: failed to set orders of %s: %w", phase, p, err)
		}
		gm.metrics.OrdersSubmitted(p, len(orders[p]))
	}
	record.Orders = orders.Count()

	gm.setState(Processing)
	gm.appendAll(fmt.Sprintf("After a round of negotiations in %s, orders are as follows: %s", phase, orders.Summary(gm.powers)))
	if err := gm.engine.Process(ctx); err != nil {
		return fmt.Errorf("phase %s: failed to process: %w", phase, err)
	}
	newBoard, err := gm.engine.State(ctx)
	if err != nil {
		return fmt.Errorf("phase %s: failed to get board state after processing: %w", phase, err)
	}
	gm.appendAll(fmt.Sprintf("After a round of orders at the end of %s, the board states are as follows: %s", phase, newBoard))

	next, err := gm.engine.CurrentPhase(ctx)
	if err != nil {
		return fmt.Errorf("phase %s: failed to get next phase: %w", phase, err)
	}
	bucket, err := gm.checkpoint(ctx, phase, next)
	if err != nil {
		return err
	}

	record.NextPhase = next
	record.Bucket = bucket
	record.Duration = gm.now().Sub(start)
	gm.mu.Lock()
	gm.records = append(gm.records, record)
	gm.state = gm.phaseEntryState()
	gm.mu.Unlock()
	gm.metrics.PhaseCompleted(phase, record.Duration)

	logger.Info().Str("bucket", bucket).Msgf("phase processed: %d message(s), %d order(s), next phase %s",
		record.Messages, record.Orders, next)
	return nil
}

func (gm *GameMaster) appendAll(line string) {
	for _, p := range gm.powers {
		gm.memory.Append(p, line)
	}
}

// checkpoint persists the engine and the memory logs. The metadata carries
// the phase the engine is now in, so a resume starts exactly there.
func (gm *GameMaster) checkpoint(ctx context.Context, phase, next string) (string, error) {
	blob, err := gm.engine.Serialize(ctx)
	if err != nil {
		gm.metrics.CheckpointFailed()
		return "", fmt.Errorf("%w: phase %s: serialize engine: %w", ErrCheckpointWrite, phase, err)
	}
	now := gm.now()
	md := &checkpoint.Metadata{
		Phase:          next,
		RoundsPerPhase: gm.rounds,
		DebugMode:      gm.debug,
		Timestamp:      now.Unix(),
		RunID:          gm.runID,
	}
	bucket, err := gm.saver.Save(ctx, blob, gm.memory, md)
	if err != nil {
		gm.metrics.CheckpointFailed()
		return "", fmt.Errorf("%w: phase %s: %w", ErrCheckpointWrite, phase, err)
	}
	gm.metrics.CheckpointWritten()

	if gm.journal != nil {
		entry := journal.Entry{RunID: gm.runID, Bucket: bucket, Phase: next, CreatedAt: now}
		if err := gm.journal.Record(ctx, entry); err != nil {
			// bucket artifacts are the source of truth
			log.Warn().Err(err).Str("bucket", bucket).Msg("failed to journal checkpoint")
		}
	}
	return bucket, nil
}
