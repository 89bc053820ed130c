package engine

import (
	"context"

	"github.com/JoNeedsSleep/machiave-llm/game"
)

// PhaseCompleted is the phase reported once the game is over.
const PhaseCompleted = "COMPLETED"

// Engine adjudicates the game. The orchestrator only talks to it through this
// contract; rules live entirely on the engine side.
type Engine interface {
	IsDone(ctx context.Context) (bool, error)
	// State returns the current board snapshot.
	State(ctx context.Context) (game.BoardState, error)
	// CurrentPhase returns the short phase id, e.g. "S1901M".
	CurrentPhase(ctx context.Context) (string, error)
	// OrderableLocations returns the locations of the power's units that can receive an order.
	OrderableLocations(ctx context.Context, p game.Power) ([]string, error)
	// PossibleOrders returns the legal orders of the current phase for every location.
	PossibleOrders(ctx context.Context) (game.PossibleOrders, error)
	SetOrders(ctx context.Context, p game.Power, orders []string) error
	// Process adjudicates the submitted orders and advances to the next phase.
	Process(ctx context.Context) error
	// Serialize exports the full game so a Loader can restore it.
	Serialize(ctx context.Context) ([]byte, error)
}

// Loader restores an engine from a blob produced by Engine.Serialize.
type Loader interface {
	Deserialize(ctx context.Context, blob []byte) (Engine, error)
}
