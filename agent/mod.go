package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/JoNeedsSleep/machiave-llm/game"
)

// Gateway is the decision-maker behind one power. Every call may fail; the
// caller treats a failure like an empty answer.
type Gateway interface {
	// ProposeTargets picks the powers the initiator wants to message this round.
	ProposeTargets(ctx context.Context, initiator game.Power, roundsLeft int, memory []string, board game.BoardState) ([]game.Power, error)
	// DraftMessage writes one message from initiator to target. An empty message means none is sent.
	DraftMessage(ctx context.Context, initiator, target game.Power, roundsLeft int, memory []string, board game.BoardState) (string, error)
	// DecideOrders chooses orders among the legal ones for the power's units.
	DecideOrders(ctx context.Context, power game.Power, memory []string, orders game.PossibleOrders, board game.BoardState) ([]string, error)
}

// Factory builds the gateway of a power.
type Factory func(p game.Power) (Gateway, error)

// Registry hands out one gateway per power, built on first use and reused for
// the rest of the run.
type Registry struct {
	mu       sync.Mutex
	factory  Factory
	gateways map[game.Power]Gateway
}

func NewRegistry(factory Factory) *Registry {
	if factory == nil {
		panic("agent registry needs a factory")
	}
	return &Registry{
		factory:  factory,
		gateways: make(map[game.Power]Gateway),
	}
}

// Static returns a registry serving the same gateway to every power.
func Static(g Gateway) *Registry {
	return NewRegistry(func(game.Power) (Gateway, error) { return g, nil })
}

func (r *Registry) Get(p game.Power) (Gateway, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.gateways[p]; ok {
		return g, nil
	}
	g, err := r.factory(p)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway for %s: %w", p, err)
	}
	r.gateways[p] = g
	return g, nil
}

// Warm builds the gateways of all powers up front so configuration errors
// surface before the first phase.
func (r *Registry) Warm(powers []game.Power) error {
	for _, p := range powers {
		if _, err := r.Get(p); err != nil {
			return err
		}
	}
	return nil
}
