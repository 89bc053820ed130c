package agent

import (
	"context"
	"sync"

	"github.com/JoNeedsSleep/machiave-llm/game"
	"golang.org/x/exp/rand"
)

// Random never negotiates and orders every unit with a random legal order.
// Used in debug mode to exercise the loop without model calls.
type Random struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandom(seed uint64) *Random {
	return &Random{rng: rand.New(rand.NewSource(seed))}
}

var _ Gateway = (*Random)(nil)

func (r *Random) ProposeTargets(context.Context, game.Power, int, []string, game.BoardState) ([]game.Power, error) {
	return nil, nil
}

func (r *Random) DraftMessage(context.Context, game.Power, game.Power, int, []string, game.BoardState) (string, error) {
	return "", nil
}

func (r *Random) DecideOrders(_ context.Context, _ game.Power, _ []string, orders game.PossibleOrders, _ game.BoardState) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	chosen := make([]string, 0, len(orders))
	// sorted so a seed always yields the same orders
	for _, loc := range orders.Locations() {
		legal := orders[loc]
		if len(legal) == 0 {
			continue
		}
		chosen = append(chosen, legal[r.rng.Intn(len(legal))])
	}
	return chosen, nil
}
