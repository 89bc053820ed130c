package gamemaster

import (
	"context"
	"fmt"
	"strings"

	"github.com/JoNeedsSleep/machiave-llm/game"
	"github.com/JoNeedsSleep/machiave-llm/metrics"
	"github.com/JoNeedsSleep/machiave-llm/utils"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type message struct {
	from, to game.Power
	text     string
}

func (m message) line() string {
	return fmt.Sprintf("%s to %s: %s", m.from, m.to, m.text)
}

// outbox is what one initiator produced during a round.
type outbox struct {
	messages []message
	dropped  int
	failures int
}

// negotiate runs one round. Every initiator drafts against the memory as it
// was when the round started; the messages are committed to both sides only
// once all initiators are finished, in the order of the power list.
func (gm *GameMaster) negotiate(ctx context.Context, phase string, round int, board game.BoardState, record *metrics.PhaseRecord) error {
	roundsLeft := gm.rounds - round
	outboxes := make([]outbox, len(gm.powers))

	var g errgroup.Group
	g.SetLimit(gm.parallelism)
	for i, initiator := range gm.powers {
		g.Go(func() error {
			outboxes[i] = gm.draftOutbox(ctx, phase, round, initiator, roundsLeft, board)
			return nil
		})
	}
	_ = g.Wait()

	// a cancelled round is discarded whole
	if err := ctx.Err(); err != nil {
		return err
	}

	sent := 0
	for _, box := range outboxes {
		for _, msg := range box.messages {
			line := msg.line()
			gm.memory.Append(msg.from, line)
			gm.memory.Append(msg.to, line)
			sent++
		}
		record.Dropped += box.dropped
		record.AgentFailures += box.failures
	}
	record.Messages += sent

	log.Debug().Str("phase", phase).Int("round", round+1).Msgf("negotiation round committed %d message(s)", sent)
	return nil
}

func (gm *GameMaster) draftOutbox(ctx context.Context, phase string, round int, initiator game.Power, roundsLeft int, board game.BoardState) outbox {
	var box outbox
	logger := log.With().Str("phase", phase).Int("round", round+1).Str("power", string(initiator)).Logger()

	gw, err := gm.agents.Get(initiator)
	if err != nil {
		logger.Warn().Err(err).Msg("no gateway, skipping negotiation")
		gm.metrics.AgentFailure(initiator, metrics.OpProposeTargets)
		box.failures++
		return box
	}

	memory := gm.memory.Entries(initiator)
	proposed, err := gw.ProposeTargets(ctx, initiator, roundsLeft, memory, board)
	if err != nil {
		logger.Warn().Err(err).Msg("propose targets failed, treating as no targets")
		gm.metrics.AgentFailure(initiator, metrics.OpProposeTargets)
		box.failures++
		return box
	}

	for _, target := range gm.validTargets(initiator, proposed) {
		text, err := gw.DraftMessage(ctx, initiator, target, roundsLeft, memory, board)
		if err != nil {
			logger.Warn().Err(err).Str("target", string(target)).Msg("draft message failed, treating as empty")
			gm.metrics.AgentFailure(initiator, metrics.OpDraftMessage)
			box.failures++
			text = ""
		}
		text = strings.TrimSpace(text)
		if text == "" {
			gm.metrics.MessageDropped(initiator)
			box.dropped++
			continue
		}
		gm.metrics.MessageDrafted(initiator)
		box.messages = append(box.messages, message{from: initiator, to: target, text: text})
	}
	return box
}

// validTargets drops the initiator, powers outside the game and repeats.
func (gm *GameMaster) validTargets(initiator game.Power, proposed []game.Power) []game.Power {
	targets := make([]game.Power, 0, len(proposed))
	for _, p := range utils.Unique(proposed) {
		if p != initiator && utils.Contains(gm.powers, p) {
			targets = append(targets, p)
		}
	}
	return targets
}

// collectOrders asks every power for its orders. Engine lookups happen up
// front so only gateway calls run concurrently.
func (gm *GameMaster) collectOrders(ctx context.Context, phase string, possible game.PossibleOrders, board game.BoardState, record *metrics.PhaseRecord) (game.OrderSet, error) {
	restricted := make([]game.PossibleOrders, len(gm.powers))
	for i, p := range gm.powers {
		locs, err := gm.engine.OrderableLocations(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("phase %s: failed to get orderable locations of %s: %w", phase, p, err)
		}
		restricted[i] = possible.Restrict(locs)
	}

	chosen := make([][]string, len(gm.powers))
	failed := make([]bool, len(gm.powers))
	var g errgroup.Group
	g.SetLimit(gm.parallelism)
	for i, p := range gm.powers {
		g.Go(func() error {
			logger := log.With().Str("phase", phase).Str("power", string(p)).Logger()
			gw, err := gm.agents.Get(p)
			if err == nil {
				chosen[i], err = gw.DecideOrders(ctx, p, gm.memory.Entries(p), restricted[i], board)
			}
			if err != nil {
				logger.Warn().Err(err).Msg("decide orders failed, submitting no orders")
				gm.metrics.AgentFailure(p, metrics.OpDecideOrders)
				chosen[i] = nil
				failed[i] = true
				return nil
			}
			chosen[i] = game.FilterOrders(chosen[i])
			logger.Debug().Strs("orders", chosen[i]).Msg("orders decided")
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	orders := make(game.OrderSet, len(gm.powers))
	for i, p := range gm.powers {
		orders[p] = chosen[i]
		if failed[i] {
			record.AgentFailures++
		}
	}
	return orders, nil
}
