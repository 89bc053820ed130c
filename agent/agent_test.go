package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/JoNeedsSleep/machiave-llm/game"
	"github.com/JoNeedsSleep/machiave-llm/llm/llmtest"
	"github.com/stretchr/testify/require"
)

var trio = []game.Power{game.France, game.England, game.Germany}

func TestParseTargets(t *testing.T) {
	t.Run("drops initiator and non-participants", func(t *testing.T) {
		got := ParseTargets("FRANCE, ENGLAND, RUSSIA, GERMANY", game.France, trio)
		require.Equal(t, []game.Power{game.England, game.Germany}, got)
	})

	t.Run("deduplicates in order of appearance", func(t *testing.T) {
		got := ParseTargets("GERMANY first, then ENGLAND, and GERMANY again", game.France, trio)
		require.Equal(t, []game.Power{game.Germany, game.England}, got)
	})

	t.Run("ignores tokens outside the closed set", func(t *testing.T) {
		got := ParseTargets("I'd talk to PRUSSIA or Burgundy", game.France, trio)
		require.Empty(t, got)
	})

	t.Run("custom participants are matched", func(t *testing.T) {
		custom := []game.Power{"NORTH", "SOUTH"}
		got := ParseTargets("SOUTH,NORTH", "NORTH", custom)
		require.Equal(t, []game.Power{"SOUTH"}, got)
	})
}

func TestParseOrders(t *testing.T) {
	response := "Sure! My orders:\nA PAR - BUR\n F BRE - MAO\nI will hold Marseilles.\nA MAR H"
	require.Equal(t, []string{"A PAR - BUR", "F BRE - MAO", "A MAR H"}, ParseOrders(response))
	require.Empty(t, ParseOrders(""))
}

func TestLLMAgent(t *testing.T) {
	ctx := context.Background()
	board := game.BoardState(`{"phase":"S1901M"}`)
	memory := []string{"ENGLAND to FRANCE: truce?", "GERMANY to FRANCE: hello"}

	t.Run("propose targets", func(t *testing.T) {
		script := llmtest.Texts("ENGLAND,GERMANY,FRANCE")
		a := NewLLMAgent(script, trio)

		targets, err := a.ProposeTargets(ctx, game.France, 2, memory, board)
		require.NoError(t, err)
		require.Equal(t, []game.Power{game.England, game.Germany}, targets)

		prompt := script.Prompts()[0]
		require.Contains(t, prompt, "You are playing FRANCE")
		require.Contains(t, prompt, "2 negotiation round(s) left")
		require.Contains(t, prompt, `{"phase":"S1901M"}`)
		require.Contains(t, prompt, "ENGLAND to FRANCE: truce?\nGERMANY to FRANCE: hello")
		require.Contains(t, prompt, "FRANCE, ENGLAND, GERMANY")
	})

	t.Run("draft message is trimmed", func(t *testing.T) {
		script := llmtest.Texts("  Let's split Belgium.  \n")
		a := NewLLMAgent(script, trio)

		msg, err := a.DraftMessage(ctx, game.France, game.England, 1, memory, board)
		require.NoError(t, err)
		require.Equal(t, "Let's split Belgium.", msg)
		require.Contains(t, script.Prompts()[0], "private message to ENGLAND")
	})

	t.Run("order prompt lists only restricted locations", func(t *testing.T) {
		script := llmtest.Texts("A PAR - BUR\nnonsense\n")
		a := NewLLMAgent(script, trio)
		all := game.PossibleOrders{"PAR": {"A PAR H", "A PAR - BUR"}, "MAR": {}}
		restricted := all.Restrict([]string{"PAR", "MAR"})

		orders, err := a.DecideOrders(ctx, game.France, memory, restricted, board)
		require.NoError(t, err)
		require.Equal(t, []string{"A PAR - BUR"}, orders)

		prompt := script.Prompts()[0]
		require.Contains(t, prompt, "PAR:\n  - A PAR H\n  - A PAR - BUR")
		require.NotContains(t, prompt, "MAR")
	})

	t.Run("completion errors are returned", func(t *testing.T) {
		script := llmtest.NewScripted(llmtest.Response{Err: errors.New("quota")})
		a := NewLLMAgent(script, trio)
		_, err := a.DecideOrders(ctx, game.France, nil, game.PossibleOrders{}, board)
		require.EqualError(t, err, "quota")
	})
}

func TestRandom(t *testing.T) {
	ctx := context.Background()
	orders := game.PossibleOrders{
		"PAR": {"A PAR H", "A PAR - BUR", "A PAR - PIC"},
		"BRE": {"F BRE H", "F BRE - MAO"},
		"MAR": {},
	}

	first, err := NewRandom(7).DecideOrders(ctx, game.France, nil, orders, nil)
	require.NoError(t, err)
	require.Len(t, first, 2, "one order per location with legal orders")
	require.Contains(t, orders["BRE"], first[0])
	require.Contains(t, orders["PAR"], first[1])

	second, err := NewRandom(7).DecideOrders(ctx, game.France, nil, orders, nil)
	require.NoError(t, err)
	require.Equal(t, first, second, "same seed, same orders")

	targets, err := NewRandom(1).ProposeTargets(ctx, game.France, 1, nil, nil)
	require.NoError(t, err)
	require.Empty(t, targets)
}

func TestRegistry(t *testing.T) {
	built := map[game.Power]int{}
	r := NewRegistry(func(p game.Power) (Gateway, error) {
		built[p]++
		if p == game.Turkey {
			return nil, errors.New("no model for TURKEY")
		}
		return NewRandom(1), nil
	})

	g1, err := r.Get(game.France)
	require.NoError(t, err)
	g2, err := r.Get(game.France)
	require.NoError(t, err)
	require.Same(t, g1, g2)
	require.Equal(t, 1, built[game.France], "gateways are built lazily, once per power")
	require.Zero(t, built[game.England])

	require.NoError(t, r.Warm(trio))
	require.Equal(t, 1, built[game.England])

	_, err = r.Get(game.Turkey)
	require.ErrorContains(t, err, "no model for TURKEY")
	require.Error(t, r.Warm([]game.Power{game.Turkey}))
}
