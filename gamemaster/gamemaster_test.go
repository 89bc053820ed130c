package gamemaster

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/JoNeedsSleep/machiave-llm/agent"
	"github.com/JoNeedsSleep/machiave-llm/checkpoint"
	"github.com/JoNeedsSleep/machiave-llm/checkpoint/journal"
	"github.com/JoNeedsSleep/machiave-llm/engine"
	"github.com/JoNeedsSleep/machiave-llm/game"
	"github.com/JoNeedsSleep/machiave-llm/memory"
	"github.com/stretchr/testify/require"
)

var trio = []game.Power{game.France, game.England, game.Germany}

func trioScenario(phases ...string) engine.Scenario {
	if len(phases) == 0 {
		phases = []string{"S1901M", "F1901M"}
	}
	return engine.Scenario{
		Phases: phases,
		Units: map[game.Power][]string{
			game.France:  {"PAR"},
			game.England: {"LON"},
			game.Germany: {"BER"},
		},
		Orders: game.PossibleOrders{
			"PAR": {"A PAR H", "A PAR - BUR"},
			"LON": {"F LON H", "F LON - NTH"},
			"BER": {"A BER H", "A BER - KIE"},
		},
	}
}

type proposal struct {
	initiator  game.Power
	roundsLeft int
	memoryLen  int
}

// scriptedGateway plays every power. By default each power targets all the
// others, writes a short greeting and holds.
type scriptedGateway struct {
	mu        sync.Mutex
	targets   func(initiator game.Power) []game.Power
	draft     func(from, to game.Power) (string, error)
	orders    func(p game.Power, possible game.PossibleOrders) ([]string, error)
	proposals []proposal
	decisions map[game.Power]game.PossibleOrders
}

func newScriptedGateway() *scriptedGateway {
	return &scriptedGateway{decisions: map[game.Power]game.PossibleOrders{}}
}

func (g *scriptedGateway) ProposeTargets(_ context.Context, initiator game.Power, roundsLeft int, memory []string, _ game.BoardState) ([]game.Power, error) {
	g.mu.Lock()
	g.proposals = append(g.proposals, proposal{initiator: initiator, roundsLeft: roundsLeft, memoryLen: len(memory)})
	g.mu.Unlock()

	if g.targets != nil {
		return g.targets(initiator), nil
	}
	var others []game.Power
	for _, p := range trio {
		if p != initiator {
			others = append(others, p)
		}
	}
	return others, nil
}

func (g *scriptedGateway) DraftMessage(_ context.Context, from, to game.Power, _ int, _ []string, _ game.BoardState) (string, error) {
	if g.draft != nil {
		return g.draft(from, to)
	}
	return fmt.Sprintf("hello %s", strings.ToLower(string(to))), nil
}

func (g *scriptedGateway) DecideOrders(_ context.Context, p game.Power, _ []string, possible game.PossibleOrders, _ game.BoardState) ([]string, error) {
	g.mu.Lock()
	g.decisions[p] = possible
	g.mu.Unlock()

	if g.orders != nil {
		return g.orders(p, possible)
	}
	var orders []string
	for _, loc := range possible.Locations() {
		orders = append(orders, possible[loc][0])
	}
	return orders, nil
}

func (g *scriptedGateway) Proposals() []proposal {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]proposal(nil), g.proposals...)
}

type savedCheckpoint struct {
	state    []byte
	memory   map[game.Power][]string
	metadata checkpoint.Metadata
}

type recordingSaver struct {
	mu    sync.Mutex
	saves []savedCheckpoint
	err   error
}

func (s *recordingSaver) Save(_ context.Context, state []byte, book *memory.Book, meta *checkpoint.Metadata) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.saves = append(s.saves, savedCheckpoint{state: state, memory: book.Snapshot(), metadata: *meta})
	return fmt.Sprintf("bucket-%d", len(s.saves)), nil
}

type recordingJournal struct {
	entries []journal.Entry
	err     error
}

func (j *recordingJournal) Record(_ context.Context, entry journal.Entry) error {
	if j.err != nil {
		return j.err
	}
	j.entries = append(j.entries, entry)
	return nil
}

func TestRunGame(t *testing.T) {
	ctx := context.Background()
	eng := engine.NewLocal(trioScenario())
	gw := newScriptedGateway()
	saver := &recordingSaver{}
	clock := time.Date(2025, 3, 1, 14, 0, 0, 0, time.UTC)

	gm := New(eng, trio, agent.Static(gw), saver,
		WithRunID("run-1"),
		WithClock(func() time.Time { return clock }))
	require.Equal(t, AwaitingNegotiation, gm.State())

	require.NoError(t, gm.RunGame(ctx))
	require.Equal(t, Done, gm.State())

	// one adjudication per phase, each with every power's orders
	history := eng.History()
	require.Len(t, history, 2)
	require.Equal(t, "S1901M", history[0].Phase)
	require.Equal(t, []string{"A PAR H"}, history[0].Orders[game.France])
	require.Equal(t, []string{"F LON H"}, history[0].Orders[game.England])
	require.Equal(t, []string{"A BER H"}, history[0].Orders[game.Germany])
	require.Empty(t, history[0].Rejected)

	// one checkpoint per phase, stamped with the phase that comes next
	require.Len(t, saver.saves, 2)
	require.Equal(t, "F1901M", saver.saves[0].metadata.Phase)
	require.Equal(t, engine.PhaseCompleted, saver.saves[1].metadata.Phase)
	require.Equal(t, 1, saver.saves[0].metadata.RoundsPerPhase)
	require.False(t, saver.saves[0].metadata.DebugMode)
	require.Equal(t, "run-1", saver.saves[0].metadata.RunID)
	require.Equal(t, clock.Unix(), saver.saves[0].metadata.Timestamp)

	// 2 sent + 2 received + 2 phase summaries, twice
	for _, p := range trio {
		require.Equal(t, 12, gm.Memory().Len(p), p)
	}
	require.Len(t, saver.saves[0].memory[game.France], 6)

	france := gm.Memory().Entries(game.France)
	require.Contains(t, france, "FRANCE to ENGLAND: hello england")
	require.Contains(t, france, "ENGLAND to FRANCE: hello france")
	require.NotContains(t, france, "ENGLAND to GERMANY: hello germany")
	require.Equal(t, "After a round of negotiations in S1901M, orders are as follows: FRANCE: [A PAR H]; ENGLAND: [F LON H]; GERMANY: [A BER H]", france[4])
	require.True(t, strings.HasPrefix(france[5], "After a round of orders at the end of S1901M, the board states are as follows: {"))
	require.Contains(t, france[5], `"phase":"F1901M"`)

	records := gm.Records()
	require.Len(t, records, 2)
	require.Equal(t, 1, records[0].Step)
	require.Equal(t, "S1901M", records[0].Phase)
	require.Equal(t, "F1901M", records[0].NextPhase)
	require.Equal(t, 6, records[0].Messages)
	require.Equal(t, 3, records[0].Orders)
	require.Equal(t, "bucket-1", records[0].Bucket)
}

func TestOrdersRestrictedToOwnUnits(t *testing.T) {
	gw := newScriptedGateway()
	gm := New(engine.NewLocal(trioScenario("S1901M")), trio, agent.Static(gw), &recordingSaver{}, WithRounds(0))
	require.NoError(t, gm.RunGame(context.Background()))

	require.Equal(t, game.PossibleOrders{"PAR": {"A PAR H", "A PAR - BUR"}}, gw.decisions[game.France])
	require.Equal(t, game.PossibleOrders{"LON": {"F LON H", "F LON - NTH"}}, gw.decisions[game.England])
}

func TestEmptyDraftsAreDropped(t *testing.T) {
	gw := newScriptedGateway()
	gw.draft = func(from, to game.Power) (string, error) {
		switch from {
		case game.England:
			return "  \n ", nil
		case game.Germany:
			return "", errors.New("model unavailable")
		}
		return "hi", nil
	}
	gm := New(engine.NewLocal(trioScenario("S1901M")), trio, agent.Static(gw), &recordingSaver{})
	require.NoError(t, gm.RunGame(context.Background()))

	records := gm.Records()
	require.Len(t, records, 1)
	require.Equal(t, 2, records[0].Messages)
	require.Equal(t, 4, records[0].Dropped)
	require.Equal(t, 2, records[0].AgentFailures)

	england := gm.Memory().Entries(game.England)
	require.Equal(t, []string{"FRANCE to ENGLAND: hi"}, england[:1])
	require.Len(t, england, 3)
}

func TestTargetsAreFiltered(t *testing.T) {
	gw := newScriptedGateway()
	gw.targets = func(initiator game.Power) []game.Power {
		if initiator != game.France {
			return nil
		}
		return []game.Power{game.France, game.Italy, game.England, game.England}
	}
	gm := New(engine.NewLocal(trioScenario("S1901M")), trio, agent.Static(gw), &recordingSaver{})
	require.NoError(t, gm.RunGame(context.Background()))

	require.Equal(t, 1, gm.Records()[0].Messages)
	require.Equal(t, "FRANCE to ENGLAND: hello england", gm.Memory().Entries(game.France)[0])
	require.Equal(t, "FRANCE to ENGLAND: hello england", gm.Memory().Entries(game.England)[0])
	// only the two phase summaries
	require.Equal(t, 2, gm.Memory().Len(game.Germany))
}

func TestRoundsCommitTogether(t *testing.T) {
	gw := newScriptedGateway()
	gm := New(engine.NewLocal(trioScenario("S1901M")), trio, agent.Static(gw), &recordingSaver{},
		WithRounds(2), WithParallelism(3))
	require.NoError(t, gm.RunGame(context.Background()))

	proposals := gw.Proposals()
	require.Len(t, proposals, 6)
	for _, prop := range proposals[:3] {
		require.Equal(t, 2, prop.roundsLeft)
		require.Equal(t, 0, prop.memoryLen, "first round sees no message of its own round")
	}
	for _, prop := range proposals[3:] {
		require.Equal(t, 1, prop.roundsLeft)
		require.Equal(t, 4, prop.memoryLen, "second round sees all of the first")
	}
	require.Equal(t, 12, gm.Records()[0].Messages)
}

func TestMemoryOnlyGrows(t *testing.T) {
	gw := newScriptedGateway()
	book := memory.New(trio)
	book.Append(game.France, "remembered from an earlier run")
	saver := &recordingSaver{}
	gm := New(engine.NewLocal(trioScenario()), trio, agent.Static(gw), saver, WithMemory(book))
	require.NoError(t, gm.RunGame(context.Background()))

	first := saver.saves[0].memory
	second := saver.saves[1].memory
	for _, p := range trio {
		require.Equal(t, first[p], second[p][:len(first[p])], "earlier entries are never rewritten")
	}
	require.Equal(t, "remembered from an earlier run", gm.Memory().Entries(game.France)[0])
}

func TestDebugModeSkipsNegotiation(t *testing.T) {
	gw := newScriptedGateway()
	saver := &recordingSaver{}
	gm := New(engine.NewLocal(trioScenario()), trio, agent.Static(gw), saver, WithDebug(true), WithRounds(3))
	require.Equal(t, AwaitingOrders, gm.State())

	require.NoError(t, gm.RunGame(context.Background()))
	require.Empty(t, gw.Proposals())
	require.Len(t, saver.saves, 2)
	require.True(t, saver.saves[0].metadata.DebugMode)
	require.Equal(t, 4, gm.Memory().Len(game.Germany))
}

func TestZeroRoundsStartsAwaitingOrders(t *testing.T) {
	gm := New(engine.NewLocal(trioScenario()), trio, agent.Static(newScriptedGateway()), &recordingSaver{}, WithRounds(0))
	require.Equal(t, AwaitingOrders, gm.State())
}

func TestAgentFailuresSubmitNoOrders(t *testing.T) {
	gw := newScriptedGateway()
	gw.orders = func(p game.Power, possible game.PossibleOrders) ([]string, error) {
		switch p {
		case game.England:
			return nil, errors.New("rate limited")
		case game.Germany:
			return []string{"I will hold", " A BER - KIE "}, nil
		}
		return []string{"A PAR - BUR"}, nil
	}
	eng := engine.NewLocal(trioScenario("S1901M"))
	gm := New(eng, trio, agent.Static(gw), &recordingSaver{}, WithRounds(0))
	require.NoError(t, gm.RunGame(context.Background()))

	orders := eng.History()[0].Orders
	require.Equal(t, []string{"A PAR - BUR"}, orders[game.France])
	require.NotContains(t, orders, game.England)
	require.Equal(t, []string{"A BER - KIE"}, orders[game.Germany])
	require.Equal(t, 1, gm.Records()[0].AgentFailures)
	require.Contains(t, gm.Memory().Entries(game.England)[0], "ENGLAND: []")
}

func TestGatewayFactoryFailure(t *testing.T) {
	gw := newScriptedGateway()
	agents := agent.NewRegistry(func(p game.Power) (agent.Gateway, error) {
		if p == game.Germany {
			return nil, errors.New("no api key")
		}
		return gw, nil
	})
	gm := New(engine.NewLocal(trioScenario("S1901M")), trio, agents, &recordingSaver{})
	require.NoError(t, gm.RunGame(context.Background()))
	require.Equal(t, 4, gm.Records()[0].Messages)
	require.Equal(t, 2, gm.Records()[0].AgentFailures)
}

func TestCheckpointFailureHaltsRun(t *testing.T) {
	eng := engine.NewLocal(trioScenario())
	saver := &recordingSaver{err: errors.New("disk full")}
	gm := New(eng, trio, agent.Static(newScriptedGateway()), saver)

	err := gm.RunGame(context.Background())
	require.ErrorIs(t, err, ErrCheckpointWrite)
	require.ErrorContains(t, err, "disk full")
	require.Len(t, eng.History(), 1)
	require.Empty(t, gm.Records())
}

func TestJournal(t *testing.T) {
	t.Run("records every checkpoint", func(t *testing.T) {
		j := &recordingJournal{}
		gm := New(engine.NewLocal(trioScenario()), trio, agent.Static(newScriptedGateway()), &recordingSaver{},
			WithJournal(j), WithRunID("run-7"))
		require.NoError(t, gm.RunGame(context.Background()))
		require.Len(t, j.entries, 2)
		require.Equal(t, "run-7", j.entries[1].RunID)
		require.Equal(t, "bucket-2", j.entries[1].Bucket)
		require.Equal(t, engine.PhaseCompleted, j.entries[1].Phase)
	})

	t.Run("failures do not stop the run", func(t *testing.T) {
		j := &recordingJournal{err: errors.New("database is locked")}
		gm := New(engine.NewLocal(trioScenario()), trio, agent.Static(newScriptedGateway()), &recordingSaver{}, WithJournal(j))
		require.NoError(t, gm.RunGame(context.Background()))
		require.Equal(t, Done, gm.State())
	})
}

func TestMaxPhases(t *testing.T) {
	eng := engine.NewLocal(trioScenario("S1901M", "F1901M", "W1901A"))
	gm := New(eng, trio, agent.Static(newScriptedGateway()), &recordingSaver{}, WithMaxPhases(2))
	require.NoError(t, gm.RunGame(context.Background()))
	require.Len(t, eng.History(), 2)
	require.NotEqual(t, Done, gm.State())
}

func TestCancelledRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	eng := engine.NewLocal(trioScenario())
	gm := New(eng, trio, agent.Static(newScriptedGateway()), &recordingSaver{})
	require.ErrorIs(t, gm.RunGame(ctx), context.Canceled)
	require.Empty(t, eng.History())
}

func TestNewValidation(t *testing.T) {
	eng := engine.NewLocal(trioScenario())
	agents := agent.Static(newScriptedGateway())
	require.Panics(t, func() { New(eng, nil, agents, &recordingSaver{}) })
	require.Panics(t, func() { New(eng, []game.Power{game.France, game.France}, agents, &recordingSaver{}) })
	require.Panics(t, func() { New(nil, trio, agents, &recordingSaver{}) })

	gm := New(eng, trio, agents, &recordingSaver{})
	require.NotEmpty(t, gm.RunID())
	require.Equal(t, trio, gm.Powers())
}

func TestResumeFromStore(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewStore(t.TempDir())
	eng := engine.NewLocal(trioScenario("S1901M", "F1901M", "W1901A"))

	first := New(eng, trio, agent.Static(agent.NewRandom(1)), store, WithDebug(true), WithMaxPhases(1), WithRunID("run-3"))
	require.NoError(t, first.RunGame(ctx))

	keys, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	cp, err := store.Load(ctx, keys[0])
	require.NoError(t, err)
	require.Equal(t, "F1901M", cp.Metadata.Phase)
	require.True(t, cp.Metadata.DebugMode)

	restored, err := engine.LocalLoader{}.Deserialize(ctx, cp.State)
	require.NoError(t, err)
	phase, err := restored.CurrentPhase(ctx)
	require.NoError(t, err)
	require.Equal(t, cp.Metadata.Phase, phase)

	second := New(restored, trio, agent.Static(agent.NewRandom(2)), store,
		WithMemory(cp.Memory), WithDebug(cp.Metadata.DebugMode), WithRunID(cp.Metadata.RunID))
	require.NoError(t, second.RunGame(ctx))
	require.Equal(t, Done, second.State())
	require.Equal(t, "run-3", second.RunID())
	// two lines from the first run, four from the resumed one
	require.Equal(t, 6, second.Memory().Len(game.France))
}
