package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/JoNeedsSleep/machiave-llm/game"
	"github.com/JoNeedsSleep/machiave-llm/utils"
)

// Scenario drives a Local engine: a fixed phase schedule, the units of each
// power and the legal orders per location. The same orders stay legal in
// every phase.
type Scenario struct {
	Phases []string                `json:"phases"`
	Units  map[game.Power][]string `json:"units"`
	Orders game.PossibleOrders     `json:"orders"`
}

// Adjudication is what a Local engine recorded for one processed phase.
type Adjudication struct {
	Phase    string        `json:"phase"`
	Orders   game.OrderSet `json:"orders"`
	Rejected game.OrderSet `json:"rejected,omitempty"`
}

// Local is an in-process engine that replays a Scenario. It does not resolve
// conflicts; processing a phase records the accepted orders and moves on.
type Local struct {
	mu       sync.Mutex
	scenario Scenario
	phase    int
	pending  game.OrderSet
	rejected game.OrderSet
	history  []Adjudication
}

func NewLocal(scenario Scenario) *Local {
	if len(scenario.Phases) == 0 {
		panic("scenario needs at least one phase")
	}
	if scenario.Orders == nil {
		scenario.Orders = game.PossibleOrders{}
	}
	return &Local{
		scenario: scenario,
		pending:  game.OrderSet{},
		rejected: game.OrderSet{},
	}
}

var _ Engine = (*Local)(nil)

func (e *Local) done() bool {
	return e.phase >= len(e.scenario.Phases)
}

func (e *Local) currentPhase() string {
	if e.done() {
		return PhaseCompleted
	}
	return e.scenario.Phases[e.phase]
}

func (e *Local) IsDone(context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done(), nil
}

func (e *Local) CurrentPhase(context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentPhase(), nil
}

type localBoard struct {
	Phase    string                  `json:"phase"`
	Units    map[game.Power][]string `json:"units"`
	Previous *Adjudication           `json:"previous,omitempty"`
}

func (e *Local) State(context.Context) (game.BoardState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	board := localBoard{
		Phase: e.currentPhase(),
		Units: e.scenario.Units,
	}
	if n := len(e.history); n > 0 {
		board.Previous = &e.history[n-1]
	}
	data, err := json.Marshal(board)
	if err != nil {
		return nil, fmt.Errorf("failed to encode board: %w", err)
	}
	return game.BoardState(data), nil
}

func (e *Local) OrderableLocations(_ context.Context, p game.Power) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done() {
		return []string{}, nil
	}
	return append([]string{}, e.scenario.Units[p]...), nil
}

func (e *Local) PossibleOrders(context.Context) (game.PossibleOrders, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(game.PossibleOrders, len(e.scenario.Orders))
	for loc, orders := range e.scenario.Orders {
		out[loc] = append([]string{}, orders...)
	}
	return out, nil
}

// SetOrders replaces the power's orders for this phase. Orders that are not
// legal for one of the power's units are dropped, as an adjudicator would.
func (e *Local) SetOrders(_ context.Context, p game.Power, orders []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.done() {
		return fmt.Errorf("game is over - no orders allowed")
	}
	if _, ok := e.scenario.Units[p]; !ok {
		return fmt.Errorf("unknown power %s", p)
	}

	accepted := []string{}
	rejected := []string{}
	for _, order := range orders {
		if e.legal(p, order) {
			accepted = append(accepted, order)
		} else {
			rejected = append(rejected, order)
		}
	}
	e.pending[p] = accepted
	if len(rejected) > 0 {
		e.rejected[p] = rejected
	} else {
		delete(e.rejected, p)
	}
	return nil
}

func (e *Local) legal(p game.Power, order string) bool {
	for _, loc := range e.scenario.Units[p] {
		if utils.Contains(e.scenario.Orders[loc], order) {
			return true
		}
	}
	return false
}

func (e *Local) Process(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.done() {
		return fmt.Errorf("game is over - no moves allowed")
	}
	adj := Adjudication{
		Phase:  e.currentPhase(),
		Orders: e.pending,
	}
	if len(e.rejected) > 0 {
		adj.Rejected = e.rejected
	}
	e.history = append(e.history, adj)
	e.pending = game.OrderSet{}
	e.rejected = game.OrderSet{}
	e.phase++
	return nil
}

// History returns the adjudications so far, oldest first.
func (e *Local) History() []Adjudication {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Adjudication{}, e.history...)
}

type localSnapshot struct {
	Scenario Scenario       `json:"scenario"`
	Phase    int            `json:"phase"`
	History  []Adjudication `json:"history"`
}

func (e *Local) Serialize(context.Context) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	data, err := json.Marshal(localSnapshot{
		Scenario: e.scenario,
		Phase:    e.phase,
		History:  e.history,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize local engine: %w", err)
	}
	return data, nil
}

// LocalLoader restores Local engines. Orders set but not processed before the
// export are not part of the snapshot.
type LocalLoader struct{}

func (LocalLoader) Deserialize(_ context.Context, blob []byte) (Engine, error) {
	var snap localSnapshot
	if err := json.Unmarshal(blob, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode local engine: %w", err)
	}
	if len(snap.Scenario.Phases) == 0 {
		return nil, fmt.Errorf("failed to decode local engine: scenario has no phases")
	}
	if snap.Phase < 0 || snap.Phase > len(snap.Scenario.Phases) {
		return nil, fmt.Errorf("failed to decode local engine: phase index %d out of range", snap.Phase)
	}
	e := NewLocal(snap.Scenario)
	e.phase = snap.Phase
	e.history = snap.History
	return e, nil
}

// StandardOpening is a short schedule over the standard starting units,
// enough for dry runs without an adjudicator.
func StandardOpening() Scenario {
	units := map[game.Power][]string{
		game.France:  {"BRE", "MAR", "PAR"},
		game.England: {"EDI", "LON", "LVP"},
		game.Germany: {"BER", "KIE", "MUN"},
		game.Italy:   {"NAP", "ROM", "VEN"},
		game.Austria: {"BUD", "TRI", "VIE"},
		game.Russia:  {"MOS", "SEV", "STP", "WAR"},
		game.Turkey:  {"ANK", "CON", "SMY"},
	}
	fleets := map[string]bool{
		"BRE": true, "EDI": true, "LON": true, "KIE": true, "NAP": true,
		"TRI": true, "SEV": true, "STP": true, "ANK": true,
	}
	moves := map[string][]string{
		"BRE": {"MAO", "ENG", "PIC"},
		"MAR": {"SPA", "PIE", "BUR"},
		"PAR": {"BUR", "PIC", "GAS"},
		"EDI": {"NTH", "NWG", "CLY"},
		"LON": {"NTH", "ENG", "WAL"},
		"LVP": {"YOR", "WAL", "EDI"},
		"BER": {"KIE", "PRU", "SIL"},
		"KIE": {"DEN", "HOL", "HEL"},
		"MUN": {"RUH", "BUR", "TYR"},
		"NAP": {"ION", "TYS", "APU"},
		"ROM": {"APU", "TUS", "VEN"},
		"VEN": {"TYR", "PIE", "TRI"},
		"BUD": {"SER", "RUM", "GAL"},
		"TRI": {"ADR", "ALB", "VEN"},
		"VIE": {"GAL", "TYR", "BOH"},
		"MOS": {"UKR", "LVN", "SEV"},
		"SEV": {"BLA", "RUM", "ARM"},
		"STP": {"BOT", "FIN", "LVN"},
		"WAR": {"GAL", "UKR", "PRU"},
		"ANK": {"BLA", "CON", "ARM"},
		"CON": {"BUL", "SMY", "ANK"},
		"SMY": {"ARM", "SYR", "CON"},
	}

	orders := game.PossibleOrders{}
	for _, locs := range units {
		for _, loc := range locs {
			kind := "A"
			if fleets[loc] {
				kind = "F"
			}
			legal := []string{fmt.Sprintf("%s %s H", kind, loc)}
			dests := append([]string{}, moves[loc]...)
			sort.Strings(dests)
			for _, dest := range dests {
				legal = append(legal, fmt.Sprintf("%s %s - %s", kind, loc, dest))
			}
			orders[loc] = legal
		}
	}

	return Scenario{
		Phases: []string{"S1901M", "F1901M", "W1901A", "S1902M", "F1902M"},
		Units:  units,
		Orders: orders,
	}
}
