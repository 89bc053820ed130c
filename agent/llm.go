package agent

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/JoNeedsSleep/machiave-llm/game"
	"github.com/JoNeedsSleep/machiave-llm/llm"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

var prompts = template.Must(template.ParseFS(promptFS, "prompts/*.tmpl"))

type strategizeData struct {
	Power        game.Power
	RoundsLeft   int
	Board        string
	Memory       string
	Participants string
}

type draftData struct {
	Initiator  game.Power
	Target     game.Power
	RoundsLeft int
	Board      string
	Memory     string
}

type ordersData struct {
	Power          game.Power
	Board          string
	Memory         string
	PossibleOrders string
}

// LLMAgent answers every gateway call with one completion.
type LLMAgent struct {
	completer    llm.Completer
	participants []game.Power
}

func NewLLMAgent(completer llm.Completer, participants []game.Power) *LLMAgent {
	return &LLMAgent{
		completer:    completer,
		participants: append([]game.Power(nil), participants...),
	}
}

var _ Gateway = (*LLMAgent)(nil)

func (a *LLMAgent) ProposeTargets(ctx context.Context, initiator game.Power, roundsLeft int, memory []string, board game.BoardState) ([]game.Power, error) {
	names := make([]string, len(a.participants))
	for i, p := range a.participants {
		names[i] = string(p)
	}
	response, err := a.complete(ctx, "strategize.tmpl", strategizeData{
		Power:        initiator,
		RoundsLeft:   roundsLeft,
		Board:        board.String(),
		Memory:       strings.Join(memory, "\n"),
		Participants: strings.Join(names, ", "),
	})
	if err != nil {
		return nil, err
	}
	return ParseTargets(response, initiator, a.participants), nil
}

func (a *LLMAgent) DraftMessage(ctx context.Context, initiator, target game.Power, roundsLeft int, memory []string, board game.BoardState) (string, error) {
	response, err := a.complete(ctx, "draft.tmpl", draftData{
		Initiator:  initiator,
		Target:     target,
		RoundsLeft: roundsLeft,
		Board:      board.String(),
		Memory:     strings.Join(memory, "\n"),
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(response), nil
}

func (a *LLMAgent) DecideOrders(ctx context.Context, power game.Power, memory []string, orders game.PossibleOrders, board game.BoardState) ([]string, error) {
	response, err := a.complete(ctx, "orders.tmpl", ordersData{
		Power:          power,
		Board:          board.String(),
		Memory:         strings.Join(memory, "\n"),
		PossibleOrders: orders.Format(),
	})
	if err != nil {
		return nil, err
	}
	return ParseOrders(response), nil
}

func (a *LLMAgent) complete(ctx context.Context, name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return a.completer.Complete(ctx, buf.String())
}
