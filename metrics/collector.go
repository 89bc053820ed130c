package metrics

import (
	"time"

	"github.com/JoNeedsSleep/machiave-llm/game"
)

// Operation names the gateway call that failed.
type Operation string

const (
	OpProposeTargets Operation = "propose_targets"
	OpDraftMessage   Operation = "draft_message"
	OpDecideOrders   Operation = "decide_orders"
)

// PhaseRecord summarizes one processed phase of a run.
type PhaseRecord struct {
	Step          int
	Phase         string
	NextPhase     string
	Messages      int
	Dropped       int
	AgentFailures int
	Orders        int
	Bucket        string
	StartTime     time.Time
	Duration      time.Duration
}

// Collector receives run events. Implementations must be safe for concurrent use.
type Collector interface {
	PhaseStarted(phase string)
	MessageDrafted(from game.Power)
	MessageDropped(from game.Power)
	AgentFailure(p game.Power, op Operation)
	OrdersSubmitted(p game.Power, n int)
	PhaseCompleted(phase string, d time.Duration)
	CheckpointWritten()
	CheckpointFailed()
}

type dummyCollector struct{}

func NewDummyCollector() Collector {
	return &dummyCollector{}
}

func (m *dummyCollector) PhaseStarted(phase string)                    {}
func (m *dummyCollector) MessageDrafted(from game.Power)               {}
func (m *dummyCollector) MessageDropped(from game.Power)               {}
func (m *dummyCollector) AgentFailure(p game.Power, op Operation)      {}
func (m *dummyCollector) OrdersSubmitted(p game.Power, n int)          {}
func (m *dummyCollector) PhaseCompleted(phase string, d time.Duration) {}
func (m *dummyCollector) CheckpointWritten()                           {}
func (m *dummyCollector) CheckpointFailed()                            {}
