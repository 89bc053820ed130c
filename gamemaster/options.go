package gamemaster

import (
	"time"

	"github.com/JoNeedsSleep/machiave-llm/memory"
	"github.com/JoNeedsSleep/machiave-llm/metrics"
)

type Option func(gm *GameMaster)

// WithRounds sets the negotiation rounds per phase. Zero skips negotiation.
func WithRounds(rounds int) Option {
	return func(gm *GameMaster) {
		if rounds >= 0 {
			gm.rounds = rounds
		}
	}
}

// WithDebug skips negotiation entirely. Pair it with random agents to run
// without any model call.
func WithDebug(debug bool) Option {
	return func(gm *GameMaster) {
		gm.debug = debug
	}
}

// WithMemory resumes from existing memory logs.
func WithMemory(book *memory.Book) Option {
	return func(gm *GameMaster) {
		if book != nil {
			gm.memory = book
		}
	}
}

func WithJournal(j Journal) Option {
	return func(gm *GameMaster) {
		gm.journal = j
	}
}

func WithCollector(c metrics.Collector) Option {
	return func(gm *GameMaster) {
		if c != nil {
			gm.metrics = c
		}
	}
}

// WithParallelism bounds the concurrent agent calls within a round.
func WithParallelism(n int) Option {
	return func(gm *GameMaster) {
		if n > 0 {
			gm.parallelism = n
		}
	}
}

// WithMaxPhases stops the run after n processed phases. Zero means no limit.
func WithMaxPhases(n int) Option {
	return func(gm *GameMaster) {
		if n >= 0 {
			gm.maxPhases = n
		}
	}
}

// WithRunID keeps the id of a resumed run.
func WithRunID(id string) Option {
	return func(gm *GameMaster) {
		if id != "" {
			gm.runID = id
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(gm *GameMaster) {
		if now != nil {
			gm.now = now
		}
	}
}
