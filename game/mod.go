package game

import (
	"encoding/json"
	"strings"
)

// Power identifies one player of the game. The set of powers is fixed for a run.
type Power string

const (
	France  Power = "FRANCE"
	England Power = "ENGLAND"
	Germany Power = "GERMANY"
	Italy   Power = "ITALY"
	Austria Power = "AUSTRIA"
	Russia  Power = "RUSSIA"
	Turkey  Power = "TURKEY"
)

// StandardPowers lists the seven powers of the standard map in the order agents are polled.
var StandardPowers = []Power{France, England, Germany, Italy, Austria, Russia, Turkey}

func (p Power) String() string {
	return string(p)
}

// ParsePower normalizes a power name ("france", " France ") to its token.
func ParsePower(name string) Power {
	return Power(strings.ToUpper(strings.TrimSpace(name)))
}

// ParsePowers is ParsePower over a list, keeping order and dropping blanks and duplicates.
func ParsePowers(names []string) []Power {
	powers := make([]Power, 0, len(names))
	seen := make(map[Power]bool, len(names))
	for _, name := range names {
		p := ParsePower(name)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		powers = append(powers, p)
	}
	return powers
}

// BoardState is an opaque snapshot of the board as reported by the engine.
// It is never mutated by the orchestrator.
type BoardState json.RawMessage

func (b BoardState) String() string {
	return string(b)
}

// MarshalJSON keeps the snapshot verbatim when it is embedded in another document.
func (b BoardState) MarshalJSON() ([]byte, error) {
	if len(b) == 0 {
		return []byte("null"), nil
	}
	return json.RawMessage(b).MarshalJSON()
}

func (b *BoardState) UnmarshalJSON(data []byte) error {
	*b = append((*b)[:0], data...)
	return nil
}
