package memory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/JoNeedsSleep/machiave-llm/game"
)

// Book holds one append-only log per power. Entries are never reordered or removed.
type Book struct {
	mu   sync.RWMutex
	logs map[game.Power][]string
}

func New(powers []game.Power) *Book {
	b := &Book{logs: make(map[game.Power][]string, len(powers))}
	b.Ensure(powers)
	return b
}

// Ensure adds an empty log for every power that doesn't have one yet.
func (b *Book) Ensure(powers []game.Power) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range powers {
		if _, ok := b.logs[p]; !ok {
			b.logs[p] = []string{}
		}
	}
}

func (b *Book) Append(p game.Power, entries ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.logs[p]; !ok {
		b.logs[p] = []string{}
	}
	b.logs[p] = append(b.logs[p], entries...)
}

// Entries returns a copy of the power's log.
func (b *Book) Entries(p game.Power) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string{}, b.logs[p]...)
}

func (b *Book) Len(p game.Power) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.logs[p])
}

// Powers returns the powers with a log, sorted by name.
func (b *Book) Powers() []game.Power {
	b.mu.RLock()
	defer b.mu.RUnlock()
	powers := make([]game.Power, 0, len(b.logs))
	for p := range b.logs {
		powers = append(powers, p)
	}
	sort.Slice(powers, func(i, j int) bool { return powers[i] < powers[j] })
	return powers
}

// Snapshot returns a deep copy of every log.
func (b *Book) Snapshot() map[game.Power][]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[game.Power][]string, len(b.logs))
	for p, entries := range b.logs {
		out[p] = append([]string{}, entries...)
	}
	return out
}

// Encode serializes the book as a JSON object of power to entries. Keys are
// sorted and HTML is not escaped, so Decode followed by Encode reproduces the
// same bytes.
func (b *Book) Encode() ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(b.logs); err != nil {
		return nil, fmt.Errorf("failed to encode memory: %w", err)
	}
	return buf.Bytes(), nil
}

func Decode(data []byte) (*Book, error) {
	var logs map[game.Power][]string
	if err := json.Unmarshal(data, &logs); err != nil {
		return nil, fmt.Errorf("failed to decode memory: %w", err)
	}
	if logs == nil {
		logs = make(map[game.Power][]string)
	}
	for p, entries := range logs {
		if entries == nil {
			logs[p] = []string{}
		}
	}
	return &Book{logs: logs}, nil
}
