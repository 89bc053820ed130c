package llmtest

import (
	"context"
	"fmt"
	"sync"
)

// Response configures one completion in a scripted sequence.
type Response struct {
	Text string
	Err  error
}

// Scripted is a deterministic completer for tests. It answers with its
// responses in order and records every prompt it receives.
type Scripted struct {
	mu        sync.Mutex
	index     int
	responses []Response
	prompts   []string
}

func NewScripted(responses ...Response) *Scripted {
	cloned := make([]Response, len(responses))
	copy(cloned, responses)
	return &Scripted{
		responses: cloned,
	}
}

// Texts scripts successful responses only.
func Texts(texts ...string) *Scripted {
	responses := make([]Response, len(texts))
	for i, text := range texts {
		responses[i] = Response{Text: text}
	}
	return NewScripted(responses...)
}

func (s *Scripted) Complete(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prompts = append(s.prompts, prompt)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.index >= len(s.responses) {
		return "", fmt.Errorf("script exhausted at step %d", s.index+1)
	}
	current := s.responses[s.index]
	s.index++
	return current.Text, current.Err
}

// Prompts returns the prompts received so far.
func (s *Scripted) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}
