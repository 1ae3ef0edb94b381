// Package agenttest provides scripted backends for exercising agents
// without a network.
package agenttest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rand/devchain/internal/prompt"
)

// Call is one request seen by a Scripted backend.
type Call struct {
	Instruction string
	Text        string
}

// Step is one scripted response.
type Step struct {
	Text string
	Err  error
}

// Reply returns a successful step.
func Reply(text string) Step { return Step{Text: text} }

// Fail returns a failing step.
func Fail(err error) Step { return Step{Err: err} }

// Scripted answers calls from per-instruction queues. Calls whose
// instruction contains a registered key take that key's next step; once
// a queue is drained its last step repeats.
type Scripted struct {
	mu     sync.Mutex
	keys   []string
	queues map[string][]Step
	pos    map[string]int
	calls  []Call
}

// NewScripted creates an empty script.
func NewScripted() *Scripted {
	return &Scripted{
		queues: make(map[string][]Step),
		pos:    make(map[string]int),
	}
}

// On queues steps for instructions containing key.
func (s *Scripted) On(key string, steps ...Step) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queues[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.queues[key] = append(s.queues[key], steps...)
	return s
}

// OnRole queues steps for the agent playing role.
func (s *Scripted) OnRole(role string, steps ...Step) *Scripted {
	return s.On(prompt.Instruction(role), steps...)
}

// Send implements agent.Backend.
func (s *Scripted) Send(ctx context.Context, instruction, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Instruction: instruction, Text: text})

	if err := ctx.Err(); err != nil {
		return "", err
	}
	for _, key := range s.keys {
		if !strings.Contains(instruction, key) {
			continue
		}
		steps := s.queues[key]
		i := s.pos[key]
		if i >= len(steps) {
			i = len(steps) - 1
		} else {
			s.pos[key] = i + 1
		}
		return steps[i].Text, steps[i].Err
	}
	return "", fmt.Errorf("no script for instruction %.40q", instruction)
}

// Calls returns every call seen so far.
func (s *Scripted) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallsMatching counts calls whose instruction contains key.
func (s *Scripted) CallsMatching(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if strings.Contains(c.Instruction, key) {
			n++
		}
	}
	return n
}

// CallsFor counts calls made by the agent playing role.
func (s *Scripted) CallsFor(role string) int {
	return s.CallsMatching(prompt.Instruction(role))
}
