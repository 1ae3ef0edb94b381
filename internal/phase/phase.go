// Package phase implements the stages of a development run. Demand
// analysis and coding make a fixed sequence of agent calls; review and
// testing are bounded critic/fixer loops.
package phase

import (
	"context"
	"log/slog"

	"github.com/rand/devchain/internal/agent"
	"github.com/rand/devchain/internal/heal"
	"github.com/rand/devchain/internal/project"
)

// Phase names, as used in usage records and the run summary.
const (
	NameDemandAnalysis = "Demand Analysis"
	NameCoding         = "Coding"
	NameCodeReview     = "Code Review"
	NameTesting        = "Testing"
)

// Phase is one ordered stage of a run. Run reads only state produced by
// earlier phases and returns a textual summary for the run report.
type Phase interface {
	Name() string
	Run(ctx context.Context, st *project.State) (string, error)
}

// Observer receives phase-level events. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveLoop(phase string, out LoopOutcome)
	ObserveHeal(res heal.Result)
}

// Caller binds an agent to a phase and a run so every call is recorded in
// the run's usage log.
type Caller struct {
	Agent *agent.Agent
	Phase string
	State *project.State
}

// Ask sends text and records the exchange.
func (c Caller) Ask(ctx context.Context, text string) agent.Reply {
	reply := c.Agent.Ask(ctx, text)
	c.State.Record(c.Agent.Role(), c.Phase, c.Agent.Model(), text, reply.Text)
	if !reply.OK() {
		slog.Warn("agent call failed",
			"run", c.State.RunID,
			"phase", c.Phase,
			"role", c.Agent.Role(),
			"failure", reply.Failure.String(),
			"error", reply.Err)
	}
	return reply
}
