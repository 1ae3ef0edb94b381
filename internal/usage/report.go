package usage

import (
	"fmt"
	"strings"
	"time"
)

// Group aggregates calls sharing a phase or agent name.
type Group struct {
	Name         string `json:"name"`
	Calls        int    `json:"calls"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
}

// Tokens returns input plus output tokens.
func (g Group) Tokens() int64 {
	return g.InputTokens + g.OutputTokens
}

// Summary is the aggregate view of a log at a point in time.
type Summary struct {
	Duration      time.Duration `json:"duration"`
	Calls         int           `json:"calls"`
	InputTokens   int64         `json:"input_tokens"`
	OutputTokens  int64         `json:"output_tokens"`
	EstimatedCost float64       `json:"estimated_cost_usd"`
	ByPhase       []Group       `json:"by_phase"`
	ByAgent       []Group       `json:"by_agent"`
}

// TotalTokens returns input plus output tokens.
func (s Summary) TotalTokens() int64 {
	return s.InputTokens + s.OutputTokens
}

// Summarize aggregates the log as of end. Each record is priced by its own
// model. Groups appear in the order their name was first seen.
func Summarize(l *Log, end time.Time) Summary {
	records := l.Records()
	s := Summary{
		Duration: end.Sub(l.Started()),
		Calls:    len(records),
	}
	if s.Duration < 0 {
		s.Duration = 0
	}

	phases := newGrouper()
	agents := newGrouper()
	for _, r := range records {
		s.InputTokens += r.InputTokens
		s.OutputTokens += r.OutputTokens
		s.EstimatedCost += PriceFor(r.Model).Cost(r.InputTokens, r.OutputTokens)
		phases.add(r.Phase, r)
		agents.add(r.Agent, r)
	}
	s.ByPhase = phases.groups
	s.ByAgent = agents.groups
	return s
}

type grouper struct {
	index  map[string]int
	groups []Group
}

func newGrouper() *grouper {
	return &grouper{index: make(map[string]int)}
}

func (g *grouper) add(name string, r Record) {
	i, ok := g.index[name]
	if !ok {
		i = len(g.groups)
		g.index[name] = i
		g.groups = append(g.groups, Group{Name: name})
	}
	g.groups[i].Calls++
	g.groups[i].InputTokens += r.InputTokens
	g.groups[i].OutputTokens += r.OutputTokens
}

// Line returns a brief one-line summary.
func (s Summary) Line() string {
	return fmt.Sprintf("Calls: %d | Tokens: %d (in %d, out %d) | Cost: $%.4f | Time: %s",
		s.Calls, s.TotalTokens(), s.InputTokens, s.OutputTokens,
		s.EstimatedCost, FormatDuration(s.Duration))
}

// Detailed returns a multi-line report with phase and agent breakdowns.
func (s Summary) Detailed() string {
	var sb strings.Builder

	sb.WriteString("=== Usage Summary ===\n\n")
	sb.WriteString(fmt.Sprintf("Total Duration: %s (%.2fs)\n", FormatDuration(s.Duration), s.Duration.Seconds()))
	sb.WriteString(fmt.Sprintf("Total API Calls: %d\n", s.Calls))
	sb.WriteString(fmt.Sprintf("Total Tokens: %d\n", s.TotalTokens()))
	sb.WriteString(fmt.Sprintf("  Input:  %d\n", s.InputTokens))
	sb.WriteString(fmt.Sprintf("  Output: %d\n", s.OutputTokens))
	sb.WriteString(fmt.Sprintf("Estimated Cost: $%.4f USD\n", s.EstimatedCost))

	writeGroups(&sb, "Breakdown by Phase", s.ByPhase)
	writeGroups(&sb, "Breakdown by Agent", s.ByAgent)

	return sb.String()
}

func writeGroups(sb *strings.Builder, title string, groups []Group) {
	if len(groups) == 0 {
		return
	}
	sb.WriteString("\n" + title + ":\n")
	for _, g := range groups {
		sb.WriteString(fmt.Sprintf("  %s: %d calls, %d tokens\n", g.Name, g.Calls, g.Tokens()))
	}
}

// FormatDuration renders d in seconds, minutes or hours with two decimals.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%.2f seconds", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%.2f minutes", d.Minutes())
	default:
		return fmt.Sprintf("%.2f hours", d.Hours())
	}
}
