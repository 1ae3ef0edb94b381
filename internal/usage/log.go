// Package usage records agent calls for a run and summarizes their cost.
package usage

import (
	"sync"
	"time"
)

// Record is one agent call. Records are never modified after being appended.
type Record struct {
	Agent        string    `json:"agent"`
	Phase        string    `json:"phase"`
	Model        string    `json:"model"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	Timestamp    time.Time `json:"timestamp"`
}

// Tokens returns input plus output tokens.
func (r Record) Tokens() int64 {
	return r.InputTokens + r.OutputTokens
}

// Log is an append-only list of records, safe for concurrent use.
type Log struct {
	mu      sync.RWMutex
	started time.Time
	records []Record

	now func() time.Time
}

// NewLog creates an empty log whose clock starts now.
func NewLog() *Log {
	return &Log{started: time.Now(), now: time.Now}
}

// Started returns when the log was created.
func (l *Log) Started() time.Time {
	return l.started
}

// Append adds a record. A zero timestamp is set to the current time.
func (l *Log) Append(r Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r.Timestamp.IsZero() {
		r.Timestamp = l.now()
	}
	l.records = append(l.records, r)
}

// RecordText appends a record whose token counts are estimated from the
// prompt and reply text.
func (l *Log) RecordText(agent, phase, model, input, output string) {
	l.Append(Record{
		Agent:        agent,
		Phase:        phase,
		Model:        model,
		InputTokens:  EstimateTokens(input),
		OutputTokens: EstimateTokens(output),
	})
}

// Records returns a copy of all records in append order.
func (l *Log) Records() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of records.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// EstimateTokens approximates a token count at four characters per token.
func EstimateTokens(text string) int64 {
	return int64(len(text) / 4)
}
