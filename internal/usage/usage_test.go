package usage

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, int64(0), EstimateTokens(""))
	assert.Equal(t, int64(0), EstimateTokens("abc"))
	assert.Equal(t, int64(1), EstimateTokens("abcd"))
	assert.Equal(t, int64(25), EstimateTokens(string(make([]byte, 100))))
}

func TestLog_AppendOnly(t *testing.T) {
	l := NewLog()
	l.RecordText("CEO", "Demand Analysis", "m", "12345678", "1234")

	records := l.Records()
	require.Len(t, records, 1)
	assert.Equal(t, int64(2), records[0].InputTokens)
	assert.Equal(t, int64(1), records[0].OutputTokens)
	assert.False(t, records[0].Timestamp.IsZero())

	// Mutating the returned slice leaves the log untouched.
	records[0].Agent = "changed"
	assert.Equal(t, "CEO", l.Records()[0].Agent)
}

func TestLog_ConcurrentAppend(t *testing.T) {
	l := NewLog()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Append(Record{Agent: "a", Phase: "p"})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, l.Len())
}

func TestPriceFor(t *testing.T) {
	assert.Equal(t, PriceGemini15Pro, PriceFor("gemini-1.5-pro-latest"))
	assert.Equal(t, PriceGemini25Flash, PriceFor("google/gemini-2.5-flash"))
	assert.Equal(t, PriceGemini3Pro, PriceFor("gemini-3-pro"))
	assert.Equal(t, PriceGemini3Flash, PriceFor("gemini-3-flash"))
	assert.Equal(t, PriceClaudeSonnet, PriceFor("claude-sonnet-4-5-thinking"))
	assert.Equal(t, PriceDefault, PriceFor("mystery-model"))
}

func TestSummarize(t *testing.T) {
	l := NewLog()
	l.Append(Record{Agent: "CEO", Phase: "Demand Analysis", Model: "gemini-2.5-flash", InputTokens: 100, OutputTokens: 50})
	l.Append(Record{Agent: "CPO", Phase: "Demand Analysis", Model: "gemini-2.5-flash", InputTokens: 200, OutputTokens: 20})
	l.Append(Record{Agent: "Programmer", Phase: "Coding", Model: "claude-sonnet-4.5", InputTokens: 1000, OutputTokens: 3000})
	l.Append(Record{Agent: "CEO", Phase: "Coding", Model: "gemini-2.5-flash", InputTokens: 10, OutputTokens: 10})

	s := Summarize(l, l.Started().Add(90*time.Second))

	assert.Equal(t, 4, s.Calls)
	assert.Equal(t, int64(1310), s.InputTokens)
	assert.Equal(t, int64(3080), s.OutputTokens)
	assert.Equal(t, 90*time.Second, s.Duration)

	want := PriceGemini25Flash.Cost(310, 80) + PriceClaudeSonnet.Cost(1000, 3000)
	assert.InDelta(t, want, s.EstimatedCost, 1e-12)

	require.Len(t, s.ByPhase, 2)
	assert.Equal(t, "Demand Analysis", s.ByPhase[0].Name)
	assert.Equal(t, 2, s.ByPhase[0].Calls)
	assert.Equal(t, "Coding", s.ByPhase[1].Name)
	assert.Equal(t, int64(4020), s.ByPhase[1].Tokens())

	require.Len(t, s.ByAgent, 3)
	assert.Equal(t, []string{"CEO", "CPO", "Programmer"}, []string{s.ByAgent[0].Name, s.ByAgent[1].Name, s.ByAgent[2].Name})
	assert.Equal(t, 2, s.ByAgent[0].Calls)
}

func TestSummary_Detailed(t *testing.T) {
	l := NewLog()
	l.Append(Record{Agent: "Tester", Phase: "Testing", Model: "x", InputTokens: 4, OutputTokens: 6})

	report := Summarize(l, l.Started().Add(2*time.Minute)).Detailed()

	assert.Contains(t, report, "=== Usage Summary ===")
	assert.Contains(t, report, "Total Duration: 2.00 minutes")
	assert.Contains(t, report, "Total API Calls: 1")
	assert.Contains(t, report, "Breakdown by Phase:")
	assert.Contains(t, report, "Testing: 1 calls, 10 tokens")
	assert.Contains(t, report, "Breakdown by Agent:")
}

func TestSummary_Line(t *testing.T) {
	s := Summary{Calls: 3, InputTokens: 10, OutputTokens: 5, EstimatedCost: 0.5, Duration: 3 * time.Second}
	assert.Equal(t, "Calls: 3 | Tokens: 15 (in 10, out 5) | Cost: $0.5000 | Time: 3.00 seconds", s.Line())
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{1500 * time.Millisecond, "1.50 seconds"},
		{90 * time.Second, "1.50 minutes"},
		{90 * time.Minute, "1.50 hours"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.d))
	}
}
