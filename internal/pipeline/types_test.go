package pipeline

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/querypilot/internal/executor"
)

func TestTurnUnmarshal(t *testing.T) {
	var turns []Turn
	err := json.Unmarshal([]byte(`[
		{"role": "user", "content": "top customers?"},
		{"role": "assistant", "content": {"finalSummary": "Acme is first", "sqlQuery": "SELECT 1"}},
		{"role": "assistant", "content": {"summary": "prior", "text": "shown text"}},
		{"role": "user", "content": null}
	]`), &turns)
	require.NoError(t, err)
	require.Len(t, turns, 4)

	assert.Equal(t, Turn{Role: "user", Content: "top customers?"}, turns[0])
	assert.Equal(t, "Acme is first", turns[1].Summary)
	assert.Equal(t, "Acme is first", turns[1].Content)
	assert.Equal(t, Turn{Role: "assistant", Content: "shown text", Summary: "prior"}, turns[2])
	assert.Empty(t, turns[3].Content)
}

func TestNewRequest(t *testing.T) {
	msgs := []Turn{
		{Role: "user", Content: "revenue by region"},
		{Role: "assistant", Content: "North leads", Summary: "North leads"},
		{Role: "user", Content: "  and by month?  "},
	}
	req, err := NewRequest("acme", "c1", msgs)
	require.NoError(t, err)
	assert.Equal(t, "and by month?", req.Question)
	assert.Equal(t, "North leads", req.PriorSummary)
	assert.Len(t, req.History, 2)

	_, err = NewRequest("acme", "", nil)
	assert.ErrorIs(t, err, ErrNoMessages)
	_, err = NewRequest("acme", "", []Turn{{Role: "user", Content: " "}})
	assert.ErrorIs(t, err, ErrEmptyQuestion)
}

func TestSucceededAndShouldRetry(t *testing.T) {
	rows := []map[string]any{{"n": 1}}
	cases := []struct {
		name    string
		out     executor.Outcome
		attempt int
		ok      bool
		retry   bool
	}{
		{"rows", executor.Outcome{Rows: rows, RowCount: 1}, 1, true, false},
		{"error", executor.Failed("boom"), 1, false, true},
		{"empty", executor.Outcome{Rows: []map[string]any{}}, 2, false, true},
		{"null rows", executor.Outcome{}, 1, false, true},
		{"last attempt", executor.Failed("boom"), 3, false, false},
		{"error with rows", executor.Outcome{Rows: rows, RowCount: 1, Error: executor.Failed("x").Error}, 1, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.ok, Succeeded(tc.out))
			assert.Equal(t, tc.retry, ShouldRetry(tc.out, tc.attempt, 3))
		})
	}
}

func TestQueryAttemptClassification(t *testing.T) {
	sql, blank, msg := "SELECT 1", "  ", "no such data"
	assert.True(t, QueryAttempt{Error: &msg}.Unanswerable())
	assert.True(t, QueryAttempt{SQLQuery: &blank, Error: &msg}.Unanswerable())
	assert.False(t, QueryAttempt{SQLQuery: &sql, Error: &msg}.Unanswerable())
	assert.False(t, QueryAttempt{}.Unanswerable())
}

func TestRetryStatus(t *testing.T) {
	assert.Equal(t, "Retrying: attempt 1 of 3 failed (no data)", retryStatus(1, 3, "no data"))
	assert.Equal(t, "Retrying exhausted: attempt 3 of 3 failed (no data)", retryStatus(3, 3, "no data"))
}

func TestValidCharts(t *testing.T) {
	series := "region"
	ghost := "ghost"
	charts := []ChartSpec{
		{Type: "bar", XKey: "region", YKeys: []string{"revenue"}},
		{Type: "line", XKey: "month", YKeys: []string{"revenue"}, SeriesKey: &series},
		{Type: "line", XKey: "month", YKeys: []string{"revenue"}, SeriesKey: &ghost},
		{Type: "radar", XKey: "region", YKeys: []string{"revenue"}},
		{Type: "pie", XKey: "region"},
		{Type: "table"},
	}
	got := validCharts(charts, []string{"region", "month", "revenue"})
	require.Len(t, got, 3)
	assert.Equal(t, "bar", got[0].Type)
	assert.Equal(t, "line", got[1].Type)
	assert.Equal(t, "table", got[2].Type)
}

func TestClip(t *testing.T) {
	assert.Equal(t, "short", clip("short", 10))
	assert.Equal(t, "héll...", clip("héllo", 5))
}

func TestSchemasListStreamedFieldFirst(t *testing.T) {
	cases := []struct {
		schema map[string]any
		first  string
		after  string
	}{
		{intentShape.Schema, "reasoning", "primaryFocus"},
		{queryShape.Schema, "reasoning", "followUps"},
		{explainShape.Schema, "reasoning", "explanation"},
		{chartShape.Schema, "reasoning", "charts"},
	}
	for _, tc := range cases {
		data, err := json.Marshal(tc.schema)
		require.NoError(t, err)
		text := string(data)
		first := strings.Index(text, `"`+tc.first+`":`)
		after := strings.Index(text, `"`+tc.after+`":`)
		require.True(t, first >= 0 && after >= 0, text)
		assert.Less(t, first, after, text)
		assert.Equal(t, tc.first, tc.schema["required"].([]string)[0])
	}

	data, err := json.Marshal(summaryShape.Schema)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"object","properties":{"summary":{"type":"string"}},"required":["summary"],"additionalProperties":false}`, string(data))
}
