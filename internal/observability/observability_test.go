package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(&buf, "")
	l.LogStage("run-1", "acme", "Generating Query")
	l.LogAttempt("run-1", "acme", 2, "SELECT 1", "no data")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var evt Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &evt))
	assert.Equal(t, EventTypeStage, evt.Type)
	assert.Equal(t, "run-1", evt.RunID)
	assert.Equal(t, "acme", evt.TenantID)
	assert.False(t, evt.Timestamp.IsZero())
}

func TestLoggerKeepsLLMExchangesInFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "llm.jsonl")
	l := NewLoggerTo(&bytes.Buffer{}, path)

	l.LogLLM("run-1", "intent", []string{"hello"}, `{"reasoning":"x"}`)
	l.LogStage("run-1", "acme", "Summarizing")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "\n"))
	assert.Contains(t, string(data), `"stage":"intent"`)
}

func TestNilLoggerIsSilent(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() { l.LogStage("a", "b", "c") })
}

func TestMetricsRegisterAndObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveRun("result", 2, time.Now())
	m.GenerationFailed("query", "malformed")
	m.Executed("sqlite", true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("result")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GenerationErrors.WithLabelValues("query", "malformed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExecutionsTotal.WithLabelValues("sqlite", "ok")))

	var nilMetrics *Metrics
	assert.NotPanics(t, func() { nilMetrics.ObserveStage("x", time.Now()) })
}

func TestStatusCounters(t *testing.T) {
	before, _, _, _ := GetStatus()
	RunStarted()
	active, _, _, _ := GetStatus()
	assert.Equal(t, before+1, active)
	RunFinished(true)
	after, _, _, _ := GetStatus()
	assert.Equal(t, before, after)
	assert.Contains(t, StatusLine(), "active=")
}
