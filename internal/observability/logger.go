package observability

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"
)

// EventType defines the category of the log event.
type EventType string

const (
	EventTypeRun       EventType = "run"
	EventTypeStage     EventType = "stage"
	EventTypeAttempt   EventType = "attempt"
	EventTypeExecution EventType = "execution"
	EventTypePolicy    EventType = "policy_check"
	EventTypeCost      EventType = "cost"
	EventTypeHeartbeat EventType = "heartbeat"
	EventTypeLLM       EventType = "llm"
	EventTypeError     EventType = "error"
)

// Event represents a structured log entry.
type Event struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id,omitempty"`
	TenantID  string    `json:"tenant_id,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Logger handles structured logging.
type Logger struct {
	out        io.Writer
	llmLogPath string
	maxSize    int64
}

// NewLoggerTo writes events to out and keeps LLM exchanges in llmLogPath.
// An empty llmLogPath disables the LLM file.
func NewLoggerTo(out io.Writer, llmLogPath string) *Logger {
	return &Logger{out: out, llmLogPath: llmLogPath, maxSize: 10 * 1024 * 1024}
}

// Discard returns a Logger that drops everything. Handy in tests.
func Discard() *Logger {
	return &Logger{out: io.Discard}
}

// Log emits a structured JSON event as a single line.
func (l *Logger) Log(evt Event) {
	if l == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		fmt.Fprintf(l.out, "{\"error\": \"failed to marshal event: %v\"}\n", err)
		return
	}
	l.out.Write(append(data, '\n'))

	if evt.Type == EventTypeLLM && l.llmLogPath != "" {
		l.writeToFile(data)
	}
}

func (l *Logger) writeToFile(data []byte) {
	if err := os.MkdirAll(filepath.Dir(l.llmLogPath), 0755); err != nil {
		log.Printf("failed to create log directory: %v", err)
		return
	}

	// Check size before writing
	info, err := os.Stat(l.llmLogPath)
	if err == nil && info.Size() > l.maxSize {
		l.rotateLogs()
	}

	f, err := os.OpenFile(l.llmLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("failed to open log file: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		log.Printf("failed to write to log file: %v", err)
	}
}

func (l *Logger) rotateLogs() {
	// Simple rotation: keep one .old file
	oldPath := l.llmLogPath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.llmLogPath, oldPath)
}

// Helper methods for common events

func (l *Logger) LogRun(runID, tenantID, outcome string, elapsed time.Duration) {
	l.Log(Event{
		Type:     EventTypeRun,
		RunID:    runID,
		TenantID: tenantID,
		Data: map[string]any{
			"outcome":    outcome,
			"elapsed_ms": elapsed.Milliseconds(),
		},
	})
}

func (l *Logger) LogStage(runID, tenantID, stage string) {
	l.Log(Event{
		Type:     EventTypeStage,
		RunID:    runID,
		TenantID: tenantID,
		Data:     map[string]string{"stage": stage},
	})
}

func (l *Logger) LogAttempt(runID, tenantID string, attempt int, query string, outcome string) {
	l.Log(Event{
		Type:     EventTypeAttempt,
		RunID:    runID,
		TenantID: tenantID,
		Data: map[string]any{
			"attempt": attempt,
			"query":   query,
			"outcome": outcome,
		},
	})
}

func (l *Logger) LogExecution(driver string, rows int, elapsed time.Duration, errText string) {
	data := map[string]any{
		"driver":     driver,
		"rows":       rows,
		"elapsed_ms": elapsed.Milliseconds(),
	}
	if errText != "" {
		data["error"] = errText
	}
	l.Log(Event{Type: EventTypeExecution, Data: data})
}

func (l *Logger) LogPolicy(tenantID, query, effect, reason string) {
	l.Log(Event{
		Type:     EventTypePolicy,
		TenantID: tenantID,
		Data: map[string]string{
			"query":  query,
			"effect": effect,
			"reason": reason,
		},
	})
}

func (l *Logger) LogCost(runID, stage string, promptTokens, completionTokens int, model string) {
	l.Log(Event{
		Type:  EventTypeCost,
		RunID: runID,
		Data: map[string]any{
			"stage":             stage,
			"prompt_tokens":     promptTokens,
			"completion_tokens": completionTokens,
			"total_tokens":      promptTokens + completionTokens,
			"model":             model,
		},
	})
}

func (l *Logger) LogError(runID, tenantID, stage string, err error) {
	l.Log(Event{
		Type:     EventTypeError,
		RunID:    runID,
		TenantID: tenantID,
		Data: map[string]string{
			"stage": stage,
			"error": err.Error(),
		},
	})
}

func (l *Logger) LogHeartbeat(active int64) {
	l.Log(Event{
		Type: EventTypeHeartbeat,
		Data: map[string]any{"status": "alive", "active_runs": active},
	})
}

func (l *Logger) LogLLM(runID, stage string, prompt any, response string) {
	l.Log(Event{
		Type:  EventTypeLLM,
		RunID: runID,
		Data: map[string]any{
			"stage":    stage,
			"prompt":   prompt,
			"response": response,
		},
	})
}
