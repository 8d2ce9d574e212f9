package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rahul/querypilot/internal/executor"
)

// Turn is one message of the conversation. Content may arrive as a plain
// string or as a structured object from an earlier run; in the latter case
// its summary is kept in Summary.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Summary string `json:"summary,omitempty"`
}

func (t *Turn) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
		Summary string          `json:"summary"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.Role, t.Summary, t.Content = raw.Role, raw.Summary, ""

	content := bytes.TrimSpace(raw.Content)
	switch {
	case len(content) == 0 || bytes.Equal(content, []byte("null")):
	case content[0] == '"':
		return json.Unmarshal(content, &t.Content)
	case content[0] == '{':
		var obj map[string]any
		if err := json.Unmarshal(content, &obj); err != nil {
			return err
		}
		for _, key := range []string{"summary", "finalSummary"} {
			if s, ok := obj[key].(string); ok && t.Summary == "" {
				t.Summary = s
			}
		}
		for _, key := range []string{"content", "text"} {
			if s, ok := obj[key].(string); ok {
				t.Content = s
				break
			}
		}
		if t.Content == "" {
			t.Content = t.Summary
		}
	default:
		t.Content = string(content)
	}
	return nil
}

var (
	ErrNoMessages    = errors.New("messages must not be empty")
	ErrEmptyQuestion = errors.New("last message has no question")
)

// Request is the input of one run. It is not modified once Run starts.
type Request struct {
	TenantID       string
	ConversationID string
	History        []Turn
	Question       string
	PriorSummary   string
}

// NewRequest splits an inbound message list: the last message is the
// question, the one before it may carry the previous run's summary.
func NewRequest(tenantID, conversationID string, messages []Turn) (Request, error) {
	if len(messages) == 0 {
		return Request{}, ErrNoMessages
	}
	last := messages[len(messages)-1]
	question := strings.TrimSpace(last.Content)
	if question == "" {
		return Request{}, ErrEmptyQuestion
	}

	req := Request{
		TenantID:       tenantID,
		ConversationID: conversationID,
		History:        append([]Turn(nil), messages[:len(messages)-1]...),
		Question:       question,
	}
	if n := len(req.History); n > 0 {
		req.PriorSummary = req.History[n-1].Summary
	}
	return req, nil
}

type Subject struct {
	Subject    string `json:"subject"`
	Importance int    `json:"importance"`
	Rationale  string `json:"rationale"`
}

type ParsedIntent struct {
	Intent           string    `json:"intent"`
	Subjects         []Subject `json:"subjects"`
	PrimaryFocus     string    `json:"primaryFocus"`
	ContextInfluence *string   `json:"contextInfluence"`
	Summary          string    `json:"summary"`
	Reasoning        string    `json:"reasoning"`
}

// QueryAttempt is one generated query. SQLQuery is nil when the generator
// decided the question cannot be answered, in which case Error says why.
type QueryAttempt struct {
	Attempt       int      `json:"attempt"`
	SQLQuery      *string  `json:"sqlQuery"`
	IsPartial     bool     `json:"isPartial"`
	PartialReason *string  `json:"partialReason"`
	Error         *string  `json:"error"`
	FollowUps     []string `json:"followUps"`
	Reasoning     string   `json:"reasoning"`
}

// Query returns the trimmed query text, or "" when there is none.
func (q QueryAttempt) Query() string {
	if q.SQLQuery == nil {
		return ""
	}
	return strings.TrimSpace(*q.SQLQuery)
}

// Unanswerable reports the semantic-failure case: no query, an error set.
func (q QueryAttempt) Unanswerable() bool {
	return q.Query() == "" && q.Error != nil && strings.TrimSpace(*q.Error) != ""
}

type ChartSpec struct {
	Type      string   `json:"type"`
	Title     string   `json:"title"`
	XKey      string   `json:"xKey"`
	YKeys     []string `json:"yKeys"`
	SeriesKey *string  `json:"seriesKey"`
	Reasoning string   `json:"reasoning"`
}

type ChartPlan struct {
	Reasoning string      `json:"reasoning"`
	Charts    []ChartSpec `json:"charts"`
}

type FailureExplanation struct {
	Reasoning   string   `json:"reasoning"`
	Explanation string   `json:"explanation"`
	Suggestions []string `json:"suggestions"`
}

type summaryOutput struct {
	Summary string `json:"summary"`
}

// FinalResult is the payload of the terminal event.
type FinalResult struct {
	Data         []map[string]any `json:"data"`
	ChartConfig  *ChartPlan       `json:"chartConfig"`
	SQLQuery     *string          `json:"sqlQuery"`
	Error        *string          `json:"error"`
	FinalSummary string           `json:"finalSummary"`
}

// AttemptRecord pairs a query attempt with what happened to it. Outcome is
// nil when the attempt never reached execution.
type AttemptRecord struct {
	Query   QueryAttempt
	Outcome *executor.Outcome
	Reason  string
}
