// Package gateway exposes the pipeline to callers: an HTTP endpoint that
// streams NDJSON, a Telegram bot and the scheduled report poller.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rahul/querypilot/internal/events"
	"github.com/rahul/querypilot/internal/pipeline"
)

// Runner runs one pipeline request.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request, sink events.Emitter) error
}

// Messenger defines the interface for push-capable gateways (Telegram, ...).
type Messenger interface {
	// Start begins the message listening loop and returns when ctx is done.
	Start(ctx context.Context) error
	// Send sends a message to a specific chat
	Send(chatID string, text string) error
}

// answer runs req into a Collector and decodes its terminal event.
func answer(ctx context.Context, runner Runner, req pipeline.Request) (pipeline.FinalResult, bool, error) {
	var c events.Collector
	runErr := runner.Run(ctx, req, &c)

	evt, ok := c.Terminal()
	if !ok {
		if runErr == nil {
			runErr = errors.New("run ended without a result")
		}
		return pipeline.FinalResult{}, false, runErr
	}
	var res pipeline.FinalResult
	if err := json.Unmarshal([]byte(evt.Text), &res); err != nil {
		return pipeline.FinalResult{}, false, fmt.Errorf("decode %s event: %w", evt.Type, err)
	}
	return res, evt.Type == events.TypeResult, nil
}

// formatReply renders a result as a plain-text chat message.
func formatReply(res pipeline.FinalResult, ok bool) string {
	if !ok {
		msg := "unknown error"
		if res.Error != nil {
			msg = *res.Error
		}
		return "Sorry, something went wrong: " + msg
	}

	text := res.FinalSummary
	if text == "" && res.Error != nil {
		text = *res.Error
	}
	if res.SQLQuery != nil {
		text += "\n\nSQL:\n" + *res.SQLQuery
	}
	if res.Data != nil {
		text += fmt.Sprintf("\n\n(%d rows)", len(res.Data))
	}
	return text
}
