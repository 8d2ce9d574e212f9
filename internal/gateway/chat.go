package gateway

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/rahul/querypilot/internal/pipeline"
	"github.com/rahul/querypilot/internal/store"
)

const chatHistoryTurns = 10

// ChatStore is what a chat conversation needs persisted between messages.
type ChatStore interface {
	History(ctx context.Context, conversationID string, limit int) ([]pipeline.Turn, error)
	AddMessage(ctx context.Context, conversationID string, turn pipeline.Turn) error
	ClearHistory(ctx context.Context, conversationID string) error
	LastSummary(ctx context.Context, conversationID string) (string, error)
	AddReport(ctx context.Context, conversationID, tenantID, question string, intervalSeconds int) (int64, error)
	ListReports(ctx context.Context, conversationID string) ([]store.Report, error)
	ClearReports(ctx context.Context, conversationID string) error
}

// ChatHandler answers chat messages for a single tenant. It is transport
// agnostic; TelegramGateway feeds it.
type ChatHandler struct {
	Runner   Runner
	Store    ChatStore
	TenantID string
}

const chatHelp = `Ask me a question about your data in plain language.

Commands:
/every <minutes> <question> - run a question on a schedule
/reports - list scheduled questions
/stop - cancel all scheduled questions
/reset - forget this conversation`

// Handle returns the reply to one incoming message.
func (h *ChatHandler) Handle(ctx context.Context, conversationID, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return chatHelp
	}

	cmd, args, _ := strings.Cut(text, " ")
	switch cmd {
	case "/start", "/help":
		return chatHelp
	case "/reset":
		if err := h.Store.ClearHistory(ctx, conversationID); err != nil {
			return "Could not reset the conversation: " + err.Error()
		}
		return "Conversation cleared."
	case "/every":
		return h.schedule(ctx, conversationID, args)
	case "/reports":
		return h.listReports(ctx, conversationID)
	case "/stop":
		if err := h.Store.ClearReports(ctx, conversationID); err != nil {
			return "Could not clear scheduled questions: " + err.Error()
		}
		return "Successfully cleared all your scheduled questions."
	}
	return h.ask(ctx, conversationID, text)
}

func (h *ChatHandler) ask(ctx context.Context, conversationID, question string) string {
	history, err := h.Store.History(ctx, conversationID, chatHistoryTurns)
	if err != nil {
		log.Printf("Warning: Failed to load history for %s: %v", conversationID, err)
	}
	turns := append(history, pipeline.Turn{Role: "user", Content: question})

	req, err := pipeline.NewRequest(h.TenantID, conversationID, turns)
	if err != nil {
		return err.Error()
	}
	if req.PriorSummary == "" {
		if summary, err := h.Store.LastSummary(ctx, conversationID); err == nil {
			req.PriorSummary = summary
		}
	}

	res, ok, err := answer(ctx, h.Runner, req)
	if err != nil {
		log.Printf("Error answering %s: %v", conversationID, err)
		return "I'm having trouble answering right now..."
	}

	reply := formatReply(res, ok)
	if ok {
		if err := h.Store.AddMessage(ctx, conversationID, pipeline.Turn{Role: "user", Content: question}); err != nil {
			log.Printf("Warning: Failed to save message: %v", err)
		}
		if err := h.Store.AddMessage(ctx, conversationID, pipeline.Turn{Role: "assistant", Content: res.FinalSummary, Summary: res.FinalSummary}); err != nil {
			log.Printf("Warning: Failed to save message: %v", err)
		}
	}
	return reply
}

func (h *ChatHandler) schedule(ctx context.Context, conversationID, args string) string {
	minutes, question, _ := strings.Cut(strings.TrimSpace(args), " ")
	n, err := strconv.Atoi(minutes)
	question = strings.TrimSpace(question)
	if err != nil || n <= 0 || question == "" {
		return "Usage: /every <minutes> <question>"
	}

	id, err := h.Store.AddReport(ctx, conversationID, h.TenantID, question, n*60)
	if err != nil {
		return "Could not schedule: " + err.Error()
	}
	return fmt.Sprintf("Scheduled #%d every %s: %s", id, time.Duration(n)*time.Minute, question)
}

func (h *ChatHandler) listReports(ctx context.Context, conversationID string) string {
	reports, err := h.Store.ListReports(ctx, conversationID)
	if err != nil {
		return "Could not list scheduled questions: " + err.Error()
	}
	if len(reports) == 0 {
		return "No scheduled questions."
	}
	var b strings.Builder
	b.WriteString("Scheduled questions:")
	for _, r := range reports {
		fmt.Fprintf(&b, "\n#%d every %s: %s", r.ID, time.Duration(r.IntervalSeconds)*time.Second, r.Question)
	}
	return b.String()
}
