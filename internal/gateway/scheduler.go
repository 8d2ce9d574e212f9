package gateway

import (
	"context"
	"log"
	"time"

	"github.com/rahul/querypilot/internal/pipeline"
	"github.com/rahul/querypilot/internal/store"
)

// ReportStore holds scheduled questions.
type ReportStore interface {
	DueReports(ctx context.Context) ([]store.Report, error)
	MarkReportRun(ctx context.Context, id int64) error
}

// Scheduler re-runs scheduled questions and pushes the answers through a
// Messenger.
type Scheduler struct {
	Runner   Runner
	Store    ReportStore
	Gateway  Messenger
	Interval time.Duration
}

func NewScheduler(runner Runner, store ReportStore, gateway Messenger) *Scheduler {
	return &Scheduler{Runner: runner, Store: store, Gateway: gateway, Interval: 30 * time.Second}
}

func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	log.Println("Report scheduler started...")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll runs every report that is due, one after another.
func (s *Scheduler) Poll(ctx context.Context) {
	reports, err := s.Store.DueReports(ctx)
	if err != nil {
		log.Printf("Error polling reports: %v", err)
		return
	}

	for _, r := range reports {
		if ctx.Err() != nil {
			return
		}
		log.Printf("Running scheduled report %d for %s: %s", r.ID, r.ConversationID, r.Question)

		// Mark first so a slow or failing run is not retried every tick.
		if err := s.Store.MarkReportRun(ctx, r.ID); err != nil {
			log.Printf("Error updating last run for report %d: %v", r.ID, err)
			continue
		}

		req, err := pipeline.NewRequest(r.TenantID, r.ConversationID, []pipeline.Turn{{Role: "user", Content: r.Question}})
		if err != nil {
			log.Printf("Skipping report %d: %v", r.ID, err)
			continue
		}
		res, ok, err := answer(ctx, s.Runner, req)
		if err != nil {
			log.Printf("Error running report %d: %v", r.ID, err)
			continue
		}

		if s.Gateway != nil {
			if err := s.Gateway.Send(r.ConversationID, "Scheduled report: "+r.Question+"\n\n"+formatReply(res, ok)); err != nil {
				log.Printf("Error delivering report %d: %v", r.ID, err)
			}
		}
	}
}
