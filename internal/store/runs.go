package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rahul/querypilot/internal/pipeline"
)

// Run is a persisted terminal result.
type Run struct {
	ID             int64
	RunID          string
	TenantID       string
	ConversationID string
	Question       string
	SQLQuery       string
	Error          string
	Summary        string
	RowCount       int
	Attempts       int
	Failed         bool
	CreatedAt      time.Time
}

// Record stores a finished run. It satisfies pipeline.Recorder.
func (s *Store) Record(ctx context.Context, rec pipeline.RunRecord) error {
	query := `INSERT INTO runs (run_id, tenant_id, conversation_id, question, sql_query, error, summary, row_count, attempts, failed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.DB.ExecContext(ctx, query,
		rec.RunID,
		rec.Request.TenantID,
		rec.Request.ConversationID,
		rec.Request.Question,
		nullable(rec.Result.SQLQuery),
		nullable(rec.Result.Error),
		rec.Result.FinalSummary,
		len(rec.Result.Data),
		rec.Attempts,
		rec.Failed,
		s.now().UnixNano(),
	)
	return err
}

// LastSummary returns the summary of the latest successful run in a
// conversation, or "" when there is none.
func (s *Store) LastSummary(ctx context.Context, conversationID string) (string, error) {
	query := `SELECT summary FROM runs WHERE conversation_id = ? AND failed = 0 AND summary != '' ORDER BY id DESC LIMIT 1`
	var summary string
	err := s.DB.QueryRowContext(ctx, query, conversationID).Scan(&summary)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return summary, err
}

// Recent lists a tenant's latest runs, newest first.
func (s *Store) Recent(ctx context.Context, tenantID string, limit int) ([]Run, error) {
	query := `SELECT id, run_id, tenant_id, conversation_id, question, sql_query, error, summary, row_count, attempts, failed, created_at
		FROM runs WHERE tenant_id = ? ORDER BY id DESC LIMIT ?`
	rows, err := s.DB.QueryContext(ctx, query, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r          Run
			sqlQ, errS sql.NullString
			created    int64
		)
		if err := rows.Scan(&r.ID, &r.RunID, &r.TenantID, &r.ConversationID, &r.Question, &sqlQ, &errS,
			&r.Summary, &r.RowCount, &r.Attempts, &r.Failed, &created); err != nil {
			return nil, err
		}
		r.SQLQuery, r.Error = sqlQ.String, errS.String
		r.CreatedAt = time.Unix(0, created)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
