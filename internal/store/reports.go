package store

import (
	"context"
	"fmt"
)

// MinReportInterval keeps scheduled reports from hammering tenant databases.
const MinReportInterval = 60

// Report is a question re-run on a fixed interval.
type Report struct {
	ID              int64
	ConversationID  string
	TenantID        string
	Question        string
	IntervalSeconds int
}

func (s *Store) AddReport(ctx context.Context, conversationID, tenantID, question string, intervalSeconds int) (int64, error) {
	if intervalSeconds < MinReportInterval {
		return 0, fmt.Errorf("interval must be at least %d seconds", MinReportInterval)
	}
	query := `INSERT INTO reports (conversation_id, tenant_id, question, interval_seconds, last_run) VALUES (?, ?, ?, ?, 0)`
	res, err := s.DB.ExecContext(ctx, query, conversationID, tenantID, question, intervalSeconds)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// DueReports returns active reports whose interval has elapsed.
func (s *Store) DueReports(ctx context.Context) ([]Report, error) {
	query := `
		SELECT id, conversation_id, tenant_id, question, interval_seconds
		FROM reports
		WHERE status = 'active'
		AND ? - last_run >= interval_seconds
		ORDER BY id`
	return s.queryReports(ctx, query, s.now().Unix())
}

func (s *Store) ListReports(ctx context.Context, conversationID string) ([]Report, error) {
	query := `SELECT id, conversation_id, tenant_id, question, interval_seconds FROM reports WHERE conversation_id = ? AND status = 'active' ORDER BY id`
	return s.queryReports(ctx, query, conversationID)
}

func (s *Store) MarkReportRun(ctx context.Context, id int64) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE reports SET last_run = ? WHERE id = ?`, s.now().Unix(), id)
	return err
}

func (s *Store) ClearReports(ctx context.Context, conversationID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM reports WHERE conversation_id = ?`, conversationID)
	return err
}

func (s *Store) queryReports(ctx context.Context, query string, args ...any) ([]Report, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []Report
	for rows.Next() {
		var r Report
		if err := rows.Scan(&r.ID, &r.ConversationID, &r.TenantID, &r.Question, &r.IntervalSeconds); err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}
