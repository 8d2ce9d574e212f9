package store

import (
	"context"

	"github.com/rahul/querypilot/internal/pipeline"
)

// AddMessage appends a turn to a conversation.
func (s *Store) AddMessage(ctx context.Context, conversationID string, turn pipeline.Turn) error {
	query := `INSERT INTO messages (conversation_id, role, content, summary, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := s.DB.ExecContext(ctx, query, conversationID, turn.Role, turn.Content, turn.Summary, s.now().UnixNano())
	return err
}

// History returns the last limit turns of a conversation in chronological
// order.
func (s *Store) History(ctx context.Context, conversationID string, limit int) ([]pipeline.Turn, error) {
	query := `SELECT role, content, summary FROM messages WHERE conversation_id = ? ORDER BY id DESC LIMIT ?`
	rows, err := s.DB.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []pipeline.Turn
	for rows.Next() {
		var t pipeline.Turn
		if err := rows.Scan(&t.Role, &t.Content, &t.Summary); err != nil {
			return nil, err
		}
		history = append(history, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to get chronological order
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	return history, nil
}

// ClearHistory forgets a conversation.
func (s *Store) ClearHistory(ctx context.Context, conversationID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conversationID)
	return err
}
