package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

func init() {
	Register("postgres", openPostgres)
}

// pgConn wraps a single pgx connection; no pool, one connection per call.
type pgConn struct {
	conn *pgx.Conn
}

func openPostgres(ctx context.Context, dsn string) (Conn, error) {
	c, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	return &pgConn{conn: c}, nil
}

func (c *pgConn) Query(ctx context.Context, query string, maxRows int) (ResultSet, error) {
	rows, err := c.conn.Query(ctx, query)
	if err != nil {
		return ResultSet{}, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	rs := ResultSet{Columns: make([]string, len(fields)), Rows: [][]any{}}
	for i, f := range fields {
		rs.Columns[i] = f.Name
	}

	for rows.Next() {
		if maxRows > 0 && len(rs.Rows) >= maxRows {
			rs.Truncated = true
			break
		}
		values, err := rows.Values()
		if err != nil {
			return ResultSet{}, err
		}
		rs.Rows = append(rs.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return ResultSet{}, err
	}
	return rs, nil
}

func (c *pgConn) Close() error {
	// Close must not hang on a cancelled run context.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.conn.Close(ctx)
}
