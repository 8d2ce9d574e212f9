package executor

import (
	"context"
	"database/sql"
	"fmt"

	// database/sql drivers for the non-Postgres targets.
	_ "github.com/glebarez/go-sqlite"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/microsoft/go-mssqldb"
)

func init() {
	Register("sqlite", openSQL("sqlite"))
	Register("mysql", openSQL("mysql"))
	Register("sqlserver", openSQL("sqlserver"))
}

// sqlConn pins a database/sql handle to one physical connection.
type sqlConn struct {
	db   *sql.DB
	conn *sql.Conn
}

func openSQL(driver string) Opener {
	return func(ctx context.Context, dsn string) (Conn, error) {
		db, err := sql.Open(driver, dsn)
		if err != nil {
			return nil, fmt.Errorf("%s: open: %w", driver, err)
		}
		db.SetMaxOpenConns(1)

		conn, err := db.Conn(ctx)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: connect: %w", driver, err)
		}
		return &sqlConn{db: db, conn: conn}, nil
	}
}

func (c *sqlConn) Query(ctx context.Context, query string, maxRows int) (ResultSet, error) {
	rows, err := c.conn.QueryContext(ctx, query)
	if err != nil {
		return ResultSet{}, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return ResultSet{}, err
	}

	rs := ResultSet{Columns: cols, Rows: [][]any{}}
	for rows.Next() {
		if maxRows > 0 && len(rs.Rows) >= maxRows {
			rs.Truncated = true
			break
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return ResultSet{}, err
		}
		rs.Rows = append(rs.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return ResultSet{}, err
	}
	return rs, nil
}

func (c *sqlConn) Close() error {
	connErr := c.conn.Close()
	if err := c.db.Close(); err != nil {
		return err
	}
	return connErr
}
