package executor

import (
	"context"
	"sync"
)

// ResultSet is the raw output of a query: column names and positional values.
type ResultSet struct {
	Columns   []string
	Rows      [][]any
	Truncated bool
}

// Conn is a single dedicated database connection.
type Conn interface {
	// Query runs a statement and reads at most maxRows rows (0 = all).
	Query(ctx context.Context, query string, maxRows int) (ResultSet, error)
	Close() error
}

// Opener dials a new connection for a DSN.
type Opener func(ctx context.Context, dsn string) (Conn, error)

var (
	driversMu sync.RWMutex
	drivers   = map[string]Opener{}
)

// Register makes a driver available under name. Backends call it from init().
func Register(name string, open Opener) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[name] = open
}

// Drivers lists the registered driver names.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	return names
}

func registered() map[string]Opener {
	driversMu.RLock()
	defer driversMu.RUnlock()
	out := make(map[string]Opener, len(drivers))
	for name, open := range drivers {
		out[name] = open
	}
	return out
}
