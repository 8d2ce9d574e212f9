// Package executor runs a generated query against a tenant's database and
// reports the rows or the failure as data. It never retries.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rahul/querypilot/internal/governance"
	"github.com/rahul/querypilot/internal/observability"
)

// Target is an opaque per-tenant connection target.
type Target struct {
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"-"`
}

// Outcome is the result of one execution. Error is set, Rows nil and
// RowCount zero whenever the query could not be run.
type Outcome struct {
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"rowCount"`
	Error    *string          `json:"error"`
	Columns  []string         `json:"columns,omitempty"`
}

// Failed builds an Outcome carrying only an error message.
func Failed(msg string) Outcome {
	return Outcome{Error: &msg}
}

// Options tune an Executor.
type Options struct {
	// StatementTimeout bounds a single execution; zero means no extra bound.
	StatementTimeout time.Duration
	// MaxRows truncates larger results; zero keeps everything.
	MaxRows int
	// Guard, when set, vets every statement before a connection is opened.
	Guard governance.PolicyEngine

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Executor opens a dedicated connection per call and always releases it.
type Executor struct {
	opts    Options
	openers map[string]Opener
}

// New returns an Executor using the globally registered drivers.
func New(opts Options) *Executor {
	return &Executor{opts: opts, openers: registered()}
}

// WithOpener overrides the opener for a driver name on this Executor only.
func (e *Executor) WithOpener(driver string, open Opener) *Executor {
	e.openers[driver] = open
	return e
}

// Execute runs query against target. It never returns an error: every failure
// is reported through Outcome.Error.
func (e *Executor) Execute(ctx context.Context, query string, target Target) (out Outcome) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out = Failed(fmt.Sprintf("execution panicked: %v", r))
		}
		errText := ""
		if out.Error != nil {
			errText = *out.Error
		}
		e.opts.Logger.LogExecution(target.Driver, out.RowCount, time.Since(started), errText)
		e.opts.Metrics.Executed(target.Driver, out.Error == nil)
	}()

	if query == "" {
		return Failed("empty query")
	}

	if e.opts.Guard != nil {
		res, err := e.opts.Guard.Evaluate(ctx, governance.Request{Driver: target.Driver, Query: query})
		if err != nil {
			return Failed(fmt.Sprintf("policy check failed: %v", err))
		}
		e.opts.Logger.LogPolicy("", query, string(res.Effect), res.Reason)
		if res.Effect == governance.EffectDeny {
			return Failed("query rejected by policy: " + res.Reason)
		}
	}

	open, ok := e.openers[target.Driver]
	if !ok {
		return Failed(fmt.Sprintf("unsupported driver %q", target.Driver))
	}

	if e.opts.StatementTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.StatementTimeout)
		defer cancel()
	}

	conn, err := open(ctx, target.DSN)
	if err != nil {
		return Failed(fmt.Sprintf("connect: %v", err))
	}
	defer conn.Close()

	res, err := conn.Query(ctx, query, e.opts.MaxRows)
	if err != nil {
		return Failed(err.Error())
	}
	if res.Truncated {
		e.opts.Logger.Log(observability.Event{
			Type: observability.EventTypeExecution,
			Data: map[string]any{"truncated_at": e.opts.MaxRows},
		})
	}

	cols := uniqueColumns(res.Columns)
	rows := make([]map[string]any, 0, len(res.Rows))
	for _, values := range res.Rows {
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if i < len(values) {
				row[col] = normalize(values[i])
			}
		}
		rows = append(rows, row)
	}
	return Outcome{Rows: rows, RowCount: len(rows), Columns: cols}
}

// uniqueColumns suffixes repeated column names (id, id_2, id_3) so that
// SELECT a.id, b.id keeps both values in the row maps.
func uniqueColumns(cols []string) []string {
	out := make([]string, len(cols))
	seen := make(map[string]bool, len(cols))
	for i, col := range cols {
		name := col
		for n := 2; seen[name]; n++ {
			name = fmt.Sprintf("%s_%d", col, n)
		}
		seen[name] = true
		out[i] = name
	}
	return out
}

// normalize turns driver values into something that JSON-encodes sensibly.
func normalize(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case [16]byte:
		return uuid.UUID(t).String()
	case fmt.Stringer:
		return t.String()
	default:
		return v
	}
}
