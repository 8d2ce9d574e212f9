// Package pipeline turns a natural-language question into an answered,
// charted and summarized result, streaming its progress as events.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/rahul/querypilot/internal/events"
	"github.com/rahul/querypilot/internal/executor"
	"github.com/rahul/querypilot/internal/generation"
	"github.com/rahul/querypilot/internal/observability"
	"github.com/rahul/querypilot/internal/prompts"
	"github.com/rahul/querypilot/internal/tenant"
)

// Generator produces structured output from prompt messages.
type Generator interface {
	Generate(ctx context.Context, req generation.Request, out any) error
	GenerateStreamed(ctx context.Context, req generation.Request, field string, sink events.Emitter, out any) error
}

// QueryRunner executes a query. Failures are reported in the Outcome.
type QueryRunner interface {
	Execute(ctx context.Context, query string, target executor.Target) executor.Outcome
}

// RunRecord is what a Recorder receives once a run has delivered its
// terminal event.
type RunRecord struct {
	RunID    string
	Request  Request
	Result   FinalResult
	Attempts int
	Failed   bool
}

// Recorder persists finished runs.
type Recorder interface {
	Record(ctx context.Context, rec RunRecord) error
}

type Options struct {
	// MaxAttempts bounds query generation+execution cycles. Defaults to 3.
	MaxAttempts int
	// RunTimeout bounds a whole run. Defaults to 60s.
	RunTimeout time.Duration

	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Recorder Recorder
}

// Orchestrator sequences the stages of a run. It holds only read-only
// collaborators, so one Orchestrator serves any number of concurrent runs.
type Orchestrator struct {
	gen      Generator
	exec     QueryRunner
	tenants  tenant.Repository
	prompts  *prompts.Manager
	opts     Options
	sanitize *bluemonday.Policy
}

func New(gen Generator, exec QueryRunner, tenants tenant.Repository, pm *prompts.Manager, opts Options) *Orchestrator {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 60 * time.Second
	}
	if pm == nil {
		pm = prompts.NewManager("")
	}
	return &Orchestrator{
		gen:      gen,
		exec:     exec,
		tenants:  tenants,
		prompts:  pm,
		opts:     opts,
		sanitize: bluemonday.UGCPolicy(),
	}
}

// Run answers req, writing every event to sink. Exactly one terminal event
// is emitted unless the sink itself fails. The returned error describes why
// the run ended with an error event or could not deliver one.
func (o *Orchestrator) Run(ctx context.Context, req Request, sink events.Emitter) (err error) {
	r := &run{o: o, id: uuid.NewString(), req: req, sink: sink, started: time.Now()}

	observability.RunStarted()
	o.opts.Metrics.RunStarted()
	defer func() {
		outcome := string(r.terminal)
		if outcome == "" {
			outcome = "abandoned"
		}
		observability.RunFinished(r.terminal == events.TypeResult)
		o.opts.Metrics.RunDone()
		o.opts.Metrics.ObserveRun(outcome, len(r.attempts), r.started)
		o.opts.Logger.LogRun(r.id, req.TenantID, outcome, time.Since(r.started))
	}()
	defer func() {
		if p := recover(); p != nil {
			err = r.abort(ctx, &StageError{Stage: r.stage, Err: fmt.Errorf("panic: %v", p)})
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, o.opts.RunTimeout)
	defer cancel()

	res, err := r.pipeline(runCtx)
	if err != nil {
		if runCtx.Err() != nil && ctx.Err() == nil {
			err = stageError(r.stage, fmt.Errorf("run exceeded %s: %w", o.opts.RunTimeout, err))
		}
		return r.abort(ctx, err)
	}
	return r.finish(ctx, res)
}

// run is the state of a single Run call. It is never shared.
type run struct {
	o       *Orchestrator
	id      string
	req     Request
	tenant  *tenant.Tenant
	sink    events.Emitter
	started time.Time

	stage    string
	intent   ParsedIntent
	attempts []AttemptRecord
	// broken is the sink's write error; nothing more is sent once set.
	broken   error
	terminal events.Type
}

// Emit makes the run the Emitter handed to streamed generation calls, so
// content events get the same failure tracking as everything else.
func (r *run) Emit(ctx context.Context, evt events.Event) error {
	if r.broken != nil {
		return r.broken
	}
	if err := r.sink.Emit(ctx, evt); err != nil {
		if ctx.Err() == nil {
			r.broken = err
		}
		return err
	}
	return nil
}

func (r *run) enter(ctx context.Context, stage, status string) error {
	r.stage = stage
	if err := r.interrupted(ctx); err != nil {
		return err
	}
	r.o.opts.Logger.LogStage(r.id, r.req.TenantID, stage)
	return r.status(ctx, status)
}

func (r *run) status(ctx context.Context, text string) error {
	return r.Emit(ctx, events.Status(text))
}

func (r *run) partial(ctx context.Context, key string, payload any) error {
	evt, err := events.Partial(key, payload)
	if err != nil {
		return err
	}
	return r.Emit(ctx, evt)
}

// interrupted reports why no further stage may be scheduled, if anything.
func (r *run) interrupted(ctx context.Context) error {
	if r.broken != nil {
		return r.broken
	}
	return ctx.Err()
}

func (r *run) pipeline(ctx context.Context) (FinalResult, error) {
	r.stage = "tenant"
	t, err := r.o.tenants.Lookup(ctx, r.req.TenantID)
	if err != nil {
		return FinalResult{}, stageError("tenant", err)
	}
	r.tenant = t

	if err := r.parseIntent(ctx); err != nil {
		return FinalResult{}, err
	}

	success, unanswerable, err := r.queryLoop(ctx)
	if err != nil {
		return FinalResult{}, err
	}

	var res FinalResult
	switch {
	case unanswerable != nil:
		res.Error = unanswerable
	case success != nil:
		q := success.Query.Query()
		res.SQLQuery = &q
		res.Data = success.Outcome.Rows
		plan, err := r.planCharts(ctx, *success.Outcome)
		if err != nil {
			return FinalResult{}, err
		}
		res.ChartConfig = plan
	default:
		msg, err := r.explainFailure(ctx)
		if err != nil {
			return FinalResult{}, err
		}
		res.Error = &msg
		if q := r.lastQuery(); q != "" {
			res.SQLQuery = &q
		}
	}

	summary, err := r.summarize(ctx, res)
	if err != nil {
		return FinalResult{}, err
	}
	res.FinalSummary = summary
	return res, nil
}

// queryLoop runs attempts until one succeeds, the generator declares the
// question unanswerable, or ShouldRetry says stop.
func (r *run) queryLoop(ctx context.Context) (*AttemptRecord, *string, error) {
	maxAttempts := r.o.opts.MaxAttempts
	for n := 1; ; n++ {
		if err := r.interrupted(ctx); err != nil {
			return nil, nil, stageError(stageQuery, err)
		}

		rec, err := r.attempt(ctx, n)
		if err != nil {
			return nil, nil, err
		}
		r.attempts = append(r.attempts, rec)

		if rec.Query.Unanswerable() {
			r.o.opts.Logger.LogAttempt(r.id, r.req.TenantID, n, "", "unanswerable")
			return nil, rec.Query.Error, nil
		}

		out := executor.Failed(rec.Reason)
		if rec.Outcome != nil {
			out = *rec.Outcome
		}
		if Succeeded(out) {
			r.o.opts.Logger.LogAttempt(r.id, r.req.TenantID, n, rec.Query.Query(), "ok")
			return &r.attempts[len(r.attempts)-1], nil, nil
		}

		r.o.opts.Logger.LogAttempt(r.id, r.req.TenantID, n, rec.Query.Query(), rec.Reason)
		if err := r.status(ctx, retryStatus(n, maxAttempts, clip(rec.Reason, 160))); err != nil {
			return nil, nil, stageError(stageQuery, err)
		}
		if !ShouldRetry(out, n, maxAttempts) {
			return nil, nil, nil
		}
	}
}

// attempt generates one query and, when there is one, executes it.
// A response that does not parse is a failed attempt, not a run failure.
func (r *run) attempt(ctx context.Context, n int) (AttemptRecord, error) {
	if err := r.enter(ctx, stageQuery, "Generating Query"); err != nil {
		return AttemptRecord{}, stageError(stageQuery, err)
	}

	qa, err := r.generateQuery(ctx)
	if err != nil {
		if generation.IsMalformed(err) && r.interrupted(ctx) == nil {
			return AttemptRecord{Query: QueryAttempt{Attempt: n}, Reason: "the generated response could not be parsed"}, nil
		}
		return AttemptRecord{}, stageError(stageQuery, err)
	}
	qa.Attempt = n
	if err := r.partial(ctx, "sqlResult", qa); err != nil {
		return AttemptRecord{}, stageError(stageQuery, err)
	}

	rec := AttemptRecord{Query: qa}
	switch {
	case qa.Unanswerable():
		rec.Reason = *qa.Error
		return rec, nil
	case qa.Query() == "":
		rec.Reason = "no query was generated"
		return rec, nil
	}

	if err := r.enter(ctx, stageExecute, "Executing Query"); err != nil {
		return AttemptRecord{}, stageError(stageExecute, err)
	}
	started := time.Now()
	out := r.o.exec.Execute(ctx, qa.Query(), r.tenant.Target)
	r.o.opts.Metrics.ObserveStage(stageExecute, started)
	if err := r.partial(ctx, "dbResult", out); err != nil {
		return AttemptRecord{}, stageError(stageExecute, err)
	}

	rec.Outcome = &out
	rec.Reason = failureReason(out)
	return rec, nil
}

func (r *run) finish(ctx context.Context, res FinalResult) error {
	evt, err := events.Result(res)
	if err != nil {
		return r.abort(ctx, stageError("result", err))
	}
	if err := r.Emit(ctx, evt); err != nil {
		err = stageError("result", err)
		r.o.opts.Logger.LogError(r.id, r.req.TenantID, "result", err)
		return err
	}
	r.terminal = events.TypeResult
	r.record(ctx, res, false)
	return nil
}

// abort ends the run with an error event, unless a terminal event is
// already out or the sink can no longer be written to.
func (r *run) abort(ctx context.Context, cause error) error {
	stage := r.stage
	var se *StageError
	if errors.As(cause, &se) {
		stage = se.Stage
	}
	r.o.opts.Logger.LogError(r.id, r.req.TenantID, stage, cause)

	if r.terminal != "" || r.broken != nil {
		return cause
	}

	msg := cause.Error()
	res := FinalResult{Error: &msg}
	if q := r.lastQuery(); q != "" {
		res.SQLQuery = &q
	}
	evt, err := events.Failure(res)
	if err != nil {
		return errors.Join(cause, err)
	}
	if err := r.Emit(ctx, evt); err != nil {
		return errors.Join(cause, err)
	}
	r.terminal = events.TypeError
	r.record(ctx, res, true)
	return cause
}

func (r *run) record(ctx context.Context, res FinalResult, failed bool) {
	if r.o.opts.Recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err := r.o.opts.Recorder.Record(ctx, RunRecord{
		RunID:    r.id,
		Request:  r.req,
		Result:   res,
		Attempts: len(r.attempts),
		Failed:   failed,
	})
	if err != nil {
		r.o.opts.Logger.LogError(r.id, r.req.TenantID, "record", err)
	}
}

func (r *run) lastQuery() string {
	for i := len(r.attempts) - 1; i >= 0; i-- {
		if q := r.attempts[i].Query.Query(); q != "" {
			return q
		}
	}
	return ""
}
