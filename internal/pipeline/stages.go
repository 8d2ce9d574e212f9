package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rahul/querypilot/internal/executor"
	"github.com/rahul/querypilot/internal/generation"
	"github.com/rahul/querypilot/internal/prompts"
)

// Stage names used in logs, metrics and errors.
const (
	stageIntent  = string(prompts.StageIntent)
	stageQuery   = string(prompts.StageQuery)
	stageExecute = "execute"
	stageExplain = string(prompts.StageExplain)
	stageChart   = string(prompts.StageChart)
	stageSummary = string(prompts.StageSummary)
)

const (
	historyTurns = 10
	sampleRows   = 10
)

func (r *run) parseIntent(ctx context.Context) error {
	defer r.o.opts.Metrics.ObserveStage(stageIntent, time.Now())
	if err := r.enter(ctx, stageIntent, "Parsing Intent"); err != nil {
		return stageError(stageIntent, err)
	}

	req, err := r.request(prompts.StageIntent, intentShape, true, "Question: "+r.req.Question)
	if err != nil {
		return stageError(stageIntent, err)
	}
	if err := r.o.gen.GenerateStreamed(ctx, req, "reasoning", r, &r.intent); err != nil {
		if generation.IsMalformed(err) {
			err = fmt.Errorf("%w: %w", ErrIntentParse, err)
		}
		return stageError(stageIntent, err)
	}
	for i := range r.intent.Subjects {
		r.intent.Subjects[i].Importance = min(max(r.intent.Subjects[i].Importance, 0), 10)
	}

	if err := r.partial(ctx, "userQueryParsed", r.intent); err != nil {
		return stageError(stageIntent, err)
	}
	return nil
}

func (r *run) generateQuery(ctx context.Context) (QueryAttempt, error) {
	defer r.o.opts.Metrics.ObserveStage(stageQuery, time.Now())

	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nParsed intent:\n%s\n", r.req.Question, mustJSON(r.intent))
	if len(r.attempts) > 0 {
		b.WriteString("\nEarlier attempts, all of which failed:\n")
		for _, a := range r.attempts {
			fmt.Fprintf(&b, "\nAttempt %d\n", a.Query.Attempt)
			if q := a.Query.Query(); q != "" {
				fmt.Fprintf(&b, "SQL: %s\n", q)
			}
			fmt.Fprintf(&b, "Failure: %s\n", a.Reason)
		}
		b.WriteString("\nWrite a different query that avoids these failures.\n")
	}

	req, err := r.request(prompts.StageQuery, queryShape, true, b.String())
	if err != nil {
		return QueryAttempt{}, err
	}
	var qa QueryAttempt
	err = r.o.gen.GenerateStreamed(ctx, req, "reasoning", r, &qa)
	return qa, err
}

// explainFailure asks why every attempt failed. It falls back to the last
// failure reason when the explanation itself cannot be produced.
func (r *run) explainFailure(ctx context.Context) (string, error) {
	defer r.o.opts.Metrics.ObserveStage(stageExplain, time.Now())
	if err := r.enter(ctx, stageExplain, "Explaining Failure"); err != nil {
		return "", stageError(stageExplain, err)
	}

	last := r.attempts[len(r.attempts)-1]
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", r.req.Question)
	if q := r.lastQuery(); q != "" {
		fmt.Fprintf(&b, "Last query:\n%s\n\n", q)
	}
	fmt.Fprintf(&b, "Error:\n%s\n\nAttempts made: %d\n", last.Reason, len(r.attempts))

	req, err := r.request(prompts.StageExplain, explainShape, false, b.String())
	if err != nil {
		return "", stageError(stageExplain, err)
	}
	var expl FailureExplanation
	if err := r.o.gen.GenerateStreamed(ctx, req, "explanation", r, &expl); err != nil {
		if stop := r.interrupted(ctx); stop != nil {
			return "", stageError(stageExplain, stop)
		}
		r.o.opts.Logger.LogError(r.id, r.req.TenantID, stageExplain, err)
		return last.Reason, nil
	}
	if err := r.partial(ctx, "errorExplanation", expl); err != nil {
		return "", stageError(stageExplain, err)
	}
	if strings.TrimSpace(expl.Explanation) == "" {
		return last.Reason, nil
	}
	return expl.Explanation, nil
}

// planCharts never fails the run on its own; a plan that cannot be produced
// or references no real columns leaves chartConfig null.
func (r *run) planCharts(ctx context.Context, out executor.Outcome) (*ChartPlan, error) {
	defer r.o.opts.Metrics.ObserveStage(stageChart, time.Now())
	if err := r.enter(ctx, stageChart, "Generating Chart Plan"); err != nil {
		return nil, stageError(stageChart, err)
	}

	cols := columnsOf(out)
	body := fmt.Sprintf("Question: %s\n\nColumns: %s\n\nFirst %d of %d rows:\n%s\n",
		r.req.Question, strings.Join(cols, ", "), min(sampleRows, len(out.Rows)), out.RowCount, mustJSON(head(out.Rows, sampleRows)))
	req, err := r.request(prompts.StageChart, chartShape, false, body)
	if err != nil {
		return nil, stageError(stageChart, err)
	}

	var plan ChartPlan
	if err := r.o.gen.GenerateStreamed(ctx, req, "reasoning", r, &plan); err != nil {
		if stop := r.interrupted(ctx); stop != nil {
			return nil, stageError(stageChart, stop)
		}
		r.o.opts.Logger.LogError(r.id, r.req.TenantID, stageChart, err)
		return nil, nil
	}

	plan.Charts = validCharts(plan.Charts, cols)
	if len(plan.Charts) == 0 {
		return nil, nil
	}
	if err := r.partial(ctx, "chartResult", plan); err != nil {
		return nil, stageError(stageChart, err)
	}
	return &plan, nil
}

// summarize produces the sanitized markdown answer. A transport failure ends
// the run; an unusable response falls back to a locally built summary.
func (r *run) summarize(ctx context.Context, res FinalResult) (string, error) {
	defer r.o.opts.Metrics.ObserveStage(stageSummary, time.Now())
	if err := r.enter(ctx, stageSummary, "Summarizing"); err != nil {
		return "", stageError(stageSummary, err)
	}

	req, err := r.request(prompts.StageSummary, summaryShape, false, r.summaryBody(res))
	if err != nil {
		return "", stageError(stageSummary, err)
	}
	var out summaryOutput
	if err := r.o.gen.GenerateStreamed(ctx, req, "summary", r, &out); err != nil {
		if !generation.IsMalformed(err) || r.interrupted(ctx) != nil {
			return "", stageError(stageSummary, err)
		}
		r.o.opts.Logger.LogError(r.id, r.req.TenantID, stageSummary, err)
		out = summaryOutput{}
	}

	summary := strings.TrimSpace(r.o.sanitize.Sanitize(out.Summary))
	if summary == "" {
		summary = strings.TrimSpace(r.o.sanitize.Sanitize(r.fallbackSummary(res)))
	}
	return summary, nil
}

func (r *run) summaryBody(res FinalResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", r.req.Question)
	if r.intent.Summary != "" {
		fmt.Fprintf(&b, "Understood as: %s\n", r.intent.Summary)
	}
	if res.SQLQuery != nil {
		fmt.Fprintf(&b, "\nSQL:\n%s\n", *res.SQLQuery)
	}
	switch {
	case res.Data != nil:
		fmt.Fprintf(&b, "\nThe query returned %d rows. First %d:\n%s\n", len(res.Data), min(sampleRows, len(res.Data)), mustJSON(head(res.Data, sampleRows)))
		if n := len(r.attempts); n > 0 && r.attempts[n-1].Query.IsPartial {
			reason := ""
			if p := r.attempts[n-1].Query.PartialReason; p != nil {
				reason = *p
			}
			fmt.Fprintf(&b, "\nThe query only partly answers the question: %s\n", reason)
		}
		if res.ChartConfig != nil {
			fmt.Fprintf(&b, "\n%d chart(s) will be shown next to the answer.\n", len(res.ChartConfig.Charts))
		}
	case res.Error != nil:
		fmt.Fprintf(&b, "\nThe question could not be answered after %d attempt(s): %s\n", len(r.attempts), *res.Error)
	}
	return b.String()
}

func (r *run) fallbackSummary(res FinalResult) string {
	if res.Data != nil {
		return fmt.Sprintf("Found %d rows answering: %s", len(res.Data), r.req.Question)
	}
	if res.Error != nil {
		return "I could not answer this question. " + *res.Error
	}
	return "I could not answer this question."
}

// request assembles the prompt for a stage. Conversation-aware stages also
// see the schema, recent history and the previous run's summary.
func (r *run) request(stage prompts.Stage, shape *generation.Shape, conversational bool, body string) (generation.Request, error) {
	system, err := r.o.prompts.Get(stage)
	if err != nil {
		return generation.Request{}, err
	}
	if conversational {
		system += "\n\n## Database schema\n\n" + r.tenant.Schema.Describe()
	}

	msgs := []generation.Message{{Role: generation.RoleSystem, Content: system}}
	if conversational {
		history := r.req.History
		if len(history) > historyTurns {
			history = history[len(history)-historyTurns:]
		}
		for _, t := range history {
			if strings.TrimSpace(t.Content) == "" {
				continue
			}
			msgs = append(msgs, generation.Message{Role: roleOf(t.Role), Content: t.Content})
		}
		if r.req.PriorSummary != "" {
			msgs = append(msgs, generation.Message{
				Role:    generation.RoleSystem,
				Content: "Summary of the previous answer in this conversation:\n" + r.req.PriorSummary,
			})
		}
	}
	msgs = append(msgs, generation.Message{Role: generation.RoleUser, Content: body})

	return generation.Request{RunID: r.id, Stage: string(stage), Messages: msgs, Shape: shape}, nil
}

func roleOf(role string) generation.Role {
	switch strings.ToLower(role) {
	case "assistant", "ai", "bot":
		return generation.RoleAssistant
	}
	return generation.RoleUser
}

// validCharts drops specs whose type is unknown or whose keys are not
// columns of the result.
func validCharts(charts []ChartSpec, cols []string) []ChartSpec {
	known := make(map[string]bool, len(cols))
	for _, c := range cols {
		known[c] = true
	}
	allowed := make(map[string]bool, len(chartTypes))
	for _, t := range chartTypes {
		allowed[t] = true
	}

	out := make([]ChartSpec, 0, len(charts))
	for _, c := range charts {
		if !allowed[c.Type] {
			continue
		}
		if c.Type != "table" && (c.XKey == "" || len(c.YKeys) == 0) {
			continue
		}
		ok := c.XKey == "" || known[c.XKey]
		for _, y := range c.YKeys {
			ok = ok && known[y]
		}
		if c.SeriesKey != nil && *c.SeriesKey != "" {
			ok = ok && known[*c.SeriesKey]
		}
		if ok {
			out = append(out, c)
		}
	}
	return out
}

func columnsOf(out executor.Outcome) []string {
	if len(out.Columns) > 0 {
		return out.Columns
	}
	if len(out.Rows) == 0 {
		return nil
	}
	cols := make([]string, 0, len(out.Rows[0]))
	for k := range out.Rows[0] {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

func head(rows []map[string]any, n int) []map[string]any {
	if len(rows) > n {
		return rows[:n]
	}
	return rows
}

func mustJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
