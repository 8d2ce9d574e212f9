package pipeline

import (
	"bytes"
	"encoding/json"

	"github.com/rahul/querypilot/internal/generation"
)

// Chart types a plan may use.
var chartTypes = []string{"bar", "line", "area", "pie", "scatter", "table"}

// The schemas are strict: every property is required and nullable values
// say so in their type.

var intentShape = &generation.Shape{
	Name:        "parsed_intent",
	Description: "Interpretation of the user's question",
	Schema: object(
		prop("reasoning", str()),
		prop("intent", str()),
		prop("subjects", arrayOf(object(
			prop("subject", str()),
			prop("importance", map[string]any{"type": "integer", "minimum": 0, "maximum": 10}),
			prop("rationale", str()),
		))),
		prop("primaryFocus", str()),
		prop("contextInfluence", nullable("string")),
		prop("summary", str()),
	),
}

var queryShape = &generation.Shape{
	Name:        "sql_result",
	Description: "A SQL query answering the question, or the reason none can be written",
	Schema: object(
		prop("reasoning", str()),
		prop("sqlQuery", nullable("string")),
		prop("isPartial", map[string]any{"type": "boolean"}),
		prop("partialReason", nullable("string")),
		prop("error", nullable("string")),
		prop("followUps", arrayOf(str())),
	),
}

var explainShape = &generation.Shape{
	Name:        "error_explanation",
	Description: "Why the question could not be answered",
	Schema: object(
		prop("reasoning", str()),
		prop("explanation", str()),
		prop("suggestions", arrayOf(str())),
	),
}

var chartShape = &generation.Shape{
	Name:        "chart_plan",
	Description: "Charts for the result set",
	Schema: object(
		prop("reasoning", str()),
		prop("charts", arrayOf(object(
			prop("type", map[string]any{"type": "string", "enum": chartTypes}),
			prop("title", str()),
			prop("xKey", str()),
			prop("yKeys", arrayOf(str())),
			prop("seriesKey", nullable("string")),
			prop("reasoning", str()),
		))),
	),
}

var summaryShape = &generation.Shape{
	Name:        "run_summary",
	Description: "Markdown answer for the user",
	Schema: object(
		prop("summary", str()),
	),
}

type property struct {
	name   string
	schema map[string]any
}

func prop(name string, schema map[string]any) property {
	return property{name: name, schema: schema}
}

// properties encodes in declaration order. Models fill strict schemas in
// property order, so the streamed field must come first.
type properties []property

func (ps properties) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, p := range ps {
		if i > 0 {
			b.WriteByte(',')
		}
		name, err := json.Marshal(p.name)
		if err != nil {
			return nil, err
		}
		schema, err := json.Marshal(p.schema)
		if err != nil {
			return nil, err
		}
		b.Write(name)
		b.WriteByte(':')
		b.Write(schema)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

func object(props ...property) map[string]any {
	required := make([]string, len(props))
	for i, p := range props {
		required[i] = p.name
	}
	return map[string]any{
		"type":                 "object",
		"properties":           properties(props),
		"required":             required,
		"additionalProperties": false,
	}
}

func str() map[string]any { return map[string]any{"type": "string"} }

func nullable(t string) map[string]any {
	return map[string]any{"type": []string{t, "null"}}
}

func arrayOf(items map[string]any) map[string]any {
	return map[string]any{"type": "array", "items": items}
}
