package governance

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Effect defines the result of a policy evaluation.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Request contains the statement about to be executed for a tenant.
type Request struct {
	TenantID string
	Driver   string
	Query    string
}

// Result contains the outcome of a policy evaluation.
type Result struct {
	Effect Effect
	Reason string
}

// PolicyEngine evaluates generated statements before they reach a database.
type PolicyEngine interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// DefaultPolicyEngine denies statements by leading keyword, by keyword
// anywhere in the statement, by regex and per driver. Keywords and patterns
// are matched outside string literals, quoted identifiers and comments.
type DefaultPolicyEngine struct {
	DeniedKeywords map[string]bool
	// DeniedClauses are denied wherever they appear as a bare word, at any
	// nesting depth. A word directly followed by "(" is a function call and
	// does not count.
	DeniedClauses map[string]bool
	DeniedDrivers map[string]bool
	DeniedRegex   []*regexp.Regexp
}

// ReadOnlyKeywords are the statement verbs the default engine refuses.
var ReadOnlyKeywords = []string{
	"insert", "update", "delete", "merge", "upsert", "replace",
	"drop", "alter", "truncate", "create", "rename",
	"grant", "revoke", "attach", "detach", "pragma", "vacuum",
	"copy", "call", "exec", "execute", "set",
}

// WriteClauses are denied anywhere in a read-only statement. They catch a
// write behind a CTE prefix ("WITH x AS (...) DELETE ..."), inside a CTE
// body, after EXPLAIN ANALYZE, and SELECT ... INTO. Row locking reads
// (FOR UPDATE) are refused along with them.
var WriteClauses = []string{
	"insert", "update", "delete", "merge", "upsert",
	"drop", "alter", "truncate", "create", "grant", "revoke", "into",
}

func NewDefaultPolicyEngine() *DefaultPolicyEngine {
	return &DefaultPolicyEngine{
		DeniedKeywords: make(map[string]bool),
		DeniedClauses:  make(map[string]bool),
		DeniedDrivers:  make(map[string]bool),
		DeniedRegex:    make([]*regexp.Regexp, 0),
	}
}

// NewReadOnlyPolicyEngine returns an engine that only lets reads through.
func NewReadOnlyPolicyEngine() *DefaultPolicyEngine {
	e := NewDefaultPolicyEngine()
	for _, kw := range ReadOnlyKeywords {
		e.DenyKeyword(kw)
	}
	for _, kw := range WriteClauses {
		e.DenyClause(kw)
	}
	return e
}

func (e *DefaultPolicyEngine) DenyKeyword(kw string) {
	e.DeniedKeywords[strings.ToLower(kw)] = true
}

func (e *DefaultPolicyEngine) DenyClause(kw string) {
	e.DeniedClauses[strings.ToLower(kw)] = true
}

func (e *DefaultPolicyEngine) DenyDriver(name string) {
	e.DeniedDrivers[name] = true
}

func (e *DefaultPolicyEngine) DenyPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	e.DeniedRegex = append(e.DeniedRegex, re)
	return nil
}

func (e *DefaultPolicyEngine) Evaluate(ctx context.Context, req Request) (Result, error) {
	if e.DeniedDrivers[req.Driver] {
		return Result{
			Effect: EffectDeny,
			Reason: fmt.Sprintf("driver '%s' is restricted by system policy", req.Driver),
		}, nil
	}

	for _, stmt := range Statements(req.Query) {
		if kw := leadingKeyword(stmt); e.DeniedKeywords[kw] {
			return Result{
				Effect: EffectDeny,
				Reason: fmt.Sprintf("statement starting with '%s' is not allowed", strings.ToUpper(kw)),
			}, nil
		}

		bare := stripLiterals(stmt)
		for _, w := range bareWords(bare) {
			if e.DeniedClauses[w] {
				return Result{
					Effect: EffectDeny,
					Reason: fmt.Sprintf("statement containing '%s' is not allowed", strings.ToUpper(w)),
				}, nil
			}
		}

		for _, re := range e.DeniedRegex {
			if re.MatchString(bare) {
				return Result{
					Effect: EffectDeny,
					Reason: fmt.Sprintf("query matches restricted pattern: %s", re.String()),
				}, nil
			}
		}
	}

	return Result{
		Effect: EffectAllow,
		Reason: "Approved by default policy",
	}, nil
}

// Statements splits a query on semicolons that are outside quotes and
// comments, dropping empty statements. Comments are replaced by a space.
func Statements(query string) []string {
	var (
		out   []string
		cur   strings.Builder
		quote byte
	)
	for i := 0; i < len(query); i++ {
		c := query[i]
		var next byte
		if i+1 < len(query) {
			next = query[i+1]
		}
		switch {
		case quote != 0:
			cur.WriteByte(c)
			if c == quote {
				quote = 0
			}
		case c == '-' && next == '-':
			for i < len(query) && query[i] != '\n' {
				i++
			}
			cur.WriteByte(' ')
		case c == '/' && next == '*':
			end := strings.Index(query[i+2:], "*/")
			if end < 0 {
				i = len(query)
			} else {
				i += end + 3
			}
			cur.WriteByte(' ')
		case c == '\'' || c == '"' || c == '`':
			quote = c
			cur.WriteByte(c)
		case c == ';':
			if stmt := strings.TrimSpace(cur.String()); stmt != "" {
				out = append(out, stmt)
			}
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if stmt := strings.TrimSpace(cur.String()); stmt != "" {
		out = append(out, stmt)
	}
	return out
}

func leadingKeyword(stmt string) string {
	stmt = strings.TrimLeft(stmt, " \t\r\n(")
	end := strings.IndexFunc(stmt, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r == '_')
	})
	if end < 0 {
		end = len(stmt)
	}
	return strings.ToLower(stmt[:end])
}

// stripLiterals blanks the contents of quoted strings and identifiers in a
// statement produced by Statements, keeping the quote characters.
func stripLiterals(stmt string) string {
	b := []byte(stmt)
	var quote byte
	for i, c := range b {
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			} else {
				b[i] = ' '
			}
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case c == '[':
			quote = ']'
		}
	}
	return string(b)
}

// bareWords returns the lower-cased keywords of a stripped statement,
// skipping qualified names (t.col) and function calls (name(...)).
func bareWords(stmt string) []string {
	var words []string
	for i := 0; i < len(stmt); {
		if !isWordStart(stmt[i]) {
			i++
			continue
		}
		start := i
		for i < len(stmt) && isWordByte(stmt[i]) {
			i++
		}
		if start > 0 && (stmt[start-1] == '.' || isWordByte(stmt[start-1])) {
			continue
		}
		next := strings.TrimLeft(stmt[i:], " \t\r\n")
		if strings.HasPrefix(next, "(") {
			continue
		}
		words = append(words, strings.ToLower(stmt[start:i]))
	}
	return words
}

func isWordStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

func isWordByte(c byte) bool {
	return isWordStart(c) || c >= '0' && c <= '9' || c == '$' || c == '@' || c == '#'
}
