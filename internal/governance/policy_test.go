package governance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicyEngine_Evaluate(t *testing.T) {
	engine := NewDefaultPolicyEngine()
	ctx := context.Background()

	// Test Allow (Default)
	res1, err := engine.Evaluate(ctx, Request{Driver: "sqlite", Query: "DELETE FROM t"})
	require.NoError(t, err)
	assert.Equal(t, EffectAllow, res1.Effect)

	// Test Deny
	engine.DenyDriver("sqlite")
	res2, err := engine.Evaluate(ctx, Request{Driver: "sqlite", Query: "SELECT 1"})
	require.NoError(t, err)
	assert.Equal(t, EffectDeny, res2.Effect)
}

func TestReadOnlyPolicyEngine(t *testing.T) {
	engine := NewReadOnlyPolicyEngine()
	ctx := context.Background()

	cases := []struct {
		query string
		want  Effect
	}{
		{"SELECT name, created_at FROM users", EffectAllow},
		{"  with t as (select 1) select * from t", EffectAllow},
		{"(SELECT 1) UNION (SELECT 2)", EffectAllow},
		{"SELECT 'drop table x; delete' AS s", EffectAllow},
		{"SELECT update_time FROM jobs -- delete later", EffectAllow},
		{"DROP TABLE users", EffectDeny},
		{"select 1; delete from users", EffectDeny},
		{"/* harmless */ UPDATE users SET a = 1", EffectDeny},
		{"SELECT * INTO backup FROM users", EffectDeny},
		{"WITH gone AS (DELETE FROM users RETURNING *) SELECT * FROM gone", EffectDeny},
		{"PRAGMA table_info(users)", EffectDeny},
		{"WITH x AS (SELECT 1) DELETE FROM sales", EffectDeny},
		{"with x as (select 1)\nupdate sales set amount = 0", EffectDeny},
		{"WITH x AS (SELECT 1) INSERT INTO audit SELECT * FROM x", EffectDeny},
		{"EXPLAIN ANALYZE DELETE FROM sales", EffectDeny},
		{"explain analyze update sales set amount = 0", EffectDeny},
		{"SELECT a, b INTO TEMP copy FROM sales", EffectDeny},
		{"SELECT * FROM sales FOR UPDATE", EffectDeny},
		{"SELECT region FROM sales WHERE note = 'broken into pieces'", EffectAllow},
		{`SELECT "delete", [update] FROM sales`, EffectAllow},
		{"SELECT replace(region, 'n', 's') AS r, created_at FROM sales", EffectAllow},
		{"EXPLAIN ANALYZE SELECT * FROM sales", EffectAllow},
		{"SELECT s.region FROM sales s /* insert into later */ WHERE s.amount > 1", EffectAllow},
	}
	for _, tc := range cases {
		res, err := engine.Evaluate(ctx, Request{Driver: "postgres", Query: tc.query})
		require.NoError(t, err)
		assert.Equal(t, tc.want, res.Effect, "query %q: %s", tc.query, res.Reason)
	}
}

func TestStatements(t *testing.T) {
	got := Statements("select ';' as a; -- trailing; comment\nselect 2 /* x; y */ ;;")
	assert.Equal(t, []string{"select ';' as a", "select 2"}, got)
}

func TestDenyPatternIgnoresLiterals(t *testing.T) {
	engine := NewDefaultPolicyEngine()
	require.NoError(t, engine.DenyPattern(`(?i)\bpg_sleep\b`))
	ctx := context.Background()

	res, err := engine.Evaluate(ctx, Request{Driver: "postgres", Query: "SELECT 'pg_sleep' AS word"})
	require.NoError(t, err)
	assert.Equal(t, EffectAllow, res.Effect)

	res, err = engine.Evaluate(ctx, Request{Driver: "postgres", Query: "SELECT pg_sleep (10)"})
	require.NoError(t, err)
	assert.Equal(t, EffectDeny, res.Effect)
}

func TestStripLiterals(t *testing.T) {
	assert.Equal(t, "SELECT '   ' AS \"  \", [ ]", stripLiterals("SELECT 'a;b' AS \"xy\", [z]"))
	assert.Equal(t, []string{"select", "x", "as", "n", "from", "t", "where"}, bareWords("select count(x) as n from t.into where"))
}
