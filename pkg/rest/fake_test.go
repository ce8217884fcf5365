package rest

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"

	pg "github.com/edgeflare/pgrest/pkg/pgx"
	"github.com/edgeflare/pgrest/pkg/resource"
	"github.com/edgeflare/pgrest/pkg/rest/query"
	pg_query "github.com/pganalyze/pg_query_go/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type call struct {
	kind string
	sql  string
	args []any
}

// fakeDB is a scripted Executor. Row results are chosen by the first rule
// whose fragment the statement contains.
type fakeDB struct {
	t *testing.T

	mu        sync.Mutex
	calls     []call
	rules     []rule
	count     int64
	estimate  int64
	estErr    error
	affected  int64
	commits   int
	rollbacks int
}

type rule struct {
	fragment string
	rows     []map[string]any
	err      error
}

var _ pg.Executor = (*fakeDB)(nil)

func newFakeDB(t *testing.T) *fakeDB {
	return &fakeDB{t: t}
}

func (f *fakeDB) on(fragment string, rows ...map[string]any) *fakeDB {
	f.rules = append(f.rules, rule{fragment: fragment, rows: rows})
	return f
}

func (f *fakeDB) fail(fragment string, err error) *fakeDB {
	f.rules = append(f.rules, rule{fragment: fragment, err: err})
	return f
}

func (f *fakeDB) record(kind, sql string, args []any) {
	f.t.Helper()
	_, err := pg_query.Parse(sql)
	require.NoError(f.t, err, "invalid SQL: %s", sql)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{kind: kind, sql: sql, args: args})
}

func (f *fakeDB) QueryMaps(_ context.Context, sql string, args ...any) ([]map[string]any, error) {
	f.record("query", sql, args)
	for _, r := range f.rules {
		if strings.Contains(sql, r.fragment) {
			if r.err != nil {
				return nil, r.err
			}
			// copy so tests can reuse fixtures
			out := make([]map[string]any, 0, len(r.rows))
			for _, row := range r.rows {
				cp := make(map[string]any, len(row))
				for k, v := range row {
					cp[k] = v
				}
				out = append(out, cp)
			}
			return out, nil
		}
	}
	return []map[string]any{}, nil
}

func (f *fakeDB) QueryInt64(_ context.Context, sql string, args ...any) (int64, error) {
	f.record("count", sql, args)
	return f.count, nil
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (int64, error) {
	f.record("exec", sql, args)
	return f.affected, nil
}

func (f *fakeDB) Estimate(_ context.Context, sql string, args ...any) (int64, error) {
	f.record("estimate", sql, args)
	return f.estimate, f.estErr
}

func (f *fakeDB) InTx(_ context.Context, fn func(pg.Executor) error) error {
	if err := fn(f); err != nil {
		f.mu.Lock()
		f.rollbacks++
		f.mu.Unlock()
		return err
	}
	f.mu.Lock()
	f.commits++
	f.mu.Unlock()
	return nil
}

func (f *fakeDB) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.kind
	}
	return out
}

func (f *fakeDB) last() call {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(f.t, f.calls)
	return f.calls[len(f.calls)-1]
}

var errBackend = errors.New("connection reset")

func fields(pairs ...string) []resource.Field {
	out := make([]resource.Field, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, resource.Field{Name: pairs[i], Type: pairs[i+1]})
	}
	return out
}

// testResources builds users, posts, comments and tags. hooks, when set,
// replace the hooks of users.
func testResources(t *testing.T, hooks resource.Hooks) *resource.Registry {
	t.Helper()
	reg, err := resource.Build(
		&resource.Resource{
			Name:   "users",
			Fields: fields("id", "integer", "name", "text", "email", "text", "status", "text", "age", "integer", "address_id", "integer"),
			Associations: map[string]*resource.Association{
				"posts":   {Kind: resource.HasMany, Related: "posts", ParentKey: "id", ChildKey: "user_id"},
				"address": {Kind: resource.BelongsTo, Related: "addresses", ParentKey: "address_id", ChildKey: "id"},
			},
			Hooks: hooks,
		},
		&resource.Resource{
			Name:   "posts",
			Fields: fields("id", "integer", "user_id", "integer", "title", "text", "status", "text"),
			Associations: map[string]*resource.Association{
				"comments": {Kind: resource.HasMany, Related: "comments", ParentKey: "id", ChildKey: "post_id"},
				"tags": {
					Kind: resource.ManyToMany, Related: "tags", ParentKey: "id", ChildKey: "id",
					JoinTable: "post_tags", JoinParentKey: "post_id", JoinChildKey: "tag_id",
				},
			},
		},
		&resource.Resource{Name: "comments", Fields: fields("id", "integer", "post_id", "integer", "body", "text")},
		&resource.Resource{Name: "tags", Fields: fields("id", "integer", "label", "text")},
		&resource.Resource{Name: "addresses", Fields: fields("id", "integer", "city", "text")},
	)
	require.NoError(t, err)
	return reg
}

type fixture struct {
	db  *fakeDB
	p   *Pipeline
	reg *resource.Registry
}

func newFixture(t *testing.T, hooks resource.Hooks, opts ...PipelineOptions) *fixture {
	t.Helper()
	db := newFakeDB(t)
	opts = append([]PipelineOptions{WithLogger(zaptest.NewLogger(t))}, opts...)
	return &fixture{db: db, p: New(db, opts...), reg: testResources(t, hooks)}
}

func (fx *fixture) resource(t *testing.T, name string) *resource.Resource {
	t.Helper()
	res, err := fx.reg.Lookup(name)
	require.NoError(t, err)
	return res
}

func (fx *fixture) parse(t *testing.T, res *resource.Resource, raw string) *query.Request {
	t.Helper()
	values, err := url.ParseQuery(raw)
	require.NoError(t, err)
	req, err := fx.p.Parse(res, values)
	require.NoError(t, err)
	return req
}

func (fx *fixture) parseWrite(t *testing.T, res *resource.Resource, raw string) *query.Request {
	t.Helper()
	values, err := url.ParseQuery(raw)
	require.NoError(t, err)
	req, err := fx.p.ParseWrite(res, values)
	require.NoError(t, err)
	return req
}
