package rest

import (
	"context"
	"errors"
	"testing"

	sq "github.com/Masterminds/squirrel"
	"github.com/edgeflare/pgrest/pkg/resource"
	"github.com/edgeflare/pgrest/pkg/rest/compiler"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadAttachesPreloads(t *testing.T) {
	fx := newFixture(t, nil)
	fx.db.
		on(`FROM "public"."users"`,
			map[string]any{"id": int32(1), "name": "ann", "address_id": int32(10)},
			map[string]any{"id": int32(2), "name": "bob", "address_id": nil},
		).
		on(`FROM "public"."posts"`,
			map[string]any{"id": int32(5), "user_id": int32(1), "title": "a"},
			map[string]any{"id": int32(6), "user_id": int32(1), "title": "b"},
		).
		on(`FROM "public"."addresses"`, map[string]any{"id": int32(10), "city": "Oslo"})

	users := fx.resource(t, "users")
	result, err := fx.p.Read(context.Background(), users, fx.parse(t, users, "select=*,posts(id,title),home:address(city)"), CountNone)
	require.NoError(t, err)
	assert.Nil(t, result.Range)

	want := []map[string]any{
		{
			"id": int32(1), "name": "ann", "address_id": int32(10),
			"posts": []map[string]any{
				{"id": int32(5), "user_id": int32(1), "title": "a"},
				{"id": int32(6), "user_id": int32(1), "title": "b"},
			},
			"home": map[string]any{"id": int32(10), "city": "Oslo"},
		},
		{
			"id": int32(2), "name": "bob", "address_id": nil,
			"posts": []map[string]any{},
			"home":  nil,
		},
	}
	if diff := cmp.Diff(want, result.Rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}

	// one query per preload, keys deduplicated and nulls skipped
	require.Len(t, fx.db.calls, 3)
	assert.Equal(t, `SELECT "posts"."id", "posts"."title", "posts"."user_id" FROM "public"."posts" AS "posts" WHERE "posts"."user_id" IN ($1,$2)`, fx.db.calls[1].sql)
	assert.Equal(t, []any{int32(1), int32(2)}, fx.db.calls[1].args)
	assert.Equal(t, []any{int32(10)}, fx.db.calls[2].args)
}

func TestReadManyToManyStripsHelperColumns(t *testing.T) {
	fx := newFixture(t, nil)
	fx.db.
		on(`FROM "public"."posts"`, map[string]any{"id": int32(1)}, map[string]any{"id": int32(2)}).
		on(`FROM "public"."tags"`,
			map[string]any{"id": int32(7), "label": "go", compiler.ParentColumn: int32(1), compiler.RowNumberColumn: int64(1)},
			map[string]any{"id": int32(7), "label": "go", compiler.ParentColumn: int32(2), compiler.RowNumberColumn: int64(1)},
		)

	posts := fx.resource(t, "posts")
	result, err := fx.p.Read(context.Background(), posts, fx.parse(t, posts, "select=id,tags(label)&tags.limit=1"), CountNone)
	require.NoError(t, err)

	want := []map[string]any{
		{"id": int32(1), "tags": []map[string]any{{"id": int32(7), "label": "go"}}},
		{"id": int32(2), "tags": []map[string]any{{"id": int32(7), "label": "go"}}},
	}
	assert.Equal(t, want, result.Rows)
	assert.Contains(t, fx.db.last().sql, `ROW_NUMBER() OVER (PARTITION BY "__d"."__parent"`)
}

func TestReadNestedPreloads(t *testing.T) {
	fx := newFixture(t, nil)
	fx.db.
		on(`FROM "public"."users"`, map[string]any{"id": int32(1)}).
		on(`FROM "public"."posts"`, map[string]any{"id": int32(5), "user_id": int32(1)}).
		on(`FROM "public"."comments"`, map[string]any{"id": int32(9), "post_id": int32(5), "body": "hi"})

	users := fx.resource(t, "users")
	result, err := fx.p.Read(context.Background(), users, fx.parse(t, users, "select=id,posts(id,comments(body))&posts.comments.body=eq.hi"), CountNone)
	require.NoError(t, err)

	want := []map[string]any{{
		"id": int32(1),
		"posts": []map[string]any{{
			"id": int32(5), "user_id": int32(1),
			"comments": []map[string]any{{"id": int32(9), "post_id": int32(5), "body": "hi"}},
		}},
	}}
	assert.Equal(t, want, result.Rows)
	assert.Equal(t, []any{"hi", int32(5)}, fx.db.last().args)
}

func TestReadAntiJoinSkipsPreload(t *testing.T) {
	fx := newFixture(t, nil)
	fx.db.on(`FROM "public"."posts"`, map[string]any{"id": int32(1)})

	posts := fx.resource(t, "posts")
	result, err := fx.p.Read(context.Background(), posts, fx.parse(t, posts, "select=*,comments()&comments=is.null"), CountNone)
	require.NoError(t, err)

	assert.Equal(t, []map[string]any{{"id": int32(1), "comments": []map[string]any{}}}, result.Rows)
	assert.Equal(t, []string{"query"}, fx.db.kinds())
	assert.Contains(t, fx.db.last().sql, `LEFT JOIN "public"."comments"`)
}

func TestReadHookOrder(t *testing.T) {
	var order []string
	hooks := resource.HookFuncs{
		ScopeFunc: func(_ context.Context, q sq.SelectBuilder) sq.SelectBuilder {
			order = append(order, "scope")
			return q.Where(sq.Eq{`"users"."status"`: "active"})
		},
		HandleParamFunc: func(_ context.Context, key string, values []string, q sq.SelectBuilder) (sq.SelectBuilder, error) {
			order = append(order, "param:"+key)
			if key == "min_age" {
				return q.Where(sq.GtOrEq{`"users"."age"`: values[0]}), nil
			}
			return q, nil
		},
		AfterLoadFunc: func(_ context.Context, row map[string]any) (map[string]any, error) {
			order = append(order, "after_load")
			row["loaded"] = true
			return row, nil
		},
	}
	fx := newFixture(t, hooks)
	fx.db.on(`FROM "public"."users"`, map[string]any{"id": int32(1)})

	users := fx.resource(t, "users")
	result, err := fx.p.Read(context.Background(), users, fx.parse(t, users, "zeta=1&min_age=21&name=eq.ann"), CountNone)
	require.NoError(t, err)

	assert.Equal(t, []string{"scope", "param:min_age", "param:zeta", "after_load"}, order)
	assert.Equal(t, true, result.Rows[0]["loaded"])
	assert.Equal(t,
		`SELECT "users".* FROM "public"."users" AS "users" WHERE "users"."status" = $1 AND "users"."age" >= $2 AND "users"."name" = $3`,
		fx.db.last().sql)
	assert.Equal(t, []any{"active", "21", "ann"}, fx.db.last().args)
}

func TestReadHandleParamError(t *testing.T) {
	errBadParam := errors.New("bad param")
	fx := newFixture(t, resource.HookFuncs{
		HandleParamFunc: func(_ context.Context, _ string, _ []string, q sq.SelectBuilder) (sq.SelectBuilder, error) {
			return q, errBadParam
		},
	})
	users := fx.resource(t, "users")
	_, err := fx.p.Read(context.Background(), users, fx.parse(t, users, "foo=bar"), CountNone)
	require.ErrorIs(t, err, errBadParam)
	assert.Empty(t, fx.db.calls)
}

func TestReadCompileError(t *testing.T) {
	fx := newFixture(t, nil)
	posts := fx.resource(t, "posts")
	_, err := fx.p.Read(context.Background(), posts, fx.parse(t, posts, "select=*,tags!inner(label)"), CountNone)

	var ce *compiler.CompileError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Message, `"tags"`)
	assert.Empty(t, fx.db.calls)
}

func TestReadBackendError(t *testing.T) {
	fx := newFixture(t, nil)
	fx.db.fail(`FROM "public"."users"`, errBackend)
	users := fx.resource(t, "users")
	_, err := fx.p.Read(context.Background(), users, fx.parse(t, users, ""), CountNone)
	require.ErrorIs(t, err, errBackend)
	assert.Len(t, fx.db.calls, 1)
}

func TestReadMaxLimit(t *testing.T) {
	fx := newFixture(t, nil, WithMaxLimit(50))
	users := fx.resource(t, "users")

	req := fx.parse(t, users, "limit=500")
	require.NotNil(t, req.Limit)
	assert.Equal(t, uint64(50), *req.Limit)

	_, err := fx.p.Read(context.Background(), users, req, CountNone)
	require.NoError(t, err)
	assert.Contains(t, fx.db.last().sql, "LIMIT 50")
}

func TestReadCountModes(t *testing.T) {
	rows := []map[string]any{{"id": int32(1)}, {"id": int32(2)}}

	tests := []struct {
		name       string
		query      string
		mode       CountMode
		estimate   int64
		estErr     error
		wantKinds  []string
		wantTotal  int64
		wantStatus RangeStatus
	}{
		{
			name:       "exact",
			query:      "limit=2",
			mode:       CountExact,
			wantKinds:  []string{"query", "count"},
			wantTotal:  40,
			wantStatus: RangePartial,
		},
		{
			name:       "planned uses the estimate",
			query:      "limit=2",
			mode:       CountPlanned,
			estimate:   1000,
			wantKinds:  []string{"query", "estimate"},
			wantTotal:  1000,
			wantStatus: RangePartial,
		},
		{
			name:       "planned falls back to exact",
			query:      "limit=2",
			mode:       CountPlanned,
			estErr:     errors.New("no plan"),
			wantKinds:  []string{"query", "estimate", "count"},
			wantTotal:  40,
			wantStatus: RangePartial,
		},
		{
			name:       "estimated counts a partial page exactly",
			query:      "limit=5",
			mode:       CountEstimated,
			estimate:   1000,
			wantKinds:  []string{"query", "count"},
			wantTotal:  40,
			wantStatus: RangePartial,
		},
		{
			name:       "estimated without limit counts exactly",
			query:      "",
			mode:       CountEstimated,
			wantKinds:  []string{"query", "count"},
			wantTotal:  40,
			wantStatus: RangePartial,
		},
		{
			name:       "estimated full page clamps below",
			query:      "limit=2&offset=10",
			mode:       CountEstimated,
			estimate:   3,
			wantKinds:  []string{"query", "estimate"},
			wantTotal:  12,
			wantStatus: RangeOK,
		},
		{
			name:       "estimated full page uses a larger estimate",
			query:      "limit=2",
			mode:       CountEstimated,
			estimate:   500,
			wantKinds:  []string{"query", "estimate"},
			wantTotal:  500,
			wantStatus: RangePartial,
		},
		{
			name:       "estimated full page falls back to exact",
			query:      "limit=2",
			mode:       CountEstimated,
			estErr:     errors.New("explain failed"),
			wantKinds:  []string{"query", "estimate", "count"},
			wantTotal:  40,
			wantStatus: RangePartial,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t, nil)
			fx.db.on(`FROM "public"."users"`, rows...)
			fx.db.count = 40
			fx.db.estimate = tt.estimate
			fx.db.estErr = tt.estErr

			users := fx.resource(t, "users")
			result, err := fx.p.Read(context.Background(), users, fx.parse(t, users, tt.query), tt.mode)
			require.NoError(t, err)
			require.NotNil(t, result.Range)
			require.NotNil(t, result.Range.Total)

			assert.Equal(t, tt.wantKinds, fx.db.kinds())
			assert.Equal(t, tt.wantTotal, *result.Range.Total)
			assert.Equal(t, int64(2), result.Range.Returned)
			assert.Equal(t, tt.wantStatus, result.Range.Status())
		})
	}
}

func TestExactCountSQL(t *testing.T) {
	fx := newFixture(t, nil)
	fx.db.count = 3
	users := fx.resource(t, "users")

	_, err := fx.p.Read(context.Background(), users, fx.parse(t, users, "status=eq.active&order=name&limit=10&offset=20"), CountExact)
	require.NoError(t, err)

	c := fx.db.last()
	assert.Equal(t, "count", c.kind)
	assert.Equal(t, `SELECT COUNT(*) FROM (SELECT "users".* FROM "public"."users" AS "users" WHERE "users"."status" = $1) AS "pgrst_source"`, c.sql)
	assert.Equal(t, []any{"active"}, c.args)
}

func TestDefaultCountMode(t *testing.T) {
	fx := newFixture(t, nil, WithDefaultCount(CountExact))
	users := fx.resource(t, "users")
	result, err := fx.p.Read(context.Background(), users, fx.parse(t, users, ""), CountNone)
	require.NoError(t, err)
	require.NotNil(t, result.Range)
	assert.Equal(t, []string{"query", "count"}, fx.db.kinds())
}

func TestCompileDryRun(t *testing.T) {
	fx := newFixture(t, nil)
	users := fx.resource(t, "users")
	plan, err := fx.p.Compile(context.Background(), users, fx.parse(t, users, "select=id,posts(title)"))
	require.NoError(t, err)
	require.Len(t, plan.Preloads, 1)
	assert.Equal(t, "posts", plan.Preloads[0].Key)
	assert.Empty(t, fx.db.calls)
}

func TestParseCountMode(t *testing.T) {
	for _, s := range []string{"", "exact", "planned", "estimated"} {
		m, err := ParseCountMode(s)
		require.NoError(t, err)
		assert.Equal(t, CountMode(s), m)
	}
	_, err := ParseCountMode("fuzzy")
	assert.Error(t, err)
}
