package compiler

import (
	"net/url"
	"testing"

	sq "github.com/Masterminds/squirrel"
	"github.com/edgeflare/pgrest/pkg/resource"
	"github.com/edgeflare/pgrest/pkg/rest/query"
	pg_query "github.com/pganalyze/pg_query_go/v5"
	"github.com/stretchr/testify/require"
)

func fields(pairs ...string) []resource.Field {
	out := make([]resource.Field, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, resource.Field{Name: pairs[i], Type: pairs[i+1]})
	}
	return out
}

func testRegistry(t *testing.T) *resource.Registry {
	t.Helper()
	reg, err := resource.Build(
		&resource.Resource{
			Name: "users",
			Fields: fields(
				"id", "integer", "name", "text", "email", "text", "status", "text",
				"age", "integer", "active", "boolean", "billing_address_id", "integer",
				"shipping_address_id", "integer", "created_at", "timestamp with time zone",
			),
			Associations: map[string]*resource.Association{
				"posts":            {Kind: resource.HasMany, Related: "posts", ParentKey: "id", ChildKey: "user_id"},
				"billing_address":  {Kind: resource.BelongsTo, Related: "addresses", ParentKey: "billing_address_id", ChildKey: "id"},
				"shipping_address": {Kind: resource.BelongsTo, Related: "addresses", ParentKey: "shipping_address_id", ChildKey: "id"},
			},
		},
		&resource.Resource{
			Name: "posts",
			Fields: fields(
				"id", "integer", "user_id", "integer", "title", "text", "status", "text",
				"body", "text", "tags", "ARRAY", "meta", "jsonb", "created_at", "timestamp with time zone",
			),
			Associations: map[string]*resource.Association{
				"author":   {Kind: resource.BelongsTo, Related: "users", ParentKey: "user_id", ChildKey: "id"},
				"comments": {Kind: resource.HasMany, Related: "comments", ParentKey: "id", ChildKey: "post_id"},
				"labels": {
					Kind: resource.ManyToMany, Related: "tags", ParentKey: "id", ChildKey: "id",
					JoinTable: "post_tags", JoinParentKey: "post_id", JoinChildKey: "tag_id",
				},
			},
		},
		&resource.Resource{Name: "comments", Fields: fields("id", "integer", "post_id", "integer", "body", "text")},
		&resource.Resource{Name: "tags", Fields: fields("id", "integer", "label", "text")},
		&resource.Resource{Name: "addresses", Fields: fields("id", "integer", "city", "text")},
		&resource.Resource{
			Name:   "categories",
			Fields: fields("id", "integer", "parent_id", "integer", "name", "text"),
			Associations: map[string]*resource.Association{
				"parent":     {Kind: resource.BelongsTo, Related: "categories", ParentKey: "parent_id", ChildKey: "id"},
				"categories": {Kind: resource.HasMany, Related: "categories", ParentKey: "id", ChildKey: "parent_id"},
			},
		},
	)
	require.NoError(t, err)
	return reg
}

func lookup(t *testing.T, name string) *resource.Resource {
	t.Helper()
	res, err := testRegistry(t).Lookup(name)
	require.NoError(t, err)
	return res
}

func parseRequest(t *testing.T, raw string) *query.Request {
	t.Helper()
	values, err := url.ParseQuery(raw)
	require.NoError(t, err)
	req, err := query.Parse(values, query.Options{})
	require.NoError(t, err)
	return req
}

func compile(t *testing.T, resName, raw string) *Plan {
	t.Helper()
	res := lookup(t, resName)
	plan, err := Compile(From(res), res, parseRequest(t, raw))
	require.NoError(t, err)
	return plan
}

// toSQL renders a builder and checks that PostgreSQL can parse the result.
func toSQL(t *testing.T, b sq.Sqlizer) (string, []any) {
	t.Helper()
	sql, args, err := b.ToSql()
	require.NoError(t, err)
	_, err = pg_query.Parse(sql)
	require.NoError(t, err, "invalid SQL: %s", sql)
	return sql, args
}
