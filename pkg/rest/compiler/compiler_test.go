package compiler

import (
	"testing"

	"github.com/edgeflare/pgrest/pkg/resource"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile(t *testing.T) {
	tests := []struct {
		name     string
		resource string
		query    string
		wantSQL  string
		wantArgs []any
	}{
		{
			name:     "root filter and limit",
			resource: "users",
			query:    "status=eq.active&limit=10",
			wantSQL:  `SELECT "users".* FROM "public"."users" AS "users" WHERE "users"."status" = $1 LIMIT 10`,
			wantArgs: []any{"active"},
		},
		{
			name:     "fields only",
			resource: "users",
			query:    "select=id,name",
			wantSQL:  `SELECT "users"."id", "users"."name" FROM "public"."users" AS "users"`,
		},
		{
			name:     "alias adds primary key",
			resource: "users",
			query:    "select=fullName:name",
			wantSQL:  `SELECT "users"."name" AS "fullName", "users"."id" FROM "public"."users" AS "users"`,
		},
		{
			name:     "alias with field name of another field",
			resource: "users",
			query:    "select=status:name",
			wantSQL:  `SELECT "users"."name" AS "status", "users"."id" FROM "public"."users" AS "users"`,
		},
		{
			name:     "cast order and pagination",
			resource: "users",
			query:    "age=gte.18&order=name.desc.nullslast,id&limit=5&offset=10",
			wantSQL: `SELECT "users".* FROM "public"."users" AS "users" WHERE "users"."age" >= $1` +
				` ORDER BY "users"."name" DESC NULLS LAST, "users"."id" ASC LIMIT 5 OFFSET 10`,
			wantArgs: []any{int64(18)},
		},
		{
			name:     "anti-join",
			resource: "posts",
			query:    "select=*,comments()&comments=is.null",
			wantSQL: `SELECT DISTINCT "posts".* FROM "public"."posts" AS "posts"` +
				` LEFT JOIN "public"."comments" AS "comments" ON ("posts"."id" = "comments"."post_id")` +
				` WHERE "comments"."id" IS NULL`,
		},
		{
			name:     "anti-join with filters in join condition",
			resource: "posts",
			query:    "select=*,comments()&comments=is.null&comments.body=eq.spam",
			wantSQL: `SELECT DISTINCT "posts".* FROM "public"."posts" AS "posts"` +
				` LEFT JOIN "public"."comments" AS "comments" ON ("posts"."id" = "comments"."post_id" AND "comments"."body" = $1)` +
				` WHERE "comments"."id" IS NULL`,
			wantArgs: []any{"spam"},
		},
		{
			name:     "existence join",
			resource: "posts",
			query:    "select=*,comments()&comments=not.is.null",
			wantSQL: `SELECT DISTINCT "posts".* FROM "public"."posts" AS "posts"` +
				` INNER JOIN "public"."comments" AS "comments" ON ("posts"."id" = "comments"."post_id")`,
		},
		{
			name:     "inner join projects order columns",
			resource: "users",
			query:    "select=id,posts!inner(title)&posts.status=eq.published&order=name",
			wantSQL: `SELECT DISTINCT "users"."id", "users"."name" FROM "public"."users" AS "users"` +
				` INNER JOIN "public"."posts" AS "posts" ON ("users"."id" = "posts"."user_id")` +
				` WHERE "posts"."status" = $1 ORDER BY "users"."name" ASC`,
			wantArgs: []any{"published"},
		},
		{
			name:     "same related resource under two associations",
			resource: "users",
			query: "select=id,billing_address(city),shipping_address!inner(city)" +
				"&billing_address.city=eq.Oslo&shipping_address.city=eq.Bergen",
			wantSQL: `SELECT DISTINCT "users"."id", "users"."billing_address_id", "users"."shipping_address_id"` +
				` FROM "public"."users" AS "users"` +
				` INNER JOIN "public"."addresses" AS "shipping_address" ON ("users"."shipping_address_id" = "shipping_address"."id")` +
				` WHERE "shipping_address"."city" = $1`,
			wantArgs: []any{"Bergen"},
		},
		{
			name:     "self reference with colliding alias",
			resource: "categories",
			query:    "select=*,categories()&categories=is.null",
			wantSQL: `SELECT DISTINCT "categories".* FROM "public"."categories" AS "categories"` +
				` LEFT JOIN "public"."categories" AS "categories_1" ON ("categories"."id" = "categories_1"."parent_id")` +
				` WHERE "categories_1"."id" IS NULL`,
		},
		{
			name:     "root and embed filters",
			resource: "users",
			query:    "select=id,posts(id)&or=(age.lt.18,age.gt.65)&posts.status=eq.x",
			wantSQL:  `SELECT "users"."id" FROM "public"."users" AS "users" WHERE ("users"."age" < $1 OR "users"."age" > $2)`,
			wantArgs: []any{int64(18), int64(65)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := compile(t, tt.resource, tt.query)
			sql, args := toSQL(t, plan.Query)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestCompile_FieldsOnlyNeverJoin(t *testing.T) {
	for _, raw := range []string{"", "select=id", "select=*", "select=a:name,email&status=eq.x&order=age"} {
		plan := compile(t, "users", raw)
		sql, _ := toSQL(t, plan.Query)
		assert.False(t, plan.Distinct, raw)
		assert.NotContains(t, sql, "JOIN", raw)
		assert.NotContains(t, sql, "DISTINCT", raw)
		assert.Empty(t, plan.Preloads, raw)
	}
}

func TestCompile_EmbedExistenceStrategiesAreExclusive(t *testing.T) {
	anti, _ := toSQL(t, compile(t, "posts", "select=*,comments()&comments=is.null").Query)
	exists, _ := toSQL(t, compile(t, "posts", "select=*,comments()&comments=is.not_null").Query)

	assert.Contains(t, anti, "LEFT JOIN")
	assert.Contains(t, anti, `"comments"."id" IS NULL`)
	assert.NotContains(t, anti, "INNER JOIN")

	assert.Contains(t, exists, "INNER JOIN")
	assert.NotContains(t, exists, "LEFT JOIN")
	assert.NotContains(t, exists, "IS NULL")
}

func TestCompile_CountBase(t *testing.T) {
	plan := compile(t, "users", "age=gt.1&order=name&limit=5&offset=5")
	sql, args := toSQL(t, plan.CountBase)
	assert.Equal(t, `SELECT "users".* FROM "public"."users" AS "users" WHERE "users"."age" > $1`, sql)
	assert.Equal(t, []any{int64(1)}, args)
}

func TestCompile_Preloads(t *testing.T) {
	plan := compile(t, "users", "select=id,posts(id,title,comments(body),author:author(name))&posts.status=eq.published")
	require.Len(t, plan.Preloads, 1)

	posts := plan.Preloads[0]
	assert.Equal(t, "posts", posts.Key)
	assert.Equal(t, "posts", posts.Path)
	assert.Equal(t, "id", posts.ParentKey())
	assert.Equal(t, "user_id", posts.GroupKey())
	assert.False(t, posts.Empty)

	sql, args := toSQL(t, posts.Query(From(posts.Resource()), []any{1, 2}))
	assert.Equal(t, `SELECT "posts"."id", "posts"."title", "posts"."user_id" FROM "public"."posts" AS "posts"`+
		` WHERE "posts"."status" = $1 AND "posts"."user_id" IN ($2,$3)`, sql)
	assert.Equal(t, []any{"published", 1, 2}, args)

	children := posts.Children()
	require.Len(t, children, 2)

	comments := children[0]
	assert.Equal(t, "posts.comments", comments.Path)
	sql, _ = toSQL(t, comments.Query(From(comments.Resource()), []any{10}))
	assert.Equal(t, `SELECT "comments"."body", "comments"."id", "comments"."post_id" FROM "public"."comments" AS "comments"`+
		` WHERE "comments"."post_id" IN ($1)`, sql)

	author := children[1]
	assert.Equal(t, "author", author.Key)
	assert.Equal(t, "user_id", author.ParentKey())
	assert.Equal(t, "id", author.GroupKey())
	assert.False(t, author.Assoc.Many())
}

func TestCompile_EmbedAliasAndEmptyEmbed(t *testing.T) {
	plan := compile(t, "users", "select=id,writings:posts()")
	require.Len(t, plan.Preloads, 1)
	p := plan.Preloads[0]
	assert.Equal(t, "writings", p.Key)

	sql, _ := toSQL(t, p.Query(From(p.Resource()), []any{1}))
	assert.Equal(t, `SELECT "posts"."id", "posts"."user_id" FROM "public"."posts" AS "posts" WHERE "posts"."user_id" IN ($1)`, sql)
}

func TestCompile_AntiJoinSkipsPreload(t *testing.T) {
	plan := compile(t, "posts", "select=*,comments()&comments=is.null")
	require.Len(t, plan.Preloads, 1)
	assert.True(t, plan.Preloads[0].Empty)
	assert.Nil(t, plan.Preloads[0].Children())
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name     string
		resource string
		query    string
		contains string
	}{
		{"unknown association", "users", "select=id,comments(id)", `unknown association "comments", valid associations: billing_address, posts, shipping_address`},
		{"unknown nested association", "users", "select=posts(likes(id))", `valid associations: author, comments, labels`},
		{"many_to_many inner", "posts", "select=id,labels!inner(label)", `"labels" is many_to_many`},
		{"many_to_many anti-join", "posts", "select=id,labels()&labels=is.null", `"labels" is many_to_many`},
		{"many_to_many existence", "posts", "select=id,labels()&labels=not.is.null", `"labels" is many_to_many`},
		{"unknown select field", "users", "select=id,password", `unknown field "password"`},
		{"unknown order field", "users", "order=password", `unknown field "password"`},
		{"unknown root filter", "users", "password=eq.x", `unknown field "password"`},
		{"unknown embed filter", "users", "select=posts(id)&posts.password=eq.x", `unknown field "password"`},
		{"unknown embed order", "users", "select=posts(id)&posts.order=password", `unknown field "password"`},
		{"unknown join filter", "users", "select=posts!inner(id)&posts.password=eq.x", `unknown field "password"`},
		{"alias shadows primary key", "users", "select=id:name,posts(title)", `alias "id" of "name" shadows column "id"`},
		{"alias shadows parent key", "posts", "select=title,user_id:status,author(name)", `alias "user_id" of "status" shadows column "user_id"`},
		{"alias shadows wildcard column", "users", "select=*,email:name", `alias "email" of "name" shadows column "email"`},
		{"alias shadows key in embed", "users", "select=id,posts(id:title,comments(body))", `alias "id" of "title" shadows column "id"`},
		{"alias shadows group key in embed", "users", "select=id,posts(user_id:title)", `alias "user_id" of "title" shadows column "user_id"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := lookup(t, tt.resource)
			_, err := Compile(From(res), res, parseRequest(t, tt.query))
			var ce *CompileError
			require.ErrorAs(t, err, &ce)
			assert.Contains(t, ce.Error(), tt.contains)
		})
	}
}

func TestCompile_UnknownAssociationWithoutAssociations(t *testing.T) {
	res := lookup(t, "tags")
	_, err := Compile(From(res), res, parseRequest(t, "select=id,posts(id)"))
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Message, "tags has no associations")
}

func TestCompile_PreloadGolden(t *testing.T) {
	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))

	t.Run("window", func(t *testing.T) {
		plan := compile(t, "users", "select=id,posts(id,title)&posts.order=created_at.desc&posts.limit=2&posts.offset=1")
		p := plan.Preloads[0]
		sql, args := toSQL(t, p.Query(From(p.Resource()), []any{1, 2}))
		g.Assert(t, "preload_window", []byte(sql+"\n"))
		assert.Equal(t, []any{1, 2, uint64(1), uint64(3)}, args)
	})

	t.Run("many_to_many", func(t *testing.T) {
		plan := compile(t, "posts", "select=id,labels(label)&labels.label=like.go*")
		p := plan.Preloads[0]
		assert.Equal(t, resource.ManyToMany, p.Assoc.Kind)
		assert.Equal(t, ParentColumn, p.GroupKey())
		sql, args := toSQL(t, p.Query(From(p.Resource()), []any{7}))
		g.Assert(t, "preload_many_to_many", []byte(sql+"\n"))
		assert.Equal(t, []any{"go%", 7}, args)
	})

	t.Run("many_to_many window", func(t *testing.T) {
		plan := compile(t, "posts", "select=id,labels(label)&labels.limit=3")
		p := plan.Preloads[0]
		sql, args := toSQL(t, p.Query(From(p.Resource()), []any{7, 8}))
		g.Assert(t, "preload_many_to_many_window", []byte(sql+"\n"))
		assert.Equal(t, []any{7, 8, uint64(0), uint64(3)}, args)
	})
}
