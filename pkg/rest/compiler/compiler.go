// Package compiler turns a parsed query.Request into squirrel SELECT
// builders: filter predicates, projection, joins for inner, existence and
// anti-join embeds, ordering, pagination and a tree of preload plans that
// fetch embedded associations per parent key.
package compiler

import (
	"fmt"
	"slices"

	sq "github.com/Masterminds/squirrel"
	"github.com/edgeflare/pgrest/pkg/resource"
	"github.com/edgeflare/pgrest/pkg/rest/query"
	"github.com/jackc/pgx/v5"
)

// Psql is the statement builder every compiled query starts from.
var Psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Alias is the name a resource is bound to in the FROM clause of its own
// queries. Scope and custom parameter hooks qualify columns with it.
func Alias(res *resource.Resource) string {
	return res.Table
}

// From returns the base query of a resource: SELECT ... FROM table AS alias,
// without columns.
func From(res *resource.Resource) sq.SelectBuilder {
	return Psql.Select().From(res.Identifier() + " AS " + quote(Alias(res)))
}

// Plan is a compiled read.
type Plan struct {
	// Query is the paginated root query.
	Query sq.SelectBuilder
	// CountBase is the filtered root query without order and pagination.
	CountBase sq.SelectBuilder
	// Preloads fetch the embeds of the root rows.
	Preloads []*Preload
	// Distinct is set when a join could fan out root rows.
	Distinct bool
}

// Compile applies filters, select, order and pagination of req to base,
// which is From(res) with any scope and custom parameter hooks applied.
func Compile(base sq.SelectBuilder, res *resource.Resource, req *query.Request) (*Plan, error) {
	sel := newSelection(binding{alias: Alias(res), res: res})

	preds, err := sel.predicates(Cast(res, req.Filters))
	if err != nil {
		return nil, err
	}
	sel.where = append(sel.where, preds...)

	if err := sel.compileNodes(req.Select, "", req); err != nil {
		return nil, err
	}

	order, err := sel.orderBy(req.Order)
	if err != nil {
		return nil, err
	}

	q := sel.apply(base)
	plan := &Plan{CountBase: q, Preloads: sel.preloads, Distinct: sel.distinct}

	q = q.OrderBy(order...)
	if req.Limit != nil {
		q = q.Limit(*req.Limit)
	}
	if req.Offset != nil && *req.Offset > 0 {
		q = q.Offset(*req.Offset)
	}
	plan.Query = q
	return plan, nil
}

// selection accumulates the clauses of one SELECT over a binding.
type selection struct {
	binding

	wildcard bool
	columns  []string
	names    map[string]bool // output names already projected
	joins    []join
	aliases  map[string]bool
	where    []sq.Sqlizer
	distinct bool
	preloads []*Preload
	reserved []string // output names rows are grouped on
}

type join struct {
	left bool
	sql  string
	args []any
}

func newSelection(b binding) *selection {
	return &selection{
		binding: b,
		names:   make(map[string]bool),
		aliases: map[string]bool{b.alias: true},
	}
}

func (s *selection) apply(q sq.SelectBuilder) sq.SelectBuilder {
	if s.wildcard {
		q = q.Column(quote(s.alias) + ".*")
	}
	q = q.Columns(s.columns...)
	for _, j := range s.joins {
		if j.left {
			q = q.LeftJoin(j.sql, j.args...)
		} else {
			q = q.InnerJoin(j.sql, j.args...)
		}
	}
	for _, p := range s.where {
		q = q.Where(p)
	}
	if s.distinct {
		q = q.Distinct()
	}
	return q
}

// project adds a column unless its output name is already projected.
func (s *selection) project(name, as string) {
	out := name
	if as != "" {
		out = as
	}
	if s.names[out] {
		return
	}
	s.names[out] = true
	if s.wildcard && as == "" {
		return
	}
	col := s.column(name)
	if as != "" {
		col += " AS " + quote(as)
	}
	s.columns = append(s.columns, col)
}

// compileNodes projects the fields of nodes and compiles their embeds.
// A nil nodes selects every column.
func (s *selection) compileNodes(nodes []query.SelectNode, path string, req *query.Request) error {
	fields := query.Fields(nodes)
	if nodes == nil || slices.ContainsFunc(fields, (*query.Field).IsWildcard) {
		s.wildcard = true
		for _, name := range s.res.FieldNames() {
			s.names[name] = true
		}
	}
	keys := s.keyColumns(nodes)
	for _, f := range fields {
		if f.IsWildcard() {
			continue
		}
		if !s.res.HasField(f.Name) {
			return unknownField(s.res, f.Name)
		}
		if f.Alias != "" && f.Alias != f.Name && (keys[f.Alias] || s.wildcard && s.res.HasField(f.Alias)) {
			return compileErrorf(s.res, "alias %q of %q shadows column %q", f.Alias, f.Name, f.Alias)
		}
		s.project(f.Name, f.Alias)
	}
	for _, pk := range s.res.PrimaryKey {
		s.project(pk, "")
	}

	for _, e := range query.Embeds(nodes) {
		if err := s.compileEmbed(e, joinPath(path, e.Name), req); err != nil {
			return err
		}
	}
	return nil
}

// keyColumns returns the primary key, the reserved names and the parent keys
// of the embeds in nodes. Rows are assembled on these names, so no alias may
// take them.
func (s *selection) keyColumns(nodes []query.SelectNode) map[string]bool {
	keys := make(map[string]bool, len(s.res.PrimaryKey)+len(s.reserved))
	for _, pk := range s.res.PrimaryKey {
		keys[pk] = true
	}
	for _, name := range s.reserved {
		keys[name] = true
	}
	for _, e := range query.Embeds(nodes) {
		if assoc, ok := s.res.Association(e.Name); ok {
			keys[assoc.ParentKey] = true
		}
	}
	return keys
}

func (s *selection) compileEmbed(e *query.Embed, path string, req *query.Request) error {
	assoc, ok := s.res.Association(e.Name)
	if !ok {
		return unknownAssociation(s.res, e.Name)
	}
	related := assoc.Resource()
	s.project(assoc.ParentKey, "")

	exists, hasSentinel, filters := splitSentinel(req.EmbedFilters[path])
	filters = Cast(related, filters)

	if (hasSentinel || e.Inner) && !assoc.Kind.SupportsJoin() {
		return compileErrorf(s.res, "association %q is %s: inner, existence and anti-joins are not supported", assoc.Name, assoc.Kind)
	}

	preload := &Preload{
		Key:   e.Key(),
		Path:  path,
		Assoc: assoc,
	}
	s.preloads = append(s.preloads, preload)

	if hasSentinel || e.Inner {
		anti := hasSentinel && !exists
		if err := s.joinEmbed(assoc, filters, anti); err != nil {
			return err
		}
		if anti {
			// parents without matching children: nothing to fetch
			preload.Empty = true
			return nil
		}
	}

	child, err := newPreloadSelection(assoc, filters)
	if err != nil {
		return err
	}
	if err := child.compileNodes(embedNodes(e), path, req); err != nil {
		return err
	}
	preload.sel = child
	return preload.finish(req.EmbedOptions[path])
}

// joinEmbed joins the related resource of a has_many or belongs_to
// association. Anti-joins keep embed filters in the ON clause so parents
// whose children all fail them are still returned.
func (s *selection) joinEmbed(assoc *resource.Association, filters []query.Filter, anti bool) error {
	related := assoc.Resource()
	jb := binding{alias: s.joinAlias(assoc.Name), res: related}

	preds, err := jb.predicates(filters)
	if err != nil {
		return err
	}

	on := sq.And{sq.Expr(s.column(assoc.ParentKey) + " = " + jb.column(assoc.ChildKey))}
	if anti {
		on = append(on, preds...)
	} else {
		s.where = append(s.where, preds...)
	}
	onSQL, args, err := on.ToSql()
	if err != nil {
		return err
	}

	s.joins = append(s.joins, join{
		left: anti,
		sql:  fmt.Sprintf("%s AS %s ON %s", related.Identifier(), quote(jb.alias), onSQL),
		args: args,
	})
	if anti {
		s.where = append(s.where, sq.Eq{jb.column(related.PrimaryKey[0]): nil})
	}
	s.distinct = true
	return nil
}

// joinAlias is the association name, suffixed when already bound.
func (s *selection) joinAlias(name string) string {
	alias := name
	for i := 1; s.aliases[alias]; i++ {
		alias = fmt.Sprintf("%s_%d", name, i)
	}
	s.aliases[alias] = true
	return alias
}

// orderBy compiles order terms. With DISTINCT, ordered columns are projected
// since PostgreSQL requires ORDER BY expressions in the select list.
func (s *selection) orderBy(order []query.Order) ([]string, error) {
	out := make([]string, 0, len(order))
	for _, o := range order {
		if !s.res.HasField(o.Field) {
			return nil, unknownField(s.res, o.Field)
		}
		if s.distinct {
			s.project(o.Field, "")
		}
		out = append(out, orderTerm(s.column(o.Field), o))
	}
	return out, nil
}

func orderTerm(col string, o query.Order) string {
	term := col
	if o.Direction == query.Desc {
		term += " DESC"
	} else {
		term += " ASC"
	}
	switch o.Nulls {
	case query.NullsFirst:
		term += " NULLS FIRST"
	case query.NullsLast:
		term += " NULLS LAST"
	}
	return term
}

// splitSentinel separates the existence sentinel from the other filters.
func splitSentinel(filters []query.Filter) (exists, ok bool, rest []query.Filter) {
	for _, f := range filters {
		if e, isSentinel := query.IsEmbedExists(f); isSentinel {
			exists, ok = e, true
			continue
		}
		rest = append(rest, f)
	}
	return exists, ok, rest
}

// embedNodes maps an embed without fields to an empty, non-nil selection so
// only key columns are projected.
func embedNodes(e *query.Embed) []query.SelectNode {
	if e.Fields == nil {
		return []query.SelectNode{}
	}
	return e.Fields
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func quote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}
