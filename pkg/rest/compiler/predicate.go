package compiler

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/edgeflare/pgrest/pkg/resource"
	"github.com/edgeflare/pgrest/pkg/rest/query"
	"github.com/jackc/pgx/v5"
)

// binding is a resource under an alias in a FROM or JOIN clause.
type binding struct {
	alias string
	res   *resource.Resource
}

func (b binding) column(name string) string {
	return pgx.Identifier{b.alias, name}.Sanitize()
}

// Predicates compiles filters against the resource bound to alias. Callers
// cast values first, see Cast.
func Predicates(alias string, res *resource.Resource, filters []query.Filter) ([]sq.Sqlizer, error) {
	return binding{alias: alias, res: res}.predicates(filters)
}

func (b binding) predicates(filters []query.Filter) ([]sq.Sqlizer, error) {
	out := make([]sq.Sqlizer, 0, len(filters))
	for _, f := range filters {
		p, err := b.predicate(f)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (b binding) predicate(f query.Filter) (sq.Sqlizer, error) {
	switch f := f.(type) {
	case *query.Condition:
		return b.condition(f)
	case *query.Group:
		preds, err := b.predicates(f.Conditions)
		if err != nil {
			return nil, err
		}
		if f.Logic == query.LogicOr {
			return sq.Or(preds), nil
		}
		return sq.And(preds), nil
	case *query.Not:
		p, err := b.predicate(f.Condition)
		if err != nil {
			return nil, err
		}
		return notExpr{p}, nil
	}
	return nil, fmt.Errorf("unsupported filter node %T", f)
}

func (b binding) condition(c *query.Condition) (sq.Sqlizer, error) {
	if !b.res.HasField(c.Field) {
		return nil, unknownField(b.res, c.Field)
	}
	col := b.column(c.Field)

	switch c.Operator {
	case query.OpEq:
		return sq.Eq{col: c.Value}, nil
	case query.OpNeq:
		return sq.NotEq{col: c.Value}, nil
	case query.OpGt:
		return sq.Gt{col: c.Value}, nil
	case query.OpGte:
		return sq.GtOrEq{col: c.Value}, nil
	case query.OpLt:
		return sq.Lt{col: c.Value}, nil
	case query.OpLte:
		return sq.LtOrEq{col: c.Value}, nil
	case query.OpLike:
		return sq.Like{col: wildcard(c.Value)}, nil
	case query.OpILike:
		return sq.ILike{col: wildcard(c.Value)}, nil
	case query.OpMatch:
		return sq.Expr(col+" ~ ?", c.Value), nil
	case query.OpIMatch:
		return sq.Expr(col+" ~* ?", c.Value), nil
	case query.OpIsDistinct:
		return sq.Expr(col+" IS DISTINCT FROM ?", c.Value), nil
	case query.OpIn:
		return sq.Eq{col: inValues(c.Value)}, nil
	case query.OpIsNull:
		if isNull, _ := c.Value.(bool); isNull {
			return sq.Eq{col: nil}, nil
		}
		return sq.NotEq{col: nil}, nil
	case query.OpIs:
		if truth, _ := c.Value.(bool); truth {
			return sq.Expr(col + " IS TRUE"), nil
		}
		return sq.Expr(col + " IS FALSE"), nil
	case query.OpContains:
		return sq.Expr(col+" @> ?", b.arrayValue(c)), nil
	case query.OpContained:
		return sq.Expr(col+" <@ ?", b.arrayValue(c)), nil
	case query.OpOverlap:
		return sq.Expr(col+" && ?", b.arrayValue(c)), nil
	case query.OpStrictLeft:
		return sq.Expr(col+" << ?", c.Value), nil
	case query.OpStrictRight:
		return sq.Expr(col+" >> ?", c.Value), nil
	case query.OpNotRight:
		return sq.Expr(col+" &< ?", c.Value), nil
	case query.OpNotLeft:
		return sq.Expr(col+" &> ?", c.Value), nil
	case query.OpAdjacent:
		return sq.Expr(col+" -|- ?", c.Value), nil
	case query.OpFTS, query.OpPlainFTS, query.OpPhraseFTS, query.OpWebFTS:
		fts, ok := c.Value.(query.FTSQuery)
		if !ok {
			return nil, compileErrorf(b.res, "%s on %q needs a text search query", c.Operator, c.Field)
		}
		return sq.Expr(fmt.Sprintf("%s @@ %s(?::regconfig, ?)", col, tsqueryFunc[c.Operator]), fts.Language, fts.Query), nil
	}
	return nil, compileErrorf(b.res, "unsupported operator %q", c.Operator)
}

var tsqueryFunc = map[query.Operator]string{
	query.OpFTS:       "to_tsquery",
	query.OpPlainFTS:  "plainto_tsquery",
	query.OpPhraseFTS: "phraseto_tsquery",
	query.OpWebFTS:    "websearch_to_tsquery",
}

// wildcard turns the URL-safe `*` into `%`. The pattern is not wrapped.
func wildcard(v any) any {
	if s, ok := v.(string); ok {
		return strings.ReplaceAll(s, "*", "%")
	}
	return v
}

func inValues(v any) any {
	if raw, ok := v.([]string); ok {
		values := make([]any, len(raw))
		for i, s := range raw {
			values[i] = s
		}
		return values
	}
	return v
}

// arrayValue renders an array operand. json and jsonb columns take the
// value as-is, array columns get a normalized array literal.
func (b binding) arrayValue(c *query.Condition) any {
	raw, ok := c.Value.(string)
	if !ok {
		return c.Value
	}
	if typ, _ := b.res.FieldType(c.Field); typ == "json" || typ == "jsonb" {
		return raw
	}
	return arrayLiteral(raw)
}

// arrayLiteral parses `{a,b}` into its elements and renders them as a quoted
// PostgreSQL array literal. Input that already carries quotes or is a JSON
// array is passed through.
func arrayLiteral(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, `"`) || strings.HasPrefix(raw, "[") {
		return raw
	}

	raw = strings.TrimSuffix(strings.TrimPrefix(raw, "{"), "}")
	elems := arrayElements(raw)
	quoted := make([]string, len(elems))
	for i, e := range elems {
		quoted[i] = `"` + strings.ReplaceAll(e, `\`, `\\`) + `"`
	}
	return "{" + strings.Join(quoted, ",") + "}"
}

func arrayElements(raw string) []string {
	var out []string
	for part := range strings.SplitSeq(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// notExpr negates a predicate.
type notExpr struct {
	pred sq.Sqlizer
}

func (n notExpr) ToSql() (string, []any, error) {
	sql, args, err := n.pred.ToSql()
	if err != nil {
		return "", nil, err
	}
	return "NOT (" + sql + ")", args, nil
}
