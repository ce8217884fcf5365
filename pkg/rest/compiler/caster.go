package compiler

import (
	"strings"
	"time"

	"github.com/edgeflare/pgrest/pkg/resource"
	"github.com/edgeflare/pgrest/pkg/rest/query"
	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
)

// Cast returns a copy of filters with scalar values converted to the Go
// type of their column. Values that fail to convert are kept as raw strings
// and left for the database to coerce. The input tree is not modified.
func Cast(res *resource.Resource, filters []query.Filter) []query.Filter {
	if len(filters) == 0 {
		return filters
	}
	out := make([]query.Filter, len(filters))
	for i, f := range filters {
		out[i] = castFilter(res, f)
	}
	return out
}

func castFilter(res *resource.Resource, f query.Filter) query.Filter {
	switch f := f.(type) {
	case *query.Condition:
		return castCondition(res, f)
	case *query.Group:
		return &query.Group{Logic: f.Logic, Conditions: Cast(res, f.Conditions)}
	case *query.Not:
		return &query.Not{Condition: castFilter(res, f.Condition)}
	}
	return f
}

func castCondition(res *resource.Resource, c *query.Condition) *query.Condition {
	typ, ok := res.FieldType(c.Field)
	if !ok {
		return c
	}

	switch c.Operator {
	case query.OpEq, query.OpNeq, query.OpGt, query.OpGte, query.OpLt, query.OpLte, query.OpIsDistinct:
		raw, ok := c.Value.(string)
		if !ok {
			return c
		}
		v, _ := castValue(typ, raw)
		return &query.Condition{Field: c.Field, Operator: c.Operator, Value: v}
	case query.OpIn:
		raw, ok := c.Value.([]string)
		if !ok {
			return c
		}
		values := make([]any, len(raw))
		for i, s := range raw {
			values[i], _ = castValue(typ, s)
		}
		return &query.Condition{Field: c.Field, Operator: c.Operator, Value: values}
	}
	// patterns, null checks, full-text search, arrays and ranges stay raw
	return c
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05Z07:00",
	time.DateOnly,
}

// castValue converts raw to the Go representation of a PostgreSQL data type.
// It returns raw and false when the type is not castable or raw is invalid.
func castValue(typ, raw string) (any, bool) {
	if raw == "" {
		return raw, false
	}
	switch normalizeType(typ) {
	case "int":
		if hasRadixPrefix(raw) {
			return raw, false
		}
		var n int64
		if err := mapstructure.WeakDecode(raw, &n); err != nil {
			return raw, false
		}
		return n, true
	case "float":
		var f float64
		if err := mapstructure.WeakDecode(raw, &f); err != nil {
			return raw, false
		}
		return f, true
	case "bool":
		var b bool
		if err := mapstructure.WeakDecode(raw, &b); err != nil {
			return raw, false
		}
		return b, true
	case "uuid":
		id, err := uuid.Parse(raw)
		if err != nil {
			return raw, false
		}
		return id, true
	case "time":
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return t, true
			}
		}
		return raw, false
	}
	return raw, false
}

// hasRadixPrefix reports input like "012" or "0x1f", which weak decoding
// would read in base 8 or 16 while PostgreSQL reads base 10.
func hasRadixPrefix(raw string) bool {
	raw = strings.TrimLeft(raw, "+-")
	return len(raw) > 1 && raw[0] == '0'
}

func normalizeType(typ string) string {
	switch strings.ToLower(typ) {
	case "smallint", "integer", "bigint", "int", "int2", "int4", "int8", "smallserial", "serial", "bigserial":
		return "int"
	case "real", "double precision", "float4", "float8":
		return "float"
	case "boolean", "bool":
		return "bool"
	case "uuid":
		return "uuid"
	case "date", "timestamp", "timestamptz", "timestamp without time zone", "timestamp with time zone":
		return "time"
	}
	// numeric keeps its exact text form
	return ""
}
