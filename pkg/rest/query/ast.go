// Package query parses PostgREST-style query parameters into a filter,
// select and order AST.
package query

import "strings"

// Operator is a filter operator from the PostgREST vocabulary, plus the
// internal is_null operator produced by `is.null` and friends.
type Operator string

const (
	OpEq          Operator = "eq"
	OpNeq         Operator = "neq"
	OpGt          Operator = "gt"
	OpGte         Operator = "gte"
	OpLt          Operator = "lt"
	OpLte         Operator = "lte"
	OpLike        Operator = "like"
	OpILike       Operator = "ilike"
	OpMatch       Operator = "match"
	OpIMatch      Operator = "imatch"
	OpIsDistinct  Operator = "isdistinct"
	OpIn          Operator = "in"
	OpIs          Operator = "is"
	OpIsNull      Operator = "is_null"
	OpContains    Operator = "cs"
	OpContained   Operator = "cd"
	OpOverlap     Operator = "ov"
	OpStrictLeft  Operator = "sl"
	OpStrictRight Operator = "sr"
	OpNotRight    Operator = "nxr"
	OpNotLeft     Operator = "nxl"
	OpAdjacent    Operator = "adj"
	OpFTS         Operator = "fts"
	OpPlainFTS    Operator = "plfts"
	OpPhraseFTS   Operator = "phfts"
	OpWebFTS      Operator = "wfts"
)

// IsFTS reports whether op belongs to the full-text search family.
func (op Operator) IsFTS() bool {
	switch op {
	case OpFTS, OpPlainFTS, OpPhraseFTS, OpWebFTS:
		return true
	}
	return false
}

// IsArrayOrRange reports whether op compares arrays or ranges.
func (op Operator) IsArrayOrRange() bool {
	switch op {
	case OpContains, OpContained, OpOverlap, OpStrictLeft, OpStrictRight, OpNotRight, OpNotLeft, OpAdjacent:
		return true
	}
	return false
}

// EmbedExistsField is the sentinel field used by `<embed>=is.null` and
// `<embed>=not.is.null` style filters.
const EmbedExistsField = "__embed_exists__"

// DefaultFTSLanguage is used when an fts operator has no (lang) suffix.
const DefaultFTSLanguage = "english"

// FTSQuery is the value of a full-text search filter.
type FTSQuery struct {
	Language string
	Query    string
}

// Filter is a node of the filter AST. It is implemented by *Condition,
// *Group and *Not only.
type Filter interface {
	filterNode()
}

// Condition is a leaf filter: field <op> value.
//
// Value holds a string for scalar operators, []string for in, bool for is
// and is_null, and FTSQuery for the fts family. The type caster may replace
// scalar values with column-native Go values.
type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

// Logic joins the conditions of a Group.
type Logic string

const (
	LogicAnd Logic = "and"
	LogicOr  Logic = "or"
)

// Group is a conjunction or disjunction of filters.
type Group struct {
	Logic      Logic
	Conditions []Filter
}

// Not negates a filter.
type Not struct {
	Condition Filter
}

func (*Condition) filterNode() {}
func (*Group) filterNode()     {}
func (*Not) filterNode()       {}

// IsEmbedExists reports whether f is the sentinel produced by `<embed>=is.null`
// (exists=false) or `<embed>=is.not_null` (exists=true).
func IsEmbedExists(f Filter) (exists bool, ok bool) {
	c, isCond := f.(*Condition)
	if !isCond || c.Field != EmbedExistsField || c.Operator != OpIsNull {
		return false, false
	}
	isNull, isBool := c.Value.(bool)
	if !isBool {
		return false, false
	}
	return !isNull, true
}

// SelectNode is a node of the select AST: *Field or *Embed.
type SelectNode interface {
	selectNode()
}

// Field selects a column, optionally renamed.
type Field struct {
	Name  string
	Alias string
}

// Embed selects a related resource by association name.
type Embed struct {
	Name   string
	Alias  string
	Inner  bool
	Fields []SelectNode
}

func (*Field) selectNode() {}
func (*Embed) selectNode() {}

// Wildcard is the name of the `*` field.
const Wildcard = "*"

// IsWildcard reports whether the field is `*`.
func (f *Field) IsWildcard() bool { return f.Name == Wildcard }

// Key returns the name the embed is exposed under in results.
func (e *Embed) Key() string {
	if e.Alias != "" {
		return e.Alias
	}
	return e.Name
}

// Embeds returns the direct child embeds of nodes.
func Embeds(nodes []SelectNode) []*Embed {
	var out []*Embed
	for _, n := range nodes {
		if e, ok := n.(*Embed); ok {
			out = append(out, e)
		}
	}
	return out
}

// Fields returns the direct child fields of nodes.
func Fields(nodes []SelectNode) []*Field {
	var out []*Field
	for _, n := range nodes {
		if f, ok := n.(*Field); ok {
			out = append(out, f)
		}
	}
	return out
}

// FindEmbed resolves a dot-delimited embed path (by embed name) in nodes.
func FindEmbed(nodes []SelectNode, path string) *Embed {
	var found *Embed
	for _, seg := range strings.Split(path, ".") {
		found = nil
		for _, e := range Embeds(nodes) {
			if e.Name == seg {
				found = e
				break
			}
		}
		if found == nil {
			return nil
		}
		nodes = found.Fields
	}
	return found
}

// Direction of an order term.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Nulls is the NULLS FIRST/LAST placement of an order term.
type Nulls string

const (
	NullsNone  Nulls = ""
	NullsFirst Nulls = "first"
	NullsLast  Nulls = "last"
)

// Order is a single order directive.
type Order struct {
	Field     string
	Direction Direction
	Nulls     Nulls
}

// EmbedOptions holds order and pagination scoped to one embed.
type EmbedOptions struct {
	Order  []Order
	Limit  *uint64
	Offset *uint64
}
