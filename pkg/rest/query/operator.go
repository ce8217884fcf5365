package query

import "strings"

// scalarOperators take their value verbatim.
var scalarOperators = map[string]Operator{
	"eq":         OpEq,
	"neq":        OpNeq,
	"gt":         OpGt,
	"gte":        OpGte,
	"lt":         OpLt,
	"lte":        OpLte,
	"like":       OpLike,
	"ilike":      OpILike,
	"match":      OpMatch,
	"imatch":     OpIMatch,
	"isdistinct": OpIsDistinct,
	"cs":         OpContains,
	"cd":         OpContained,
	"ov":         OpOverlap,
	"sl":         OpStrictLeft,
	"sr":         OpStrictRight,
	"nxr":        OpNotRight,
	"nxl":        OpNotLeft,
	"adj":        OpAdjacent,
}

var ftsOperators = map[string]Operator{
	"fts":   OpFTS,
	"plfts": OpPlainFTS,
	"phfts": OpPhraseFTS,
	"wfts":  OpWebFTS,
}

const notPrefix = "not."

// ParseOperator parses `<op>.<value>` into an operator and its value.
// A leading `not.` is not accepted here; see ParseCondition.
func ParseOperator(raw string) (Operator, any, error) {
	name, value, found := strings.Cut(raw, ".")
	if !found {
		return "", nil, parseErrorf(CodeInvalidOperator, "", "expected <operator>.<value>, got %q", raw)
	}

	lang := ""
	if open := strings.IndexByte(name, '('); open >= 0 {
		if !strings.HasSuffix(name, ")") || open == len(name)-2 {
			return "", nil, parseErrorf(CodeInvalidOperator, "", "malformed operator %q", name)
		}
		lang = name[open+1 : len(name)-1]
		name = name[:open]
	}

	if op, ok := ftsOperators[name]; ok {
		if lang == "" {
			lang = DefaultFTSLanguage
		}
		return op, FTSQuery{Language: lang, Query: value}, nil
	}
	if lang != "" {
		return "", nil, parseErrorf(CodeInvalidOperator, "", "operator %q does not take a language", name)
	}

	switch name {
	case "in":
		list, err := parseList(value)
		if err != nil {
			return "", nil, err
		}
		return OpIn, list, nil
	case "is":
		return parseIs(value)
	}

	if op, ok := scalarOperators[name]; ok {
		return op, value, nil
	}
	return "", nil, parseErrorf(CodeInvalidOperator, "", "unknown operator %q", name)
}

func parseIs(value string) (Operator, any, error) {
	switch strings.ToLower(value) {
	case "null", "unknown":
		return OpIsNull, true, nil
	case "not_null", "not.null":
		return OpIsNull, false, nil
	case "true":
		return OpIs, true, nil
	case "false":
		return OpIs, false, nil
	}
	return "", nil, parseErrorf(CodeInvalidValue, "", "is expects null, not_null, true, false or unknown, got %q", value)
}

// parseList parses `(v1,v2,...)` into its non-empty list of raw values.
func parseList(value string) ([]string, error) {
	if len(value) < 2 || value[0] != '(' || value[len(value)-1] != ')' {
		return nil, parseErrorf(CodeInvalidValue, "", "in expects a parenthesized list, got %q", value)
	}
	inner := value[1 : len(value)-1]
	if strings.TrimSpace(inner) == "" {
		return nil, parseErrorf(CodeInvalidValue, "", "in expects at least one value")
	}
	parts := splitTopLevel(inner, ',')
	list := make([]string, 0, len(parts))
	for _, p := range parts {
		list = append(list, unquote(strings.TrimSpace(p)))
	}
	return list, nil
}

// HasOperator reports whether raw starts with a known operator, optionally
// negated. It does not validate the value.
func HasOperator(raw string) bool {
	for {
		rest, ok := strings.CutPrefix(raw, notPrefix)
		if !ok {
			break
		}
		raw = rest
	}
	name, _, found := strings.Cut(raw, ".")
	if !found {
		return false
	}
	if open := strings.IndexByte(name, '('); open >= 0 {
		name = name[:open]
	}
	if _, ok := scalarOperators[name]; ok {
		return true
	}
	if _, ok := ftsOperators[name]; ok {
		return true
	}
	return name == "in" || name == "is"
}

// ParseCondition parses the value of a filter on field. A `not.` prefix
// wraps the parsed condition in a Not node.
func ParseCondition(field, raw string) (Filter, error) {
	if rest, ok := strings.CutPrefix(raw, notPrefix); ok {
		inner, err := ParseCondition(field, rest)
		if err != nil {
			return nil, err
		}
		return &Not{Condition: inner}, nil
	}

	op, value, err := ParseOperator(raw)
	if err != nil {
		if pe, ok := err.(*ParseError); ok {
			pe.Key = field
		}
		return nil, err
	}
	return &Condition{Field: field, Operator: op, Value: value}, nil
}
