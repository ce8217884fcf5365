package query

import "strings"

// ParseLogic parses the value of an and/or parameter, e.g.
// `(age.lt.18,age.gt.65)` or `(a.eq.1,or(b.is.null,c.in.(1,2)))`.
// fieldOK, when non-nil, rejects unknown fields.
func ParseLogic(logic Logic, raw string, fieldOK func(string) bool) (*Group, error) {
	key := string(logic)
	if len(raw) < 2 || raw[0] != '(' || raw[len(raw)-1] != ')' || !balanced(raw) {
		return nil, parseErrorf(CodeInvalidLogic, key, "expected a parenthesized list of conditions, got %q", raw)
	}
	inner := raw[1 : len(raw)-1]
	if strings.TrimSpace(inner) == "" {
		return nil, parseErrorf(CodeInvalidLogic, key, "empty condition list")
	}

	group := &Group{Logic: logic}
	for _, part := range splitTopLevel(inner, ',') {
		f, err := parseLogicItem(key, strings.TrimSpace(part), fieldOK)
		if err != nil {
			return nil, err
		}
		group.Conditions = append(group.Conditions, f)
	}
	return group, nil
}

func parseLogicItem(key, item string, fieldOK func(string) bool) (Filter, error) {
	negate := false
	if rest, ok := strings.CutPrefix(item, notPrefix); ok {
		negate = true
		item = rest
	}

	var f Filter
	switch {
	case strings.HasPrefix(item, "and("):
		g, err := ParseLogic(LogicAnd, item[len("and"):], fieldOK)
		if err != nil {
			return nil, err
		}
		f = g
	case strings.HasPrefix(item, "or("):
		g, err := ParseLogic(LogicOr, item[len("or"):], fieldOK)
		if err != nil {
			return nil, err
		}
		f = g
	default:
		field, rest, found := strings.Cut(item, ".")
		if !found || field == "" {
			return nil, parseErrorf(CodeInvalidLogic, key, "expected <field>.<operator>.<value>, got %q", item)
		}
		if fieldOK != nil && !fieldOK(field) {
			return nil, parseErrorf(CodeUnknownField, key, "unknown field %q", field)
		}
		c, err := ParseCondition(field, rest)
		if err != nil {
			return nil, err
		}
		f = c
	}

	if negate {
		return &Not{Condition: f}, nil
	}
	return f, nil
}
