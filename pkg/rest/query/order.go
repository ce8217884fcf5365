package query

import "strings"

// ParseOrder parses `field[.asc|desc][.nullsfirst|nullslast],...`.
// Direction defaults to asc; unspecified nulls placement is left to the backend.
func ParseOrder(raw string) ([]Order, error) {
	parts := strings.Split(raw, ",")
	result := make([]Order, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, parseErrorf(CodeInvalidOrder, "order", "empty order term in %q", raw)
		}

		segs := strings.Split(part, ".")
		o := Order{Field: segs[0], Direction: Asc}
		if !isIdent(o.Field) {
			return nil, parseErrorf(CodeInvalidOrder, "order", "invalid field %q", o.Field)
		}

		seenDir, seenNulls := false, false
		for _, mod := range segs[1:] {
			switch {
			case (mod == "asc" || mod == "desc") && !seenDir && !seenNulls:
				o.Direction = Direction(mod)
				seenDir = true
			case mod == "nullsfirst" && !seenNulls:
				o.Nulls = NullsFirst
				seenNulls = true
			case mod == "nullslast" && !seenNulls:
				o.Nulls = NullsLast
				seenNulls = true
			default:
				return nil, parseErrorf(CodeInvalidOrder, "order", "unexpected modifier %q in %q", mod, part)
			}
		}
		result = append(result, o)
	}

	return result, nil
}
