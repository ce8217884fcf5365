package query

import (
	"net/url"
	"slices"
	"strconv"
	"strings"
)

// Reserved parameter names, never treated as filters.
const (
	ParamSelect     = "select"
	ParamOrder      = "order"
	ParamLimit      = "limit"
	ParamOffset     = "offset"
	ParamColumns    = "columns"
	ParamOnConflict = "on_conflict"
	ParamAnd        = "and"
	ParamOr         = "or"
)

// Request is the parsed form of a query string. It is built once per request
// and not modified afterwards.
type Request struct {
	Filters      []Filter
	EmbedFilters map[string][]Filter      // keyed by dot-delimited embed path
	EmbedOptions map[string]*EmbedOptions // keyed by dot-delimited embed path
	Select       []SelectNode             // nil selects every column
	Order        []Order
	Limit        *uint64
	Offset       *uint64
	CustomParams url.Values
	OnConflict   []string
	Columns      []string
}

// SelectAll reports whether no select parameter was given.
func (r *Request) SelectAll() bool { return r.Select == nil }

// Options constrain parsing.
type Options struct {
	// AllowedFields, when non-nil, is the closed set of filterable root fields.
	// When nil, a key is a filter only if its value starts with an operator.
	AllowedFields []string
	// MaxLimit caps the effective limit. Zero means no cap.
	MaxLimit uint64
}

// Parse classifies and parses raw query parameters. Keys are visited in
// sorted order so equal inputs yield equal requests.
func Parse(params url.Values, opts Options) (*Request, error) {
	req := &Request{
		EmbedFilters: make(map[string][]Filter),
		EmbedOptions: make(map[string]*EmbedOptions),
		CustomParams: make(url.Values),
	}

	var allowed map[string]bool
	if opts.AllowedFields != nil {
		allowed = make(map[string]bool, len(opts.AllowedFields))
		for _, f := range opts.AllowedFields {
			allowed[f] = true
		}
	}
	fieldOK := func(f string) bool { return allowed == nil || allowed[f] }
	// without a closed field set, only operator expressions are filters
	rootFilter := func(f, raw string) bool {
		if allowed == nil {
			return HasOperator(raw)
		}
		return allowed[f]
	}

	if raw, ok := first(params, ParamSelect); ok {
		nodes, err := ParseSelect(raw)
		if err != nil {
			return nil, err
		}
		req.Select = nodes
	}

	var limit *uint64
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, key := range keys {
		values := params[key]
		if len(values) == 0 {
			continue
		}
		raw := values[0]

		switch key {
		case ParamSelect:
			continue
		case ParamOrder:
			order, err := ParseOrder(raw)
			if err != nil {
				return nil, err
			}
			req.Order = order
			continue
		case ParamLimit:
			n, err := parseCount(CodeInvalidLimit, key, raw)
			if err != nil {
				return nil, err
			}
			limit = &n
			continue
		case ParamOffset:
			n, err := parseCount(CodeInvalidOffset, key, raw)
			if err != nil {
				return nil, err
			}
			req.Offset = &n
			continue
		case ParamColumns:
			cols, err := parseIdentList(key, raw)
			if err != nil {
				return nil, err
			}
			req.Columns = cols
			continue
		case ParamOnConflict:
			cols, err := parseIdentList(key, raw)
			if err != nil {
				return nil, err
			}
			req.OnConflict = cols
			continue
		}

		handled, err := req.classify(key, values, fieldOK, rootFilter)
		if err != nil {
			return nil, err
		}
		if !handled {
			req.CustomParams[key] = slices.Clone(values)
		}
	}

	req.Limit = effectiveLimit(limit, opts.MaxLimit)
	return req, nil
}

// classify handles logical, negated, embed-scoped and root filter keys.
// It returns false when key is a custom parameter.
func (r *Request) classify(key string, values []string, fieldOK func(string) bool, rootFilter func(string, string) bool) (bool, error) {
	if g, ok, err := parseLogicKey(key, values[0], fieldOK); ok || err != nil {
		if err != nil {
			return true, err
		}
		r.Filters = append(r.Filters, g)
		return true, nil
	}

	if field, ok := strings.CutPrefix(key, notPrefix); ok && isIdent(field) {
		if !rootFilter(field, values[0]) {
			return false, nil
		}
		for _, v := range values {
			c, err := ParseCondition(field, v)
			if err != nil {
				return true, err
			}
			r.Filters = append(r.Filters, &Not{Condition: c})
		}
		return true, nil
	}

	// <embed-path>=is.null and friends
	if r.Select != nil && FindEmbed(r.Select, key) != nil {
		if isNull, ok := embedNullCheck(values[0]); ok {
			r.EmbedFilters[key] = append(r.EmbedFilters[key], &Condition{Field: EmbedExistsField, Operator: OpIsNull, Value: isNull})
			return true, nil
		}
	}

	if path, last, dotted := cutLast(key); dotted {
		if r.Select == nil || FindEmbed(r.Select, path) == nil {
			return false, nil
		}
		switch last {
		case ParamOrder, ParamLimit, ParamOffset:
			return true, r.setEmbedOption(path, key, last, values[0])
		}
		if !isIdent(last) {
			return false, nil
		}
		for _, v := range values {
			c, err := ParseCondition(last, v)
			if err != nil {
				return true, err
			}
			r.EmbedFilters[path] = append(r.EmbedFilters[path], c)
		}
		return true, nil
	}

	if !isIdent(key) || !rootFilter(key, values[0]) {
		return false, nil
	}
	for _, v := range values {
		c, err := ParseCondition(key, v)
		if err != nil {
			return true, err
		}
		r.Filters = append(r.Filters, c)
	}
	return true, nil
}

func parseLogicKey(key, raw string, fieldOK func(string) bool) (Filter, bool, error) {
	negate := false
	name := key
	if rest, ok := strings.CutPrefix(key, notPrefix); ok {
		negate, name = true, rest
	}
	if name != ParamAnd && name != ParamOr {
		return nil, false, nil
	}
	g, err := ParseLogic(Logic(name), raw, fieldOK)
	if err != nil {
		return nil, true, err
	}
	if negate {
		return &Not{Condition: g}, true, nil
	}
	return g, true, nil
}

func (r *Request) setEmbedOption(path, key, option, raw string) error {
	opts, ok := r.EmbedOptions[path]
	if !ok {
		opts = &EmbedOptions{}
		r.EmbedOptions[path] = opts
	}
	switch option {
	case ParamOrder:
		order, err := ParseOrder(raw)
		if err != nil {
			if pe, ok := err.(*ParseError); ok {
				pe.Key = key
			}
			return err
		}
		opts.Order = order
	case ParamLimit:
		n, err := parseCount(CodeInvalidLimit, key, raw)
		if err != nil {
			return err
		}
		opts.Limit = &n
	case ParamOffset:
		n, err := parseCount(CodeInvalidOffset, key, raw)
		if err != nil {
			return err
		}
		opts.Offset = &n
	}
	return nil
}

// embedNullCheck recognizes is.null, is.not_null, is.not.null and
// not.is.null. It returns the is_null value of the sentinel condition.
func embedNullCheck(raw string) (bool, bool) {
	switch raw {
	case "is.null":
		return true, true
	case "is.not_null", "is.not.null", "not.is.null":
		return false, true
	}
	return false, false
}

func effectiveLimit(limit *uint64, maxLimit uint64) *uint64 {
	switch {
	case limit != nil && maxLimit > 0:
		n := min(*limit, maxLimit)
		return &n
	case limit != nil:
		return limit
	case maxLimit > 0:
		n := maxLimit
		return &n
	}
	return nil
}

func parseCount(code, key, raw string) (uint64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, parseErrorf(code, key, "expected an integer, got %q", raw)
	}
	if n < 0 {
		return 0, parseErrorf(code, key, "must not be negative, got %d", n)
	}
	return uint64(n), nil
}

func parseIdentList(key, raw string) ([]string, error) {
	var out []string
	for p := range strings.SplitSeq(raw, ",") {
		p = strings.TrimSpace(p)
		if !isIdent(p) {
			return nil, parseErrorf(CodeInvalidValue, key, "invalid column name %q", p)
		}
		out = append(out, p)
	}
	return out, nil
}

func cutLast(key string) (string, string, bool) {
	i := strings.LastIndexByte(key, '.')
	if i <= 0 || i == len(key)-1 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}

func first(params url.Values, key string) (string, bool) {
	values, ok := params[key]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}
