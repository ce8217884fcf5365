package query

import "strings"

const innerHint = "!inner"

// ParseSelect parses a select parameter such as
// `id,title,author:users!inner(id,name),comments()` into a select AST.
func ParseSelect(raw string) ([]SelectNode, error) {
	if !balanced(raw) {
		return nil, parseErrorf(CodeInvalidSelect, "select", "unbalanced parentheses in %q", raw)
	}
	return parseSelectList(raw)
}

func parseSelectList(raw string) ([]SelectNode, error) {
	if strings.TrimSpace(raw) == "" {
		return []SelectNode{}, nil
	}

	parts := splitTopLevel(raw, ',')
	nodes := make([]SelectNode, 0, len(parts))
	for _, part := range parts {
		node, err := parseSelectItem(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func parseSelectItem(item string) (SelectNode, error) {
	if item == "" {
		return nil, parseErrorf(CodeInvalidSelect, "select", "empty select item")
	}

	// only a colon ahead of the embed's parens starts an alias
	alias := ""
	open := strings.IndexByte(item, '(')
	if i := strings.IndexByte(item, ':'); i >= 0 && (open < 0 || i < open) && !strings.HasPrefix(item[i+1:], ":") {
		name := item[:i]
		if !isIdent(name) {
			return nil, parseErrorf(CodeInvalidSelect, "select", "invalid alias %q", name)
		}
		alias, item = name, item[i+1:]
		open = strings.IndexByte(item, '(')
	}

	if open < 0 {
		if item == Wildcard {
			if alias != "" {
				return nil, parseErrorf(CodeInvalidSelect, "select", "cannot alias %q", Wildcard)
			}
			return &Field{Name: Wildcard}, nil
		}
		if !isIdent(item) {
			return nil, parseErrorf(CodeInvalidSelect, "select", "invalid field %q", item)
		}
		return &Field{Name: item, Alias: alias}, nil
	}

	if !strings.HasSuffix(item, ")") {
		return nil, parseErrorf(CodeInvalidSelect, "select", "trailing characters after embed in %q", item)
	}
	name := item[:open]
	inner := false
	if base, ok := strings.CutSuffix(name, innerHint); ok {
		name, inner = base, true
	}
	if !isIdent(name) {
		return nil, parseErrorf(CodeInvalidSelect, "select", "invalid embed name %q", item[:open])
	}

	children, err := parseSelectList(item[open+1 : len(item)-1])
	if err != nil {
		return nil, err
	}
	return &Embed{Name: name, Alias: alias, Inner: inner, Fields: children}, nil
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
