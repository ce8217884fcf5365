package query

import "fmt"

// ParseError codes.
const (
	CodeInvalidLimit    = "invalid_limit"
	CodeInvalidOffset   = "invalid_offset"
	CodeInvalidOperator = "invalid_operator"
	CodeInvalidValue    = "invalid_value"
	CodeInvalidSelect   = "invalid_select"
	CodeInvalidOrder    = "invalid_order"
	CodeInvalidLogic    = "invalid_logic"
	CodeUnknownField    = "unknown_field"
)

// ParseError reports a malformed query parameter. Parsing is all-or-nothing:
// when a ParseError is returned no part of the request is usable.
type ParseError struct {
	Code    string
	Key     string
	Message string
}

func (e *ParseError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Key, e.Message)
}

func parseErrorf(code, key, format string, args ...any) *ParseError {
	return &ParseError{Code: code, Key: key, Message: fmt.Sprintf(format, args...)}
}
