package resource

import (
	"slices"
	"strings"
)

// ValidationErrors maps attribute names to their failure messages. Validate
// hooks return it to reject attributes.
type ValidationErrors map[string][]string

// Add appends a message for field.
func (v ValidationErrors) Add(field, msg string) {
	v[field] = append(v[field], msg)
}

func (v ValidationErrors) Error() string {
	fields := make([]string, 0, len(v))
	for f := range v {
		fields = append(fields, f)
	}
	slices.Sort(fields)

	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(f)
		b.WriteString(": ")
		b.WriteString(strings.Join(v[f], ", "))
	}
	return b.String()
}
