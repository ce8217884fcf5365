package compiler

import (
	"fmt"
	"strings"

	"github.com/edgeflare/pgrest/pkg/resource"
)

// CompileError reports a query shape the resource cannot serve: an unknown
// association or field, or a join strategy the association does not support.
type CompileError struct {
	Resource string
	Message  string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile %s: %s", e.Resource, e.Message)
}

func compileErrorf(res *resource.Resource, format string, args ...any) *CompileError {
	return &CompileError{Resource: res.Name, Message: fmt.Sprintf(format, args...)}
}

func unknownAssociation(res *resource.Resource, name string) *CompileError {
	valid := res.AssociationNames()
	if len(valid) == 0 {
		return compileErrorf(res, "unknown association %q, %s has no associations", name, res.Name)
	}
	return compileErrorf(res, "unknown association %q, valid associations: %s", name, strings.Join(valid, ", "))
}

func unknownField(res *resource.Resource, field string) *CompileError {
	return compileErrorf(res, "unknown field %q", field)
}
