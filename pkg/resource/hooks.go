package resource

import (
	"context"

	sq "github.com/Masterminds/squirrel"
)

// Hooks are the per-resource extension points applied by the query pipeline.
// Embed NopHooks to override only some of them.
type Hooks interface {
	// Scope restricts every read of the resource, e.g. tenancy or soft delete.
	Scope(ctx context.Context, q sq.SelectBuilder) sq.SelectBuilder
	// HandleParam is called once per query parameter the parser did not
	// recognize.
	HandleParam(ctx context.Context, key string, values []string, q sq.SelectBuilder) (sq.SelectBuilder, error)
	// Validate checks attrs before they are written. entity is the current
	// row for updates and nil for creates. It returns the attributes to
	// write, or ValidationErrors.
	Validate(ctx context.Context, entity, attrs map[string]any) (map[string]any, error)
	// AfterLoad post-processes each returned row.
	AfterLoad(ctx context.Context, row map[string]any) (map[string]any, error)
}

// NopHooks applies no scope, ignores custom parameters, accepts all
// attributes and returns rows unchanged.
type NopHooks struct{}

func (NopHooks) Scope(_ context.Context, q sq.SelectBuilder) sq.SelectBuilder { return q }

func (NopHooks) HandleParam(_ context.Context, _ string, _ []string, q sq.SelectBuilder) (sq.SelectBuilder, error) {
	return q, nil
}

func (NopHooks) Validate(_ context.Context, _, attrs map[string]any) (map[string]any, error) {
	return attrs, nil
}

func (NopHooks) AfterLoad(_ context.Context, row map[string]any) (map[string]any, error) {
	return row, nil
}

// HookFuncs adapts plain functions to Hooks. Nil functions fall back to
// NopHooks behavior.
type HookFuncs struct {
	ScopeFunc       func(ctx context.Context, q sq.SelectBuilder) sq.SelectBuilder
	HandleParamFunc func(ctx context.Context, key string, values []string, q sq.SelectBuilder) (sq.SelectBuilder, error)
	ValidateFunc    func(ctx context.Context, entity, attrs map[string]any) (map[string]any, error)
	AfterLoadFunc   func(ctx context.Context, row map[string]any) (map[string]any, error)
}

func (h HookFuncs) Scope(ctx context.Context, q sq.SelectBuilder) sq.SelectBuilder {
	if h.ScopeFunc == nil {
		return q
	}
	return h.ScopeFunc(ctx, q)
}

func (h HookFuncs) HandleParam(ctx context.Context, key string, values []string, q sq.SelectBuilder) (sq.SelectBuilder, error) {
	if h.HandleParamFunc == nil {
		return q, nil
	}
	return h.HandleParamFunc(ctx, key, values, q)
}

func (h HookFuncs) Validate(ctx context.Context, entity, attrs map[string]any) (map[string]any, error) {
	if h.ValidateFunc == nil {
		return attrs, nil
	}
	return h.ValidateFunc(ctx, entity, attrs)
}

func (h HookFuncs) AfterLoad(ctx context.Context, row map[string]any) (map[string]any, error) {
	if h.AfterLoadFunc == nil {
		return row, nil
	}
	return h.AfterLoadFunc(ctx, row)
}
