package rest

import (
	"context"
	"fmt"

	pg "github.com/edgeflare/pgrest/pkg/pgx"
	"github.com/edgeflare/pgrest/pkg/rest/compiler"
)

// preload fetches each embed of parents with one query per preload and
// attaches the children under the embed key. Nested preloads run on the
// children before they are attached.
func (p *Pipeline) preload(ctx context.Context, db pg.Executor, preloads []*compiler.Preload, parents []map[string]any) error {
	for _, pl := range preloads {
		if err := p.preloadOne(ctx, db, pl, parents); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) preloadOne(ctx context.Context, db pg.Executor, pl *compiler.Preload, parents []map[string]any) error {
	keys := parentKeys(parents, pl.ParentKey())
	if pl.Empty || len(keys) == 0 {
		attach(pl, parents, nil)
		return nil
	}

	related := pl.Resource()
	base := related.Hooks.Scope(ctx, compiler.From(related))
	children, err := p.query(ctx, db, related, pl.Query(base, keys))
	if err != nil {
		return fmt.Errorf("preload %s: %w", pl.Path, err)
	}
	if err := p.preload(ctx, db, pl.Children(), children); err != nil {
		return err
	}

	groups := make(map[string][]map[string]any)
	for _, child := range children {
		k := keyString(child[pl.GroupKey()])
		delete(child, compiler.ParentColumn)
		delete(child, compiler.RowNumberColumn)
		groups[k] = append(groups[k], child)
	}
	attach(pl, parents, groups)
	return nil
}

// attach sets the embed of every parent: a list for has_many and
// many_to_many, the first matching row or nil for belongs_to.
func attach(pl *compiler.Preload, parents []map[string]any, groups map[string][]map[string]any) {
	for _, parent := range parents {
		var children []map[string]any
		if v := parent[pl.ParentKey()]; v != nil {
			children = groups[keyString(v)]
		}
		if pl.Assoc.Many() {
			if children == nil {
				children = []map[string]any{}
			}
			parent[pl.Key] = children
			continue
		}
		if len(children) > 0 {
			parent[pl.Key] = children[0]
		} else {
			parent[pl.Key] = nil
		}
	}
}

// parentKeys returns the distinct non-null values of column in rows.
func parentKeys(rows []map[string]any, column string) []any {
	seen := make(map[string]bool, len(rows))
	keys := make([]any, 0, len(rows))
	for _, row := range rows {
		v := row[column]
		if v == nil {
			continue
		}
		k := keyString(v)
		if seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, v)
	}
	return keys
}

// keyString normalizes a key value for grouping. Parent and child key
// columns share a type, so their driver values print alike.
func keyString(v any) string {
	return fmt.Sprint(v)
}
