package resource

import (
	"slices"
	"strings"

	"github.com/edgeflare/pgrest/pkg/pgx/schema"
)

// FromSchema derives descriptors from an introspected snapshot. Each foreign
// key yields a belongs_to on the referencing table, named after the column
// without its _id suffix, and a has_many on the referenced table, named after
// the referencing table. Declared names never collide with a column; the
// first association to claim a name wins.
//
// Resources in the public schema are named after their table, others are
// named schema.table.
func FromSchema(tables map[string]schema.Table) []*Resource {
	keys := make([]string, 0, len(tables))
	for k := range tables {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	byKey := make(map[string]*Resource, len(tables))
	out := make([]*Resource, 0, len(tables))
	for _, k := range keys {
		t := tables[k]
		if len(t.Columns) == 0 {
			continue
		}
		r := &Resource{
			Name:         resourceName(t.Schema, t.Name),
			Schema:       t.Schema,
			Table:        t.Name,
			PrimaryKey:   slices.Clone(t.PrimaryKeys),
			Associations: make(map[string]*Association),
		}
		for _, c := range t.Columns {
			r.Fields = append(r.Fields, Field{Name: c.Name, Type: c.DataType})
		}
		// views have no primary key, fall back to the first column
		if len(r.PrimaryKey) == 0 {
			r.PrimaryKey = []string{t.Columns[0].Name}
		}
		byKey[k] = r
		out = append(out, r)
	}

	for _, k := range keys {
		child, ok := byKey[k]
		if !ok {
			continue
		}
		for _, fk := range tables[k].ForeignKeys {
			parent, ok := byKey[fk.ReferencedSchema+"."+fk.ReferencedTable]
			if !ok {
				continue
			}
			addAssociation(child, strings.TrimSuffix(fk.Column, "_id"), &Association{
				Kind:      BelongsTo,
				Related:   parent.Name,
				ParentKey: fk.Column,
				ChildKey:  fk.ReferencedColumn,
			})
			addAssociation(parent, child.Table, &Association{
				Kind:      HasMany,
				Related:   child.Name,
				ParentKey: fk.ReferencedColumn,
				ChildKey:  fk.Column,
			})
		}
	}
	return out
}

func addAssociation(r *Resource, name string, a *Association) {
	if name == "" {
		return
	}
	if _, taken := r.Associations[name]; taken {
		return
	}
	if slices.ContainsFunc(r.Fields, func(f Field) bool { return f.Name == name }) {
		return
	}
	r.Associations[name] = a
}

func resourceName(schemaName, table string) string {
	if schemaName == "public" {
		return table
	}
	return schemaName + "." + table
}
