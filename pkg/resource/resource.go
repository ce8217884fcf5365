// Package resource describes the queryable entities: their table, typed
// fields, primary key, associations and per-resource hooks.
//
// Descriptors are assembled once, linked by Build into a Registry and are
// read-only afterwards, so they can be shared by any number of goroutines.
package resource

import (
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Kind is the cardinality of an association.
type Kind string

const (
	HasMany    Kind = "has_many"
	BelongsTo  Kind = "belongs_to"
	ManyToMany Kind = "many_to_many"
)

// SupportsJoin reports whether the association can be compiled to a SQL join
// (inner join, existence join, anti-join). Many-to-many associations are only
// loaded through correlated sub-fetches.
func (k Kind) SupportsJoin() bool {
	return k == HasMany || k == BelongsTo
}

// Association links a parent resource to a related one by declared name.
//
// The join condition is parent.ParentKey = related.ChildKey. For
// many_to_many, the join table links parent.ParentKey = join.JoinParentKey
// and join.JoinChildKey = related.ChildKey.
type Association struct {
	Name          string `yaml:"-"`
	Kind          Kind   `yaml:"kind"`
	Related       string `yaml:"related"`
	ParentKey     string `yaml:"parent_key"`
	ChildKey      string `yaml:"child_key"`
	JoinTable     string `yaml:"join_table,omitempty"`
	JoinParentKey string `yaml:"join_parent_key,omitempty"`
	JoinChildKey  string `yaml:"join_child_key,omitempty"`

	related *Resource
}

// Resource returns the linked related resource. It is nil before Build.
func (a *Association) Resource() *Resource { return a.related }

// Many reports whether the association yields a list per parent.
func (a *Association) Many() bool { return a.Kind != BelongsTo }

// Field is a column with its PostgreSQL data type name.
type Field struct {
	Name string
	Type string
}

// Resource is the descriptor of one queryable entity.
type Resource struct {
	Name         string
	Schema       string
	Table        string
	Fields       []Field
	PrimaryKey   []string
	Associations map[string]*Association
	Hooks        Hooks

	fieldTypes map[string]string
}

// HasField reports whether name is a declared field.
func (r *Resource) HasField(name string) bool {
	_, ok := r.fieldTypes[name]
	return ok
}

// FieldType returns the declared data type of a field.
func (r *Resource) FieldType(name string) (string, bool) {
	t, ok := r.fieldTypes[name]
	return t, ok
}

// FieldNames returns the declared field names in declaration order.
func (r *Resource) FieldNames() []string {
	names := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		names[i] = f.Name
	}
	return names
}

// Association looks up an association by its declared name.
func (r *Resource) Association(name string) (*Association, bool) {
	a, ok := r.Associations[name]
	return a, ok
}

// AssociationNames returns the sorted association names.
func (r *Resource) AssociationNames() []string {
	names := make([]string, 0, len(r.Associations))
	for name := range r.Associations {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Identifier returns the quoted, schema-qualified table name.
func (r *Resource) Identifier() string {
	return pgx.Identifier{r.Schema, r.Table}.Sanitize()
}

// validate fills defaults and checks the descriptor is self-consistent.
func (r *Resource) validate() error {
	if r.Name == "" {
		return fmt.Errorf("resource without name")
	}
	if r.Table == "" {
		r.Table = r.Name
	}
	if r.Schema == "" {
		r.Schema = "public"
	}
	if r.Hooks == nil {
		r.Hooks = NopHooks{}
	}

	r.fieldTypes = make(map[string]string, len(r.Fields))
	for _, f := range r.Fields {
		if f.Name == "" {
			return fmt.Errorf("resource %s: field without name", r.Name)
		}
		r.fieldTypes[f.Name] = strings.ToLower(f.Type)
	}
	if len(r.fieldTypes) == 0 {
		return fmt.Errorf("resource %s: no fields declared", r.Name)
	}

	if len(r.PrimaryKey) == 0 {
		if !r.HasField("id") {
			return fmt.Errorf("resource %s: no primary key and no id field", r.Name)
		}
		r.PrimaryKey = []string{"id"}
	}
	for _, pk := range r.PrimaryKey {
		if !r.HasField(pk) {
			return fmt.Errorf("resource %s: primary key %q is not a field", r.Name, pk)
		}
	}
	return nil
}

func (r *Resource) link(lookup map[string]*Resource) error {
	for name, a := range r.Associations {
		a.Name = name
		related, ok := lookup[a.Related]
		if !ok {
			return fmt.Errorf("resource %s: association %s: unknown related resource %q", r.Name, name, a.Related)
		}
		switch a.Kind {
		case HasMany, BelongsTo:
		case ManyToMany:
			if a.JoinTable == "" || a.JoinParentKey == "" || a.JoinChildKey == "" {
				return fmt.Errorf("resource %s: association %s: many_to_many needs join_table, join_parent_key and join_child_key", r.Name, name)
			}
		default:
			return fmt.Errorf("resource %s: association %s: unsupported kind %q", r.Name, name, a.Kind)
		}
		if !r.HasField(a.ParentKey) {
			return fmt.Errorf("resource %s: association %s: parent_key %q is not a field", r.Name, name, a.ParentKey)
		}
		if !related.HasField(a.ChildKey) {
			return fmt.Errorf("resource %s: association %s: child_key %q is not a field of %s", r.Name, name, a.ChildKey, related.Name)
		}
		a.related = related
	}
	return nil
}

// JoinIdentifier returns the quoted join table of a many_to_many association.
// JoinTable may be schema-qualified ("public.post_tags").
func (a *Association) JoinIdentifier() string {
	if schema, table, ok := strings.Cut(a.JoinTable, "."); ok {
		return pgx.Identifier{schema, table}.Sanitize()
	}
	return pgx.Identifier{a.JoinTable}.Sanitize()
}
