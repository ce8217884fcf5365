package compiler

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/edgeflare/pgrest/pkg/resource"
	"github.com/edgeflare/pgrest/pkg/rest/query"
)

// Helper columns added to preload rows. They are removed before rows are
// attached to their parents.
const (
	ParentColumn    = "__parent"
	RowNumberColumn = "__rn"
	joinTableAlias  = "__j"
)

// Preload fetches one embed for a batch of parent rows in a single query.
// Rows are matched to parents by GroupKey against the parent's ParentKey.
type Preload struct {
	// Key is the name the embed is attached under in parent rows.
	Key string
	// Path is the dot-delimited embed path from the root resource.
	Path  string
	Assoc *resource.Association
	// Empty is set for anti-joins: every returned parent has no children.
	Empty bool

	Limit  *uint64
	Offset *uint64

	sel    *selection
	order  []string
	orders []query.Order
}

// Resource is the resource the preload reads.
func (p *Preload) Resource() *resource.Resource { return p.Assoc.Resource() }

// Children are the preloads of nested embeds.
func (p *Preload) Children() []*Preload {
	if p.sel == nil {
		return nil
	}
	return p.sel.preloads
}

// ParentKey is the parent row column holding the association key.
func (p *Preload) ParentKey() string { return p.Assoc.ParentKey }

// GroupKey is the preload row column matching ParentKey.
func (p *Preload) GroupKey() string {
	if p.Assoc.Kind == resource.ManyToMany {
		return ParentColumn
	}
	return p.Assoc.ChildKey
}

func (p *Preload) windowed() bool {
	return p.Limit != nil || (p.Offset != nil && *p.Offset > 0)
}

func newPreloadSelection(assoc *resource.Association, filters []query.Filter) (*selection, error) {
	related := assoc.Resource()
	sel := newSelection(binding{alias: Alias(related), res: related})
	sel.aliases[joinTableAlias] = true
	sel.reserved = []string{ParentColumn, RowNumberColumn}
	if assoc.Kind != resource.ManyToMany {
		sel.reserved = append(sel.reserved, assoc.ChildKey)
	}

	preds, err := sel.predicates(filters)
	if err != nil {
		return nil, err
	}
	sel.where = preds
	return sel, nil
}

// finish projects the group key and validates embed ordering.
func (p *Preload) finish(opts *query.EmbedOptions) error {
	if p.Assoc.Kind != resource.ManyToMany {
		p.sel.project(p.Assoc.ChildKey, "")
	}
	if opts == nil {
		return nil
	}
	p.Limit, p.Offset = opts.Limit, opts.Offset
	if p.windowed() {
		for _, o := range opts.Order {
			if p.sel.res.HasField(o.Field) {
				p.sel.project(o.Field, "")
			}
		}
	}
	order, err := p.sel.orderBy(opts.Order)
	if err != nil {
		return err
	}
	p.order, p.orders = order, opts.Order
	return nil
}

// Query builds the fetch for parent keys. base is From(p.Resource()) with
// the related resource's scope applied.
func (p *Preload) Query(base sq.SelectBuilder, keys []any) sq.SelectBuilder {
	q := p.sel.apply(base)

	partition := p.sel.column(p.Assoc.ChildKey)
	if p.Assoc.Kind == resource.ManyToMany {
		j := quote(joinTableAlias)
		q = q.InnerJoin(fmt.Sprintf("%s AS %s ON %s.%s = %s",
			p.Assoc.JoinIdentifier(), j, j, quote(p.Assoc.JoinChildKey), p.sel.column(p.Assoc.ChildKey)))
		partition = j + "." + quote(p.Assoc.JoinParentKey)
		q = q.Column(partition + " AS " + quote(ParentColumn))
	}
	q = q.Where(sq.Eq{partition: keys})

	if !p.windowed() {
		return q.OrderBy(p.order...)
	}
	return p.window(q)
}

// window limits rows per parent:
//
//	SELECT * FROM (
//	  SELECT "__d".*, ROW_NUMBER() OVER (PARTITION BY "__d".key ORDER BY ...) AS "__rn"
//	  FROM (<q>) AS "__d"
//	) AS "__w" WHERE "__rn" > offset AND "__rn" <= offset+limit ORDER BY "__rn"
func (p *Preload) window(q sq.SelectBuilder) sq.SelectBuilder {
	d := binding{alias: "__d", res: p.sel.res}

	order := make([]string, 0, len(p.orders))
	for _, o := range p.orders {
		order = append(order, orderTerm(d.column(o.Field), o))
	}
	if len(order) == 0 {
		for _, pk := range p.sel.res.PrimaryKey {
			order = append(order, d.column(pk))
		}
	}

	numbered := Psql.Select(
		quote(d.alias)+".*",
		fmt.Sprintf("ROW_NUMBER() OVER (PARTITION BY %s ORDER BY %s) AS %s",
			d.column(p.GroupKey()), strings.Join(order, ", "), quote(RowNumberColumn)),
	).FromSelect(q, quote(d.alias))

	var offset uint64
	if p.Offset != nil {
		offset = *p.Offset
	}
	rn := quote(RowNumberColumn)
	out := Psql.Select("*").FromSelect(numbered, quote("__w")).Where(sq.Gt{rn: offset})
	if p.Limit != nil {
		out = out.Where(sq.LtOrEq{rn: offset + *p.Limit})
	}
	return out.OrderBy(rn)
}
