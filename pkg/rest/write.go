package rest

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	pg "github.com/edgeflare/pgrest/pkg/pgx"
	"github.com/edgeflare/pgrest/pkg/resource"
	"github.com/edgeflare/pgrest/pkg/rest/compiler"
	"github.com/edgeflare/pgrest/pkg/rest/query"
	"github.com/jackc/pgx/v5"
)

// Missing selects what a multi-row insert writes for columns a row omits.
type Missing int

const (
	// MissingDefault leaves omitted columns to the column default.
	MissingDefault Missing = iota
	// MissingNull writes NULL to omitted columns.
	MissingNull
)

// Resolution selects the conflict action of an upsert.
type Resolution int

const (
	// MergeDuplicates replaces the non-key columns of conflicting rows.
	MergeDuplicates Resolution = iota
	// IgnoreDuplicates keeps conflicting rows unchanged.
	IgnoreDuplicates
)

// WriteOptions tune inserts, upserts and filtered writes.
type WriteOptions struct {
	// Columns restricts written columns. Attributes outside it are ignored.
	// Nil writes the union of attributes across rows.
	Columns []string
	// OnConflict is the upsert conflict target, the primary key when empty.
	OnConflict []string
	Missing    Missing
	Resolution Resolution
	// Returning makes filtered updates and deletes return the affected rows.
	Returning bool
}

// WriteResult is the outcome of a filtered update or delete.
type WriteResult struct {
	Count int64
	// Rows is nil unless WriteOptions.Returning is set.
	Rows []map[string]any
}

const returningAll = "RETURNING *"

// Create validates and inserts one row and returns it as stored.
func (p *Pipeline) Create(ctx context.Context, res *resource.Resource, attrs map[string]any, opts WriteOptions) (row map[string]any, err error) {
	defer p.observe(res, "create", time.Now(), &err)

	attrs, err = validate(ctx, res, nil, attrs, -1)
	if err != nil {
		return nil, err
	}
	rows, err := p.insert(ctx, p.db, res, []map[string]any{attrs}, opts, "")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// CreateMany validates every row, then inserts all of them in one
// transaction. The first row failing validation aborts the batch with a
// *ValidationError carrying its index; nothing is written.
func (p *Pipeline) CreateMany(ctx context.Context, res *resource.Resource, rows []map[string]any, opts WriteOptions) (created []map[string]any, err error) {
	defer p.observe(res, "create_many", time.Now(), &err)
	return p.insertMany(ctx, res, rows, opts, "")
}

// Upsert inserts rows, resolving conflicts on opts.OnConflict (the primary
// key by default) per opts.Resolution. Ignored duplicates are not returned.
func (p *Pipeline) Upsert(ctx context.Context, res *resource.Resource, rows []map[string]any, opts WriteOptions) (upserted []map[string]any, err error) {
	defer p.observe(res, "upsert", time.Now(), &err)

	target := opts.OnConflict
	if len(target) == 0 {
		target = res.PrimaryKey
	}
	for _, c := range target {
		if !res.HasField(c) {
			return nil, fmt.Errorf("%w: on_conflict column %q", ErrUnknownColumn, c)
		}
	}
	return p.insertMany(ctx, res, rows, opts, strings.Join(target, ","))
}

func (p *Pipeline) insertMany(ctx context.Context, res *resource.Resource, rows []map[string]any, opts WriteOptions, conflict string) ([]map[string]any, error) {
	if len(rows) == 0 {
		return []map[string]any{}, nil
	}
	var out []map[string]any
	err := p.db.InTx(ctx, func(tx pg.Executor) error {
		valid := make([]map[string]any, len(rows))
		for i, attrs := range rows {
			v, err := validate(ctx, res, nil, attrs, i)
			if err != nil {
				return err
			}
			valid[i] = v
		}
		var err error
		out, err = p.insert(ctx, tx, res, valid, opts, conflict)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// insert writes validated rows with one INSERT ... RETURNING *. conflict is
// the comma-separated upsert target, empty for plain inserts. Rows without
// any column are inserted one DEFAULT VALUES statement each; callers with
// more than one row run insert in a transaction.
func (p *Pipeline) insert(ctx context.Context, db pg.Executor, res *resource.Resource, rows []map[string]any, opts WriteOptions, conflict string) ([]map[string]any, error) {
	cols := opts.Columns
	if cols == nil {
		cols = attrColumns(rows)
	}
	for _, c := range cols {
		if !res.HasField(c) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, c)
		}
	}

	if len(cols) == 0 {
		stmt := "INSERT INTO " + res.Identifier() + " DEFAULT VALUES "
		if conflict != "" {
			stmt += onConflict(res, strings.Split(conflict, ","), nil, opts.Resolution) + " "
		}
		q := sq.Expr(stmt + returningAll)

		out := make([]map[string]any, 0, len(rows))
		for range rows {
			inserted, err := p.query(ctx, db, res, q)
			if err != nil {
				return nil, err
			}
			out = append(out, inserted...)
		}
		return afterLoad(ctx, res, out)
	}

	ins := compiler.Psql.Insert(res.Identifier()).Columns(quoteAll(cols)...)
	for _, row := range rows {
		values := make([]any, len(cols))
		for i, c := range cols {
			v, ok := row[c]
			switch {
			case ok:
				values[i] = v
			case opts.Missing == MissingNull:
				values[i] = nil
			default:
				values[i] = sq.Expr("DEFAULT")
			}
		}
		ins = ins.Values(values...)
	}
	if conflict != "" {
		ins = ins.Suffix(onConflict(res, strings.Split(conflict, ","), cols, opts.Resolution))
	}
	q := ins.Suffix(returningAll)

	out, err := p.query(ctx, db, res, q)
	if err != nil {
		return nil, err
	}
	return afterLoad(ctx, res, out)
}

func onConflict(res *resource.Resource, target, cols []string, resolution Resolution) string {
	clause := "ON CONFLICT (" + strings.Join(quoteAll(target), ", ") + ")"
	var set []string
	for _, c := range cols {
		if slices.Contains(target, c) || slices.Contains(res.PrimaryKey, c) {
			continue
		}
		set = append(set, quote(c)+" = EXCLUDED."+quote(c))
	}
	if resolution == IgnoreDuplicates || len(set) == 0 {
		return clause + " DO NOTHING"
	}
	return clause + " DO UPDATE SET " + strings.Join(set, ", ")
}

// UpdateByKey validates attrs against the current row and updates it.
// ErrNotFound is returned when the key matches no row within the scope.
func (p *Pipeline) UpdateByKey(ctx context.Context, res *resource.Resource, key any, attrs map[string]any) (row map[string]any, err error) {
	defer p.observe(res, "update", time.Now(), &err)

	where, err := keyWhere(res, key)
	if err != nil {
		return nil, err
	}
	err = p.db.InTx(ctx, func(tx pg.Executor) error {
		existing, err := p.lockByKey(ctx, tx, res, where)
		if err != nil {
			return err
		}
		attrs, err := validate(ctx, res, existing, attrs, -1)
		if err != nil {
			return err
		}
		set, err := setMap(res, attrs)
		if err != nil {
			return err
		}
		if len(set) == 0 {
			out, err := afterLoad(ctx, res, []map[string]any{existing})
			if err != nil {
				return err
			}
			row = out[0]
			return nil
		}
		rows, err := p.query(ctx, tx, res, compiler.Psql.Update(res.Identifier()).
			SetMap(set).Where(where).Suffix(returningAll))
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return ErrNotFound
		}
		out, err := afterLoad(ctx, res, rows)
		if err != nil {
			return err
		}
		row = out[0]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// DeleteByKey deletes the row with key and returns it. ErrNotFound is
// returned when the key matches no row within the scope.
func (p *Pipeline) DeleteByKey(ctx context.Context, res *resource.Resource, key any) (row map[string]any, err error) {
	defer p.observe(res, "delete", time.Now(), &err)

	where, err := keyWhere(res, key)
	if err != nil {
		return nil, err
	}
	err = p.db.InTx(ctx, func(tx pg.Executor) error {
		if _, err := p.lockByKey(ctx, tx, res, where); err != nil {
			return err
		}
		rows, err := p.query(ctx, tx, res, compiler.Psql.Delete(res.Identifier()).Where(where).Suffix(returningAll))
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return ErrNotFound
		}
		out, err := afterLoad(ctx, res, rows)
		if err != nil {
			return err
		}
		row = out[0]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// lockByKey loads the scoped row matching where FOR UPDATE.
func (p *Pipeline) lockByKey(ctx context.Context, tx pg.Executor, res *resource.Resource, where sq.Eq) (map[string]any, error) {
	alias := quote(compiler.Alias(res))
	qualified := make(sq.Eq, len(where))
	for col, v := range where {
		qualified[alias+"."+col] = v
	}
	q := res.Hooks.Scope(ctx, compiler.From(res)).
		Column(alias + ".*").
		Where(qualified).
		Suffix("FOR UPDATE")
	rows, err := p.query(ctx, tx, res, q)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0], nil
}

// UpdateWhere validates attrs and updates every scoped row matching the
// filters, order and limit of req. req comes from ParseWrite; a request
// from Parse carries the read max limit.
func (p *Pipeline) UpdateWhere(ctx context.Context, res *resource.Resource, req *query.Request, attrs map[string]any, opts WriteOptions) (result *WriteResult, err error) {
	defer p.observe(res, "update_where", time.Now(), &err)

	attrs, err = validate(ctx, res, nil, attrs, -1)
	if err != nil {
		return nil, err
	}
	set, err := setMap(res, attrs)
	if err != nil {
		return nil, err
	}
	if len(set) == 0 {
		return &WriteResult{}, nil
	}
	match, err := p.matchKeys(ctx, res, req)
	if err != nil {
		return nil, err
	}
	q := compiler.Psql.Update(res.Identifier()).SetMap(set).Where(match)
	return p.writeWhere(ctx, res, q, q.Suffix(returningAll), opts)
}

// DeleteWhere deletes every scoped row matching the filters, order and
// limit of req, which comes from ParseWrite.
func (p *Pipeline) DeleteWhere(ctx context.Context, res *resource.Resource, req *query.Request, opts WriteOptions) (result *WriteResult, err error) {
	defer p.observe(res, "delete_where", time.Now(), &err)

	match, err := p.matchKeys(ctx, res, req)
	if err != nil {
		return nil, err
	}
	q := compiler.Psql.Delete(res.Identifier()).Where(match)
	return p.writeWhere(ctx, res, q, q.Suffix(returningAll), opts)
}

// writeWhere runs q, or its RETURNING * form when opts.Returning is set.
func (p *Pipeline) writeWhere(ctx context.Context, res *resource.Resource, q, returning sqlizer, opts WriteOptions) (*WriteResult, error) {
	if !opts.Returning {
		n, err := p.exec(ctx, p.db, res, q)
		if err != nil {
			return nil, err
		}
		return &WriteResult{Count: n}, nil
	}
	rows, err := p.query(ctx, p.db, res, returning)
	if err != nil {
		return nil, err
	}
	if rows, err = afterLoad(ctx, res, rows); err != nil {
		return nil, err
	}
	return &WriteResult{Count: int64(len(rows)), Rows: rows}, nil
}

// matchKeys compiles req into `(pk) IN (SELECT pk FROM (<read>) AS "__t")`
// so filtered writes honor scope, custom parameters, embeds, order and
// limit exactly like reads.
func (p *Pipeline) matchKeys(ctx context.Context, res *resource.Resource, req *query.Request) (sq.Sqlizer, error) {
	keysOnly := *req
	keysOnly.Select = embedsOnly(req.Select)
	plan, err := p.Compile(ctx, res, &keysOnly)
	if err != nil {
		return nil, err
	}
	pk := quoteAll(res.PrimaryKey)
	sub := sq.Select(pk...).FromSelect(plan.Query, quote("__t"))
	return sq.Expr("("+strings.Join(pk, ", ")+") IN (?)", sub), nil
}

// embedsOnly keeps the embeds of a select so join strategies still apply,
// dropping root fields the key subquery does not need.
func embedsOnly(nodes []query.SelectNode) []query.SelectNode {
	out := []query.SelectNode{}
	for _, e := range query.Embeds(nodes) {
		out = append(out, e)
	}
	return out
}

func validate(ctx context.Context, res *resource.Resource, entity, attrs map[string]any, index int) (map[string]any, error) {
	out, err := res.Hooks.Validate(ctx, entity, maps.Clone(attrs))
	if err != nil {
		return nil, validationError(index, err)
	}
	return out, nil
}

// keyWhere matches key against the primary key. Composite keys are given
// as []any in primary key order.
func keyWhere(res *resource.Resource, key any) (sq.Eq, error) {
	values := []any{key}
	if len(res.PrimaryKey) > 1 {
		vs, ok := key.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s has a composite primary key", ErrInvalidKey, res.Name)
		}
		values = vs
	}
	if len(values) != len(res.PrimaryKey) {
		return nil, fmt.Errorf("%w: %s expects %d key values, got %d", ErrInvalidKey, res.Name, len(res.PrimaryKey), len(values))
	}
	where := make(sq.Eq, len(values))
	for i, col := range res.PrimaryKey {
		if values[i] == nil {
			return nil, fmt.Errorf("%w: null %q", ErrInvalidKey, col)
		}
		where[quote(col)] = values[i]
	}
	return where, nil
}

func setMap(res *resource.Resource, attrs map[string]any) (map[string]any, error) {
	set := make(map[string]any, len(attrs))
	for c, v := range attrs {
		if !res.HasField(c) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, c)
		}
		set[quote(c)] = v
	}
	return set, nil
}

// attrColumns is the sorted union of attribute names across rows.
func attrColumns(rows []map[string]any) []string {
	seen := make(map[string]bool)
	for _, row := range rows {
		for c := range row {
			seen[c] = true
		}
	}
	return slices.Sorted(maps.Keys(seen))
}

func quote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func quoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = quote(n)
	}
	return out
}
