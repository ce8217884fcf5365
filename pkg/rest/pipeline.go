package rest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/edgeflare/pgrest/pkg/metrics"
	pg "github.com/edgeflare/pgrest/pkg/pgx"
	"github.com/edgeflare/pgrest/pkg/resource"
	"github.com/edgeflare/pgrest/pkg/rest/compiler"
	"github.com/edgeflare/pgrest/pkg/rest/query"
	"go.uber.org/zap"
)

// Pipeline executes parsed requests against a resource: scope, custom
// parameter hooks, compiled filters, select, order and pagination, then
// preloads and after_load hooks. A Pipeline holds no per-request state and
// is safe for concurrent use.
type Pipeline struct {
	db           pg.Executor
	logger       *zap.Logger
	maxLimit     uint64
	defaultCount CountMode
}

type PipelineOptions func(*Pipeline)

// WithLogger sets the logger. Compiled statements are logged at debug level.
func WithLogger(logger *zap.Logger) PipelineOptions {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithMaxLimit caps the number of root rows of every read.
func WithMaxLimit(n uint64) PipelineOptions {
	return func(p *Pipeline) {
		p.maxLimit = n
	}
}

// WithDefaultCount sets the count mode of reads that do not request one.
func WithDefaultCount(mode CountMode) PipelineOptions {
	return func(p *Pipeline) {
		p.defaultCount = mode
	}
}

func New(db pg.Executor, opts ...PipelineOptions) *Pipeline {
	p := &Pipeline{
		db:     db,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse parses params with the resource fields as the filterable set.
func (p *Pipeline) Parse(res *resource.Resource, params url.Values) (*query.Request, error) {
	return query.Parse(params, query.Options{
		AllowedFields: res.FieldNames(),
		MaxLimit:      p.maxLimit,
	})
}

// ParseWrite parses the filter of UpdateWhere and DeleteWhere. Unlike Parse
// it does not apply the max limit, so only an explicit limit bounds a write.
func (p *Pipeline) ParseWrite(res *resource.Resource, params url.Values) (*query.Request, error) {
	return query.Parse(params, query.Options{AllowedFields: res.FieldNames()})
}

// Compile applies the scope and custom parameter hooks of res, then
// compiles req. Custom parameters are handled in key order.
func (p *Pipeline) Compile(ctx context.Context, res *resource.Resource, req *query.Request) (*compiler.Plan, error) {
	base := res.Hooks.Scope(ctx, compiler.From(res))

	keys := make([]string, 0, len(req.CustomParams))
	for k := range req.CustomParams {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		var err error
		base, err = res.Hooks.HandleParam(ctx, k, req.CustomParams[k], base)
		if err != nil {
			return nil, fmt.Errorf("param %q: %w", k, err)
		}
	}

	return compiler.Compile(base, res, req)
}

// ReadResult holds the rows of a read and, when a count was requested,
// its range metadata.
type ReadResult struct {
	Rows  []map[string]any
	Range *RangeInfo
}

// Read returns the rows matching req with their embeds attached. mode
// selects the count strategy; CountNone falls back to the pipeline default.
func (p *Pipeline) Read(ctx context.Context, res *resource.Resource, req *query.Request, mode CountMode) (result *ReadResult, err error) {
	defer p.observe(res, "read", time.Now(), &err)

	plan, err := p.Compile(ctx, res, req)
	if err != nil {
		return nil, err
	}

	rows, err := p.query(ctx, p.db, res, plan.Query)
	if err != nil {
		return nil, err
	}
	if err := p.preload(ctx, p.db, plan.Preloads, rows); err != nil {
		return nil, err
	}
	if rows, err = afterLoad(ctx, res, rows); err != nil {
		return nil, err
	}

	result = &ReadResult{Rows: rows}
	if mode == CountNone {
		mode = p.defaultCount
	}
	if mode == CountNone {
		return result, nil
	}

	var offset int64
	if req.Offset != nil {
		offset = int64(*req.Offset)
	}
	pi := page{limit: req.Limit, offset: offset, returned: int64(len(rows))}
	total, err := p.count(ctx, p.db, res.Name, mode, plan, pi)
	if err != nil {
		return nil, err
	}
	result.Range = &RangeInfo{Offset: offset, Returned: pi.returned, Total: &total}
	return result, nil
}

type sqlizer interface {
	ToSql() (string, []any, error)
}

func (p *Pipeline) query(ctx context.Context, db pg.Executor, res *resource.Resource, q sqlizer) ([]map[string]any, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	p.logger.Debug("query", zap.String("resource", res.Name), zap.String("sql", sql), zap.Any("args", args))
	rows, err := db.QueryMaps(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", res.Name, err)
	}
	return rows, nil
}

func (p *Pipeline) exec(ctx context.Context, db pg.Executor, res *resource.Resource, q sqlizer) (int64, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return 0, err
	}
	p.logger.Debug("exec", zap.String("resource", res.Name), zap.String("sql", sql), zap.Any("args", args))
	n, err := db.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("exec %s: %w", res.Name, err)
	}
	return n, nil
}

func afterLoad(ctx context.Context, res *resource.Resource, rows []map[string]any) ([]map[string]any, error) {
	for i, row := range rows {
		out, err := res.Hooks.AfterLoad(ctx, row)
		if err != nil {
			return nil, fmt.Errorf("after load %s: %w", res.Name, err)
		}
		rows[i] = out
	}
	return rows, nil
}

// observe records the outcome of an operation. err points at the named
// result of the caller.
func (p *Pipeline) observe(res *resource.Resource, op string, started time.Time, err *error) {
	outcome := metrics.OutcomeOK
	var (
		pe *query.ParseError
		ce *compiler.CompileError
		ve *ValidationError
	)
	switch e := *err; {
	case e == nil:
	case errors.Is(e, ErrNotFound):
		outcome = metrics.OutcomeNotFound
	case errors.As(e, &pe), errors.As(e, &ce), errors.As(e, &ve), errors.Is(e, ErrInvalidKey), errors.Is(e, ErrUnknownColumn):
		outcome = metrics.OutcomeInvalid
	default:
		outcome = metrics.OutcomeBackendErr
		p.logger.Error("operation failed", zap.String("resource", res.Name), zap.String("operation", op), zap.Error(e))
	}
	metrics.Observe(res.Name, op, outcome, started)
}
