package rest

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/edgeflare/pgrest/pkg/metrics"
	pg "github.com/edgeflare/pgrest/pkg/pgx"
	"github.com/edgeflare/pgrest/pkg/rest/compiler"
	"go.uber.org/zap"
)

// CountMode selects how the total row count of a read is computed.
type CountMode string

const (
	CountNone CountMode = ""
	// CountExact runs COUNT(*) over the filtered, unpaginated query.
	CountExact CountMode = "exact"
	// CountPlanned uses the planner's row estimate, falling back to an exact
	// count when the estimate cannot be obtained.
	CountPlanned CountMode = "planned"
	// CountEstimated counts exactly when the page is partial and uses the
	// planner estimate otherwise.
	CountEstimated CountMode = "estimated"
)

// ParseCountMode validates a count mode name. The empty string is CountNone.
func ParseCountMode(s string) (CountMode, error) {
	switch m := CountMode(s); m {
	case CountNone, CountExact, CountPlanned, CountEstimated:
		return m, nil
	}
	return CountNone, fmt.Errorf("invalid count mode %q", s)
}

// page describes the rows a read returned.
type page struct {
	limit    *uint64
	offset   int64
	returned int64
}

func (pi page) full() bool {
	return pi.limit != nil && uint64(pi.returned) >= *pi.limit
}

func (p *Pipeline) count(ctx context.Context, db pg.Executor, resource string, mode CountMode, plan *compiler.Plan, pi page) (int64, error) {
	switch mode {
	case CountExact:
		return p.exactCount(ctx, db, plan)
	case CountPlanned:
		est, err := p.estimate(ctx, db, plan)
		if err != nil {
			p.countFallback(resource, mode, err)
			return p.exactCount(ctx, db, plan)
		}
		return est, nil
	case CountEstimated:
		if !pi.full() {
			return p.exactCount(ctx, db, plan)
		}
		est, err := p.estimate(ctx, db, plan)
		if err != nil {
			p.countFallback(resource, mode, err)
			return p.exactCount(ctx, db, plan)
		}
		return max(est, pi.offset+pi.returned), nil
	}
	return 0, fmt.Errorf("invalid count mode %q", mode)
}

// CountQuery is the exact count statement of a plan.
func CountQuery(plan *compiler.Plan) sq.SelectBuilder {
	return compiler.Psql.Select("COUNT(*)").FromSelect(plan.CountBase, `"pgrst_source"`)
}

func (p *Pipeline) exactCount(ctx context.Context, db pg.Executor, plan *compiler.Plan) (int64, error) {
	sql, args, err := CountQuery(plan).ToSql()
	if err != nil {
		return 0, err
	}
	p.logger.Debug("count", zap.String("sql", sql), zap.Any("args", args))
	n, err := db.QueryInt64(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

func (p *Pipeline) estimate(ctx context.Context, db pg.Executor, plan *compiler.Plan) (int64, error) {
	sql, args, err := plan.CountBase.ToSql()
	if err != nil {
		return 0, err
	}
	return db.Estimate(ctx, sql, args...)
}

func (p *Pipeline) countFallback(resource string, mode CountMode, err error) {
	metrics.CountFallbacks.WithLabelValues(resource, string(mode)).Inc()
	p.logger.Warn("planner estimate failed, counting exactly",
		zap.String("resource", resource), zap.String("mode", string(mode)), zap.Error(err))
}
