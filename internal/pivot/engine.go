// Cubo - Health Records Pivot Analytics Service
// Copyright 2026 Cubo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/saludbi/cubo

package pivot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/saludbi/cubo/internal/cache"
	"github.com/saludbi/cubo/internal/database"
	"github.com/saludbi/cubo/internal/database/query"
	"github.com/saludbi/cubo/internal/logging"
	"github.com/saludbi/cubo/internal/metrics"
)

// Column describes one result column.
type Column struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Kind  Kind   `json:"kind"`
}

// Result is a pivot table: dimension columns followed by measure columns,
// each in the order the caller requested them. Rows keep the warehouse's
// GROUP BY emission order.
type Result struct {
	Columns     []Column  `json:"columns"`
	Rows        [][]any   `json:"rows"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Engine turns specs into cached aggregation queries.
type Engine struct {
	q     Querier
	cache *cache.Cache
	opts  Options
}

// NewEngine creates an Engine over opts.FactTable.
func NewEngine(q Querier, c *cache.Cache, opts Options) *Engine {
	return &Engine{q: q, cache: c, opts: opts}
}

// Execute validates spec and returns its pivot table, from cache when an
// equivalent spec was answered within the query TTL.
//
// Errors wrap ErrInvalidSpec (nothing was touched) or ErrExecutionFailed
// (the warehouse error stays in the chain). Failures are never cached.
func (e *Engine) Execute(ctx context.Context, spec Spec) (*Result, error) {
	n, err := normalize(spec)
	if err != nil {
		metrics.RecordPivotQuery("invalid", 0)
		return nil, err
	}

	key := n.key()
	res, err := cache.GetOrComputeContext(ctx, e.cache, key, e.opts.TTLs.Query, func(ctx context.Context) (*Result, error) {
		return e.compute(ctx, n)
	})
	if err != nil {
		err = asExecutionFailure(err)
		metrics.RecordPivotQuery("failed", 0)
		logging.Ctx(ctx).Warn().Err(err).Str("cache_key", key).Msg("Pivot query failed")
		return nil, err
	}

	out := res.project(n.requestedDims, n.requestedMeasures)
	metrics.RecordPivotQuery("ok", len(out.Rows))
	return out, nil
}

// asExecutionFailure wraps errors that did not come out of a warehouse
// call, such as the caller's context ending while it waited on a shared
// query.
func asExecutionFailure(err error) error {
	if err == nil || errors.Is(err, ErrExecutionFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrExecutionFailed, err)
}

func (e *Engine) compute(ctx context.Context, n *normalized) (*Result, error) {
	sql, args := buildQuery(n, e.opts.FactTable)

	start := time.Now()
	rs, err := e.q.Execute(database.WithOperation(ctx, "pivot"), sql, args, e.opts.PivotTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecutionFailed, err)
	}
	logging.Ctx(ctx).Debug().
		Int("rows", rs.Len()).
		Dur("duration", time.Since(start)).
		Msg("Pivot query executed")

	res := &Result{
		Columns:     make([]Column, 0, len(n.dims)+len(n.measures)),
		Rows:        make([][]any, 0, rs.Len()),
		GeneratedAt: time.Now().UTC(),
	}
	for _, d := range n.dims {
		res.Columns = append(res.Columns, Column{ID: d.ID, Label: d.Label, Kind: KindDimension})
	}
	for _, m := range n.measures {
		res.Columns = append(res.Columns, Column{ID: m.ID, Label: m.Label, Kind: KindMeasure})
	}

	width := len(res.Columns)
	for _, row := range rs.Rows {
		if len(row) != width {
			return nil, fmt.Errorf("%w: expected %d columns, got %d", ErrExecutionFailed, width, len(row))
		}
		out := make([]any, width)
		for i, v := range row {
			if i >= len(n.dims) {
				v = measureValue(v)
			}
			out[i] = v
		}
		res.Rows = append(res.Rows, out)
	}
	return res, nil
}

// buildQuery renders the aggregation for n. Identifiers come from the
// catalog; every filter value is a bound parameter.
//
//	SELECT region AS region, COUNT(*) AS total_casos
//	FROM atenciones WHERE anio = ? GROUP BY region
func buildQuery(n *normalized, table string) (string, []any) {
	selects := make([]string, 0, len(n.dims)+len(n.measures))
	groupBy := make([]string, 0, len(n.dims))
	for _, d := range n.dims {
		selects = append(selects, d.column+" AS "+d.ID)
		groupBy = append(groupBy, d.column)
	}
	for _, m := range n.measures {
		selects = append(selects, m.expr+" AS "+m.ID)
	}

	wb := query.NewWhereBuilder()
	if n.year != nil {
		wb.AddEquals(yearColumn, *n.year)
	}
	if n.period != nil {
		wb.AddBetween(monthColumn, n.period.FromMonth, n.period.ToMonth)
	}
	for _, f := range n.filters {
		wb.AddIn(f.dim.column, f.values)
	}
	where, args := wb.BuildWithPrefix()

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(selects, ", "))
	b.WriteString(" FROM ")
	b.WriteString(table)
	b.WriteString(" ")
	b.WriteString(where)
	if len(groupBy) > 0 {
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(groupBy, ", "))
	}
	return b.String(), args
}

// measureValue turns DECIMAL results delivered as text into numbers.
func measureValue(v any) any {
	if s, ok := v.(string); ok {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return v
}

// project returns a copy of r with columns in the requested order. The
// cached Result is never modified.
func (r *Result) project(dims, measures []string) *Result {
	pos := make(map[string]int, len(r.Columns))
	for i, c := range r.Columns {
		pos[c.ID] = i
	}

	order := make([]int, 0, len(dims)+len(measures))
	for _, id := range dims {
		order = append(order, pos[id])
	}
	for _, id := range measures {
		order = append(order, pos[id])
	}

	out := &Result{
		Columns:     make([]Column, len(order)),
		Rows:        make([][]any, len(r.Rows)),
		GeneratedAt: r.GeneratedAt,
	}
	for i, src := range order {
		out.Columns[i] = r.Columns[src]
	}
	for i, row := range r.Rows {
		projected := make([]any, len(order))
		for j, src := range order {
			projected[j] = row[src]
		}
		out.Rows[i] = projected
	}
	return out
}
