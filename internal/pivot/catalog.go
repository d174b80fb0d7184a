// Cubo - Health Records Pivot Analytics Service
// Copyright 2026 Cubo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/saludbi/cubo

package pivot

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/saludbi/cubo/internal/cache"
	"github.com/saludbi/cubo/internal/database"
	"github.com/saludbi/cubo/internal/database/query"
)

// Kind tells dimensions and measures apart in result columns.
type Kind string

const (
	KindDimension Kind = "dimension"
	KindMeasure   Kind = "measure"
)

// ValueType is the SQL type family of a dimension column. Filter values
// are coerced to it before binding.
type ValueType string

const (
	TypeInt    ValueType = "int"
	TypeString ValueType = "string"
)

// DimensionValue is one member of a dimension's value domain.
type DimensionValue struct {
	Value any    `json:"value"`
	Label string `json:"label"`
}

// Dimension is a groupable attribute of the fact table.
type Dimension struct {
	ID     string           `json:"id"`
	Label  string           `json:"label"`
	Type   ValueType        `json:"type"`
	Static bool             `json:"static"`
	Values []DimensionValue `json:"values,omitempty"`

	column string
}

// Measure is an aggregate over the fact table.
type Measure struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Unit  string `json:"unit,omitempty"`

	expr string
}

// Period narrows a year to a month range.
type Period struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	FromMonth int    `json:"from_month"`
	ToMonth   int    `json:"to_month"`
}

// Info is the full catalog payload served to dashboards.
type Info struct {
	Dimensions []Dimension `json:"dimensions"`
	Measures   []Measure   `json:"measures"`
	Periods    []Period    `json:"periods"`
}

// Columns of the fact table referenced outside dimensions.
const (
	yearColumn  = "anio"
	monthColumn = "mes"
)

var dimensions = []Dimension{
	{ID: "anio", Label: "Año", Type: TypeInt, column: yearColumn},
	{ID: "mes", Label: "Mes", Type: TypeInt, Static: true, column: monthColumn, Values: []DimensionValue{
		{1, "Enero"}, {2, "Febrero"}, {3, "Marzo"}, {4, "Abril"}, {5, "Mayo"}, {6, "Junio"},
		{7, "Julio"}, {8, "Agosto"}, {9, "Septiembre"}, {10, "Octubre"}, {11, "Noviembre"}, {12, "Diciembre"},
	}},
	{ID: "region", Label: "Región", Type: TypeString, column: "region"},
	{ID: "establecimiento", Label: "Establecimiento", Type: TypeString, column: "establecimiento"},
	{ID: "sexo", Label: "Sexo", Type: TypeString, Static: true, column: "sexo", Values: []DimensionValue{
		{"F", "Femenino"}, {"M", "Masculino"},
	}},
	{ID: "grupo_edad", Label: "Grupo de edad", Type: TypeString, Static: true, column: "grupo_edad", Values: []DimensionValue{
		{"0-4", "0 a 4 años"}, {"5-14", "5 a 14 años"}, {"15-29", "15 a 29 años"},
		{"30-44", "30 a 44 años"}, {"45-59", "45 a 59 años"}, {"60+", "60 años y más"},
	}},
	{ID: "diagnostico", Label: "Diagnóstico", Type: TypeString, column: "diagnostico"},
}

var measures = []Measure{
	{ID: "total_casos", Label: "Total de casos", Unit: "casos", expr: "COUNT(*)"},
	{ID: "total_pacientes", Label: "Pacientes únicos", Unit: "pacientes", expr: "COUNT(DISTINCT paciente_id)"},
	{ID: "promedio_edad", Label: "Edad promedio", Unit: "años", expr: "AVG(edad)"},
	{ID: "total_dias_estancia", Label: "Días de estancia", Unit: "días", expr: "SUM(dias_estancia)"},
}

var periods = []Period{
	{ID: "T1", Label: "Primer trimestre", FromMonth: 1, ToMonth: 3},
	{ID: "T2", Label: "Segundo trimestre", FromMonth: 4, ToMonth: 6},
	{ID: "T3", Label: "Tercer trimestre", FromMonth: 7, ToMonth: 9},
	{ID: "T4", Label: "Cuarto trimestre", FromMonth: 10, ToMonth: 12},
	{ID: "S1", Label: "Primer semestre", FromMonth: 1, ToMonth: 6},
	{ID: "S2", Label: "Segundo semestre", FromMonth: 7, ToMonth: 12},
}

var (
	dimensionIndex = indexBy(dimensions, func(d Dimension) string { return d.ID })
	measureIndex   = indexBy(measures, func(m Measure) string { return m.ID })
	periodIndex    = indexBy(periods, func(p Period) string { return p.ID })
)

func indexBy[T any](items []T, id func(T) string) map[string]T {
	m := make(map[string]T, len(items))
	for _, it := range items {
		m[id(it)] = it
	}
	return m
}

// Querier executes warehouse queries. *database.PoolManager implements it.
type Querier interface {
	Execute(ctx context.Context, sql string, args []any, timeout time.Duration) (*database.ResultSet, error)
}

// TTLs per cache namespace.
type TTLs struct {
	Catalog          time.Duration
	Years            time.Duration
	StaticDimension  time.Duration
	DynamicDimension time.Duration
	Query            time.Duration
}

// DefaultTTLs returns the cache package defaults.
func DefaultTTLs() TTLs {
	return TTLs{
		Catalog:          cache.TTLCatalog,
		Years:            cache.TTLYears,
		StaticDimension:  cache.TTLStaticDimension,
		DynamicDimension: cache.TTLDynamicDimension,
		Query:            cache.TTLQuery,
	}
}

// Options configures a Catalog and an Engine.
type Options struct {
	FactTable     string
	LookupTimeout time.Duration
	PivotTimeout  time.Duration
	TTLs          TTLs
}

// Catalog answers metadata lookups, caching everything it reads.
type Catalog struct {
	q     Querier
	cache *cache.Cache
	opts  Options
}

// NewCatalog creates a Catalog over the fact table opts.FactTable, which
// must already be a validated identifier.
func NewCatalog(q Querier, c *cache.Cache, opts Options) *Catalog {
	return &Catalog{q: q, cache: c, opts: opts}
}

// ListDimensions returns every dimension in display order.
func (c *Catalog) ListDimensions() []Dimension {
	return append([]Dimension(nil), dimensions...)
}

// ListMeasures returns every measure in display order.
func (c *Catalog) ListMeasures() []Measure {
	return append([]Measure(nil), measures...)
}

// ListPeriods returns the year subdivisions usable as a spec period.
func (c *Catalog) ListPeriods() []Period {
	return append([]Period(nil), periods...)
}

// Info returns dimensions, measures and periods as one cached payload.
func (c *Catalog) Info() Info {
	info, _ := cache.GetOrCompute(c.cache, cache.KeyCatalog, c.opts.TTLs.Catalog, func() (Info, error) {
		return Info{
			Dimensions: c.ListDimensions(),
			Measures:   c.ListMeasures(),
			Periods:    c.ListPeriods(),
		}, nil
	})
	return info
}

// Dimension looks up a dimension by id.
func (c *Catalog) Dimension(id string) (Dimension, bool) {
	d, ok := dimensionIndex[id]
	return d, ok
}

// ListAvailableYears returns the distinct years present in the fact table,
// newest first.
func (c *Catalog) ListAvailableYears(ctx context.Context) ([]int, error) {
	years, err := cache.GetOrComputeContext(ctx, c.cache, cache.KeyYears, c.opts.TTLs.Years, func(ctx context.Context) ([]int, error) {
		sql := fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL ORDER BY %s DESC",
			yearColumn, c.opts.FactTable, yearColumn, yearColumn)

		rs, err := c.q.Execute(database.WithOperation(ctx, "years"), sql, nil, c.opts.LookupTimeout)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrExecutionFailed, err)
		}
		years := make([]int, 0, rs.Len())
		for _, row := range rs.Rows {
			if y, ok := toInt64(row[0]); ok {
				years = append(years, int(y))
			}
		}
		return years, nil
	})
	return years, asExecutionFailure(err)
}

// ListDimensionValues returns the value domain of dimensionID, narrowed by
// filters on other dimensions. Static dimensions ignore filters. An unknown
// id fails with ErrUnknownDimension before any cache or warehouse access.
func (c *Catalog) ListDimensionValues(ctx context.Context, dimensionID string, filters map[string][]string) ([]DimensionValue, error) {
	dim, ok := dimensionIndex[dimensionID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDimension, dimensionID)
	}

	if dim.Static {
		return cache.GetOrCompute(c.cache, cache.DimensionKey(dim.ID, nil), c.opts.TTLs.StaticDimension, func() ([]DimensionValue, error) {
			return append([]DimensionValue(nil), dim.Values...), nil
		})
	}

	wb := query.NewWhereBuilder()
	wb.AddClause(dim.column + " IS NOT NULL")
	keyFilters := make(map[string][]string, len(filters))
	for name, raw := range filters {
		if name == dim.ID || len(raw) == 0 {
			continue
		}
		fd, ok := dimensionIndex[name]
		if !ok {
			return nil, fmt.Errorf("%w: filter on unknown dimension %q", ErrInvalidSpec, name)
		}
		values, err := coerceAll(fd, stringsToAny(raw))
		if err != nil {
			return nil, err
		}
		wb.AddIn(fd.column, values)
		// Key on the converted values so "2023" and "02023" share an entry.
		canonical := make([]string, len(values))
		for i, v := range values {
			canonical[i] = fmt.Sprint(v)
		}
		keyFilters[name] = canonical
	}

	key := cache.DimensionKey(dim.ID, keyFilters)
	values, err := cache.GetOrComputeContext(ctx, c.cache, key, c.opts.TTLs.DynamicDimension, func(ctx context.Context) ([]DimensionValue, error) {
		where, args := wb.BuildWithPrefix()
		sql := fmt.Sprintf("SELECT DISTINCT %s FROM %s %s ORDER BY %s", dim.column, c.opts.FactTable, where, dim.column)

		rs, err := c.q.Execute(database.WithOperation(ctx, "dimension_values"), sql, args, c.opts.LookupTimeout)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrExecutionFailed, err)
		}
		values := make([]DimensionValue, 0, rs.Len())
		for _, row := range rs.Rows {
			values = append(values, DimensionValue{Value: row[0], Label: fmt.Sprint(row[0])})
		}
		return values, nil
	})
	return values, asExecutionFailure(err)
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// coerce converts a filter value to the dimension's type. JSON numbers
// arrive as float64 and query string values as string.
func coerce(d Dimension, v any) (any, error) {
	switch d.Type {
	case TypeInt:
		if n, ok := toInt64(v); ok {
			return n, nil
		}
		return nil, fmt.Errorf("%w: %q expects integer values, got %v", ErrInvalidSpec, d.ID, v)
	default:
		switch x := v.(type) {
		case string:
			return x, nil
		case float64, int, int64:
			return fmt.Sprint(x), nil
		default:
			return nil, fmt.Errorf("%w: %q expects text values, got %T", ErrInvalidSpec, d.ID, v)
		}
	}
}

func coerceAll(d Dimension, values []any) ([]any, error) {
	out := make([]any, 0, len(values))
	for _, v := range values {
		c, err := coerce(d, v)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

const (
	minInt64Float = -(1 << 63)
	maxInt64Float = 1 << 63
)

// toInt64 accepts the integer shapes produced by drivers and decoders.
func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint:
		if uint64(x) > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case uint64:
		if x > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case float64:
		// -2^63 is representable; 2^63 is not, and NaN fails both bounds.
		if !(x >= minInt64Float && x < maxInt64Float) || x != math.Trunc(x) {
			return 0, false
		}
		return int64(x), true
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
