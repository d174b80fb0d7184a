// Cubo - Health Records Pivot Analytics Service
// Copyright 2026 Cubo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/saludbi/cubo

package pivot

import (
	"fmt"
	"sort"

	"github.com/saludbi/cubo/internal/cache"
)

// Spec is a pivot request: group by Dimensions, aggregate Measures, keep
// rows matching every filter (any of the listed values per dimension) and
// optionally scope to a year and a period of it.
type Spec struct {
	Dimensions []string         `json:"dimensions" validate:"max=7,dive,identifier"`
	Measures   []string         `json:"measures" validate:"required,min=1,max=4,dive,identifier"`
	Filters    map[string][]any `json:"filters,omitempty" validate:"max=7"`
	Year       *int             `json:"year,omitempty" validate:"omitempty,gte=1900,lte=2200"`
	Period     string           `json:"period,omitempty" validate:"omitempty,max=8"`
}

type filter struct {
	dim    Dimension
	values []any
}

// normalized is a validated Spec in canonical order. Dimensions, measures,
// filters and filter values are sorted; the order requested by the caller
// is kept separately for projecting results.
type normalized struct {
	dims     []Dimension
	measures []Measure
	filters  []filter
	year     *int
	period   *Period

	requestedDims     []string
	requestedMeasures []string
}

// normalize validates s against the catalog. Every failure wraps
// ErrInvalidSpec.
func normalize(s Spec) (*normalized, error) {
	if len(s.Measures) == 0 {
		return nil, fmt.Errorf("%w: at least one measure is required", ErrInvalidSpec)
	}

	n := &normalized{
		requestedDims:     append([]string(nil), s.Dimensions...),
		requestedMeasures: append([]string(nil), s.Measures...),
	}

	seen := make(map[string]bool, len(s.Dimensions)+len(s.Measures))
	for _, id := range s.Dimensions {
		d, ok := dimensionIndex[id]
		if !ok {
			return nil, fmt.Errorf("%w: unknown dimension %q", ErrInvalidSpec, id)
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: dimension %q repeated", ErrInvalidSpec, id)
		}
		seen[id] = true
		n.dims = append(n.dims, d)
	}
	for _, id := range s.Measures {
		m, ok := measureIndex[id]
		if !ok {
			return nil, fmt.Errorf("%w: unknown measure %q", ErrInvalidSpec, id)
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: measure %q repeated", ErrInvalidSpec, id)
		}
		seen[id] = true
		n.measures = append(n.measures, m)
	}

	for name, raw := range s.Filters {
		d, ok := dimensionIndex[name]
		if !ok {
			return nil, fmt.Errorf("%w: filter on unknown dimension %q", ErrInvalidSpec, name)
		}
		if len(raw) == 0 {
			return nil, fmt.Errorf("%w: filter %q has no values", ErrInvalidSpec, name)
		}
		values, err := coerceAll(d, raw)
		if err != nil {
			return nil, err
		}
		n.filters = append(n.filters, filter{dim: d, values: sortUnique(values)})
	}

	if s.Year != nil {
		y := *s.Year
		n.year = &y
	}
	if s.Period != "" {
		p, ok := periodIndex[s.Period]
		if !ok {
			return nil, fmt.Errorf("%w: unknown period %q", ErrInvalidSpec, s.Period)
		}
		n.period = &p
	}

	sort.Slice(n.dims, func(i, j int) bool { return n.dims[i].ID < n.dims[j].ID })
	sort.Slice(n.measures, func(i, j int) bool { return n.measures[i].ID < n.measures[j].ID })
	sort.Slice(n.filters, func(i, j int) bool { return n.filters[i].dim.ID < n.filters[j].dim.ID })
	return n, nil
}

// sortUnique sorts coerced values (all int64 or all string) and drops
// duplicates.
func sortUnique(values []any) []any {
	sort.Slice(values, func(i, j int) bool {
		switch a := values[i].(type) {
		case int64:
			b, _ := values[j].(int64)
			return a < b
		case string:
			b, _ := values[j].(string)
			return a < b
		}
		return false
	})
	out := make([]any, 0, len(values))
	for i, v := range values {
		if i > 0 && v == values[i-1] {
			continue
		}
		out = append(out, v)
	}
	return out
}

type canonicalFilter struct {
	Dimension string `json:"d"`
	Values    []any  `json:"v"`
}

type canonicalSpec struct {
	Dimensions []string          `json:"d"`
	Measures   []string          `json:"m"`
	Filters    []canonicalFilter `json:"f,omitempty"`
	Year       *int              `json:"y,omitempty"`
	Period     string            `json:"p,omitempty"`
}

// key returns the cache key shared by every spec equal to n up to
// ordering.
func (n *normalized) key() string {
	c := canonicalSpec{
		Dimensions: make([]string, 0, len(n.dims)),
		Measures:   make([]string, 0, len(n.measures)),
		Year:       n.year,
	}
	for _, d := range n.dims {
		c.Dimensions = append(c.Dimensions, d.ID)
	}
	for _, m := range n.measures {
		c.Measures = append(c.Measures, m.ID)
	}
	for _, f := range n.filters {
		c.Filters = append(c.Filters, canonicalFilter{Dimension: f.dim.ID, Values: f.values})
	}
	if n.period != nil {
		c.Period = n.period.ID
	}
	return cache.QueryKey(c)
}

// CanonicalKey validates s and returns its cache key.
func CanonicalKey(s Spec) (string, error) {
	n, err := normalize(s)
	if err != nil {
		return "", err
	}
	return n.key(), nil
}
