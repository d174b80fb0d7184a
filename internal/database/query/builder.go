// Cubo - Health Records Pivot Analytics Service
// Copyright 2026 Cubo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/saludbi/cubo

// Package query builds parameterized SQL fragments. Column names passed to
// the builders must come from a trusted catalog; values are always bound
// as "?" placeholders, never interpolated.
package query

import (
	"strings"
)

// WhereBuilder constructs SQL WHERE clauses with positional arguments.
//
//	wb := query.NewWhereBuilder()
//	wb.AddEquals("anio", 2023)
//	wb.AddIn("region", []any{1, 2})
//	where, args := wb.Build()
//	// anio = ? AND region IN (?, ?)
type WhereBuilder struct {
	clauses []string
	args    []any
}

// NewWhereBuilder creates an empty WhereBuilder.
func NewWhereBuilder() *WhereBuilder {
	return &WhereBuilder{}
}

// AddClause adds a raw condition with its arguments.
func (wb *WhereBuilder) AddClause(clause string, args ...any) *WhereBuilder {
	wb.clauses = append(wb.clauses, clause)
	wb.args = append(wb.args, args...)
	return wb
}

// AddEquals adds "column = ?".
func (wb *WhereBuilder) AddEquals(column string, value any) *WhereBuilder {
	return wb.AddClause(column+" = ?", value)
}

// AddIn adds "column IN (?, ...)". A single value collapses to AddEquals;
// an empty slice is skipped.
func (wb *WhereBuilder) AddIn(column string, values []any) *WhereBuilder {
	switch len(values) {
	case 0:
		return wb
	case 1:
		return wb.AddEquals(column, values[0])
	}
	wb.clauses = append(wb.clauses, column+" IN ("+Placeholders(len(values))+")")
	wb.args = append(wb.args, values...)
	return wb
}

// AddBetween adds "column BETWEEN ? AND ?".
func (wb *WhereBuilder) AddBetween(column string, low, high any) *WhereBuilder {
	return wb.AddClause(column+" BETWEEN ? AND ?", low, high)
}

// Build returns the clauses joined with AND, or "1=1" when empty.
func (wb *WhereBuilder) Build() (string, []any) {
	if len(wb.clauses) == 0 {
		return "1=1", []any{}
	}
	return strings.Join(wb.clauses, " AND "), wb.args
}

// BuildWithPrefix returns Build prefixed with "WHERE ".
func (wb *WhereBuilder) BuildWithPrefix() (string, []any) {
	where, args := wb.Build()
	return "WHERE " + where, args
}

// Count returns the number of clauses added.
func (wb *WhereBuilder) Count() int {
	return len(wb.clauses)
}

// IsEmpty reports whether no clause has been added.
func (wb *WhereBuilder) IsEmpty() bool {
	return len(wb.clauses) == 0
}

// Placeholders returns n comma-separated "?" markers.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
