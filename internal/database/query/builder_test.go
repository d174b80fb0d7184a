// Cubo - Health Records Pivot Analytics Service
// Copyright 2026 Cubo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/saludbi/cubo

package query

import (
	"testing"
)

func TestWhereBuilder_Empty(t *testing.T) {
	wb := NewWhereBuilder()

	if !wb.IsEmpty() {
		t.Error("Expected new builder to be empty")
	}
	where, args := wb.Build()
	if where != "1=1" {
		t.Errorf("Expected '1=1' for empty builder, got %q", where)
	}
	if len(args) != 0 {
		t.Errorf("Expected 0 args, got %d", len(args))
	}
}

func TestWhereBuilder_AddIn(t *testing.T) {
	tests := []struct {
		name      string
		values    []any
		wantWhere string
		wantArgs  int
	}{
		{"empty skipped", nil, "1=1", 0},
		{"single collapses to equals", []any{2023}, "anio = ?", 1},
		{"many", []any{1, 2, 3}, "anio IN (?, ?, ?)", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wb := NewWhereBuilder().AddIn("anio", tt.values)
			where, args := wb.Build()
			if where != tt.wantWhere {
				t.Errorf("where = %q, want %q", where, tt.wantWhere)
			}
			if len(args) != tt.wantArgs {
				t.Errorf("len(args) = %d, want %d", len(args), tt.wantArgs)
			}
		})
	}
}

func TestWhereBuilder_Chained(t *testing.T) {
	wb := NewWhereBuilder().
		AddEquals("anio", 2023).
		AddBetween("mes", 1, 3).
		AddIn("region", []any{"norte", "sur"})

	where, args := wb.BuildWithPrefix()
	want := "WHERE anio = ? AND mes BETWEEN ? AND ? AND region IN (?, ?)"
	if where != want {
		t.Errorf("where = %q, want %q", where, want)
	}
	if len(args) != 5 || args[0] != 2023 || args[4] != "sur" {
		t.Errorf("args = %v", args)
	}
	if wb.Count() != 3 {
		t.Errorf("Count() = %d, want 3", wb.Count())
	}
}

func TestWhereBuilder_ValuesNeverInterpolated(t *testing.T) {
	hostile := "x' OR '1'='1"
	where, args := NewWhereBuilder().AddIn("region", []any{hostile, "y"}).Build()
	if where != "region IN (?, ?)" {
		t.Errorf("where = %q", where)
	}
	if args[0] != hostile {
		t.Errorf("value should be passed as an argument, got %v", args[0])
	}
}

func TestPlaceholders(t *testing.T) {
	cases := map[int]string{0: "", 1: "?", 3: "?, ?, ?"}
	for n, want := range cases {
		if got := Placeholders(n); got != want {
			t.Errorf("Placeholders(%d) = %q, want %q", n, got, want)
		}
	}
}
