// Cubo - Health Records Pivot Analytics Service
// Copyright 2026 Cubo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/saludbi/cubo

package pivot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/saludbi/cubo/internal/cache"
	"github.com/saludbi/cubo/internal/database"
)

// countingQuerier records every query and answers from a canned result.
type countingQuerier struct {
	mu      sync.Mutex
	calls   int
	sqls    []string
	args    [][]any
	result  *database.ResultSet
	err     error
	timeout time.Duration
}

func (q *countingQuerier) Execute(_ context.Context, sql string, args []any, timeout time.Duration) (*database.ResultSet, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	q.sqls = append(q.sqls, sql)
	q.args = append(q.args, args)
	q.timeout = timeout
	if q.err != nil {
		return nil, q.err
	}
	return q.result, nil
}

func (q *countingQuerier) callCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}

func testOptions() Options {
	return Options{
		FactTable:     "atenciones",
		LookupTimeout: 30 * time.Second,
		PivotTimeout:  5 * time.Minute,
		TTLs:          DefaultTTLs(),
	}
}

func newTestEngine(q Querier) (*Engine, *cache.Cache) {
	c := cache.New(cache.TTLQuery, cache.WithName("pivot-test"))
	return NewEngine(q, c, testOptions()), c
}

func TestEngine_RegionCasesFor2023(t *testing.T) {
	t.Parallel()

	q := &countingQuerier{result: &database.ResultSet{
		Columns: []string{"region", "total_casos"},
		Rows: [][]any{
			{"Norte", int64(120)},
			{"Sur", int64(87)},
		},
	}}
	e, c := newTestEngine(q)
	spec := Spec{
		Dimensions: []string{"region"},
		Measures:   []string{"total_casos"},
		Filters:    map[string][]any{"anio": {float64(2023)}},
	}

	first, err := e.Execute(context.Background(), spec)
	if err != nil {
		t.Fatalf("first Execute() error = %v", err)
	}
	if q.callCount() != 1 {
		t.Fatalf("first call issued %d queries, want 1", q.callCount())
	}
	if !strings.Contains(q.sqls[0], "WHERE anio = ?") || !strings.Contains(q.sqls[0], "GROUP BY region") {
		t.Errorf("unexpected SQL: %s", q.sqls[0])
	}
	if len(q.args[0]) != 1 || q.args[0][0] != int64(2023) {
		t.Errorf("args = %v, want [2023]", q.args[0])
	}
	if q.timeout != 5*time.Minute {
		t.Errorf("timeout = %v, want the pivot timeout", q.timeout)
	}
	hitsBefore := c.Stats().Hits

	second, err := e.Execute(context.Background(), spec)
	if err != nil {
		t.Fatalf("second Execute() error = %v", err)
	}
	if q.callCount() != 1 {
		t.Errorf("second call issued %d extra queries, want 0", q.callCount()-1)
	}
	if got := c.Stats().Hits; got != hitsBefore+1 {
		t.Errorf("hits = %d, want %d", got, hitsBefore+1)
	}

	if fmt.Sprint(first.Rows) != fmt.Sprint(second.Rows) {
		t.Errorf("cached rows differ: %v vs %v", first.Rows, second.Rows)
	}
	wantCols := []Column{
		{ID: "region", Label: "Región", Kind: KindDimension},
		{ID: "total_casos", Label: "Total de casos", Kind: KindMeasure},
	}
	for i, col := range wantCols {
		if second.Columns[i] != col {
			t.Errorf("column %d = %+v, want %+v", i, second.Columns[i], col)
		}
	}
}

func TestEngine_ProjectsRequestedOrder(t *testing.T) {
	t.Parallel()

	// The warehouse answers in canonical (sorted) order.
	q := &countingQuerier{result: &database.ResultSet{
		Columns: []string{"region", "sexo", "promedio_edad", "total_casos"},
		Rows:    [][]any{{"Norte", "F", "41.5000", int64(3)}},
	}}
	e, _ := newTestEngine(q)

	res, err := e.Execute(context.Background(), Spec{
		Dimensions: []string{"sexo", "region"},
		Measures:   []string{"total_casos", "promedio_edad"},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	var ids []string
	for _, c := range res.Columns {
		ids = append(ids, c.ID)
	}
	if got := strings.Join(ids, ","); got != "sexo,region,total_casos,promedio_edad" {
		t.Errorf("columns = %s", got)
	}
	row := res.Rows[0]
	if row[0] != "F" || row[1] != "Norte" || row[2] != int64(3) || row[3] != 41.5 {
		t.Errorf("row = %v", row)
	}

	// A reordered request is served by the same entry in its own order.
	again, err := e.Execute(context.Background(), Spec{
		Dimensions: []string{"region", "sexo"},
		Measures:   []string{"promedio_edad", "total_casos"},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if q.callCount() != 1 {
		t.Errorf("reordered spec issued a new query")
	}
	if again.Rows[0][0] != "Norte" || again.Rows[0][3] != int64(3) {
		t.Errorf("reordered row = %v", again.Rows[0])
	}
	if res.Rows[0][0] != "F" {
		t.Error("projection modified an earlier result")
	}
}

func TestEngine_InvalidSpecTouchesNothing(t *testing.T) {
	t.Parallel()

	q := &countingQuerier{}
	e, c := newTestEngine(q)

	_, err := e.Execute(context.Background(), Spec{Dimensions: []string{"no_such_dim"}, Measures: []string{"total_casos"}})
	if !errors.Is(err, ErrInvalidSpec) {
		t.Fatalf("Execute() error = %v, want ErrInvalidSpec", err)
	}
	s := c.Stats()
	if q.callCount() != 0 || s.Hits != 0 || s.Misses != 0 || s.Size != 0 {
		t.Errorf("invalid spec touched cache or warehouse: calls=%d stats=%+v", q.callCount(), s)
	}
}

func TestEngine_FailuresAreNotCached(t *testing.T) {
	t.Parallel()

	q := &countingQuerier{err: fmt.Errorf("%w after 5m0s", database.ErrTimeout)}
	e, c := newTestEngine(q)
	spec := Spec{Dimensions: []string{"region"}, Measures: []string{"total_casos"}}

	_, err := e.Execute(context.Background(), spec)
	if !errors.Is(err, ErrExecutionFailed) {
		t.Fatalf("Execute() error = %v, want ErrExecutionFailed", err)
	}
	if !errors.Is(err, database.ErrTimeout) {
		t.Errorf("database cause lost: %v", err)
	}
	if c.Len() != 0 {
		t.Error("a failed execution was cached")
	}

	q.mu.Lock()
	q.err = nil
	q.result = &database.ResultSet{Columns: []string{"region", "total_casos"}, Rows: [][]any{}}
	q.mu.Unlock()

	if _, err := e.Execute(context.Background(), spec); err != nil {
		t.Fatalf("retry error = %v", err)
	}
	if q.callCount() != 2 {
		t.Errorf("calls = %d, want 2", q.callCount())
	}
}

func TestEngine_ColumnMismatch(t *testing.T) {
	t.Parallel()

	q := &countingQuerier{result: &database.ResultSet{Rows: [][]any{{"only-one"}}}}
	e, _ := newTestEngine(q)

	_, err := e.Execute(context.Background(), Spec{Dimensions: []string{"region"}, Measures: []string{"total_casos"}})
	if !errors.Is(err, ErrExecutionFailed) {
		t.Errorf("Execute() error = %v, want ErrExecutionFailed", err)
	}
}

func newTestCatalog(q Querier) (*Catalog, *cache.Cache) {
	c := cache.New(cache.TTLCatalog, cache.WithName("catalog-test"))
	return NewCatalog(q, c, testOptions()), c
}

func TestCatalog_UnknownDimension(t *testing.T) {
	t.Parallel()

	q := &countingQuerier{}
	cat, c := newTestCatalog(q)

	_, err := cat.ListDimensionValues(context.Background(), "no_such_dim", nil)
	if !errors.Is(err, ErrUnknownDimension) {
		t.Fatalf("ListDimensionValues() error = %v, want ErrUnknownDimension", err)
	}
	s := c.Stats()
	if q.callCount() != 0 || s.Hits != 0 || s.Misses != 0 || s.Size != 0 {
		t.Errorf("unknown dimension touched cache or warehouse: calls=%d stats=%+v", q.callCount(), s)
	}
}

func TestCatalog_StaticDimension(t *testing.T) {
	t.Parallel()

	q := &countingQuerier{}
	cat, c := newTestCatalog(q)

	values, err := cat.ListDimensionValues(context.Background(), "mes", map[string][]string{"region": {"Norte"}})
	if err != nil {
		t.Fatalf("ListDimensionValues() error = %v", err)
	}
	if len(values) != 12 || values[0].Label != "Enero" {
		t.Errorf("mes values = %v", values)
	}
	if q.callCount() != 0 {
		t.Error("static dimension queried the warehouse")
	}
	if _, ok := c.Get(cache.DimensionKey("mes", nil)); !ok {
		t.Error("static values should be cached under the unfiltered key")
	}
}

func TestCatalog_DynamicDimension(t *testing.T) {
	t.Parallel()

	q := &countingQuerier{result: &database.ResultSet{
		Columns: []string{"establecimiento"},
		Rows:    [][]any{{"Hospital Central"}, {"Posta Rural"}},
	}}
	cat, c := newTestCatalog(q)
	filters := map[string][]string{"region": {"Sur", "Norte"}, "anio": {"2023"}}

	values, err := cat.ListDimensionValues(context.Background(), "establecimiento", filters)
	if err != nil {
		t.Fatalf("ListDimensionValues() error = %v", err)
	}
	if len(values) != 2 || values[1].Value != "Posta Rural" || values[1].Label != "Posta Rural" {
		t.Errorf("values = %v", values)
	}
	sql := q.sqls[0]
	for _, want := range []string{"SELECT DISTINCT establecimiento FROM atenciones", "region IN (?, ?)", "anio = ?", "ORDER BY establecimiento"} {
		if !strings.Contains(sql, want) {
			t.Errorf("SQL %q lacks %q", sql, want)
		}
	}
	if q.timeout != 30*time.Second {
		t.Errorf("timeout = %v, want the lookup timeout", q.timeout)
	}

	if _, err := cat.ListDimensionValues(context.Background(), "establecimiento", map[string][]string{
		"anio": {"2023"}, "region": {"Norte", "Sur"},
	}); err != nil {
		t.Fatalf("second lookup error = %v", err)
	}
	if q.callCount() != 1 {
		t.Errorf("equivalent filters issued %d queries, want 1", q.callCount())
	}

	if n := c.DeleteByPrefix(cache.DimensionFamily("establecimiento")); n != 1 {
		t.Errorf("DeleteByPrefix removed %d, want 1", n)
	}
}

func TestCatalog_DynamicDimensionBadFilter(t *testing.T) {
	t.Parallel()

	q := &countingQuerier{}
	cat, _ := newTestCatalog(q)

	_, err := cat.ListDimensionValues(context.Background(), "region", map[string][]string{"anio": {"abc"}})
	if !errors.Is(err, ErrInvalidSpec) {
		t.Errorf("error = %v, want ErrInvalidSpec", err)
	}
	_, err = cat.ListDimensionValues(context.Background(), "region", map[string][]string{"planeta": {"x"}})
	if !errors.Is(err, ErrInvalidSpec) {
		t.Errorf("error = %v, want ErrInvalidSpec", err)
	}
	if q.callCount() != 0 {
		t.Error("invalid filters reached the warehouse")
	}
}

func TestCatalog_ListAvailableYears(t *testing.T) {
	t.Parallel()

	q := &countingQuerier{result: &database.ResultSet{
		Columns: []string{"anio"},
		Rows:    [][]any{{int32(2024)}, {int64(2023)}, {"2022"}},
	}}
	cat, _ := newTestCatalog(q)

	for i := 0; i < 2; i++ {
		years, err := cat.ListAvailableYears(context.Background())
		if err != nil {
			t.Fatalf("ListAvailableYears() error = %v", err)
		}
		if fmt.Sprint(years) != "[2024 2023 2022]" {
			t.Errorf("years = %v", years)
		}
	}
	if q.callCount() != 1 {
		t.Errorf("calls = %d, want 1", q.callCount())
	}
}

func TestCatalog_Info(t *testing.T) {
	t.Parallel()

	cat, c := newTestCatalog(&countingQuerier{})
	info := cat.Info()
	if len(info.Dimensions) != 7 || len(info.Measures) != 4 || len(info.Periods) != 6 {
		t.Errorf("info sizes = %d/%d/%d", len(info.Dimensions), len(info.Measures), len(info.Periods))
	}
	if _, ok := c.Get(cache.KeyCatalog); !ok {
		t.Error("catalog should be cached")
	}
	if d, ok := cat.Dimension("sexo"); !ok || !d.Static {
		t.Errorf("Dimension(sexo) = %+v, %v", d, ok)
	}
}

// blockingQuerier holds every query until release is closed or the query
// context ends.
type blockingQuerier struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	mu      sync.Mutex
	calls   int
	result  *database.ResultSet
}

func (q *blockingQuerier) Execute(ctx context.Context, _ string, _ []any, _ time.Duration) (*database.ResultSet, error) {
	q.mu.Lock()
	q.calls++
	q.mu.Unlock()
	q.once.Do(func() { close(q.entered) })

	select {
	case <-q.release:
		return q.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestEngine_CancelledCallerDoesNotFailSharedQuery(t *testing.T) {
	t.Parallel()

	q := &blockingQuerier{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		result: &database.ResultSet{
			Columns: []string{"region", "total_casos"},
			Rows:    [][]any{{"Norte", int64(7)}},
		},
	}
	eng, _ := newTestEngine(q)
	spec := Spec{Dimensions: []string{"region"}, Measures: []string{"total_casos"}}

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := eng.Execute(ctxA, spec)
		errA <- err
	}()
	<-q.entered

	type outcome struct {
		res *Result
		err error
	}
	outB := make(chan outcome, 1)
	go func() {
		res, err := eng.Execute(context.Background(), spec)
		outB <- outcome{res, err}
	}()

	cancelA()
	select {
	case err := <-errA:
		if !errors.Is(err, ErrExecutionFailed) || !errors.Is(err, context.Canceled) {
			t.Errorf("cancelled caller error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(q.release)
	select {
	case o := <-outB:
		if o.err != nil {
			t.Fatalf("second caller error = %v", o.err)
		}
		if len(o.res.Rows) != 1 || o.res.Rows[0][0] != "Norte" {
			t.Errorf("rows = %v", o.res.Rows)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second caller did not return")
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.calls != 1 {
		t.Errorf("warehouse saw %d queries, want 1", q.calls)
	}
}

func TestCatalog_FilterValuesKeyedByConvertedValue(t *testing.T) {
	t.Parallel()

	q := &countingQuerier{result: &database.ResultSet{
		Columns: []string{"region"},
		Rows:    [][]any{{"Sur"}},
	}}
	cat, c := newTestCatalog(q)

	for _, year := range []string{"2023", "02023", "+2023"} {
		if _, err := cat.ListDimensionValues(context.Background(), "region", map[string][]string{"anio": {year}}); err != nil {
			t.Fatalf("anio=%s: error = %v", year, err)
		}
	}
	if q.callCount() != 1 {
		t.Errorf("equal years issued %d queries, want 1", q.callCount())
	}
	if _, ok := c.Get(cache.DimensionKey("region", map[string][]string{"anio": {"2023"}})); !ok {
		t.Error("entry should be stored under the converted value")
	}
}

func TestToInt64(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		in     any
		want   int64
		wantOK bool
	}{
		{"int", 2023, 2023, true},
		{"int32", int32(-5), -5, true},
		{"uint64 max int64", uint64(math.MaxInt64), math.MaxInt64, true},
		{"uint64 overflow", uint64(math.MaxInt64) + 1, 0, false},
		{"uint64 max", uint64(math.MaxUint64), 0, false},
		{"float whole", 2023.0, 2023, true},
		{"float fraction", 2023.5, 0, false},
		{"float min int64", float64(math.MinInt64), math.MinInt64, true},
		{"float 2^63", math.Pow(2, 63), 0, false},
		{"float huge", 1e300, 0, false},
		{"float -huge", -1e300, 0, false},
		{"float NaN", math.NaN(), 0, false},
		{"float +Inf", math.Inf(1), 0, false},
		{"string", "02023", 2023, true},
		{"string overflow", "9223372036854775808", 0, false},
		{"string text", "abc", 0, false},
		{"bool", true, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := toInt64(tt.in)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("toInt64(%v) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
