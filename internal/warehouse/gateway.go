// Package warehouse loads staged inventory rows into the star schema:
// staging table, product/location/lot dimensions and the snapshot fact.
package warehouse

import (
	"context"
	"fmt"
)

// Gateway is the storage contract the loaders need. Backend failures must
// come back as errors; zero rows affected is not an error.
type Gateway interface {
	Insert(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)
	Exec(ctx context.Context, statement string, args ...any) (int64, error)
	Query(ctx context.Context, statement string, args ...any) (*ResultSet, error)
	Delete(ctx context.Context, table string, filter map[string]any) (int64, error)
	ExecScript(ctx context.Context, script string) error
}

// ResultSet holds the rows of a query in column order.
type ResultSet struct {
	Columns []string
	Rows    [][]any
}

// Maps returns each row keyed by column name.
func (r *ResultSet) Maps() []map[string]any {
	out := make([]map[string]any, 0, len(r.Rows))
	for _, row := range r.Rows {
		m := make(map[string]any, len(r.Columns))
		for i, c := range r.Columns {
			if i < len(row) {
				m[c] = row[i]
			}
		}
		out = append(out, m)
	}
	return out
}

// Table writes records of type T to one table in bounded batches.
type Table[T any] struct {
	Name      string
	Columns   []string
	BatchSize int
	Values    func(T) []any
}

// InsertAll inserts records, calling onBatch after each successful batch.
// It returns the number of rows the gateway reported as inserted.
func (t Table[T]) InsertAll(ctx context.Context, gw Gateway, records []T, onBatch func(n int, inserted int64)) (int, error) {
	size := t.BatchSize
	if size <= 0 {
		size = len(records)
	}

	total := 0
	for start, n := 0, 1; start < len(records); start, n = start+size, n+1 {
		end := start + size
		if end > len(records) {
			end = len(records)
		}

		rows := make([][]any, 0, end-start)
		for _, rec := range records[start:end] {
			rows = append(rows, t.Values(rec))
		}

		inserted, err := gw.Insert(ctx, t.Name, t.Columns, rows)
		if err != nil {
			return total, fmt.Errorf("insert batch %d into %s: %w", n, t.Name, err)
		}
		total += int(inserted)
		if onBatch != nil {
			onBatch(n, inserted)
		}
	}
	return total, nil
}
