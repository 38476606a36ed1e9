// Package roster prepares the external CRM client list and builds the
// deduplicated lookup tables the matcher consumes.
package roster

import (
	"fmt"

	"github.com/sbdcnet/attendance-reconciler/internal/normalize"
	"github.com/sbdcnet/attendance-reconciler/internal/table"
)

// BuildLookup builds a lookup table keyed by keyCol with exactly one row per
// key.
//
// Collision resolution: a key appearing once is kept as-is; a key appearing
// multiple times keeps the row with the most recent recencyCol date.
// Unparseable or blank dates sort last, and ties resolve to the earliest
// original row, so resolution is deterministic across runs.
//
// The output carries only keyCol + keepCols (keyCol is removed from keepCols
// to prevent duplicate labels).
func BuildLookup(roster *table.Table, keyCol string, keepCols []string, recencyCol string) (*table.Table, error) {
	if !roster.HasColumn(keyCol) {
		return nil, &table.MissingColumnError{Table: "roster", Columns: []string{keyCol}}
	}

	cols := make([]string, 0, len(keepCols)+1)
	cols = append(cols, keyCol)
	for _, c := range keepCols {
		if c != keyCol {
			cols = append(cols, c)
		}
	}

	// best row index per key, first-seen key order preserved
	type candidate struct {
		idx     int
		hasDate bool
		date    int64
	}
	best := make(map[string]candidate)
	var order []string

	for i := 0; i < roster.Len(); i++ {
		key := roster.Get(i, keyCol)
		if key == "" {
			continue
		}
		c := candidate{idx: i}
		if recencyCol != "" {
			if ts, ok := normalize.ParseTimestamp(roster.Get(i, recencyCol)); ok {
				c.hasDate = true
				c.date = ts.Unix()
			}
		}
		prev, seen := best[key]
		if !seen {
			order = append(order, key)
			best[key] = c
			continue
		}
		// later row wins only with a strictly more recent date
		if c.hasDate && (!prev.hasDate || c.date > prev.date) {
			best[key] = c
		}
	}

	out := table.New(cols...)
	for _, key := range order {
		src := roster.Row(best[key].idx)
		row := make(table.Row, len(cols))
		for _, c := range cols {
			if v := src[c]; v != "" {
				row[c] = v
			}
		}
		out.Append(row)
	}

	if got := out.Len(); got != len(order) {
		return nil, fmt.Errorf("lookup invariant broken: %d keys, %d rows", len(order), got)
	}
	return out, nil
}
