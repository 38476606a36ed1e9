// Package master merges session tables into the cumulative master tables.
// Both upserts are idempotent: applying the same session twice yields the
// same master as applying it once.
package master

import (
	"strings"

	"github.com/sbdcnet/attendance-reconciler/internal/normalize"
	"github.com/sbdcnet/attendance-reconciler/internal/table"
)

// AttendanceKey is the composite natural key of one attendance event:
// email || webinar id || normalized webinar date. Date normalization keeps
// YYYY_MM_DD and YYYY-MM-DD spellings of the same session on one key.
func AttendanceKey(r table.Row) string {
	return strings.TrimSpace(r["email_clean"]) + "||" +
		strings.TrimSpace(r["webinar_id"]) + "||" +
		normalize.CanonicalDate(r["webinar_date"])
}

// UpsertAttendance merges a session's attendance rows into the master.
// The session copy wins on key conflicts, so re-running an already-ingested
// file overwrites its own prior contribution instead of duplicating it.
// Output is sorted by key for deterministic snapshots.
func UpsertAttendance(session, master *table.Table) *table.Table {
	combined := table.New(master.Columns()...)
	for _, c := range session.Columns() {
		combined.AddColumn(c)
	}
	for i := 0; i < master.Len(); i++ {
		combined.Append(master.Row(i).Clone())
	}
	for i := 0; i < session.Len(); i++ {
		combined.Append(session.Row(i).Clone())
	}

	out := combined.DropDuplicates(AttendanceKey, true)
	out.SortBy(func(a, b table.Row) bool { return AttendanceKey(a) < AttendanceKey(b) })
	return out
}

// MatchStrength ranks match sources by confidence. Higher is stronger; a
// later session may only replace roster-sourced fields when it matched at a
// strictly stronger tier.
func MatchStrength(source string) int {
	switch strings.ToLower(strings.TrimSpace(source)) {
	case "email":
		return 3
	case "name_zip":
		return 2
	case "name":
		return 1
	default:
		return 0
	}
}

// PeopleOptions identifies the roster-linkage columns inside the people
// schema and how tier strength is ranked.
type PeopleOptions struct {
	// RosterPrefix marks roster-sourced columns (e.g. "roster_").
	RosterPrefix string
	// ClientColumn and MatchSourceColumn are roster-linkage columns
	// regardless of prefix.
	ClientColumn      string
	MatchSourceColumn string
	// Strength ranks MatchSourceColumn values; nil uses MatchStrength.
	Strength func(source string) int
}

// DefaultPeopleOptions matches the session pipeline's column naming.
func DefaultPeopleOptions() PeopleOptions {
	return PeopleOptions{
		RosterPrefix:      "roster_",
		ClientColumn:      "is_client",
		MatchSourceColumn: "match_source",
	}
}

func (o PeopleOptions) isRosterColumn(col string) bool {
	if o.RosterPrefix != "" && strings.HasPrefix(col, o.RosterPrefix) {
		return true
	}
	return col == o.ClientColumn || col == o.MatchSourceColumn
}

// UpsertPeople outer-joins the session's people rows into the master by
// email_clean with field-level merge rules:
//
//   - general fields: fill only when the master value is missing; a
//     populated master field is never replaced;
//   - roster-linkage fields: take the session value when the master value is
//     missing, the session matched at a strictly stronger tier, or the
//     client flag flips false→true.
//
// The output has exactly one row per email present in either input, master
// rows first in master order, then new session emails in session order.
func UpsertPeople(session, master *table.Table, opts PeopleOptions) (*table.Table, error) {
	const key = "email_clean"
	if session.Len() > 0 {
		if err := session.Require("people session", key); err != nil {
			return nil, err
		}
	}

	strength := opts.Strength
	if strength == nil {
		strength = MatchStrength
	}

	// Column union: master order first, session additions after
	out := table.New(master.Columns()...)
	for _, c := range session.Columns() {
		out.AddColumn(c)
	}
	out.AddColumn(key)

	sessionByEmail := make(map[string]table.Row, session.Len())
	var sessionOrder []string
	for i := 0; i < session.Len(); i++ {
		email := session.Get(i, key)
		if email == "" {
			continue
		}
		if _, dup := sessionByEmail[email]; !dup {
			sessionOrder = append(sessionOrder, email)
			sessionByEmail[email] = session.Row(i)
		}
	}

	cols := out.Columns()
	inMaster := make(map[string]bool, master.Len())

	mergeRow := func(m, s table.Row) table.Row {
		row := make(table.Row, len(cols))
		if v := m[key]; v != "" {
			row[key] = v
		} else {
			row[key] = s[key]
		}

		takeRoster := false
		if s != nil {
			stronger := strength(s[opts.MatchSourceColumn]) > strength(m[opts.MatchSourceColumn])
			clientFlip := !normalize.ParseBool(m[opts.ClientColumn]) && normalize.ParseBool(s[opts.ClientColumn])
			takeRoster = stronger || clientFlip
		}

		for _, c := range cols {
			if c == key {
				continue
			}
			mv, sv := m[c], s[c]
			take := false
			if opts.isRosterColumn(c) {
				take = sv != "" && (mv == "" || takeRoster)
			} else {
				take = mv == "" && sv != ""
			}
			if take {
				row[c] = sv
			} else if mv != "" {
				row[c] = mv
			}
		}
		return row
	}

	for i := 0; i < master.Len(); i++ {
		m := master.Row(i)
		email := m[key]
		inMaster[email] = true
		out.Append(mergeRow(m, sessionByEmail[email]))
	}
	for _, email := range sessionOrder {
		if !inMaster[email] {
			out.Append(mergeRow(table.Row{}, sessionByEmail[email]))
		}
	}
	return out, nil
}

// FindEnriched returns the keys present in both snapshots that gained at
// least one previously-missing value. Feeds the run summary's
// people_enriched count.
func FindEnriched(before, after *table.Table, key string) []string {
	if before.Len() == 0 || after.Len() == 0 {
		return nil
	}
	shared := sharedColumns(before, after, key)

	beforeByKey := indexByKey(before, key)
	var enriched []string
	seen := make(map[string]bool)
	for i := 0; i < after.Len(); i++ {
		k := after.Get(i, key)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		b, ok := beforeByKey[k]
		if !ok {
			continue
		}
		for _, c := range shared {
			if strings.TrimSpace(b[c]) == "" && strings.TrimSpace(after.Get(i, c)) != "" {
				enriched = append(enriched, k)
				break
			}
		}
	}
	return enriched
}

func sharedColumns(a, b *table.Table, exclude string) []string {
	var out []string
	for _, c := range a.Columns() {
		if c != exclude && b.HasColumn(c) {
			out = append(out, c)
		}
	}
	return out
}

func indexByKey(t *table.Table, key string) map[string]table.Row {
	idx := make(map[string]table.Row, t.Len())
	for i := 0; i < t.Len(); i++ {
		k := t.Get(i, key)
		if k == "" {
			continue
		}
		if _, dup := idx[k]; !dup {
			idx[k] = t.Row(i)
		}
	}
	return idx
}
