// Package report builds the per-center attendee reports: the latest
// attendance row per person over a date window, joined with the people
// master and split by final center assignment.
package report

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sbdcnet/attendance-reconciler/internal/normalize"
	"github.com/sbdcnet/attendance-reconciler/internal/table"
)

// Center assignment sources, recorded next to final_center.
const (
	SourceClient      = "client"
	SourceZipInferred = "zip_inferred"
	SourceUnknown     = "unknown"
)

// UnknownCenter groups rows with no resolvable center.
const UnknownCenter = "__UNKNOWN__"

// Options configures the center split.
type Options struct {
	DateColumn     string
	AttendedColumn string
	KeyColumn      string
	// ClientColumn plus the two center columns drive final_center:
	// clients take ClientCenterColumn, everyone else AssignedCenterColumn.
	ClientColumn         string
	ClientCenterColumn   string
	AssignedCenterColumn string

	// IncludeDates limits the window to exact dates (YYYY-MM-DD); when
	// empty, DateRange applies; when both are empty, all dates pass.
	IncludeDates []string
	RangeStart   string
	RangeEnd     string
}

// DefaultOptions matches the master schemas.
func DefaultOptions() Options {
	return Options{
		DateColumn:           "webinar_date",
		AttendedColumn:       "attended_final",
		KeyColumn:            "email_clean",
		ClientColumn:         "is_client",
		ClientCenterColumn:   "center_abbr",
		AssignedCenterColumn: "assigned_center_abbr",
	}
}

func parseDate(s string) (time.Time, bool) {
	canon := normalize.CanonicalDate(s)
	if canon == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", canon)
	return t, err == nil
}

// FilterAttendance keeps attended rows inside the configured date window.
// Rows with unparseable dates are excluded, not fatal; the report is a
// selection, not a reconciliation step.
func FilterAttendance(attendance *table.Table, opts Options) (*table.Table, error) {
	if err := attendance.Require("attendance", opts.DateColumn, opts.AttendedColumn); err != nil {
		return nil, err
	}

	include := make(map[string]bool, len(opts.IncludeDates))
	for _, d := range opts.IncludeDates {
		if t, ok := parseDate(d); ok {
			include[t.Format("2006-01-02")] = true
		}
	}
	var start, end time.Time
	var hasRange bool
	if len(include) == 0 && opts.RangeStart != "" && opts.RangeEnd != "" {
		s, ok1 := parseDate(opts.RangeStart)
		e, ok2 := parseDate(opts.RangeEnd)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("unparseable report date range %q..%q", opts.RangeStart, opts.RangeEnd)
		}
		start, end, hasRange = s, e, true
	}

	return attendance.Filter(func(r table.Row) bool {
		if !normalize.ParseBool(r[opts.AttendedColumn]) {
			return false
		}
		t, ok := parseDate(r[opts.DateColumn])
		if !ok {
			return false
		}
		switch {
		case len(include) > 0:
			return include[t.Format("2006-01-02")]
		case hasRange:
			return !t.Before(start) && !t.After(end)
		default:
			return true
		}
	}).Clone(), nil
}

// LatestPerPerson keeps the row with the latest webinar date per key.
// Same-date ties keep the earlier row.
func LatestPerPerson(attendance *table.Table, opts Options) (*table.Table, error) {
	if err := attendance.Require("attendance", opts.KeyColumn, opts.DateColumn); err != nil {
		return nil, err
	}
	out := attendance.Clone()
	out.SortBy(func(a, b table.Row) bool {
		if a[opts.KeyColumn] != b[opts.KeyColumn] {
			return a[opts.KeyColumn] < b[opts.KeyColumn]
		}
		at, _ := parseDate(a[opts.DateColumn])
		bt, _ := parseDate(b[opts.DateColumn])
		return at.After(bt)
	})
	return out.DropDuplicates(func(r table.Row) string { return r[opts.KeyColumn] }, false), nil
}

// MergePeople left-joins people master fields onto the attendance rows by
// key. Attendance values win on column name clashes.
func MergePeople(attendance, people *table.Table, opts Options) (*table.Table, error) {
	if err := attendance.Require("attendance", opts.KeyColumn); err != nil {
		return nil, err
	}
	if err := people.Require("people", opts.KeyColumn); err != nil {
		return nil, err
	}

	byKey := make(map[string]table.Row, people.Len())
	for i := 0; i < people.Len(); i++ {
		k := people.Get(i, opts.KeyColumn)
		if k == "" {
			continue
		}
		if _, dup := byKey[k]; !dup {
			byKey[k] = people.Row(i)
		}
	}

	out := table.New(attendance.Columns()...)
	for _, c := range people.Columns() {
		out.AddColumn(c)
	}
	for i := 0; i < attendance.Len(); i++ {
		row := make(table.Row)
		if p := byKey[attendance.Get(i, opts.KeyColumn)]; p != nil {
			for c, v := range p {
				row[c] = v
			}
		}
		for c, v := range attendance.Row(i) {
			if v != "" {
				row[c] = v
			}
		}
		out.Append(row)
	}
	return out, nil
}

// AddFinalCenter computes final_center and center_source per row: clients
// take their roster center, non-clients the zip-assigned one, anything else
// is unknown.
func AddFinalCenter(t *table.Table, opts Options) *table.Table {
	out := t.Clone()
	out.AddColumn("final_center")
	out.AddColumn("center_source")
	for i := 0; i < out.Len(); i++ {
		isClient := normalize.ParseBool(out.Get(i, opts.ClientColumn))
		clientCenter := out.Get(i, opts.ClientCenterColumn)
		assigned := out.Get(i, opts.AssignedCenterColumn)
		switch {
		case isClient && clientCenter != "":
			out.Set(i, "final_center", clientCenter)
			out.Set(i, "center_source", SourceClient)
		case !isClient && assigned != "":
			out.Set(i, "final_center", assigned)
			out.Set(i, "center_source", SourceZipInferred)
		default:
			out.Set(i, "center_source", SourceUnknown)
		}
	}
	return out
}

// SplitByCenter groups rows by final_center, blanks under UnknownCenter.
// The returned names are sorted.
func SplitByCenter(t *table.Table) (names []string, groups map[string]*table.Table) {
	groups = make(map[string]*table.Table)
	for i := 0; i < t.Len(); i++ {
		center := t.Get(i, "final_center")
		if center == "" {
			center = UnknownCenter
		}
		g := groups[center]
		if g == nil {
			g = table.New(t.Columns()...)
			groups[center] = g
			names = append(names, center)
		}
		g.Append(t.Row(i).Clone())
	}
	sort.Strings(names)
	return names, groups
}

// Build runs the whole center report: filter, latest-per-person, people
// merge, final center, split, write one CSV per center. Returns the written
// paths in center order.
func Build(attendance, people *table.Table, outputDir, prefix string, opts Options) ([]string, error) {
	filtered, err := FilterAttendance(attendance, opts)
	if err != nil {
		return nil, err
	}
	latest, err := LatestPerPerson(filtered, opts)
	if err != nil {
		return nil, err
	}
	merged, err := MergePeople(latest, people, opts)
	if err != nil {
		return nil, err
	}
	final := AddFinalCenter(merged, opts)

	names, groups := SplitByCenter(final)
	paths := make([]string, 0, len(names))
	for _, name := range names {
		safe := strings.TrimSpace(strings.NewReplacer("/", "-", "\\", "-").Replace(name))
		path := filepath.Join(outputDir, prefix+"_"+safe+".csv")
		if err := groups[name].WriteCSVFile(path); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
