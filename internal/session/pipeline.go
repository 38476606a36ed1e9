// Package session turns one raw attendance export into the clean session
// tables the upsert engine consumes: per-file cleaning, person-level
// deduplication, and the people/attendance split.
package session

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sbdcnet/attendance-reconciler/internal/normalize"
	"github.com/sbdcnet/attendance-reconciler/internal/table"
)

// exportNameRe matches attendee_{webinar_id}_YYYY_MM_DD.
var exportNameRe = regexp.MustCompile(`^attendee_(.+)_(20\d{2}_\d{2}_\d{2})$`)

// ParseExportFilename extracts the webinar id and date from an export
// filename of the form attendee_{webinar_id}_YYYY_MM_DD.csv.
func ParseExportFilename(path string) (webinarID, webinarDate string, err error) {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	m := exportNameRe.FindStringSubmatch(stem)
	if m == nil {
		return "", "", fmt.Errorf("filename %q does not match attendee_{webinar_id}_YYYY_MM_DD", stem)
	}
	return m[1], m[2], nil
}

// CleanOptions configures export cleaning. Column names default to the
// Zoom attendee export headers.
type CleanOptions struct {
	EmailColumn    string
	FirstColumn    string
	LastColumn     string
	AttendedColumn string
	ApprovalColumn string
	RawZipColumn   string
	// DropCancelled keeps only approved registrations when the approval
	// column is present.
	DropCancelled bool
}

// DefaultCleanOptions matches the Zoom export schema.
func DefaultCleanOptions() CleanOptions {
	return CleanOptions{
		EmailColumn:    "Email",
		FirstColumn:    "First Name",
		LastColumn:     "Last Name",
		AttendedColumn: "Attended",
		ApprovalColumn: "Approval Status",
		RawZipColumn:   "Zip/Postal Code",
		DropCancelled:  true,
	}
}

// CleanExport normalizes one attendance export into session form:
//
//   - non-approved registrations dropped (cancellations);
//   - email_clean / full_name / full_name_clean built in the shared
//     normalized space; webinar id and date stamped on every row;
//   - attended normalized to true/false, with the ever-attended truth
//     aggregated across reconnect rows into attended_final;
//   - one row per person key (first appearance wins);
//   - rows with missing or malformed emails split into the invalid table
//     with an invalid_reason, rows with no identity at all dropped.
func CleanExport(raw *table.Table, webinarID, webinarDate string, opts CleanOptions) (valid, invalid *table.Table, err error) {
	if err := raw.Require("attendance export", opts.EmailColumn); err != nil {
		return nil, nil, err
	}

	out := raw.Clone()
	if opts.DropCancelled && out.HasColumn(opts.ApprovalColumn) {
		out = out.Filter(func(r table.Row) bool {
			return strings.EqualFold(strings.TrimSpace(r[opts.ApprovalColumn]), "approved")
		})
		out = out.Clone()
	}

	for _, c := range []string{"webinar_id", "webinar_date", "email_clean", "full_name", "full_name_clean", "attended", "attended_final"} {
		out.AddColumn(c)
	}

	for i := 0; i < out.Len(); i++ {
		out.Set(i, "webinar_id", webinarID)
		out.Set(i, "webinar_date", webinarDate)
		out.Set(i, "email_clean", normalize.CleanEmail(out.Get(i, opts.EmailColumn)))

		full := normalize.FullName(out.Get(i, opts.FirstColumn), out.Get(i, opts.LastColumn))
		out.Set(i, "full_name", full)
		out.Set(i, "full_name_clean", normalize.CleanName(full))

		attended := "false"
		if normalize.ParseBool(out.Get(i, opts.AttendedColumn)) {
			attended = "true"
		}
		out.Set(i, "attended", attended)
	}

	// Ever-attended truth per person across reconnect rows
	everAttended := make(map[string]bool)
	for i := 0; i < out.Len(); i++ {
		key := normalize.PersonKey(out.Get(i, "email_clean"), out.Get(i, "full_name_clean"))
		if key != "" && out.Get(i, "attended") == "true" {
			everAttended[key] = true
		}
	}

	// Drop unusable rows, keep first appearance per person
	out = out.Filter(func(r table.Row) bool {
		return normalize.PersonKey(r["email_clean"], r["full_name_clean"]) != ""
	})
	out = out.DropDuplicates(func(r table.Row) string {
		return normalize.PersonKey(r["email_clean"], r["full_name_clean"])
	}, false)
	out = out.Clone()

	for i := 0; i < out.Len(); i++ {
		key := normalize.PersonKey(out.Get(i, "email_clean"), out.Get(i, "full_name_clean"))
		if everAttended[key] {
			out.Set(i, "attended_final", "true")
		} else {
			out.Set(i, "attended_final", "false")
		}
	}

	// Split rows whose email is missing or malformed for human review
	out.AddColumn("invalid_reason")
	for i := 0; i < out.Len(); i++ {
		email := out.Get(i, "email_clean")
		switch {
		case email == "":
			out.Set(i, "invalid_reason", "email_missing")
		case !normalize.ValidEmail(email):
			out.Set(i, "invalid_reason", "email_invalid_format")
		}
	}

	valid = out.Filter(func(r table.Row) bool { return r["invalid_reason"] == "" }).Clone()
	invalid = out.Filter(func(r table.Row) bool { return r["invalid_reason"] != "" }).Clone()
	return valid, invalid, nil
}

// SplitOptions lists which session columns belong to which table.
type SplitOptions struct {
	PeopleColumns     []string
	AttendanceColumns []string
}

// Split divides the matched session into the people table (one row per
// email_clean, first occurrence kept) and the attendance table (session
// grain). Missing columns fail with the exact names.
func Split(session *table.Table, opts SplitOptions) (people, attendance *table.Table, err error) {
	if err := session.Require("session", opts.PeopleColumns...); err != nil {
		return nil, nil, err
	}
	if err := session.Require("session", opts.AttendanceColumns...); err != nil {
		return nil, nil, err
	}

	attendance, err = session.Select(opts.AttendanceColumns)
	if err != nil {
		return nil, nil, err
	}

	people, err = session.Select(opts.PeopleColumns)
	if err != nil {
		return nil, nil, err
	}
	people = people.DropDuplicates(func(r table.Row) string { return r["email_clean"] }, false)
	return people, attendance, nil
}
