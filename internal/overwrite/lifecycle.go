package overwrite

import (
	"strings"

	"github.com/sbdcnet/attendance-reconciler/internal/table"
)

// Seed builds the initial overwrite file from a collision report: the
// collision rows as-is, with blank action, pending review status, and empty
// reason/notes columns placed up front for reviewers.
func Seed(collisions *table.Table) *table.Table {
	out := table.New(reviewColumns...)
	for _, c := range collisions.Columns() {
		out.AddColumn(c)
	}
	for i := 0; i < collisions.Len(); i++ {
		row := collisions.Row(i).Clone()
		if row["review_status"] == "" {
			row["review_status"] = StatusPending
		}
		out.Append(row)
	}
	return out
}

// directiveKey identifies a collision-derived overwrite row.
func directiveKey(r table.Row, nameCol, emailCol string) string {
	return r[nameCol] + "||" + r[emailCol]
}

func normalizedAction(r table.Row) string {
	return strings.ToUpper(strings.TrimSpace(r["action"]))
}

func normalizedStatus(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Update appends genuinely new collision rows to an existing overwrite file
// and refreshes the still_colliding flag on every row.
//
// Human edits are preserved untouched: existing rows are never rewritten,
// and ADD rows (human-authored, not collision-derived) are excluded from the
// dedup key set so they cannot block a real collision from being appended.
func Update(existing, collisions *table.Table) *table.Table {
	const nameCol, emailCol = "full_name_clean", "email_clean"

	seeded := Seed(collisions)

	out := table.New(existing.Columns()...)
	for _, c := range reviewColumns {
		out.AddColumn(c)
	}
	for _, c := range seeded.Columns() {
		out.AddColumn(c)
	}

	known := make(map[string]bool)
	for i := 0; i < existing.Len(); i++ {
		row := existing.Row(i).Clone()
		if row["review_status"] == "" {
			row["review_status"] = StatusPending
		}
		if normalizedAction(row) != ActionAdd {
			known[directiveKey(row, nameCol, emailCol)] = true
		}
		out.Append(row)
	}

	current := make(map[string]bool, seeded.Len())
	for i := 0; i < seeded.Len(); i++ {
		row := seeded.Row(i)
		key := directiveKey(row, nameCol, emailCol)
		current[key] = true
		if !known[key] {
			out.Append(row.Clone())
			known[key] = true
		}
	}

	out.AddColumn("still_colliding")
	for i := 0; i < out.Len(); i++ {
		still := current[directiveKey(out.Row(i), nameCol, emailCol)]
		if still {
			out.Set(i, "still_colliding", "true")
		} else {
			out.Set(i, "still_colliding", "false")
		}
	}
	return out
}

// Unreviewed returns the rows still needing human attention: action blank or
// outside the valid set. ADD rows are manual and excluded unless includeAdd.
func Unreviewed(ow *table.Table, includeAdd bool) *table.Table {
	return ow.Filter(func(r table.Row) bool {
		action := normalizedAction(r)
		needsReview := !validActions[action]
		if !includeAdd {
			needsReview = needsReview && action != ActionAdd
		}
		return needsReview
	})
}
