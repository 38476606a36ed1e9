package overwrite

import (
	"sort"

	"github.com/sbdcnet/attendance-reconciler/internal/table"
)

// ApplyOptions configures the apply phase.
type ApplyOptions struct {
	// RequireApproved gates directives on review_status == approved.
	RequireApproved bool
	EmailColumn     string
	ActionColumn    string
	ReviewColumn    string
}

// DefaultApplyOptions gates on approval, as production runs should.
func DefaultApplyOptions() ApplyOptions {
	return ApplyOptions{
		RequireApproved: true,
		EmailColumn:     "email_clean",
		ActionColumn:    "action",
		ReviewColumn:    "review_status",
	}
}

// ApplyResult reports what the apply phase did.
type ApplyResult struct {
	RemovedEmails []string
	KeptEmails    []string
	RemovedRows   int
	AddedRows     int
	FinalRows     int
}

// resolveDirectives validates the overwrite file and computes the removal
// and keep sets. KEEP always wins over REMOVE for the same email.
func resolveDirectives(ow *table.Table, opts ApplyOptions) (gated *table.Table, toRemove, toKeep map[string]bool, err error) {
	if !ow.HasColumn(opts.ActionColumn) {
		return nil, nil, nil, &ConfigurationError{Msg: "overwrite file missing action column " + opts.ActionColumn}
	}
	gated = ow
	if opts.RequireApproved {
		if !ow.HasColumn(opts.ReviewColumn) {
			return nil, nil, nil, &ConfigurationError{Msg: "overwrite file missing review column " + opts.ReviewColumn + " (approval gating requested)"}
		}
		gated = ow.Filter(func(r table.Row) bool {
			return normalizedStatus(r[opts.ReviewColumn]) == StatusApproved
		})
	}

	var invalid []string
	seenInvalid := make(map[string]bool)
	toRemove, toKeep = make(map[string]bool), make(map[string]bool)
	for i := 0; i < gated.Len(); i++ {
		r := gated.Row(i)
		action := normalizedAction(r)
		email := r[opts.EmailColumn]
		switch action {
		case "":
			// blank = not yet decided, skip
		case ActionKeep:
			if email != "" {
				toKeep[email] = true
			}
		case ActionRemove:
			if email != "" {
				toRemove[email] = true
			}
		case ActionAdd:
			// handled by the caller
		default:
			if !seenInvalid[action] {
				seenInvalid[action] = true
				invalid = append(invalid, action)
			}
		}
	}
	if len(invalid) > 0 {
		sort.Strings(invalid)
		return nil, nil, nil, &InvalidActionError{Actions: invalid}
	}

	for email := range toKeep {
		delete(toRemove, email)
	}
	return gated, toRemove, toKeep, nil
}

// ApplyPeople builds people-final from the people master plus approved
// directives: REMOVE rows drop (unless also KEPT), ADD rows append aligned
// to the master schema and must carry a non-empty email.
func ApplyPeople(master, ow *table.Table, opts ApplyOptions) (*table.Table, *ApplyResult, error) {
	if err := master.Require("people master", opts.EmailColumn); err != nil {
		return nil, nil, err
	}
	gated, toRemove, toKeep, err := resolveDirectives(ow, opts)
	if err != nil {
		return nil, nil, err
	}

	final := master.Filter(func(r table.Row) bool { return !toRemove[r[opts.EmailColumn]] })
	final = final.Clone()
	removed := master.Len() - final.Len()

	added := 0
	for i := 0; i < gated.Len(); i++ {
		r := gated.Row(i)
		if normalizedAction(r) != ActionAdd {
			continue
		}
		if r[opts.EmailColumn] == "" {
			continue
		}
		final.AppendAligned(r)
		added++
	}

	return final, &ApplyResult{
		RemovedEmails: sortedKeys(toRemove),
		KeptEmails:    sortedKeys(toKeep),
		RemovedRows:   removed,
		AddedRows:     added,
		FinalRows:     final.Len(),
	}, nil
}

// ApplyAttendance builds attendance-final by cascading person-level REMOVE
// directives: every attendance row for a removed email drops. KEEP wins
// over REMOVE here too.
func ApplyAttendance(attendanceMaster, ow *table.Table, opts ApplyOptions) (*table.Table, *ApplyResult, error) {
	if err := attendanceMaster.Require("attendance master", opts.EmailColumn); err != nil {
		return nil, nil, err
	}
	_, toRemove, toKeep, err := resolveDirectives(ow, opts)
	if err != nil {
		return nil, nil, err
	}

	final := attendanceMaster.Filter(func(r table.Row) bool { return !toRemove[r[opts.EmailColumn]] })
	final = final.Clone()

	return final, &ApplyResult{
		RemovedEmails: sortedKeys(toRemove),
		KeptEmails:    sortedKeys(toKeep),
		RemovedRows:   attendanceMaster.Len() - final.Len(),
		FinalRows:     final.Len(),
	}, nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
