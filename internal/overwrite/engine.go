// Package overwrite detects ambiguous identities in the people master and
// applies human-reviewed correction directives to produce the final tables.
//
// The overwrite file is a persisted, human-edited side table. Each run seeds
// or updates it from the latest collision report; humans fill in action and
// review_status between runs; the apply phase consumes only approved
// directives.
package overwrite

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sbdcnet/attendance-reconciler/internal/table"
)

// Directive actions a reviewer may set.
const (
	ActionKeep   = "KEEP"
	ActionRemove = "REMOVE"
	ActionAdd    = "ADD"
)

// Review states of an overwrite row.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

var validActions = map[string]bool{ActionKeep: true, ActionRemove: true, ActionAdd: true}

// reviewColumns lead the overwrite file so reviewers see them first.
var reviewColumns = []string{"action", "review_status", "reason", "notes"}

// ConfigurationError reports overwrite columns required for approval gating
// that are absent from the file.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string { return e.Msg }

// InvalidActionError lists action values outside {KEEP, REMOVE, ADD}.
type InvalidActionError struct {
	Actions []string
}

func (e *InvalidActionError) Error() string {
	return fmt.Sprintf("invalid actions in overwrite file: %s", strings.Join(e.Actions, ", "))
}

// CollisionPolicy selects how a name counts as colliding.
type CollisionPolicy int

const (
	// PolicyDistinctEmails flags names mapped to at least MinDistinctEmails
	// distinct non-null emails, the genuine identity ambiguity.
	PolicyDistinctEmails CollisionPolicy = iota
	// PolicyRepeatCount flags names that simply repeat at least MinCount
	// times, the coarser triage signal.
	PolicyRepeatCount
)

// CollisionOptions configures detection. Zero-value thresholds default to 2.
type CollisionOptions struct {
	Policy            CollisionPolicy
	MinDistinctEmails int
	MinCount          int
	NameColumn        string
	EmailColumn       string
}

func (o *CollisionOptions) setDefaults() {
	if o.MinDistinctEmails <= 0 {
		o.MinDistinctEmails = 2
	}
	if o.MinCount <= 0 {
		o.MinCount = 2
	}
	if o.NameColumn == "" {
		o.NameColumn = "full_name_clean"
	}
	if o.EmailColumn == "" {
		o.EmailColumn = "email_clean"
	}
}

// FindNameCollisions returns the colliding names and the subset of people
// rows belonging to them, annotated with name_count and
// distinct_email_count and sorted by severity descending, then name.
func FindNameCollisions(people *table.Table, opts CollisionOptions) ([]string, *table.Table, error) {
	opts.setDefaults()
	if err := people.Require("people", opts.NameColumn, opts.EmailColumn); err != nil {
		return nil, nil, err
	}

	nameCount := make(map[string]int)
	emailsByName := make(map[string]map[string]bool)
	for i := 0; i < people.Len(); i++ {
		name := people.Get(i, opts.NameColumn)
		if name == "" {
			continue
		}
		nameCount[name]++
		email := people.Get(i, opts.EmailColumn)
		if email == "" {
			continue
		}
		if emailsByName[name] == nil {
			emailsByName[name] = make(map[string]bool)
		}
		emailsByName[name][email] = true
	}

	colliding := make(map[string]bool)
	for name := range nameCount {
		switch opts.Policy {
		case PolicyDistinctEmails:
			if len(emailsByName[name]) >= opts.MinDistinctEmails {
				colliding[name] = true
			}
		case PolicyRepeatCount:
			if nameCount[name] >= opts.MinCount {
				colliding[name] = true
			}
		}
	}

	names := make([]string, 0, len(colliding))
	for name := range colliding {
		names = append(names, name)
	}
	sort.Strings(names)

	out := people.Filter(func(r table.Row) bool { return colliding[r[opts.NameColumn]] })
	out = out.Clone()
	out.AddColumn("name_count")
	out.AddColumn("distinct_email_count")
	for i := 0; i < out.Len(); i++ {
		name := out.Get(i, opts.NameColumn)
		out.Set(i, "name_count", fmt.Sprintf("%d", nameCount[name]))
		out.Set(i, "distinct_email_count", fmt.Sprintf("%d", len(emailsByName[name])))
	}

	// biggest problems first
	out.SortBy(func(a, b table.Row) bool {
		ae, be := emailsByName[a[opts.NameColumn]], emailsByName[b[opts.NameColumn]]
		if len(ae) != len(be) {
			return len(ae) > len(be)
		}
		an, bn := nameCount[a[opts.NameColumn]], nameCount[b[opts.NameColumn]]
		if an != bn {
			return an > bn
		}
		return a[opts.NameColumn] < b[opts.NameColumn]
	})

	return names, out, nil
}

// CollisionNameSet is the coarse repeat-count signal: names appearing at
// least twice, regardless of email distinctness.
func CollisionNameSet(people *table.Table, nameCol string) map[string]bool {
	if nameCol == "" {
		nameCol = "full_name_clean"
	}
	counts := make(map[string]int)
	for i := 0; i < people.Len(); i++ {
		if name := strings.TrimSpace(people.Get(i, nameCol)); name != "" {
			counts[name]++
		}
	}
	out := make(map[string]bool)
	for name, n := range counts {
		if n >= 2 {
			out[name] = true
		}
	}
	return out
}
