// Package match resolves attendance rows against the prepared roster using
// an ordered fallback chain of matching tiers.
package match

import (
	"fmt"

	"github.com/sbdcnet/attendance-reconciler/internal/roster"
	"github.com/sbdcnet/attendance-reconciler/internal/table"
)

// Match sources, ordered by confidence.
const (
	SourceEmail   = "email"
	SourceNameZip = "name_zip"
	SourceName    = "name"
	SourceNone    = "none"
)

// nameZipKey is the composite-key column used by the name+zip tier.
const nameZipKey = "__name_zip"

// Options controls the tier chain and fill behavior.
type Options struct {
	// KeepColumns are roster columns copied onto matched rows. Identity key
	// columns are always excluded.
	KeepColumns []string
	// RecencyColumn resolves roster key collisions (latest wins).
	RecencyColumn string
	// ClientIDColumn is the roster field whose presence marks a client.
	ClientIDColumn string
	// EnableNameZip inserts the name+zip tier between email and name,
	// turning the 2-tier chain into the 3-tier one.
	EnableNameZip bool
	// ZipColumn is the cleaned ZIP column name, present on both sides when
	// the name+zip tier is enabled.
	ZipColumn string
	// ProtectNativeColumns prevents roster values from landing in columns
	// the attendance table already has natively.
	ProtectNativeColumns bool
	// ValidateIdentity fails the match when an identity key changed.
	ValidateIdentity bool
}

// DefaultOptions returns the production configuration: 2-tier chain,
// native-column protection and identity validation on.
func DefaultOptions(keepCols []string, recencyCol, clientIDCol string) Options {
	return Options{
		KeepColumns:          keepCols,
		RecencyColumn:        recencyCol,
		ClientIDColumn:       clientIDCol,
		ZipColumn:            "zip_clean",
		ProtectNativeColumns: true,
		ValidateIdentity:     true,
	}
}

// Stats counts rows per match source for the run summary.
type Stats struct {
	Email   int
	NameZip int
	Name    int
	None    int
}

// IdentityMutationError signals that matching changed a row's own identity
// key. This is a logic bug, never recovered from.
type IdentityMutationError struct {
	Column string
	Rows   int
}

func (e *IdentityMutationError) Error() string {
	return fmt.Sprintf("identity column %q changed for %d rows during matching", e.Column, e.Rows)
}

// Match left-merges roster fields onto every attendance row via the tier
// chain. The output has exactly the input's rows in the input's order; each
// row gains match_source and is_client.
func Match(attendance, ref *table.Table, opts Options) (*table.Table, *Stats, error) {
	required := []string{"email_clean", "full_name_clean"}
	if opts.EnableNameZip {
		required = append(required, opts.ZipColumn)
	}
	if err := attendance.Require("attendance", required...); err != nil {
		return nil, nil, err
	}

	out := attendance.Clone()

	emailBefore := out.ColumnValues("email_clean")
	nameBefore := out.ColumnValues("full_name_clean")

	// Identity keys never count as fill columns
	keep := make([]string, 0, len(opts.KeepColumns))
	for _, c := range opts.KeepColumns {
		if c != "email_clean" && c != "full_name_clean" {
			keep = append(keep, c)
		}
	}

	// Native-column protection: fill only columns the export does not
	// already carry, so fallback matches can never clobber source data.
	fill := keep
	if opts.ProtectNativeColumns {
		fill = fill[:0:0]
		for _, c := range keep {
			if !attendance.HasColumn(c) {
				fill = append(fill, c)
			}
		}
	}

	emailIdx, err := lookupIndex(ref, "email_clean", keep, opts.RecencyColumn)
	if err != nil {
		return nil, nil, err
	}
	nameIdx, err := lookupIndex(ref, "full_name_clean", keep, opts.RecencyColumn)
	if err != nil {
		return nil, nil, err
	}
	var nameZipIdx map[string]table.Row
	if opts.EnableNameZip {
		nameZipIdx, err = nameZipIndex(ref, keep, opts)
		if err != nil {
			return nil, nil, err
		}
	}

	stats := &Stats{}
	for i := 0; i < out.Len(); i++ {
		email := out.Get(i, "email_clean")
		name := out.Get(i, "full_name_clean")

		var hit table.Row
		source := SourceNone
		switch {
		case email != "" && emailIdx[email] != nil:
			hit, source = emailIdx[email], SourceEmail
			stats.Email++
		case opts.EnableNameZip && name != "" && out.Get(i, opts.ZipColumn) != "" &&
			nameZipIdx[name+"|"+out.Get(i, opts.ZipColumn)] != nil:
			hit, source = nameZipIdx[name+"|"+out.Get(i, opts.ZipColumn)], SourceNameZip
			stats.NameZip++
		case name != "" && nameIdx[name] != nil:
			hit, source = nameIdx[name], SourceName
			stats.Name++
		default:
			stats.None++
		}

		for _, c := range fill {
			if v := hit[c]; v != "" {
				out.Set(i, c, v)
			}
		}
		out.Set(i, "match_source", source)

		isClient := "false"
		if opts.ClientIDColumn != "" && out.Get(i, opts.ClientIDColumn) != "" {
			isClient = "true"
		}
		out.Set(i, "is_client", isClient)
	}

	if opts.ValidateIdentity {
		if err := verifyUnchanged(out, "email_clean", emailBefore); err != nil {
			return nil, nil, err
		}
		if err := verifyUnchanged(out, "full_name_clean", nameBefore); err != nil {
			return nil, nil, err
		}
	}
	return out, stats, nil
}

func lookupIndex(ref *table.Table, keyCol string, keep []string, recencyCol string) (map[string]table.Row, error) {
	lk, err := roster.BuildLookup(ref, keyCol, keep, recencyCol)
	if err != nil {
		return nil, err
	}
	idx := make(map[string]table.Row, lk.Len())
	for i := 0; i < lk.Len(); i++ {
		idx[lk.Get(i, keyCol)] = lk.Row(i)
	}
	return idx, nil
}

// nameZipIndex keys roster rows that carry both a name and a clean ZIP by
// "name|zip".
func nameZipIndex(ref *table.Table, keep []string, opts Options) (map[string]table.Row, error) {
	if err := ref.Require("roster", opts.ZipColumn); err != nil {
		return nil, err
	}
	keyed := ref.Clone()
	keyed.AddColumn(nameZipKey)
	for i := 0; i < keyed.Len(); i++ {
		name := keyed.Get(i, "full_name_clean")
		zip := keyed.Get(i, opts.ZipColumn)
		if name != "" && zip != "" {
			keyed.Set(i, nameZipKey, name+"|"+zip)
		}
	}
	return lookupIndex(keyed, nameZipKey, keep, opts.RecencyColumn)
}

func verifyUnchanged(t *table.Table, col string, before []string) error {
	changed := 0
	for i := 0; i < t.Len(); i++ {
		if t.Get(i, col) != before[i] {
			changed++
		}
	}
	if changed > 0 {
		return &IdentityMutationError{Column: col, Rows: changed}
	}
	return nil
}
