package roster

import (
	"github.com/sbdcnet/attendance-reconciler/internal/normalize"
	"github.com/sbdcnet/attendance-reconciler/internal/table"
)

// PrepareConfig describes how to read the raw CRM export.
type PrepareConfig struct {
	// KeepColumns is the fixed set of roster columns carried through
	// preparation. Empty means keep everything.
	KeepColumns []string
	// EmailColumn is preferred; EmailFallbackColumn fills rows where the
	// primary is blank.
	EmailColumn         string
	EmailFallbackColumn string
	// ContactColumn holds the primary contact name.
	ContactColumn string
	// CenterColumn and CenterAbbr map center display names to short codes.
	// Names without a mapping keep the cleaned display name.
	CenterColumn string
	CenterAbbr   map[string]string
}

// Prepare cleans the raw CRM export into the matching reference table:
// selects the configured columns, builds email_clean and full_name_clean in
// the shared normalized space, and drops rows with no usable matching key.
func Prepare(raw *table.Table, cfg PrepareConfig) (*table.Table, error) {
	src := raw
	if len(cfg.KeepColumns) > 0 {
		var err error
		src, err = raw.Select(cfg.KeepColumns)
		if err != nil {
			return nil, err
		}
	} else {
		src = raw.Clone()
	}

	if cfg.ContactColumn != "" {
		if err := src.Require("roster", cfg.ContactColumn); err != nil {
			return nil, err
		}
	}

	src.AddColumn("email_clean")
	src.AddColumn("full_name_clean")

	for i := 0; i < src.Len(); i++ {
		email := src.Get(i, cfg.EmailColumn)
		if email == "" && cfg.EmailFallbackColumn != "" {
			email = src.Get(i, cfg.EmailFallbackColumn)
		}
		src.Set(i, "email_clean", normalize.CleanEmail(email))

		if cfg.ContactColumn != "" {
			src.Set(i, "full_name_clean", normalize.CleanName(src.Get(i, cfg.ContactColumn)))
		}

		if cfg.CenterColumn != "" && src.HasColumn(cfg.CenterColumn) {
			center := normalize.CollapseSpaces(src.Get(i, cfg.CenterColumn))
			src.Set(i, cfg.CenterColumn, center)
			abbr := center
			if mapped, ok := cfg.CenterAbbr[center]; ok {
				abbr = mapped
			}
			src.Set(i, "center_abbr", abbr)
		}
	}

	// Rows with neither key can never match anything
	out := src.Filter(func(r table.Row) bool {
		return r["email_clean"] != "" || r["full_name_clean"] != ""
	})
	return out, nil
}

// PrefixColumns renames every column except the listed identity keys, so
// roster-sourced fields stay recognizable after the session merge.
func PrefixColumns(t *table.Table, prefix string, except ...string) *table.Table {
	skip := make(map[string]bool, len(except))
	for _, c := range except {
		skip[c] = true
	}
	rename := func(c string) string {
		if skip[c] {
			return c
		}
		return prefix + c
	}

	out := table.New()
	for _, c := range t.Columns() {
		out.AddColumn(rename(c))
	}
	for i := 0; i < t.Len(); i++ {
		src := t.Row(i)
		row := make(table.Row, len(src))
		for c, v := range src {
			row[rename(c)] = v
		}
		out.Append(row)
	}
	return out
}
