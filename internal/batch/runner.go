// Package batch orchestrates the per-file reconciliation pipeline: clean,
// match, annotate, upsert, detect collisions, persist. Files are processed
// sequentially and state is only written back after a file fully succeeds,
// so a mid-file failure never leaves half-updated masters on disk.
package batch

import (
	"fmt"
	"path/filepath"

	"github.com/sbdcnet/attendance-reconciler/internal/config"
	"github.com/sbdcnet/attendance-reconciler/internal/geo"
	"github.com/sbdcnet/attendance-reconciler/internal/master"
	"github.com/sbdcnet/attendance-reconciler/internal/match"
	"github.com/sbdcnet/attendance-reconciler/internal/normalize"
	"github.com/sbdcnet/attendance-reconciler/internal/overwrite"
	"github.com/sbdcnet/attendance-reconciler/internal/pkg/logger"
	"github.com/sbdcnet/attendance-reconciler/internal/roster"
	"github.com/sbdcnet/attendance-reconciler/internal/session"
	"github.com/sbdcnet/attendance-reconciler/internal/table"
)

// identity columns are never renamed or prefixed on the roster side.
var identityColumns = []string{"email_clean", "full_name_clean", "zip_clean", "center_abbr"}

// eventColumns belong to the attendance grain only and never reach the
// people table.
var eventColumns = map[string]bool{
	"webinar_id":     true,
	"webinar_date":   true,
	"attended":       true,
	"attended_final": true,
}

// FileResult records the outcome of one export file.
type FileResult struct {
	File    string
	Summary *session.Summary
	Err     error
}

// Runner holds the loaded reference data and the in-memory master state for
// one batch run.
type Runner struct {
	cfg      *config.Config
	geocoder geo.Geocoder
	centers  []geo.Center

	roster     *table.Table
	people     *table.Table
	attendance *table.Table
	cache      *table.Table
	overwrite  *table.Table
}

// NewRunner loads the roster, reference data, and current master snapshots.
// A nil geocoder falls back to the configured zip reference file; with
// neither, every ZIP degrades to zip_invalid_or_not_found.
func NewRunner(cfg *config.Config, g geo.Geocoder) (*Runner, error) {
	r := &Runner{cfg: cfg, geocoder: g}

	rawRoster, err := table.ReadCSVFile(cfg.Paths.RosterFile)
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}
	prepared, err := roster.Prepare(rawRoster, roster.PrepareConfig{
		KeepColumns:         cfg.Roster.KeepColumns,
		EmailColumn:         cfg.Roster.EmailColumn,
		EmailFallbackColumn: cfg.Roster.EmailFallbackColumn,
		ContactColumn:       cfg.Roster.ContactColumn,
		CenterColumn:        cfg.Roster.CenterColumn,
		CenterAbbr:          cfg.Roster.CenterAbbr,
	})
	if err != nil {
		return nil, fmt.Errorf("prepare roster: %w", err)
	}
	if cfg.Matching.EnableNameZip && cfg.Roster.ZipColumn != "" && prepared.HasColumn(cfg.Roster.ZipColumn) && cfg.Roster.ZipColumn != "zip_clean" {
		prepared.AddColumn("zip_clean")
		for i := 0; i < prepared.Len(); i++ {
			prepared.Set(i, "zip_clean", normalize.CleanZip(prepared.Get(i, cfg.Roster.ZipColumn)))
		}
	}
	r.roster = roster.PrefixColumns(prepared, "roster_", identityColumns...)

	if cfg.Paths.CentersFile != "" {
		ct, err := table.ReadCSVFile(cfg.Paths.CentersFile)
		if err != nil {
			return nil, fmt.Errorf("load centers: %w", err)
		}
		if r.centers, err = geo.LoadCenters(ct); err != nil {
			return nil, err
		}
	}
	if r.geocoder == nil && cfg.Paths.ZipReferenceFile != "" {
		zt, err := table.ReadCSVFile(cfg.Paths.ZipReferenceFile)
		if err != nil {
			return nil, fmt.Errorf("load zip reference: %w", err)
		}
		if r.geocoder, err = geo.LoadZipReference(zt); err != nil {
			return nil, err
		}
	}
	if r.geocoder == nil {
		r.geocoder = geo.StaticGeocoder{}
	}

	if r.people, err = table.LoadOrEmpty(cfg.Paths.PeopleMaster); err != nil {
		return nil, fmt.Errorf("load people master: %w", err)
	}
	if r.attendance, err = table.LoadOrEmpty(cfg.Paths.AttendanceMaster); err != nil {
		return nil, fmt.Errorf("load attendance master: %w", err)
	}
	if r.cache, err = table.LoadOrEmpty(cfg.Paths.ZipCenterCache); err != nil {
		return nil, fmt.Errorf("load zip cache: %w", err)
	}
	if r.overwrite, err = table.LoadOrEmpty(cfg.Paths.OverwriteFile); err != nil {
		return nil, fmt.Errorf("load overwrite file: %w", err)
	}
	return r, nil
}

// People returns the current in-memory people master.
func (r *Runner) People() *table.Table { return r.people }

// Attendance returns the current in-memory attendance master.
func (r *Runner) Attendance() *table.Table { return r.attendance }

// Overwrite returns the current in-memory overwrite file.
func (r *Runner) Overwrite() *table.Table { return r.overwrite }

// rosterColumn maps a raw CRM column name to its prepared, prefixed form.
func rosterColumn(raw string) string {
	if raw == "" {
		return ""
	}
	return "roster_" + raw
}

func (r *Runner) matchOptions() match.Options {
	keep := r.roster.Columns()
	if len(r.cfg.Roster.OutputColumns) > 0 {
		keep = r.cfg.Roster.OutputColumns
	}
	opts := match.DefaultOptions(keep, rosterColumn(r.cfg.Roster.RecencyColumn), rosterColumn(r.cfg.Roster.ClientIDColumn))
	opts.EnableNameZip = r.cfg.Matching.EnableNameZip
	opts.ProtectNativeColumns = r.cfg.Matching.ProtectNativeColumns
	opts.ValidateIdentity = r.cfg.Matching.ValidateIdentity
	return opts
}

func (r *Runner) collisionOptions() overwrite.CollisionOptions {
	opts := overwrite.CollisionOptions{
		MinDistinctEmails: r.cfg.Collisions.MinDistinctEmails,
		MinCount:          r.cfg.Collisions.MinCount,
	}
	if r.cfg.Collisions.Policy == "repeat_count" {
		opts.Policy = overwrite.PolicyRepeatCount
	}
	return opts
}

// Run processes the export files in order. A failing file is recorded in its
// FileResult; whether the batch keeps going is governed by
// batch.continue_on_error.
func (r *Runner) Run(files []string) ([]FileResult, error) {
	results := make([]FileResult, 0, len(files))
	for _, f := range files {
		summary, err := r.processFile(f)
		results = append(results, FileResult{File: f, Summary: summary, Err: err})
		if err != nil {
			logger.Error("file failed", "file", f, "error", err.Error())
			if !r.cfg.Batch.ContinueOnError {
				return results, fmt.Errorf("%s: %w", f, err)
			}
			continue
		}
	}

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
	}
	logger.Info("batch complete", "files", len(results), "failed", failed)
	return results, nil
}

func (r *Runner) processFile(path string) (*session.Summary, error) {
	webinarID, webinarDate, err := session.ParseExportFilename(path)
	if err != nil {
		return nil, err
	}
	sum := session.NewSummary(webinarID, webinarDate)
	logger.Info("processing export", "run_id", sum.RunID, "file", filepath.Base(path))

	raw, err := table.ReadCSVFile(path)
	if err != nil {
		return nil, err
	}

	cleanOpts := session.DefaultCleanOptions()
	cleanOpts.RawZipColumn = r.cfg.Geo.RawZipColumn
	valid, invalid, err := session.CleanExport(raw, webinarID, webinarDate, cleanOpts)
	if err != nil {
		return nil, err
	}
	sum.SessionRows = valid.Len()
	sum.InvalidEmailRows = invalid.Len()
	sum.SessionUniqueEmails = countDistinct(valid, "email_clean")

	if r.cfg.Matching.EnableNameZip {
		valid.AddColumn("zip_clean")
		for i := 0; i < valid.Len(); i++ {
			valid.Set(i, "zip_clean", normalize.CleanZip(valid.Get(i, r.cfg.Geo.RawZipColumn)))
		}
	}

	matched, stats, err := match.Match(valid, r.roster, r.matchOptions())
	if err != nil {
		return nil, err
	}
	logger.Info("match summary", "run_id", sum.RunID,
		"email", stats.Email, "name_zip", stats.NameZip, "name", stats.Name, "none", stats.None)

	annotated, newCache, err := geo.AnnotateNonClients(matched, r.geocoder, r.centers, r.cache, geo.Options{
		RawZipColumn:    r.cfg.Geo.RawZipColumn,
		ClientColumn:    "is_client",
		AllowedStates:   r.cfg.Geo.AllowedStates,
		AllowedCounties: r.cfg.Geo.AllowedCounties,
	})
	if err != nil {
		return nil, err
	}

	people, attendance, err := session.Split(annotated, r.splitOptions(annotated))
	if err != nil {
		return nil, err
	}

	// Attendance delta against the current master key set
	existingKeys := make(map[string]bool, r.attendance.Len())
	for i := 0; i < r.attendance.Len(); i++ {
		existingKeys[master.AttendanceKey(r.attendance.Row(i))] = true
	}
	for i := 0; i < attendance.Len(); i++ {
		if existingKeys[master.AttendanceKey(attendance.Row(i))] {
			sum.AttendanceOverwritten++
		} else {
			sum.AttendanceAdded++
		}
	}
	sum.AttendanceBefore = r.attendance.Len()
	newAttendance := master.UpsertAttendance(attendance, r.attendance)
	sum.AttendanceAfter = newAttendance.Len()

	sum.PeopleBefore = r.people.Len()
	newPeople, err := master.UpsertPeople(people, r.people, master.DefaultPeopleOptions())
	if err != nil {
		return nil, err
	}
	sum.PeopleAfter = newPeople.Len()
	sum.PeopleNew = newPeople.Len() - r.people.Len()
	sum.PeopleEnriched = len(master.FindEnriched(r.people, newPeople, "email_clean"))

	names, collisions, err := overwrite.FindNameCollisions(newPeople, r.collisionOptions())
	if err != nil {
		return nil, err
	}
	sum.CollisionGroups = len(names)
	sum.CollisionRows = collisions.Len()
	knownNames := make(map[string]bool, r.overwrite.Len())
	for i := 0; i < r.overwrite.Len(); i++ {
		knownNames[r.overwrite.Get(i, "full_name_clean")] = true
	}
	for _, n := range names {
		if !knownNames[n] {
			sum.CollisionNewGroups++
		}
	}
	newOverwrite := overwrite.Update(r.overwrite, collisions)

	// The file succeeded; commit state and persist all snapshots.
	r.attendance = newAttendance
	r.people = newPeople
	r.cache = newCache
	r.overwrite = newOverwrite
	if err := r.persist(annotated, invalid, webinarID, webinarDate); err != nil {
		return nil, err
	}

	sum.Log()
	return sum, nil
}

func (r *Runner) splitOptions(annotated *table.Table) session.SplitOptions {
	var peopleCols []string
	for _, c := range annotated.Columns() {
		if !eventColumns[c] {
			peopleCols = append(peopleCols, c)
		}
	}
	attendanceCols := []string{
		"webinar_id", "webinar_date", "email_clean", "full_name", "full_name_clean",
		"attended", "attended_final", "match_source", "is_client",
	}
	// Registration time rides along when the export carries it; the KPI
	// view needs it.
	if annotated.HasColumn("Registration Time") {
		attendanceCols = append(attendanceCols, "Registration Time")
	}
	return session.SplitOptions{PeopleColumns: peopleCols, AttendanceColumns: attendanceCols}
}

func (r *Runner) persist(annotated, invalid *table.Table, webinarID, webinarDate string) error {
	if err := r.attendance.WriteCSVFile(r.cfg.Paths.AttendanceMaster); err != nil {
		return fmt.Errorf("write attendance master: %w", err)
	}
	if err := r.people.WriteCSVFile(r.cfg.Paths.PeopleMaster); err != nil {
		return fmt.Errorf("write people master: %w", err)
	}
	if err := r.cache.WriteCSVFile(r.cfg.Paths.ZipCenterCache); err != nil {
		return fmt.Errorf("write zip cache: %w", err)
	}
	if err := r.overwrite.WriteCSVFile(r.cfg.Paths.OverwriteFile); err != nil {
		return fmt.Errorf("write overwrite file: %w", err)
	}

	if dir := r.cfg.Paths.SessionOutputDir; dir != "" {
		stem := webinarID + "_" + webinarDate
		if err := annotated.WriteCSVFile(filepath.Join(dir, "session_"+stem+".csv")); err != nil {
			return fmt.Errorf("write session output: %w", err)
		}
		if invalid.Len() > 0 {
			if err := invalid.WriteCSVFile(filepath.Join(dir, "invalid_emails_"+stem+".csv")); err != nil {
				return fmt.Errorf("write invalid emails: %w", err)
			}
		}
	}
	return nil
}

func countDistinct(t *table.Table, col string) int {
	seen := make(map[string]bool, t.Len())
	for i := 0; i < t.Len(); i++ {
		if v := t.Get(i, col); v != "" {
			seen[v] = true
		}
	}
	return len(seen)
}
