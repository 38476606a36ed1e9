// Package kpi computes per-webinar attendance metrics under the
// standing-audience model: everyone who ever registered counts toward the
// audience of every later webinar.
//
// Unlike ZIP handling, date handling here is strict. A webinar date or
// registration time that fails to parse fails the whole computation, since
// every downstream number depends on correct ordering.
package kpi

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/sbdcnet/attendance-reconciler/internal/normalize"
	"github.com/sbdcnet/attendance-reconciler/internal/table"
)

// Options names the attendance and people columns the computation reads.
type Options struct {
	EmailColumn        string
	WebinarIDColumn    string
	WebinarDateColumn  string
	AttendedColumn     string
	RegistrationColumn string
	// ClientColumn is read from the people master when one is supplied.
	ClientColumn string
}

// DefaultOptions matches the attendance master schema.
func DefaultOptions() Options {
	return Options{
		EmailColumn:        "email_clean",
		WebinarIDColumn:    "webinar_id",
		WebinarDateColumn:  "webinar_date",
		AttendedColumn:     "attended_final",
		RegistrationColumn: "Registration Time",
		ClientColumn:       "is_client",
	}
}

// WebinarKPI is one webinar's metric row.
type WebinarKPI struct {
	WebinarID   string
	WebinarDate time.Time

	Attendees          int
	FirstTimeAttendees int
	RepeatAttendees    int
	TotalAudience      int
	NoShows            int

	EngagementRate float64
	RepeatRate     float64
	FirstTimeShare float64

	ClientAttendees    int
	NonClientAttendees int
	ClientShare        float64
}

type event struct {
	email      string
	webinarID  string
	date       time.Time
	attended   bool
	registered time.Time
	client     bool
}

// Generate computes one KPI row per webinar, sorted by date then id.
// people may be nil, in which case every attendee counts as non-client.
func Generate(attendance, people *table.Table, opts Options) ([]WebinarKPI, error) {
	required := []string{opts.EmailColumn, opts.WebinarIDColumn, opts.WebinarDateColumn, opts.AttendedColumn, opts.RegistrationColumn}
	if err := attendance.Require("attendance", required...); err != nil {
		return nil, err
	}

	clients := clientLookup(people, opts)

	events := make([]event, 0, attendance.Len())
	badDates, badRegs := 0, 0
	for i := 0; i < attendance.Len(); i++ {
		date, ok := parseWebinarDate(attendance.Get(i, opts.WebinarDateColumn))
		if !ok {
			badDates++
			continue
		}
		reg, ok := normalize.ParseTimestamp(attendance.Get(i, opts.RegistrationColumn))
		if !ok {
			badRegs++
			continue
		}
		email := attendance.Get(i, opts.EmailColumn)
		events = append(events, event{
			email:      email,
			webinarID:  attendance.Get(i, opts.WebinarIDColumn),
			date:       date,
			attended:   normalize.ParseBool(attendance.Get(i, opts.AttendedColumn)),
			registered: reg,
			client:     clients[email],
		})
	}
	if badDates > 0 {
		return nil, fmt.Errorf("%d webinar date values could not be parsed", badDates)
	}
	if badRegs > 0 {
		return nil, fmt.Errorf("%d registration time values could not be parsed", badRegs)
	}

	// First-ever attendance per person
	firstAttended := make(map[string]time.Time)
	for _, e := range events {
		if !e.attended {
			continue
		}
		if prev, ok := firstAttended[e.email]; !ok || e.date.Before(prev) {
			firstAttended[e.email] = e.date
		}
	}

	// Earliest registration day per person, for the audience curve
	firstReg := make(map[string]time.Time)
	for _, e := range events {
		day := e.registered.Truncate(24 * time.Hour)
		if prev, ok := firstReg[e.email]; !ok || day.Before(prev) {
			firstReg[e.email] = day
		}
	}
	regDays := make([]time.Time, 0, len(firstReg))
	for _, d := range firstReg {
		regDays = append(regDays, d)
	}
	sort.Slice(regDays, func(i, j int) bool { return regDays[i].Before(regDays[j]) })

	type webinarKey struct {
		id   string
		date time.Time
	}
	type counts struct {
		attendees, firstTime, repeat map[string]bool
		clientAtt, nonClientAtt      map[string]bool
	}
	byWebinar := make(map[webinarKey]*counts)
	for _, e := range events {
		k := webinarKey{e.webinarID, e.date}
		c := byWebinar[k]
		if c == nil {
			c = &counts{
				attendees: map[string]bool{}, firstTime: map[string]bool{}, repeat: map[string]bool{},
				clientAtt: map[string]bool{}, nonClientAtt: map[string]bool{},
			}
			byWebinar[k] = c
		}
		if !e.attended {
			continue
		}
		c.attendees[e.email] = true
		if e.client {
			c.clientAtt[e.email] = true
		} else {
			c.nonClientAtt[e.email] = true
		}
		switch {
		case e.date.Equal(firstAttended[e.email]):
			c.firstTime[e.email] = true
		case e.date.After(firstAttended[e.email]):
			c.repeat[e.email] = true
		}
	}

	out := make([]WebinarKPI, 0, len(byWebinar))
	for k, c := range byWebinar {
		row := WebinarKPI{
			WebinarID:          k.id,
			WebinarDate:        k.date,
			Attendees:          len(c.attendees),
			FirstTimeAttendees: len(c.firstTime),
			RepeatAttendees:    len(c.repeat),
			TotalAudience:      audienceAt(regDays, k.date),
			ClientAttendees:    len(c.clientAtt),
			NonClientAttendees: len(c.nonClientAtt),
		}
		row.NoShows = row.TotalAudience - row.Attendees
		row.EngagementRate = ratio(row.Attendees, row.TotalAudience)
		row.RepeatRate = ratio(row.RepeatAttendees, row.Attendees)
		row.FirstTimeShare = ratio(row.FirstTimeAttendees, row.Attendees)
		row.ClientShare = ratio(row.ClientAttendees, row.Attendees)
		out = append(out, row)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].WebinarDate.Equal(out[j].WebinarDate) {
			return out[i].WebinarDate.Before(out[j].WebinarDate)
		}
		return out[i].WebinarID < out[j].WebinarID
	})
	return out, nil
}

// ToTable renders KPI rows for the webinar_kpis.csv snapshot.
func ToTable(kpis []WebinarKPI) *table.Table {
	out := table.New(
		"webinar_id", "webinar_date",
		"attendees", "first_time_attendees", "repeat_attendees",
		"total_audience", "no_shows",
		"engagement_rate", "repeat_rate", "first_time_share",
		"client_attendees", "nonclient_attendees", "client_attendee_share",
	)
	for _, k := range kpis {
		out.Append(table.Row{
			"webinar_id":            k.WebinarID,
			"webinar_date":          k.WebinarDate.Format("2006-01-02"),
			"attendees":             strconv.Itoa(k.Attendees),
			"first_time_attendees":  strconv.Itoa(k.FirstTimeAttendees),
			"repeat_attendees":      strconv.Itoa(k.RepeatAttendees),
			"total_audience":        strconv.Itoa(k.TotalAudience),
			"no_shows":              strconv.Itoa(k.NoShows),
			"engagement_rate":       formatRate(k.EngagementRate),
			"repeat_rate":           formatRate(k.RepeatRate),
			"first_time_share":      formatRate(k.FirstTimeShare),
			"client_attendees":      strconv.Itoa(k.ClientAttendees),
			"nonclient_attendees":   strconv.Itoa(k.NonClientAttendees),
			"client_attendee_share": formatRate(k.ClientShare),
		})
	}
	return out
}

// clientLookup maps each email to its client flag, first people row wins.
func clientLookup(people *table.Table, opts Options) map[string]bool {
	out := make(map[string]bool)
	if people == nil || !people.HasColumn(opts.EmailColumn) || !people.HasColumn(opts.ClientColumn) {
		return out
	}
	for i := 0; i < people.Len(); i++ {
		email := people.Get(i, opts.EmailColumn)
		if email == "" {
			continue
		}
		if _, seen := out[email]; !seen {
			out[email] = normalize.ParseBool(people.Get(i, opts.ClientColumn))
		}
	}
	return out
}

// parseWebinarDate accepts the YYYY_MM_DD and YYYY-MM-DD spellings only.
func parseWebinarDate(s string) (time.Time, bool) {
	canon := normalize.CanonicalDate(s)
	if canon == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", canon)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// audienceAt counts people whose first registration day is on or before day.
func audienceAt(sortedRegDays []time.Time, day time.Time) int {
	return sort.Search(len(sortedRegDays), func(i int) bool {
		return sortedRegDays[i].After(day)
	})
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

func formatRate(f float64) string {
	return strconv.FormatFloat(f, 'f', 4, 64)
}
