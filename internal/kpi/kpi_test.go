package kpi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbdcnet/attendance-reconciler/internal/table"
)

func attendanceFixture() *table.Table {
	a := table.New("email_clean", "webinar_id", "webinar_date", "attended_final", "Registration Time")
	// webinar 1: ana and bob attend, carl registers but no-shows
	a.Append(table.Row{"email_clean": "ana@x.com", "webinar_id": "w1", "webinar_date": "2026_01_10", "attended_final": "true", "Registration Time": "2026-01-05 10:00:00"})
	a.Append(table.Row{"email_clean": "bob@x.com", "webinar_id": "w1", "webinar_date": "2026_01_10", "attended_final": "true", "Registration Time": "2026-01-06 11:30:00"})
	a.Append(table.Row{"email_clean": "carl@x.com", "webinar_id": "w1", "webinar_date": "2026_01_10", "attended_final": "false", "Registration Time": "2026-01-07 09:00:00"})
	// webinar 2: ana returns, dora is new
	a.Append(table.Row{"email_clean": "ana@x.com", "webinar_id": "w2", "webinar_date": "2026_02_10", "attended_final": "true", "Registration Time": "2026-01-05 10:00:00"})
	a.Append(table.Row{"email_clean": "dora@x.com", "webinar_id": "w2", "webinar_date": "2026_02_10", "attended_final": "true", "Registration Time": "2026-02-01 08:00:00"})
	return a
}

func peopleFixture() *table.Table {
	p := table.New("email_clean", "is_client")
	p.Append(table.Row{"email_clean": "ana@x.com", "is_client": "true"})
	p.Append(table.Row{"email_clean": "bob@x.com", "is_client": "false"})
	return p
}

func TestGenerate(t *testing.T) {
	kpis, err := Generate(attendanceFixture(), peopleFixture(), DefaultOptions())
	require.NoError(t, err)
	require.Len(t, kpis, 2)

	w1, w2 := kpis[0], kpis[1]
	assert.Equal(t, "w1", w1.WebinarID)
	assert.Equal(t, "w2", w2.WebinarID)

	assert.Equal(t, 2, w1.Attendees)
	assert.Equal(t, 2, w1.FirstTimeAttendees)
	assert.Equal(t, 0, w1.RepeatAttendees)
	// carl registered before w1, so the standing audience is 3
	assert.Equal(t, 3, w1.TotalAudience)
	assert.Equal(t, 1, w1.NoShows)
	assert.InDelta(t, 2.0/3.0, w1.EngagementRate, 1e-9)

	assert.Equal(t, 2, w2.Attendees)
	assert.Equal(t, 1, w2.FirstTimeAttendees)
	assert.Equal(t, 1, w2.RepeatAttendees)
	// everyone ever registered counts by webinar 2
	assert.Equal(t, 4, w2.TotalAudience)

	assert.Equal(t, 1, w1.ClientAttendees)
	assert.Equal(t, 1, w1.NonClientAttendees)
	assert.InDelta(t, 0.5, w1.ClientShare, 1e-9)
}

func TestGenerateWithoutPeople(t *testing.T) {
	kpis, err := Generate(attendanceFixture(), nil, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 0, kpis[0].ClientAttendees)
	assert.Equal(t, 2, kpis[0].NonClientAttendees)
}

func TestGenerateRejectsBadDates(t *testing.T) {
	a := attendanceFixture()
	a.Append(table.Row{"email_clean": "x@x.com", "webinar_id": "w3", "webinar_date": "soon", "attended_final": "true", "Registration Time": "2026-01-01"})

	_, err := Generate(a, nil, DefaultOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webinar date")
}

func TestGenerateRejectsBadRegistrationTimes(t *testing.T) {
	a := attendanceFixture()
	a.Append(table.Row{"email_clean": "x@x.com", "webinar_id": "w1", "webinar_date": "2026_01_10", "attended_final": "false", "Registration Time": "whenever"})

	_, err := Generate(a, nil, DefaultOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registration time")
}

func TestGenerateMissingColumns(t *testing.T) {
	_, err := Generate(table.New("email_clean"), nil, DefaultOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webinar_id")
}

func TestToTable(t *testing.T) {
	kpis, err := Generate(attendanceFixture(), peopleFixture(), DefaultOptions())
	require.NoError(t, err)

	tb := ToTable(kpis)
	require.Equal(t, 2, tb.Len())
	assert.Equal(t, "2026-01-10", tb.Get(0, "webinar_date"))
	assert.Equal(t, "2", tb.Get(0, "attendees"))
	assert.Equal(t, "0.6667", tb.Get(0, "engagement_rate"))
}
