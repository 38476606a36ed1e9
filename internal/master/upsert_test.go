package master

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbdcnet/attendance-reconciler/internal/table"
)

func attendanceRow(email, webinar, date, attended string) table.Row {
	return table.Row{
		"email_clean":    email,
		"webinar_id":     webinar,
		"webinar_date":   date,
		"attended_final": attended,
	}
}

func TestAttendanceKeyNormalizesDateSpellings(t *testing.T) {
	a := AttendanceKey(attendanceRow("a@x.com", "w1", "2026_01_20", "true"))
	b := AttendanceKey(attendanceRow("a@x.com", "w1", "2026-01-20", "true"))
	assert.Equal(t, a, b)

	c := AttendanceKey(attendanceRow("a@x.com", "w1", "2026-01-21", "true"))
	assert.NotEqual(t, a, c)
}

func TestUpsertAttendanceIdempotent(t *testing.T) {
	session := table.New("email_clean", "webinar_id", "webinar_date", "attended_final")
	session.Append(attendanceRow("a@x.com", "w1", "2026_01_20", "true"))
	session.Append(attendanceRow("b@x.com", "w1", "2026_01_20", "false"))

	once := UpsertAttendance(session, table.New())
	require.Equal(t, 2, once.Len())

	twice := UpsertAttendance(session, once)
	require.Equal(t, once.Len(), twice.Len())
	for i := 0; i < once.Len(); i++ {
		for _, c := range once.Columns() {
			assert.Equal(t, once.Get(i, c), twice.Get(i, c))
		}
	}
}

func TestUpsertAttendanceSessionWinsOnConflict(t *testing.T) {
	master := table.New("email_clean", "webinar_id", "webinar_date", "attended_final")
	master.Append(attendanceRow("a@x.com", "w1", "2026-01-20", "false"))

	session := table.New("email_clean", "webinar_id", "webinar_date", "attended_final")
	session.Append(attendanceRow("a@x.com", "w1", "2026_01_20", "true"))

	out := UpsertAttendance(session, master)
	require.Equal(t, 1, out.Len())
	assert.Equal(t, "true", out.Get(0, "attended_final"))
}

func TestMatchStrength(t *testing.T) {
	assert.Greater(t, MatchStrength("email"), MatchStrength("name_zip"))
	assert.Greater(t, MatchStrength("name_zip"), MatchStrength("name"))
	assert.Greater(t, MatchStrength("name"), MatchStrength("none"))
	assert.Equal(t, 0, MatchStrength(""))
	assert.Equal(t, 0, MatchStrength("bogus"))
	assert.Equal(t, 3, MatchStrength(" Email "))
}

func peopleRow(email, phone, source, client, center string) table.Row {
	r := table.Row{"email_clean": email}
	if phone != "" {
		r["phone"] = phone
	}
	if source != "" {
		r["match_source"] = source
	}
	if client != "" {
		r["is_client"] = client
	}
	if center != "" {
		r["roster_center"] = center
	}
	return r
}

func TestUpsertPeopleGeneralFieldsNeverReplaced(t *testing.T) {
	master := table.New("email_clean", "phone", "match_source")
	master.Append(peopleRow("a@x.com", "555-0100", "email", "", ""))

	session := table.New("email_clean", "phone", "match_source")
	session.Append(peopleRow("a@x.com", "999-9999", "email", "", ""))

	out, err := UpsertPeople(session, master, DefaultPeopleOptions())
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())
	assert.Equal(t, "555-0100", out.Get(0, "phone"))
}

func TestUpsertPeopleFillsMissingGeneralFields(t *testing.T) {
	master := table.New("email_clean", "phone")
	master.Append(table.Row{"email_clean": "a@x.com"})

	session := table.New("email_clean", "phone")
	session.Append(table.Row{"email_clean": "a@x.com", "phone": "555-0100"})

	out, err := UpsertPeople(session, master, DefaultPeopleOptions())
	require.NoError(t, err)
	assert.Equal(t, "555-0100", out.Get(0, "phone"))
}

func TestUpsertPeopleStrongerTierOverwritesRosterFields(t *testing.T) {
	master := table.New("email_clean", "roster_center", "match_source")
	master.Append(peopleRow("a@x.com", "", "name", "", "OLD"))

	weaker := table.New("email_clean", "roster_center", "match_source")
	weaker.Append(peopleRow("a@x.com", "", "name", "", "WEAK"))

	out, err := UpsertPeople(weaker, master, DefaultPeopleOptions())
	require.NoError(t, err)
	// same tier: roster field stays
	assert.Equal(t, "OLD", out.Get(0, "roster_center"))
	assert.Equal(t, "name", out.Get(0, "match_source"))

	stronger := table.New("email_clean", "roster_center", "match_source")
	stronger.Append(peopleRow("a@x.com", "", "email", "", "NEW"))

	out, err = UpsertPeople(stronger, out, DefaultPeopleOptions())
	require.NoError(t, err)
	assert.Equal(t, "NEW", out.Get(0, "roster_center"))
	assert.Equal(t, "email", out.Get(0, "match_source"))
}

func TestUpsertPeopleClientFlipTakesSession(t *testing.T) {
	master := table.New("email_clean", "is_client", "roster_center", "match_source")
	master.Append(peopleRow("a@x.com", "", "name", "false", "OLD"))

	session := table.New("email_clean", "is_client", "roster_center", "match_source")
	session.Append(peopleRow("a@x.com", "", "name", "true", "NEW"))

	out, err := UpsertPeople(session, master, DefaultPeopleOptions())
	require.NoError(t, err)
	assert.Equal(t, "true", out.Get(0, "is_client"))
	assert.Equal(t, "NEW", out.Get(0, "roster_center"))
}

func TestUpsertPeopleNewEmailsAppendAfterMaster(t *testing.T) {
	master := table.New("email_clean")
	master.Append(table.Row{"email_clean": "old@x.com"})

	session := table.New("email_clean")
	session.Append(table.Row{"email_clean": "new@x.com"})
	session.Append(table.Row{"email_clean": "old@x.com"})

	out, err := UpsertPeople(session, master, DefaultPeopleOptions())
	require.NoError(t, err)
	require.Equal(t, 2, out.Len())
	assert.Equal(t, "old@x.com", out.Get(0, "email_clean"))
	assert.Equal(t, "new@x.com", out.Get(1, "email_clean"))
}

func TestFindEnriched(t *testing.T) {
	before := table.New("email_clean", "phone")
	before.Append(table.Row{"email_clean": "gains@x.com"})
	before.Append(table.Row{"email_clean": "static@x.com", "phone": "1"})

	after := table.New("email_clean", "phone")
	after.Append(table.Row{"email_clean": "gains@x.com", "phone": "2"})
	after.Append(table.Row{"email_clean": "static@x.com", "phone": "1"})
	after.Append(table.Row{"email_clean": "brandnew@x.com", "phone": "3"})

	enriched := FindEnriched(before, after, "email_clean")
	// new keys are not "enriched", only pre-existing ones that gained values
	assert.Equal(t, []string{"gains@x.com"}, enriched)
}
