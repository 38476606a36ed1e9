package overwrite

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbdcnet/attendance-reconciler/internal/table"
)

func peopleFixture() *table.Table {
	p := table.New("full_name_clean", "email_clean", "phone")
	p.Append(table.Row{"full_name_clean": "john smith", "email_clean": "a@x.com"})
	p.Append(table.Row{"full_name_clean": "john smith", "email_clean": "b@x.com"})
	p.Append(table.Row{"full_name_clean": "jane doe", "email_clean": "c@x.com"})
	return p
}

func TestFindNameCollisionsDistinctEmails(t *testing.T) {
	names, rows, err := FindNameCollisions(peopleFixture(), CollisionOptions{Policy: PolicyDistinctEmails})
	require.NoError(t, err)

	// jane doe has one email and is not ambiguous
	assert.Equal(t, []string{"john smith"}, names)
	require.Equal(t, 2, rows.Len())
	assert.Equal(t, "2", rows.Get(0, "distinct_email_count"))
	assert.Equal(t, "2", rows.Get(0, "name_count"))
}

func TestFindNameCollisionsRepeatCount(t *testing.T) {
	p := peopleFixture()
	// same email twice: repeats but only one distinct email
	p.Append(table.Row{"full_name_clean": "sam hill", "email_clean": "d@x.com"})
	p.Append(table.Row{"full_name_clean": "sam hill", "email_clean": "d@x.com"})

	names, _, err := FindNameCollisions(p, CollisionOptions{Policy: PolicyRepeatCount})
	require.NoError(t, err)
	assert.Equal(t, []string{"john smith", "sam hill"}, names)

	names, _, err = FindNameCollisions(p, CollisionOptions{Policy: PolicyDistinctEmails})
	require.NoError(t, err)
	assert.Equal(t, []string{"john smith"}, names)
}

func TestFindNameCollisionsSeveritySort(t *testing.T) {
	p := table.New("full_name_clean", "email_clean")
	for i := 0; i < 10; i++ {
		p.Append(table.Row{"full_name_clean": "big group", "email_clean": string(rune('a'+i)) + "@x.com"})
	}
	p.Append(table.Row{"full_name_clean": "small group", "email_clean": "y@x.com"})
	p.Append(table.Row{"full_name_clean": "small group", "email_clean": "z@x.com"})

	_, rows, err := FindNameCollisions(p, CollisionOptions{Policy: PolicyDistinctEmails})
	require.NoError(t, err)
	// ten distinct emails outrank two, also under string-unfriendly counts
	assert.Equal(t, "big group", rows.Get(0, "full_name_clean"))
	assert.Equal(t, "10", rows.Get(0, "distinct_email_count"))
}

func TestFindNameCollisionsMissingColumns(t *testing.T) {
	_, _, err := FindNameCollisions(table.New("other"), CollisionOptions{})
	require.Error(t, err)
	var missing *table.MissingColumnError
	assert.True(t, errors.As(err, &missing))
}

func TestSeedDefaultsPendingStatus(t *testing.T) {
	_, rows, err := FindNameCollisions(peopleFixture(), CollisionOptions{})
	require.NoError(t, err)

	seeded := Seed(rows)
	require.Equal(t, rows.Len(), seeded.Len())
	assert.Equal(t, []string{"action", "review_status", "reason", "notes"}, seeded.Columns()[:4])
	for i := 0; i < seeded.Len(); i++ {
		assert.Equal(t, StatusPending, seeded.Get(i, "review_status"))
		assert.Equal(t, "", seeded.Get(i, "action"))
	}
}

func TestUpdatePreservesHumanEdits(t *testing.T) {
	_, rows, err := FindNameCollisions(peopleFixture(), CollisionOptions{})
	require.NoError(t, err)
	ow := Seed(rows)
	ow.Set(0, "action", ActionRemove)
	ow.Set(0, "review_status", StatusApproved)
	ow.Set(0, "notes", "duplicate account")

	updated := Update(ow, rows)
	require.Equal(t, ow.Len(), updated.Len())
	assert.Equal(t, ActionRemove, updated.Get(0, "action"))
	assert.Equal(t, StatusApproved, updated.Get(0, "review_status"))
	assert.Equal(t, "duplicate account", updated.Get(0, "notes"))
	for i := 0; i < updated.Len(); i++ {
		assert.Equal(t, "true", updated.Get(i, "still_colliding"))
	}
}

func TestUpdateAppendsNewCollisionsOnly(t *testing.T) {
	_, rows, err := FindNameCollisions(peopleFixture(), CollisionOptions{})
	require.NoError(t, err)
	ow := Seed(rows)

	grown := peopleFixture()
	grown.Append(table.Row{"full_name_clean": "jane doe", "email_clean": "c2@x.com"})
	_, rows2, err := FindNameCollisions(grown, CollisionOptions{})
	require.NoError(t, err)

	updated := Update(ow, rows2)
	assert.Equal(t, 4, updated.Len())

	// resolved rows flip still_colliding without being dropped
	shrunk := table.New("full_name_clean", "email_clean")
	shrunk.Append(table.Row{"full_name_clean": "jane doe", "email_clean": "c@x.com"})
	shrunk.Append(table.Row{"full_name_clean": "jane doe", "email_clean": "c2@x.com"})
	_, rows3, err := FindNameCollisions(shrunk, CollisionOptions{})
	require.NoError(t, err)

	final := Update(updated, rows3)
	require.Equal(t, 4, final.Len())
	still := make(map[string]string)
	for i := 0; i < final.Len(); i++ {
		still[final.Get(i, "email_clean")] = final.Get(i, "still_colliding")
	}
	assert.Equal(t, "false", still["a@x.com"])
	assert.Equal(t, "true", still["c@x.com"])
}

func TestUpdateIgnoresAddRowsInDedupKeys(t *testing.T) {
	ow := table.New("action", "review_status", "full_name_clean", "email_clean")
	// a manual ADD row for the same identity must not block the real
	// collision from being appended
	ow.Append(table.Row{"action": ActionAdd, "review_status": StatusApproved,
		"full_name_clean": "john smith", "email_clean": "a@x.com"})

	_, rows, err := FindNameCollisions(peopleFixture(), CollisionOptions{})
	require.NoError(t, err)

	updated := Update(ow, rows)
	assert.Equal(t, 3, updated.Len())
}

func TestUnreviewed(t *testing.T) {
	ow := table.New("action", "review_status", "email_clean")
	ow.Append(table.Row{"action": "", "email_clean": "blank@x.com"})
	ow.Append(table.Row{"action": "keep", "email_clean": "keep@x.com"})
	ow.Append(table.Row{"action": "WAT", "email_clean": "bad@x.com"})
	ow.Append(table.Row{"action": ActionAdd, "email_clean": "add@x.com"})

	pending := Unreviewed(ow, false)
	require.Equal(t, 2, pending.Len())
	assert.Equal(t, "blank@x.com", pending.Get(0, "email_clean"))
	assert.Equal(t, "bad@x.com", pending.Get(1, "email_clean"))
}

func masterFixture() *table.Table {
	m := table.New("email_clean", "full_name_clean", "phone")
	m.Append(table.Row{"email_clean": "a@x.com", "full_name_clean": "john smith"})
	m.Append(table.Row{"email_clean": "b@x.com", "full_name_clean": "john smith"})
	m.Append(table.Row{"email_clean": "c@x.com", "full_name_clean": "jane doe"})
	return m
}

func directive(action, status, email string) table.Row {
	return table.Row{"action": action, "review_status": status, "email_clean": email}
}

func TestApplyPeopleKeepBeatsRemove(t *testing.T) {
	ow := table.New("action", "review_status", "email_clean")
	ow.Append(directive(ActionRemove, StatusApproved, "a@x.com"))
	ow.Append(directive(ActionKeep, StatusApproved, "a@x.com"))
	ow.Append(directive(ActionRemove, StatusApproved, "b@x.com"))

	final, res, err := ApplyPeople(masterFixture(), ow, DefaultApplyOptions())
	require.NoError(t, err)

	assert.Equal(t, 2, final.Len())
	assert.Equal(t, []string{"b@x.com"}, res.RemovedEmails)
	assert.Equal(t, []string{"a@x.com"}, res.KeptEmails)
}

func TestApplyPeopleRequiresApproval(t *testing.T) {
	ow := table.New("action", "review_status", "email_clean")
	ow.Append(directive(ActionRemove, StatusPending, "a@x.com"))
	ow.Append(directive(ActionRemove, StatusRejected, "b@x.com"))

	final, res, err := ApplyPeople(masterFixture(), ow, DefaultApplyOptions())
	require.NoError(t, err)
	assert.Equal(t, 3, final.Len())
	assert.Empty(t, res.RemovedEmails)
}

func TestApplyPeopleAddRows(t *testing.T) {
	ow := table.New("action", "review_status", "email_clean", "full_name_clean", "stray_col")
	ow.Append(table.Row{"action": ActionAdd, "review_status": StatusApproved,
		"email_clean": "new@x.com", "full_name_clean": "new person", "stray_col": "x"})
	ow.Append(table.Row{"action": ActionAdd, "review_status": StatusApproved})

	final, res, err := ApplyPeople(masterFixture(), ow, DefaultApplyOptions())
	require.NoError(t, err)

	// the ADD without an email is skipped; the other aligns to the schema
	assert.Equal(t, 1, res.AddedRows)
	assert.Equal(t, 4, final.Len())
	assert.Equal(t, "new@x.com", final.Get(3, "email_clean"))
	assert.False(t, final.HasColumn("stray_col"))
}

func TestApplyInvalidActions(t *testing.T) {
	ow := table.New("action", "review_status", "email_clean")
	ow.Append(directive("DELETE", StatusApproved, "a@x.com"))
	ow.Append(directive("zap", StatusApproved, "b@x.com"))

	_, _, err := ApplyPeople(masterFixture(), ow, DefaultApplyOptions())
	require.Error(t, err)

	var invalid *InvalidActionError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, []string{"DELETE", "ZAP"}, invalid.Actions)
}

func TestApplyMissingReviewColumn(t *testing.T) {
	ow := table.New("action", "email_clean")
	ow.Append(table.Row{"action": ActionRemove, "email_clean": "a@x.com"})

	_, _, err := ApplyPeople(masterFixture(), ow, DefaultApplyOptions())
	require.Error(t, err)

	var confErr *ConfigurationError
	require.True(t, errors.As(err, &confErr))

	// ungated apply works without the review column
	opts := DefaultApplyOptions()
	opts.RequireApproved = false
	final, _, err := ApplyPeople(masterFixture(), ow, opts)
	require.NoError(t, err)
	assert.Equal(t, 2, final.Len())
}

func TestApplyAttendanceCascadesRemovals(t *testing.T) {
	att := table.New("email_clean", "webinar_id")
	att.Append(table.Row{"email_clean": "a@x.com", "webinar_id": "w1"})
	att.Append(table.Row{"email_clean": "a@x.com", "webinar_id": "w2"})
	att.Append(table.Row{"email_clean": "c@x.com", "webinar_id": "w1"})

	ow := table.New("action", "review_status", "email_clean")
	ow.Append(directive(ActionRemove, StatusApproved, "a@x.com"))

	final, res, err := ApplyAttendance(att, ow, DefaultApplyOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, final.Len())
	assert.Equal(t, 2, res.RemovedRows)
	assert.Equal(t, "c@x.com", final.Get(0, "email_clean"))
}
