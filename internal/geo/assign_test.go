package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbdcnet/attendance-reconciler/internal/table"
)

var testCenters = []Center{
	{Abbr: "LB", Name: "Long Beach", Lat: 33.77, Lon: -118.19},
	{Abbr: "SD", Name: "San Diego", Lat: 32.72, Lon: -117.16},
}

var testGeocoder = StaticGeocoder{
	"90802": {Lat: 33.76, Lon: -118.19, State: "CA", County: "Los Angeles"},
	"92101": {Lat: 32.71, Lon: -117.16, State: "CA", County: "San Diego"},
	"89101": {Lat: 36.17, Lon: -115.12, State: "NV", County: "Clark"},
}

func TestAssignCentersNearest(t *testing.T) {
	out := AssignCenters([]string{"90802", "92101", "00000", "90802", ""}, testGeocoder, testCenters)

	require.Equal(t, 2, out.Len())
	byZip := make(map[string]table.Row)
	for i := 0; i < out.Len(); i++ {
		byZip[out.Get(i, "zip_clean")] = out.Row(i)
	}
	assert.Equal(t, "LB", byZip["90802"]["assigned_center_abbr"])
	assert.Equal(t, "SD", byZip["92101"]["assigned_center_abbr"])
	assert.NotEmpty(t, byZip["90802"]["distance_miles"])
}

func TestAssignCentersNoCenters(t *testing.T) {
	out := AssignCenters([]string{"90802"}, testGeocoder, nil)
	assert.Equal(t, 0, out.Len())
}

func TestMergeCacheLastWriteWins(t *testing.T) {
	cache := table.New(CacheColumns...)
	cache.Append(table.Row{"zip_clean": "90802", "assigned_center_abbr": "OLD"})
	cache.Append(table.Row{"zip_clean": "11111", "assigned_center_abbr": "KEEP"})

	computed := table.New(CacheColumns...)
	computed.Append(table.Row{"zip_clean": "90802", "assigned_center_abbr": "NEW"})

	merged := MergeCache(cache, computed)
	require.Equal(t, 2, merged.Len())

	byZip := make(map[string]string)
	for i := 0; i < merged.Len(); i++ {
		byZip[merged.Get(i, "zip_clean")] = merged.Get(i, "assigned_center_abbr")
	}
	assert.Equal(t, "NEW", byZip["90802"])
	assert.Equal(t, "KEEP", byZip["11111"])
}

func TestLoadZipReference(t *testing.T) {
	ref := table.New("zip", "lat", "lon", "state", "county")
	ref.Append(table.Row{"zip": "90802", "lat": "33.76", "lon": "-118.19", "state": "CA", "county": "Los Angeles"})
	ref.Append(table.Row{"zip": "99999", "lat": "bad", "lon": "0"})
	ref.Append(table.Row{"lat": "1", "lon": "2"})

	g, err := LoadZipReference(ref)
	require.NoError(t, err)
	require.Len(t, g, 1)

	info, ok := g.Lookup("90802")
	require.True(t, ok)
	assert.Equal(t, "CA", info.State)
}

func annotateFixture() *table.Table {
	s := table.New("email_clean", "is_client", "Zip/Postal Code")
	s.Append(table.Row{"email_clean": "client@x.com", "is_client": "true", "Zip/Postal Code": "89101"})
	s.Append(table.Row{"email_clean": "local@x.com", "Zip/Postal Code": "90802-1234"})
	s.Append(table.Row{"email_clean": "nozip@x.com"})
	s.Append(table.Row{"email_clean": "unknown@x.com", "Zip/Postal Code": "00000"})
	s.Append(table.Row{"email_clean": "outside@x.com", "Zip/Postal Code": "89101"})
	return s
}

func TestAnnotateNonClients(t *testing.T) {
	out, cache, err := AnnotateNonClients(annotateFixture(), testGeocoder, testCenters, table.New(CacheColumns...), Options{
		RawZipColumn:  "Zip/Postal Code",
		ClientColumn:  "is_client",
		AllowedStates: []string{"CA"},
	})
	require.NoError(t, err)

	// clients are skipped, never flagged
	assert.Equal(t, ProblemClientSkip, out.Get(0, "zip_problem"))
	assert.Equal(t, "false", out.Get(0, "needs_center_review"))

	// good zip, inside the service state
	assert.Equal(t, ProblemNone, out.Get(1, "zip_problem"))
	assert.Equal(t, "90802", out.Get(1, "zip_clean"))
	assert.Equal(t, "LB", out.Get(1, "assigned_center_abbr"))
	assert.Equal(t, "false", out.Get(1, "needs_center_review"))

	assert.Equal(t, ProblemMissing, out.Get(2, "zip_problem"))
	assert.Equal(t, "true", out.Get(2, "needs_center_review"))

	assert.Equal(t, ProblemNotFound, out.Get(3, "zip_problem"))
	assert.Equal(t, "true", out.Get(3, "missing_center"))

	assert.Equal(t, ProblemOutsideState, out.Get(4, "zip_problem"))
	assert.Equal(t, "true", out.Get(4, "needs_center_review"))

	// resolvable zips land in the cache
	zips := make(map[string]bool)
	for i := 0; i < cache.Len(); i++ {
		zips[cache.Get(i, "zip_clean")] = true
	}
	assert.True(t, zips["90802"])
	assert.True(t, zips["89101"])
	assert.False(t, zips["00000"])
}

func TestAnnotateBadZipNeverFails(t *testing.T) {
	s := table.New("Zip/Postal Code")
	s.Append(table.Row{"Zip/Postal Code": "garbage"})

	out, _, err := AnnotateNonClients(s, testGeocoder, testCenters, table.New(CacheColumns...), Options{
		RawZipColumn: "Zip/Postal Code",
		ClientColumn: "is_client",
	})
	require.NoError(t, err)
	assert.Equal(t, ProblemMissing, out.Get(0, "zip_problem"))
}
