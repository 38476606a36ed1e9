// Package geo assigns attendees to the nearest service center by ZIP code.
// Geocoding itself is an injected lookup service; this package owns the
// nearest-center computation, the persisted zip→center cache, and the
// graceful degradation flags for bad ZIP data.
package geo

import (
	"math"
	"strconv"

	"github.com/sbdcnet/attendance-reconciler/internal/normalize"
	"github.com/sbdcnet/attendance-reconciler/internal/table"
)

// Zip problem labels. Bad geo data never aborts a run; it degrades to a
// review flag.
const (
	ProblemNone            = "no_problem"
	ProblemMissing         = "zip_missing"
	ProblemNotFound        = "zip_invalid_or_not_found"
	ProblemOutsideState    = "zip_not_in_service_state"
	ProblemOutsideCounties = "zip_outside_service_counties"
	ProblemClientSkip      = "client_skip"
)

// CacheColumns is the schema of the persisted zip→center cache file.
var CacheColumns = []string{
	"zip_clean", "zip_lat", "zip_lon", "zip_state", "zip_county",
	"assigned_center_abbr", "assigned_center_name", "distance_miles",
}

// ZipInfo is what the injected geocoder knows about a ZIP.
type ZipInfo struct {
	Lat    float64
	Lon    float64
	State  string
	County string
}

// Geocoder resolves a 5-digit ZIP to coordinates. Implementations are
// external; lookups are synchronous and results are cached across runs.
type Geocoder interface {
	Lookup(zip string) (ZipInfo, bool)
}

// StaticGeocoder is a map-backed geocoder for tests and small fixed
// reference sets.
type StaticGeocoder map[string]ZipInfo

func (g StaticGeocoder) Lookup(zip string) (ZipInfo, bool) {
	info, ok := g[zip]
	return info, ok
}

// Center is one service center location.
type Center struct {
	Abbr string
	Name string
	Lat  float64
	Lon  float64
}

// LoadCenters reads the centers reference table
// (center_abbr, center_name, lat, lon).
func LoadCenters(t *table.Table) ([]Center, error) {
	if err := t.Require("centers", "center_abbr", "center_name", "lat", "lon"); err != nil {
		return nil, err
	}
	centers := make([]Center, 0, t.Len())
	for i := 0; i < t.Len(); i++ {
		lat, err1 := strconv.ParseFloat(t.Get(i, "lat"), 64)
		lon, err2 := strconv.ParseFloat(t.Get(i, "lon"), 64)
		if err1 != nil || err2 != nil {
			continue
		}
		centers = append(centers, Center{
			Abbr: t.Get(i, "center_abbr"),
			Name: t.Get(i, "center_name"),
			Lat:  lat,
			Lon:  lon,
		})
	}
	return centers, nil
}

const earthRadiusMiles = 3958.7613

func haversineMiles(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dlat := (lat2 - lat1) * rad
	dlon := (lon2 - lon1) * rad
	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dlon/2)*math.Sin(dlon/2)
	return 2 * earthRadiusMiles * math.Asin(math.Sqrt(a))
}

// nearestCenter returns the closest center and the distance in miles.
func nearestCenter(lat, lon float64, centers []Center) (Center, float64) {
	best := centers[0]
	bestDist := haversineMiles(lat, lon, best.Lat, best.Lon)
	for _, c := range centers[1:] {
		if d := haversineMiles(lat, lon, c.Lat, c.Lon); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best, bestDist
}

// AssignCenters computes one cache row per resolvable ZIP: coordinates plus
// the nearest center assignment.
func AssignCenters(zips []string, g Geocoder, centers []Center) *table.Table {
	out := table.New(CacheColumns...)
	if len(centers) == 0 {
		return out
	}
	seen := make(map[string]bool, len(zips))
	for _, zip := range zips {
		if zip == "" || seen[zip] {
			continue
		}
		seen[zip] = true
		info, ok := g.Lookup(zip)
		if !ok {
			continue
		}
		center, dist := nearestCenter(info.Lat, info.Lon, centers)
		out.Append(table.Row{
			"zip_clean":            zip,
			"zip_lat":              strconv.FormatFloat(info.Lat, 'f', -1, 64),
			"zip_lon":              strconv.FormatFloat(info.Lon, 'f', -1, 64),
			"zip_state":            info.State,
			"zip_county":           info.County,
			"assigned_center_abbr": center.Abbr,
			"assigned_center_name": center.Name,
			"distance_miles":       strconv.FormatFloat(dist, 'f', 2, 64),
		})
	}
	return out
}

// MergeCache merges newly computed assignments into the persisted cache,
// last write wins per zip_clean.
func MergeCache(cache, computed *table.Table) *table.Table {
	combined := table.New(CacheColumns...)
	for i := 0; i < cache.Len(); i++ {
		combined.Append(cache.Row(i).Clone())
	}
	for i := 0; i < computed.Len(); i++ {
		combined.Append(computed.Row(i).Clone())
	}
	return combined.DropDuplicates(func(r table.Row) string { return r["zip_clean"] }, true)
}

// Options configures the session annotation pass.
type Options struct {
	// RawZipColumn is the export column holding the attendee's raw ZIP.
	RawZipColumn string
	// ClientColumn marks rows skipped entirely (clients already have a
	// center from the roster).
	ClientColumn string
	// AllowedStates / AllowedCounties define the service area; outside
	// values flag the row for review but never fail the run.
	AllowedStates   []string
	AllowedCounties []string
}

// AnnotateNonClients cleans ZIPs for non-client rows, assigns nearest
// centers through the cache, tags zip problems, and returns the annotated
// session plus the updated cache. Client rows are tagged client_skip and
// never flagged for review.
func AnnotateNonClients(session *table.Table, g Geocoder, centers []Center, cache *table.Table, opts Options) (*table.Table, *table.Table, error) {
	if err := session.Require("session", opts.RawZipColumn); err != nil {
		return nil, nil, err
	}

	out := session.Clone()
	for _, c := range []string{"zip_clean", "zip_problem", "missing_center", "needs_center_review"} {
		out.AddColumn(c)
	}

	// Clean ZIPs and collect the ones that need assignment
	var wanted []string
	for i := 0; i < out.Len(); i++ {
		if normalize.ParseBool(out.Get(i, opts.ClientColumn)) {
			continue
		}
		zip := normalize.CleanZip(out.Get(i, opts.RawZipColumn))
		out.Set(i, "zip_clean", zip)
		if zip != "" {
			wanted = append(wanted, zip)
		}
	}

	updated := MergeCache(cache, AssignCenters(wanted, g, centers))
	byZip := make(map[string]table.Row, updated.Len())
	for i := 0; i < updated.Len(); i++ {
		byZip[updated.Get(i, "zip_clean")] = updated.Row(i)
	}

	allowedState := toSet(opts.AllowedStates)
	allowedCounty := toSet(opts.AllowedCounties)

	for i := 0; i < out.Len(); i++ {
		if normalize.ParseBool(out.Get(i, opts.ClientColumn)) {
			out.Set(i, "zip_problem", ProblemClientSkip)
			out.Set(i, "missing_center", "false")
			out.Set(i, "needs_center_review", "false")
			continue
		}

		zip := out.Get(i, "zip_clean")
		hit := byZip[zip]

		problem := ProblemNone
		switch {
		case zip == "":
			problem = ProblemMissing
		case hit == nil:
			problem = ProblemNotFound
		case len(allowedState) > 0 && !allowedState[hit["zip_state"]]:
			problem = ProblemOutsideState
		case len(allowedCounty) > 0 && !allowedCounty[hit["zip_county"]]:
			problem = ProblemOutsideCounties
		}
		out.Set(i, "zip_problem", problem)

		for _, c := range CacheColumns[1:] {
			if v := hit[c]; v != "" {
				out.Set(i, c, v)
			}
		}

		missing := out.Get(i, "assigned_center_abbr") == ""
		out.Set(i, "missing_center", strconv.FormatBool(missing))
		out.Set(i, "needs_center_review", strconv.FormatBool(problem != ProblemNone || missing))
	}

	return out, updated, nil
}

func toSet(vals []string) map[string]bool {
	if len(vals) == 0 {
		return nil
	}
	m := make(map[string]bool, len(vals))
	for _, v := range vals {
		m[v] = true
	}
	return m
}
