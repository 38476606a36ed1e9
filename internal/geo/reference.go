package geo

import (
	"strconv"

	"github.com/sbdcnet/attendance-reconciler/internal/table"
)

// LoadZipReference builds a StaticGeocoder from a reference table
// (zip, lat, lon, state, county). Rows with unparseable coordinates are
// skipped rather than failing the load.
func LoadZipReference(t *table.Table) (StaticGeocoder, error) {
	if err := t.Require("zip reference", "zip", "lat", "lon", "state", "county"); err != nil {
		return nil, err
	}
	g := make(StaticGeocoder, t.Len())
	for i := 0; i < t.Len(); i++ {
		zip := t.Get(i, "zip")
		if zip == "" {
			continue
		}
		lat, err1 := strconv.ParseFloat(t.Get(i, "lat"), 64)
		lon, err2 := strconv.ParseFloat(t.Get(i, "lon"), 64)
		if err1 != nil || err2 != nil {
			continue
		}
		g[zip] = ZipInfo{
			Lat:    lat,
			Lon:    lon,
			State:  t.Get(i, "state"),
			County: t.Get(i, "county"),
		}
	}
	return g, nil
}
