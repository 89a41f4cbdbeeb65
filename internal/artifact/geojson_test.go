package artifact

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/JakeFAU/archive-ingest/internal/ingest"
)

func TestNormalizeLongitude(t *testing.T) {
	t.Parallel()

	cases := map[float64]float64{
		0:      0,
		180:    180,
		180.5:  -179.5,
		359.75: -0.25,
		-42:    -42,
	}
	for in, want := range cases {
		assert.InDelta(t, want, NormalizeLongitude(in), 1e-9, "lon %v", in)
	}
}

func TestBuildThenParse(t *testing.T) {
	t.Parallel()

	data, err := Build(Track{
		ID:  "JA2_GPN_2PdP001_001_20080712.nc",
		Lon: []float64{350, 355, 5},
		Lat: []float64{-10, -5, 0},
		Properties: map[string]any{
			"mission_name": "OSTM/Jason-2",
			"variables":    map[string]any{"surface_type": []string{"land. See Jason-1 User Handbook"}},
		},
		DownloadURL: "ftp://archive.example/cycle_001/JA2_GPN_2PdP001_001_20080712.nc",
	})
	require.NoError(t, err)

	fc, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)

	f := fc.Features[0]
	require.Equal(t, "JA2_GPN_2PdP001_001_20080712.nc", f.ID)
	ls, ok := f.Geometry.(*geom.LineString)
	require.True(t, ok)
	require.Equal(t, 3, ls.NumCoords())
	assert.InDelta(t, -10.0, ls.Coord(0).X(), 1e-9)
	assert.InDelta(t, 5.0, ls.Coord(2).X(), 1e-9)
	require.NotNil(t, f.BBox)
	assert.InDelta(t, -10.0, f.BBox.Min(0), 1e-9)
	assert.InDelta(t, 0.0, f.BBox.Max(1), 1e-9)

	assert.Equal(t, "OSTM/Jason-2", f.Properties["mission_name"])
	services, ok := f.Properties["services"].(map[string]any)
	require.True(t, ok)
	download := services["download"].(map[string]any)
	assert.Equal(t, PayloadMimeType, download["mimetype"])
	assert.Equal(t, "ftp://archive.example/cycle_001/JA2_GPN_2PdP001_001_20080712.nc", download["url"])
}

func TestBuildSkipsNonFiniteCoordinates(t *testing.T) {
	t.Parallel()

	data, err := Build(Track{
		ID:  "a.nc",
		Lon: []float64{1, math.NaN(), 3},
		Lat: []float64{1, 2, math.Inf(1)},
	})
	require.NoError(t, err)

	fc, err := Parse(data)
	require.NoError(t, err)
	ls := fc.Features[0].Geometry.(*geom.LineString)
	require.Equal(t, 1, ls.NumCoords())
}

func TestBuildWithoutTrackHasNullGeometry(t *testing.T) {
	t.Parallel()

	data, err := Build(Track{ID: "empty.nc"})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	feature := raw["features"].([]any)[0].(map[string]any)
	require.Nil(t, feature["geometry"])

	require.NoError(t, Validator{}.Validate(data))
}

func TestBuildRejectsBadInput(t *testing.T) {
	t.Parallel()

	_, err := Build(Track{})
	require.Error(t, err)

	_, err = Build(Track{ID: "x.nc", Lon: []float64{1}, Lat: nil})
	require.ErrorContains(t, err, "1 longitudes for 0 latitudes")
}

func TestParseCorruptDocuments(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"empty":        "",
		"truncated":    `{"type":"FeatureCollection","features":[{"type":"Feat`,
		"wrong type":   `{"type":"Feature","geometry":null,"properties":{}}`,
		"no features":  `{"type":"FeatureCollection","features":[]}`,
		"missing id":   `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":null,"properties":{}}]}`,
		"point track":  `{"type":"FeatureCollection","features":[{"type":"Feature","id":"a.nc","geometry":{"type":"Point","coordinates":[1,2]},"properties":{}}]}`,
		"not json":     "netcdf bytes",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(doc))
			require.ErrorIs(t, err, ingest.ErrCorruptOutput)
			require.ErrorIs(t, Validator{}.Validate([]byte(doc)), ingest.ErrCorruptOutput)
		})
	}
}
