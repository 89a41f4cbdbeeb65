// Package artifact writes and parses the GeoJSON documents produced for each
// converted payload.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/JakeFAU/archive-ingest/internal/ingest"
)

// ContentType is the media type of stored artifacts.
const ContentType = "application/geo+json"

// PayloadMimeType is advertised in the download service of every feature.
const PayloadMimeType = "application/x-netcdf"

// Track is the content of one artifact: a ground track plus its properties.
type Track struct {
	// ID is the source file name.
	ID  string
	Lon []float64
	Lat []float64
	// Properties holds global attributes and the "variables" map.
	Properties map[string]any
	// DownloadURL is the remote location of the source payload.
	DownloadURL string
}

// NormalizeLongitude maps longitudes above 180 into [-180, 180].
func NormalizeLongitude(lon float64) float64 {
	if lon > 180 {
		return lon - 360
	}
	return lon
}

// Build renders the track as a single-feature FeatureCollection.
func Build(t Track) ([]byte, error) {
	if t.ID == "" {
		return nil, errors.New("build artifact: empty feature id")
	}
	if len(t.Lon) != len(t.Lat) {
		return nil, fmt.Errorf("build artifact %s: %d longitudes for %d latitudes", t.ID, len(t.Lon), len(t.Lat))
	}

	coords := make([]geom.Coord, 0, len(t.Lon))
	for i := range t.Lon {
		lon, lat := t.Lon[i], t.Lat[i]
		if math.IsNaN(lon) || math.IsNaN(lat) || math.IsInf(lon, 0) || math.IsInf(lat, 0) {
			continue
		}
		coords = append(coords, geom.Coord{NormalizeLongitude(lon), lat})
	}

	feature := &geojson.Feature{
		ID:         t.ID,
		Properties: make(map[string]any, len(t.Properties)+1),
	}
	for k, v := range t.Properties {
		feature.Properties[k] = v
	}
	if t.DownloadURL != "" {
		feature.Properties["services"] = map[string]any{
			"download": map[string]any{
				"mimetype": PayloadMimeType,
				"url":      t.DownloadURL,
			},
		}
	}
	if len(coords) > 0 {
		ls, err := geom.NewLineString(geom.XY).SetCoords(coords)
		if err != nil {
			return nil, fmt.Errorf("build artifact %s: %w", t.ID, err)
		}
		feature.Geometry = ls
		feature.BBox = ls.Bounds()
	}

	fc := &geojson.FeatureCollection{Features: []*geojson.Feature{feature}}
	data, err := json.Marshal(fc)
	if err != nil {
		return nil, fmt.Errorf("encode artifact %s: %w", t.ID, err)
	}
	return data, nil
}

// Parse decodes an artifact and checks that it holds at least one identified feature.
// Every failure wraps ingest.ErrCorruptOutput.
func Parse(data []byte) (*geojson.FeatureCollection, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty document", ingest.ErrCorruptOutput)
	}
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("%w: %v", ingest.ErrCorruptOutput, err)
	}
	if len(fc.Features) == 0 {
		return nil, fmt.Errorf("%w: no features", ingest.ErrCorruptOutput)
	}
	for i, f := range fc.Features {
		if f == nil || f.ID == "" {
			return nil, fmt.Errorf("%w: feature %d has no id", ingest.ErrCorruptOutput, i)
		}
		if f.Geometry != nil {
			if _, ok := f.Geometry.(*geom.LineString); !ok {
				return nil, fmt.Errorf("%w: feature %s geometry is %T", ingest.ErrCorruptOutput, f.ID, f.Geometry)
			}
		}
	}
	return &fc, nil
}

// Validator adapts Parse to ingest.ArtifactValidator.
type Validator struct{}

// Validate reports whether data is a well-formed artifact.
func (Validator) Validate(data []byte) error {
	_, err := Parse(data)
	return err
}

var _ ingest.ArtifactValidator = Validator{}
