package ingest

import (
	"fmt"
	"os"

	"github.com/paulmach/orb/geojson"
)

// ValidateGeoJSON parses the file as a GeoJSON FeatureCollection, falling
// back to a single Feature. This replaces the looser "parses as a JSON
// object" check from original_source/backend/src/validation.rs with a
// structural check using the teacher's own paulmach/orb dependency,
// redirected here from tile encoding to ingestion validation (see
// SPEC_FULL.md's DOMAIN STACK).
func ValidateGeoJSON(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("invalid geojson")
	}

	if _, err := geojson.UnmarshalFeatureCollection(data); err == nil {
		return nil
	}
	if _, err := geojson.UnmarshalFeature(data); err == nil {
		return nil
	}
	return fmt.Errorf("invalid geojson")
}
