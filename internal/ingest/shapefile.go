package ingest

import (
	"archive/zip"
	"fmt"
	"path"
	"strings"
)

// ValidateShapefileZip requires a matching `.shp`/`.shx`/`.dbf` triplet
// (same basename) somewhere in the archive, `.prj` optional. Grounded in
// original_source/backend/src/validation.rs's validate_shapefile_zip.
func ValidateShapefileZip(zipPath string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("unable to read zip file")
	}
	defer r.Close()

	var names []string
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		names = append(names, strings.ToLower(path.Base(f.Name)))
	}

	var shpBases []string
	for _, n := range names {
		if base, ok := strings.CutSuffix(n, ".shp"); ok {
			shpBases = append(shpBases, base)
		}
	}
	if len(shpBases) == 0 {
		return fmt.Errorf("missing .shp file in zip")
	}

	has := func(name string) bool {
		for _, n := range names {
			if n == name {
				return true
			}
		}
		return false
	}

	for _, base := range shpBases {
		if has(base+".shx") && has(base+".dbf") {
			return nil
		}
	}
	return fmt.Errorf("shapefile zip must include .shp/.shx/.dbf with the same name")
}
