// Package ingest is the ingestion pipeline of spec.md §4.3: multipart
// receive, format detection, and the background import worker. Grounded
// in original_source/backend/src/lib.rs's upload_file/import_spatial_data
// and main.rs's validate_shapefile_zip/validate_geojson, adapted onto the
// catalog + store packages.
package ingest

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/mapflow/mapflow/internal/catalog"
	"github.com/mapflow/mapflow/internal/httperr"
)

// formatTable is spec.md §4.3's format detection table.
var formatTable = map[string]catalog.StorageKind{
	".zip":       catalog.StorageDynamic,
	".geojson":   catalog.StorageDynamic,
	".json":      catalog.StorageDynamic,
	".geojsonl":  catalog.StorageDynamic,
	".geojsons":  catalog.StorageDynamic,
	".kml":       catalog.StorageDynamic,
	".gpx":       catalog.StorageDynamic,
	".topojson":  catalog.StorageDynamic,
	".mbtiles":   catalog.StorageTileArchive,
}

// DetectFormat looks up the storage kind for a file extension
// (case-insensitive), per spec.md §4.3's format detection table.
func DetectFormat(filename string) (catalog.StorageKind, bool) {
	ext := strings.ToLower(filepath.Ext(filename))
	kind, ok := formatTable[ext]
	return kind, ok
}

// Receiver implements the request-thread receive phase of spec.md §4.3.
type Receiver struct {
	UploadDir      string
	MaxSizeBytes   int64
	MaxSizeLabel   string
	Catalog        *catalog.Catalog
	Enqueue        func(datasetID, path string, kind catalog.StorageKind)
}

// Receive streams the "file" multipart field to
// <UploadDir>/<id>/<original filename>, detects its format, validates
// archive contents, creates the catalog row, and enqueues the background
// import job.
func (rc *Receiver) Receive(r *http.Request) (catalog.Dataset, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return catalog.Dataset{}, httperr.Validation("malformed multipart body")
	}

	var part *multipart.Part
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			return catalog.Dataset{}, httperr.Validation("no file uploaded")
		}
		if err != nil {
			return catalog.Dataset{}, httperr.Validation("malformed multipart body")
		}
		if p.FormName() == "file" {
			part = p
			break
		}
	}

	originalName := filepath.Base(part.FileName())
	if originalName == "" || originalName == "." || originalName == string(filepath.Separator) {
		return catalog.Dataset{}, httperr.Validation("missing file name")
	}

	kind, ok := DetectFormat(originalName)
	if !ok {
		return catalog.Dataset{}, httperr.Validation("unsupported file type")
	}

	id := catalog.NewID()
	dir := filepath.Join(rc.UploadDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return catalog.Dataset{}, fmt.Errorf("io: create upload dir: %w", err)
	}

	destPath := filepath.Join(dir, originalName)
	size, err := streamWithLimit(part, destPath, rc.MaxSizeBytes)
	if err != nil {
		os.RemoveAll(dir)
		if err == errTooLarge {
			return catalog.Dataset{}, httperr.TooLarge(fmt.Sprintf("file too large (max %s)", rc.MaxSizeLabel))
		}
		return catalog.Dataset{}, fmt.Errorf("io: write upload: %w", err)
	}

	if msg, ok := validateArchive(kind, destPath); !ok {
		d, cerr := rc.Catalog.Create(id, stem(originalName), size, kind, relativePath(destPath))
		if cerr == nil {
			rc.Catalog.Fail(d.ID, msg)
		}
		return catalog.Dataset{}, httperr.Validation(msg)
	}

	d, err := rc.Catalog.Create(id, stem(originalName), size, kind, relativePath(destPath))
	if err != nil {
		return catalog.Dataset{}, err
	}

	rc.Enqueue(d.ID, destPath, kind)
	return d, nil
}

func stem(name string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext)
}

// relativePath renders a forward-slash, "./"-prefixed path the way
// original_source/backend/src/lib.rs's upload_file does for the stored
// `path` field.
func relativePath(path string) string {
	cwd, err := os.Getwd()
	rel := path
	if err == nil {
		if r, err := filepath.Rel(cwd, path); err == nil {
			rel = r
		}
	}
	rel = strings.ReplaceAll(rel, string(filepath.Separator), "/")
	if !strings.HasPrefix(rel, ".") {
		rel = "./" + rel
	}
	return rel
}

func validateArchive(kind catalog.StorageKind, path string) (string, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip":
		if err := ValidateShapefileZip(path); err != nil {
			return err.Error(), false
		}
	case ".geojson", ".json":
		if err := ValidateGeoJSON(path); err != nil {
			return err.Error(), false
		}
	case ".mbtiles":
		if err := ValidateMBTilesStructure(path); err != nil {
			return err.Error(), false
		}
	}
	return "", true
}
