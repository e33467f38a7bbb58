// MBTiles handling: structure validation, metadata extraction, tile
// payload format probing, and tile lookup with the XYZ->TMS y-flip.
// Grounded in original_source/backend/src/mbtiles.rs, adapted from
// rusqlite onto database/sql + github.com/mattn/go-sqlite3 (see
// SPEC_FULL.md's DOMAIN STACK; also present in tomberek-jsql's go.mod).
package ingest

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// ValidateMBTilesStructure checks that the sqlite file has the required
// `metadata` and `tiles` tables.
func ValidateMBTilesStructure(path string) error {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("invalid mbtiles file: %w", err)
	}
	defer db.Close()

	for _, table := range []string{"metadata", "tiles"} {
		var exists bool
		err := db.QueryRow(
			`SELECT EXISTS(SELECT 1 FROM sqlite_master WHERE type='table' AND name=?)`, table,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check %s table: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("mbtiles file missing %s table", table)
		}
	}
	return nil
}

// VectorLayer is one entry of an mbtiles vector tileset's `json` metadata
// key's `vector_layers` array, per the mbtiles spec's metadata reference
// and spec.md §4.5's "layers parsed from the archive's metadata JSON".
type VectorLayer struct {
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields"`
}

// MBTilesMetadata is the parsed `metadata` key/value table.
type MBTilesMetadata struct {
	Format       string
	Bounds       *[4]float64
	MinZoom      int
	MaxZoom      int
	Name         string
	VectorLayers []VectorLayer
}

// ExtractMBTilesMetadata reads the metadata table, grounded in
// mbtiles.rs's extract_mbtiles_metadata.
func ExtractMBTilesMetadata(path string) (MBTilesMetadata, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return MBTilesMetadata{}, fmt.Errorf("cannot open mbtiles file: %w", err)
	}
	defer db.Close()

	meta := MBTilesMetadata{Format: "pbf"}
	rows, err := db.Query(`SELECT name, value FROM metadata`)
	if err != nil {
		return MBTilesMetadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}
	defer rows.Close()

	var boundsRaw, jsonRaw string
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return MBTilesMetadata{}, fmt.Errorf("failed to read metadata row: %w", err)
		}
		switch key {
		case "format":
			meta.Format = value
		case "bounds":
			boundsRaw = value
		case "minzoom":
			fmt.Sscanf(value, "%d", &meta.MinZoom)
		case "maxzoom":
			fmt.Sscanf(value, "%d", &meta.MaxZoom)
		case "name":
			meta.Name = value
		case "json":
			jsonRaw = value
		}
	}
	if err := rows.Err(); err != nil {
		return MBTilesMetadata{}, err
	}

	if boundsRaw != "" {
		var b [4]float64
		if _, err := fmt.Sscanf(boundsRaw, "%g,%g,%g,%g", &b[0], &b[1], &b[2], &b[3]); err == nil {
			meta.Bounds = &b
		}
	}

	if jsonRaw != "" {
		var blob struct {
			VectorLayers []VectorLayer `json:"vector_layers"`
		}
		// A malformed or absent vector_layers key just leaves the schema
		// endpoint reporting no layers; it isn't a reason to fail the import.
		if err := json.Unmarshal([]byte(jsonRaw), &blob); err == nil {
			meta.VectorLayers = blob.VectorLayers
		}
	}
	return meta, nil
}

// pngSignature is the canonical 8-byte PNG magic number.
var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// ProbeTileFormat reads one tile row from the archive and classifies the
// payload by byte signature rather than trusting metadata.format, per
// spec.md §4.3's literal instruction.
func ProbeTileFormat(path string) (tileFormat string, err error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return "", fmt.Errorf("cannot open mbtiles file: %w", err)
	}
	defer db.Close()

	var data []byte
	err = db.QueryRow(`SELECT tile_data FROM tiles LIMIT 1`).Scan(&data)
	if err == sql.ErrNoRows || len(data) == 0 {
		return "", fmt.Errorf("mbtiles archive contains no tiles to probe")
	}
	if err != nil {
		return "", fmt.Errorf("failed to read sample tile: %w", err)
	}

	if looksLikePNG(data) {
		return "png", nil
	}
	if looksLikeMVT(data) {
		return "mvt", nil
	}
	return "", fmt.Errorf("unsupported tile payload")
}

func looksLikePNG(data []byte) bool {
	if len(data) < len(pngSignature) {
		return false
	}
	for i, b := range pngSignature {
		if data[i] != b {
			return false
		}
	}
	return true
}

// looksLikeMVT does a minimal structural scan for a well-formed top-level
// Mapbox Vector Tile protobuf: a Tile message is a sequence of field-3
// (layers), wire-type-2 (length-delimited) entries, so the first byte
// must be the varint tag 0x1a (field 3 << 3 | wiretype 2) followed by a
// plausible varint length that does not overrun the buffer.
func looksLikeMVT(data []byte) bool {
	if len(data) < 2 {
		return false
	}
	if data[0] != 0x1a {
		return false
	}
	length, n := decodeVarint(data[1:])
	if n == 0 {
		return false
	}
	return int(length) <= len(data)-1-n
}

func decodeVarint(b []byte) (value uint64, n int) {
	var shift uint
	for i := 0; i < len(b) && i < 10; i++ {
		v := b[i]
		value |= uint64(v&0x7f) << shift
		if v&0x80 == 0 {
			return value, i + 1
		}
		shift += 7
	}
	return 0, 0
}

// GetTile fetches tile (z, x, y) in XYZ convention, internally flipping y
// to the TMS convention mbtiles stores rows in
// (y_TMS = 2^z - 1 - y_XYZ, per spec.md GLOSSARY). Returns (nil, nil) when
// the coordinate is valid but absent.
func GetTile(path string, z, x, y int) ([]byte, error) {
	tmsY := (1 << z) - 1 - y

	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("cannot open mbtiles file: %w", err)
	}
	defer db.Close()

	var data []byte
	err = db.QueryRow(
		`SELECT tile_data FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`,
		z, x, tmsY,
	).Scan(&data)
	if err == sql.ErrNoRows || len(data) == 0 {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read tile: %w", err)
	}
	return data, nil
}
