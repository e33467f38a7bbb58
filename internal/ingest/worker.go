package ingest

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mapflow/mapflow/internal/catalog"
	"github.com/mapflow/mapflow/internal/store"
)

// Worker runs the background import of spec.md §4.3's "Background
// import (dynamic)" and "Background import (tile-archive)" sections.
// Grounded in original_source/backend/src/import.rs and mbtiles.rs's
// import_mbtiles, adapted onto store.Store/catalog.Catalog.
type Worker struct {
	Store   *store.Store
	Catalog *catalog.Catalog
	Log     zerolog.Logger
}

// Run executes the background import for one dataset. Called as a
// detached goroutine from the upload handler, mirroring tokio::spawn in
// original_source/backend/src/lib.rs's upload_file.
func (w *Worker) Run(datasetID, path string, kind catalog.StorageKind) {
	applied, err := w.Catalog.Transition(datasetID, catalog.StatusUploaded, catalog.StatusProcessing)
	if err != nil {
		w.Log.Error().Err(err).Str("dataset", datasetID).Msg("failed to transition to processing")
		return
	}
	if !applied {
		return
	}

	var importErr error
	switch kind {
	case catalog.StorageDynamic:
		importErr = w.importDynamic(datasetID, path)
	case catalog.StorageTileArchive:
		importErr = w.importTileArchive(datasetID, path)
	default:
		importErr = fmt.Errorf("unknown storage kind %q", kind)
	}

	if importErr != nil {
		w.Log.Error().Err(importErr).Str("dataset", datasetID).Msg("import failed")
		if err := w.Catalog.Fail(datasetID, importErr.Error()); err != nil {
			w.Log.Error().Err(err).Str("dataset", datasetID).Msg("failed to record import failure")
		}
		return
	}

	applied, err = w.Catalog.Transition(datasetID, catalog.StatusProcessing, catalog.StatusReady)
	if err != nil || !applied {
		w.Log.Error().Err(err).Str("dataset", datasetID).Msg("failed to transition to ready")
	}
}

// importDynamic reads the source file with the spatial engine into a
// fresh per-dataset table, normalizes columns, persists the column schema,
// and computes the WGS-84 bounding box, all inside one transaction. The
// CRS probe runs before that transaction, and Run makes the
// processing→ready transition after it commits.
func (w *Worker) importDynamic(datasetID, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("cannot resolve file path %s: %w", path, err)
	}
	readPath := absPath
	if strings.EqualFold(filepath.Ext(absPath), ".zip") {
		readPath = "/vsizip/" + absPath
	}

	tableName := "layer_" + sanitizeTableSuffix(datasetID)

	var detectedCRS string
	_ = w.Store.DB().QueryRow(
		fmt.Sprintf(`SELECT layers[1].geometry_fields[1].crs.auth_name || ':' || layers[1].geometry_fields[1].crs.auth_code FROM ST_Read_Meta('%s')`, escapeSQL(readPath)),
	).Scan(&detectedCRS)
	sourceCRS := detectedCRS
	if sourceCRS == "" {
		sourceCRS = "EPSG:4326"
	}

	return w.Store.WithWrite(func(tx *sql.Tx) error {
		if _, err := tx.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quoteIdent(tableName))); err != nil {
			return fmt.Errorf("io: drop stale table: %w", err)
		}

		createSQL := fmt.Sprintf(
			`CREATE TABLE %s AS SELECT row_number() OVER ()::BIGINT AS fid, * FROM ST_Read('%s')`,
			quoteIdent(tableName), escapeSQL(readPath),
		)
		if _, err := tx.Exec(createSQL); err != nil {
			return fmt.Errorf("spatial import failed: %w", err)
		}

		cols, err := introspectColumns(tx, tableName)
		if err != nil {
			return err
		}
		if err := renameGeometryColumn(tx, tableName, cols); err != nil {
			return err
		}
		cols, err = introspectColumns(tx, tableName)
		if err != nil {
			return err
		}

		schemaCols, err := normalizeAndCoerce(tx, tableName, cols)
		if err != nil {
			return err
		}
		if err := catalog.InsertColumns(tx, datasetID, schemaCols); err != nil {
			return fmt.Errorf("io: insert column schema: %w", err)
		}

		bbox, err := computeBBox(tx, tableName, sourceCRS)
		if err != nil {
			return err
		}

		_, err = tx.Exec(
			`UPDATE files SET crs = ?, table_name = ?, bbox_minx = ?, bbox_miny = ?, bbox_maxx = ?, bbox_maxy = ? WHERE id = ?`,
			sourceCRS, tableName, bbox[0], bbox[1], bbox[2], bbox[3], datasetID,
		)
		if err != nil {
			return fmt.Errorf("io: persist import result: %w", err)
		}
		return nil
	})
}

type columnInfo struct {
	Name     string
	DataType string
	Ordinal  int
}

func introspectColumns(tx *sql.Tx, tableName string) ([]columnInfo, error) {
	rows, err := tx.Query(
		`SELECT column_name, data_type, ordinal_position FROM information_schema.columns
		 WHERE table_schema = 'main' AND table_name = ? ORDER BY ordinal_position`,
		tableName,
	)
	if err != nil {
		return nil, fmt.Errorf("io: introspect columns: %w", err)
	}
	defer rows.Close()

	var out []columnInfo
	for rows.Next() {
		var c columnInfo
		if err := rows.Scan(&c.Name, &c.DataType, &c.Ordinal); err != nil {
			return nil, fmt.Errorf("io: scan column metadata: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// renameGeometryColumn ensures the geometry column is named `geom` for
// downstream queries, matching import.rs's geometry-column normalization.
func renameGeometryColumn(tx *sql.Tx, tableName string, cols []columnInfo) error {
	for _, c := range cols {
		if strings.EqualFold(c.DataType, "GEOMETRY") && c.Name != "geom" {
			alter := fmt.Sprintf(`ALTER TABLE %s RENAME COLUMN %s TO geom`, quoteIdent(tableName), quoteIdent(c.Name))
			if _, err := tx.Exec(alter); err != nil {
				return fmt.Errorf("failed to normalize geometry column: %w", err)
			}
		}
	}
	return nil
}

// normalizeAndCoerce renames non-identifier columns, de-duplicates
// collisions, coerces unsupported property types to MVT-safe types, and
// returns the resulting schema entries in ordinal order.
func normalizeAndCoerce(tx *sql.Tx, tableName string, cols []columnInfo) ([]catalog.ColumnEntry, error) {
	originals := make([]string, 0, len(cols))
	for _, c := range cols {
		lower := strings.ToLower(c.Name)
		if lower == "fid" || lower == "geom" {
			continue
		}
		originals = append(originals, c.Name)
	}
	normalized := catalog.DedupeColumnNames(originals)

	var schema []catalog.ColumnEntry
	idx := 0
	for _, c := range cols {
		lower := strings.ToLower(c.Name)
		if lower == "fid" || lower == "geom" {
			continue
		}
		newName := normalized[idx]
		idx++

		if newName != lower {
			alter := fmt.Sprintf(`ALTER TABLE %s RENAME COLUMN %s TO %s`, quoteIdent(tableName), quoteIdent(c.Name), quoteIdent(newName))
			if _, err := tx.Exec(alter); err != nil {
				return nil, fmt.Errorf("failed to normalize column name: %w", err)
			}
		}

		mvtType, castTo := catalog.MVTTypeFor(c.DataType)
		if castTo != "" {
			alter := fmt.Sprintf(`ALTER TABLE %s ALTER COLUMN %s SET DATA TYPE %s`, quoteIdent(tableName), quoteIdent(newName), castTo)
			if _, err := tx.Exec(alter); err != nil {
				return nil, fmt.Errorf("failed to coerce column type: %w", err)
			}
		}

		schema = append(schema, catalog.ColumnEntry{
			Ordinal:        idx - 1,
			OriginalName:   c.Name,
			NormalizedName: newName,
			MVTType:        mvtType,
		})
	}
	return schema, nil
}

// computeBBox transforms the dataset table's geometry envelope into
// WGS-84 (spec.md §4.3 step 6), returning a zeroed box when the table has
// no rows.
func computeBBox(tx *sql.Tx, tableName, sourceCRS string) ([4]float64, error) {
	query := fmt.Sprintf(
		`SELECT ST_XMin(b), ST_YMin(b), ST_XMax(b), ST_YMax(b) FROM (
			SELECT ST_Extent(ST_Transform(geom, '%s', 'EPSG:4326', always_xy := true)) AS b FROM %s
		)`,
		escapeSQL(sourceCRS), quoteIdent(tableName),
	)
	var minx, miny, maxx, maxy sql.NullFloat64
	if err := tx.QueryRow(query).Scan(&minx, &miny, &maxx, &maxy); err != nil {
		return [4]float64{}, fmt.Errorf("failed to compute bounding box: %w", err)
	}
	return [4]float64{minx.Float64, miny.Float64, maxx.Float64, maxy.Float64}, nil
}

// importTileArchive reads .mbtiles metadata and the probed tile format,
// per spec.md §4.3's "Background import (tile-archive)".
func (w *Worker) importTileArchive(datasetID, path string) error {
	meta, err := ExtractMBTilesMetadata(path)
	if err != nil {
		return err
	}

	tileFormat, err := ProbeTileFormat(path)
	if err != nil {
		return fmt.Errorf("unsupported tile payload: %w", err)
	}

	var layersMeta string
	if tileFormat == "mvt" && len(meta.VectorLayers) > 0 {
		encoded, err := json.Marshal(meta.VectorLayers)
		if err != nil {
			return fmt.Errorf("failed to encode vector layer metadata: %w", err)
		}
		layersMeta = string(encoded)
	}

	return w.Catalog.SetTileArchiveMeta(datasetID, "EPSG:3857", tileFormat, meta.MinZoom, meta.MaxZoom, meta.Bounds, layersMeta)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func escapeSQL(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func sanitizeTableSuffix(id string) string {
	return strings.ReplaceAll(id, "-", "_")
}
