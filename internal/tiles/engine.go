// Package tiles is the tile generation engine of spec.md §4.4: coordinate
// validation, the readiness gate, dynamic on-the-fly MVT encoding via the
// spatial store's SQL surface, tile-archive lookup, and the process-wide
// de-duplication of identical in-flight requests. Grounded in
// original_source/backend/src/lib.rs's get_tile/get_tile_by_slug handlers
// and main.rs's dynamic-tile SQL, adapted from raw SQLite reads onto
// DuckDB's ST_AsMVT family and golang.org/x/sync/singleflight (present in
// the teacher's broader module graph's staple-dedup idiom).
package tiles

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/mapflow/mapflow/internal/catalog"
	"github.com/mapflow/mapflow/internal/httperr"
	"github.com/mapflow/mapflow/internal/ingest"
	"github.com/mapflow/mapflow/internal/store"
)

// Engine renders tiles for both dynamic datasets and tile archives.
type Engine struct {
	Store   *store.Store
	Catalog *catalog.Catalog
	Log     zerolog.Logger
	group   singleflight.Group
}

func New(s *store.Store, c *catalog.Catalog, log zerolog.Logger) *Engine {
	return &Engine{Store: s, Catalog: c, Log: log}
}

// Result is the outcome of a tile request: either a payload with a status
// and content type, or a zero-length/absent-tile response, per spec.md
// §4.4's "empty result still returns 200" and "absent → no-content (204)"
// rules, which are distinct outcomes for the two storage kinds.
type Result struct {
	Data        []byte
	ContentType string
	Status      int
}

const mvtContentType = "application/vnd.mapbox-vector-tile"

// ValidateCoords enforces spec.md §4.4's `0 ≤ z ≤ 22; 0 ≤ x,y < 2^z`.
func ValidateCoords(z, x, y int) error {
	if z < 0 || z > 22 {
		return httperr.Validation("invalid-coordinates")
	}
	max := 1 << z
	if x < 0 || x >= max || y < 0 || y >= max {
		return httperr.Validation("invalid-coordinates")
	}
	return nil
}

// RenderByID renders a tile for an admin-facing, id-addressed dataset.
func (e *Engine) RenderByID(id string, z, x, y int) (Result, error) {
	return e.render(id, func() (catalog.Dataset, error) { return e.Catalog.Get(id) }, z, x, y)
}

// RenderBySlug renders a tile for the public slug-addressed route (spec.md
// §4.7), reusing the same engine verbatim.
func (e *Engine) RenderBySlug(slug string, z, x, y int) (Result, error) {
	return e.render(slug, func() (catalog.Dataset, error) { return e.Catalog.GetBySlug(slug) }, z, x, y)
}

// render is the shared core: validate, fetch once, and de-duplicate
// concurrent identical requests through singleflight, per spec.md §4.4's
// "De-duplication" section.
func (e *Engine) render(key string, lookup func() (catalog.Dataset, error), z, x, y int) (Result, error) {
	if err := ValidateCoords(z, x, y); err != nil {
		return Result{}, err
	}

	fingerprint := fmt.Sprintf("%s/%d/%d/%d", key, z, x, y)
	v, err, _ := e.group.Do(fingerprint, func() (any, error) {
		d, err := lookup()
		if err != nil {
			return nil, err
		}
		return e.renderDataset(d, z, x, y)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (e *Engine) renderDataset(d catalog.Dataset, z, x, y int) (Result, error) {
	if d.Status != catalog.StatusReady {
		return Result{}, httperr.Conflict("not-ready")
	}

	switch d.StorageKind {
	case catalog.StorageDynamic:
		return e.renderDynamic(d, z, x, y)
	case catalog.StorageTileArchive:
		return e.renderArchive(d, z, x, y)
	default:
		return Result{}, httperr.Internal(e.Log, fmt.Errorf("unknown storage kind %q", d.StorageKind))
	}
}

// renderDynamic builds and runs the on-the-fly MVT query of spec.md §4.4
// steps 1-5: tile envelope in Web Mercator, transformed into the dataset's
// source CRS for an index-friendly filter, clip-and-quantize geometry via
// ST_AsMVTGeom, then aggregate via ST_AsMVT.
func (e *Engine) renderDynamic(d catalog.Dataset, z, x, y int) (Result, error) {
	if !d.TableName.Valid {
		return Result{}, httperr.Conflict("not-ready")
	}
	cols, err := e.Catalog.Columns(d.ID)
	if err != nil {
		return Result{}, err
	}

	sourceCRS := "EPSG:4326"
	if d.CRS.Valid && d.CRS.String != "" {
		sourceCRS = d.CRS.String
	}

	query := buildDynamicTileQuery(d.TableName.String, sourceCRS, cols, z, x, y)

	var data []byte
	err = e.Store.DB().QueryRow(query).Scan(&data)
	if err == sql.ErrNoRows {
		return Result{Data: []byte{}, ContentType: mvtContentType, Status: 200}, nil
	}
	if err != nil {
		return Result{}, httperr.Internal(e.Log, fmt.Errorf("tile query failed: %w", err))
	}
	return Result{Data: data, ContentType: mvtContentType, Status: 200}, nil
}

// buildDynamicTileQuery renders the SQL text for spec.md §4.4's dynamic
// tile path: tile envelope in Web Mercator, transformed into the dataset's
// source CRS for an index-friendly filter, geometry clipped/quantized with
// ST_AsMVTGeom, then aggregated with ST_AsMVT. Split out from renderDynamic
// so it can be exercised by a golden-string test without a live engine.
// Struct keys and SELECT aliases use each column's NormalizedName rather
// than its OriginalName, so the MVT property key and the schema/feature
// endpoints agree on one identifier per column. This departs from
// original_source/backend/src/tiles.rs, which keys the MVT struct by the
// source column's original display name.
func buildDynamicTileQuery(tableName, sourceCRS string, cols []catalog.ColumnEntry, z, x, y int) string {
	structFields := make([]string, 0, len(cols)+2)
	selectFields := make([]string, 0, len(cols))
	for _, c := range cols {
		structFields = append(structFields, fmt.Sprintf("%s := %s", quoteIdent(c.NormalizedName), quoteIdent(c.NormalizedName)))
		selectFields = append(selectFields, quoteIdent(c.NormalizedName))
	}
	structFields = append(structFields, "fid := fid", "geom := tile_geom")

	return fmt.Sprintf(`
WITH merc_envelope AS (
  SELECT ST_TileEnvelope(%d, %d, %d) AS env
),
src_envelope AS (
  SELECT ST_Transform(env, 'EPSG:3857', '%s', always_xy := true) AS env FROM merc_envelope
),
mvtgeom AS (
  SELECT
    t.fid AS fid,
    %s
    ST_AsMVTGeom(
      ST_Transform(t.geom, '%s', 'EPSG:3857', always_xy := true),
      (SELECT env FROM merc_envelope),
      4096, 64, true
    ) AS tile_geom
  FROM %s t, src_envelope s
  WHERE ST_Intersects(t.geom, s.env)
)
SELECT ST_AsMVT(struct_pack(%s), '%s', 4096, 'geom', 'fid')
FROM mvtgeom WHERE tile_geom IS NOT NULL
`,
		z, x, y,
		escapeSQL(sourceCRS),
		selectPrefix(selectFields),
		escapeSQL(sourceCRS),
		quoteIdent(tableName),
		strings.Join(structFields, ", "),
		escapeSQL(tableName),
	)
}

func selectPrefix(fields []string) string {
	if len(fields) == 0 {
		return ""
	}
	return "t." + strings.Join(fields, ", t.") + ",\n    "
}

// renderArchive looks up (z, x, y) in the archive, applying the tile-archive
// zoom gate and the XYZ->TMS flip of spec.md §4.4 "Tile-archive datasets".
func (e *Engine) renderArchive(d catalog.Dataset, z, x, y int) (Result, error) {
	if d.MinZoom.Valid && int64(z) < d.MinZoom.Int64 {
		return Result{Status: 204}, nil
	}
	if d.MaxZoom.Valid && int64(z) > d.MaxZoom.Int64 {
		return Result{Status: 204}, nil
	}

	data, err := ingest.GetTile(d.Path, z, x, y)
	if err != nil {
		return Result{}, httperr.Internal(e.Log, err)
	}
	if data == nil {
		return Result{Status: 204}, nil
	}

	contentType := "image/png"
	if d.TileFormat.Valid && d.TileFormat.String == "mvt" {
		contentType = mvtContentType
	}
	return Result{Data: data, ContentType: contentType, Status: 200}, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func escapeSQL(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
