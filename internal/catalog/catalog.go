// Package catalog is the dataset catalog of spec.md §4.2: the persistent
// index of uploaded files, their lifecycle state, and publish state.
// Grounded in original_source/backend/src/db.rs (schema, reconciliation)
// and lib.rs/main.rs's FileItem row shape, adapted onto store.Store.
package catalog

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mapflow/mapflow/internal/httperr"
	"github.com/mapflow/mapflow/internal/store"
)

// StorageKind distinguishes a dynamic per-dataset table from a
// pre-rendered tile archive (spec.md §3 Dataset.storage kind).
type StorageKind string

const (
	StorageDynamic     StorageKind = "dynamic"
	StorageTileArchive StorageKind = "tile-archive"
)

// Status is the dataset lifecycle state of spec.md §4.3's state machine.
type Status string

const (
	StatusUploaded   Status = "uploaded"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
)

// Dataset is the full catalog row for one uploaded file.
type Dataset struct {
	ID          string
	Name        string
	StorageKind StorageKind
	Size        int64
	UploadedAt  time.Time
	Status      Status
	CRS         sql.NullString
	Path        string
	TableName   sql.NullString
	TileFormat  sql.NullString
	MinZoom     sql.NullInt64
	MaxZoom     sql.NullInt64
	BBox        *[4]float64
	LayersMeta  sql.NullString
	Error       sql.NullString
	IsPublic    bool
	PublicSlug  sql.NullString
}

// Projection is the public JSON shape of spec.md §6.1 ("Dataset
// projection").
type Projection struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Type       string   `json:"type"`
	Size       int64    `json:"size"`
	UploadedAt string   `json:"uploadedAt"`
	Status     string   `json:"status"`
	CRS        *string  `json:"crs,omitempty"`
	Path       string   `json:"path"`
	Error      *string  `json:"error,omitempty"`
	IsPublic   bool     `json:"isPublic"`
	PublicSlug *string  `json:"publicSlug,omitempty"`
}

func (d Dataset) ToProjection() Projection {
	p := Projection{
		ID:         d.ID,
		Name:       d.Name,
		Type:       string(d.StorageKind),
		Size:       d.Size,
		UploadedAt: d.UploadedAt.UTC().Format(time.RFC3339),
		Status:     string(d.Status),
		Path:       d.Path,
		IsPublic:   d.IsPublic,
	}
	if d.CRS.Valid {
		p.CRS = &d.CRS.String
	}
	if d.Error.Valid {
		p.Error = &d.Error.String
	}
	if d.PublicSlug.Valid {
		p.PublicSlug = &d.PublicSlug.String
	}
	return p
}

// Catalog is the dataset catalog, wrapping the spatial store adapter.
type Catalog struct {
	store *store.Store
}

func New(s *store.Store) *Catalog { return &Catalog{store: s} }

// NewID mints a fresh, URL-safe dataset id.
func NewID() string { return uuid.New().String() }

// Create inserts a new dataset row in state `uploaded` (spec.md §4.2).
func (c *Catalog) Create(id, name string, size int64, kind StorageKind, path string) (Dataset, error) {
	d := Dataset{
		ID:          id,
		Name:        name,
		StorageKind: kind,
		Size:        size,
		UploadedAt:  time.Now().UTC(),
		Status:      StatusUploaded,
		Path:        path,
	}
	err := c.store.WithWrite(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO files (id, name, storage_kind, size, uploaded_at, status, path, is_public)
			 VALUES (?, ?, ?, ?, ?, ?, ?, false)`,
			d.ID, d.Name, string(d.StorageKind), d.Size, d.UploadedAt, string(d.Status), d.Path,
		)
		return err
	})
	if err != nil {
		return Dataset{}, fmt.Errorf("io: create dataset: %w", err)
	}
	return d, nil
}

const datasetColumns = `id, name, storage_kind, size, uploaded_at, status, crs, path, table_name,
	tile_format, minzoom, maxzoom, bbox_minx, bbox_miny, bbox_maxx, bbox_maxy,
	layers_meta, error, is_public, public_slug`

func scanDataset(row interface {
	Scan(dest ...any) error
}) (Dataset, error) {
	var d Dataset
	var minx, miny, maxx, maxy sql.NullFloat64
	err := row.Scan(
		&d.ID, &d.Name, &d.StorageKind, &d.Size, &d.UploadedAt, &d.Status, &d.CRS, &d.Path, &d.TableName,
		&d.TileFormat, &d.MinZoom, &d.MaxZoom, &minx, &miny, &maxx, &maxy,
		&d.LayersMeta, &d.Error, &d.IsPublic, &d.PublicSlug,
	)
	if err != nil {
		return Dataset{}, err
	}
	if minx.Valid && miny.Valid && maxx.Valid && maxy.Valid {
		d.BBox = &[4]float64{minx.Float64, miny.Float64, maxx.Float64, maxy.Float64}
	}
	return d, nil
}

// Get fetches a dataset by id.
func (c *Catalog) Get(id string) (Dataset, error) {
	row := c.store.DB().QueryRow(`SELECT `+datasetColumns+` FROM files WHERE id = ?`, id)
	d, err := scanDataset(row)
	if err == sql.ErrNoRows {
		return Dataset{}, httperr.NotFound("dataset not found")
	}
	if err != nil {
		return Dataset{}, fmt.Errorf("io: get dataset: %w", err)
	}
	return d, nil
}

// GetBySlug fetches a published dataset by its public slug (spec.md
// §4.2's get-by-slug, restricted to publish flag = true).
func (c *Catalog) GetBySlug(slug string) (Dataset, error) {
	row := c.store.DB().QueryRow(`SELECT `+datasetColumns+` FROM files WHERE public_slug = ? AND is_public = true`, slug)
	d, err := scanDataset(row)
	if err == sql.ErrNoRows {
		return Dataset{}, httperr.NotFound("no dataset published at this slug")
	}
	if err != nil {
		return Dataset{}, fmt.Errorf("io: get dataset by slug: %w", err)
	}
	return d, nil
}

// List returns every dataset ordered newest-first.
func (c *Catalog) List() ([]Dataset, error) {
	rows, err := c.store.DB().Query(`SELECT ` + datasetColumns + ` FROM files ORDER BY uploaded_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("io: list datasets: %w", err)
	}
	defer rows.Close()

	var out []Dataset
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, fmt.Errorf("io: scan dataset: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Transition performs a CAS state transition, returning whether it
// applied (spec.md §4.2's `transition(id, from, to)`).
func (c *Catalog) Transition(id string, from, to Status) (bool, error) {
	var applied bool
	err := c.store.WithWrite(func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE files SET status = ? WHERE id = ? AND status = ?`, string(to), id, string(from))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		applied = n > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("io: transition dataset: %w", err)
	}
	return applied, nil
}

// Fail moves a dataset to `failed` with the given error message,
// regardless of its current state, used by the background worker and by
// the receive phase when archive validation fails.
func (c *Catalog) Fail(id, message string) error {
	return c.store.WithWrite(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE files SET status = ?, error = ? WHERE id = ?`, string(StatusFailed), message, id)
		return err
	})
}

// ReconcileProcessing implements spec.md §4.2's startup recovery: every
// row still in `processing` is moved to `failed`, enforcing I3 under a
// crash mid-import.
func (c *Catalog) ReconcileProcessing() error {
	return c.store.WithWrite(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`UPDATE files SET status = ?, error = ? WHERE status = ?`,
			string(StatusFailed), "server restarted during processing", string(StatusProcessing),
		)
		return err
	})
}

// SetTileArchiveMeta records tile-archive import results (spec.md §4.3
// background import (tile-archive)).
func (c *Catalog) SetTileArchiveMeta(id, crs, tileFormat string, minZoom, maxZoom int, bbox *[4]float64, layersMeta string) error {
	return c.store.WithWrite(func(tx *sql.Tx) error {
		if bbox != nil {
			_, err := tx.Exec(
				`UPDATE files SET crs = ?, tile_format = ?, minzoom = ?, maxzoom = ?,
				 bbox_minx = ?, bbox_miny = ?, bbox_maxx = ?, bbox_maxy = ?, layers_meta = ?
				 WHERE id = ?`,
				crs, tileFormat, minZoom, maxZoom, bbox[0], bbox[1], bbox[2], bbox[3], layersMeta, id,
			)
			return err
		}
		_, err := tx.Exec(
			`UPDATE files SET crs = ?, tile_format = ?, minzoom = ?, maxzoom = ?, layers_meta = ? WHERE id = ?`,
			crs, tileFormat, minZoom, maxZoom, layersMeta, id,
		)
		return err
	})
}
