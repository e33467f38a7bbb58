package catalog

import (
	"database/sql"
	"fmt"
	"regexp"

	"github.com/mapflow/mapflow/internal/httperr"
)

// slugPattern is spec.md §3 invariant I2's required slug shape.
var slugPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)

// ValidSlug reports whether slug matches spec.md's slug invariant.
func ValidSlug(slug string) bool { return slugPattern.MatchString(slug) }

// Publish maps a public slug to dataset id (spec.md §4.7). When slug is
// empty, the dataset id itself is used. The read-then-insert duplicate
// check runs inside the catalog's single writer lane (store.WithWrite),
// which per spec.md §9 closes the documented slug-uniqueness race rather
// than merely accepting it.
func (c *Catalog) Publish(id, slug string) (Dataset, error) {
	if slug == "" {
		slug = id
	}
	if !ValidSlug(slug) {
		return Dataset{}, httperr.Validation("slug must match ^[A-Za-z0-9_-]{1,100}$")
	}

	var result Dataset
	err := c.store.WithWrite(func(tx *sql.Tx) error {
		var status string
		if err := tx.QueryRow(`SELECT status FROM files WHERE id = ?`, id).Scan(&status); err == sql.ErrNoRows {
			return httperr.NotFound("dataset not found")
		} else if err != nil {
			return err
		}
		if status != string(StatusReady) {
			return httperr.Conflict("dataset is not ready")
		}

		var existingFileID string
		err := tx.QueryRow(`SELECT file_id FROM published_files WHERE slug = ?`, slug).Scan(&existingFileID)
		if err == nil && existingFileID != id {
			return httperr.Conflict("slug already published")
		}
		if err != nil && err != sql.ErrNoRows {
			return err
		}

		if _, err := tx.Exec(`DELETE FROM published_files WHERE file_id = ?`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT INTO published_files (slug, file_id) VALUES (?, ?)`, slug, id); err != nil {
			return err
		}
		if _, err := tx.Exec(`UPDATE files SET is_public = true, public_slug = ? WHERE id = ?`, slug, id); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		if _, ok := httperr.As(err); ok {
			return Dataset{}, err
		}
		return Dataset{}, fmt.Errorf("io: publish dataset: %w", err)
	}

	result, err = c.Get(id)
	if err != nil {
		return Dataset{}, err
	}
	return result, nil
}

// Unpublish clears a dataset's publish flag and slug (spec.md §4.2
// `unpublish(id)`).
func (c *Catalog) Unpublish(id string) error {
	return c.store.WithWrite(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM published_files WHERE file_id = ?`, id); err != nil {
			return err
		}
		_, err := tx.Exec(`UPDATE files SET is_public = false, public_slug = NULL WHERE id = ?`, id)
		return err
	})
}
