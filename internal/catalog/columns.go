package catalog

import (
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/mapflow/mapflow/internal/httperr"
)

// ColumnEntry is one column schema entry of spec.md §3 ("Column schema
// entry"), captured during import.
type ColumnEntry struct {
	Ordinal        int
	OriginalName   string
	NormalizedName string
	MVTType        string // text | int32 | int64 | float64 | geometry
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9_]+`)
var repeatedUnderscore = regexp.MustCompile(`_+`)

// reservedIdentifiers keeps normalization away from a handful of common
// SQL keywords, grounded in original_source/backend/src/import.rs's
// normalize_column_name KEYWORDS list.
var reservedIdentifiers = map[string]bool{
	"select": true, "from": true, "where": true, "group": true, "order": true,
	"by": true, "limit": true, "offset": true, "join": true, "table": true,
}

// NormalizeColumnName lowercases, strips diacritics, replaces
// non-alphanumerics with `_`, collapses repeats, and avoids identifiers
// that collide with fid/geom or a SQL keyword. Returns "" when nothing
// usable remains.
func NormalizeColumnName(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ""
	}

	var b strings.Builder
	for _, r := range trimmed {
		r = stripDiacritic(r)
		lower := unicode.ToLower(r)
		if (lower >= 'a' && lower <= 'z') || (lower >= '0' && lower <= '9') || lower == '_' {
			b.WriteRune(lower)
		} else {
			b.WriteRune('_')
		}
	}

	out := repeatedUnderscore.ReplaceAllString(b.String(), "_")
	out = strings.Trim(out, "_")
	if out == "" {
		return ""
	}

	first := out[0]
	if !(first >= 'a' && first <= 'z') && first != '_' {
		out = "col_" + out
	}
	if reservedIdentifiers[out] || out == "fid" || out == "geom" {
		out = "col_" + out
	}
	return out
}

// stripDiacritic is a minimal best-effort accent stripper for the common
// Latin-1 range, avoiding a dependency on golang.org/x/text/unicode/norm
// for a handful of accented letters.
func stripDiacritic(r rune) rune {
	const from = "àáâãäåèéêëìíîïòóôõöùúûüýñçÀÁÂÃÄÅÈÉÊËÌÍÎÏÒÓÔÕÖÙÚÛÜÝÑÇ"
	const to = "aaaaaaeeeeiiiiooooouuuuyncAAAAAAEEEEIIIIOOOOOUUUUYNC"
	for i, f := range []rune(from) {
		if f == r {
			return []rune(to)[i]
		}
	}
	return r
}

// DedupeColumnNames assigns a normalized identifier to each (original
// name, ordinal) pair, suffixing numeric duplicates, exactly as
// import.rs's used-set + suffix loop.
func DedupeColumnNames(originals []string) []string {
	used := map[string]bool{"fid": true, "geom": true}
	out := make([]string, len(originals))
	for i, name := range originals {
		base := NormalizeColumnName(name)
		if base == "" {
			base = fmt.Sprintf("col_%d", i)
		}
		candidate := base
		suffix := 2
		for used[candidate] {
			candidate = fmt.Sprintf("%s_%d", base, suffix)
			suffix++
		}
		used[candidate] = true
		out[i] = candidate
	}
	return out
}

// MVTTypeFor maps a DuckDB information_schema data type to the
// MVT-compatible type code of spec.md §3 (text | int32 | int64 | float64
// | geometry), per the coercion table grounded in import.rs.
func MVTTypeFor(duckdbType string) (mvtType string, castTo string) {
	switch strings.ToUpper(duckdbType) {
	case "VARCHAR", "BOOLEAN":
		return "text", ""
	case "DOUBLE", "FLOAT":
		return "float64", ""
	case "BIGINT":
		return "int64", ""
	case "INTEGER":
		return "int32", ""
	case "SMALLINT", "TINYINT":
		return "int32", "INTEGER"
	case "UBIGINT", "UINTEGER", "USMALLINT", "UTINYINT":
		return "int64", "BIGINT"
	default:
		return "text", "VARCHAR"
	}
}

// InsertColumns replaces the column schema for a dataset inside the
// caller's transaction (used by the ingestion worker, which owns the
// wider import transaction).
func InsertColumns(tx *sql.Tx, sourceID string, cols []ColumnEntry) error {
	if _, err := tx.Exec(`DELETE FROM dataset_columns WHERE source_id = ?`, sourceID); err != nil {
		return err
	}
	for _, c := range cols {
		_, err := tx.Exec(
			`INSERT INTO dataset_columns (source_id, normalized_name, original_name, ordinal, mvt_type) VALUES (?, ?, ?, ?, ?)`,
			sourceID, c.NormalizedName, c.OriginalName, c.Ordinal, c.MVTType,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// Columns returns a dataset's column schema in ordinal order (spec.md
// §4.5 Schema, P2's ordering property).
func (c *Catalog) Columns(sourceID string) ([]ColumnEntry, error) {
	rows, err := c.store.DB().Query(
		`SELECT ordinal, original_name, normalized_name, mvt_type FROM dataset_columns WHERE source_id = ? ORDER BY ordinal ASC`,
		sourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("io: list columns: %w", err)
	}
	defer rows.Close()

	var out []ColumnEntry
	for rows.Next() {
		var e ColumnEntry
		if err := rows.Scan(&e.Ordinal, &e.OriginalName, &e.NormalizedName, &e.MVTType); err != nil {
			return nil, fmt.Errorf("io: scan column: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Feature returns the NULL-preserving attribute row for a feature id
// (spec.md §4.5 Feature). Only valid for dynamic, ready datasets.
func (c *Catalog) Feature(d Dataset, fid int64) (map[string]any, []ColumnEntry, error) {
	if d.StorageKind != StorageDynamic {
		return nil, nil, httperr.Unsupported("feature query is only supported for dynamic datasets")
	}
	if d.Status != StatusReady {
		return nil, nil, httperr.Conflict("dataset is not ready")
	}
	cols, err := c.Columns(d.ID)
	if err != nil {
		return nil, nil, err
	}
	if len(cols) == 0 {
		return map[string]any{}, cols, nil
	}

	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = quoteIdent(col.NormalizedName)
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE fid = ?`, strings.Join(names, ", "), quoteIdent(d.TableName.String))

	dest := make([]any, len(cols))
	for i := range dest {
		dest[i] = new(any)
	}
	row := c.store.DB().QueryRow(query, fid)
	if err := row.Scan(dest...); err == sql.ErrNoRows {
		return nil, nil, httperr.NotFound("feature not found")
	} else if err != nil {
		return nil, nil, fmt.Errorf("io: scan feature: %w", err)
	}

	out := make(map[string]any, len(cols))
	for i, col := range cols {
		out[col.NormalizedName] = *dest[i].(*any)
	}
	return out, cols, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
