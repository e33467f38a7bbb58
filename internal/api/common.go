package api

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/mapflow/mapflow/internal/auth"
	"github.com/mapflow/mapflow/internal/httperr"
)

// unwrapBoth returns the underlying (http.ResponseWriter, *http.Request)
// pair humago hides behind a huma.Context, in the (w, r) order most
// handlers in this package want them.
func unwrapBoth(humaCtx huma.Context) (http.ResponseWriter, *http.Request) {
	r, w := humago.Unwrap(humaCtx)
	return w, r
}

// EmptyInput is a shared empty input struct, mirroring the teacher's
// internal/api/editor.EmptyInput.
type EmptyInput struct{}

// IDInput binds a dataset id path parameter.
type IDInput struct {
	ID string `path:"id" doc:"Dataset id"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// requireAdmin enforces spec.md §4.6's admin-only zone for the handlers in
// this package; on failure it writes the response itself and returns ok=false.
func (svc *Services) requireAdmin(w http.ResponseWriter, r *http.Request) (auth.User, bool) {
	u, ok, err := svc.Gate.CurrentUser(r)
	if err != nil {
		httperr.Write(w, r, svc.Log, err)
		return auth.User{}, false
	}
	if !ok {
		httperr.Write(w, r, svc.Log, httperr.Unauthorized("authentication required"))
		return auth.User{}, false
	}
	return u, true
}

// resetTestState tears down everything spec.md §4.6 zone 3's reset
// endpoint promises: every per-dataset physical table, the six catalog
// tables (in an order that respects foreign-key references), and the
// upload directory tree, leaving a clean slate for the next test run.
func (svc *Services) resetTestState() error {
	var tableNames []string
	rows, err := svc.Store.DB().Query(`SELECT table_name FROM files WHERE table_name IS NOT NULL`)
	if err != nil {
		return err
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		tableNames = append(tableNames, name)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	err = svc.Store.WithWrite(func(tx *sql.Tx) error {
		for _, name := range tableNames {
			if _, err := tx.Exec(`DROP TABLE IF EXISTS ` + quoteIdent(name)); err != nil {
				return err
			}
		}
		for _, stmt := range []string{
			`DELETE FROM published_files`,
			`DELETE FROM dataset_columns`,
			`DELETE FROM files`,
			`DELETE FROM sessions`,
			`DELETE FROM users`,
			`DELETE FROM system_settings`,
		} {
			if _, err := tx.Exec(stmt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if svc.Config.UploadDir != "" {
		entries, err := os.ReadDir(svc.Config.UploadDir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		for _, entry := range entries {
			if err := os.RemoveAll(filepath.Join(svc.Config.UploadDir, entry.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
