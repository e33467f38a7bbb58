package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/rs/zerolog"

	"github.com/mapflow/mapflow/internal/auth"
	"github.com/mapflow/mapflow/internal/catalog"
	"github.com/mapflow/mapflow/internal/config"
	"github.com/mapflow/mapflow/internal/ingest"
	"github.com/mapflow/mapflow/internal/store"
	"github.com/mapflow/mapflow/internal/tiles"
)

// newTestMux builds a Services bundle against a throwaway DuckDB file (no
// spatial extension loaded) and registers every route on a bare mux, the
// way cmd/mapflow wires internal/server without the CORS/static-file layer
// a handler test doesn't need.
func newTestMux(t *testing.T) (*Services, *http.ServeMux) {
	t.Helper()
	st, err := store.OpenWithoutSpatialExtension(filepath.Join(t.TempDir(), "test.duckdb"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cat := catalog.New(st)
	gate := auth.New(st, zerolog.Nop())
	tileEngine := tiles.New(st, cat, zerolog.Nop())
	receiver := &ingest.Receiver{
		UploadDir:    t.TempDir(),
		MaxSizeBytes: 1 << 20,
		MaxSizeLabel: "1MB",
		Catalog:      cat,
		Enqueue:      func(string, string, catalog.StorageKind) {},
	}

	svc := &Services{
		Store:   st,
		Catalog: cat,
		Gate:    gate,
		Tiles:   tileEngine,
		Ingest:  receiver,
		Config:  config.Config{TestMode: true},
		Log:     zerolog.Nop(),
	}

	mux := http.NewServeMux()
	humaAPI := humago.New(mux, huma.DefaultConfig("mapflow test", "0"))
	RegisterRoutes(humaAPI, svc)
	return svc, mux
}

func doRequest(mux *http.ServeMux, method, path string, body []byte, contentType string, cookie *http.Cookie) *httptest.ResponseRecorder {
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	if cookie != nil {
		r.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, r)
	return rec
}

func loginCookie(t *testing.T, mux *http.ServeMux, username, password string) *http.Cookie {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	rec := doRequest(mux, http.MethodPost, "/api/auth/login", body, "application/json", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("login: expected one cookie, got %d", len(cookies))
	}
	return cookies[0]
}

func TestAuthInitLoginCheckLogout(t *testing.T) {
	_, mux := newTestMux(t)

	body, _ := json.Marshal(map[string]string{"username": "admin", "password": "Sup3r!Secret1"})
	rec := doRequest(mux, http.MethodPost, "/api/auth/init", body, "application/json", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("init: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(mux, http.MethodPost, "/api/auth/init", body, "application/json", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second init: expected 409, got %d", rec.Code)
	}

	rec = doRequest(mux, http.MethodGet, "/api/auth/check", nil, "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("check without cookie: expected 401, got %d", rec.Code)
	}

	cookie := loginCookie(t, mux, "admin", "Sup3r!Secret1")

	rec = doRequest(mux, http.MethodGet, "/api/auth/check", nil, "", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("check with cookie: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var u userBody
	if err := json.NewDecoder(rec.Body).Decode(&u); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if u.Username != "admin" || u.Role != "admin" {
		t.Fatalf("unexpected user body: %+v", u)
	}

	rec = doRequest(mux, http.MethodPost, "/api/auth/logout", nil, "", cookie)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout: expected 204, got %d", rec.Code)
	}

	rec = doRequest(mux, http.MethodGet, "/api/auth/check", nil, "", cookie)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("check after logout: expected 401, got %d", rec.Code)
	}
}

func TestAuthLoginRejectsWrongPassword(t *testing.T) {
	_, mux := newTestMux(t)
	body, _ := json.Marshal(map[string]string{"username": "admin", "password": "Sup3r!Secret1"})
	doRequest(mux, http.MethodPost, "/api/auth/init", body, "application/json", nil)

	bad, _ := json.Marshal(map[string]string{"username": "admin", "password": "wrong"})
	rec := doRequest(mux, http.MethodPost, "/api/auth/login", bad, "application/json", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", rec.Code)
	}
}

func TestIsInitializedPublic(t *testing.T) {
	_, mux := newTestMux(t)

	rec := doRequest(mux, http.MethodGet, "/api/test/is-initialized", nil, "", nil)
	var out map[string]bool
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["initialized"] {
		t.Fatal("expected false before bootstrap")
	}

	body, _ := json.Marshal(map[string]string{"username": "admin", "password": "Sup3r!Secret1"})
	doRequest(mux, http.MethodPost, "/api/auth/init", body, "application/json", nil)

	rec = doRequest(mux, http.MethodGet, "/api/test/is-initialized", nil, "", nil)
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out["initialized"] {
		t.Fatal("expected true after bootstrap")
	}
}

// TestResetEndpointDisabledInReleaseBuild covers spec.md's access-gate
// scenario for the debug-only reset route: without the mapflow_debug build
// tag, auth.DebugBuild() is false so the route 404s regardless of
// MAPFLOW_TEST_MODE.
func TestResetEndpointDisabledInReleaseBuild(t *testing.T) {
	_, mux := newTestMux(t)
	rec := doRequest(mux, http.MethodPost, "/api/test/reset", nil, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 in a release build, got %d", rec.Code)
	}
}

func TestFilesRequireAuth(t *testing.T) {
	_, mux := newTestMux(t)
	rec := doRequest(mux, http.MethodGet, "/api/files", nil, "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

// insertReadyDataset creates a ready, dynamic dataset with a hand-built
// physical table, bypassing the spatial-engine-dependent import worker so
// the schema/feature/publish endpoints can be exercised without a loaded
// spatial extension.
func insertReadyDataset(t *testing.T, svc *Services, name string) catalog.Dataset {
	t.Helper()
	id := catalog.NewID()
	d, err := svc.Catalog.Create(id, name, 42, catalog.StorageDynamic, "./uploads/"+id+"/"+name+".geojson")
	if err != nil {
		t.Fatalf("create dataset: %v", err)
	}
	if ok, err := svc.Catalog.Transition(id, catalog.StatusUploaded, catalog.StatusProcessing); err != nil || !ok {
		t.Fatalf("transition to processing: ok=%v err=%v", ok, err)
	}

	tableName := "layer_" + strings.ReplaceAll(id, "-", "_")
	err = svc.Store.WithWrite(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`CREATE TABLE ` + quoteTableIdent(tableName) + ` (fid BIGINT, city VARCHAR, note VARCHAR)`); err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT INTO `+quoteTableIdent(tableName)+` VALUES (1, 'Springfield', NULL)`); err != nil {
			return err
		}
		if _, err := tx.Exec(`UPDATE files SET table_name = ? WHERE id = ?`, tableName, id); err != nil {
			return err
		}
		return catalog.InsertColumns(tx, id, []catalog.ColumnEntry{
			{Ordinal: 0, OriginalName: "city", NormalizedName: "city", MVTType: "text"},
			{Ordinal: 1, OriginalName: "note", NormalizedName: "note", MVTType: "text"},
		})
	})
	if err != nil {
		t.Fatalf("build backing table: %v", err)
	}
	if ok, err := svc.Catalog.Transition(id, catalog.StatusProcessing, catalog.StatusReady); err != nil || !ok {
		t.Fatalf("transition to ready: ok=%v err=%v", ok, err)
	}

	d, err = svc.Catalog.Get(id)
	if err != nil {
		t.Fatalf("reload dataset: %v", err)
	}
	return d
}

func quoteTableIdent(name string) string { return `"` + strings.ReplaceAll(name, `"`, `""`) + `"` }

func TestFilesListPreviewSchemaFeature(t *testing.T) {
	svc, mux := newTestMux(t)
	body, _ := json.Marshal(map[string]string{"username": "admin", "password": "Sup3r!Secret1"})
	doRequest(mux, http.MethodPost, "/api/auth/init", body, "application/json", nil)
	cookie := loginCookie(t, mux, "admin", "Sup3r!Secret1")

	d := insertReadyDataset(t, svc, "towns")

	rec := doRequest(mux, http.MethodGet, "/api/files", nil, "", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var list []catalog.Projection
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 || list[0].ID != d.ID {
		t.Fatalf("unexpected list: %+v", list)
	}

	rec = doRequest(mux, http.MethodGet, "/api/files/"+d.ID+"/preview", nil, "", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("preview: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var preview previewBody
	if err := json.NewDecoder(rec.Body).Decode(&preview); err != nil {
		t.Fatalf("decode preview: %v", err)
	}
	if preview.ID != d.ID || preview.Name != "towns" {
		t.Fatalf("unexpected preview: %+v", preview)
	}

	rec = doRequest(mux, http.MethodGet, "/api/files/"+d.ID+"/schema", nil, "", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("schema: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var schemaResp struct {
		Layers []schemaLayer `json:"layers"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&schemaResp); err != nil {
		t.Fatalf("decode schema: %v", err)
	}
	if len(schemaResp.Layers) != 1 || len(schemaResp.Layers[0].Fields) != 2 {
		t.Fatalf("unexpected schema: %+v", schemaResp)
	}

	rec = doRequest(mux, http.MethodGet, "/api/files/"+d.ID+"/features/1", nil, "", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("feature: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var featureResp struct {
		FID        int64           `json:"fid"`
		Properties []propertyEntry `json:"properties"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&featureResp); err != nil {
		t.Fatalf("decode feature: %v", err)
	}
	values := map[string]any{}
	for _, p := range featureResp.Properties {
		values[p.Key] = p.Value
	}
	if values["city"] != "Springfield" {
		t.Fatalf("expected city=Springfield, got %+v", values)
	}
	// NULL visibility: the note column must still be present with a null
	// value, not silently dropped from the response.
	if v, ok := values["note"]; !ok || v != nil {
		t.Fatalf("expected note to be present and null, got %v (present=%v)", v, ok)
	}

	rec = doRequest(mux, http.MethodGet, "/api/files/"+d.ID+"/features/999", nil, "", cookie)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown feature: expected 404, got %d", rec.Code)
	}
}

// insertReadyTileArchive creates a ready tile-archive dataset with the
// given layers_meta JSON blob (empty for a raster archive), bypassing the
// worker's mbtiles extraction the way insertReadyDataset bypasses the
// spatial engine for dynamic datasets.
func insertReadyTileArchive(t *testing.T, svc *Services, name, tileFormat, layersMeta string) catalog.Dataset {
	t.Helper()
	id := catalog.NewID()
	_, err := svc.Catalog.Create(id, name, 42, catalog.StorageTileArchive, "./uploads/"+id+"/"+name+".mbtiles")
	if err != nil {
		t.Fatalf("create dataset: %v", err)
	}
	if ok, err := svc.Catalog.Transition(id, catalog.StatusUploaded, catalog.StatusProcessing); err != nil || !ok {
		t.Fatalf("transition to processing: ok=%v err=%v", ok, err)
	}
	if err := svc.Catalog.SetTileArchiveMeta(id, "EPSG:3857", tileFormat, 0, 14, nil, layersMeta); err != nil {
		t.Fatalf("set tile archive meta: %v", err)
	}
	if ok, err := svc.Catalog.Transition(id, catalog.StatusProcessing, catalog.StatusReady); err != nil || !ok {
		t.Fatalf("transition to ready: ok=%v err=%v", ok, err)
	}
	d, err := svc.Catalog.Get(id)
	if err != nil {
		t.Fatalf("reload dataset: %v", err)
	}
	return d
}

func TestSchemaTileArchiveVectorLayers(t *testing.T) {
	svc, mux := newTestMux(t)
	body, _ := json.Marshal(map[string]string{"username": "admin", "password": "Sup3r!Secret1"})
	doRequest(mux, http.MethodPost, "/api/auth/init", body, "application/json", nil)
	cookie := loginCookie(t, mux, "admin", "Sup3r!Secret1")

	layersMeta := `[{"id":"towns","fields":{"name":"String","population":"Number"}}]`
	d := insertReadyTileArchive(t, svc, "vector-archive", "mvt", layersMeta)

	rec := doRequest(mux, http.MethodGet, "/api/files/"+d.ID+"/schema", nil, "", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("schema: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var schemaResp struct {
		Layers []schemaLayer `json:"layers"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&schemaResp); err != nil {
		t.Fatalf("decode schema: %v", err)
	}
	if len(schemaResp.Layers) != 1 || schemaResp.Layers[0].ID != "towns" {
		t.Fatalf("unexpected schema: %+v", schemaResp)
	}
	if len(schemaResp.Layers[0].Fields) != 2 {
		t.Fatalf("expected 2 fields, got %+v", schemaResp.Layers[0].Fields)
	}
}

func TestSchemaTileArchiveRasterHasNoLayers(t *testing.T) {
	svc, mux := newTestMux(t)
	body, _ := json.Marshal(map[string]string{"username": "admin", "password": "Sup3r!Secret1"})
	doRequest(mux, http.MethodPost, "/api/auth/init", body, "application/json", nil)
	cookie := loginCookie(t, mux, "admin", "Sup3r!Secret1")

	d := insertReadyTileArchive(t, svc, "raster-archive", "png", "")

	rec := doRequest(mux, http.MethodGet, "/api/files/"+d.ID+"/schema", nil, "", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("schema: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var schemaResp struct {
		Layers []schemaLayer `json:"layers"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&schemaResp); err != nil {
		t.Fatalf("decode schema: %v", err)
	}
	if len(schemaResp.Layers) != 0 {
		t.Fatalf("expected no layers for a raster archive, got %+v", schemaResp.Layers)
	}
}

func TestPublishAndUnpublish(t *testing.T) {
	svc, mux := newTestMux(t)
	body, _ := json.Marshal(map[string]string{"username": "admin", "password": "Sup3r!Secret1"})
	doRequest(mux, http.MethodPost, "/api/auth/init", body, "application/json", nil)
	cookie := loginCookie(t, mux, "admin", "Sup3r!Secret1")

	d := insertReadyDataset(t, svc, "parks")

	publishReq, _ := json.Marshal(map[string]string{"slug": "city-parks"})
	rec := doRequest(mux, http.MethodPost, "/api/files/"+d.ID+"/publish", publishReq, "application/json", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("publish: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var pub publishBody
	if err := json.NewDecoder(rec.Body).Decode(&pub); err != nil {
		t.Fatalf("decode publish: %v", err)
	}
	if !pub.IsPublic || pub.Slug != "city-parks" {
		t.Fatalf("unexpected publish response: %+v", pub)
	}

	// A duplicate publish of a different dataset under the same slug must
	// be rejected (spec.md's slug-uniqueness invariant).
	other := insertReadyDataset(t, svc, "lakes")
	rec = doRequest(mux, http.MethodPost, "/api/files/"+other.ID+"/publish", publishReq, "application/json", cookie)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate slug: expected 409, got %d", rec.Code)
	}

	// The public tile route resolves the slug without any admin session,
	// and a missing/unpublished slug resolves to 404 before any rendering
	// is attempted (no spatial engine required for this branch).
	rec = doRequest(mux, http.MethodGet, "/tiles/no-such-slug/0/0/0", nil, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown slug tile: expected 404, got %d", rec.Code)
	}

	rec = doRequest(mux, http.MethodPost, "/api/files/"+d.ID+"/unpublish", nil, "", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("unpublish: expected 200, got %d", rec.Code)
	}

	rec = doRequest(mux, http.MethodGet, "/tiles/city-parks/0/0/0", nil, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("tile after unpublish: expected 404, got %d", rec.Code)
	}
}

func TestAdminTileValidatesCoordinatesAndReadiness(t *testing.T) {
	svc, mux := newTestMux(t)
	body, _ := json.Marshal(map[string]string{"username": "admin", "password": "Sup3r!Secret1"})
	doRequest(mux, http.MethodPost, "/api/auth/init", body, "application/json", nil)
	cookie := loginCookie(t, mux, "admin", "Sup3r!Secret1")

	rec := doRequest(mux, http.MethodGet, "/api/files/does-not-exist/tiles/10/0/0", nil, "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("admin tile without cookie: expected 401, got %d", rec.Code)
	}

	rec = doRequest(mux, http.MethodGet, "/api/files/does-not-exist/tiles/99/0/0", nil, "", cookie)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid zoom: expected 400, got %d", rec.Code)
	}

	id := catalog.NewID()
	if _, err := svc.Catalog.Create(id, "uploading", 1, catalog.StorageDynamic, "./uploads/x.geojson"); err != nil {
		t.Fatalf("create dataset: %v", err)
	}
	rec = doRequest(mux, http.MethodGet, "/api/files/"+id+"/tiles/10/0/0", nil, "", cookie)
	if rec.Code != http.StatusConflict {
		t.Fatalf("not-ready dataset: expected 409, got %d", rec.Code)
	}
}

func TestUploadRejectsUnsupportedFileType(t *testing.T) {
	_, mux := newTestMux(t)
	body, _ := json.Marshal(map[string]string{"username": "admin", "password": "Sup3r!Secret1"})
	doRequest(mux, http.MethodPost, "/api/auth/init", body, "application/json", nil)
	cookie := loginCookie(t, mux, "admin", "Sup3r!Secret1")

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "notes.txt")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	part.Write([]byte("hello"))
	w.Close()

	rec := doRequest(mux, http.MethodPost, "/api/uploads", buf.Bytes(), w.FormDataContentType(), cookie)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unsupported file type, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUploadEnforcesSizeLimit(t *testing.T) {
	_, mux := newTestMux(t)
	body, _ := json.Marshal(map[string]string{"username": "admin", "password": "Sup3r!Secret1"})
	doRequest(mux, http.MethodPost, "/api/auth/init", body, "application/json", nil)
	cookie := loginCookie(t, mux, "admin", "Sup3r!Secret1")

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "huge.geojson")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	part.Write(bytes.Repeat([]byte("x"), 2<<20)) // exceeds the 1MB test limit
	w.Close()

	rec := doRequest(mux, http.MethodPost, "/api/uploads", buf.Bytes(), w.FormDataContentType(), cookie)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for oversized upload, got %d: %s", rec.Code, rec.Body.String())
	}
}
