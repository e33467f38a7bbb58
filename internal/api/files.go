package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mapflow/mapflow/internal/catalog"
	"github.com/mapflow/mapflow/internal/httperr"
	"github.com/mapflow/mapflow/internal/ingest"
)

// RegisterFiles wires spec.md §6.1's admin-only dataset endpoints.
func (svc *Services) RegisterFiles(api huma.API) {
	huma.Post(api, "/api/uploads", svc.Upload, huma.OperationTags("files"))
	huma.Get(api, "/api/files", svc.ListFiles, huma.OperationTags("files"))
	huma.Get(api, "/api/files/{id}/preview", svc.Preview, huma.OperationTags("files"))
	huma.Get(api, "/api/files/{id}/schema", svc.Schema, huma.OperationTags("files"))
	huma.Get(api, "/api/files/{id}/features/{fid}", svc.Feature, huma.OperationTags("files"))
	huma.Post(api, "/api/files/{id}/publish", svc.Publish, huma.OperationTags("files"))
	huma.Post(api, "/api/files/{id}/unpublish", svc.Unpublish, huma.OperationTags("files"))
}

// Upload is spec.md §6.1's `POST /api/uploads`, streaming the request's
// multipart body straight through ingest.Receiver.
func (svc *Services) Upload(ctx context.Context, input *EmptyInput) (*huma.StreamResponse, error) {
	return &huma.StreamResponse{Body: func(humaCtx huma.Context) {
		w, r := unwrapBoth(humaCtx)
		if _, ok := svc.requireAdmin(w, r); !ok {
			return
		}
		d, err := svc.Ingest.Receive(r)
		if err != nil {
			httperr.Write(w, r, svc.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, d.ToProjection())
	}}, nil
}

// ListFiles is spec.md §6.1's `GET /api/files`.
func (svc *Services) ListFiles(ctx context.Context, input *EmptyInput) (*huma.StreamResponse, error) {
	return &huma.StreamResponse{Body: func(humaCtx huma.Context) {
		w, r := unwrapBoth(humaCtx)
		if _, ok := svc.requireAdmin(w, r); !ok {
			return
		}
		datasets, err := svc.Catalog.List()
		if err != nil {
			httperr.Write(w, r, svc.Log, err)
			return
		}
		out := make([]catalog.Projection, len(datasets))
		for i, d := range datasets {
			out[i] = d.ToProjection()
		}
		writeJSON(w, http.StatusOK, out)
	}}, nil
}

type previewBody struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	CRS        *string    `json:"crs,omitempty"`
	BBox       *[4]float64 `json:"bbox,omitempty"`
	TileFormat *string    `json:"tileFormat,omitempty"`
	MinZoom    *int64     `json:"minZoom,omitempty"`
	MaxZoom    *int64     `json:"maxZoom,omitempty"`
}

// Preview is spec.md §6.1's `GET /api/files/:id/preview`.
func (svc *Services) Preview(ctx context.Context, input *IDInput) (*huma.StreamResponse, error) {
	return &huma.StreamResponse{Body: func(humaCtx huma.Context) {
		w, r := unwrapBoth(humaCtx)
		if _, ok := svc.requireAdmin(w, r); !ok {
			return
		}
		d, err := svc.Catalog.Get(input.ID)
		if err != nil {
			httperr.Write(w, r, svc.Log, err)
			return
		}
		if d.Status != catalog.StatusReady {
			httperr.Write(w, r, svc.Log, httperr.Conflict("dataset is not ready"))
			return
		}
		body := previewBody{ID: d.ID, Name: d.Name, BBox: d.BBox}
		if d.CRS.Valid {
			body.CRS = &d.CRS.String
		}
		if d.TileFormat.Valid {
			body.TileFormat = &d.TileFormat.String
		}
		if d.MinZoom.Valid {
			body.MinZoom = &d.MinZoom.Int64
		}
		if d.MaxZoom.Valid {
			body.MaxZoom = &d.MaxZoom.Int64
		}
		writeJSON(w, http.StatusOK, body)
	}}, nil
}

type schemaField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type schemaLayer struct {
	ID     string        `json:"id"`
	Fields []schemaField `json:"fields"`
}

// Schema is spec.md §6.1's `GET /api/files/:id/schema`.
func (svc *Services) Schema(ctx context.Context, input *IDInput) (*huma.StreamResponse, error) {
	return &huma.StreamResponse{Body: func(humaCtx huma.Context) {
		w, r := unwrapBoth(humaCtx)
		if _, ok := svc.requireAdmin(w, r); !ok {
			return
		}
		d, err := svc.Catalog.Get(input.ID)
		if err != nil {
			httperr.Write(w, r, svc.Log, err)
			return
		}
		if d.Status != catalog.StatusReady {
			httperr.Write(w, r, svc.Log, httperr.Conflict("dataset is not ready"))
			return
		}

		layers := []schemaLayer{}
		switch d.StorageKind {
		case catalog.StorageDynamic:
			layer := schemaLayer{ID: d.ID, Fields: []schemaField{}}
			if d.TableName.Valid {
				layer.ID = d.TableName.String
			}
			cols, err := svc.Catalog.Columns(d.ID)
			if err != nil {
				httperr.Write(w, r, svc.Log, err)
				return
			}
			for _, c := range cols {
				layer.Fields = append(layer.Fields, schemaField{Name: c.NormalizedName, Type: c.MVTType})
			}
			layers = []schemaLayer{layer}
		case catalog.StorageTileArchive:
			// Vector archives carry their layer/field schema in the mbtiles
			// `json` metadata key (spec.md §4.5); raster archives have none.
			layers = tileArchiveSchemaLayers(d)
		}
		writeJSON(w, http.StatusOK, map[string]any{"layers": layers})
	}}, nil
}

// tileArchiveSchemaLayers parses the `vector_layers` captured from the
// archive's mbtiles `json` metadata key at import time. Returns an empty
// slice for a raster archive, or a vector archive with no metadata blob.
func tileArchiveSchemaLayers(d catalog.Dataset) []schemaLayer {
	if !d.LayersMeta.Valid || d.LayersMeta.String == "" {
		return []schemaLayer{}
	}
	var vectorLayers []ingest.VectorLayer
	if err := json.Unmarshal([]byte(d.LayersMeta.String), &vectorLayers); err != nil {
		return []schemaLayer{}
	}
	layers := make([]schemaLayer, 0, len(vectorLayers))
	for _, vl := range vectorLayers {
		fieldNames := make([]string, 0, len(vl.Fields))
		for name := range vl.Fields {
			fieldNames = append(fieldNames, name)
		}
		sort.Strings(fieldNames)

		fields := make([]schemaField, 0, len(fieldNames))
		for _, name := range fieldNames {
			fields = append(fields, schemaField{Name: name, Type: vl.Fields[name]})
		}
		layers = append(layers, schemaLayer{ID: vl.ID, Fields: fields})
	}
	return layers
}

type FeatureInput struct {
	ID  string `path:"id" doc:"Dataset id"`
	FID string `path:"fid" doc:"Feature id"`
}

type propertyEntry struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Feature is spec.md §6.1's `GET /api/files/:id/features/:fid`.
func (svc *Services) Feature(ctx context.Context, input *FeatureInput) (*huma.StreamResponse, error) {
	return &huma.StreamResponse{Body: func(humaCtx huma.Context) {
		w, r := unwrapBoth(humaCtx)
		if _, ok := svc.requireAdmin(w, r); !ok {
			return
		}
		d, err := svc.Catalog.Get(input.ID)
		if err != nil {
			httperr.Write(w, r, svc.Log, err)
			return
		}
		fid, err := strconv.ParseInt(input.FID, 10, 64)
		if err != nil {
			httperr.Write(w, r, svc.Log, httperr.Validation("fid must be an integer"))
			return
		}
		values, cols, err := svc.Catalog.Feature(d, fid)
		if err != nil {
			httperr.Write(w, r, svc.Log, err)
			return
		}
		// Keyed by NormalizedName, matching the tile engine's MVT struct keys
		// and the schema endpoint's field names (see buildDynamicTileQuery's
		// doc comment).
		props := make([]propertyEntry, len(cols))
		for i, c := range cols {
			props[i] = propertyEntry{Key: c.NormalizedName, Value: values[c.NormalizedName]}
		}
		writeJSON(w, http.StatusOK, map[string]any{"fid": fid, "properties": props})
	}}, nil
}

type PublishInput struct {
	ID   string `path:"id" doc:"Dataset id"`
	Body struct {
		Slug string `json:"slug,omitempty"`
	}
}

type publishBody struct {
	URL      string `json:"url"`
	Slug     string `json:"slug"`
	IsPublic bool   `json:"isPublic"`
}

// Publish is spec.md §6.1's `POST /api/files/:id/publish`.
func (svc *Services) Publish(ctx context.Context, input *PublishInput) (*huma.StreamResponse, error) {
	return &huma.StreamResponse{Body: func(humaCtx huma.Context) {
		w, r := unwrapBoth(humaCtx)
		if _, ok := svc.requireAdmin(w, r); !ok {
			return
		}
		d, err := svc.Catalog.Publish(input.ID, input.Body.Slug)
		if err != nil {
			httperr.Write(w, r, svc.Log, err)
			return
		}
		slug := ""
		if d.PublicSlug.Valid {
			slug = d.PublicSlug.String
		}
		writeJSON(w, http.StatusOK, publishBody{URL: "/tiles/" + slug, Slug: slug, IsPublic: d.IsPublic})
	}}, nil
}

// Unpublish is spec.md §6.1's `POST /api/files/:id/unpublish`.
func (svc *Services) Unpublish(ctx context.Context, input *IDInput) (*huma.StreamResponse, error) {
	return &huma.StreamResponse{Body: func(humaCtx huma.Context) {
		w, r := unwrapBoth(humaCtx)
		if _, ok := svc.requireAdmin(w, r); !ok {
			return
		}
		if _, err := svc.Catalog.Get(input.ID); err != nil {
			httperr.Write(w, r, svc.Log, err)
			return
		}
		if err := svc.Catalog.Unpublish(input.ID); err != nil {
			httperr.Write(w, r, svc.Log, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}}, nil
}
