package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mapflow/mapflow/internal/httperr"
	"github.com/mapflow/mapflow/internal/tiles"
)

// RegisterTiles wires spec.md §6.1's admin tile route and §4.7's public
// slug-addressed tile route.
func (svc *Services) RegisterTiles(api huma.API) {
	huma.Get(api, "/api/files/{id}/tiles/{z}/{x}/{y}", svc.AdminTile, huma.OperationTags("tiles"))
	huma.Get(api, "/tiles/{slug}/{z}/{x}/{y}", svc.PublicTile, huma.OperationTags("tiles"))
}

// TileInput binds the z/x/y path segments shared by both tile routes.
type TileInput struct {
	ID string `path:"id" doc:"Dataset id"`
	Z  int    `path:"z"`
	X  int    `path:"x"`
	Y  int    `path:"y"`
}

// SlugTileInput binds the public route's slug in place of a dataset id.
type SlugTileInput struct {
	Slug string `path:"slug"`
	Z    int    `path:"z"`
	X    int    `path:"x"`
	Y    int    `path:"y"`
}

// AdminTile is spec.md §6.1's `GET /api/files/:id/tiles/:z/:x/:y`.
func (svc *Services) AdminTile(ctx context.Context, input *TileInput) (*huma.StreamResponse, error) {
	return &huma.StreamResponse{Body: func(humaCtx huma.Context) {
		w, r := unwrapBoth(humaCtx)
		if _, ok := svc.requireAdmin(w, r); !ok {
			return
		}
		result, err := svc.Tiles.RenderByID(input.ID, input.Z, input.X, input.Y)
		if err != nil {
			httperr.Write(w, r, svc.Log, err)
			return
		}
		writeTile(w, result)
	}}, nil
}

// PublicTile is spec.md §4.7/§6.1's `GET /tiles/:slug/:z/:x/:y`, open to
// unauthenticated requests and cached per scenario 5.
func (svc *Services) PublicTile(ctx context.Context, input *SlugTileInput) (*huma.StreamResponse, error) {
	return &huma.StreamResponse{Body: func(humaCtx huma.Context) {
		w, r := unwrapBoth(humaCtx)
		result, err := svc.Tiles.RenderBySlug(input.Slug, input.Z, input.X, input.Y)
		if err != nil {
			httperr.Write(w, r, svc.Log, err)
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=300")
		writeTile(w, result)
	}}, nil
}

func writeTile(w http.ResponseWriter, result tiles.Result) {
	if result.Status == http.StatusNoContent || (result.Status == 0 && result.Data == nil) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", result.ContentType)
	status := result.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	w.Write(result.Data)
}
