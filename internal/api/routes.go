package api

import (
	"github.com/danielgtaylor/huma/v2"
)

// RegisterRoutes wires every operation of spec.md §6.1 onto api.
func RegisterRoutes(api huma.API, svc *Services) {
	svc.RegisterAuth(api)
	svc.RegisterFiles(api)
	svc.RegisterTiles(api)
}
