// Package server wires the HTTP surface of spec.md §6: the huma/humago API
// router, CORS, and static frontend serving. The debug reset route's gate
// is checked inside internal/api's Reset handler, not here. Grounded in the teacher's internal/server/server.go wiring
// style (http.ServeMux + humago.New + RegisterRoutes), extended with
// github.com/rs/cors for spec.md §4.6's browser-facing CORS surface, which
// the teacher's own module graph depends on but never wires to a live
// handler.
package server

import (
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/mapflow/mapflow/internal/api"
	"github.com/mapflow/mapflow/internal/config"
)

// Server is the mapflow HTTP server.
type Server struct {
	cfg     config.Config
	mux     *http.ServeMux
	humaAPI huma.API
	handler http.Handler
	log     zerolog.Logger
}

// New builds a Server wired to svc and ready to ServeHTTP.
func New(cfg config.Config, svc *api.Services, log zerolog.Logger) *Server {
	mux := http.NewServeMux()

	humaConfig := huma.DefaultConfig("mapflow API", "1.0.0")
	humaConfig.Info.Description = "Self-hosted spatial data service: ingestion, schema introspection, and vector-tile serving."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://localhost:%s", cfg.Port), Description: "Local server"},
	}

	humaAPI := humago.New(mux, humaConfig)
	api.RegisterRoutes(humaAPI, svc)

	if cfg.WebDist != "" {
		mux.Handle("/", http.FileServer(http.Dir(cfg.WebDist)))
	}

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	})

	return &Server{
		cfg:     cfg,
		mux:     mux,
		humaAPI: humaAPI,
		handler: corsMiddleware.Handler(mux),
		log:     log,
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// OpenAPI exposes the generated OpenAPI document, for the CLI's `spec`
// subcommand, mirroring the teacher's export-to-JSON/YAML workflow.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}
