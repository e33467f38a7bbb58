// Package api is the HTTP surface of spec.md §6.1, built on the teacher's
// huma/v2 + humago wiring. Every operation is registered as a
// huma.StreamResponse so handlers can reach the underlying *http.Request
// and http.ResponseWriter via humago.Unwrap (the same escape hatch the
// teacher's internal/api/editor SSE handlers use), which is what session
// cookies, multipart bodies, and raw tile payloads all need.
package api

import (
	"github.com/rs/zerolog"

	"github.com/mapflow/mapflow/internal/auth"
	"github.com/mapflow/mapflow/internal/catalog"
	"github.com/mapflow/mapflow/internal/config"
	"github.com/mapflow/mapflow/internal/ingest"
	"github.com/mapflow/mapflow/internal/store"
	"github.com/mapflow/mapflow/internal/tiles"
)

// Services bundles every dependency the route handlers need.
type Services struct {
	Store   *store.Store
	Catalog *catalog.Catalog
	Gate    *auth.Gate
	Tiles   *tiles.Engine
	Ingest  *ingest.Receiver
	Config  config.Config
	Log     zerolog.Logger
}
