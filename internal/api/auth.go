package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/mapflow/mapflow/internal/auth"
	"github.com/mapflow/mapflow/internal/httperr"
)

// CredentialsInput is the shared {username, password} body of spec.md
// §6.1's init/login operations.
type CredentialsInput struct {
	Body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
}

type userBody struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// RegisterAuth wires the session and access gate of spec.md §4.6.
func (svc *Services) RegisterAuth(api huma.API) {
	huma.Post(api, "/api/auth/init", svc.Init, huma.OperationTags("auth"))
	huma.Post(api, "/api/auth/login", svc.Login, huma.OperationTags("auth"))
	huma.Post(api, "/api/auth/logout", svc.Logout, huma.OperationTags("auth"))
	huma.Get(api, "/api/auth/check", svc.Check, huma.OperationTags("auth"))
	huma.Get(api, "/api/test/is-initialized", svc.IsInitialized, huma.OperationTags("auth"))
	huma.Post(api, "/api/test/reset", svc.Reset, huma.OperationTags("debug"))
}

// Init is spec.md §6.1's one-shot `POST /api/auth/init`.
func (svc *Services) Init(ctx context.Context, input *CredentialsInput) (*huma.StreamResponse, error) {
	return &huma.StreamResponse{Body: func(humaCtx huma.Context) {
		_, w := humago.Unwrap(humaCtx)
		u, err := svc.Gate.Bootstrap(input.Body.Username, input.Body.Password)
		if err != nil {
			httperr.Write(w, nil, svc.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"user": userBody{Username: u.Username, Role: u.Role}})
	}}, nil
}

// Login is spec.md §6.1's `POST /api/auth/login`.
func (svc *Services) Login(ctx context.Context, input *CredentialsInput) (*huma.StreamResponse, error) {
	return &huma.StreamResponse{Body: func(humaCtx huma.Context) {
		w, r := unwrapBoth(humaCtx)
		u, err := svc.Gate.Authenticate(input.Body.Username, input.Body.Password)
		if err != nil {
			httperr.Write(w, r, svc.Log, err)
			return
		}
		if err := svc.Gate.StartSession(w, u, svc.Config.CookieSecure); err != nil {
			httperr.Write(w, r, svc.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"user": userBody{Username: u.Username, Role: u.Role}})
	}}, nil
}

// Logout is spec.md §6.1's `POST /api/auth/logout`.
func (svc *Services) Logout(ctx context.Context, input *EmptyInput) (*huma.StreamResponse, error) {
	return &huma.StreamResponse{Body: func(humaCtx huma.Context) {
		w, r := unwrapBoth(humaCtx)
		if err := svc.Gate.EndSession(w, r); err != nil {
			httperr.Write(w, r, svc.Log, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}}, nil
}

// Check is spec.md §6.1's `GET /api/auth/check`.
func (svc *Services) Check(ctx context.Context, input *EmptyInput) (*huma.StreamResponse, error) {
	return &huma.StreamResponse{Body: func(humaCtx huma.Context) {
		w, r := unwrapBoth(humaCtx)
		u, ok := svc.requireAdmin(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, userBody{Username: u.Username, Role: u.Role})
	}}, nil
}

// IsInitialized is spec.md §6.1's public bootstrap-probe endpoint.
func (svc *Services) IsInitialized(ctx context.Context, input *EmptyInput) (*huma.StreamResponse, error) {
	return &huma.StreamResponse{Body: func(humaCtx huma.Context) {
		_, w := humago.Unwrap(humaCtx)
		initialized, err := svc.Gate.IsInitialized()
		if err != nil {
			httperr.Write(w, nil, svc.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"initialized": initialized})
	}}, nil
}

// Reset is spec.md §4.6 zone 3's debug-only reset endpoint, present only
// when both the build tag and MAPFLOW_TEST_MODE=1 are set. Grounded in
// original_source/backend/src/test_routes.rs's reset_test_state teardown
// order: per-dataset layer_* tables, published_files, dataset_columns,
// files, sessions, users, system_settings, then the upload directory tree.
func (svc *Services) Reset(ctx context.Context, input *EmptyInput) (*huma.StreamResponse, error) {
	return &huma.StreamResponse{Body: func(humaCtx huma.Context) {
		_, w := humago.Unwrap(humaCtx)
		if !auth.DebugBuild() || !svc.Config.TestMode {
			httperr.Write(w, nil, svc.Log, httperr.NotFound("not found"))
			return
		}
		if err := svc.resetTestState(); err != nil {
			httperr.Write(w, nil, svc.Log, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}}, nil
}
