package auth

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/mapflow/mapflow/internal/httperr"
	"github.com/mapflow/mapflow/internal/store"
)

func newTestGate(t *testing.T) *Gate {
	t.Helper()
	s, err := store.OpenWithoutSpatialExtension(filepath.Join(t.TempDir(), "test.duckdb"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s, zerolog.Nop())
}

func TestBootstrapOnce(t *testing.T) {
	g := newTestGate(t)

	initialized, err := g.IsInitialized()
	if err != nil {
		t.Fatalf("IsInitialized: %v", err)
	}
	if initialized {
		t.Fatal("expected fresh store to be uninitialized")
	}

	if _, err := g.Bootstrap("admin", "Sup3r!Secret"); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	initialized, err = g.IsInitialized()
	if err != nil {
		t.Fatalf("IsInitialized after bootstrap: %v", err)
	}
	if !initialized {
		t.Fatal("expected store to be initialized after bootstrap")
	}

	_, err = g.Bootstrap("admin2", "An0ther!Secret")
	e, ok := httperr.As(err)
	if !ok || e.Kind != httperr.KindConflict {
		t.Fatalf("expected conflict on second bootstrap, got %v", err)
	}
}

func TestBootstrapRejectsWeakPassword(t *testing.T) {
	g := newTestGate(t)
	_, err := g.Bootstrap("admin", "weak")
	e, ok := httperr.As(err)
	if !ok || e.Kind != httperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	g := newTestGate(t)
	if _, err := g.Bootstrap("admin", "Sup3r!Secret"); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	u, err := g.Authenticate("admin", "Sup3r!Secret")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if u.Username != "admin" {
		t.Fatalf("expected username admin, got %q", u.Username)
	}

	if _, err := g.Authenticate("admin", "wrong-password"); err == nil {
		t.Fatal("expected error for wrong password")
	}
	if _, err := g.Authenticate("no-such-user", "whatever1!"); err == nil {
		t.Fatal("expected error for unknown user")
	}
}
