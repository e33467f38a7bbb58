package auth

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mapflow/mapflow/internal/httperr"
	"github.com/mapflow/mapflow/internal/store"
)

// User is the single administrator account spec.md §4.6 describes (the
// system supports exactly one principal role, "admin").
type User struct {
	ID        string
	Username  string
	Role      string
	CreatedAt time.Time
}

// Gate is the session and access gate: bootstrap, login, logout, check.
type Gate struct {
	store *store.Store
	log   zerolog.Logger

	dummyOnce sync.Once
	dummyHash string
}

func New(s *store.Store, log zerolog.Logger) *Gate { return &Gate{store: s, log: log} }

// IsInitialized reports whether the administrator account has already been
// created, per spec.md §4.6 bootstrap's idempotency rule.
func (g *Gate) IsInitialized() (bool, error) {
	var v string
	err := g.store.DB().QueryRow(`SELECT value FROM system_settings WHERE key = 'initialized'`).Scan(&v)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("io: check initialization: %w", err)
	}
	return v == "true", nil
}

// Bootstrap creates the single administrator account iff none exists yet
// (spec.md §4.6). Runs the existence check and insert inside one writer
// transaction so two concurrent bootstrap calls cannot both succeed.
func (g *Gate) Bootstrap(username, password string) (User, error) {
	if err := ValidatePasswordComplexity(password); err != nil {
		return User{}, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return User{}, httperr.Internal(g.log, err)
	}

	u := User{ID: uuid.New().String(), Username: username, Role: "admin", CreatedAt: time.Now().UTC()}
	err = g.store.WithWrite(func(tx *sql.Tx) error {
		var v string
		err := tx.QueryRow(`SELECT value FROM system_settings WHERE key = 'initialized'`).Scan(&v)
		if err == nil && v == "true" {
			return httperr.Conflict("administrator already initialized")
		}
		if err != nil && err != sql.ErrNoRows {
			return err
		}

		if _, err := tx.Exec(
			`INSERT INTO users (id, username, password_hash, role, created_at) VALUES (?, ?, ?, ?, ?)`,
			u.ID, u.Username, hash, u.Role, u.CreatedAt,
		); err != nil {
			return err
		}
		_, err = tx.Exec(
			`INSERT INTO system_settings (key, value) VALUES ('initialized', 'true')
			 ON CONFLICT (key) DO UPDATE SET value = 'true'`,
		)
		return err
	})
	if err != nil {
		if e, ok := httperr.As(err); ok {
			return User{}, e
		}
		return User{}, fmt.Errorf("io: bootstrap administrator: %w", err)
	}
	return u, nil
}

// Authenticate verifies credentials with a timing-attack-mitigated lookup:
// when the username is unknown, the comparison still runs against a cached
// dummy hash so a missing-user response takes the same time as a
// wrong-password response.
func (g *Gate) Authenticate(username, password string) (User, error) {
	var u User
	var hash string
	row := g.store.DB().QueryRow(
		`SELECT id, username, password_hash, role, created_at FROM users WHERE username = ?`, username,
	)
	err := row.Scan(&u.ID, &u.Username, &hash, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		verifyPassword(g.dummyVerifierHash(), password)
		return User{}, httperr.Unauthorized("invalid username or password")
	}
	if err != nil {
		return User{}, fmt.Errorf("io: look up user: %w", err)
	}

	if !verifyPassword(hash, password) {
		return User{}, httperr.Unauthorized("invalid username or password")
	}
	return u, nil
}

// dummyVerifierHash lazily hashes a fixed placeholder password once per
// process so the no-such-user path pays the same bcrypt cost as a real
// comparison.
func (g *Gate) dummyVerifierHash() string {
	g.dummyOnce.Do(func() {
		hash, err := HashPassword("correct horse battery staple 1!")
		if err != nil {
			hash = "$2a$10$invalidinvalidinvalidinvalidinvalidinvalidinvalidin"
		}
		g.dummyHash = hash
	})
	return g.dummyHash
}
