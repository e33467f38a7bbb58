package auth

import (
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	sessionCookieName = "mapflow_session"
	sessionTTL        = 24 * time.Hour
)

// Session is a server-side session row, keyed by an opaque id stored in
// the cookie (spec.md §4.6 Login: "issues a session id set as an
// HTTP-only cookie... with a server-side expiry").
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// StartSession creates a session row for u and sets the cookie on w,
// applying CookieSecure per the process configuration.
func (g *Gate) StartSession(w http.ResponseWriter, u User, cookieSecure bool) error {
	s := Session{
		ID:        uuid.New().String(),
		UserID:    u.ID,
		ExpiresAt: time.Now().UTC().Add(sessionTTL),
		CreatedAt: time.Now().UTC(),
	}
	err := g.store.WithWrite(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO sessions (id, data, expiry_date, created_at) VALUES (?, ?, ?, ?)`,
			s.ID, u.ID, s.ExpiresAt, s.CreatedAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("io: create session: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    s.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   cookieSecure,
		SameSite: http.SameSiteLaxMode,
		Expires:  s.ExpiresAt,
	})
	return nil
}

// EndSession deletes the session named by the request's cookie and clears
// it on the response, per spec.md §4.6 Logout.
func (g *Gate) EndSession(w http.ResponseWriter, r *http.Request) error {
	cookie, err := r.Cookie(sessionCookieName)
	if err == nil {
		if dbErr := g.store.WithWrite(func(tx *sql.Tx) error {
			_, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, cookie.Value)
			return err
		}); dbErr != nil {
			return fmt.Errorf("io: delete session: %w", dbErr)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
	return nil
}

// CurrentUser resolves the request's session cookie to its principal, per
// spec.md §4.6 Check. Returns (User{}, false, nil) when there is no valid,
// unexpired session — callers map that to 401.
func (g *Gate) CurrentUser(r *http.Request) (User, bool, error) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return User{}, false, nil
	}
	return g.UserBySessionID(cookie.Value)
}

// UserBySessionID resolves a bare session id, as extracted from a cookie,
// to its principal.
func (g *Gate) UserBySessionID(sessionID string) (User, bool, error) {
	if sessionID == "" {
		return User{}, false, nil
	}

	var userID string
	var expiry time.Time
	row := g.store.DB().QueryRow(`SELECT data, expiry_date FROM sessions WHERE id = ?`, sessionID)
	if err := row.Scan(&userID, &expiry); err == sql.ErrNoRows {
		return User{}, false, nil
	} else if err != nil {
		return User{}, false, fmt.Errorf("io: look up session: %w", err)
	}
	if time.Now().UTC().After(expiry) {
		return User{}, false, nil
	}

	var u User
	row = g.store.DB().QueryRow(`SELECT id, username, role, created_at FROM users WHERE id = ?`, userID)
	if err := row.Scan(&u.ID, &u.Username, &u.Role, &u.CreatedAt); err == sql.ErrNoRows {
		return User{}, false, nil
	} else if err != nil {
		return User{}, false, fmt.Errorf("io: look up session user: %w", err)
	}
	return u, true, nil
}
