// Package guard decides whether the current session may see a view.
package guard

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/prsuperstar/superstar/session"
)

// Paths the guard redirects to.
const (
	PathHome       = "/"
	PathLogin      = "/login"
	PathAdminLogin = "/admin/login"
	PathAdmin      = "/admin"
	PathRequest    = "/request-access"
)

// Requirement is the capability a view needs.
type Requirement int

const (
	// RequireIdentity admits any authenticated user.
	RequireIdentity Requirement = iota
	// RequireAdmin admits only authenticated admins.
	RequireAdmin
)

// Decision is the outcome of a guard check.
type Decision int

const (
	Allow Decision = iota
	// Loading means the session is still being restored.
	Loading
	RedirectLogin
	RedirectAdminLogin
	Forbidden
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Loading:
		return "loading"
	case RedirectLogin:
		return "redirect_login"
	case RedirectAdminLogin:
		return "redirect_admin_login"
	case Forbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Decide applies req to snap. While the session is restoring the answer is
// always Loading, so a valid persisted token never sees a login redirect.
func Decide(snap session.Snapshot, req Requirement) Decision {
	switch {
	case snap.Phase == session.PhaseRestoring:
		return Loading
	case !snap.IsAuthenticated():
		if req == RequireAdmin {
			return RedirectAdminLogin
		}
		return RedirectLogin
	case req == RequireAdmin && !snap.IsAdmin():
		return Forbidden
	default:
		return Allow
	}
}

// PublicRedirect returns where a public page at path sends the current
// session, or "" to render it. Login and request-access pages bounce
// authenticated users home; the admin login page bounces admins to the
// console.
func PublicRedirect(snap session.Snapshot, path string) string {
	if snap.Phase == session.PhaseRestoring {
		return ""
	}
	switch path {
	case PathLogin, PathRequest:
		if snap.IsAuthenticated() {
			return PathHome
		}
	case PathAdminLogin:
		if snap.IsAdmin() {
			return PathAdmin
		}
	}
	return ""
}

// Fallback is where an unknown path sends the current session.
func Fallback(snap session.Snapshot) string {
	if snap.IsAuthenticated() {
		return PathHome
	}
	return PathLogin
}

// SafeRedirect returns from when it is a local absolute path, otherwise "/".
func SafeRedirect(from string) string {
	if from == "" || !strings.HasPrefix(from, "/") || strings.HasPrefix(from, "//") || strings.HasPrefix(from, "/\\") {
		return PathHome
	}
	u, err := url.Parse(from)
	if err != nil || u.IsAbs() || u.Host != "" {
		return PathHome
	}
	return from
}

// LoginURL is the login page that returns to from after a client login.
func LoginURL(from string) string {
	from = SafeRedirect(from)
	if from == PathHome {
		return PathLogin
	}
	return PathLogin + "?" + url.Values{"from": {from}}.Encode()
}

// SnapshotSource yields the session state to check. *session.Store
// implements it.
type SnapshotSource interface {
	Snapshot() session.Snapshot
}

// Middleware enforces a Requirement on HTTP handlers.
type Middleware struct {
	src       SnapshotSource
	loading   http.Handler
	forbidden http.Handler
}

// Option configures a Middleware.
type Option func(*Middleware)

// WithLoadingHandler replaces the page served while the session restores.
func WithLoadingHandler(h http.Handler) Option {
	return func(m *Middleware) {
		m.loading = h
	}
}

// WithForbiddenHandler replaces the page served to users lacking a role.
func WithForbiddenHandler(h http.Handler) Option {
	return func(m *Middleware) {
		m.forbidden = h
	}
}

// New returns a Middleware reading state from src.
func New(src SnapshotSource, opts ...Option) *Middleware {
	m := &Middleware{
		src:       src,
		loading:   http.HandlerFunc(defaultLoading),
		forbidden: http.HandlerFunc(defaultForbidden),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Require wraps next so it only runs when req is satisfied.
func (m *Middleware) Require(req Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch Decide(m.src.Snapshot(), req) {
			case Allow:
				next.ServeHTTP(w, r)
			case Loading:
				m.loading.ServeHTTP(w, r)
			case RedirectLogin:
				http.Redirect(w, r, LoginURL(r.URL.RequestURI()), http.StatusSeeOther)
			case RedirectAdminLogin:
				http.Redirect(w, r, PathAdminLogin, http.StatusSeeOther)
			case Forbidden:
				m.forbidden.ServeHTTP(w, r)
			}
		})
	}
}

// Public wraps a public page so it applies PublicRedirect.
func (m *Middleware) Public(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := m.src.Snapshot()
		if snap.Phase == session.PhaseRestoring {
			m.loading.ServeHTTP(w, r)
			return
		}
		if to := PublicRedirect(snap, r.URL.Path); to != "" {
			http.Redirect(w, r, to, http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func defaultLoading(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Refresh", "1")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Loading...\n"))
}

func defaultForbidden(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, "Admin access required", http.StatusForbidden)
}
