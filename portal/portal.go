// Package portal is the local web front end: login, OTP verification,
// request access, change password and the guarded client and admin views,
// all backed by one session store for a single local user.
package portal

import (
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-openapi/runtime/middleware"

	"github.com/prsuperstar/superstar/client"
	"github.com/prsuperstar/superstar/guard"
	"github.com/prsuperstar/superstar/notify"
	"github.com/prsuperstar/superstar/otp"
	"github.com/prsuperstar/superstar/session"
)

// DefaultAddr is where serve listens unless told otherwise.
const DefaultAddr = "127.0.0.1:8787"

//go:embed templates/*.html
var templateFS embed.FS

var pageNames = []string{"login", "otp", "request_access", "change_password", "home", "status"}

// Server renders the portal pages.
type Server struct {
	store   *session.Store
	notices *notify.Queue
	sink    notify.Notifier
	guard   *guard.Middleware
	logger  *slog.Logger
	pages   map[string]*template.Template
	otpOpts []otp.Option

	mu      sync.Mutex
	handler *otp.Handler
	from    string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the structured logger. Notices are logged through it too.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithOTPOptions passes options to every OTP handler the portal creates.
func WithOTPOptions(opts ...otp.Option) Option {
	return func(s *Server) {
		s.otpOpts = append(s.otpOpts, opts...)
	}
}

// New creates a portal for store.
func New(store *session.Store, opts ...Option) (*Server, error) {
	s := &Server{
		store:   store,
		notices: notify.NewQueue(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	s.logger = s.logger.With("component", "portal")
	s.sink = notify.Multi(s.notices, notify.NewLog(s.logger))

	s.pages = make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		t, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parsing %s template: %w", name, err)
		}
		s.pages[name] = t
	}

	s.guard = guard.New(store,
		guard.WithLoadingHandler(http.HandlerFunc(s.loading)),
		guard.WithForbiddenHandler(http.HandlerFunc(s.forbidden)))

	// Leaving AwaitingOTP by any path ends the current OTP screen.
	store.Watch(func(snap session.Snapshot) {
		if snap.Phase != session.PhaseAwaitingOTP {
			s.closeOTP()
		}
	})
	return s, nil
}

// Router returns a chi.Router with every portal route mounted.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(client.OpenAPISpec)
	})
	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/openapi.yaml",
		Path:    "docs",
	}, nil))
	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/openapi.yaml",
		Path:    "redoc",
	}, nil))

	r.Group(func(r chi.Router) {
		r.Use(SecurityHeaders)
		r.Use(CSRF)

		r.With(s.guard.Public).Get("/login", s.loginPage(false))
		r.With(s.guard.Public).Post("/login", s.loginSubmit(false))
		r.With(s.guard.Public).Get("/request-access", s.requestAccessPage)
		r.With(s.guard.Public).Post("/request-access", s.requestAccessSubmit)

		r.Get("/otp", s.otpPage)
		r.Post("/otp/verify", s.otpVerify)
		r.Post("/otp/resend", s.otpResend)
		r.Post("/otp/back", s.otpBack)
		r.Post("/logout", s.logout)

		r.Group(func(r chi.Router) {
			r.Use(s.guard.Require(guard.RequireIdentity))
			r.Get("/", s.section("Home"))
			r.Get("/notices", s.section("Notices"))
			r.Get("/change-password", s.changePasswordPage)
			r.Post("/change-password", s.changePasswordSubmit)
		})

		r.Route("/admin", func(r chi.Router) {
			r.With(s.guard.Public).Get("/login", s.loginPage(true))
			r.With(s.guard.Public).Post("/login", s.loginSubmit(true))
			r.Group(func(r chi.Router) {
				r.Use(s.guard.Require(guard.RequireAdmin))
				r.Get("/", s.section("Dashboard"))
				r.Get("/{section}", s.adminSection)
			})
		})

		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, guard.Fallback(s.store.Snapshot()), http.StatusSeeOther)
		})
	})

	return r
}

// otpHandler returns the handler for the current challenge, creating one
// when the store is awaiting a code and none is open.
func (s *Server) otpHandler() *otp.Handler {
	if s.store.Snapshot().Phase != session.PhaseAwaitingOTP {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handler == nil || s.handler.View().Closed {
		s.handler = otp.NewHandler(s.store, append([]otp.Option{otp.WithLogger(s.logger)}, s.otpOpts...)...)
	}
	return s.handler
}

func (s *Server) closeOTP() {
	s.mu.Lock()
	h := s.handler
	s.handler = nil
	s.mu.Unlock()
	if h != nil {
		h.Close()
	}
}

// Close releases the OTP countdown, if one is running.
func (s *Server) Close() {
	s.closeOTP()
}
