// Package authtest is an in-process fake of the authentication service.
//
// It implements the same HTTP contract as the production service closely
// enough to drive the client, session, login, otp and portal packages in
// tests: accounts, email OTP challenges with expiry and resend throttling,
// bearer sessions, login lockout after repeated bad passwords, degraded
// (mail not configured) logins, and failure injection for logout and
// who-am-I.
package authtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/prsuperstar/superstar/client"
	"github.com/prsuperstar/superstar/internal/util"
)

const (
	// BasePath is where Start mounts the router.
	BasePath = "/api"

	otpTTL            = 10 * time.Minute
	maxVerifyFailures = 5
	maxBodySize       = 1 << 16

	// DegradedWarning is sent with direct logins when mail is not configured.
	DegradedWarning = "SMTP not configured - email verification skipped"
)

// Account is a user known to the fake service.
type Account struct {
	ID       client.ID
	Username string
	Password string
	Email    string
	IsAdmin  bool
}

type challenge struct {
	code      string
	expiresAt time.Time
	sentAt    time.Time
	failures  int
}

// AccessRequest is a request-access submission received by the fake.
type AccessRequest = client.AccessRequest

// Server is the fake authentication service. The exported fields may be
// changed between requests; they are read under the server's lock.
type Server struct {
	// MailConfigured controls whether client logins issue OTP challenges
	// (true) or fall back to direct logins with a warning (false).
	MailConfigured bool
	// ResendInterval is the server-side minimum gap between codes for one user.
	ResendInterval time.Duration
	// FailLogout makes POST /auth/logout answer 500.
	FailLogout bool
	// FailMe makes GET /auth/me answer 500.
	FailMe bool
	// NextCode, when set, is used for the next issued OTP instead of a random one.
	NextCode string

	mu         sync.Mutex
	now        func() time.Time
	accounts   map[string]*Account
	challenges map[client.ID]*challenge
	sessions   map[string]client.ID
	tokenSeq   int
	calls      map[string]int
	lastBody   map[string][]byte
	requests   []AccessRequest
	gates      map[string]*gate
	limiter    *loginLimiter
}

// gate blocks requests for one path until released.
type gate struct {
	release chan struct{}
	entered chan struct{}
}

// New returns a fake service with mail delivery configured.
func New() *Server {
	return &Server{
		MailConfigured: true,
		now:            time.Now,
		accounts:       make(map[string]*Account),
		challenges:     make(map[client.ID]*challenge),
		sessions:       make(map[string]client.ID),
		calls:          make(map[string]int),
		lastBody:       make(map[string][]byte),
		gates:          make(map[string]*gate),
		limiter:        newLoginLimiter(),
	}
}

// SetClock replaces the time source used for OTP expiry and resend throttling.
func (s *Server) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// AddAccount registers an account.
func (s *Server) AddAccount(a Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct := a
	s.accounts[a.Username] = &acct
}

// Start serves the router under BasePath on an httptest server that is
// closed when t finishes. It returns the base URL for client.New.
func (s *Server) Start(t testing.TB) string {
	t.Helper()
	r := chi.NewRouter()
	r.Mount(BasePath, s.Router())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv.URL + BasePath
}

// Router returns a chi.Router with every auth route mounted.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Post(client.PathLogin, s.counted(http.MethodPost, client.PathLogin, s.login))
	r.Post(client.PathAdminLogin, s.counted(http.MethodPost, client.PathAdminLogin, s.adminLogin))
	r.Post(client.PathVerifyOTP, s.counted(http.MethodPost, client.PathVerifyOTP, s.verifyOTP))
	r.Post(client.PathResendOTP, s.counted(http.MethodPost, client.PathResendOTP, s.resendOTP))
	r.Get(client.PathMe, s.counted(http.MethodGet, client.PathMe, s.me))
	r.Post(client.PathLogout, s.counted(http.MethodPost, client.PathLogout, s.logout))
	r.Post(client.PathChangePassword, s.counted(http.MethodPost, client.PathChangePassword, s.changePassword))
	r.Post(client.PathRequestAccess, s.counted(http.MethodPost, client.PathRequestAccess, s.requestAccess))
	return r
}

func callKey(method, path string) string {
	return method + " " + path
}

// counted records the call and its body before handing off to h.
func (s *Server) counted(method, path string, h func(w http.ResponseWriter, r *http.Request, body []byte)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body []byte
		if r.Body != nil {
			body, _ = io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
		}
		s.mu.Lock()
		s.calls[callKey(method, path)]++
		s.lastBody[path] = body
		s.mu.Unlock()
		h(w, r, body)
	}
}

// Calls returns how many times method+path was requested.
func (s *Server) Calls(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[callKey(method, path)]
}

// TotalCalls returns the number of requests across all routes.
func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

// LastBody returns the JSON body of the most recent request to path,
// decoded into a generic map.
func (s *Server) LastBody(path string) map[string]any {
	s.mu.Lock()
	raw := s.lastBody[path]
	s.mu.Unlock()
	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	return m
}

// Code returns the currently valid OTP for a user, or "" if none is pending.
func (s *Server) Code(userID client.ID) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.challenges[userID]; ok {
		return ch.code
	}
	return ""
}

// IssueToken creates a session for username as if it had logged in.
func (s *Server) IssueToken(username string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[username]
	if !ok {
		panic(fmt.Sprintf("authtest: unknown account %q", username))
	}
	return s.newSessionLocked(acct.ID)
}

// RevokeToken ends a session server-side, as an expiry would.
func (s *Server) RevokeToken(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

// Sessions returns the number of live bearer sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// AccessRequests returns every request-access submission received.
func (s *Server) AccessRequests() []AccessRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AccessRequest(nil), s.requests...)
}

// HoldVerify makes the next verify-otp requests block until release is
// called. entered receives once per request that reaches the hold.
func (s *Server) HoldVerify() (entered <-chan struct{}, release func()) {
	return s.hold(client.PathVerifyOTP)
}

// HoldMe is HoldVerify for who-am-I requests.
func (s *Server) HoldMe() (entered <-chan struct{}, release func()) {
	return s.hold(client.PathMe)
}

func (s *Server) hold(path string) (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := &gate{release: make(chan struct{}), entered: make(chan struct{}, 8)}
	s.gates[path] = g
	var once sync.Once
	return g.entered, func() {
		once.Do(func() { close(g.release) })
	}
}

// wait blocks while path is held. It reports false when the request was
// abandoned first.
func (s *Server) wait(r *http.Request, path string) bool {
	s.mu.Lock()
	g := s.gates[path]
	s.mu.Unlock()
	if g == nil {
		return true
	}
	select {
	case g.entered <- struct{}{}:
	default:
	}
	select {
	case <-g.release:
		return true
	case <-r.Context().Done():
		return false
	}
}

func (s *Server) newSessionLocked(userID client.ID) string {
	s.tokenSeq++
	token := "tok-" + strconv.Itoa(s.tokenSeq)
	s.sessions[token] = userID
	return token
}

func (s *Server) accountByIDLocked(id client.ID) *Account {
	for _, a := range s.accounts {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func (s *Server) userFromRequestLocked(r *http.Request) *Account {
	token, ok := bearer(r)
	if !ok {
		return nil
	}
	id, ok := s.sessions[token]
	if !ok {
		return nil
	}
	return s.accountByIDLocked(id)
}

func (s *Server) issueCodeLocked() string {
	if s.NextCode != "" {
		code := s.NextCode
		s.NextCode = ""
		return code
	}
	raw, err := util.RandomBytes(4)
	if err != nil {
		panic(err)
	}
	n := (uint32(raw[0])<<24 | uint32(raw[1])<<16 | uint32(raw[2])<<8 | uint32(raw[3])) % 1000000
	return fmt.Sprintf("%06d", n)
}

func publicUser(a *Account) *client.User {
	return &client.User{ID: a.ID, Username: a.Username, Email: a.Email, IsAdmin: a.IsAdmin}
}

// MaskEmail hides all but the first character of the local part.
func MaskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return "***"
	}
	return local[:1] + "***@" + domain
}
