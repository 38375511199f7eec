// Package session is the client's authentication state machine.
//
// A Store moves between four phases:
//
//	Restoring -> Unauthenticated <-> AwaitingOTP -> Authenticated
//
// Client logins pass through AwaitingOTP until the emailed code is verified;
// admin logins and degraded (mail not configured) logins go straight to
// Authenticated. The bearer token is held in a memguard enclave while in
// memory and mirrored to a tokenstore.Store, so the in-memory and durable
// copies are always set or cleared together.
//
// A Store is safe for concurrent use. Network calls are made without holding
// the lock; their results are committed only if the session has not changed
// in the meantime.
package session

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/awnumar/memguard"

	"github.com/prsuperstar/superstar/client"
	"github.com/prsuperstar/superstar/tokenstore"
)

// Phase is the externally visible state of a Store.
type Phase int

const (
	// PhaseRestoring is the initial phase, until Restore has resolved any
	// persisted token.
	PhaseRestoring Phase = iota
	PhaseUnauthenticated
	PhaseAwaitingOTP
	PhaseAuthenticated
)

func (p Phase) String() string {
	switch p {
	case PhaseRestoring:
		return "restoring"
	case PhaseUnauthenticated:
		return "unauthenticated"
	case PhaseAwaitingOTP:
		return "awaiting_otp"
	case PhaseAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Identity is the authenticated principal.
type Identity struct {
	ID       client.ID
	Username string
	Email    string
	IsAdmin  bool
}

func identityFromUser(u *client.User) *Identity {
	return &Identity{ID: u.ID, Username: u.Username, Email: u.Email, IsAdmin: u.IsAdmin}
}

// PendingChallenge is an accepted login waiting for its second factor.
type PendingChallenge struct {
	UserID      client.ID
	MaskedEmail string
}

// Snapshot is a copy of the Store's state at one instant.
type Snapshot struct {
	Phase    Phase
	Identity *Identity
	Pending  *PendingChallenge
}

// IsAuthenticated reports whether an identity is present.
func (s Snapshot) IsAuthenticated() bool {
	return s.Identity != nil
}

// IsAdmin reports whether the identity carries the admin role.
func (s Snapshot) IsAdmin() bool {
	return s.Identity != nil && s.Identity.IsAdmin
}

// LoginResult describes a successful Login.
type LoginResult struct {
	// RequiresOTP is set when the store moved to AwaitingOTP.
	RequiresOTP bool
	MaskedEmail string
	Message     string
	// Warning is a non-fatal notice sent with a direct login, shown after
	// the success notification.
	Warning  string
	Identity *Identity
}

// ResendResult is the server's answer to a successful ResendOTP.
type ResendResult struct {
	Message     string
	MaskedEmail string
}

// API is the subset of the authentication service the Store drives.
// *client.Client implements it.
type API interface {
	Login(ctx context.Context, username, password string, admin bool) (*client.LoginResponse, error)
	VerifyOTP(ctx context.Context, userID client.ID, code string) (*client.SessionResponse, error)
	ResendOTP(ctx context.Context, userID client.ID) (*client.ResendOTPResponse, error)
	Me(ctx context.Context) (*client.User, error)
	Logout(ctx context.Context) error
	ChangePassword(ctx context.Context, oldPassword, newPassword string) error
	RequestAccess(ctx context.Context, req client.AccessRequest) (string, error)
}

type tokenSourceSetter interface {
	SetTokenSource(client.TokenSource)
}

// Store is the single authority over the client's identity.
type Store struct {
	api    API
	tokens tokenstore.Store
	logger *slog.Logger
	audit  *auditLogger

	mu        sync.Mutex
	restoring bool
	restored  chan struct{}
	inFlight  bool
	gen       uint64
	token     *memguard.Enclave
	identity  *Identity
	pending   *PendingChallenge
	watchers  []func(Snapshot)
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for diagnostics and audit events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a Store in PhaseRestoring. Call Restore once before use.
// If api can accept a token source (as *client.Client can), the Store
// registers itself so every request carries the current token.
func New(api API, tokens tokenstore.Store, opts ...Option) *Store {
	s := &Store{
		api:       api,
		tokens:    tokens,
		restoring: true,
		restored:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	s.audit = newAuditLogger(s.logger)
	s.logger = s.logger.With("component", "session")
	if ts, ok := api.(tokenSourceSetter); ok {
		ts.SetTokenSource(s.Token)
	}
	return s
}

// Watch registers fn to be called with the new Snapshot after every state
// change. fn runs without the Store's lock held.
func (s *Store) Watch(fn func(Snapshot)) {
	s.mu.Lock()
	s.watchers = append(s.watchers, fn)
	s.mu.Unlock()
}

// Snapshot returns the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{}
	switch {
	case s.restoring:
		snap.Phase = PhaseRestoring
	case s.identity != nil:
		snap.Phase = PhaseAuthenticated
	case s.pending != nil:
		snap.Phase = PhaseAwaitingOTP
	default:
		snap.Phase = PhaseUnauthenticated
	}
	if s.identity != nil {
		id := *s.identity
		snap.Identity = &id
	}
	if s.pending != nil {
		p := *s.pending
		snap.Pending = &p
	}
	return snap
}

// Restored is closed once Restore has finished.
func (s *Store) Restored() <-chan struct{} {
	return s.restored
}

// Token returns the current bearer token, or "" when there is none.
func (s *Store) Token() string {
	s.mu.Lock()
	enc := s.token
	s.mu.Unlock()
	if enc == nil {
		return ""
	}
	buf, err := enc.Open()
	if err != nil {
		s.logger.Error("opening token enclave", "error", err)
		return ""
	}
	defer buf.Destroy()
	return string(buf.Bytes())
}

// notify runs the watchers with snap. Callers must not hold s.mu.
func (s *Store) notify(snap Snapshot) {
	s.mu.Lock()
	watchers := slices.Clone(s.watchers)
	s.mu.Unlock()
	for _, fn := range watchers {
		fn(snap)
	}
}

// setSessionLocked makes token and identity current, writing the durable
// copy first. On a write failure nothing changes.
func (s *Store) setSessionLocked(token string, identity *Identity) error {
	if err := s.tokens.Save(token); err != nil {
		return err
	}
	s.token = memguard.NewEnclave([]byte(token))
	s.identity = identity
	s.pending = nil
	s.gen++
	return nil
}

// clearSessionLocked drops token, identity and any pending challenge from
// memory and from durable storage.
func (s *Store) clearSessionLocked() {
	s.token = nil
	s.identity = nil
	s.pending = nil
	s.gen++
	if err := s.tokens.Clear(); err != nil {
		s.logger.Warn("clearing stored token", "error", err)
	}
}

// begin marks a login, verification or restore as in flight and returns the
// generation it started from.
func (s *Store) begin(op string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return 0, opError(op, MsgInFlight, ErrRequestInFlight)
	}
	s.inFlight = true
	return s.gen, nil
}

// Restore resolves a persisted token into an identity with a who-am-I
// check. Any failure clears both copies of the token. Restore always leaves
// the Store out of PhaseRestoring.
func (s *Store) Restore(ctx context.Context) Snapshot {
	gen, err := s.begin("restore")
	if err != nil {
		return s.Snapshot()
	}

	var user *client.User
	token, err := s.tokens.Load()
	switch {
	case errors.Is(err, tokenstore.ErrUnreadable):
		s.audit.warn(ctx, AuditSessionInvalidated, slog.String("reason", "unreadable"))
	case err != nil:
		s.logger.Warn("loading stored token", "error", err)
	case token != "":
		s.mu.Lock()
		s.token = memguard.NewEnclave([]byte(token))
		s.mu.Unlock()
		user, err = s.api.Me(ctx)
		if err != nil || user == nil {
			reason := "not recognised"
			if err != nil {
				reason = err.Error()
			}
			s.audit.warn(ctx, AuditSessionInvalidated, slog.String("reason", reason))
			user = nil
		}
	}

	s.mu.Lock()
	switch {
	case s.gen != gen:
		// A logout during the who-am-I call already cleared the session.
		s.logger.Debug("restore result dropped", "reason", "session changed")
	case user != nil:
		s.identity = identityFromUser(user)
		s.gen++
		s.audit.event(ctx, AuditSessionRestored,
			slog.String("user_id", string(user.ID)),
			slog.Bool("admin", user.IsAdmin))
	default:
		s.clearSessionLocked()
	}
	s.inFlight = false
	wasRestoring := s.restoring
	s.restoring = false
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if wasRestoring {
		close(s.restored)
	}
	s.notify(snap)
	return snap
}

// Login submits credentials to the client or admin login endpoint. Empty
// fields fail with ErrValidation and send nothing.
func (s *Store) Login(ctx context.Context, username, password string, admin bool) (*LoginResult, error) {
	const op = "login"
	if username == "" || password == "" {
		return nil, opError(op, MsgMissingCredentials, ErrValidation)
	}

	gen, err := s.begin(op)
	if err != nil {
		return nil, err
	}
	resp, err := s.api.Login(ctx, username, password, admin)

	s.mu.Lock()
	s.inFlight = false
	if err != nil {
		s.mu.Unlock()
		s.audit.failure(ctx, AuditLoginFailure, client.Message(err, MsgLoginFailed),
			slog.String("username", username), slog.Bool("admin", admin))
		return nil, opError(op, client.Message(err, MsgLoginFailed), err)
	}
	if s.gen != gen {
		s.mu.Unlock()
		return nil, opError(op, MsgSuperseded, ErrSuperseded)
	}

	var result *LoginResult
	switch {
	case resp.RequiresOTP && !admin && resp.UserID != "":
		if s.identity != nil {
			s.clearSessionLocked()
		}
		s.pending = &PendingChallenge{UserID: resp.UserID, MaskedEmail: resp.MaskedEmail}
		s.gen++
		result = &LoginResult{RequiresOTP: true, MaskedEmail: resp.MaskedEmail, Message: resp.Message}
		s.audit.event(ctx, AuditOTPRequired,
			slog.String("username", username),
			slog.String("user_id", string(resp.UserID)))

	case !resp.RequiresOTP && resp.Token != "" && resp.User != nil:
		identity := identityFromUser(resp.User)
		if err := s.setSessionLocked(resp.Token, identity); err != nil {
			s.mu.Unlock()
			s.logger.Error("saving token", "error", err)
			return nil, opError(op, MsgLoginFailed, err)
		}
		id := *identity
		result = &LoginResult{Message: resp.Message, Warning: resp.Warning, Identity: &id}
		s.audit.event(ctx, AuditLoginSuccess,
			slog.String("user_id", string(identity.ID)),
			slog.Bool("admin", identity.IsAdmin))
		if resp.Warning != "" {
			s.audit.warn(ctx, AuditDegradedLogin,
				slog.String("user_id", string(identity.ID)),
				slog.String("warning", resp.Warning))
		}

	default:
		s.mu.Unlock()
		s.audit.failure(ctx, AuditLoginFailure, "unexpected response",
			slog.String("username", username), slog.Bool("admin", admin))
		return nil, opError(op, MsgUnexpectedResponse, client.ErrUnexpectedResponse)
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
	return result, nil
}

// VerifyOTP submits code for the pending challenge. Without a pending
// challenge it fails with ErrNoPendingVerification and changes nothing.
// A rejected code leaves the challenge in place for another attempt.
func (s *Store) VerifyOTP(ctx context.Context, code string) (*Identity, error) {
	const op = "verify_otp"
	s.mu.Lock()
	pending := s.pending
	s.mu.Unlock()
	if pending == nil {
		return nil, opError(op, MsgNoPending, ErrNoPendingVerification)
	}
	if !validCode(code) {
		return nil, opError(op, MsgIncompleteCode, ErrValidation)
	}

	if _, err := s.begin(op); err != nil {
		return nil, err
	}
	resp, err := s.api.VerifyOTP(ctx, pending.UserID, code)

	s.mu.Lock()
	s.inFlight = false
	if err != nil {
		s.mu.Unlock()
		s.audit.failure(ctx, AuditOTPFailed, client.Message(err, MsgVerificationFailed),
			slog.String("user_id", string(pending.UserID)))
		return nil, opError(op, client.Message(err, MsgVerificationFailed), err)
	}
	if s.pending != pending {
		s.mu.Unlock()
		return nil, opError(op, MsgSuperseded, ErrSuperseded)
	}
	if resp.Token == "" || resp.User == nil {
		s.mu.Unlock()
		return nil, opError(op, MsgUnexpectedResponse, client.ErrUnexpectedResponse)
	}
	identity := identityFromUser(resp.User)
	if err := s.setSessionLocked(resp.Token, identity); err != nil {
		s.mu.Unlock()
		s.logger.Error("saving token", "error", err)
		return nil, opError(op, MsgVerificationFailed, err)
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.audit.event(ctx, AuditOTPVerified, slog.String("user_id", string(identity.ID)))
	s.notify(snap)
	id := *identity
	return &id, nil
}

// ResendOTP asks for a new code for the pending challenge. State is unchanged.
func (s *Store) ResendOTP(ctx context.Context) (*ResendResult, error) {
	const op = "resend_otp"
	s.mu.Lock()
	pending := s.pending
	s.mu.Unlock()
	if pending == nil {
		return nil, opError(op, MsgNoPending, ErrNoPendingVerification)
	}

	resp, err := s.api.ResendOTP(ctx, pending.UserID)
	if err != nil {
		return nil, opError(op, client.Message(err, MsgResendFailed), err)
	}
	s.audit.event(ctx, AuditOTPResent, slog.String("user_id", string(pending.UserID)))
	return &ResendResult{Message: resp.Message, MaskedEmail: resp.MaskedEmail}, nil
}

// CancelOTP drops any pending challenge. It is idempotent.
func (s *Store) CancelOTP(ctx context.Context) {
	s.mu.Lock()
	if s.pending == nil {
		s.mu.Unlock()
		return
	}
	userID := s.pending.UserID
	s.pending = nil
	s.gen++
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.audit.event(ctx, AuditOTPCancelled, slog.String("user_id", string(userID)))
	s.notify(snap)
}

// Logout tells the server (best effort) and then clears the session
// locally. It cannot fail.
func (s *Store) Logout(ctx context.Context) {
	s.mu.Lock()
	hadToken := s.token != nil
	var userID string
	if s.identity != nil {
		userID = string(s.identity.ID)
	}
	s.mu.Unlock()

	if hadToken {
		if err := s.api.Logout(ctx); err != nil {
			s.logger.Debug("server logout failed", "error", err)
		}
	}

	s.mu.Lock()
	s.clearSessionLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.audit.event(ctx, AuditLogout, slog.String("user_id", userID))
	s.notify(snap)
}

// ChangePassword changes the authenticated user's password. The server
// rejects the call when no session is active.
func (s *Store) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	const op = "change_password"
	if err := s.api.ChangePassword(ctx, oldPassword, newPassword); err != nil {
		return opError(op, client.Message(err, MsgPasswordChangeFailed), err)
	}
	s.mu.Lock()
	var userID string
	if s.identity != nil {
		userID = string(s.identity.ID)
	}
	s.mu.Unlock()
	s.audit.event(ctx, AuditPasswordChanged, slog.String("user_id", userID))
	return nil
}

// RequestAccess forwards an access request and returns the server's message.
func (s *Store) RequestAccess(ctx context.Context, req client.AccessRequest) (string, error) {
	const op = "request_access"
	msg, err := s.api.RequestAccess(ctx, req)
	if err != nil {
		return "", opError(op, client.Message(err, MsgRequestFailed), err)
	}
	s.audit.event(ctx, AuditAccessRequested, slog.String("email", req.Email))
	return msg, nil
}

func validCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
