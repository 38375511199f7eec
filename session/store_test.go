package session_test

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prsuperstar/superstar/client"
	"github.com/prsuperstar/superstar/internal/authtest"
	"github.com/prsuperstar/superstar/session"
	"github.com/prsuperstar/superstar/tokenstore"
)

type fixture struct {
	fake   *authtest.Server
	url    string
	tokens *tokenstore.Memory
	store  *session.Store
}

func setup(t *testing.T) *fixture {
	t.Helper()
	fake := authtest.New()
	fake.AddAccount(authtest.Account{ID: "42", Username: "alice", Password: "secret", Email: "alice@x.com"})
	fake.AddAccount(authtest.Account{ID: "1", Username: "admin", Password: "adminpw", Email: "admin@x.com", IsAdmin: true})
	f := &fixture{fake: fake, url: fake.Start(t), tokens: tokenstore.NewMemory()}
	f.store = f.newStore(t)
	return f
}

// newStore builds a fresh Store over the same server and durable token, as
// a process restart would.
func (f *fixture) newStore(t *testing.T) *session.Store {
	t.Helper()
	s := session.New(client.New(f.url), f.tokens)
	s.Restore(t.Context())
	return s
}

func (f *fixture) stored(t *testing.T) string {
	t.Helper()
	tok, err := f.tokens.Load()
	require.NoError(t, err)
	return tok
}

func recordPhases(s *session.Store) func() []session.Phase {
	var mu sync.Mutex
	var phases []session.Phase
	s.Watch(func(snap session.Snapshot) {
		mu.Lock()
		phases = append(phases, snap.Phase)
		mu.Unlock()
	})
	return func() []session.Phase {
		mu.Lock()
		defer mu.Unlock()
		return append([]session.Phase(nil), phases...)
	}
}

func TestNewStoreStartsRestoring(t *testing.T) {
	s := session.New(client.New("http://127.0.0.1:0"), tokenstore.NewMemory())
	assert.Equal(t, session.PhaseRestoring, s.Snapshot().Phase)
	select {
	case <-s.Restored():
		t.Fatal("restored before Restore was called")
	default:
	}

	snap := s.Restore(t.Context())
	assert.Equal(t, session.PhaseUnauthenticated, snap.Phase)
	<-s.Restored()
}

func TestAdminLoginSkipsOTP(t *testing.T) {
	f := setup(t)
	phases := recordPhases(f.store)

	res, err := f.store.Login(t.Context(), "admin", "adminpw", true)
	require.NoError(t, err)
	assert.False(t, res.RequiresOTP)
	require.NotNil(t, res.Identity)
	assert.True(t, res.Identity.IsAdmin)

	snap := f.store.Snapshot()
	assert.Equal(t, session.PhaseAuthenticated, snap.Phase)
	assert.True(t, snap.IsAuthenticated())
	assert.True(t, snap.IsAdmin())
	assert.Nil(t, snap.Pending)
	assert.NotContains(t, phases(), session.PhaseAwaitingOTP)
	assert.Equal(t, f.store.Token(), f.stored(t))
}

func TestClientLoginRequiresOTP(t *testing.T) {
	f := setup(t)

	res, err := f.store.Login(t.Context(), "alice", "secret", false)
	require.NoError(t, err)
	assert.True(t, res.RequiresOTP)
	assert.Equal(t, "a***@x.com", res.MaskedEmail)

	snap := f.store.Snapshot()
	assert.Equal(t, session.PhaseAwaitingOTP, snap.Phase)
	require.NotNil(t, snap.Pending)
	assert.Equal(t, client.ID("42"), snap.Pending.UserID)
	assert.Equal(t, "a***@x.com", snap.Pending.MaskedEmail)
	assert.Nil(t, snap.Identity)
	assert.False(t, snap.IsAuthenticated())
	assert.Empty(t, f.store.Token())
	assert.Empty(t, f.stored(t))
}

func TestLoginValidationSendsNothing(t *testing.T) {
	f := setup(t)

	for _, tc := range []struct{ user, pass string }{{"", "x"}, {"x", ""}, {"", ""}} {
		_, err := f.store.Login(t.Context(), tc.user, tc.pass, false)
		require.Error(t, err)
		assert.ErrorIs(t, err, session.ErrValidation)
		assert.Equal(t, session.MsgMissingCredentials, err.Error())
	}
	assert.Zero(t, f.fake.TotalCalls())
	assert.Equal(t, session.PhaseUnauthenticated, f.store.Snapshot().Phase)
}

func TestLoginRejectedKeepsState(t *testing.T) {
	f := setup(t)

	_, err := f.store.Login(t.Context(), "alice", "wrong", false)
	require.Error(t, err)
	assert.Equal(t, "Invalid username or password", err.Error())

	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	var opErr *session.OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "login", opErr.Op)
	assert.Equal(t, session.PhaseUnauthenticated, f.store.Snapshot().Phase)
}

func TestLoginUnexpectedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"message":"ok"}`))
	}))
	defer srv.Close()

	s := session.New(client.New(srv.URL), tokenstore.NewMemory())
	s.Restore(t.Context())

	_, err := s.Login(t.Context(), "alice", "secret", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, client.ErrUnexpectedResponse)
	assert.Equal(t, session.MsgUnexpectedResponse, err.Error())
	assert.Equal(t, session.PhaseUnauthenticated, s.Snapshot().Phase)
}

func TestLoginTransportFailureUsesFallback(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	s := session.New(client.New(url), tokenstore.NewMemory())
	s.Restore(t.Context())

	_, err := s.Login(t.Context(), "alice", "secret", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, client.ErrTransport)
	assert.Equal(t, session.MsgLoginFailed, err.Error())
}

func TestAdminLoginNeverAwaitsOTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"requiresOTP":true,"userId":5,"maskedEmail":"r***@x.com"}`))
	}))
	defer srv.Close()

	s := session.New(client.New(srv.URL), tokenstore.NewMemory())
	s.Restore(t.Context())

	_, err := s.Login(t.Context(), "root", "pw", true)
	assert.ErrorIs(t, err, client.ErrUnexpectedResponse)
	assert.Equal(t, session.PhaseUnauthenticated, s.Snapshot().Phase)
}

func TestDegradedLoginCarriesWarning(t *testing.T) {
	f := setup(t)
	f.fake.MailConfigured = false

	var logs bytes.Buffer
	s := session.New(client.New(f.url), f.tokens,
		session.WithLogger(slog.New(slog.NewJSONHandler(&logs, nil))))
	s.Restore(t.Context())

	res, err := s.Login(t.Context(), "alice", "secret", false)
	require.NoError(t, err)
	assert.False(t, res.RequiresOTP)
	assert.Equal(t, authtest.DegradedWarning, res.Warning)
	assert.Equal(t, session.PhaseAuthenticated, s.Snapshot().Phase)
	assert.NotEmpty(t, f.stored(t))

	assert.Contains(t, logs.String(), `"event":"degraded_login"`)
	assert.Contains(t, logs.String(), `"level":"WARN"`)
	assert.NotContains(t, logs.String(), "secret")
	assert.NotContains(t, logs.String(), s.Token())
}

func TestVerifyWithoutPendingChallenge(t *testing.T) {
	f := setup(t)
	before := f.store.Snapshot()

	_, err := f.store.VerifyOTP(t.Context(), "123456")
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrNoPendingVerification)
	assert.Equal(t, session.MsgNoPending, err.Error())
	assert.Equal(t, before, f.store.Snapshot())
	assert.Zero(t, f.fake.Calls(http.MethodPost, client.PathVerifyOTP))

	_, err = f.store.ResendOTP(t.Context())
	assert.ErrorIs(t, err, session.ErrNoPendingVerification)
	assert.Zero(t, f.fake.TotalCalls())
}

func TestLoginThenVerify(t *testing.T) {
	f := setup(t)
	f.fake.NextCode = "123456"

	_, err := f.store.Login(t.Context(), "alice", "secret", false)
	require.NoError(t, err)
	snap := f.store.Snapshot()
	assert.Equal(t, session.PhaseAwaitingOTP, snap.Phase)
	assert.Equal(t, client.ID("42"), snap.Pending.UserID)

	identity, err := f.store.VerifyOTP(t.Context(), "123456")
	require.NoError(t, err)
	assert.Equal(t, client.ID("42"), identity.ID)
	assert.False(t, identity.IsAdmin)

	snap = f.store.Snapshot()
	assert.Equal(t, session.PhaseAuthenticated, snap.Phase)
	assert.Nil(t, snap.Pending)
	assert.Equal(t, "tok-1", f.store.Token())
	assert.Equal(t, "tok-1", f.stored(t))

	body := f.fake.LastBody(client.PathVerifyOTP)
	assert.Equal(t, float64(42), body["userId"])
	assert.Equal(t, "123456", body["otp"])
}

func TestVerifyFailureKeepsChallenge(t *testing.T) {
	f := setup(t)
	f.fake.NextCode = "654321"
	_, err := f.store.Login(t.Context(), "alice", "secret", false)
	require.NoError(t, err)

	_, err = f.store.VerifyOTP(t.Context(), "000000")
	require.Error(t, err)
	assert.Equal(t, "Invalid verification code", err.Error())

	snap := f.store.Snapshot()
	assert.Equal(t, session.PhaseAwaitingOTP, snap.Phase)
	require.NotNil(t, snap.Pending)

	_, err = f.store.VerifyOTP(t.Context(), "654321")
	require.NoError(t, err)
	assert.Equal(t, session.PhaseAuthenticated, f.store.Snapshot().Phase)
}

func TestVerifyRejectsIncompleteCode(t *testing.T) {
	f := setup(t)
	_, err := f.store.Login(t.Context(), "alice", "secret", false)
	require.NoError(t, err)

	for _, code := range []string{"", "12345", "12a456", "1234567"} {
		_, err := f.store.VerifyOTP(t.Context(), code)
		assert.ErrorIs(t, err, session.ErrValidation, code)
	}
	assert.Zero(t, f.fake.Calls(http.MethodPost, client.PathVerifyOTP))
}

func TestVerifyInFlightRejectsSecondAttempt(t *testing.T) {
	f := setup(t)
	f.fake.NextCode = "111111"
	_, err := f.store.Login(t.Context(), "alice", "secret", false)
	require.NoError(t, err)

	entered, release := f.fake.HoldVerify()
	done := make(chan error, 1)
	go func() {
		_, err := f.store.VerifyOTP(t.Context(), "111111")
		done <- err
	}()
	<-entered

	_, err = f.store.VerifyOTP(t.Context(), "111111")
	assert.ErrorIs(t, err, session.ErrRequestInFlight)
	_, err = f.store.Login(t.Context(), "alice", "secret", false)
	assert.ErrorIs(t, err, session.ErrRequestInFlight)

	release()
	require.NoError(t, <-done)
	assert.Equal(t, 1, f.fake.Calls(http.MethodPost, client.PathVerifyOTP))
	assert.Equal(t, session.PhaseAuthenticated, f.store.Snapshot().Phase)
}

func TestCancelDuringVerifyDropsResult(t *testing.T) {
	f := setup(t)
	f.fake.NextCode = "222222"
	_, err := f.store.Login(t.Context(), "alice", "secret", false)
	require.NoError(t, err)

	entered, release := f.fake.HoldVerify()
	done := make(chan error, 1)
	go func() {
		_, err := f.store.VerifyOTP(t.Context(), "222222")
		done <- err
	}()
	<-entered
	f.store.CancelOTP(t.Context())
	release()

	err = <-done
	assert.ErrorIs(t, err, session.ErrSuperseded)
	snap := f.store.Snapshot()
	assert.Equal(t, session.PhaseUnauthenticated, snap.Phase)
	assert.Empty(t, f.store.Token())
	assert.Empty(t, f.stored(t))
}

func TestLogoutDuringRestoreDropsIdentity(t *testing.T) {
	f := setup(t)
	_, err := f.store.Login(t.Context(), "admin", "adminpw", true)
	require.NoError(t, err)
	// The server keeps the session, so the held who-am-I call still succeeds.
	f.fake.FailLogout = true

	entered, release := f.fake.HoldMe()
	restarted := session.New(client.New(f.url), f.tokens)
	phases := recordPhases(restarted)
	done := make(chan session.Snapshot, 1)
	go func() { done <- restarted.Restore(t.Context()) }()
	<-entered

	restarted.Logout(t.Context())
	release()

	snap := <-done
	<-restarted.Restored()
	assert.Equal(t, session.PhaseUnauthenticated, snap.Phase)
	assert.Nil(t, snap.Identity)
	assert.Equal(t, snap, restarted.Snapshot())
	assert.Empty(t, restarted.Token())
	assert.Empty(t, f.stored(t))
	assert.NotContains(t, phases(), session.PhaseAuthenticated)
	assert.Equal(t, 1, f.fake.Calls(http.MethodGet, client.PathMe))
}

func TestResendOTP(t *testing.T) {
	f := setup(t)
	_, err := f.store.Login(t.Context(), "alice", "secret", false)
	require.NoError(t, err)
	before := f.store.Snapshot()

	res, err := f.store.ResendOTP(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "New verification code sent", res.Message)
	assert.Equal(t, "a***@x.com", res.MaskedEmail)
	assert.Equal(t, before, f.store.Snapshot())
}

func TestResendOTPServerThrottle(t *testing.T) {
	f := setup(t)
	f.fake.ResendInterval = time.Hour
	_, err := f.store.Login(t.Context(), "alice", "secret", false)
	require.NoError(t, err)

	_, err = f.store.ResendOTP(t.Context())
	require.Error(t, err)
	assert.Equal(t, "Please wait before requesting a new code", err.Error())
	assert.Equal(t, session.PhaseAwaitingOTP, f.store.Snapshot().Phase)
}

func TestCancelOTPIsIdempotent(t *testing.T) {
	f := setup(t)
	_, err := f.store.Login(t.Context(), "alice", "secret", false)
	require.NoError(t, err)

	f.store.CancelOTP(t.Context())
	once := f.store.Snapshot()
	f.store.CancelOTP(t.Context())
	twice := f.store.Snapshot()

	assert.Equal(t, once, twice)
	assert.Equal(t, session.PhaseUnauthenticated, twice.Phase)
	assert.Nil(t, twice.Pending)
}

func TestLogoutAlwaysClears(t *testing.T) {
	f := setup(t)
	f.fake.FailLogout = true
	_, err := f.store.Login(t.Context(), "admin", "adminpw", true)
	require.NoError(t, err)
	require.NotEmpty(t, f.stored(t))

	f.store.Logout(t.Context())

	snap := f.store.Snapshot()
	assert.Equal(t, session.PhaseUnauthenticated, snap.Phase)
	assert.Nil(t, snap.Identity)
	assert.Empty(t, f.store.Token())
	assert.Empty(t, f.stored(t))
	assert.Equal(t, 1, f.fake.Calls(http.MethodPost, client.PathLogout))
}

func TestLogoutWhileAwaitingOTP(t *testing.T) {
	f := setup(t)
	_, err := f.store.Login(t.Context(), "alice", "secret", false)
	require.NoError(t, err)

	f.store.Logout(t.Context())
	assert.Nil(t, f.store.Snapshot().Pending)
	assert.Zero(t, f.fake.Calls(http.MethodPost, client.PathLogout), "no token, no server call")
}

func TestRestoreRoundTrip(t *testing.T) {
	f := setup(t)
	f.fake.NextCode = "333333"
	_, err := f.store.Login(t.Context(), "alice", "secret", false)
	require.NoError(t, err)
	_, err = f.store.VerifyOTP(t.Context(), "333333")
	require.NoError(t, err)
	before := f.store.Snapshot()

	restarted := f.newStore(t)
	after := restarted.Snapshot()
	assert.Equal(t, session.PhaseAuthenticated, after.Phase)
	assert.Equal(t, before.Identity, after.Identity)
	assert.Equal(t, f.store.Token(), restarted.Token())
}

func TestRestoreInvalidTokenClearsBoth(t *testing.T) {
	tests := []struct {
		name       string
		invalidate func(f *fixture, token string)
	}{
		{"revoked", func(f *fixture, token string) { f.fake.RevokeToken(token) }},
		{"server error", func(f *fixture, _ string) { f.fake.FailMe = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			token := f.fake.IssueToken("alice")
			require.NoError(t, f.tokens.Save(token))
			tt.invalidate(f, token)

			restarted := f.newStore(t)
			snap := restarted.Snapshot()
			assert.Equal(t, session.PhaseUnauthenticated, snap.Phase)
			assert.Nil(t, snap.Identity)
			assert.Empty(t, restarted.Token())
			assert.Empty(t, f.stored(t))
		})
	}
}

type failingTokens struct {
	tokenstore.Memory
	loadErr error
	saveErr error
}

func (f *failingTokens) Load() (string, error) {
	if f.loadErr != nil {
		return "", f.loadErr
	}
	return f.Memory.Load()
}

func (f *failingTokens) Save(token string) error {
	if f.saveErr != nil && token != "" {
		return f.saveErr
	}
	return f.Memory.Save(token)
}

func (f *failingTokens) Clear() error {
	return f.Memory.Clear()
}

func TestRestoreUnreadableToken(t *testing.T) {
	f := setup(t)
	tokens := &failingTokens{loadErr: tokenstore.ErrUnreadable}
	s := session.New(client.New(f.url), tokens)

	snap := s.Restore(t.Context())
	assert.Equal(t, session.PhaseUnauthenticated, snap.Phase)
	assert.Zero(t, f.fake.TotalCalls())
}

func TestLoginTokenWriteFailureChangesNothing(t *testing.T) {
	f := setup(t)
	tokens := &failingTokens{saveErr: errors.New("disk full")}
	s := session.New(client.New(f.url), tokens)
	s.Restore(t.Context())

	_, err := s.Login(t.Context(), "admin", "adminpw", true)
	require.Error(t, err)
	assert.Equal(t, session.MsgLoginFailed, err.Error())
	assert.Equal(t, session.PhaseUnauthenticated, s.Snapshot().Phase)
	assert.Empty(t, s.Token())
}

func TestChangePassword(t *testing.T) {
	f := setup(t)
	_, err := f.store.Login(t.Context(), "admin", "adminpw", true)
	require.NoError(t, err)

	err = f.store.ChangePassword(t.Context(), "wrong", "newpass1")
	require.Error(t, err)
	assert.Equal(t, "Current password is incorrect", err.Error())

	require.NoError(t, f.store.ChangePassword(t.Context(), "adminpw", "newpass1"))
	body := f.fake.LastBody(client.PathChangePassword)
	assert.Equal(t, "adminpw", body["oldPassword"])
	assert.Equal(t, "adminpw", body["currentPassword"])
}

func TestChangePasswordUnauthenticated(t *testing.T) {
	f := setup(t)
	err := f.store.ChangePassword(t.Context(), "a", "b")
	require.Error(t, err)
	assert.Equal(t, "Authentication required", err.Error())
}

func TestRequestAccess(t *testing.T) {
	f := setup(t)

	msg, err := f.store.RequestAccess(t.Context(), client.AccessRequest{Name: "Eve", Email: "eve@x.com", Phone: "555"})
	require.NoError(t, err)
	assert.NotEmpty(t, msg)

	_, err = f.store.RequestAccess(t.Context(), client.AccessRequest{})
	require.Error(t, err)
	assert.Equal(t, "Name and email are required", err.Error())
	assert.Equal(t, session.PhaseUnauthenticated, f.store.Snapshot().Phase)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "restoring", session.PhaseRestoring.String())
	assert.Equal(t, "awaiting_otp", session.PhaseAwaitingOTP.String())
	assert.Equal(t, "unknown", session.Phase(99).String())
}
