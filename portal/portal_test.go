package portal_test

import (
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prsuperstar/superstar/client"
	"github.com/prsuperstar/superstar/internal/authtest"
	"github.com/prsuperstar/superstar/otp"
	"github.com/prsuperstar/superstar/portal"
	"github.com/prsuperstar/superstar/session"
	"github.com/prsuperstar/superstar/tokenstore"
)

type env struct {
	fake   *authtest.Server
	store  *session.Store
	portal *portal.Server
	url    string
	http   *http.Client
}

func noTicks(time.Duration) (<-chan time.Time, func()) {
	return make(chan time.Time), func() {}
}

func setup(t *testing.T, restore bool) *env {
	t.Helper()
	fake := authtest.New()
	fake.AddAccount(authtest.Account{ID: "42", Username: "alice", Password: "secret", Email: "alice@x.com"})
	fake.AddAccount(authtest.Account{ID: "1", Username: "admin", Password: "adminpw", Email: "admin@x.com", IsAdmin: true})

	store := session.New(client.New(fake.Start(t)), tokenstore.NewMemory())
	if restore {
		store.Restore(t.Context())
	}
	p, err := portal.New(store, portal.WithOTPOptions(otp.WithTickSource(noTicks)))
	require.NoError(t, err)
	t.Cleanup(p.Close)

	srv := httptest.NewServer(p.Router())
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	hc := &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &env{fake: fake, store: store, portal: p, url: srv.URL, http: hc}
}

func (e *env) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, e.url+path, nil)
	require.NoError(t, err)
	resp, err := e.http.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

// post submits a form with the CSRF token from the cookie jar, loading a
// page first if the jar has none yet.
func (e *env) post(t *testing.T, path string, form url.Values) *http.Response {
	t.Helper()
	if form == nil {
		form = url.Values{}
	}
	if _, ok := form["csrf_token"]; !ok {
		form.Set("csrf_token", e.csrf(t))
	}
	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, e.url+path, strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := e.http.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

func (e *env) csrf(t *testing.T) string {
	t.Helper()
	u, err := url.Parse(e.url)
	require.NoError(t, err)
	for _, c := range e.http.Jar.Cookies(u) {
		if c.Name == "superstar_csrf" {
			return c.Value
		}
	}
	e.get(t, "/request-access")
	for _, c := range e.http.Jar.Cookies(u) {
		if c.Name == "superstar_csrf" {
			return c.Value
		}
	}
	t.Fatal("no csrf cookie issued")
	return ""
}

func digits(code string) url.Values {
	form := url.Values{}
	for i := 0; i < len(code); i++ {
		form.Set("d"+string(rune('0'+i)), code[i:i+1])
	}
	return form
}

func TestLoadingWhileRestoring(t *testing.T) {
	e := setup(t, false)

	resp, body := e.get(t, "/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Refresh"))
	assert.Contains(t, body, "Loading...")

	e.store.Restore(t.Context())
	resp, _ = e.get(t, "/")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
}

func TestClientLoginWithOTP(t *testing.T) {
	e := setup(t, true)
	e.fake.NextCode = "135790"

	resp, _ := e.get(t, "/notices")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login?from=%2Fnotices", resp.Header.Get("Location"))

	resp, body := e.get(t, "/login?from=%2Fnotices")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `name="from" value="/notices"`)

	resp = e.post(t, "/login", url.Values{"username": {"alice"}, "password": {"secret"}, "from": {"/notices"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/otp", resp.Header.Get("Location"))

	_, body = e.get(t, "/otp")
	assert.Contains(t, body, "a***@x.com")
	assert.Contains(t, body, "Verification code sent to your email!")

	resp = e.post(t, "/otp/verify", digits("000000"))
	assert.Equal(t, "/otp", resp.Header.Get("Location"))
	_, body = e.get(t, "/otp")
	assert.Contains(t, body, "Invalid verification code")
	assert.Equal(t, session.PhaseAwaitingOTP, e.store.Snapshot().Phase)

	resp = e.post(t, "/otp/verify", digits("135790"))
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/notices", resp.Header.Get("Location"))
	assert.Equal(t, session.PhaseAuthenticated, e.store.Snapshot().Phase)

	resp, body = e.get(t, "/notices")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Login successful!")
	assert.Contains(t, body, "alice")

	resp, _ = e.get(t, "/login")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode, "authenticated users skip the login page")
	assert.Equal(t, "/", resp.Header.Get("Location"))
}

func TestOTPPasteAndIncompleteCode(t *testing.T) {
	e := setup(t, true)
	e.fake.NextCode = "112233"
	e.post(t, "/login", url.Values{"username": {"alice"}, "password": {"secret"}})

	e.post(t, "/otp/verify", url.Values{"code": {"11 22"}})
	_, body := e.get(t, "/otp")
	assert.Contains(t, body, session.MsgIncompleteCode)
	assert.Zero(t, e.fake.Calls(http.MethodPost, client.PathVerifyOTP))

	resp := e.post(t, "/otp/verify", url.Values{"code": {"112-233"}})
	assert.Equal(t, "/", resp.Header.Get("Location"))
	assert.Equal(t, 1, e.fake.Calls(http.MethodPost, client.PathVerifyOTP))
}

func TestOTPResendCooldown(t *testing.T) {
	e := setup(t, true)
	e.post(t, "/login", url.Values{"username": {"alice"}, "password": {"secret"}})

	e.post(t, "/otp/resend", nil)
	_, body := e.get(t, "/otp")
	assert.Contains(t, body, "New verification code sent")
	assert.Contains(t, body, "Resend in 60s")

	e.post(t, "/otp/resend", nil)
	_, body = e.get(t, "/otp")
	assert.Contains(t, body, "Please wait 60s")
	assert.Equal(t, 1, e.fake.Calls(http.MethodPost, client.PathResendOTP))
}

func TestOTPBack(t *testing.T) {
	e := setup(t, true)
	e.post(t, "/login", url.Values{"username": {"alice"}, "password": {"secret"}})
	require.Equal(t, session.PhaseAwaitingOTP, e.store.Snapshot().Phase)

	resp := e.post(t, "/otp/back", nil)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
	assert.Equal(t, session.PhaseUnauthenticated, e.store.Snapshot().Phase)

	resp, _ = e.get(t, "/otp")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
}

func TestLoginValidationError(t *testing.T) {
	e := setup(t, true)

	resp := e.post(t, "/login", url.Values{"username": {"alice"}})
	assert.Equal(t, "/login", resp.Header.Get("Location"))
	_, body := e.get(t, "/login")
	assert.Contains(t, body, session.MsgMissingCredentials)
	assert.Zero(t, e.fake.TotalCalls())
}

func TestDegradedLoginShowsWarningAfterSuccess(t *testing.T) {
	e := setup(t, true)
	e.fake.MailConfigured = false

	resp := e.post(t, "/login", url.Values{"username": {"alice"}, "password": {"secret"}})
	assert.Equal(t, "/", resp.Header.Get("Location"))

	_, body := e.get(t, "/")
	success := strings.Index(body, "Login successful!")
	warning := strings.Index(body, "Email verification is disabled. Contact admin.")
	require.NotEqual(t, -1, success)
	require.NotEqual(t, -1, warning)
	assert.Less(t, success, warning)
}

func TestAdminRoutes(t *testing.T) {
	e := setup(t, true)

	resp, _ := e.get(t, "/admin/users")
	assert.Equal(t, "/admin/login", resp.Header.Get("Location"))

	e.fake.MailConfigured = false
	e.post(t, "/login", url.Values{"username": {"alice"}, "password": {"secret"}})
	resp, _ = e.get(t, "/admin")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = e.get(t, "/admin/login")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "client identity may still reach the admin login")

	resp = e.post(t, "/admin/login", url.Values{"username": {"admin"}, "password": {"adminpw"}})
	assert.Equal(t, "/admin", resp.Header.Get("Location"))

	resp, body := e.get(t, "/admin/users")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Users")

	resp, _ = e.get(t, "/admin/login")
	assert.Equal(t, "/admin", resp.Header.Get("Location"))
}

func TestLogout(t *testing.T) {
	e := setup(t, true)
	e.fake.FailLogout = true
	e.post(t, "/admin/login", url.Values{"username": {"admin"}, "password": {"adminpw"}})
	require.Equal(t, session.PhaseAuthenticated, e.store.Snapshot().Phase)

	resp := e.post(t, "/logout", nil)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
	assert.Equal(t, session.PhaseUnauthenticated, e.store.Snapshot().Phase)

	_, body := e.get(t, "/login")
	assert.Contains(t, body, portal.MsgLoggedOut)
}

func TestCSRFRequired(t *testing.T) {
	e := setup(t, true)
	e.csrf(t)

	resp := e.post(t, "/login", url.Values{"csrf_token": {"forged"}, "username": {"alice"}, "password": {"secret"}})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, e.fake.TotalCalls())
}

func TestRequestAccess(t *testing.T) {
	e := setup(t, true)

	resp := e.post(t, "/request-access", url.Values{"name": {"Bo"}})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Empty(t, e.fake.AccessRequests())

	resp = e.post(t, "/request-access", url.Values{"name": {"Bo"}, "email": {"bo@x.com"}, "reason": {"demo"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, e.fake.AccessRequests(), 1)
}

func TestChangePassword(t *testing.T) {
	e := setup(t, true)
	e.post(t, "/admin/login", url.Values{"username": {"admin"}, "password": {"adminpw"}})

	resp := e.post(t, "/change-password", url.Values{"current": {"adminpw"}, "new": {"abc"}, "confirm": {"abc"}})
	assert.Equal(t, "/change-password", resp.Header.Get("Location"))
	assert.Zero(t, e.fake.Calls(http.MethodPost, client.PathChangePassword))

	resp = e.post(t, "/change-password", url.Values{"current": {"adminpw"}, "new": {"abcdef"}, "confirm": {"abcdef"}})
	assert.Equal(t, "/", resp.Header.Get("Location"))
	assert.Equal(t, 1, e.fake.Calls(http.MethodPost, client.PathChangePassword))
}

func TestUnknownPathAndDocs(t *testing.T) {
	e := setup(t, true)

	resp, _ := e.get(t, "/nowhere")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	resp, body := e.get(t, "/openapi.yaml")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "/auth/verify-otp")

	resp, _ = e.get(t, "/docs")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = e.get(t, "/redoc")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSecurityHeaders(t *testing.T) {
	e := setup(t, true)
	resp, _ := e.get(t, "/login")
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Contains(t, resp.Header.Get("Content-Security-Policy"), "frame-ancestors 'none'")
	assert.Empty(t, resp.Header.Get("Strict-Transport-Security"))
}
