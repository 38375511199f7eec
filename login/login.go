// Package login submits credentials and the account forms that sit beside
// the login page (request access, change password). Every form validates
// locally before anything is sent.
package login

import (
	"context"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/prsuperstar/superstar/guard"
	"github.com/prsuperstar/superstar/notify"
	"github.com/prsuperstar/superstar/session"
)

// Notices raised by the submitter.
const (
	MsgCodeSent        = "Verification code sent to your email!"
	MsgLoginSuccessful = "Login successful!"
	MsgDegraded        = "Email verification is disabled. Contact admin."
)

// Authenticator is the part of the session store the submitter drives.
type Authenticator interface {
	Login(ctx context.Context, username, password string, admin bool) (*session.LoginResult, error)
}

// Outcome tells the caller where to go next.
type Outcome struct {
	// RequiresOTP hands control to the OTP screen.
	RequiresOTP bool
	MaskedEmail string
	// Redirect is set for direct logins.
	Redirect string
	Identity *session.Identity
	// Warning is the server's degraded-mode notice, if any.
	Warning string
}

// Submitter is the credential form for one role.
type Submitter struct {
	auth    Authenticator
	notices notify.Notifier
	admin   bool
}

// NewSubmitter returns a Submitter for the client login, or the admin login
// when admin is set.
func NewSubmitter(auth Authenticator, notices notify.Notifier, admin bool) *Submitter {
	return &Submitter{auth: auth, notices: notices, admin: admin}
}

// NormalizeUsername trims and NFKC-normalizes a typed username.
func NormalizeUsername(username string) string {
	return norm.NFKC.String(strings.TrimSpace(username))
}

// Submit validates and sends the credentials. from is the page the user was
// trying to reach; client logins return there.
func (s *Submitter) Submit(ctx context.Context, username, password, from string) (*Outcome, error) {
	username = NormalizeUsername(username)
	if username == "" || password == "" {
		err := &session.OpError{Op: "login", Message: session.MsgMissingCredentials, Err: session.ErrValidation}
		notify.Error(s.notices, err.Error())
		return nil, err
	}

	res, err := s.auth.Login(ctx, username, password, s.admin)
	if err != nil {
		notify.Error(s.notices, err.Error())
		return nil, err
	}

	if res.RequiresOTP {
		notify.Success(s.notices, MsgCodeSent)
		return &Outcome{RequiresOTP: true, MaskedEmail: res.MaskedEmail}, nil
	}

	// The warning always follows the success notice.
	notify.Success(s.notices, MsgLoginSuccessful)
	if res.Warning != "" {
		notify.Warning(s.notices, MsgDegraded)
	}
	out := &Outcome{Identity: res.Identity, Warning: res.Warning, Redirect: guard.SafeRedirect(from)}
	if s.admin {
		out.Redirect = guard.PathAdmin
	}
	return out, nil
}
