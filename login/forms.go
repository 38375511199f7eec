package login

import (
	"context"
	"net/mail"
	"strings"

	"github.com/prsuperstar/superstar/client"
	"github.com/prsuperstar/superstar/notify"
	"github.com/prsuperstar/superstar/session"
)

const (
	MsgNameEmailRequired = "Name and email are required"
	MsgInvalidEmail      = "Please enter a valid email address"
	MsgRequestSubmitted  = "Request submitted successfully!"

	MsgFillAllFields     = "Please fill in all fields"
	MsgPasswordsMismatch = "New passwords do not match"
	MsgPasswordTooShort  = "Password must be at least 6 characters"
	MsgPasswordUnchanged = "New password must be different from current password"
	MsgPasswordChanged   = "Password changed successfully!"

	// MinPasswordLength is the shortest accepted new password.
	MinPasswordLength = 6
)

func validationError(op, msg string) error {
	return &session.OpError{Op: op, Message: msg, Err: session.ErrValidation}
}

// AccessRequester files access requests. *session.Store implements it.
type AccessRequester interface {
	RequestAccess(ctx context.Context, req client.AccessRequest) (string, error)
}

// AccessForm is the request-access form.
type AccessForm struct {
	Name   string
	Email  string
	Phone  string
	Reason string
}

// Validate checks the form without sending it.
func (f *AccessForm) Validate() error {
	f.Name = strings.TrimSpace(f.Name)
	f.Email = strings.TrimSpace(f.Email)
	if f.Name == "" || f.Email == "" {
		return validationError("request_access", MsgNameEmailRequired)
	}
	if addr, err := mail.ParseAddress(f.Email); err != nil || addr.Address != f.Email {
		return validationError("request_access", MsgInvalidEmail)
	}
	return nil
}

// Submit validates and sends the form, returning the server's message.
func (f *AccessForm) Submit(ctx context.Context, r AccessRequester, notices notify.Notifier) (string, error) {
	if err := f.Validate(); err != nil {
		notify.Error(notices, err.Error())
		return "", err
	}
	msg, err := r.RequestAccess(ctx, client.AccessRequest{
		Name:   f.Name,
		Email:  f.Email,
		Phone:  strings.TrimSpace(f.Phone),
		Reason: strings.TrimSpace(f.Reason),
	})
	if err != nil {
		notify.Error(notices, err.Error())
		return "", err
	}
	notify.Success(notices, MsgRequestSubmitted)
	return msg, nil
}

// PasswordChanger changes the current user's password. *session.Store
// implements it.
type PasswordChanger interface {
	ChangePassword(ctx context.Context, oldPassword, newPassword string) error
}

// PasswordForm is the change-password form.
type PasswordForm struct {
	Current string
	New     string
	Confirm string
}

// Validate checks the form without sending it.
func (f PasswordForm) Validate() error {
	const op = "change_password"
	switch {
	case f.Current == "" || f.New == "" || f.Confirm == "":
		return validationError(op, MsgFillAllFields)
	case f.New != f.Confirm:
		return validationError(op, MsgPasswordsMismatch)
	case len([]rune(f.New)) < MinPasswordLength:
		return validationError(op, MsgPasswordTooShort)
	case f.New == f.Current:
		return validationError(op, MsgPasswordUnchanged)
	}
	return nil
}

// Submit validates and sends the form.
func (f PasswordForm) Submit(ctx context.Context, c PasswordChanger, notices notify.Notifier) error {
	if err := f.Validate(); err != nil {
		notify.Error(notices, err.Error())
		return err
	}
	if err := c.ChangePassword(ctx, f.Current, f.New); err != nil {
		notify.Error(notices, err.Error())
		return err
	}
	notify.Success(notices, MsgPasswordChanged)
	return nil
}
