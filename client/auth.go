package client

import (
	"context"
	"net/http"
)

// Paths of the authentication service, relative to the base URL.
const (
	PathLogin          = "/auth/login"
	PathAdminLogin     = "/auth/admin/login"
	PathVerifyOTP      = "/auth/verify-otp"
	PathResendOTP      = "/auth/resend-otp"
	PathMe             = "/auth/me"
	PathLogout         = "/auth/logout"
	PathChangePassword = "/auth/change-password"
	PathRequestAccess  = "/auth/request-access"
)

// Endpoint is one operation of the authentication contract.
type Endpoint struct {
	Method string
	Path   string
}

// Endpoints lists every operation this client calls.
func Endpoints() []Endpoint {
	return []Endpoint{
		{http.MethodPost, PathLogin},
		{http.MethodPost, PathAdminLogin},
		{http.MethodPost, PathVerifyOTP},
		{http.MethodPost, PathResendOTP},
		{http.MethodGet, PathMe},
		{http.MethodPost, PathLogout},
		{http.MethodPost, PathChangePassword},
		{http.MethodPost, PathRequestAccess},
	}
}

// Login submits credentials to the client or admin login endpoint.
func (c *Client) Login(ctx context.Context, username, password string, admin bool) (*LoginResponse, error) {
	path := PathLogin
	if admin {
		path = PathAdminLogin
	}
	var resp LoginResponse
	if err := c.Do(ctx, http.MethodPost, path, LoginRequest{Username: username, Password: password}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// VerifyOTP exchanges a pending user reference and code for a session.
func (c *Client) VerifyOTP(ctx context.Context, userID ID, code string) (*SessionResponse, error) {
	var resp SessionResponse
	if err := c.Do(ctx, http.MethodPost, PathVerifyOTP, VerifyOTPRequest{UserID: userID, OTP: code}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ResendOTP asks the service to issue a new code for userID.
func (c *Client) ResendOTP(ctx context.Context, userID ID) (*ResendOTPResponse, error) {
	var resp ResendOTPResponse
	if err := c.Do(ctx, http.MethodPost, PathResendOTP, ResendOTPRequest{UserID: userID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Me resolves the current bearer token to a user. A nil user with a nil
// error means the service answered but did not recognise the token.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var resp MeResponse
	if err := c.Do(ctx, http.MethodGet, PathMe, nil, &resp); err != nil {
		return nil, err
	}
	return resp.User, nil
}

// Logout tells the service to end the current session.
func (c *Client) Logout(ctx context.Context) error {
	return c.Do(ctx, http.MethodPost, PathLogout, nil, nil)
}

// ChangePassword updates the authenticated user's password.
func (c *Client) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	return c.Do(ctx, http.MethodPost, PathChangePassword, ChangePasswordRequest{
		OldPassword:     oldPassword,
		CurrentPassword: oldPassword,
		NewPassword:     newPassword,
	}, nil)
}

// RequestAccess files an access request and returns the service's message.
func (c *Client) RequestAccess(ctx context.Context, req AccessRequest) (string, error) {
	var resp MessageResponse
	if err := c.Do(ctx, http.MethodPost, PathRequestAccess, req, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}
