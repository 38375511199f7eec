package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ID is a server-issued identifier held in text form. The service sends
// numeric ids and some deployments send strings. Integer-valued ids of up to
// 18 digits (42, -1, 42.0, "42") are kept in canonical integer form and
// written back as JSON numbers. Every other id is written back as a JSON
// string.
type ID string

// UnmarshalJSON accepts a JSON number or string.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*id = ID(canonicalNumber(n))
	return nil
}

// canonicalNumber renders integer-valued numbers without fraction or
// exponent. Other numbers keep their literal text.
func canonicalNumber(n json.Number) string {
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10)
	}
	f, err := n.Float64()
	if err == nil && f == math.Trunc(f) && math.Abs(f) <= 1<<53 {
		return strconv.FormatInt(int64(f), 10)
	}
	return n.String()
}

// MarshalJSON writes canonical integers as JSON numbers and everything else as strings.
func (id ID) MarshalJSON() ([]byte, error) {
	if isCanonicalInt(string(id)) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func isCanonicalInt(s string) bool {
	if rest, ok := strings.CutPrefix(s, "-"); ok {
		if rest == "0" || strings.HasPrefix(rest, "-") {
			return false
		}
		s = rest
	}
	if s == "" || len(s) > 18 {
		return false
	}
	if len(s) > 1 && s[0] == '0' {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// User is the identity record returned by the service.
type User struct {
	ID       ID     `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	IsAdmin  bool   `json:"isAdmin"`
}

// LoginRequest is the JSON body for POST /auth/login and /auth/admin/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned from the login endpoints. Exactly one of two
// shapes is expected: an OTP challenge (RequiresOTP, UserID, MaskedEmail)
// or a session (Token, User, optionally Warning).
type LoginResponse struct {
	RequiresOTP bool   `json:"requiresOTP,omitempty"`
	UserID      ID     `json:"userId,omitempty"`
	MaskedEmail string `json:"maskedEmail,omitempty"`
	Message     string `json:"message,omitempty"`
	Token       string `json:"token,omitempty"`
	User        *User  `json:"user,omitempty"`
	Warning     string `json:"warning,omitempty"`
}

// VerifyOTPRequest is the JSON body for POST /auth/verify-otp.
type VerifyOTPRequest struct {
	UserID ID     `json:"userId"`
	OTP    string `json:"otp"`
}

// SessionResponse carries a freshly issued bearer token.
type SessionResponse struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}

// ResendOTPRequest is the JSON body for POST /auth/resend-otp.
type ResendOTPRequest struct {
	UserID ID `json:"userId"`
}

// ResendOTPResponse is returned from POST /auth/resend-otp.
type ResendOTPResponse struct {
	Message     string `json:"message"`
	MaskedEmail string `json:"maskedEmail"`
}

// MeResponse is returned from GET /auth/me.
type MeResponse struct {
	User *User `json:"user"`
}

// ChangePasswordRequest is the JSON body for POST /auth/change-password.
// Both spellings of the current password are sent; servers read one of them.
type ChangePasswordRequest struct {
	OldPassword     string `json:"oldPassword"`
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// AccessRequest is the JSON body for POST /auth/request-access.
type AccessRequest struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
	Reason string `json:"reason"`
}

// MessageResponse is a body carrying only a message.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the body of a non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
