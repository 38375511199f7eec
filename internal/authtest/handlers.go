package authtest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prsuperstar/superstar/client"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, client.ErrorResponse{Error: msg})
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration, msg string) {
	secs := int(retryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeError(w, http.StatusTooManyRequests, msg)
}

// decodeBody unmarshals body into T, writing a 400 on failure.
func decodeBody[T any](w http.ResponseWriter, body []byte) (T, bool) {
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return v, false
	}
	return v, true
}

func (s *Server) login(w http.ResponseWriter, r *http.Request, body []byte) {
	req, ok := decodeBody[client.LoginRequest](w, body)
	if !ok {
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.checkPasswordLocked(w, req)
	if !ok {
		return
	}

	if !s.MailConfigured {
		writeJSON(w, http.StatusOK, client.LoginResponse{
			Token:   s.newSessionLocked(acct.ID),
			User:    publicUser(acct),
			Warning: DegradedWarning,
		})
		return
	}

	now := s.now()
	s.challenges[acct.ID] = &challenge{
		code:      s.issueCodeLocked(),
		expiresAt: now.Add(otpTTL),
		sentAt:    now,
	}
	writeJSON(w, http.StatusOK, client.LoginResponse{
		RequiresOTP: true,
		UserID:      acct.ID,
		MaskedEmail: MaskEmail(acct.Email),
		Message:     "Verification code sent to your email",
	})
}

func (s *Server) adminLogin(w http.ResponseWriter, r *http.Request, body []byte) {
	req, ok := decodeBody[client.LoginRequest](w, body)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.checkPasswordLocked(w, req)
	if !ok {
		return
	}
	if !acct.IsAdmin {
		writeError(w, http.StatusForbidden, "Admin access required")
		return
	}
	writeJSON(w, http.StatusOK, client.SessionResponse{
		Token: s.newSessionLocked(acct.ID),
		User:  publicUser(acct),
	})
}

// checkPasswordLocked authenticates req, writing 429 while the username is
// locked out and 401 on a bad password.
func (s *Server) checkPasswordLocked(w http.ResponseWriter, req client.LoginRequest) (*Account, bool) {
	now := s.now()
	if locked, wait := s.limiter.check(req.Username, now); locked {
		writeRateLimited(w, wait, "Too many failed login attempts. Please try again later.")
		return nil, false
	}
	acct, ok := s.accounts[req.Username]
	if !ok || acct.Password != req.Password {
		s.limiter.fail(req.Username, now)
		writeError(w, http.StatusUnauthorized, "Invalid username or password")
		return nil, false
	}
	s.limiter.succeed(req.Username)
	return acct, true
}

func (s *Server) verifyOTP(w http.ResponseWriter, r *http.Request, body []byte) {
	req, ok := decodeBody[client.VerifyOTPRequest](w, body)
	if !ok {
		return
	}

	if !s.wait(r, client.PathVerifyOTP) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.challenges[req.UserID]
	if !ok {
		writeError(w, http.StatusBadRequest, "No pending verification. Please login again.")
		return
	}
	if s.now().After(ch.expiresAt) {
		delete(s.challenges, req.UserID)
		writeError(w, http.StatusBadRequest, "Verification code has expired. Please request a new one.")
		return
	}
	if ch.code != req.OTP {
		ch.failures++
		if ch.failures >= maxVerifyFailures {
			delete(s.challenges, req.UserID)
			writeError(w, http.StatusTooManyRequests, "Too many failed attempts. Please login again.")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid verification code")
		return
	}

	delete(s.challenges, req.UserID)
	acct := s.accountByIDLocked(req.UserID)
	writeJSON(w, http.StatusOK, client.SessionResponse{
		Token: s.newSessionLocked(req.UserID),
		User:  publicUser(acct),
	})
}

func (s *Server) resendOTP(w http.ResponseWriter, r *http.Request, body []byte) {
	req, ok := decodeBody[client.ResendOTPRequest](w, body)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.challenges[req.UserID]
	if !ok {
		writeError(w, http.StatusBadRequest, "No pending verification. Please login again.")
		return
	}
	now := s.now()
	if wait := ch.sentAt.Add(s.ResendInterval).Sub(now); wait > 0 {
		writeRateLimited(w, wait, "Please wait before requesting a new code")
		return
	}
	ch.code = s.issueCodeLocked()
	ch.sentAt = now
	ch.expiresAt = now.Add(otpTTL)
	ch.failures = 0

	acct := s.accountByIDLocked(req.UserID)
	writeJSON(w, http.StatusOK, client.ResendOTPResponse{
		Message:     "New verification code sent",
		MaskedEmail: MaskEmail(acct.Email),
	})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request, _ []byte) {
	if !s.wait(r, client.PathMe) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailMe {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	acct := s.userFromRequestLocked(r)
	if acct == nil {
		writeError(w, http.StatusUnauthorized, "Invalid or expired token")
		return
	}
	writeJSON(w, http.StatusOK, client.MeResponse{User: publicUser(acct)})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request, _ []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailLogout {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if token, ok := bearer(r); ok {
		delete(s.sessions, token)
	}
	writeJSON(w, http.StatusOK, client.MessageResponse{Message: "Logged out"})
}

func (s *Server) changePassword(w http.ResponseWriter, r *http.Request, body []byte) {
	req, ok := decodeBody[client.ChangePasswordRequest](w, body)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct := s.userFromRequestLocked(r)
	if acct == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	current := req.CurrentPassword
	if current == "" {
		current = req.OldPassword
	}
	if current != acct.Password {
		writeError(w, http.StatusBadRequest, "Current password is incorrect")
		return
	}
	if len(req.NewPassword) < 6 {
		writeError(w, http.StatusBadRequest, "Password must be at least 6 characters")
		return
	}
	acct.Password = req.NewPassword
	writeJSON(w, http.StatusOK, client.MessageResponse{Message: "Password changed successfully"})
}

func (s *Server) requestAccess(w http.ResponseWriter, r *http.Request, body []byte) {
	req, ok := decodeBody[client.AccessRequest](w, body)
	if !ok {
		return
	}
	if req.Name == "" || req.Email == "" {
		writeError(w, http.StatusBadRequest, "Name and email are required")
		return
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, client.MessageResponse{
		Message: "Your request has been submitted. We will contact you shortly.",
	})
}

func bearer(r *http.Request) (string, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return token, ok && token != ""
}
