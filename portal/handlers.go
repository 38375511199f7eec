package portal

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/prsuperstar/superstar/guard"
	"github.com/prsuperstar/superstar/login"
	"github.com/prsuperstar/superstar/notify"
	"github.com/prsuperstar/superstar/otp"
	"github.com/prsuperstar/superstar/session"
)

// MsgLoggedOut is shown after logout.
const MsgLoggedOut = "You have been logged out"

type pageData struct {
	Title       string
	CSRF        string
	Notices     []notify.Notice
	Snapshot    session.Snapshot
	Admin       bool
	From        string
	MaskedEmail string
	OTP         otp.View
	Access      login.AccessForm
	Submitted   bool
	Message     string
	Section     string
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, page string, data pageData) {
	data.CSRF = csrfToken(w, r)
	data.Notices = s.notices.Drain()
	data.Snapshot = s.store.Snapshot()

	var buf strings.Builder
	if err := s.pages[page].ExecuteTemplate(&buf, "layout", data); err != nil {
		s.logger.Error("rendering page", "page", page, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(buf.String()))
}

func (s *Server) loading(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Refresh", "1")
	s.render(w, r, http.StatusOK, "status", pageData{Title: "Loading", Message: "Loading..."})
}

func (s *Server) forbidden(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusForbidden, "status", pageData{
		Title:   "Forbidden",
		Message: "Admin access required.",
	})
}

func (s *Server) loginPage(admin bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !admin && s.store.Snapshot().Phase == session.PhaseAwaitingOTP {
			http.Redirect(w, r, "/otp", http.StatusSeeOther)
			return
		}
		title := "Client login"
		if admin {
			title = "Admin login"
		}
		s.render(w, r, http.StatusOK, "login", pageData{
			Title: title,
			Admin: admin,
			From:  r.URL.Query().Get("from"),
		})
	}
}

func (s *Server) loginSubmit(admin bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from := r.PostFormValue("from")
		out, err := login.NewSubmitter(s.store, s.sink, admin).
			Submit(r.Context(), r.PostFormValue("username"), r.PostFormValue("password"), from)
		if err != nil {
			back := r.URL.Path
			if from != "" && !admin {
				back = guard.LoginURL(from)
			}
			http.Redirect(w, r, back, http.StatusSeeOther)
			return
		}
		if out.RequiresOTP {
			s.closeOTP()
			s.mu.Lock()
			s.from = guard.SafeRedirect(from)
			s.mu.Unlock()
			http.Redirect(w, r, "/otp", http.StatusSeeOther)
			return
		}
		http.Redirect(w, r, out.Redirect, http.StatusSeeOther)
	}
}

func (s *Server) otpPage(w http.ResponseWriter, r *http.Request) {
	h := s.otpHandler()
	if h == nil {
		http.Redirect(w, r, guard.Fallback(s.store.Snapshot()), http.StatusSeeOther)
		return
	}
	snap := s.store.Snapshot()
	var masked string
	if snap.Pending != nil {
		masked = snap.Pending.MaskedEmail
	}
	s.render(w, r, http.StatusOK, "otp", pageData{
		Title:       "Verify",
		MaskedEmail: masked,
		OTP:         h.View(),
	})
}

func (s *Server) otpVerify(w http.ResponseWriter, r *http.Request) {
	h := s.otpHandler()
	if h == nil {
		notify.Error(s.sink, session.MsgNoPending)
		http.Redirect(w, r, guard.PathLogin, http.StatusSeeOther)
		return
	}

	var res otp.Result
	if code := r.PostFormValue("code"); code != "" {
		res = h.Paste(r.Context(), code)
	} else {
		for i := 0; i < otp.Length && !res.Submitted; i++ {
			res = h.Input(r.Context(), i, strings.TrimSpace(r.PostFormValue("d"+strconv.Itoa(i))))
		}
	}
	if !res.Submitted && res.Err == nil {
		res = h.Submit(r.Context())
	}

	switch {
	case res.Err != nil:
		notify.Error(s.sink, res.Err.Error())
		http.Redirect(w, r, "/otp", http.StatusSeeOther)
	case res.Identity != nil:
		notify.Success(s.sink, login.MsgLoginSuccessful)
		s.mu.Lock()
		to := s.from
		s.from = ""
		s.mu.Unlock()
		http.Redirect(w, r, guard.SafeRedirect(to), http.StatusSeeOther)
	default:
		http.Redirect(w, r, "/otp", http.StatusSeeOther)
	}
}

func (s *Server) otpResend(w http.ResponseWriter, r *http.Request) {
	h := s.otpHandler()
	if h == nil {
		notify.Error(s.sink, session.MsgNoPending)
		http.Redirect(w, r, guard.PathLogin, http.StatusSeeOther)
		return
	}
	res, err := h.Resend(r.Context())
	switch {
	case err != nil:
		notify.Error(s.sink, err.Error())
	case res.Sent:
		notify.Success(s.sink, res.Message)
	default:
		notify.Info(s.sink, fmt.Sprintf("Please wait %ds before requesting a new code", h.View().Cooldown))
	}
	http.Redirect(w, r, "/otp", http.StatusSeeOther)
}

func (s *Server) otpBack(w http.ResponseWriter, r *http.Request) {
	if h := s.otpHandler(); h != nil {
		h.Back(r.Context())
	} else {
		s.store.CancelOTP(r.Context())
	}
	http.Redirect(w, r, guard.PathLogin, http.StatusSeeOther)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	s.store.Logout(r.Context())
	notify.Success(s.sink, MsgLoggedOut)
	http.Redirect(w, r, guard.PathLogin, http.StatusSeeOther)
}

func (s *Server) requestAccessPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "request_access", pageData{Title: "Request access"})
}

func (s *Server) requestAccessSubmit(w http.ResponseWriter, r *http.Request) {
	form := login.AccessForm{
		Name:   r.PostFormValue("name"),
		Email:  r.PostFormValue("email"),
		Phone:  r.PostFormValue("phone"),
		Reason: r.PostFormValue("reason"),
	}
	msg, err := form.Submit(r.Context(), s.store, s.sink)
	if err != nil {
		s.render(w, r, http.StatusUnprocessableEntity, "request_access", pageData{Title: "Request access", Access: form})
		return
	}
	s.render(w, r, http.StatusOK, "request_access", pageData{Title: "Request access", Submitted: true, Message: msg})
}

func (s *Server) changePasswordPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "change_password", pageData{Title: "Change password"})
}

func (s *Server) changePasswordSubmit(w http.ResponseWriter, r *http.Request) {
	form := login.PasswordForm{
		Current: r.PostFormValue("current"),
		New:     r.PostFormValue("new"),
		Confirm: r.PostFormValue("confirm"),
	}
	if err := form.Submit(r.Context(), s.store, s.sink); err != nil {
		http.Redirect(w, r, "/change-password", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, guard.PathHome, http.StatusSeeOther)
}

func (s *Server) section(title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.render(w, r, http.StatusOK, "home", pageData{Title: title, Section: title})
	}
}

var adminSections = map[string]string{
	"dashboard":       "Dashboard",
	"users":           "Users",
	"sessions":        "Sessions",
	"requests":        "Requests",
	"settings":        "Settings",
	"change-password": "Change password",
}

func (s *Server) adminSection(w http.ResponseWriter, r *http.Request) {
	title, ok := adminSections[chi.URLParam(r, "section")]
	if !ok {
		http.Redirect(w, r, guard.PathAdmin, http.StatusSeeOther)
		return
	}
	if title == "Change password" {
		s.changePasswordPage(w, r)
		return
	}
	s.render(w, r, http.StatusOK, "home", pageData{Title: title, Section: title})
}
