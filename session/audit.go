package session

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent identifies a session transition worth recording.
type AuditEvent string

const (
	AuditLoginSuccess       AuditEvent = "login_success"
	AuditLoginFailure       AuditEvent = "login_failure"
	AuditOTPRequired        AuditEvent = "otp_required"
	AuditOTPVerified        AuditEvent = "otp_verified"
	AuditOTPFailed          AuditEvent = "otp_failed"
	AuditOTPResent          AuditEvent = "otp_resent"
	AuditOTPCancelled       AuditEvent = "otp_cancelled"
	AuditLogout             AuditEvent = "logout"
	AuditSessionRestored    AuditEvent = "session_restored"
	AuditSessionInvalidated AuditEvent = "session_invalidated"
	AuditPasswordChanged    AuditEvent = "password_changed"
	AuditAccessRequested    AuditEvent = "access_requested"
	AuditDegradedLogin      AuditEvent = "degraded_login"
)

// auditLogger writes structured audit entries. Secrets (passwords, codes,
// tokens) are never passed to it.
type auditLogger struct {
	logger *slog.Logger
	now    func() time.Time
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
		now:    time.Now,
	}
}

func (al *auditLogger) log(ctx context.Context, level slog.Level, event AuditEvent, attrs ...slog.Attr) {
	base := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("timestamp", al.now().UTC().Format(time.RFC3339)),
	}
	base = append(base, attrs...)
	al.logger.LogAttrs(ctx, level, "audit", base...)
}

func (al *auditLogger) event(ctx context.Context, event AuditEvent, attrs ...slog.Attr) {
	al.log(ctx, slog.LevelInfo, event, attrs...)
}

func (al *auditLogger) failure(ctx context.Context, event AuditEvent, reason string, attrs ...slog.Attr) {
	al.log(ctx, slog.LevelInfo, event, append([]slog.Attr{slog.String("reason", reason)}, attrs...)...)
}

func (al *auditLogger) warn(ctx context.Context, event AuditEvent, attrs ...slog.Attr) {
	al.log(ctx, slog.LevelWarn, event, attrs...)
}
