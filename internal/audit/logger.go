// Package audit provides structured logging of admin-surface operations:
// peer table changes made through /admin/peers, since MRS has no broader
// role model to audit beyond the single configured operator identity.
package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Entry represents a single audit log entry with structured fields.
type Entry struct {
	Timestamp    time.Time         `json:"timestamp"`
	Action       string            `json:"action"`
	AdminUser    string            `json:"admin_user"`
	ResourceType string            `json:"resource_type,omitempty"`
	ResourceID   string            `json:"resource_id,omitempty"`
	IPAddress    string            `json:"ip_address"`
	Status       string            `json:"status"` // "success" or "failure"
	Details      map[string]string `json:"details,omitempty"`
}

// Logger provides structured audit logging for admin operations.
type Logger struct {
	log zerolog.Logger
}

// NewLogger creates a new audit logger writing to the global zerolog logger.
func NewLogger() *Logger {
	return &Logger{log: zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()}
}

// NewLoggerWithZerolog builds an audit logger around a caller-provided
// zerolog.Logger, so audit output shares the process's writer and level.
func NewLoggerWithZerolog(log zerolog.Logger) *Logger {
	return &Logger{log: log}
}

// Log writes an audit entry under the "audit" field.
func (l *Logger) Log(entry Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	l.log.Info().Interface("audit", entry).Msg("admin action")
}

// LogSuccess logs a successful admin operation.
func (l *Logger) LogSuccess(action, adminUser, resourceType, resourceID, ipAddress string, details map[string]string) {
	l.Log(Entry{
		Action:       action,
		AdminUser:    adminUser,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		IPAddress:    ipAddress,
		Status:       "success",
		Details:      details,
	})
}

// LogFailure logs a failed admin operation.
func (l *Logger) LogFailure(action, adminUser, ipAddress string, details map[string]string) {
	l.Log(Entry{
		Action:    action,
		AdminUser: adminUser,
		IPAddress: ipAddress,
		Status:    "failure",
		Details:   details,
	})
}

// ExtractClientIP gets the client IP from request headers or RemoteAddr.
func ExtractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

// ClaimsKey is the context key LogFromRequest looks up to find the caller's
// authenticated identity. middleware.Authenticate attaches its own identity
// type separately; handlers that want audit attribution stamp the caller's
// identity string under this key once authenticated.
type claimsKeyType string

const ClaimsKey claimsKeyType = "claims"

// LogFromRequest logs an action, pulling the admin username out of the
// request context (set by the caller after authentication) and the caller's
// IP out of request headers.
func (l *Logger) LogFromRequest(r *http.Request, action, resourceType, resourceID, status string, details map[string]string) {
	adminUser := "unknown"
	if claims, ok := r.Context().Value(ClaimsKey).(map[string]interface{}); ok {
		if username, ok := claims["username"].(string); ok {
			adminUser = username
		}
	}

	l.Log(Entry{
		Action:       action,
		AdminUser:    adminUser,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		IPAddress:    ExtractClientIP(r),
		Status:       status,
		Details:      details,
	})
}

type contextKey string

const auditLoggerKey contextKey = "auditLogger"

// WithLogger adds an audit logger to the request context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, auditLoggerKey, logger)
}

// FromContext retrieves the audit logger from the request context, falling
// back to a default logger if none was attached.
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(auditLoggerKey).(*Logger); ok {
		return logger
	}
	return NewLogger()
}
