// Package obslog provides the backend's logging conventions: a redacting
// slog.Handler wrapper, a size-based rotating file writer, and a
// structured security-event logger for auth outcomes.
package obslog

import (
	"log/slog"
	"time"

	"github.com/smnsjas/go-identd/internal/idgen"
)

// Security event types.
const (
	EventAuthentication = "authentication"
	EventConnection     = "connection"
	EventEnumeration    = "enumeration"
)

// Security event subtypes.
const (
	SubtypeAuthenticate = "authenticate"
	SubtypeChauthtok    = "chauthtok"
	SubtypeConnBind     = "bind"
	SubtypeConnOffline  = "offline"
	SubtypeEnumRun      = "run"
)

// Outcomes.
const (
	OutcomeSuccess     = "success"
	OutcomeFailure     = "failure"
	OutcomeUnavailable = "unavailable"
	OutcomeDenied      = "denied"
)

// Severities.
const (
	SeverityInfo    = "INFO"
	SeverityWarning = "WARNING"
	SeverityError   = "ERROR"
)

// SecurityEvent is one structured audit record.
type SecurityEvent struct {
	Timestamp     string         `json:"timestamp"`
	EventType     string         `json:"event_type"`
	Subtype       string         `json:"subtype,omitempty"`
	CorrelationID string         `json:"correlation_id"`
	User          string         `json:"user,omitempty"`
	Outcome       string         `json:"outcome"`
	Severity      string         `json:"severity"`
	Details       map[string]any `json:"details,omitempty"`
}

// NewSecurityEvent populates the required fields of a SecurityEvent.
func NewSecurityEvent(eventType, subtype, correlationID, outcome, severity string) *SecurityEvent {
	return &SecurityEvent{
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		EventType:     eventType,
		Subtype:       subtype,
		CorrelationID: correlationID,
		Outcome:       outcome,
		Severity:      severity,
		Details:       make(map[string]any),
	}
}

// WithUser sets the event's user field.
func (e *SecurityEvent) WithUser(user string) *SecurityEvent {
	e.User = user
	return e
}

// WithDetail adds a single detail field.
func (e *SecurityEvent) WithDetail(key string, value any) *SecurityEvent {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Log emits the event at a level derived from its severity.
func (e *SecurityEvent) Log(logger *slog.Logger) {
	if logger == nil {
		return
	}

	var logFunc func(msg string, args ...any)
	switch e.Severity {
	case SeverityError:
		logFunc = logger.Error
	case SeverityWarning:
		logFunc = logger.Warn
	default:
		logFunc = logger.Info
	}

	logFunc("security_event",
		"event_type", e.EventType,
		"subtype", e.Subtype,
		"correlation_id", e.CorrelationID,
		"user", e.User,
		"outcome", e.Outcome,
		"severity", e.Severity,
		"details", e.Details,
	)
}

// SecurityLogger is a per-request convenience wrapper around SecurityEvent
// that carries a correlation ID and user across several log calls.
type SecurityLogger struct {
	logger        *slog.Logger
	correlationID string
	user          string
}

// NewSecurityLogger creates a SecurityLogger with a fresh correlation ID.
func NewSecurityLogger(logger *slog.Logger, user string) *SecurityLogger {
	return &SecurityLogger{
		logger:        logger,
		correlationID: idgen.New(),
		user:          user,
	}
}

// CorrelationID returns the ID this logger stamps on every event.
func (sl *SecurityLogger) CorrelationID() string {
	return sl.correlationID
}

// LogAuthentication logs a PAM authenticate/chauthtok outcome.
func (sl *SecurityLogger) LogAuthentication(subtype, outcome, severity string, details map[string]any) {
	event := NewSecurityEvent(EventAuthentication, subtype, sl.correlationID, outcome, severity).
		WithUser(sl.user)
	for k, v := range details {
		event.WithDetail(k, v)
	}
	event.Log(sl.logger)
}

// LogConnection logs a directory connection lifecycle event.
func (sl *SecurityLogger) LogConnection(subtype, outcome, severity string, details map[string]any) {
	event := NewSecurityEvent(EventConnection, subtype, sl.correlationID, outcome, severity).
		WithUser(sl.user)
	for k, v := range details {
		event.WithDetail(k, v)
	}
	event.Log(sl.logger)
}

// LogEnumeration logs one enumeration iteration's outcome.
func (sl *SecurityLogger) LogEnumeration(subtype, outcome, severity string, details map[string]any) {
	event := NewSecurityEvent(EventEnumeration, subtype, sl.correlationID, outcome, severity)
	for k, v := range details {
		event.WithDetail(k, v)
	}
	event.Log(sl.logger)
}
