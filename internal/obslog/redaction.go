package obslog

import (
	"context"
	"log/slog"
	"strings"
)

// sensitiveKeys lists the slog attribute keys whose values are scrubbed
// before they reach any handler. Matching is a case-insensitive substring
// check, so "authtok", "newauthtok" and "bind_password" are all caught by
// a handful of short entries.
var sensitiveKeys = []string{
	"password",
	"passwd",
	"authtok",
	"secret",
	"token",
	"ticket",
	"cred",
	"bindpw",
}

// RedactingHandler wraps another slog.Handler and replaces the value of any
// attribute whose key looks sensitive with "[REDACTED]". Authentication
// tokens and bind passwords must never reach a log sink in the clear.
type RedactingHandler struct {
	next slog.Handler
}

// NewRedactingHandler wraps next.
func NewRedactingHandler(next slog.Handler) *RedactingHandler {
	return &RedactingHandler{next: next}
}

// Enabled implements slog.Handler.
func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	var attrs []slog.Attr
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, redactAttr(a))
		return true
	})

	newRecord := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	newRecord.AddAttrs(attrs...)
	return h.next.Handle(ctx, newRecord)
}

// WithAttrs implements slog.Handler.
func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = redactAttr(a)
	}
	return &RedactingHandler{next: h.next.WithAttrs(redacted)}
}

// WithGroup implements slog.Handler.
func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{next: h.next.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		redacted := make([]any, len(group))
		for i, attr := range group {
			redacted[i] = redactAttr(attr)
		}
		return slog.Group(a.Key, redacted...)
	}

	lowerKey := strings.ToLower(a.Key)
	for _, sens := range sensitiveKeys {
		if strings.Contains(lowerKey, sens) {
			return slog.String(a.Key, "[REDACTED]")
		}
	}
	return a
}

// WipeBytes overwrites b with zeros in place. Called on every secret buffer
// (authentication tokens, cached passwords) before it is released, per the
// data model's secret-wiping invariant.
func WipeBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// WipeString returns "" and is a reminder that Go strings are immutable:
// a secret that was ever materialized as a string cannot be wiped in place.
// Callers that need wipeable secrets must carry them as []byte, never
// string, from the point they're read until they're submitted.
func WipeString(s string) string {
	return ""
}
