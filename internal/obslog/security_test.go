package obslog

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSecurityLoggerAuthentication(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	sl := NewSecurityLogger(logger, "alice")
	require.NotEmpty(t, sl.CorrelationID())

	sl.LogAuthentication(SubtypeAuthenticate, OutcomeSuccess, SeverityInfo, map[string]any{
		"realm": "EXAMPLE.COM",
	})

	out := buf.String()
	require.Contains(t, out, "alice")
	require.Contains(t, out, SubtypeAuthenticate)
	require.Contains(t, out, OutcomeSuccess)
}

func TestSecurityLoggerNilLoggerIsSafe(t *testing.T) {
	sl := NewSecurityLogger(nil, "bob")
	require.NotPanics(t, func() {
		sl.LogAuthentication(SubtypeChauthtok, OutcomeFailure, SeverityError, nil)
	})
}
