package obslog

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRedactingHandlerScrubsSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewTextHandler(&buf, nil)
	logger := slog.New(NewRedactingHandler(base))

	logger.Info("auth attempt",
		slog.String("user", "alice"),
		slog.String("authtok", "hunter2"),
		slog.String("newauthtok", "hunter3"),
	)

	out := buf.String()
	require.Contains(t, out, "user=alice")
	require.NotContains(t, out, "hunter2")
	require.NotContains(t, out, "hunter3")
	require.Contains(t, out, "[REDACTED]")
}

func TestRedactingHandlerGroups(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewTextHandler(&buf, nil)
	logger := slog.New(NewRedactingHandler(base))

	logger.Info("bind",
		slog.Group("directory", slog.String("bindpw", "s3cret"), slog.String("dn", "cn=svc")),
	)

	out := buf.String()
	require.NotContains(t, out, "s3cret")
	require.Contains(t, out, "cn=svc")
}

func TestRedactingHandlerWithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewTextHandler(&buf, nil)
	logger := slog.New(NewRedactingHandler(base)).With(slog.String("secret", "x")).WithGroup("g")

	logger.InfoContext(context.Background(), "msg", slog.String("k", "v"))

	out := buf.String()
	require.NotContains(t, out, "=x")
	require.True(t, strings.Contains(out, "[REDACTED]"))
}

func TestWipeBytes(t *testing.T) {
	b := []byte("hunter2")
	WipeBytes(b)
	for _, c := range b {
		require.Equal(t, byte(0), c)
	}
}
