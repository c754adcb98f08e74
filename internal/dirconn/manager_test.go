package dirconn

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smnsjas/go-identd/internal/dirproto"
	"github.com/smnsjas/go-identd/internal/offline"
)

func TestConnectAndBindSuccess(t *testing.T) {
	dialer := dirproto.NewFakeDialer(nil)
	m := New(Config{Address: "dir.example.com:389"}, dialer, offline.New(nil, time.Minute), nil)

	handle, err := m.ConnectAndBind(context.Background())
	require.NoError(t, err)
	require.NotNil(t, handle)
	require.True(t, m.IsConnected())
	require.False(t, m.IsOffline())
}

func TestConnectAndBindFailureMarksOffline(t *testing.T) {
	dialer := dirproto.NewFakeDialer(nil)
	dialer.FailBind = true
	tracker := offline.New(nil, time.Minute)
	m := New(Config{}, dialer, tracker, nil)

	_, err := m.ConnectAndBind(context.Background())
	require.ErrorIs(t, err, dirproto.ErrAuthFailed)
	require.False(t, m.IsConnected())
	require.True(t, tracker.IsOffline())
}

// TestEnsureConnectedLazyReconnects verifies §4.4's lazy-reconnect
// behaviour: no dial happens until a caller actually needs the handle, and
// a subsequent call while still connected reuses it without dialing again.
func TestEnsureConnectedLazyReconnects(t *testing.T) {
	dialer := dirproto.NewFakeDialer(nil)
	m := New(Config{}, dialer, offline.New(nil, time.Minute), nil)

	require.Equal(t, 0, dialer.Dials())

	_, err := m.EnsureConnected(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, dialer.Dials())

	_, err = m.EnsureConnected(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, dialer.Dials(), "second call should reuse the existing handle")
}

func TestConnectAndBindReplacesPriorHandle(t *testing.T) {
	dialer := dirproto.NewFakeDialer(nil)
	m := New(Config{}, dialer, offline.New(nil, time.Minute), nil)

	first, err := m.ConnectAndBind(context.Background())
	require.NoError(t, err)

	second, err := m.ConnectAndBind(context.Background())
	require.NoError(t, err)
	require.NotSame(t, first, second)
	require.Equal(t, 2, dialer.Dials())
}

func TestReconnectDelayGrowsWithFailures(t *testing.T) {
	dialer := dirproto.NewFakeDialer(nil)
	dialer.FailBind = true
	m := New(Config{}, dialer, offline.New(nil, time.Minute), nil)

	_, _ = m.ConnectAndBind(context.Background())
	first := m.ReconnectDelay()

	_, _ = m.ConnectAndBind(context.Background())
	second := m.ReconnectDelay()

	require.Greater(t, second, first)
}
