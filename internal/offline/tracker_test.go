package offline

import (
	"testing"
	"time"

	"github.com/smnsjas/go-identd/internal/clockutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerOfflineWindow(t *testing.T) {
	start := time.Unix(0, 0)
	clock := clockutil.NewMock(start)
	tr := New(clock, 60*time.Second)

	require.False(t, tr.IsOffline())

	tr.MarkOffline()
	require.True(t, tr.IsOffline())

	clock.Advance(10 * time.Second)
	require.True(t, tr.IsOffline(), "scenario: offline short-circuit at t=10 within 60s window")

	clock.Advance(51 * time.Second) // now t=61, past the 60s window
	require.False(t, tr.IsOffline())
}

func TestTrackerMarkOnlineClearsImmediately(t *testing.T) {
	clock := clockutil.NewMock(time.Unix(0, 0))
	tr := New(clock, time.Minute)

	tr.MarkOffline()
	require.True(t, tr.IsOffline())

	tr.MarkOnline()
	require.False(t, tr.IsOffline())
}

func TestTrackerFreshFailureRestartsWindow(t *testing.T) {
	clock := clockutil.NewMock(time.Unix(0, 0))
	tr := New(clock, 10*time.Second)

	tr.MarkOffline()
	clock.Advance(20 * time.Second)
	require.False(t, tr.IsOffline())

	tr.MarkOffline()
	require.True(t, tr.IsOffline())
}
