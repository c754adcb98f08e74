package procrunner

import (
	"context"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smnsjas/go-identd/internal/sched"
)

// TestRunnerEchoesViaTransport spawns /bin/cat in place of the real
// Kerberos helper: whatever bytes the parent writes to its stdin come
// back out its stdout, letting this test exercise Start/Reap/transport
// wiring without a real helper binary.
func TestRunnerEchoesViaTransport(t *testing.T) {
	catPath, err := exec.LookPath("cat")
	if err != nil {
		t.Skip("cat not available")
	}

	r := New(Spec{
		Path: catPath,
		Dir:  os.TempDir(),
		UID:  uint32(os.Getuid()),
		GID:  uint32(os.Getgid()),
	})

	transport, err := r.Start()
	require.NoError(t, err)
	defer r.Close()

	loop := sched.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	reaped := make(chan Result, 1)
	r.Reap(loop, func(res Result) { reaped <- res })

	require.NoError(t, transport.WriteFrame([]byte("hello")))

	got, err := transport.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)

	select {
	case res := <-reaped:
		require.Equal(t, 0, res.ExitCode)
		require.NoError(t, res.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("child was never reaped")
	}
}

func TestRunnerStartTwiceFails(t *testing.T) {
	catPath, err := exec.LookPath("cat")
	if err != nil {
		t.Skip("cat not available")
	}

	r := New(Spec{Path: catPath, UID: uint32(os.Getuid()), GID: uint32(os.Getgid())})
	_, err = r.Start()
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Start()
	require.ErrorIs(t, err, ErrAlreadyStarted)
}
