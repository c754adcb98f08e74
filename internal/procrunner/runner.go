// Package procrunner spawns the de-privileged Kerberos helper child (§4.2)
// and reports its exit back onto the single-threaded scheduler (§5) rather
// than through a raw SIGCHLD handler.
package procrunner

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/smnsjas/go-identd/internal/sched"
	"github.com/smnsjas/go-identd/internal/wire"
)

// ErrAlreadyStarted is returned by Start if called more than once on the
// same Runner.
var ErrAlreadyStarted = errors.New("procrunner: already started")

// Spec describes the child to spawn: the helper binary path, the
// target uid/gid to drop privileges to, and the working directory it
// should chdir into before exec — matching spec §4.2's ordering
// (chdir, then setgid/setuid, then dup2 the pipe fds, then exec).
type Spec struct {
	Path string
	Dir  string
	UID  uint32
	GID  uint32
}

// Result is what Runner.Reap reports once the child has exited.
type Result struct {
	ExitCode int
	Err      error
}

// Runner owns one helper child process: its pipes, its exec.Cmd, and the
// goroutine that reaps it.
type Runner struct {
	spec      Spec
	cmd       *exec.Cmd
	transport *wire.Transport
	started   bool
}

// New creates a Runner for spec. Call Start to fork+exec.
func New(spec Spec) *Runner {
	return &Runner{spec: spec}
}

// Start forks the helper child with its privileges dropped to
// spec.UID/spec.GID and wires up a *wire.Transport connected to its
// stdin/stdout. It does not block for the child to exit — call Reap to
// have the exit reported on the loop.
func (r *Runner) Start() (*wire.Transport, error) {
	if r.started {
		return nil, ErrAlreadyStarted
	}

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("procrunner: stdin pipe: %w", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return nil, fmt.Errorf("procrunner: stdout pipe: %w", err)
	}

	cmd := exec.Command(r.spec.Path)
	cmd.Dir = r.spec.Dir
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Credential: &syscall.Credential{
			Uid: r.spec.UID,
			Gid: r.spec.GID,
		},
	}

	if err := cmd.Start(); err != nil {
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("procrunner: start helper: %w", err)
	}

	// These fds now belong to the child; the parent keeps only its own
	// ends of each pipe.
	stdinR.Close()
	stdoutW.Close()

	r.cmd = cmd
	r.started = true
	r.transport = wire.NewTransport(stdinW, stdoutR)
	return r.transport, nil
}

// Reap blocks in a background goroutine until the child exits, then posts
// the Result to loop — never invoking fn directly, so the caller's
// completion logic always runs on the loop goroutine regardless of which
// goroutine actually observed the child's exit.
func (r *Runner) Reap(loop *sched.Loop, fn func(Result)) {
	go func() {
		err := r.cmd.Wait()
		result := Result{}
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				result.ExitCode = exitErr.ExitCode()
			} else {
				result.Err = fmt.Errorf("procrunner: wait: %w", err)
			}
		}
		loop.Post(func() { fn(result) })
	}()
}

// Close releases the parent's ends of the helper's pipes. Safe to call
// after the child has already exited.
func (r *Runner) Close() error {
	if r.transport == nil {
		return nil
	}
	return r.transport.Close()
}
