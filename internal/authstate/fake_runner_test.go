package authstate

import (
	"os"

	"github.com/smnsjas/go-identd/internal/procrunner"
	"github.com/smnsjas/go-identd/internal/sched"
	"github.com/smnsjas/go-identd/internal/wire"
)

// fakeRunner emulates the Kerberos helper child over a real pipe pair
// without spawning a process: a goroutine stands in for the child,
// reading whatever request frame arrives and writing back a canned reply
// (or simulating a truncated/absent reply).
type fakeRunner struct {
	startErr error
	reply    wire.Reply
	truncate bool // write fewer bytes than the reply's header declares
	noReply  bool // close without writing anything (EOF, no frame)

	transport *wire.Transport
}

func (f *fakeRunner) Start() (*wire.Transport, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}

	childStdinR, parentStdinW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	parentStdoutR, childStdoutW, err := os.Pipe()
	if err != nil {
		childStdinR.Close()
		parentStdinW.Close()
		return nil, err
	}

	go func() {
		buf := make([]byte, 64*1024)
		childStdinR.Read(buf) //nolint:errcheck
		childStdinR.Close()

		switch {
		case f.noReply:
		case f.truncate:
			full := f.reply.Encode()
			if len(full) > 4 {
				childStdoutW.Write(full[:4]) //nolint:errcheck
			}
		default:
			childStdoutW.Write(f.reply.Encode()) //nolint:errcheck
		}
		childStdoutW.Close()
	}()

	f.transport = wire.NewTransport(parentStdinW, parentStdoutR)
	return f.transport, nil
}

func (f *fakeRunner) Reap(loop *sched.Loop, fn func(procrunner.Result)) {
	loop.Post(func() { fn(procrunner.Result{}) })
}

func (f *fakeRunner) Close() error {
	if f.transport == nil {
		return nil
	}
	return f.transport.Close()
}
