package authstate

import (
	"github.com/smnsjas/go-identd/internal/pamtypes"
	"github.com/smnsjas/go-identd/internal/wire"
)

// requestState carries one in-flight auth request through the transitions
// in §4.3: received → resolving_upn → spawning → writing → reading →
// dispatching → (caching) → done. It owns exactly one child subprocess
// and exactly two pipe endpoints between spawn and the terminal callback
// (§3 invariant), both released by cleanup before the request is
// released.
type requestState struct {
	req           *pamtypes.Request
	correlationID string
	principal     string
	runner        childRunner
	transport     *wire.Transport
}

// cleanup releases the child process and its pipe endpoints. Safe to call
// more than once and safe to call before spawning ever happened.
func (st *requestState) cleanup() {
	if st.transport != nil {
		st.transport.Close()
		st.transport = nil
	}
	if st.runner != nil {
		st.runner.Close()
		st.runner = nil
	}
}
