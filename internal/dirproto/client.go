// Package dirproto models the directory-protocol wire client: connect,
// bind, and search against the remote directory service. Its wire encoding
// is an external collaborator out of scope for this spec (§1, §6); this
// package defines the narrow interface the connection manager and identity
// dispatcher call through, plus an in-memory Fake used by tests.
package dirproto

import (
	"context"
	"errors"
)

// ErrAuthFailed is returned by Bind when the directory rejects the
// configured bind DN / authtok.
var ErrAuthFailed = errors.New("dirproto: bind authentication failed")

// SearchResult is one entry returned by Search.
type SearchResult struct {
	DN         string
	Attributes map[string][]string
}

// Handle is a live, authenticated connection to the directory. At most one
// Handle is held per backend instance (the connection manager's invariant).
type Handle interface {
	// Search issues a filtered search under baseDN, requesting attrs.
	// sizeLimit <= 0 means unbounded.
	Search(ctx context.Context, baseDN, filter string, attrs []string, sizeLimit int) ([]SearchResult, error)

	// Close releases the underlying connection.
	Close() error
}

// Dialer connects and binds to a directory endpoint, producing a Handle.
type Dialer interface {
	// DialAndBind opens a connection (optionally with STARTTLS) and
	// performs a simple bind with the given DN/password.
	DialAndBind(ctx context.Context, addr string, startTLS bool, bindDN, bindPW string) (Handle, error)
}
