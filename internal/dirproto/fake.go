package dirproto

import (
	"context"
	"sync"
)

// FakeDialer is a Dialer backed by an in-memory directory, for tests and
// for cmd/identd-ctl's standalone mode. Each DialAndBind call produces a
// new *FakeHandle sharing the same backing entries, so enumeration and
// single-entry lookups observe the same data.
type FakeDialer struct {
	mu      sync.Mutex
	entries []SearchResult

	// FailBind, if set, makes every DialAndBind call fail as ErrAuthFailed.
	FailBind bool

	dials int
}

// NewFakeDialer creates a FakeDialer seeded with entries.
func NewFakeDialer(entries []SearchResult) *FakeDialer {
	return &FakeDialer{entries: entries}
}

// Dials reports how many times DialAndBind has been called, for tests that
// assert the connection manager reconnects lazily rather than eagerly.
func (f *FakeDialer) Dials() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

// DialAndBind implements Dialer.
func (f *FakeDialer) DialAndBind(_ context.Context, _ string, _ bool, _, _ string) (Handle, error) {
	f.mu.Lock()
	f.dials++
	fail := f.FailBind
	f.mu.Unlock()

	if fail {
		return nil, ErrAuthFailed
	}
	return &FakeHandle{parent: f}, nil
}

// FakeHandle is the Handle produced by FakeDialer.
type FakeHandle struct {
	parent *FakeDialer
	closed bool
}

// Search implements Handle with a trivial "contains" filter match: it
// returns every entry that has an attribute value appearing verbatim in
// the filter, or an attribute named in a "(attr=*)" presence clause of
// the filter. The DN is not matched against. Real
// directory filter semantics are out of scope; this exists only to drive
// the dispatcher and enumeration scheduler end to end.
func (h *FakeHandle) Search(_ context.Context, _ string, filter string, attrs []string, sizeLimit int) ([]SearchResult, error) {
	h.parent.mu.Lock()
	defer h.parent.mu.Unlock()

	var out []SearchResult
	for _, e := range h.parent.entries {
		if !matchFake(e, filter) {
			continue
		}
		out = append(out, projectAttrs(e, attrs))
		if sizeLimit > 0 && len(out) >= sizeLimit {
			break
		}
	}
	return out, nil
}

// Close implements Handle.
func (h *FakeHandle) Close() error {
	h.closed = true
	return nil
}

func projectAttrs(e SearchResult, attrs []string) SearchResult {
	if len(attrs) == 0 {
		return e
	}
	projected := make(map[string][]string, len(attrs))
	for _, a := range attrs {
		if v, ok := e.Attributes[a]; ok {
			projected[a] = v
		}
	}
	return SearchResult{DN: e.DN, Attributes: projected}
}

// matchFake does a crude substring test of the filter against every
// attribute value (and of "(name=*)" against every attribute name),
// sufficient for unit tests that assert "the right filter was built"
// without implementing real LDAP filter grammar.
func matchFake(e SearchResult, filter string) bool {
	for name, values := range e.Attributes {
		if containsFold(filter, "("+name+"=*)") {
			return true
		}
		for _, v := range values {
			if v != "" && containsFold(filter, v) {
				return true
			}
		}
	}
	return false
}

func containsFold(haystack, needle string) bool {
	hl, nl := len(haystack), len(needle)
	if nl == 0 || nl > hl {
		return false
	}
	for i := 0; i+nl <= hl; i++ {
		if equalFold(haystack[i:i+nl], needle) {
			return true
		}
	}
	return false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
