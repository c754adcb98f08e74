// Package idgen generates correlation identifiers used to tie together the
// log lines of one auth request or one enumeration run.
package idgen

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// New returns a fresh correlation ID, suitable as a log field.
func New() string {
	return uuid.New().String()
}

// Sequence hands out a monotonically increasing counter, for components that
// want a cheap, orderable ID alongside the UUID (e.g. enumeration run
// numbers in log output).
type Sequence struct {
	n atomic.Int64
}

// Next increments and returns the next value. The first call returns 1.
func (s *Sequence) Next() int64 {
	return s.n.Add(1)
}

// Current returns the current value without incrementing.
func (s *Sequence) Current() int64 {
	return s.n.Load()
}
