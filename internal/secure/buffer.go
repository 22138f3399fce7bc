// Package secure holds passphrase material outside of general purpose string
// types. A Buffer is locked into RAM where the platform allows it and is
// zeroed by Wipe; callers defer Wipe on every path that creates one.
package secure

import (
	"runtime"
	"sync"
)

// Buffer is a wipeable byte container for passphrases. It deliberately has no
// String or MarshalJSON method.
type Buffer struct {
	mu     sync.Mutex
	b      []byte
	locked bool
}

// NewBuffer takes ownership of b: the caller must not use b afterwards.
func NewBuffer(b []byte) *Buffer {
	buf := &Buffer{b: b}
	if len(b) > 0 && lockMemory(b) == nil {
		buf.locked = true
	}
	return buf
}

// FromString copies s into a new Buffer. Only meant for passphrases that
// already arrived as a string, such as an environment variable.
func FromString(s string) *Buffer {
	return NewBuffer([]byte(s))
}

// Bytes exposes the underlying bytes. The slice is only valid until Wipe.
func (s *Buffer) Bytes() []byte {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b
}

// Len reports the number of bytes held.
func (s *Buffer) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.b)
}

// Wipe zeroes and releases the buffer. It is safe to call more than once.
func (s *Buffer) Wipe() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	Zero(s.b)
	if s.locked {
		_ = unlockMemory(s.b)
		s.locked = false
	}
	s.b = nil
}

// Zero overwrites b with zeros.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
