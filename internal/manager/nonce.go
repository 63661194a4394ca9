package manager

import (
	"sync"
	"time"
)

// NonceSource hands out request timestamps (ms) and agent nonces (µs) for a
// single account. Both sequences are strictly increasing even if the wall
// clock stalls or steps backwards, so a value is never handed out twice.
type NonceSource struct {
	now func() time.Time

	mu        sync.Mutex
	lastMilli int64
	lastMicro int64
}

func NewNonceSource() *NonceSource {
	return &NonceSource{now: time.Now}
}

// NewNonceSourceWithClock is used by tests to pin the wall clock.
func NewNonceSourceWithClock(now func() time.Time) *NonceSource {
	return &NonceSource{now: now}
}

// NextTimestamp returns max(now_ms, last+1).
func (m *NonceSource) NextTimestamp() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.now().UnixMilli()
	if ts <= m.lastMilli {
		ts = m.lastMilli + 1
	}
	m.lastMilli = ts
	return ts
}

// NextNonce returns max(now_µs, last+1).
func (m *NonceSource) NextNonce() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.now().UnixMicro()
	if n <= m.lastMicro {
		n = m.lastMicro + 1
	}
	m.lastMicro = n
	return n
}

// Observe bumps the sequences past values supplied by a caller so later
// generated values stay ahead of them.
func (m *NonceSource) Observe(timestampMs, nonceUs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if timestampMs > m.lastMilli {
		m.lastMilli = timestampMs
	}
	if nonceUs > m.lastMicro {
		m.lastMicro = nonceUs
	}
}
