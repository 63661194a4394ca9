package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrPairBusy is returned when a pair is already being traded.
var ErrPairBusy = errors.New("pair is busy")

// LocalPairLocker prevents two goroutines of one process from trading the
// same pair. Use the Redis lease for cross-process exclusion.
type LocalPairLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalPairLocker() *LocalPairLocker {
	return &LocalPairLocker{held: make(map[string]struct{})}
}

func (l *LocalPairLocker) Acquire(ctx context.Context, pair string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[pair]; ok {
		return nil, fmt.Errorf("%w: %s", ErrPairBusy, pair)
	}
	l.held[pair] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, pair)
			l.mu.Unlock()
		})
	}, nil
}
