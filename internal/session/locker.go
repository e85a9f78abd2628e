package session

import (
	"context"
	"sync"
)

// KeyedLocker provides a FIFO critical section per key. Waiters on the same
// key are admitted in arrival order; different keys never block each other.
type KeyedLocker struct {
	mu     sync.Mutex
	queues map[string][]chan struct{}
}

// NewKeyedLocker creates an empty locker.
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{queues: make(map[string][]chan struct{})}
}

// Lock blocks until the caller holds key or ctx is done. The returned
// function releases the key and must be called exactly once.
func (l *KeyedLocker) Lock(ctx context.Context, key string) (func(), error) {
	ticket := make(chan struct{})

	l.mu.Lock()
	q := l.queues[key]
	l.queues[key] = append(q, ticket)
	if len(q) == 0 {
		close(ticket)
	}
	l.mu.Unlock()

	select {
	case <-ticket:
		return l.releaser(key), nil
	case <-ctx.Done():
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-ticket:
		// Granted while giving up; pass the key on.
		l.releaseLocked(key)
	default:
		q := l.queues[key]
		for i, c := range q {
			if c == ticket {
				l.queues[key] = append(q[:i:i], q[i+1:]...)
				break
			}
		}
	}
	return nil, ctx.Err()
}

// Pending returns the number of callers holding or waiting for key.
func (l *KeyedLocker) Pending(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queues[key])
}

func (l *KeyedLocker) releaser(key string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.releaseLocked(key)
			l.mu.Unlock()
		})
	}
}

func (l *KeyedLocker) releaseLocked(key string) {
	q := l.queues[key][1:]
	if len(q) == 0 {
		delete(l.queues, key)
		return
	}
	l.queues[key] = q
	close(q[0])
}
