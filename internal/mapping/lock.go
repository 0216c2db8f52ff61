package mapping

import "sync"

// KeyedLock is the single-flight guard for matching runs: at most one holder
// per key, acquisition never blocks.
type KeyedLock struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewKeyedLock() *KeyedLock {
	return &KeyedLock{
		held: make(map[string]struct{}),
	}
}

// TryAcquire takes the lock for key if free and reports whether it did.
func (l *KeyedLock) TryAcquire(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return false
	}

	l.held[key] = struct{}{}
	return true
}

func (l *KeyedLock) Release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.held, key)
}

func (l *KeyedLock) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.held[key]
	return ok
}
