package chat

import "sync"

// threadLocks serializes turn processing per thread. Entries are reference
// counted so idle threads do not accumulate mutexes.
type threadLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newThreadLocks() *threadLocks {
	return &threadLocks{entries: make(map[string]*lockEntry)}
}

func (l *threadLocks) lock(key string) {
	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &lockEntry{}
		l.entries[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
}

func (l *threadLocks) unlock(key string) {
	l.mu.Lock()
	entry := l.entries[key]
	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, key)
	}
	l.mu.Unlock()

	entry.mu.Unlock()
}
