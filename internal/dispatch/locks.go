package dispatch

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// KeyLocks hands out one exclusive lock per workspace key. The lock is a
// flock(2) file under dir, so separate fecingest processes sharing a state
// directory also exclude each other.
type KeyLocks struct {
	dir  string
	mu   sync.Mutex
	held map[string]*flock.Flock
}

// NewKeyLocks returns locks stored in dir.
func NewKeyLocks(dir string) *KeyLocks {
	return &KeyLocks{dir: dir, held: make(map[string]*flock.Flock)}
}

// Path returns the lock file for key.
func (k *KeyLocks) Path(key string) string {
	return filepath.Join(k.dir, key+".lock")
}

// TryLock acquires key without blocking. ok is false when another run holds
// it. The returned release func must be called exactly once.
func (k *KeyLocks) TryLock(key string) (release func(), ok bool, err error) {
	if key == "" || key != filepath.Base(key) {
		return nil, false, fmt.Errorf("invalid workspace key %q", key)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, busy := k.held[key]; busy {
		return nil, false, nil
	}
	if err := os.MkdirAll(k.dir, 0o755); err != nil {
		return nil, false, fmt.Errorf("create lock dir: %w", err)
	}
	lock := flock.New(k.Path(key))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("lock %s: %w", key, err)
	}
	if !locked {
		return nil, false, nil
	}
	k.held[key] = lock
	return func() {
		k.mu.Lock()
		defer k.mu.Unlock()
		_ = lock.Unlock()
		delete(k.held, key)
	}, true, nil
}
