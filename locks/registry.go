package locks

import (
	"sync"
	"time"

	lock "github.com/viney-shih/go-lock"
)

// Registry hands out process-wide advisory named locks. Orchestrator cycles,
// guardians, and the voting engine serialise on these so that concurrent
// workers never compete destructively for the same participant or match.
// The locks live in this process only; they are not mapped onto database
// advisory locks, so they do not serialise workers in other processes.
type Registry struct {
	mu    sync.Mutex
	locks map[string]lock.Mutex
}

func NewRegistry() *Registry {
	return &Registry{locks: make(map[string]lock.Mutex)}
}

func (r *Registry) get(name string) lock.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.locks[name]
	if !ok {
		m = lock.NewCASMutex()
		r.locks[name] = m
	}
	return m
}

// TryAcquire is non-blocking; the caller retries with backoff on false.
func (r *Registry) TryAcquire(name string) bool {
	return r.get(name).TryLock()
}

// TryAcquireWithTimeout blocks up to wait for the lock.
func (r *Registry) TryAcquireWithTimeout(name string, wait time.Duration) bool {
	return r.get(name).TryLockWithTimeout(getTimeOut(wait))
}

func (r *Registry) Release(name string) {
	r.get(name).Unlock()
}

// WithLock runs fn under name if the lock can be taken, and reports whether
// fn ran. All exit paths release.
func (r *Registry) WithLock(name string, fn func()) bool {
	if !r.TryAcquire(name) {
		return false
	}
	defer r.Release(name)
	fn()
	return true
}
