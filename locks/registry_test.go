package locks

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRegistryExclusive(t *testing.T) {
	reg := NewRegistry()
	assert.True(t, reg.TryAcquire("a"))
	assert.False(t, reg.TryAcquire("a"))
	assert.True(t, reg.TryAcquire("b"))
	reg.Release("a")
	assert.True(t, reg.TryAcquire("a"))
	reg.Release("a")
	reg.Release("b")
}

func TestRegistryTimeout(t *testing.T) {
	reg := NewRegistry()
	assert.True(t, reg.TryAcquireWithTimeout("m", 10*time.Millisecond))
	st := time.Now()
	assert.False(t, reg.TryAcquireWithTimeout("m", 50*time.Millisecond))
	assert.True(t, time.Since(st) >= 50*time.Millisecond)
	reg.Release("m")
}

func TestWithLockSkipsWhenHeld(t *testing.T) {
	reg := NewRegistry()
	var ran int32
	assert.True(t, reg.TryAcquire("cycle"))
	var wg sync.WaitGroup
	for i := 0; i < concurrentThreadNumber; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.WithLock("cycle", func() {
				atomic.AddInt32(&ran, 1)
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(0), atomic.LoadInt32(&ran))
	reg.Release("cycle")
	assert.True(t, reg.WithLock("cycle", func() {
		atomic.AddInt32(&ran, 1)
	}))
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
}
