package mapping

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedLock_SingleHolderPerKey(t *testing.T) {
	l := NewKeyedLock()

	assert.True(t, l.TryAcquire("doc-1"))
	assert.False(t, l.TryAcquire("doc-1"))
	assert.True(t, l.TryAcquire("doc-2"), "keys are independent")

	l.Release("doc-1")
	assert.True(t, l.TryAcquire("doc-1"))

	assert.True(t, l.Held("doc-2"))
	l.Release("doc-2")
	assert.False(t, l.Held("doc-2"))
}

func TestKeyedLock_ConcurrentAcquire(t *testing.T) {
	l := NewKeyedLock()

	const goroutines = 50
	acquired := make(chan bool, goroutines)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			acquired <- l.TryAcquire("doc-1")
		}()
	}
	wg.Wait()
	close(acquired)

	wins := 0
	for ok := range acquired {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins, "exactly one goroutine wins the lock")
}
