package keyedmutex

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLock_SerializesSameKey(t *testing.T) {
	m := New()
	const goroutines = 64

	counter := 0
	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock("listing-1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, goroutines, counter)
}

func TestLockPair_OppositeOrderDoesNotDeadlock(t *testing.T) {
	m := New()
	const rounds = 500

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for range rounds {
			unlock := m.LockPair("seller", "buyer")
			unlock()
		}
	}()
	go func() {
		defer wg.Done()
		for range rounds {
			unlock := m.LockPair("buyer", "seller")
			unlock()
		}
	}()
	wg.Wait()
}

func TestLockPair_SameStripe(t *testing.T) {
	m := New()
	unlock := m.LockPair("same", "same")
	unlock()
	// Re-acquirable after release.
	unlock = m.Lock("same")
	unlock()
}
