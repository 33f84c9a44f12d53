package chat

import (
	"sync"
	"testing"
)

func TestThreadLocksSerializeSameKey(t *testing.T) {
	locks := newThreadLocks()

	var mu sync.Mutex
	counter := 0
	max := 0

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			locks.lock("thread_1")
			defer locks.unlock("thread_1")

			mu.Lock()
			counter++
			if counter > max {
				max = counter
			}
			mu.Unlock()

			mu.Lock()
			counter--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if max != 1 {
		t.Errorf("max concurrent holders = %d, want 1", max)
	}
}

func TestThreadLocksReleaseEntries(t *testing.T) {
	locks := newThreadLocks()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := string(rune('a' + n))
			locks.lock(key)
			locks.unlock(key)
		}(i)
	}
	wg.Wait()

	locks.mu.Lock()
	defer locks.mu.Unlock()
	if len(locks.entries) != 0 {
		t.Errorf("len(entries) = %d, want 0 after release", len(locks.entries))
	}
}

func TestThreadLocksIndependentKeys(t *testing.T) {
	locks := newThreadLocks()
	locks.lock("a")

	done := make(chan struct{})
	go func() {
		locks.lock("b")
		locks.unlock("b")
		close(done)
	}()

	<-done
	locks.unlock("a")
}
