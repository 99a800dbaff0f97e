package lock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithLockSerializesSameKey(t *testing.T) {
	k := NewKeyedLock()

	const goroutines = 50
	counter := 0
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			k.WithLock("chest_7", func() {
				counter++
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, goroutines, counter)
}

func TestWithLockExactlyOneWinner(t *testing.T) {
	k := NewKeyedLock()

	active := true
	winners := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k.WithLock("chest_1", func() {
				if active {
					active = false
					winners++
				}
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
}

func TestEntriesAreEvictedWhenIdle(t *testing.T) {
	k := NewKeyedLock()

	for i := 0; i < 100; i++ {
		k.WithLock("room_"+string(rune('A'+i%26)), func() {})
	}
	assert.Equal(t, 0, k.Len(), "idle keys must not accumulate")
}

func TestDistinctKeysDoNotBlockEachOther(t *testing.T) {
	k := NewKeyedLock()

	release := make(chan struct{})
	held := make(chan struct{})
	go k.WithLock("a", func() {
		close(held)
		<-release
	})
	<-held

	done := make(chan struct{})
	go k.WithLock("b", func() { close(done) })

	select {
	case <-done:
	case <-release:
		t.Fatal("unreachable")
	}
	close(release)
}

func TestReleaseOnPanic(t *testing.T) {
	k := NewKeyedLock()

	require.Panics(t, func() {
		k.WithLock("a", func() { panic("boom") })
	})

	// The key must be usable (and evicted) afterwards.
	ran := false
	k.WithLock("a", func() { ran = true })
	assert.True(t, ran)
	assert.Equal(t, 0, k.Len())
}
