package syncutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShardedMutex_Serializes(t *testing.T) {
	var sm ShardedMutex
	var counter int

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := sm.Lock("gig_abc")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
}

func TestShardedMutex_DistinctKeys(t *testing.T) {
	var sm ShardedMutex

	// Find a second key on a different shard so the goroutine below
	// cannot block on false sharing.
	first := shardIndex("gig_a")
	other := "gig_b"
	for i := 0; shardIndex(other) == first; i++ {
		other = "gig_b" + string(rune('0'+i))
	}

	unlockA := sm.Lock("gig_a")
	done := make(chan struct{})
	go func() {
		unlock := sm.Lock(other)
		unlock()
		close(done)
	}()
	<-done
	unlockA()
}
