// Package syncutil provides keyed locking primitives used to serialize
// multi-entity transitions on a single gig.
package syncutil

import (
	"hash/fnv"
	"sync"
)

const shardCount = 256

// ShardedMutex is a fixed pool of mutexes addressed by string key. Memory
// stays bounded no matter how many gig IDs pass through; two keys hashing
// to the same shard occasionally contend, which is harmless here.
//
// The zero value is ready to use.
type ShardedMutex struct {
	shards [shardCount]sync.Mutex
}

// Lock acquires the shard for key and returns its unlock function:
//
//	defer locks.Lock(gigID)()
func (s *ShardedMutex) Lock(key string) func() {
	mu := &s.shards[shardIndex(key)]
	mu.Lock()
	return mu.Unlock
}

func shardIndex(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
