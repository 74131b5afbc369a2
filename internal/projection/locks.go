// internal/projection/locks.go
package projection

import (
	"hash/fnv"
	"sync"
)

// keyLocks serializes read-modify-write cycles per entity identifier. A
// fixed pool of mutexes indexed by an FNV-1a hash of the id keeps events
// for unrelated identifiers independent without unbounded lock growth;
// hash collisions cost extra serialization, never correctness.
type keyLocks struct {
	shards [64]sync.Mutex
}

func (l *keyLocks) lock(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	m := &l.shards[h.Sum32()%uint32(len(l.shards))]
	m.Lock()
	return m
}
