package benchmark

import (
	"math/bits"
	"math/rand/v2"
	"sync"
	"unsafe"

	"github.com/llxisdsh/pb"
)

// RWLockShardedMap is a map split into shards, each guarded by its own
// RWMutex. It is the simplest lock-striped design and the baseline the
// cuckoo map has to beat.
type RWLockShardedMap[K comparable, V any] struct {
	shards    []shard[K, V]
	shardMask uintptr
	hashFunc  pb.HashFunc
	seed      uintptr
}

type shard[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

// NewRWLockShardedMap returns a map with shardCnt shards rounded up to a
// power of two.
func NewRWLockShardedMap[K comparable, V any](
	shardCnt int,
) *RWLockShardedMap[K, V] {
	shardCnt = nextPowOf2(shardCnt)
	shards := make([]shard[K, V], shardCnt)
	for i := range shards {
		shards[i] = shard[K, V]{m: make(map[K]V)}
	}
	return &RWLockShardedMap[K, V]{
		shards:    shards,
		shardMask: uintptr(shardCnt) - 1,
		hashFunc:  pb.GetBuiltInHasher[K](),
		seed:      uintptr(rand.Uint64()),
	}
}

//go:nosplit
func noescape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}

func nextPowOf2(n int) int {
	if n <= 0 {
		return 1
	}
	v := n - 1
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	if bits.UintSize >= 64 {
		v |= v >> 32
	}
	return v + 1
}

func (sm *RWLockShardedMap[K, V]) shardOf(key K) *shard[K, V] {
	h := sm.hashFunc(noescape(unsafe.Pointer(&key)), sm.seed)
	return &sm.shards[h&sm.shardMask]
}

func (sm *RWLockShardedMap[K, V]) Load(key K) (V, bool) {
	s := sm.shardOf(key)
	s.mu.RLock()
	v, ok := s.m[key]
	s.mu.RUnlock()
	return v, ok
}

func (sm *RWLockShardedMap[K, V]) Store(key K, value V) {
	s := sm.shardOf(key)
	s.mu.Lock()
	s.m[key] = value
	s.mu.Unlock()
}

// LoadOrStore stores value if key is absent. It returns the value in the
// map and whether it was already there.
func (sm *RWLockShardedMap[K, V]) LoadOrStore(key K, value V) (V, bool) {
	s := sm.shardOf(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.m[key]; ok {
		return v, true
	}
	s.m[key] = value
	return value, false
}

// Upsert applies fn to the value of key under the shard's write lock, or
// stores value if key is absent.
func (sm *RWLockShardedMap[K, V]) Upsert(key K, fn func(*V), value V) {
	s := sm.shardOf(key)
	s.mu.Lock()
	if v, ok := s.m[key]; ok {
		fn(&v)
		s.m[key] = v
	} else {
		s.m[key] = value
	}
	s.mu.Unlock()
}

func (sm *RWLockShardedMap[K, V]) Delete(key K) {
	s := sm.shardOf(key)
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
}

// Range calls f for every entry, one shard at a time. The result is not a
// snapshot of the whole map.
func (sm *RWLockShardedMap[K, V]) Range(f func(K, V) bool) {
	for i := range sm.shards {
		s := &sm.shards[i]
		s.mu.RLock()
		for k, v := range s.m {
			if !f(k, v) {
				s.mu.RUnlock()
				return
			}
		}
		s.mu.RUnlock()
	}
}

func (sm *RWLockShardedMap[K, V]) Size() int {
	size := 0
	for i := range sm.shards {
		s := &sm.shards[i]
		s.mu.RLock()
		size += len(s.m)
		s.mu.RUnlock()
	}
	return size
}
