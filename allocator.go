package cuckoo

import (
	"sync/atomic"
	"unsafe"
)

// Allocator supplies the bucket arrays of a Map.
//
// Allocate must return a zeroed slice of exactly n buckets. Deallocate is
// called once the map no longer references an array, either because a
// resize replaced it or because the array was discarded during a rehash.
// Both methods may be called while every lock stripe of the map is held,
// so they must not call back into the map.
type Allocator[K comparable, V any] interface {
	Allocate(n int) []Bucket[K, V]
	Deallocate(buckets []Bucket[K, V])
}

// HeapAllocator allocates buckets from the Go heap and leaves reclamation
// to the garbage collector. It is the default Allocator.
type HeapAllocator[K comparable, V any] struct{}

func (HeapAllocator[K, V]) Allocate(n int) []Bucket[K, V] {
	return make([]Bucket[K, V], n)
}

func (HeapAllocator[K, V]) Deallocate([]Bucket[K, V]) {}

// TrackingAllocator wraps another Allocator and accounts for the bytes it
// hands out and takes back. It is safe for concurrent use.
type TrackingAllocator[K comparable, V any] struct {
	next      Allocator[K, V]
	allocated atomic.Int64
	freed     atomic.Int64
}

// NewTrackingAllocator returns a TrackingAllocator delegating to next, or
// to HeapAllocator when next is nil.
func NewTrackingAllocator[K comparable, V any](
	next Allocator[K, V],
) *TrackingAllocator[K, V] {
	if next == nil {
		next = HeapAllocator[K, V]{}
	}
	return &TrackingAllocator[K, V]{next: next}
}

func (a *TrackingAllocator[K, V]) Allocate(n int) []Bucket[K, V] {
	buckets := a.next.Allocate(n)
	a.allocated.Add(bucketBytes[K, V](len(buckets)))
	return buckets
}

func (a *TrackingAllocator[K, V]) Deallocate(buckets []Bucket[K, V]) {
	a.freed.Add(bucketBytes[K, V](len(buckets)))
	a.next.Deallocate(buckets)
}

// AllocatedBytes returns the cumulative number of bytes allocated.
func (a *TrackingAllocator[K, V]) AllocatedBytes() int64 {
	return a.allocated.Load()
}

// FreedBytes returns the cumulative number of bytes deallocated.
func (a *TrackingAllocator[K, V]) FreedBytes() int64 {
	return a.freed.Load()
}

// LiveBytes returns the number of bytes allocated and not yet freed.
func (a *TrackingAllocator[K, V]) LiveBytes() int64 {
	return a.allocated.Load() - a.freed.Load()
}

func bucketBytes[K comparable, V any](n int) int64 {
	return int64(n) * int64(unsafe.Sizeof(Bucket[K, V]{}))
}

func allocatorFromConfig[K comparable, V any](cfg *MapConfig) Allocator[K, V] {
	if cfg.allocator == nil {
		return HeapAllocator[K, V]{}
	}
	a, ok := cfg.allocator.(Allocator[K, V])
	if !ok {
		panic("cuckoo: WithAllocator type parameters do not match the map")
	}
	return a
}
