package cuckoo

import (
	"iter"
)

// LockedTable is exclusive access to a Map. It holds every lock stripe from
// LockTable until Unlock, so while it is active no other goroutine can read
// or write the map, and its operations run without further locking.
//
// A LockedTable must be used by one goroutine at a time. Mutations made
// through it are the map's mutations and are visible to everyone once
// Unlock returns.
//
// Notes:
//   - Calling methods of the underlying Map from the goroutine holding the
//     view deadlocks, as does taking a second view of the same Map.
//   - Every method except Unlock and IsActive panics after Unlock.
//   - Iterators from All and Range panic when resumed after an Insert,
//     Erase, Clear, Reserve or DeleteFunc made through the view.
type LockedTable[K comparable, V any] struct {
	m      *Map[K, V]
	active bool
	// epoch counts structural mutations made through the view
	epoch uint64
}

// LockTable acquires every lock stripe in ascending order and returns a
// view of the whole map. The caller must call Unlock.
//
// Usage:
//
//	lt := m.LockTable()
//	defer lt.Unlock()
//	for k, v := range lt.All() {
//		...
//	}
func (m *Map[K, V]) LockTable() *LockedTable[K, V] {
	if m.table.Load() == nil {
		m.slowInit()
	}
	m.lockAll()
	return &LockedTable[K, V]{m: m, active: true}
}

// Unlock releases every stripe. Calling Unlock more than once is a no-op.
func (lt *LockedTable[K, V]) Unlock() {
	if !lt.active {
		return
	}
	lt.active = false
	lt.m.unlockAll()
}

// IsActive reports whether the view still holds the map.
func (lt *LockedTable[K, V]) IsActive() bool {
	return lt.active
}

func (lt *LockedTable[K, V]) check() {
	if !lt.active {
		panic("cuckoo: LockedTable used after Unlock")
	}
}

func (lt *LockedTable[K, V]) mutated() {
	lt.epoch++
}

// Size returns the exact number of entries.
func (lt *LockedTable[K, V]) Size() int {
	lt.check()
	return lt.m.sumCount()
}

// Capacity returns the number of slots of the current bucket array.
func (lt *LockedTable[K, V]) Capacity() int {
	lt.check()
	return lt.m.table.Load().capacity()
}

// HashPower returns log2 of the bucket count.
func (lt *LockedTable[K, V]) HashPower() uint {
	lt.check()
	return lt.m.table.Load().hashPower
}

// Find returns the value stored for key.
func (lt *LockedTable[K, V]) Find(key K) (V, bool) {
	lt.check()
	return lt.m.findEntry(&key, true)
}

// Contains reports whether key is present.
func (lt *LockedTable[K, V]) Contains(key K) bool {
	_, ok := lt.Find(key)
	return ok
}

// Insert stores value under key if key is absent. The table grows inline
// when needed.
func (lt *LockedTable[K, V]) Insert(key K, value V) bool {
	lt.check()
	hash, partial := lt.m.hashKey(&key)
	if !lt.m.insertEntry(&key, hash, partial, nil, value, true) {
		return false
	}
	lt.mutated()
	return true
}

// InsertOrAssign stores value under key, replacing any existing value. It
// reports whether a new entry was inserted.
func (lt *LockedTable[K, V]) InsertOrAssign(key K, value V) bool {
	lt.check()
	hash, partial := lt.m.hashKey(&key)
	if !lt.m.insertEntry(&key, hash, partial, func(v *V) { *v = value },
		value, true) {
		return false
	}
	lt.mutated()
	return true
}

// Upsert applies fn to the value of key if present and stores value under
// key otherwise. It reports whether a new entry was inserted.
func (lt *LockedTable[K, V]) Upsert(key K, fn func(value *V), value V) bool {
	lt.check()
	hash, partial := lt.m.hashKey(&key)
	if !lt.m.insertEntry(&key, hash, partial, fn, value, true) {
		return false
	}
	lt.mutated()
	return true
}

// TryUpsert applies fn to the value of key if present. It reports whether
// key was present.
func (lt *LockedTable[K, V]) TryUpsert(key K, fn func(value *V)) bool {
	lt.check()
	return lt.m.updateEntry(&key, fn, true)
}

// Erase removes key. It reports whether key was present.
func (lt *LockedTable[K, V]) Erase(key K) bool {
	lt.check()
	if !lt.m.eraseEntry(&key, true) {
		return false
	}
	lt.mutated()
	return true
}

// Clear removes every entry, keeping the bucket array.
func (lt *LockedTable[K, V]) Clear() {
	lt.check()
	lt.m.clearLocked()
	lt.mutated()
}

// Reserve grows the table so that it can hold at least n entries. It
// reports whether the table was resized.
func (lt *LockedTable[K, V]) Reserve(n int) bool {
	lt.check()
	if !lt.m.reserveLocked(n) {
		return false
	}
	lt.mutated()
	return true
}

// All returns an iterator over every entry, in bucket then slot order.
func (lt *LockedTable[K, V]) All() iter.Seq2[K, V] {
	lt.check()
	return func(yield func(K, V) bool) {
		lt.rangeSlots(func(b *Bucket[K, V], s int) bool {
			return yield(b.keys[s], b.values[s])
		})
	}
}

// Range calls fn for every entry with a pointer to its value, which fn may
// modify in place. Iteration stops when fn returns false.
func (lt *LockedTable[K, V]) Range(fn func(key K, value *V) bool) {
	lt.check()
	lt.rangeSlots(func(b *Bucket[K, V], s int) bool {
		return fn(b.keys[s], &b.values[s])
	})
}

// rangeSlots walks the occupied slots of the current table. The iteration
// is bound to the epoch at its start.
func (lt *LockedTable[K, V]) rangeSlots(
	yield func(b *Bucket[K, V], s int) bool,
) {
	lt.check()
	epoch := lt.epoch
	table := lt.m.table.Load()
	for i := range table.buckets {
		b := &table.buckets[i]
		for occ := b.occupied; occ != 0; occ &= occ - 1 {
			if !yield(b, trailingSlot(occ)) {
				return
			}
			lt.check()
			if lt.epoch != epoch {
				panic("cuckoo: LockedTable iterator resumed after the table was modified")
			}
		}
	}
}

// DeleteFunc removes every entry for which del returns true and returns the
// number of removed entries.
func (lt *LockedTable[K, V]) DeleteFunc(del func(key K, value V) bool) int {
	lt.check()
	m := lt.m
	table := m.table.Load()
	var n int
	for i := range table.buckets {
		b := &table.buckets[i]
		for occ := b.occupied; occ != 0; occ &= occ - 1 {
			s := trailingSlot(occ)
			if del(b.keys[s], b.values[s]) {
				b.clearSlot(s)
				m.addCount(table, i, -1)
				n++
			}
		}
	}
	if n != 0 {
		lt.mutated()
	}
	return n
}

// ToMap copies every entry into a new built-in map.
func (lt *LockedTable[K, V]) ToMap() map[K]V {
	lt.check()
	a := make(map[K]V, lt.m.sumCount())
	for k, v := range lt.All() {
		a[k] = v
	}
	return a
}
