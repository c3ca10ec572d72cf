package cuckoo

import (
	"sync/atomic"
	"unsafe"

	"github.com/llxisdsh/cuckoo/internal/opt"
)

// stripe is a spin lock guarding a contiguous range of buckets, together
// with the number of entries stored in that range. The counter is written
// only while the lock is held and read atomically by Size.
type stripe struct {
	state uint32
	count uintptr
	_     [(opt.CacheLineSize_ - unsafe.Sizeof(struct {
		state uint32
		count uintptr
	}{})%opt.CacheLineSize_) % opt.CacheLineSize_ * opt.PaddingMult_]byte
}

// Lock acquires the stripe. Uses an optimistic CAS with fallback to
// spinning and sleeping.
func (s *stripe) Lock() {
	if atomic.CompareAndSwapUint32(&s.state, 0, 1) {
		return
	}
	s.slowLock()
}

func (s *stripe) slowLock() {
	var spins int
	for !s.tryLock() {
		delay(&spins)
	}
}

//go:nosplit
func (s *stripe) tryLock() bool {
	return atomic.LoadUint32(&s.state) == 0 &&
		atomic.CompareAndSwapUint32(&s.state, 0, 1)
}

//go:nosplit
func (s *stripe) Unlock() {
	atomic.StoreUint32(&s.state, 0)
}

//go:nosplit
func (s *stripe) add(delta int) {
	atomic.AddUintptr(&s.count, uintptr(delta))
}

//go:nosplit
func (s *stripe) load() int {
	return int(atomic.LoadUintptr(&s.count))
}

// stripeSet is a set of up to three distinct stripe indices in ascending
// order. Operations acquire the stripes of a set in that order: ascending
// stripe order is the only rule preventing deadlock between two-bucket
// operations, displacement, resize and LockTable.
type stripeSet struct {
	idx [3]int
	n   int
}

// add inserts stripe i keeping the set sorted and free of duplicates.
//
//go:nosplit
func (ss *stripeSet) add(i int) {
	j := ss.n
	for j > 0 && ss.idx[j-1] >= i {
		if ss.idx[j-1] == i {
			// already present; undo the shift
			copy(ss.idx[j:ss.n], ss.idx[j+1:ss.n+1])
			return
		}
		ss.idx[j] = ss.idx[j-1]
		j--
	}
	ss.idx[j] = i
	ss.n++
}

//go:nosplit
func (ss *stripeSet) has(i int) bool {
	for k := 0; k < ss.n; k++ {
		if ss.idx[k] == i {
			return true
		}
	}
	return false
}

// stripesOf returns the stripes covering buckets a and b.
func (t *bucketArray[K, V]) stripesOf(a, b int) stripeSet {
	var ss stripeSet
	ss.add(t.stripeOf(a))
	ss.add(t.stripeOf(b))
	return ss
}

// acquire locks the stripes of ss in ascending order and verifies that t is
// still the current table. When a resize swapped the table before the locks
// were obtained, everything is released and false is returned.
//
// With locked set the caller already holds every stripe (LockTable, resize);
// nothing is acquired and an empty set is returned.
func (m *Map[K, V]) acquire(
	t *bucketArray[K, V],
	ss stripeSet,
	locked bool,
) (stripeSet, bool) {
	if locked {
		return stripeSet{}, true
	}
	for k := 0; k < ss.n; k++ {
		m.stripes[ss.idx[k]].Lock()
	}
	if m.table.Load() != t {
		m.release(ss)
		return stripeSet{}, false
	}
	return ss, true
}

func (m *Map[K, V]) lockOne(
	t *bucketArray[K, V],
	i int,
	locked bool,
) (stripeSet, bool) {
	var ss stripeSet
	ss.add(t.stripeOf(i))
	return m.acquire(t, ss, locked)
}

func (m *Map[K, V]) lockTwo(
	t *bucketArray[K, V],
	i1, i2 int,
	locked bool,
) (stripeSet, bool) {
	return m.acquire(t, t.stripesOf(i1, i2), locked)
}

func (m *Map[K, V]) lockThree(
	t *bucketArray[K, V],
	i1, i2, i3 int,
	locked bool,
) (stripeSet, bool) {
	ss := t.stripesOf(i1, i2)
	ss.add(t.stripeOf(i3))
	return m.acquire(t, ss, locked)
}

// release unlocks every stripe of ss.
func (m *Map[K, V]) release(ss stripeSet) {
	for k := 0; k < ss.n; k++ {
		m.stripes[ss.idx[k]].Unlock()
	}
}

// releaseExcept unlocks the stripes of held that are not part of keep.
// Releasing in any order is safe; only acquisition order matters.
func (m *Map[K, V]) releaseExcept(held, keep stripeSet) {
	for k := 0; k < held.n; k++ {
		if !keep.has(held.idx[k]) {
			m.stripes[held.idx[k]].Unlock()
		}
	}
}

// lockAll acquires every stripe in ascending order.
func (m *Map[K, V]) lockAll() {
	for i := range m.stripes {
		m.stripes[i].Lock()
	}
}

func (m *Map[K, V]) unlockAll() {
	for i := range m.stripes {
		m.stripes[i].Unlock()
	}
}

// addCount adjusts the entry counter of the stripe covering bucket i.
// The stripe must be held.
//
//go:nosplit
func (m *Map[K, V]) addCount(t *bucketArray[K, V], i, delta int) {
	m.stripes[t.stripeOf(i)].add(delta)
}

// sumCount returns the number of entries over all stripes.
func (m *Map[K, V]) sumCount() int {
	var sum int
	for i := range m.stripes {
		sum += m.stripes[i].load()
	}
	return sum
}

// recount rebuilds the stripe counters for t. Every stripe must be held.
func (m *Map[K, V]) recount(t *bucketArray[K, V]) {
	span := 1 << t.stripeShift
	for i := range m.stripes {
		n := 0
		for _, b := range t.buckets[i*span : (i+1)*span] {
			n += b.len()
		}
		atomic.StoreUintptr(&m.stripes[i].count, uintptr(n))
	}
}
