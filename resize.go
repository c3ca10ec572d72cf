package cuckoo

import (
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrLoadFactorTooLow is the panic value (wrapped) raised when
	// displacement fails while the table is still nearly empty. It almost
	// always means the hash function maps many keys to the same value.
	ErrLoadFactorTooLow = errors.New(
		"cuckoo: automatic expansion triggered when load factor was below minimum threshold")

	// ErrMaxHashPowerExceeded is the panic value (wrapped) raised when a
	// resize would grow the table past WithMaxHashPower.
	ErrMaxHashPowerExceeded = errors.New(
		"cuckoo: expansion beyond the maximum hash power")
)

// grow doubles the table after a displacement on t found no path.
//
// Every stripe is taken in ascending order unless the caller already holds
// them. If another writer replaced t in the meantime there is nothing left
// to do; the caller retries against the new table.
func (m *Map[K, V]) grow(t *bucketArray[K, V], locked bool) {
	if !locked {
		m.lockAll()
		// released before a limit panic reaches the caller
		defer m.unlockAll()
		if m.table.Load() != t {
			return
		}
	}
	if lf := m.loadFactorOf(t); lf < m.minLoadFactor {
		panic(fmt.Errorf("%w: load factor %.4f < %.4f at hash power %d",
			ErrLoadFactorTooLow, lf, m.minLoadFactor, t.hashPower))
	}
	m.rehashLocked(t, t.hashPower+1)
}

// rehashLocked replaces t with a table of 1<<hp buckets holding the same
// entries. Every stripe must be held.
//
// Doubling splits every old bucket into two new ones and never fails.
// Larger jumps reinsert every entry, using bounded displacement on the
// private new table; should that fail, the hash power is bumped and the
// rehash starts over.
func (m *Map[K, V]) rehashLocked(t *bucketArray[K, V], hp uint) {
	var nt *bucketArray[K, V]
	for {
		if m.maxHashPower != 0 && hp > m.maxHashPower {
			// a failed reinsert may have moved counts between stripes
			m.recount(t)
			panic(fmt.Errorf("%w: %d > %d",
				ErrMaxHashPowerExceeded, hp, m.maxHashPower))
		}
		nt = newBucketArray(m.alloc, hp, m.stripePower)

		var err error
		if hp == t.hashPower+1 {
			err = m.splitInto(t, nt)
		} else {
			err = m.reinsertInto(t, nt)
		}
		if err == nil {
			break
		}
		m.alloc.Deallocate(nt.buckets)
		hp++
	}

	m.recount(nt)
	m.table.Store(nt)
	m.alloc.Deallocate(t.buckets)
	m.growths.Add(1)
}

// splitInto moves every entry of t into nt, which has twice as many
// buckets. An entry of old bucket b lands in new bucket b or b+len(t), in
// the same role (primary or alternate) it had, so the new buckets fed by
// b receive at most the SlotsPerBucket entries b had. Disjoint ranges of
// old buckets write disjoint new buckets and are split in parallel.
func (m *Map[K, V]) splitInto(t, nt *bucketArray[K, V]) error {
	n := len(t.buckets)
	chunkSz, chunks := calcParallelism(
		n, minBucketsPerGoroutine, runtime.GOMAXPROCS(0)*resizeOverPartition)
	if chunks == 1 {
		return splitRange(t, nt, 0, n)
	}

	var g errgroup.Group
	for c := 0; c < chunks; c++ {
		start := c * chunkSz
		end := min(start+chunkSz, n)
		g.Go(func() error {
			return splitRange(t, nt, start, end)
		})
	}
	return g.Wait()
}

func splitRange[K comparable, V any](
	t, nt *bucketArray[K, V],
	start, end int,
) error {
	for i := start; i < end; i++ {
		b := &t.buckets[i]
		for occ := b.occupied; occ != 0; occ &= occ - 1 {
			s := trailingSlot(occ)
			h, p := b.hashes[s], b.partials[s]
			dst := int(h & nt.mask)
			if int(h&t.mask) != i {
				dst = nt.alt(dst, p)
			}
			db := &nt.buckets[dst]
			d := db.firstFree()
			if d < 0 {
				return fmt.Errorf("cuckoo: split overflow in bucket %d", dst)
			}
			db.copySlot(d, b, s)
		}
	}
	return nil
}

// reinsertInto inserts every entry of t into nt with the insertion path of
// the map, displacement included. Nothing else can see nt yet, so it runs
// in locked mode.
func (m *Map[K, V]) reinsertInto(t, nt *bucketArray[K, V]) error {
	for i := range t.buckets {
		b := &t.buckets[i]
		for occ := b.occupied; occ != 0; occ &= occ - 1 {
			s := trailingSlot(occ)
			h, p := b.hashes[s], b.partials[s]
			_, pos, st := m.findInsertPos(nt, h, p, nil, true)
			if st != insertOK {
				return fmt.Errorf("cuckoo: reinsert failed at hash power %d",
					nt.hashPower)
			}
			nt.buckets[pos.bucket].copySlot(pos.slot, b, s)
		}
	}
	return nil
}

// clearLocked empties the current table, keeping its size. Every stripe
// must be held.
func (m *Map[K, V]) clearLocked() {
	t := m.table.Load()
	clear(t.buckets)
	m.recount(t)
}

// reserveLocked grows the table so it holds at least n entries without
// resizing. Every stripe must be held.
func (m *Map[K, V]) reserveLocked(n int) bool {
	t := m.table.Load()
	hp := calcHashPower(n)
	if hp <= t.hashPower {
		return false
	}
	m.rehashLocked(t, hp)
	return true
}

// Clear removes every entry. The bucket array keeps its size.
func (m *Map[K, V]) Clear() {
	if m.table.Load() == nil {
		return
	}
	m.lockAll()
	defer m.unlockAll()
	m.clearLocked()
}

// Reserve grows the table so that it can hold at least n entries. It
// reports whether the table was resized; it never shrinks.
func (m *Map[K, V]) Reserve(n int) bool {
	if m.table.Load() == nil {
		m.slowInit()
	}
	m.lockAll()
	defer m.unlockAll()
	return m.reserveLocked(n)
}
