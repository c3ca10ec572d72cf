package cuckoo

import (
	"sync"
)

// cuckooStatus is the outcome of a displacement attempt.
type cuckooStatus uint8

const (
	// cuckooOK: a slot was freed in one of the candidate buckets, whose
	// stripes are held on return
	cuckooOK cuckooStatus = iota
	// cuckooRetry: a concurrent writer invalidated the path
	cuckooRetry
	// cuckooTableFull: no path within maxPathLen moves exists
	cuckooTableFull
	// cuckooTableChanged: a resize swapped the table
	cuckooTableChanged
)

// searchNode is a vertex of the displacement graph. The entry in slot of
// the parent's bucket can move to bucket; hash is the stored hash it had
// when the search inspected it.
type searchNode struct {
	bucket int
	hash   uintptr
	parent int32
	slot   int8
	depth  int8
}

var searchPool = sync.Pool{
	New: func() any {
		buf := make([]searchNode, 0, 64)
		return &buf
	},
}

// runCuckoo frees a slot in one of the candidate buckets i1, i2 by moving
// entries along a displacement path. The caller must not hold the stripes
// of i1 and i2 when calling (unless locked): displacement locks stripes in
// an order that only stays ascending when nothing else is held.
//
// On cuckooOK the stripes of i1 and i2 are held and returned; the freed slot
// may be taken by a concurrent writer between the final move and the
// caller's rescan, in which case the caller simply runs again.
func (m *Map[K, V]) runCuckoo(
	t *bucketArray[K, V],
	i1, i2 int,
	locked bool,
) (stripeSet, cuckooStatus) {
	bufp := searchPool.Get().(*[]searchNode)
	defer func() {
		*bufp = (*bufp)[:0]
		searchPool.Put(bufp)
	}()

	for {
		nodes, found, st := m.searchPath(t, i1, i2, (*bufp)[:0], locked)
		*bufp = nodes
		if st != cuckooOK {
			return stripeSet{}, st
		}
		held, st := m.movePath(t, i1, i2, nodes, found, locked)
		if st != cuckooRetry {
			return held, st
		}
		// the path went stale; search again from scratch
		if locked {
			// nothing runs concurrently, a stale path is impossible
			return stripeSet{}, cuckooTableFull
		}
	}
}

// searchPath runs a breadth-first search from i1 and i2 for a bucket with a
// free slot, at most maxPathLen moves away. It returns the node buffer and
// the index of the node whose bucket has a free slot.
//
// Only the stripe of the bucket being inspected is held at any time, so
// the discovered path is a snapshot and movePath re-validates every move.
func (m *Map[K, V]) searchPath(
	t *bucketArray[K, V],
	i1, i2 int,
	nodes []searchNode,
	locked bool,
) ([]searchNode, int, cuckooStatus) {
	nodes = append(nodes, searchNode{bucket: i1, parent: -1, slot: -1})
	if i2 != i1 {
		nodes = append(nodes, searchNode{bucket: i2, parent: -1, slot: -1})
	}

	for head := 0; head < len(nodes); head++ {
		n := nodes[head]
		ss, ok := m.lockOne(t, n.bucket, locked)
		if !ok {
			return nodes, -1, cuckooTableChanged
		}
		b := &t.buckets[n.bucket]
		if b.firstFree() >= 0 {
			m.release(ss)
			return nodes, head, cuckooOK
		}
		if int(n.depth) < maxPathLen {
			for s := 0; s < SlotsPerBucket; s++ {
				if len(nodes) >= maxSearchNodes {
					break
				}
				alt := t.alt(n.bucket, b.partials[s])
				if alt == n.bucket || onPath(nodes, head, alt) {
					continue
				}
				nodes = append(nodes, searchNode{
					bucket: alt,
					hash:   b.hashes[s],
					parent: int32(head),
					slot:   int8(s),
					depth:  n.depth + 1,
				})
			}
		}
		m.release(ss)
	}
	return nodes, -1, cuckooTableFull
}

// onPath reports whether bucket is visited by the path ending at node idx.
// Paths never revisit a bucket, which keeps every move of a path valid when
// it runs without concurrent writers.
func onPath(nodes []searchNode, idx int, bucket int) bool {
	for idx >= 0 {
		if nodes[idx].bucket == bucket {
			return true
		}
		idx = int(nodes[idx].parent)
	}
	return false
}

// movePath executes the path ending at node found, innermost move first.
// Every move locks the stripes of its two buckets and re-validates that the
// source slot still holds the entry seen during the search and that the
// destination still has a free slot.
//
// The last move (out of a candidate bucket) locks the stripes of i1, i2 and
// its destination together and keeps those of i1 and i2.
func (m *Map[K, V]) movePath(
	t *bucketArray[K, V],
	i1, i2 int,
	nodes []searchNode,
	found int,
	locked bool,
) (stripeSet, cuckooStatus) {
	keep := t.stripesOf(i1, i2)

	for idx := found; ; {
		n := nodes[idx]
		if n.parent < 0 {
			// a candidate bucket had room already
			held, ok := m.lockTwo(t, i1, i2, locked)
			if !ok {
				return stripeSet{}, cuckooTableChanged
			}
			return held, cuckooOK
		}

		src := nodes[n.parent].bucket
		final := nodes[n.parent].parent < 0
		var held stripeSet
		var ok bool
		if final {
			held, ok = m.lockThree(t, i1, i2, n.bucket, locked)
		} else {
			held, ok = m.lockTwo(t, src, n.bucket, locked)
		}
		if !ok {
			return stripeSet{}, cuckooTableChanged
		}

		sb, db := &t.buckets[src], &t.buckets[n.bucket]
		s := int(n.slot)
		if sb.isOccupied(s) {
			d := db.firstFree()
			if sb.hashes[s] != n.hash || d < 0 {
				m.release(held)
				return stripeSet{}, cuckooRetry
			}
			db.moveSlot(d, sb, s)
			if t.stripeOf(src) != t.stripeOf(n.bucket) {
				m.addCount(t, src, -1)
				m.addCount(t, n.bucket, 1)
			}
		}
		// an emptied source slot means someone else freed it for us

		if final {
			if !locked {
				m.releaseExcept(held, keep)
			}
			return keep.heldIf(!locked), cuckooOK
		}
		m.release(held)
		idx = int(n.parent)
	}
}

// heldIf returns ss when cond holds and the empty set otherwise.
//
//go:nosplit
func (ss stripeSet) heldIf(cond bool) stripeSet {
	if cond {
		return ss
	}
	return stripeSet{}
}
