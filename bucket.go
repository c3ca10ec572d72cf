package cuckoo

import (
	"math/bits"
)

// Bucket is the unit of storage handed out by an Allocator. It holds
// SlotsPerBucket key/value slots; its fields are owned by the Map and are
// only touched while the stripe covering the bucket is held.
type Bucket[K comparable, V any] struct {
	// occupied has bit s set when slot s holds an entry
	occupied uint8
	partials [SlotsPerBucket]uint8
	// hashes keeps the full hash of every entry so that displacement and
	// resize never hash key material again
	hashes [SlotsPerBucket]uintptr
	keys   [SlotsPerBucket]K
	values [SlotsPerBucket]V
}

//go:nosplit
func (b *Bucket[K, V]) isOccupied(s int) bool {
	return b.occupied&(1<<s) != 0
}

// firstFree returns the lowest free slot, or -1 when the bucket is full.
//
//go:nosplit
func (b *Bucket[K, V]) firstFree() int {
	free := ^b.occupied & occupiedMask
	if free == 0 {
		return -1
	}
	return bits.TrailingZeros8(free)
}

//go:nosplit
func trailingSlot(occ uint8) int {
	return bits.TrailingZeros8(occ)
}

//go:nosplit
func (b *Bucket[K, V]) len() int {
	return bits.OnesCount8(b.occupied)
}

func (b *Bucket[K, V]) setSlot(s int, hash uintptr, partial uint8, key K, value V) {
	b.hashes[s] = hash
	b.partials[s] = partial
	b.keys[s] = key
	b.values[s] = value
	b.occupied |= 1 << s
}

// clearSlot empties slot s, dropping references held by its key and value.
func (b *Bucket[K, V]) clearSlot(s int) {
	b.occupied &^= 1 << s
	b.keys[s] = *new(K)
	b.values[s] = *new(V)
}

// copySlot copies slot s of src into free slot d of b.
func (b *Bucket[K, V]) copySlot(d int, src *Bucket[K, V], s int) {
	b.setSlot(d, src.hashes[s], src.partials[s], src.keys[s], src.values[s])
}

// moveSlot moves slot s of src into free slot d of b.
func (b *Bucket[K, V]) moveSlot(d int, src *Bucket[K, V], s int) {
	b.copySlot(d, src, s)
	src.clearSlot(s)
}

// findSlot returns the slot holding key, or -1.
func (m *Map[K, V]) findSlot(
	b *Bucket[K, V],
	hash uintptr,
	partial uint8,
	key *K,
) int {
	for occ := b.occupied; occ != 0; occ &= occ - 1 {
		s := trailingSlot(occ)
		if b.partials[s] == partial && b.hashes[s] == hash &&
			m.keyEq(&b.keys[s], key) {
			return s
		}
	}
	return -1
}

// bucketArray is one generation of the table's storage. A resize builds a
// new bucketArray and swaps it in while every stripe is held; an array is
// never resized in place.
type bucketArray[K comparable, V any] struct {
	buckets   []Bucket[K, V]
	hashPower uint
	mask      uintptr
	// stripeShift maps a bucket index to its stripe: i >> stripeShift.
	// Stripes cover contiguous ranges of 1<<stripeShift buckets, so
	// ascending bucket order is ascending stripe order.
	stripeShift uint
}

func newBucketArray[K comparable, V any](
	alloc Allocator[K, V],
	hashPower, stripePower uint,
) *bucketArray[K, V] {
	n := 1 << hashPower
	buckets := alloc.Allocate(n)
	if len(buckets) != n {
		panic("cuckoo: allocator returned a bucket array of the wrong length")
	}
	return &bucketArray[K, V]{
		buckets:     buckets,
		hashPower:   hashPower,
		mask:        hashMask(hashPower),
		stripeShift: hashPower - stripePower,
	}
}

// indices returns both candidate buckets of a hash.
//
//go:nosplit
func (t *bucketArray[K, V]) indices(hash uintptr, partial uint8) (int, int) {
	i1 := indexHash(t.hashPower, hash)
	return i1, altIndex(t.hashPower, partial, i1)
}

//go:nosplit
func (t *bucketArray[K, V]) alt(index int, partial uint8) int {
	return altIndex(t.hashPower, partial, index)
}

//go:nosplit
func (t *bucketArray[K, V]) stripeOf(index int) int {
	return index >> t.stripeShift
}

//go:nosplit
func (t *bucketArray[K, V]) capacity() int {
	return len(t.buckets) * SlotsPerBucket
}

// lookup finds key in its candidate buckets i1 and i2. It returns the
// bucket and slot, or (-1, -1).
func (m *Map[K, V]) lookup(
	t *bucketArray[K, V],
	i1, i2 int,
	hash uintptr,
	partial uint8,
	key *K,
) (int, int) {
	if s := m.findSlot(&t.buckets[i1], hash, partial, key); s >= 0 {
		return i1, s
	}
	if i2 != i1 {
		if s := m.findSlot(&t.buckets[i2], hash, partial, key); s >= 0 {
			return i2, s
		}
	}
	return -1, -1
}
