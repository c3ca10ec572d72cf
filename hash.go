package cuckoo

import (
	"github.com/cespare/xxhash/v2"
)

// partialKey folds every byte of a hash into the 8-bit fingerprint stored
// next to each slot. Comparing fingerprints rejects most non-matching slots
// without touching key memory.
//
//go:nosplit
func partialKey(h uintptr) uint8 {
	h64 := uint64(h)
	h32 := uint32(h64) ^ uint32(h64>>32)
	h16 := uint16(h32) ^ uint16(h32>>16)
	return uint8(h16) ^ uint8(h16>>8)
}

// hashMask returns the bucket index mask of a table with 1<<hp buckets.
//
//go:nosplit
func hashMask(hp uint) uintptr {
	return uintptr(1)<<hp - 1
}

// indexHash returns the primary bucket of a hash.
//
//go:nosplit
func indexHash(hp uint, h uintptr) int {
	return int(h & hashMask(hp))
}

// altIndex returns the other candidate bucket of an entry with fingerprint
// partial that currently lives in bucket index. It is an involution:
// altIndex(hp, p, altIndex(hp, p, i)) == i, so either candidate bucket can
// be derived from the other without the key. Since the primary bucket is a
// mask of the full hash, both candidates for any table size follow from the
// stored hash alone.
//
//go:nosplit
func altIndex(hp uint, partial uint8, index int) int {
	// ensure tag is nonzero for the multiply
	tag := uint64(partial) + 1
	return int((uint64(index) ^ tag*altMultiplier) & uint64(hashMask(hp)))
}

// XXHashString hashes string keys with xxHash64. It is a drop-in hasher for
// WithKeyHasher on string keyed maps:
//
//	m := NewMap[string, int](WithKeyHasher(XXHashString))
func XXHashString(key string, seed uintptr) uintptr {
	var d xxhash.Digest
	d.ResetWithSeed(uint64(seed))
	_, _ = d.WriteString(key)
	return uintptr(d.Sum64())
}
