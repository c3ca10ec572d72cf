package cuckoo

import (
	"math/bits"
	"time"
	"unsafe"
)

// ============================================================================
// Constants
// ============================================================================

// SlotsPerBucket is the number of key/value slots held by every bucket.
const SlotsPerBucket = 4

const (
	// occupiedMask has one bit per slot of a bucket.
	occupiedMask uint8 = 1<<SlotsPerBucket - 1

	// maxPathLen bounds the number of slot moves a single displacement
	// may perform. A search that cannot free a slot within this many
	// moves reports the table as full, which triggers a resize.
	maxPathLen = 5

	// maxSearchNodes bounds the breadth-first search queue. Every node
	// inspected costs one stripe acquisition.
	maxSearchNodes = 1 << 10

	// altMultiplier scatters the alternate bucket of a fingerprint.
	altMultiplier uint64 = 0xc6a4a7935bd1e995
)

// Sizing configuration
const (
	// defaultHashPower: log2 of the bucket count of a map created without
	// WithCapacity
	defaultHashPower = 5
	// maxStripePower: upper bound of the lock stripe count (log2)
	maxStripePower = 12
	// minStripesPerCPU: default stripe count is cpus * minStripesPerCPU
	minStripesPerCPU = 4
	// minDefaultStripes: lower bound of the default stripe count
	minDefaultStripes = 16
	// defaultMinLoadFactor: a displacement failure below this load factor
	// means the hash function is degenerate
	defaultMinLoadFactor = 0.05
	// minBucketsPerGoroutine: threshold for splitting a table in parallel
	minBucketsPerGoroutine = 1 << 12
	// resizeOverPartition: over-partition factor to reduce resize tail latency
	resizeOverPartition = 4
)

const intSize = 32 << (^uint(0) >> 63) // 32 or 64

// ============================================================================
// Utility Functions
// ============================================================================

// calcParallelism calculates the number of goroutines for parallel processing.
//
// Parameters:
//   - items: Number of items to process.
//   - threshold: Minimum threshold to enable parallel processing.
//   - number of available CPU cores
//
// Returns:
//   - chunkSz: Number of items processed per goroutine
//   - chunks: Suggested degree of parallelism (number of goroutines).
//
//go:nosplit
func calcParallelism(items, threshold, cpus int) (chunkSz, chunks int) {
	if items <= threshold || cpus <= 1 {
		return items, 1
	}

	chunks = min(items/threshold, cpus)

	chunkSz = (items + chunks - 1) / chunks

	return chunkSz, chunks
}

// calcHashPower computes log2 of the bucket count needed to hold capacity
// entries. Zero or negative capacities yield defaultHashPower.
//
//go:nosplit
func calcHashPower(capacity int) uint {
	if capacity <= 0 {
		return defaultHashPower
	}
	buckets := (capacity + SlotsPerBucket - 1) / SlotsPerBucket
	return uint(bits.Len(uint(nextPowOf2(buckets) - 1)))
}

// calcStripePower computes log2 of the lock stripe count. A non-positive
// request selects a default derived from the number of CPUs.
//
//go:nosplit
func calcStripePower(stripes, cpus int) uint {
	if stripes <= 0 {
		stripes = max(cpus*minStripesPerCPU, minDefaultStripes)
	}
	n := min(nextPowOf2(stripes), 1<<maxStripePower)
	return uint(bits.TrailingZeros(uint(n)))
}

// nextPowOf2 calculates the smallest power of 2 that is greater than or equal
// to n.
// Compatible with both 32-bit and 64-bit systems.
//
//go:nosplit
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
	if intSize == 64 {
		v |= v >> 32
	}
	return v + 1
}

// noescape hides a pointer from escape analysis. noescape is
// the identity function, but escape analysis doesn't think the
// output depends on the input.  noescape is inlined and currently
// compiles down to zero instructions.
// USE CAREFULLY!
//
//go:nosplit
//go:nocheckptr
func noescape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	//nolint:all
	//goland:noinspection ALL
	return unsafe.Pointer(x ^ 0)
}

//go:nosplit
//go:nocheckptr
func noEscape[T any](p *T) *T {
	return (*T)(noescape(unsafe.Pointer(p)))
}

// ============================================================================
// Locker Utilities
// ============================================================================

// noCopy may be added to structs which must not be copied
// after the first use.
//
// See https://golang.org/issues/8005#issuecomment-190753527
// for details.
//
// Note that it must not be embedded, due to the Lock and Unlock methods.
type noCopy struct{}

// Lock is a no-op used by -copylocks checker from `go vet`.
func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

func trySpin(spins *int) bool {
	if runtime_canSpin(*spins) {
		*spins++
		runtime_doSpin()
		return true
	}
	return false
}

func delay(spins *int) {
	if trySpin(spins) {
		return
	}
	*spins = 0
	// time.Sleep with non-zero duration (≈Millisecond level) works
	// effectively as backoff under high concurrency.
	// The 500µs duration is derived from Facebook/folly's implementation:
	// https://github.com/facebook/folly/blob/main/folly/synchronization/detail/Sleeper.h
	time.Sleep(500 * time.Microsecond)
}

// nolint:all
//
//go:linkname runtime_canSpin sync.runtime_canSpin
//goland:noinspection ALL
func runtime_canSpin(i int) bool

// nolint:all
//
//go:linkname runtime_doSpin sync.runtime_doSpin
//goland:noinspection ALL
func runtime_doSpin()

// ============================================================================
// Hash Utilities
// ============================================================================

type (
	// HashFunc is the function to hash a value of type K.
	HashFunc func(ptr unsafe.Pointer, seed uintptr) uintptr
	// EqualFunc is the function to compare two values of type K.
	EqualFunc func(ptr unsafe.Pointer, other unsafe.Pointer) bool
)

// defaultHasher returns Go's built-in hasher for K. Every key type, integers
// included, goes through the seeded runtime hasher: identity hashes of
// strided integer keys would pile into a handful of bucket pairs and force
// needless resizes.
func defaultHasher[K comparable]() HashFunc {
	return defaultHasherUsingBuiltIn[K]()
}

// defaultHasherUsingBuiltIn gets Go's built-in hash function for the
// specified type using the runtime map type descriptor.
//
// Notes:
//   - This implementation relies on Go's internal type representation
//   - It should be verified for compatibility with each Go version upgrade
func defaultHasherUsingBuiltIn[K comparable]() HashFunc {
	var m map[K]struct{}
	mapType := iTypeOf(m).MapType()
	return mapType.Hasher
}

type (
	iTFlag   uint8
	iKind    uint8
	iNameOff int32
)

// TypeOff is the offset to a type from moduledata.types.  See resolveTypeOff in
// runtime.
type iTypeOff int32

type iType struct {
	Size_       uintptr
	PtrBytes    uintptr // number of (prefix) bytes in the type that can contain pointers
	Hash        uint32  // hash of type; avoids computation in hash tables
	TFlag       iTFlag  // extra type information flags
	Align_      uint8   // alignment of variable with this type
	FieldAlign_ uint8   // alignment of struct field with this type
	Kind_       iKind   // enumeration for C
	// function for comparing objects of this type
	// (ptr to object A, ptr to object B) -> ==?
	Equal     func(unsafe.Pointer, unsafe.Pointer) bool
	GCData    *byte
	Str       iNameOff // string form
	PtrToThis iTypeOff // type for pointer to this type, may be zero
}

func (t *iType) MapType() *iMapType {
	return (*iMapType)(unsafe.Pointer(t))
}

type iMapType struct {
	iType
	Key   *iType
	Elem  *iType
	Group *iType // internal type representing a slot group
	// function for hashing keys (ptr to key, seed) -> hash
	Hasher func(unsafe.Pointer, uintptr) uintptr
}

func iTypeOf(a any) *iType {
	eface := *(*iEmptyInterface)(unsafe.Pointer(&a))
	// Types are either static (for compiler-created types) or
	// heap-allocated but always reachable (for reflection-created
	// types, held in the central map). So there is no need to
	// escape types. noescape here help avoid unnecessary escape
	// of v.
	return (*iType)(noescape(unsafe.Pointer(eface.Type)))
}

type iEmptyInterface struct {
	Type *iType
	Data unsafe.Pointer
}
