package cuckoo

import (
	"unsafe"
)

// ============================================================================
// Configuration
// ============================================================================

// MapConfig defines configurable options for Map initialization.
// This structure contains all the configuration parameters that can be used
// to customize the behavior and performance characteristics of a Map
// instance.
type MapConfig struct {
	// keyHash specifies a custom hash function for keys.
	// If nil, the built-in hash function will be used.
	keyHash HashFunc

	// keyEqual specifies a custom equality function for keys.
	// If nil, the == operator of the key type is used.
	// keyEqual must agree with keyHash: equal keys must hash equally.
	keyEqual EqualFunc

	// capacity provides an estimate of the expected number of entries.
	// The bucket array is preallocated to hold at least this many entries.
	// If zero or negative, the default capacity will be used.
	capacity int

	// stripes is the number of lock stripes. It is rounded up to a power
	// of two and never changes after construction. If zero or negative,
	// a default derived from GOMAXPROCS is used.
	stripes int

	// allocator provides bucket memory. It holds an Allocator[K, V] whose
	// type parameters must match the map's.
	allocator any

	// minLoadFactor is the load factor below which a failed displacement
	// is treated as a degenerate hash function instead of a full table.
	minLoadFactor    float64
	minLoadFactorSet bool

	// maxHashPower caps the bucket count at 1<<maxHashPower.
	// Zero means unlimited.
	maxHashPower uint
}

// WithCapacity configures a new Map instance with capacity enough
// to hold cap entries. If cap is zero or negative, the value
// is ignored.
func WithCapacity(cap int) func(*MapConfig) {
	return func(c *MapConfig) {
		c.capacity = cap
	}
}

// WithStripes sets the number of lock stripes. Each stripe guards a
// contiguous range of buckets; more stripes mean less contention between
// writers on different keys at the cost of a longer LockTable.
// The count is rounded up to a power of two and capped at 4096.
func WithStripes(stripes int) func(*MapConfig) {
	return func(c *MapConfig) {
		c.stripes = stripes
	}
}

// WithKeyHasher sets a custom key hashing function for the map.
// This allows you to optimize hash distribution for specific key types
// or implement custom hashing strategies.
//
// Parameters:
//   - keyHash: custom hash function that takes a key and seed,
//     returns hash value. Pass nil to use the default built-in hasher
//
// Usage:
//
//	m := NewMap[string, int](WithKeyHasher(XXHashString))
//
// Notes:
//   - Both candidate buckets and the slot fingerprint are derived from the
//     returned value, so all of its bits should be well mixed. A hasher
//     that maps many keys to the same value makes inserts panic with
//     ErrLoadFactorTooLow.
func WithKeyHasher[K comparable](
	keyHash func(key K, seed uintptr) uintptr,
) func(*MapConfig) {
	return func(c *MapConfig) {
		if keyHash != nil {
			c.keyHash = func(pointer unsafe.Pointer, u uintptr) uintptr {
				return keyHash(*(*K)(pointer), u)
			}
		}
	}
}

// WithKeyHasherUnsafe sets a low-level unsafe key hashing function.
// This is the high-performance version that operates directly on memory
// pointers. Use this when you need maximum performance and are comfortable with
// unsafe operations.
//
// Notes:
//   - You must correctly cast unsafe.Pointer to the actual key type
//   - Incorrect pointer operations will cause crashes or memory corruption
func WithKeyHasherUnsafe(hs HashFunc) func(*MapConfig) {
	return func(c *MapConfig) {
		c.keyHash = hs
	}
}

// WithBuiltInHasher returns a MapConfig option that explicitly sets the
// built-in hash function for the specified type.
//
// Usage:
//
//	m := NewMap[string, int](WithBuiltInHasher[string]())
func WithBuiltInHasher[T comparable]() func(*MapConfig) {
	return func(c *MapConfig) {
		c.keyHash = GetBuiltInHasher[T]()
	}
}

// GetBuiltInHasher returns Go's built-in hash function for the specified type.
// This function provides direct access to the same hash function that Go's
// built-in map uses internally.
func GetBuiltInHasher[T comparable]() HashFunc {
	return defaultHasherUsingBuiltIn[T]()
}

// WithKeyEqual sets a custom key equality function, replacing the ==
// comparison. Keys that compare equal must produce equal hashes.
//
// Usage:
//
//	fold := func(a, b string) bool { return strings.EqualFold(a, b) }
//	m := NewMap[string, int](WithKeyHasher(foldHash), WithKeyEqual(fold))
func WithKeyEqual[K comparable](
	keyEqual func(key, other K) bool,
) func(*MapConfig) {
	return func(c *MapConfig) {
		if keyEqual != nil {
			c.keyEqual = func(key unsafe.Pointer, other unsafe.Pointer) bool {
				return keyEqual(*(*K)(key), *(*K)(other))
			}
		}
	}
}

// WithKeyEqualUnsafe sets a low-level unsafe key equality function.
// Both pointers point to key data in memory.
func WithKeyEqualUnsafe(eq EqualFunc) func(*MapConfig) {
	return func(c *MapConfig) {
		c.keyEqual = eq
	}
}

// WithAllocator sets the source of bucket memory. The allocator's type
// parameters must match the map's, otherwise NewMap panics.
//
// Usage:
//
//	alloc := NewTrackingAllocator[uint64, uint64](nil)
//	m := NewMap[uint64, uint64](WithAllocator[uint64, uint64](alloc))
//	_ = alloc.LiveBytes()
func WithAllocator[K comparable, V any](a Allocator[K, V]) func(*MapConfig) {
	return func(c *MapConfig) {
		if a != nil {
			c.allocator = a
		}
	}
}

// WithMinLoadFactor sets the load factor below which a failed displacement
// panics with ErrLoadFactorTooLow instead of growing the table. The default
// is 0.05. Zero disables the check.
func WithMinLoadFactor(lf float64) func(*MapConfig) {
	return func(c *MapConfig) {
		c.minLoadFactor = lf
		c.minLoadFactorSet = true
	}
}

// WithMaxHashPower caps the bucket count at 1<<hp. Growing past the cap
// panics with ErrMaxHashPowerExceeded. Zero means unlimited.
func WithMaxHashPower(hp uint) func(*MapConfig) {
	return func(c *MapConfig) {
		c.maxHashPower = hp
	}
}

// IHashFunc defines a custom hash function interface for key types.
// Key types implementing this interface can provide their own hash computation,
// serving as an alternative to WithKeyHasher for type-specific optimization.
//
// This interface is automatically detected during Map initialization and
// takes precedence over the default built-in hasher but is overridden by
// explicit WithKeyHasher configuration.
//
// Usage:
//
//	type UserID struct {
//		ID int64
//		Tenant string
//	}
//
//	func (u *UserID) HashFunc(seed uintptr) uintptr {
//		return uintptr(u.ID) ^ seed
//	}
type IHashFunc interface {
	HashFunc(seed uintptr) uintptr
}

// IEqualFunc defines a custom equality comparison interface for key types.
// It takes precedence over the == operator but is overridden by an explicit
// WithKeyEqual configuration.
type IEqualFunc[T any] interface {
	EqualFunc(other T) bool
}

func parseKeyInterface[K comparable]() (keyHash HashFunc, keyEqual EqualFunc) {
	var k *K
	if _, ok := any(k).(IHashFunc); ok {
		keyHash = func(ptr unsafe.Pointer, seed uintptr) uintptr {
			return any((*K)(ptr)).(IHashFunc).HashFunc(seed)
		}
	}
	if _, ok := any(k).(IEqualFunc[K]); ok {
		keyEqual = func(ptr unsafe.Pointer, other unsafe.Pointer) bool {
			return any((*K)(ptr)).(IEqualFunc[K]).EqualFunc(*(*K)(other))
		}
	}
	return
}
