package cuckoo

import (
	"fmt"
	"math/rand/v2"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"unsafe"
)

// Map is a concurrent hash table using cuckoo hashing with lock striping.
//
// Every key lives in one of two candidate buckets. Per-key operations take
// the (at most two) stripe locks covering those buckets; inserting into a
// pair of full buckets moves entries along a short displacement path, and a
// table with no such path is doubled while every stripe is held.
//
// Core properties:
//   - Reads and writes take the same stripe locks; no operation observes a
//     partially applied update
//   - Upsert runs its combiner in place while the key's stripes are held
//   - LockTable yields exclusive whole-table access for iteration and bulk
//     mutation
//   - Zero-value ready with lazy initialization
//
// Usage recommendations:
//   - Direct declaration: var m Map[string, int]
//   - Pre-allocate capacity: NewMap[string, int](WithCapacity(1000))
//
// Notes:
//   - Map must not be copied after first use.
//   - A goroutine holding a LockedTable must not call methods of the same
//     Map; they would wait for the stripes the view holds.
type Map[K comparable, V any] struct {
	_           noCopy
	table       atomic.Pointer[bucketArray[K, V]]
	initMu      sync.Mutex
	stripes     []stripe
	stripePower uint
	growths     atomic.Uint32
	seed        uintptr
	keyHash     HashFunc  // WithKeyHasher
	keyEqual    EqualFunc // WithKeyEqual, nil means ==
	alloc       Allocator[K, V]
	// WithMinLoadFactor
	minLoadFactor float64
	// WithMaxHashPower
	maxHashPower uint
}

// NewMap creates a new Map instance. Direct initialization is also
// supported.
//
// Parameters:
//   - options: configuration options (WithCapacity, WithStripes,
//     WithKeyHasher, etc.)
func NewMap[K comparable, V any](
	options ...func(*MapConfig),
) *Map[K, V] {
	m := &Map[K, V]{}
	m.withOptions(options...)
	return m
}

// withOptions initializes the Map instance using variadic option
// parameters.
//
// Configuration Priority (highest to lowest):
//   - Explicit With* functions (WithKeyHasher, WithKeyEqual)
//   - Interface implementations (IHashFunc, IEqualFunc)
//   - Default built-in implementations (defaultHasher, ==) - fallback
//
// Notes:
//   - This function is not thread-safe and should only be called before Map
//     is used
func (m *Map[K, V]) withOptions(
	options ...func(*MapConfig),
) {
	var cfg MapConfig

	// parse options
	for _, o := range options {
		o(noEscape(&cfg))
	}
	m.init(noEscape(&cfg))
}

func (m *Map[K, V]) init(
	cfg *MapConfig,
) *bucketArray[K, V] {
	// parse interface
	keyHash, keyEqual := parseKeyInterface[K]()
	if cfg.keyHash == nil {
		cfg.keyHash = keyHash
	}
	if cfg.keyEqual == nil {
		cfg.keyEqual = keyEqual
	}
	// perform initialization
	m.keyHash = defaultHasher[K]()
	if cfg.keyHash != nil {
		m.keyHash = cfg.keyHash
	}
	m.keyEqual = cfg.keyEqual

	m.seed = uintptr(rand.Uint64())
	m.alloc = allocatorFromConfig[K, V](cfg)
	m.minLoadFactor = defaultMinLoadFactor
	if cfg.minLoadFactorSet {
		m.minLoadFactor = cfg.minLoadFactor
	}
	m.maxHashPower = cfg.maxHashPower

	stripePower := calcStripePower(cfg.stripes, runtime.GOMAXPROCS(0))
	hashPower := calcHashPower(cfg.capacity)
	if m.maxHashPower != 0 {
		stripePower = min(stripePower, m.maxHashPower)
		hashPower = min(hashPower, m.maxHashPower)
	}
	// every stripe covers at least one bucket
	hashPower = max(hashPower, stripePower)
	m.stripePower = stripePower
	m.stripes = make([]stripe, 1<<stripePower)

	table := newBucketArray(m.alloc, hashPower, stripePower)
	m.table.Store(table)
	return table
}

// slowInit may be called concurrently by multiple goroutines, so it requires
// synchronization.
//
//go:noinline
func (m *Map[K, V]) slowInit() *bucketArray[K, V] {
	m.initMu.Lock()
	defer m.initMu.Unlock()
	if table := m.table.Load(); table != nil {
		return table
	}
	var cfg MapConfig
	return m.init(&cfg)
}

//go:nosplit
func (m *Map[K, V]) hashKey(key *K) (uintptr, uint8) {
	hash := m.keyHash(noescape(unsafe.Pointer(key)), m.seed)
	return hash, partialKey(hash)
}

//go:nosplit
func (m *Map[K, V]) keyEq(key, other *K) bool {
	if m.keyEqual != nil {
		return m.keyEqual(
			noescape(unsafe.Pointer(key)),
			noescape(unsafe.Pointer(other)),
		)
	}
	return *key == *other
}

// Find returns the value stored for key.
func (m *Map[K, V]) Find(key K) (value V, ok bool) {
	if m.table.Load() == nil {
		return *new(V), false
	}
	return m.findEntry(&key, false)
}

// Contains reports whether key is present.
func (m *Map[K, V]) Contains(key K) bool {
	_, ok := m.Find(key)
	return ok
}

// Insert stores value under key if key is absent. It reports whether the
// entry was inserted; an existing entry is left untouched.
func (m *Map[K, V]) Insert(key K, value V) bool {
	if m.table.Load() == nil {
		m.slowInit()
	}
	hash, partial := m.hashKey(&key)
	return m.insertEntry(&key, hash, partial, nil, value, false)
}

// InsertOrAssign stores value under key, replacing any existing value. It
// reports whether a new entry was inserted.
func (m *Map[K, V]) InsertOrAssign(key K, value V) bool {
	if m.table.Load() == nil {
		m.slowInit()
	}
	hash, partial := m.hashKey(&key)
	return m.insertEntry(&key, hash, partial, func(v *V) { *v = value },
		value, false)
}

// Update replaces the value of an existing key. It reports whether key was
// present; an absent key is not inserted.
func (m *Map[K, V]) Update(key K, value V) bool {
	if m.table.Load() == nil {
		return false
	}
	return m.updateEntry(&key, func(v *V) { *v = value }, false)
}

// Upsert applies fn to the value of key in place if key is present, and
// stores value under key otherwise. It reports whether a new entry was
// inserted.
//
// fn runs while the stripes covering key are held: it must not call back
// into the map and should be short. If fn panics, the locks are released
// before the panic propagates and the value may be partially modified.
//
// Usage:
//
//	m.Upsert(word, func(n *int) { *n++ }, 1)
func (m *Map[K, V]) Upsert(key K, fn func(value *V), value V) bool {
	if m.table.Load() == nil {
		m.slowInit()
	}
	hash, partial := m.hashKey(&key)
	return m.insertEntry(&key, hash, partial, fn, value, false)
}

// TryUpsert applies fn to the value of key in place if key is present. It
// reports whether key was present; nothing is inserted otherwise.
//
// fn runs under the same conditions as in Upsert.
func (m *Map[K, V]) TryUpsert(key K, fn func(value *V)) bool {
	if m.table.Load() == nil {
		return false
	}
	return m.updateEntry(&key, fn, false)
}

// Erase removes key. It reports whether key was present. Erase never
// resizes the table.
func (m *Map[K, V]) Erase(key K) bool {
	if m.table.Load() == nil {
		return false
	}
	return m.eraseEntry(&key, false)
}

// Size returns the number of entries. Under concurrent modification the
// result is a momentary approximation; it is exact while a LockedTable is
// held.
func (m *Map[K, V]) Size() int {
	if m.table.Load() == nil {
		return 0
	}
	return m.sumCount()
}

// Capacity returns the number of slots of the current bucket array.
func (m *Map[K, V]) Capacity() int {
	table := m.table.Load()
	if table == nil {
		return 0
	}
	return table.capacity()
}

// HashPower returns log2 of the bucket count.
func (m *Map[K, V]) HashPower() uint {
	table := m.table.Load()
	if table == nil {
		return 0
	}
	return table.hashPower
}

// BucketCount returns the number of buckets.
func (m *Map[K, V]) BucketCount() int {
	table := m.table.Load()
	if table == nil {
		return 0
	}
	return len(table.buckets)
}

// LoadFactor returns Size divided by Capacity.
func (m *Map[K, V]) LoadFactor() float64 {
	table := m.table.Load()
	if table == nil {
		return 0
	}
	return m.loadFactorOf(table)
}

func (m *Map[K, V]) loadFactorOf(table *bucketArray[K, V]) float64 {
	return float64(m.sumCount()) / float64(table.capacity())
}

// Stats returns statistics for the Map. Just like other map
// methods, this one is thread-safe. Yet it's an O(N) operation,
// and it holds every stripe while it runs.
func (m *Map[K, V]) Stats() *MapStats {
	stats := &MapStats{MinEntries: SlotsPerBucket}
	if m.table.Load() == nil {
		stats.MinEntries = 0
		return stats
	}
	m.lockAll()
	defer m.unlockAll()

	table := m.table.Load()
	stats.Buckets = len(table.buckets)
	stats.HashPower = table.hashPower
	stats.Stripes = len(m.stripes)
	stats.Capacity = table.capacity()
	stats.Counter = m.sumCount()
	stats.TotalGrowths = m.growths.Load()
	for i := range table.buckets {
		n := table.buckets[i].len()
		stats.Size += n
		switch n {
		case 0:
			stats.EmptyBuckets++
		case SlotsPerBucket:
			stats.FullBuckets++
		}
		stats.MinEntries = min(stats.MinEntries, n)
		stats.MaxEntries = max(stats.MaxEntries, n)
	}
	return stats
}

// MapStats is Map statistics.
//
// Warning: map statistics are intended to be used for diagnostic
// purposes, not for production code. This means that breaking changes
// may be introduced into this struct even between minor releases.
type MapStats struct {
	// Buckets is the number of buckets in the table.
	Buckets int
	// HashPower is log2 of Buckets.
	HashPower uint
	// Stripes is the number of lock stripes. It never changes.
	Stripes int
	// EmptyBuckets is the number of buckets that hold no entries.
	EmptyBuckets int
	// FullBuckets is the number of buckets with every slot occupied.
	FullBuckets int
	// Capacity is the number of slots of the table.
	Capacity int
	// Size is the exact number of entries stored in the map.
	Size int
	// Counter is the number of entries according to the stripe
	// counters. It always equals Size.
	Counter int
	// MinEntries is the minimum number of entries per bucket.
	MinEntries int
	// MaxEntries is the maximum number of entries per bucket.
	MaxEntries int
	// TotalGrowths is the number of times the table was resized.
	TotalGrowths uint32
}

// String returns string representation of map stats.
func (s *MapStats) String() string {
	var sb strings.Builder
	sb.WriteString("MapStats{\n")
	sb.WriteString(fmt.Sprintf("Buckets:      %d\n", s.Buckets))
	sb.WriteString(fmt.Sprintf("HashPower:    %d\n", s.HashPower))
	sb.WriteString(fmt.Sprintf("Stripes:      %d\n", s.Stripes))
	sb.WriteString(fmt.Sprintf("EmptyBuckets: %d\n", s.EmptyBuckets))
	sb.WriteString(fmt.Sprintf("FullBuckets:  %d\n", s.FullBuckets))
	sb.WriteString(fmt.Sprintf("Capacity:     %d\n", s.Capacity))
	sb.WriteString(fmt.Sprintf("Size:         %d\n", s.Size))
	sb.WriteString(fmt.Sprintf("Counter:      %d\n", s.Counter))
	sb.WriteString(fmt.Sprintf("MinEntries:   %d\n", s.MinEntries))
	sb.WriteString(fmt.Sprintf("MaxEntries:   %d\n", s.MaxEntries))
	sb.WriteString(fmt.Sprintf("TotalGrowths: %d\n", s.TotalGrowths))
	sb.WriteString("}\n")
	return sb.String()
}

// ============================================================================
// Per-key operations
// ============================================================================

// lockKey locks the candidate buckets of a hash on the current table,
// retrying when a resize swaps the table first. With locked set nothing is
// acquired.
func (m *Map[K, V]) lockKey(
	hash uintptr,
	partial uint8,
	locked bool,
) (*bucketArray[K, V], int, int, stripeSet) {
	for {
		table := m.table.Load()
		i1, i2 := table.indices(hash, partial)
		if ss, ok := m.lockTwo(table, i1, i2, locked); ok {
			return table, i1, i2, ss
		}
	}
}

func (m *Map[K, V]) findEntry(key *K, locked bool) (value V, ok bool) {
	hash, partial := m.hashKey(key)
	table, i1, i2, ss := m.lockKey(hash, partial, locked)
	if b, s := m.lookup(table, i1, i2, hash, partial, key); b >= 0 {
		value, ok = table.buckets[b].values[s], true
	}
	m.release(ss)
	return value, ok
}

func (m *Map[K, V]) updateEntry(key *K, fn func(*V), locked bool) bool {
	hash, partial := m.hashKey(key)
	table, i1, i2, ss := m.lockKey(hash, partial, locked)
	b, s := m.lookup(table, i1, i2, hash, partial, key)
	if b < 0 {
		m.release(ss)
		return false
	}
	m.combine(ss, &table.buckets[b].values[s], fn)
	return true
}

func (m *Map[K, V]) eraseEntry(key *K, locked bool) bool {
	hash, partial := m.hashKey(key)
	table, i1, i2, ss := m.lockKey(hash, partial, locked)
	defer m.release(ss)
	b, s := m.lookup(table, i1, i2, hash, partial, key)
	if b < 0 {
		return false
	}
	table.buckets[b].clearSlot(s)
	m.addCount(table, b, -1)
	return true
}

// combine applies fn to a value while ss is held, releasing ss even if fn
// panics.
func (m *Map[K, V]) combine(ss stripeSet, value *V, fn func(*V)) {
	defer m.release(ss)
	fn(value)
}

// insertEntry inserts key with value, or applies fn to the existing value
// when fn is not nil. It reports whether a new entry was inserted.
func (m *Map[K, V]) insertEntry(
	key *K,
	hash uintptr,
	partial uint8,
	fn func(*V),
	value V,
	locked bool,
) bool {
	for {
		table := m.table.Load()
		ss, pos, st := m.findInsertPos(table, hash, partial, key, locked)
		switch st {
		case insertOK:
			table.buckets[pos.bucket].setSlot(pos.slot, hash, partial, *key, value)
			m.addCount(table, pos.bucket, 1)
			m.release(ss)
			return true
		case insertKeyDuplicated:
			if fn != nil {
				m.combine(ss, &table.buckets[pos.bucket].values[pos.slot], fn)
			} else {
				m.release(ss)
			}
			return false
		case insertTableFull:
			m.grow(table, locked)
		}
		// the table changed or grew; try again on the current one
	}
}

// insertStatus is the outcome of findInsertPos.
type insertStatus uint8

const (
	insertOK insertStatus = iota
	insertKeyDuplicated
	insertTableFull
	insertTableChanged
)

// slotPos addresses one slot of a bucket array.
type slotPos struct {
	bucket int
	slot   int
}

// findInsertPos locks the candidate buckets of hash on table and returns
// either the slot holding key (insertKeyDuplicated) or a free slot in one of
// the candidate buckets (insertOK). In both cases the returned stripes are
// held. When both buckets are full the stripes are released and a
// displacement frees a slot; insertTableFull means no displacement path
// exists and the table must grow.
//
// A nil key skips the duplicate check; resize uses this to place entries it
// knows are unique.
func (m *Map[K, V]) findInsertPos(
	table *bucketArray[K, V],
	hash uintptr,
	partial uint8,
	key *K,
	locked bool,
) (stripeSet, slotPos, insertStatus) {
	i1, i2 := table.indices(hash, partial)
	ss, ok := m.lockTwo(table, i1, i2, locked)
	if !ok {
		return stripeSet{}, slotPos{}, insertTableChanged
	}
	for {
		if pos, st := m.scanInsert(table, i1, i2, hash, partial, key); st != insertTableFull {
			return ss, pos, st
		}
		m.release(ss)

		var cst cuckooStatus
		ss, cst = m.runCuckoo(table, i1, i2, locked)
		switch cst {
		case cuckooTableFull:
			return stripeSet{}, slotPos{}, insertTableFull
		case cuckooTableChanged:
			return stripeSet{}, slotPos{}, insertTableChanged
		}
		// cuckooOK: the candidate stripes are held again; rescan since the
		// key may have been inserted meanwhile
	}
}

// scanInsert looks for key and a free slot in buckets i1 and i2, whose
// stripes must be held. Bucket i1 is preferred for new entries.
func (m *Map[K, V]) scanInsert(
	table *bucketArray[K, V],
	i1, i2 int,
	hash uintptr,
	partial uint8,
	key *K,
) (slotPos, insertStatus) {
	if key != nil {
		if b, s := m.lookup(table, i1, i2, hash, partial, key); b >= 0 {
			return slotPos{b, s}, insertKeyDuplicated
		}
	}
	if s := table.buckets[i1].firstFree(); s >= 0 {
		return slotPos{i1, s}, insertOK
	}
	if s := table.buckets[i2].firstFree(); s >= 0 {
		return slotPos{i2, s}, insertOK
	}
	return slotPos{}, insertTableFull
}
