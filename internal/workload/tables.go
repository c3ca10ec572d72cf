package workload

import (
	"iter"

	"github.com/llxisdsh/cuckoo"
	"github.com/llxisdsh/pb"
)

// CuckooTable runs the workload against a cuckoo.Map.
type CuckooTable struct {
	m *cuckoo.Map[uint64, uint64]
}

// NewCuckooTable returns a CuckooTable over a new map built with options.
func NewCuckooTable(options ...func(*cuckoo.MapConfig)) *CuckooTable {
	return &CuckooTable{m: cuckoo.NewMap[uint64, uint64](options...)}
}

func (t *CuckooTable) Name() string { return "cuckoo" }

func (t *CuckooTable) Increment(key uint64) {
	t.m.Upsert(key, func(v *uint64) { *v++ }, 1)
}

// View locks the whole map until Release.
func (t *CuckooTable) View() View {
	return cuckooView{t.m.LockTable()}
}

// Map returns the underlying map.
func (t *CuckooTable) Map() *cuckoo.Map[uint64, uint64] {
	return t.m
}

type cuckooView struct {
	*cuckoo.LockedTable[uint64, uint64]
}

func (v cuckooView) Release() { v.Unlock() }

// BaselineTable runs the workload against a pb.MapOf, incrementing through
// ProcessEntry so that every upsert is a single atomic read-modify-write.
type BaselineTable struct {
	m *pb.MapOf[uint64, uint64]
}

// NewBaselineTable returns a BaselineTable presized for capacity entries.
func NewBaselineTable(capacity int) *BaselineTable {
	var options []func(*pb.MapConfig)
	if capacity > 0 {
		options = append(options, pb.WithPresize(capacity))
	}
	return &BaselineTable{m: pb.NewMapOf[uint64, uint64](options...)}
}

func (t *BaselineTable) Name() string { return "pb.MapOf" }

func (t *BaselineTable) Increment(key uint64) {
	t.m.ProcessEntry(
		key,
		func(l *pb.EntryOf[uint64, uint64]) (*pb.EntryOf[uint64, uint64], uint64, bool) {
			if l != nil {
				return &pb.EntryOf[uint64, uint64]{Value: l.Value + 1}, l.Value + 1, true
			}
			return &pb.EntryOf[uint64, uint64]{Value: 1}, 1, false
		},
	)
}

// View reads the map directly. MapOf cannot be locked as a whole, so the
// view is only consistent once every writer has returned.
func (t *BaselineTable) View() View {
	return baselineView{t.m}
}

type baselineView struct {
	m *pb.MapOf[uint64, uint64]
}

func (v baselineView) Size() int { return v.m.Size() }

func (v baselineView) All() iter.Seq2[uint64, uint64] {
	return v.m.Range
}

func (baselineView) Release() {}
