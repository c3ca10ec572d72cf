package benchmark

import (
	"context"
	"iter"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/llxisdsh/cuckoo"
	"github.com/llxisdsh/cuckoo/internal/workload"
	"github.com/puzpuzpuz/xsync/v4"
)

// xsyncTable runs the counting workload against an xsync.Map.
type xsyncTable struct{ m *xsync.Map[uint64, uint64] }

func (xsyncTable) Name() string { return "xsync.Map" }

func (t xsyncTable) Increment(key uint64) {
	t.m.Compute(key, func(old uint64, loaded bool) (uint64, xsync.ComputeOp) {
		return old + 1, xsync.UpdateOp
	})
}

func (t xsyncTable) View() workload.View { return xsyncView(t) }

type xsyncView struct{ m *xsync.Map[uint64, uint64] }

func (v xsyncView) Size() int { return v.m.Size() }

func (v xsyncView) All() iter.Seq2[uint64, uint64] { return v.m.Range }

func (xsyncView) Release() {}

// shardedTable runs the counting workload against a RWLockShardedMap.
type shardedTable struct{ m *RWLockShardedMap[uint64, uint64] }

func (shardedTable) Name() string { return "RWLockShardedMap" }

func (t shardedTable) Increment(key uint64) {
	t.m.Upsert(key, func(v *uint64) { *v++ }, 1)
}

func (t shardedTable) View() workload.View { return shardedView(t) }

type shardedView struct{ m *RWLockShardedMap[uint64, uint64] }

func (v shardedView) Size() int { return v.m.Size() }

func (v shardedView) All() iter.Seq2[uint64, uint64] { return v.m.Range }

func (shardedView) Release() {}

const (
	workloadItems = 10_000_000
	workloadKeys  = 1_000_000
)

func TestWorkload(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping workload comparison in short mode")
	}

	tables := []struct {
		name string
		make func() workload.Table
	}{
		{"cuckoo", func() workload.Table { return workload.NewCuckooTable() }},
		{"cuckoo_presized", func() workload.Table {
			return workload.NewCuckooTable(cuckoo.WithCapacity(workloadKeys))
		}},
		{"pb", func() workload.Table { return workload.NewBaselineTable(0) }},
		{"xsync", func() workload.Table { return xsyncTable{xsync.NewMap[uint64, uint64]()} }},
		{"sharded", func() workload.Table {
			return shardedTable{NewRWLockShardedMap[uint64, uint64](runtime.GOMAXPROCS(0) * 4)}
		}},
	}

	for _, tt := range tables {
		for _, workers := range []int{1, 2, 4, 8, 16, 32} {
			t.Run(tt.name+"/"+strconv.Itoa(workers), func(t *testing.T) {
				cfg := workload.Config{
					Workers:  workers,
					Items:    workloadItems,
					KeySpace: workloadKeys,
				}
				table := tt.make()
				runtime.GC()
				elapsed, err := workload.Run(context.Background(), table, cfg)
				if err != nil {
					t.Fatal(err)
				}
				view := table.View()
				defer view.Release()
				if err := workload.Validate(view, cfg); err != nil {
					t.Fatal(err)
				}
				t.Logf("%s: %d upserts in %v (%.2f ns/op)", table.Name(), cfg.Items, elapsed,
					float64(elapsed.Nanoseconds())/float64(cfg.Items))
			})
		}
	}
}

func BenchmarkWorkload_cuckoo(b *testing.B) {
	benchmarkWorkload(b, func() workload.Table { return workload.NewCuckooTable() })
}

func BenchmarkWorkload_pb(b *testing.B) {
	benchmarkWorkload(b, func() workload.Table { return workload.NewBaselineTable(0) })
}

func BenchmarkWorkload_xsync(b *testing.B) {
	benchmarkWorkload(b, func() workload.Table {
		return xsyncTable{xsync.NewMap[uint64, uint64]()}
	})
}

func benchmarkWorkload(b *testing.B, makeTable func() workload.Table) {
	cfg := workload.Config{
		Workers:  runtime.GOMAXPROCS(0),
		Items:    1 << 20,
		KeySpace: 1 << 16,
	}
	var total time.Duration
	for range b.N {
		elapsed, err := workload.Run(context.Background(), makeTable(), cfg)
		if err != nil {
			b.Fatal(err)
		}
		total += elapsed
	}
	b.ReportMetric(float64(total.Nanoseconds())/float64(b.N*cfg.Items), "ns/upsert")
}
