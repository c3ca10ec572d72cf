package workload

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/llxisdsh/cuckoo"
)

func TestExpected(t *testing.T) {
	tests := []struct {
		cfg  Config
		key  uint64
		want uint64
	}{
		{Config{Workers: 4, Items: 100, KeySpace: 10}, 0, 10},
		{Config{Workers: 4, Items: 100, KeySpace: 10}, 9, 10},
		{Config{Workers: 4, Items: 100, KeySpace: 10}, 10, 0},
		// 3 workers process 99 of 100 items
		{Config{Workers: 3, Items: 100, KeySpace: 10}, 8, 10},
		{Config{Workers: 3, Items: 100, KeySpace: 10}, 9, 9},
		{Config{Workers: 1, Items: 5, KeySpace: 10}, 4, 1},
		{Config{Workers: 1, Items: 5, KeySpace: 10}, 5, 0},
	}
	for _, tt := range tests {
		if got := Expected(tt.cfg, tt.key); got != tt.want {
			t.Errorf("Expected(%+v, %d) = %d, want %d",
				tt.cfg, tt.key, got, tt.want)
		}
	}
}

func TestConfigKeys(t *testing.T) {
	if got := (Config{Workers: 2, Items: 7, KeySpace: 100}).Keys(); got != 6 {
		t.Fatalf("Keys = %d, want 6", got)
	}
	if got := (Config{Workers: 2, Items: 1000, KeySpace: 100}).Keys(); got != 100 {
		t.Fatalf("Keys = %d, want 100", got)
	}
}

func TestRunInvalidConfig(t *testing.T) {
	table := NewCuckooTable()
	for _, cfg := range []Config{
		{Workers: 0, Items: 10, KeySpace: 10},
		{Workers: 1, Items: -1, KeySpace: 10},
		{Workers: 1, Items: 10, KeySpace: 0},
	} {
		if _, err := Run(context.Background(), table, cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("Run(%+v) error = %v, want ErrInvalidConfig", cfg, err)
		}
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, NewCuckooTable(), Config{Workers: 2, Items: 1000, KeySpace: 10})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
}

func TestRunAndValidate(t *testing.T) {
	items, keys := 200_000, 20_000
	if testing.Short() {
		items, keys = 20_000, 2_000
	}
	tables := []func() Table{
		func() Table { return NewCuckooTable() },
		func() Table { return NewCuckooTable(cuckoo.WithCapacity(16), cuckoo.WithStripes(4)) },
		func() Table { return NewBaselineTable(0) },
	}
	for _, workers := range []int{1, 2, 4, 8, 16, 32} {
		for _, newTable := range tables {
			table := newTable()
			cfg := Config{Workers: workers, Items: items, KeySpace: keys}
			if _, err := Run(context.Background(), table, cfg); err != nil {
				t.Fatalf("%s/%d: %v", table.Name(), workers, err)
			}
			view := table.View()
			err := Validate(view, cfg)
			view.Release()
			if err != nil {
				t.Fatalf("%s/%d: %v", table.Name(), workers, err)
			}
		}
	}
}

type fakeView struct {
	entries map[uint64]uint64
}

func (v fakeView) Size() int { return len(v.entries) }

func (v fakeView) All() iter.Seq2[uint64, uint64] {
	return func(yield func(uint64, uint64) bool) {
		for k, val := range v.entries {
			if !yield(k, val) {
				return
			}
		}
	}
}

func (fakeView) Release() {}

func TestValidateMismatch(t *testing.T) {
	cfg := Config{Workers: 1, Items: 4, KeySpace: 2}
	ok := fakeView{map[uint64]uint64{0: 2, 1: 2}}
	if err := Validate(ok, cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	short := fakeView{map[uint64]uint64{0: 2}}
	if err := Validate(short, cfg); !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("Validate error = %v, want ErrSizeMismatch", err)
	}
	wrong := fakeView{map[uint64]uint64{0: 2, 1: 3}}
	if err := Validate(wrong, cfg); !errors.Is(err, ErrValueMismatch) {
		t.Fatalf("Validate error = %v, want ErrValueMismatch", err)
	}
}

func TestCuckooTableViewLocks(t *testing.T) {
	table := NewCuckooTable()
	table.Increment(7)
	table.Increment(7)
	view := table.View()
	if view.Size() != 1 {
		t.Fatalf("Size = %d, want 1", view.Size())
	}
	view.Release()
	if v, ok := table.Map().Find(7); !ok || v != 2 {
		t.Fatalf("Find(7) = %d, %v, want 2, true", v, ok)
	}
}
