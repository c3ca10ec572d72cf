// Package workload drives a partitioned upsert workload against a
// concurrent table and validates the result.
//
// Each of Config.Workers goroutines owns a contiguous batch of
// Items/Workers item numbers and upserts key = item % KeySpace, adding one
// to the stored value or storing 1. Items beyond Workers*(Items/Workers)
// are not processed.
package workload

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	ErrInvalidConfig = errors.New("workload: invalid config")
	ErrSizeMismatch  = errors.New("workload: size mismatch")
	ErrValueMismatch = errors.New("workload: value mismatch")
)

// cancelCheckInterval is how many upserts a worker performs between
// context checks.
const cancelCheckInterval = 1 << 12

// Config describes one workload run.
type Config struct {
	// Workers is the number of concurrent goroutines.
	Workers int
	// Items is the total number of upserts to split between workers.
	Items int
	// KeySpace is the number of distinct keys.
	KeySpace int
}

// DefaultConfig returns the full-size workload: 100M upserts over 10M keys,
// ten per key.
func DefaultConfig(workers int) Config {
	return Config{
		Workers:  workers,
		Items:    100_000_000,
		KeySpace: 10_000_000,
	}
}

func (c Config) check() error {
	switch {
	case c.Workers <= 0:
		return fmt.Errorf("%w: workers %d", ErrInvalidConfig, c.Workers)
	case c.Items < 0:
		return fmt.Errorf("%w: items %d", ErrInvalidConfig, c.Items)
	case c.KeySpace <= 0:
		return fmt.Errorf("%w: key space %d", ErrInvalidConfig, c.KeySpace)
	}
	return nil
}

// processed returns the number of items the workers actually upsert.
func (c Config) processed() int {
	return c.Items / c.Workers * c.Workers
}

// batch returns the item range [from, to) of worker w.
func (c Config) batch(w int) (from, to int) {
	size := c.Items / c.Workers
	return w * size, min((w+1)*size, c.Items)
}

// Keys returns the number of distinct keys the run produces.
func (c Config) Keys() int {
	return min(c.processed(), c.KeySpace)
}

// Expected returns the value key must hold after a run of c, or 0 when key
// is never touched.
func Expected(c Config, key uint64) uint64 {
	n := uint64(c.processed())
	ks := uint64(c.KeySpace)
	if key >= ks {
		return 0
	}
	v := n / ks
	if key < n%ks {
		v++
	}
	return v
}

// Table is a concurrent map under test.
type Table interface {
	// Name identifies the implementation in reports.
	Name() string
	// Increment adds one to the value of key, storing 1 if key is absent.
	Increment(key uint64)
	// View returns a consistent read-only view of the whole table. The
	// view must be released before the table is used again.
	View() View
}

// View is a read-only snapshot of a Table.
type View interface {
	Size() int
	All() iter.Seq2[uint64, uint64]
	Release()
}

// Run executes the workload of cfg against table and returns the wall-clock
// time it took. Workers stop early when ctx is cancelled.
func Run(ctx context.Context, table Table, cfg Config) (time.Duration, error) {
	if err := cfg.check(); err != nil {
		return 0, err
	}

	g, ctx := errgroup.WithContext(ctx)
	start := time.Now()
	for w := 0; w < cfg.Workers; w++ {
		from, to := cfg.batch(w)
		g.Go(func() error {
			ks := uint64(cfg.KeySpace)
			for i := from; i < to; i++ {
				if (i-from)%cancelCheckInterval == 0 {
					if err := ctx.Err(); err != nil {
						return fmt.Errorf("worker %d: %w", w, err)
					}
				}
				table.Increment(uint64(i) % ks)
			}
			return nil
		})
	}
	err := g.Wait()
	elapsed := time.Since(start)
	if err != nil {
		return elapsed, fmt.Errorf("run %s with %d workers: %w",
			table.Name(), cfg.Workers, err)
	}
	return elapsed, nil
}

// Validate checks that view holds exactly the keys and values a run of cfg
// produces.
func Validate(view View, cfg Config) error {
	if err := cfg.check(); err != nil {
		return err
	}
	if got, want := view.Size(), cfg.Keys(); got != want {
		return fmt.Errorf("%w: got %d entries, want %d",
			ErrSizeMismatch, got, want)
	}
	for k, v := range view.All() {
		if want := Expected(cfg, k); v != want {
			return fmt.Errorf("%w: key %d holds %d, want %d",
				ErrValueMismatch, k, v, want)
		}
	}
	return nil
}
