// Command cuckoobench measures concurrent upsert throughput.
//
// For every worker count it builds a fresh table, splits the items between
// the workers, upserts key = item % keys with v++ (storing 1 for new keys),
// then locks the table and checks the number of entries and every value.
// The elapsed nanoseconds of each run are printed one per line.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/llxisdsh/cuckoo"
	"github.com/llxisdsh/cuckoo/internal/workload"
)

func main() {
	var (
		items    = flag.Int("items", 100_000_000, "total number of upserts per run")
		keys     = flag.Int("keys", 10_000_000, "number of distinct keys")
		threads  = flag.String("threads", "1,2,4,8,16,32", "comma separated worker counts")
		table    = flag.String("table", "cuckoo", "table implementation: cuckoo or baseline")
		capacity = flag.Int("capacity", 0, "initial capacity hint")
		stripes  = flag.Int("stripes", 0, "lock stripes of the cuckoo table (0 for default)")
		stats    = flag.Bool("stats", false, "log cuckoo table statistics after each run")
		verbose  = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	counts, err := parseThreads(*threads)
	if err != nil {
		logger.Error("invalid -threads", "err", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	newTable := func() (workload.Table, error) {
		switch *table {
		case "cuckoo":
			return workload.NewCuckooTable(
				cuckoo.WithCapacity(*capacity),
				cuckoo.WithStripes(*stripes),
			), nil
		case "baseline":
			return workload.NewBaselineTable(*capacity), nil
		}
		return nil, fmt.Errorf("unknown table %q", *table)
	}

	times := make([]int64, 0, len(counts))
	for _, workers := range counts {
		t, err := newTable()
		if err != nil {
			logger.Error("create table", "err", err)
			os.Exit(2)
		}
		cfg := workload.Config{Workers: workers, Items: *items, KeySpace: *keys}
		logger.Debug("run", "table", t.Name(), "workers", workers,
			"items", cfg.Items, "keys", cfg.KeySpace)

		elapsed, err := workload.Run(ctx, t, cfg)
		if err != nil {
			logger.Error("run failed", "err", err)
			os.Exit(1)
		}

		view := t.View()
		err = workload.Validate(view, cfg)
		view.Release()
		if err != nil {
			logger.Error("validation failed", "table", t.Name(),
				"workers", workers, "err", err)
			os.Exit(1)
		}

		logger.Info("run complete", "table", t.Name(), "workers", workers,
			"elapsed", elapsed, "keys", cfg.Keys())
		if ct, ok := t.(*workload.CuckooTable); ok && *stats {
			logger.Info("stats\n" + ct.Map().Stats().String())
		}
		times = append(times, elapsed.Nanoseconds())
	}

	for _, ns := range times {
		fmt.Println(ns)
	}
}

func parseThreads(s string) ([]int, error) {
	var counts []int
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("worker count %q: %w", f, err)
		}
		if n <= 0 {
			return nil, fmt.Errorf("worker count %d must be positive", n)
		}
		counts = append(counts, n)
	}
	if len(counts) == 0 {
		return nil, fmt.Errorf("no worker counts in %q", s)
	}
	return counts, nil
}
