package cuckoo

import (
	"fmt"
	"strconv"
	"testing"
)

var (
	testDataSmall [8]string
	testData      [128]string
	testDataLarge [128 << 10]string
)

func init() {
	for i := range testDataSmall {
		testDataSmall[i] = fmt.Sprintf("%b", i)
	}
	for i := range testData {
		testData[i] = fmt.Sprintf("%b", i)
	}
	for i := range testDataLarge {
		testDataLarge[i] = fmt.Sprintf("%b", i)
	}
}

func BenchmarkMapFindSmall(b *testing.B) {
	benchmarkMapFind(b, testDataSmall[:])
}

func BenchmarkMapFind(b *testing.B) {
	benchmarkMapFind(b, testData[:])
}

func BenchmarkMapFindLarge(b *testing.B) {
	benchmarkMapFind(b, testDataLarge[:])
}

func benchmarkMapFind(b *testing.B, data []string) {
	b.ReportAllocs()
	var m Map[string, int]
	for i := range data {
		m.Insert(data[i], i)
	}
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			_, _ = m.Find(data[i])
			i++
			if i >= len(data) {
				i = 0
			}
		}
	})
}

func BenchmarkMapUpsert(b *testing.B) {
	benchmarkMapUpsert(b, testData[:])
}

func BenchmarkMapUpsertLarge(b *testing.B) {
	benchmarkMapUpsert(b, testDataLarge[:])
}

func benchmarkMapUpsert(b *testing.B, data []string) {
	b.ReportAllocs()
	var m Map[string, int]
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			m.Upsert(data[i], func(v *int) { *v++ }, 1)
			i++
			if i >= len(data) {
				i = 0
			}
		}
	})
}

func BenchmarkMapInsertGrow(b *testing.B) {
	b.ReportAllocs()
	for range b.N {
		m := NewMap[int, int](WithCapacity(16))
		for i := range 1 << 14 {
			m.Insert(i, i)
		}
	}
}

func BenchmarkMapInsertErase(b *testing.B) {
	b.ReportAllocs()
	m := NewMap[int, int](WithCapacity(1 << 16))
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			m.Insert(i, i)
			m.Erase(i)
			i = (i + 1) & (1<<16 - 1)
		}
	})
}

func BenchmarkMapStripes(b *testing.B) {
	for _, stripes := range []int{1, 16, 256, 4096} {
		b.Run(strconv.Itoa(stripes), func(b *testing.B) {
			m := NewMap[int, int](WithStripes(stripes), WithCapacity(1<<16))
			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				i := 0
				for pb.Next() {
					m.Upsert(i, func(v *int) { *v++ }, 1)
					i = (i + 1) & (1<<16 - 1)
				}
			})
		})
	}
}

func BenchmarkLockTable(b *testing.B) {
	m := NewMap[int, int](WithCapacity(1 << 16))
	for i := range 1 << 15 {
		m.Insert(i, i)
	}
	b.ResetTimer()
	for range b.N {
		lt := m.LockTable()
		var sum int
		for _, v := range lt.All() {
			sum += v
		}
		lt.Unlock()
	}
}
