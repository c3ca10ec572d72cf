//go:build race

package opt

// Race_ reports whether the binary was built with the race detector.
// Tests use it to scale down workloads that are too slow under -race.
const Race_ = true
