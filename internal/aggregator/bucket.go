// Package aggregator accumulates samples into fixed-duration reporting
// windows and emits per-window structured reports to disk.
package aggregator

import (
	"fmt"
	"time"

	"fieldagent/internal/config"
)

// SampleClass classifies one reading.
type SampleClass int

const (
	Regular SampleClass = iota
	Underflow
	Overflow
	ReadFailure
)

func (c SampleClass) String() string {
	switch c {
	case Regular:
		return "regular"
	case Underflow:
		return "underflow"
	case Overflow:
		return "overflow"
	case ReadFailure:
		return "read_failure"
	default:
		return "unknown"
	}
}

// Sample is one measurement outcome at a point in time.
type Sample struct {
	Timestamp time.Time
	Value     float64 // NaN for non-Regular classes
	Class     SampleClass
}

// StationKey identifies one device for aggregation purposes.
type StationKey struct {
	DisplayName string
	StationID   uint8
}

func (k StationKey) String() string {
	return fmt.Sprintf("%s(%d)", k.DisplayName, k.StationID)
}

// counters tracks per-class occurrences, split into period-scoped and
// lifetime-scoped totals.
type counters struct {
	periodReadFailures uint64
	totalReadFailures  uint64
	periodUnderflows   uint64
	totalUnderflows    uint64
	periodOverflows    uint64
	totalOverflows     uint64
}

// stats holds the last-computed statistics for a bucket's Regular
// samples. All fields are NaN when n == 0.
type stats struct {
	min, max, mean, stdev float64
}

// bucket is per (station, measurement) accumulated state. Its lifetime
// spans the whole process: samples and period counters reset at each
// period close, but the bucket itself is never removed.
type bucket struct {
	desc    config.MeasurementDescriptor
	samples []Sample // Regular samples only, in submission order
	counts  counters
	last    stats
}

func newBucket(desc config.MeasurementDescriptor) *bucket {
	return &bucket{desc: desc, last: stats{min: nan(), max: nan(), mean: nan(), stdev: nan()}}
}

func (b *bucket) submit(s Sample) {
	switch s.Class {
	case Regular:
		b.samples = append(b.samples, s)
	case Underflow:
		b.counts.periodUnderflows++
		b.counts.totalUnderflows++
	case Overflow:
		b.counts.periodOverflows++
		b.counts.totalOverflows++
	case ReadFailure:
		b.counts.periodReadFailures++
		b.counts.totalReadFailures++
	}
}

func (b *bucket) resetPeriod() {
	b.samples = nil
	b.counts.periodReadFailures = 0
	b.counts.periodUnderflows = 0
	b.counts.periodOverflows = 0
}

func nan() float64 {
	var zero float64
	return zero / zero
}
