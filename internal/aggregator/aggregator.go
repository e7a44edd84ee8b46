package aggregator

import (
	"fmt"
	"sync"
	"time"

	"fieldagent/internal/config"
)

// DuplicateMeasurement reports a repeated (station, name) registration.
type DuplicateMeasurement struct {
	Station StationKey
	Name    string
}

func (e *DuplicateMeasurement) Error() string {
	return fmt.Sprintf("aggregator: measurement %q already configured for %v", e.Name, e.Station)
}

// UnknownMeasurement reports a submit against an unregistered pair.
type UnknownMeasurement struct {
	Station StationKey
	Name    string
}

func (e *UnknownMeasurement) Error() string {
	return fmt.Sprintf("aggregator: unknown measurement %q for %v", e.Name, e.Station)
}

// Writer persists one closed period's report. Production code uses
// FileWriter; tests can substitute an in-memory fake.
type Writer interface {
	Write(name string, r Report) error
}

// Aggregator owns every Bucket in the process and serializes one report
// file per closed period. It is mutated only from the scheduler
// goroutine, but every method is guarded by a mutex regardless, so a
// stray concurrent call is serialized with the single-threaded caller
// instead of racing against it.
type Aggregator struct {
	mu      sync.Mutex
	results map[StationKey]map[string]*bucket
	period  uint64
	writer  Writer
}

// New builds an Aggregator that persists reports through w.
func New(w Writer) *Aggregator {
	return &Aggregator{
		results: make(map[StationKey]map[string]*bucket),
		writer:  w,
	}
}

// ConfigureMeasurement creates the bucket for (station, name). Duplicate
// registration fails with DuplicateMeasurement.
func (a *Aggregator) ConfigureMeasurement(station StationKey, name string, desc config.MeasurementDescriptor) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	byName, ok := a.results[station]
	if !ok {
		byName = make(map[string]*bucket)
		a.results[station] = byName
	}
	if _, exists := byName[name]; exists {
		return &DuplicateMeasurement{Station: station, Name: name}
	}
	byName[name] = newBucket(desc)
	return nil
}

// Submit appends or increments counters for (station, name). Unknown
// pairs fail with UnknownMeasurement.
func (a *Aggregator) Submit(station StationKey, name string, sample Sample) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	byName, ok := a.results[station]
	if !ok {
		return &UnknownMeasurement{Station: station, Name: name}
	}
	b, ok := byName[name]
	if !ok {
		return &UnknownMeasurement{Station: station, Name: name}
	}
	b.submit(sample)
	return nil
}

// ClosePeriod increments the period counter, computes statistics for
// every bucket with at least one Regular sample, writes one report
// file through the configured Writer, then resets each bucket's
// samples and period counters (total counters persist).
func (a *Aggregator) ClosePeriod(now time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.period++

	for _, byName := range a.results {
		for _, b := range byName {
			b.last = computeStats(b.samples)
		}
	}

	report := buildReport(now, a.period, a.results)

	for _, byName := range a.results {
		for _, b := range byName {
			b.resetPeriod()
		}
	}

	if a.writer == nil {
		return nil
	}
	name := reportFileName(now)
	return a.writer.Write(name, report)
}
