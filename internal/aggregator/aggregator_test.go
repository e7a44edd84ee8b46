package aggregator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fieldagent/internal/config"
)

type fakeWriter struct {
	name string
	rep  Report
}

func (f *fakeWriter) Write(name string, r Report) error {
	f.name = name
	f.rep = r
	return nil
}

func station() StationKey { return StationKey{DisplayName: "dev", StationID: 1} }

func TestConfigureDuplicateFails(t *testing.T) {
	a := New(&fakeWriter{})
	st := station()
	require.NoError(t, a.ConfigureMeasurement(st, "temp", config.MeasurementDescriptor{}))

	err := a.ConfigureMeasurement(st, "temp", config.MeasurementDescriptor{})
	require.IsType(t, &DuplicateMeasurement{}, err)
}

func TestSubmitUnknownFails(t *testing.T) {
	a := New(&fakeWriter{})
	err := a.Submit(station(), "missing", Sample{})
	require.IsType(t, &UnknownMeasurement{}, err)
}

func TestAggregationComputesMinMaxMeanStdev(t *testing.T) {
	w := &fakeWriter{}
	a := New(w)
	st := station()
	require.NoError(t, a.ConfigureMeasurement(st, "temp", config.MeasurementDescriptor{}))

	now := time.Unix(1_700_000_000, 0)
	for _, v := range []float64{1.0, 2.0, 3.0} {
		require.NoError(t, a.Submit(st, "temp", Sample{Timestamp: now, Value: v, Class: Regular}))
	}

	require.NoError(t, a.ClosePeriod(now))

	require.Len(t, w.name, len("YYMMDDhhmm.json"))
	require.EqualValues(t, 1, w.rep.PeriodID)

	result := w.rep.Servers[0].Results[0]
	require.NotNil(t, result.Data.Statistics)
	require.Equal(t, 1.0, *result.Data.Statistics.Min)
	require.Equal(t, 3.0, *result.Data.Statistics.Max)
	require.Equal(t, 2.0, *result.Data.Statistics.Mean)
	require.Equal(t, 1.0, *result.Data.Statistics.Stdev)
}

func TestReadFailureAccounting(t *testing.T) {
	w := &fakeWriter{}
	a := New(w)
	st := station()
	if err := a.ConfigureMeasurement(st, "temp", config.MeasurementDescriptor{}); err != nil {
		t.Fatalf("configure: %v", err)
	}

	now := time.Unix(1_700_000_000, 0)
	_ = a.Submit(st, "temp", Sample{Timestamp: now, Value: 2.0, Class: Regular})
	_ = a.Submit(st, "temp", Sample{Timestamp: now, Value: 4.0, Class: Regular})
	_ = a.Submit(st, "temp", Sample{Class: ReadFailure})
	_ = a.Submit(st, "temp", Sample{Class: ReadFailure})

	if err := a.ClosePeriod(now); err != nil {
		t.Fatalf("close period: %v", err)
	}
	result := w.rep.Servers[0].Results[0]
	if *result.Data.Statistics.Mean != 3.0 {
		t.Fatalf("expected mean 3.0, got %v", *result.Data.Statistics.Mean)
	}
	if result.Data.PeriodReadFailures != 2 || result.Data.TotalReadFailures != 2 {
		t.Fatalf("unexpected failure counters: %+v", result.Data)
	}

	_ = a.Submit(st, "temp", Sample{Class: ReadFailure})
	if err := a.ClosePeriod(now); err != nil {
		t.Fatalf("close period: %v", err)
	}
	result = w.rep.Servers[0].Results[0]
	if result.Data.PeriodReadFailures != 1 || result.Data.TotalReadFailures != 3 {
		t.Fatalf("unexpected failure counters after 2nd period: %+v", result.Data)
	}
}

func TestClosePeriodResetsToAllNaN(t *testing.T) {
	w := &fakeWriter{}
	a := New(w)
	st := station()
	_ = a.ConfigureMeasurement(st, "temp", config.MeasurementDescriptor{})

	now := time.Unix(1_700_000_000, 0)
	_ = a.Submit(st, "temp", Sample{Timestamp: now, Value: 5.0, Class: Regular})
	_ = a.ClosePeriod(now)

	// second close with no submissions in between: n==0, stats are nil (mapped from NaN)
	if err := a.ClosePeriod(now.Add(time.Minute)); err != nil {
		t.Fatalf("close period: %v", err)
	}
	result := w.rep.Servers[0].Results[0]
	if result.Data.Statistics != nil {
		t.Fatalf("expected no statistics block for empty period, got %+v", result.Data.Statistics)
	}
	if result.Data.NumSamples != 0 {
		t.Fatalf("expected 0 samples, got %d", result.Data.NumSamples)
	}
}

func TestOverflowClassification(t *testing.T) {
	// Classification itself lives in package task; this exercises the
	// aggregator side: an Overflow sample stores NaN and only
	// increments overflow counters.
	w := &fakeWriter{}
	a := New(w)
	st := station()
	_ = a.ConfigureMeasurement(st, "level", config.MeasurementDescriptor{})

	now := time.Unix(1_700_000_000, 0)
	nan := func() float64 { var z float64; return z / z }()
	_ = a.Submit(st, "level", Sample{Timestamp: now, Value: nan, Class: Overflow})

	_ = a.ClosePeriod(now)
	result := w.rep.Servers[0].Results[0]
	if result.Data.PeriodOverflows != 1 || result.Data.TotalOverflows != 1 {
		t.Fatalf("unexpected overflow counters: %+v", result.Data)
	}
	if result.Data.NumSamples != 0 {
		t.Fatalf("overflow must not count as a regular sample")
	}
}
