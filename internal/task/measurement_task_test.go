package task

import (
	"math"
	"testing"
	"time"

	"fieldagent/internal/aggregator"
	"fieldagent/internal/config"
	"fieldagent/internal/decode"
	"fieldagent/internal/rangebound"
	"fieldagent/internal/slave"
	"fieldagent/internal/valuekind"
)

type fakeSink struct {
	submitted []aggregator.Sample
}

func (f *fakeSink) Submit(_ aggregator.StationKey, _ string, sample aggregator.Sample) error {
	f.submitted = append(f.submitted, sample)
	return nil
}

type nopLogger struct{}

func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}

func TestOverflowClampedValueStoredAsNaN(t *testing.T) {
	minB, _ := rangebound.Parse("0", valuekind.U16)
	maxB, _ := rangebound.Parse("1000", valuekind.U16)

	sl := slave.NewRandom(1, "dev", map[uint16]config.RandomParams{100: {Mean: 1001, Stdev: 0}}, 1)

	desc := config.MeasurementDescriptor{
		Name: "level",
		Source: &config.SourceRegister{
			Address:    100,
			ValueKind:  valuekind.U16,
			Endianness: decode.LittleWord,
			Scale:      1,
			MinAccept:  minB,
			MaxAccept:  maxB,
		},
	}

	sink := &fakeSink{}
	Run(sl, desc, sink, aggregator.StationKey{DisplayName: "dev", StationID: 1}, time.Now(), nopLogger{})

	if len(sink.submitted) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(sink.submitted))
	}
	if sink.submitted[0].Class != aggregator.Overflow {
		t.Fatalf("expected Overflow, got %v", sink.submitted[0].Class)
	}
	if !math.IsNaN(sink.submitted[0].Value) {
		t.Fatalf("expected NaN value for Overflow, got %v", sink.submitted[0].Value)
	}
}

func TestRegularScaling(t *testing.T) {
	minB, _ := rangebound.Parse("0", valuekind.U16)
	maxB, _ := rangebound.Parse("1000", valuekind.U16)

	sl := slave.NewRandom(1, "dev", map[uint16]config.RandomParams{100: {Mean: 100, Stdev: 0}}, 1)

	desc := config.MeasurementDescriptor{
		Name: "level",
		Source: &config.SourceRegister{
			Address:    100,
			ValueKind:  valuekind.U16,
			Endianness: decode.LittleWord,
			Scale:      0.5,
			MinAccept:  minB,
			MaxAccept:  maxB,
		},
	}

	sink := &fakeSink{}
	Run(sl, desc, sink, aggregator.StationKey{DisplayName: "dev", StationID: 1}, time.Now(), nopLogger{})

	if sink.submitted[0].Class != aggregator.Regular {
		t.Fatalf("expected Regular, got %v", sink.submitted[0].Class)
	}
	if sink.submitted[0].Value != 50 {
		t.Fatalf("expected scaled value 50, got %v", sink.submitted[0].Value)
	}
}

func TestReadFailureClass(t *testing.T) {
	sl := slave.NewRandom(1, "dev", map[uint16]config.RandomParams{}, 1) // address 100 not configured

	minB, _ := rangebound.Parse("0", valuekind.U16)
	maxB, _ := rangebound.Parse("1000", valuekind.U16)
	desc := config.MeasurementDescriptor{
		Name: "level",
		Source: &config.SourceRegister{
			Address:    100,
			ValueKind:  valuekind.U16,
			Endianness: decode.LittleWord,
			Scale:      1,
			MinAccept:  minB,
			MaxAccept:  maxB,
		},
	}

	sink := &fakeSink{}
	Run(sl, desc, sink, aggregator.StationKey{DisplayName: "dev", StationID: 1}, time.Now(), nopLogger{})

	if sink.submitted[0].Class != aggregator.ReadFailure {
		t.Fatalf("expected ReadFailure, got %v", sink.submitted[0].Class)
	}
}
