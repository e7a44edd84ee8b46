// Package task implements one sampling of a measurement descriptor
// against a slave, submitting the resulting sample to an aggregator.
package task

import (
	"errors"
	"time"

	"fieldagent/internal/aggregator"
	"fieldagent/internal/busclient"
	"fieldagent/internal/config"
	"fieldagent/internal/decode"
	"fieldagent/internal/slave"
	"fieldagent/internal/valuekind"
)

// Sink is the narrow surface MeasurementTask needs from an aggregator,
// letting tests substitute a fake without depending on aggregator internals.
type Sink interface {
	Submit(stationKey aggregator.StationKey, name string, sample aggregator.Sample) error
}

// Logger receives task-level diagnostics. Read failures are Warn; any
// other unexpected condition is Error. Implementations must not block.
type Logger interface {
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Run performs exactly one sampling of desc against sl, submitting the
// outcome to sink under stationKey. A TransportError never propagates:
// it is recorded as a ReadFailure sample and logged at Warn.
func Run(sl *slave.Slave, desc config.MeasurementDescriptor, sink Sink, stationKey aggregator.StationKey, now time.Time, log Logger) {
	if desc.Random != nil {
		runRandom(sl, desc, sink, stationKey, now, log)
		return
	}
	runSourced(sl, desc, sink, stationKey, now, log)
}

func runRandom(sl *slave.Slave, desc config.MeasurementDescriptor, sink Sink, stationKey aggregator.StationKey, now time.Time, log Logger) {
	// Random sources have no thresholds to classify against; every
	// successful read is Regular, scaled by 1.0.
	reg, err := sl.ReadTyped(config.Holding, desc.RandomAddress, valuekind.I64, decode.LittleWord)
	if err != nil {
		submitFailure(sink, stationKey, desc.Name, now, log, err)
		return
	}
	sample := aggregator.Sample{Timestamp: now, Value: float64(reg), Class: aggregator.Regular}
	submit(sink, stationKey, desc.Name, sample, log)
}

func runSourced(sl *slave.Slave, desc config.MeasurementDescriptor, sink Sink, stationKey aggregator.StationKey, now time.Time, log Logger) {
	src := desc.Source

	reg, err := sl.ReadTyped(src.Kind, src.Address, src.ValueKind, src.Endianness)
	if err != nil {
		var te *busclient.TransportError
		var nc *slave.NotConfigured
		if errors.As(err, &te) || errors.As(err, &nc) {
			submitFailure(sink, stationKey, desc.Name, now, log, err)
			return
		}
		// Any other unexpected error is still recorded as a read
		// failure; the task must never kill the scheduler loop.
		submitFailure(sink, stationKey, desc.Name, now, log, err)
		return
	}

	signed := src.ValueKind.Signed()
	class, normalized := classify(reg, signed, src)

	var value float64
	switch class {
	case aggregator.Regular:
		value = normalized * src.Scale
	default:
		value = mathNaN()
	}

	sample := aggregator.Sample{Timestamp: now, Value: value, Class: class}
	submit(sink, stationKey, desc.Name, sample, log)
}

// classify compares the decoded register against the descriptor's
// thresholds in the domain implied by ValueKind, returning the
// classification and the value (still unscaled) in that domain.
func classify(reg int64, signed bool, src *config.SourceRegister) (aggregator.SampleClass, float64) {
	if signed {
		min, _ := src.MinAccept.AsSigned()
		max, _ := src.MaxAccept.AsSigned()
		switch {
		case reg < min:
			return aggregator.Underflow, 0
		case reg > max:
			return aggregator.Overflow, 0
		default:
			return aggregator.Regular, float64(reg)
		}
	}

	unsigned := decode.Reinterpret(reg, src.ValueKind)
	min, _ := src.MinAccept.AsUnsigned()
	max, _ := src.MaxAccept.AsUnsigned()
	switch {
	case unsigned < min:
		return aggregator.Underflow, 0
	case unsigned > max:
		return aggregator.Overflow, 0
	default:
		return aggregator.Regular, float64(unsigned)
	}
}

func submitFailure(sink Sink, stationKey aggregator.StationKey, name string, now time.Time, log Logger, err error) {
	sample := aggregator.Sample{Timestamp: now, Value: mathNaN(), Class: aggregator.ReadFailure}
	if log != nil {
		log.Warnf("measurement %q on station %v: read failed: %v", name, stationKey, err)
	}
	submit(sink, stationKey, name, sample, log)
}

func submit(sink Sink, stationKey aggregator.StationKey, name string, sample aggregator.Sample, log Logger) {
	if err := sink.Submit(stationKey, name, sample); err != nil && log != nil {
		log.Errorf("measurement %q on station %v: submit failed: %v", name, stationKey, err)
	}
}

func mathNaN() float64 {
	var zero float64
	return zero / zero
}
