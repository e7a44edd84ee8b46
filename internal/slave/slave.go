// Package slave provides a polymorphic data source: either a
// busclient.BusClient-backed device or a pseudo-random source for
// tests, exposing the same read surface.
package slave

import (
	"fmt"
	"math/rand/v2"

	"fieldagent/internal/busclient"
	"fieldagent/internal/config"
	"fieldagent/internal/decode"
	"fieldagent/internal/valuekind"
)

// NotConfigured reports a Random source read against an address with
// no bound distribution.
type NotConfigured struct {
	Address uint16
}

func (e *NotConfigured) Error() string {
	return fmt.Sprintf("slave: address %d not configured on random source", e.Address)
}

// Slave is a sum type over the two data-source variants; exactly one of
// bus or random is set, chosen at construction and never re-tagged.
type Slave struct {
	station uint8
	name    string

	bus    *busclient.BusClient // non-nil for the Serial variant
	random map[uint16]*rand.Rand
	means  map[uint16]float64
	stdevs map[uint16]float64
}

// NewSerial wraps an already-open BusClient.
func NewSerial(station uint8, name string, bus *busclient.BusClient) *Slave {
	return &Slave{station: station, name: name, bus: bus}
}

// NewRandom builds a synthetic source. Each address is bound at
// construction to a normal distribution N(mean, stdev); seed varies per
// address so independently-configured addresses do not correlate.
func NewRandom(station uint8, name string, params map[uint16]config.RandomParams, seed uint64) *Slave {
	s := &Slave{
		station: station,
		name:    name,
		random:  make(map[uint16]*rand.Rand, len(params)),
		means:   make(map[uint16]float64, len(params)),
		stdevs:  make(map[uint16]float64, len(params)),
	}
	i := uint64(0)
	for addr, p := range params {
		s.random[addr] = rand.New(rand.NewPCG(seed, i))
		s.means[addr] = p.Mean
		s.stdevs[addr] = p.Stdev
		i++
	}
	return s
}

// ID returns the station id addressing this slave.
func (s *Slave) ID() uint8 { return s.station }

// Name returns the display name of this slave.
func (s *Slave) Name() string { return s.name }

// IsRandom reports whether this slave is the synthetic test source.
func (s *Slave) IsRandom() bool { return s.random != nil }

// ReadTyped reads and decodes a value_kind-wide scalar. Random ignores
// kind and endianness; an unconfigured address fails with NotConfigured.
func (s *Slave) ReadTyped(kind config.RegisterKind, address uint16, vk valuekind.Kind, endianness decode.Endianness) (int64, error) {
	if s.IsRandom() {
		gen, ok := s.random[address]
		if !ok {
			return 0, &NotConfigured{Address: address}
		}
		sample := s.means[address] + s.stdevs[address]*gen.NormFloat64()
		return clampToKind(sample, vk), nil
	}

	words, err := s.bus.Read(kind, address, uint16(vk.WordCount()))
	if err != nil {
		return 0, err
	}
	return decode.Words(words, vk, endianness), nil
}

// ReadRaw reads count untyped words verbatim. Unsupported for Random.
func (s *Slave) ReadRaw(kind config.RegisterKind, address, count uint16) ([]uint16, error) {
	if s.IsRandom() {
		return nil, fmt.Errorf("slave: raw read unsupported on random source")
	}
	return s.bus.Read(kind, address, count)
}

// WriteSingle writes one register. Unsupported for Random.
func (s *Slave) WriteSingle(address, word uint16) error {
	if s.IsRandom() {
		return fmt.Errorf("slave: write unsupported on random source")
	}
	return s.bus.WriteSingle(address, word)
}

// WriteMultiple writes a contiguous register range. Unsupported for Random.
func (s *Slave) WriteMultiple(address uint16, words []uint16) error {
	if s.IsRandom() {
		return fmt.Errorf("slave: write unsupported on random source")
	}
	return s.bus.WriteMultiple(address, words)
}

// clampToKind rounds and truncates a synthetic sample into kind's
// 64-bit-wide decode domain, mirroring the truncation a real bus read
// would apply.
func clampToKind(v float64, kind valuekind.Kind) int64 {
	rounded := int64(v + sign(v)*0.5)
	if kind.Signed() {
		return rounded
	}
	return int64(decode.Reinterpret(rounded, kind))
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
