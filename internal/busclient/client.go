// Package busclient drives one Modbus RTU device over a half-duplex
// serial line, using github.com/goburrow/modbus for frame construction
// and github.com/goburrow/serial for the physical link.
package busclient

import (
	"fmt"
	"time"

	"github.com/goburrow/modbus"

	"fieldagent/internal/config"
)

// TransportError reports a bus-level failure: timeout, CRC mismatch,
// framing error, wrong response count, or a write echo mismatch.
type TransportError struct {
	Op      string
	Station uint8
	Address uint16
	Chunk   int // set only for write_multiple chunk failures; -1 otherwise
	Err     error
}

func (e *TransportError) Error() string {
	if e.Chunk >= 0 {
		return fmt.Sprintf("busclient: %s station=%d addr=%d chunk=%d: %v", e.Op, e.Station, e.Address, e.Chunk, e.Err)
	}
	return fmt.Sprintf("busclient: %s station=%d addr=%d: %v", e.Op, e.Station, e.Address, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// maxWriteWords is the per-frame maximum enforced by function code 0x10;
// write_multiple splits larger payloads transparently.
const maxWriteWords = 123

// Tracer receives one line per Modbus frame issued, gated by the
// caller on verbosity (klog V(2) in the CLI). Implementations must not
// block; a nil Tracer disables tracing entirely.
type Tracer interface {
	Tracef(format string, args ...any)
}

// rtuClient is the subset of *modbus.RTUClientHandler + modbus.Client
// behavior BusClient depends on, narrowed for substitution in tests.
type rtuClient interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
	WriteSingleRegister(address, value uint16) ([]byte, error)
	WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error)
}

type handle interface {
	Connect() error
	Close() error
}

// BusClient performs framed reads and writes against one device
// addressed by station id, with link-level recovery after a detected
// protocol or link error.
type BusClient struct {
	station uint8
	handler handle
	client  rtuClient
	trace   Tracer

	// reconnect rebuilds handler+client from scratch; used both at
	// construction and after a recovery.
	reconnect func() (handle, rtuClient, error)
}

// Config carries everything needed to open one RTU session.
type Config struct {
	DevicePath    string
	Baud          int
	DataBits      int
	Parity        byte // 'N', 'E', 'O'
	StopBits      int
	StationID     uint8
	AnswerTimeout time.Duration
	Trace         Tracer // optional; nil disables per-frame tracing
}

// FromTransport builds a Config from a parsed device descriptor.
func FromTransport(stationID uint8, t *config.SerialTransport, trace Tracer) Config {
	return Config{
		DevicePath:    t.DevicePath,
		Baud:          t.Baud,
		DataBits:      t.DataBits,
		Parity:        t.Parity,
		StopBits:      t.StopBits,
		StationID:     stationID,
		AnswerTimeout: t.AnswerTimeout,
		Trace:         trace,
	}
}

// New opens an RTU session for one device.
func New(cfg Config) (*BusClient, error) {
	build := func() (handle, rtuClient, error) {
		h := modbus.NewRTUClientHandler(cfg.DevicePath)
		h.BaudRate = cfg.Baud
		h.DataBits = cfg.DataBits
		h.Parity = string(cfg.Parity)
		h.StopBits = cfg.StopBits
		h.SlaveId = cfg.StationID
		h.Timeout = cfg.AnswerTimeout

		if err := h.Connect(); err != nil {
			return nil, nil, err
		}
		return h, modbus.NewClient(h), nil
	}

	h, c, err := build()
	if err != nil {
		return nil, err
	}

	return &BusClient{
		station:   cfg.StationID,
		handler:   h,
		client:    c,
		trace:     cfg.Trace,
		reconnect: build,
	}, nil
}

// tracef forwards to the configured Tracer, if any.
func (b *BusClient) tracef(format string, args ...any) {
	if b.trace != nil {
		b.trace.Tracef(format, args...)
	}
}

// Close releases the underlying serial handle.
func (b *BusClient) Close() error {
	if b.handler == nil {
		return nil
	}
	return b.handler.Close()
}

// recover closes and reopens the link after a detected protocol/link
// error. Failure to reconnect is swallowed; the caller's original error
// still surfaces.
func (b *BusClient) recover() {
	if b.handler != nil {
		_ = b.handler.Close()
	}
	h, c, err := b.reconnect()
	if err != nil {
		return
	}
	b.handler = h
	b.client = c
}

// fcName names the read function code for tracing.
func fcName(kind config.RegisterKind) string {
	if kind == config.Input {
		return "read_input(0x04)"
	}
	return "read_holding(0x03)"
}

// Read issues read-holding (0x03) or read-input (0x04) depending on
// kind, and returns exactly count words.
func (b *BusClient) Read(kind config.RegisterKind, address, count uint16) ([]uint16, error) {
	start := time.Now()
	var payload []byte
	var err error

	switch kind {
	case config.Holding:
		payload, err = b.client.ReadHoldingRegisters(address, count)
	case config.Input:
		payload, err = b.client.ReadInputRegisters(address, count)
	default:
		return nil, &TransportError{Op: "read", Station: b.station, Address: address, Chunk: -1, Err: fmt.Errorf("unknown register kind %v", kind)}
	}

	if err != nil {
		b.recover()
		b.tracef("%s station=%d addr=%d count=%d elapsed=%s err=%v", fcName(kind), b.station, address, count, time.Since(start), err)
		return nil, &TransportError{Op: "read", Station: b.station, Address: address, Chunk: -1, Err: err}
	}

	if len(payload) != int(count)*2 {
		b.recover()
		werr := fmt.Errorf("expected %d words (%d bytes), got %d bytes", count, count*2, len(payload))
		b.tracef("%s station=%d addr=%d count=%d elapsed=%s err=%v", fcName(kind), b.station, address, count, time.Since(start), werr)
		return nil, &TransportError{Op: "read", Station: b.station, Address: address, Chunk: -1, Err: werr}
	}

	words := unpackWords(payload)
	b.tracef("%s station=%d addr=%d count=%d elapsed=%s words=%v", fcName(kind), b.station, address, count, time.Since(start), words)
	return words, nil
}

// WriteSingle issues function 0x06 and fails if the echoed value does
// not match what was sent.
func (b *BusClient) WriteSingle(address, word uint16) error {
	start := time.Now()
	echo, err := b.client.WriteSingleRegister(address, word)
	if err != nil {
		b.recover()
		b.tracef("write_single(0x06) station=%d addr=%d value=%d elapsed=%s err=%v", b.station, address, word, time.Since(start), err)
		return &TransportError{Op: "write_single", Station: b.station, Address: address, Chunk: -1, Err: err}
	}
	if len(echo) != 2 || unpackWords(echo)[0] != word {
		b.recover()
		werr := fmt.Errorf("echo mismatch")
		b.tracef("write_single(0x06) station=%d addr=%d value=%d elapsed=%s err=%v", b.station, address, word, time.Since(start), werr)
		return &TransportError{Op: "write_single", Station: b.station, Address: address, Chunk: -1, Err: werr}
	}
	b.tracef("write_single(0x06) station=%d addr=%d value=%d elapsed=%s ok", b.station, address, word, time.Since(start))
	return nil
}

// WriteMultiple issues function 0x10, splitting into consecutive
// maxWriteWords-sized chunks transparently. A chunk failure identifies
// its index; earlier chunks remain written.
func (b *BusClient) WriteMultiple(address uint16, words []uint16) error {
	for i := 0; i < len(words); i += maxWriteWords {
		end := i + maxWriteWords
		if end > len(words) {
			end = len(words)
		}
		chunk := words[i:end]
		chunkAddr := address + uint16(i)

		start := time.Now()
		payload := packWords(chunk)
		_, err := b.client.WriteMultipleRegisters(chunkAddr, uint16(len(chunk)), payload)
		if err != nil {
			b.recover()
			b.tracef("write_multiple(0x10) station=%d addr=%d count=%d elapsed=%s err=%v", b.station, chunkAddr, len(chunk), time.Since(start), err)
			return &TransportError{
				Op: "write_multiple", Station: b.station, Address: address,
				Chunk: i / maxWriteWords, Err: err,
			}
		}
		b.tracef("write_multiple(0x10) station=%d addr=%d count=%d elapsed=%s ok", b.station, chunkAddr, len(chunk), time.Since(start))
	}
	return nil
}

func unpackWords(data []byte) []uint16 {
	out := make([]uint16, len(data)/2)
	for i := range out {
		out[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return out
}

func packWords(words []uint16) []byte {
	out := make([]byte, len(words)*2)
	for i, w := range words {
		out[2*i] = byte(w >> 8)
		out[2*i+1] = byte(w)
	}
	return out
}
