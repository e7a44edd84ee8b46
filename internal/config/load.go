package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"fieldagent/internal/decode"
	"fieldagent/internal/rangebound"
	"fieldagent/internal/valuekind"
)

// Load reads and parses the JSON descriptor file named by path,
// converting it into validated internal structures. It does not prune
// disabled entries or apply period defaulting; call Normalize for that.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errf("reading %s: %v", path, err)
	}

	var devices []wireDevice
	if err := json.Unmarshal(raw, &devices); err != nil {
		return nil, errf("parsing %s: %v", path, err)
	}

	cfg := &Config{}
	for _, wd := range devices {
		dd, err := convertDevice(wd)
		if err != nil {
			return nil, err
		}
		cfg.Devices = append(cfg.Devices, dd)
	}
	return cfg, nil
}

func convertDevice(wd wireDevice) (DeviceDescriptor, error) {
	if wd.Name == "" {
		return DeviceDescriptor{}, errf("device modbus_id=%d: name is required", wd.ModbusID)
	}
	if wd.ModbusID < 1 || wd.ModbusID > 247 {
		return DeviceDescriptor{}, errf("device %q: modbus_id %d out of range [1,247]", wd.Name, wd.ModbusID)
	}

	dd := DeviceDescriptor{
		StationID:   wd.ModbusID,
		DisplayName: wd.Name,
		Enabled:     wd.Enabled == nil || *wd.Enabled,
	}

	if wd.SamplingPeriod != nil {
		if *wd.SamplingPeriod < 1 {
			return DeviceDescriptor{}, errf("device %q: sampling_period must be >= 1", wd.Name)
		}
		dd.DefaultPeriod = time.Duration(*wd.SamplingPeriod) * time.Second
	}

	if wd.SerialDevice == "random" || wd.SerialDevice == "" && wd.LineConfig == "" {
		dd.Random = true
	} else {
		transport, err := convertTransport(wd)
		if err != nil {
			return DeviceDescriptor{}, err
		}
		dd.Transport = transport
	}

	for _, wm := range wd.Measures {
		md, err := convertMeasure(wd.Name, wm, dd.Random)
		if err != nil {
			return DeviceDescriptor{}, err
		}
		dd.Measurements = append(dd.Measurements, md)
	}

	return dd, nil
}

func convertTransport(wd wireDevice) (*SerialTransport, error) {
	if wd.SerialDevice == "" {
		return nil, errf("device %q: serial_device is required unless random", wd.Name)
	}
	baud, dataBits, parity, stopBits, err := parseLineConfig(wd.LineConfig)
	if err != nil {
		return nil, errf("device %q: %v", wd.Name, err)
	}

	answerMs := 1000
	if wd.AnsweringMs != nil {
		answerMs = *wd.AnsweringMs
	}
	if answerMs < 1 {
		return nil, errf("device %q: answering_time_ms must be >= 1", wd.Name)
	}

	return &SerialTransport{
		DevicePath:    wd.SerialDevice,
		Baud:          baud,
		DataBits:      dataBits,
		Parity:        parity,
		StopBits:      stopBits,
		AnswerTimeout: time.Duration(answerMs) * time.Millisecond,
	}, nil
}

// parseLineConfig parses "baud:bits:parity:stops".
func parseLineConfig(s string) (baud, dataBits int, parity byte, stopBits int, err error) {
	if s == "" {
		s = "9600:8:N:1"
	}
	parts := strings.Split(s, ":")
	if len(parts) != 4 {
		return 0, 0, 0, 0, fmt.Errorf("invalid line_config %q: want baud:bits:parity:stops", s)
	}
	baud, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("invalid baud in line_config %q", s)
	}
	dataBits, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("invalid data bits in line_config %q", s)
	}
	if len(parts[2]) != 1 || strings.IndexByte("NEO", parts[2][0]) < 0 {
		return 0, 0, 0, 0, fmt.Errorf("invalid parity in line_config %q: want one of N,E,O", s)
	}
	parity = parts[2][0]
	stopBits, err = strconv.Atoi(parts[3])
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("invalid stop bits in line_config %q", s)
	}
	return baud, dataBits, parity, stopBits, nil
}

func convertMeasure(deviceName string, wm wireMeasure, deviceIsRandom bool) (MeasurementDescriptor, error) {
	if wm.Name == "" {
		return MeasurementDescriptor{}, errf("device %q: measure with empty name", deviceName)
	}

	md := MeasurementDescriptor{
		Name:         wm.Name,
		Enabled:      wm.Enabled == nil || *wm.Enabled,
		Accumulating: wm.Accumulating != nil && *wm.Accumulating,
		ReportRaw:    wm.ReportRawSamples != nil && *wm.ReportRawSamples,
	}

	if wm.SamplingPeriod != nil {
		if *wm.SamplingPeriod < 0 {
			return MeasurementDescriptor{}, errf("device %q measure %q: sampling_period must be >= 0", deviceName, wm.Name)
		}
		md.Period = time.Duration(*wm.SamplingPeriod) * time.Second
	}

	if deviceIsRandom || wm.Source.RandomMeanDev != nil {
		rp, err := parseRandomMeanDev(*orEmpty(wm.Source.RandomMeanDev))
		if err != nil {
			return MeasurementDescriptor{}, errf("device %q measure %q: %v", deviceName, wm.Name, err)
		}
		md.Random = &rp
		md.RandomAddress = wm.Source.Address
		return md, nil
	}

	src, err := convertSource(deviceName, wm.Name, wm.Source)
	if err != nil {
		return MeasurementDescriptor{}, err
	}
	md.Source = src
	return md, nil
}

func orEmpty(s *string) *string {
	if s == nil {
		empty := ""
		return &empty
	}
	return s
}

// parseRandomMeanDev parses "mean,stdev".
func parseRandomMeanDev(s string) (RandomParams, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return RandomParams{}, fmt.Errorf("invalid random_mean_dev %q: want mean,stdev", s)
	}
	mean, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return RandomParams{}, fmt.Errorf("invalid random_mean_dev mean %q", parts[0])
	}
	stdev, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return RandomParams{}, fmt.Errorf("invalid random_mean_dev stdev %q", parts[1])
	}
	return RandomParams{Mean: mean, Stdev: stdev}, nil
}

func convertSource(deviceName, measureName string, ws wireSource) (*SourceRegister, error) {
	kind, err := valuekind.ParseKind(ws.ValueType)
	if err != nil {
		return nil, errf("device %q measure %q: %v", deviceName, measureName, err)
	}
	endianness, err := decode.ParseEndianness(ws.Endianess)
	if err != nil {
		return nil, errf("device %q measure %q: %v", deviceName, measureName, err)
	}
	regKind, err := parseRegisterKind(ws.RegType)
	if err != nil {
		return nil, errf("device %q measure %q: %v", deviceName, measureName, err)
	}
	if ws.ScaleFactor == nil {
		return nil, errf("device %q measure %q: scale_factor is required", deviceName, measureName)
	}
	scale := *ws.ScaleFactor
	if isNaNOrInf(scale) {
		return nil, errf("device %q measure %q: scale_factor must be finite", deviceName, measureName)
	}

	minBound := rangebound.MinOf(kind)
	if ws.MinReadValue != nil {
		minBound, err = rangebound.Parse(*ws.MinReadValue, kind)
		if err != nil {
			return nil, errf("device %q measure %q: min_read_value: %v", deviceName, measureName, err)
		}
	}
	maxBound := rangebound.MaxOf(kind)
	if ws.MaxReadValue != nil {
		maxBound, err = rangebound.Parse(*ws.MaxReadValue, kind)
		if err != nil {
			return nil, errf("device %q measure %q: max_read_value: %v", deviceName, measureName, err)
		}
	}

	if !boundLessEq(minBound, maxBound, kind) {
		return nil, errf("device %q measure %q: min_read_value must be <= max_read_value", deviceName, measureName)
	}

	return &SourceRegister{
		Address:    ws.Address,
		Kind:       regKind,
		Endianness: endianness,
		ValueKind:  kind,
		Scale:      scale,
		MinAccept:  minBound,
		MaxAccept:  maxBound,
	}, nil
}

func boundLessEq(min, max rangebound.Bound, kind valuekind.Kind) bool {
	if kind.Signed() {
		a, _ := min.AsSigned()
		b, _ := max.AsSigned()
		return a <= b
	}
	a, _ := min.AsUnsigned()
	b, _ := max.AsUnsigned()
	return a <= b
}

func isNaNOrInf(f float64) bool {
	return math.IsNaN(f) || math.IsInf(f, 0)
}
