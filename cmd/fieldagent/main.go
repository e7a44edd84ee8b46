// Command fieldagent talks Modbus RTU to field devices: it can run a
// persistent sampling+reporting loop from a config file, or perform a
// single one-shot read, write, bulk file transfer, or firmware update
// against one station.
package main

import (
	goflag "flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"k8s.io/klog/v2"

	"fieldagent/internal/aggregator"
	"fieldagent/internal/busclient"
	"fieldagent/internal/config"
	"fieldagent/internal/decode"
	"fieldagent/internal/firmware"
	"fieldagent/internal/scheduler"
	"fieldagent/internal/slave"
	"fieldagent/internal/task"
	"fieldagent/internal/valuekind"
)

// klogLogger adapts klog's package-level functions to the narrow
// Logger interfaces internal/task and internal/firmware depend on.
type klogLogger struct{}

func (klogLogger) Warnf(format string, args ...any)  { klog.Warningf(format, args...) }
func (klogLogger) Errorf(format string, args ...any) { klog.Errorf(format, args...) }
func (klogLogger) Infof(format string, args ...any)  { klog.V(1).Infof(format, args...) }

// Tracef implements busclient.Tracer: per-frame tracing only prints
// once verbosity reaches klog's V(2) gate, i.e. -vv or higher.
func (klogLogger) Tracef(format string, args ...any) { klog.V(2).Infof(format, args...) }

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := pflag.NewFlagSet("fieldagent", pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: fieldagent [-m file | -R | -W | -F | -U] [common flags] [args]")
		fmt.Fprintln(os.Stderr, fs.FlagUsages())
	}

	mode := fs.StringP("mode-config", "m", "", "scheduler mode: run continuously from this config file")
	reportPeriod := fs.Int64P("report-period", "r", 300, "report period in seconds (scheduler mode)")
	outDir := fs.StringP("out-dir", "o", "/tmp", "directory for report JSON files (scheduler mode)")

	singleRead := fs.BoolP("read", "R", false, "single read: <address> <regspec>")
	singleWrite := fs.BoolP("write", "W", false, "single write: <address> <value>")
	fileTransfer := fs.BoolP("file-transfer", "F", false, "bulk raw write: <address> <filename>")
	firmwareUpdate := fs.BoolP("firmware-update", "U", false, "firmware update: <filename-prefix>")

	device := fs.StringP("device", "d", "", "serial device path")
	lineConfig := fs.StringP("line-config", "c", "9600:8:N:1", `line config "baud:bits:parity:stops"`)
	answerTimeoutMs := fs.Int64P("answer-timeout", "a", 1000, "answer timeout in milliseconds")
	stationID := fs.Uint8P("station", "s", 1, "station id")
	logDir := fs.StringP("log-dir", "l", "", "log directory (empty = stderr)")
	logRotationSec := fs.Int64P("log-rotation", "t", 0, "periodic klog.Flush() interval in seconds (0 disables)")
	verbose := fs.CountP("verbose", "v", "increase bus trace verbosity (repeatable)")
	help := fs.BoolP("help", "h", false, "show usage")

	fs.SortFlags = false
	if err := fs.Parse(args); err != nil {
		return usageError(fs, err)
	}
	if *help {
		fs.Usage()
		return 0
	}

	setupLogging(*logDir, *logRotationSec, *verbose)
	defer klog.Flush()

	positional := fs.Args()

	switch {
	case *mode != "":
		return runScheduler(*mode, time.Duration(*reportPeriod)*time.Second, *outDir)

	case *singleRead:
		if len(positional) != 2 {
			return usageError(fs, fmt.Errorf("-R requires <address> <regspec>"))
		}
		return runSingleRead(commonBus(*device, *lineConfig, *answerTimeoutMs, *stationID), positional[0], positional[1])

	case *singleWrite:
		if len(positional) != 2 {
			return usageError(fs, fmt.Errorf("-W requires <address> <value>"))
		}
		return runSingleWrite(commonBus(*device, *lineConfig, *answerTimeoutMs, *stationID), positional[0], positional[1])

	case *fileTransfer:
		if len(positional) != 2 {
			return usageError(fs, fmt.Errorf("-F requires <address> <filename>"))
		}
		return runFileTransfer(commonBus(*device, *lineConfig, *answerTimeoutMs, *stationID), positional[0], positional[1])

	case *firmwareUpdate:
		if len(positional) != 1 {
			return usageError(fs, fmt.Errorf("-U requires <filename-prefix>"))
		}
		return runFirmwareUpdate(commonBus(*device, *lineConfig, *answerTimeoutMs, *stationID), positional[0])

	default:
		return usageError(fs, fmt.Errorf("exactly one of -m, -R, -W, -F, -U is required"))
	}
}

func usageError(fs *pflag.FlagSet, err error) int {
	fmt.Fprintln(os.Stderr, "fieldagent:", err)
	fs.Usage()
	return -1
}

// setupLogging wires klog to the -l/-t/-v flags. klog owns its own
// stdlib flag.FlagSet; InitFlags registers it once, then this
// translates our pflag values onto it.
func setupLogging(logDir string, rotationSec int64, verbosity int) {
	klogFlags := goflag.NewFlagSet("klog", goflag.ContinueOnError)
	klog.InitFlags(klogFlags)

	if logDir != "" {
		_ = klogFlags.Set("log_dir", logDir)
		_ = klogFlags.Set("logtostderr", "false")
		_ = klogFlags.Set("alsologtostderr", "true")
	}
	if verbosity > 0 {
		_ = klogFlags.Set("v", strconv.Itoa(verbosity))
	}

	if rotationSec > 0 {
		go func() {
			ticker := time.NewTicker(time.Duration(rotationSec) * time.Second)
			defer ticker.Stop()
			for range ticker.C {
				klog.Flush()
			}
		}()
	}
}

// commonBus bundles the flags shared by every single-shot mode into a
// busParams; open() turns it into a busclient.Config and connects, so
// the caller opens the connection lazily and a usage error never
// touches the serial port.
type busParams struct {
	device        string
	lineConfig    string
	answerTimeout time.Duration
	stationID     uint8
	trace         busclient.Tracer
}

func commonBus(device, lineConfig string, answerTimeoutMs int64, stationID uint8) busParams {
	return busParams{
		device:        device,
		lineConfig:    lineConfig,
		answerTimeout: time.Duration(answerTimeoutMs) * time.Millisecond,
		stationID:     stationID,
		trace:         klogLogger{},
	}
}

func (p busParams) open() (*busclient.BusClient, error) {
	baud, bits, parity, stops, err := parseLineConfig(p.lineConfig)
	if err != nil {
		return nil, err
	}
	return busclient.New(busclient.Config{
		DevicePath:    p.device,
		Baud:          baud,
		DataBits:      bits,
		Parity:        parity,
		StopBits:      stops,
		StationID:     p.stationID,
		Trace:         p.trace,
		AnswerTimeout: p.answerTimeout,
	})
}

// parseLineConfig parses "baud:bits:parity:stops", e.g. "9600:8:N:1".
func parseLineConfig(s string) (baud, bits int, parity byte, stops int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 {
		return 0, 0, 0, 0, fmt.Errorf("invalid line config %q, want baud:bits:parity:stops", s)
	}
	baud, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("invalid baud %q: %w", parts[0], err)
	}
	bits, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("invalid data bits %q: %w", parts[1], err)
	}
	if len(parts[2]) != 1 {
		return 0, 0, 0, 0, fmt.Errorf("invalid parity %q", parts[2])
	}
	parity = parts[2][0]
	stops, err = strconv.Atoi(parts[3])
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("invalid stop bits %q: %w", parts[3], err)
	}
	return baud, bits, parity, stops, nil
}

// parseRegspec implements the "{1|2|4}{l|b}" / "<N>r" grammar.
// raw=true with rawCount>0 signals a raw read of rawCount words.
func parseRegspec(spec string) (kind valuekind.Kind, endianness decode.Endianness, raw bool, rawCount int, err error) {
	if spec == "" {
		return 0, 0, false, 0, fmt.Errorf("empty regspec")
	}
	last := spec[len(spec)-1]
	if last == 'r' {
		n, err := strconv.Atoi(spec[:len(spec)-1])
		if err != nil || n <= 0 {
			return 0, 0, false, 0, fmt.Errorf("invalid raw regspec %q", spec)
		}
		return 0, 0, true, n, nil
	}
	if len(spec) != 2 || (last != 'l' && last != 'b') {
		return 0, 0, false, 0, fmt.Errorf("invalid regspec %q", spec)
	}
	switch spec[0] {
	case '1':
		kind = valuekind.U16
	case '2':
		kind = valuekind.U32
	case '4':
		kind = valuekind.U64
	default:
		return 0, 0, false, 0, fmt.Errorf("regsize must be 1, 2 or 4, got %q", spec)
	}
	if last == 'l' {
		endianness = decode.LittleWord
	} else {
		endianness = decode.BigWord
	}
	return kind, endianness, false, 0, nil
}

func runSingleRead(bp busParams, addrStr, regspec string) int {
	addr, err := strconv.ParseUint(addrStr, 0, 16)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fieldagent: invalid address:", err)
		return -1
	}

	kind, endianness, raw, rawCount, err := parseRegspec(regspec)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fieldagent:", err)
		return -1
	}

	bus, err := bp.open()
	if err != nil {
		fmt.Fprintln(os.Stderr, "fieldagent: connect failed:", err)
		return 1
	}
	defer bus.Close()

	if raw {
		words, err := bus.Read(config.Holding, uint16(addr), uint16(rawCount))
		if err != nil {
			fmt.Fprintln(os.Stderr, "fieldagent: read failed:", err)
			return 1
		}
		for i, w := range words {
			cur := addr + uint64(i)*2
			fmt.Printf("RAW READ: 0x%08x: 0x%04x (dec %d)\n", cur, w, w)
		}
		return 0
	}

	words, err := bus.Read(config.Holding, uint16(addr), uint16(kind.WordCount()))
	if err != nil {
		fmt.Fprintln(os.Stderr, "fieldagent: read failed:", err)
		return 1
	}
	value := decode.Words(words, kind, endianness)
	fmt.Printf("SINGLE READ REGISTER %d: %d\n", addr, value)
	return 0
}

func runSingleWrite(bp busParams, addrStr, valueStr string) int {
	addr, err := strconv.ParseUint(addrStr, 0, 16)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fieldagent: invalid address:", err)
		return -1
	}
	value, err := strconv.ParseUint(valueStr, 0, 32)
	if err != nil || value > math.MaxUint16 {
		fmt.Fprintln(os.Stderr, "fieldagent: invalid value: must be [0..65535]")
		return -1
	}

	bus, err := bp.open()
	if err != nil {
		fmt.Fprintln(os.Stderr, "fieldagent: connect failed:", err)
		return 1
	}
	defer bus.Close()

	if err := bus.WriteSingle(uint16(addr), uint16(value)); err != nil {
		fmt.Fprintln(os.Stderr, "fieldagent: write failed:", err)
		return 1
	}
	fmt.Printf("SINGLE WRITE REGISTER %d: %d\n", addr, value)
	return 0
}

func runFileTransfer(bp busParams, addrStr, filename string) int {
	addr, err := strconv.ParseUint(addrStr, 0, 16)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fieldagent: invalid address:", err)
		return -1
	}

	words, _, err := firmware.LoadImage(filename)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fieldagent:", err)
		return -1
	}

	bus, err := bp.open()
	if err != nil {
		fmt.Fprintln(os.Stderr, "fieldagent: connect failed:", err)
		return 1
	}
	defer bus.Close()

	if err := bus.WriteMultiple(uint16(addr), words); err != nil {
		fmt.Fprintln(os.Stderr, "fieldagent: file transfer failed:", err)
		return 1
	}
	fmt.Println("FILE TRANSFER completed")
	return 0
}

func runFirmwareUpdate(bp busParams, pathPrefix string) int {
	bus, err := bp.open()
	if err != nil {
		fmt.Fprintln(os.Stderr, "fieldagent: connect failed:", err)
		return 1
	}
	defer bus.Close()

	uploader := firmware.New(bus, klogLogger{})
	if err := uploader.Upload(pathPrefix); err != nil {
		fmt.Fprintln(os.Stderr, "fieldagent:", err)
		return 1
	}
	return 0
}

// runScheduler is the persistent sampling+reporting loop: one
// scheduler task per configured measurement, plus one aligned task per
// report period that closes the aggregator's current period.
func runScheduler(cfgPath string, reportPeriod time.Duration, outDir string) int {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		klog.Errorf("config load failed: %v", err)
		return -1
	}
	if err := config.Validate(cfg); err != nil {
		klog.Errorf("config validation failed: %v", err)
		return -1
	}
	if err := config.Normalize(cfg); err != nil {
		klog.Errorf("config normalization failed: %v", err)
		return -1
	}
	if reportPeriod < time.Second {
		klog.Errorf("report period %v is below the 1s minimum", reportPeriod)
		return -1
	}

	agg := aggregator.New(aggregator.FileWriter{Dir: outDir})
	sched := scheduler.New()
	log := klogLogger{}

	var closers []func() error

	for _, dev := range cfg.Devices {
		stationKey := aggregator.StationKey{DisplayName: dev.DisplayName, StationID: dev.StationID}

		var sl *slave.Slave
		if dev.Random {
			params := make(map[uint16]config.RandomParams)
			for _, m := range dev.Measurements {
				if m.Random != nil {
					params[m.RandomAddress] = *m.Random
				}
			}
			sl = slave.NewRandom(dev.StationID, dev.DisplayName, params, uint64(dev.StationID))
		} else {
			bus, err := busclient.New(busclient.FromTransport(dev.StationID, dev.Transport, log))
			if err != nil {
				klog.Errorf("device %s: connect failed: %v", dev.DisplayName, err)
				return 1
			}
			closers = append(closers, bus.Close)
			sl = slave.NewSerial(dev.StationID, dev.DisplayName, bus)
		}

		for _, m := range dev.Measurements {
			if err := agg.ConfigureMeasurement(stationKey, m.Name, m); err != nil {
				klog.Errorf("%v", err)
				return -1
			}

			desc := m
			taskName := fmt.Sprintf("%s/%s", dev.DisplayName, desc.Name)
			sched.AddTask(taskName, desc.Period, scheduler.AtStart, func(now time.Time) {
				task.Run(sl, desc, agg, stationKey, now, log)
			})
		}
	}

	sched.AddTask("report", reportPeriod, scheduler.AtMultiplesOfPeriod, func(now time.Time) {
		if err := agg.ClosePeriod(now); err != nil {
			klog.Errorf("close period failed: %v", err)
		}
	})

	defer func() {
		for _, c := range closers {
			_ = c()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		klog.Infof("received %v, shutting down", sig)
		sched.Shutdown()
	}()

	sched.Run()
	return 0
}
