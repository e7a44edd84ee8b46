package aggregator

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// Report is the top-level JSON document written once per closed period
// as the on-disk report JSON.
type Report struct {
	When     int64          `json:"when"`
	PeriodID uint64         `json:"period_id"`
	Servers  []ServerReport `json:"servers"`
}

// ServerReport groups every measurement result for one device.
type ServerReport struct {
	Name    string             `json:"name"`
	ID      int                `json:"id"`
	Results []MeasureReport    `json:"results"`
}

// MeasureReport is one measurement's data for the closed period.
type MeasureReport struct {
	MeasureName string             `json:"measure_name"`
	Descriptor  MeasureDescriptor  `json:"descriptor"`
	Data        MeasureData        `json:"data"`
}

// MeasureDescriptor echoes the static, per-measurement config that
// shapes how a consumer should interpret Data.
type MeasureDescriptor struct {
	Period           float64 `json:"period"`
	Accumulating     bool    `json:"accumulating"`
	ReportRawSamples bool    `json:"report_raw_samples"`
}

// MeasureData carries counters, optional statistics, and optional raw
// samples for one measurement's closed period.
type MeasureData struct {
	TotalReadFailures  uint64      `json:"total_read_failures"`
	PeriodReadFailures uint64      `json:"period_read_failures"`
	PeriodUnderflows   uint64      `json:"period_underflows"`
	TotalUnderflows    uint64      `json:"total_underflows"`
	PeriodOverflows    uint64      `json:"period_overflows"`
	TotalOverflows     uint64      `json:"total_overflows"`
	NumSamples         uint64      `json:"num_samples"`
	Statistics         *Statistics `json:"statistics,omitempty"`
	Samples            []RawSample `json:"samples,omitempty"`
}

// Statistics is the rounded {min,max,mean,stdev} block.
type Statistics struct {
	Min   *float64 `json:"min"`
	Max   *float64 `json:"max"`
	Mean  *float64 `json:"mean"`
	Stdev *float64 `json:"stdev"`
}

// RawSample is one verbatim (timestamp, value) pair, emitted only when
// the measurement's ReportRaw flag is set.
type RawSample struct {
	T int64   `json:"t"`
	V float64 `json:"v"`
}

// reportFileName produces the compact UTC timestamp file name
// "YYMMDDhhmm.json".
func reportFileName(now time.Time) string {
	return now.UTC().Format("0601021504") + ".json"
}

func buildReport(now time.Time, period uint64, results map[StationKey]map[string]*bucket) Report {
	report := Report{When: now.Unix(), PeriodID: period}

	for station, byName := range results {
		server := ServerReport{Name: station.DisplayName, ID: int(station.StationID)}

		for name, b := range byName {
			data := MeasureData{
				TotalReadFailures:  b.counts.totalReadFailures,
				PeriodReadFailures: b.counts.periodReadFailures,
				PeriodUnderflows:   b.counts.periodUnderflows,
				TotalUnderflows:    b.counts.totalUnderflows,
				PeriodOverflows:    b.counts.periodOverflows,
				TotalOverflows:     b.counts.totalOverflows,
				NumSamples:         uint64(len(b.samples)),
			}

			if len(b.samples) > 0 {
				data.Statistics = &Statistics{
					Min:   toJSONFloat(round3(b.last.min)),
					Max:   toJSONFloat(round3(b.last.max)),
					Mean:  toJSONFloat(round3(b.last.mean)),
					Stdev: toJSONFloat(round3(b.last.stdev)),
				}
			}

			if b.desc.ReportRaw {
				for _, s := range b.samples {
					data.Samples = append(data.Samples, RawSample{T: s.Timestamp.Unix(), V: s.Value})
				}
			}

			server.Results = append(server.Results, MeasureReport{
				MeasureName: name,
				Descriptor: MeasureDescriptor{
					Period:           b.desc.Period.Seconds(),
					Accumulating:     b.desc.Accumulating,
					ReportRawSamples: b.desc.ReportRaw,
				},
				Data: data,
			})
		}

		report.Servers = append(report.Servers, server)
	}

	return report
}

// toJSONFloat maps NaN to nil so encoding/json does not fail on a
// value it cannot represent; every other value passes through as a
// pointer so the field always renders even at zero.
func toJSONFloat(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

// FileWriter writes one report file per period into Dir.
type FileWriter struct {
	Dir string
}

// Write marshals r as indented JSON and writes it atomically-enough for
// a single-writer process: open, write, close within one call, so no
// reader ever observes a partially-written file.
func (w FileWriter) Write(name string, r Report) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return fmt.Errorf("aggregator: creating report dir %s: %w", w.Dir, err)
	}

	body, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("aggregator: marshaling report: %w", err)
	}

	path := filepath.Join(w.Dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return fmt.Errorf("aggregator: writing report %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("aggregator: finalizing report %s: %w", path, err)
	}
	return nil
}
