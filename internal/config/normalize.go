// internal/config/normalize.go
package config

import "time"

// Normalize applies pruning and period defaulting to a validated
// configuration. It is allowed to mutate cfg and MUST be called only
// after Validate().
// Disabled devices are dropped entirely; within enabled devices,
// disabled measurements are dropped. A measurement with Period == 0
// inherits its device's DefaultPeriod. Once defaulted, every surviving
// measurement's effective period must be at least one second; a
// period of 0 would make the scheduler divide by zero the first time
// it reschedules that task, so this is reported as a ConfigError
// instead of reaching the scheduler at all.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	enabled := cfg.Devices[:0]
	for _, d := range cfg.Devices {
		if !d.Enabled {
			continue
		}

		kept := d.Measurements[:0]
		for _, m := range d.Measurements {
			if !m.Enabled {
				continue
			}
			if m.Period == 0 {
				m.Period = d.DefaultPeriod
			}
			if m.Period < time.Second {
				return errf("device %q measure %q: effective sampling_period %v is below the 1s minimum", d.DisplayName, m.Name, m.Period)
			}
			kept = append(kept, m)
		}
		d.Measurements = kept

		enabled = append(enabled, d)
	}
	cfg.Devices = enabled
	return nil
}
