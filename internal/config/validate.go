// internal/config/validate.go
package config

// Validate checks configuration correctness across devices. It performs
// declarative validation only and MUST NOT mutate cfg.
func Validate(cfg *Config) error {
	// ------------------------------------------------------------
	// STATION ID UNIQUENESS (ENABLED DEVICES ONLY)
	// ------------------------------------------------------------

	stationOwner := make(map[uint8]string)

	for _, d := range cfg.Devices {
		if !d.Enabled {
			continue
		}
		if prev, exists := stationOwner[d.StationID]; exists {
			return errf("station_id %d used by both %q and %q", d.StationID, prev, d.DisplayName)
		}
		stationOwner[d.StationID] = d.DisplayName

		// ------------------------------------------------------------
		// MEASUREMENT NAME UNIQUENESS WITHIN A DEVICE
		// ------------------------------------------------------------

		names := make(map[string]struct{})
		for _, m := range d.Measurements {
			if !m.Enabled {
				continue
			}
			if _, dup := names[m.Name]; dup {
				return errf("device %q: duplicate measurement name %q", d.DisplayName, m.Name)
			}
			names[m.Name] = struct{}{}

			if m.Source == nil && m.Random == nil {
				return errf("device %q measure %q: neither source nor random configured", d.DisplayName, m.Name)
			}
		}
	}

	return nil
}
