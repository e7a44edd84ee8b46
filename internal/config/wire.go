package config

// wireDevice mirrors the on-disk JSON shape before validation and type
// conversion.
type wireDevice struct {
	ModbusID       uint8          `json:"modbus_id"`
	Name           string         `json:"name"`
	SerialDevice   string         `json:"serial_device"`
	Enabled        *bool          `json:"enabled"`
	SamplingPeriod *int           `json:"sampling_period"`
	LineConfig     string         `json:"line_config"`
	AnsweringMs    *int           `json:"answering_time_ms"`
	Measures       []wireMeasure  `json:"measures"`
}

type wireMeasure struct {
	Name              string      `json:"name"`
	SamplingPeriod    *int        `json:"sampling_period"`
	Enabled           *bool       `json:"enabled"`
	Accumulating      *bool       `json:"accumulating"`
	ReportRawSamples  *bool       `json:"report_raw_samples"`
	Source            wireSource  `json:"source"`
}

type wireSource struct {
	Address       uint16   `json:"address"`
	Endianess     string   `json:"endianess"`
	RegType       string   `json:"reg_type"`
	ValueType     string   `json:"value_type"`
	ScaleFactor   *float64 `json:"scale_factor"`
	MinReadValue  *string  `json:"min_read_value"`
	MaxReadValue  *string  `json:"max_read_value"`
	RandomMeanDev *string  `json:"random_mean_dev"`
}
