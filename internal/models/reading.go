package models

import (
	"time"
)

// Quantity identifies a monitored physical value
type Quantity string

const (
	// QuantityTemperature is the air temperature from the DHT22, in degrees Celsius
	QuantityTemperature Quantity = "temp"
	// QuantityHumidity is the relative humidity from the DHT22, in percent
	QuantityHumidity Quantity = "hum"
	// QuantityProbeTemperature is the DS18B20 probe temperature. Reported, never evaluated.
	QuantityProbeTemperature Quantity = "probe_temp"
)

// IsValid reports whether q is a known quantity
func (q Quantity) IsValid() bool {
	switch q {
	case QuantityTemperature, QuantityHumidity, QuantityProbeTemperature:
		return true
	default:
		return false
	}
}

// Reading is a single sample of one quantity
type Reading struct {
	Quantity Quantity `json:"quantity"`
	Value    float64  `json:"value"`

	// Fallback is set when the sensor failed and Value is a last-known
	// value or the configured sentinel.
	Fallback bool `json:"fallback,omitempty"`
}

// Readings is one acquisition cycle across all sensors
type Readings struct {
	Temperature      Reading   `json:"temperature"`
	Humidity         Reading   `json:"humidity"`
	ProbeTemperature Reading   `json:"probe_temperature"`
	SampledAt        time.Time `json:"sampled_at"`
}

// NewReadings builds a Readings value stamped with the current time
func NewReadings(temp, hum, probe float64) Readings {
	return Readings{
		Temperature:      Reading{Quantity: QuantityTemperature, Value: temp},
		Humidity:         Reading{Quantity: QuantityHumidity, Value: hum},
		ProbeTemperature: Reading{Quantity: QuantityProbeTemperature, Value: probe},
		SampledAt:        time.Now().UTC(),
	}
}

// AnyFallback reports whether any reading in the cycle is a fallback value
func (r Readings) AnyFallback() bool {
	return r.Temperature.Fallback || r.Humidity.Fallback || r.ProbeTemperature.Fallback
}

// Telemetry is the periodic payload published on the data topic
type Telemetry struct {
	DeviceID  string    `json:"device_id"`
	DHTTemp   float64   `json:"dht_temp"`
	DHTHum    float64   `json:"dht_hum"`
	DSTemp    float64   `json:"ds_temp"`
	Fallback  bool      `json:"fallback,omitempty"`
	Alerting  bool      `json:"alerting"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTelemetry converts a cycle into the wire payload
func NewTelemetry(deviceID string, r Readings, alerting bool) Telemetry {
	return Telemetry{
		DeviceID:  deviceID,
		DHTTemp:   r.Temperature.Value,
		DHTHum:    r.Humidity.Value,
		DSTemp:    r.ProbeTemperature.Value,
		Fallback:  r.AnyFallback(),
		Alerting:  alerting,
		Timestamp: r.SampledAt,
	}
}
