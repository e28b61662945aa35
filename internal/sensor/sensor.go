// Package sensor samples the climate sensors. Reads never fail: a faulty
// sensor yields a substitute value flagged as a fallback.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"coldwatch/internal/logger"
	"coldwatch/internal/metrics"
	"coldwatch/internal/models"
)

// Sensor label values for the failure metric
const (
	sensorDHT   = "dht22"
	sensorProbe = "ds18b20"
)

var (
	// ErrCRC is returned when the 1-Wire frame failed its checksum
	ErrCRC = errors.New("probe crc check failed")
	// ErrNoValue is returned when a sysfs file holds no reading
	ErrNoValue = errors.New("no value in sensor output")
)

// Source provides one sample of every quantity per call
type Source interface {
	ReadAll(ctx context.Context) models.Readings
}

// Paths locates the sysfs attributes
type Paths struct {
	DHTTemperature string
	DHTHumidity    string
	Probe          string
}

// Sysfs reads a DHT22 through the kernel IIO driver and a DS18B20 through
// the w1-therm driver. A failed DHT22 read keeps the last good values; a
// failed probe read yields the fallback sentinel.
type Sysfs struct {
	paths         Paths
	probeFallback float64

	mu       sync.Mutex
	lastTemp float64
	lastHum  float64
}

// NewSysfs creates a sysfs source
func NewSysfs(paths Paths, probeFallback float64) *Sysfs {
	return &Sysfs{paths: paths, probeFallback: probeFallback}
}

// ReadAll samples every sensor
func (s *Sysfs) ReadAll(ctx context.Context) models.Readings {
	log := logger.WithComponent("sensor")

	s.mu.Lock()
	defer s.mu.Unlock()

	dhtFallback := false
	temp, err := readMilli(s.paths.DHTTemperature)
	var hum float64
	if err == nil {
		hum, err = readMilli(s.paths.DHTHumidity)
	}
	if err != nil {
		dhtFallback = true
		metrics.SensorReadFailures.WithLabelValues(sensorDHT).Inc()
		log.Warn().Err(err).Float64("temperature", s.lastTemp).Float64("humidity", s.lastHum).Msg("dht22 read failed, keeping last values")
	} else {
		s.lastTemp, s.lastHum = temp, hum
	}

	probeFallback := false
	probe, err := readW1Therm(s.paths.Probe)
	if err != nil {
		probeFallback = true
		probe = s.probeFallback
		metrics.SensorReadFailures.WithLabelValues(sensorProbe).Inc()
		log.Warn().Err(err).Float64("fallback", s.probeFallback).Msg("ds18b20 read failed, using fallback")
	}

	r := models.NewReadings(s.lastTemp, s.lastHum, probe)
	r.Temperature.Fallback = dhtFallback
	r.Humidity.Fallback = dhtFallback
	r.ProbeTemperature.Fallback = probeFallback
	observe(r)
	return r
}

// readMilli parses an IIO attribute holding an integer in milli-units
func readMilli(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return 0, fmt.Errorf("%s: %w", path, ErrNoValue)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	return float64(v) / 1000, nil
}

// readW1Therm parses the two-line w1_slave output:
//
//	72 01 4b 46 7f ff 0e 10 57 : crc=57 YES
//	72 01 4b 46 7f ff 0e 10 57 t=23125
func readW1Therm(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return parseW1Therm(string(data))
}

func parseW1Therm(out string) (float64, error) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 {
		return 0, ErrNoValue
	}
	if !strings.HasSuffix(strings.TrimSpace(lines[0]), "YES") {
		return 0, ErrCRC
	}
	idx := strings.LastIndex(lines[1], "t=")
	if idx < 0 {
		return 0, ErrNoValue
	}
	v, err := strconv.ParseInt(strings.TrimSpace(lines[1][idx+2:]), 10, 64)
	if err != nil {
		return 0, err
	}
	return float64(v) / 1000, nil
}

func observe(r models.Readings) {
	metrics.ReadingValue.WithLabelValues(string(models.QuantityTemperature)).Set(r.Temperature.Value)
	metrics.ReadingValue.WithLabelValues(string(models.QuantityHumidity)).Set(r.Humidity.Value)
	metrics.ReadingValue.WithLabelValues(string(models.QuantityProbeTemperature)).Set(r.ProbeTemperature.Value)
}

// Static returns fixed values. Useful on hosts without sensors and in tests.
type Static struct {
	mu    sync.Mutex
	temp  float64
	hum   float64
	probe float64
}

// NewStatic creates a static source
func NewStatic(temp, hum, probe float64) *Static {
	return &Static{temp: temp, hum: hum, probe: probe}
}

// Set replaces the values returned by later reads
func (s *Static) Set(temp, hum, probe float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.temp, s.hum, s.probe = temp, hum, probe
}

func (s *Static) ReadAll(ctx context.Context) models.Readings {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := models.NewReadings(s.temp, s.hum, s.probe)
	observe(r)
	return r
}
