package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"coldwatch/internal/logger"
)

// Validation errors
var (
	ErrInvalidInterval = errors.New("interval must be positive")
	ErrInvalidBackend  = errors.New("unsupported backend")
	ErrMissingBrokers  = errors.New("at least one kafka broker is required")
	ErrMissingDSN      = errors.New("storage dsn is required")
	ErrMissingPath     = errors.New("path is required")
	ErrInvalidChannel  = errors.New("unknown notification channel")
	ErrInvalidSampling = errors.New("sampling rate must be within [0, 1]")
)

// Config holds runtime configuration for the agent
type Config struct {
	Device  DeviceConfig  `yaml:"device"`
	Agent   AgentConfig   `yaml:"agent"`
	Logging LoggingConfig `yaml:"logging"`
	HTTP    HTTPConfig    `yaml:"http"`
	PubSub  PubSubConfig  `yaml:"pubsub"`
	Modem   ModemConfig   `yaml:"modem"`
	Sensors SensorConfig  `yaml:"sensors"`
	Storage StorageConfig `yaml:"storage"`
	Notify  NotifyConfig  `yaml:"notify"`
	Tracing TracingConfig `yaml:"tracing"`
}

// DeviceConfig identifies the unit. An empty ID is derived from the first
// non-loopback MAC address.
type DeviceConfig struct {
	ID string `yaml:"id" env:"COLDWATCH_DEVICE_ID"`
}

// AgentConfig controls the loops and the ingestion pool
type AgentConfig struct {
	CycleInterval     time.Duration `yaml:"cycle_interval" env:"COLDWATCH_CYCLE_INTERVAL" env-default:"3s"`
	TelemetryInterval time.Duration `yaml:"telemetry_interval" env:"COLDWATCH_TELEMETRY_INTERVAL" env-default:"60s"`
	Workers           int           `yaml:"workers" env:"COLDWATCH_WORKERS" env-default:"1"`
	QueueSize         int           `yaml:"queue_size" env:"COLDWATCH_QUEUE_SIZE" env-default:"64"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" env:"COLDWATCH_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// LoggingConfig maps onto logger.Options
type LoggingConfig struct {
	Level      string `yaml:"level" env:"COLDWATCH_LOG_LEVEL" env-default:"info"`
	Output     string `yaml:"output" env:"COLDWATCH_LOG_OUTPUT" env-default:"stdout"`
	FilePath   string `yaml:"file_path" env:"COLDWATCH_LOG_FILE"`
	MaxSizeMB  int    `yaml:"max_size_mb" env:"COLDWATCH_LOG_MAX_SIZE_MB" env-default:"10"`
	MaxBackups int    `yaml:"max_backups" env:"COLDWATCH_LOG_MAX_BACKUPS" env-default:"3"`
	MaxAgeDays int    `yaml:"max_age_days" env:"COLDWATCH_LOG_MAX_AGE_DAYS" env-default:"7"`
	Compress   bool   `yaml:"compress" env:"COLDWATCH_LOG_COMPRESS"`
}

// Options converts to logger options
func (l LoggingConfig) Options() logger.Options {
	return logger.Options{
		Level:      l.Level,
		Output:     l.Output,
		FilePath:   l.FilePath,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
		Compress:   l.Compress,
	}
}

// HTTPDisabled as the address turns the admin server off
const HTTPDisabled = "off"

// HTTPConfig is the admin server
type HTTPConfig struct {
	Addr         string        `yaml:"addr" env:"COLDWATCH_HTTP_ADDR" env-default:":8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"COLDWATCH_HTTP_READ_TIMEOUT" env-default:"5s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"COLDWATCH_HTTP_WRITE_TIMEOUT" env-default:"10s"`
}

// Enabled reports whether the admin server should listen
func (h HTTPConfig) Enabled() bool {
	return h.Addr != "" && h.Addr != HTTPDisabled
}

// Pub/sub backends
const (
	PubSubNone  = "none"
	PubSubKafka = "kafka"
	PubSubNATS  = "nats"
)

// PubSubConfig selects and tunes the broker transport
type PubSubConfig struct {
	Backend  string         `yaml:"backend" env:"COLDWATCH_PUBSUB_BACKEND" env-default:"none"`
	Brokers  []string       `yaml:"brokers" env:"COLDWATCH_KAFKA_BROKERS" env-default:"localhost:9092"`
	GroupID  string         `yaml:"group_id" env:"COLDWATCH_KAFKA_GROUP_ID" env-default:"coldwatch-agent"`
	NATSURL  string         `yaml:"nats_url" env:"COLDWATCH_NATS_URL" env-default:"nats://127.0.0.1:4222"`
	Producer ProducerConfig `yaml:"producer"`
}

// ProducerConfig tunes the Kafka writer pool
type ProducerConfig struct {
	PoolSize     int           `yaml:"pool_size" env:"COLDWATCH_KAFKA_POOL_SIZE" env-default:"2"`
	BatchSize    int           `yaml:"batch_size" env:"COLDWATCH_KAFKA_BATCH_SIZE" env-default:"1"`
	BatchTimeout time.Duration `yaml:"batch_timeout" env:"COLDWATCH_KAFKA_BATCH_TIMEOUT" env-default:"10ms"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"COLDWATCH_KAFKA_WRITE_TIMEOUT" env-default:"10s"`
	RequiredAcks int           `yaml:"required_acks" env:"COLDWATCH_KAFKA_REQUIRED_ACKS" env-default:"-1"`
	Compression  string        `yaml:"compression" env:"COLDWATCH_KAFKA_COMPRESSION" env-default:"none"`
	MaxRetries   int           `yaml:"max_retries" env:"COLDWATCH_KAFKA_MAX_RETRIES" env-default:"3"`
	RetryBackoff time.Duration `yaml:"retry_backoff" env:"COLDWATCH_KAFKA_RETRY_BACKOFF" env-default:"100ms"`
}

// ModemConfig is the GSM modem on a serial line
type ModemConfig struct {
	Enabled        bool          `yaml:"enabled" env:"COLDWATCH_MODEM_ENABLED"`
	Device         string        `yaml:"device" env:"COLDWATCH_MODEM_DEVICE" env-default:"/dev/ttyS1"`
	CommandTimeout time.Duration `yaml:"command_timeout" env:"COLDWATCH_MODEM_COMMAND_TIMEOUT" env-default:"5s"`
	SendTimeout    time.Duration `yaml:"send_timeout" env:"COLDWATCH_MODEM_SEND_TIMEOUT" env-default:"60s"`
}

// Sensor backends
const (
	SensorSysfs  = "sysfs"
	SensorStatic = "static"
)

// SensorConfig locates the sensors. Sysfs values are in milli-units.
type SensorConfig struct {
	Backend       string  `yaml:"backend" env:"COLDWATCH_SENSOR_BACKEND" env-default:"sysfs"`
	DHTTempPath   string  `yaml:"dht_temp_path" env:"COLDWATCH_SENSOR_DHT_TEMP" env-default:"/sys/bus/iio/devices/iio:device0/in_temp_input"`
	DHTHumPath    string  `yaml:"dht_hum_path" env:"COLDWATCH_SENSOR_DHT_HUM" env-default:"/sys/bus/iio/devices/iio:device0/in_humidityrelative_input"`
	ProbePath     string  `yaml:"probe_path" env:"COLDWATCH_SENSOR_PROBE" env-default:"/sys/bus/w1/devices/w1_bus_master1/28-000000000000/w1_slave"`
	ProbeFallback float64 `yaml:"probe_fallback" env:"COLDWATCH_SENSOR_PROBE_FALLBACK" env-default:"-127"`
	StaticTemp    float64 `yaml:"static_temp" env:"COLDWATCH_SENSOR_STATIC_TEMP" env-default:"4"`
	StaticHum     float64 `yaml:"static_hum" env:"COLDWATCH_SENSOR_STATIC_HUM" env-default:"50"`
}

// Storage backends
const (
	StorageMemory   = "memory"
	StorageFile     = "file"
	StoragePostgres = "postgres"
	StorageMySQL    = "mysql"
)

// StorageConfig selects the persistence backend for settings
type StorageConfig struct {
	Backend string        `yaml:"backend" env:"COLDWATCH_STORAGE_BACKEND" env-default:"file"`
	Path    string        `yaml:"path" env:"COLDWATCH_STORAGE_PATH" env-default:"/var/lib/coldwatch/settings.yaml"`
	DSN     string        `yaml:"dsn" env:"COLDWATCH_STORAGE_DSN"`
	Timeout time.Duration `yaml:"timeout" env:"COLDWATCH_STORAGE_TIMEOUT" env-default:"5s"`
}

// NotifyConfig controls the dispatcher
type NotifyConfig struct {
	ChannelTimeout time.Duration `yaml:"channel_timeout" env:"COLDWATCH_NOTIFY_TIMEOUT" env-default:"10s"`
	Channels       []string      `yaml:"channels" env:"COLDWATCH_NOTIFY_CHANNELS" env-default:"pubsub,sms,call"`
}

// TracingConfig controls OpenTelemetry export
type TracingConfig struct {
	Enabled      bool          `yaml:"enabled" env:"COLDWATCH_TRACING_ENABLED"`
	Endpoint     string        `yaml:"endpoint" env:"COLDWATCH_TRACING_ENDPOINT"`
	ServiceName  string        `yaml:"service_name" env:"COLDWATCH_TRACING_SERVICE_NAME" env-default:"coldwatch"`
	Environment  string        `yaml:"environment" env:"COLDWATCH_TRACING_ENVIRONMENT" env-default:"production"`
	Timeout      time.Duration `yaml:"timeout" env:"COLDWATCH_TRACING_TIMEOUT" env-default:"5s"`
	SamplingRate float64       `yaml:"sampling_rate" env:"COLDWATCH_TRACING_SAMPLING_RATE" env-default:"1.0"`
}

// Default returns the configuration used when no file or environment is given
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			CycleInterval:     3 * time.Second,
			TelemetryInterval: 60 * time.Second,
			Workers:           1,
			QueueSize:         64,
			ShutdownTimeout:   10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     "stdout",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		PubSub: PubSubConfig{
			Backend: PubSubNone,
			Brokers: []string{"localhost:9092"},
			GroupID: "coldwatch-agent",
			NATSURL: "nats://127.0.0.1:4222",
			Producer: ProducerConfig{
				PoolSize:     2,
				BatchSize:    1,
				BatchTimeout: 10 * time.Millisecond,
				WriteTimeout: 10 * time.Second,
				RequiredAcks: -1,
				Compression:  "none",
				MaxRetries:   3,
				RetryBackoff: 100 * time.Millisecond,
			},
		},
		Modem: ModemConfig{
			Device:         "/dev/ttyS1",
			CommandTimeout: 5 * time.Second,
			SendTimeout:    60 * time.Second,
		},
		Sensors: SensorConfig{
			Backend:       SensorSysfs,
			DHTTempPath:   "/sys/bus/iio/devices/iio:device0/in_temp_input",
			DHTHumPath:    "/sys/bus/iio/devices/iio:device0/in_humidityrelative_input",
			ProbePath:     "/sys/bus/w1/devices/w1_bus_master1/28-000000000000/w1_slave",
			ProbeFallback: -127,
			StaticTemp:    4,
			StaticHum:     50,
		},
		Storage: StorageConfig{
			Backend: StorageFile,
			Path:    "/var/lib/coldwatch/settings.yaml",
			Timeout: 5 * time.Second,
		},
		Notify: NotifyConfig{
			ChannelTimeout: 10 * time.Second,
			Channels:       []string{"pubsub", "sms", "call"},
		},
		Tracing: TracingConfig{
			ServiceName:  "coldwatch",
			Environment:  "production",
			Timeout:      5 * time.Second,
			SamplingRate: 1.0,
		},
	}
}

// Load reads the YAML file at path, if any, then applies environment
// overrides and defaults. The result is validated.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	if c.Agent.CycleInterval <= 0 {
		return fmt.Errorf("agent.cycle_interval: %w", ErrInvalidInterval)
	}
	if c.Agent.TelemetryInterval <= 0 {
		return fmt.Errorf("agent.telemetry_interval: %w", ErrInvalidInterval)
	}
	if c.Agent.Workers <= 0 {
		return fmt.Errorf("agent.workers must be positive, got %d", c.Agent.Workers)
	}
	if c.Agent.QueueSize <= 0 {
		return fmt.Errorf("agent.queue_size must be positive, got %d", c.Agent.QueueSize)
	}

	switch c.PubSub.Backend {
	case PubSubNone, PubSubNATS:
	case PubSubKafka:
		if len(c.PubSub.Brokers) == 0 {
			return ErrMissingBrokers
		}
	default:
		return fmt.Errorf("pubsub.backend %q: %w", c.PubSub.Backend, ErrInvalidBackend)
	}

	switch c.Storage.Backend {
	case StorageMemory:
	case StorageFile:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path: %w", ErrMissingPath)
		}
	case StoragePostgres, StorageMySQL:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn for %s: %w", c.Storage.Backend, ErrMissingDSN)
		}
	default:
		return fmt.Errorf("storage.backend %q: %w", c.Storage.Backend, ErrInvalidBackend)
	}

	switch c.Sensors.Backend {
	case SensorSysfs, SensorStatic:
	default:
		return fmt.Errorf("sensors.backend %q: %w", c.Sensors.Backend, ErrInvalidBackend)
	}

	if c.Modem.Enabled && c.Modem.Device == "" {
		return fmt.Errorf("modem.device: %w", ErrMissingPath)
	}

	for _, ch := range c.Notify.Channels {
		switch ch {
		case "pubsub", "sms", "call":
		default:
			return fmt.Errorf("notify.channels %q: %w", ch, ErrInvalidChannel)
		}
	}

	if c.Tracing.Enabled {
		if c.Tracing.Endpoint == "" {
			return fmt.Errorf("tracing.endpoint: %w", ErrMissingPath)
		}
		if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
			return fmt.Errorf("tracing.sampling_rate %g: %w", c.Tracing.SamplingRate, ErrInvalidSampling)
		}
	}
	return nil
}
