package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coldwatch/internal/agent"
	"coldwatch/internal/bus"
	"coldwatch/internal/config"
	"coldwatch/internal/kafka"
	"coldwatch/internal/logger"
	"coldwatch/internal/modem"
	"coldwatch/internal/sensor"
	"coldwatch/internal/storage"
	"coldwatch/internal/tracing"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to YAML config file (environment overrides apply)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log := logger.WithError(err)
		log.Error().Msg("agent exited")
		fmt.Fprintf(os.Stderr, "coldwatch: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger.InitWithOptions(cfg.Logging.Options())
	log := logger.WithComponent("main")

	deviceID, err := cfg.DeviceID()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.NewProvider(ctx, cfg.Tracing, deviceID, version)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn().Err(err).Msg("tracing shutdown error")
		}
	}()

	store, err := storage.Open(ctx, storage.Options{
		Backend: cfg.Storage.Backend,
		Path:    cfg.Storage.Path,
		DSN:     cfg.Storage.DSN,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	deps := agent.Deps{
		Sensors: newSensors(cfg),
		Store:   store,
	}

	switch cfg.PubSub.Backend {
	case config.PubSubKafka:
		producer, err := kafka.NewProducer(cfg.PubSub.Brokers, cfg.PubSub.Producer, kafka.WithDeviceID(deviceID))
		if err != nil {
			return fmt.Errorf("init kafka producer: %w", err)
		}
		defer producer.Close()

		consumer, err := kafka.NewConsumer(cfg.PubSub.Brokers, cfg.PubSub.GroupID+"-"+deviceID)
		if err != nil {
			return fmt.Errorf("init kafka consumer: %w", err)
		}

		deps.Publisher = producer
		deps.Subscriber = consumer
		deps.HealthCheck = producer.HealthCheck
		deps.PublisherStats = func() any { return producer.Stats() }
		log.Info().Strs("brokers", cfg.PubSub.Brokers).Msg("kafka transport initialized")

	case config.PubSubNATS:
		client, err := bus.NewClient(cfg.PubSub.NATSURL, "coldwatch-"+deviceID)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer client.Close()

		deps.Publisher = client
		deps.Subscriber = client
		deps.HealthCheck = func(context.Context) error {
			if !client.Conn.IsConnected() {
				return errors.New("nats not connected")
			}
			return nil
		}
		log.Info().Str("url", cfg.PubSub.NATSURL).Msg("nats transport initialized")
	}

	if cfg.Modem.Enabled {
		m, err := modem.Open(cfg.Modem.Device, modem.Options{
			CommandTimeout: cfg.Modem.CommandTimeout,
			SendTimeout:    cfg.Modem.SendTimeout,
		})
		if err != nil {
			return err
		}
		defer m.Close()

		if err := m.Init(ctx); err != nil {
			return fmt.Errorf("init modem: %w", err)
		}
		deps.Modem = m
	}

	a, err := agent.New(ctx, cfg, deviceID, deps)
	if err != nil {
		return err
	}

	log.Info().Str("device_id", deviceID).Str("version", version).Msg("coldwatch agent starting")
	return a.Run(ctx)
}

func newSensors(cfg *config.Config) sensor.Source {
	if cfg.Sensors.Backend == config.SensorStatic {
		return sensor.NewStatic(cfg.Sensors.StaticTemp, cfg.Sensors.StaticHum, cfg.Sensors.ProbeFallback)
	}
	return sensor.NewSysfs(sensor.Paths{
		DHTTemperature: cfg.Sensors.DHTTempPath,
		DHTHumidity:    cfg.Sensors.DHTHumPath,
		Probe:          cfg.Sensors.ProbePath,
	}, cfg.Sensors.ProbeFallback)
}
