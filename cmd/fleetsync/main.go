// FleetSync Core - RF hardware fleet reconciliation service
//
// This is the main entry point. The service keeps a local inventory of RF
// base units in step with each vendor's management API:
//   - fleet sync pulls vendor device lists and reconciles inventory
//   - discovery reconciliation pushes inventory IPs to vendor discovery lists
//   - both run on intervals and report through MQTT, InfluxDB and Prometheus
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/fleetsync-core/internal/infrastructure/config"
	"github.com/nerrad567/fleetsync-core/internal/infrastructure/database"
	"github.com/nerrad567/fleetsync-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/fleetsync-core/internal/infrastructure/logging"
	"github.com/nerrad567/fleetsync-core/internal/infrastructure/metrics"
	"github.com/nerrad567/fleetsync-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/fleetsync-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting FleetSync Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.MigrateFrom(ctx, migrations.FS(), "."); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		srv, serveErr := metrics.Serve(ctx, cfg.Metrics, m)
		if serveErr != nil {
			return fmt.Errorf("starting metrics listener: %w", serveErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil && !errors.Is(closeErr, context.Canceled) {
				log.Error("error closing metrics listener", "error", closeErr)
			}
		}()
		log.Info("metrics listener started", "addr", srv.Addr().String(), "path", cfg.Metrics.Path)
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	var pub mqtt.Publisher
	if mqttClient != nil {
		pub = mqttClient
	}
	app, err := build(cfg, db.DB, pub, influxClient, m, log)
	if err != nil {
		return err
	}
	defer app.close(log)

	if mqttClient != nil {
		if subErr := mqttClient.Subscribe(mqtt.Topics{}.AllJobCancels(), 1, cancelHandler(app.tracker, log)); subErr != nil {
			return fmt.Errorf("subscribing to job cancellations: %w", subErr)
		}
	}

	if err := app.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer app.scheduler.Stop()

	log.Info("initialisation complete, waiting for shutdown signal",
		"manufacturers", len(app.manufacturers),
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	log.Info("FleetSync Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses FLEETSYNC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("FLEETSYNC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the infrastructure connections. mqttClient and
// influxClient may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
