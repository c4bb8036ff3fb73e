// devicesync - local-first device record cache
//
// This is the main entry point for the devicesync edge client. It keeps a
// local SQLite copy of the logged-in user's devices, components and sensor
// readings and synchronises it with the backend over MQTT:
//   - Reads and writes never wait for the network
//   - Subscriptions decide which records are mirrored locally
//   - Sensor readings are upload-only (MQTT ingest and optional InfluxDB)
//
// The HTTP API exposes the session's operations and a WebSocket change stream.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	_ "github.com/nerrad567/devicesync/migrations"

	"github.com/nerrad567/devicesync/internal/api"
	"github.com/nerrad567/devicesync/internal/audit"
	"github.com/nerrad567/devicesync/internal/auth"
	"github.com/nerrad567/devicesync/internal/infrastructure/config"
	"github.com/nerrad567/devicesync/internal/infrastructure/database"
	"github.com/nerrad567/devicesync/internal/infrastructure/influxdb"
	"github.com/nerrad567/devicesync/internal/infrastructure/logging"
	"github.com/nerrad567/devicesync/internal/infrastructure/mqtt"
	"github.com/nerrad567/devicesync/internal/session"
	"github.com/nerrad567/devicesync/internal/syncengine"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	defaultEnvFile    = ".env"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting devicesync",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Secrets usually come from .env during development.
	if err := loadEnvFile(); err != nil {
		return fmt.Errorf("loading env file: %w", err)
	}

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	provider := auth.NewProvider(db.DB, auth.Config{
		Secret:   cfg.Security.JWT.Secret,
		TokenTTL: cfg.GetAccessTokenTTL(),
	})
	provider.SetLogger(log.Component("auth"))
	if seedErr := provider.Seed(ctx, cfg.Security.User.Username, cfg.Security.User.Password); seedErr != nil {
		return fmt.Errorf("seeding user: %w", seedErr)
	}

	// The broker may be unreachable; the session works offline until it is.
	mqttClient := mqtt.Dial(cfg.MQTT)
	mqttClient.SetLogger(log.Component("mqtt"))
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT dialling",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", mqttClient.ClientID(),
	)

	var sink syncengine.Sink
	influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		sink = syncengine.InfluxSink{Client: influxClient}
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	sess, err := session.Initialize(ctx, session.Deps{
		DB:        db.DB,
		Auth:      provider,
		Transport: mqttClient,
		Topics:    mqttClient.Topics(),
		Sink:      sink,
		Engine: syncengine.Config{
			ClientID:       mqttClient.ClientID(),
			QoS:            mqttClient.QoS(),
			UploadInterval: cfg.GetUploadInterval(),
			BatchSize:      cfg.Sync.BatchSize,
		},
		SkipDefaultSubscriptions: !cfg.Sync.DefaultSubscriptions,
		Logger:                   log.Component("session"),
	}, session.Credentials{
		Username: cfg.Security.User.Username,
		Password: cfg.Security.User.Password,
	})
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	defer func() {
		log.Info("closing session")
		if closeErr := sess.Close(); closeErr != nil {
			log.Error("error closing session", "error", closeErr)
		}
	}()
	log.Info("session started", "owner", sess.Owner())

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT connected")
		sess.Kick()
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	if cfg.API.Enabled {
		apiServer, apiErr := api.New(api.Deps{
			Config:  cfg.API,
			WS:      cfg.WebSocket,
			Logger:  log.Component("api"),
			Session: sess,
			Auth:    provider,
			Version: version,
			Audit:   audit.NewJournal(db.DB),
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	if err := healthCheck(ctx, db, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order: API, session, InfluxDB,
	// MQTT, database.

	log.Info("devicesync stopped")
	return nil
}

// loadEnvFile loads DEVICESYNC_ENV_FILE (default .env) into the process
// environment. A missing default file is not an error.
func loadEnvFile() error {
	path := os.Getenv("DEVICESYNC_ENV_FILE")
	explicit := path != ""
	if !explicit {
		path = defaultEnvFile
	}
	err := godotenv.Load(path)
	if err != nil && !explicit && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// getConfigPath returns the configuration file path.
// Uses DEVICESYNC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("DEVICESYNC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the local infrastructure is healthy. MQTT is not
// checked: the client runs offline until the broker is reachable.
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
