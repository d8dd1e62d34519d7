// Exohome Bridge - Sampo Exohome to MQTT
//
// This is the main entry point for the Exohome bridge. The bridge
// signs in to one or more Sampo Exohome accounts, polls the vendor
// cloud for appliance state (air conditioners, fans, air purifiers),
// and presents each account over MQTT:
//   - Retained device state on exohome/state/{account}/{device}
//   - Field write commands on exohome/command/{account}/{device}/{field}
//   - Health on exohome/health/{account}
//
// Optionally, numeric status history is recorded to InfluxDB.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/exohome-bridge/internal/bridge"
	"github.com/nerrad567/exohome-bridge/internal/coordinator"
	"github.com/nerrad567/exohome-bridge/internal/credentials"
	"github.com/nerrad567/exohome-bridge/internal/exohome"
	"github.com/nerrad567/exohome-bridge/internal/infrastructure/config"
	"github.com/nerrad567/exohome-bridge/internal/infrastructure/database"
	"github.com/nerrad567/exohome-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/exohome-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/exohome-bridge/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Exohome bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath, "accounts", len(cfg.Accounts))

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
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

	// Initialise credential store
	store, err := credentials.NewStore(ctx, db.DB)
	if err != nil {
		return fmt.Errorf("initialising credential store: %w", err)
	}

	// Connect to MQTT broker (optional)
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
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	} else {
		log.Info("MQTT disabled, running poll-only")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Start one coordinator (and bridge, when MQTT is up) per account
	started := 0
	for _, account := range cfg.Accounts {
		stop, startErr := startAccount(ctx, cfg, account, store, mqttClient, influxClient, log)
		if startErr != nil {
			if errors.Is(startErr, exohome.ErrInvalidCredentials) {
				log.Error("account rejected, check credentials",
					"account", account.Email,
					"error", startErr,
				)
			} else {
				log.Error("account failed to start",
					"account", account.Email,
					"error", startErr,
				)
			}
			continue
		}
		defer stop()
		started++
	}
	if started == 0 {
		return fmt.Errorf("no accounts started (of %d configured)", len(cfg.Accounts))
	}

	// Verify infrastructure connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal",
		"accounts", started,
	)

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: bridges and coordinators
	// first, then InfluxDB, MQTT and the database.

	log.Info("Exohome bridge stopped")
	return nil
}

// startAccount wires up the full pipeline for one vendor account:
// credential preload, vendor client, polling coordinator and, when
// MQTT is connected, the presentation bridge.
//
// Parameters:
//   - ctx: Context for the setup handshake
//   - cfg: Application configuration
//   - account: The account to start
//   - store: Credential store for token persistence
//   - mqttClient: Broker client, nil when MQTT is disabled
//   - influxClient: History recorder, nil when InfluxDB is disabled
//   - log: Logger instance
//
// Returns:
//   - func(): Stops the bridge (if any) and then the coordinator
//   - error: If setup fails; everything started so far is already stopped
func startAccount(
	ctx context.Context,
	cfg *config.Config,
	account config.AccountConfig,
	store *credentials.Store,
	mqttClient *mqtt.Client,
	influxClient *influxdb.Client,
	log *logging.Logger,
) (func(), error) {
	accountLog := log.With("account", account.Email)

	client := exohome.NewClient(exohome.Options{
		Email:        account.Email,
		Password:     account.Password,
		APIBase:      cfg.Exohome.APIBase,
		WSSBase:      cfg.Exohome.WSSBase,
		CallTimeout:  cfg.Exohome.GetCallTimeout(),
		RecvAttempts: cfg.Exohome.RecvAttempts,
		Store:        store,
		Logger:       accountLog,
	})

	// Preload persisted credentials so a restart reuses a live token
	// instead of logging in again.
	if rec, err := store.Load(ctx, account.Email); err == nil {
		client.RestoreSession(rec.Token, rec.UserID, rec.ExpiresAt)
		accountLog.Info("restored persisted session")
	} else if !errors.Is(err, credentials.ErrNotFound) {
		accountLog.Warn("failed to load persisted credentials", "error", err)
	}

	coord := coordinator.New(client, coordinator.Config{
		Account:      account.Email,
		PollInterval: cfg.Exohome.GetPollInterval(),
		SetupTimeout: cfg.Exohome.GetSetupTimeout(),
		SettleDelay:  cfg.Exohome.GetSettleDelay(),
	})
	coord.SetLogger(accountLog)

	if err := coord.Setup(ctx); err != nil {
		coord.Shutdown()
		return nil, fmt.Errorf("setting up account: %w", err)
	}

	if mqttClient != nil {
		var recorder bridge.Recorder
		if influxClient != nil {
			recorder = influxClient
		}

		b, err := bridge.New(bridge.Options{
			Account:     account.Email,
			MQTT:        mqttClient,
			Coordinator: coord,
			Recorder:    recorder,
			Logger:      accountLog,
		})
		if err != nil {
			coord.Shutdown()
			return nil, fmt.Errorf("creating bridge: %w", err)
		}
		if err := b.Start(); err != nil {
			coord.Shutdown()
			return nil, fmt.Errorf("starting bridge: %w", err)
		}

		accountLog.Info("account started")
		// The bridge stops before its coordinator so the final health
		// message reflects the last coordinator state.
		return func() {
			b.Stop()
			coord.Shutdown()
		}, nil
	}

	accountLog.Info("account started")
	return coord.Shutdown, nil
}

// getConfigPath returns the configuration file path.
// Uses EXOHOME_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("EXOHOME_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
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
