package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	_ "github.com/nerrad567/starport-core/migrations"

	"github.com/nerrad567/starport-core/internal/api"
	"github.com/nerrad567/starport-core/internal/audit"
	"github.com/nerrad567/starport-core/internal/bridge"
	"github.com/nerrad567/starport-core/internal/connector"
	"github.com/nerrad567/starport-core/internal/fifo"
	"github.com/nerrad567/starport-core/internal/history"
	"github.com/nerrad567/starport-core/internal/indiserver"
	"github.com/nerrad567/starport-core/internal/infrastructure/config"
	"github.com/nerrad567/starport-core/internal/infrastructure/database"
	"github.com/nerrad567/starport-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/starport-core/internal/infrastructure/logging"
	"github.com/nerrad567/starport-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/starport-core/internal/process"
	"github.com/nerrad567/starport-core/internal/profile"
)

// serveOptions are the serve command flags.
type serveOptions struct {
	killExisting bool
}

func newServeCmd() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the indiserver supervisor until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return run(ctx, config.ResolvePath(configFlag), opts)
		},
	}
	cmd.Flags().BoolVar(&opts.killExisting, "kill-existing", false,
		"terminate stray indiserver processes before starting")
	return cmd
}

// run is the daemon, separated from the command for testability. It returns
// nil on a clean shutdown.
func run(ctx context.Context, configPath string, opts serveOptions) error {
	log := logging.Default()
	log.Info("starting starport",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised", "level", cfg.Logging.Level, "format", cfg.Logging.Format)

	// History database
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
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	historyRepo := history.NewSQLiteRepository(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)

	// MQTT (optional)
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
		mqttClient.SetLogger(log.With("component", "mqtt"))
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB (optional)
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
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	if opts.killExisting {
		killStray(ctx, cfg.INDI.Binary, log)
	}
	if !indiserver.IsInstalled(cfg.INDI.Binary) {
		log.Warn("indiserver binary not found, start will fail until it is installed", "binary", cfg.INDI.Binary)
	}

	// Supervisor, control channel and connector
	manager := indiserver.NewManager(cfg.INDI)
	manager.SetLogger(log.With("component", "indiserver"))

	ch := fifo.New(cfg.FIFO)
	ch.SetLogger(log.With("component", "fifo"))

	conn := connector.New(connector.Options{
		Server:       manager,
		Channel:      ch,
		Props:        process.CommandRunner{},
		StatePath:    cfg.Profile.StatePath,
		DrainTimeout: cfg.INDI.ShutdownTimeout,
		Logger:       log.With("component", "connector"),
	})
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			log.Error("error closing control channel", "error", closeErr)
		}
	}()

	// Event fan-out
	dispatcher := bridge.NewDispatcher(0, log.With("component", "events"))
	dispatcher.AddSink(bridge.HistorySink(history.NewRecorder(historyRepo, log.With("component", "history"))))
	if influxClient != nil {
		dispatcher.AddSink(bridge.MetricsSink(influxClient))
	}
	if mqttClient != nil {
		dispatcher.AddSink(bridge.NewMQTTSink(mqttClient, log.With("component", "mqtt")))
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer, err = api.New(api.Deps{
			Config:     cfg.API,
			WS:         cfg.WebSocket,
			Security:   cfg.Security,
			Logger:     log.With("component", "api"),
			Controller: conn,
			History:    historyRepo,
			Audit:      auditRepo,
			Version:    version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		dispatcher.AddSink(apiServer.Hub())
	}

	// The dispatcher outlives the signal so shutdown transitions reach the sinks.
	dispatcher.Start(context.WithoutCancel(ctx))
	defer dispatcher.Close()
	conn.SetServerEventHandler(dispatcher.OnServerEvent)
	conn.SetDriverEventHandler(dispatcher.OnDriverEvent)

	if apiServer != nil {
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
		log.Info("API server listening", "address", apiServer.Addr())
	}

	// indiserver
	if !conn.StartServer() {
		return fmt.Errorf("starting indiserver: %s", conn.LastError())
	}
	defer func() {
		log.Info("stopping indiserver")
		if !conn.StopServer() {
			log.Error("indiserver did not stop cleanly", "error", conn.LastError())
		}
	}()

	if cfg.Profile.Restore {
		restored, restoreErr := conn.Restore()
		if restoreErr != nil {
			log.Warn("driver restore incomplete", "error", restoreErr)
		}
		log.Info("drivers restored", "count", restored)
	}

	if cfg.Profile.Path != "" {
		watcher, profileErr := applyProfile(ctx, cfg.Profile, conn, log)
		if profileErr != nil {
			return profileErr
		}
		if watcher != nil {
			defer func() {
				if closeErr := watcher.Close(); closeErr != nil {
					log.Error("error closing profile watcher", "error", closeErr)
				}
			}()
		}
	}

	if mqttClient != nil && cfg.MQTT.Commands.Enabled {
		handler := bridge.NewCommandHandler(conn, cfg.MQTT.Commands, mqttClient, log.With("component", "commands"))
		handler.SetAudit(audit.NewRecorder(auditRepo, log.With("component", "audit")))
		topic := mqtt.Topics{}.Command()
		if subErr := mqttClient.Subscribe(topic, byte(cfg.MQTT.QoS), handler.Handle); subErr != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, subErr)
		}
		log.Info("accepting driver commands over MQTT", "topic", topic)
	}

	reporter := newReporter(cfg, conn, influxClient, mqttClient, log)
	reporter.Start(ctx)
	defer reporter.Close()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	// Deferred closes run in reverse: reporter, profile watcher, indiserver,
	// API server, dispatcher, channel, InfluxDB, MQTT, database.
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// applyProfile loads the equipment profile, reconciles the running drivers
// against it and, when configured, starts watching it for changes.
func applyProfile(ctx context.Context, cfg config.ProfileConfig, conn *connector.Connector, log *logging.Logger) (*profile.Watcher, error) {
	p, err := profile.Load(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("loading profile: %w", err)
	}
	res := profile.Reconcile(conn, p)
	log.Info("profile applied",
		"path", cfg.Path,
		"started", len(res.Started),
		"stopped", len(res.Stopped),
		"restarted", len(res.Restarted),
		"failed", len(res.Failed),
	)

	if !cfg.Watch {
		return nil, nil
	}
	w := profile.NewWatcher(cfg.Path, conn)
	w.SetLogger(log.With("component", "profile"))
	if err := w.Start(ctx); err != nil {
		return nil, fmt.Errorf("watching profile: %w", err)
	}
	return w, nil
}

// newReporter builds the statistics sampler. The optional clients are
// passed through as untyped nils when absent.
func newReporter(cfg *config.Config, src bridge.StatsSource, influxClient *influxdb.Client, mqttClient *mqtt.Client, log *logging.Logger) *bridge.Reporter {
	var writer bridge.StatsWriter
	if influxClient != nil {
		writer = influxClient
	}
	var pub bridge.JSONPublisher
	if mqttClient != nil {
		pub = mqttClient
	}
	interval := time.Duration(cfg.InfluxDB.StatsInterval) * time.Second
	if writer == nil && pub == nil {
		interval = 0
	}
	return bridge.NewReporter(src, interval, writer, pub, log.With("component", "stats"))
}

func killStray(ctx context.Context, binary string, log *logging.Logger) {
	n, err := indiserver.KillExisting(ctx, process.CommandRunner{}, binary)
	switch {
	case err != nil:
		log.Warn("could not terminate stray indiserver processes", "error", err)
	case n > 0:
		log.Info("terminated stray indiserver processes", "count", n)
	}
}

// healthCheck verifies the infrastructure connections. The optional clients
// may be nil.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	var errs []error
	if err := db.HealthCheck(ctx); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mqtt: %w", err))
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("influxdb: %w", err))
		}
	}
	return errors.Join(errs...)
}
