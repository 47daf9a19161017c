// knxrouter is a KNXnet/IP multicast router.
//
// It joins the KNXnet/IP routing group, applies the line coupler filter rules
// and busy flow control, and exposes its state over MQTT, an HTTP API and
// Prometheus metrics.
//
// Configuration is read from KNXROUTER_CONFIG (default configs/config.yaml).
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nerrad567/gray-logic-router/internal/api"
	bridgerouter "github.com/nerrad567/gray-logic-router/internal/bridges/router"
	"github.com/nerrad567/gray-logic-router/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-router/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-router/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-router/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-router/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-router/internal/knx"
	"github.com/nerrad567/gray-logic-router/internal/routing"
	"github.com/nerrad567/gray-logic-router/internal/routingstore"
	"github.com/nerrad567/gray-logic-router/internal/transport"
	"github.com/nerrad567/gray-logic-router/migrations"
)

// Version information, set at build time via ldflags:
// go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the router together and blocks until ctx is cancelled.
// Components are torn down in reverse order by deferred calls.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting knxrouter",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := config.PathFromEnv()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // nothing to report to once the log is gone
	log.Info("configuration loaded",
		"path", configPath,
		"router_id", cfg.Router.ID,
		"level", cfg.Logging.Level,
	)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	repo := routingstore.NewSQLiteRepository(db.DB)

	engine, err := newEngine(cfg, log)
	if err != nil {
		return err
	}
	if err := applyPersisted(ctx, engine, repo, log); err != nil {
		return err
	}

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, cfg.Router.ID)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() { log.Info("MQTT connected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		log.Info("MQTT connected",
			"broker", net.JoinHostPort(cfg.MQTT.Broker.Host, fmt.Sprint(cfg.MQTT.Broker.Port)),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB, cfg.Router.ID)
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

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := bridgerouter.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	bridge, err := newBridge(cfg, engine, repo, mqttClient, influxClient, metrics, log)
	if err != nil {
		return err
	}
	// The bridge subscribes before the engine starts so the first
	// state transition is published.
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping router bridge")
		bridge.Stop()
	}()

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer, err = api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Logger:   log,
			Router:   bridge,
			Events:   engine,
			Gatherer: registry,
			RouterID: cfg.Router.ID,
			Version:  version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := apiServer.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("HTTP API disabled")
	}

	// A start failure leaves the engine in StateFailure; the process keeps
	// running so it can be restarted over MQTT or the API.
	if err := engine.Start(ctx); err != nil {
		log.Error("routing engine failed to start", "error", err)
	}
	defer func() {
		log.Info("stopping routing engine")
		engine.Stop()
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient, apiServer); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	st := engine.Status()
	log.Info("initialisation complete, waiting for shutdown signal",
		"state", st.State.String(),
		"interface", st.Interface,
		"local_address", st.LocalAddress,
		"routing_mode", st.RoutingMode.String(),
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// newEngine builds the routing engine from the router section of the config.
func newEngine(cfg *config.Config, log *logging.Logger) (*routing.Engine, error) {
	engineLog := log.With("component", "routing")

	engine, err := routing.NewEngine(routing.Options{
		NewTransport: func() routing.Transport {
			return transport.NewMulticast(transport.Options{Logger: engineLog})
		},
		Logger:       engineLog,
		Port:         cfg.Router.Port,
		BusyWaitTime: cfg.BusyWaitTime(),
	})
	if err != nil {
		return nil, fmt.Errorf("creating routing engine: %w", err)
	}

	if !engine.SetMulticastAddress(net.ParseIP(cfg.Router.MulticastAddress)) {
		return nil, fmt.Errorf("invalid multicast address %q", cfg.Router.MulticastAddress)
	}
	engine.SetInterfaceAffinity(cfg.Router.Interface)

	if cfg.Router.IndividualAddress != "" {
		addr, err := knx.ParseIndividualAddress(cfg.Router.IndividualAddress)
		if err != nil {
			return nil, fmt.Errorf("router.individual_address: %w", err)
		}
		if err := engine.SetIndividualAddress(addr); err != nil {
			return nil, fmt.Errorf("router.individual_address: %w", err)
		}
	}

	mode, err := routing.ParseRoutingMode(cfg.Router.RoutingMode)
	if err != nil {
		return nil, fmt.Errorf("router.routing_mode: %w", err)
	}
	engine.SetRoutingMode(mode)

	table, err := bridgerouter.ParseFilterTable(cfg.Router.FilterTable)
	if err != nil {
		return nil, fmt.Errorf("router.filter_table: %w", err)
	}
	engine.SetFilterTable(table)

	return engine, nil
}

// applyPersisted overrides the configured routing mode and filter table with
// values saved by earlier remote changes.
func applyPersisted(ctx context.Context, engine *routing.Engine, repo routingstore.Repository, log *logging.Logger) error {
	mode, err := repo.LoadRoutingMode(ctx)
	switch {
	case err == nil:
		engine.SetRoutingMode(mode)
		log.Info("using persisted routing mode", "mode", mode.String())
	case !errors.Is(err, routingstore.ErrNotFound):
		return fmt.Errorf("loading routing mode: %w", err)
	}

	table, err := repo.LoadFilterTable(ctx)
	switch {
	case err == nil:
		engine.SetFilterTable(table)
		log.Info("using persisted filter table", "entries", table.Len())
	case !errors.Is(err, routingstore.ErrNotFound):
		return fmt.Errorf("loading filter table: %w", err)
	}
	return nil
}

// newBridge assembles the bridge. Optional clients are only assigned when
// present so the interfaces never hold typed nils.
func newBridge(
	cfg *config.Config,
	engine *routing.Engine,
	repo routingstore.Repository,
	mqttClient *mqtt.Client,
	influxClient *influxdb.Client,
	metrics *bridgerouter.Metrics,
	log *logging.Logger,
) (*bridgerouter.Bridge, error) {
	opts := bridgerouter.BridgeOptions{
		RouterID:       cfg.Router.ID,
		Version:        version,
		Engine:         engine,
		Store:          repo,
		Metrics:        metrics,
		HealthInterval: cfg.HealthInterval(),
		Logger:         log.With("component", "bridge"),
	}
	if mqttClient != nil {
		opts.MQTT = mqttClient
	}
	if influxClient != nil {
		opts.Telemetry = influxClient
	}

	bridge, err := bridgerouter.NewBridge(opts)
	if err != nil {
		return nil, fmt.Errorf("creating router bridge: %w", err)
	}
	return bridge, nil
}

// healthCheck verifies the infrastructure connections. Optional components
// are skipped when nil.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, apiServer *api.Server) error {
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
	if apiServer != nil {
		if err := apiServer.HealthCheck(ctx); err != nil {
			return fmt.Errorf("api: %w", err)
		}
	}
	return nil
}
