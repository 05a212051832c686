// Command gwbridge is the gateway's CLI entry point: out of scope per
// spec.md §1, kept as the thinnest possible shell around the core so
// the module builds into a runnable binary. Grounded on the teacher's
// cmd/cmd_root.go + cmd/cmd_serve.go split (a root command wiring
// persistent flags, a serve subcommand that builds and starts the
// real thing).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/gwbridge/config"
	"github.com/rustyeddy/gwbridge/existingdevices"
	"github.com/rustyeddy/gwbridge/logging"
	"github.com/rustyeddy/gwbridge/mqttconn"
	"github.com/rustyeddy/gwbridge/outbound"
	"github.com/rustyeddy/gwbridge/protocol"
	"github.com/rustyeddy/gwbridge/repository"
	"github.com/rustyeddy/gwbridge/statusapi"
	"github.com/rustyeddy/gwbridge/supervisor"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "gwbridge",
	Short: "gwbridge bridges a local device bus to a cloud platform",
	Long:  "gwbridge is a protocol gateway: it authenticates once to a platform broker and multiplexes every local subdevice's traffic through that single identity.",
	RunE:  serveRun,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "gwbridge.yaml", "path to the gateway config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("gwbridge exited with error", "error", err)
		os.Exit(1)
	}
}

func serveRun(cmd *cobra.Command, args []string) error {
	cfg, v, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("gwbridge: %w", err)
	}

	logSvc, err := logging.NewService(logging.Config{
		Level:    cfg.LogLevel,
		Format:   cfg.LogFormat,
		Output:   cfg.LogOutput,
		FilePath: cfg.LogFile,
	})
	if err != nil {
		return fmt.Errorf("gwbridge: logging: %w", err)
	}
	log := slog.Default()

	var existing *existingdevices.JSONLog
	if cfg.FilesDirectory != "" {
		existing, err = existingdevices.NewJSONLog(cfg.FilesDirectory + "/existing-devices.json")
		if err != nil {
			return fmt.Errorf("gwbridge: existing devices log: %w", err)
		}
	}

	repoPolicy := repositoryPolicy(cfg.DeviceStoragePolicy)
	var store repository.Store
	if repoPolicy == repository.PolicyPersistent || repoPolicy == repository.PolicyFull {
		db, err := sqlx.Connect("postgres", cfg.DatabaseDSN)
		if err != nil {
			return fmt.Errorf("gwbridge: connect database: %w", err)
		}
		defer db.Close()
		if err := repository.EnsureSchema(db); err != nil {
			return fmt.Errorf("gwbridge: ensure device schema: %w", err)
		}
		store = repository.NewSQLStore(db)
	}
	repo := repository.New(repoPolicy, store, log)
	proto := protocol.NewJSON(cfg.GatewayKey)

	platformConn := mqttconn.New("platform", mqttconn.Config{
		Broker:   cfg.PlatformURI,
		Username: cfg.GatewayKey,
		Password: cfg.GatewayPassword,
		Topic:    fmt.Sprintf("p/%s/#", cfg.GatewayKey),
	}, log)
	localConn := mqttconn.New("local", mqttconn.Config{
		Broker: cfg.LocalBusURI,
		Topic:  "l/#",
	}, log)

	registry := prometheus.NewRegistry()
	metrics := supervisor.NewMetrics(registry)

	sup := supervisor.New(supervisor.Config{
		GatewayKey:    cfg.GatewayKey,
		PlatformConn:  platformConn,
		LocalConn:     localConn,
		Proto:         proto,
		StatusProto:   proto,
		PlatformQueue: outbound.NewMemoryQueue(),
		LocalQueue:    outbound.NewMemoryQueue(),
		Repository:    repo,
		ExistingDevices: existing,
		RetryCount:      cfg.RetryCount,
		RetryInterval:   time.Duration(cfg.RetryIntervalMs) * time.Millisecond,
		Metrics:         metrics,
		Log:             log,
	})

	config.Watch(v, func(newCfg *config.Config, changed []string) {
		log.Info("gwbridge: config reloaded", "changed", changed)
		if err := logSvc.SetConfig(logging.Config{
			Level:    newCfg.LogLevel,
			Format:   newCfg.LogFormat,
			Output:   newCfg.LogOutput,
			FilePath: newCfg.LogFile,
		}); err != nil {
			log.Error("gwbridge: failed to apply reloaded log config", "error", err)
		}
	}, func(err error) {
		log.Error("gwbridge: config reload failed, keeping previous config", "error", err)
	})

	api := statusapi.New(statusapi.Config{
		Supervisor: sup,
		Repository: repo,
		Log:        log,
	})
	mux := http.NewServeMux()
	mux.Handle("/", api.Handler())
	mux.Handle("/logging", logSvc)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	httpServer := &http.Server{Addr: cfg.StatusAPIAddr, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("gwbridge: statusapi server failed", "error", err)
		}
	}()

	sup.Start()
	log.Info("gwbridge: started", "gatewayKey", cfg.GatewayKey)

	<-ctx.Done()
	log.Info("gwbridge: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	sup.Stop()
	repo.Shutdown()
	return nil
}

func repositoryPolicy(p config.DeviceStoragePolicy) repository.Policy {
	switch p {
	case config.PolicyNone:
		return repository.PolicyNone
	case config.PolicyCached:
		return repository.PolicyCached
	case config.PolicyPersistent:
		return repository.PolicyPersistent
	default:
		return repository.PolicyFull
	}
}
