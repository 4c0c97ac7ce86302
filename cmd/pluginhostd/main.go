// Command pluginhostd runs the multi-tenant plugin host: the lifecycle API,
// the dynamic route proxy, and the metrics endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/paymesh/pluginhost/admin"
	"github.com/paymesh/pluginhost/config"
	"github.com/paymesh/pluginhost/licensing"
	"github.com/paymesh/pluginhost/metrics"
	"github.com/paymesh/pluginhost/pkg/license"
	"github.com/paymesh/pluginhost/pkg/tlsutil"
	"github.com/paymesh/pluginhost/plugin"
	"github.com/paymesh/pluginhost/plugins/mockpay"
	"github.com/paymesh/pluginhost/plugins/pingnotify"
	"github.com/paymesh/pluginhost/proxy"
	"github.com/paymesh/pluginhost/store"
	"github.com/paymesh/pluginhost/tenant"
)

var (
	configFile = flag.String("config", "", "Path to server configuration YAML file")
	addr       = flag.String("addr", "", "HTTP listen address (overrides config)")
	debug      = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := config.Default()
	if *configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(*configFile)
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
	} else {
		logger.Info("No config file specified, using defaults")
	}
	if *addr != "" {
		cfg.Listen = *addr
	}

	// Instance + KV persistence
	var (
		instances store.InstanceStore
		kv        store.KVStore
	)
	if cfg.DatabasePath != "" {
		sqls, err := store.OpenSQLite(cfg.DatabasePath)
		if err != nil {
			log.Fatalf("Failed to open instance store: %v", err)
		}
		defer sqls.Close()
		instances, kv = sqls, sqls
	} else {
		logger.Warn("No database path configured; plugin state will not survive restarts")
		mem := store.NewMemoryStore()
		instances, kv = mem, mem
	}

	// Usage counters: shared via Redis when configured, process-local otherwise
	var usage licensing.UsageTracker
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		usage = licensing.NewRedisUsage(client)
	} else {
		usage = licensing.NewMemoryUsage()
	}

	licenseCfg := licensing.Config{
		ServerURL:     cfg.License.ServerURL,
		Domain:        cfg.License.Domain,
		OnlineTimeout: cfg.License.OnlineTimeout,
		DemoLimits:    cfg.License.DemoLimits,
		DemoFeatures:  cfg.License.DemoFeatures,
	}
	if cfg.License.PublicKeyPath != "" {
		pemBytes, err := os.ReadFile(cfg.License.PublicKeyPath)
		if err != nil {
			log.Fatalf("Failed to read license public key: %v", err)
		}
		pub, err := license.UnmarshalPublicKeyPEM(pemBytes)
		if err != nil {
			log.Fatalf("Failed to parse license public key: %v", err)
		}
		licenseCfg.PublicKey = pub
	}
	validator := licensing.NewValidator(licenseCfg, usage, logger)

	collector := metrics.NewCollector("pluginhost")

	registry := plugin.NewRegistry(logger)
	registry.Load(
		mockpay.Definition(),
		pingnotify.Definition(),
	)

	manager := plugin.NewManager(registry, instances, kv, plugin.ManagerOptions{
		Licenses:    validator,
		Metrics:     collector,
		Logger:      logger,
		HookTimeout: cfg.HookTimeout,
	})
	routeProxy := proxy.New(manager, logger, collector)
	routeProxy.SetUsageRecorder(validator)
	manager.SetRouteBinder(routeProxy)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := manager.Restore(ctx); err != nil {
		log.Fatalf("Failed to restore plugin state: %v", err)
	}

	mux := http.NewServeMux()
	admin.NewAPI(registry, manager, logger).RegisterRoutes(mux)
	mux.Handle(proxy.DefaultPrefix, tenant.Middleware(routeProxy))
	mux.Handle("/metrics", collector.Handler())

	tlsConfig, err := tlsutil.Load(cfg.TLS)
	if err != nil {
		log.Fatalf("Failed to load TLS configuration: %v", err)
	}
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Plugin host listening", "addr", cfg.Listen, "tls", tlsConfig != nil)
		var serveErr error
		if tlsConfig != nil {
			serveErr = srv.ListenAndServeTLS("", "")
		} else {
			serveErr = srv.ListenAndServe()
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", serveErr)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", "error", err)
	}
}
