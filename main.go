package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"Genset-DataBridge/api"
	"Genset-DataBridge/command"
	"Genset-DataBridge/config"
	"Genset-DataBridge/decode"
	"Genset-DataBridge/ingest"
	"Genset-DataBridge/logging"
	"Genset-DataBridge/metrics"
	"Genset-DataBridge/modbus"
	"Genset-DataBridge/plugins"
	"Genset-DataBridge/registry"
	"Genset-DataBridge/sink"
	"Genset-DataBridge/store"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "[MAIN] Error reading config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[MAIN] Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("bridge stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	promReg := metrics.NewRegistry()
	bridgeMetrics := metrics.NewBridgeMetrics(promReg)

	devices, err := loadRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	logger.Info("device registry loaded", zap.String("source", cfg.Registry.Source), zap.Int("devices", devices.Len()))

	suspensions, closeSuspensions, err := openSuspensions(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSuspensions()
	// Suspensions must be in memory before any command or poll is accepted.
	if err := suspensions.Load(ctx); err != nil {
		return err
	}
	logger.Info("suspensions loaded", zap.String("backend", cfg.Suspension.Backend), zap.Int("suspended", suspensions.Len()))

	engine, err := decode.NewEngine(decode.DefaultRules())
	if err != nil {
		return err
	}
	state := ingest.NewState()

	var sinks sink.Multi
	var hub *sink.Hub
	if cfg.HTTP.Websocket {
		hub = sink.NewHub(logger)
		sinks = append(sinks, hub)
	}
	if cfg.Sinks.File.Filename != "" {
		fileSink := sink.NewFileSink(logging.Rotating(cfg.Sinks.File))
		defer fileSink.Close()
		sinks = append(sinks, fileSink)
	}
	if cfg.Sinks.Postgres {
		pool, err := sink.NewPool(ctx, cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime, logger)
		if err != nil {
			return fmt.Errorf("open state database: %w", err)
		}
		defer pool.Close()
		pgSink := sink.NewPostgresSink(pool)
		if err := pgSink.EnsureSchema(ctx); err != nil {
			return err
		}
		sinks = append(sinks, pgSink)
	}

	opts := []ingest.Option{
		ingest.WithSink(sinks),
		ingest.WithMetrics(bridgeMetrics),
		ingest.WithStrictCRC(cfg.Ingest.StrictCRC),
	}
	if cfg.Mirror.Enabled {
		mirror := modbus.NewMirror(devices.IDs(), cfg.Mirror.Size, logger)
		opts = append(opts, ingest.WithMirror(mirror))
		go func() {
			if err := mirror.ListenAndServe(ctx, cfg.Mirror.Addr); err != nil {
				logger.Error("register mirror stopped", zap.Error(err))
			}
		}()
	}
	ingestor := ingest.New(engine, state, logger, opts...)

	envCh := make(chan ingest.Envelope, cfg.Ingest.QueueLength)
	ingestDone := make(chan struct{})
	go func() {
		defer close(ingestDone)
		ingestor.Run(ctx, envCh)
	}()

	mqttAdapter := plugins.NewMQTTAdapter(cfg.MQTT, logger)
	orch := command.New(devices, mqttAdapter, suspensions, command.Config{
		RestoreDelay:       cfg.Commands.RestoreDelay,
		RestorePeriodicity: cfg.Commands.RestorePeriodicity,
		PublishTimeout:     cfg.MQTT.PublishTimeout,
	}, logger, command.WithMetrics(bridgeMetrics))

	adapters := []plugins.Adapter{
		mqttAdapter,
		plugins.NewPoller(cfg.Poller, devices.IDs, orch, logger),
		plugins.NewDebugUIPlugin(cfg.DebugUI, state, logger),
	}
	for _, a := range adapters {
		logger.Info("starting adapter", zap.String("adapter", a.Name()))
		if err := a.Start(ctx, envCh); err != nil {
			return fmt.Errorf("start %s: %w", a.Name(), err)
		}
	}

	var ready atomic.Bool
	ready.Store(true)
	var metricsHandler, wsHandler http.Handler
	if cfg.Metrics.Enable {
		metricsHandler = metrics.Handler(promReg)
	}
	if hub != nil {
		wsHandler = hub
	}
	handler := api.NewHandler(orch, state, suspensions, cfg.Commands.RatePerSecond, cfg.Commands.Burst, logger)
	srv := api.NewServer(cfg.HTTP, cfg.Metrics.Path, metricsHandler, wsHandler, handler, func() bool {
		return ready.Load() && mqttAdapter.IsConnected()
	})

	srvErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-srvErr:
		return fmt.Errorf("http server: %w", err)
	}

	ready.Store(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	<-ingestDone
	logger.Info("bridge stopped cleanly")
	return nil
}

func loadRegistry(ctx context.Context, cfg *config.Config) (*registry.Registry, error) {
	if cfg.Registry.Source == "database" {
		db, err := registry.OpenDB(cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("open registry database: %w", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
		return registry.LoadDB(ctx, db)
	}
	return registry.LoadFile(cfg.Registry.Path)
}

func openSuspensions(ctx context.Context, cfg *config.Config) (*store.Suspensions, func(), error) {
	if cfg.Suspension.Backend == "redis" {
		rdb, err := store.NewRedisClient(ctx, &redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return store.NewSuspensions(store.NewRedisBackend(rdb, cfg.Suspension.Key)), func() { rdb.Close() }, nil
	}
	return store.NewSuspensions(store.NewFileBackend(cfg.Suspension.Path)), func() {}, nil
}
