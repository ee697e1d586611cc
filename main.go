package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ckdrisk/config"
	"ckdrisk/db"
	ckdhttp "ckdrisk/http"
	"ckdrisk/i18n"
	"ckdrisk/logging"
	"ckdrisk/ml"
	"ckdrisk/monitoring"
	"ckdrisk/predict"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// 1. Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Initialize database
	store, err := db.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()
	logger.Info("database initialized", zap.String("path", cfg.Database.Path))

	// 3. Models, feed and prediction service
	registry, err := ml.NewRegistry(cfg.ML.CacheSize, logger.Named("models"))
	if err != nil {
		return err
	}

	hub := monitoring.NewHub(logger.Named("ws"))
	go hub.Run(ctx)

	if cfg.ML.Watch {
		paths := make([]string, 0, len(cfg.ML.Variants))
		for _, p := range cfg.ML.Variants {
			paths = append(paths, p)
		}
		watcher, err := ml.NewWatcher(registry, paths, logger.Named("watcher"))
		if err != nil {
			return fmt.Errorf("watch models: %w", err)
		}
		watcher.OnChange(func(path string) {
			hub.Publish(monitoring.ModelEvent, map[string]string{"path": path, "status": "reload"})
		})
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	metrics := monitoring.NewMetrics()
	service, err := predict.NewService(predict.Options{
		Models:     registry,
		Paths:      cfg.ML.Variants,
		Confidence: predict.Mode(cfg.ML.Confidence),
		History:    store,
		Events:     hub,
		Metrics:    metrics,
		Logger:     logger.Named("predict"),
	})
	if err != nil {
		return err
	}

	// Missing artifacts are reported per request; the server still starts.
	for variant, path := range cfg.ML.Variants {
		if _, err := registry.Get(path); err != nil {
			logger.Warn("model unavailable", zap.String("variant", variant), zap.String("path", path), zap.Error(err))
		}
	}

	// 4. Start HTTP server
	server, err := ckdhttp.NewServer(ckdhttp.ServerConfig{
		Port:           cfg.Http.Port,
		Timeout:        cfg.Http.Timeout,
		AllowedOrigins: cfg.Http.AllowedOrigins,
		MaxBodyBytes:   cfg.Http.MaxBodyBytes,
	}, ckdhttp.Deps{
		Predictor: service,
		History:   store,
		Metrics:   metrics,
		Hub:       hub,
		Logger:    logger.Named("http"),
		Assets: ckdhttp.Assets{
			ImageDir:    cfg.Assets.ImageDir,
			HeaderImage: cfg.Assets.HeaderImage,
			HomeImage:   cfg.Assets.HomeImage,
		},
		Language: i18n.Parse(cfg.UI.Language),
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// 5. Handle graceful shutdown
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
	}
	<-hub.Done()
	logger.Info("exiting")
	return nil
}
