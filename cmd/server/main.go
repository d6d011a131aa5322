package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"building-monitor/internal/cache"
	"building-monitor/internal/classifier"
	"building-monitor/internal/config"
	"building-monitor/internal/handlers"
	"building-monitor/internal/logger"
	"building-monitor/internal/metrics"
	"building-monitor/internal/pipeline"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Info("Starting Building Health Monitor")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Отсутствие модели не мешает старту: классификация работает в режиме "всегда норма"
	clf, err := classifier.Load(cfg.ModelPath, log)
	if err != nil {
		log.Warn("Starting in degraded mode, every reading will be classified as normal", zap.Error(err))
	}
	m.SetModelLoaded(clf.Loaded())

	opts := []pipeline.Option{
		pipeline.WithHistorySize(cfg.MaxHistory),
		pipeline.WithRecorder(m),
		pipeline.WithLogger(log),
	}

	// Redis опционален: зеркало недоступно - сервис работает без него
	var mirror handlers.Mirror
	if cfg.RedisEnabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		redisCache, err := cache.NewRedisCache(ctx, cache.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.MetricsRetention,
		})
		cancel()

		if err != nil {
			log.Warn("Redis mirror disabled", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		} else {
			defer redisCache.Close()
			log.Info("Connected to Redis", zap.String("addr", cfg.RedisAddr))

			writer := cache.NewWriter(redisCache, cfg.MirrorQueue, m, log)
			writer.Start(cfg.MirrorWorkers)
			defer writer.Stop()

			go reportQueueSize(writer, m)

			opts = append(opts, pipeline.WithSink(writer))
			mirror = redisCache
		}
	}

	monitor := pipeline.New(clf, opts...)
	handler := handlers.NewHandler(monitor, mirror, m, log)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      handler.Routes(registry),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Server listening", zap.String("port", cfg.ServerPort), zap.Int("max_history", cfg.MaxHistory))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("Server stopped gracefully")
	return nil
}

// reportQueueSize периодически обновляет размер очереди зеркала
func reportQueueSize(writer *cache.Writer, m *metrics.Metrics) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.MirrorQueueSize.Set(float64(writer.QueueSize()))
	}
}
