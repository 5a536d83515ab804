// cmd/assistant/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"crm-assistant/internal/common/config"
	"crm-assistant/internal/common/database"
	"crm-assistant/internal/common/followupboss"
	"crm-assistant/internal/common/logger"
	"crm-assistant/internal/common/observability"
	"crm-assistant/internal/common/openai"
	"crm-assistant/internal/orchestrator"
	"crm-assistant/pkg/registry"

	llm "crm-assistant/internal/workers/ai-conversation/llm-synthesis"
	pui "crm-assistant/internal/workers/ai-conversation/parse-user-intent"
	qcd "crm-assistant/internal/workers/ai-conversation/query-crm-data"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, envFile, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog)
	zapLog.Info("Starting CRM assistant...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)
	if envFile != "" {
		zapLog.Info("Loaded environment file", zap.String("path", envFile))
	}

	obs := observability.New(cfg.App.Name, log)
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Function catalog ---
	catalog := registry.DefaultCatalog()
	if cfg.Catalog.RegistryPath != "" {
		catalog, err = registry.LoadRegistry(cfg.Catalog.RegistryPath)
		if err != nil {
			zapLog.Fatal("catalog load failed", zap.Error(err))
		}
		zapLog.Info("Loaded function catalog", zap.String("path", cfg.Catalog.RegistryPath), zap.String("version", catalog.Version))
	}

	// --- Upstream clients ---
	completion := openai.NewClient(openai.Config{
		BaseURL:           cfg.OpenAI.BaseURL,
		APIKey:            cfg.OpenAI.APIKey,
		DefaultModel:      cfg.OpenAI.Model,
		Timeout:           config.GetDuration(cfg.OpenAI.Timeout),
		RequestsPerSecond: cfg.OpenAI.RequestsPerSecond,
		Burst:             cfg.OpenAI.Burst,
	}, log)

	var crmOpts []followupboss.Option
	if cfg.Cache.Enabled {
		var redis *database.RedisClient
		err = retryWithBackoff(func() error {
			var err error
			redis, err = database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			return redis.Ping(ctx)
		}, 5, time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer redis.Close()
		zapLog.Info("Redis connected successfully")

		cache := followupboss.NewCache(redis, config.GetDuration(cfg.Cache.TTL), cfg.Cache.KeyPrefix, log)
		crmOpts = append(crmOpts, followupboss.WithCache(cache))
	}

	crm := followupboss.NewClient(followupboss.Config{
		BaseURL: cfg.FollowUpBoss.BaseURL,
		APIKey:  cfg.FollowUpBoss.APIKey,
		Timeout: config.GetDuration(cfg.FollowUpBoss.Timeout),
	}, log, crmOpts...)

	// --- Pipeline stages ---
	classifier := pui.NewHandler(&pui.Config{
		Model:       cfg.OpenAI.Model,
		Temperature: cfg.OpenAI.ClassificationTemperature,
		MaxTokens:   cfg.OpenAI.MaxTokens,
	}, completion, catalog, log)

	dispatcher := qcd.NewHandler(qcd.LoadConfig(), crm, catalog, log)

	synthesizerCfg := llm.LoadConfig()
	synthesizerCfg.Model = cfg.OpenAI.Model
	synthesizerCfg.Temperature = cfg.OpenAI.GenerationTemperature
	if cfg.OpenAI.MaxTokens > 0 {
		synthesizerCfg.MaxTokens = cfg.OpenAI.MaxTokens
	}
	synthesizer := llm.NewHandler(synthesizerCfg, completion, log)

	orch := orchestrator.New(orchestrator.ConfigFrom(cfg.Orchestrator), classifier, dispatcher, synthesizer, log,
		orchestrator.WithObservability(obs))
	conv := orch.NewConversation()

	// --- Health / Metrics ---
	var ready atomic.Bool
	server := startServer(cfg.Server.Address, &ready, conv, zapLog)

	// --- Console ---
	console := newConsole(os.Stdin, os.Stdout)
	conv.Subscribe(console.Observe)
	console.PrintHistory(conv.Messages())
	ready.Store(true)

	console.Run(ctx, func(line string) {
		if _, err := orch.HandleUtterance(ctx, conv, line); err != nil && !errors.Is(err, orchestrator.ErrEmptyUtterance) {
			zapLog.Warn("utterance rejected", zap.Error(err))
		}
	})

	// --- Graceful Shutdown ---
	zapLog.Info("Shutting down...")
	ready.Store(false)
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			zapLog.Error("Health/Metrics server shutdown failed", zap.Error(err))
		}
	}
	zapLog.Info("CRM assistant stopped", zap.Int("turns", len(conv.Turns())))
}

func startServer(addr string, ready *atomic.Bool, conv *orchestrator.Conversation, log *zap.Logger) *http.Server {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "starting"})
			return
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ready",
			"busy":   conv.Busy(),
		})
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("Health/Metrics server listening", zap.String("address", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()
	return server
}
