package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"guardian/internal/analytics"
	"guardian/internal/api"
	"guardian/internal/bot"
	"guardian/internal/classifier"
	"guardian/internal/config"
	"guardian/internal/escalation"
	"guardian/internal/modules/audit"
	"guardian/internal/monitor"
	"guardian/internal/storage"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const auditRetentionDays = 90

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	auditLogger := audit.NewLogger(store, logger)
	analyticsService := analytics.New(store)

	botSvc, err := bot.New(cfg, logger, store, auditLogger, analyticsService)
	if err != nil {
		logger.Fatal("bot init failed", zap.Error(err))
	}

	engine := escalation.NewEngine(store, botSvc, botSvc, auditLogger, logger)
	botSvc.SetEscalation(engine)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(cfg.GeminiAPIKeys) > 0 {
		gemini, err := classifier.New(ctx, cfg.GeminiAPIKeys, cfg.GeminiModel, logger)
		if err != nil {
			logger.Fatal("classifier init failed", zap.Error(err))
		}
		defer gemini.Close()

		cache := monitor.NewContextCache(20, time.Duration(cfg.Monitor.ContextAgeMins)*time.Minute)
		gate := monitor.NewGate(
			time.Duration(cfg.Monitor.CooldownMs)*time.Millisecond,
			time.Duration(cfg.Monitor.AlertTTLMs)*time.Millisecond,
			botSvc, store, auditLogger, logger)
		batcher := monitor.NewBatcher(cfg.Monitor.BatchSize,
			time.Duration(cfg.Monitor.DebounceMs)*time.Millisecond,
			gemini, gate, botSvc, logger)
		botSvc.SetMonitor(cache, batcher)
	} else {
		logger.Warn("no Gemini API keys configured, AI monitoring disabled")
	}

	if err := botSvc.Start(); err != nil {
		logger.Fatal("bot start failed", zap.Error(err))
	}
	logger.Info("bot started", zap.String("guild_id", cfg.GuildID))

	group, groupCtx := errgroup.WithContext(ctx)

	if cfg.Dashboard.Enabled {
		server := api.NewServer(cfg.Dashboard, store, analyticsService, engine, auditLogger, botSvc, logger)
		group.Go(func() error {
			logger.Info("dashboard API listening", zap.String("addr", cfg.Dashboard.Addr))
			return server.Run(groupCtx)
		})
	}

	group.Go(func() error {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				if err := store.PurgeExpiredSessions(groupCtx); err != nil {
					logger.Warn("session purge failed", zap.Error(err))
				}
				if err := store.CleanupAuditLogs(groupCtx, auditRetentionDays); err != nil {
					logger.Warn("audit cleanup failed", zap.Error(err))
				}
			}
		}
	})

	if err := group.Wait(); err != nil {
		logger.Error("service error", zap.Error(err))
	}
	logger.Info("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	botSvc.Close(shutdownCtx)
}
