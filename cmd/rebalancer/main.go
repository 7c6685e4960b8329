package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillm/defairy-rebalancer/internal/analyzer"
	"github.com/kirillm/defairy-rebalancer/internal/api"
	"github.com/kirillm/defairy-rebalancer/internal/audit"
	"github.com/kirillm/defairy-rebalancer/internal/config"
	"github.com/kirillm/defairy-rebalancer/internal/domain"
	"github.com/kirillm/defairy-rebalancer/internal/execution"
	"github.com/kirillm/defairy-rebalancer/internal/feed"
	"github.com/kirillm/defairy-rebalancer/internal/notify"
	"github.com/kirillm/defairy-rebalancer/internal/orchestrator"
	"github.com/kirillm/defairy-rebalancer/internal/policy"
	"github.com/kirillm/defairy-rebalancer/internal/preferences"
	"github.com/kirillm/defairy-rebalancer/internal/pricing"
	"github.com/kirillm/defairy-rebalancer/internal/queue"
	"github.com/kirillm/defairy-rebalancer/internal/storage"
	"github.com/kirillm/defairy-rebalancer/internal/storage/memory"
	"github.com/kirillm/defairy-rebalancer/internal/telegram"
	"github.com/kirillm/defairy-rebalancer/internal/wallet"
	"github.com/kirillm/defairy-rebalancer/pkg/logger"
)

const (
	defaultSlippagePercent = 1.0
	priceRequestTimeout    = 10 * time.Second
	shutdownTimeout        = 15 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New(logger.Config{Level: "info"})
		bootLog.Fatal().Err(err).Msg("Failed to load config")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	logger.SetGlobalLogger(log)
	log.Info().Msg("🧚 Starting DeFairy rebalancer")

	// Хранилище: PostgreSQL или память
	var (
		prefsRepo   domain.PreferencesRepository
		auditRepo   domain.AuditRepository
		resultsRepo domain.ResultRepository
	)
	if cfg.Database.Enabled {
		db, err := storage.NewPostgresStorage(
			cfg.Database.Host, cfg.Database.Port, cfg.Database.User, cfg.Database.Password,
			cfg.Database.DBName, cfg.Database.SSLMode,
			cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()

		prefsRepo, auditRepo, resultsRepo = db.Preferences(), db.Audit(), db.Results()
		log.Info().Str("host", cfg.Database.Host).Str("db", cfg.Database.DBName).Msg("🗄️ PostgreSQL storage ready")
	} else {
		prefsRepo, resultsRepo = memory.NewPreferencesStore(), memory.NewResultStore()
		log.Warn().Msg("DB_ENABLED=false, state is kept in memory only")
	}

	limits, err := policy.LoadLimits(cfg.Policy.Path, cfg.Policy.Profile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load security policy")
	}
	log.Info().
		Str("profile", limits.ProfileName).
		Float64("max_amount", limits.MaxRebalanceAmount).
		Int("max_daily", limits.MaxDailyTransactions).
		Msg("🛡️ Security policy loaded")

	// Движок
	auditLog := audit.NewLog(auditRepo, log)
	prefsStore := preferences.NewStore(prefsRepo, preferences.SystemLimits{
		MaxRebalanceAmount:   limits.MaxRebalanceAmount,
		MaxDailyTransactions: limits.MaxDailyTransactions,
	}, log)
	gate := policy.NewEngine(limits, prefsStore, auditLog, log)
	q := queue.New(queue.Config{
		EntryTTL:       cfg.Monitor.QueueTTL,
		DisplayWindow:  cfg.Monitor.DisplayWindow,
		SnoozeDuration: cfg.Monitor.SnoozeDuration,
	}, log)
	killSwitch := execution.NewKillSwitch(log)

	prices := pricing.NewFailover(pricing.NewCoinGecko(cfg.Pricing.CoinGeckoURL, cfg.Pricing.CoinGeckoAPIKey, priceRequestTimeout), cfg.Pricing.CacheTTL, log)
	if cfg.Pricing.HistoryURL != "" {
		prices.AddFallbackSource(pricing.NewHistoryService(cfg.Pricing.HistoryURL, priceRequestTimeout))
	}

	positions := feed.NewHTTPClient(cfg.Feed.BaseURL,
		feed.WithAPIKey(cfg.Feed.APIKey),
		feed.WithTimeout(cfg.Feed.Timeout),
		feed.WithMaxRetries(cfg.Feed.MaxRetries),
	)

	if cfg.Wallet.SignerURL == "" {
		log.Warn().Msg("WALLET_SIGNER_URL is empty, executions will fail with wallet not connected")
	}
	signer := wallet.NewRemoteSigner(cfg.Wallet.SignerURL, cfg.Wallet.Timeout, log)

	hub := api.NewHub(cfg.HTTP.AllowedOrigins, log)
	notifier := notify.NewRouter(log, hub, nil)

	coordinator := execution.NewCoordinator(execution.Deps{
		Queue:       q,
		Planners:    execution.DefaultPlanners(execution.NewSlippageGuard(defaultSlippagePercent)),
		Wallets:     signer,
		Tracker:     gate,
		Preferences: prefsStore,
		Results:     resultsRepo,
		Audit:       auditLog,
		Notifier:    notifier,
		KillSwitch:  killSwitch,
	}, log)

	analyzerOpts := analyzer.DefaultOptions()
	analyzerOpts.SwapTargetMode = analyzer.SwapTargetMode(cfg.Monitor.SwapTargetMode)

	orch := orchestrator.New(orchestrator.Config{
		Interval: cfg.Monitor.Interval,
		Analyzer: analyzerOpts,
	}, orchestrator.Deps{
		Preferences: prefsStore,
		Gate:        gate,
		Queue:       q,
		Coordinator: coordinator,
		KillSwitch:  killSwitch,
		Audit:       auditLog,
		Notifier:    notifier,
		Feed:        positions,
		Prices:      prices,
		Results:     resultsRepo,
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := orch.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start orchestrator")
	}

	// Telegram (опционально)
	botDone := make(chan struct{})
	if cfg.Telegram.Enabled {
		bot, err := telegram.NewBot(telegram.Config{
			Token:     cfg.Telegram.BotToken,
			ChatID:    cfg.Telegram.ChatID,
			AdminIDs:  cfg.Telegram.AdminIDs,
			Whitelist: cfg.Telegram.Whitelist,
			Lang:      telegram.ParseLang(cfg.Language),
		}, orch, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create telegram bot")
		}
		notifier.SetTelegram(bot)

		go func() {
			defer close(botDone)
			bot.Start(ctx)
		}()
	} else {
		close(botDone)
		log.Info().Msg("Telegram disabled")
	}

	srv := api.NewServer(api.Config{Port: cfg.HTTP.Port, AllowedOrigins: cfg.HTTP.AllowedOrigins}, orch, hub, log)
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	log.Info().
		Dur("interval", cfg.Monitor.Interval).
		Int("port", cfg.HTTP.Port).
		Bool("telegram", cfg.Telegram.Enabled).
		Bool("postgres", cfg.Database.Enabled).
		Msg("✅ Rebalancer is running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	orch.Stop()
	cancel()

	select {
	case <-botDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("Telegram bot did not stop in time")
	}

	log.Info().Msg("👋 Rebalancer stopped")
}
