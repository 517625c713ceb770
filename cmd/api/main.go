package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"healthmate/internal/api"
	"healthmate/internal/auth"
	"healthmate/internal/bot"
	"healthmate/internal/chat"
	"healthmate/internal/config"
	"healthmate/internal/database"
	"healthmate/internal/domain"
	"healthmate/internal/events"
	"healthmate/internal/gateway"
	"healthmate/internal/google"
	"healthmate/internal/logging"
	"healthmate/internal/metrics"
	"healthmate/internal/notify"
	"healthmate/internal/repository"
	"healthmate/internal/service"
	"healthmate/internal/tracing"
	"healthmate/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, cfg.App)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	redisClient := initRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}
	seen := initSeenStore(redisClient, logger)

	gw := gateway.WithTimeouts(gateway.NewStripeGateway(cfg.Payments), cfg.Payments.CheckoutTimeout, cfg.Payments.RefundTimeout)

	bus := events.NewEventBus()
	if publisher := initBroker(cfg, logger); publisher != nil {
		defer publisher.Close()
		events.Forward(bus, publisher, 5*time.Second, logger)
	}

	tgBot := initTelegram(cfg, logger)
	notifier := initNotifier(cfg, tgBot, logger)

	syncWorker := worker.NewSyncWorker(db, redisClient, worker.PolicyFromConfig(cfg.Worker), logger)
	syncWorker.SetNotifier(notifier)
	if mirror := initLedgerSheet(ctx, cfg, logger); mirror != nil {
		syncWorker.SetMirror(mirror)
	}

	ledger := service.NewLedger(db, bus, syncWorker, logger)
	messages, err := service.NewMessageLog(db, db, cfg.Chat.NodeID, bus, logger)
	if err != nil {
		return fmt.Errorf("init message log: %w", err)
	}

	hub := chat.NewHub(db, messages, logger,
		chat.WithRateLimit(seen, cfg.Chat.RateLimitMessages, time.Duration(cfg.Chat.RateLimitWindow)*time.Second),
		chat.WithSendBuffer(cfg.Chat.SendBuffer),
	)

	decisionOpts := []service.DecisionOption{service.WithNotifier(notifier), service.WithSyncWorker(syncWorker)}
	if cfg.Refunds.AutoRetry {
		decisionOpts = append(decisionOpts, service.WithRefundRetry(syncWorker))
	}
	decisions := service.NewDecisionProcessor(ledger, messages, hub, gw, logger, decisionOpts...)
	syncWorker.SetRefundRetrier(decisions)
	syncWorker.SetAcceptanceCompleter(decisions)

	intake := service.NewIntake(gw, ledger, db, seen, cfg.Payments.Provider, logger)

	issuer, err := auth.NewIssuer(cfg.JWT)
	if err != nil {
		return fmt.Errorf("init auth: %w", err)
	}

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config, but starting API application. Check your config.")
	}

	httpServer := api.NewHTTPServer(cfg.API, api.Deps{
		Ledger:    ledger,
		Messages:  messages,
		Decisions: decisions,
		Intake:    intake,
		Checkout:  gw,
		Hub:       hub,
		Auth:      issuer,
		Health:    db,
		Payments:  cfg.Payments,
	}, logger)

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(&cfg.API, api.NewQueryService(ledger, messages), logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
	}

	if tgBot != nil && cfg.Telegram.Commands {
		operatorBot := bot.NewOperatorBot(bot.NewBotWrapper(tgBot), ledger, decisions, db, seen, cfg.Telegram.OperatorChatIDs, logger)
		go operatorBot.Start(ctx)
		defer operatorBot.Stop()
	}

	go syncWorker.Start(ctx)
	go database.NewBackupService(db, cfg.Backup, logger).Start(ctx)

	startMetrics(ctx, cfg, logger)

	return startServers(ctx, grpcServer, httpServer, cfg, logger)
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, &logger, closer, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

func initSeenStore(redisClient *redis.Client, logger *zerolog.Logger) domain.SeenStore {
	memory := repository.NewMemorySeenStore()
	if redisClient == nil {
		return memory
	}
	return repository.NewFailoverSeenStore(repository.NewRedisSeenStore(redisClient), memory, logger)
}

func initBroker(cfg *config.Config, logger *zerolog.Logger) *events.AMQPPublisher {
	if cfg.RabbitMQ.URL == "" {
		return nil
	}
	publisher, err := events.NewAMQPPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
	if err != nil {
		logger.Warn().Err(err).Msg("rabbitmq init failed, events stay in-process")
		return nil
	}
	logger.Info().Str("exchange", cfg.RabbitMQ.Exchange).Msg("rabbitmq connected")
	return publisher
}

func initTelegram(cfg *config.Config, logger *zerolog.Logger) *tgbotapi.BotAPI {
	if cfg.Telegram.BotToken == "" || len(cfg.Telegram.OperatorChatIDs) == 0 {
		return nil
	}
	tgBot, err := notify.NewTelegramBot(cfg.Telegram)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram init failed, operator alerts go to the log")
		return nil
	}
	logger.Info().Str("bot", tgBot.Self.UserName).Msg("telegram connected")
	return tgBot
}

func initNotifier(cfg *config.Config, tgBot *tgbotapi.BotAPI, logger *zerolog.Logger) domain.Notifier {
	if tgBot == nil {
		return notify.NewLogNotifier(logger)
	}
	return notify.NewTelegramNotifier(tgBot, cfg.Telegram.OperatorChatIDs, logger)
}

func initLedgerSheet(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *google.LedgerSheet {
	if cfg.Google.GoogleCredentialsFile == "" || cfg.Google.LedgerSpreadSheetID == "" {
		return nil
	}

	sheet, err := google.NewLedgerSheet(ctx, cfg.Google.GoogleCredentialsFile, cfg.Google.LedgerSpreadSheetID, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("google sheets init failed, continuing without ledger mirror")
		return nil
	}

	logger.Info().Msg("google sheets connected")
	return sheet
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	if grpcServer != nil {
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
		logger.Info().Str("grpc_addr", grpcServer.Addr()).Msg("gRPC server started")
	}

	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
