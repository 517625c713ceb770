package main

import (
	"fmt"

	"healthmate/internal/config"
	"healthmate/internal/database"
	"healthmate/internal/domain"
	"healthmate/internal/gateway"
	"healthmate/internal/notify"
	"healthmate/internal/service"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	verbose    bool
}

// app holds what a single command invocation needs; close releases it.
type app struct {
	cfg    *config.Config
	logger *zerolog.Logger
	db     *database.DB
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func (o *rootOptions) open(cmd *cobra.Command) (*app, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}

	level := zerolog.InfoLevel
	if o.verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), NoColor: true}).
		Level(level).With().Timestamp().Str("component", "engagectl").Logger()

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return &app{cfg: cfg, logger: &logger, db: db}, nil
}

func (a *app) close() {
	_ = a.db.Close()
}

func (a *app) ledger() *service.Ledger {
	return service.NewLedger(a.db, nil, nil, a.logger)
}

// newRefunder is replaced in tests.
var newRefunder = func(cfg *config.Config) service.Refunder {
	return gateway.WithTimeouts(gateway.NewStripeGateway(cfg.Payments), cfg.Payments.CheckoutTimeout, cfg.Payments.RefundTimeout)
}

// decisions builds a processor able to retry refunds against the gateway.
func (a *app) decisions() (*service.DecisionProcessor, error) {
	messages, err := service.NewMessageLog(a.db, a.db, a.cfg.Chat.NodeID, nil, a.logger)
	if err != nil {
		return nil, err
	}
	return service.NewDecisionProcessor(a.ledger(), messages, nil, newRefunder(a.cfg), a.logger,
		service.WithNotifier(a.notifier()),
	), nil
}

func (a *app) notifier() domain.Notifier {
	if a.cfg.Telegram.BotToken == "" || len(a.cfg.Telegram.OperatorChatIDs) == 0 {
		return notify.NewLogNotifier(a.logger)
	}
	bot, err := notify.NewTelegramBot(a.cfg.Telegram)
	if err != nil {
		a.logger.Warn().Err(err).Msg("telegram init failed, alerts go to the log")
		return notify.NewLogNotifier(a.logger)
	}
	return notify.NewTelegramNotifier(bot, a.cfg.Telegram.OperatorChatIDs, a.logger)
}
