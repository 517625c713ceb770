package bot

import (
	"context"
	"time"

	"healthmate/internal/domain"
	"healthmate/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TelegramService is the subset of the Bot API the operator bot uses.
type TelegramService interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	GetSelf() tgbotapi.User
	StopReceivingUpdates()
}

type EngagementQueries interface {
	Get(ctx context.Context, id string) (*models.Engagement, error)
	ListUnrefunded(ctx context.Context) ([]*models.Engagement, error)
	ListByCreatedRange(ctx context.Context, start, end time.Time) ([]*models.Engagement, error)
}

// Reconciler repairs side effects that did not complete after a decision.
type Reconciler interface {
	RetryRefund(ctx context.Context, engagementID string) (*models.Engagement, error)
	CompleteAcceptance(ctx context.Context, engagementID string) (*models.Engagement, error)
}

type TaskQueue interface {
	GetFailedSyncTasks(ctx context.Context) ([]models.SyncTask, error)
	RequeueFailedSyncTasks(ctx context.Context, taskType string) (int64, error)
}

// OperatorBot answers reconciliation commands in the operator chats.
// Messages from any other chat are ignored.
type OperatorBot struct {
	tg          TelegramService
	engagements EngagementQueries
	reconciler  Reconciler
	tasks       TaskQueue
	limiter     domain.SeenStore
	operators   map[int64]bool
	logger      *zerolog.Logger
}

const (
	updateTimeout   = 30 * time.Second
	rateLimitCount  = 30
	rateLimitWindow = time.Minute
)

func NewOperatorBot(
	tg TelegramService,
	engagements EngagementQueries,
	reconciler Reconciler,
	tasks TaskQueue,
	limiter domain.SeenStore,
	operatorChatIDs []int64,
	logger *zerolog.Logger,
) *OperatorBot {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	operators := make(map[int64]bool, len(operatorChatIDs))
	for _, id := range operatorChatIDs {
		operators[id] = true
	}
	return &OperatorBot{
		tg:          tg,
		engagements: engagements,
		reconciler:  reconciler,
		tasks:       tasks,
		limiter:     limiter,
		operators:   operators,
		logger:      logger,
	}
}

func (b *OperatorBot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.tg.GetUpdatesChan(u)

	b.logger.Info().Str("username", b.tg.GetSelf().UserName).Msg("Operator bot authorized")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info().Msg("Operator bot stopping...")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.processUpdate(ctx, update)
		}
	}
}

// Stop stops receiving Telegram updates (best-effort).
func (b *OperatorBot) Stop() {
	if b == nil || b.tg == nil {
		return
	}
	b.tg.StopReceivingUpdates()
}

func (b *OperatorBot) processUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || update.Message.Chat == nil {
		return
	}
	chatID := update.Message.Chat.ID
	if !b.operators[chatID] {
		b.logger.Debug().Int64("chat_id", chatID).Msg("Ignoring message from non-operator chat")
		return
	}

	updateCtx, cancel := context.WithTimeout(ctx, updateTimeout)
	defer cancel()

	l := b.logger.With().Str("request_id", uuid.New().String()).Int64("chat_id", chatID).Logger()
	updateCtx = l.WithContext(updateCtx)

	b.withRecovery(chatID, func() {
		if b.limiter != nil {
			allowed, err := b.limiter.CheckRateLimit(updateCtx, "operator:"+itoa(chatID), rateLimitCount, rateLimitWindow)
			if err != nil {
				l.Error().Err(err).Msg("Rate limit check failed")
			} else if !allowed {
				b.reply(chatID, "Too many commands, slow down.")
				return
			}
		}
		b.handleCommand(updateCtx, update.Message)
	})
}

func (b *OperatorBot) withRecovery(chatID int64, handler func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Msg("Recovered from panic in update handler")
			b.reply(chatID, "Internal error, see logs.")
		}
	}()
	handler()
}

func (b *OperatorBot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.tg.Send(msg); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send reply")
	}
}
