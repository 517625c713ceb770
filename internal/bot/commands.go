package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"healthmate/internal/domain"
	"healthmate/internal/export"
	"healthmate/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const helpText = `Operator commands:
/unrefunded - rejected engagements still marked as paid
/retry <engagement-id> - retry a refund
/reseed <engagement-id> - open the chat of an accepted engagement
/engagement <engagement-id> - show an engagement
/stats [days] - ledger summary, 30 days by default
/failed_tasks - dead-lettered background tasks
/requeue [task-type] - move dead-lettered tasks back to pending`

// maxListed caps list replies to stay within a single Telegram message.
const maxListed = 20

func (b *OperatorBot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	args := strings.Fields(msg.CommandArguments())

	switch msg.Command() {
	case "start", "help":
		b.reply(chatID, helpText)
	case "unrefunded":
		b.handleUnrefunded(ctx, chatID)
	case "retry":
		b.handleRetry(ctx, chatID, args)
	case "reseed":
		b.handleReseed(ctx, chatID, args)
	case "engagement":
		b.handleEngagement(ctx, chatID, args)
	case "stats":
		b.handleStats(ctx, chatID, args)
	case "failed_tasks":
		b.handleFailedTasks(ctx, chatID)
	case "requeue":
		b.handleRequeue(ctx, chatID, args)
	case "":
		// plain chatter in the operator group
	default:
		b.reply(chatID, "Unknown command. /help lists what I can do.")
	}
}

func (b *OperatorBot) handleUnrefunded(ctx context.Context, chatID int64) {
	pending, err := b.engagements.ListUnrefunded(ctx)
	if err != nil {
		b.fail(ctx, chatID, "list unrefunded", err)
		return
	}
	if len(pending) == 0 {
		b.reply(chatID, "No unrefunded engagements.")
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d unrefunded engagement(s):\n", len(pending))
	for i, e := range pending {
		if i == maxListed {
			fmt.Fprintf(&sb, "... and %d more", len(pending)-maxListed)
			break
		}
		fmt.Fprintf(&sb, "\n%s\n  %s %s, attempts %d", e.ID, e.TotalAmount, e.Currency, e.RefundAttempts)
		if e.RefundError != nil {
			fmt.Fprintf(&sb, "\n  last error: %s", *e.RefundError)
		}
	}
	b.reply(chatID, sb.String())
}

func (b *OperatorBot) handleRetry(ctx context.Context, chatID int64, args []string) {
	if len(args) != 1 {
		b.reply(chatID, "Usage: /retry <engagement-id>")
		return
	}

	e, err := b.reconciler.RetryRefund(ctx, args[0])
	switch {
	case err == nil:
		b.reply(chatID, fmt.Sprintf("Refund of %s confirmed. Paid: %t", e.ID, e.IsPaid))
	case errors.Is(err, domain.ErrNotFound):
		b.reply(chatID, fmt.Sprintf("Engagement %s not found.", args[0]))
	case errors.Is(err, domain.ErrValidation):
		b.reply(chatID, fmt.Sprintf("Cannot refund: %v", err))
	case errors.Is(err, domain.ErrRefundFailed):
		b.reply(chatID, fmt.Sprintf("Refund failed again: %v", err))
	default:
		b.fail(ctx, chatID, "retry refund", err)
	}
}

func (b *OperatorBot) handleReseed(ctx context.Context, chatID int64, args []string) {
	if len(args) != 1 {
		b.reply(chatID, "Usage: /reseed <engagement-id>")
		return
	}

	e, err := b.reconciler.CompleteAcceptance(ctx, args[0])
	switch {
	case err == nil:
		b.reply(chatID, fmt.Sprintf("Chat of %s is open.", e.ID))
	case errors.Is(err, domain.ErrNotFound):
		b.reply(chatID, fmt.Sprintf("Engagement %s not found.", args[0]))
	case errors.Is(err, domain.ErrValidation):
		b.reply(chatID, fmt.Sprintf("Cannot open chat: %v", err))
	default:
		b.fail(ctx, chatID, "reseed chat", err)
	}
}

func (b *OperatorBot) handleEngagement(ctx context.Context, chatID int64, args []string) {
	if len(args) != 1 {
		b.reply(chatID, "Usage: /engagement <engagement-id>")
		return
	}
	e, err := b.engagements.Get(ctx, args[0])
	if errors.Is(err, domain.ErrNotFound) {
		b.reply(chatID, fmt.Sprintf("Engagement %s not found.", args[0]))
		return
	}
	if err != nil {
		b.fail(ctx, chatID, "get engagement", err)
		return
	}
	b.reply(chatID, formatEngagement(e))
}

func formatEngagement(e *models.Engagement) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Engagement %s\n", e.ID)
	fmt.Fprintf(&sb, "Status: %s, paid: %t\n", e.Status, e.IsPaid)
	fmt.Fprintf(&sb, "Requester: %s\nProvider: %s\n", e.RequesterID, e.ProviderID)
	fmt.Fprintf(&sb, "Goal: %s (%d min)\n", e.Goal, e.Duration)
	fmt.Fprintf(&sb, "Total: %s %s, fee %s, provider %s\n", e.TotalAmount, e.Currency, e.PlatformFee, e.ProviderIncome)
	fmt.Fprintf(&sb, "Payment intent: %s\n", e.PaymentIntentID)
	fmt.Fprintf(&sb, "Created: %s", e.CreatedAt.UTC().Format(time.RFC3339))
	if e.RefundedAt != nil {
		fmt.Fprintf(&sb, "\nRefunded: %s", e.RefundedAt.UTC().Format(time.RFC3339))
	}
	if e.RefundError != nil {
		fmt.Fprintf(&sb, "\nRefund attempts: %d, last error: %s", e.RefundAttempts, *e.RefundError)
	}
	return sb.String()
}

func (b *OperatorBot) handleStats(ctx context.Context, chatID int64, args []string) {
	days := 30
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 || n > 366 {
			b.reply(chatID, "Usage: /stats [days], days between 1 and 366")
			return
		}
		days = n
	}

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -days)
	engagements, err := b.engagements.ListByCreatedRange(ctx, start, end.Add(time.Second))
	if err != nil {
		b.fail(ctx, chatID, "stats", err)
		return
	}

	s := export.Summarize(engagements)
	b.reply(chatID, fmt.Sprintf(
		"Last %d day(s): %d engagement(s)\npending %d, accepted %d, rejected %d\nawaiting refund %d\ngross %s, fees %s, provider income %s",
		days, s.Count,
		s.ByStatus[models.StatusPending], s.ByStatus[models.StatusAccepted], s.ByStatus[models.StatusRejected],
		s.Unrefunded, s.Total, s.Fees, s.Income,
	))
}

func (b *OperatorBot) handleFailedTasks(ctx context.Context, chatID int64) {
	tasks, err := b.tasks.GetFailedSyncTasks(ctx)
	if err != nil {
		b.fail(ctx, chatID, "list failed tasks", err)
		return
	}
	if len(tasks) == 0 {
		b.reply(chatID, "No failed tasks.")
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d failed task(s):\n", len(tasks))
	for i, t := range tasks {
		if i == maxListed {
			fmt.Fprintf(&sb, "... and %d more", len(tasks)-maxListed)
			break
		}
		lastErr := ""
		if t.LastError != nil {
			lastErr = *t.LastError
		}
		fmt.Fprintf(&sb, "\n#%d %s %s: %s", t.ID, t.TaskType, t.EngagementID, lastErr)
	}
	b.reply(chatID, sb.String())
}

func (b *OperatorBot) handleRequeue(ctx context.Context, chatID int64, args []string) {
	taskType := ""
	if len(args) > 0 {
		taskType = args[0]
		switch taskType {
		case models.TaskMirrorUpsert, models.TaskRefundRetry, models.TaskSeedSystem:
		default:
			b.reply(chatID, fmt.Sprintf("Unknown task type %q", taskType))
			return
		}
	}
	n, err := b.tasks.RequeueFailedSyncTasks(ctx, taskType)
	if err != nil {
		b.fail(ctx, chatID, "requeue tasks", err)
		return
	}
	b.reply(chatID, fmt.Sprintf("Requeued %d task(s).", n))
}

func (b *OperatorBot) fail(ctx context.Context, chatID int64, op string, err error) {
	zerolog.Ctx(ctx).Error().Err(err).Str("op", op).Msg("Operator command failed")
	b.reply(chatID, fmt.Sprintf("Failed to %s, see logs.", op))
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
