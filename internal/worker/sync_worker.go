package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"healthmate/internal/database"
	"healthmate/internal/domain"
	"healthmate/internal/metrics"
	"healthmate/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	defaultQueueKey      = "healthmate:sync:queue"
	defaultDeadLetterKey = "healthmate:sync:deadletter"
)

// LedgerMirror receives engagement snapshots for external reporting.
type LedgerMirror interface {
	UpsertEngagement(ctx context.Context, e *models.Engagement) error
}

// RefundRetrier re-attempts the refund of a rejected engagement.
type RefundRetrier interface {
	RetryRefund(ctx context.Context, engagementID string) (*models.Engagement, error)
}

// AcceptanceCompleter seeds and opens the chat of an accepted engagement.
type AcceptanceCompleter interface {
	CompleteAcceptance(ctx context.Context, engagementID string) (*models.Engagement, error)
}

// SyncWorker consumes sync_queue tasks: ledger mirroring, refund retries and
// chat seeding for accepted engagements.
type SyncWorker struct {
	db            *database.DB
	mirror        LedgerMirror
	refunds       RefundRetrier
	acceptances   AcceptanceCompleter
	notifier      domain.Notifier
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan models.SyncTask
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	logger        *zerolog.Logger
}

func NewSyncWorker(db *database.DB, redisClient *redis.Client, retry RetryPolicy, logger *zerolog.Logger) *SyncWorker {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &SyncWorker{
		db:            db,
		redis:         redisClient,
		retryPolicy:   retry.withDefaults(),
		queue:         make(chan models.SyncTask, 128),
		redisQueueKey: defaultQueueKey,
		deadLetterKey: defaultDeadLetterKey,
		pollInterval:  2 * time.Second,
		batchSize:     20,
		logger:        logger,
	}
}

// The setters below must be called before Start.

func (w *SyncWorker) SetMirror(m LedgerMirror)                     { w.mirror = m }
func (w *SyncWorker) SetRefundRetrier(r RefundRetrier)             { w.refunds = r }
func (w *SyncWorker) SetAcceptanceCompleter(a AcceptanceCompleter) { w.acceptances = a }
func (w *SyncWorker) SetNotifier(n domain.Notifier)                { w.notifier = n }

// EnqueueTask persists the task and schedules it via redis or the in-memory queue.
// Mirror tasks are dropped when no mirror is configured.
func (w *SyncWorker) EnqueueTask(ctx context.Context, taskType, engagementID string, payload interface{}) error {
	if taskType == "" {
		return errors.New("task type is required")
	}
	if strings.TrimSpace(engagementID) == "" {
		return errors.New("engagement id is required")
	}
	if taskType == models.TaskMirrorUpsert && w.mirror == nil {
		return nil
	}

	var raw string
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode payload: %w", err)
		}
		raw = string(data)
	}

	task := models.SyncTask{
		TaskType:     taskType,
		EngagementID: engagementID,
		Payload:      raw,
		Status:       models.TaskStatusPending,
	}
	if err := w.db.CreateSyncTask(ctx, &task); err != nil {
		return fmt.Errorf("failed to persist sync task: %w", err)
	}
	metrics.IncSyncTask(taskType, models.TaskStatusPending)

	if w.redis != nil {
		if err := w.pushRedis(ctx, task); err != nil {
			w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("Redis push failed, falling back to memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.queue <- task:
	default:
		w.logger.Warn().Int64("task_id", task.ID).Msg("In-memory queue full, task left to polling")
	}
	return nil
}

// Start runs the main loop until ctx is done.
func (w *SyncWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("Sync worker started")
	defer w.logger.Info().Msg("Sync worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if t, ok := w.tryLocalQueue(); ok {
			w.processTask(ctx, &t)
			continue
		}

		if t, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, &t)
			continue
		}

		tasks, err := w.db.GetPendingSyncTasks(ctx, w.batchSize)
		if err != nil {
			w.logger.Error().Err(err).Msg("Failed to fetch pending sync tasks")
			w.sleep(ctx)
			continue
		}
		if len(tasks) == 0 {
			w.sleep(ctx)
			continue
		}

		for i := range tasks {
			w.processTask(ctx, &tasks[i])
		}
	}
}

func (w *SyncWorker) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.pollInterval):
	}
}

func (w *SyncWorker) tryLocalQueue() (models.SyncTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.SyncTask{}, false
	}
}

func (w *SyncWorker) tryRedis(ctx context.Context) (models.SyncTask, bool) {
	if w.redis == nil {
		return models.SyncTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			w.logger.Error().Err(err).Msg("Redis BRPOP failed")
		}
		return models.SyncTask{}, false
	}
	if len(res) != 2 {
		return models.SyncTask{}, false
	}
	var task models.SyncTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("Failed to decode redis task")
		return models.SyncTask{}, false
	}
	return task, true
}

// processTask runs a task unless a concurrent path already settled it or
// its retry is not yet due.
func (w *SyncWorker) processTask(ctx context.Context, task *models.SyncTask) {
	current, err := w.db.GetSyncTask(ctx, task.ID)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to load sync task")
		return
	}
	if current.Status == models.TaskStatusCompleted || current.Status == models.TaskStatusFailed {
		return
	}
	if current.NextRetryAt != nil && current.NextRetryAt.After(time.Now()) {
		return
	}
	task = current

	err = w.handleTask(ctx, task)
	switch {
	case err == nil:
		if err := w.db.UpdateSyncTaskStatus(ctx, task.ID, models.TaskStatusCompleted, "", nil); err != nil {
			w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to mark task completed")
		}
		metrics.IncSyncTask(task.TaskType, models.TaskStatusCompleted)
	case errors.Is(err, errPermanent):
		w.failTask(ctx, task, err)
	default:
		w.retryOrFail(ctx, task, err)
	}
}

var errPermanent = errors.New("permanent task failure")

func (w *SyncWorker) handleTask(ctx context.Context, task *models.SyncTask) error {
	switch task.TaskType {
	case models.TaskMirrorUpsert:
		if w.mirror == nil {
			return fmt.Errorf("%w: ledger mirror is not configured", errPermanent)
		}
		e, err := w.snapshot(ctx, task)
		if err != nil {
			return err
		}
		return w.mirror.UpsertEngagement(ctx, e)
	case models.TaskRefundRetry:
		if w.refunds == nil {
			return fmt.Errorf("%w: refund retrier is not configured", errPermanent)
		}
		_, err := w.refunds.RetryRefund(ctx, task.EngagementID)
		return classify(err)
	case models.TaskSeedSystem:
		if w.acceptances == nil {
			return fmt.Errorf("%w: acceptance completer is not configured", errPermanent)
		}
		_, err := w.acceptances.CompleteAcceptance(ctx, task.EngagementID)
		return classify(err)
	default:
		return fmt.Errorf("%w: unknown task type: %s", errPermanent, task.TaskType)
	}
}

// classify marks errors that no retry can fix as permanent.
func classify(err error) error {
	if errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: %v", errPermanent, err)
	}
	return err
}

// snapshot prefers the current ledger row and falls back to the enqueued payload.
func (w *SyncWorker) snapshot(ctx context.Context, task *models.SyncTask) (*models.Engagement, error) {
	e, err := w.db.GetEngagement(ctx, task.EngagementID)
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if task.Payload == "" {
		return nil, fmt.Errorf("%w: engagement %s not found and payload missing", errPermanent, task.EngagementID)
	}
	decoded, err := decodeEngagement(task.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: decode payload: %v", errPermanent, err)
	}
	return decoded, nil
}

func decodeEngagement(raw string) (*models.Engagement, error) {
	var e models.Engagement
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, err
	}
	if e.ID == "" {
		return nil, errors.New("engagement id missing")
	}
	return &e, nil
}

func (w *SyncWorker) retryOrFail(ctx context.Context, task *models.SyncTask, cause error) {
	attempt := task.RetryCount + 1
	if w.retryPolicy.Exhausted(attempt) {
		w.failTask(ctx, task, cause)
		return
	}

	nextTime := time.Now().Add(w.retryPolicy.NextDelay(attempt))
	if err := w.db.UpdateSyncTaskStatus(ctx, task.ID, models.TaskStatusRetry, cause.Error(), &nextTime); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to mark task for retry")
	}
	metrics.IncSyncTask(task.TaskType, models.TaskStatusRetry)
	w.logger.Warn().Err(cause).
		Int64("task_id", task.ID).
		Str("task_type", task.TaskType).
		Int("attempt", attempt).
		Time("next_retry_at", nextTime).
		Msg("Sync task failed, scheduled retry")
}

func (w *SyncWorker) failTask(ctx context.Context, task *models.SyncTask, cause error) {
	if err := w.db.UpdateSyncTaskStatus(ctx, task.ID, models.TaskStatusFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to mark task failed")
	}
	metrics.IncSyncTask(task.TaskType, models.TaskStatusFailed)
	w.logger.Error().Err(cause).
		Int64("task_id", task.ID).
		Str("task_type", task.TaskType).
		Str("engagement_id", task.EngagementID).
		Msg("Sync task moved to dead letter")
	w.pushDeadLetter(ctx, task)

	if w.notifier != nil {
		text := fmt.Sprintf("Sync task %d (%s) for engagement %s failed: %v", task.ID, task.TaskType, task.EngagementID, cause)
		if err := w.notifier.NotifyOperators(context.WithoutCancel(ctx), text); err != nil {
			w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("Failed to notify operators")
		}
	}
}

func (w *SyncWorker) pushRedis(ctx context.Context, task models.SyncTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, w.redisQueueKey, data).Err()
}

func (w *SyncWorker) pushDeadLetter(ctx context.Context, task *models.SyncTask) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to encode dead letter")
		return
	}
	if err := w.redis.LPush(ctx, w.deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to push dead letter")
	}
}
