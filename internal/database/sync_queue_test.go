package database

import (
	"context"
	"testing"
	"time"

	"healthmate/internal/domain"
	"healthmate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncQueueCRUD(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	task := &models.SyncTask{
		TaskType:     "mirror_upsert",
		EngagementID: "e100",
		Payload:      `{"test": true}`,
	}

	// Create
	err := db.CreateSyncTask(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, task.Status)

	// Get Pending
	tasks, err := db.GetPendingSyncTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "e100", tasks[0].EngagementID)

	// Update Status
	err = db.UpdateSyncTaskStatus(ctx, tasks[0].ID, models.TaskStatusCompleted, "", nil)
	require.NoError(t, err)

	tasks, _ = db.GetPendingSyncTasks(ctx, 10)
	assert.Len(t, tasks, 0)

	stored, err := db.GetSyncTask(ctx, task.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.ProcessedAt)
	assert.Nil(t, stored.LastError)

	// Failed tasks
	errMsg := "some error"
	err1 := db.CreateSyncTask(ctx, &models.SyncTask{TaskType: "refund_retry", EngagementID: "e101", Status: models.TaskStatusFailed, LastError: &errMsg})
	require.NoError(t, err1)
	failed, err := db.GetFailedSyncTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, failed, 1)
	assert.Equal(t, "some error", *failed[0].LastError)

	// Retry logic
	task2 := &models.SyncTask{TaskType: "mirror_upsert", EngagementID: "e102"}
	err2 := db.CreateSyncTask(ctx, task2)
	require.NoError(t, err2)

	nextRetry := time.Now().Add(time.Hour)
	err = db.UpdateSyncTaskStatus(ctx, task2.ID, models.TaskStatusRetry, "temporary error", &nextRetry)
	require.NoError(t, err)

	// Should not be returned by GetPendingSyncTasks because nextRetry is in the future
	tasks, _ = db.GetPendingSyncTasks(ctx, 10)
	for _, task := range tasks {
		if task.ID == task2.ID {
			assert.Fail(t, "task with future retry should not be pending")
		}
	}

	// Update to past retry
	pastRetry := time.Now().Add(-time.Hour)
	err = db.UpdateSyncTaskStatus(ctx, task2.ID, models.TaskStatusRetry, "temporary error", &pastRetry)
	require.NoError(t, err)
	tasks, _ = db.GetPendingSyncTasks(ctx, 10)
	found := false
	for _, task := range tasks {
		if task.ID == task2.ID {
			found = true
			assert.Equal(t, 2, task.RetryCount)
		}
	}
	assert.True(t, found)
}

func TestRequeueFailedSyncTasks(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for _, typ := range []string{"refund_retry", "refund_retry", "mirror_upsert"} {
		require.NoError(t, db.CreateSyncTask(ctx, &models.SyncTask{TaskType: typ, EngagementID: "e1", Status: models.TaskStatusFailed, RetryCount: 5}))
	}

	n, err := db.RequeueFailedSyncTasks(ctx, "refund_retry")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	pending, err := db.GetPendingSyncTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, 0, pending[0].RetryCount)

	failed, err := db.GetFailedSyncTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, failed, 1)
}

func TestSyncTask_NotFound(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.GetSyncTask(ctx, 42)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, db.UpdateSyncTaskStatus(ctx, 42, models.TaskStatusCompleted, "", nil), domain.ErrNotFound)
}
