package database

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"healthmate/internal/domain"
	"healthmate/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateEngagementIfAbsent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	created, err := db.CreateEngagementIfAbsent(ctx, newPendingEngagement("e1", "pi_1"))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = db.CreateEngagementIfAbsent(ctx, newPendingEngagement("e2", "pi_1"))
	require.NoError(t, err)
	assert.False(t, created, "same payment intent must not create a second entry")

	got, err := db.GetEngagementByPaymentIntent(ctx, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, "e1", got.ID)
	assert.Equal(t, models.Money(15000), got.PlatformFee)
	assert.Equal(t, models.Money(85000), got.ProviderIncome)
	assert.True(t, got.IsPaid)
	assert.NotNil(t, got.PaidAt)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, int64(1), got.Version)

	all, err := db.ListEngagements(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCreateEngagementIfAbsent_RequiresPaymentIntent(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.CreateEngagementIfAbsent(context.Background(), newPendingEngagement("e1", " "))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestGetEngagement_NotFound(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.GetEngagement(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = db.GetEngagementByPaymentIntent(ctx, "pi_missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTransitionEngagement(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.CreateEngagementIfAbsent(ctx, newPendingEngagement("e1", "pi_1"))
	require.NoError(t, err)

	require.NoError(t, db.TransitionEngagement(ctx, "e1", models.StatusAccepted))

	got, err := db.GetEngagement(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, got.Status)
	assert.NotNil(t, got.DecidedAt)
	assert.Equal(t, int64(2), got.Version)

	err = db.TransitionEngagement(ctx, "e1", models.StatusRejected)
	assert.ErrorIs(t, err, domain.ErrAlreadyDecided)

	got, err = db.GetEngagement(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, got.Status, "decided entry must not change")

	err = db.TransitionEngagement(ctx, "missing", models.StatusAccepted)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = db.TransitionEngagement(ctx, "e1", models.StatusPending)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestTransitionEngagement_Concurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concurrency.db")
	logger := zerolog.Nop()
	db, err := NewDB(path, &logger)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	_, err = db.CreateEngagementIfAbsent(ctx, newPendingEngagement("e1", "pi_1"))
	require.NoError(t, err)

	const workers = 10
	var wg sync.WaitGroup
	var succeeded, alreadyDecided int32

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			to := models.StatusAccepted
			if i%2 == 1 {
				to = models.StatusRejected
			}
			switch err := db.TransitionEngagement(ctx, "e1", to); {
			case err == nil:
				atomic.AddInt32(&succeeded, 1)
			case assert.ErrorIs(t, err, domain.ErrAlreadyDecided):
				atomic.AddInt32(&alreadyDecided, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded)
	assert.Equal(t, int32(workers-1), alreadyDecided)

	got, err := db.GetEngagement(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
}

func TestCreateEngagementIfAbsent_Concurrent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var created int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e := newPendingEngagement(string(rune('a'+i)), "pi_same")
			ok, err := db.CreateEngagementIfAbsent(ctx, e)
			assert.NoError(t, err)
			if ok {
				atomic.AddInt32(&created, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), created)
}

func TestRefundBookkeeping(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.CreateEngagementIfAbsent(ctx, newPendingEngagement("e1", "pi_1"))
	require.NoError(t, err)

	// refund bookkeeping only applies to rejected entries
	err = db.MarkEngagementRefunded(ctx, "e1")
	assert.ErrorIs(t, err, domain.ErrValidation)

	require.NoError(t, db.TransitionEngagement(ctx, "e1", models.StatusRejected))

	require.NoError(t, db.RecordRefundFailure(ctx, "e1", "gateway unreachable"))

	unrefunded, err := db.ListUnrefundedEngagements(ctx)
	require.NoError(t, err)
	require.Len(t, unrefunded, 1)
	require.NotNil(t, unrefunded[0].RefundError)
	assert.Equal(t, "gateway unreachable", *unrefunded[0].RefundError)
	assert.Equal(t, 1, unrefunded[0].RefundAttempts)
	assert.True(t, unrefunded[0].NeedsRefund())

	require.NoError(t, db.MarkEngagementRefunded(ctx, "e1"))

	got, err := db.GetEngagement(ctx, "e1")
	require.NoError(t, err)
	assert.False(t, got.IsPaid)
	assert.Nil(t, got.PaidAt)
	assert.Nil(t, got.RefundError)
	assert.NotNil(t, got.RefundedAt)
	assert.Equal(t, 2, got.RefundAttempts)

	// second confirmation is a no-op
	require.NoError(t, db.MarkEngagementRefunded(ctx, "e1"))

	unrefunded, err = db.ListUnrefundedEngagements(ctx)
	require.NoError(t, err)
	assert.Empty(t, unrefunded)

	assert.ErrorIs(t, db.RecordRefundFailure(ctx, "missing", "x"), domain.ErrNotFound)
	assert.ErrorIs(t, db.MarkEngagementRefunded(ctx, "missing"), domain.ErrNotFound)
}

func TestListEngagements(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, row := range []struct {
		id, pi, requester, provider string
	}{
		{"e1", "pi_1", "u1", "p1"},
		{"e2", "pi_2", "u2", "p1"},
		{"e3", "pi_3", "u1", "p2"},
	} {
		e := newPendingEngagement(row.id, row.pi)
		e.RequesterID = row.requester
		e.ProviderID = row.provider
		e.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		_, err := db.CreateEngagementIfAbsent(ctx, e)
		require.NoError(t, err)
	}
	require.NoError(t, db.TransitionEngagement(ctx, "e2", models.StatusAccepted))

	pending, err := db.ListEngagementsByProvider(ctx, "p1", models.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "e1", pending[0].ID)

	accepted, err := db.ListEngagementsByProvider(ctx, "p1", models.StatusAccepted)
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.Equal(t, "e2", accepted[0].ID)

	mine, err := db.ListEngagementsByRequester(ctx, "u1", "")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "e3", mine[0].ID, "newest first")

	limited, err := db.ListEngagements(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	ranged, err := db.ListEngagementsByCreatedRange(ctx, base, base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, ranged, 2)
	assert.Equal(t, "e1", ranged[0].ID)
	assert.Equal(t, "e2", ranged[1].ID)
}
