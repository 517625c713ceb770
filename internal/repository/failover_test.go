package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) MarkSeen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *mockRepo) Forget(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *mockRepo) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}

func TestFailoverSeenStore(t *testing.T) {
	primary := new(mockRepo)
	fallback := new(mockRepo)
	logger := zerolog.New(io.Discard)
	repo := NewFailoverSeenStore(primary, fallback, &logger)
	ctx := context.Background()

	t.Run("PrimarySuccess", func(t *testing.T) {
		primary.On("MarkSeen", ctx, "evt_1", time.Hour).Return(true, nil).Once()

		first, err := repo.MarkSeen(ctx, "evt_1", time.Hour)
		assert.NoError(t, err)
		assert.True(t, first)
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryFailFallbackSuccess", func(t *testing.T) {
		primary.On("MarkSeen", ctx, "evt_2", time.Hour).Return(false, errors.New("fail")).Once()
		fallback.On("MarkSeen", ctx, "evt_2", time.Hour).Return(true, nil).Once()

		first, err := repo.MarkSeen(ctx, "evt_2", time.Hour)
		assert.NoError(t, err)
		assert.True(t, first)
		assert.True(t, repo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("AlreadyDownSkipsPrimary", func(t *testing.T) {
		fallback.On("CheckRateLimit", ctx, "chat:u1", 10, time.Minute).Return(true, nil).Once()

		allowed, err := repo.CheckRateLimit(ctx, "chat:u1", 10, time.Minute)
		assert.NoError(t, err)
		assert.True(t, allowed)
		fallback.AssertExpectations(t)
	})

	t.Run("RecoveryAttempt", func(t *testing.T) {
		repo.isDown.Store(true)
		repo.lastCheck.Store(time.Now().Add(-2 * time.Minute).UnixNano())

		primary.On("MarkSeen", ctx, "evt_3", time.Hour).Return(false, nil).Once()

		first, err := repo.MarkSeen(ctx, "evt_3", time.Hour)
		assert.NoError(t, err)
		assert.False(t, first)
		assert.False(t, repo.isDown.Load())
		primary.AssertExpectations(t)
	})

	t.Run("RecoveryAttemptFail", func(t *testing.T) {
		repo.isDown.Store(true)
		repo.lastCheck.Store(time.Now().Add(-2 * time.Minute).UnixNano())

		primary.On("MarkSeen", ctx, "evt_33", time.Hour).Return(false, errors.New("still fail")).Once()
		fallback.On("MarkSeen", ctx, "evt_33", time.Hour).Return(true, nil).Once()

		_, err := repo.MarkSeen(ctx, "evt_33", time.Hour)
		assert.NoError(t, err)
		assert.True(t, repo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("ForgetClearsBoth", func(t *testing.T) {
		repo.isDown.Store(false)
		primary.On("Forget", ctx, "evt_4").Return(nil).Once()
		fallback.On("Forget", ctx, "evt_4").Return(nil).Once()

		assert.NoError(t, repo.Forget(ctx, "evt_4"))
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("ForgetFailover", func(t *testing.T) {
		repo.isDown.Store(false)
		primary.On("Forget", ctx, "evt_5").Return(errors.New("fail")).Once()
		fallback.On("Forget", ctx, "evt_5").Return(nil).Once()

		assert.NoError(t, repo.Forget(ctx, "evt_5"))
		assert.True(t, repo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("CheckRateLimitFailover", func(t *testing.T) {
		repo.isDown.Store(false)
		primary.On("CheckRateLimit", ctx, "chat:u6", 10, time.Minute).Return(false, errors.New("fail")).Once()
		fallback.On("CheckRateLimit", ctx, "chat:u6", 10, time.Minute).Return(true, nil).Once()

		allowed, err := repo.CheckRateLimit(ctx, "chat:u6", 10, time.Minute)
		assert.NoError(t, err)
		assert.True(t, allowed)
		assert.True(t, repo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})
}
