package repository

import (
	"context"
	"sync/atomic"
	"time"

	"healthmate/internal/domain"

	"github.com/rs/zerolog"
)

const recheckInterval = time.Minute

// FailoverSeenStore serves from the primary store and switches to the fallback
// while the primary is failing, retrying the primary once per minute.
type FailoverSeenStore struct {
	primary   domain.SeenStore
	fallback  domain.SeenStore
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverSeenStore(primary, fallback domain.SeenStore, logger *zerolog.Logger) *FailoverSeenStore {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverSeenStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverSeenStore) markDown(err error) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Primary seen store failed, falling back to memory")
	}
	r.lastCheck.Store(time.Now().UnixNano())
}

// usePrimary reports whether the next call should go to the primary store.
func (r *FailoverSeenStore) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	return time.Since(time.Unix(0, r.lastCheck.Load())) > recheckInterval
}

func (r *FailoverSeenStore) recovered() {
	if r.isDown.Swap(false) {
		r.logger.Info().Msg("Primary seen store recovered")
	}
}

func (r *FailoverSeenStore) MarkSeen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if r.usePrimary() {
		first, err := r.primary.MarkSeen(ctx, key, ttl)
		if err == nil {
			r.recovered()
			return first, nil
		}
		r.markDown(err)
	}
	return r.fallback.MarkSeen(ctx, key, ttl)
}

func (r *FailoverSeenStore) Forget(ctx context.Context, key string) error {
	if r.usePrimary() {
		err := r.primary.Forget(ctx, key)
		if err == nil {
			r.recovered()
			return r.fallback.Forget(ctx, key)
		}
		r.markDown(err)
	}
	return r.fallback.Forget(ctx, key)
}

func (r *FailoverSeenStore) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.usePrimary() {
		allowed, err := r.primary.CheckRateLimit(ctx, key, limit, window)
		if err == nil {
			r.recovered()
			return allowed, nil
		}
		r.markDown(err)
	}
	return r.fallback.CheckRateLimit(ctx, key, limit, window)
}
