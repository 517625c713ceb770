package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"healthmate/internal/domain"
	"healthmate/internal/models"
)

// TimeoutGateway bounds every outbound call of the wrapped gateway.
type TimeoutGateway struct {
	inner           Gateway
	checkoutTimeout time.Duration
	refundTimeout   time.Duration
}

func WithTimeouts(inner Gateway, checkoutTimeout, refundTimeout time.Duration) *TimeoutGateway {
	return &TimeoutGateway{
		inner:           inner,
		checkoutTimeout: checkoutTimeout,
		refundTimeout:   refundTimeout,
	}
}

func (g *TimeoutGateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	return callWithTimeout(ctx, g.checkoutTimeout, func(ctx context.Context) (*CheckoutSession, error) {
		return g.inner.CreateCheckout(ctx, req)
	})
}

func (g *TimeoutGateway) ParseWebhook(payload []byte, signature string) (*models.CheckoutCompleted, error) {
	return g.inner.ParseWebhook(payload, signature)
}

// Refund reports any failure, including a timeout, as domain.ErrRefundFailed.
func (g *TimeoutGateway) Refund(ctx context.Context, paymentIntentID string) (*RefundResult, error) {
	res, err := callWithTimeout(ctx, g.refundTimeout, func(ctx context.Context) (*RefundResult, error) {
		return g.inner.Refund(ctx, paymentIntentID)
	})
	if err != nil {
		if errors.Is(err, domain.ErrRefundFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrRefundFailed, err)
	}
	return res, nil
}

type result[T any] struct {
	val T
	err error
}

// callWithTimeout returns as soon as the deadline passes even if fn ignores ctx.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan result[T], 1)
	go func() {
		v, err := fn(ctx)
		done <- result[T]{val: v, err: err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("payment gateway call timed out after %s: %w", timeout, ctx.Err())
	}
}
