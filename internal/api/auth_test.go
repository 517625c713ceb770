package api

import (
	"context"
	"testing"

	"healthmate/internal/config"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestAuthInterceptor(t *testing.T) {
	cfg := config.APIConfig{
		Auth: config.APIAuthConfig{
			Enabled:      true,
			HeaderAPIKey: "X-Reporting-Key",
			HeaderExtra:  "X-Reporting-Secret",
			APIKeys: []config.APIClientKey{
				{Name: "bi", Key: "bi-key", Extra: "bi-secret", Permissions: []string{permReadMessages}},
			},
		},
		RateLimit: config.APIRateLimitConfig{RPS: 100, Burst: 100},
	}
	interceptor := NewAuthInterceptor(&cfg).Unary()
	handler := func(context.Context, any) (any, error) { return "ok", nil }

	withMD := func(kv ...string) context.Context {
		return metadata.NewIncomingContext(context.Background(), metadata.Pairs(kv...))
	}

	tests := []struct {
		name   string
		ctx    context.Context
		method string
		want   codes.Code
	}{
		{"allowed", withMD("x-reporting-key", "bi-key", "x-reporting-secret", "bi-secret"), methodListMessages, codes.OK},
		{"no metadata", context.Background(), methodListMessages, codes.Unauthenticated},
		{"no headers", withMD(), methodListMessages, codes.Unauthenticated},
		{"default header names ignored", withMD("x-api-key", "bi-key", "x-api-extra", "bi-secret"), methodListMessages, codes.Unauthenticated},
		{"unknown key", withMD("x-reporting-key", "nope", "x-reporting-secret", "bi-secret"), methodListMessages, codes.Unauthenticated},
		{"wrong secret", withMD("x-reporting-key", "bi-key", "x-reporting-secret", "nope"), methodListMessages, codes.Unauthenticated},
		{"missing permission", withMD("x-reporting-key", "bi-key", "x-reporting-secret", "bi-secret"), methodGetEngagement, codes.PermissionDenied},
		{"health bypasses auth", context.Background(), "/grpc.health.v1.Health/Check", codes.OK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := interceptor(tt.ctx, nil, &grpc.UnaryServerInfo{FullMethod: tt.method}, handler)
			assert.Equal(t, tt.want, status.Code(err))
			if tt.want == codes.OK {
				assert.Equal(t, "ok", resp)
			}
		})
	}
}

func TestAuthInterceptor_RateLimitPerKey(t *testing.T) {
	cfg := config.APIConfig{RateLimit: config.APIRateLimitConfig{RPS: 1, Burst: 1}}
	interceptor := NewAuthInterceptor(&cfg).Unary()
	info := &grpc.UnaryServerInfo{FullMethod: methodGetEngagement}
	handler := func(context.Context, any) (any, error) { return nil, nil }

	first := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-api-key", "key1"))
	_, err := interceptor(first, nil, info, handler)
	assert.NoError(t, err)
	_, err = interceptor(first, nil, info, handler)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))

	second := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-api-key", "key2"))
	_, err = interceptor(second, nil, info, handler)
	assert.NoError(t, err)
}

func TestLoggingUnaryInterceptor(t *testing.T) {
	interceptor := LoggingUnaryInterceptor(nil)
	handler := func(ctx context.Context, req any) (any, error) {
		return "ok", nil
	}
	info := &grpc.UnaryServerInfo{FullMethod: "test"}

	resp, err := interceptor(context.Background(), "req", info, handler)
	assert.NoError(t, err)
	assert.Equal(t, "ok", resp)
}

func TestRecoveryUnaryInterceptor(t *testing.T) {
	interceptor := RecoveryUnaryInterceptor(nil)
	info := &grpc.UnaryServerInfo{FullMethod: "test"}

	_, err := interceptor(context.Background(), "req", info, func(context.Context, any) (any, error) {
		panic("boom")
	})
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestChainUnaryInterceptors_Order(t *testing.T) {
	var order []string
	mk := func(name string) grpc.UnaryServerInterceptor {
		return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
			order = append(order, name)
			return handler(ctx, req)
		}
	}
	chain := ChainUnaryInterceptors(mk("a"), mk("b"), mk("c"))
	_, err := chain(context.Background(), nil, &grpc.UnaryServerInfo{}, func(context.Context, any) (any, error) {
		order = append(order, "handler")
		return nil, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "handler"}, order)
}

func TestMethodPermissions(t *testing.T) {
	assert.Equal(t, permReadEngagements, methodPermissions[methodGetEngagement])
	assert.Equal(t, permReadMessages, methodPermissions[methodListMessages])
	assert.Empty(t, methodPermissions["/other"])
}

func TestAuthInterceptor_ClientNameInContext(t *testing.T) {
	cfg := config.APIConfig{
		Auth: config.APIAuthConfig{
			Enabled: true,
			APIKeys: []config.APIClientKey{{Name: "reporting", Key: "k", Extra: "e"}},
		},
	}
	interceptor := NewAuthInterceptor(&cfg).Unary()
	info := &grpc.UnaryServerInfo{FullMethod: methodGetEngagement}

	var seen string
	handler := func(ctx context.Context, _ any) (any, error) {
		seen = clientNameFromContext(ctx)
		return nil, nil
	}

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-api-key", "k", "x-api-extra", "e"))
	_, err := interceptor(ctx, nil, info, handler)
	assert.NoError(t, err)
	assert.Equal(t, "reporting", seen, "empty permission list grants every method")
}

func TestTracingUnaryInterceptor(t *testing.T) {
	interceptor := TracingUnaryInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: methodListMessages}

	_, err := interceptor(context.Background(), nil, info, func(context.Context, any) (any, error) {
		return nil, status.Error(codes.NotFound, "missing")
	})
	assert.Equal(t, codes.NotFound, status.Code(err))
}
