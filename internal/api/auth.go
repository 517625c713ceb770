package api

import (
	"context"
	"crypto/subtle"
	"strings"

	"healthmate/internal/config"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const (
	apiKeyHeaderDefault   = "x-api-key"
	apiExtraHeaderDefault = "x-api-extra"
	permReadEngagements   = "read:engagements"
	permReadMessages      = "read:messages"
	clientKeyUnknown      = "unknown"
)

var methodPermissions = map[string]string{
	methodGetEngagement: permReadEngagements,
	methodListMessages:  permReadMessages,
}

// apiClient is a configured reporting consumer of the query service.
type apiClient struct {
	name  string
	extra []byte
	// nil grants every permission
	perms map[string]struct{}
}

func (c *apiClient) can(perm string) bool {
	if perm == "" || c.perms == nil {
		return true
	}
	_, ok := c.perms[perm]
	return ok
}

type clientCtxKey struct{}

func clientNameFromContext(ctx context.Context) string {
	if name, ok := ctx.Value(clientCtxKey{}).(string); ok {
		return name
	}
	return ""
}

// AuthInterceptor checks the key/extra header pair of every query call and
// throttles each caller with its own token bucket. Health checks pass through.
type AuthInterceptor struct {
	enabled     bool
	keyHeader   string
	extraHeader string
	clients     map[string]*apiClient
	limiter     *rateLimiter
}

func NewAuthInterceptor(cfg *config.APIConfig) *AuthInterceptor {
	clients := make(map[string]*apiClient, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		c := &apiClient{name: k.Name, extra: []byte(k.Extra)}
		if c.name == "" {
			c.name = clientKeyUnknown
		}
		if len(k.Permissions) > 0 {
			c.perms = make(map[string]struct{}, len(k.Permissions))
			for _, p := range k.Permissions {
				c.perms[strings.TrimSpace(p)] = struct{}{}
			}
		}
		clients[k.Key] = c
	}

	return &AuthInterceptor{
		enabled:     cfg.Auth.Enabled,
		keyHeader:   headerName(cfg.Auth.HeaderAPIKey, apiKeyHeaderDefault),
		extraHeader: headerName(cfg.Auth.HeaderExtra, apiExtraHeaderDefault),
		clients:     clients,
		limiter:     newRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
	}
}

func (a *AuthInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, "/grpc.health.v1.Health/") {
			return handler(ctx, req)
		}

		md, _ := metadata.FromIncomingContext(ctx)
		apiKey := firstValue(md, a.keyHeader)

		if a.enabled {
			client, err := a.authenticate(md, apiKey)
			if err != nil {
				return nil, err
			}
			if !client.can(methodPermissions[info.FullMethod]) {
				return nil, status.Error(codes.PermissionDenied, "permission denied")
			}
			ctx = context.WithValue(ctx, clientCtxKey{}, client.name)
		}

		if a.limiter.enabled() && !a.limiter.allow(limitKey(ctx, apiKey)) {
			return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}
		return handler(ctx, req)
	}
}

func (a *AuthInterceptor) authenticate(md metadata.MD, apiKey string) (*apiClient, error) {
	if md == nil {
		return nil, status.Error(codes.Unauthenticated, "missing metadata")
	}
	extra := firstValue(md, a.extraHeader)
	if apiKey == "" || extra == "" {
		return nil, status.Error(codes.Unauthenticated, "missing api key headers")
	}

	client, ok := a.clients[apiKey]
	if !ok || subtle.ConstantTimeCompare(client.extra, []byte(extra)) != 1 {
		return nil, status.Error(codes.Unauthenticated, "invalid credentials")
	}
	return client, nil
}

// limitKey buckets by api key, falling back to the peer address.
func limitKey(ctx context.Context, apiKey string) string {
	if apiKey != "" {
		return apiKey
	}
	return peerAddr(ctx)
}

func peerAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return clientKeyUnknown
}

func headerName(configured, fallback string) string {
	if h := strings.ToLower(strings.TrimSpace(configured)); h != "" {
		return h
	}
	return fallback
}

func firstValue(md metadata.MD, key string) string {
	vals := md.Get(key)
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}
