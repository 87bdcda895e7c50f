package auth

import "context"

type contextKey string

const authContextKey contextKey = "gateway_auth"

// AuthInfo holds the effective quota identity resolved from an API key, per
// spec.md §4.J: a key resolves directly to a rate-limit configuration, not
// to an organizational hierarchy.
type AuthInfo struct {
	KeyID               string
	KeyPrefix           string
	AllowedModels       []string // empty = all
	RateCapacity        float64
	RateRefillPerSecond float64
}

func ContextWithAuth(ctx context.Context, info *AuthInfo) context.Context {
	return context.WithValue(ctx, authContextKey, info)
}

func AuthFromContext(ctx context.Context) (*AuthInfo, bool) {
	info, ok := ctx.Value(authContextKey).(*AuthInfo)
	return info, ok
}
