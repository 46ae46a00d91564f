package httpapi

import "context"

type usernameKey struct{}

func withUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, usernameKey{}, username)
}

func usernameFromContext(ctx context.Context) string {
	u, _ := ctx.Value(usernameKey{}).(string)
	if u == "" {
		return "anonymous"
	}
	return u
}
