package api

import (
	"context"

	"github.com/org/geocrypt/internal/auth"
)

type contextKey string

const (
	ctxKeyClaims    contextKey = "claims"
	ctxKeyRequestID contextKey = "request_id"
	ctxKeyCookie    contextKey = "cookie_auth"
)

func withClaims(ctx context.Context, c *auth.Claims) context.Context {
	return context.WithValue(ctx, ctxKeyClaims, c)
}

func claimsFromCtx(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(ctxKeyClaims).(*auth.Claims)
	return c
}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

func requestIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// withCookieAuth marks that the request authenticated via cookie rather
// than an Authorization header; the CSRF check only applies to those.
func withCookieAuth(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKeyCookie, true)
}

func cookieAuthFromCtx(ctx context.Context) bool {
	v, _ := ctx.Value(ctxKeyCookie).(bool)
	return v
}
