package model

import (
	"context"
	"net/http"
)

type contextKey struct{}

// WithModel returns a context carrying m.
func WithModel(ctx context.Context, m *Model) context.Context {
	return context.WithValue(ctx, contextKey{}, m)
}

// FromContext returns the request's model, or nil.
func FromContext(ctx context.Context) *Model {
	m, _ := ctx.Value(contextKey{}).(*Model)
	return m
}

// Middleware gives every request its own Model, closed when the handler
// returns.
func (b *Backend) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := b.CreateModel()
		defer m.Close()
		next.ServeHTTP(w, r.WithContext(WithModel(r.Context(), m)))
	})
}
