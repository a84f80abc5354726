package session

import (
	"context"
	"time"
)

// Session is the per-browser state carried between requests.
type Session struct {
	ID       string         `json:"id"`
	UserID   string         `json:"userId,omitempty"`
	LoggedIn bool           `json:"loggedIn"`
	Env      map[string]any `json:"env,omitempty"`

	// Values holds application fields that have no dedicated slot.
	Values map[string]any `json:"values,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// Set stores an application value.
func (s *Session) Set(key string, value any) {
	if s.Values == nil {
		s.Values = make(map[string]any)
	}
	s.Values[key] = value
}

// Clone returns a copy of s that shares no maps or slices with it.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Env = cloneMap(s.Env)
	c.Values = cloneMap(s.Values)
	return &c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return cloneMap(v)
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), v...)
	default:
		return v
	}
}

// Get returns an application value, or nil.
func (s *Session) Get(key string) any {
	return s.Values[key]
}

type contextKey struct{}

// WithSession returns a context carrying s.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, &state{sess: s})
}

// FromContext returns the request's session, or nil outside the Manager
// middleware.
func FromContext(ctx context.Context) *Session {
	if st := stateFrom(ctx); st != nil {
		return st.sess
	}
	return nil
}

func stateFrom(ctx context.Context) *state {
	st, _ := ctx.Value(contextKey{}).(*state)
	return st
}
