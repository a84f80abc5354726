package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/vango-dev/syncpage/pkg/session"
)

// DefaultCookieName is the cookie holding the login token.
const DefaultCookieName = "syncpage.auth"

// Session value keys written by Strategy.
const (
	KeyEmail = "email"
	KeyRoles = "roles"
)

// Option configures a Strategy.
type Option func(*Strategy)

// WithCookieName sets the login cookie name.
func WithCookieName(name string) Option {
	return func(s *Strategy) {
		if name != "" {
			s.cookieName = name
		}
	}
}

// WithSecureCookie marks the login cookie Secure.
func WithSecureCookie(secure bool) Option {
	return func(s *Strategy) { s.secure = secure }
}

// WithLogger sets the strategy logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Strategy) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Strategy authenticates sessions from login tokens.
type Strategy struct {
	tokens     *Tokens
	cookieName string
	secure     bool
	logger     *slog.Logger
}

// NewStrategy creates a Strategy verifying tokens with t.
func NewStrategy(t *Tokens, opts ...Option) *Strategy {
	s := &Strategy{tokens: t, cookieName: DefaultCookieName, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "auth")
	return s
}

// Authenticate sets the session user from the request's token. Without a
// valid token the session is anonymous: a previously logged-in session gets
// a fresh anonymous id.
func (s *Strategy) Authenticate(r *http.Request, sess *session.Session) error {
	if token := s.token(r); token != "" {
		p, err := s.tokens.Parse(token)
		if err == nil {
			apply(sess, p)
			return nil
		}
		s.logger.Debug("login token rejected", "error", err)
	}

	if sess.LoggedIn {
		sess.LoggedIn = false
		sess.UserID = ""
		delete(sess.Values, KeyEmail)
		delete(sess.Values, KeyRoles)
	}
	if sess.UserID == "" {
		sess.UserID = uuid.NewString()
	}
	return nil
}

// Login issues a token for p, sets the login cookie and marks sess as
// logged in.
func (s *Strategy) Login(w http.ResponseWriter, sess *session.Session, p Principal) error {
	token, err := s.tokens.Issue(p)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.tokens.TTL().Seconds()),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	if sess != nil {
		apply(sess, p)
	}
	s.logger.Info("user logged in", "user_id", p.ID)
	return nil
}

// Logout clears the login cookie and returns sess to an anonymous user.
func (s *Strategy) Logout(w http.ResponseWriter, sess *session.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	if sess == nil {
		return
	}
	s.logger.Info("user logged out", "user_id", sess.UserID)
	sess.LoggedIn = false
	sess.UserID = uuid.NewString()
	delete(sess.Values, KeyEmail)
	delete(sess.Values, KeyRoles)
}

func (s *Strategy) token(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(s.cookieName); err == nil {
		return c.Value
	}
	return ""
}

func apply(sess *session.Session, p Principal) {
	sess.UserID = p.ID
	sess.LoggedIn = true
	delete(sess.Values, KeyEmail)
	delete(sess.Values, KeyRoles)
	if p.Email != "" {
		sess.Set(KeyEmail, p.Email)
	}
	if len(p.Roles) > 0 {
		roles := make([]any, len(p.Roles))
		for i, r := range p.Roles {
			roles[i] = r
		}
		sess.Set(KeyRoles, roles)
	}
}
