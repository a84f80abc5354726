package syncpage

import (
	"maps"
	"net/http"
	"time"

	"github.com/vango-dev/syncpage/pkg/middleware"
	"github.com/vango-dev/syncpage/pkg/model"
	"github.com/vango-dev/syncpage/pkg/router"
	"github.com/vango-dev/syncpage/pkg/session"
)

// Cookie names read by redirectCookie.
const (
	RedirectCookie     = "redirect"
	RedirectWhenCookie = "redirectWhen"
)

// authenticate resolves the session user through the configured strategy
// and mirrors it into the request model.
func (a *App) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := session.FromContext(r.Context())
		if sess == nil {
			next.ServeHTTP(w, r)
			return
		}
		if err := a.config.Auth.Authenticate(r, sess); err != nil {
			a.handleError(w, r, err)
			return
		}
		if m := model.FromContext(r.Context()); m != nil {
			m.SetUserID(sess.UserID)
			ctx := r.Context()
			if err := m.Set(ctx, "_session.userId", sess.UserID); err != nil {
				a.handleError(w, r, err)
				return
			}
			if err := m.Set(ctx, "_session.loggedIn", sess.LoggedIn); err != nil {
				a.handleError(w, r, err)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// injectEnv exposes the public environment to page loads.
func (a *App) injectEnv(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if middleware.IsXHR(r) {
			next.ServeHTTP(w, r)
			return
		}
		if sess := session.FromContext(r.Context()); sess != nil {
			sess.Env = maps.Clone(a.env)
		}
		if m := model.FromContext(r.Context()); m != nil {
			if err := m.Set(r.Context(), "_session.env", a.env); err != nil {
				a.handleError(w, r, err)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// upgrade hands websocket requests on the transport path to the realtime
// transport.
func (a *App) upgrade(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == a.config.TransportPath {
			a.transport.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// markAdmin sets _session.isAdmin for admin users.
func (a *App) markAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := session.FromContext(r.Context())
		m := model.FromContext(r.Context())
		if sess != nil && m != nil && a.admins.IsAdmin(sess.UserID) {
			if err := m.Set(r.Context(), "_session.isAdmin", true); err != nil {
				a.handleError(w, r, err)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// redirectCookie sends a logged-in user to the page stored in the redirect
// cookie, once.
func (a *App) redirectCookie(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		target, ok := middleware.Cookie(ctx, RedirectCookie)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		sess := session.FromContext(ctx)
		if sess == nil || !sess.LoggedIn {
			next.ServeHTTP(w, r)
			return
		}
		if when, ok := middleware.Cookie(ctx, RedirectWhenCookie); ok && when != "loggedIn" {
			next.ServeHTTP(w, r)
			return
		}

		clearCookie(w, RedirectCookie)
		clearCookie(w, RedirectWhenCookie)
		if !router.IsLocalURL(target) {
			a.logger.Warn("redirect cookie ignored", "target", target)
			next.ServeHTTP(w, r)
			return
		}
		http.Redirect(w, r, target, http.StatusFound)
	})
}

// trackActivity stamps auths.<userId>.timestamps.lastactivity on page loads
// of logged-in users.
func (a *App) trackActivity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess := session.FromContext(ctx)
		m := model.FromContext(ctx)
		if sess == nil || m == nil || !sess.LoggedIn || sess.UserID == "" {
			next.ServeHTTP(w, r)
			return
		}

		auth := m.At("auths." + sess.UserID)
		if err := m.Fetch(ctx, auth); err != nil {
			a.logger.Warn("fetch auth failed", "user_id", sess.UserID, "error", err)
			next.ServeHTTP(w, r)
			return
		}
		if r.Method == http.MethodGet && !middleware.IsXHR(r) && auth.Get() != nil {
			if err := auth.At("timestamps.lastactivity").Set(ctx, time.Now().UnixMilli()); err != nil {
				a.logger.Warn("last activity update failed", "user_id", sess.UserID, "error", err)
			}
		}
		next.ServeHTTP(w, r)
	})
}

func clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{Name: name, Value: "", Path: "/", MaxAge: -1})
}
