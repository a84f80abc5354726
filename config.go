package syncpage

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/syncpage/pkg/assets"
	"github.com/vango-dev/syncpage/pkg/middleware"
	"github.com/vango-dev/syncpage/pkg/model"
	"github.com/vango-dev/syncpage/pkg/pubsub"
	"github.com/vango-dev/syncpage/pkg/render"
	"github.com/vango-dev/syncpage/pkg/router"
	"github.com/vango-dev/syncpage/pkg/session"
	"github.com/vango-dev/syncpage/pkg/store"
)

// DefaultTransportPath is where the realtime websocket endpoint is mounted.
const DefaultTransportPath = "/channel"

// Config configures an App.
type Config struct {
	// Store is the document store. Required.
	Store store.DocStore

	// PubSub fans out document changes. Default: in-process bus.
	PubSub pubsub.PubSub

	// SessionStore persists sessions. Default: in-memory store.
	SessionStore session.Store

	// SessionSecret signs session cookies. Required.
	SessionSecret string

	// Session configures the session cookie.
	Session SessionConfig

	// Apps is the route table. Default: an empty table, so every path
	// renders the "main" app.
	Apps *router.Table

	// Heads returns the head fragment for an app. Computed once per app.
	Heads render.HeadFunc

	// Assets resolves client bundle names to URLs. Default: passthrough
	// under assets.DefaultPrefix.
	Assets assets.Resolver

	// Styles are stylesheet URLs linked from every page.
	Styles []string

	// Lang is the html lang attribute. Default: "en".
	Lang string

	// Static lists directories served verbatim before any page handling.
	Static []StaticDir

	// StaticCache selects cache headers for static files.
	StaticCache CacheControl

	// Schema registers a validator per collection.
	Schema map[string]model.Validator

	// Hooks registers commit hooks and query middlewares on the backend.
	Hooks func(*model.Backend)

	// AccessControl registers access rules on the backend.
	AccessControl func(*model.Backend)

	// Admins lists the emails of admin users.
	Admins []string

	// PublicEnv lists environment variables exposed to the client under
	// _session.env.
	PublicEnv []string

	// LookupEnv reads PublicEnv values. Default: os.LookupEnv.
	LookupEnv func(string) (string, bool)

	// ForceHTTPS redirects plain HTTP requests to https.
	ForceHTTPS bool

	// BodyLimit caps request bodies. Default: middleware.DefaultBodyLimit.
	BodyLimit int64

	// TransportPath is the websocket endpoint. Default: DefaultTransportPath.
	TransportPath string

	// SilentLogs suppresses websocket open/close logs.
	SilentLogs bool

	// Auth identifies the session user. Default: AnonymousAuth. See
	// pkg/auth for token-based login.
	Auth AuthStrategy

	// Middleware is applied, in order, after the built-in stack.
	Middleware []MiddlewareBuilder

	// ServerRoutes mounts caller routes ahead of page rendering.
	ServerRoutes func(r chi.Router)

	// Metrics records Prometheus metrics when set.
	Metrics *middleware.Metrics

	// MetricsPath exposes Metrics when both are set.
	MetricsPath string

	// TracerProvider enables request spans when set.
	TracerProvider trace.TracerProvider

	// FilterTimeout bounds each filter. Default: filter.DefaultTimeout.
	FilterTimeout time.Duration

	// BundleTimeout bounds bundling. Default: render.DefaultBundleTimeout.
	BundleTimeout time.Duration

	// WatchdogInterval is how often the store is pinged. Zero uses the
	// backend default; negative disables the watchdog.
	WatchdogInterval time.Duration

	// OnFatal is called once when the store connection is lost.
	// Default: log and exit with status 1.
	OnFatal func(err error)

	Logger *slog.Logger
}

// SessionConfig configures the session cookie.
type SessionConfig struct {
	CookieName     string
	MaxAge         time.Duration
	UpdateInterval time.Duration
	Secure         bool
	Domain         string
}

// StaticDir maps a URL prefix to a directory.
type StaticDir struct {
	Prefix string
	Dir    string
}

// CacheControl selects cache headers for static files.
type CacheControl int

const (
	// CacheControlNone sends no-store headers.
	CacheControlNone CacheControl = iota

	// CacheControlProduction caches fingerprinted files for a year and
	// everything else for an hour.
	CacheControlProduction
)

// MiddlewareBuilder returns a middleware bound to the app.
type MiddlewareBuilder func(a *App) func(http.Handler) http.Handler

// AuthStrategy identifies the user of a session.
type AuthStrategy interface {
	// Authenticate updates sess.UserID and sess.LoggedIn.
	Authenticate(r *http.Request, sess *session.Session) error
}

// AuthFunc adapts a function to AuthStrategy.
type AuthFunc func(r *http.Request, sess *session.Session) error

// Authenticate calls f.
func (f AuthFunc) Authenticate(r *http.Request, sess *session.Session) error {
	return f(r, sess)
}

// AnonymousAuth gives each session a random user id the first time it is
// seen.
type AnonymousAuth struct{}

// Authenticate assigns a user id when the session has none.
func (AnonymousAuth) Authenticate(_ *http.Request, sess *session.Session) error {
	if sess.UserID == "" {
		sess.UserID = newUserID()
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.TransportPath == "" {
		c.TransportPath = DefaultTransportPath
	}
	if c.BodyLimit <= 0 {
		c.BodyLimit = middleware.DefaultBodyLimit
	}
	if c.LookupEnv == nil {
		c.LookupEnv = os.LookupEnv
	}
	if c.Auth == nil {
		c.Auth = AnonymousAuth{}
	}
	if c.Apps == nil {
		c.Apps = router.MustTable()
	}
	if c.SessionStore == nil {
		c.SessionStore = session.NewMemoryStore()
	}
	if c.PubSub == nil {
		c.PubSub = pubsub.NewMemory(c.Logger)
	}
	if c.OnFatal == nil {
		logger := c.Logger
		c.OnFatal = func(err error) {
			logger.Error("fatal store error", "error", err)
			os.Exit(1)
		}
	}
}

// clientEnv reads the allowlisted environment once.
func clientEnv(keys []string, lookup func(string) (string, bool)) map[string]any {
	env := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := lookup(k); ok {
			env[k] = v
		}
	}
	return env
}
