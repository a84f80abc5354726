// Package syncpage serves route-aware, server-bundled pages backed by a
// realtime document model.
//
// An App matches each request against a table of client apps, runs the
// matched route's filter chain, bundles the request's model and writes a
// page shell that the client bundle hydrates. The same model backend feeds
// a websocket transport so clients stay in sync after the first render.
//
//	app, err := syncpage.New(ctx, syncpage.Config{
//		Store:         st,
//		SessionSecret: secret,
//		Apps:          table,
//	})
//	if err != nil {
//		return err
//	}
//	return app.Run(ctx, ":3000")
package syncpage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/vango-dev/syncpage/pkg/admin"
	"github.com/vango-dev/syncpage/pkg/filter"
	"github.com/vango-dev/syncpage/pkg/middleware"
	"github.com/vango-dev/syncpage/pkg/model"
	"github.com/vango-dev/syncpage/pkg/render"
	"github.com/vango-dev/syncpage/pkg/router"
	"github.com/vango-dev/syncpage/pkg/server"
	"github.com/vango-dev/syncpage/pkg/session"
)

// App is a configured page server. It implements http.Handler.
type App struct {
	config Config
	logger *slog.Logger

	backend   *model.Backend
	admins    *admin.Registry
	sessions  *session.Manager
	table     *router.Table
	runner    *filter.Runner
	heads     *render.HeadCache
	renderer  *render.Renderer
	transport *server.Transport
	metrics   *middleware.Metrics
	env       map[string]any
	static    []staticRoot

	mux chi.Router

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// New builds an App. It loads the admin registry and waits for the session
// store before returning, so the App is ready to serve.
func New(ctx context.Context, config Config) (*App, error) {
	if config.Store == nil {
		return nil, ErrNoStore
	}
	if config.SessionSecret == "" {
		return nil, ErrNoSessionSecret
	}
	config.setDefaults()

	codec, err := session.NewCookieCodec(config.SessionSecret)
	if err != nil {
		return nil, fmt.Errorf("syncpage: session codec: %w", err)
	}

	a := &App{
		config:  config,
		logger:  config.Logger.With("component", "app"),
		table:   config.Apps,
		metrics: config.Metrics,
		done:    make(chan struct{}),
	}

	var opts []model.Option
	opts = append(opts, model.WithLogger(config.Logger))
	switch {
	case config.WatchdogInterval < 0:
		opts = append(opts, model.WithWatchdogInterval(0))
	case config.WatchdogInterval > 0:
		opts = append(opts, model.WithWatchdogInterval(config.WatchdogInterval))
	}
	a.backend = model.NewBackend(config.Store, config.PubSub, opts...)

	for coll, v := range config.Schema {
		a.backend.SetSchema(coll, v)
	}
	if config.Hooks != nil {
		config.Hooks(a.backend)
	}
	if config.AccessControl != nil {
		config.AccessControl(a.backend)
	}

	fail := func(err error) (*App, error) {
		a.backend.Close()
		config.SessionStore.Close()
		return nil, err
	}

	a.admins, err = admin.Load(ctx, a.backend, config.Admins, config.Logger)
	if err != nil {
		return fail(fmt.Errorf("syncpage: load admins: %w", err))
	}

	a.sessions = session.NewManager(config.SessionStore, codec, session.ManagerConfig{
		CookieName:     config.Session.CookieName,
		MaxAge:         config.Session.MaxAge,
		UpdateInterval: config.Session.UpdateInterval,
		Secure:         config.Session.Secure,
		Domain:         config.Session.Domain,
		Logger:         config.Logger,
	})
	if err := a.sessions.Ready(ctx); err != nil {
		return fail(fmt.Errorf("syncpage: session store: %w", err))
	}

	a.env = clientEnv(config.PublicEnv, config.LookupEnv)

	a.runner = filter.NewRunner(filter.RunnerConfig{
		Timeout: config.FilterTimeout,
		Logger:  config.Logger,
	})
	a.heads = render.NewHeadCache(config.Heads)
	a.renderer = render.NewRenderer(render.RendererConfig{
		Heads:         a.heads,
		Styles:        config.Styles,
		Assets:        config.Assets,
		Lang:          config.Lang,
		BundleTimeout: config.BundleTimeout,
		Logger:        config.Logger,
	})
	a.transport = server.NewTransport(a.backend, server.TransportConfig{
		SilentLogs: config.SilentLogs,
		OnOpen:     func(*server.Conn) { a.metrics.WSOpened() },
		OnClose:    func(*server.Conn) { a.metrics.WSClosed() },
		Logger:     config.Logger,
	})

	for _, d := range config.Static {
		root, err := newStaticRoot(d)
		if err != nil {
			return fail(err)
		}
		a.static = append(a.static, root)
	}

	a.mux = a.routes()

	go a.watchFatal()

	a.logger.Info("app ready",
		"apps", len(a.table.Apps()),
		"routes", len(a.table.Routes()),
		"admins", a.admins.Len())
	return a, nil
}

// routes assembles the middleware stack and handlers. The order is
// significant: each layer may depend on state set by the ones before it.
func (a *App) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(a.serviceEndpoints)
	if a.config.ForceHTTPS {
		r.Use(middleware.ForceHTTPS)
	}
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(a.config.Logger))
	if a.metrics != nil {
		r.Use(a.metrics.Middleware)
	}
	if a.config.TracerProvider != nil {
		r.Use(middleware.Tracing(
			middleware.WithTracerProvider(a.config.TracerProvider),
			middleware.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != a.config.TransportPath
			}),
		))
	}
	r.Use(chimw.Compress(5))
	if len(a.static) > 0 {
		r.Use(a.serveStatic)
	}
	r.Use(a.backend.Middleware)
	r.Use(middleware.Cookies)
	r.Use(middleware.ParseBody(a.config.BodyLimit))
	r.Use(middleware.MethodOverride)
	r.Use(a.sessions.Middleware)
	r.Use(a.authenticate)
	r.Use(a.injectEnv)
	r.Use(a.upgrade)
	r.Use(a.markAdmin)
	r.Use(a.redirectCookie)
	r.Use(a.trackActivity)
	for _, build := range a.config.Middleware {
		if mw := build(a); mw != nil {
			r.Use(mw)
		}
	}

	if a.config.ServerRoutes != nil {
		r.Group(a.config.ServerRoutes)
	}
	r.Get("/*", a.handlePage)
	r.Head("/*", a.handlePage)
	r.NotFound(a.handleNotFound)
	r.MethodNotAllowed(a.handleNotFound)
	return r
}

// ServeHTTP implements http.Handler.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

// Backend returns the model backend.
func (a *App) Backend() *model.Backend { return a.backend }

// Admins returns the admin registry loaded at startup.
func (a *App) Admins() *admin.Registry { return a.admins }

// Sessions returns the session manager.
func (a *App) Sessions() *session.Manager { return a.sessions }

// Table returns the route table.
func (a *App) Table() *router.Table { return a.table }

// Transport returns the realtime transport.
func (a *App) Transport() *server.Transport { return a.transport }

// Logger returns the app logger.
func (a *App) Logger() *slog.Logger { return a.logger }

// Run serves on addr until ctx is cancelled, then shuts down and closes the
// app.
func (a *App) Run(ctx context.Context, addr string) error {
	srv := server.New(a, &server.Config{Address: addr, Logger: a.config.Logger})
	srv.OnShutdown(func(context.Context) error { return a.Close() })
	return srv.Run(ctx)
}

// Close stops the transport and releases the backend and session store.
// It is safe to call more than once.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		close(a.done)
		var errs []error
		if err := a.transport.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := a.backend.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := a.sessions.Store().Close(); err != nil {
			errs = append(errs, err)
		}
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}

func (a *App) watchFatal() {
	select {
	case err := <-a.backend.Fatal():
		if err != nil {
			a.config.OnFatal(err)
		}
	case <-a.done:
	}
}

func newUserID() string {
	return uuid.NewString()
}
