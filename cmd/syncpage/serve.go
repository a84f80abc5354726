package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/vango-dev/syncpage"
	"github.com/vango-dev/syncpage/internal/config"
	"github.com/vango-dev/syncpage/internal/telemetry"
	"github.com/vango-dev/syncpage/pkg/admin"
	"github.com/vango-dev/syncpage/pkg/assets"
	"github.com/vango-dev/syncpage/pkg/auth"
	"github.com/vango-dev/syncpage/pkg/filter"
	"github.com/vango-dev/syncpage/pkg/middleware"
	"github.com/vango-dev/syncpage/pkg/pubsub"
	"github.com/vango-dev/syncpage/pkg/render"
	"github.com/vango-dev/syncpage/pkg/session"
	"github.com/vango-dev/syncpage/pkg/store"
)

// devSessionSecret is used when DEV is set and SESSION_SECRET is not.
const devSessionSecret = "syncpage-dev-secret"

func serveCmd() *cobra.Command {
	var appsFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the page server",
		Long: `Start the page server with settings from the environment.

The server shuts down gracefully on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := config.LoadEnv()
			if err != nil {
				return err
			}
			if appsFile != "" {
				e.AppsFile = appsFile
			}
			logger := newLogger(e)
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, e, logger)
		},
	}

	cmd.Flags().StringVarP(&appsFile, "apps", "a", "", "Apps file (default: $APPS_FILE)")

	return cmd
}

func serve(ctx context.Context, e *config.Env, logger *slog.Logger) error {
	secret := e.SessionSecret
	if secret == "" {
		if !e.Dev {
			return errors.New("SESSION_SECRET is required")
		}
		logger.Warn("SESSION_SECRET not set, using the development secret")
		secret = devSessionSecret
	}

	tlsConfig, err := pubsub.LoadTLS(e.StorageSSLCert, e.StorageSSLKey)
	if err != nil {
		return err
	}

	st, err := store.Open(ctx, e.StorageURL)
	if err != nil {
		return err
	}

	bus, err := pubsub.Select(ctx, pubsub.SelectConfig{
		RedisURL:   e.RedisURL,
		NoRedis:    e.NoRedis,
		WSBusURL:   e.WSBusURL,
		NoWSBus:    e.NoWSBus,
		FlushRedis: e.FlushRedis,
		Hostname:   e.Hostname,
		TLS:        tlsConfig,
		Logger:     logger,
	})
	if err != nil {
		st.Close()
		return err
	}

	sessions, release, err := openSessionStore(e, tlsConfig)
	if err != nil {
		bus.Close()
		st.Close()
		return err
	}
	defer release()

	apps, err := config.LoadApps(e.AppsFile, filter.NewRegistry())
	if err != nil {
		bus.Close()
		st.Close()
		return err
	}

	var getter assets.ObjectGetter
	if strings.HasPrefix(e.AssetManifest, "s3://") {
		getter = assets.NewS3Client(ctx, e.AWSRegion, e.AWSEndpoint)
	}
	resolver, err := assets.Open(ctx, e.AssetManifest, assets.DefaultPrefix, getter)
	if err != nil {
		bus.Close()
		st.Close()
		return err
	}

	tp, shutdownTracing, err := telemetry.Setup(ctx, "syncpage", e.OTLPEndpoint)
	if err != nil {
		bus.Close()
		st.Close()
		return fmt.Errorf("tracing: %w", err)
	}

	var metrics *middleware.Metrics
	if e.MetricsPath != "" {
		metrics = middleware.NewMetrics()
	}

	var authStrategy syncpage.AuthStrategy
	if e.AuthSecret != "" {
		tokens, err := auth.NewTokens(e.AuthSecret, e.AuthTokenTTL)
		if err != nil {
			bus.Close()
			st.Close()
			return err
		}
		authStrategy = auth.NewStrategy(tokens,
			auth.WithSecureCookie(e.CookiesSecure),
			auth.WithLogger(logger))
	}

	staticCache := syncpage.CacheControlProduction
	if e.Dev {
		staticCache = syncpage.CacheControlNone
	}

	app, err := syncpage.New(ctx, syncpage.Config{
		Store:         st,
		PubSub:        bus,
		SessionStore:  sessions,
		SessionSecret: secret,
		Session: syncpage.SessionConfig{
			MaxAge:         e.SessionMaxAge,
			UpdateInterval: e.SessionUpdateInterval,
			Secure:         e.CookiesSecure,
		},
		Apps:           apps.Table,
		Heads:          render.StaticHeads(apps.Heads),
		Assets:         resolver,
		Static:         staticDirs(e, logger),
		StaticCache:    staticCache,
		Admins:         admin.ParseEmails(e.Admins),
		Auth:           authStrategy,
		PublicEnv:      e.Public,
		ForceHTTPS:     e.ForceHTTPS,
		BodyLimit:      e.BodyLimit,
		Metrics:        metrics,
		MetricsPath:    e.MetricsPath,
		TracerProvider: tp,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.Run(gctx, e.Addr())
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
		defer cancel()
		return shutdownTracing(sctx)
	})
	return g.Wait()
}

// openSessionStore picks Redis when it is configured, SQLite when the
// document store is SQLite, and memory otherwise. release closes the
// underlying connection.
func openSessionStore(e *config.Env, tlsConfig *tls.Config) (session.Store, func(), error) {
	switch {
	case e.RedisURL != "" && !e.NoRedis:
		client, err := pubsub.NewRedisClient(e.RedisURL, tlsConfig)
		if err != nil {
			return nil, nil, err
		}
		return session.NewRedisStore(client), func() { client.Close() }, nil

	case sqlitePath(e.StorageURL) != "":
		db, err := sql.Open("sqlite", sqlitePath(e.StorageURL))
		if err != nil {
			return nil, nil, fmt.Errorf("open session database: %w", err)
		}
		return session.NewSQLStore(db), func() { db.Close() }, nil

	default:
		return session.NewMemoryStore(), func() {}, nil
	}
}

func sqlitePath(url string) string {
	switch {
	case strings.HasPrefix(url, "sqlite://"):
		return strings.TrimPrefix(url, "sqlite://")
	case strings.HasSuffix(url, ".db") || strings.HasSuffix(url, ".sqlite"):
		return url
	default:
		return ""
	}
}

// staticDirs lists the public and client build directories that exist.
func staticDirs(e *config.Env, logger *slog.Logger) []syncpage.StaticDir {
	var dirs []syncpage.StaticDir
	for _, d := range []syncpage.StaticDir{
		{Prefix: "/", Dir: e.PublicPath},
		{Prefix: assets.DefaultPrefix, Dir: e.BuildDir},
	} {
		if d.Dir == "" {
			continue
		}
		if info, err := os.Stat(d.Dir); err != nil || !info.IsDir() {
			logger.Debug("static dir skipped", "dir", d.Dir)
			continue
		}
		dirs = append(dirs, d)
	}
	return dirs
}
