package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/vango-dev/syncpage/pkg/assets"
	"github.com/vango-dev/syncpage/pkg/model"
)

// DefaultBundleTimeout bounds model bundling per request.
const DefaultBundleTimeout = 10 * time.Second

// Bundler produces the model snapshot for a request. *model.Model
// implements it.
type Bundler interface {
	Bundle(ctx context.Context) (*model.Bundle, error)
}

// RendererConfig configures a Renderer.
type RendererConfig struct {
	// Heads resolves per-app head fragments. Nil renders no head fragment.
	Heads *HeadCache

	// Styles are stylesheet URLs added to every page.
	Styles []string

	// Assets resolves client bundle paths.
	// Defaults to a passthrough resolver under "/build/client/".
	Assets assets.Resolver

	// BundleName maps an app to its client bundle asset.
	// Defaults to "<app>.js".
	BundleName func(app string) string

	// Lang is the html lang attribute.
	Lang string

	// BundleTimeout bounds Bundler.Bundle. Zero uses DefaultBundleTimeout,
	// negative disables the timeout.
	BundleTimeout time.Duration

	Logger *slog.Logger
}

// Renderer composes pages. It is safe for concurrent use.
type Renderer struct {
	config RendererConfig
	logger *slog.Logger
}

// NewRenderer creates a Renderer, filling defaults.
func NewRenderer(config RendererConfig) *Renderer {
	if config.Assets == nil {
		config.Assets = assets.NewPassthroughResolver(assets.DefaultPrefix)
	}
	if config.BundleName == nil {
		config.BundleName = func(app string) string { return app + ".js" }
	}
	if config.BundleTimeout == 0 {
		config.BundleTimeout = DefaultBundleTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{
		config: config,
		logger: logger.With("component", "render"),
	}
}

// Render bundles b and composes the page for app. Bundling failures are
// returned as *BundleError carrying path.
func (r *Renderer) Render(ctx context.Context, app, path string, b Bundler) ([]byte, error) {
	bundle, err := r.bundle(ctx, b)
	if err != nil {
		r.logger.Error("bundle failed", "app", app, "path", path, "error", err)
		return nil, &BundleError{Path: path, Err: err}
	}
	data, err := json.Marshal(bundle)
	if err != nil {
		return nil, &BundleError{Path: path, Err: err}
	}

	var head string
	if r.config.Heads != nil {
		head, err = r.config.Heads.Get(ctx, app)
		if err != nil {
			return nil, fmt.Errorf("render: head for %q: %w", app, err)
		}
	}

	var buf bytes.Buffer
	err = RenderPage(&buf, PageData{
		Lang:   r.config.Lang,
		Head:   head,
		Styles: r.config.Styles,
		Bundle: data,
		Script: r.config.Assets.Asset(r.config.BundleName(app)),
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (r *Renderer) bundle(ctx context.Context, b Bundler) (*model.Bundle, error) {
	if r.config.BundleTimeout < 0 {
		return b.Bundle(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.BundleTimeout)
	defer cancel()

	type result struct {
		bundle *model.Bundle
		err    error
	}
	done := make(chan result, 1)
	go func() {
		bundle, err := b.Bundle(ctx)
		done <- result{bundle, err}
	}()

	select {
	case res := <-done:
		return res.bundle, res.err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrBundleTimeout
		}
		return nil, ctx.Err()
	}
}
