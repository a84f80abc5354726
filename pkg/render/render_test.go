package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vango-dev/syncpage/pkg/assets"
	"github.com/vango-dev/syncpage/pkg/model"
	"github.com/vango-dev/syncpage/pkg/store"
)

type fakeBundler struct {
	bundle *model.Bundle
	err    error
	block  chan struct{}
	calls  int
}

func (f *fakeBundler) Bundle(ctx context.Context) (*model.Bundle, error) {
	f.calls++
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.bundle, f.err
}

func TestRenderPageStructure(t *testing.T) {
	var buf bytes.Buffer
	err := RenderPage(&buf, PageData{
		Head:   "<title>Home</title>",
		Styles: []string{"/css/app.css"},
		Bundle: json.RawMessage(`{"local":{"_page":{"x":"</script><b>"}}}`),
		Script: "/build/client/main.js",
	})
	if err != nil {
		t.Fatalf("RenderPage() error: %v", err)
	}
	html := buf.String()

	if strings.Count(html, `<div id="app">`) != 1 {
		t.Error("page must contain exactly one root element")
	}
	if strings.Count(html, `<script type="application/json" id="bundle">`) != 1 {
		t.Error("page must contain exactly one bundle data block")
	}
	if strings.Count(html, `<script defer src="/build/client/main.js"></script>`) != 1 {
		t.Error("page must load the client bundle with one deferred script")
	}
	if !strings.Contains(html, "<title>Home</title>") {
		t.Error("head fragment missing")
	}
	if !strings.Contains(html, `<link rel="stylesheet" href="/css/app.css">`) {
		t.Error("stylesheet missing")
	}
	if !strings.Contains(html, `<html lang="en">`) {
		t.Error("default lang missing")
	}
	if strings.Contains(html, "</script><b>") {
		t.Error("bundle data was not HTML-escaped")
	}
	if !strings.Contains(html, `\u003c/script\u003e\u003cb\u003e`) {
		t.Errorf("escaped bundle data missing:\n%s", html)
	}
}

func TestRenderPageEmptyBundle(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderPage(&buf, PageData{Lang: `x"y`, Script: "/a.js"}); err != nil {
		t.Fatalf("RenderPage() error: %v", err)
	}
	if !strings.Contains(buf.String(), `id="bundle">{}</script>`) {
		t.Errorf("empty bundle not written as {}:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), `lang="x&quot;y"`) {
		t.Error("lang not escaped")
	}
}

func TestRendererRender(t *testing.T) {
	heads := NewHeadCache(StaticHeads(map[string]string{"admin": "<title>Admin</title>"}))
	r := NewRenderer(RendererConfig{Heads: heads})

	b := &fakeBundler{bundle: &model.Bundle{
		Collections: map[string]map[string]model.BundleDoc{
			"items": {"1": {Version: 2, Data: json.RawMessage(`{"id":"1"}`)}},
		},
		Local: json.RawMessage(`{}`),
	}}
	out, err := r.Render(context.Background(), "admin", "/admin", b)
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	html := string(out)
	if !strings.Contains(html, "<title>Admin</title>") {
		t.Error("head fragment missing")
	}
	if !strings.Contains(html, `src="/build/client/admin.js"`) {
		t.Errorf("client bundle reference missing:\n%s", html)
	}
	if !strings.Contains(html, `"items":{"1":{"v":2,"data":{"id":"1"}}}`) {
		t.Errorf("bundle JSON missing:\n%s", html)
	}
}

func TestRendererBundleError(t *testing.T) {
	r := NewRenderer(RendererConfig{})
	cause := errors.New("store unavailable")

	out, err := r.Render(context.Background(), "main", "/broken", &fakeBundler{err: cause})
	if out != nil {
		t.Error("Render() returned output alongside an error")
	}
	var be *BundleError
	if !errors.As(err, &be) {
		t.Fatalf("Render() error = %T, want *BundleError", err)
	}
	if !errors.Is(err, cause) {
		t.Error("BundleError does not wrap the cause")
	}
	if be.StatusCode() != 500 {
		t.Errorf("StatusCode() = %d, want 500", be.StatusCode())
	}
	if got, want := err.Error(), "500: /broken. Error: store unavailable"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestRendererBundleTimeout(t *testing.T) {
	r := NewRenderer(RendererConfig{BundleTimeout: 20 * time.Millisecond})
	b := &fakeBundler{block: make(chan struct{})}
	defer close(b.block)

	_, err := r.Render(context.Background(), "main", "/slow", b)
	if !errors.Is(err, ErrBundleTimeout) {
		t.Fatalf("Render() error = %v, want ErrBundleTimeout", err)
	}
}

func TestRendererHeadError(t *testing.T) {
	cause := errors.New("no head")
	heads := NewHeadCache(func(context.Context, string) (string, error) { return "", cause })
	r := NewRenderer(RendererConfig{Heads: heads})

	_, err := r.Render(context.Background(), "main", "/", &fakeBundler{bundle: &model.Bundle{}})
	if !errors.Is(err, cause) {
		t.Fatalf("Render() error = %v, want head error", err)
	}
}

func TestRendererCustomAssets(t *testing.T) {
	m := assets.NewManifest()
	m.Set("main.js", "main.abc123.js")
	r := NewRenderer(RendererConfig{
		Assets:     assets.NewResolver(m, "/static/"),
		BundleName: func(app string) string { return app + ".js" },
	})
	out, err := r.Render(context.Background(), "main", "/", &fakeBundler{bundle: &model.Bundle{}})
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if !strings.Contains(string(out), `src="/static/main.abc123.js"`) {
		t.Errorf("fingerprinted bundle missing:\n%s", out)
	}
}

func TestRendererWithModel(t *testing.T) {
	backend := model.NewBackend(store.NewMemory(), nil, model.WithWatchdogInterval(0))
	defer backend.Close()

	ctx := context.Background()
	m := backend.CreateModel()
	defer m.Close()
	if err := m.Set(ctx, "items.1", map[string]any{"name": "one"}); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if err := m.Set(ctx, "_page.title", "Items"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	out, err := NewRenderer(RendererConfig{}).Render(ctx, "main", "/items/1", m)
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	html := string(out)
	if !strings.Contains(html, `"name":"one"`) || !strings.Contains(html, `"title":"Items"`) {
		t.Errorf("model state missing from bundle:\n%s", html)
	}

	if _, err := NewRenderer(RendererConfig{}).Render(ctx, "main", "/items/1", m); !errors.Is(err, model.ErrAlreadyBundled) {
		t.Errorf("second Render() error = %v, want ErrAlreadyBundled", err)
	}
}

func TestHeadCacheComputesOncePerApp(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	cache := NewHeadCache(func(_ context.Context, app string) (string, error) {
		calls.Add(1)
		<-release
		return "<title>" + app + "</title>", nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			head, err := cache.Get(context.Background(), "main")
			if err != nil || head != "<title>main</title>" {
				t.Errorf("Get() = %q, %v", head, err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if _, err := cache.Get(context.Background(), "main"); err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("head computed %d times, want 1", n)
	}
	if cache.Len() != 1 {
		t.Errorf("Len() = %d, want 1", cache.Len())
	}
}

func TestHeadCacheDoesNotCacheErrors(t *testing.T) {
	fail := true
	cache := NewHeadCache(func(context.Context, string) (string, error) {
		if fail {
			return "", errors.New("boom")
		}
		return "ok", nil
	})
	if _, err := cache.Get(context.Background(), "main"); err == nil {
		t.Fatal("Get() expected error")
	}
	fail = false
	head, err := cache.Get(context.Background(), "main")
	if err != nil || head != "ok" {
		t.Errorf("Get() = %q, %v, want ok", head, err)
	}
}

func TestEscapeAttr(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"/build/client/main.js", "/build/client/main.js"},
		{`a"b`, "a&quot;b"},
		{"<x>&'", "&lt;x&gt;&amp;&#39;"},
		{"a\nb\tc\r", "a&#10;b&#9;c&#13;"},
		{"世界", "世界"},
	}
	for _, tt := range tests {
		if got := escapeAttr(tt.in); got != tt.want {
			t.Errorf("escapeAttr(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
