package syncpage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/vango-dev/syncpage/pkg/auth"
	"github.com/vango-dev/syncpage/pkg/filter"
	"github.com/vango-dev/syncpage/pkg/middleware"
	"github.com/vango-dev/syncpage/pkg/model"
	"github.com/vango-dev/syncpage/pkg/router"
	"github.com/vango-dev/syncpage/pkg/server"
	"github.com/vango-dev/syncpage/pkg/session"
	"github.com/vango-dev/syncpage/pkg/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestApp(t *testing.T, config Config) *App {
	t.Helper()
	if config.Store == nil {
		config.Store = store.NewMemory()
	}
	if config.SessionSecret == "" {
		config.SessionSecret = "test-secret"
	}
	if config.WatchdogInterval == 0 {
		config.WatchdogInterval = -1
	}
	if config.Logger == nil {
		config.Logger = discardLogger()
	}
	if config.OnFatal == nil {
		config.OnFatal = func(err error) { t.Errorf("unexpected fatal: %v", err) }
	}
	app, err := New(context.Background(), config)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { app.Close() })
	return app
}

func putDoc(t *testing.T, st store.DocStore, coll, id, data string) {
	t.Helper()
	if _, err := st.Put(context.Background(), &store.Doc{Collection: coll, ID: id, Data: json.RawMessage(data)}); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
}

func get(t *testing.T, h http.Handler, path string, mods ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, mod := range mods {
		mod(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// loggedInAs authenticates every session as userID.
func loggedInAs(userID string) AuthStrategy {
	return AuthFunc(func(_ *http.Request, sess *session.Session) error {
		sess.UserID = userID
		sess.LoggedIn = true
		return nil
	})
}

// flakyStore fails Get once failGets is set.
type flakyStore struct {
	store.DocStore
	failGets atomic.Bool
}

func (s *flakyStore) Get(ctx context.Context, collection, id string) (*store.Doc, error) {
	if s.failGets.Load() {
		return nil, errors.New("store unavailable")
	}
	return s.DocStore.Get(ctx, collection, id)
}

// deadStore reports a destroyed connection on Ping.
type deadStore struct {
	store.DocStore
}

func (deadStore) Ping(context.Context) error { return store.ErrClosed }

func TestNewRequiresStoreAndSecret(t *testing.T) {
	if _, err := New(context.Background(), Config{SessionSecret: "s"}); !errors.Is(err, ErrNoStore) {
		t.Errorf("New() without store error = %v, want ErrNoStore", err)
	}
	if _, err := New(context.Background(), Config{Store: store.NewMemory()}); !errors.Is(err, ErrNoSessionSecret) {
		t.Errorf("New() without secret error = %v, want ErrNoSessionSecret", err)
	}
}

func TestNewLoadsAdmins(t *testing.T) {
	st := store.NewMemory()
	putDoc(t, st, "auths", "u1", `{"id":"u1","email":"ada@example.com"}`)
	app := newTestApp(t, Config{Store: st, Admins: []string{"ada@example.com"}})

	if !app.Admins().IsAdmin("u1") {
		t.Error("u1 should be an admin once New returns")
	}
}

func TestReadyLogCountsRoutes(t *testing.T) {
	var logs bytes.Buffer
	table := router.MustTable(router.App{Name: "site", Routes: []router.Route{
		{Path: "/"},
		{Path: "/a", Routes: []router.Route{{Path: "/a/b"}}},
	}})
	newTestApp(t, Config{Apps: table, Logger: slog.New(slog.NewTextHandler(&logs, nil))})

	line := ""
	for _, l := range strings.Split(logs.String(), "\n") {
		if strings.Contains(l, `msg="app ready"`) {
			line = l
		}
	}
	if !strings.Contains(line, "apps=1") || !strings.Contains(line, "routes=3") {
		t.Errorf("ready line = %q, want apps=1 routes=3", line)
	}
}

func TestHealthcheck(t *testing.T) {
	app := newTestApp(t, Config{ForceHTTPS: true})

	rec := get(t, app, "/healthcheck")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("GET /healthcheck = %d %q, want 200 OK", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Set-Cookie") != "" {
		t.Error("healthcheck should not create a session")
	}
}

func TestForceHTTPS(t *testing.T) {
	app := newTestApp(t, Config{ForceHTTPS: true})

	rec := get(t, app, "/page?x=1")
	if rec.Code != http.StatusMovedPermanently {
		t.Fatalf("status = %d, want 301", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "https://example.com/page?x=1" {
		t.Errorf("Location = %q", loc)
	}

	rec = get(t, app, "/page", func(r *http.Request) { r.Header.Set("X-Forwarded-Proto", "https") })
	if rec.Code != http.StatusOK {
		t.Errorf("forwarded https status = %d, want 200", rec.Code)
	}
}

func TestRenderDefaultApp(t *testing.T) {
	app := newTestApp(t, Config{})

	rec := get(t, app, "/anything/at/all")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	for _, want := range []string{
		"<!DOCTYPE html>",
		`<div id="app">Loading</div>`,
		`<script type="application/json" id="bundle">`,
		`src="/build/client/main.js"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q", want)
		}
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(rec.Header().Get("Set-Cookie"), "syncpage.sid=") {
		t.Error("session cookie not set")
	}
}

func TestRenderHead(t *testing.T) {
	app := newTestApp(t, Config{})

	req := httptest.NewRequest(http.MethodHead, "/", nil)
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.Len() != 0 {
		t.Errorf("HEAD / = %d with %d body bytes, want 200 and none", rec.Code, rec.Body.Len())
	}
}

func TestRouting(t *testing.T) {
	table := router.MustTable(
		router.App{Name: "admin", Routes: []router.Route{{Path: "/admin/*rest"}}},
		router.App{Name: "site", Routes: []router.Route{
			{Path: "/"},
			{Path: "/old", Redirect: "/new"},
			{Path: "/users/:id", Filters: []filter.Func{filter.SetPage("title", "User")}},
		}},
	)
	app := newTestApp(t, Config{Apps: table})

	tests := []struct {
		path     string
		code     int
		location string
		contains string
	}{
		{"/", http.StatusOK, "", `src="/build/client/site.js"`},
		{"/admin/settings", http.StatusOK, "", `src="/build/client/admin.js"`},
		{"/users/42", http.StatusOK, "", `"title":"User"`},
		{"/old", http.StatusFound, "/new", ""},
		{"/nope", http.StatusNotFound, "", "404: /nope"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := get(t, app, tt.path)
			if rec.Code != tt.code {
				t.Fatalf("status = %d, want %d; body: %s", rec.Code, tt.code, rec.Body.String())
			}
			if loc := rec.Header().Get("Location"); loc != tt.location {
				t.Errorf("Location = %q, want %q", loc, tt.location)
			}
			if tt.contains != "" && !strings.Contains(rec.Body.String(), tt.contains) {
				t.Errorf("body missing %q: %s", tt.contains, rec.Body.String())
			}
		})
	}
}

func TestPostToPageIsNotFound(t *testing.T) {
	app := newTestApp(t, Config{})

	req := httptest.NewRequest(http.MethodPost, "/somewhere", strings.NewReader("a=1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound || rec.Body.String() != "404: /somewhere" {
		t.Errorf("POST = %d %q, want 404", rec.Code, rec.Body.String())
	}
}

func TestFilterOutcomes(t *testing.T) {
	boom := errors.New("boom")
	table := router.MustTable(router.App{Name: "main", Routes: []router.Route{
		{Path: "/secret", Filters: []filter.Func{filter.RequireLogin("/login")}},
		{Path: "/items/:id", Filters: []filter.Func{filter.FetchDoc("items", "id", "item")}},
		{Path: "/broken", Filters: []filter.Func{func(_ context.Context, _ *filter.Input, next filter.Next, _ filter.Redirect) {
			next(boom)
		}}},
		{Path: "/teapot", Filters: []filter.Func{func(_ context.Context, _ *filter.Input, next filter.Next, _ filter.Redirect) {
			next(&HTTPError{Code: http.StatusTeapot, Message: "short and stout"})
		}}},
	}})
	st := store.NewMemory()
	putDoc(t, st, "items", "1", `{"id":"1","name":"lamp"}`)
	app := newTestApp(t, Config{Store: st, Apps: table})

	t.Run("redirect", func(t *testing.T) {
		rec := get(t, app, "/secret")
		if rec.Code != http.StatusFound {
			t.Fatalf("status = %d, want 302", rec.Code)
		}
		if loc := rec.Header().Get("Location"); loc != "/login?redirect=%2Fsecret" {
			t.Errorf("Location = %q", loc)
		}
	})
	t.Run("fetch found", func(t *testing.T) {
		rec := get(t, app, "/items/1")
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"name":"lamp"`) {
			t.Errorf("status = %d, body: %s", rec.Code, rec.Body.String())
		}
	})
	t.Run("fetch missing", func(t *testing.T) {
		rec := get(t, app, "/items/2")
		if rec.Code != http.StatusNotFound || rec.Body.String() != "404: /items/2" {
			t.Errorf("GET /items/2 = %d %q", rec.Code, rec.Body.String())
		}
	})
	t.Run("opaque error", func(t *testing.T) {
		rec := get(t, app, "/broken")
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d, want 500", rec.Code)
		}
		if body := rec.Body.String(); strings.Contains(body, "boom") || strings.Contains(body, "<html") {
			t.Errorf("500 body leaks detail or html: %q", body)
		}
	})
	t.Run("status error", func(t *testing.T) {
		rec := get(t, app, "/teapot")
		if rec.Code != http.StatusTeapot || rec.Body.String() != "418: short and stout" {
			t.Errorf("GET /teapot = %d %q", rec.Code, rec.Body.String())
		}
	})
}

// Run with -race: the timed-out filter writes while the session is saved.
func TestFilterTimeoutLeavesRequestState(t *testing.T) {
	finished := make(chan error, 1)
	slow := filter.Func(func(_ context.Context, in *filter.Input, _ filter.Next, _ filter.Redirect) {
		time.Sleep(60 * time.Millisecond)
		for i := 0; i < 200; i++ {
			in.Session.Set("k", i)
		}
		finished <- in.Model.Set(context.Background(), "late.doc.value", true)
	})
	st := store.NewMemory()
	table := router.MustTable(router.App{Name: "main", Routes: []router.Route{
		{Path: "/slow", Filters: []filter.Func{slow}},
	}})
	app := newTestApp(t, Config{Store: st, Apps: table, FilterTimeout: 30 * time.Millisecond})

	rec := get(t, app, "/slow")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("GET /slow = %d, want 500", rec.Code)
	}
	select {
	case err := <-finished:
		if !errors.Is(err, model.ErrRevoked) {
			t.Errorf("late model write err = %v, want model.ErrRevoked", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("filter never finished")
	}
	doc, err := st.Get(context.Background(), "late", "doc")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if doc != nil {
		t.Errorf("late write committed: %s", doc.Data)
	}
}

func TestBundleError(t *testing.T) {
	st := &flakyStore{DocStore: store.NewMemory()}
	putDoc(t, st, "items", "1", `{"id":"1"}`)
	table := router.MustTable(router.App{Name: "main", Routes: []router.Route{
		{Path: "/page/:id", Filters: []filter.Func{
			filter.FetchDoc("items", "id", "item"),
			func(_ context.Context, _ *filter.Input, next filter.Next, _ filter.Redirect) {
				st.failGets.Store(true)
				next(nil)
			},
		}},
	}})
	metrics := middleware.NewMetrics()
	app := newTestApp(t, Config{Store: st, Apps: table, Metrics: metrics})

	rec := get(t, app, "/page/1")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if body := rec.Body.String(); !strings.HasPrefix(body, "500: /page/1. Error: ") || !strings.Contains(body, "store unavailable") {
		t.Errorf("body = %q", body)
	}
}

func TestEnvInjection(t *testing.T) {
	env := map[string]string{"API_URL": "https://api.example.com", "SECRET": "hidden"}
	app := newTestApp(t, Config{
		PublicEnv: []string{"API_URL", "MISSING"},
		LookupEnv: func(k string) (string, bool) { v, ok := env[k]; return v, ok },
	})

	rec := get(t, app, "/")
	body := rec.Body.String()
	if !strings.Contains(body, `"API_URL":"https://api.example.com"`) {
		t.Errorf("env not injected: %s", body)
	}
	if strings.Contains(body, "hidden") || strings.Contains(body, "MISSING") {
		t.Error("non-allowlisted env leaked")
	}

	rec = get(t, app, "/", func(r *http.Request) { r.Header.Set("X-Requested-With", "XMLHttpRequest") })
	if strings.Contains(rec.Body.String(), "API_URL") {
		t.Error("env injected into XHR request")
	}
}

func TestEnvIsPerRequest(t *testing.T) {
	env := map[string]string{"API_URL": "https://api.example.com"}
	tamper := func(*App) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if sess := session.FromContext(r.Context()); sess != nil && r.URL.Path == "/mut" {
					sess.Env["API_URL"] = "changed-by-one-request"
				}
				next.ServeHTTP(w, r)
			})
		}
	}
	mut := filter.Func(func(_ context.Context, in *filter.Input, next filter.Next, _ filter.Redirect) {
		in.Session.Env["API_URL"] = "changed-by-a-filter"
		next(nil)
	})
	table := router.MustTable(router.App{Name: "main", Routes: []router.Route{
		{Path: "/mut", Filters: []filter.Func{mut}},
		{Path: "/"},
	}})
	app := newTestApp(t, Config{
		Apps:       table,
		PublicEnv:  []string{"API_URL"},
		LookupEnv:  func(k string) (string, bool) { v, ok := env[k]; return v, ok },
		Middleware: []MiddlewareBuilder{tamper},
	})

	if rec := get(t, app, "/mut"); rec.Code != http.StatusOK {
		t.Fatalf("GET /mut = %d", rec.Code)
	}
	body := get(t, app, "/").Body.String()
	if strings.Contains(body, "changed-by") {
		t.Errorf("env change leaked into another request: %s", body)
	}
	if !strings.Contains(body, `"API_URL":"https://api.example.com"`) {
		t.Errorf("env missing: %s", body)
	}
}

func TestAnonymousUserID(t *testing.T) {
	app := newTestApp(t, Config{})

	rec := get(t, app, "/")
	if !strings.Contains(rec.Body.String(), `"userId":"`) {
		t.Fatalf("anonymous user id missing: %s", rec.Body.String())
	}

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "syncpage.sid" {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("no session cookie")
	}
	first := extractUserID(t, rec.Body.String())
	rec = get(t, app, "/", func(r *http.Request) { r.AddCookie(cookie) })
	if second := extractUserID(t, rec.Body.String()); second != first {
		t.Errorf("user id changed across requests: %q then %q", first, second)
	}
}

func extractUserID(t *testing.T, body string) string {
	t.Helper()
	i := strings.Index(body, `"userId":"`)
	if i < 0 {
		t.Fatalf("no userId in %s", body)
	}
	rest := body[i+len(`"userId":"`):]
	return rest[:strings.IndexByte(rest, '"')]
}

func TestTokenAuth(t *testing.T) {
	tokens, err := auth.NewTokens("login-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewTokens() error: %v", err)
	}
	table := router.MustTable(router.App{Name: "main", Routes: []router.Route{
		{Path: "/", Filters: []filter.Func{filter.RequireLogin("/login")}},
	}})
	app := newTestApp(t, Config{Apps: table, Auth: auth.NewStrategy(tokens, auth.WithLogger(discardLogger()))})

	if rec := get(t, app, "/"); rec.Code != http.StatusFound {
		t.Fatalf("anonymous GET / = %d, want 302", rec.Code)
	}

	token, err := tokens.Issue(auth.Principal{ID: "u1"})
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	rec := get(t, app, "/", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) })
	if rec.Code != http.StatusOK {
		t.Fatalf("GET / with token = %d, body: %s", rec.Code, rec.Body.String())
	}
	if got := extractUserID(t, rec.Body.String()); got != "u1" {
		t.Errorf("userId = %q, want u1", got)
	}
}

func TestAdminFlag(t *testing.T) {
	st := store.NewMemory()
	putDoc(t, st, "auths", "u1", `{"id":"u1","email":"ada@example.com"}`)
	table := router.MustTable(router.App{Name: "main", Routes: []router.Route{
		{Path: "/admin", Filters: []filter.Func{filter.RequireAdmin("/")}},
	}})

	admin := newTestApp(t, Config{Store: st, Apps: table, Admins: []string{"ada@example.com"}, Auth: loggedInAs("u1")})
	if rec := get(t, admin, "/admin"); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"isAdmin":true`) {
		t.Errorf("admin GET /admin = %d, body: %s", rec.Code, rec.Body.String())
	}

	other := newTestApp(t, Config{Store: store.NewMemory(), Apps: table, Auth: loggedInAs("u2")})
	if rec := get(t, other, "/admin"); rec.Code != http.StatusFound {
		t.Errorf("non-admin GET /admin = %d, want 302", rec.Code)
	}
}

func TestRedirectCookie(t *testing.T) {
	withCookies := func(cookies ...*http.Cookie) func(*http.Request) {
		return func(r *http.Request) {
			for _, c := range cookies {
				r.AddCookie(c)
			}
		}
	}

	tests := []struct {
		name     string
		auth     AuthStrategy
		cookies  []*http.Cookie
		code     int
		location string
	}{
		{"logged in", loggedInAs("u1"), []*http.Cookie{{Name: "redirect", Value: "/dashboard"}}, http.StatusFound, "/dashboard"},
		{"when loggedIn", loggedInAs("u1"), []*http.Cookie{{Name: "redirect", Value: "/dashboard"}, {Name: "redirectWhen", Value: "loggedIn"}}, http.StatusFound, "/dashboard"},
		{"other condition", loggedInAs("u1"), []*http.Cookie{{Name: "redirect", Value: "/dashboard"}, {Name: "redirectWhen", Value: "paid"}}, http.StatusOK, ""},
		{"anonymous", nil, []*http.Cookie{{Name: "redirect", Value: "/dashboard"}}, http.StatusOK, ""},
		{"external", loggedInAs("u1"), []*http.Cookie{{Name: "redirect", Value: "https://evil.example"}}, http.StatusOK, ""},
		{"protocol relative", loggedInAs("u1"), []*http.Cookie{{Name: "redirect", Value: "//evil.example"}}, http.StatusOK, ""},
		{"encoded", loggedInAs("u1"), []*http.Cookie{{Name: "redirect", Value: "%2Fdashboard%3Ftab%3D1"}}, http.StatusFound, "/dashboard?tab=1"},
		{"encoded external", loggedInAs("u1"), []*http.Cookie{{Name: "redirect", Value: "%2F%2Fevil.example"}}, http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(t, Config{Auth: tt.auth})
			rec := get(t, app, "/", withCookies(tt.cookies...))
			if rec.Code != tt.code {
				t.Fatalf("status = %d, want %d", rec.Code, tt.code)
			}
			if loc := rec.Header().Get("Location"); loc != tt.location {
				t.Errorf("Location = %q, want %q", loc, tt.location)
			}
			if tt.code == http.StatusFound {
				cleared := 0
				for _, c := range rec.Result().Cookies() {
					if (c.Name == "redirect" || c.Name == "redirectWhen") && c.MaxAge < 0 {
						cleared++
					}
				}
				if cleared != 2 {
					t.Errorf("cleared %d redirect cookies, want 2", cleared)
				}
			}
		})
	}
}

func TestLastActivity(t *testing.T) {
	st := store.NewMemory()
	putDoc(t, st, "auths", "u1", `{"id":"u1","email":"ada@example.com"}`)
	app := newTestApp(t, Config{Store: st, Auth: loggedInAs("u1")})

	lastActivity := func() float64 {
		doc, err := st.Get(context.Background(), "auths", "u1")
		if err != nil || doc == nil {
			t.Fatalf("Get(auths.u1) = %v, %v", doc, err)
		}
		var body struct {
			Timestamps struct {
				LastActivity float64 `json:"lastactivity"`
			} `json:"timestamps"`
		}
		if err := json.Unmarshal(doc.Data, &body); err != nil {
			t.Fatalf("Unmarshal() error: %v", err)
		}
		return body.Timestamps.LastActivity
	}

	get(t, app, "/", func(r *http.Request) { r.Header.Set("X-Requested-With", "XMLHttpRequest") })
	if got := lastActivity(); got != 0 {
		t.Errorf("XHR request set lastactivity to %v", got)
	}

	before := time.Now().UnixMilli()
	get(t, app, "/")
	if got := lastActivity(); int64(got) < before {
		t.Errorf("lastactivity = %v, want >= %d", got, before)
	}
}

func TestLastActivitySkipsMissingAuth(t *testing.T) {
	st := store.NewMemory()
	app := newTestApp(t, Config{Store: st, Auth: loggedInAs("ghost")})

	if rec := get(t, app, "/"); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if doc, _ := st.Get(context.Background(), "auths", "ghost"); doc != nil {
		t.Error("auth doc created for unknown user")
	}
}

func TestStaticFiles(t *testing.T) {
	public := t.TempDir()
	build := t.TempDir()
	if err := os.WriteFile(filepath.Join(public, "robots.txt"), []byte("User-agent: *"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(build, "main.a1b2c3d4.js"), []byte("console.log(1)"), 0o644); err != nil {
		t.Fatal(err)
	}
	app := newTestApp(t, Config{
		Static: []StaticDir{
			{Prefix: "/", Dir: public},
			{Prefix: "/build/client", Dir: build},
		},
		StaticCache: CacheControlProduction,
	})

	rec := get(t, app, "/robots.txt")
	if rec.Code != http.StatusOK || rec.Body.String() != "User-agent: *" {
		t.Errorf("GET /robots.txt = %d %q", rec.Code, rec.Body.String())
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "public, max-age=3600, must-revalidate" {
		t.Errorf("Cache-Control = %q", cc)
	}

	rec = get(t, app, "/build/client/main.a1b2c3d4.js")
	if rec.Code != http.StatusOK || rec.Body.String() != "console.log(1)" {
		t.Errorf("GET bundle = %d %q", rec.Code, rec.Body.String())
	}
	if cc := rec.Header().Get("Cache-Control"); !strings.Contains(cc, "immutable") {
		t.Errorf("Cache-Control = %q, want immutable", cc)
	}

	// Unknown files fall through to page rendering.
	rec = get(t, app, "/missing.txt")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Loading") {
		t.Errorf("GET /missing.txt = %d", rec.Code)
	}
}

func TestStaticDirMustExist(t *testing.T) {
	_, err := New(context.Background(), Config{
		Store:         store.NewMemory(),
		SessionSecret: "s",
		Logger:        discardLogger(),
		Static:        []StaticDir{{Prefix: "/", Dir: filepath.Join(t.TempDir(), "nope")}},
	})
	if err == nil {
		t.Fatal("New() with a missing static dir should fail")
	}
}

func TestCallerMiddlewareAndRoutes(t *testing.T) {
	var order []string
	mark := func(name string) MiddlewareBuilder {
		return func(a *App) func(http.Handler) http.Handler {
			return func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					order = append(order, name)
					next.ServeHTTP(w, r)
				})
			}
		}
	}
	app := newTestApp(t, Config{
		Middleware: []MiddlewareBuilder{mark("first"), mark("second")},
		ServerRoutes: func(r chi.Router) {
			r.Get("/api/whoami", func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(session.FromContext(r.Context()).UserID))
			})
		},
	})

	rec := get(t, app, "/api/whoami")
	if rec.Code != http.StatusOK || rec.Body.Len() == 0 {
		t.Errorf("GET /api/whoami = %d %q", rec.Code, rec.Body.String())
	}
	if strings.Join(order, ",") != "first,second" {
		t.Errorf("middleware order = %v", order)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	metrics := middleware.NewMetrics()
	app := newTestApp(t, Config{Metrics: metrics, MetricsPath: "/metrics"})

	get(t, app, "/")
	rec := get(t, app, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `syncpage_route_matches_total{app="main",kind="render"} 1`) {
		t.Errorf("match counter missing:\n%s", rec.Body.String())
	}
}

func TestTransportUpgrade(t *testing.T) {
	app := newTestApp(t, Config{})
	srv := httptest.NewServer(app)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + DefaultTransportPath
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(server.Frame{Action: "ping"}); err != nil {
		t.Fatalf("WriteJSON() error: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f server.Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("ReadJSON() error: %v", err)
	}
	if f.Action != "pong" {
		t.Errorf("Action = %q, want pong", f.Action)
	}
	if app.Transport().Len() != 1 {
		t.Errorf("Transport().Len() = %d, want 1", app.Transport().Len())
	}
}

func TestSchemaAndAccessControl(t *testing.T) {
	st := store.NewMemory()
	putDoc(t, st, "items", "1", `{"id":"1"}`)
	table := router.MustTable(router.App{Name: "main", Routes: []router.Route{
		{Path: "/items/:id", Filters: []filter.Func{filter.FetchDoc("items", "id", "item")}},
	}})
	var hooked atomic.Bool
	app := newTestApp(t, Config{
		Store: st,
		Apps:  table,
		Schema: map[string]model.Validator{
			"items": func(string, json.RawMessage) error { return nil },
		},
		Hooks: func(*model.Backend) { hooked.Store(true) },
		AccessControl: func(b *model.Backend) {
			b.Allow(func(_ context.Context, a model.Access) error {
				if a.Op == model.OpRead && a.Collection == "items" {
					return model.ErrAccessDenied
				}
				return nil
			})
		},
	})
	if !hooked.Load() {
		t.Error("Hooks not applied")
	}
	if rec := get(t, app, "/items/1"); rec.Code == http.StatusOK {
		t.Errorf("denied read rendered a page: %s", rec.Body.String())
	}
}

func TestOnFatal(t *testing.T) {
	fatal := make(chan error, 1)
	_ = newTestApp(t, Config{
		Store:            deadStore{DocStore: store.NewMemory()},
		WatchdogInterval: 10 * time.Millisecond,
		OnFatal:          func(err error) { fatal <- err },
	})

	select {
	case err := <-fatal:
		if !errors.Is(err, model.ErrStoreFatal) {
			t.Errorf("OnFatal error = %v, want ErrStoreFatal", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("OnFatal not called")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	app := newTestApp(t, Config{})
	if err := app.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := app.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
}

func TestRunShutsDown(t *testing.T) {
	app := newTestApp(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestCanonicalPaths(t *testing.T) {
	app := newTestApp(t, Config{})

	rec := get(t, app, "/blog//post/./x?x=1")
	if rec.Code != http.StatusMovedPermanently {
		t.Fatalf("status = %d, want 301", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/blog/post/x?x=1" {
		t.Errorf("Location = %q", loc)
	}

	rec = get(t, app, "/../secret")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("GET /../secret = %d, want 400", rec.Code)
	}
}
