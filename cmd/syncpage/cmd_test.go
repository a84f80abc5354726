package main

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vango-dev/syncpage/internal/config"
	"github.com/vango-dev/syncpage/pkg/filter"
)

const testApps = `
apps:
  - name: admin
    routes:
      - path: /admin
        filters: [requireAdmin /]
  - name: main
    routes:
      - path: /old/:id
        redirect: /new/:id
      - path: /users/:id
`

func writeApps(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "apps.yaml")
	if err := os.WriteFile(path, []byte(testApps), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func runRoutes(t *testing.T, args ...string) string {
	t.Helper()
	cmd := routesCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("routes %v error: %v", args, err)
	}
	return out.String()
}

func TestRoutesListing(t *testing.T) {
	out := runRoutes(t, "--apps", writeApps(t))
	for _, want := range []string{"APP", "admin", "/admin", "/old/:id", "/new/:id", "/users/:id"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRoutesMatch(t *testing.T) {
	path := writeApps(t)
	tests := []struct {
		path string
		want string
	}{
		{"/users/7", "render: app main, pattern /users/:id, 0 filter(s)\n  id = 7\n"},
		{"/old/7", "redirect: /new/7 (app main, pattern /old/:id)\n"},
		{"/admin", "render: app admin, pattern /admin, 1 filter(s)\n"},
		{"/nope", "no match: 404\n"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := runRoutes(t, "--apps", path, "--match", tt.path); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrintRoutesEmpty(t *testing.T) {
	apps, err := config.LoadApps("", filter.NewRegistry())
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if err := printRoutes(&out, apps.Table); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), `every path renders "main"`) {
		t.Errorf("output = %q", out.String())
	}
}

func TestVersion(t *testing.T) {
	cmd := versionCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--short"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if out.String() != version+"\n" {
		t.Errorf("version = %q", out.String())
	}
}

func TestSQLitePath(t *testing.T) {
	tests := map[string]string{
		"sqlite:///var/data/app.db": "/var/data/app.db",
		"data/app.db":               "data/app.db",
		"app.sqlite":                "app.sqlite",
		"memory://":                 "",
		"":                          "",
	}
	for in, want := range tests {
		if got := sqlitePath(in); got != want {
			t.Errorf("sqlitePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStaticDirs(t *testing.T) {
	public := t.TempDir()
	e := &config.Env{PublicPath: public, BuildDir: filepath.Join(t.TempDir(), "missing")}
	dirs := staticDirs(e, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if len(dirs) != 1 || dirs[0].Dir != public || dirs[0].Prefix != "/" {
		t.Errorf("staticDirs() = %+v", dirs)
	}
}

func TestServeRequiresSecret(t *testing.T) {
	e := &config.Env{StorageURL: "memory://"}
	err := serve(t.Context(), e, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err == nil || !strings.Contains(err.Error(), "SESSION_SECRET") {
		t.Errorf("serve() error = %v, want SESSION_SECRET error", err)
	}
}
