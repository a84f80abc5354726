package syncpage

import (
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// staticRoot serves one directory under a URL prefix.
type staticRoot struct {
	prefix string
	fsys   fs.FS
}

func newStaticRoot(d StaticDir) (staticRoot, error) {
	info, err := os.Stat(d.Dir)
	if err != nil {
		return staticRoot{}, fmt.Errorf("syncpage: static dir: %w", err)
	}
	if !info.IsDir() {
		return staticRoot{}, fmt.Errorf("syncpage: static dir %s is not a directory", d.Dir)
	}
	prefix := d.Prefix
	if prefix == "" {
		prefix = "/"
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return staticRoot{prefix: prefix, fsys: os.DirFS(d.Dir)}, nil
}

// relPath returns the file path for urlPath inside the root. It rejects
// traversal and absolute-path tricks.
func (s staticRoot) relPath(urlPath string) (string, bool) {
	if !strings.HasPrefix(urlPath, s.prefix) {
		return "", false
	}
	rel := strings.TrimPrefix(urlPath, s.prefix)
	if rel == "" {
		return "", false
	}

	// %00 decodes to NUL.
	if strings.IndexByte(rel, 0) != -1 || strings.Contains(rel, "\\") {
		return "", false
	}

	// "/static//etc/passwd" leaves "/etc/passwd".
	if strings.HasPrefix(rel, "/") {
		return "", false
	}
	for _, seg := range strings.Split(rel, "/") {
		if seg == "." || seg == ".." {
			return "", false
		}
	}

	clean := path.Clean(rel)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", false
	}
	osPath := filepath.FromSlash(clean)
	if filepath.IsAbs(osPath) || filepath.VolumeName(osPath) != "" {
		return "", false
	}
	return clean, true
}

// open returns the regular file behind urlPath, if any.
func (s staticRoot) open(urlPath string) (fs.File, fs.FileInfo, string, bool) {
	rel, ok := s.relPath(urlPath)
	if !ok {
		return nil, nil, "", false
	}
	f, err := s.fsys.Open(rel)
	if err != nil {
		return nil, nil, "", false
	}
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		f.Close()
		return nil, nil, "", false
	}
	return f, info, rel, true
}

// serveStatic answers GET and HEAD requests for files in the static roots,
// in order, and passes everything else on.
func (a *App) serveStatic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		for _, root := range a.static {
			f, info, rel, ok := root.open(r.URL.Path)
			if !ok {
				continue
			}
			defer f.Close()

			rs, ok := f.(io.ReadSeeker)
			if !ok {
				continue
			}
			a.applyCacheHeaders(w, rel)
			http.ServeContent(w, r, rel, info.ModTime(), rs)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// applyCacheHeaders sets Cache-Control for a static file.
func (a *App) applyCacheHeaders(w http.ResponseWriter, filePath string) {
	switch a.config.StaticCache {
	case CacheControlNone:
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	case CacheControlProduction:
		if isFingerprinted(filePath) {
			w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		} else {
			w.Header().Set("Cache-Control", "public, max-age=3600, must-revalidate")
		}
	}
}

// isFingerprinted reports whether the file name carries a content hash,
// e.g. "app.a1b2c3d4.js".
func isFingerprinted(filePath string) bool {
	parts := strings.Split(path.Base(filePath), ".")
	if len(parts) < 3 {
		return false
	}
	hash := parts[len(parts)-2]
	if len(hash) < 8 {
		return false
	}
	for _, c := range hash {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}
