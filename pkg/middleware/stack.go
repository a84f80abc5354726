package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// DefaultBodyLimit is the request body limit used when ParseBody gets zero.
const DefaultBodyLimit = 1 << 20

// IsXHR reports whether r was sent by a script rather than a navigation.
func IsXHR(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("X-Requested-With"), "XMLHttpRequest")
}

// IsSecure reports whether r arrived over TLS, directly or through a proxy
// that sets X-Forwarded-Proto.
func IsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	proto := r.Header.Get("X-Forwarded-Proto")
	if i := strings.IndexByte(proto, ','); i != -1 {
		proto = proto[:i]
	}
	return strings.EqualFold(strings.TrimSpace(proto), "https")
}

// ForceHTTPS redirects plain HTTP requests to the same URL over HTTPS.
func ForceHTTPS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if IsSecure(r) {
			next.ServeHTTP(w, r)
			return
		}
		http.Redirect(w, r, "https://"+r.Host+r.URL.RequestURI(), http.StatusMovedPermanently)
	})
}

type cookiesKey struct{}

// Cookies parses the request cookies once and stores them in the context.
// Percent-encoded values are decoded; values that fail to decode are kept
// as sent.
func Cookies(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jar := make(map[string]string)
		for _, c := range r.Cookies() {
			if _, ok := jar[c.Name]; !ok {
				jar[c.Name] = decodeCookie(c.Value)
			}
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), cookiesKey{}, jar)))
	})
}

func decodeCookie(v string) string {
	if !strings.Contains(v, "%") {
		return v
	}
	if d, err := url.PathUnescape(v); err == nil {
		return d
	}
	return v
}

// Cookie returns a cookie parsed by Cookies.
func Cookie(ctx context.Context, name string) (string, bool) {
	jar, _ := ctx.Value(cookiesKey{}).(map[string]string)
	v, ok := jar[name]
	return v, ok
}

type jsonBodyKey struct{}

// ParseBody reads request bodies up to limit bytes. Form bodies are parsed
// into r.Form, JSON bodies are kept for JSONBody. The body stays readable
// downstream. Oversized bodies get 413, malformed ones 400.
func ParseBody(limit int64) func(http.Handler) http.Handler {
	if limit <= 0 {
		limit = DefaultBodyLimit
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body == nil || r.Body == http.NoBody || !hasBody(r) {
				next.ServeHTTP(w, r)
				return
			}

			raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
			if err != nil {
				var maxErr *http.MaxBytesError
				if errors.As(err, &maxErr) {
					http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
					return
				}
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(raw))

			mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
			switch mediaType {
			case "application/json":
				if len(raw) > 0 && !json.Valid(raw) {
					http.Error(w, "invalid JSON body", http.StatusBadRequest)
					return
				}
				r = r.WithContext(context.WithValue(r.Context(), jsonBodyKey{}, json.RawMessage(raw)))
			case "application/x-www-form-urlencoded":
				if err := r.ParseForm(); err != nil {
					http.Error(w, "invalid form body", http.StatusBadRequest)
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(raw))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hasBody(r *http.Request) bool {
	if r.ContentLength > 0 || r.Header.Get("Transfer-Encoding") != "" {
		return true
	}
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return r.ContentLength != 0
	default:
		return false
	}
}

// JSONBody returns the JSON body stored by ParseBody.
func JSONBody(ctx context.Context) json.RawMessage {
	raw, _ := ctx.Value(jsonBodyKey{}).(json.RawMessage)
	return raw
}

// MethodOverride lets POST requests declare PUT, PATCH or DELETE through the
// X-HTTP-Method-Override header or a "_method" form field.
func MethodOverride(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			method := r.Header.Get("X-HTTP-Method-Override")
			if method == "" && r.Form != nil {
				method = r.Form.Get("_method")
			}
			switch m := strings.ToUpper(method); m {
			case http.MethodPut, http.MethodPatch, http.MethodDelete:
				r.Method = m
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequestLogger logs one line per request.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := NewStatusRecorder(w)
			next.ServeHTTP(rec, r)

			level := slog.LevelInfo
			if rec.Status() >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(r.Context(), level, "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.Status(),
				"bytes", rec.Written(),
				"duration", time.Since(start),
				"request_id", chimw.GetReqID(r.Context()),
			)
		})
	}
}
