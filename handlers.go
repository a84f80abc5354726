package syncpage

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/vango-dev/syncpage/pkg/filter"
	"github.com/vango-dev/syncpage/pkg/middleware"
	"github.com/vango-dev/syncpage/pkg/model"
	"github.com/vango-dev/syncpage/pkg/render"
	"github.com/vango-dev/syncpage/pkg/router"
	"github.com/vango-dev/syncpage/pkg/session"
)

// HealthcheckPath answers liveness probes ahead of every other layer.
const HealthcheckPath = "/healthcheck"

// serviceEndpoints answers the healthcheck and metrics endpoints before
// HTTPS enforcement and sessions.
func (a *App) serviceEndpoints(next http.Handler) http.Handler {
	var metrics http.Handler
	if a.metrics != nil && a.config.MetricsPath != "" {
		metrics = a.metrics.Handler()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == HealthcheckPath && (r.Method == http.MethodGet || r.Method == http.MethodHead):
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			if r.Method == http.MethodGet {
				w.Write([]byte("OK"))
			}
		case metrics != nil && r.URL.Path == a.config.MetricsPath:
			metrics.ServeHTTP(w, r)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// handlePage matches the request, runs the route's filters and renders the
// page shell.
func (a *App) handlePage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	path, changed, err := router.CleanPath(r.URL.EscapedPath())
	if err != nil {
		a.handleError(w, r, BadRequest(err))
		return
	}
	if changed {
		if r.URL.RawQuery != "" {
			path += "?" + r.URL.RawQuery
		}
		http.Redirect(w, r, path, http.StatusMovedPermanently)
		return
	}

	res := a.table.Match(path)
	a.metrics.RecordMatch(res.Kind.String(), res.App)
	middleware.SetMatchAttributes(ctx, res.Kind.String(), res.App, res.Pattern)

	switch res.Kind {
	case router.KindNoMatch:
		a.handleNotFound(w, r)
		return
	case router.KindRedirect:
		http.Redirect(w, r, res.Target, http.StatusFound)
		return
	}

	m := model.FromContext(ctx)
	if m == nil {
		m = a.backend.CreateModel()
		defer m.Close()
	}

	in := &filter.Input{
		Request: r,
		Model:   m,
		Session: session.FromContext(ctx),
		App:     res.App,
		Params:  res.Params,
	}
	out, err := a.runner.Run(ctx, res.Filters, in)
	if err != nil {
		a.metrics.RecordFilterError(res.App, err)
		a.handleError(w, r, err)
		return
	}
	if out.Redirected() {
		http.Redirect(w, r, out.RedirectURL, http.StatusFound)
		return
	}

	html, err := a.renderer.Render(ctx, res.App, r.URL.Path, m)
	if err != nil {
		var be *render.BundleError
		if errors.As(err, &be) {
			a.metrics.RecordBundleError(res.App)
		}
		a.handleError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		w.Write(html)
	}
}

// handleNotFound is the catch-all for paths no app claims.
func (a *App) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusNotFound, "404: "+r.URL.Path)
}

// handleError turns err into a response. Only bundle errors expose their
// cause in a 500 body.
func (a *App) handleError(w http.ResponseWriter, r *http.Request, err error) {
	middleware.RecordError(r.Context(), err)
	code := statusOf(err)

	var be *render.BundleError
	switch {
	case errors.As(err, &be):
		writeText(w, http.StatusInternalServerError, be.Error())
	case code == http.StatusNotFound:
		a.logger.Debug("not found", "path", r.URL.Path, "error", err)
		writeText(w, code, "404: "+r.URL.Path)
	case code < http.StatusInternalServerError:
		a.logger.Info("request rejected", "path", r.URL.Path, "status", code, "error", err)
		var he *HTTPError
		if errors.As(err, &he) && he.Message != "" {
			writeText(w, code, strconv.Itoa(code)+": "+he.Message)
			return
		}
		writeText(w, code, strconv.Itoa(code)+": "+http.StatusText(code))
	default:
		a.logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeText(w, http.StatusInternalServerError, "500: "+http.StatusText(http.StatusInternalServerError))
	}
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	w.Write([]byte(body))
}
