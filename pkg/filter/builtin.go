package filter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// ErrNotFound is the cause FetchDoc reports for a missing document.
var ErrNotFound = errors.New("filter: document not found")

// RequireLogin redirects anonymous sessions to loginURL, appending the
// requested path as the "redirect" query parameter.
func RequireLogin(loginURL string) Func {
	return func(_ context.Context, in *Input, next Next, redirect Redirect) {
		if in.Session != nil && in.Session.LoggedIn {
			next(nil)
			return
		}
		target := loginURL
		if in.Request != nil {
			target += "?redirect=" + url.QueryEscape(in.Request.URL.RequestURI())
		}
		redirect(target)
	}
}

// RequireAdmin redirects non-admin sessions to url. Admin status is read
// from the model's _session.isAdmin flag.
func RequireAdmin(url string) Func {
	return func(_ context.Context, in *Input, next Next, redirect Redirect) {
		if in.Model != nil && in.Model.GetBool("_session.isAdmin") {
			next(nil)
			return
		}
		redirect(url)
	}
}

// FetchDoc fetches collection.<params[param]> into the model and exposes it
// under _page.<alias>. A missing document fails with a 404 StatusError.
func FetchDoc(collection, param, alias string) Func {
	return func(ctx context.Context, in *Input, next Next, _ Redirect) {
		id := in.Params[param]
		if id == "" {
			next(Status(http.StatusNotFound, fmt.Errorf("%w: no %q param", ErrNotFound, param)))
			return
		}
		ref := in.Model.At(collection + "." + id)
		if err := in.Model.Fetch(ctx, ref); err != nil {
			next(err)
			return
		}
		doc := ref.Get()
		if doc == nil {
			next(Status(http.StatusNotFound, fmt.Errorf("%w: %s.%s", ErrNotFound, collection, id)))
			return
		}
		next(in.Model.Set(ctx, "_page."+alias, doc))
	}
}

// SetPage writes a constant into _page.<key>.
func SetPage(key string, value any) Func {
	return func(ctx context.Context, in *Input, next Next, _ Redirect) {
		next(in.Model.Set(ctx, "_page."+key, value))
	}
}
