// Package filter runs a matched route's pre-render filters.
//
// A filter is given the request's model and session and must eventually
// call exactly one of next (to continue, optionally with an error) or
// redirect (to answer with a client redirect). Filters run strictly one at
// a time in route order and may complete from another goroutine:
//
//	func loadUser(ctx context.Context, in *filter.Input, next filter.Next, redirect filter.Redirect) {
//	    user := in.Model.At("users." + in.Params["id"])
//	    next(in.Model.Fetch(ctx, user))
//	}
package filter

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/vango-dev/syncpage/pkg/model"
	"github.com/vango-dev/syncpage/pkg/session"
)

// Input is what a filter may read and mutate.
type Input struct {
	Request *http.Request
	Model   *model.Model
	Session *session.Session

	// App is the matched app name.
	App string

	// Params holds the values of the matched pattern's :param and *splat
	// segments.
	Params map[string]string
}

// Next continues the chain. A non-nil err aborts it.
type Next func(err error)

// Redirect halts the chain and answers with a redirect to url.
type Redirect func(url string)

// Func is a pre-render filter.
type Func func(ctx context.Context, in *Input, next Next, redirect Redirect)

var (
	// ErrFilterTimeout is returned when a filter neither continued nor
	// redirected within the runner's timeout.
	ErrFilterTimeout = errors.New("filter: timed out waiting for next or redirect")

	// ErrEmptyRedirect is returned when a filter redirects to "".
	ErrEmptyRedirect = errors.New("filter: redirect to empty url")
)

// FilterError reports which filter aborted the chain.
type FilterError struct {
	Index int
	Err   error
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("filter: filter %d: %v", e.Index, e.Err)
}

func (e *FilterError) Unwrap() error {
	return e.Err
}

// StatusError carries the HTTP status a filter wants the error answered with.
type StatusError struct {
	Code int
	Err  error
}

// Status wraps err with an HTTP status code.
func Status(code int, err error) *StatusError {
	return &StatusError{Code: code, Err: err}
}

func (e *StatusError) Error() string {
	if e.Err == nil {
		return http.StatusText(e.Code)
	}
	return e.Err.Error()
}

func (e *StatusError) Unwrap() error { return e.Err }

// StatusCode returns the HTTP status code.
func (e *StatusError) StatusCode() int { return e.Code }

// Sync adapts a synchronous check into a Func. A non-empty url redirects,
// otherwise err is passed to next.
func Sync(check func(ctx context.Context, in *Input) (url string, err error)) Func {
	return func(ctx context.Context, in *Input, next Next, redirect Redirect) {
		url, err := check(ctx, in)
		if err == nil && url != "" {
			redirect(url)
			return
		}
		next(err)
	}
}
