package filter

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync/atomic"
	"time"
)

// DefaultTimeout bounds a single filter step.
const DefaultTimeout = 10 * time.Second

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	// Timeout bounds each filter. Zero uses DefaultTimeout; a negative
	// value disables the bound.
	Timeout time.Duration

	Logger *slog.Logger
}

// DefaultRunnerConfig returns the default configuration.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{Timeout: DefaultTimeout}
}

// Outcome is the result of a chain that did not fail.
type Outcome struct {
	// RedirectURL is set when a filter redirected.
	RedirectURL string
}

// Redirected reports whether a filter redirected.
func (o Outcome) Redirected() bool { return o.RedirectURL != "" }

// Runner executes filter chains.
type Runner struct {
	timeout time.Duration
	logger  *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{timeout: cfg.Timeout, logger: cfg.Logger.With("component", "filter")}
}

type stepResult struct {
	redirect   string
	redirected bool
	err        error
}

// Run executes filters in order. It stops at the first filter that
// redirects (returning its url in the Outcome) or fails (returning a
// *FilterError). Rendering should only proceed when the Outcome is not a
// redirect and err is nil.
func (r *Runner) Run(ctx context.Context, filters []Func, in *Input) (Outcome, error) {
	for i, f := range filters {
		if f == nil {
			continue
		}
		res := r.step(ctx, i, f, in)
		switch {
		case res.err != nil:
			return Outcome{}, &FilterError{Index: i, Err: res.err}
		case res.redirected && res.redirect == "":
			return Outcome{}, &FilterError{Index: i, Err: ErrEmptyRedirect}
		case res.redirected:
			return Outcome{RedirectURL: res.redirect}, nil
		}
	}
	return Outcome{}, nil
}

func (r *Runner) step(ctx context.Context, index int, f Func, in *Input) stepResult {
	cancel := func() {}
	if r.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
	}

	// The filter works on its own copy of the input. The session is copied
	// back when the filter settles and the model lease is revoked once the
	// step ends, so an abandoned filter cannot touch request state.
	own := *in
	own.Session = in.Session.Clone()
	own.Params = maps.Clone(in.Params)
	revoke := func() {}
	if in.Model != nil {
		own.Model, revoke = in.Model.Lease()
	}
	defer func() {
		cancel()
		revoke()
	}()

	done := make(chan stepResult, 1)
	var settled atomic.Bool
	settle := func(res stepResult, how string) {
		if !settled.CompareAndSwap(false, true) {
			r.logger.Warn("filter settled more than once", "index", index, "app", in.App, "call", how)
			return
		}
		if in.Session != nil {
			*in.Session = *own.Session.Clone()
		}
		done <- res
	}
	next := func(err error) { settle(stepResult{err: err}, "next") }
	redirect := func(url string) { settle(stepResult{redirected: true, redirect: url}, "redirect") }

	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("filter panicked", "index", index, "app", in.App, "panic", p)
				settle(stepResult{err: fmt.Errorf("panic: %v", p)}, "panic")
			}
		}()
		f(ctx, &own, next, redirect)
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		if !settled.CompareAndSwap(false, true) {
			// Settled concurrently with the deadline.
			return <-done
		}
		if ctx.Err() == context.DeadlineExceeded {
			r.logger.Warn("filter timed out", "index", index, "app", in.App, "timeout", r.timeout)
			return stepResult{err: ErrFilterTimeout}
		}
		return stepResult{err: ctx.Err()}
	}
}
