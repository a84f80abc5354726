package router

import (
	"fmt"

	"github.com/vango-dev/syncpage/pkg/filter"
)

// DefaultApp is rendered for every path when the table has no apps.
const DefaultApp = "main"

// Route is one entry of an app's route table.
type Route struct {
	// Path is the pattern. Empty makes the route a placeholder that only
	// groups its children.
	Path string

	// Redirect, when set, answers matches with a redirect. Filters are not
	// run. ":name" segments are replaced by matched parameters.
	Redirect string

	// Filters run before the page renders, in order.
	Filters []filter.Func

	// Routes are nested children.
	Routes []Route
}

// App is a named client application and its routes.
type App struct {
	Name   string
	Routes []Route
}

// Kind is the outcome of a match.
type Kind int

const (
	KindNoMatch Kind = iota
	KindRedirect
	KindRender
)

func (k Kind) String() string {
	switch k {
	case KindNoMatch:
		return "no_match"
	case KindRedirect:
		return "redirect"
	case KindRender:
		return "render"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// MatchResult is the outcome of Table.Match.
type MatchResult struct {
	Kind Kind

	// App is the matched app (KindRender and KindRedirect).
	App string

	// Target is the redirect location (KindRedirect).
	Target string

	// Filters are the deepest route's filters (KindRender). Callers must
	// not modify the slice.
	Filters []filter.Func

	// Params holds the matched :param and *splat values.
	Params map[string]string

	// Pattern is the full pattern of the deepest matched route.
	Pattern string
}

// RouteInfo describes one compiled route, for listings.
type RouteInfo struct {
	App         string
	Pattern     string
	Redirect    string
	Filters     int
	Placeholder bool
	Depth       int
}
