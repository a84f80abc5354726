package router

import (
	"fmt"
	"strings"
)

// Table is an immutable, ordered set of apps. It is safe for concurrent use.
type Table struct {
	apps []*compiledApp
}

type compiledApp struct {
	name  string
	roots []*node
}

// NewTable compiles apps in priority order. It rejects empty or duplicate
// app names and malformed patterns.
func NewTable(apps ...App) (*Table, error) {
	t := &Table{}
	seen := make(map[string]bool, len(apps))
	for _, app := range apps {
		name := strings.TrimSpace(app.Name)
		if name == "" {
			return nil, fmt.Errorf("router: app name is required")
		}
		if seen[name] {
			return nil, fmt.Errorf("router: duplicate app %q", name)
		}
		seen[name] = true

		ca := &compiledApp{name: name}
		for _, r := range app.Routes {
			n, err := compile(r, "")
			if err != nil {
				return nil, fmt.Errorf("app %q: %w", name, err)
			}
			ca.roots = append(ca.roots, n)
		}
		t.apps = append(t.apps, ca)
	}
	return t, nil
}

// MustTable is like NewTable but panics on error.
func MustTable(apps ...App) *Table {
	t, err := NewTable(apps...)
	if err != nil {
		panic(err)
	}
	return t
}

// Match resolves path. It has no side effects.
func (t *Table) Match(path string) MatchResult {
	if t == nil || len(t.apps) == 0 {
		return MatchResult{Kind: KindRender, App: DefaultApp, Params: map[string]string{}}
	}
	segs := splitPath(stripQuery(path))
	for _, app := range t.apps {
		if len(app.roots) == 0 {
			return MatchResult{Kind: KindRender, App: app.name, Params: map[string]string{}}
		}
		if res, ok := app.match(segs); ok {
			return res
		}
	}
	return MatchResult{Kind: KindNoMatch}
}

func (a *compiledApp) match(segs []string) (MatchResult, bool) {
	for _, root := range a.roots {
		params := make(map[string]string)
		chain, ok := root.match(segs, params)
		if !ok {
			continue
		}
		last := chain[len(chain)-1]
		switch {
		case last.redirect != "":
			return MatchResult{
				Kind:    KindRedirect,
				App:     a.name,
				Target:  expand(last.redirect, params),
				Params:  params,
				Pattern: last.pattern,
			}, true
		case !last.placeholder:
			return MatchResult{
				Kind:    KindRender,
				App:     a.name,
				Filters: last.filters,
				Params:  params,
				Pattern: last.pattern,
			}, true
		default:
			// The first matching chain decides the app; a placeholder
			// ending hands over to the next app.
			return MatchResult{}, false
		}
	}
	return MatchResult{}, false
}

// Apps returns the app names in priority order.
func (t *Table) Apps() []string {
	if t == nil {
		return nil
	}
	names := make([]string, len(t.apps))
	for i, a := range t.apps {
		names[i] = a.name
	}
	return names
}

// Len returns the number of apps.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.apps)
}

// Routes lists every compiled route depth-first, in match order.
func (t *Table) Routes() []RouteInfo {
	if t == nil {
		return nil
	}
	var out []RouteInfo
	var walk func(app string, n *node, depth int)
	walk = func(app string, n *node, depth int) {
		out = append(out, RouteInfo{
			App:         app,
			Pattern:     n.pattern,
			Redirect:    n.redirect,
			Filters:     len(n.filters),
			Placeholder: n.placeholder,
			Depth:       depth,
		})
		for _, c := range n.children {
			walk(app, c, depth+1)
		}
	}
	for _, a := range t.apps {
		for _, r := range a.roots {
			walk(a.name, r, 0)
		}
	}
	return out
}
