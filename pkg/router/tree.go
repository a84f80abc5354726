package router

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/vango-dev/syncpage/pkg/filter"
)

// segment is one compiled pattern segment.
type segment struct {
	// value is the static text, or the parameter name for params and
	// catch-alls.
	value      string
	isParam    bool
	isCatchAll bool
}

// node is a compiled route.
type node struct {
	// pattern is the full pattern from the app root.
	pattern string

	// segs are the segments this route adds to its parent's pattern.
	segs []segment

	placeholder bool
	redirect    string
	filters     []filter.Func
	children    []*node
}

// compile builds the node for r below a parent whose full pattern is parent.
func compile(r Route, parent string) (*node, error) {
	n := &node{
		redirect: r.Redirect,
		filters:  r.Filters,
	}

	if r.Path == "" {
		n.placeholder = true
		n.pattern = parent
	} else {
		full := r.Path
		if !strings.HasPrefix(full, "/") {
			full = strings.TrimSuffix(parent, "/") + "/" + full
		}
		fullSegs := splitPath(full)
		parentSegs := splitPath(parent)
		if len(fullSegs) < len(parentSegs) {
			return nil, fmt.Errorf("router: route %q is not below parent %q", r.Path, parent)
		}
		for i, s := range parentSegs {
			if fullSegs[i] != s {
				return nil, fmt.Errorf("router: route %q is not below parent %q", r.Path, parent)
			}
		}
		for i, raw := range fullSegs[len(parentSegs):] {
			seg, err := parseSegment(raw)
			if err != nil {
				return nil, fmt.Errorf("router: route %q: %w", r.Path, err)
			}
			if seg.isCatchAll && len(parentSegs)+i != len(fullSegs)-1 {
				return nil, fmt.Errorf("router: route %q: catch-all must be the last segment", r.Path)
			}
			n.segs = append(n.segs, seg)
		}
		for _, s := range parentSegs {
			if strings.HasPrefix(s, "*") {
				return nil, fmt.Errorf("router: route %q is nested below a catch-all", r.Path)
			}
		}
		n.pattern = "/" + strings.Join(fullSegs, "/")
	}

	for _, child := range r.Routes {
		c, err := compile(child, n.pattern)
		if err != nil {
			return nil, err
		}
		n.children = append(n.children, c)
	}
	return n, nil
}

func parseSegment(raw string) (segment, error) {
	switch {
	case strings.HasPrefix(raw, ":"):
		if len(raw) == 1 {
			return segment{}, fmt.Errorf("empty parameter name")
		}
		return segment{value: raw[1:], isParam: true}, nil
	case strings.HasPrefix(raw, "*"):
		if len(raw) == 1 {
			return segment{}, fmt.Errorf("empty catch-all name")
		}
		return segment{value: raw[1:], isCatchAll: true}, nil
	default:
		return segment{value: raw}, nil
	}
}

// match returns the chain of routes from n down to the deepest route that
// matches segs.
func (n *node) match(segs []string, params map[string]string) ([]*node, bool) {
	rest, bound, ok := n.consume(segs, params)
	if !ok {
		return nil, false
	}
	if len(rest) == 0 && !n.placeholder {
		// A pathless redirect child is the route's index.
		for _, child := range n.children {
			if child.placeholder && child.redirect != "" {
				return []*node{n, child}, true
			}
		}
		return []*node{n}, true
	}
	for _, child := range n.children {
		if chain, ok := child.match(rest, params); ok {
			return append([]*node{n}, chain...), true
		}
	}
	if len(rest) == 0 {
		return []*node{n}, true
	}

	// Backtrack on failure
	for _, name := range bound {
		delete(params, name)
	}
	return nil, false
}

// consume matches n's own segments against the front of segs.
func (n *node) consume(segs []string, params map[string]string) (rest []string, bound []string, ok bool) {
	i := 0
	for _, seg := range n.segs {
		if seg.isCatchAll {
			params[seg.value] = decode(strings.Join(segs[i:], "/"))
			return nil, append(bound, seg.value), true
		}
		if i >= len(segs) {
			for _, name := range bound {
				delete(params, name)
			}
			return nil, nil, false
		}
		value := decode(segs[i])
		switch {
		case seg.isParam:
			params[seg.value] = value
			bound = append(bound, seg.value)
		case value != seg.value:
			for _, name := range bound {
				delete(params, name)
			}
			return nil, nil, false
		}
		i++
	}
	return segs[i:], bound, true
}

// splitPath splits a path into non-empty segments.
func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// stripQuery removes the query string and fragment.
func stripQuery(path string) string {
	if i := strings.IndexAny(path, "?#"); i != -1 {
		return path[:i]
	}
	return path
}

func decode(seg string) string {
	if v, err := url.PathUnescape(seg); err == nil {
		return v
	}
	return seg
}

// expand substitutes :name and *name segments of target with params.
func expand(target string, params map[string]string) string {
	if !strings.ContainsAny(target, ":*") {
		return target
	}
	path, suffix := target, ""
	if i := strings.IndexAny(target, "?#"); i != -1 {
		path, suffix = target[:i], target[i:]
	}
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if len(p) < 2 || (p[0] != ':' && p[0] != '*') {
			continue
		}
		v, ok := params[p[1:]]
		if !ok {
			continue
		}
		if p[0] == '*' {
			parts[i] = v
		} else {
			parts[i] = url.PathEscape(v)
		}
	}
	return strings.Join(parts, "/") + suffix
}
