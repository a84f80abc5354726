// Package router matches request paths against the route tables of one or
// more client apps.
//
// A Table is an ordered list of apps. Each app has an ordered list of
// routes, and routes nest:
//
//	table, err := router.NewTable(
//	    router.App{Name: "admin", Routes: []router.Route{
//	        {Path: "/admin", Filters: []filter.Func{filter.RequireAdmin("/")}, Routes: []router.Route{
//	            {Path: "users/:id"},
//	        }},
//	    }},
//	    router.App{Name: "main", Routes: []router.Route{
//	        {Path: "/"},
//	        {Path: "/old", Redirect: "/new"},
//	        {Path: "/docs/*page"},
//	    }},
//	)
//
//	res := table.Match("/admin/users/7?tab=1")
//	// res.Kind == router.KindRender, res.App == "admin", res.Params["id"] == "7"
//
// # Matching
//
// Apps are tried in table order and the first app that matches wins, even
// when a later app has a more specific route. Within an app, routes are
// tried in order. A route whose pattern consumes the whole remaining path
// matches; otherwise its children are tried against the rest. The deepest
// route of the matching chain decides the result: a Redirect route yields
// KindRedirect, a route with a Path yields KindRender with that route's
// filters. A pathless child with a Redirect acts as its parent's index:
// when the parent consumes the whole path, the redirect wins. Otherwise a
// chain ending on a route without a Path (a layout placeholder) does not
// count, and matching continues with the next app.
//
// Patterns support static segments, ":name" parameters and a trailing
// "*name" catch-all. A child path without a leading "/" is relative to
// its parent.
package router
