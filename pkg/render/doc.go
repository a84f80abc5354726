// Package render composes the HTML document for a matched app.
//
// The page is a fixed shell: the app's head fragment, a root element the
// client bundle mounts into, the model bundle as an inert JSON data block,
// and a deferred script tag loading the client bundle.
//
//	r := render.NewRenderer(render.RendererConfig{
//	    Heads:  render.NewHeadCache(render.StaticHeads(heads)),
//	    Assets: assets.NewPassthroughResolver("/build/client/"),
//	})
//	html, err := r.Render(ctx, "main", req.URL.Path, m)
//
// Render returns the full document or an error, never a partial page, so the
// caller writes the response only once composition succeeded.
//
// # Security
//
// Bundle JSON is HTML-escaped before it is embedded, so document data cannot
// close the data block. Head fragments are trusted HTML and are written
// verbatim.
package render
