package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// PageData contains everything written into the page shell.
type PageData struct {
	// Lang is the html lang attribute. Defaults to "en".
	Lang string

	// Head is a trusted HTML fragment written into <head> verbatim.
	Head string

	// Styles are stylesheet URLs.
	Styles []string

	// Bundle is the serialized model bundle. Empty writes "{}".
	Bundle json.RawMessage

	// Script is the URL of the client bundle.
	Script string
}

// RenderPage writes the page shell to w.
func RenderPage(w io.Writer, page PageData) error {
	lang := page.Lang
	if lang == "" {
		lang = "en"
	}

	var buf bytes.Buffer
	buf.Grow(len(page.Head) + len(page.Bundle) + 512)

	buf.WriteString("<!DOCTYPE html>\n")
	fmt.Fprintf(&buf, `<html lang="%s">`+"\n", escapeAttr(lang))
	buf.WriteString("<head>\n")
	buf.WriteString(`  <meta charset="utf-8">` + "\n")
	if page.Head != "" {
		buf.WriteString(page.Head)
		buf.WriteByte('\n')
	}
	for _, href := range page.Styles {
		fmt.Fprintf(&buf, `  <link rel="stylesheet" href="%s">`+"\n", escapeAttr(href))
	}
	buf.WriteString("</head>\n")

	buf.WriteString("<body>\n")
	buf.WriteString(`  <div id="app">Loading</div>` + "\n")
	buf.WriteString(`  <script type="application/json" id="bundle">`)
	if len(page.Bundle) == 0 {
		buf.WriteString("{}")
	} else {
		json.HTMLEscape(&buf, page.Bundle)
	}
	buf.WriteString("</script>\n")
	fmt.Fprintf(&buf, `  <script defer src="%s"></script>`+"\n", escapeAttr(page.Script))
	buf.WriteString("</body>\n</html>\n")

	_, err := w.Write(buf.Bytes())
	return err
}
