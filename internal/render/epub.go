package render

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/go-shiori/go-epub"
)

// renderEPUB builds a single-section book with one image per page.
func renderEPUB(title string, pages []pageImage) ([]byte, error) {
	book, err := epub.NewEpub(title)
	if err != nil {
		return nil, fmt.Errorf("render epub: %w", err)
	}
	book.SetAuthor("comicfeed")
	book.SetLang("en")

	var body strings.Builder
	fmt.Fprintf(&body, "<h1>%s</h1>\n", escape(title))
	for i, p := range pages {
		dataURL := "data:" + p.mimeType() + ";base64," + base64.StdEncoding.EncodeToString(p.data)
		internal, err := book.AddImage(dataURL, fmt.Sprintf("page-%05d%s", i, p.ext()))
		if err != nil {
			return nil, fmt.Errorf("render epub page %s: %w", p.name, err)
		}
		fmt.Fprintf(&body, `<div class="page"><img src="%s" alt="Page %d" style="width:100%%;height:auto;"/></div>`+"\n", internal, i+1)
	}
	if _, err := book.AddSection(body.String(), title, "", ""); err != nil {
		return nil, fmt.Errorf("render epub section: %w", err)
	}

	var buf bytes.Buffer
	if _, err := book.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("render epub: %w", err)
	}
	return buf.Bytes(), nil
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

func escape(s string) string { return htmlEscaper.Replace(s) }
