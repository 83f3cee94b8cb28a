package render

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"
)

// renderPDF puts every page on its own sheet sized to the image, in points.
func renderPDF(title string, pages []pageImage) ([]byte, error) {
	doc := fpdf.NewCustom(&fpdf.InitType{UnitStr: "pt"})
	doc.SetTitle(title, true)
	doc.SetCreator("comicfeed", true)
	doc.SetMargins(0, 0, 0)
	doc.SetAutoPageBreak(false, 0)

	for i, p := range pages {
		w, h := float64(p.width), float64(p.height)
		// "L" would swap the dimensions; the size already carries the shape.
		doc.AddPageFormat("P", fpdf.SizeType{Wd: w, Ht: h})
		name := fmt.Sprintf("page-%05d", i)
		opts := fpdf.ImageOptions{ImageType: strings.ToUpper(pdfType(p.kind))}
		doc.RegisterImageOptionsReader(name, opts, bytes.NewReader(p.data))
		doc.ImageOptions(name, 0, 0, w, h, false, opts, 0, "")
		if err := doc.Error(); err != nil {
			return nil, fmt.Errorf("render pdf page %s: %w", p.name, err)
		}
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func pdfType(kind string) string {
	if kind == "jpeg" {
		return "jpg"
	}
	return kind
}
