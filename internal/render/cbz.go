package render

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"path"
	"time"

	"github.com/JakeFAU/comicfeed/internal/feed"
)

type comicInfo struct {
	XMLName   xml.Name `xml:"ComicInfo"`
	Title     string   `xml:"Title"`
	PageCount int      `xml:"PageCount"`
}

// renderCBZ stores the original page bytes in a zip with a ComicInfo.xml.
// Images are already compressed, so entries are stored, not deflated.
func renderCBZ(title string, pages []feed.Page) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	modified := time.Unix(0, 0).UTC()

	for i, p := range pages {
		name := p.Name
		if name == "" {
			name = fmt.Sprintf("%05d.jpg", i)
		}
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     path.Base(name),
			Method:   zip.Store,
			Modified: modified,
		})
		if err != nil {
			return nil, fmt.Errorf("render cbz entry %s: %w", name, err)
		}
		if _, err := w.Write(p.Data); err != nil {
			return nil, fmt.Errorf("render cbz entry %s: %w", name, err)
		}
	}

	info, err := xml.MarshalIndent(comicInfo{Title: title, PageCount: len(pages)}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render cbz metadata: %w", err)
	}
	w, err := zw.CreateHeader(&zip.FileHeader{Name: "ComicInfo.xml", Method: zip.Deflate, Modified: modified})
	if err != nil {
		return nil, fmt.Errorf("render cbz metadata: %w", err)
	}
	if _, err := w.Write(append([]byte(xml.Header), info...)); err != nil {
		return nil, fmt.Errorf("render cbz metadata: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("render cbz: %w", err)
	}
	return buf.Bytes(), nil
}
