package feed

import (
	"fmt"
	"strings"
)

// Format is a set of output document formats, stored as a bitmask.
type Format uint8

// Supported output formats.
const (
	FormatPDF Format = 1 << iota
	FormatCBZ
	FormatEPUB
)

// DefaultFormats is used for recipients without a stored preference.
const DefaultFormats = FormatPDF

const allFormats = FormatPDF | FormatCBZ | FormatEPUB

var formatOrder = []Format{FormatPDF, FormatCBZ, FormatEPUB}

// Has reports whether every flag in other is set.
func (f Format) Has(other Format) bool {
	return other != 0 && f&other == other
}

// Union returns the formats present in either set.
func (f Format) Union(other Format) Format {
	return (f | other) & allFormats
}

// Intersect returns the formats present in both sets.
func (f Format) Intersect(other Format) Format {
	return f & other & allFormats
}

// Toggle flips the given flags.
func (f Format) Toggle(other Format) Format {
	return (f ^ other) & allFormats
}

// Formats lists the single-flag formats in a stable order.
func (f Format) Formats() []Format {
	out := make([]Format, 0, len(formatOrder))
	for _, single := range formatOrder {
		if f.Has(single) {
			out = append(out, single)
		}
	}
	return out
}

// Extension returns the file extension of a single format.
func (f Format) Extension() string {
	switch f {
	case FormatPDF:
		return ".pdf"
	case FormatCBZ:
		return ".cbz"
	case FormatEPUB:
		return ".epub"
	default:
		return ""
	}
}

// ContentType returns the MIME type of a single format.
func (f Format) ContentType() string {
	switch f {
	case FormatPDF:
		return "application/pdf"
	case FormatCBZ:
		return "application/vnd.comicbook+zip"
	case FormatEPUB:
		return "application/epub+zip"
	default:
		return "application/octet-stream"
	}
}

// String renders the set as "PDF|CBZ".
func (f Format) String() string {
	if f == 0 {
		return "none"
	}
	names := make([]string, 0, len(formatOrder))
	for _, single := range f.Formats() {
		switch single {
		case FormatPDF:
			names = append(names, "PDF")
		case FormatCBZ:
			names = append(names, "CBZ")
		case FormatEPUB:
			names = append(names, "EPUB")
		}
	}
	return strings.Join(names, "|")
}

// ParseFormat parses a single format name.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "pdf":
		return FormatPDF, nil
	case "cbz":
		return FormatCBZ, nil
	case "epub":
		return FormatEPUB, nil
	default:
		return 0, fmt.Errorf("unknown format %q", name)
	}
}

// FormatFromBits restores a set persisted as an integer, dropping unknown bits.
func FormatFromBits(bits int64) Format {
	return Format(bits) & allFormats
}
