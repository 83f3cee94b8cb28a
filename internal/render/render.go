// Package render packs downloaded chapter pages into PDF, CBZ and EPUB documents.
package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // registers the webp decoder

	"github.com/JakeFAU/comicfeed/internal/feed"
)

// Config bounds page sizes. Pages wider than MaxWidth are scaled down.
type Config struct {
	MaxWidth    int
	JPEGQuality int
}

// Renderer implements feed.Renderer.
type Renderer struct {
	cfg    Config
	logger *zap.Logger
}

// New builds a renderer. MaxWidth 0 keeps original sizes.
func New(cfg Config, logger *zap.Logger) *Renderer {
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 85
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{cfg: cfg, logger: logger}
}

// Render implements feed.Renderer. Exactly one format flag must be set.
func (r *Renderer) Render(ctx context.Context, format feed.Format, title string, pages []feed.Page) ([]byte, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("render %s: no pages", format)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch format {
	case feed.FormatPDF:
		imgs, err := r.decodeAll(ctx, pages)
		if err != nil {
			return nil, err
		}
		return renderPDF(title, imgs)
	case feed.FormatCBZ:
		return renderCBZ(title, pages)
	case feed.FormatEPUB:
		imgs, err := r.decodeAll(ctx, pages)
		if err != nil {
			return nil, err
		}
		return renderEPUB(title, imgs)
	default:
		return nil, fmt.Errorf("render: unsupported format %s", format)
	}
}

// pageImage is a page normalized to an encoding every output format accepts.
type pageImage struct {
	name   string
	kind   string // "jpeg", "png" or "gif"
	data   []byte
	width  int
	height int
}

func (r *Renderer) decodeAll(ctx context.Context, pages []feed.Page) ([]pageImage, error) {
	out := make([]pageImage, 0, len(pages))
	for _, p := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := r.normalize(p)
		if err != nil {
			r.logger.Warn("skipping undecodable page", zap.String("page", p.Name), zap.Error(err))
			continue
		}
		out = append(out, img)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("render: none of %d pages could be decoded", len(pages))
	}
	return out, nil
}

func (r *Renderer) normalize(p feed.Page) (pageImage, error) {
	cfg, kind, err := image.DecodeConfig(bytes.NewReader(p.Data))
	if err != nil {
		return pageImage{}, fmt.Errorf("decode %s: %w", p.Name, err)
	}
	native := kind == "jpeg" || kind == "png" || kind == "gif"
	tooWide := r.cfg.MaxWidth > 0 && cfg.Width > r.cfg.MaxWidth
	if native && !tooWide {
		return pageImage{name: p.Name, kind: kind, data: p.Data, width: cfg.Width, height: cfg.Height}, nil
	}

	img, _, err := image.Decode(bytes.NewReader(p.Data))
	if err != nil {
		return pageImage{}, fmt.Errorf("decode %s: %w", p.Name, err)
	}
	if tooWide {
		img = scale(img, r.cfg.MaxWidth)
	}
	var buf bytes.Buffer
	switch kind {
	case "png":
		err = png.Encode(&buf, img)
	case "gif":
		err = gif.Encode(&buf, img, nil)
	default:
		kind = "jpeg"
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: r.cfg.JPEGQuality})
	}
	if err != nil {
		return pageImage{}, fmt.Errorf("encode %s: %w", p.Name, err)
	}
	b := img.Bounds()
	return pageImage{name: p.Name, kind: kind, data: buf.Bytes(), width: b.Dx(), height: b.Dy()}, nil
}

func scale(img image.Image, width int) image.Image {
	b := img.Bounds()
	height := b.Dy() * width / b.Dx()
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

func (p pageImage) mimeType() string {
	return "image/" + p.kind
}

func (p pageImage) ext() string {
	if p.kind == "jpeg" {
		return ".jpg"
	}
	return "." + p.kind
}
