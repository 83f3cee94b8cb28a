package render

import (
	"archive/zip"
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/comicfeed/internal/feed"
)

func pngPage(t *testing.T, name string, w, h int) feed.Page {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return feed.Page{Name: name, Data: buf.Bytes()}
}

func jpegPage(t *testing.T, name string, w, h int) feed.Page {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return feed.Page{Name: name, Data: buf.Bytes()}
}

func TestRenderPDF(t *testing.T) {
	t.Parallel()

	r := New(Config{}, nil)
	data, err := r.Render(context.Background(), feed.FormatPDF, "Solo - 1",
		[]feed.Page{pngPage(t, "00000.png", 40, 60), jpegPage(t, "00001.jpg", 80, 30)})
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
	require.Contains(t, string(data), "%%EOF")
}

func TestRenderCBZ(t *testing.T) {
	t.Parallel()

	r := New(Config{}, nil)
	pages := []feed.Page{
		{Name: "00000.webp", Data: []byte("not decoded for cbz")},
		{Name: "00001.png", Data: []byte("raw")},
	}
	data, err := r.Render(context.Background(), feed.FormatCBZ, "Solo - 1", pages)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 3)
	require.Equal(t, "00000.webp", zr.File[0].Name)
	require.Equal(t, "ComicInfo.xml", zr.File[2].Name)

	rc, err := zr.File[1].Open()
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, "raw", string(body))

	rc, err = zr.File[2].Open()
	require.NoError(t, err)
	info, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Contains(t, string(info), "<Title>Solo - 1</Title>")
	require.Contains(t, string(info), "<PageCount>2</PageCount>")
}

func TestRenderEPUB(t *testing.T) {
	t.Parallel()

	r := New(Config{}, nil)
	data, err := r.Render(context.Background(), feed.FormatEPUB, "Solo & Co - 1",
		[]feed.Page{pngPage(t, "00000.png", 10, 10), jpegPage(t, "00001.jpg", 10, 10)})
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Equal(t, "mimetype", zr.File[0].Name)
	var images int
	for _, f := range zr.File {
		if bytes.Contains([]byte(f.Name), []byte("page-")) {
			images++
		}
	}
	require.Equal(t, 2, images)
}

func TestRenderScalesWidePages(t *testing.T) {
	t.Parallel()

	r := New(Config{MaxWidth: 20}, nil)
	img, err := r.normalize(pngPage(t, "00000.png", 100, 50))
	require.NoError(t, err)
	require.Equal(t, 20, img.width)
	require.Equal(t, 10, img.height)
	require.Equal(t, "png", img.kind)

	cfg, kind, err := image.DecodeConfig(bytes.NewReader(img.data))
	require.NoError(t, err)
	require.Equal(t, "png", kind)
	require.Equal(t, 20, cfg.Width)
}

func TestRenderSkipsUndecodablePages(t *testing.T) {
	t.Parallel()

	r := New(Config{}, nil)
	data, err := r.Render(context.Background(), feed.FormatPDF, "t",
		[]feed.Page{{Name: "broken.jpg", Data: []byte("nope")}, jpegPage(t, "ok.jpg", 10, 10)})
	require.NoError(t, err)
	require.NotEmpty(t, data)

	_, err = r.Render(context.Background(), feed.FormatPDF, "t", []feed.Page{{Name: "broken.jpg", Data: []byte("nope")}})
	require.Error(t, err)
}

func TestRenderRejectsBadInput(t *testing.T) {
	t.Parallel()

	r := New(Config{}, nil)
	_, err := r.Render(context.Background(), feed.FormatPDF, "t", nil)
	require.Error(t, err)
	_, err = r.Render(context.Background(), feed.FormatPDF|feed.FormatCBZ, "t", []feed.Page{jpegPage(t, "a.jpg", 2, 2)})
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Render(ctx, feed.FormatCBZ, "t", []feed.Page{{Name: "a", Data: []byte("x")}})
	require.ErrorIs(t, err, context.Canceled)
}
