package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/comicfeed/internal/feed"
	"github.com/JakeFAU/comicfeed/internal/metrics"
)

// ImageCache is the blob store behind the page cache.
type ImageCache interface {
	GetObject(ctx context.Context, path string) ([]byte, error)
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// ImageHeaderer is implemented by sources whose image hosts need extra
// request headers, usually a Referer.
type ImageHeaderer interface {
	ImageHeaders(chapter feed.Chapter) http.Header
}

// SourceLookup finds the adapter owning a chapter.
type SourceLookup interface {
	ByName(name string) (feed.Source, error)
}

// Downloader implements feed.PageFetcher on top of the image cache.
type Downloader struct {
	client      *Client
	sources     SourceLookup
	cache       ImageCache
	hasher      feed.Hasher
	parallelism int
	logger      *zap.Logger
}

// NewDownloader builds a downloader fetching up to parallelism images at once.
func NewDownloader(client *Client, sources SourceLookup, cache ImageCache, hasher feed.Hasher, parallelism int, logger *zap.Logger) *Downloader {
	if parallelism <= 0 {
		parallelism = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{
		client:      client,
		sources:     sources,
		cache:       cache,
		hasher:      hasher,
		parallelism: parallelism,
		logger:      logger,
	}
}

// Fetch returns every page of chapter in reading order. Cached images are
// read from disk and never refetched.
func (d *Downloader) Fetch(ctx context.Context, chapter feed.Chapter) ([]feed.Page, error) {
	src, err := d.sources.ByName(chapter.Source)
	if err != nil {
		return nil, err
	}
	pictures := chapter.Pictures
	if chapter.NeedsPictures() {
		pictures, err = src.Pictures(ctx, chapter)
		if err != nil {
			return nil, fmt.Errorf("list pictures of %s: %w", chapter.URL, err)
		}
	}
	if len(pictures) == 0 {
		return nil, fmt.Errorf("chapter %s has no pictures", chapter.URL)
	}

	digest, err := d.hasher.Hash([]byte(chapter.URL))
	if err != nil {
		return nil, fmt.Errorf("hash chapter url: %w", err)
	}
	if len(digest) > 16 {
		digest = digest[:16]
	}
	var headers http.Header
	if h, ok := src.(ImageHeaderer); ok {
		headers = h.ImageHeaders(chapter)
	}

	pages := make([]feed.Page, len(pictures))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.parallelism)
	for i, picture := range pictures {
		name := fmt.Sprintf("%05d%s", i, imageExt(picture))
		key := path.Join(chapter.Source, digest, name)
		g.Go(func() error {
			data, err := d.image(gctx, key, picture, headers)
			if err != nil {
				return err
			}
			pages[i] = feed.Page{Name: name, Data: data}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pages, nil
}

func (d *Downloader) image(ctx context.Context, key, pictureURL string, headers http.Header) ([]byte, error) {
	data, err := d.cache.GetObject(ctx, key)
	if err == nil {
		metrics.ObserveImageCache(true)
		return data, nil
	}
	if !errors.Is(err, feed.ErrNotFound) {
		d.logger.Warn("image cache read failed", zap.String("key", key), zap.Error(err))
	}
	metrics.ObserveImageCache(false)

	data, err = d.client.Get(ctx, pictureURL, headers)
	if err != nil {
		return nil, fmt.Errorf("download page %s: %w", pictureURL, err)
	}
	if _, err := d.cache.PutObject(ctx, key, http.DetectContentType(data), data); err != nil {
		d.logger.Warn("image cache write failed", zap.String("key", key), zap.Error(err))
	}
	return data, nil
}

// imageExt keeps the extension of the picture URL, defaulting to .jpg.
func imageExt(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	}
	ext := strings.ToLower(path.Ext(p))
	if ext == "" || len(ext) > 5 {
		return ".jpg"
	}
	return ext
}
