package feed

import "context"

// PageFunc loads one page of chapters, newest first. An empty page ends iteration.
type PageFunc func(ctx context.Context, page int) ([]Chapter, error)

// PagedIterator adapts a paginated chapter listing into a ChapterIterator.
// Pages are requested only when the previous one is consumed.
type PagedIterator struct {
	load PageFunc
	next int
	buf  []Chapter
	done bool
	seen map[string]struct{}
}

// NewPagedIterator starts at firstPage and advances by one page per refill.
func NewPagedIterator(firstPage int, load PageFunc) *PagedIterator {
	return &PagedIterator{
		load: load,
		next: firstPage,
		seen: make(map[string]struct{}),
	}
}

// Next implements ChapterIterator. Chapters repeated across page boundaries are skipped.
func (it *PagedIterator) Next(ctx context.Context) (Chapter, error) {
	for {
		if len(it.buf) > 0 {
			ch := it.buf[0]
			it.buf = it.buf[1:]
			if _, dup := it.seen[ch.URL]; dup {
				continue
			}
			it.seen[ch.URL] = struct{}{}
			return ch, nil
		}
		if it.done {
			return Chapter{}, ErrIterDone
		}
		if err := ctx.Err(); err != nil {
			return Chapter{}, err
		}
		page, err := it.load(ctx, it.next)
		if err != nil {
			return Chapter{}, err
		}
		it.next++
		if len(page) == 0 {
			it.done = true
			continue
		}
		it.buf = page
	}
}

// SliceIterator yields a fixed list of chapters.
type SliceIterator struct {
	chapters []Chapter
	pos      int
}

// NewSliceIterator wraps chapters, which must already be newest first.
func NewSliceIterator(chapters []Chapter) *SliceIterator {
	return &SliceIterator{chapters: chapters}
}

// Next implements ChapterIterator.
func (it *SliceIterator) Next(ctx context.Context) (Chapter, error) {
	if err := ctx.Err(); err != nil {
		return Chapter{}, err
	}
	if it.pos >= len(it.chapters) {
		return Chapter{}, ErrIterDone
	}
	ch := it.chapters[it.pos]
	it.pos++
	return ch, nil
}

// ErrIterator fails on the first Next call.
type ErrIterator struct {
	Err error
}

// Next implements ChapterIterator.
func (it ErrIterator) Next(context.Context) (Chapter, error) {
	return Chapter{}, it.Err
}
