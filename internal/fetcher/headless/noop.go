package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/comicfeed/internal/feed"
)

// ErrDisabled is returned when headless rendering is turned off.
var ErrDisabled = errors.New("headless fetcher disabled")

// Noop stands in for Fetcher when headless rendering is disabled in config.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch always fails with ErrDisabled.
func (Noop) Fetch(context.Context, feed.FetchRequest) (feed.FetchResponse, error) {
	return feed.FetchResponse{}, ErrDisabled
}
