package feed

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when a keyed record is absent.
	ErrNotFound = errors.New("record not found")
	// ErrIterDone ends a ChapterIterator.
	ErrIterDone = errors.New("no more chapters")
	// ErrRecipientUnreachable means the recipient blocked or deleted the delivery channel.
	ErrRecipientUnreachable = errors.New("recipient unreachable")
	// ErrQueueClosed is returned by the dispatch queue after shutdown.
	ErrQueueClosed = errors.New("queue closed")
	// ErrUnknownSource is returned when no source owns a URL or name.
	ErrUnknownSource = errors.New("unknown source")
)

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	URL        string
	StatusCode int
	RetryAfter string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// IsStatus reports whether err wraps a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	return statusErr.StatusCode == code
}
