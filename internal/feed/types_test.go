package feed

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeliveredFileHandles(t *testing.T) {
	t.Parallel()

	var file DeliveredFile
	_, ok := file.Handle(FormatPDF)
	require.False(t, ok)

	file.SetHandle(FormatPDF, "file-1")
	handle, ok := file.Handle(FormatPDF)
	require.True(t, ok)
	require.Equal(t, "file-1", handle)
	_, ok = file.Handle(FormatCBZ)
	require.False(t, ok)
}

func TestChapterDisplayName(t *testing.T) {
	t.Parallel()

	ch := Chapter{Name: "Ch. 5", Title: Title{Name: "Solo"}}
	require.Equal(t, "Solo - Ch. 5", ch.DisplayName())
	require.True(t, ch.NeedsPictures())
	require.Equal(t, "Ch. 5", Chapter{Name: "Ch. 5"}.DisplayName())
}

func TestIsStatus(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("get page: %w", &StatusError{URL: "https://x", StatusCode: http.StatusTooManyRequests})
	require.True(t, IsStatus(err, http.StatusTooManyRequests))
	require.False(t, IsStatus(err, http.StatusNotFound))
	require.False(t, IsStatus(errors.New("plain"), http.StatusNotFound))
}
