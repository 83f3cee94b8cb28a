package feed

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestFormatSetOperations ensures union, intersection and toggle stay inside the known flags.
func TestFormatSetOperations(t *testing.T) {
	t.Parallel()

	both := FormatPDF.Union(FormatCBZ)
	require.True(t, both.Has(FormatPDF))
	require.True(t, both.Has(FormatCBZ))
	require.False(t, both.Has(FormatEPUB))
	require.Equal(t, FormatCBZ, both.Intersect(FormatCBZ|FormatEPUB))
	require.Equal(t, FormatPDF, both.Toggle(FormatCBZ))
	require.Equal(t, FormatPDF|FormatCBZ|FormatEPUB, both.Toggle(FormatEPUB))
	require.Equal(t, []Format{FormatPDF, FormatCBZ}, both.Formats())
	require.Equal(t, "PDF|CBZ", both.String())
	require.False(t, both.Has(0))
}

// TestFormatFromBitsDropsUnknown ensures persisted masks cannot smuggle unknown flags.
func TestFormatFromBitsDropsUnknown(t *testing.T) {
	t.Parallel()

	require.Equal(t, FormatPDF|FormatEPUB, FormatFromBits(0xF5))
	require.Equal(t, Format(0), FormatFromBits(0))
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	got, err := ParseFormat(" EPUB ")
	require.NoError(t, err)
	require.Equal(t, FormatEPUB, got)
	require.Equal(t, ".epub", got.Extension())

	_, err = ParseFormat("mobi")
	require.Error(t, err)
}
