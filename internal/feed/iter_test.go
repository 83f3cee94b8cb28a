package feed

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestPagedIteratorLoadsLazily ensures pages are only requested when consumed.
func TestPagedIteratorLoadsLazily(t *testing.T) {
	t.Parallel()

	var requested []int
	it := NewPagedIterator(1, func(_ context.Context, page int) ([]Chapter, error) {
		requested = append(requested, page)
		switch page {
		case 1:
			return []Chapter{{URL: "c3"}, {URL: "c2"}}, nil
		case 2:
			return []Chapter{{URL: "c2"}, {URL: "c1"}}, nil
		default:
			return nil, nil
		}
	})

	ctx := context.Background()
	first, err := it.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "c3", first.URL)
	require.Equal(t, []int{1}, requested)

	_, err = it.Next(ctx)
	require.NoError(t, err)
	third, err := it.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "c1", third.URL, "duplicate across pages must be skipped")

	_, err = it.Next(ctx)
	require.ErrorIs(t, err, ErrIterDone)
	require.Equal(t, []int{1, 2, 3}, requested)
}

func TestPagedIteratorPropagatesErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	it := NewPagedIterator(0, func(context.Context, int) ([]Chapter, error) {
		return nil, boom
	})
	_, err := it.Next(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestSliceIterator(t *testing.T) {
	t.Parallel()

	it := NewSliceIterator([]Chapter{{URL: "a"}})
	ch, err := it.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, "a", ch.URL)
	_, err = it.Next(context.Background())
	require.ErrorIs(t, err, ErrIterDone)
}
