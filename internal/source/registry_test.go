package source

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/comicfeed/internal/feed"
)

func TestRegistryRouting(t *testing.T) {
	t.Parallel()

	a := &stubSource{name: "alpha", prefix: "https://alpha/"}
	b := &stubSource{name: "beta", prefix: "https://beta/"}
	reg, err := NewRegistry(nil, a, b)
	require.NoError(t, err)

	src, ok := reg.SourceFor("https://beta/title/1")
	require.True(t, ok)
	require.Equal(t, "beta", src.Name())

	_, ok = reg.SourceFor("https://gamma/title/1")
	require.False(t, ok)

	_, err = reg.ByName("gamma")
	require.ErrorIs(t, err, feed.ErrUnknownSource)
	require.Equal(t, []string{"alpha", "beta"}, reg.Names())

	_, err = NewRegistry(nil, a, &stubSource{name: "alpha"})
	require.Error(t, err)
}

func TestRegistrySearchMergesAndRanks(t *testing.T) {
	t.Parallel()

	a := &stubSource{name: "alpha", titles: []feed.Title{
		{Name: "The Solo Leveling Saga", Source: "alpha"},
		{Name: "Unrelated", Source: "alpha"},
	}}
	b := &stubSource{name: "beta", titles: []feed.Title{{Name: "Solo Leveling", Source: "beta"}}}
	broken := &stubSource{name: "broken", err: errors.New("down")}
	reg, err := NewRegistry(nil, a, b, broken)
	require.NoError(t, err)

	titles, err := reg.Search(context.Background(), "Solo Leveling")
	require.NoError(t, err)
	require.Len(t, titles, 3)
	require.Equal(t, "Solo Leveling", titles[0].Name)
	require.Equal(t, "The Solo Leveling Saga", titles[1].Name)
	require.Equal(t, "Unrelated", titles[2].Name)
}

func TestRegistrySearchAllFailed(t *testing.T) {
	t.Parallel()

	reg, err := NewRegistry(nil, &stubSource{name: "a", err: errors.New("x")}, &stubSource{name: "b", err: errors.New("y")})
	require.NoError(t, err)
	_, err = reg.Search(context.Background(), "q")
	require.Error(t, err)
}

func TestRankPrefersWordMatches(t *testing.T) {
	t.Parallel()

	ranked := Rank("one piece", []feed.Title{
		{Name: "Pieces of Someone"},
		{Name: "One Punch"},
		{Name: "ONE PIECE"},
	})
	require.Equal(t, "ONE PIECE", ranked[0].Name)
	require.Equal(t, "One Punch", ranked[1].Name)
	require.Equal(t, "Pieces of Someone", ranked[2].Name)
}
