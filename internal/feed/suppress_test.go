package feed

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestSuppressionsScopedToPass ensures a suppression only applies within its pass.
func TestSuppressionsScopedToPass(t *testing.T) {
	t.Parallel()

	s := NewSuppressions()
	s.Suppress("42", 3)

	require.True(t, s.Suppressed("42", 3))
	require.False(t, s.Suppressed("42", 4))
	require.False(t, s.Suppressed("42", 0), "manual deliveries are never suppressed")
	require.False(t, s.Suppressed("7", 3))

	s.Suppress("7", 0)
	require.Equal(t, 1, s.Len())

	s.Forget(4)
	require.Equal(t, 0, s.Len())
}
