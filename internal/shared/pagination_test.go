package shared

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewPagination(t *testing.T) {
	p := NewPagination(2, 10, 35)
	require.Equal(t, 4, p.TotalPages)
	require.True(t, p.HasNext)

	last := NewPagination(4, 10, 35)
	require.False(t, last.HasNext)

	defaults := NewPagination(0, 0, 0)
	require.Equal(t, 1, defaults.Page)
	require.Equal(t, 20, defaults.PerPage)
	require.Zero(t, defaults.TotalPages)
	require.False(t, defaults.HasNext)
}
