//go:build linux || darwin

package pagemem

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMmapArenaCloseReportsErrors(t *testing.T) {
	t.Parallel()

	a, err := newMmapArena(filepath.Join(t.TempDir(), "arena.bin"), 512, 4)
	require.NoError(t, err)

	data, err := a.slot(3)
	require.NoError(t, err)
	data[0] = 0xAB

	require.NoError(t, a.close())

	// The file is already closed, so a second close must say so
	err = a.close()
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrClosed)
	assert.Contains(t, err.Error(), "close page file")
}
