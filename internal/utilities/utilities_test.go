package utilities

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateLogAppends(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	now := time.Date(2024, 5, 6, 7, 8, 9, 0, time.Local)

	require.NoError(t, createLogAt(now, dir, "ALLTRACKINGS", "first"))
	require.NoError(t, createLogAt(now, dir, "ALLTRACKINGS", "second"))

	b, err := os.ReadFile(filepath.Join(dir, "ALLTRACKINGS_20240506.log"))
	require.NoError(t, err)
	assert.Equal(t, "07:08:09 - first\n07:08:09 - second\n", string(b))
}

func TestJournal(t *testing.T) {
	var disabled *Journal
	assert.False(t, disabled.Enabled())
	assert.NoError(t, disabled.Record("x", "in", "00"))

	j := &Journal{Dir: t.TempDir()}
	require.NoError(t, j.Record("356307042441013", "in", "000f"))
	require.NoError(t, j.Record("", "in", "dead"))

	entries, err := os.ReadDir(j.Dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	b, err := os.ReadFile(filepath.Join(j.Dir, entries[0].Name()))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasSuffix(lines[0], "356307042441013 in 000f"))
	assert.True(t, strings.HasSuffix(lines[1], "UNREGISTERED in dead"))
}
