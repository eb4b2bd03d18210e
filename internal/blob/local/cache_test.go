package local

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCacheRoundTrip(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir())
	require.NoError(t, err)

	_, ok, err := c.Get("12345/files/42_fp1.pdf")
	require.NoError(t, err)
	require.False(t, ok)

	path, err := c.Put("12345/files/42_fp1.pdf", []byte("content"))
	require.NoError(t, err)
	require.FileExists(t, path)

	data, ok, err := c.Get("12345/files/42_fp1.pdf")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("content"), data)

	require.NoError(t, c.Remove("12345/files/42_fp1.pdf"))
	_, ok, err = c.Get("12345/files/42_fp1.pdf")
	require.NoError(t, err)
	require.False(t, ok)

	// removing a missing key is not an error
	require.NoError(t, c.Remove("12345/files/42_fp1.pdf"))
}

func TestCacheRejectsTraversal(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = c.Put("../escape.txt", []byte("x"))
	require.Error(t, err)

	_, _, err = c.Get("../../etc/passwd")
	require.Error(t, err)
}

func TestCacheRequiresDir(t *testing.T) {
	t.Parallel()

	_, err := New("  ")
	require.Error(t, err)
}

func TestCachePrune(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir())
	require.NoError(t, err)

	old, err := c.Put("100/files/42_fp1.pdf", []byte("stale"))
	require.NoError(t, err)
	kept, err := c.Put("100/files/42_fp2.pdf", []byte("fresh"))
	require.NoError(t, err)
	other, err := c.Put("200/files/7_fp1.pdf", []byte("other course"))
	require.NoError(t, err)

	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	removed, err := c.Prune("100", time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	require.NoFileExists(t, old)
	require.FileExists(t, kept)
	require.FileExists(t, other)

	// pruning a prefix with no entries is not an error
	removed, err = c.Prune("300", time.Now())
	require.NoError(t, err)
	require.Zero(t, removed)
}
