package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigests(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", MD5Hex(nil))
	assert.Equal(t, "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262", Blake3Hex(nil))
	assert.Equal(t, uint64(0), Crc64nvme(nil))

	// pooled hashers must come back reset
	a := Crc64nvme([]byte("array payload"))
	assert.Equal(t, a, Crc64nvme([]byte("array payload")))
	assert.NotEqual(t, a, Crc64nvme([]byte("array payloaD")))
	assert.Equal(t, Blake3Hex([]byte("x")), Blake3Hex([]byte("x")))
}

func TestWriteFileAtomic(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "obj")
	require.NoError(t, WriteFileAtomic(path, []byte("one"), 0o644))
	require.NoError(t, WriteFileAtomic(path, []byte("two"), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestEnsureWritableDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, EnsureWritableDir(dir))

	file := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	assert.Error(t, EnsureWritableDir(file))
}
