package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileBackendPutAndGet(t *testing.T) {
	backend := &FileStorageBackend{}
	path := filepath.Join(t.TempDir(), "nested", "obj")

	require.NoError(t, backend.PutObj(path, []byte("content")))
	data, err := backend.GetObj(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("content"), data)
}

func TestFileBackendPutOverwritesAtomically(t *testing.T) {
	backend := &FileStorageBackend{}
	dir := t.TempDir()
	path := filepath.Join(dir, "obj")

	require.NoError(t, backend.PutObj(path, []byte("first")))
	require.NoError(t, backend.PutObj(path, []byte("second")))

	data, err := backend.GetObj(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)

	// no temp files left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileBackendGetMissing(t *testing.T) {
	backend := &FileStorageBackend{}
	_, err := backend.GetObj(filepath.Join(t.TempDir(), "missing"))
	var notFound *ErrNotFound
	require.ErrorAs(t, err, &notFound)
}

func TestFileBackendHeadObj(t *testing.T) {
	backend := &FileStorageBackend{}
	path := filepath.Join(t.TempDir(), "obj")
	require.NoError(t, backend.PutObj(path, []byte("x")))

	meta, err := backend.HeadObj(path)
	require.NoError(t, err)
	assert.Equal(t, path, meta.Path)
	assert.False(t, meta.Modified.IsZero())

	_, err = backend.HeadObj(path + ".missing")
	var notFound *ErrNotFound
	require.ErrorAs(t, err, &notFound)
}

func TestFileBackendRenameObjNoReplace(t *testing.T) {
	backend := &FileStorageBackend{}
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, backend.PutObj(src, []byte("payload")))

	require.NoError(t, backend.RenameObjNoReplace(src, dst))
	data, err := backend.GetObj(dst)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
	_, err = backend.GetObj(src)
	var notFound *ErrNotFound
	assert.True(t, errors.As(err, &notFound))
}

func TestFileBackendRenameObjNoReplaceRefusesExistingDst(t *testing.T) {
	backend := &FileStorageBackend{}
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, backend.PutObj(src, []byte("loser")))
	require.NoError(t, backend.PutObj(dst, []byte("winner")))

	err := backend.RenameObjNoReplace(src, dst)
	var exists *ErrAlreadyExists
	require.ErrorAs(t, err, &exists)
	assert.Equal(t, dst, exists.Path)

	// destination untouched
	data, err := backend.GetObj(dst)
	require.NoError(t, err)
	assert.Equal(t, []byte("winner"), data)
}

func TestFileBackendRenameObjNoReplaceRace(t *testing.T) {
	backend := &FileStorageBackend{}
	dir := t.TempDir()
	dst := filepath.Join(dir, "dst")

	const writers = 8
	srcs := make([]string, writers)
	for i := range srcs {
		srcs[i] = filepath.Join(dir, fmt.Sprintf("src-%d", i))
		require.NoError(t, backend.PutObj(srcs[i], []byte(fmt.Sprintf("payload-%d", i))))
	}

	var wg sync.WaitGroup
	results := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = backend.RenameObjNoReplace(srcs[i], dst)
		}(i)
	}
	wg.Wait()

	winner := -1
	for i, err := range results {
		if err == nil {
			require.Equal(t, -1, winner, "more than one writer won the rename")
			winner = i
			continue
		}
		var exists *ErrAlreadyExists
		assert.ErrorAs(t, err, &exists, "writer %d", i)
	}
	require.NotEqual(t, -1, winner, "no writer won the rename")

	data, err := backend.GetObj(dst)
	require.NoError(t, err)
	assert.Equal(t, []byte(fmt.Sprintf("payload-%d", winner)), data)
}

func TestFileBackendListObjsSkipsDirectories(t *testing.T) {
	backend := &FileStorageBackend{}
	dir := t.TempDir()
	require.NoError(t, backend.PutObj(filepath.Join(dir, "a"), []byte("1")))
	require.NoError(t, backend.PutObj(filepath.Join(dir, "b"), []byte("2")))
	require.NoError(t, backend.CreateDir(filepath.Join(dir, "sub")))

	objs, err := backend.ListObjs(dir)
	require.NoError(t, err)
	require.Len(t, objs, 2)
}

func TestFileBackendDeleteObjsIgnoresMissing(t *testing.T) {
	backend := &FileStorageBackend{}
	dir := t.TempDir()
	path := filepath.Join(dir, "obj")
	require.NoError(t, backend.PutObj(path, []byte("x")))

	require.NoError(t, backend.DeleteObjs(path, filepath.Join(dir, "missing")))
	_, err := backend.GetObj(path)
	var notFound *ErrNotFound
	assert.True(t, errors.As(err, &notFound))
}

func TestNewBackendForUri(t *testing.T) {
	backend, err := NewBackendForUri("/tmp/table")
	require.NoError(t, err)
	assert.IsType(t, &FileStorageBackend{}, backend)

	backend, err = NewBackendForUri("file:///tmp/table")
	require.NoError(t, err)
	assert.IsType(t, &FileStorageBackend{}, backend)

	_, err = NewBackendForUri("s3://bucket/table")
	assert.ErrorContains(t, err, "no backend available")
}
