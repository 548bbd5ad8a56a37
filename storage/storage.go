package storage

import (
	"fmt"
	"strings"
	"time"

	"gocloud.dev/blob"
)

// StorageBackend abstracts the object store underneath a table. Both
// implementations must provide atomic writes and rename-if-absent so the
// commit log can rely on create-if-absent semantics at each version.
type StorageBackend interface {
	// Create a new path by appending `pathToJoin` as a new component to `path`.
	JoinPath(path, pathToJoin string) string
	// More efficient path join for multiple path components. Use this method if you need to
	// combine more than two path components.
	JoinPaths(path string, paths ...string) string
	// Returns trimmed path with trailing path separator removed.
	TrimPath(path string) string
	// Fetch object metadata without reading the actual content.
	HeadObj(path string) (ObjectMeta, error)
	// Fetch object content.
	GetObj(path string) ([]byte, error)
	// Return a list of objects by `path` prefix.
	ListObjs(path string) ([]ObjectMeta, error)
	// Create new object with `data` as content.
	//
	// Implementation note:
	//
	// To support safe concurrent read, if `path` already exists, `PutObj` needs to update object
	// content in backing store atomically, i.e. reader of the object should never read a partial
	// write.
	PutObj(path string, data []byte) error
	// Moves object from `src` to `dst`.
	//
	// Implementation note:
	//
	// For a multi-writer safe backend, `RenameObjNoReplace` needs to implement rename if not
	// exists semantics. In other words, if the destination path already exists, rename must
	// return an ErrAlreadyExists error.
	RenameObjNoReplace(src, dst string) error
	// Idempotent directory creation. Backends without a directory concept treat this as a no-op.
	CreateDir(path string) error
	// Deletes objects by `paths`.
	DeleteObjs(paths ...string) error
}

// Describes metadata of a storage object.
type ObjectMeta struct {
	// The path where the object is stored. This is the path component of the object URI.
	//
	// For example:
	//   * path for `s3://bucket/foo/bar` should be `foo/bar`.
	//   * path for `dir/foo/bar` should be `dir/foo/bar`.
	//
	// Given a table URI, object URI can be constructed by joining table URI with object path.
	Path string

	// The last time the object was modified in the storage backend.
	// The timestamp of a commit comes from the remote storage `lastModifiedTime`, and can be
	// adjusted for clock skew.
	Modified time.Time
}

func NewBackend(bucket *blob.Bucket) (StorageBackend, error) {
	if bucket == nil {
		return nil, fmt.Errorf("bucket cannot be nil")
	}

	return &BlobBackend{
		bucket: bucket,
	}, nil
}

// NewBackendForUri returns a file backend for plain paths and file:// URIs.
// Other schemes require the caller to open a gocloud bucket and pass it to
// NewBackend, keeping driver registration in the caller's hands.
func NewBackendForUri(tableUri string) (StorageBackend, error) {
	if strings.HasPrefix(tableUri, "file://") {
		return &FileStorageBackend{Root: strings.TrimPrefix(tableUri, "file://")}, nil
	}
	if strings.Contains(tableUri, "://") {
		return nil, fmt.Errorf("no backend available for uri '%s', open a bucket and use NewBackend", tableUri)
	}
	return &FileStorageBackend{Root: tableUri}, nil
}
