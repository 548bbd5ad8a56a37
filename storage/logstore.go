package storage

import (
	"bytes"
	"errors"
	"fmt"
	gopath "path"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// LogStore arbitrates access to a table's commit log. Entries are JSON lines;
// a write with overwrite=false is an atomic create-if-absent, which is the
// only primitive the transaction layer relies on to pick a commit winner.
type LogStore interface {
	// Write commits `entries` to `path` as newline-delimited JSON. With
	// overwrite=false the write fails with ErrAlreadyExists when `path`
	// is already present.
	Write(path string, entries [][]byte, overwrite bool) error
	// Read returns the JSON lines previously committed to `path`.
	Read(path string) ([][]byte, error)
	// ListFrom returns the paths of committed log segments with a version
	// of at least `version`, in ascending version order.
	ListFrom(version int64) ([]string, error)
}

type backendLogStore struct {
	backend StorageBackend
	logPath string
}

var _ LogStore = &backendLogStore{}

// NewLogStore returns a LogStore over `backend`, scoped to the log directory
// at `logPath`.
func NewLogStore(backend StorageBackend, logPath string) LogStore {
	return &backendLogStore{
		backend: backend,
		logPath: logPath,
	}
}

func (ls *backendLogStore) Write(path string, entries [][]byte, overwrite bool) error {
	data := bytes.Join(entries, []byte("\n"))

	if overwrite {
		return ls.backend.PutObj(path, data)
	}

	// Stage under a unique name first so the final rename-if-absent decides
	// the winner between concurrent writers.
	tmpPath := ls.backend.JoinPath(ls.logPath, fmt.Sprintf("_commit_%s.json.tmp", uuid.New().String()))
	if err := ls.backend.PutObj(tmpPath, data); err != nil {
		return fmt.Errorf("unable to stage commit: %w", err)
	}

	if err := ls.backend.RenameObjNoReplace(tmpPath, path); err != nil {
		var exists *ErrAlreadyExists
		if errors.As(err, &exists) {
			_ = ls.backend.DeleteObjs(tmpPath)
		}
		return err
	}
	return nil
}

func (ls *backendLogStore) Read(path string) ([][]byte, error) {
	data, err := ls.backend.GetObj(path)
	if err != nil {
		return nil, err
	}

	lines := make([][]byte, 0)
	for _, l := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(l)) == 0 {
			continue
		}
		lines = append(lines, l)
	}
	return lines, nil
}

func (ls *backendLogStore) ListFrom(version int64) ([]string, error) {
	objs, err := ls.backend.ListObjs(ls.logPath)
	if err != nil {
		return nil, err
	}

	type versionedPath struct {
		version int64
		path    string
	}

	segments := make([]versionedPath, 0, len(objs))
	for _, o := range objs {
		v, ok := CommitVersionFromPath(o.Path)
		if !ok || v < version {
			continue
		}
		segments = append(segments, versionedPath{version: v, path: o.Path})
	}

	sort.Slice(segments, func(i, j int) bool { return segments[i].version < segments[j].version })

	paths := make([]string, len(segments))
	for i, s := range segments {
		paths[i] = s.path
	}
	return paths, nil
}

// CommitPathForVersion returns the log segment file name for a version,
// zero-padded to twenty digits.
func CommitPathForVersion(version int64) string {
	return fmt.Sprintf("%020d.json", version)
}

// CommitVersionFromPath parses the version number out of a log segment path.
// The second return value is false for checkpoint files, temp files and
// anything else that is not a committed segment.
func CommitVersionFromPath(path string) (int64, bool) {
	name := gopath.Base(path)
	if !strings.HasSuffix(name, ".json") || strings.Contains(name, "checkpoint") || strings.HasPrefix(name, "_") {
		return 0, false
	}
	v, err := strconv.ParseInt(strings.TrimSuffix(name, ".json"), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
