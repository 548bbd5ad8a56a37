package delta

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deltalog/delta-go/storage"
)

// newTestTable returns an unloaded handle rooted in a fresh temp dir with
// the log directory created.
func newTestTable(t *testing.T) *DeltaTable {
	t.Helper()
	dir := t.TempDir()
	backend, err := storage.NewBackendForUri(dir)
	require.NoError(t, err)
	table, err := NewDeltaTable(dir, backend, DeltaTableConfig{
		RequireTombstones: true,
		RequireFiles:      true,
	})
	require.NoError(t, err)
	require.NoError(t, table.EnsureLogDirectoryExists())
	return table
}

// commitTestActions commits one segment through a fresh transaction and
// refreshes the handle.
func commitTestActions(t *testing.T, table *DeltaTable, actions []Action) DeltaDataTypeVersion {
	t.Helper()
	tx := table.StartTransaction(nil)
	tx.AddActions(actions)
	version, err := tx.Commit(nil, nil)
	require.NoError(t, err)
	require.NoError(t, table.Update())
	return version
}

func TestLoadTableAtVersionZero(t *testing.T) {
	table := newTestTable(t)
	commitTestActions(t, table, []Action{
		{Protocol: &Protocol{MinReaderVersion: 1, MinWriterVersion: 1}},
		metadataAction(map[string]string{"user.key": "value"}),
	})

	loaded, err := table.Load()
	require.NoError(t, err)
	assert.EqualValues(t, 0, loaded.Version)
	assert.True(t, loaded.State.HasProtocol())
	md, err := loaded.GetMetadata()
	require.NoError(t, err)
	assert.Equal(t, "value", md.Configuration["user.key"])
}

func TestLoadEmptyTableFails(t *testing.T) {
	table := newTestTable(t)
	_, err := table.Load()
	var recovery *ErrStateRecovery
	require.ErrorAs(t, err, &recovery)
}

func TestLoadVersionZeroWithoutProtocolFails(t *testing.T) {
	table := newTestTable(t)

	// a segment written by no conforming writer: version 0 with metadata
	// but no protocol action
	lines, err := ActionsToJsonLines([]Action{metadataAction(nil)})
	require.NoError(t, err)
	require.NoError(t, table.Log.Write(table.CommitUriFromVersion(0), lines, false))

	_, err = table.Load()
	var recovery *ErrStateRecovery
	require.ErrorAs(t, err, &recovery)
	assert.Contains(t, recovery.Reason, "no protocol action")
}

func TestLoadRejectsProtocolBeyondClientSupport(t *testing.T) {
	table := newTestTable(t)
	lines, err := ActionsToJsonLines([]Action{
		{Protocol: &Protocol{MinReaderVersion: 4, MinWriterVersion: 8}},
		metadataAction(nil),
	})
	require.NoError(t, err)
	require.NoError(t, table.Log.Write(table.CommitUriFromVersion(0), lines, false))

	_, err = table.Load()
	var invalid *ErrInvalidProtocolVersion
	require.ErrorAs(t, err, &invalid)
}

func TestLoadRejectsUnknownNamedFeature(t *testing.T) {
	table := newTestTable(t)
	lines, err := ActionsToJsonLines([]Action{
		{Protocol: &Protocol{
			MinReaderVersion: 3,
			MinWriterVersion: 7,
			ReaderFeatures:   &[]string{"futureFeature"},
			WriterFeatures:   &[]string{"futureFeature"},
		}},
		metadataAction(nil),
	})
	require.NoError(t, err)
	require.NoError(t, table.Log.Write(table.CommitUriFromVersion(0), lines, false))

	_, err = table.Load()
	var invalid *ErrInvalidProtocolVersion
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "futureFeature", invalid.UnsupportedFeature)
}

func TestUpdateIncrementalAppliesNewCommits(t *testing.T) {
	table := newTestTable(t)
	commitTestActions(t, table, []Action{
		{Protocol: &Protocol{MinReaderVersion: 1, MinWriterVersion: 1}},
		metadataAction(nil),
	})
	commitTestActions(t, table, []Action{addAction("part-00000.parquet")})
	commitTestActions(t, table, []Action{addAction("part-00001.parquet")})

	assert.EqualValues(t, 2, table.Version)
	assert.Len(t, table.State.Files, 2)
}

func TestUpdateObservesOtherWriters(t *testing.T) {
	table := newTestTable(t)
	commitTestActions(t, table, []Action{
		{Protocol: &Protocol{MinReaderVersion: 1, MinWriterVersion: 1}},
		metadataAction(nil),
	})

	// second handle on the same path commits behind the first one's back
	other, err := NewDeltaTable(table.TableUri, table.Storage, table.Config)
	require.NoError(t, err)
	_, err = other.Load()
	require.NoError(t, err)
	commitTestActions(t, other, []Action{addAction("part-00000.parquet")})

	require.NoError(t, table.Update())
	assert.EqualValues(t, 1, table.Version)
	assert.Len(t, table.State.Files, 1)
}

func TestUpdateLeavesHeldSnapshotFrozen(t *testing.T) {
	table := newTestTable(t)
	commitTestActions(t, table, []Action{
		{Protocol: &Protocol{MinReaderVersion: 1, MinWriterVersion: 1}},
		metadataAction(nil),
	})
	commitTestActions(t, table, []Action{addAction("part-00000.parquet")})

	snapshot := table.State

	commitTestActions(t, table, []Action{
		removeAction("part-00000.parquet"),
		{Txn: &Txn{AppId: "stream-1", Version: 1}},
	})

	// the table advanced
	assert.Contains(t, table.State.Tombstones, "part-00000.parquet")
	assert.Contains(t, table.State.AppTransactionVersion, "stream-1")
	assert.Empty(t, table.State.Files)

	// the captured snapshot did not
	assert.Empty(t, snapshot.Tombstones)
	assert.NotContains(t, snapshot.AppTransactionVersion, "stream-1")
	require.Len(t, snapshot.Files, 1)
	assert.Equal(t, "part-00000.parquet", snapshot.Files[0].Path)
}

func TestPeekNextCommitUpToDate(t *testing.T) {
	table := newTestTable(t)
	commitTestActions(t, table, []Action{
		{Protocol: &Protocol{MinReaderVersion: 1, MinWriterVersion: 1}},
		metadataAction(nil),
	})

	peek, err := table.PeekNextCommit(table.Version)
	require.NoError(t, err)
	assert.True(t, peek.UpToDate)

	peek, err = table.PeekNextCommit(-1)
	require.NoError(t, err)
	assert.False(t, peek.UpToDate)
	assert.EqualValues(t, 0, peek.New.Version)
}

func TestApplyActionsRejectsVersionGap(t *testing.T) {
	table := newTestTable(t)
	err := table.ApplyActions(5, []Action{addAction("part-00000.parquet")})
	assert.ErrorContains(t, err, "version mismatch")
}

func TestCommitUriFromVersion(t *testing.T) {
	table := newTestTable(t)
	uri := table.CommitUriFromVersion(12)
	assert.Equal(t, table.Storage.JoinPath(table.LogUri, "00000000000000000012.json"), uri)
}

func TestOpenTableMissingPath(t *testing.T) {
	_, err := OpenTable(t.TempDir() + "/does-not-exist")
	require.Error(t, err)
	var recovery *ErrStateRecovery
	assert.True(t, errors.As(err, &recovery))
}
