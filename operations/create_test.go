package operations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deltalog/delta-go/delta"
)

func TestCreateTableWithDefaults(t *testing.T) {
	cmd := &CreateCommand{
		TableUri: t.TempDir(),
		Mode:     delta.SaveModeErrorIfExists,
		Metadata: delta.DeltaTableMetaData{
			Configuration: map[string]string{"user.key": "value"},
		},
	}
	table, err := cmd.Execute()
	require.NoError(t, err)

	assert.EqualValues(t, 0, table.Version)
	assert.True(t, table.State.HasProtocol())
	assert.True(t, table.State.Protocol.Equal(delta.NewProtocol(1, 1)))

	md, err := table.GetMetadata()
	require.NoError(t, err)
	assert.NotNil(t, md.Id)
	assert.NotNil(t, md.CreatedTime)
	require.NotNil(t, md.Format)
	assert.Equal(t, "parquet", md.Format.Provider)
	assert.Equal(t, "value", md.Configuration["user.key"])
}

func TestCreateTableWithExplicitProtocol(t *testing.T) {
	protocol := delta.NewProtocol(1, 2)
	cmd := &CreateCommand{
		TableUri: t.TempDir(),
		Mode:     delta.SaveModeErrorIfExists,
		Protocol: &protocol,
	}
	table, err := cmd.Execute()
	require.NoError(t, err)
	assert.EqualValues(t, 2, table.State.Protocol.MinWriterVersion)
}

func TestCreateTableNegotiatesFromConfiguration(t *testing.T) {
	cmd := &CreateCommand{
		TableUri: t.TempDir(),
		Mode:     delta.SaveModeErrorIfExists,
		Metadata: delta.DeltaTableMetaData{
			Configuration: map[string]string{
				"delta.minWriterVersion": "7",
			},
		},
	}
	table, err := cmd.Execute()
	require.NoError(t, err)

	assert.EqualValues(t, 1, table.State.Protocol.MinReaderVersion)
	assert.EqualValues(t, 7, table.State.Protocol.MinWriterVersion)
	require.NotNil(t, table.State.Protocol.WriterFeatures)
	assert.Empty(t, *table.State.Protocol.WriterFeatures)

	// the override never persists as a table property
	md, err := table.GetMetadata()
	require.NoError(t, err)
	assert.NotContains(t, md.Configuration, "delta.minWriterVersion")
}

func TestCreateTableErrorIfExists(t *testing.T) {
	uri := t.TempDir()
	cmd := &CreateCommand{TableUri: uri, Mode: delta.SaveModeErrorIfExists}
	_, err := cmd.Execute()
	require.NoError(t, err)

	_, err = (&CreateCommand{TableUri: uri, Mode: delta.SaveModeErrorIfExists}).Execute()
	assert.ErrorContains(t, err, "already exists")
}

func TestCreateTableIgnoreReturnsExisting(t *testing.T) {
	uri := t.TempDir()
	_, err := (&CreateCommand{
		TableUri: uri,
		Mode:     delta.SaveModeErrorIfExists,
		Metadata: delta.DeltaTableMetaData{
			Configuration: map[string]string{"user.key": "original"},
		},
	}).Execute()
	require.NoError(t, err)

	table, err := (&CreateCommand{TableUri: uri, Mode: delta.SaveModeIgnore}).Execute()
	require.NoError(t, err)
	assert.EqualValues(t, 0, table.Version)
	md, err := table.GetMetadata()
	require.NoError(t, err)
	assert.Equal(t, "original", md.Configuration["user.key"])
}

func TestCreateTableWithSessionDefaults(t *testing.T) {
	writer := int32(2)
	cmd := &CreateCommand{
		TableUri:        t.TempDir(),
		Mode:            delta.SaveModeErrorIfExists,
		SessionDefaults: delta.SessionDefaults{WriterVersion: &writer},
	}
	table, err := cmd.Execute()
	require.NoError(t, err)
	assert.EqualValues(t, 2, table.State.Protocol.MinWriterVersion)
}
