package operations

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/pointer"

	"github.com/deltalog/delta-go/delta"
	"github.com/deltalog/delta-go/storage"
)

// CreateCommand creates a new table: it writes the version-0 log segment
// carrying the table metadata and an explicit or negotiated protocol.
type CreateCommand struct {
	TableUri string
	Mode     delta.SaveMode
	Metadata delta.DeltaTableMetaData
	// Optional explicit protocol. When nil the protocol is negotiated from
	// the metadata configuration and the session defaults.
	Protocol *delta.Protocol
	// Optional backend override; derived from TableUri when nil.
	StorageBackend  storage.StorageBackend
	SessionDefaults delta.SessionDefaults
}

// Execute runs the create and returns the table loaded at version 0.
func (c *CreateCommand) Execute() (*delta.DeltaTable, error) {
	backend := c.StorageBackend
	if backend == nil {
		b, err := storage.NewBackendForUri(c.TableUri)
		if err != nil {
			return nil, fmt.Errorf("unable to create backend for uri: %w", err)
		}
		backend = b
	}

	config := delta.DeltaTableConfig{
		RequireTombstones: true,
		RequireFiles:      true,
		SessionDefaults:   c.SessionDefaults,
	}

	existing, err := delta.NewDeltaTable(c.TableUri, backend, config)
	if err != nil {
		return nil, err
	}
	if _, err := existing.Load(); err == nil {
		switch c.Mode {
		case delta.SaveModeIgnore:
			return existing, nil
		default:
			return nil, fmt.Errorf("table already exists at '%s'", c.TableUri)
		}
	}

	table, err := delta.NewDeltaTable(c.TableUri, backend, config)
	if err != nil {
		return nil, err
	}
	if err := table.EnsureLogDirectoryExists(); err != nil {
		return nil, err
	}

	md := c.Metadata
	if md.Id == nil {
		md.Id = pointer.String(uuid.New().String())
	}
	if md.CreatedTime == nil {
		md.CreatedTime = pointer.Int64(time.Now().UnixMilli())
	}
	if md.Format == nil {
		md.Format = delta.NewFormat()
	}
	if md.Configuration == nil {
		md.Configuration = make(map[string]string)
	}
	if md.PartitionColumns == nil {
		md.PartitionColumns = make([]string, 0)
	}

	mdAction, err := md.ToMetadataAction()
	if err != nil {
		return nil, fmt.Errorf("unable to build metadata action: %w", err)
	}

	actions := []delta.Action{{MetaData: mdAction}}
	if c.Protocol != nil {
		actions = append([]delta.Action{{Protocol: c.Protocol}}, actions...)
	}

	tx := table.StartTransaction(nil)
	tx.AddActions(actions)

	op := &delta.DeltaOperation{
		Create: &delta.CreateOperation{
			Mode:     c.Mode,
			Location: c.TableUri,
			Metadata: md,
		},
	}
	if c.Protocol != nil {
		op.Create.Protocol = *c.Protocol
	}

	if _, err := tx.Commit(op, nil); err != nil {
		return nil, fmt.Errorf("unable to commit table creation: %w", err)
	}

	if _, err := table.Load(); err != nil {
		return nil, fmt.Errorf("unable to load created table: %w", err)
	}
	return table, nil
}
