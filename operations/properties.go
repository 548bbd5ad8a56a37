package operations

import (
	"fmt"

	"github.com/deltalog/delta-go/delta"
)

// SetPropertiesCommand applies table property changes on top of the current
// metadata. Protocol override and feature keys are consumed by negotiation
// and may raise the table protocol in the same commit.
type SetPropertiesCommand struct {
	Table      *delta.DeltaTable
	Properties map[string]string
}

// Execute commits the property change and refreshes the table state,
// returning the new version.
func (c *SetPropertiesCommand) Execute() (delta.DeltaDataTypeVersion, error) {
	md, err := c.Table.GetMetadata()
	if err != nil {
		return -1, err
	}

	newMd := *md
	configuration := make(map[string]string, len(md.Configuration)+len(c.Properties))
	for k, v := range md.Configuration {
		configuration[k] = v
	}
	for k, v := range c.Properties {
		configuration[k] = v
	}
	newMd.Configuration = configuration

	action, err := newMd.ToMetadataAction()
	if err != nil {
		return -1, fmt.Errorf("unable to build metadata action: %w", err)
	}

	tx := c.Table.StartTransaction(nil)
	tx.AddAction(delta.Action{MetaData: action})

	op := &delta.DeltaOperation{
		SetTableProperties: &delta.SetTablePropertiesOperation{Properties: c.Properties},
	}

	version, err := tx.Commit(op, nil)
	if err != nil {
		return -1, err
	}

	if err := c.Table.Update(); err != nil {
		return -1, fmt.Errorf("unable to refresh table after commit: %w", err)
	}
	return version, nil
}
