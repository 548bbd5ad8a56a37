package delta

import (
	"encoding/json"
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/deltalog/delta-go/storage"
)

// Checkpoint rows carry plain action structs, no raw JSON, so the faster
// codec is safe here.
var checkpointJson = jsoniter.ConfigCompatibleWithStandardLibrary

// CheckPoint is the content of the _last_checkpoint pointer file.
type CheckPoint struct {
	// Delta table version
	Version DeltaDataTypeVersion `json:"version"` // 20 digits decimals
	Size    DeltaDataTypeLong    `json:"size"`
	Parts   *uint32              `json:"parts,omitempty"` // 10 digits decimals
}

func (c *CheckPoint) Equal(other *CheckPoint) bool {
	if c == nil || other == nil {
		return false
	}
	if (c.Parts == nil) != (other.Parts == nil) {
		return false
	}
	if c.Parts != nil && *c.Parts != *other.Parts {
		return false
	}
	return c.Version == other.Version && c.Size == other.Size
}

// checkpointRecord is one action row in a checkpoint parquet file. Each
// column holds the JSON encoding of its action kind; exactly one column is
// set per row. Checkpoints are only consumed by this implementation, the
// commit segments remain the interchange format.
type checkpointRecord struct {
	Txn      *string `parquet:"name=txn, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Add      *string `parquet:"name=add, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Remove   *string `parquet:"name=remove, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	MetaData *string `parquet:"name=metaData, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Protocol *string `parquet:"name=protocol, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
}

func newCheckpointRecord(a Action) (checkpointRecord, error) {
	var rec checkpointRecord
	set := func(target **string, v interface{}) error {
		b, err := checkpointJson.Marshal(v)
		if err != nil {
			return fmt.Errorf("unable to marshal checkpoint record: %w", err)
		}
		s := string(b)
		*target = &s
		return nil
	}

	switch a.GetType() {
	case ActionTypeTxn:
		return rec, set(&rec.Txn, a.Txn)
	case ActionTypeAdd:
		return rec, set(&rec.Add, a.Add)
	case ActionTypeRemove:
		return rec, set(&rec.Remove, a.Remove)
	case ActionTypeMetadata:
		return rec, set(&rec.MetaData, a.MetaData)
	case ActionTypeProtocol:
		return rec, set(&rec.Protocol, a.Protocol)
	}
	return rec, fmt.Errorf("action type %q cannot appear in a checkpoint", a.GetType())
}

func (rec *checkpointRecord) asAction() (Action, error) {
	var a Action
	parse := func(data *string, target interface{}) error {
		if err := checkpointJson.Unmarshal([]byte(*data), target); err != nil {
			return fmt.Errorf("unable to unmarshal checkpoint record: %w", err)
		}
		return nil
	}

	switch {
	case rec.Txn != nil:
		a.Txn = &Txn{}
		return a, parse(rec.Txn, a.Txn)
	case rec.Add != nil:
		a.Add = &Add{}
		return a, parse(rec.Add, a.Add)
	case rec.Remove != nil:
		a.Remove = &Remove{}
		return a, parse(rec.Remove, a.Remove)
	case rec.MetaData != nil:
		a.MetaData = &Metadata{}
		return a, parse(rec.MetaData, a.MetaData)
	case rec.Protocol != nil:
		a.Protocol = &Protocol{}
		return a, parse(rec.Protocol, a.Protocol)
	}
	return a, fmt.Errorf("checkpoint row carries no action")
}

// checkpointActions flattens the state into the ordered action list a
// checkpoint carries: protocol, metadata, app transactions, tombstones,
// live files.
func (state *DeltaTableState) checkpointActions() ([]Action, error) {
	actions := make([]Action, 0, len(state.Files)+len(state.Tombstones)+2)

	if state.hasProtocol {
		p := state.Protocol
		actions = append(actions, Action{Protocol: &p})
	}
	if state.CurrentMetadata != nil {
		md, err := state.CurrentMetadata.ToMetadataAction()
		if err != nil {
			return nil, err
		}
		actions = append(actions, Action{MetaData: md})
	}
	for appId, version := range state.AppTransactionVersion {
		actions = append(actions, Action{Txn: &Txn{AppId: appId, Version: version}})
	}
	for _, remove := range state.Tombstones {
		r := remove
		actions = append(actions, Action{Remove: &r})
	}
	for _, add := range state.Files {
		a := add
		actions = append(actions, Action{Add: &a})
	}
	return actions, nil
}

// CreateCheckpoint writes a single-part parquet checkpoint of the table's
// current state and updates the _last_checkpoint pointer.
func CreateCheckpoint(table *DeltaTable) (*CheckPoint, error) {
	actions, err := table.State.checkpointActions()
	if err != nil {
		return nil, fmt.Errorf("unable to collect checkpoint actions: %w", err)
	}

	pf := buffer.NewBufferFile()
	pw, err := writer.NewParquetWriter(pf, new(checkpointRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("unable to create parquet writer: %w", err)
	}
	for _, a := range actions {
		rec, err := newCheckpointRecord(a)
		if err != nil {
			return nil, err
		}
		if err := pw.Write(rec); err != nil {
			return nil, fmt.Errorf("unable to write checkpoint row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("unable to finalize checkpoint: %w", err)
	}

	data := pf.Bytes()
	path := table.Storage.JoinPath(table.LogUri, fmt.Sprintf("%020d.checkpoint.parquet", table.Version))
	if err := table.Storage.PutObj(path, data); err != nil {
		return nil, fmt.Errorf("unable to write checkpoint file: %w", err)
	}

	cp := &CheckPoint{
		Version: table.Version,
		Size:    int64(len(actions)),
	}
	cpBytes, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("unable to marshal checkpoint pointer: %w", err)
	}
	lastCheckpointPath := table.Storage.JoinPath(table.LogUri, "_last_checkpoint")
	if err := table.Storage.PutObj(lastCheckpointPath, cpBytes); err != nil {
		return nil, fmt.Errorf("unable to write _last_checkpoint: %w", err)
	}

	table.LastCheckPoint = cp
	table.logger.Info("wrote checkpoint", "version", cp.Version, "actions", cp.Size)
	return cp, nil
}

func (d *DeltaTable) GetLastCheckpoint() (*CheckPoint, error) {
	lastCheckpointPath := d.Storage.JoinPath(d.LogUri, "_last_checkpoint")
	data, err := d.Storage.GetObj(lastCheckpointPath)
	var notFound *storage.ErrNotFound
	if errors.As(err, &notFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to read _last_checkpoint: %w", err)
	}

	var cp CheckPoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("unable to unmarshal checkpoint: %w", err)
	}

	return &cp, nil
}

func (d *DeltaTable) GetCheckPointDataPaths(checkPoint *CheckPoint) []string {
	prefixPattern := fmt.Sprintf("%020d", checkPoint.Version)
	prefix := d.Storage.JoinPath(d.LogUri, prefixPattern)

	if checkPoint.Parts == nil {
		return []string{fmt.Sprintf("%s.checkpoint.parquet", prefix)}
	}

	parts := int(*checkPoint.Parts)
	dataPaths := make([]string, parts)
	for i := 0; i < parts; i++ {
		dataPaths[i] = fmt.Sprintf("%s.checkpoint.%010d.%010d.parquet", prefix, i+1, parts)
	}

	return dataPaths
}

func (d *DeltaTable) RestoreCheckPoint(checkpoint *CheckPoint) error {
	state, err := NewDeltaTableStateFromCheckPoint(d, checkpoint)
	if err != nil {
		return fmt.Errorf("unable to restore checkpoint: %w", err)
	}
	d.State = *state
	return nil
}

func NewDeltaTableStateFromCheckPoint(table *DeltaTable, checkPoint *CheckPoint) (*DeltaTableState, error) {
	checkPointDataPaths := table.GetCheckPointDataPaths(checkPoint)

	state := NewDeltaTableState()
	for _, p := range checkPointDataPaths {
		data, err := table.Storage.GetObj(p)
		if err != nil {
			return nil, fmt.Errorf("unable to get checkpoint data: %w", err)
		}

		pf := buffer.NewBufferFileFromBytes(data)
		pr, err := reader.NewParquetReader(pf, new(checkpointRecord), 4)
		if err != nil {
			return nil, fmt.Errorf("unable to create parquet reader: %w", err)
		}

		records := make([]checkpointRecord, int(pr.GetNumRows()))
		if err := pr.Read(&records); err != nil {
			return nil, fmt.Errorf("unable to read checkpoint rows: %w", err)
		}
		pr.ReadStop()

		for i := range records {
			action, err := records[i].asAction()
			if err != nil {
				return nil, err
			}
			if err := state.ProcessAction(action, table.Config.RequireTombstones, table.Config.RequireFiles); err != nil {
				return nil, fmt.Errorf("error processing checkpoint action: %w", err)
			}
		}
	}
	return state, nil
}
