package delta

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/deltalog/delta-go/delta/schema"
	"github.com/deltalog/delta-go/util"
)

// Represents an action in the Delta log. The Delta log is an aggregate of all actions performed
// on the table, so the full list of actions is required to properly read a table.
type Action struct {
	// Used by streaming systems to track progress externally with application specific version
	// identifiers.
	Txn *Txn `json:"txn,omitempty"`
	// Adds a file to the table state.
	Add *Add `json:"add,omitempty"`
	// Removes a file from the table state.
	Remove *Remove `json:"remove,omitempty"`
	// Changes the current metadata of the table. Must be present in the first version of a table.
	// Subsequent `metaData` actions completely overwrite previous metadata.
	MetaData *Metadata `json:"metaData,omitempty"`
	// Describes the minimum reader and writer versions required to read or write to the table.
	Protocol *Protocol `json:"protocol,omitempty"`
	// Describes commit provenance information for the table.
	CommitInfo *util.RawJsonMap `json:"commitInfo,omitempty"`
}

// Action used by streaming systems to track progress using application-specific versions to
// enable idempotency.
type Txn struct {
	// A unique identifier for the application performing the transaction.
	AppId string `json:"appId"`
	// An application-specific numeric identifier for this transaction.
	Version DeltaDataTypeVersion `json:"version"`
	// The time when this transaction action was created in milliseconds since the Unix epoch.
	LastUpdated *DeltaDataTypeTimestamp `json:"lastUpdated,omitempty"`
}

// Delta log action that describes a parquet data file that is part of the table.
type Add struct {
	// A relative path, from the root of the table, to a file that should be added to the table
	Path string `json:"path"`
	// A map from partition column to value for this file
	PartitionValues map[string]string `json:"partitionValues"`
	// The size of this file in bytes
	Size DeltaDataTypeLong `json:"size"`
	// The time this file was created, as milliseconds since the epoch
	ModificationTime DeltaDataTypeTimestamp `json:"modificationTime"`
	// When false the file must already be present in the table or the records in the added file
	// must be contained in one or more remove actions in the same version
	DataChange bool `json:"dataChange"`
	// Map containing metadata about this file
	Tags map[string]string `json:"tags,omitempty"`
	// Contains statistics (e.g., count, min/max values for columns) about the data in this file
	Stats *string `json:"stats,omitempty"`
}

// Represents a tombstone (deleted file) in the Delta log.
// This is a top-level action in Delta log entries.
type Remove struct {
	// The path of the file that is removed from the table.
	Path string `json:"path"`
	// The timestamp when the remove was added to table state.
	DeletionTimestamp *DeltaDataTypeTimestamp `json:"deletionTimestamp,omitempty"`
	// Whether data is changed by the remove. A table optimize will report this as false for
	// example, since it adds and removes files by combining many files into one.
	DataChange bool `json:"dataChange"`
	// When true the fields partitionValues, size, and tags are present
	ExtendedFileMetadata *bool `json:"extendedFileMetadata,omitempty"`
	// A map from partition column to value for this file.
	PartitionValues map[string]string `json:"partitionValues,omitempty"`
	// Size of this file in bytes
	Size *DeltaDataTypeLong `json:"size,omitempty"`
	// Map containing metadata about this file
	Tags map[string]string `json:"tags,omitempty"`
}

// Action that describes the metadata of the table.
// This is a top-level action in Delta log entries.
type Metadata struct {
	// Unique identifier for this table
	Id *string `json:"id"`
	// User-provided identifier for this table
	Name *string `json:"name,omitempty"`
	// User-provided description for this table
	Description *string `json:"description,omitempty"`
	// Specification of the encoding for the files stored in the table
	Format *Format `json:"format,omitempty"`
	// Schema of the table
	SchemaString *string `json:"schemaString"`
	// An array containing the names of columns by which the data should be partitioned
	PartitionColumns []string `json:"partitionColumns"`
	// A map containing configuration options for the table
	Configuration map[string]string `json:"configuration"`
	// The time when this metadata action is created, in milliseconds since the Unix epoch
	CreatedTime *DeltaDataTypeTimestamp `json:"createdTime,omitempty"`
}

// Action used to increase the version of the Delta protocol required to read or write to the
// table. At and above the table-features thresholds the optional feature
// lists are the authoritative set of required capabilities; below them the
// version numbers alone imply the feature set (legacy encoding).
type Protocol struct {
	// Minimum version of the Delta read protocol a client must implement to correctly read the
	// table.
	MinReaderVersion DeltaTableTypeInt `json:"minReaderVersion"`
	// Minimum version of the Delta write protocol a client must implement to correctly write to
	// the table.
	MinWriterVersion DeltaTableTypeInt `json:"minWriterVersion"`
	// Table features a reader must implement, present iff minReaderVersion
	// is at the table-features threshold.
	ReaderFeatures *[]string `json:"readerFeatures,omitempty"`
	// Table features a writer must implement, present iff minWriterVersion
	// is at the table-features threshold.
	WriterFeatures *[]string `json:"writerFeatures,omitempty"`
}

type Format struct {
	// Name of the encoding for files in this table.
	Provider string `json:"provider"`
	// A map containing configuration options for the format.
	Options map[string]string `json:"options,omitempty"`
}

// NewFormat returns the default parquet format descriptor.
func NewFormat() *Format {
	return &Format{Provider: "parquet"}
}

type ActionType string

const (
	ActionTypeMetadata   ActionType = "metaData"
	ActionTypeAdd        ActionType = "add"
	ActionTypeRemove     ActionType = "remove"
	ActionTypeTxn        ActionType = "txn"
	ActionTypeProtocol   ActionType = "protocol"
	ActionTypeCommitInfo ActionType = "commitInfo"
	ActionTypeInvalid    ActionType = ""
)

func (a *Action) GetType() ActionType {
	if a.MetaData != nil {
		return ActionTypeMetadata
	}
	if a.Add != nil {
		return ActionTypeAdd
	}
	if a.Remove != nil {
		return ActionTypeRemove
	}
	if a.Txn != nil {
		return ActionTypeTxn
	}
	if a.Protocol != nil {
		return ActionTypeProtocol
	}
	if a.CommitInfo != nil {
		return ActionTypeCommitInfo
	}
	return ActionTypeInvalid
}

// ActionsToJsonLines serializes a commit segment, one action per line.
// The commit log is the interchange format, so it stays on encoding/json;
// commitInfo carries json.RawMessage values that must round-trip exactly.
func ActionsToJsonLines(actions []Action) ([][]byte, error) {
	lines := make([][]byte, len(actions))
	for i := range actions {
		b, err := json.Marshal(&actions[i])
		if err != nil {
			return nil, fmt.Errorf("unable to marshal action: %w", err)
		}
		lines[i] = b
	}
	return lines, nil
}

// ActionsFromJsonLines parses a commit segment back into actions.
func ActionsFromJsonLines(lines [][]byte) ([]Action, error) {
	actions := make([]Action, 0, len(lines))
	for _, l := range lines {
		var a Action
		if err := json.Unmarshal(l, &a); err != nil {
			return nil, fmt.Errorf("unable to unmarshal action: %w", err)
		}
		actions = append(actions, a)
	}
	return actions, nil
}

type CommitInfo struct {
	Version             *DeltaDataTypeVersion   `json:"version,omitempty"`
	Timestamp           *DeltaDataTypeTimestamp `json:"timestamp,omitempty"`
	UserId              *string                 `json:"userId,omitempty"`
	UserName            *string                 `json:"userName,omitempty"`
	Operation           *string                 `json:"operation,omitempty"`
	OperationParameters *map[string]string      `json:"operationParameters,omitempty"`
	ClusterId           *string                 `json:"clusterId,omitempty"`
	ReadVersion         *DeltaDataTypeLong      `json:"readVersion,omitempty"`
	IsolationLevel      *string                 `json:"isolationLevel,omitempty"`
	IsBlindAppend       *bool                   `json:"isBlindAppend,omitempty"`
}

// Operation performed when creating a new log entry with one or more actions.
// This is a key element of the `CommitInfo` action.
type DeltaOperation struct {
	// Represents a Delta `Create` operation.
	// Would usually only create the table, if also data is written,
	// a `Write` operation is more appropriate
	Create *CreateOperation

	// Represents a Delta `Write` operation.
	// Write operations will typically only include `Add` actions.
	Write *WriteOperation

	// Represents a protocol or table-property change.
	SetTableProperties *SetTablePropertiesOperation
}

type CreateOperation struct {
	// The save mode used during the create.
	Mode SaveMode
	// The storage location of the new table
	Location string
	// The min reader and writer protocol versions of the table
	Protocol Protocol
	// Metadata associated with the new table
	Metadata DeltaTableMetaData
}

type WriteOperation struct {
	// The save mode used during the write.
	Mode SaveMode
	// The columns the write is partitioned by.
	PartitionBy *[]string
	// The predicate used during the write.
	Predicate *string
}

type SetTablePropertiesOperation struct {
	// The properties as requested, before negotiation.
	Properties map[string]string
}

func (op *DeltaOperation) GetCommitInfo() util.RawJsonMap {
	commitInfo := make(util.RawJsonMap)
	var opType string
	if op.Create != nil {
		opType = "delta-go.Create"
	}
	if op.Write != nil {
		opType = "delta-go.Write"
	}
	if op.SetTableProperties != nil {
		opType = "delta-go.SetTableProperties"
	}

	commitInfo.MustUpsert("operation", opType)
	commitInfo.MustUpsert("timestamp", time.Now().UnixMilli())

	return commitInfo
}

// The SaveMode used when performing a DeltaOperation
type SaveMode int

const (
	// Files will be appended to the target location.
	SaveModeAppend SaveMode = iota
	// The target location will be overwritten.
	SaveModeOverwrite
	// If files exist for the target, the operation must fail.
	SaveModeErrorIfExists
	// If files exist for the target, the operation must not proceed or change any data.
	SaveModeIgnore
)

func decodePath(path string) (string, error) {
	decoded, err := url.QueryUnescape(path)
	if err != nil {
		return "", fmt.Errorf("unable to decode path: %w", err)
	}
	return decoded, nil
}

func (x *Add) PathDecoded() error {
	p, err := decodePath(x.Path)
	if err != nil {
		return err
	}
	x.Path = p
	return nil
}

func (x *Remove) PathDecoded() error {
	p, err := decodePath(x.Path)
	if err != nil {
		return err
	}
	x.Path = p
	return nil
}

func (m *Metadata) TryConvertToDeltaTableMetaData() (*DeltaTableMetaData, error) {
	s, err := m.GetSchema()
	if err != nil {
		return nil, fmt.Errorf("unable to get schema: %w", err)
	}
	return &DeltaTableMetaData{
		Id:               m.Id,
		Name:             m.Name,
		Description:      m.Description,
		Format:           m.Format,
		Schema:           s,
		PartitionColumns: m.PartitionColumns,
		CreatedTime:      m.CreatedTime,
		Configuration:    m.Configuration,
	}, nil
}

// ToMetadataAction converts table metadata back into its log action form.
func (m *DeltaTableMetaData) ToMetadataAction() (*Metadata, error) {
	var schemaString *string
	if m.Schema != nil {
		b, err := json.Marshal(m.Schema)
		if err != nil {
			return nil, fmt.Errorf("unable to marshal schema: %w", err)
		}
		s := string(b)
		schemaString = &s
	}
	return &Metadata{
		Id:               m.Id,
		Name:             m.Name,
		Description:      m.Description,
		Format:           m.Format,
		SchemaString:     schemaString,
		PartitionColumns: m.PartitionColumns,
		Configuration:    m.Configuration,
		CreatedTime:      m.CreatedTime,
	}, nil
}

func (m *Metadata) GetSchema() (*schema.Schema, error) {
	if m.SchemaString == nil {
		return nil, nil
	}
	var s schema.Schema
	if err := json.Unmarshal([]byte(*m.SchemaString), &s); err != nil {
		return nil, fmt.Errorf("unable to unmarshal schema: %w", err)
	}
	return &s, nil
}
