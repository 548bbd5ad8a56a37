package delta

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/deltalog/delta-go/delta/schema"
	"github.com/deltalog/delta-go/storage"
)

// In memory representation of a Delta table. One DeltaTable instance owns
// the cached latest state for its path; callers share the handle rather
// than relying on hidden process-wide caching.
type DeltaTable struct {
	// The version of the table as of the most recent loaded Delta log entry.
	Version DeltaDataTypeVersion
	// The URI the DeltaTable was loaded from.
	TableUri string
	// the load options used during load
	Config DeltaTableConfig

	State DeltaTableState

	Storage storage.StorageBackend
	Log     storage.LogStore

	LastCheckPoint *CheckPoint
	LogUri         string

	logger *slog.Logger
}

type DeltaTableMetaData struct {
	// Unique identifier for this table
	Id *string
	// User-provided identifier for this table
	Name *string
	// User-provided description for this table
	Description *string
	// Specification of the encoding for the files stored in the table
	Format *Format
	// Schema of the table
	Schema *schema.Schema
	// An array containing the names of columns by which the data should be partitioned
	PartitionColumns []string
	// The time when this metadata action is created, in milliseconds since the Unix epoch
	CreatedTime *DeltaDataTypeTimestamp
	// table properties
	Configuration map[string]string
}

type DeltaTableConfig struct {
	// Indicates whether our use case requires tracking tombstones.
	// This defaults to `true`
	//
	// Read-only applications never require tombstones. Tombstones
	// are only required when writing checkpoints, so even many writers
	// may want to skip them.
	RequireTombstones bool

	// Indicates whether DeltaTable should track files.
	// This defaults to `true`
	//
	// Some append-only applications might have no need of tracking any files.
	// Hence, DeltaTable will be loaded with significant memory reduction.
	RequireFiles bool

	// Session-scoped default protocol versions applied when a transaction
	// negotiates a protocol and the request does not pin one.
	SessionDefaults SessionDefaults

	Logger *slog.Logger
}

type DeltaTableLoadOptions struct {
	// table root uri
	TableUri string
	// backend to access storage system
	StorageBackend storage.StorageBackend
	// specify the version we are going to load: a time stamp, a version, or just the newest
	// available version
	Version DeltaVersion
	// see DeltaTableConfig
	RequireTombstones bool
	// see DeltaTableConfig
	RequireFiles bool

	SessionDefaults SessionDefaults

	Logger *slog.Logger
}

type DeltaTableBuilder struct {
	Options DeltaTableLoadOptions
}

type DeltaVersion struct {
	// load the newest version
	Newest bool
	// specify the version to load
	Version *DeltaDataTypeVersion
	// specify the timestamp in UTC
	Timestamp *time.Time
}

func NewDefaultDeltaVersion() DeltaVersion {
	return DeltaVersion{
		Newest: true,
	}
}

type Guid = string
type DeltaDataTypeDuration = time.Duration
type DeltaDataTypeLong = int64
type DeltaDataTypeVersion = DeltaDataTypeLong
type DeltaDataTypeTimestamp = DeltaDataTypeLong
type DeltaTableTypeInt = int32

func OpenTable(tableUri string) (*DeltaTable, error) {
	builder, err := NewDeltaTableBuilderFromUri(tableUri)
	if err != nil {
		return nil, fmt.Errorf("unable to open delta table: %w", err)
	}
	table, err := builder.Load()
	if err != nil {
		return nil, fmt.Errorf("unable to load delta table: %w", err)
	}
	return table, nil
}

func NewDeltaTableBuilderFromUri(tableUri string, opts ...DeltaTableBuilderOption) (*DeltaTableBuilder, error) {
	backend, err := storage.NewBackendForUri(tableUri)
	if err != nil {
		return nil, fmt.Errorf("unable to create backend for uri: %w", err)
	}
	builder := &DeltaTableBuilder{
		DeltaTableLoadOptions{
			TableUri:          tableUri,
			StorageBackend:    backend,
			RequireTombstones: true,
			RequireFiles:      true,
			Version:           NewDefaultDeltaVersion(),
		},
	}
	for _, o := range opts {
		o(builder)
	}
	return builder, nil
}

type DeltaTableBuilderOption = func(*DeltaTableBuilder)

// Sets `RequireTombstones=false` to the builder
func WithoutTombstones() DeltaTableBuilderOption {
	return func(d *DeltaTableBuilder) {
		d.Options.RequireTombstones = false
	}
}

// Sets `RequireFiles=false` to the builder
func WithoutFiles() DeltaTableBuilderOption {
	return func(d *DeltaTableBuilder) {
		d.Options.RequireFiles = false
	}
}

// Sets `version` to the builder
func WithVersion(version DeltaDataTypeVersion) DeltaTableBuilderOption {
	return func(d *DeltaTableBuilder) {
		d.Options.Version.Version = &version
	}
}

// specify the timestamp given as ISO-8601/RFC-3339 timestamp
func WithDatestring(dateString string) (DeltaTableBuilderOption, error) {
	t, err := time.Parse(time.RFC3339, dateString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse time from input '%s': %w", dateString, err)
	}
	return WithTimestamp(t), nil
}

// specify a timestamp
func WithTimestamp(timestamp time.Time) DeltaTableBuilderOption {
	return func(d *DeltaTableBuilder) {
		d.Options.Version.Timestamp = &timestamp
	}
}

// explicitly set a backend (override backend derived from `table_uri`)
func WithStorageBackend(storage storage.StorageBackend) DeltaTableBuilderOption {
	return func(d *DeltaTableBuilder) {
		d.Options.StorageBackend = storage
	}
}

// set the session default protocol versions
func WithSessionDefaults(defaults SessionDefaults) DeltaTableBuilderOption {
	return func(d *DeltaTableBuilder) {
		d.Options.SessionDefaults = defaults
	}
}

// set a structured logger, defaults to slog.Default()
func WithLogger(logger *slog.Logger) DeltaTableBuilderOption {
	return func(d *DeltaTableBuilder) {
		d.Options.Logger = logger
	}
}

func (b *DeltaTableBuilder) Load() (*DeltaTable, error) {
	config := DeltaTableConfig{
		RequireTombstones: b.Options.RequireTombstones,
		RequireFiles:      b.Options.RequireFiles,
		SessionDefaults:   b.Options.SessionDefaults,
		Logger:            b.Options.Logger,
	}

	table, err := NewDeltaTable(b.Options.TableUri, b.Options.StorageBackend, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create DeltaTable: %w", err)
	}

	return table.Load()
}

func NewDeltaTable(tableUri string, storageBackend storage.StorageBackend, config DeltaTableConfig) (*DeltaTable, error) {
	if err := config.SessionDefaults.Validate(); err != nil {
		return nil, err
	}

	tableUri = storageBackend.TrimPath(tableUri)
	logUriNormalized := storageBackend.JoinPath(tableUri, "_delta_log")

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	table := &DeltaTable{
		Version:        -1,
		State:          *NewDeltaTableState(),
		Storage:        storageBackend,
		Log:            storage.NewLogStore(storageBackend, logUriNormalized),
		TableUri:       tableUri,
		Config:         config,
		LastCheckPoint: nil,
		LogUri:         logUriNormalized,
		logger:         logger.With("table", tableUri),
	}

	return table, nil
}

// EnsureLogDirectoryExists creates the log directory if it is missing.
// Idempotent, no-op when already present.
func (d *DeltaTable) EnsureLogDirectoryExists() error {
	if err := d.Storage.CreateDir(d.LogUri); err != nil {
		return fmt.Errorf("unable to create log directory: %w", err)
	}
	return nil
}

func (d *DeltaTable) Load() (*DeltaTable, error) {
	d.LastCheckPoint = nil
	d.Version = -1
	d.State = *NewDeltaTableState()
	if err := d.Update(); err != nil {
		return nil, fmt.Errorf("unable to update state: %w", err)
	}

	return d, nil
}

// Updates the DeltaTable to the most recent state committed to the transaction log by
// loading the last checkpoint and incrementally applying each version since.
func (d *DeltaTable) Update() error {
	cp, err := d.GetLastCheckpoint()
	if err != nil {
		return fmt.Errorf("unable to update: %w", err)
	}

	if cp == nil || cp.Equal(d.LastCheckPoint) {
		if err := d.UpdateIncremental(); err != nil {
			return err
		}
	} else {
		d.LastCheckPoint = cp
		if err := d.RestoreCheckPoint(cp); err != nil {
			return fmt.Errorf("unable to restore checkpoint: %w", err)
		}
		d.Version = cp.Version
		if err := d.UpdateIncremental(); err != nil {
			return err
		}
	}

	return clientSupports(d.State.Protocol)
}

// Updates the DeltaTable to the latest version by incrementally applying newer versions.
// It assumes that the table is already updated to the current version `d.Version`.
func (d *DeltaTable) UpdateIncremental() error {
	for {
		peekCommit, err := d.PeekNextCommit(d.Version)
		if err != nil {
			return fmt.Errorf("unable to peek next commit: %w", err)
		}
		if peekCommit.UpToDate {
			break
		}

		if err := d.ApplyActions(peekCommit.New.Version, peekCommit.New.Actions); err != nil {
			return err
		}
		d.logger.Debug("applied log segment", "version", d.Version)
	}

	if d.Version == -1 {
		return &ErrStateRecovery{
			TableUri: d.TableUri,
			Reason:   "no snapshot or version 0 found, perhaps the table is an empty dir",
		}
	}

	return nil
}

// PeekCommit is the next commit available from underlying storage, if any.
type PeekCommit struct {
	// The next commit version and associated actions
	New struct {
		Version DeltaDataTypeVersion
		Actions []Action
	}
	// Provided version is up to date
	UpToDate bool
}

// Get the list of actions for the next commit
func (d *DeltaTable) PeekNextCommit(currentVersion DeltaDataTypeVersion) (*PeekCommit, error) {
	nextVersion := currentVersion + 1
	commitUri := d.CommitUriFromVersion(nextVersion)

	lines, err := d.Log.Read(commitUri)
	var notFound *storage.ErrNotFound
	if errors.As(err, &notFound) {
		return &PeekCommit{UpToDate: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to read commit: %w", err)
	}

	actions, err := ActionsFromJsonLines(lines)
	if err != nil {
		return nil, fmt.Errorf("unable to decode commit json: %w", err)
	}

	peek := &PeekCommit{}
	peek.New.Version = nextVersion
	peek.New.Actions = actions
	return peek, nil
}

func (d *DeltaTable) ApplyActions(newVersion DeltaDataTypeVersion, actions []Action) error {
	if d.Version+1 != newVersion {
		return fmt.Errorf("version mismatch, old version is %v, new version is %v", d.Version, newVersion)
	}

	state, err := NewDeltaTableStateFromActions(actions)
	if err != nil {
		return fmt.Errorf("unable to create state from actions: %w", err)
	}

	if newVersion == 0 && !state.HasProtocol() {
		return &ErrStateRecovery{
			TableUri: d.TableUri,
			Reason:   "version 0 contains no protocol action",
		}
	}

	// Merge into a clone and swap, so snapshots captured before the update
	// stay frozen.
	next := d.State.clone()
	next.Merge(state, d.Config.RequireTombstones, d.Config.RequireFiles)
	d.State = *next
	d.Version = newVersion

	return nil
}

func (d *DeltaTable) CommitUriFromVersion(version DeltaDataTypeVersion) string {
	return d.Storage.JoinPath(d.LogUri, storage.CommitPathForVersion(version))
}

// GetMetadata returns the current table metadata, or an error when the
// table has none yet.
func (d *DeltaTable) GetMetadata() (*DeltaTableMetaData, error) {
	if d.State.CurrentMetadata == nil {
		return nil, &ErrStateRecovery{TableUri: d.TableUri, Reason: "table has no metadata"}
	}
	return d.State.CurrentMetadata, nil
}

// TableProperties derives the read-only protocol property listing for the
// current state.
func (d *DeltaTable) TableProperties() map[string]string {
	return d.State.TableProperties()
}

// StartTransaction begins a commit attempt against the current state. It
// never blocks and takes no lock; conflicts are resolved at commit time by
// the log store's create-if-absent write.
func (d *DeltaTable) StartTransaction(opts *DeltaTransactionOptions) *DeltaTransaction {
	return NewDeltaTransaction(d, opts)
}
