package delta

import (
	"fmt"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/deltalog/delta-go/util"
)

// DeltaTableState is the materialized view of a table at one log version.
// It is produced by folding action segments in order: later protocol and
// metaData actions replace earlier ones, file actions accumulate into the
// live file set.
type DeltaTableState struct {
	// A remove action should remain in the state of the table as a tombstone until it has expired.
	// A tombstone expires when the creation timestamp of the delta file exceeds the expiration.
	Tombstones               map[string]Remove
	Files                    []Add
	CommitInfos              []util.RawJsonMap
	AppTransactionVersion    map[string]DeltaDataTypeVersion
	Protocol                 Protocol
	CurrentMetadata          *DeltaTableMetaData
	TombstoneRetentionMillis DeltaDataTypeLong
	LogRetentionMillis       DeltaDataTypeLong
	EnableExpiredLogCleanup  bool

	hasProtocol bool
}

func NewDeltaTableState() *DeltaTableState {
	return &DeltaTableState{
		Tombstones:            make(map[string]Remove),
		Files:                 make([]Add, 0),
		CommitInfos:           make([]util.RawJsonMap, 0),
		AppTransactionVersion: make(map[string]DeltaDataTypeVersion),
	}
}

func NewDeltaTableStateFromActions(actions []Action) (*DeltaTableState, error) {
	state := NewDeltaTableState()
	for _, a := range actions {
		if err := state.ProcessAction(a, true, true); err != nil {
			return nil, fmt.Errorf("error processing action: %w", err)
		}
	}
	return state, nil
}

// HasProtocol reports whether any protocol action has been folded in. A
// state without one is unusable and must fail recovery.
func (state *DeltaTableState) HasProtocol() bool {
	return state.hasProtocol
}

// clone returns a copy with independent maps and slices. Advancing the
// table replaces its state with a merged clone, so a caller holding the
// previous state keeps a frozen view.
func (state *DeltaTableState) clone() *DeltaTableState {
	next := &DeltaTableState{
		Tombstones:               make(map[string]Remove, len(state.Tombstones)),
		Files:                    slices.Clone(state.Files),
		CommitInfos:              slices.Clone(state.CommitInfos),
		AppTransactionVersion:    make(map[string]DeltaDataTypeVersion, len(state.AppTransactionVersion)),
		Protocol:                 state.Protocol,
		CurrentMetadata:          state.CurrentMetadata,
		TombstoneRetentionMillis: state.TombstoneRetentionMillis,
		LogRetentionMillis:       state.LogRetentionMillis,
		EnableExpiredLogCleanup:  state.EnableExpiredLogCleanup,
		hasProtocol:              state.hasProtocol,
	}
	for path, remove := range state.Tombstones {
		next.Tombstones[path] = remove
	}
	for appId, version := range state.AppTransactionVersion {
		next.AppTransactionVersion[appId] = version
	}
	return next
}

func (state *DeltaTableState) Merge(newState *DeltaTableState, requireTombstones, requireFiles bool) {
	// remove deleted files from new state
	if len(newState.Tombstones) > 0 {
		newFiles := make([]Add, 0, len(state.Files))
		for _, add := range state.Files {
			if _, isDeleted := newState.Tombstones[add.Path]; !isDeleted {
				newFiles = append(newFiles, add)
			}
		}
		state.Files = newFiles
	}

	if requireTombstones && requireFiles {
		for path, del := range newState.Tombstones {
			state.Tombstones[path] = del
		}

		for _, add := range newState.Files {
			delete(state.Tombstones, add.Path)
		}
	}

	if requireFiles {
		state.Files = append(state.Files, newState.Files...)
	}

	if newState.hasProtocol {
		state.Protocol = newState.Protocol
		state.hasProtocol = true
	}

	if newState.CurrentMetadata != nil {
		state.TombstoneRetentionMillis = newState.TombstoneRetentionMillis
		state.LogRetentionMillis = newState.LogRetentionMillis
		state.EnableExpiredLogCleanup = newState.EnableExpiredLogCleanup
		state.CurrentMetadata = newState.CurrentMetadata
	}

	for appId, version := range newState.AppTransactionVersion {
		state.AppTransactionVersion[appId] = version
	}

	if len(newState.CommitInfos) > 0 {
		state.CommitInfos = append(state.CommitInfos, newState.CommitInfos...)
	}
}

func (state *DeltaTableState) ProcessAction(action Action, requireTombstones, requireFiles bool) error {
	switch action.GetType() {
	case ActionTypeAdd:
		if requireFiles {
			if err := action.Add.PathDecoded(); err != nil {
				return err
			}
			state.Files = append(state.Files, *action.Add)
		}
	case ActionTypeRemove:
		if requireTombstones && requireFiles {
			if err := action.Remove.PathDecoded(); err != nil {
				return err
			}
			state.Tombstones[action.Remove.Path] = *action.Remove
		}
	case ActionTypeProtocol:
		state.Protocol = *action.Protocol
		state.hasProtocol = true
	case ActionTypeMetadata:
		md, err := action.MetaData.TryConvertToDeltaTableMetaData()
		if err != nil {
			return fmt.Errorf("unable to convert action metadata: %w", err)
		}
		md.Configuration = stripProtocolConfigKeys(md.Configuration)

		tombstoneRetention, err := CONFIG_TOMBSTONE_RETENTION.GetDurationFromMetadata(md)
		if err != nil {
			return fmt.Errorf("unable to parse tombstone retention: %w", err)
		}
		logRetention, err := CONFIG_LOG_RETENTION.GetDurationFromMetadata(md)
		if err != nil {
			return fmt.Errorf("unable to parse log retention: %w", err)
		}
		enableExpiredLogCleanup, err := CONFIG_ENABLE_EXPIRED_LOG_CLEANUP.GetBoolFromMetadata(md)
		if err != nil {
			return fmt.Errorf("unable to parse enable expired log cleanup: %w", err)
		}

		state.TombstoneRetentionMillis = tombstoneRetention.Milliseconds()
		state.LogRetentionMillis = logRetention.Milliseconds()
		state.EnableExpiredLogCleanup = enableExpiredLogCleanup

		state.CurrentMetadata = md
	case ActionTypeTxn:
		state.AppTransactionVersion[action.Txn.AppId] = action.Txn.Version
	case ActionTypeCommitInfo:
		state.CommitInfos = append(state.CommitInfos, *action.CommitInfo)
	}
	return nil
}

// TableProperties derives the read-only property listing: the protocol
// versions plus one delta.feature.<name>=enabled entry per explicit feature
// descriptor. These keys never live in the persisted configuration; they
// are synthesized from the protocol at read time.
func (state *DeltaTableState) TableProperties() map[string]string {
	props := map[string]string{
		ConfigKeyMinReaderVersion: fmt.Sprint(state.Protocol.MinReaderVersion),
		ConfigKeyMinWriterVersion: fmt.Sprint(state.Protocol.MinWriterVersion),
	}
	for _, set := range []*[]string{state.Protocol.ReaderFeatures, state.Protocol.WriterFeatures} {
		if set == nil {
			continue
		}
		for _, name := range *set {
			props[FeatureConfigPrefix+name] = "enabled"
		}
	}
	return props
}

// stripProtocolConfigKeys drops protocol override and feature keys from a
// configuration map before it is exposed or persisted; those surface only
// through TableProperties.
func stripProtocolConfigKeys(configuration map[string]string) map[string]string {
	cleaned := make(map[string]string, len(configuration))
	for k, v := range configuration {
		if strings.EqualFold(k, ConfigKeyMinReaderVersion) ||
			strings.EqualFold(k, ConfigKeyMinWriterVersion) ||
			strings.HasPrefix(strings.ToLower(k), strings.ToLower(FeatureConfigPrefix)) {
			continue
		}
		cleaned[k] = v
	}
	return cleaned
}
