package delta

import (
	"errors"
	"fmt"

	"github.com/deltalog/delta-go/storage"
	"github.com/deltalog/delta-go/util"
)

// Options for customizing behavior of a DeltaTransaction.
type DeltaTransactionOptions struct {
	// Session defaults override the table handle's defaults for this
	// transaction when set.
	SessionDefaults *SessionDefaults
}

// DeltaTransaction is a single optimistic commit attempt. It captures the
// table's state at creation time as its read snapshot, accumulates proposed
// actions, and on Commit performs exactly one conflict-checked atomic
// append at readVersion+1. There is no internal retry: when another writer
// wins the version, the error surfaces and retry policy stays with the
// caller, who must start over from a fresh transaction.
type DeltaTransaction struct {
	DeltaTable *DeltaTable
	Actions    []Action
	Options    DeltaTransactionOptions

	// Version and protocol captured when the transaction started.
	ReadVersion  DeltaDataTypeVersion
	ReadProtocol Protocol

	readHasProtocol bool
}

func NewDeltaTransaction(table *DeltaTable, options *DeltaTransactionOptions) *DeltaTransaction {
	opts := DeltaTransactionOptions{}
	if options != nil {
		opts = *options
	}
	return &DeltaTransaction{
		DeltaTable:      table,
		Actions:         make([]Action, 0),
		Options:         opts,
		ReadVersion:     table.Version,
		ReadProtocol:    table.State.Protocol,
		readHasProtocol: table.State.HasProtocol(),
	}
}

func (tx *DeltaTransaction) AddAction(action Action) {
	tx.Actions = append(tx.Actions, action)
}

func (tx *DeltaTransaction) AddActions(actions []Action) {
	tx.Actions = append(tx.Actions, actions...)
}

// PreparedCommit is a commit batch ready for the atomic write.
type PreparedCommit struct {
	Version DeltaDataTypeVersion
	Uri     string
	Actions []Action
}

// Commit validates the proposed actions and attempts the atomic
// create-if-absent write at readVersion+1. It returns the new version on
// success. On failure nothing was committed; once the write succeeds the
// commit is durable and final for that version. The caller is expected to
// call Update on the table to observe the result.
func (tx *DeltaTransaction) Commit(operation *DeltaOperation, appMetadata map[string]interface{}) (DeltaDataTypeVersion, error) {
	prepared, err := tx.PrepareCommit(operation, appMetadata)
	if err != nil {
		return -1, err
	}
	return tx.TryCommit(prepared)
}

// PrepareCommit finalizes the action batch: it resolves the transaction's
// protocol (explicit protocol action, or negotiated from metadata
// configuration changes), fails on downgrades before any I/O, strips
// protocol override keys from persisted configuration and prepends commit
// provenance.
func (tx *DeltaTransaction) PrepareCommit(operation *DeltaOperation, appMetadata map[string]interface{}) (*PreparedCommit, error) {
	target := tx.ReadVersion + 1
	actions := make([]Action, len(tx.Actions))
	copy(actions, tx.Actions)

	proposed := tx.findProtocolAction(actions)
	if proposed == nil {
		negotiated, rewritten, err := tx.negotiateFromMetadata(actions)
		if err != nil {
			return nil, err
		}
		actions = rewritten
		if negotiated != nil {
			actions = append(actions, Action{Protocol: negotiated})
			proposed = negotiated
		}
	} else {
		// Override keys are consumed by the explicit protocol action and
		// must not persist. Rewrite a copy; the caller keeps its actions.
		for i := range actions {
			if actions[i].MetaData != nil {
				md := *actions[i].MetaData
				md.Configuration = stripProtocolConfigKeys(md.Configuration)
				actions[i].MetaData = &md
			}
		}
	}

	if proposed != nil && tx.readHasProtocol && !tx.ReadProtocol.CanUpgradeTo(*proposed) {
		return nil, &ErrProtocolDowngrade{From: tx.ReadProtocol, To: *proposed}
	}
	if proposed != nil {
		if err := clientSupports(*proposed); err != nil {
			return nil, err
		}
	}

	commitInfo := tx.buildCommitInfo(operation, appMetadata)
	actions = append([]Action{{CommitInfo: &commitInfo}}, actions...)

	return &PreparedCommit{
		Version: target,
		Uri:     tx.DeltaTable.CommitUriFromVersion(target),
		Actions: actions,
	}, nil
}

// TryCommit performs the single atomic write. When another writer already
// created the target version, the winning segment is read back once to
// diagnose the conflict: a winner that changed protocol or metadata is an
// ErrProtocolChanged, anything else an ErrVersionAlreadyExists the caller
// may rebase on.
func (tx *DeltaTransaction) TryCommit(prepared *PreparedCommit) (DeltaDataTypeVersion, error) {
	lines, err := ActionsToJsonLines(prepared.Actions)
	if err != nil {
		return -1, err
	}

	err = tx.DeltaTable.Log.Write(prepared.Uri, lines, false)
	var exists *storage.ErrAlreadyExists
	if errors.As(err, &exists) {
		return -1, tx.diagnoseConflict(prepared.Version)
	}
	if err != nil {
		return -1, fmt.Errorf("unable to write commit: %w", err)
	}

	tx.DeltaTable.logger.Info("committed log segment", "version", prepared.Version, "actions", len(prepared.Actions))
	return prepared.Version, nil
}

func (tx *DeltaTransaction) diagnoseConflict(version DeltaDataTypeVersion) error {
	lines, err := tx.DeltaTable.Log.Read(tx.DeltaTable.CommitUriFromVersion(version))
	if err != nil {
		return &ErrVersionAlreadyExists{Version: version, Inner: err}
	}
	winner, err := ActionsFromJsonLines(lines)
	if err != nil {
		return &ErrVersionAlreadyExists{Version: version, Inner: err}
	}

	// Coarse by design at this layer: two writers racing to decide the
	// same version must not both believe they won, so any competing
	// protocol or metadata change is a conflict even when the changes
	// would have been compatible.
	for i := range winner {
		switch winner[i].GetType() {
		case ActionTypeProtocol, ActionTypeMetadata:
			tx.DeltaTable.logger.Warn("commit conflict", "version", version)
			return &ErrProtocolChanged{Version: version}
		}
	}
	return &ErrVersionAlreadyExists{Version: version}
}

func (tx *DeltaTransaction) findProtocolAction(actions []Action) *Protocol {
	for i := range actions {
		if actions[i].Protocol != nil {
			return actions[i].Protocol
		}
	}
	return nil
}

// negotiateFromMetadata derives the protocol implied by a metadata action's
// configuration, if any. The returned actions carry the metadata with
// override and feature keys stripped; the returned protocol is nil when
// nothing new is required (no spurious upgrade).
func (tx *DeltaTransaction) negotiateFromMetadata(actions []Action) (*Protocol, []Action, error) {
	mdIndex := -1
	for i := range actions {
		if actions[i].MetaData != nil {
			mdIndex = i
		}
	}
	if mdIndex == -1 {
		return nil, actions, nil
	}

	req, persisted, err := ParseProtocolRequest(actions[mdIndex].MetaData.Configuration)
	if err != nil {
		return nil, nil, err
	}
	md := *actions[mdIndex].MetaData
	md.Configuration = persisted
	actions[mdIndex].MetaData = &md

	var current *Protocol
	if tx.readHasProtocol {
		p := tx.ReadProtocol
		current = &p
	}

	defaults := tx.DeltaTable.Config.SessionDefaults
	if tx.Options.SessionDefaults != nil {
		defaults = *tx.Options.SessionDefaults
	}

	negotiated, err := Negotiate(current, req, defaults)
	if err != nil {
		return nil, nil, err
	}

	if current != nil && negotiated.Equal(*current) {
		return nil, actions, nil
	}
	return &negotiated, actions, nil
}

func (tx *DeltaTransaction) buildCommitInfo(operation *DeltaOperation, appMetadata map[string]interface{}) util.RawJsonMap {
	commitInfo := make(util.RawJsonMap)
	if operation != nil {
		commitInfo = operation.GetCommitInfo()
	}
	commitInfo.MustUpsert("readVersion", tx.ReadVersion)
	commitInfo.MustUpsert("engineInfo", "delta-go")
	for k, v := range appMetadata {
		commitInfo.MustUpsert(k, v)
	}
	return commitInfo
}
