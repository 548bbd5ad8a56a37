package delta

import (
	"fmt"

	"github.com/deltalog/delta-go/types"
)

type ErrVersionAlreadyExists struct {
	Inner   error
	Version DeltaDataTypeVersion
}

func (e *ErrVersionAlreadyExists) Error() string {
	return fmt.Sprintf("table version %v already exists", e.Version)
}

func (e *ErrVersionAlreadyExists) Unwrap() error {
	return e.Inner
}

// ErrProtocolDowngrade is returned when a proposed protocol is not an
// upgrade of the committed one. Committed protocol versions and feature
// sets only ever grow.
type ErrProtocolDowngrade struct {
	From Protocol
	To   Protocol
}

func (e *ErrProtocolDowngrade) Error() string {
	return fmt.Sprintf("unable to downgrade table protocol from %s to %s", e.From, e.To)
}

// ErrProtocolChanged signals that a concurrent commit won the race for the
// target version and changed protocol or metadata assumptions this
// transaction was built on. The caller decides whether to retry from a
// fresh read snapshot.
type ErrProtocolChanged struct {
	Version DeltaDataTypeVersion
}

func (e *ErrProtocolChanged) Error() string {
	return fmt.Sprintf("commit conflict: version %v was committed concurrently with incompatible protocol or metadata changes", e.Version)
}

// ErrInvalidProtocolVersion is returned when the table requires reader or
// writer capabilities beyond what this client implements.
type ErrInvalidProtocolVersion struct {
	Table              Protocol
	MaxReaderVersion   types.Int
	MaxWriterVersion   types.Int
	UnsupportedFeature string
}

func (e *ErrInvalidProtocolVersion) Error() string {
	if e.UnsupportedFeature != "" {
		return fmt.Sprintf("table protocol %s requires feature '%s' which this client does not implement", e.Table, e.UnsupportedFeature)
	}
	return fmt.Sprintf("table protocol %s exceeds this client's supported versions (reader %d, writer %d)",
		e.Table, e.MaxReaderVersion, e.MaxWriterVersion)
}

// ErrUnknownConfiguration is returned for a delta-prefixed property key
// this implementation does not recognize.
type ErrUnknownConfiguration struct {
	Key string
}

func (e *ErrUnknownConfiguration) Error() string {
	return fmt.Sprintf("unknown configuration key '%s'", e.Key)
}

// ErrUnknownFeature is returned when a recognized feature key names a
// feature that does not exist, distinguishing a bad feature name from a
// mistyped property key.
type ErrUnknownFeature struct {
	Name string
}

func (e *ErrUnknownFeature) Error() string {
	return fmt.Sprintf("unknown table feature '%s'", e.Name)
}

// ErrInvalidPropertyValue is returned when a recognized key carries a value
// that cannot be parsed or is out of range.
type ErrInvalidPropertyValue struct {
	Key    string
	Value  string
	Reason string
	Inner  error
}

func (e *ErrInvalidPropertyValue) Error() string {
	return fmt.Sprintf("invalid value '%s' for configuration key '%s': %s", e.Value, e.Key, e.Reason)
}

func (e *ErrInvalidPropertyValue) Unwrap() error {
	return e.Inner
}

// ErrFeatureRequiresVersion is returned when a request names a feature that
// only exists in table-features form while also pinning the protocol below
// the table-features threshold. The request cannot be honored in any
// encoding, so it fails instead of silently raising the pinned version.
type ErrFeatureRequiresVersion struct {
	Feature   TableFeature
	Requested types.Int
	Reader    bool
}

func (e *ErrFeatureRequiresVersion) Error() string {
	side := "writer"
	threshold := FeatureTableWriterVersion
	if e.Reader {
		side = "reader"
		threshold = FeatureTableReaderVersion
	}
	return fmt.Sprintf("%s version %d must be at least %d to add %s feature '%s'",
		side, e.Requested, threshold, side, e.Feature.Name)
}

// ErrStateRecovery is returned when log replay cannot produce a usable
// snapshot, for example when the earliest segment carries no protocol
// action. The table is unusable until repaired out of band.
type ErrStateRecovery struct {
	TableUri string
	Reason   string
}

func (e *ErrStateRecovery) Error() string {
	return fmt.Sprintf("unable to recover state for table '%s': %s", e.TableUri, e.Reason)
}
