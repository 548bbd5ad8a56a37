package delta

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/deltalog/delta-go/types"
)

// SessionDefaults carries the session-scoped default protocol versions a
// front-end supplies for tables that do not pin their own.
type SessionDefaults struct {
	ReaderVersion *types.Int
	WriterVersion *types.Int
}

// Validate rejects out-of-range defaults before negotiation runs.
func (s SessionDefaults) Validate() error {
	if s.ReaderVersion != nil && (*s.ReaderVersion < 1 || *s.ReaderVersion > MaxSupportedReaderVersion) {
		return &ErrInvalidPropertyValue{
			Key:    "defaultReaderVersion",
			Value:  fmt.Sprint(*s.ReaderVersion),
			Reason: fmt.Sprintf("must be between 1 and %d", MaxSupportedReaderVersion),
		}
	}
	if s.WriterVersion != nil && (*s.WriterVersion < 1 || *s.WriterVersion > MaxSupportedWriterVersion) {
		return &ErrInvalidPropertyValue{
			Key:    "defaultWriterVersion",
			Value:  fmt.Sprint(*s.WriterVersion),
			Reason: fmt.Sprintf("must be between 1 and %d", MaxSupportedWriterVersion),
		}
	}
	return nil
}

func (s SessionDefaults) readerOr(fallback types.Int) types.Int {
	if s.ReaderVersion != nil {
		return *s.ReaderVersion
	}
	return fallback
}

func (s SessionDefaults) writerOr(fallback types.Int) types.Int {
	if s.WriterVersion != nil {
		return *s.WriterVersion
	}
	return fallback
}

// ProtocolRequest is the protocol-relevant part of a table-property change:
// explicit version overrides plus the feature set the change enables,
// whether named through delta.feature.<name> keys or implied by feature
// properties such as delta.appendOnly.
type ProtocolRequest struct {
	ReaderVersion *types.Int
	WriterVersion *types.Int
	Features      []TableFeature
}

// ParseProtocolRequest extracts a ProtocolRequest from a requested
// configuration map and returns it alongside the configuration with the
// override and feature keys stripped, which is what may be persisted.
// Key matching is case-insensitive. A delta-prefixed key that matches
// nothing is an ErrUnknownConfiguration; a recognized key with a bad value
// is an ErrInvalidPropertyValue; a feature key naming no known feature is
// an ErrUnknownFeature.
func ParseProtocolRequest(configuration map[string]string) (ProtocolRequest, map[string]string, error) {
	req := ProtocolRequest{}
	persisted := make(map[string]string, len(configuration))
	seen := make(map[string]bool)

	addFeature := func(f TableFeature) {
		if !seen[f.Name] {
			seen[f.Name] = true
			req.Features = append(req.Features, f)
		}
	}

	for k, v := range configuration {
		switch {
		case strings.EqualFold(k, ConfigKeyMinReaderVersion):
			ver, err := parseVersionValue(k, v, MaxSupportedReaderVersion)
			if err != nil {
				return ProtocolRequest{}, nil, err
			}
			req.ReaderVersion = &ver
		case strings.EqualFold(k, ConfigKeyMinWriterVersion):
			ver, err := parseVersionValue(k, v, MaxSupportedWriterVersion)
			if err != nil {
				return ProtocolRequest{}, nil, err
			}
			req.WriterVersion = &ver
		case strings.HasPrefix(strings.ToLower(k), strings.ToLower(FeatureConfigPrefix)):
			name := k[len(FeatureConfigPrefix):]
			if !strings.EqualFold(v, "enabled") && !strings.EqualFold(v, "supported") {
				return ProtocolRequest{}, nil, &ErrInvalidPropertyValue{
					Key:    k,
					Value:  v,
					Reason: "feature keys accept 'enabled' or 'supported'",
				}
			}
			f, err := LookupFeature(name)
			if err != nil {
				return ProtocolRequest{}, nil, err
			}
			addFeature(f)
		default:
			if !isRecognizedConfigKey(k) {
				return ProtocolRequest{}, nil, &ErrUnknownConfiguration{Key: k}
			}
			persisted[k] = v
		}
	}

	// Feature-gating properties like delta.appendOnly persist as ordinary
	// table properties but still pull in their feature.
	for _, f := range featuresEnabledByMetadata(persisted) {
		addFeature(f)
	}

	return req, persisted, nil
}

func parseVersionValue(key, value string, max types.Int) (types.Int, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(value), 10, 32)
	if err != nil {
		return 0, &ErrInvalidPropertyValue{
			Key:    key,
			Value:  value,
			Reason: "not an integer",
			Inner:  err,
		}
	}
	if v < 1 || types.Int(v) > max {
		return 0, &ErrInvalidPropertyValue{
			Key:    key,
			Value:  value,
			Reason: fmt.Sprintf("must be between 1 and %d", max),
		}
	}
	return types.Int(v), nil
}

// Negotiate computes the protocol a table must carry after applying `req`
// on top of `current`, honoring `defaults` for unpinned versions. A nil
// `current` negotiates for table creation from the {1,1} baseline.
//
// Features are structural requirements and cannot be partially honored, so
// they always win over version requests: an explicit version below what an
// enabled feature demands is raised, not rejected. The one exception is a
// named non-legacy feature combined with a version pinned below the
// table-features threshold, which no encoding can express and therefore
// fails. Explicit version requests below the current protocol are
// downgrades and fail before any feature folding applies.
func Negotiate(current *Protocol, req ProtocolRequest, defaults SessionDefaults) (Protocol, error) {
	if err := defaults.Validate(); err != nil {
		return Protocol{}, err
	}

	base := NewProtocol(1, 1)
	if current != nil {
		base = *current
	}

	// Explicit requests are operator intent and must at least preserve the
	// versions the table already granted. Session defaults are advisory
	// floors and never trigger this.
	if current != nil {
		readerDown := req.ReaderVersion != nil && *req.ReaderVersion < current.MinReaderVersion
		writerDown := req.WriterVersion != nil && *req.WriterVersion < current.MinWriterVersion
		if readerDown || writerDown {
			explicit := NewProtocol(
				orVersion(req.ReaderVersion, current.MinReaderVersion),
				orVersion(req.WriterVersion, current.MinWriterVersion),
			)
			return Protocol{}, &ErrProtocolDowngrade{From: *current, To: explicit}
		}
	}

	featureImplied := base
	for _, f := range req.Features {
		if !f.Legacy {
			if req.WriterVersion != nil && *req.WriterVersion < FeatureTableWriterVersion {
				return Protocol{}, &ErrFeatureRequiresVersion{Feature: f, Requested: *req.WriterVersion}
			}
			if f.ReaderWriter && req.ReaderVersion != nil && *req.ReaderVersion < FeatureTableReaderVersion {
				return Protocol{}, &ErrFeatureRequiresVersion{Feature: f, Requested: *req.ReaderVersion, Reader: true}
			}
		}
		featureImplied = featureImplied.WithFeature(f)
	}

	requested := NewProtocol(
		orVersion(req.ReaderVersion, defaults.readerOr(1)),
		orVersion(req.WriterVersion, defaults.writerOr(1)),
	)

	result := featureImplied.Merge(requested)

	// Crossing the reader threshold makes readerFeatures authoritative, so
	// reader-writer features already required by the writer side carry over.
	if result.ReaderFeatures != nil && result.WriterFeatures != nil {
		for _, name := range *result.WriterFeatures {
			if f, err := LookupFeature(name); err == nil && f.ReaderWriter {
				result.ReaderFeatures = featureSetAdd(result.ReaderFeatures, f.Name)
			}
		}
	}

	if current != nil && !current.CanUpgradeTo(result) {
		return Protocol{}, &ErrProtocolDowngrade{From: *current, To: result}
	}
	return result, nil
}

func orVersion(v *types.Int, fallback types.Int) types.Int {
	if v != nil {
		return *v
	}
	return fallback
}
