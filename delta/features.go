package delta

import (
	"strings"

	"github.com/deltalog/delta-go/types"
)

const (
	// Reader version at and above which readerFeatures is the
	// authoritative feature list.
	FeatureTableReaderVersion types.Int = 3
	// Writer version at and above which writerFeatures is the
	// authoritative feature list.
	FeatureTableWriterVersion types.Int = 7

	// Highest protocol versions this build implements.
	MaxSupportedReaderVersion types.Int = 3
	MaxSupportedWriterVersion types.Int = 7
)

// TableFeature is a named capability a table may require from readers or
// writers. Legacy features are fully expressed by version numbers alone;
// the rest only exist in table-features (explicit descriptor) form.
type TableFeature struct {
	Name             string
	MinReaderVersion types.Int
	MinWriterVersion types.Int
	// ReaderWriter features constrain readers as well as writers.
	ReaderWriter bool
	Legacy       bool

	// Table property that enables the feature implicitly, with the value
	// predicate it must satisfy. Empty for features only enabled through
	// delta.feature.<name> keys or version bumps.
	metadataKey     string
	metadataEnables func(value string) bool
}

func enabledWhenTrue(value string) bool {
	return strings.EqualFold(value, "true")
}

var (
	FeatureAppendOnly = TableFeature{
		Name:             "appendOnly",
		MinReaderVersion: 1,
		MinWriterVersion: 2,
		Legacy:           true,
		metadataKey:      "delta.appendOnly",
		metadataEnables:  enabledWhenTrue,
	}

	FeatureInvariants = TableFeature{
		Name:             "invariants",
		MinReaderVersion: 1,
		MinWriterVersion: 2,
		Legacy:           true,
	}

	FeatureCheckConstraints = TableFeature{
		Name:             "checkConstraints",
		MinReaderVersion: 1,
		MinWriterVersion: 3,
		Legacy:           true,
	}

	FeatureChangeDataFeed = TableFeature{
		Name:             "changeDataFeed",
		MinReaderVersion: 1,
		MinWriterVersion: 4,
		Legacy:           true,
		metadataKey:      "delta.enableChangeDataFeed",
		metadataEnables:  enabledWhenTrue,
	}

	FeatureGeneratedColumns = TableFeature{
		Name:             "generatedColumns",
		MinReaderVersion: 1,
		MinWriterVersion: 4,
		Legacy:           true,
	}

	FeatureColumnMapping = TableFeature{
		Name:             "columnMapping",
		MinReaderVersion: 2,
		MinWriterVersion: 5,
		ReaderWriter:     true,
		Legacy:           true,
		metadataKey:      "delta.columnMapping.mode",
		metadataEnables: func(value string) bool {
			return value != "" && !strings.EqualFold(value, "none")
		},
	}

	FeatureIdentityColumns = TableFeature{
		Name:             "identityColumns",
		MinReaderVersion: 1,
		MinWriterVersion: 6,
		Legacy:           true,
	}

	FeatureDeletionVectors = TableFeature{
		Name:             "deletionVectors",
		MinReaderVersion: 3,
		MinWriterVersion: 7,
		ReaderWriter:     true,
		metadataKey:      "delta.enableDeletionVectors",
		metadataEnables:  enabledWhenTrue,
	}

	FeatureTimestampNtz = TableFeature{
		Name:             "timestampNtz",
		MinReaderVersion: 3,
		MinWriterVersion: 7,
		ReaderWriter:     true,
	}

	FeatureV2Checkpoint = TableFeature{
		Name:             "v2Checkpoint",
		MinReaderVersion: 3,
		MinWriterVersion: 7,
		ReaderWriter:     true,
	}

	FeatureRowTracking = TableFeature{
		Name:             "rowTracking",
		MinReaderVersion: 1,
		MinWriterVersion: 7,
		metadataKey:      "delta.enableRowTracking",
		metadataEnables:  enabledWhenTrue,
	}

	FeatureDomainMetadata = TableFeature{
		Name:             "domainMetadata",
		MinReaderVersion: 1,
		MinWriterVersion: 7,
	}
)

var allFeatures = []TableFeature{
	FeatureAppendOnly,
	FeatureInvariants,
	FeatureCheckConstraints,
	FeatureChangeDataFeed,
	FeatureGeneratedColumns,
	FeatureColumnMapping,
	FeatureIdentityColumns,
	FeatureDeletionVectors,
	FeatureTimestampNtz,
	FeatureV2Checkpoint,
	FeatureRowTracking,
	FeatureDomainMetadata,
}

// AllFeatures returns the full feature catalog.
func AllFeatures() []TableFeature {
	features := make([]TableFeature, len(allFeatures))
	copy(features, allFeatures)
	return features
}

// LookupFeature resolves a feature by name, case-insensitively.
func LookupFeature(name string) (TableFeature, error) {
	for _, f := range allFeatures {
		if strings.EqualFold(f.Name, name) {
			return f, nil
		}
	}
	return TableFeature{}, &ErrUnknownFeature{Name: name}
}

// featuresEnabledByMetadata returns the features implicitly enabled by
// their table property in `configuration`, e.g. delta.appendOnly=true.
func featuresEnabledByMetadata(configuration map[string]string) []TableFeature {
	var enabled []TableFeature
	for _, f := range allFeatures {
		if f.metadataKey == "" {
			continue
		}
		if v, ok := configLookup(configuration, f.metadataKey); ok && f.metadataEnables(v) {
			enabled = append(enabled, f)
		}
	}
	return enabled
}
