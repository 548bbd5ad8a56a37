package delta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/pointer"

	"github.com/deltalog/delta-go/types"
)

func intp(v types.Int) *types.Int {
	return &v
}

func TestSessionDefaultsValidate(t *testing.T) {
	assert.NoError(t, SessionDefaults{}.Validate())
	assert.NoError(t, SessionDefaults{ReaderVersion: intp(1), WriterVersion: intp(7)}.Validate())

	var invalid *ErrInvalidPropertyValue
	require.ErrorAs(t, SessionDefaults{ReaderVersion: intp(0)}.Validate(), &invalid)
	require.ErrorAs(t, SessionDefaults{WriterVersion: intp(99)}.Validate(), &invalid)
}

func TestParseProtocolRequestVersions(t *testing.T) {
	req, persisted, err := ParseProtocolRequest(map[string]string{
		"delta.minReaderVersion": "1",
		"delta.minWriterVersion": "2",
		"user.key":               "value",
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, *req.ReaderVersion)
	assert.EqualValues(t, 2, *req.WriterVersion)
	assert.Equal(t, map[string]string{"user.key": "value"}, persisted)
}

func TestParseProtocolRequestCaseInsensitive(t *testing.T) {
	req, _, err := ParseProtocolRequest(map[string]string{
		"DELTA.MINWRITERVERSION":        "3",
		"Delta.Feature.DeletionVectors": "Enabled",
	})
	require.NoError(t, err)
	assert.EqualValues(t, 3, *req.WriterVersion)
	require.Len(t, req.Features, 1)
	assert.Equal(t, "deletionVectors", req.Features[0].Name)
}

func TestParseProtocolRequestRejectsUnknownKey(t *testing.T) {
	_, _, err := ParseProtocolRequest(map[string]string{"delta.notAKey": "true"})
	var unknown *ErrUnknownConfiguration
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "delta.notAKey", unknown.Key)
}

func TestParseProtocolRequestRejectsUnknownFeatureName(t *testing.T) {
	_, _, err := ParseProtocolRequest(map[string]string{"delta.feature.bogus": "enabled"})
	var unknown *ErrUnknownFeature
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "bogus", unknown.Name)
}

func TestParseProtocolRequestRejectsMalformedValues(t *testing.T) {
	var invalid *ErrInvalidPropertyValue

	_, _, err := ParseProtocolRequest(map[string]string{"delta.minWriterVersion": "two"})
	require.ErrorAs(t, err, &invalid)

	_, _, err = ParseProtocolRequest(map[string]string{"delta.minWriterVersion": "0"})
	require.ErrorAs(t, err, &invalid)

	_, _, err = ParseProtocolRequest(map[string]string{"delta.minReaderVersion": "12"})
	require.ErrorAs(t, err, &invalid)

	_, _, err = ParseProtocolRequest(map[string]string{"delta.feature.appendOnly": "yes"})
	require.ErrorAs(t, err, &invalid)
}

func TestParseProtocolRequestFeatureGatingProperty(t *testing.T) {
	req, persisted, err := ParseProtocolRequest(map[string]string{"delta.appendOnly": "true"})
	require.NoError(t, err)
	require.Len(t, req.Features, 1)
	assert.Equal(t, "appendOnly", req.Features[0].Name)
	// the gating property itself persists, unlike delta.feature.* keys
	assert.Equal(t, map[string]string{"delta.appendOnly": "true"}, persisted)
}

func TestNegotiateCreationDefault(t *testing.T) {
	p, err := Negotiate(nil, ProtocolRequest{}, SessionDefaults{ReaderVersion: intp(1), WriterVersion: intp(1)})
	require.NoError(t, err)
	assert.True(t, p.Equal(NewProtocol(1, 1)))
	assert.Nil(t, p.ReaderFeatures)
	assert.Nil(t, p.WriterFeatures)
}

func TestNegotiateFeatureTriggeredUpgrade(t *testing.T) {
	current := NewProtocol(1, 1)
	p, err := Negotiate(&current, ProtocolRequest{Features: []TableFeature{FeatureAppendOnly}}, SessionDefaults{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, p.MinReaderVersion)
	assert.EqualValues(t, 2, p.MinWriterVersion)
	assert.Nil(t, p.ReaderFeatures)
	assert.Nil(t, p.WriterFeatures)
}

func TestNegotiateTableFeaturesUpgrade(t *testing.T) {
	current := NewProtocol(1, 2)
	p, err := Negotiate(&current, ProtocolRequest{WriterVersion: intp(7)}, SessionDefaults{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, p.MinReaderVersion)
	assert.EqualValues(t, 7, p.MinWriterVersion)
	assert.Nil(t, p.ReaderFeatures)
	require.NotNil(t, p.WriterFeatures)
	assert.Empty(t, *p.WriterFeatures)

	p2, err := Negotiate(&p, ProtocolRequest{ReaderVersion: intp(3)}, SessionDefaults{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, p2.MinReaderVersion)
	assert.EqualValues(t, 7, p2.MinWriterVersion)
	require.NotNil(t, p2.ReaderFeatures)
	assert.Empty(t, *p2.ReaderFeatures)
	require.NotNil(t, p2.WriterFeatures)
	assert.Empty(t, *p2.WriterFeatures)
}

func TestNegotiateDowngradeRejected(t *testing.T) {
	current := NewProtocol(1, 3)
	_, err := Negotiate(&current, ProtocolRequest{WriterVersion: intp(2)}, SessionDefaults{})
	var downgrade *ErrProtocolDowngrade
	require.ErrorAs(t, err, &downgrade)
	assert.Contains(t, downgrade.Error(), "(1,3,None,None)")
	assert.Contains(t, downgrade.Error(), "(1,2,None,None)")
}

func TestNegotiateIdempotent(t *testing.T) {
	current := NewProtocol(3, 7).WithFeature(FeatureDeletionVectors)
	p, err := Negotiate(&current, ProtocolRequest{Features: []TableFeature{FeatureDeletionVectors}}, SessionDefaults{ReaderVersion: intp(1), WriterVersion: intp(1)})
	require.NoError(t, err)
	assert.True(t, p.Equal(current), "no spurious upgrade expected, got %s", p)
}

func TestNegotiateExplicitVersionBelowFeatureDemandIsRaised(t *testing.T) {
	current := NewProtocol(1, 1)
	p, err := Negotiate(&current, ProtocolRequest{
		WriterVersion: intp(1),
		Features:      []TableFeature{FeatureAppendOnly},
	}, SessionDefaults{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, p.MinWriterVersion)
}

func TestNegotiateNativeFeatureWithPinnedWriterFails(t *testing.T) {
	current := NewProtocol(1, 1)
	_, err := Negotiate(&current, ProtocolRequest{
		WriterVersion: intp(3),
		Features:      []TableFeature{FeatureRowTracking},
	}, SessionDefaults{})
	var needsVersion *ErrFeatureRequiresVersion
	require.ErrorAs(t, err, &needsVersion)
	assert.Equal(t, "rowTracking", needsVersion.Feature.Name)
	assert.Contains(t, err.Error(), "must be at least 7")
}

func TestNegotiateNativeReaderWriterFeatureWithPinnedReaderFails(t *testing.T) {
	current := NewProtocol(1, 1)
	_, err := Negotiate(&current, ProtocolRequest{
		ReaderVersion: intp(1),
		WriterVersion: intp(7),
		Features:      []TableFeature{FeatureDeletionVectors},
	}, SessionDefaults{})
	var needsVersion *ErrFeatureRequiresVersion
	require.ErrorAs(t, err, &needsVersion)
	assert.True(t, needsVersion.Reader)
}

func TestNegotiateSessionDefaultsAreAdvisory(t *testing.T) {
	// defaults below the current protocol never downgrade
	current := NewProtocol(1, 5)
	p, err := Negotiate(&current, ProtocolRequest{}, SessionDefaults{ReaderVersion: intp(1), WriterVersion: intp(2)})
	require.NoError(t, err)
	assert.True(t, p.Equal(current))
}

func TestNegotiateReaderThresholdCarriesReaderWriterFeatures(t *testing.T) {
	// a table written by an engine that listed a reader-writer feature on
	// the writer side while the reader side stayed in legacy form
	current := Protocol{
		MinReaderVersion: 1,
		MinWriterVersion: 7,
		WriterFeatures:   &[]string{"deletionVectors"},
	}
	p, err := Negotiate(&current, ProtocolRequest{ReaderVersion: intp(3)}, SessionDefaults{})
	require.NoError(t, err)
	require.NotNil(t, p.ReaderFeatures)
	assert.Contains(t, *p.ReaderFeatures, "deletionVectors")
}

func TestNegotiateUsesPointerHelpers(t *testing.T) {
	// sanity check that k8s pointer helpers interoperate with our aliases
	p, err := Negotiate(nil, ProtocolRequest{WriterVersion: pointer.Int32(2)}, SessionDefaults{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, p.MinWriterVersion)
}
