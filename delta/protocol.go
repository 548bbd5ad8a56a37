package delta

import (
	"fmt"
	"strings"

	"github.com/deltalog/delta-go/types"
	"golang.org/x/exp/slices"
)

// NewProtocol returns a protocol for the given versions. Crossing a
// table-features threshold switches the corresponding side to explicit
// descriptor form with an empty feature set.
func NewProtocol(minReaderVersion, minWriterVersion types.Int) Protocol {
	p := Protocol{
		MinReaderVersion: minReaderVersion,
		MinWriterVersion: minWriterVersion,
	}
	return p.normalized()
}

func (p Protocol) normalized() Protocol {
	if p.MinReaderVersion >= FeatureTableReaderVersion && p.ReaderFeatures == nil {
		p.ReaderFeatures = &[]string{}
	}
	if p.MinWriterVersion >= FeatureTableWriterVersion && p.WriterFeatures == nil {
		p.WriterFeatures = &[]string{}
	}
	return p
}

func (p Protocol) String() string {
	readerSet, writerSet := "None", "None"
	if p.ReaderFeatures != nil {
		readerSet = fmt.Sprintf("[%s]", strings.Join(*p.ReaderFeatures, ","))
	}
	if p.WriterFeatures != nil {
		writerSet = fmt.Sprintf("[%s]", strings.Join(*p.WriterFeatures, ","))
	}
	return fmt.Sprintf("(%d,%d,%s,%s)", p.MinReaderVersion, p.MinWriterVersion, readerSet, writerSet)
}

func (p Protocol) Equal(other Protocol) bool {
	return p.MinReaderVersion == other.MinReaderVersion &&
		p.MinWriterVersion == other.MinWriterVersion &&
		featureSetEqual(p.ReaderFeatures, other.ReaderFeatures) &&
		featureSetEqual(p.WriterFeatures, other.WriterFeatures)
}

// WithFeature returns a protocol that additionally requires `f`. Versions
// are raised to at least the feature's thresholds and, once the writer side
// is in explicit descriptor form, the feature name is recorded. Existing
// descriptors are never removed.
func (p Protocol) WithFeature(f TableFeature) Protocol {
	next := p
	next.MinReaderVersion = maxInt(next.MinReaderVersion, f.MinReaderVersion)
	next.MinWriterVersion = maxInt(next.MinWriterVersion, f.MinWriterVersion)
	next = next.normalized()

	if next.WriterFeatures != nil {
		next.WriterFeatures = featureSetAdd(next.WriterFeatures, f.Name)
	}
	if f.ReaderWriter && next.ReaderFeatures != nil {
		next.ReaderFeatures = featureSetAdd(next.ReaderFeatures, f.Name)
	}
	return next
}

// Supports reports whether `p` grants feature `f`: versions must meet the
// feature's thresholds and, in explicit descriptor form, the feature must
// be listed.
func (p Protocol) Supports(f TableFeature) bool {
	if p.MinReaderVersion < f.MinReaderVersion || p.MinWriterVersion < f.MinWriterVersion {
		return false
	}
	if p.WriterFeatures != nil && !featureSetContains(p.WriterFeatures, f.Name) {
		return false
	}
	if f.ReaderWriter && p.ReaderFeatures != nil && !featureSetContains(p.ReaderFeatures, f.Name) {
		return false
	}
	return true
}

// Merge combines two protocols: element-wise maximum of versions, union of
// feature sets. A set is present in the result when either operand carries
// one.
func (p Protocol) Merge(other Protocol) Protocol {
	merged := Protocol{
		MinReaderVersion: maxInt(p.MinReaderVersion, other.MinReaderVersion),
		MinWriterVersion: maxInt(p.MinWriterVersion, other.MinWriterVersion),
		ReaderFeatures:   featureSetUnion(p.ReaderFeatures, other.ReaderFeatures),
		WriterFeatures:   featureSetUnion(p.WriterFeatures, other.WriterFeatures),
	}
	return merged.normalized()
}

// CanUpgradeTo reports whether `next` preserves everything `p` already
// granted. Anything else is a downgrade and must be rejected at commit
// time.
func (p Protocol) CanUpgradeTo(next Protocol) bool {
	if next.MinReaderVersion < p.MinReaderVersion || next.MinWriterVersion < p.MinWriterVersion {
		return false
	}
	if !featureSetCovers(next.ReaderFeatures, p.ReaderFeatures) {
		return false
	}
	if !featureSetCovers(next.WriterFeatures, p.WriterFeatures) {
		return false
	}
	return true
}

// clientSupports verifies this build can operate on a table with protocol
// `p`, both by version range and by knowing every named feature.
func clientSupports(p Protocol) error {
	if p.MinReaderVersion > MaxSupportedReaderVersion || p.MinWriterVersion > MaxSupportedWriterVersion {
		return &ErrInvalidProtocolVersion{
			Table:            p,
			MaxReaderVersion: MaxSupportedReaderVersion,
			MaxWriterVersion: MaxSupportedWriterVersion,
		}
	}
	for _, set := range []*[]string{p.ReaderFeatures, p.WriterFeatures} {
		if set == nil {
			continue
		}
		for _, name := range *set {
			if _, err := LookupFeature(name); err != nil {
				return &ErrInvalidProtocolVersion{
					Table:              p,
					MaxReaderVersion:   MaxSupportedReaderVersion,
					MaxWriterVersion:   MaxSupportedWriterVersion,
					UnsupportedFeature: name,
				}
			}
		}
	}
	return nil
}

func maxInt(a, b types.Int) types.Int {
	if a > b {
		return a
	}
	return b
}

// Feature sets are kept as sorted, deduplicated slices so the wire form is
// deterministic.

func featureSetAdd(set *[]string, name string) *[]string {
	if set == nil {
		return &[]string{name}
	}
	if featureSetContains(set, name) {
		return set
	}
	next := append(slices.Clone(*set), name)
	slices.Sort(next)
	return &next
}

func featureSetContains(set *[]string, name string) bool {
	return set != nil && slices.Contains(*set, name)
}

func featureSetUnion(a, b *[]string) *[]string {
	if a == nil && b == nil {
		return nil
	}
	merged := make([]string, 0)
	if a != nil {
		merged = append(merged, *a...)
	}
	if b != nil {
		merged = append(merged, *b...)
	}
	slices.Sort(merged)
	merged = slices.Compact(merged)
	return &merged
}

func featureSetEqual(a, b *[]string) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}
	return slices.Equal(*a, *b)
}

func featureSetCovers(super, sub *[]string) bool {
	if sub == nil {
		return true
	}
	if super == nil {
		return false
	}
	for _, name := range *sub {
		if !slices.Contains(*super, name) {
			return false
		}
	}
	return true
}
