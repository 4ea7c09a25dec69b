package retention

import (
	"github.com/wolfeidau/package-cache/journal"
	"github.com/wolfeidau/package-cache/ordering"
)

// RequiredSpace selects packages until a fixed number of bytes is reclaimed.
// Unlike the periodic cleaners it fails with InsufficientCacheSpaceError when
// every unlocked package together is too small, so callers that must
// guarantee headroom can stop before writing.
type RequiredSpace struct {
	sorter ordering.Sorter
}

// NewRequiredSpace ranks candidates with sorter.
func NewRequiredSpace(sorter ordering.Sorter) *RequiredSpace {
	return &RequiredSpace{sorter: sorter}
}

// NewFirstInFirstOut evicts the packages first used longest ago.
func NewFirstInFirstOut() *RequiredSpace {
	return NewRequiredSpace(ordering.FirstInFirstOut{})
}

// NewLeastFrequentlyUsed evicts by LFU with aging.
func NewLeastFrequentlyUsed(factors ordering.Factors) *RequiredSpace {
	return NewRequiredSpace(ordering.NewLeastFrequentlyUsedWithAging(factors))
}

// GetPackagesToRemove returns the shortest ranked prefix of unlocked entries
// whose total size is at least required.
func (c *RequiredSpace) GetPackagesToRemove(entries []journal.Entry, required uint64) ([]journal.PackageIdentity, error) {
	if required == 0 {
		return nil, nil
	}
	chosen, found := accumulate(c.sorter.Order(entries), required)
	if found < required {
		return nil, &InsufficientCacheSpaceError{SpaceFound: found, SpaceRequired: required}
	}
	return journal.Identities(chosen), nil
}
