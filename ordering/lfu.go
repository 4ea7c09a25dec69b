package ordering

import (
	"cmp"
	"slices"

	"github.com/wolfeidau/package-cache/journal"
)

// Factors weight the three signals of the LFU+Aging score.
type Factors struct {
	AgeFactor          float64
	HitFactor          float64
	NewerVersionFactor float64
}

// DefaultFactors returns the default weights.
func DefaultFactors() Factors {
	return Factors{
		AgeFactor:          0.5,
		HitFactor:          1.0,
		NewerVersionFactor: 1.0,
	}
}

// LeastFrequentlyUsedWithAging scores each unlocked entry as
//
//	HitFactor*norm(hits) - AgeFactor*norm(now-firstUse) - NewerVersionFactor*norm(newerVersions)
//
// and orders ascending, so rarely used, old and superseded packages come first.
// "now" is the latest usage across the candidates. Each signal is min-max
// normalised over the candidate set.
type LeastFrequentlyUsedWithAging struct {
	factors Factors
}

// NewLeastFrequentlyUsedWithAging returns the strategy with the given weights.
func NewLeastFrequentlyUsedWithAging(factors Factors) *LeastFrequentlyUsedWithAging {
	return &LeastFrequentlyUsedWithAging{factors: factors}
}

// Factors returns the configured weights.
func (l *LeastFrequentlyUsedWithAging) Factors() Factors {
	return l.factors
}

type scored struct {
	entry journal.Entry
	score float64
}

// Order implements Sorter. Newer versions are counted across all entries,
// locked ones included: a package in use still supersedes older versions.
func (l *LeastFrequentlyUsedWithAging) Order(entries []journal.Entry) []journal.Entry {
	candidates := journal.Unlocked(entries)
	if len(candidates) == 0 {
		return candidates
	}

	var current journal.CacheAge
	for _, e := range candidates {
		current = max(current, e.LastUsage())
	}

	hits := make([]float64, len(candidates))
	ages := make([]float64, len(candidates))
	newer := make([]float64, len(candidates))
	for i, e := range candidates {
		hits[i] = float64(e.HitCount())
		ages[i] = float64(current - e.FirstUsage())
		newer[i] = float64(newerVersionCount(e, entries))
	}

	hitRange := newSpan(hits)
	ageRange := newSpan(ages)
	newerRange := newSpan(newer)

	ranked := make([]scored, len(candidates))
	for i, e := range candidates {
		ranked[i] = scored{
			entry: e,
			score: l.factors.HitFactor*hitRange.normalise(hits[i]) -
				l.factors.AgeFactor*ageRange.normalise(ages[i]) -
				l.factors.NewerVersionFactor*newerRange.normalise(newer[i]),
		}
	}

	slices.SortStableFunc(ranked, func(a, b scored) int {
		return cmp.Compare(a.score, b.score)
	})

	out := make([]journal.Entry, len(ranked))
	for i, r := range ranked {
		out[i] = r.entry
	}
	return out
}

func newerVersionCount(e journal.Entry, all []journal.Entry) int {
	n := 0
	for _, other := range all {
		if other.Package.NewerThan(e.Package) {
			n++
		}
	}
	return n
}

// span is the observed [min, max] of one signal.
type span struct {
	min, max float64
}

func newSpan(values []float64) span {
	s := span{min: values[0], max: values[0]}
	for _, v := range values[1:] {
		s.min = min(s.min, v)
		s.max = max(s.max, v)
	}
	return s
}

// normalise maps v into [0,1]. A degenerate span divides by 1.
func (s span) normalise(v float64) float64 {
	divisor := s.max - s.min
	if divisor == 0 {
		divisor = 1
	}
	return (v - s.min) / divisor
}
