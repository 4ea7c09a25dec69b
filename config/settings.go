package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/wolfeidau/package-cache/ordering"
)

// Variable names.
const (
	VarStrategy                 = "Package.Retention.Strategy"
	VarPercentFreeDiskSpace     = "Package.Retention.PercentFreeDiskSpace"
	VarBufferPercent            = "Package.Retention.BufferPercent"
	VarOrdering                 = "Package.Retention.Ordering"
	VarQuantityOfPackagesToKeep = "Package.Retention.QuantityOfPackagesToKeep"
	VarQuantityOfVersionsToKeep = "Package.Retention.QuantityOfVersionsToKeep"
	VarAgeFactor                = "Package.Retention.AgeFactor"
	VarHitFactor                = "Package.Retention.HitFactor"
	VarNewerVersionFactor       = "Package.Retention.NewerVersionFactor"
)

// ErrInvalidVariable is wrapped by every Load error.
var ErrInvalidVariable = errors.New("config: invalid variable")

// Strategy selects which retention family is active.
type Strategy string

const (
	StrategyFreeSpace  Strategy = "FreeSpace"
	StrategyQuantities Strategy = "Quantities"
)

// Ordering selects how free-space retention ranks entries.
type Ordering string

const (
	OrderingFirstInFirstOut     Ordering = "FirstInFirstOut"
	OrderingLeastFrequentlyUsed Ordering = "LeastFrequentlyUsed"
)

// KeepAll disables package-id level eviction in quantity retention.
const KeepAll = -1

// Settings are the typed retention knobs.
type Settings struct {
	Strategy Strategy `json:"strategy"`

	PercentFreeDiskSpace int      `json:"percent_free_disk_space"`
	BufferPercent        int      `json:"buffer_percent"`
	Ordering             Ordering `json:"ordering"`

	QuantityOfPackagesToKeep int `json:"quantity_of_packages_to_keep"`
	QuantityOfVersionsToKeep int `json:"quantity_of_versions_to_keep"`

	AgeFactor          float64 `json:"age_factor"`
	HitFactor          float64 `json:"hit_factor"`
	NewerVersionFactor float64 `json:"newer_version_factor"`
}

// DefaultSettings returns the settings used when no variable is set.
func DefaultSettings() Settings {
	f := ordering.DefaultFactors()
	return Settings{
		Strategy:             StrategyFreeSpace,
		PercentFreeDiskSpace: 20,
		BufferPercent:        30,
		Ordering:             OrderingFirstInFirstOut,
		AgeFactor:            f.AgeFactor,
		HitFactor:            f.HitFactor,
		NewerVersionFactor:   f.NewerVersionFactor,
	}
}

// Factors returns the LFU+Aging weights.
func (s Settings) Factors() ordering.Factors {
	return ordering.Factors{
		AgeFactor:          s.AgeFactor,
		HitFactor:          s.HitFactor,
		NewerVersionFactor: s.NewerVersionFactor,
	}
}

// Sorter returns the ordering used to rank free-space candidates.
func (s Settings) Sorter() ordering.Sorter {
	if s.Ordering == OrderingLeastFrequentlyUsed {
		return ordering.NewLeastFrequentlyUsedWithAging(s.Factors())
	}
	return ordering.FirstInFirstOut{}
}

// Load reads Settings from vars, falling back to DefaultSettings for unset
// variables. Blank values count as unset.
func Load(vars Variables) (Settings, error) {
	s := DefaultSettings()
	r := reader{vars: vars}

	if v, ok := r.lookup(VarStrategy); ok {
		switch {
		case strings.EqualFold(v, string(StrategyFreeSpace)):
			s.Strategy = StrategyFreeSpace
		case strings.EqualFold(v, string(StrategyQuantities)):
			s.Strategy = StrategyQuantities
		default:
			r.fail(VarStrategy, v, "want FreeSpace or Quantities")
		}
	}
	if v, ok := r.lookup(VarOrdering); ok {
		switch {
		case strings.EqualFold(v, string(OrderingFirstInFirstOut)):
			s.Ordering = OrderingFirstInFirstOut
		case strings.EqualFold(v, string(OrderingLeastFrequentlyUsed)):
			s.Ordering = OrderingLeastFrequentlyUsed
		default:
			r.fail(VarOrdering, v, "want FirstInFirstOut or LeastFrequentlyUsed")
		}
	}

	r.int(VarPercentFreeDiskSpace, &s.PercentFreeDiskSpace, 0, 100)
	r.int(VarBufferPercent, &s.BufferPercent, 0, -1)
	r.int(VarQuantityOfPackagesToKeep, &s.QuantityOfPackagesToKeep, KeepAll, -1)
	r.int(VarQuantityOfVersionsToKeep, &s.QuantityOfVersionsToKeep, 0, -1)
	r.float(VarAgeFactor, &s.AgeFactor)
	r.float(VarHitFactor, &s.HitFactor)
	r.float(VarNewerVersionFactor, &s.NewerVersionFactor)

	if len(r.errs) > 0 {
		return Settings{}, errors.Join(r.errs...)
	}
	return s, nil
}

type reader struct {
	vars Variables
	errs []error
}

func (r *reader) lookup(name string) (string, bool) {
	if r.vars == nil {
		return "", false
	}
	v, ok := r.vars.Get(name)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (r *reader) fail(name, value, reason string) {
	r.errs = append(r.errs, fmt.Errorf("%w: %s=%q: %s", ErrInvalidVariable, name, value, reason))
}

// int parses name into dst. A negative hi means no upper bound.
func (r *reader) int(name string, dst *int, lo, hi int) {
	v, ok := r.lookup(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(name, v, "not an integer")
		return
	}
	if n < lo || (hi >= 0 && n > hi) {
		if hi >= 0 {
			r.fail(name, v, fmt.Sprintf("out of range [%d,%d]", lo, hi))
		} else {
			r.fail(name, v, fmt.Sprintf("must be >= %d", lo))
		}
		return
	}
	*dst = n
}

func (r *reader) float(name string, dst *float64) {
	v, ok := r.lookup(name)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(name, v, "not a number")
		return
	}
	*dst = f
}
