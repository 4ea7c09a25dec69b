// Package ordering ranks journal entries by how little value they provide to
// the cache. Every strategy drops locked entries before ranking; the entry at
// index 0 of the result is the first one a retention algorithm should evict.
package ordering

import (
	"slices"
	"sort"

	"github.com/wolfeidau/package-cache/journal"
)

// Sorter orders the unlocked entries of a journal snapshot, most evictable first.
// Implementations never modify the input slice.
type Sorter interface {
	Order(entries []journal.Entry) []journal.Entry
}

// Func adapts an ordering function to Sorter.
type Func func(entries []journal.Entry) []journal.Entry

// Order implements Sorter.
func (f Func) Order(entries []journal.Entry) []journal.Entry {
	return f(entries)
}

// FirstInFirstOut orders entries by their first ever usage, oldest first.
// Ties keep encounter order.
type FirstInFirstOut struct{}

// Order implements Sorter.
func (FirstInFirstOut) Order(entries []journal.Entry) []journal.Entry {
	out := journal.Unlocked(entries)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].FirstUsage() < out[j].FirstUsage()
	})
	return out
}

// MostRecentlyUsed orders entries by their latest usage, most recent first.
// Quantity retention keeps from the front of this order and evicts from the back.
type MostRecentlyUsed struct{}

// Order implements Sorter.
func (MostRecentlyUsed) Order(entries []journal.Entry) []journal.Entry {
	out := journal.Unlocked(entries)
	SortByRecency(out)
	return out
}

// SortByRecency sorts entries in place by latest usage, most recent first.
// It does not filter locks.
func SortByRecency(entries []journal.Entry) {
	slices.SortStableFunc(entries, func(a, b journal.Entry) int {
		switch la, lb := a.LastUsage(), b.LastUsage(); {
		case la > lb:
			return -1
		case la < lb:
			return 1
		default:
			return 0
		}
	})
}

var (
	_ Sorter = FirstInFirstOut{}
	_ Sorter = MostRecentlyUsed{}
	_ Sorter = (*LeastFrequentlyUsedWithAging)(nil)
	_ Sorter = Func(nil)
)
