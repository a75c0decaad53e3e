package api

import "sort"

// SortPackagesNewestFirst orders packages by CreatedAt descending, breaking
// ties by ID.
func SortPackagesNewestFirst(pkgs []Package) []Package {
	if len(pkgs) == 0 {
		return nil
	}
	sorted := make([]Package, len(pkgs))
	copy(sorted, pkgs)
	sort.SliceStable(sorted, func(i, j int) bool {
		ti := ParseTime(sorted[i].CreatedAt)
		tj := ParseTime(sorted[j].CreatedAt)
		if ti.Equal(tj) {
			return sorted[i].ID > sorted[j].ID
		}
		return ti.After(tj)
	})
	return sorted
}

// StateCount is one row of a per-state summary.
type StateCount struct {
	State string
	Count int
}

// CountsInStateOrder returns the non-zero counts following the order of
// states.
func CountsInStateOrder(counts map[string]int, states []string) []StateCount {
	out := make([]StateCount, 0, len(counts))
	for _, name := range states {
		if n := counts[name]; n > 0 {
			out = append(out, StateCount{State: name, Count: n})
		}
	}
	return out
}
