package sync

import (
	"cmp"
	"slices"

	"example.com/netclock/base/floats"
	"example.com/netclock/core/assoc"
)

const (
	// maxSelected caps how many trusted associations contribute to one
	// estimate. Dispersion is each source's own confidence bound, so the
	// cap keeps a large but noisy pool from diluting the best samples.
	maxSelected = 8

	// maxAssociations is the pool size above which untrusted associations
	// are evicted. Below it, untrusted associations are kept since they
	// may still become trusted and pruning could starve the estimate.
	maxAssociations = 8
)

// selectTrusted returns the active, trusted associations ordered by
// dispersion ascending, capped at max. The sort is stable so equal
// dispersions keep their original relative order.
func selectTrusted(as []assoc.Association, max int) []assoc.Association {
	var trusted []assoc.Association
	for _, a := range as {
		if a.Active() && a.Trusty() {
			trusted = append(trusted, a)
		}
	}
	slices.SortStableFunc(trusted, func(a, b assoc.Association) int {
		return cmp.Compare(a.Dispersion(), b.Dispersion())
	})
	if len(trusted) > max {
		trusted = trusted[:max]
	}
	return trusted
}

// Estimate computes the best-effort clock offset in seconds over a
// snapshot of the association set, returning the offset and the number of
// trusted associations it was averaged over. With at least one trusted
// association the offset is the mean over the up-to-maxSelected trusted
// associations with the smallest dispersion. With none, usefulCount is 0
// and the offset is cached when useCache is set, 0 otherwise. It is a
// total function and performs no I/O.
func Estimate(as []assoc.Association, cached float64, useCache bool) (
	offset float64, usefulCount int) {
	trusted := selectTrusted(as, maxSelected)
	if len(trusted) != 0 {
		offsets := make([]float64, 0, len(trusted))
		for _, a := range trusted {
			offsets = append(offsets, a.Offset())
		}
		return floats.Mean(offsets), len(trusted)
	}
	if useCache {
		return cached, 0
	}
	return 0, 0
}
