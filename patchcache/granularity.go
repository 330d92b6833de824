package patchcache

// Granularities is the canonical bin_len_ns table (§3, §4.8), coarsest
// first. It mixes bases 10 and 60 to align patches to wall-clock seconds,
// minutes, hours, and days; each entry divides its coarser neighbor by an
// integer in [2, 20].
var Granularities = []int64{
	86_400_000_000_000, // 1 day
	21_600_000_000_000, // 6 hours
	3_600_000_000_000,  // 1 hour
	600_000_000_000,    // 10 minutes
	60_000_000_000,     // 1 minute
	10_000_000_000,     // 10 seconds
	1_000_000_000,      // 1 second
	100_000_000,        // 100 ms
	10_000_000,         // 10 ms
	1_000_000,          // 1 ms
}

// FinerGranularity returns the finest (smallest) granularity h such that
// binLenNs/h lies in [2, 200] and binLenNs%h == 0 (§4.8 step 2), searching
// from the finest table entry toward the coarsest.
func FinerGranularity(binLenNs int64) (h int64, ok bool) {
	for i := len(Granularities) - 1; i >= 0; i-- {
		cand := Granularities[i]
		if cand >= binLenNs || binLenNs%cand != 0 {
			continue
		}
		ratio := binLenNs / cand
		if ratio >= 2 && ratio <= 200 {
			return cand, true
		}
	}
	return 0, false
}
