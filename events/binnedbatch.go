package events

// BinnedBatch is a run of dim-0 bins (§3): parallel Ts1s/Ts2s bin edges,
// Counts, and nullable Min/Max/Avg. A nil entry in Min/Max or Avg marks a
// bin with Counts[i] == 0, per the "missing bins hold a sentinel count=0
// and null min/max/avg" invariant.
//
// Min and Max keep the channel's native numeric type; Avg is always a
// float64 regardless of T, matching the source format's own convention of
// an always-floating average alongside a native-typed extrema pair.
type BinnedBatch[T Numeric] struct {
	Ts1s   []int64
	Ts2s   []int64
	Counts []int64
	Min    []*T
	Max    []*T
	Avg    []*float64
}

// Len returns the number of bins.
func (b *BinnedBatch[T]) Len() int { return len(b.Ts1s) }

// WaveBinnedBatch is the dim-1 counterpart of [BinnedBatch]: Min/Max/Avg
// are per-waveform-element, so each bin holds a vector of length N (or a
// nil vector for an empty bin).
type WaveBinnedBatch[T Numeric] struct {
	N      int
	Ts1s   []int64
	Ts2s   []int64
	Counts []int64
	Min    [][]T
	Max    [][]T
	Avg    [][]float64
}

// Len returns the number of bins.
func (b *WaveBinnedBatch[T]) Len() int { return len(b.Ts1s) }
