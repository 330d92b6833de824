// Package binning folds an ordered event stream into fixed-width bins
// (§4.7), in both the plain and time-weighted variants.
package binning

import (
	"context"
	"math"

	"github.com/psi-daq/daqbuffer-go/events"
)

// Spec describes one binned query's bin geometry: bin_count bins covering
// the half-open [Beg, End) range, each bin_len_ns = (End-Beg)/BinCount wide.
type Spec struct {
	Beg      int64
	End      int64
	BinCount int
}

// BinLenNs returns the per-bin width in nanoseconds.
func (s Spec) BinLenNs() int64 { return (s.End - s.Beg) / int64(s.BinCount) }

func isNaNAny[T events.Numeric](v T) bool {
	switch x := any(v).(type) {
	case float32:
		return math.IsNaN(float64(x))
	case float64:
		return math.IsNaN(x)
	default:
		return false
	}
}

func newResult[T events.Numeric](spec Spec) *events.BinnedBatch[T] {
	n := spec.BinCount
	binLen := spec.BinLenNs()
	r := &events.BinnedBatch[T]{
		Ts1s:   make([]int64, n),
		Ts2s:   make([]int64, n),
		Counts: make([]int64, n),
		Min:    make([]*T, n),
		Max:    make([]*T, n),
		Avg:    make([]*float64, n),
	}
	for i := 0; i < n; i++ {
		r.Ts1s[i] = spec.Beg + int64(i)*binLen
		r.Ts2s[i] = spec.Beg + int64(i+1)*binLen
	}
	return r
}

// Bin produces exactly spec.BinCount bins from in, the plain (arithmetic
// mean) variant of §4.7. Events outside [spec.Beg, spec.End) are ignored;
// an empty bin keeps Counts==0 and nil Min/Max/Avg.
func Bin[T events.Numeric](ctx context.Context, in <-chan events.StreamItem, spec Spec) <-chan events.StreamItem {
	out := make(chan events.StreamItem)
	go func() {
		defer close(out)
		n := spec.BinCount
		binLen := spec.BinLenNs()
		result := newResult[T](spec)
		sums := make([]float64, n)
		nonNaN := make([]int64, n)
		mins := make([]*T, n)
		maxs := make([]*T, n)

		binIdx := func(ts int64) int {
			if ts < spec.Beg || ts >= spec.End {
				return -1
			}
			idx := int((ts - spec.Beg) / binLen)
			if idx >= n {
				idx = n - 1
			}
			return idx
		}

		var upstreamComplete, upstreamPartial bool
	loop:
		for {
			select {
			case item, ok := <-in:
				if !ok {
					break loop
				}
				switch v := item.(type) {
				case events.Data[*events.Batch[T]]:
					b := v.Batch
					for i, ts := range b.Tss {
						bi := binIdx(ts)
						if bi < 0 {
							continue
						}
						val := b.Values[i]
						result.Counts[bi]++
						if isNaNAny(val) {
							continue
						}
						nonNaN[bi]++
						sums[bi] += float64(val)
						if mins[bi] == nil || val < *mins[bi] {
							vv := val
							mins[bi] = &vv
						}
						if maxs[bi] == nil || val > *maxs[bi] {
							vv := val
							maxs[bi] = &vv
						}
					}
				case events.RangeComplete:
					// the binner always emits exactly bin_count bins
					// regardless; keep draining for any trailing items.
					upstreamComplete, upstreamPartial = true, v.Partial
				case events.ErrorItem:
					out <- item
					return
				default:
					out <- item
				}
			case <-ctx.Done():
				return
			}
		}

		for i := 0; i < n; i++ {
			if nonNaN[i] > 0 {
				avg := sums[i] / float64(nonNaN[i])
				result.Avg[i] = &avg
				result.Min[i] = mins[i]
				result.Max[i] = maxs[i]
			}
		}
		out <- events.Data[*events.BinnedBatch[T]]{Batch: result}
		if upstreamComplete {
			out <- events.RangeComplete{Partial: upstreamPartial}
		}
	}()
	return out
}

// BinTimeWeighted produces the time-weighted variant of §4.7: each bin's
// average is the integral of the step-interpolated signal over the bin,
// divided by the bin width. It requires one event strictly before spec.Beg
// to seed the interpolation (the caller must have enabled range expansion
// upstream); without a seed event, the interpolation starts from the first
// in-range event and that event's leading partial segment contributes
// nothing.
func BinTimeWeighted[T events.Numeric](ctx context.Context, in <-chan events.StreamItem, spec Spec) <-chan events.StreamItem {
	out := make(chan events.StreamItem)
	go func() {
		defer close(out)
		n := spec.BinCount
		binLen := spec.BinLenNs()
		result := newResult[T](spec)
		weightedSum := make([]float64, n)
		weightNs := make([]int64, n)
		mins := make([]*T, n)
		maxs := make([]*T, n)

		var havePrev bool
		var prevTs int64
		var prevVal T

		binIdx := func(ts int64) int {
			if ts < spec.Beg {
				return -1
			}
			if ts >= spec.End {
				return n
			}
			idx := int((ts - spec.Beg) / binLen)
			if idx >= n {
				idx = n - 1
			}
			return idx
		}

		// addSegment distributes the constant value val held over
		// [segBeg, segEnd) across every bin it overlaps, clipped to
		// [spec.Beg, spec.End).
		addSegment := func(segBeg, segEnd int64, val T) {
			if segBeg < spec.Beg {
				segBeg = spec.Beg
			}
			if segEnd > spec.End {
				segEnd = spec.End
			}
			if segEnd <= segBeg || isNaNAny(val) {
				return
			}
			for ts := segBeg; ts < segEnd; {
				bi := int((ts - spec.Beg) / binLen)
				if bi >= n {
					break
				}
				binEnd := spec.Beg + int64(bi+1)*binLen
				stop := segEnd
				if binEnd < stop {
					stop = binEnd
				}
				width := stop - ts
				weightedSum[bi] += float64(val) * float64(width)
				weightNs[bi] += width
				if mins[bi] == nil || val < *mins[bi] {
					vv := val
					mins[bi] = &vv
				}
				if maxs[bi] == nil || val > *maxs[bi] {
					vv := val
					maxs[bi] = &vv
				}
				ts = stop
			}
		}

		record := func(ts int64, val T) {
			if bi := binIdx(ts); bi >= 0 && bi < n {
				result.Counts[bi]++
			}
			if havePrev {
				addSegment(prevTs, ts, prevVal)
			}
			prevTs, prevVal, havePrev = ts, val, true
		}

		var upstreamComplete, upstreamPartial bool
	loop:
		for {
			select {
			case item, ok := <-in:
				if !ok {
					break loop
				}
				switch v := item.(type) {
				case events.Data[*events.Batch[T]]:
					b := v.Batch
					for i, ts := range b.Tss {
						record(ts, b.Values[i])
					}
				case events.RangeComplete:
					upstreamComplete, upstreamPartial = true, v.Partial
				case events.ErrorItem:
					out <- item
					return
				default:
					out <- item
				}
			case <-ctx.Done():
				return
			}
		}

		if havePrev && prevTs < spec.End {
			addSegment(prevTs, spec.End, prevVal)
		}
		for i := 0; i < n; i++ {
			if weightNs[i] > 0 {
				avg := weightedSum[i] / float64(weightNs[i])
				result.Avg[i] = &avg
				result.Min[i] = mins[i]
				result.Max[i] = maxs[i]
			}
		}
		out <- events.Data[*events.BinnedBatch[T]]{Batch: result}
		if upstreamComplete {
			out <- events.RangeComplete{Partial: upstreamPartial}
		}
	}()
	return out
}
