// Package rangefilter restricts a batch stream to a half-open time range,
// with optional boundary expansion (§4.3).
package rangefilter

import (
	"context"

	"github.com/psi-daq/daqbuffer-go/events"
	"github.com/psi-daq/daqbuffer-go/netpod"
)

// Filter wraps an upstream batch stream and emits only events within Range,
// optionally retaining one event strictly outside each boundary.
//
// Filter is not safe for concurrent use; it is driven by a single consumer
// goroutine pulling from In.
type Filter[T any] struct {
	Range  netpod.NanoRange
	Expand bool

	emittedPre  bool
	emittedPost bool
	done        bool

	// pendingPre holds the best (greatest-ts) candidate seen so far for the
	// single pre-range expansion slot, replaced as better candidates arrive.
	pendingPre *events.Batch[T]
}

// New constructs a Filter over rng, expanding the boundaries if expand is
// set.
func New[T any](rng netpod.NanoRange, expand bool) *Filter[T] {
	return &Filter[T]{Range: rng, Expand: expand}
}

// Step applies the filter to one input batch, returning the filtered batch
// (possibly empty) and whether the caller should stop pulling further
// upstream batches (range complete was reached mid-batch).
func (f *Filter[T]) Step(in *events.Batch[T]) (out *events.Batch[T], rangeComplete bool) {
	if f.done {
		return &events.Batch[T]{Channel: in.Channel}, true
	}

	n := in.Len()
	out = &events.Batch[T]{Channel: in.Channel}
	for i := 0; i < n; i++ {
		ts := in.Tss[i]
		switch {
		case ts < f.Range.Beg:
			if f.Expand {
				// Track the greatest pre-range event seen; replace any
				// earlier candidate, never emit it here.
				cand := in.Slice(i, i+1)
				f.pendingPre = cand
			}
		case ts >= f.Range.End:
			if f.Expand && !f.emittedPost {
				f.flushPendingPre(out)
				out.Tss = append(out.Tss, ts)
				out.Pulses = append(out.Pulses, in.Pulses[i])
				out.Values = append(out.Values, in.Values[i])
				f.emittedPost = true
			}
			f.done = true
			return out, true
		default:
			f.flushPendingPre(out)
			out.Tss = append(out.Tss, ts)
			out.Pulses = append(out.Pulses, in.Pulses[i])
			out.Values = append(out.Values, in.Values[i])
		}
	}
	return out, false
}

// flushPendingPre emits the single retained pre-range expansion event, if
// any, exactly once.
func (f *Filter[T]) flushPendingPre(out *events.Batch[T]) {
	if f.emittedPre || f.pendingPre == nil || f.pendingPre.Len() == 0 {
		return
	}
	out.Tss = append(out.Tss, f.pendingPre.Tss[0])
	out.Pulses = append(out.Pulses, f.pendingPre.Pulses[0])
	out.Values = append(out.Values, f.pendingPre.Values[0])
	f.emittedPre = true
}

// Finish is called when the upstream ends without crossing range.End. It
// reports whether RangeComplete may be declared, per the upstream's own
// contract (single file spanning the range, or multi-file chunker that
// exhausted all intersecting file-sets).
func (f *Filter[T]) Finish(upstreamProvedComplete bool) (out *events.Batch[T], rangeComplete bool) {
	out = &events.Batch[T]{}
	f.flushPendingPre(out)
	return out, upstreamProvedComplete
}

// Run adapts Filter onto a StreamItem channel, the same shape as every
// other pipeline stage (merge.KWay, binning.Bin): it drives Step/Finish
// against in and forwards everything else (logs, stats, errors)
// untouched.
func Run[T any](ctx context.Context, in <-chan events.StreamItem, rng netpod.NanoRange, expand bool) <-chan events.StreamItem {
	out := make(chan events.StreamItem)
	go func() {
		defer close(out)
		f := New[T](rng, expand)
		upstreamComplete := false
		upstreamPartial := false
	loop:
		for {
			select {
			case item, ok := <-in:
				if !ok {
					break loop
				}
				switch v := item.(type) {
				case events.Data[*events.Batch[T]]:
					filtered, rangeComplete := f.Step(v.Batch)
					if filtered.Len() > 0 {
						out <- events.Data[*events.Batch[T]]{Batch: filtered}
					}
					if rangeComplete {
						out <- events.RangeComplete{}
						return
					}
				case events.RangeComplete:
					upstreamComplete = true
					upstreamPartial = v.Partial
					break loop
				default:
					out <- item
				}
			case <-ctx.Done():
				return
			}
		}
		tail, rangeComplete := f.Finish(upstreamComplete)
		if tail.Len() > 0 {
			out <- events.Data[*events.Batch[T]]{Batch: tail}
		}
		if rangeComplete {
			out <- events.RangeComplete{Partial: upstreamPartial}
		}
	}()
	return out
}
