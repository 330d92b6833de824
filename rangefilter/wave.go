package rangefilter

import (
	"context"

	"github.com/psi-daq/daqbuffer-go/events"
	"github.com/psi-daq/daqbuffer-go/netpod"
)

// FilterWave is the dim-1 analogue of Filter, trimming a waveform batch
// stream to Range with the same single-event boundary expansion (§4.3).
//
// FilterWave is not safe for concurrent use; it is driven by a single
// consumer goroutine pulling from In.
type FilterWave[T any] struct {
	Range  netpod.NanoRange
	Expand bool

	emittedPre  bool
	emittedPost bool
	done        bool

	pendingPre *events.WaveBatch[T]
}

// NewWave constructs a FilterWave over rng, expanding the boundaries if
// expand is set.
func NewWave[T any](rng netpod.NanoRange, expand bool) *FilterWave[T] {
	return &FilterWave[T]{Range: rng, Expand: expand}
}

// Step applies the filter to one input batch, mirroring [Filter.Step].
func (f *FilterWave[T]) Step(in *events.WaveBatch[T]) (out *events.WaveBatch[T], rangeComplete bool) {
	if f.done {
		return &events.WaveBatch[T]{Channel: in.Channel, N: in.N}, true
	}

	n := in.Len()
	out = &events.WaveBatch[T]{Channel: in.Channel, N: in.N}
	for i := 0; i < n; i++ {
		ts := in.Tss[i]
		switch {
		case ts < f.Range.Beg:
			if f.Expand {
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

func (f *FilterWave[T]) flushPendingPre(out *events.WaveBatch[T]) {
	if f.emittedPre || f.pendingPre == nil || f.pendingPre.Len() == 0 {
		return
	}
	out.Tss = append(out.Tss, f.pendingPre.Tss[0])
	out.Pulses = append(out.Pulses, f.pendingPre.Pulses[0])
	out.Values = append(out.Values, f.pendingPre.Values[0])
	f.emittedPre = true
}

// Finish mirrors [Filter.Finish].
func (f *FilterWave[T]) Finish(upstreamProvedComplete bool) (out *events.WaveBatch[T], rangeComplete bool) {
	out = &events.WaveBatch[T]{}
	f.flushPendingPre(out)
	return out, upstreamProvedComplete
}

// RunWave is the dim-1 analogue of Run.
func RunWave[T any](ctx context.Context, in <-chan events.StreamItem, rng netpod.NanoRange, expand bool) <-chan events.StreamItem {
	out := make(chan events.StreamItem)
	go func() {
		defer close(out)
		f := NewWave[T](rng, expand)
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
				case events.Data[*events.WaveBatch[T]]:
					filtered, rangeComplete := f.Step(v.Batch)
					if filtered.Len() > 0 {
						out <- events.Data[*events.WaveBatch[T]]{Batch: filtered}
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
			out <- events.Data[*events.WaveBatch[T]]{Batch: tail}
		}
		if rangeComplete {
			out <- events.RangeComplete{Partial: upstreamPartial}
		}
	}()
	return out
}
