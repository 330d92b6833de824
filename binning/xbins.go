package binning

import (
	"context"

	"github.com/psi-daq/daqbuffer-go/events"
)

// waveformMean reduces one event's waveform to its arithmetic mean,
// skipping NaN elements the same way [Bin]'s bin averages do.
func waveformMean[T events.Numeric](vals []T) T {
	var sum float64
	var n int
	for _, v := range vals {
		if isNaNAny(v) {
			continue
		}
		sum += float64(v)
		n++
	}
	if n == 0 {
		return T(0)
	}
	return T(sum / float64(n))
}

// ReduceXBins1 implements the x-bins-1 aggregation kind (§3): each event's
// waveform is reduced to a single scalar (its mean) before any bin-aligned
// averaging happens, turning a dim-1 stream into the same dim-0
// [events.Batch] shape every other aggregation kind consumes. The caller
// chains the result into [Bin] exactly as it would a native scalar stream.
func ReduceXBins1[T events.Numeric](ctx context.Context, in <-chan events.StreamItem) <-chan events.StreamItem {
	out := make(chan events.StreamItem)
	go func() {
		defer close(out)
		for {
			select {
			case item, ok := <-in:
				if !ok {
					return
				}
				switch v := item.(type) {
				case events.Data[*events.WaveBatch[T]]:
					wb := v.Batch
					sb := &events.Batch[T]{
						Channel: wb.Channel,
						Tss:     wb.Tss,
						Pulses:  wb.Pulses,
						Values:  make([]T, wb.Len()),
					}
					for i, vals := range wb.Values {
						sb.Values[i] = waveformMean(vals)
					}
					if !emit(ctx, out, events.Data[*events.Batch[T]]{Batch: sb}) {
						return
					}
				default:
					if !emit(ctx, out, item) {
						return
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func emit(ctx context.Context, out chan<- events.StreamItem, item events.StreamItem) bool {
	select {
	case out <- item:
		return true
	case <-ctx.Done():
		return false
	}
}
