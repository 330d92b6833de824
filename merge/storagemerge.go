package merge

import (
	"context"

	"github.com/psi-daq/daqbuffer-go/events"
)

// StorageMerge merges n same-channel sources ordered by strictly
// decreasing priority (ins[0] is highest priority) into one stream by
// timestamp. When two sources offer an event at the same timestamp, the
// higher-priority source's event is kept and the lower-priority one is
// discarded, never duplicated (§4.6). An exhausted source is dropped from
// further consideration; range complete is emitted iff every source's own
// range-complete was observed.
func StorageMerge[T any](ctx context.Context, ins []In[T], outMaxLen int) <-chan events.StreamItem {
	if outMaxLen <= 0 {
		outMaxLen = DefaultOutMaxLen
	}
	out := make(chan events.StreamItem)
	go func() {
		defer close(out)
		states := make([]*state[T], len(ins))
		for i, ch := range ins {
			states[i] = &state[T]{ch: ch}
		}
		emit := func(item events.StreamItem) bool {
			select {
			case out <- item:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			active := false
			for _, s := range states {
				fill(ctx, s, emit)
				if !s.exhausted {
					active = true
				}
			}
			if ctx.Err() != nil {
				return
			}
			if anyErred(states) {
				return
			}
			if !active {
				break
			}

			outBatch := &events.Batch[T]{}
			for outBatch.Len() < outMaxLen {
				minIdx := -1
				var minTs int64
				for i, s := range states {
					if !s.ready() {
						continue
					}
					ts := s.batch.Tss[s.pos]
					if minIdx == -1 || ts < minTs {
						minIdx, minTs = i, ts
					}
				}
				if minIdx == -1 {
					break
				}
				winner := states[minIdx]
				if outBatch.Channel.Name == "" {
					outBatch.Channel = winner.batch.Channel
				}
				outBatch.Tss = append(outBatch.Tss, winner.batch.Tss[winner.pos])
				outBatch.Pulses = append(outBatch.Pulses, winner.batch.Pulses[winner.pos])
				outBatch.Values = append(outBatch.Values, winner.batch.Values[winner.pos])
				winner.pos++
				if !winner.ready() {
					winner.batch = nil
					fill(ctx, winner, emit)
					if anyErred(states) {
						return
					}
				}

				// Discard any lower-priority source's event at the same
				// timestamp; it must not be emitted twice.
				for i, s := range states {
					if i == minIdx || !s.ready() {
						continue
					}
					if s.batch.Tss[s.pos] == minTs {
						s.pos++
						if !s.ready() {
							s.batch = nil
							fill(ctx, s, emit)
							if anyErred(states) {
								return
							}
						}
					}
				}
			}
			if outBatch.Len() == 0 {
				break
			}
			if !emit(events.Data[*events.Batch[T]]{Batch: outBatch}) {
				return
			}
		}

		allComplete := true
		anyPartial := false
		for _, s := range states {
			if !s.rangeComplete {
				allComplete = false
				break
			}
			anyPartial = anyPartial || s.partial
		}
		if allComplete {
			emit(events.RangeComplete{Partial: anyPartial})
		}
	}()
	return out
}
