package merge

import (
	"context"

	"github.com/psi-daq/daqbuffer-go/events"
)

// InWave is the dim-1 analogue of [In]: a channel of [events.StreamItem]
// carrying Data[*events.WaveBatch[T]] payloads.
type InWave[T any] <-chan events.StreamItem

type stateWave[T any] struct {
	ch            InWave[T]
	batch         *events.WaveBatch[T]
	pos           int
	exhausted     bool
	rangeComplete bool
	partial       bool
	erred         bool
}

func (s *stateWave[T]) ready() bool {
	return s.batch != nil && s.pos < s.batch.Len()
}

func anyErredWave[T any](states []*stateWave[T]) bool {
	for _, s := range states {
		if s.erred {
			return true
		}
	}
	return false
}

// fillWave is the dim-1 analogue of [fill]: it shares the same contract
// (Log/Stats items are forwarded immediately, never held; an error halts
// the merge).
func fillWave[T any](ctx context.Context, s *stateWave[T], emit func(events.StreamItem) bool) {
	if s.ready() || s.exhausted {
		return
	}
	for {
		select {
		case item, ok := <-s.ch:
			if !ok {
				s.exhausted = true
				return
			}
			switch v := item.(type) {
			case events.Data[*events.WaveBatch[T]]:
				if v.Batch.Len() == 0 {
					continue
				}
				s.batch, s.pos = v.Batch, 0
				return
			case events.RangeComplete:
				s.rangeComplete = true
				s.partial = v.Partial
				s.exhausted = true
				return
			case events.ErrorItem:
				emit(item)
				s.exhausted = true
				s.erred = true
				return
			default:
				if !emit(item) {
					s.exhausted = true
					return
				}
			}
		case <-ctx.Done():
			s.exhausted = true
			return
		}
	}
}

// KWayWave merges k ordered waveform-batch streams by timestamp, the dim-1
// analogue of [KWay] used to join a wave channel's splits within one
// time-bin file-set (§4.4, §4.5).
func KWayWave[T any](ctx context.Context, ins []InWave[T], outMaxLen int) <-chan events.StreamItem {
	if outMaxLen <= 0 {
		outMaxLen = DefaultOutMaxLen
	}
	out := make(chan events.StreamItem)
	go func() {
		defer close(out)
		states := make([]*stateWave[T], len(ins))
		for i, ch := range ins {
			states[i] = &stateWave[T]{ch: ch}
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
				fillWave(ctx, s, emit)
				if !s.exhausted {
					active = true
				}
			}
			if ctx.Err() != nil {
				return
			}
			if anyErredWave(states) {
				return
			}
			if !active {
				break
			}

			outBatch := &events.WaveBatch[T]{}
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
				s := states[minIdx]
				if outBatch.Channel.Name == "" {
					outBatch.Channel = s.batch.Channel
					outBatch.N = s.batch.N
				}
				outBatch.Tss = append(outBatch.Tss, s.batch.Tss[s.pos])
				outBatch.Pulses = append(outBatch.Pulses, s.batch.Pulses[s.pos])
				outBatch.Values = append(outBatch.Values, s.batch.Values[s.pos])
				s.pos++
				if !s.ready() {
					s.batch = nil
					fillWave(ctx, s, emit)
					if anyErredWave(states) {
						return
					}
				}
			}
			if outBatch.Len() == 0 {
				break
			}
			if !emit(events.Data[*events.WaveBatch[T]]{Batch: outBatch}) {
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

// StorageMergeWave is the dim-1 analogue of [StorageMerge]: n same-channel
// wave sources ordered by strictly decreasing priority (ins[0] highest),
// merged by timestamp with the higher-priority source winning on ties
// (§4.6). Used to combine a node's own local waveform stream with its
// peers' remote waveform streams for an x-bins-1 aggregated query.
func StorageMergeWave[T any](ctx context.Context, ins []InWave[T], outMaxLen int) <-chan events.StreamItem {
	if outMaxLen <= 0 {
		outMaxLen = DefaultOutMaxLen
	}
	out := make(chan events.StreamItem)
	go func() {
		defer close(out)
		states := make([]*stateWave[T], len(ins))
		for i, ch := range ins {
			states[i] = &stateWave[T]{ch: ch}
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
				fillWave(ctx, s, emit)
				if !s.exhausted {
					active = true
				}
			}
			if ctx.Err() != nil {
				return
			}
			if anyErredWave(states) {
				return
			}
			if !active {
				break
			}

			outBatch := &events.WaveBatch[T]{}
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
					outBatch.N = winner.batch.N
				}
				outBatch.Tss = append(outBatch.Tss, winner.batch.Tss[winner.pos])
				outBatch.Pulses = append(outBatch.Pulses, winner.batch.Pulses[winner.pos])
				outBatch.Values = append(outBatch.Values, winner.batch.Values[winner.pos])
				winner.pos++
				if !winner.ready() {
					winner.batch = nil
					fillWave(ctx, winner, emit)
					if anyErredWave(states) {
						return
					}
				}

				for i, s := range states {
					if i == minIdx || !s.ready() {
						continue
					}
					if s.batch.Tss[s.pos] == minTs {
						s.pos++
						if !s.ready() {
							s.batch = nil
							fillWave(ctx, s, emit)
							if anyErredWave(states) {
								return
							}
						}
					}
				}
			}
			if outBatch.Len() == 0 {
				break
			}
			if !emit(events.Data[*events.WaveBatch[T]]{Batch: outBatch}) {
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
