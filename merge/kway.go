// Package merge implements the k-way event-batch merger (§4.5) and the
// cross-site storage-merge priority front (§4.6).
package merge

import (
	"context"

	"github.com/psi-daq/daqbuffer-go/events"
)

// In is one input stream of a merger: a channel of [events.StreamItem]
// carrying Data[*events.Batch[T]] payloads, produced by an upstream stage
// (multi-file chunker, remote fan-out connection, or another merger).
type In[T any] <-chan events.StreamItem

// DefaultOutMaxLen is the default output batch size cap (§4.5).
const DefaultOutMaxLen = 4096

type state[T any] struct {
	ch            In[T]
	batch         *events.Batch[T]
	pos           int
	exhausted     bool
	rangeComplete bool
	partial       bool
	erred         bool
}

// ready reports whether s currently has a buffered, unconsumed event.
func (s *state[T]) ready() bool {
	return s.batch != nil && s.pos < s.batch.Len()
}

// anyErred reports whether any state observed an ErrorItem from its
// input. Per §3's universal stream invariant, once an error has been
// forwarded downstream the merger must stop pulling and emitting
// anything further, regardless of how many other inputs are still live.
func anyErred[T any](states []*state[T]) bool {
	for _, s := range states {
		if s.erred {
			return true
		}
	}
	return false
}

// fill pulls from s's channel until it has a non-empty batch buffered, is
// exhausted, or the context is done. Log and Stats items encountered along
// the way are forwarded via emit immediately, never held (§4.5).
func fill[T any](ctx context.Context, s *state[T], emit func(events.StreamItem) bool) {
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
			case events.Data[*events.Batch[T]]:
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
				// LogItem, StatsItem, or any other diagnostic: forward and
				// keep pulling for the next data-bearing item.
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

// KWay merges k ordered event-batch streams by timestamp, stable on ties
// (lower input index wins), into one output stream of batches bounded by
// outMaxLen. RangeComplete is propagated only once every input has emitted
// its own. An error on any input is forwarded and ends the merger.
func KWay[T any](ctx context.Context, ins []In[T], outMaxLen int) <-chan events.StreamItem {
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
				s := states[minIdx]
				if outBatch.Channel.Name == "" {
					outBatch.Channel = s.batch.Channel
				}
				outBatch.Tss = append(outBatch.Tss, s.batch.Tss[s.pos])
				outBatch.Pulses = append(outBatch.Pulses, s.batch.Pulses[s.pos])
				outBatch.Values = append(outBatch.Values, s.batch.Values[s.pos])
				s.pos++
				if !s.ready() {
					s.batch = nil
					fill(ctx, s, emit)
					if anyErred(states) {
						return
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
