// Package collector accumulates a final stream (raw or binned) into a
// response value ready for JSON or binary delivery (§4.10), using a
// compact anchor-second-plus-offset timestamp encoding to avoid 64-bit
// integers in JSON.
package collector

import (
	"context"
	"encoding/json"
	"time"

	"github.com/psi-daq/daqbuffer-go/events"
	"github.com/psi-daq/daqbuffer-go/netpod"
)

// compactTimes is the anchor-second-plus-offset encoding: AnchorSec is the
// floor-second of the first timestamp, and each row holds its millisecond
// offset from the anchor plus a sub-millisecond nanosecond remainder.
type compactTimes struct {
	AnchorSec int64   `json:"anchorSec"`
	Ms        []int64 `json:"ms"`
	NsRem     []int32 `json:"nsRem"`
}

func newCompactTimes(tss []int64) compactTimes {
	if len(tss) == 0 {
		return compactTimes{}
	}
	anchor := tss[0] / int64(time.Second)
	anchorNs := anchor * int64(time.Second)
	ct := compactTimes{AnchorSec: anchor, Ms: make([]int64, len(tss)), NsRem: make([]int32, len(tss))}
	for i, ts := range tss {
		d := ts - anchorNs
		ct.Ms[i] = d / int64(time.Millisecond)
		ct.NsRem[i] = int32(d % int64(time.Millisecond))
	}
	return ct
}

// Stats carries the disk I/O and range-filter counters supplemented from
// the original implementation's OpenStats/SeekStats/ReadStats.
type Stats struct {
	OpenCount    int64         `json:"openCount"`
	SeekCount    int64         `json:"seekCount"`
	ReadCount    int64         `json:"readCount"`
	BytesRead    int64         `json:"bytesRead"`
	RangeFilter  int64         `json:"rangeFilterCount"`
	Elapsed      time.Duration `json:"-"`
	ElapsedMs    int64         `json:"elapsedMs"`
}

func (s *Stats) observe(item events.StatsItem) {
	switch item.Kind {
	case events.StatsOpen:
		s.OpenCount += item.Count
	case events.StatsSeek:
		s.SeekCount += item.Count
	case events.StatsRead:
		s.ReadCount += item.Count
		s.BytesRead += item.Bytes
	case events.StatsRangeFilter:
		s.RangeFilter += item.Count
	}
	s.Elapsed += item.Duration
	s.ElapsedMs = s.Elapsed.Milliseconds()
}

// EventsResult is the accumulated response to a raw events query.
type EventsResult[T any] struct {
	Channel    netpod.Channel
	Tss        []int64
	Pulses     []int64
	Values     []T
	RangeFinal bool
	TimedOut   bool
	Stats      Stats
	Logs       []events.LogItem
}

type eventsResultJSON[T any] struct {
	Channel    netpod.Channel   `json:"channel"`
	Ts         compactTimes     `json:"ts"`
	Pulses     []int64          `json:"pulses"`
	Values     []T              `json:"values"`
	RangeFinal bool             `json:"rangeFinal"`
	TimedOut   bool             `json:"timedOut"`
	Stats      Stats            `json:"stats"`
	Logs       []events.LogItem `json:"logs,omitempty"`
}

// MarshalJSON implements json.Marshaler with the compact timestamp
// encoding.
func (r *EventsResult[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(eventsResultJSON[T]{
		Channel:    r.Channel,
		Ts:         newCompactTimes(r.Tss),
		Pulses:     r.Pulses,
		Values:     r.Values,
		RangeFinal: r.RangeFinal,
		TimedOut:   r.TimedOut,
		Stats:      r.Stats,
		Logs:       r.Logs,
	})
}

// CollectEvents accumulates a raw event stream into an [EventsResult]. It
// returns on stream close (terminal error or natural end); ctx cancellation
// (typically a deadline set by the caller's watchdog) sets TimedOut and
// returns the partial result rather than an error, per §7's timeout
// handling.
func CollectEvents[T any](ctx context.Context, in <-chan events.StreamItem) (*EventsResult[T], error) {
	r := &EventsResult[T]{}
	for {
		select {
		case item, ok := <-in:
			if !ok {
				return r, nil
			}
			switch v := item.(type) {
			case events.Data[*events.Batch[T]]:
				r.Channel = v.Batch.Channel
				r.Tss = append(r.Tss, v.Batch.Tss...)
				r.Pulses = append(r.Pulses, v.Batch.Pulses...)
				r.Values = append(r.Values, v.Batch.Values...)
			case events.RangeComplete:
				r.RangeFinal = !v.Partial
			case events.LogItem:
				r.Logs = append(r.Logs, v)
			case events.StatsItem:
				r.Stats.observe(v)
			case events.ErrorItem:
				return r, v
			}
		case <-ctx.Done():
			r.TimedOut = true
			return r, nil
		}
	}
}

// EventsResultWave is the dim-1 analogue of EventsResult: one value slice
// per event, not one scalar.
type EventsResultWave[T any] struct {
	Channel    netpod.Channel
	N          int
	Tss        []int64
	Pulses     []int64
	Values     [][]T
	RangeFinal bool
	TimedOut   bool
	Stats      Stats
	Logs       []events.LogItem
}

type eventsResultWaveJSON[T any] struct {
	Channel    netpod.Channel   `json:"channel"`
	N          int              `json:"n"`
	Ts         compactTimes     `json:"ts"`
	Pulses     []int64          `json:"pulses"`
	Values     [][]T            `json:"values"`
	RangeFinal bool             `json:"rangeFinal"`
	TimedOut   bool             `json:"timedOut"`
	Stats      Stats            `json:"stats"`
	Logs       []events.LogItem `json:"logs,omitempty"`
}

// MarshalJSON implements json.Marshaler with the same compact timestamp
// encoding as [EventsResult].
func (r *EventsResultWave[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(eventsResultWaveJSON[T]{
		Channel:    r.Channel,
		N:          r.N,
		Ts:         newCompactTimes(r.Tss),
		Pulses:     r.Pulses,
		Values:     r.Values,
		RangeFinal: r.RangeFinal,
		TimedOut:   r.TimedOut,
		Stats:      r.Stats,
		Logs:       r.Logs,
	})
}

// CollectEventsWave is the dim-1 analogue of CollectEvents.
func CollectEventsWave[T any](ctx context.Context, in <-chan events.StreamItem) (*EventsResultWave[T], error) {
	r := &EventsResultWave[T]{}
	for {
		select {
		case item, ok := <-in:
			if !ok {
				return r, nil
			}
			switch v := item.(type) {
			case events.Data[*events.WaveBatch[T]]:
				r.Channel = v.Batch.Channel
				r.N = v.Batch.N
				r.Tss = append(r.Tss, v.Batch.Tss...)
				r.Pulses = append(r.Pulses, v.Batch.Pulses...)
				r.Values = append(r.Values, v.Batch.Values...)
			case events.RangeComplete:
				r.RangeFinal = !v.Partial
			case events.LogItem:
				r.Logs = append(r.Logs, v)
			case events.StatsItem:
				r.Stats.observe(v)
			case events.ErrorItem:
				return r, v
			}
		case <-ctx.Done():
			r.TimedOut = true
			return r, nil
		}
	}
}

// BinnedResult is the accumulated response to a binned query.
type BinnedResult[T events.Numeric] struct {
	Ts1s        []int64
	Ts2s        []int64
	Counts      []int64
	Min         []*T
	Max         []*T
	Avg         []*float64
	RangeFinal  bool
	TimedOut    bool
	MissingBins int64
	Stats       Stats
	Logs        []events.LogItem
}

type binnedResultJSON[T events.Numeric] struct {
	Ts1 compactTimes `json:"ts1"`
	Ts2 compactTimes `json:"ts2"`

	Counts      []int64          `json:"counts"`
	Min         []*T             `json:"min"`
	Max         []*T             `json:"max"`
	Avg         []*float64       `json:"avg"`
	RangeFinal  bool             `json:"rangeFinal"`
	TimedOut    bool             `json:"timedOut"`
	MissingBins int64            `json:"missingBins,omitempty"`
	Stats       Stats            `json:"stats"`
	Logs        []events.LogItem `json:"logs,omitempty"`
}

// MarshalJSON implements json.Marshaler with the compact timestamp
// encoding, applied independently to the bin-start and bin-end columns.
func (r *BinnedResult[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(binnedResultJSON[T]{
		Ts1:         newCompactTimes(r.Ts1s),
		Ts2:         newCompactTimes(r.Ts2s),
		Counts:      r.Counts,
		Min:         r.Min,
		Max:         r.Max,
		Avg:         r.Avg,
		RangeFinal:  r.RangeFinal,
		TimedOut:    r.TimedOut,
		MissingBins: r.MissingBins,
		Stats:       r.Stats,
		Logs:        r.Logs,
	})
}

// CollectBinned accumulates a binned stream into a [BinnedResult].
func CollectBinned[T events.Numeric](ctx context.Context, in <-chan events.StreamItem) (*BinnedResult[T], error) {
	r := &BinnedResult[T]{}
	for {
		select {
		case item, ok := <-in:
			if !ok {
				return r, nil
			}
			switch v := item.(type) {
			case events.Data[*events.BinnedBatch[T]]:
				r.Ts1s = append(r.Ts1s, v.Batch.Ts1s...)
				r.Ts2s = append(r.Ts2s, v.Batch.Ts2s...)
				r.Counts = append(r.Counts, v.Batch.Counts...)
				r.Min = append(r.Min, v.Batch.Min...)
				r.Max = append(r.Max, v.Batch.Max...)
				r.Avg = append(r.Avg, v.Batch.Avg...)
				for _, c := range v.Batch.Counts {
					if c == 0 {
						r.MissingBins++
					}
				}
			case events.RangeComplete:
				r.RangeFinal = !v.Partial
			case events.LogItem:
				r.Logs = append(r.Logs, v)
			case events.StatsItem:
				r.Stats.observe(v)
			case events.ErrorItem:
				return r, v
			}
		case <-ctx.Done():
			r.TimedOut = true
			return r, nil
		}
	}
}
