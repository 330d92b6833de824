// Package events holds the column-oriented event-batch and binned-batch
// containers of §3, and the Sitemty-equivalent stream-item sum type used
// to move them through the pipeline.
//
// The scalar-type dispatch strategy of §9's design notes is implemented
// here with Go generics: [Batch] and [WaveBatch] are monomorphic over one
// scalar type T, and the request edges (node.Server's serve and the httpapi
// query handlers) are the only places that switch on a [netpod.ScalarType]
// byte tag to pick which instantiation to construct. Every stage after that point operates on a
// single concrete T and never type-switches again.
package events

import (
	"fmt"

	"github.com/psi-daq/daqbuffer-go/netpod"
)

// Numeric is the set of scalar types that support binning (min/max/mean).
// Bool and string channels can be queried raw but are never binned.
type Numeric interface {
	~int8 | ~int16 | ~int32 | ~int64 |
		~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// Batch is a contiguous run of dim-0 (one value per event) events from one
// channel, column-oriented for cheap slicing and re-binning.
//
// Invariants (§3): Tss, Pulses, and Values share length; Tss is
// non-decreasing within a batch.
type Batch[T any] struct {
	Channel netpod.Channel
	Tss     []int64
	Pulses  []int64
	Values  []T
}

// Len returns the number of events in the batch.
func (b *Batch[T]) Len() int { return len(b.Tss) }

// Valid reports whether the batch's columns satisfy the length and
// timestamp-monotonicity invariants of §3. It does not check cross-batch
// ordering; see the range filter and multi-file chunker for that.
func (b *Batch[T]) Valid() error {
	n := len(b.Tss)
	if len(b.Pulses) != n || len(b.Values) != n {
		return fmt.Errorf("events: column length mismatch: tss=%d pulses=%d values=%d", n, len(b.Pulses), len(b.Values))
	}
	for i := 1; i < n; i++ {
		if b.Tss[i] < b.Tss[i-1] {
			return fmt.Errorf("events: non-monotone timestamp at index %d: %d < %d", i, b.Tss[i], b.Tss[i-1])
		}
	}
	return nil
}

// Slice returns the half-open sub-batch [lo, hi), sharing the backing
// arrays with b.
func (b *Batch[T]) Slice(lo, hi int) *Batch[T] {
	return &Batch[T]{
		Channel: b.Channel,
		Tss:     b.Tss[lo:hi],
		Pulses:  b.Pulses[lo:hi],
		Values:  b.Values[lo:hi],
	}
}

// WaveBatch is a contiguous run of dim-1 (fixed-length waveform per event)
// events from one channel.
type WaveBatch[T any] struct {
	Channel netpod.Channel
	N       int // waveform length, constant across the batch
	Tss     []int64
	Pulses  []int64
	Values  [][]T // len(Values[i]) == N for all i
}

// Len returns the number of events in the batch.
func (b *WaveBatch[T]) Len() int { return len(b.Tss) }

// Valid reports whether the batch's columns satisfy the length,
// waveform-width, and timestamp-monotonicity invariants of §3.
func (b *WaveBatch[T]) Valid() error {
	n := len(b.Tss)
	if len(b.Pulses) != n || len(b.Values) != n {
		return fmt.Errorf("events: column length mismatch: tss=%d pulses=%d values=%d", n, len(b.Pulses), len(b.Values))
	}
	for i, v := range b.Values {
		if len(v) != b.N {
			return fmt.Errorf("events: waveform at index %d has length %d, want %d", i, len(v), b.N)
		}
	}
	for i := 1; i < n; i++ {
		if b.Tss[i] < b.Tss[i-1] {
			return fmt.Errorf("events: non-monotone timestamp at index %d: %d < %d", i, b.Tss[i], b.Tss[i-1])
		}
	}
	return nil
}

// Slice returns the half-open sub-batch [lo, hi), sharing the backing
// arrays with b.
func (b *WaveBatch[T]) Slice(lo, hi int) *WaveBatch[T] {
	return &WaveBatch[T]{
		Channel: b.Channel,
		N:       b.N,
		Tss:     b.Tss[lo:hi],
		Pulses:  b.Pulses[lo:hi],
		Values:  b.Values[lo:hi],
	}
}
