package binning

import (
	"context"
	"testing"

	"github.com/psi-daq/daqbuffer-go/events"
)

func feed[T events.Numeric](tss []int64, vals []T) <-chan events.StreamItem {
	ch := make(chan events.StreamItem, 1)
	go func() {
		defer close(ch)
		ch <- events.Data[*events.Batch[T]]{Batch: &events.Batch[T]{
			Tss: tss, Pulses: make([]int64, len(tss)), Values: vals,
		}}
		ch <- events.RangeComplete{}
	}()
	return ch
}

// TestBinPartition checks Testable Property 3: exactly n bins, contiguous
// ts1/ts2 edges spanning the full range, counts summing to the number of
// in-range events.
func TestBinPartition(t *testing.T) {
	spec := Spec{Beg: 0, End: 100, BinCount: 10}
	tss := []int64{1, 5, 15, 25, 99, 100 /* out of range */}
	vals := []float64{1, 2, 3, 4, 5, 6}
	out := Bin[float64](context.Background(), feed(tss, vals), spec)

	var result *events.BinnedBatch[float64]
	var gotComplete bool
	for item := range out {
		switch v := item.(type) {
		case events.Data[*events.BinnedBatch[float64]]:
			result = v.Batch
		case events.RangeComplete:
			gotComplete = true
		}
	}
	if !gotComplete {
		t.Fatal("expected range complete")
	}
	if result.Len() != spec.BinCount {
		t.Fatalf("got %d bins, want %d", result.Len(), spec.BinCount)
	}
	if result.Ts1s[0] != spec.Beg {
		t.Errorf("first bin ts1 = %d, want %d", result.Ts1s[0], spec.Beg)
	}
	if result.Ts2s[len(result.Ts2s)-1] != spec.End {
		t.Errorf("last bin ts2 = %d, want %d", result.Ts2s[len(result.Ts2s)-1], spec.End)
	}
	var totalCount int64
	for i := 0; i < result.Len(); i++ {
		if i > 0 && result.Ts2s[i-1] != result.Ts1s[i] {
			t.Errorf("bin %d: gap between ts2[%d]=%d and ts1[%d]=%d", i, i-1, result.Ts2s[i-1], i, result.Ts1s[i])
		}
		totalCount += result.Counts[i]
	}
	if totalCount != 5 { // the ts==100 event is out of [0,100)
		t.Errorf("total count = %d, want 5", totalCount)
	}
}

func TestBinEmptyBinsAreNull(t *testing.T) {
	spec := Spec{Beg: 0, End: 10, BinCount: 2}
	out := Bin[int32](context.Background(), feed([]int64{1}, []int32{7}), spec)
	var result *events.BinnedBatch[int32]
	for item := range out {
		if v, ok := item.(events.Data[*events.BinnedBatch[int32]]); ok {
			result = v.Batch
		}
	}
	if result.Counts[1] != 0 || result.Min[1] != nil || result.Max[1] != nil || result.Avg[1] != nil {
		t.Errorf("expected empty second bin to be null, got counts=%d min=%v max=%v avg=%v",
			result.Counts[1], result.Min[1], result.Max[1], result.Avg[1])
	}
	if result.Counts[0] != 1 || *result.Min[0] != 7 {
		t.Errorf("expected first bin to hold the one event")
	}
}

func TestBinTimeWeightedRequiresSeed(t *testing.T) {
	spec := Spec{Beg: 10, End: 20, BinCount: 1}
	// Seed event at ts=5 (before Beg), then one in-range event at ts=15.
	out := BinTimeWeighted[float64](context.Background(), feed([]int64{5, 15}, []float64{2, 8}), spec)
	var result *events.BinnedBatch[float64]
	for item := range out {
		if v, ok := item.(events.Data[*events.BinnedBatch[float64]]); ok {
			result = v.Batch
		}
	}
	if result.Avg[0] == nil {
		t.Fatal("expected a time-weighted average given a seed event")
	}
	// [10,15) holds value 2 (5 ns), [15,20) holds value 8 (5 ns):
	// weighted avg = (2*5 + 8*5) / 10 = 5.
	if got, want := *result.Avg[0], 5.0; got != want {
		t.Errorf("got avg %v, want %v", got, want)
	}
}
