package merge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/psi-daq/daqbuffer-go/events"
	"github.com/psi-daq/daqbuffer-go/netpod"
)

func source(tss []int64, vals []int32) In[int32] {
	ch := make(chan events.StreamItem, 2)
	go func() {
		defer close(ch)
		pulses := make([]int64, len(tss))
		ch <- events.Data[*events.Batch[int32]]{Batch: &events.Batch[int32]{
			Channel: netpod.Channel{Name: "x"},
			Tss:     tss, Pulses: pulses, Values: vals,
		}}
		ch <- events.RangeComplete{}
	}()
	return ch
}

// errorSource emits one data batch and then an ErrorItem, never a
// RangeComplete — modeling a source that fails partway through.
func errorSource(tss []int64, vals []int32, cause error) In[int32] {
	ch := make(chan events.StreamItem, 2)
	go func() {
		defer close(ch)
		if len(tss) > 0 {
			pulses := make([]int64, len(tss))
			ch <- events.Data[*events.Batch[int32]]{Batch: &events.Batch[int32]{
				Channel: netpod.Channel{Name: "x"},
				Tss:     tss, Pulses: pulses, Values: vals,
			}}
		}
		ch <- events.ErrorItem{Err: cause}
	}()
	return ch
}

// drainAll collects every item off out, in order, until it closes.
func drainAll(t *testing.T, out <-chan events.StreamItem) []events.StreamItem {
	t.Helper()
	timeout := time.After(2 * time.Second)
	var items []events.StreamItem
	for {
		select {
		case item, ok := <-out:
			if !ok {
				return items
			}
			items = append(items, item)
		case <-timeout:
			t.Fatal("timed out draining merged stream")
		}
	}
}

func drain(t *testing.T, out <-chan events.StreamItem) (tss []int64, vals []int32, gotComplete bool) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case item, ok := <-out:
			if !ok {
				return
			}
			switch v := item.(type) {
			case events.Data[*events.Batch[int32]]:
				tss = append(tss, v.Batch.Tss...)
				vals = append(vals, v.Batch.Values...)
			case events.RangeComplete:
				gotComplete = true
			}
		case <-timeout:
			t.Fatal("timed out draining merged stream")
		}
	}
}

func TestKWayOrdersByTimestamp(t *testing.T) {
	ctx := context.Background()
	a := source([]int64{1, 3, 5}, []int32{1, 3, 5})
	b := source([]int64{2, 4, 6}, []int32{2, 4, 6})
	out := KWay[int32](ctx, []In[int32]{a, b}, 0)
	tss, vals, complete := drain(t, out)
	wantTss := []int64{1, 2, 3, 4, 5, 6}
	wantVals := []int32{1, 2, 3, 4, 5, 6}
	if !cmp.Equal(tss, wantTss) {
		t.Error(cmp.Diff(tss, wantTss))
	}
	if !cmp.Equal(vals, wantVals) {
		t.Error(cmp.Diff(vals, wantVals))
	}
	if !complete {
		t.Error("expected range complete once both inputs finished")
	}
}

func TestKWayStableOnTies(t *testing.T) {
	ctx := context.Background()
	a := source([]int64{1, 1}, []int32{100, 101})
	b := source([]int64{1, 1}, []int32{200, 201})
	out := KWay[int32](ctx, []In[int32]{a, b}, 0)
	_, vals, _ := drain(t, out)
	// a is input index 0; ties must resolve in its favor both times.
	want := []int32{100, 101, 200, 201}
	if !cmp.Equal(vals, want) {
		t.Error(cmp.Diff(vals, want))
	}
}

// TestKWayStopsOnError covers §4.5's "errors from any input are forwarded
// immediately and terminate the merger": an error on one input must stop
// the merger from continuing to pull and emit a surviving input's data.
func TestKWayStopsOnError(t *testing.T) {
	ctx := context.Background()
	failing := errorSource(nil, nil, errors.New("disk read failed"))
	ok := source([]int64{1, 2, 3}, []int32{1, 2, 3})
	out := KWay[int32](ctx, []In[int32]{failing, ok}, 0)
	items := drainAll(t, out)

	if len(items) != 1 {
		t.Fatalf("got %d items, want exactly 1 (the error): %+v", len(items), items)
	}
	if _, ok := items[0].(events.ErrorItem); !ok {
		t.Fatalf("got %T, want events.ErrorItem", items[0])
	}
}

// TestStorageMergeStopsOnError is TestKWayStopsOnError's counterpart for
// StorageMerge, which shares the same state/fill machinery.
func TestStorageMergeStopsOnError(t *testing.T) {
	ctx := context.Background()
	live := errorSource(nil, nil, errors.New("remote peer unreachable")) // higher priority
	archive := source([]int64{10, 20, 30}, []int32{91, 92, 93})          // lower priority
	out := StorageMerge[int32](ctx, []In[int32]{live, archive}, 0)
	items := drainAll(t, out)

	if len(items) != 1 {
		t.Fatalf("got %d items, want exactly 1 (the error): %+v", len(items), items)
	}
	if _, ok := items[0].(events.ErrorItem); !ok {
		t.Fatalf("got %T, want events.ErrorItem", items[0])
	}
}

func TestStorageMergeDiscardsLowerPriorityDuplicate(t *testing.T) {
	ctx := context.Background()
	live := source([]int64{10, 20}, []int32{1, 2})    // higher priority
	archive := source([]int64{10, 20, 30}, []int32{91, 92, 93}) // lower priority, overlapping + extra
	out := StorageMerge[int32](ctx, []In[int32]{live, archive}, 0)
	tss, vals, complete := drain(t, out)
	wantTss := []int64{10, 20, 30}
	wantVals := []int32{1, 2, 93}
	if !cmp.Equal(tss, wantTss) {
		t.Error(cmp.Diff(tss, wantTss))
	}
	if !cmp.Equal(vals, wantVals) {
		t.Error(cmp.Diff(vals, wantVals))
	}
	if !complete {
		t.Error("expected range complete once both sources finished")
	}
}
