package patchcache

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/psi-daq/daqbuffer-go/events"
	"github.com/psi-daq/daqbuffer-go/netpod"
)

func rawSource(rng netpod.NanoRange) RawFetcher[int32] {
	return func(ctx context.Context, ch netpod.Channel, r netpod.NanoRange) (<-chan events.StreamItem, error) {
		ch2 := make(chan events.StreamItem, 2)
		tss := []int64{r.Beg, r.Beg + (r.End-r.Beg)/2}
		go func() {
			defer close(ch2)
			ch2 <- events.Data[*events.Batch[int32]]{Batch: &events.Batch[int32]{
				Channel: ch, Tss: tss, Pulses: make([]int64, len(tss)), Values: []int32{1, 2},
			}}
			ch2 <- events.RangeComplete{}
		}()
		return ch2, nil
	}
}

func TestOwnerNodeIndexStable(t *testing.T) {
	ch := netpod.Channel{Backend: "testbackend", Name: "scalar-i32-be"}
	coord := PatchCoord{BinLenNs: 1_000_000_000, PatchLenNs: 60_000_000_000, PatchIndex: 3}
	a := OwnerNodeIndex(ch, coord, 8)
	b := OwnerNodeIndex(ch, coord, 8)
	if a != b {
		t.Fatalf("hash not stable across calls: %d != %d", a, b)
	}
	if a < 0 || a >= 8 {
		t.Fatalf("owner index %d out of range", a)
	}
}

func TestServeBuildsAndCachesPatch(t *testing.T) {
	root := t.TempDir()
	c := New[int32](root, 0, 1)
	ch := netpod.Channel{Backend: "testbackend", Name: "scalar-i32-be"}
	coord := PatchCoord{BinLenNs: 1_000_000, PatchLenNs: 10_000_000, PatchIndex: 0}

	got, err := c.Serve(context.Background(), ch, coord, Use, rawSource(coord.Span()), netpod.ScalarI32)
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if got.Len() != coord.BinCount() {
		t.Fatalf("got %d bins, want %d", got.Len(), coord.BinCount())
	}

	// Second call should be served from disk without invoking raw again.
	var rawCalls int32
	countingRaw := func(ctx context.Context, ch netpod.Channel, r netpod.NanoRange) (<-chan events.StreamItem, error) {
		atomic.AddInt32(&rawCalls, 1)
		return rawSource(r)(ctx, ch, r)
	}
	got2, err := c.Serve(context.Background(), ch, coord, Use, countingRaw, netpod.ScalarI32)
	if err != nil {
		t.Fatalf("Serve (cached): %v", err)
	}
	if rawCalls != 0 {
		t.Errorf("expected cached serve to avoid the raw fetch, got %d calls", rawCalls)
	}
	if got2.Len() != got.Len() {
		t.Errorf("cached result bin count %d != original %d", got2.Len(), got.Len())
	}
}

func TestServeRejectsUnownedPatch(t *testing.T) {
	root := t.TempDir()
	c := New[int32](root, 0, 4)
	ch := netpod.Channel{Backend: "testbackend", Name: "scalar-i32-be"}
	// Find a patch index this node (0 of 4) does not own.
	var coord PatchCoord
	for i := int64(0); i < 64; i++ {
		cand := PatchCoord{BinLenNs: 1_000_000, PatchLenNs: 10_000_000, PatchIndex: i}
		if OwnerNodeIndex(ch, cand, 4) != 0 {
			coord = cand
			break
		}
	}
	_, err := c.Serve(context.Background(), ch, coord, Use, rawSource(coord.Span()), netpod.ScalarI32)
	if err == nil {
		t.Fatal("expected an error serving a patch owned by another node")
	}
}
