package fanout

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/psi-daq/daqbuffer-go/events"
	"github.com/psi-daq/daqbuffer-go/frame"
	"github.com/psi-daq/daqbuffer-go/netpod"
)

// fakePeer accepts one connection, reads the query-string frame, writes
// back the given batches, and terminates the stream.
func fakePeer(t *testing.T, tss []int64, vals []int32) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		if _, err := frame.Decode(conn, frame.DefaultMaxPayload); err != nil {
			return
		}
		payload, _ := json.Marshal(batchWire[int32]{
			Channel: netpod.Channel{Name: "x"}, Tss: tss, Pulses: make([]int64, len(tss)), Values: vals,
		})
		frame.Encode(conn, frame.Typed(frame.BaseEventsDim0, netpod.ScalarI32), payload)
		frame.Encode(conn, frame.TypeTerminator, nil)
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

func TestQueryMergesPeers(t *testing.T) {
	addrA := fakePeer(t, []int64{1, 3}, []int32{1, 3})
	addrB := fakePeer(t, []int64{2, 4}, []int32{2, 4})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	peers := []Peer{{NodeIndex: 0, Addr: addrA}, {NodeIndex: 1, Addr: addrB}}
	out := Query[int32](ctx, peers, netpod.Channel{Name: "x"}, netpod.NanoRange{Beg: 0, End: 100}, false, netpod.ScalarI32)

	var tss []int64
	var gotComplete bool
	for item := range out {
		switch v := item.(type) {
		case events.Data[*events.Batch[int32]]:
			tss = append(tss, v.Batch.Tss...)
		case events.RangeComplete:
			gotComplete = true
		}
	}
	if !gotComplete {
		t.Error("expected range complete once both peers finish")
	}
	want := []int64{1, 2, 3, 4}
	if len(tss) != len(want) {
		t.Fatalf("got %v, want %v", tss, want)
	}
	for i := range want {
		if tss[i] != want[i] {
			t.Errorf("index %d: got %d, want %d", i, tss[i], want[i])
		}
	}
}

func TestQueryAllPeersFail(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	peers := []Peer{{NodeIndex: 0, Addr: "127.0.0.1:1"}} // port 1: connection refused
	out := Query[int32](ctx, peers, netpod.Channel{Name: "x"}, netpod.NanoRange{Beg: 0, End: 100}, false, netpod.ScalarI32)
	var gotErr bool
	for item := range out {
		if _, ok := item.(events.ErrorItem); ok {
			gotErr = true
		}
	}
	if !gotErr {
		t.Error("expected a terminal error once all peers fail")
	}
}

// TestQueryNoPeersConfigured checks that an empty peer list (a single-node
// cluster, or a proxy whose own entry was excluded) completes cleanly with
// RangeComplete rather than being treated as "all peers failed" — there was
// nothing to fail.
func TestQueryNoPeersConfigured(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out := Query[int32](ctx, nil, netpod.Channel{Name: "x"}, netpod.NanoRange{Beg: 0, End: 100}, false, netpod.ScalarI32)
	for item := range out {
		switch v := item.(type) {
		case events.ErrorItem:
			t.Fatalf("unexpected error with no peers configured: %v", v.Err)
		case events.RangeComplete:
			return
		}
	}
	t.Fatal("expected a RangeComplete item")
}
