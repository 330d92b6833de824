package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"net"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/psi-daq/daqbuffer-go/events"
	"github.com/psi-daq/daqbuffer-go/frame"
	"github.com/psi-daq/daqbuffer-go/merge"
	"github.com/psi-daq/daqbuffer-go/netpod"
)

type waveBatchWire[T any] struct {
	Channel netpod.Channel `json:"channel"`
	N       int            `json:"n"`
	Tss     []int64        `json:"tss"`
	Pulses  []int64        `json:"pulses"`
	Values  [][]T          `json:"values"`
}

// dialPeerWave is the dim-1 analogue of dialPeer: it decodes
// BaseEventsDim1-typed frames instead of BaseEventsDim0 ones, the wire
// shape a peer's node.serveWave produces for a waveform channel.
func dialPeerWave[T events.Numeric](ctx context.Context, peer Peer, q QueryString, st netpod.ScalarType) (merge.InWave[T], error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", peer.Addr)
	if err != nil {
		return nil, fmt.Errorf("fanout: dial %s: %w", peer.Addr, err)
	}
	payload, err := json.Marshal(q)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := frame.Encode(conn, frame.TypeQueryString, payload); err != nil {
		conn.Close()
		return nil, fmt.Errorf("fanout: write query: %w", err)
	}

	ch := make(chan events.StreamItem)
	go func() {
		defer close(ch)
		defer conn.Close()
		want := frame.Typed(frame.BaseEventsDim1, st)
		for {
			fr, err := frame.Decode(conn, frame.DefaultMaxPayload)
			if err != nil {
				ch <- events.ErrorItem{Err: fmt.Errorf("fanout: peer %s: %w", peer.Addr, err)}
				return
			}
			switch fr.Type {
			case frame.TypeTerminator:
				ch <- events.RangeComplete{}
				return
			case frame.TypeError:
				ch <- events.ErrorItem{Err: fmt.Errorf("fanout: peer %s: %s", peer.Addr, string(fr.Payload))}
				return
			case want:
				var w waveBatchWire[T]
				if err := json.Unmarshal(fr.Payload, &w); err != nil {
					ch <- events.ErrorItem{Err: fmt.Errorf("fanout: peer %s: %w", peer.Addr, err)}
					return
				}
				ch <- events.Data[*events.WaveBatch[T]]{Batch: &events.WaveBatch[T]{
					Channel: w.Channel, N: w.N, Tss: w.Tss, Pulses: w.Pulses, Values: w.Values,
				}}
			default:
				// Unexpected frame type mid-stream: ignore and keep reading.
			}
		}
	}()
	return ch, nil
}

// QueryWave is the dim-1 analogue of Query: it fans a raw waveform query
// out to every peer concurrently and merges their per-peer streams by
// timestamp, used as the remote source of an x-bins-1 aggregated query over
// a wave channel (§4.9, §3's aggregation-kind table).
func QueryWave[T events.Numeric](ctx context.Context, peers []Peer, ch netpod.Channel, rng netpod.NanoRange, expand bool, st netpod.ScalarType) <-chan events.StreamItem {
	out := make(chan events.StreamItem)
	go func() {
		defer close(out)
		q := QueryString{RequestID: uuid.NewString(), Channel: ch, Range: rng, Expand: expand}

		results := make([]merge.InWave[T], len(peers))
		succeeded := make([]bool, len(peers))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(maxConcurrentDials)
		for i, p := range peers {
			i, p := i, p
			g.Go(func() error {
				in, err := dialPeerWave[T](gctx, p, q, st)
				if err != nil {
					out <- events.LogItem{Level: events.LogWarn, NodeIx: p.NodeIndex, Msg: err.Error()}
					return nil
				}
				results[i] = in
				succeeded[i] = true
				return nil
			})
		}
		g.Wait()

		ins := make([]merge.InWave[T], 0, len(peers))
		for i, ok := range succeeded {
			if ok {
				ins = append(ins, results[i])
			}
		}
		if len(ins) == 0 {
			if len(peers) > 0 {
				out <- events.ErrorItem{Err: fmt.Errorf("fanout: all %d peers failed", len(peers))}
				return
			}
			out <- events.RangeComplete{}
			return
		}
		partial := len(ins) < len(peers)

		merged := merge.KWayWave[T](ctx, ins, 0)
		for item := range merged {
			if _, ok := item.(events.RangeComplete); ok && partial {
				item = events.RangeComplete{Partial: true}
			}
			out <- item
		}
	}()
	return out
}
