// Package fanout implements the remote cluster fan-out of §4.9: one
// framed TCP subquery per peer, interleaved into a cluster-wide merged
// stream via the k-way merger, tolerating partial peer failure.
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

// Peer is one cluster node reachable over TCP for a raw subquery.
type Peer struct {
	NodeIndex int
	Addr      string
}

// QueryString is the payload of the first frame sent to a peer (§6.2): a
// serialized raw-events query.
type QueryString struct {
	RequestID string           `json:"requestId"`
	Channel   netpod.Channel   `json:"channel"`
	Range     netpod.NanoRange `json:"range"`
	Expand    bool             `json:"expand"`
}

type batchWire[T any] struct {
	Channel netpod.Channel `json:"channel"`
	Tss     []int64        `json:"tss"`
	Pulses  []int64        `json:"pulses"`
	Values  []T            `json:"values"`
}

// maxConcurrentDials bounds how many peers this node dials at once for a
// single query (§5, §4.9): a cluster-wide fan-out to a large peer list must
// not open unbounded concurrent connections.
const maxConcurrentDials = 32

// dialPeer opens one TCP connection to peer, writes the query-string
// frame, and returns a stream of decoded event batches read until a
// terminator or error frame closes the logical stream (§4.9, §6.2).
func dialPeer[T events.Numeric](ctx context.Context, peer Peer, q QueryString, st netpod.ScalarType) (merge.In[T], error) {
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
		want := frame.Typed(frame.BaseEventsDim0, st)
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
				var w batchWire[T]
				if err := json.Unmarshal(fr.Payload, &w); err != nil {
					ch <- events.ErrorItem{Err: fmt.Errorf("fanout: peer %s: %w", peer.Addr, err)}
					return
				}
				ch <- events.Data[*events.Batch[T]]{Batch: &events.Batch[T]{
					Channel: w.Channel, Tss: w.Tss, Pulses: w.Pulses, Values: w.Values,
				}}
			default:
				// Unexpected frame type mid-stream (e.g. a Log/Stats frame
				// type not modeled here yet): ignore and keep reading.
			}
		}
	}()
	return ch, nil
}

// Query fans a raw query out to every peer concurrently and merges their
// per-peer streams by timestamp. A peer failure becomes a Log item; the
// merged stream only carries a terminal Error if every peer failed.
func Query[T events.Numeric](ctx context.Context, peers []Peer, ch netpod.Channel, rng netpod.NanoRange, expand bool, st netpod.ScalarType) <-chan events.StreamItem {
	out := make(chan events.StreamItem)
	go func() {
		defer close(out)
		q := QueryString{RequestID: uuid.NewString(), Channel: ch, Range: rng, Expand: expand}

		results := make([]merge.In[T], len(peers))
		succeeded := make([]bool, len(peers))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(maxConcurrentDials)
		for i, p := range peers {
			i, p := i, p
			g.Go(func() error {
				in, err := dialPeer[T](gctx, p, q, st)
				if err != nil {
					out <- events.LogItem{Level: events.LogWarn, NodeIx: p.NodeIndex, Msg: err.Error()}
					return nil // best-effort: a peer failure never aborts the others
				}
				results[i] = in
				succeeded[i] = true
				return nil
			})
		}
		g.Wait()

		ins := make([]merge.In[T], 0, len(peers))
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
			// No peers configured at all (a single-node cluster, or a
			// node whose Cfg.Peers is empty): there is nothing to fan
			// out to, which is not a failure.
			out <- events.RangeComplete{}
			return
		}
		partial := len(ins) < len(peers)

		merged := merge.KWay[T](ctx, ins, 0)
		for item := range merged {
			// A partial peer failure degrades the whole fan-out's
			// completeness even though the succeeded peers' own merge
			// covered its inputs fully (§4.9, §7's "partial cluster
			// failure" contract): the caller must see range_final=false,
			// not a silently-downgraded-to-complete result.
			if _, ok := item.(events.RangeComplete); ok && partial {
				item = events.RangeComplete{Partial: true}
			}
			out <- item
		}
	}()
	return out
}
