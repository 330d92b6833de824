package httpapi

import (
	"context"
	"errors"
	"net/http"

	daqbuffer "github.com/psi-daq/daqbuffer-go"
	"github.com/psi-daq/daqbuffer-go/chunker"
	"github.com/psi-daq/daqbuffer-go/collector"
	"github.com/psi-daq/daqbuffer-go/config"
	"github.com/psi-daq/daqbuffer-go/events"
	"github.com/psi-daq/daqbuffer-go/fanout"
	"github.com/psi-daq/daqbuffer-go/frame"
	"github.com/psi-daq/daqbuffer-go/merge"
	"github.com/psi-daq/daqbuffer-go/multifile"
	"github.com/psi-daq/daqbuffer-go/netpod"
	"github.com/psi-daq/daqbuffer-go/rangefilter"
)

// handleEvents answers /api/4/events: a raw-events query against both
// this node's own shard and every peer's, merged by timestamp (§4.6,
// §4.9).
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	media, ok := negotiate(w, r, mediaJSON, mediaOctet)
	if !ok {
		return
	}
	p, perr := parseCommon(r)
	if perr != nil {
		badRequest(w, perr.code, perr.message, http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout(p, s.Cfg))
	defer cancel()

	cfgEntry, err := s.Catalog.ChannelConfig(ctx, p.Channel.Backend, p.Channel.Name)
	if err != nil {
		var de *daqbuffer.Error
		if errors.As(err, &de) && de.Kind == daqbuffer.ErrMissing {
			writeJSON(w, http.StatusOK, &collector.EventsResult[int32]{Channel: p.Channel, RangeFinal: true})
			return
		}
		internalError(w, err)
		return
	}
	backend, ok := s.backendOrProxy(p.Channel.Backend)
	if !ok {
		badRequest(w, "bad-request", "unconfigured backend "+p.Channel.Backend, http.StatusBadRequest)
		return
	}

	if cfgEntry.Shape.IsWave() {
		switch cfgEntry.ScalarType {
		case netpod.ScalarI8:
			serveEventsWave[int8](ctx, w, s, p, backend, media, chunker.WaveOf(chunker.DecodeI8))
		case netpod.ScalarI16:
			serveEventsWave[int16](ctx, w, s, p, backend, media, chunker.WaveOf(chunker.DecodeI16))
		case netpod.ScalarI32:
			serveEventsWave[int32](ctx, w, s, p, backend, media, chunker.WaveOf(chunker.DecodeI32))
		case netpod.ScalarI64:
			serveEventsWave[int64](ctx, w, s, p, backend, media, chunker.WaveOf(chunker.DecodeI64))
		case netpod.ScalarU8:
			serveEventsWave[uint8](ctx, w, s, p, backend, media, chunker.WaveOf(chunker.DecodeU8))
		case netpod.ScalarU16:
			serveEventsWave[uint16](ctx, w, s, p, backend, media, chunker.WaveOf(chunker.DecodeU16))
		case netpod.ScalarU32:
			serveEventsWave[uint32](ctx, w, s, p, backend, media, chunker.WaveOf(chunker.DecodeU32))
		case netpod.ScalarU64:
			serveEventsWave[uint64](ctx, w, s, p, backend, media, chunker.WaveOf(chunker.DecodeU64))
		case netpod.ScalarF32:
			serveEventsWave[float32](ctx, w, s, p, backend, media, chunker.WaveOf(chunker.DecodeF32))
		case netpod.ScalarF64:
			serveEventsWave[float64](ctx, w, s, p, backend, media, chunker.WaveOf(chunker.DecodeF64))
		default:
			badRequest(w, "bad-request", "unsupported scalar type for raw events", http.StatusBadRequest)
		}
		return
	}

	switch cfgEntry.ScalarType {
	case netpod.ScalarI8:
		serveEvents[int8](ctx, w, s, p, backend, media, chunker.DecodeI8)
	case netpod.ScalarI16:
		serveEvents[int16](ctx, w, s, p, backend, media, chunker.DecodeI16)
	case netpod.ScalarI32:
		serveEvents[int32](ctx, w, s, p, backend, media, chunker.DecodeI32)
	case netpod.ScalarI64:
		serveEvents[int64](ctx, w, s, p, backend, media, chunker.DecodeI64)
	case netpod.ScalarU8:
		serveEvents[uint8](ctx, w, s, p, backend, media, chunker.DecodeU8)
	case netpod.ScalarU16:
		serveEvents[uint16](ctx, w, s, p, backend, media, chunker.DecodeU16)
	case netpod.ScalarU32:
		serveEvents[uint32](ctx, w, s, p, backend, media, chunker.DecodeU32)
	case netpod.ScalarU64:
		serveEvents[uint64](ctx, w, s, p, backend, media, chunker.DecodeU64)
	case netpod.ScalarF32:
		serveEvents[float32](ctx, w, s, p, backend, media, chunker.DecodeF32)
	case netpod.ScalarF64:
		serveEvents[float64](ctx, w, s, p, backend, media, chunker.DecodeF64)
	default:
		badRequest(w, "bad-request", "unsupported scalar type for raw events", http.StatusBadRequest)
	}
}

// serveEvents composes the local and remote raw streams for one concrete
// scalar type, filters to the requested range, and writes the collected
// result in the negotiated media kind.
func serveEvents[T events.Numeric](ctx context.Context, w http.ResponseWriter, s *Server, p queryParams, backend config.Backend, media mediaKind, decode chunker.DecodeValue[T]) {
	st := events.ScalarTypeOf[T]()
	local := multifile.Stream[T](ctx, backend.Root, p.Channel, backend.Keyspace, backend.SplitCount, p.Range, p.Expand, decode, s.Log)
	remote := fanout.Query[T](ctx, s.Peers, p.Channel, p.Range, p.Expand, st)
	merged := merge.StorageMerge[T](ctx, []merge.In[T]{local, remote}, 0)
	filtered := rangefilter.Run[T](ctx, merged, p.Range, p.Expand)

	result, err := collector.CollectEvents[T](ctx, filtered)
	if err != nil {
		internalError(w, err)
		return
	}

	switch media {
	case mediaJSON:
		writeJSON(w, http.StatusOK, result)
	case mediaOctet:
		writeEventFrames(w, result, st)
	}
}

// serveEventsWave is the dim-1 analogue of serveEvents: it serves a raw
// waveform query's full, unreduced per-event values, local+remote merged,
// rather than the x-bins-1 scalar reduction serveBinnedWave applies for
// binned queries.
func serveEventsWave[T events.Numeric](ctx context.Context, w http.ResponseWriter, s *Server, p queryParams, backend config.Backend, media mediaKind, decode chunker.WaveDecodeValue[T]) {
	st := events.ScalarTypeOf[T]()
	local := multifile.StreamWave[T](ctx, backend.Root, p.Channel, backend.Keyspace, backend.SplitCount, p.Range, p.Expand, decode, s.Log)
	remote := fanout.QueryWave[T](ctx, s.Peers, p.Channel, p.Range, p.Expand, st)
	merged := merge.StorageMergeWave[T](ctx, []merge.InWave[T]{local, remote}, 0)
	filtered := rangefilter.RunWave[T](ctx, merged, p.Range, p.Expand)

	result, err := collector.CollectEventsWave[T](ctx, filtered)
	if err != nil {
		internalError(w, err)
		return
	}

	switch media {
	case mediaJSON:
		writeJSON(w, http.StatusOK, result)
	case mediaOctet:
		writeEventFramesWave(w, result, st)
	}
}

// writeEventFramesWave is the dim-1 analogue of writeEventFrames.
func writeEventFramesWave[T events.Numeric](w http.ResponseWriter, r *collector.EventsResultWave[T], st netpod.ScalarType) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	typ := frame.Typed(frame.BaseEventsDim1, st)
	payload := wireBatchWaveJSON(r)
	if err := frame.Encode(w, typ, payload); err != nil {
		return
	}
	frame.Encode(w, frame.TypeTerminator, nil)
}

// writeEventFrames writes one typed frame per accumulated batch followed
// by a terminator, the same wire shape node.Server produces (§6.2),
// reused here so a binary /api/4/events response is byte-compatible with
// what a peer node would have sent.
func writeEventFrames[T events.Numeric](w http.ResponseWriter, r *collector.EventsResult[T], st netpod.ScalarType) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	typ := frame.Typed(frame.BaseEventsDim0, st)
	payload := wireBatchJSON(r)
	if err := frame.Encode(w, typ, payload); err != nil {
		return
	}
	frame.Encode(w, frame.TypeTerminator, nil)
}
