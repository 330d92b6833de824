package httpapi

import (
	"context"
	"errors"
	"net/http"

	daqbuffer "github.com/psi-daq/daqbuffer-go"
	"github.com/psi-daq/daqbuffer-go/binning"
	"github.com/psi-daq/daqbuffer-go/chunker"
	"github.com/psi-daq/daqbuffer-go/collector"
	"github.com/psi-daq/daqbuffer-go/config"
	"github.com/psi-daq/daqbuffer-go/events"
	"github.com/psi-daq/daqbuffer-go/fanout"
	"github.com/psi-daq/daqbuffer-go/merge"
	"github.com/psi-daq/daqbuffer-go/multifile"
	"github.com/psi-daq/daqbuffer-go/netpod"
	"github.com/psi-daq/daqbuffer-go/rangefilter"
)

// handleBinned answers /api/4/binned: an on-the-fly binned query over the
// merged local+remote raw stream, bypassing the patch cache entirely
// (§4.7, §4.8's "miss" tier without the disk write-through).
func (s *Server) handleBinned(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if _, ok := negotiate(w, r, mediaJSON); !ok {
		return
	}
	p, perr := parseCommon(r)
	if perr != nil {
		badRequest(w, perr.code, perr.message, http.StatusBadRequest)
		return
	}
	binCount, perr := parseBinCount(r)
	if perr != nil {
		badRequest(w, perr.code, perr.message, http.StatusBadRequest)
		return
	}
	p.BinCount = binCount
	aggKind, perr := parseAggKind(r)
	if perr != nil {
		badRequest(w, perr.code, perr.message, http.StatusBadRequest)
		return
	}
	p.AggKind = aggKind

	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout(p, s.Cfg))
	defer cancel()

	cfgEntry, err := s.Catalog.ChannelConfig(ctx, p.Channel.Backend, p.Channel.Name)
	if err != nil {
		var de *daqbuffer.Error
		if errors.As(err, &de) && de.Kind == daqbuffer.ErrMissing {
			writeJSON(w, http.StatusOK, &collector.BinnedResult[int32]{RangeFinal: true})
			return
		}
		internalError(w, err)
		return
	}
	if cfgEntry.Shape.IsWave() && p.AggKind != "x-bins-1" {
		badRequest(w, "bad-request", "waveform channels only support binning with aggKind=x-bins-1", http.StatusBadRequest)
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
			serveBinnedWave[int8](ctx, w, s, p, backend, chunker.WaveOf(chunker.DecodeI8))
		case netpod.ScalarI16:
			serveBinnedWave[int16](ctx, w, s, p, backend, chunker.WaveOf(chunker.DecodeI16))
		case netpod.ScalarI32:
			serveBinnedWave[int32](ctx, w, s, p, backend, chunker.WaveOf(chunker.DecodeI32))
		case netpod.ScalarI64:
			serveBinnedWave[int64](ctx, w, s, p, backend, chunker.WaveOf(chunker.DecodeI64))
		case netpod.ScalarU8:
			serveBinnedWave[uint8](ctx, w, s, p, backend, chunker.WaveOf(chunker.DecodeU8))
		case netpod.ScalarU16:
			serveBinnedWave[uint16](ctx, w, s, p, backend, chunker.WaveOf(chunker.DecodeU16))
		case netpod.ScalarU32:
			serveBinnedWave[uint32](ctx, w, s, p, backend, chunker.WaveOf(chunker.DecodeU32))
		case netpod.ScalarU64:
			serveBinnedWave[uint64](ctx, w, s, p, backend, chunker.WaveOf(chunker.DecodeU64))
		case netpod.ScalarF32:
			serveBinnedWave[float32](ctx, w, s, p, backend, chunker.WaveOf(chunker.DecodeF32))
		case netpod.ScalarF64:
			serveBinnedWave[float64](ctx, w, s, p, backend, chunker.WaveOf(chunker.DecodeF64))
		default:
			badRequest(w, "bad-request", "unsupported scalar type for binning", http.StatusBadRequest)
		}
		return
	}

	switch cfgEntry.ScalarType {
	case netpod.ScalarI8:
		serveBinned[int8](ctx, w, s, p, backend, chunker.DecodeI8)
	case netpod.ScalarI16:
		serveBinned[int16](ctx, w, s, p, backend, chunker.DecodeI16)
	case netpod.ScalarI32:
		serveBinned[int32](ctx, w, s, p, backend, chunker.DecodeI32)
	case netpod.ScalarI64:
		serveBinned[int64](ctx, w, s, p, backend, chunker.DecodeI64)
	case netpod.ScalarU8:
		serveBinned[uint8](ctx, w, s, p, backend, chunker.DecodeU8)
	case netpod.ScalarU16:
		serveBinned[uint16](ctx, w, s, p, backend, chunker.DecodeU16)
	case netpod.ScalarU32:
		serveBinned[uint32](ctx, w, s, p, backend, chunker.DecodeU32)
	case netpod.ScalarU64:
		serveBinned[uint64](ctx, w, s, p, backend, chunker.DecodeU64)
	case netpod.ScalarF32:
		serveBinned[float32](ctx, w, s, p, backend, chunker.DecodeF32)
	case netpod.ScalarF64:
		serveBinned[float64](ctx, w, s, p, backend, chunker.DecodeF64)
	default:
		badRequest(w, "bad-request", "unsupported scalar type for binning", http.StatusBadRequest)
	}
}

func serveBinned[T events.Numeric](ctx context.Context, w http.ResponseWriter, s *Server, p queryParams, backend config.Backend, decode chunker.DecodeValue[T]) {
	st := events.ScalarTypeOf[T]()
	// BinTimeWeighted needs one event strictly before the requested range
	// to seed its interpolation (binning.go's own doc comment); expanding
	// the range filter by one event in that case is what supplies it.
	expand := p.AggKind == "time-weighted-scalar"
	local := multifile.Stream[T](ctx, backend.Root, p.Channel, backend.Keyspace, backend.SplitCount, p.Range, expand, decode, s.Log)
	remote := fanout.Query[T](ctx, s.Peers, p.Channel, p.Range, expand, st)
	merged := merge.StorageMerge[T](ctx, []merge.In[T]{local, remote}, 0)
	filtered := rangefilter.Run[T](ctx, merged, p.Range, expand)

	spec := binning.Spec{Beg: p.Range.Beg, End: p.Range.End, BinCount: p.BinCount}
	var binned <-chan events.StreamItem
	if p.AggKind == "time-weighted-scalar" {
		binned = binning.BinTimeWeighted[T](ctx, filtered, spec)
	} else {
		binned = binning.Bin[T](ctx, filtered, spec)
	}

	result, err := collector.CollectBinned[T](ctx, binned)
	if err != nil {
		internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// serveBinnedWave answers a binned query over a waveform channel under the
// x-bins-1 aggregation kind (§3): each event's waveform is reduced to its
// mean (binning.ReduceXBins1) immediately after the local+remote wave merge,
// turning the rest of the pipeline into the same dim-0 plain-binning path
// serveBinned already drives.
func serveBinnedWave[T events.Numeric](ctx context.Context, w http.ResponseWriter, s *Server, p queryParams, backend config.Backend, decode chunker.WaveDecodeValue[T]) {
	st := events.ScalarTypeOf[T]()
	local := multifile.StreamWave[T](ctx, backend.Root, p.Channel, backend.Keyspace, backend.SplitCount, p.Range, false, decode, s.Log)
	remote := fanout.QueryWave[T](ctx, s.Peers, p.Channel, p.Range, false, st)
	merged := merge.StorageMergeWave[T](ctx, []merge.InWave[T]{local, remote}, 0)
	filtered := rangefilter.RunWave[T](ctx, merged, p.Range, false)
	reduced := binning.ReduceXBins1[T](ctx, filtered)

	spec := binning.Spec{Beg: p.Range.Beg, End: p.Range.End, BinCount: p.BinCount}
	binned := binning.Bin[T](ctx, reduced, spec)

	result, err := collector.CollectBinned[T](ctx, binned)
	if err != nil {
		internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
