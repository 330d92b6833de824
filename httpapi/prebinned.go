package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"

	daqbuffer "github.com/psi-daq/daqbuffer-go"
	"github.com/psi-daq/daqbuffer-go/chunker"
	"github.com/psi-daq/daqbuffer-go/config"
	"github.com/psi-daq/daqbuffer-go/events"
	"github.com/psi-daq/daqbuffer-go/fanout"
	"github.com/psi-daq/daqbuffer-go/frame"
	"github.com/psi-daq/daqbuffer-go/merge"
	"github.com/psi-daq/daqbuffer-go/multifile"
	"github.com/psi-daq/daqbuffer-go/netpod"
	"github.com/psi-daq/daqbuffer-go/patchcache"
	"github.com/psi-daq/daqbuffer-go/rangefilter"
)

// handlePrebinned answers /api/4/prebinned: one patch's binned result,
// served from the two-level disk cache when this node owns it (§4.8).
func (s *Server) handlePrebinned(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if _, ok := negotiate(w, r, mediaOctet); !ok {
		return
	}
	if s.Cfg.Proxy {
		badRequest(w, "not-owned", "proxy nodes own no patch-cache slice; query /api/4/events or /api/4/binned instead", http.StatusNotFound)
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
	usage, perr := parseCacheUsage(r)
	if perr != nil {
		badRequest(w, perr.code, perr.message, http.StatusBadRequest)
		return
	}

	patchLenNs := p.Range.Delta()
	if patchLenNs <= 0 || int64(binCount) <= 0 || patchLenNs%int64(binCount) != 0 {
		badRequest(w, "bad-request", "begDate/endDate span must divide evenly by binCount", http.StatusBadRequest)
		return
	}
	binLenNs := patchLenNs / int64(binCount)
	if !slices.Contains(patchcache.Granularities, binLenNs) {
		badRequest(w, "bad-request", "the requested bin width is not one of the canonical patch granularities", http.StatusBadRequest)
		return
	}
	if p.Range.Beg%patchLenNs != 0 {
		badRequest(w, "bad-request", "begDate must align to a patch boundary for this span", http.StatusBadRequest)
		return
	}
	coord := patchcache.PatchCoord{BinLenNs: binLenNs, PatchLenNs: patchLenNs, PatchIndex: p.Range.Beg / patchLenNs}

	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout(p, s.Cfg))
	defer cancel()

	cfgEntry, err := s.Catalog.ChannelConfig(ctx, p.Channel.Backend, p.Channel.Name)
	if err != nil {
		var de *daqbuffer.Error
		if errors.As(err, &de) && de.Kind == daqbuffer.ErrMissing {
			badRequest(w, "not-found", "channel not found", http.StatusNotFound)
			return
		}
		internalError(w, err)
		return
	}
	backend, ok := s.Cfg.Backend(p.Channel.Backend)
	if !ok {
		badRequest(w, "bad-request", "unconfigured backend "+p.Channel.Backend, http.StatusBadRequest)
		return
	}

	switch cfgEntry.ScalarType {
	case netpod.ScalarI8:
		servePrebinned[int8](ctx, w, s, s.caches.i8, p.Channel, backend, coord, usage, chunker.DecodeI8)
	case netpod.ScalarI16:
		servePrebinned[int16](ctx, w, s, s.caches.i16, p.Channel, backend, coord, usage, chunker.DecodeI16)
	case netpod.ScalarI32:
		servePrebinned[int32](ctx, w, s, s.caches.i32, p.Channel, backend, coord, usage, chunker.DecodeI32)
	case netpod.ScalarI64:
		servePrebinned[int64](ctx, w, s, s.caches.i64, p.Channel, backend, coord, usage, chunker.DecodeI64)
	case netpod.ScalarU8:
		servePrebinned[uint8](ctx, w, s, s.caches.u8, p.Channel, backend, coord, usage, chunker.DecodeU8)
	case netpod.ScalarU16:
		servePrebinned[uint16](ctx, w, s, s.caches.u16, p.Channel, backend, coord, usage, chunker.DecodeU16)
	case netpod.ScalarU32:
		servePrebinned[uint32](ctx, w, s, s.caches.u32, p.Channel, backend, coord, usage, chunker.DecodeU32)
	case netpod.ScalarU64:
		servePrebinned[uint64](ctx, w, s, s.caches.u64, p.Channel, backend, coord, usage, chunker.DecodeU64)
	case netpod.ScalarF32:
		servePrebinned[float32](ctx, w, s, s.caches.f32, p.Channel, backend, coord, usage, chunker.DecodeF32)
	case netpod.ScalarF64:
		servePrebinned[float64](ctx, w, s, s.caches.f64, p.Channel, backend, coord, usage, chunker.DecodeF64)
	default:
		badRequest(w, "bad-request", "unsupported scalar type for binning", http.StatusBadRequest)
	}
}

func servePrebinned[T events.Numeric](ctx context.Context, w http.ResponseWriter, s *Server, cache *patchcache.Cache[T], ch netpod.Channel, backend config.Backend, coord patchcache.PatchCoord, usage patchcache.CacheUsage, decode chunker.DecodeValue[T]) {
	st := events.ScalarTypeOf[T]()
	raw := func(ctx context.Context, ch netpod.Channel, rng netpod.NanoRange) (<-chan events.StreamItem, error) {
		local := multifile.Stream[T](ctx, backend.Root, ch, backend.Keyspace, backend.SplitCount, rng, false, decode, s.Log)
		remote := fanout.Query[T](ctx, s.Peers, ch, rng, false, st)
		merged := merge.StorageMerge[T](ctx, []merge.In[T]{local, remote}, 0)
		return rangefilter.Run[T](ctx, merged, rng, false), nil
	}

	batch, err := cache.Serve(ctx, ch, coord, usage, raw, st)
	if err != nil {
		var de *daqbuffer.Error
		if errors.As(err, &de) && de.Kind == daqbuffer.ErrMissing {
			badRequest(w, "not-found", fmt.Sprintf("patch not owned by this node: %v", err), http.StatusNotFound)
			return
		}
		internalError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	payload, err := json.Marshal(wireBinnedBatch[T]{
		Ts1s: batch.Ts1s, Ts2s: batch.Ts2s, Counts: batch.Counts,
		Min: batch.Min, Max: batch.Max, Avg: batch.Avg,
	})
	if err != nil {
		return
	}
	typ := frame.Typed(frame.BaseMinMaxAvgDim0, st)
	if err := frame.Encode(w, typ, payload); err != nil {
		return
	}
	frame.Encode(w, frame.TypeTerminator, nil)
}

// wireBinnedBatch is the JSON shape embedded in a BaseMinMaxAvgDim0 frame.
type wireBinnedBatch[T any] struct {
	Ts1s   []int64    `json:"ts1s"`
	Ts2s   []int64    `json:"ts2s"`
	Counts []int64    `json:"counts"`
	Min    []*T       `json:"min"`
	Max    []*T       `json:"max"`
	Avg    []*float64 `json:"avg"`
}
