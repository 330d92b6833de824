// Package node is the TCP listener side of the wire protocol (§4.9,
// §6.2): it accepts a peer's framed subquery, runs the local retrieval
// pipeline (multifile discovery, range filtering, optional binning
// through the patch cache), and streams the result back as typed event
// frames terminated by a terminator or error frame.
//
// Grounded on the teacher's concurrency idioms (a goroutine-per-connection
// accept loop, context-scoped cancellation) and golang.org/x/time/rate for
// admission pacing, the same dependency the teacher's go.mod already
// carries for other client-facing rate limiting.
package node

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"

	"golang.org/x/time/rate"

	daqbuffer "github.com/psi-daq/daqbuffer-go"
	"github.com/psi-daq/daqbuffer-go/catalog"
	"github.com/psi-daq/daqbuffer-go/chunker"
	"github.com/psi-daq/daqbuffer-go/config"
	"github.com/psi-daq/daqbuffer-go/events"
	"github.com/psi-daq/daqbuffer-go/fanout"
	"github.com/psi-daq/daqbuffer-go/frame"
	"github.com/psi-daq/daqbuffer-go/metrics"
	"github.com/psi-daq/daqbuffer-go/multifile"
	"github.com/psi-daq/daqbuffer-go/netpod"
	"github.com/psi-daq/daqbuffer-go/rangefilter"
)

// Server owns this node's shard of files and answers peer subqueries
// (§4.4, §4.9). One Server is created per running daqbuffer node process.
type Server struct {
	Cfg     *config.Node
	Catalog catalog.Lookup
	Log     *slog.Logger

	diskSem      chan struct{}
	acceptLimiter *rate.Limiter
}

// New constructs a Server ready to ListenAndServe. cfg.DiskConcurrency
// bounds the number of queries concurrently holding open file handles
// (§5); the same figure seeds the connection-admission rate limiter's
// burst, since each accepted connection will shortly want the same
// resource.
func New(cfg *config.Node, cat catalog.Lookup, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	multifile.Init(cfg.DiskConcurrency)
	return &Server{
		Cfg:     cfg,
		Catalog: cat,
		Log:     log,
		diskSem: make(chan struct{}, cfg.DiskConcurrency),
		acceptLimiter: rate.NewLimiter(rate.Limit(cfg.DiskConcurrency*4), cfg.DiskConcurrency*2),
	}
}

// ListenAndServe binds cfg.ListenAddr and serves peer subqueries until ctx
// is canceled or a fatal accept error occurs.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("node: listen %s: %w", s.Cfg.ListenAddr, err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("node: accept: %w", err)
			}
		}
		go s.handleConn(ctx, conn)
	}
}

// handleConn serves exactly one query-string frame's worth of reply
// traffic on conn, following the one-shot request/response shape of
// §4.9/§6.2: a single inbound frame, an outbound stream of typed data
// frames, and a final terminator or error frame.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if err := s.acceptLimiter.Wait(ctx); err != nil {
		return
	}

	fr, err := frame.DecodeExpect(conn, frame.TypeQueryString, frame.DefaultMaxPayload)
	if err != nil {
		s.Log.WarnContext(ctx, "node: bad query frame", "remote", conn.RemoteAddr(), "err", err)
		return
	}
	var q fanout.QueryString
	if err := json.Unmarshal(fr.Payload, &q); err != nil {
		writeError(conn, fmt.Errorf("node: decode query string: %w", err))
		return
	}

	log := s.Log.With(slog.String("channel", q.Channel.String()), slog.String("request_id", q.RequestID))
	cfgEntry, err := s.Catalog.ChannelConfig(ctx, q.Channel.Backend, q.Channel.Name)
	if err != nil {
		log.WarnContext(ctx, "node: channel lookup failed", "err", err)
		writeError(conn, err)
		return
	}
	backend, ok := s.Cfg.Backend(q.Channel.Backend)
	if !ok {
		writeError(conn, &daqbuffer.Error{Kind: daqbuffer.ErrMissing, Op: "node.handleConn", Message: "unconfigured backend " + q.Channel.Backend})
		return
	}

	select {
	case s.diskSem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-s.diskSem }()

	outcome := "ok"
	if err := s.serve(ctx, conn, q, backend, cfgEntry, log); err != nil {
		log.WarnContext(ctx, "node: serve failed", "err", err)
		outcome = "error"
	}
	metrics.QueriesTotal.WithLabelValues("raw", outcome).Inc()
}

// serve dispatches to the scalar-type-specific pipeline instantiation,
// the one dispatch-at-the-edge switch the core's generic pipeline needs
// (§9).
func (s *Server) serve(ctx context.Context, conn net.Conn, q fanout.QueryString, backend config.Backend, cfgEntry catalog.Config, log *slog.Logger) error {
	if cfgEntry.Shape.IsWave() {
		switch cfgEntry.ScalarType {
		case netpod.ScalarI8:
			return serveWave[int8](ctx, conn, s, q, backend, chunker.WaveOf(chunker.DecodeI8), log)
		case netpod.ScalarI16:
			return serveWave[int16](ctx, conn, s, q, backend, chunker.WaveOf(chunker.DecodeI16), log)
		case netpod.ScalarI32:
			return serveWave[int32](ctx, conn, s, q, backend, chunker.WaveOf(chunker.DecodeI32), log)
		case netpod.ScalarI64:
			return serveWave[int64](ctx, conn, s, q, backend, chunker.WaveOf(chunker.DecodeI64), log)
		case netpod.ScalarU8:
			return serveWave[uint8](ctx, conn, s, q, backend, chunker.WaveOf(chunker.DecodeU8), log)
		case netpod.ScalarU16:
			return serveWave[uint16](ctx, conn, s, q, backend, chunker.WaveOf(chunker.DecodeU16), log)
		case netpod.ScalarU32:
			return serveWave[uint32](ctx, conn, s, q, backend, chunker.WaveOf(chunker.DecodeU32), log)
		case netpod.ScalarU64:
			return serveWave[uint64](ctx, conn, s, q, backend, chunker.WaveOf(chunker.DecodeU64), log)
		case netpod.ScalarF32:
			return serveWave[float32](ctx, conn, s, q, backend, chunker.WaveOf(chunker.DecodeF32), log)
		case netpod.ScalarF64:
			return serveWave[float64](ctx, conn, s, q, backend, chunker.WaveOf(chunker.DecodeF64), log)
		default:
			return &daqbuffer.Error{Kind: daqbuffer.ErrMalformed, Op: "node.serve", Message: fmt.Sprintf("unsupported scalar type %s for wave wire serving", cfgEntry.ScalarType)}
		}
	}
	switch cfgEntry.ScalarType {
	case netpod.ScalarI8:
		return serveScalar[int8](ctx, conn, s, q, backend, chunker.DecodeI8, log)
	case netpod.ScalarI16:
		return serveScalar[int16](ctx, conn, s, q, backend, chunker.DecodeI16, log)
	case netpod.ScalarI32:
		return serveScalar[int32](ctx, conn, s, q, backend, chunker.DecodeI32, log)
	case netpod.ScalarI64:
		return serveScalar[int64](ctx, conn, s, q, backend, chunker.DecodeI64, log)
	case netpod.ScalarU8:
		return serveScalar[uint8](ctx, conn, s, q, backend, chunker.DecodeU8, log)
	case netpod.ScalarU16:
		return serveScalar[uint16](ctx, conn, s, q, backend, chunker.DecodeU16, log)
	case netpod.ScalarU32:
		return serveScalar[uint32](ctx, conn, s, q, backend, chunker.DecodeU32, log)
	case netpod.ScalarU64:
		return serveScalar[uint64](ctx, conn, s, q, backend, chunker.DecodeU64, log)
	case netpod.ScalarF32:
		return serveScalar[float32](ctx, conn, s, q, backend, chunker.DecodeF32, log)
	case netpod.ScalarF64:
		return serveScalar[float64](ctx, conn, s, q, backend, chunker.DecodeF64, log)
	default:
		return &daqbuffer.Error{Kind: daqbuffer.ErrMalformed, Op: "node.serve", Message: fmt.Sprintf("unsupported scalar type %s for raw wire serving", cfgEntry.ScalarType)}
	}
}

// wireBatch is the JSON shape written to the connection; it must match
// fanout.batchWire field-for-field since the two packages are the two
// ends of the same wire message, not the same Go type.
type wireBatch[T any] struct {
	Channel netpod.Channel `json:"channel"`
	Tss     []int64        `json:"tss"`
	Pulses  []int64        `json:"pulses"`
	Values  []T            `json:"values"`
}

func serveScalar[T events.Numeric](ctx context.Context, conn net.Conn, s *Server, q fanout.QueryString, backend config.Backend, decode chunker.DecodeValue[T], log *slog.Logger) error {
	st := events.ScalarTypeOf[T]()
	in := multifile.Stream[T](ctx, backend.Root, q.Channel, backend.Keyspace, backend.SplitCount, q.Range, q.Expand, decode, log)
	filtered := rangefilter.Run[T](ctx, in, q.Range, q.Expand)

	typ := frame.Typed(frame.BaseEventsDim0, st)
	for item := range filtered {
		switch v := item.(type) {
		case events.Data[*events.Batch[T]]:
			payload, err := json.Marshal(wireBatch[T]{Channel: v.Batch.Channel, Tss: v.Batch.Tss, Pulses: v.Batch.Pulses, Values: v.Batch.Values})
			if err != nil {
				return err
			}
			if err := frame.Encode(conn, typ, payload); err != nil {
				return err
			}
		case events.RangeComplete:
			return frame.Encode(conn, frame.TypeTerminator, nil)
		case events.ErrorItem:
			writeError(conn, v.Err)
			return v.Err
		case events.LogItem, events.StatsItem:
			// Diagnostic items have no wire frame type yet (§4.1's table is
			// fixed); surface them in this node's own logs instead.
			log.DebugContext(ctx, "node: pipeline diagnostic", "item", fmt.Sprintf("%+v", v))
		}
	}
	return nil
}

// wireBatchWave is the wave-shaped analogue of wireBatch; it must match
// fanout.waveBatchWire field-for-field.
type wireBatchWave[T any] struct {
	Channel netpod.Channel `json:"channel"`
	N       int            `json:"n"`
	Tss     []int64        `json:"tss"`
	Pulses  []int64        `json:"pulses"`
	Values  [][]T          `json:"values"`
}

func serveWave[T events.Numeric](ctx context.Context, conn net.Conn, s *Server, q fanout.QueryString, backend config.Backend, decode chunker.WaveDecodeValue[T], log *slog.Logger) error {
	st := events.ScalarTypeOf[T]()
	in := multifile.StreamWave[T](ctx, backend.Root, q.Channel, backend.Keyspace, backend.SplitCount, q.Range, q.Expand, decode, log)
	filtered := rangefilter.RunWave[T](ctx, in, q.Range, q.Expand)

	typ := frame.Typed(frame.BaseEventsDim1, st)
	for item := range filtered {
		switch v := item.(type) {
		case events.Data[*events.WaveBatch[T]]:
			payload, err := json.Marshal(wireBatchWave[T]{Channel: v.Batch.Channel, N: v.Batch.N, Tss: v.Batch.Tss, Pulses: v.Batch.Pulses, Values: v.Batch.Values})
			if err != nil {
				return err
			}
			if err := frame.Encode(conn, typ, payload); err != nil {
				return err
			}
		case events.RangeComplete:
			return frame.Encode(conn, frame.TypeTerminator, nil)
		case events.ErrorItem:
			writeError(conn, v.Err)
			return v.Err
		case events.LogItem, events.StatsItem:
			log.DebugContext(ctx, "node: pipeline diagnostic", "item", fmt.Sprintf("%+v", v))
		}
	}
	return nil
}

func writeError(conn net.Conn, err error) {
	frame.Encode(conn, frame.TypeError, []byte(err.Error()))
}
