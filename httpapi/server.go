// Package httpapi is the HTTP surface of §6/§7: five GET endpoints
// translating the canonical query-parameter schema into the core
// pipeline's types, negotiating JSON vs. framed-binary delivery on
// Accept, and reporting malformed requests via the {error,
// publicMessage} envelope.
//
// Grounded on the teacher's libvuln/handler.go and libindex/handler.go
// (an http.ServeMux embedded in a handler struct, one method per route,
// pkg/jsonerr for error bodies).
package httpapi

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/psi-daq/daqbuffer-go/catalog"
	"github.com/psi-daq/daqbuffer-go/config"
	"github.com/psi-daq/daqbuffer-go/fanout"
	"github.com/psi-daq/daqbuffer-go/multifile"
	"github.com/psi-daq/daqbuffer-go/patchcache"
)

// version is reported by /api/4/status; there is no release process for
// this module, so it is a fixed build marker rather than a linker-injected
// value.
const version = "daqbuffer-go/4"

// Server answers the HTTP surface for one node, composing local disk
// access (multifile, rangefilter) with cluster-wide remote fan-out
// (fanout.Query) and the pre-binned patch cache.
type Server struct {
	Cfg     *config.Node
	Catalog catalog.Lookup
	Peers   []fanout.Peer
	Log     *slog.Logger

	caches scalarCaches
}

// scalarCaches holds one patchcache.Cache[T] per numeric scalar type; a
// node serves every scalar type, so all ten are constructed eagerly
// (construction itself touches no disk or network resource).
type scalarCaches struct {
	i8  *patchcache.Cache[int8]
	i16 *patchcache.Cache[int16]
	i32 *patchcache.Cache[int32]
	i64 *patchcache.Cache[int64]
	u8  *patchcache.Cache[uint8]
	u16 *patchcache.Cache[uint16]
	u32 *patchcache.Cache[uint32]
	u64 *patchcache.Cache[uint64]
	f32 *patchcache.Cache[float32]
	f64 *patchcache.Cache[float64]
}

// New constructs a Server. peers should list every other node in the
// cluster (never this node itself); New derives that from cfg.Peers by
// index position, peer i's address being cfg.Peers[i] and its node index
// being its position in the overall cluster node list excluding self.
func New(cfg *config.Node, cat catalog.Lookup, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	multifile.Init(cfg.DiskConcurrency)
	peers := make([]fanout.Peer, len(cfg.Peers))
	idx := 0
	for i, addr := range cfg.Peers {
		if i == cfg.NodeIndex {
			continue
		}
		peers[idx] = fanout.Peer{NodeIndex: i, Addr: addr}
		idx++
	}
	peers = peers[:idx]

	srv := &Server{Cfg: cfg, Catalog: cat, Peers: peers, Log: log}

	// A proxy node owns no patch-cache slice (SPEC_FULL.md "Node/proxy
	// split"): it never computes or writes a patch, only forwards raw and
	// binned queries to the nodes that do. scalarCaches stays the zero
	// value (all nil) and handlePrebinned refuses the endpoint outright.
	if cfg.Proxy {
		return srv
	}

	root := cfg.CacheRoot
	ni, nc := cfg.NodeIndex, cfg.NodeCount
	srv.caches = scalarCaches{
		i8:  patchcache.New[int8](root, ni, nc),
		i16: patchcache.New[int16](root, ni, nc),
		i32: patchcache.New[int32](root, ni, nc),
		i64: patchcache.New[int64](root, ni, nc),
		u8:  patchcache.New[uint8](root, ni, nc),
		u16: patchcache.New[uint16](root, ni, nc),
		u32: patchcache.New[uint32](root, ni, nc),
		u64: patchcache.New[uint64](root, ni, nc),
		f32: patchcache.New[float32](root, ni, nc),
		f64: patchcache.New[float64](root, ni, nc),
	}
	return srv
}

// backendOrProxy resolves name to a configured Backend. A proxy node
// (Cfg.Proxy) owns no backends of its own; for it, any channel resolves to
// the zero Backend, whose empty Root makes multifile.Discover report no
// local files, so the query falls through to Peers-only fan-out (§4.9).
func (s *Server) backendOrProxy(name string) (config.Backend, bool) {
	b, ok := s.Cfg.Backend(name)
	if ok {
		return b, true
	}
	if s.Cfg.Proxy {
		return config.Backend{}, true
	}
	return config.Backend{}, false
}

// Handler returns the routed http.Handler for the five endpoints.
func (s *Server) Handler() http.Handler {
	m := http.NewServeMux()
	m.HandleFunc("/api/4/events", s.handleEvents)
	m.HandleFunc("/api/4/binned", s.handleBinned)
	m.HandleFunc("/api/4/prebinned", s.handlePrebinned)
	m.HandleFunc("/api/4/search", s.handleSearch)
	m.HandleFunc("/api/4/status", s.handleStatus)
	return m
}

type statusResponse struct {
	Version   string   `json:"version"`
	NodeIndex int      `json:"nodeIndex"`
	NodeCount int      `json:"nodeCount"`
	Backends  []string `json:"backends"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	names := make([]string, len(s.Cfg.Backends))
	for i, b := range s.Cfg.Backends {
		names[i] = b.Name
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Version: version, NodeIndex: s.Cfg.NodeIndex, NodeCount: s.Cfg.NodeCount, Backends: names,
	})
}

func methodNotAllowed(w http.ResponseWriter) {
	badRequest(w, "method-not-allowed", "endpoint only allows GET", http.StatusMethodNotAllowed)
}

func badRequest(w http.ResponseWriter, code, msg string, httpcode int) {
	jsonError(w, code, msg, httpcode)
}

func internalError(w http.ResponseWriter, err error) {
	jsonError(w, "internal", fmt.Sprintf("internal error: %v", err), http.StatusInternalServerError)
}
