package httpapi

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/psi-daq/daqbuffer-go/catalog"
	cfgpkg "github.com/psi-daq/daqbuffer-go/config"
	"github.com/psi-daq/daqbuffer-go/netpod"
	"github.com/psi-daq/daqbuffer-go/node"
)

// freeAddr reserves an ephemeral TCP port by binding then immediately
// releasing it, so a peer address can be handed to configuration before
// the thing listening on it exists.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

// waitForListener blocks until something accepts TCP connections at addr,
// since node.Server.ListenAndServe binds asynchronously in a goroutine.
func waitForListener(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("nothing listening on %s after 2s", addr)
}

func writeFileHeader(buf *bytes.Buffer, name string, st netpod.ScalarType) {
	meta := make([]byte, 3+len(name))
	meta[0] = byte(st)
	binary.BigEndian.PutUint16(meta[1:3], 0)
	copy(meta[3:], name)
	length := uint32(len(meta) + 12)
	binary.Write(buf, binary.BigEndian, uint16(0))
	binary.Write(buf, binary.BigEndian, length)
	buf.Write(meta)
	binary.Write(buf, binary.BigEndian, length)
}

func writeRecord(buf *bytes.Buffer, seq, ts, pulse int64, v int32) {
	var body bytes.Buffer
	binary.Write(&body, binary.BigEndian, uint64(seq))
	binary.Write(&body, binary.BigEndian, uint64(ts))
	binary.Write(&body, binary.BigEndian, uint64(pulse))
	binary.Write(&body, binary.BigEndian, v)
	m := uint32(4 + body.Len())
	binary.Write(buf, binary.BigEndian, m)
	buf.Write(body.Bytes())
}

// writeWaveFileHeader is writeFileHeader's dim-1 analogue: the same header
// shape with a non-zero wave length N in meta[1:3] (chunker.ParseFileHeader).
func writeWaveFileHeader(buf *bytes.Buffer, name string, st netpod.ScalarType, n int) {
	meta := make([]byte, 3+len(name))
	meta[0] = byte(st)
	binary.BigEndian.PutUint16(meta[1:3], uint16(n))
	copy(meta[3:], name)
	length := uint32(len(meta) + 12)
	binary.Write(buf, binary.BigEndian, uint16(0))
	binary.Write(buf, binary.BigEndian, length)
	buf.Write(meta)
	binary.Write(buf, binary.BigEndian, length)
}

// writeWaveRecord writes one dim-1 event record (chunker.WaveChunker.
// readRecord's layout: seq, ts, pulse, then one big-endian float64 per
// waveform element).
func writeWaveRecord(buf *bytes.Buffer, seq, ts, pulse int64, vals []float64) {
	var body bytes.Buffer
	binary.Write(&body, binary.BigEndian, uint64(seq))
	binary.Write(&body, binary.BigEndian, uint64(ts))
	binary.Write(&body, binary.BigEndian, uint64(pulse))
	for _, v := range vals {
		binary.Write(&body, binary.BigEndian, math.Float64bits(v))
	}
	m := uint32(4 + body.Len())
	binary.Write(buf, binary.BigEndian, m)
	buf.Write(body.Bytes())
}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	root := t.TempDir()
	chPath := filepath.Join(root, "testbackend", "scalar-i32-be", "2", "0", "0000.bin")
	if err := os.MkdirAll(filepath.Dir(chPath), 0o755); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	writeFileHeader(&buf, "scalar-i32-be", netpod.ScalarI32)
	for i := int64(0); i < 10; i++ {
		writeRecord(&buf, i, i*100_000_000, i, int32(i))
	}
	if err := os.WriteFile(chPath, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	cat, err := catalog.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { cat.Close() })
	ctx := t.Context()
	if err := cat.SeedChannel(ctx, catalog.Config{
		Backend: "testbackend", Name: "scalar-i32-be",
		ScalarType: netpod.ScalarI32, Shape: netpod.ScalarShape,
		Keyspace: 2, SplitCount: 1,
	}); err != nil {
		t.Fatal(err)
	}

	cfg := &cfgpkg.Node{
		NodeIndex: 0, NodeCount: 1, CacheRoot: t.TempDir(),
		Backends: []cfgpkg.Backend{{Name: "testbackend", Root: root, Keyspace: 2, SplitCount: 1}},
		QueryTimeout: cfgpkg.Duration{Duration: 5_000_000_000},
	}
	return New(cfg, cat, nil), root
}

func TestHandleStatus(t *testing.T) {
	s, _ := newTestServer(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/4/status", nil)
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", rr.Code, rr.Body.String())
	}
	var resp statusResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.NodeCount != 1 || len(resp.Backends) != 1 || resp.Backends[0] != "testbackend" {
		t.Errorf("unexpected status response %+v", resp)
	}
}

func TestHandleSearch(t *testing.T) {
	s, _ := newTestServer(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/4/search?channelBackend=testbackend&channelName=scalar", nil)
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("search: got %d, body %s", rr.Code, rr.Body.String())
	}
	var results []searchResult
	if err := json.Unmarshal(rr.Body.Bytes(), &results); err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Name != "scalar-i32-be" {
		t.Errorf("unexpected search results %+v", results)
	}
}

func TestHandleEventsJSON(t *testing.T) {
	s, _ := newTestServer(t)
	q := url.Values{
		"channelBackend": {"testbackend"},
		"channelName":    {"scalar-i32-be"},
		"begDate":        {"1970-01-01T00:00:00Z"},
		"endDate":        {"1970-01-01T00:00:01Z"},
	}
	req := httptest.NewRequest(http.MethodGet, "/api/4/events?"+q.Encode(), nil)
	req.Header.Set("Accept", "application/json")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("events: got %d, body %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Ts struct {
			Ms []int64 `json:"ms"`
		} `json:"ts"`
		Values     []int32 `json:"values"`
		RangeFinal bool    `json:"rangeFinal"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v, body %s", err, rr.Body.String())
	}
	if len(resp.Values) != 10 {
		t.Fatalf("got %d values, want 10: %+v", len(resp.Values), resp)
	}
	if !resp.RangeFinal {
		t.Error("expected rangeFinal once the full file has been consumed")
	}
}

func TestHandleBinnedJSON(t *testing.T) {
	s, _ := newTestServer(t)
	q := url.Values{
		"channelBackend": {"testbackend"},
		"channelName":    {"scalar-i32-be"},
		"begDate":        {"1970-01-01T00:00:00Z"},
		"endDate":        {"1970-01-01T00:00:01Z"},
		"binCount":       {"10"},
	}
	req := httptest.NewRequest(http.MethodGet, "/api/4/binned?"+q.Encode(), nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("binned: got %d, body %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Counts []int64 `json:"counts"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v, body %s", err, rr.Body.String())
	}
	if len(resp.Counts) != 10 {
		t.Fatalf("got %d bins, want 10", len(resp.Counts))
	}
	var total int64
	for _, c := range resp.Counts {
		total += c
	}
	if total != 10 {
		t.Errorf("got %d total events across bins, want 10", total)
	}
}

func TestHandleEventsMissingChannel(t *testing.T) {
	s, _ := newTestServer(t)
	q := url.Values{
		"channelBackend": {"testbackend"},
		"channelName":    {"nope"},
		"begDate":        {"1970-01-01T00:00:00Z"},
		"endDate":        {"1970-01-01T00:00:01Z"},
	}
	req := httptest.NewRequest(http.MethodGet, "/api/4/events?"+q.Encode(), nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d, want 200 with an empty range-final result", rr.Code)
	}
	var resp struct {
		RangeFinal bool `json:"rangeFinal"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.RangeFinal {
		t.Error("expected rangeFinal=true for a missing channel")
	}
}

func TestHandleEventsBadRequest(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/4/events?channelBackend=testbackend", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rr.Code)
	}
	var resp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error != "bad-request" {
		t.Errorf("got error code %q", resp.Error)
	}
}

func TestHandleEventsNotAcceptable(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/4/events?channelBackend=testbackend&channelName=scalar-i32-be&begDate=1970-01-01T00:00:00Z&endDate=1970-01-01T00:00:01Z", nil)
	req.Header.Set("Accept", "text/plain")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusNotAcceptable {
		t.Fatalf("got %d, want 406", rr.Code)
	}
}

// newProxyServer builds a Server with Cfg.Proxy set and no Backends of its
// own, mirroring cmd/daqbuffer's "proxy" subcommand (SPEC_FULL.md "Node/
// proxy split").
func newProxyServer(t *testing.T) *Server {
	t.Helper()
	cat, err := catalog.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { cat.Close() })
	ctx := t.Context()
	if err := cat.SeedChannel(ctx, catalog.Config{
		Backend: "testbackend", Name: "scalar-i32-be",
		ScalarType: netpod.ScalarI32, Shape: netpod.ScalarShape,
		Keyspace: 2, SplitCount: 1,
	}); err != nil {
		t.Fatal(err)
	}
	cfg := &cfgpkg.Node{
		NodeIndex: 0, NodeCount: 1, Proxy: true,
		QueryTimeout: cfgpkg.Duration{Duration: 5_000_000_000},
	}
	return New(cfg, cat, nil)
}

// TestProxyEventsFallsThroughToRemoteOnly checks that a proxy node (no
// Backends configured) does not 400 on an unconfigured backend: it
// resolves to the zero config.Backend and, with no peers reachable in this
// test, returns an empty but successful range-final result instead of
// rejecting the request outright.
func TestProxyEventsFallsThroughToRemoteOnly(t *testing.T) {
	s := newProxyServer(t)
	q := url.Values{
		"channelBackend": {"testbackend"},
		"channelName":    {"scalar-i32-be"},
		"begDate":        {"1970-01-01T00:00:00Z"},
		"endDate":        {"1970-01-01T00:00:01Z"},
	}
	req := httptest.NewRequest(http.MethodGet, "/api/4/events?"+q.Encode(), nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d, want 200; body %s", rr.Code, rr.Body.String())
	}
}

// TestProxyPrebinnedRefused checks that a proxy node, which owns no
// patch-cache slice, refuses /api/4/prebinned outright rather than
// attempting a cache lookup against a nil *patchcache.Cache.
func TestProxyPrebinnedRefused(t *testing.T) {
	s := newProxyServer(t)
	q := url.Values{
		"channelBackend": {"testbackend"},
		"channelName":    {"scalar-i32-be"},
		"begDate":        {"1970-01-01T00:00:00Z"},
		"endDate":        {"1970-01-01T00:00:10Z"},
		"binCount":       {"10"},
	}
	req := httptest.NewRequest(http.MethodGet, "/api/4/prebinned?"+q.Encode(), nil)
	req.Header.Set("Accept", "application/octet-stream")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("got %d, want 404", rr.Code)
	}
}

// TestHandleBinnedTimeWeightedCarriesPriorEvent checks that a
// time-weighted-scalar binned query seeds its interpolation with the one
// event strictly before the requested range (binning.BinTimeWeighted's own
// doc comment), which requires serveBinned to expand the range filter for
// that aggKind. Ten events at ts=i*100ms, val=i (i=0..9) queried over
// [250ms, 450ms) with binCount=2: the carried-in seed is i=2 (ts=200ms,
// val=2), giving bin0 ([250ms,350ms)) a weighted average of 2.5 and bin1
// ([350ms,450ms)) 3.5 — both hand-computed from addSegment's per-bin
// weighting, not copied from upstream fixtures (SPEC_FULL.md §8).
func TestHandleBinnedTimeWeightedCarriesPriorEvent(t *testing.T) {
	s, _ := newTestServer(t)
	q := url.Values{
		"channelBackend": {"testbackend"},
		"channelName":    {"scalar-i32-be"},
		"begDate":        {"1970-01-01T00:00:00.25Z"},
		"endDate":        {"1970-01-01T00:00:00.45Z"},
		"binCount":       {"2"},
		"aggKind":        {"time-weighted-scalar"},
	}
	req := httptest.NewRequest(http.MethodGet, "/api/4/binned?"+q.Encode(), nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("binned: got %d, body %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Avg []*float64 `json:"avg"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v, body %s", err, rr.Body.String())
	}
	if len(resp.Avg) != 2 || resp.Avg[0] == nil || resp.Avg[1] == nil {
		t.Fatalf("got avg %+v, want two non-nil bins", resp.Avg)
	}
	const eps = 1e-9
	if math.Abs(*resp.Avg[0]-2.5) > eps {
		t.Errorf("bin0 avg = %v, want 2.5 (seeded from the event at ts=200ms)", *resp.Avg[0])
	}
	if math.Abs(*resp.Avg[1]-3.5) > eps {
		t.Errorf("bin1 avg = %v, want 3.5", *resp.Avg[1])
	}
}

// TestHandleEventsRangeIncomplete checks that a partial cluster failure —
// one peer reachable, one peer not — surfaces as rangeFinal=false rather
// than a silently-downgraded-to-complete result (spec.md's "partial
// cluster failure" contract, DESIGN.md's "Partial-completeness
// propagation"). The working peer is a real node.Server answering the
// same on-disk fixture used elsewhere in this file; the failing peer is
// an address nothing is listening on.
func TestHandleEventsRangeIncomplete(t *testing.T) {
	root := t.TempDir()
	chPath := filepath.Join(root, "testbackend", "scalar-i32-be", "2", "0", "0000.bin")
	if err := os.MkdirAll(filepath.Dir(chPath), 0o755); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	writeFileHeader(&buf, "scalar-i32-be", netpod.ScalarI32)
	for i := int64(0); i < 10; i++ {
		writeRecord(&buf, i, i*100_000_000, i, int32(i))
	}
	if err := os.WriteFile(chPath, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	peerCat, err := catalog.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { peerCat.Close() })
	ctx := t.Context()
	if err := peerCat.SeedChannel(ctx, catalog.Config{
		Backend: "testbackend", Name: "scalar-i32-be",
		ScalarType: netpod.ScalarI32, Shape: netpod.ScalarShape,
		Keyspace: 2, SplitCount: 1,
	}); err != nil {
		t.Fatal(err)
	}
	peerAddr := freeAddr(t)
	peerCfg := &cfgpkg.Node{
		NodeIndex: 1, NodeCount: 2, ListenAddr: peerAddr, DiskConcurrency: 4,
		Backends:     []cfgpkg.Backend{{Name: "testbackend", Root: root, Keyspace: 2, SplitCount: 1}},
		QueryTimeout: cfgpkg.Duration{Duration: 5_000_000_000},
	}
	peerServer := node.New(peerCfg, peerCat, nil)
	peerCtx, peerCancel := context.WithCancel(ctx)
	t.Cleanup(peerCancel)
	go peerServer.ListenAndServe(peerCtx)
	waitForListener(t, peerAddr)

	unreachableAddr := freeAddr(t) // nothing ever listens on this one

	proxyCat, err := catalog.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { proxyCat.Close() })
	if err := proxyCat.SeedChannel(ctx, catalog.Config{
		Backend: "testbackend", Name: "scalar-i32-be",
		ScalarType: netpod.ScalarI32, Shape: netpod.ScalarShape,
		Keyspace: 2, SplitCount: 1,
	}); err != nil {
		t.Fatal(err)
	}
	proxyCfg := &cfgpkg.Node{
		NodeIndex: 0, NodeCount: 2, Proxy: true,
		Peers:        []string{"", unreachableAddr, peerAddr},
		QueryTimeout: cfgpkg.Duration{Duration: 5_000_000_000},
	}
	s := New(proxyCfg, proxyCat, nil)

	q := url.Values{
		"channelBackend": {"testbackend"},
		"channelName":    {"scalar-i32-be"},
		"begDate":        {"1970-01-01T00:00:00Z"},
		"endDate":        {"1970-01-01T00:00:01Z"},
	}
	req := httptest.NewRequest(http.MethodGet, "/api/4/events?"+q.Encode(), nil)
	req.Header.Set("Accept", "application/json")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("events: got %d, body %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Values     []int32 `json:"values"`
		RangeFinal bool    `json:"rangeFinal"`
		TimedOut   bool    `json:"timedOut"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v, body %s", err, rr.Body.String())
	}
	if len(resp.Values) != 10 {
		t.Fatalf("got %d values from the working peer, want 10: %+v", len(resp.Values), resp)
	}
	if resp.TimedOut {
		t.Error("expected timedOut=false; the failure is a peer dial failure, not a deadline")
	}
	if resp.RangeFinal {
		t.Error("expected rangeFinal=false: one of two peers failed to answer")
	}
}

// TestHandleBinnedWaveXBins1 checks that a waveform channel queried with
// aggKind=x-bins-1 reduces each event's waveform to its mean
// (binning.ReduceXBins1) before binning — the x-bins-1 path serveBinnedWave
// drives for a dim-1 channel.
func TestHandleBinnedWaveXBins1(t *testing.T) {
	root := t.TempDir()
	chPath := filepath.Join(root, "testbackend", "wave-f64-be", "2", "0", "0000.bin")
	if err := os.MkdirAll(filepath.Dir(chPath), 0o755); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	writeWaveFileHeader(&buf, "wave-f64-be", netpod.ScalarF64, 4)
	// Two events, one per bin: means 2.0 and 6.0.
	writeWaveRecord(&buf, 0, 100_000_000, 0, []float64{1, 2, 2, 3})
	writeWaveRecord(&buf, 1, 300_000_000, 1, []float64{5, 6, 6, 7})
	if err := os.WriteFile(chPath, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	cat, err := catalog.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { cat.Close() })
	ctx := t.Context()
	if err := cat.SeedChannel(ctx, catalog.Config{
		Backend: "testbackend", Name: "wave-f64-be",
		ScalarType: netpod.ScalarF64, Shape: netpod.WaveShape(4),
		Keyspace: 2, SplitCount: 1,
	}); err != nil {
		t.Fatal(err)
	}

	cfg := &cfgpkg.Node{
		NodeIndex: 0, NodeCount: 1, CacheRoot: t.TempDir(),
		Backends:     []cfgpkg.Backend{{Name: "testbackend", Root: root, Keyspace: 2, SplitCount: 1}},
		QueryTimeout: cfgpkg.Duration{Duration: 5_000_000_000},
	}
	s := New(cfg, cat, nil)

	q := url.Values{
		"channelBackend": {"testbackend"},
		"channelName":    {"wave-f64-be"},
		"begDate":        {"1970-01-01T00:00:00Z"},
		"endDate":        {"1970-01-01T00:00:00.4Z"},
		"binCount":       {"2"},
		"aggKind":        {"x-bins-1"},
	}
	req := httptest.NewRequest(http.MethodGet, "/api/4/binned?"+q.Encode(), nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("binned: got %d, body %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Counts []int64    `json:"counts"`
		Avg    []*float64 `json:"avg"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v, body %s", err, rr.Body.String())
	}
	if len(resp.Avg) != 2 || resp.Avg[0] == nil || resp.Avg[1] == nil {
		t.Fatalf("got avg %+v, want two non-nil bins", resp.Avg)
	}
	const eps = 1e-9
	if math.Abs(*resp.Avg[0]-2.0) > eps {
		t.Errorf("bin0 avg = %v, want 2.0 (mean of [1,2,2,3])", *resp.Avg[0])
	}
	if math.Abs(*resp.Avg[1]-6.0) > eps {
		t.Errorf("bin1 avg = %v, want 6.0 (mean of [5,6,6,7])", *resp.Avg[1])
	}
}
