// Package patchcache implements the two-level pre-binned patch cache of
// §4.8: a disk-backed cache of pre-computed bin ranges ("patches"), served
// from disk when present, else recursively from a finer granularity, else
// by a raw cluster-wide fetch and bin. Concurrent cold requests for the
// same patch are coalesced so the underlying computation runs once.
package patchcache

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/sha3"

	daqbuffer "github.com/psi-daq/daqbuffer-go"
	"github.com/psi-daq/daqbuffer-go/binning"
	"github.com/psi-daq/daqbuffer-go/events"
	"github.com/psi-daq/daqbuffer-go/frame"
	"github.com/psi-daq/daqbuffer-go/internal/singleflight"
	"github.com/psi-daq/daqbuffer-go/netpod"
)

// CacheUsage selects how [Cache.Serve] treats an existing cached patch and
// whether it writes a freshly computed one back to disk.
type CacheUsage int

const (
	// Use serves from disk when present, and writes through on a miss.
	Use CacheUsage = iota
	// Ignore bypasses the disk cache entirely, reading and writing neither.
	Ignore
	// Recompute forces a rebuild even if a cached copy exists, and writes
	// the fresh result back.
	Recompute
)

// String implements fmt.Stringer.
func (u CacheUsage) String() string {
	switch u {
	case Use:
		return "use"
	case Ignore:
		return "ignore"
	case Recompute:
		return "recompute"
	default:
		return fmt.Sprintf("CacheUsage(%d)", int(u))
	}
}

// PatchCoord identifies one patch: a contiguous run of bins of one
// granularity (§3).
type PatchCoord struct {
	BinLenNs   int64
	PatchLenNs int64
	PatchIndex int64
}

// Span returns the patch's half-open time span.
func (c PatchCoord) Span() netpod.NanoRange {
	return netpod.NanoRange{Beg: c.PatchIndex * c.PatchLenNs, End: (c.PatchIndex + 1) * c.PatchLenNs}
}

// BinCount returns the number of bins the patch covers.
func (c PatchCoord) BinCount() int {
	return int(c.PatchLenNs / c.BinLenNs)
}

// OwnerNodeIndex hashes (channel, patch) to a stable node index in
// [0, nodeCount) (§4.8, Testable Property 5), using the 256-bit sponge
// construction the original's cache ownership hash is built on rather than a
// non-cryptographic checksum: ownership must be stable across process
// restarts and architectures, which a sponge hash's fixed, well-specified
// output guarantees independent of map/seed randomization.
func OwnerNodeIndex(ch netpod.Channel, c PatchCoord, nodeCount int) int {
	span := c.Span()
	h := sha3.New256()
	fmt.Fprintf(h, "%s|%s|%d|%d|%d", ch.Backend, ch.Name, span.Beg, span.End, c.BinLenNs)
	sum := h.Sum(nil)
	return int(binary.BigEndian.Uint64(sum[:8]) % uint64(nodeCount))
}

type buildKey struct {
	channel netpod.Channel
	coord   PatchCoord
}

// RawFetcher issues a raw, cluster-wide event query for (ch, rng), used as
// the final fallback tier of Serve (§4.8 step 3).
type RawFetcher[T events.Numeric] func(ctx context.Context, ch netpod.Channel, rng netpod.NanoRange) (<-chan events.StreamItem, error)

// Cache is the two-level pre-binned patch cache for one scalar type. A
// node holds one instantiation per scalar type it serves, mirroring the
// scalar-type dispatch-at-the-edge strategy used throughout (§9).
type Cache[T events.Numeric] struct {
	Root      string
	NodeCount int
	NodeIndex int

	inflight singleflight.Group[buildKey, *events.BinnedBatch[T]]
}

// New constructs a Cache rooted at root, for a cluster of nodeCount nodes
// where this process is nodeIndex.
func New[T events.Numeric](root string, nodeIndex, nodeCount int) *Cache[T] {
	return &Cache[T]{Root: root, NodeIndex: nodeIndex, NodeCount: nodeCount}
}

func (c *Cache[T]) path(ch netpod.Channel, coord PatchCoord) string {
	return filepath.Join(c.Root, ch.Backend, ch.Name,
		fmt.Sprintf("%d", coord.BinLenNs), fmt.Sprintf("%d", coord.PatchLenNs),
		fmt.Sprintf("%d.patch", coord.PatchIndex))
}

// Serve returns the binned batch for one patch, reading from disk, a
// finer-granularity recursion, or a raw fetch in that order, per the
// CacheUsage policy.
func (c *Cache[T]) Serve(ctx context.Context, ch netpod.Channel, coord PatchCoord, usage CacheUsage, raw RawFetcher[T], scalarType netpod.ScalarType) (*events.BinnedBatch[T], error) {
	if owner := OwnerNodeIndex(ch, coord, c.NodeCount); owner != c.NodeIndex {
		return nil, &daqbuffer.Error{Kind: daqbuffer.ErrMissing, Op: "patchcache.Serve",
			Message: fmt.Sprintf("patch owned by node %d, not %d", owner, c.NodeIndex)}
	}

	if usage == Use {
		if b, err := c.readCached(coord, ch); err == nil {
			return b, nil
		}
	}

	res := <-c.inflight.DoChan(buildKey{ch, coord}, func() (*events.BinnedBatch[T], error) {
		return c.build(ctx, ch, coord, raw, scalarType)
	})
	if res.Err != nil {
		return nil, res.Err
	}

	if usage != Ignore {
		if err := c.writeThrough(coord, ch, scalarType, res.Val); err != nil {
			return res.Val, fmt.Errorf("patchcache: write-through: %w", err)
		}
	}
	return res.Val, nil
}

// build computes a patch's binned batch via recursion to a finer
// granularity when one exists in the canonical table, else by a raw
// cluster fetch re-binned directly at this patch's granularity (§4.8
// steps 2-3).
func (c *Cache[T]) build(ctx context.Context, ch netpod.Channel, coord PatchCoord, raw RawFetcher[T], scalarType netpod.ScalarType) (*events.BinnedBatch[T], error) {
	if finer, ok := FinerGranularity(coord.BinLenNs); ok {
		finerCoord := PatchCoord{BinLenNs: finer, PatchLenNs: coord.PatchLenNs, PatchIndex: coord.PatchIndex}
		sub, err := c.Serve(ctx, ch, finerCoord, Use, raw, scalarType)
		if err == nil {
			return rebin[T](sub, coord.BinCount()), nil
		}
		// Recursion failed (e.g. the finer patch is owned elsewhere, or
		// the raw fallback itself failed); fall through to a direct raw
		// fetch at this patch's own granularity rather than failing.
	}

	rng := coord.Span()
	in, err := raw(ctx, ch, rng)
	if err != nil {
		return nil, fmt.Errorf("patchcache: raw fetch: %w", err)
	}
	binned := binning.Bin[T](ctx, in, binning.Spec{Beg: rng.Beg, End: rng.End, BinCount: coord.BinCount()})
	for item := range binned {
		if v, ok := item.(events.Data[*events.BinnedBatch[T]]); ok {
			return v.Batch, nil
		}
		if e, ok := item.(events.ErrorItem); ok {
			return nil, e
		}
	}
	return nil, &daqbuffer.Error{Kind: daqbuffer.ErrInternal, Op: "patchcache.build", Message: "binner produced no result"}
}

// rebin folds a finer binned batch into outBinCount coarser bins by
// summing counts, re-deriving min/max, and recombining the per-finer-bin
// averages as a count-weighted mean.
func rebin[T events.Numeric](sub *events.BinnedBatch[T], outBinCount int) *events.BinnedBatch[T] {
	if sub.Len() == outBinCount {
		return sub
	}
	ratio := sub.Len() / outBinCount
	if ratio < 1 {
		ratio = 1
	}
	out := &events.BinnedBatch[T]{
		Ts1s: make([]int64, outBinCount), Ts2s: make([]int64, outBinCount),
		Counts: make([]int64, outBinCount),
		Min:    make([]*T, outBinCount), Max: make([]*T, outBinCount), Avg: make([]*float64, outBinCount),
	}
	for i := 0; i < outBinCount; i++ {
		lo := i * ratio
		hi := lo + ratio
		if hi > sub.Len() {
			hi = sub.Len()
		}
		if lo >= hi {
			continue
		}
		out.Ts1s[i] = sub.Ts1s[lo]
		out.Ts2s[i] = sub.Ts2s[hi-1]
		var weightedSum float64
		var total int64
		var min, max *T
		for j := lo; j < hi; j++ {
			total += sub.Counts[j]
			if sub.Avg[j] != nil {
				weightedSum += *sub.Avg[j] * float64(sub.Counts[j])
			}
			if sub.Min[j] != nil && (min == nil || *sub.Min[j] < *min) {
				v := *sub.Min[j]
				min = &v
			}
			if sub.Max[j] != nil && (max == nil || *sub.Max[j] > *max) {
				v := *sub.Max[j]
				max = &v
			}
		}
		out.Counts[i] = total
		out.Min[i] = min
		out.Max[i] = max
		if total > 0 {
			avg := weightedSum / float64(total)
			out.Avg[i] = &avg
		}
	}
	return out
}

// diskRecord is the JSON payload carried inside the single data frame of a
// patch's cache file.
type diskRecord[T events.Numeric] struct {
	Ts1s   []int64    `json:"ts1s"`
	Ts2s   []int64    `json:"ts2s"`
	Counts []int64    `json:"counts"`
	Min    []*T       `json:"min"`
	Max    []*T       `json:"max"`
	Avg    []*float64 `json:"avg"`
}

func (c *Cache[T]) readCached(coord PatchCoord, ch netpod.Channel) (*events.BinnedBatch[T], error) {
	f, err := os.Open(c.path(ch, coord))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fr, err := frame.Decode(f, frame.DefaultMaxPayload)
	if err != nil {
		return nil, fmt.Errorf("patchcache: read: %w", err)
	}
	var rec diskRecord[T]
	if err := json.Unmarshal(fr.Payload, &rec); err != nil {
		return nil, fmt.Errorf("patchcache: decode payload: %w", err)
	}

	term, err := frame.Decode(f, frame.DefaultMaxPayload)
	if err != nil || term.Type != frame.TypeTerminator {
		// A partial file (no terminator proof) is treated as uncached.
		return nil, io.ErrUnexpectedEOF
	}

	return &events.BinnedBatch[T]{Ts1s: rec.Ts1s, Ts2s: rec.Ts2s, Counts: rec.Counts, Min: rec.Min, Max: rec.Max, Avg: rec.Avg}, nil
}

// writeThrough writes b to a temporary file, fsyncs, and atomically
// renames it to the patch's canonical path, so readers never observe a
// torn file (§4.8, §5).
func (c *Cache[T]) writeThrough(coord PatchCoord, ch netpod.Channel, st netpod.ScalarType, b *events.BinnedBatch[T]) error {
	final := c.path(ch, coord)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(final), ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	payload, err := json.Marshal(diskRecord[T]{Ts1s: b.Ts1s, Ts2s: b.Ts2s, Counts: b.Counts, Min: b.Min, Max: b.Max, Avg: b.Avg})
	if err != nil {
		tmp.Close()
		return err
	}
	var buf bytes.Buffer
	if err := frame.Encode(&buf, frame.Typed(frame.BaseMinMaxAvgDim0, st), payload); err != nil {
		tmp.Close()
		return err
	}
	if err := frame.Encode(&buf, frame.TypeTerminator, nil); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, final)
}
