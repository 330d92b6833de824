// Package multifile discovers the file-sets intersecting a time range on
// one node and feeds them, in time order, through a single chunker or a
// local k-way merger into a joined event-batch stream (§4.4).
package multifile

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/psi-daq/daqbuffer-go/chunker"
	"github.com/psi-daq/daqbuffer-go/events"
	"github.com/psi-daq/daqbuffer-go/merge"
	"github.com/psi-daq/daqbuffer-go/netpod"
)

// DefaultDiskConcurrency bounds the number of concurrently open file
// descriptors this process's multifile discovery holds when no explicit
// limit has been configured via [Init] (§5's concurrency-bound promise).
const DefaultDiskConcurrency = 64

// diskSem bounds concurrently open container files across every query this
// process is serving, local or peer-originated: each [os.Open] in
// openFileSet/openFileSetWave acquires one slot before opening and releases
// it only once that split's reader is closed, so a burst of concurrent
// queries cannot exhaust file descriptors.
var diskSem = semaphore.NewWeighted(DefaultDiskConcurrency)

// Init (re)configures the process-wide disk-concurrency bound from a node's
// cfg.DiskConcurrency (§5); call it once at node/proxy startup before
// serving any query. n <= 0 falls back to [DefaultDiskConcurrency].
func Init(n int) {
	if n <= 0 {
		n = DefaultDiskConcurrency
	}
	diskSem = semaphore.NewWeighted(int64(n))
}

// semReleaser wraps an io.Closer so releasing its diskSem slot happens
// exactly once, on Close, regardless of how many file-sets are in flight.
type semReleaser struct {
	io.Closer
}

func (s semReleaser) Close() error {
	defer diskSem.Release(1)
	return s.Closer.Close()
}

// TimeBinLenNs is the fixed time-bin width used by the directory layout
// (§4.4's "deterministic directory layout derived from channel name and
// keyspace"); one calendar day, matching the patch cache's own day-aligned
// coarsest granularity (§4.8).
const TimeBinLenNs = int64(24 * time.Hour)

// Split is one sub-shard file within a time-bin.
type Split struct {
	Index int
	Path  string
}

// FileSet is the set of files on this node that could carry events for one
// time-bin.
type FileSet struct {
	KeyspaceID   int
	TimeBinIndex int64
	Splits       []Split
}

// binPath returns the on-disk path for one (keyspace, time-bin, split).
func binPath(root string, ch netpod.Channel, keyspace int, bin int64, split int) string {
	return filepath.Join(root, ch.Backend, ch.Name, strconv.Itoa(keyspace),
		strconv.FormatInt(bin, 10), fmt.Sprintf("%04d.bin", split))
}

// filesetAt probes for the splits of one time-bin, returning ok=false if
// none of the splitCount candidate paths exist.
func filesetAt(root string, ch netpod.Channel, keyspace, splitCount int, bin int64) (FileSet, bool) {
	fs := FileSet{KeyspaceID: keyspace, TimeBinIndex: bin}
	for sp := 0; sp < splitCount; sp++ {
		p := binPath(root, ch, keyspace, bin, sp)
		if _, err := os.Stat(p); err == nil {
			fs.Splits = append(fs.Splits, Split{Index: sp, Path: p})
		}
	}
	return fs, len(fs.Splits) > 0
}

// maxNearestScan bounds how far Discover looks for the single nearest
// file-set outside the range when expand is set, so a sparse channel
// cannot make discovery scan forever.
const maxNearestScan = 3650 // ~10 years of daily bins

// Discover returns the file-sets intersecting rng, ordered by
// (time_bin_index, split_index). If expand is set, the nearest file-set
// strictly before and strictly after the range is appended as well, when
// one exists within maxNearestScan bins.
func Discover(root string, ch netpod.Channel, keyspace, splitCount int, rng netpod.NanoRange, expand bool) []FileSet {
	begBin := floorDiv(rng.Beg, TimeBinLenNs)
	endBin := floorDiv(rng.End-1, TimeBinLenNs)

	var sets []FileSet
	for bin := begBin; bin <= endBin; bin++ {
		if fs, ok := filesetAt(root, ch, keyspace, splitCount, bin); ok {
			sets = append(sets, fs)
		}
	}

	if expand {
		if fs, ok := scanNearest(root, ch, keyspace, splitCount, begBin-1, -1); ok {
			sets = append([]FileSet{fs}, sets...)
		}
		if fs, ok := scanNearest(root, ch, keyspace, splitCount, endBin+1, 1); ok {
			sets = append(sets, fs)
		}
	}

	sort.Slice(sets, func(i, j int) bool { return sets[i].TimeBinIndex < sets[j].TimeBinIndex })
	return sets
}

func scanNearest(root string, ch netpod.Channel, keyspace, splitCount int, start int64, step int64) (FileSet, bool) {
	for i, bin := 0, start; i < maxNearestScan; i, bin = i+1, bin+step {
		if fs, ok := filesetAt(root, ch, keyspace, splitCount, bin); ok {
			return fs, true
		}
	}
	return FileSet{}, false
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// chunkerStream adapts a [chunker.Chunker]'s pull-based Next into a
// StreamItem channel.
func chunkerStream[T any](c *chunker.Chunker[T]) merge.In[T] {
	ch := make(chan events.StreamItem)
	go func() {
		defer close(ch)
		ch <- events.StatsItem{Kind: events.StatsOpen, Count: 1}
		for {
			b, err := c.Next()
			switch {
			case err == io.EOF:
				ch <- c.Stats()
				ch <- events.RangeComplete{}
				return
			case err != nil:
				ch <- events.ErrorItem{Err: err}
				return
			default:
				ch <- events.Data[*events.Batch[T]]{Batch: b}
			}
		}
	}()
	return ch
}

// openFileSet opens every split of fs and returns one joined stream: the
// split's own chunker stream directly if there is one split, or a local
// k-way merge of all splits' chunker streams otherwise. Each open acquires
// a diskSem slot, held until the returned closer runs (§5).
func openFileSet[T any](ctx context.Context, fs FileSet, decode chunker.DecodeValue[T], log *slog.Logger) (merge.In[T], []io.Closer, error) {
	ins := make([]merge.In[T], 0, len(fs.Splits))
	closers := make([]io.Closer, 0, len(fs.Splits))
	for _, sp := range fs.Splits {
		if err := diskSem.Acquire(ctx, 1); err != nil {
			return nil, closers, err
		}
		f, err := os.Open(sp.Path)
		if err != nil {
			diskSem.Release(1)
			return nil, closers, fmt.Errorf("multifile: open %s: %w", sp.Path, err)
		}
		c, err := chunker.Open[T](f, decode, chunker.Options{Log: log})
		if err != nil {
			f.Close()
			diskSem.Release(1)
			return nil, closers, fmt.Errorf("multifile: %s: %w", sp.Path, err)
		}
		closers = append(closers, semReleaser{f})
		ins = append(ins, chunkerStream(c))
	}
	if len(ins) == 1 {
		return ins[0], closers, nil
	}
	return merge.KWay[T](context.Background(), ins, 0), closers, nil
}

// Stream opens and concatenates, in time order, every file-set discovered
// for (channel, rng) on this node, enforcing the joined-stream invariants
// of §4.4: a decreasing maximum timestamp across file-sets yields a
// warning log and the offending batch is dropped; once the running maximum
// first reaches rng.End, the current batch is truncated there and all
// subsequent file-sets are left unopened.
func Stream[T any](ctx context.Context, root string, ch netpod.Channel, keyspace, splitCount int, rng netpod.NanoRange, expand bool, decode chunker.DecodeValue[T], log *slog.Logger) <-chan events.StreamItem {
	if log == nil {
		log = slog.Default()
	}
	sets := Discover(root, ch, keyspace, splitCount, rng, expand)
	out := make(chan events.StreamItem)
	go func() {
		defer close(out)
		maxTs := int64(math.MinInt64)
		reachedEnd := false

		for _, fs := range sets {
			if reachedEnd {
				break
			}
			in, closers, err := openFileSet[T](ctx, fs, decode, log)
			if err != nil {
				out <- events.ErrorItem{Err: err}
				closeAll(closers)
				return
			}

		drain:
			for {
				select {
				case item, ok := <-in:
					if !ok {
						break drain
					}
					switch v := item.(type) {
					case events.Data[*events.Batch[T]]:
						b := v.Batch
						if b.Len() == 0 {
							continue
						}
						last := b.Tss[b.Len()-1]
						if maxTs != math.MinInt64 && last < maxTs {
							out <- events.LogItem{Level: events.LogWarn, Msg: fmt.Sprintf("multifile: decreasing timestamp %d < %d across file-sets, dropping batch", last, maxTs)}
							continue
						}
						cut := b.Len()
						for i, ts := range b.Tss {
							if ts >= rng.End {
								cut = i + 1
								reachedEnd = true
								break
							}
						}
						if cut < b.Len() {
							b = b.Slice(0, cut)
						}
						if b.Len() > 0 {
							maxTs = b.Tss[b.Len()-1]
							out <- events.Data[*events.Batch[T]]{Batch: b}
						}
						if reachedEnd {
							break drain
						}
					case events.RangeComplete:
						break drain
					default:
						out <- item
					}
				case <-ctx.Done():
					closeAll(closers)
					return
				}
			}
			closeAll(closers)
		}
		out <- events.RangeComplete{}
	}()
	return out
}

func closeAll(cs []io.Closer) {
	for _, c := range cs {
		c.Close()
	}
}
