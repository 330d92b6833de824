// wave.go is the dim-1 analogue of multifile.go: it discovers and streams
// waveform file-sets the same way Stream does for scalar ones, sharing
// Discover/FileSet and the diskSem concurrency bound, since a directory
// layout and its disk-admission limit do not depend on the event shape
// stored inside it.
package multifile

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"

	"github.com/psi-daq/daqbuffer-go/chunker"
	"github.com/psi-daq/daqbuffer-go/events"
	"github.com/psi-daq/daqbuffer-go/merge"
	"github.com/psi-daq/daqbuffer-go/netpod"
)

// chunkerStreamWave is the dim-1 analogue of chunkerStream.
func chunkerStreamWave[T any](c *chunker.WaveChunker[T]) merge.InWave[T] {
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
				ch <- events.Data[*events.WaveBatch[T]]{Batch: b}
			}
		}
	}()
	return ch
}

// openFileSetWave is the dim-1 analogue of openFileSet.
func openFileSetWave[T any](ctx context.Context, fs FileSet, decode chunker.WaveDecodeValue[T], log *slog.Logger) (merge.InWave[T], []io.Closer, error) {
	ins := make([]merge.InWave[T], 0, len(fs.Splits))
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
		c, err := chunker.WaveOpen[T](f, decode, chunker.Options{Log: log})
		if err != nil {
			f.Close()
			diskSem.Release(1)
			return nil, closers, fmt.Errorf("multifile: %s: %w", sp.Path, err)
		}
		closers = append(closers, semReleaser{f})
		ins = append(ins, chunkerStreamWave(c))
	}
	if len(ins) == 1 {
		return ins[0], closers, nil
	}
	return merge.KWayWave[T](context.Background(), ins, 0), closers, nil
}

// StreamWave is the dim-1 analogue of Stream: it opens and concatenates, in
// time order, every waveform file-set discovered for (channel, rng) on this
// node, enforcing the same joined-stream invariants of §4.4.
func StreamWave[T any](ctx context.Context, root string, ch netpod.Channel, keyspace, splitCount int, rng netpod.NanoRange, expand bool, decode chunker.WaveDecodeValue[T], log *slog.Logger) <-chan events.StreamItem {
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
			in, closers, err := openFileSetWave[T](ctx, fs, decode, log)
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
					case events.Data[*events.WaveBatch[T]]:
						b := v.Batch
						if b.Len() == 0 {
							continue
						}
						last := b.Tss[b.Len()-1]
						if maxTs != math.MinInt64 && last < maxTs {
							out <- events.LogItem{Level: events.LogWarn, Msg: fmt.Sprintf("multifile: decreasing timestamp %d < %d across wave file-sets, dropping batch", last, maxTs)}
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
							out <- events.Data[*events.WaveBatch[T]]{Batch: b}
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
