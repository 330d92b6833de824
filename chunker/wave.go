package chunker

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"

	"github.com/klauspost/compress/gzip"

	daqbuffer "github.com/psi-daq/daqbuffer-go"
	"github.com/psi-daq/daqbuffer-go/events"
	"github.com/psi-daq/daqbuffer-go/netpod"
)

// WaveDecodeValue decodes one event's fixed-length waveform from r, reading
// exactly n scalar values (§4.2's "dim-1 ... vector of length N per
// event").
type WaveDecodeValue[T any] func(r io.Reader, n int) ([]T, error)

// WaveOf builds a [WaveDecodeValue] out of a scalar [DecodeValue] by reading
// n values back to back: the on-disk layout of a waveform record is just n
// consecutive copies of the scalar record's value field, so every
// DecodeI8..DecodeF64 helper already supplies the per-element codec a wave
// channel needs.
func WaveOf[T any](decode DecodeValue[T]) WaveDecodeValue[T] {
	return func(r io.Reader, n int) ([]T, error) {
		vals := make([]T, n)
		for i := range vals {
			v, err := decode(r)
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		return vals, nil
	}
}

// WaveChunker reads one open dim-1 container file and yields
// [events.WaveBatch] values. It mirrors [Chunker] field for field; the two
// are kept as separate monomorphic types rather than unified behind an
// interface, following the dispatch-once-at-the-edge strategy of §9 applied
// a second time across the dim-0/dim-1 axis.
//
// A WaveChunker is not safe for concurrent use.
type WaveChunker[T any] struct {
	r      *bufio.Reader
	opts   Options
	decode WaveDecodeValue[T]
	header FileHeader
	n      int
	seq    int64 // record-within-file sequence number
	bytes  int64 // bytes consumed across all records read so far
	log    *slog.Logger
}

// WaveOpen parses the file header from r and returns a WaveChunker ready to
// yield waveform batches via Next. It returns an error if the header
// declares a scalar (dim-0) shape; use [Open] for those.
func WaveOpen[T any](r io.Reader, decode WaveDecodeValue[T], opts Options) (*WaveChunker[T], error) {
	br := bufio.NewReaderSize(r, 64<<10)
	hdr, err := ParseFileHeader(br)
	if err != nil {
		return nil, fmt.Errorf("chunker: wave open: %w", err)
	}
	if !hdr.Shape.IsWave() {
		return nil, &daqbuffer.Error{Kind: daqbuffer.ErrMalformed, Op: "chunker.WaveOpen", Message: "file header declares a scalar shape"}
	}
	if opts.TargetBatchBytes <= 0 {
		opts.TargetBatchBytes = DefaultTargetBatchBytes
	}
	lg := opts.Log
	if lg == nil {
		lg = slog.Default()
	}
	return &WaveChunker[T]{r: br, opts: opts, decode: decode, header: hdr, n: hdr.Shape.N, log: lg}, nil
}

// Header returns the parsed file header.
func (c *WaveChunker[T]) Header() FileHeader { return c.header }

// Stats summarizes the records and bytes this chunker has read so far
// (§3, §5's per-open ReadStats), reported once a file is fully drained.
func (c *WaveChunker[T]) Stats() events.StatsItem {
	return events.StatsItem{Kind: events.StatsRead, Count: c.seq, Bytes: c.bytes}
}

// Next reads waveform records until the target batch size is reached or
// the file ends, returning io.EOF once no further records remain. Parse
// errors on individual records are logged and the chunker resyncs at the
// next record boundary, mirroring [Chunker.Next]'s resync behavior.
func (c *WaveChunker[T]) Next() (*events.WaveBatch[T], error) {
	batch := &events.WaveBatch[T]{
		Channel: netpod.Channel{Name: c.header.Channel},
		N:       c.n,
	}
	approxBytes := 0
	elemBytes := c.n * elementSize[T]()

	for approxBytes < c.opts.TargetBatchBytes {
		ts, pulse, vals, err := c.readRecord()
		if err == io.EOF {
			if batch.Len() == 0 {
				return nil, io.EOF
			}
			return batch, nil
		}
		if err != nil {
			var perr *recordParseError
			if asRecordParseError(err, &perr) {
				c.log.Warn("chunker: skipping malformed wave record", "seq", c.seq, "err", perr.err)
				if batch.Len() > 0 {
					return batch, nil
				}
				continue
			}
			if batch.Len() > 0 {
				return batch, err
			}
			return nil, err
		}
		batch.Tss = append(batch.Tss, ts)
		batch.Pulses = append(batch.Pulses, pulse)
		batch.Values = append(batch.Values, vals)
		approxBytes += elemBytes
		c.seq++
	}
	return batch, nil
}

// readRecord reads one waveform event record: 4-byte total length M,
// 8-byte seq, 8-byte ts, 8-byte pulse id, then N scalar-type-specific
// values, the dim-1 analogue of [Chunker.readRecord].
func (c *WaveChunker[T]) readRecord() (ts, pulse int64, vals []T, err error) {
	var lenBuf [4]byte
	if _, err = io.ReadFull(c.r, lenBuf[:]); err != nil {
		return 0, 0, nil, err
	}
	m := be.Uint32(lenBuf[:])
	if m < 24 {
		return 0, 0, nil, &recordParseError{fmt.Errorf("chunker: wave record length %d too small", m)}
	}
	body := make([]byte, m-4)
	if _, rerr := io.ReadFull(c.r, body); rerr != nil {
		return 0, 0, nil, rerr
	}
	c.bytes += int64(len(lenBuf) + len(body))
	br := newBoundedReader(body)
	var head [24]byte
	if _, rerr := io.ReadFull(br, head[:]); rerr != nil {
		return 0, 0, nil, &recordParseError{rerr}
	}
	ts = int64(be.Uint64(head[8:16]))
	pulse = int64(be.Uint64(head[16:24]))

	var valueReader io.Reader = br
	if c.opts.Decompress {
		gz, gerr := gzip.NewReader(br)
		if gerr != nil {
			return 0, 0, nil, &recordParseError{gerr}
		}
		defer gz.Close()
		valueReader = gz
	}
	v, derr := c.decode(valueReader, c.n)
	if derr != nil {
		return 0, 0, nil, &recordParseError{derr}
	}
	return ts, pulse, v, nil
}

// elementSize returns a rough per-scalar-element byte estimate, the wave
// analogue of unsafeSizeof, used only to decide when a batch has grown
// large enough to flush.
func elementSize[T any]() int {
	var zero T
	return int(unsafeSizeof(zero))
}
