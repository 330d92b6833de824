// Package chunker parses one on-disk event-container file into batches of
// typed events (§4.2). The on-disk payload is big-endian, distinct from the
// little-endian frame headers/trailers of package frame.
package chunker

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"

	"github.com/klauspost/compress/gzip"

	daqbuffer "github.com/psi-daq/daqbuffer-go"
	"github.com/psi-daq/daqbuffer-go/events"
	"github.com/psi-daq/daqbuffer-go/netpod"
)

var be = binary.BigEndian

// FileHeader is the parsed container file header (§4.2 item 1).
type FileHeader struct {
	Version    uint16
	Channel    string
	ScalarType netpod.ScalarType
	Shape      netpod.Shape
}

// ErrBadFileHeader is returned when the file header's version or
// length-trailer cross-check fails.
var ErrBadFileHeader = fmt.Errorf("chunker: bad file header")

// ParseFileHeader reads and validates the fixed-layout file header: 2-byte
// version (must be 0), 4-byte total length L, L-12 bytes of metadata, and a
// closing 4-byte repeat of L.
func ParseFileHeader(r io.Reader) (FileHeader, error) {
	var prefix [6]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return FileHeader{}, err
	}
	version := be.Uint16(prefix[0:2])
	length := be.Uint32(prefix[2:6])
	if version != 0 {
		return FileHeader{}, &daqbuffer.Error{Inner: ErrBadFileHeader, Kind: daqbuffer.ErrMalformed, Op: "chunker.ParseFileHeader", Message: fmt.Sprintf("unsupported version %d", version)}
	}
	if length < 12 {
		return FileHeader{}, &daqbuffer.Error{Inner: ErrBadFileHeader, Kind: daqbuffer.ErrMalformed, Op: "chunker.ParseFileHeader", Message: fmt.Sprintf("header length %d too small", length)}
	}
	meta := make([]byte, length-12)
	if _, err := io.ReadFull(r, meta); err != nil {
		return FileHeader{}, err
	}
	var trailer [4]byte
	if _, err := io.ReadFull(r, trailer[:]); err != nil {
		return FileHeader{}, err
	}
	if be.Uint32(trailer[:]) != length {
		return FileHeader{}, &daqbuffer.Error{Inner: ErrBadFileHeader, Kind: daqbuffer.ErrMalformed, Op: "chunker.ParseFileHeader", Message: "trailing length mismatch"}
	}
	if len(meta) < 1 {
		return FileHeader{}, &daqbuffer.Error{Inner: ErrBadFileHeader, Kind: daqbuffer.ErrMalformed, Op: "chunker.ParseFileHeader"}
	}
	st := netpod.ScalarType(meta[0])
	if !st.Valid() {
		return FileHeader{}, &daqbuffer.Error{Inner: ErrBadFileHeader, Kind: daqbuffer.ErrMalformed, Op: "chunker.ParseFileHeader", Message: fmt.Sprintf("scalar type %d out of range", meta[0])}
	}
	shape := netpod.ScalarShape
	if len(meta) >= 3 {
		if n := int(be.Uint16(meta[1:3])); n > 0 {
			shape = netpod.WaveShape(n)
		}
	}
	name := ""
	if len(meta) > 3 {
		name = string(meta[3:])
	}
	return FileHeader{Version: version, Channel: name, ScalarType: st, Shape: shape}, nil
}

// DefaultTargetBatchBytes is the default decoded-value output size at which
// a batch is emitted (§4.2: "e.g. 32 MiB of decoded values").
const DefaultTargetBatchBytes = 32 << 20

// Options configures a Chunker.
type Options struct {
	// TargetBatchBytes is the approximate decoded-value size at which a
	// batch is flushed. Zero means DefaultTargetBatchBytes.
	TargetBatchBytes int
	// Decompress, when set, runs each event's value payload through gzip
	// before decoding (§4.2's "optional gzip/BSON-style decompression").
	Decompress bool
	Log        *slog.Logger
}

// DecodeValue decodes one scalar-type-specific value from r, advancing r by
// exactly the number of bytes the wire format reserves for one value. The
// caller supplies this once, at the scalar-type dispatch edge (§9).
type DecodeValue[T any] func(r io.Reader) (T, error)

// Chunker reads one open container file and yields [events.Batch] values.
//
// A Chunker is not safe for concurrent use.
type Chunker[T any] struct {
	r      *bufio.Reader
	opts   Options
	decode DecodeValue[T]
	header FileHeader
	seq    int64 // record-within-file sequence number, for resync logging
	bytes  int64 // bytes consumed across all records read so far
	log    *slog.Logger
}

// Open parses the file header from r and returns a Chunker ready to yield
// event batches via Next.
func Open[T any](r io.Reader, decode DecodeValue[T], opts Options) (*Chunker[T], error) {
	br := bufio.NewReaderSize(r, 64<<10)
	hdr, err := ParseFileHeader(br)
	if err != nil {
		return nil, fmt.Errorf("chunker: open: %w", err)
	}
	if opts.TargetBatchBytes <= 0 {
		opts.TargetBatchBytes = DefaultTargetBatchBytes
	}
	lg := opts.Log
	if lg == nil {
		lg = slog.Default()
	}
	return &Chunker[T]{r: br, opts: opts, decode: decode, header: hdr, log: lg}, nil
}

// Header returns the parsed file header.
func (c *Chunker[T]) Header() FileHeader { return c.header }

// Stats summarizes the records and bytes this chunker has read so far
// (§3, §5's per-open ReadStats), reported once a file is fully drained.
func (c *Chunker[T]) Stats() events.StatsItem {
	return events.StatsItem{Kind: events.StatsRead, Count: c.seq, Bytes: c.bytes}
}

// Next reads event records until the target batch size is reached or the
// file ends, returning io.EOF once no further records remain. A parse error
// confined to one record is logged and that record is skipped; if events
// have already accumulated, they are returned at that point with a nil
// error, and the error itself is never returned. Any other read error is
// returned together with the events accumulated so far, if any.
func (c *Chunker[T]) Next() (*events.Batch[T], error) {
	batch := &events.Batch[T]{
		Channel: netpod.Channel{Name: c.header.Channel},
	}
	approxBytes := 0
	var sizeofT int
	var zero T
	sizeofT = int(unsafeSizeof(zero))

	for approxBytes < c.opts.TargetBatchBytes {
		ts, pulse, val, err := c.readRecord()
		if err == io.EOF {
			if batch.Len() == 0 {
				return nil, io.EOF
			}
			return batch, nil
		}
		if err != nil {
			var perr *recordParseError
			if asRecordParseError(err, &perr) {
				c.log.Warn("chunker: skipping malformed record", "seq", c.seq, "err", perr.err)
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
		batch.Values = append(batch.Values, val)
		approxBytes += sizeofT
		c.seq++
	}
	return batch, nil
}

// recordParseError marks an error confined to one record, allowing the
// chunker to resync rather than aborting the whole file.
type recordParseError struct{ err error }

func (e *recordParseError) Error() string { return e.err.Error() }
func (e *recordParseError) Unwrap() error { return e.err }

func asRecordParseError(err error, target **recordParseError) bool {
	rpe, ok := err.(*recordParseError)
	if !ok {
		return false
	}
	*target = rpe
	return true
}

// readRecord reads one event record: 4-byte total length M, 8-byte seq,
// 8-byte ts, 8-byte pulse id, then the scalar-type-specific value(s),
// never reading past M bytes of the declared record.
func (c *Chunker[T]) readRecord() (ts, pulse int64, val T, err error) {
	var lenBuf [4]byte
	if _, err = io.ReadFull(c.r, lenBuf[:]); err != nil {
		return 0, 0, val, err
	}
	m := be.Uint32(lenBuf[:])
	if m < 24 {
		return 0, 0, val, &recordParseError{fmt.Errorf("chunker: record length %d too small", m)}
	}
	body := make([]byte, m-4)
	if _, rerr := io.ReadFull(c.r, body); rerr != nil {
		return 0, 0, val, rerr
	}
	c.bytes += int64(len(lenBuf) + len(body))
	br := newBoundedReader(body)
	var head [24]byte
	if _, rerr := io.ReadFull(br, head[:]); rerr != nil {
		return 0, 0, val, &recordParseError{rerr}
	}
	ts = int64(be.Uint64(head[8:16]))
	pulse = int64(be.Uint64(head[16:24]))

	var valueReader io.Reader = br
	if c.opts.Decompress {
		gz, gerr := gzip.NewReader(br)
		if gerr != nil {
			return 0, 0, val, &recordParseError{gerr}
		}
		defer gz.Close()
		valueReader = gz
	}
	v, derr := c.decode(valueReader)
	if derr != nil {
		return 0, 0, val, &recordParseError{derr}
	}
	return ts, pulse, v, nil
}

func newBoundedReader(b []byte) io.Reader {
	return &sliceReader{b: b}
}

type sliceReader struct{ b []byte }

func (s *sliceReader) Read(p []byte) (int, error) {
	if len(s.b) == 0 {
		return 0, io.EOF
	}
	n := copy(p, s.b)
	s.b = s.b[n:]
	return n, nil
}

// unsafeSizeof is a rough per-value byte estimate used only to decide when
// a batch has grown large enough to flush; it need not be exact.
func unsafeSizeof(v any) uintptr {
	switch v.(type) {
	case int8, uint8, bool:
		return 1
	case int16, uint16:
		return 2
	case int32, uint32, float32:
		return 4
	case int64, uint64, float64:
		return 8
	default:
		return 16
	}
}
