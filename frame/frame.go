// Package frame implements the length-delimited, type-tagged,
// CRC-protected framing of §4.1, used both for the inter-node wire
// protocol and for on-disk patch-cache records.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	daqbuffer "github.com/psi-daq/daqbuffer-go"
	"github.com/psi-daq/daqbuffer-go/netpod"
)

// Magic is the constant 4-byte value every frame header starts with.
const Magic uint32 = 0xc6c3b73d

// EncoderID is the constant encoder identifier, reserved for future codecs.
const EncoderID uint32 = 0x12121212

// HeaderSize and TrailerSize are the fixed sizes of the framing overhead.
const (
	HeaderSize  = 20
	TrailerSize = 4
)

// DefaultMaxPayload is the default cap on decoded payload size.
const DefaultMaxPayload = 2 << 20 // 2 MiB

// Type is a frame_type identifier: either a reserved control type, or a
// typed-item base ORed with a [netpod.ScalarType] suffix.
type Type uint32

// Reserved frame types.
const (
	TypeTerminator Type = 0x01 // empty payload; clean half-close signal
	TypeError      Type = 0x02 // payload is a serialized error record
	TypeQueryString Type = 0x100
)

// Typed-item bases; the low byte is a [netpod.ScalarType].
const (
	BaseEventsDim0      Type = 0x500 // dim-0 events
	BaseXBinsDim0        Type = 0x600 // x-binned dim-0
	BaseMinMaxAvgDim0    Type = 0x700 // min-max-avg bins dim-0
	BaseEventsDim1       Type = 0x800 // dim-1 events
	BaseXBinsDim1        Type = 0x900 // x-binned dim-1
	BaseMinMaxAvgDim1    Type = 0xa00 // bins dim-1
	BaseMinMaxAvgWaveExp Type = 0xb00 // bins wave-expanded
)

// Typed constructs a concrete frame type from a base and a scalar type.
func Typed(base Type, st netpod.ScalarType) Type {
	return base + Type(st)
}

// ScalarType recovers the scalar-type suffix of a typed frame type relative
// to base. The caller is expected to already know (or have matched) the
// base.
func (t Type) ScalarType(base Type) netpod.ScalarType {
	return netpod.ScalarType(t - base)
}

// String implements fmt.Stringer.
func (t Type) String() string {
	switch t {
	case TypeTerminator:
		return "terminator"
	case TypeError:
		return "error"
	case TypeQueryString:
		return "query-string"
	default:
		return fmt.Sprintf("Type(0x%x)", uint32(t))
	}
}

// Decode errors (§4.1). Each is wrapped in a *[daqbuffer.Error] of kind
// ErrMalformed by [Decode] before being returned to the caller.
var (
	ErrBadMagic           = errors.New("frame: bad magic")
	ErrBadEncoder         = errors.New("frame: bad encoder id")
	ErrPayloadTooLarge    = errors.New("frame: payload too large")
	ErrPayloadCRCMismatch = errors.New("frame: payload crc mismatch")
	ErrFrameCRCMismatch   = errors.New("frame: frame crc mismatch")
	ErrTypeMismatch       = errors.New("frame: type mismatch")
)

// Frame is a decoded header plus its payload.
type Frame struct {
	Type    Type
	Payload []byte
}

// Encode writes one frame to w: header, payload, trailer, little-endian.
func Encode(w io.Writer, typ Type, payload []byte) error {
	buf := make([]byte, HeaderSize+len(payload)+TrailerSize)
	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	binary.LittleEndian.PutUint32(buf[4:8], EncoderID)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(typ))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(payload)))
	payloadCRC := crc32.ChecksumIEEE(payload)
	binary.LittleEndian.PutUint32(buf[16:20], payloadCRC)
	copy(buf[HeaderSize:], payload)
	frameCRC := crc32.ChecksumIEEE(buf[:HeaderSize+len(payload)])
	binary.LittleEndian.PutUint32(buf[HeaderSize+len(payload):], frameCRC)
	_, err := w.Write(buf)
	return err
}

// Decode reads one frame from r, verifying both CRCs before returning.
//
// maxPayload caps the accepted payload_len; pass [DefaultMaxPayload] for
// the default 2 MiB cap.
func Decode(r io.Reader, maxPayload int) (Frame, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	magic := binary.LittleEndian.Uint32(hdr[0:4])
	if magic != Magic {
		return Frame{}, malformed(ErrBadMagic)
	}
	encoderID := binary.LittleEndian.Uint32(hdr[4:8])
	if encoderID != EncoderID {
		return Frame{}, malformed(ErrBadEncoder)
	}
	typ := Type(binary.LittleEndian.Uint32(hdr[8:12]))
	payloadLen := binary.LittleEndian.Uint32(hdr[12:16])
	payloadCRC := binary.LittleEndian.Uint32(hdr[16:20])
	if int(payloadLen) > maxPayload {
		return Frame{}, malformed(fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, payloadLen, maxPayload))
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, err
	}
	if crc32.ChecksumIEEE(payload) != payloadCRC {
		return Frame{}, malformed(ErrPayloadCRCMismatch)
	}

	var trailer [TrailerSize]byte
	if _, err := io.ReadFull(r, trailer[:]); err != nil {
		return Frame{}, err
	}
	frameCRC := binary.LittleEndian.Uint32(trailer[:])
	gotCRC := crc32.Update(crc32.ChecksumIEEE(hdr[:]), crc32.IEEETable, payload)
	if gotCRC != frameCRC {
		return Frame{}, malformed(ErrFrameCRCMismatch)
	}

	return Frame{Type: typ, Payload: payload}, nil
}

// DecodeExpect decodes one frame and additionally verifies its type
// matches want, returning [ErrTypeMismatch] (wrapped) if not.
func DecodeExpect(r io.Reader, want Type, maxPayload int) (Frame, error) {
	f, err := Decode(r, maxPayload)
	if err != nil {
		return Frame{}, err
	}
	if f.Type != want {
		return Frame{}, malformed(fmt.Errorf("%w: got 0x%x, want 0x%x", ErrTypeMismatch, uint32(f.Type), uint32(want)))
	}
	return f, nil
}

func malformed(err error) error {
	return &daqbuffer.Error{Inner: err, Kind: daqbuffer.ErrMalformed, Op: "frame.Decode"}
}
