package chunker

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/psi-daq/daqbuffer-go/netpod"
)

// writeFileHeader writes a minimal valid file header for an i32 scalar
// channel with the given name.
func writeFileHeader(t *testing.T, buf *bytes.Buffer, name string) {
	t.Helper()
	meta := make([]byte, 3+len(name))
	meta[0] = byte(netpod.ScalarI32)
	binary.BigEndian.PutUint16(meta[1:3], 0) // scalar shape
	copy(meta[3:], name)
	length := uint32(len(meta) + 12)
	binary.Write(buf, binary.BigEndian, uint16(0))
	binary.Write(buf, binary.BigEndian, length)
	buf.Write(meta)
	binary.Write(buf, binary.BigEndian, length)
}

func writeRecord(t *testing.T, buf *bytes.Buffer, seq, ts, pulse int64, v int32) {
	t.Helper()
	var body bytes.Buffer
	binary.Write(&body, binary.BigEndian, uint64(seq))
	binary.Write(&body, binary.BigEndian, uint64(ts))
	binary.Write(&body, binary.BigEndian, uint64(pulse))
	binary.Write(&body, binary.BigEndian, v)
	m := uint32(4 + body.Len())
	binary.Write(buf, binary.BigEndian, m)
	buf.Write(body.Bytes())
}

func decodeI32(r io.Reader) (int32, error) {
	var v int32
	err := binary.Read(r, binary.BigEndian, &v)
	return v, err
}

func TestChunkerRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	writeFileHeader(t, &buf, "scalar-i32-be")
	writeRecord(t, &buf, 0, 100, 1, 11)
	writeRecord(t, &buf, 1, 200, 2, 22)
	writeRecord(t, &buf, 2, 300, 3, 33)

	c, err := Open[int32](&buf, decodeI32, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if c.Header().Channel != "scalar-i32-be" {
		t.Errorf("channel: got %q", c.Header().Channel)
	}
	if c.Header().ScalarType != netpod.ScalarI32 {
		t.Errorf("scalar type: got %v", c.Header().ScalarType)
	}

	batch, err := c.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	wantTss := []int64{100, 200, 300}
	if got := batch.Tss; !cmp.Equal(got, wantTss) {
		t.Error(cmp.Diff(got, wantTss))
	}
	wantVals := []int32{11, 22, 33}
	if got := batch.Values; !cmp.Equal(got, wantVals) {
		t.Error(cmp.Diff(got, wantVals))
	}

	if _, err := c.Next(); err != io.EOF {
		t.Errorf("expected io.EOF at end of file, got %v", err)
	}
}

func TestParseFileHeaderBadVersion(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint16(1))
	binary.Write(&buf, binary.BigEndian, uint32(13))
	buf.Write([]byte{byte(netpod.ScalarI32)})
	binary.Write(&buf, binary.BigEndian, uint32(13))
	if _, err := ParseFileHeader(&buf); err == nil {
		t.Fatal("expected error for unsupported version")
	}
}
