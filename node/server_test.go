package node

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/psi-daq/daqbuffer-go/catalog"
	cfgpkg "github.com/psi-daq/daqbuffer-go/config"
	"github.com/psi-daq/daqbuffer-go/fanout"
	"github.com/psi-daq/daqbuffer-go/frame"
	"github.com/psi-daq/daqbuffer-go/netpod"
)

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

func TestServerServesRawEvents(t *testing.T) {
	root := t.TempDir()
	chPath := filepath.Join(root, "testbackend", "scalar-i32-be", "2", "0", "0000.bin")
	if err := os.MkdirAll(filepath.Dir(chPath), 0o755); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	writeFileHeader(&buf, "scalar-i32-be", netpod.ScalarI32)
	writeRecord(&buf, 0, 100, 1, 11)
	writeRecord(&buf, 1, 200, 2, 22)
	writeRecord(&buf, 2, 300, 3, 33)
	if err := os.WriteFile(chPath, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	sqliteCat, err := catalog.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer sqliteCat.Close()
	ctx := t.Context()
	if err := sqliteCat.SeedChannel(ctx, catalog.Config{
		Backend: "testbackend", Name: "scalar-i32-be",
		ScalarType: netpod.ScalarI32, Shape: netpod.ScalarShape,
		Keyspace: 2, SplitCount: 1,
	}); err != nil {
		t.Fatal(err)
	}

	cfg := &cfgpkg.Node{
		NodeIndex: 0, NodeCount: 1, CacheRoot: t.TempDir(),
		ListenAddr: "127.0.0.1:0",
		Backends:   []cfgpkg.Backend{{Name: "testbackend", Root: root, Keyspace: 2, SplitCount: 1}},
		DiskConcurrency: 4,
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		t.Fatal(err)
	}
	srv := New(cfg, sqliteCat, nil)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.handleConn(runCtx, conn)
		}
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	q := fanout.QueryString{
		RequestID: "req-1",
		Channel:   netpod.Channel{Backend: "testbackend", Name: "scalar-i32-be"},
		Range:     netpod.NanoRange{Beg: 0, End: 1000},
	}
	payload, _ := json.Marshal(q)
	if err := frame.Encode(conn, frame.TypeQueryString, payload); err != nil {
		t.Fatalf("write query: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var gotTss []int64
	var gotComplete bool
	want := frame.Typed(frame.BaseEventsDim0, netpod.ScalarI32)
	for {
		fr, err := frame.Decode(conn, frame.DefaultMaxPayload)
		if err != nil {
			t.Fatalf("decode response frame: %v", err)
		}
		switch fr.Type {
		case frame.TypeTerminator:
			gotComplete = true
		case want:
			var w wireBatch[int32]
			if err := json.Unmarshal(fr.Payload, &w); err != nil {
				t.Fatalf("unmarshal batch: %v", err)
			}
			gotTss = append(gotTss, w.Tss...)
		case frame.TypeError:
			t.Fatalf("server returned error: %s", fr.Payload)
		default:
			t.Fatalf("unexpected frame type %v", fr.Type)
		}
		if gotComplete {
			break
		}
	}

	wantTss := []int64{100, 200, 300}
	if fmt.Sprint(gotTss) != fmt.Sprint(wantTss) {
		t.Fatalf("got tss %v, want %v", gotTss, wantTss)
	}
}

func TestServerRejectsUnknownChannel(t *testing.T) {
	sqliteCat, err := catalog.OpenSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer sqliteCat.Close()
	cfg := &cfgpkg.Node{NodeIndex: 0, NodeCount: 1, CacheRoot: t.TempDir(), ListenAddr: "127.0.0.1:0", DiskConcurrency: 4}
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		t.Fatal(err)
	}
	srv := New(cfg, sqliteCat, nil)
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		srv.handleConn(runCtx, conn)
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	q := fanout.QueryString{Channel: netpod.Channel{Backend: "testbackend", Name: "nope"}, Range: netpod.NanoRange{Beg: 0, End: 1000}}
	payload, _ := json.Marshal(q)
	frame.Encode(conn, frame.TypeQueryString, payload)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	fr, err := frame.Decode(conn, frame.DefaultMaxPayload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fr.Type != frame.TypeError {
		t.Fatalf("expected an error frame, got %v", fr.Type)
	}
}
