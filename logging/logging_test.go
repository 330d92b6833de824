package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestNewWithoutOTLPWritesStderrOnly(t *testing.T) {
	p, err := New(context.Background(), Options{ServiceName: "daqbuffer-test", NodeIndex: 3, Level: slog.LevelInfo})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.sdk != nil {
		t.Fatalf("expected no OTel SDK provider without an OTLPEndpoint")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestComponentAndChannelAttachAttrs(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	l := Component(base, "patchcache")
	l = Channel(l, "sf-databuffer", "scalar-i32-be")
	l.Info("served patch")

	out := buf.String()
	for _, want := range []string{"component=patchcache", "channel=sf-databuffer/scalar-i32-be", "served patch"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %q missing %q", out, want)
		}
	}
}

func TestFanoutHandlerDispatchesToAll(t *testing.T) {
	var a, b bytes.Buffer
	h := &fanoutHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&a, nil),
		slog.NewTextHandler(&b, nil),
	}}
	logger := slog.New(h)
	logger.Info("hello")
	if !strings.Contains(a.String(), "hello") || !strings.Contains(b.String(), "hello") {
		t.Fatalf("expected both handlers to receive the record: a=%q b=%q", a.String(), b.String())
	}
}
