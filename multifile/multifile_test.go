package multifile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/psi-daq/daqbuffer-go/netpod"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDiscoverRangeAndExpand(t *testing.T) {
	root := t.TempDir()
	ch := netpod.Channel{Backend: "testbackend", Name: "scalar-i32-be"}

	for _, bin := range []int64{8, 9, 10, 11, 12} {
		touch(t, binPath(root, ch, 2, bin, 0))
	}

	rng := netpod.NanoRange{Beg: 10 * TimeBinLenNs, End: 10*TimeBinLenNs + 1}
	sets := Discover(root, ch, 2, 1, rng, false)
	if len(sets) != 1 || sets[0].TimeBinIndex != 10 {
		t.Fatalf("got %+v, want exactly time-bin 10", sets)
	}

	setsExpanded := Discover(root, ch, 2, 1, rng, true)
	if len(setsExpanded) != 3 {
		t.Fatalf("expected 3 file-sets with expand, got %d", len(setsExpanded))
	}
	wantBins := []int64{9, 10, 11}
	for i, fs := range setsExpanded {
		if fs.TimeBinIndex != wantBins[i] {
			t.Errorf("index %d: got bin %d, want %d", i, fs.TimeBinIndex, wantBins[i])
		}
	}
}

func TestDiscoverNoMatch(t *testing.T) {
	root := t.TempDir()
	ch := netpod.Channel{Backend: "testbackend", Name: "empty-channel"}
	rng := netpod.NanoRange{Beg: 0, End: TimeBinLenNs}
	if sets := Discover(root, ch, 2, 1, rng, false); len(sets) != 0 {
		t.Fatalf("expected no file-sets, got %d", len(sets))
	}
}
