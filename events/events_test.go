package events

import (
	"errors"
	"testing"

	"github.com/psi-daq/daqbuffer-go/netpod"
)

func TestBatchValid(t *testing.T) {
	b := &Batch[int32]{
		Channel: netpod.Channel{Backend: "testbackend", Name: "scalar-i32-be"},
		Tss:     []int64{100, 200, 300},
		Pulses:  []int64{1, 2, 3},
		Values:  []int32{1, 2, 3},
	}
	if err := b.Valid(); err != nil {
		t.Fatalf("expected valid batch, got %v", err)
	}

	bad := &Batch[int32]{Tss: []int64{100, 50}, Pulses: []int64{1, 2}, Values: []int32{1, 2}}
	if err := bad.Valid(); err == nil {
		t.Fatalf("expected error for decreasing timestamp")
	}
}

func TestWaveBatchValid(t *testing.T) {
	b := &WaveBatch[float64]{
		N:      3,
		Tss:    []int64{1, 2},
		Pulses: []int64{1, 2},
		Values: [][]float64{{1, 2, 3}, {4, 5, 6}},
	}
	if err := b.Valid(); err != nil {
		t.Fatalf("expected valid wave batch, got %v", err)
	}
	b.Values[0] = []float64{1, 2}
	if err := b.Valid(); err == nil {
		t.Fatalf("expected error for mismatched waveform length")
	}
}

func TestStreamItemSum(t *testing.T) {
	items := []StreamItem{
		Data[*Batch[int32]]{Batch: &Batch[int32]{}},
		RangeComplete{},
		LogItem{Level: LogWarn, NodeIx: 1, Msg: "decreasing timestamp"},
		StatsItem{Kind: StatsRead, Bytes: 4096},
		ErrorItem{Err: errors.New("boom")},
	}
	var nData, nComplete, nLog, nStats, nErr int
	for _, it := range items {
		switch v := it.(type) {
		case Data[*Batch[int32]]:
			nData++
			_ = v.Batch
		case RangeComplete:
			nComplete++
		case LogItem:
			nLog++
		case StatsItem:
			nStats++
		case ErrorItem:
			nErr++
			if !errors.Is(v, v.Err) {
				t.Errorf("ErrorItem should unwrap to its cause")
			}
		}
	}
	if nData != 1 || nComplete != 1 || nLog != 1 || nStats != 1 || nErr != 1 {
		t.Fatalf("expected exactly one of each item kind, got data=%d complete=%d log=%d stats=%d err=%d",
			nData, nComplete, nLog, nStats, nErr)
	}
}
