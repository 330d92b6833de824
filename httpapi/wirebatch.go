package httpapi

import (
	"encoding/json"

	"github.com/psi-daq/daqbuffer-go/collector"
	"github.com/psi-daq/daqbuffer-go/events"
	"github.com/psi-daq/daqbuffer-go/netpod"
)

// wireBatch is the JSON shape embedded in a BaseEventsDim0 frame; it must
// match node.wireBatch and fanout.batchWire field-for-field, since all
// three are independent encodings of the same wire message rather than a
// shared Go type.
type wireBatch[T any] struct {
	Channel netpod.Channel `json:"channel"`
	Tss     []int64        `json:"tss"`
	Pulses  []int64        `json:"pulses"`
	Values  []T            `json:"values"`
}

// wireBatchJSON marshals an accumulated events result as one wireBatch
// payload.
func wireBatchJSON[T events.Numeric](r *collector.EventsResult[T]) []byte {
	b, _ := json.Marshal(wireBatch[T]{Channel: r.Channel, Tss: r.Tss, Pulses: r.Pulses, Values: r.Values})
	return b
}

// wireBatchWave is the dim-1 analogue of wireBatch, embedded in a
// BaseEventsDim1 frame; it must match node.wireBatchWave and
// fanout.waveBatchWire field-for-field.
type wireBatchWave[T any] struct {
	Channel netpod.Channel `json:"channel"`
	N       int            `json:"n"`
	Tss     []int64        `json:"tss"`
	Pulses  []int64        `json:"pulses"`
	Values  [][]T          `json:"values"`
}

// wireBatchWaveJSON marshals an accumulated wave events result as one
// wireBatchWave payload.
func wireBatchWaveJSON[T events.Numeric](r *collector.EventsResultWave[T]) []byte {
	b, _ := json.Marshal(wireBatchWave[T]{Channel: r.Channel, N: r.N, Tss: r.Tss, Pulses: r.Pulses, Values: r.Values})
	return b
}
