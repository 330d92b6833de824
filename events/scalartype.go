package events

import "github.com/psi-daq/daqbuffer-go/netpod"

// ScalarTypeOf recovers the netpod.ScalarType tag for a Numeric type
// parameter, the inverse of the scalar-type-dispatch switches in node and
// httpapi that pick T from a catalog entry's tag in the first place.
func ScalarTypeOf[T Numeric]() netpod.ScalarType {
	var zero T
	switch any(zero).(type) {
	case int8:
		return netpod.ScalarI8
	case int16:
		return netpod.ScalarI16
	case int32:
		return netpod.ScalarI32
	case int64:
		return netpod.ScalarI64
	case uint8:
		return netpod.ScalarU8
	case uint16:
		return netpod.ScalarU16
	case uint32:
		return netpod.ScalarU32
	case uint64:
		return netpod.ScalarU64
	case float32:
		return netpod.ScalarF32
	case float64:
		return netpod.ScalarF64
	default:
		panic("events: ScalarTypeOf: unreachable Numeric type")
	}
}
