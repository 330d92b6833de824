package netpod

import "fmt"

// AggKindTag selects the per-event processor and, for time-weighted
// aggregation, the binner variant (§3).
type AggKindTag int

const (
	// AggPlain passes values through unmodified (identity).
	AggPlain AggKindTag = iota
	// AggTimeWeightedScalar reduces a waveform, or passes a scalar, through
	// the time-weighted binner variant of §4.7.
	AggTimeWeightedScalar
	// AggXBins1 reduces each waveform to a single scalar (e.g. mean across
	// the waveform) before any binning occurs.
	AggXBins1
	// AggXBinsN reduces each waveform to K bins across its length.
	AggXBinsN
	// AggPulseIDDiff emits the difference between successive pulse ids
	// rather than the raw value column.
	AggPulseIDDiff
	// AggStats1 computes running statistics (count/min/max/mean) over the
	// raw stream without bin-aligning them to wall-clock edges.
	AggStats1
)

// AggKind is an aggregation-kind selector plus its only parameter (the
// bin count K, meaningful only for [AggXBinsN]).
type AggKind struct {
	Tag AggKindTag
	K   int
}

// Plain is the identity aggregation kind.
var Plain = AggKind{Tag: AggPlain}

// XBinsN returns the x-bins-N(k) aggregation kind, reducing each waveform
// to k bins.
func XBinsN(k int) AggKind {
	if k <= 0 {
		panic(fmt.Sprintf("netpod: x-bins-N count must be > 0, got %d", k))
	}
	return AggKind{Tag: AggXBinsN, K: k}
}

// String implements fmt.Stringer.
func (a AggKind) String() string {
	switch a.Tag {
	case AggPlain:
		return "plain"
	case AggTimeWeightedScalar:
		return "time-weighted-scalar"
	case AggXBins1:
		return "x-bins-1"
	case AggXBinsN:
		return fmt.Sprintf("x-bins-%d", a.K)
	case AggPulseIDDiff:
		return "pulse-id-diff"
	case AggStats1:
		return "stats-1"
	default:
		return fmt.Sprintf("AggKind(%d)", a.Tag)
	}
}
