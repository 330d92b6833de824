package events

import (
	"fmt"
	"time"
)

// StreamItem is the Sitemty<T> sum type of §3: every pipeline stage reads
// and writes a stream of StreamItem, never a bare T and never an error
// out-of-band. Implementations are [Data], [RangeComplete], [LogItem],
// [StatsItem], and [ErrorItem].
//
// This is a closed union by convention (the unexported marker method),
// following the design note in §9 that control, diagnostics, and errors
// are first-class stream elements rather than modeled as Go errors or side
// channels.
type StreamItem interface {
	sitemty()
}

// Data carries one payload batch, either an *[Batch][T] or *[WaveBatch][T].
type Data[T any] struct {
	Batch T
}

func (Data[T]) sitemty() {}

// RangeComplete signals that the producer has emitted everything the query
// could possibly yield. At most one may appear per stream, and it is always
// the last data-bearing item (§3, §5).
//
// Partial marks a RangeComplete reached only through best-effort
// degradation rather than full coverage (§4.9's "one peer fails while
// others succeed"): the zero value is the common case of a fully covered
// range, so every existing producer that only ever sees full coverage can
// keep writing the bare RangeComplete{} literal unchanged.
type RangeComplete struct {
	Partial bool
}

func (RangeComplete) sitemty() {}

// LogLevel mirrors the severity levels a [LogItem] may carry.
type LogLevel int

const (
	LogDebug LogLevel = iota
	LogInfo
	LogWarn
	LogError
)

// String implements fmt.Stringer.
func (l LogLevel) String() string {
	switch l {
	case LogDebug:
		return "debug"
	case LogInfo:
		return "info"
	case LogWarn:
		return "warn"
	case LogError:
		return "error"
	default:
		return fmt.Sprintf("LogLevel(%d)", int(l))
	}
}

// LogItem is a best-effort-ordered diagnostic message from one node (§3).
type LogItem struct {
	Level  LogLevel
	NodeIx int
	Msg    string
}

func (LogItem) sitemty() {}

// StatsKind selects which counters a [StatsItem] carries.
type StatsKind int

const (
	StatsOpen StatsKind = iota
	StatsSeek
	StatsRead
	StatsRangeFilter
)

// String implements fmt.Stringer.
func (k StatsKind) String() string {
	switch k {
	case StatsOpen:
		return "open"
	case StatsSeek:
		return "seek"
	case StatsRead:
		return "read"
	case StatsRangeFilter:
		return "range-filter"
	default:
		return fmt.Sprintf("StatsKind(%d)", int(k))
	}
}

// StatsItem carries open/seek/read timings, bytes parsed, or range-filter
// counters (§3, §5's OpenStats/SeekStats/ReadStats).
type StatsItem struct {
	Kind     StatsKind
	NodeIx   int
	Duration time.Duration
	Bytes    int64
	Count    int64
}

func (StatsItem) sitemty() {}

// ErrorItem is the terminal error of a stream: once emitted, no further
// items follow (§3).
type ErrorItem struct {
	Err error
}

func (ErrorItem) sitemty() {}

// Error implements error, so an ErrorItem can be handled with errors.As.
func (e ErrorItem) Error() string { return e.Err.Error() }

// Unwrap enables [errors.Unwrap]/[errors.Is] against the wrapped cause.
func (e ErrorItem) Unwrap() error { return e.Err }
