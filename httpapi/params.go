package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/psi-daq/daqbuffer-go/config"
	"github.com/psi-daq/daqbuffer-go/netpod"
	"github.com/psi-daq/daqbuffer-go/patchcache"
)

// queryParams holds the parsed form of the canonical query-parameter
// schema (§6) common to /api/4/events and /api/4/binned.
type queryParams struct {
	Channel    netpod.Channel
	Range      netpod.NanoRange
	Expand     bool
	BinCount   int
	AggKind    string
	CacheUsage patchcache.CacheUsage
	TimeoutMs  int
}

// paramError is returned by the parse helpers to carry the {error,
// publicMessage} fields malformed-input handling needs (§7).
type paramError struct {
	code, message string
}

func (e *paramError) Error() string { return e.message }

func badParam(code, message string) *paramError {
	return &paramError{code: code, message: message}
}

// parseCommon parses channelBackend, channelName, begDate, endDate, and
// the optional expand/timeoutMs parameters shared by every endpoint.
func parseCommon(r *http.Request) (queryParams, *paramError) {
	q := r.URL.Query()

	backend := q.Get("channelBackend")
	name := q.Get("channelName")
	if backend == "" || name == "" {
		return queryParams{}, badParam("bad-request", "channelBackend and channelName are required")
	}

	begS, endS := q.Get("begDate"), q.Get("endDate")
	if begS == "" || endS == "" {
		return queryParams{}, badParam("bad-request", "begDate and endDate are required")
	}
	beg, err := time.Parse(time.RFC3339, begS)
	if err != nil {
		return queryParams{}, badParam("bad-request", "begDate is not a valid ISO-8601 timestamp")
	}
	end, err := time.Parse(time.RFC3339, endS)
	if err != nil {
		return queryParams{}, badParam("bad-request", "endDate is not a valid ISO-8601 timestamp")
	}
	rng := netpod.NanoRange{Beg: beg.UnixNano(), End: end.UnixNano()}
	if !rng.Valid() {
		return queryParams{}, badParam("bad-request", "begDate must be strictly before endDate")
	}

	p := queryParams{
		Channel: netpod.Channel{Backend: backend, Name: name},
		Range:   rng,
		CacheUsage: patchcache.Use,
	}

	if v := q.Get("expand"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return queryParams{}, badParam("bad-request", "expand must be a bool")
		}
		p.Expand = b
	}

	if v := q.Get("timeoutMs"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return queryParams{}, badParam("bad-request", "timeoutMs must be a positive integer")
		}
		p.TimeoutMs = n
	}

	return p, nil
}

// parseBinCount parses the binCount parameter required by the binned and
// prebinned endpoints.
func parseBinCount(r *http.Request) (int, *paramError) {
	v := r.URL.Query().Get("binCount")
	if v == "" {
		return 0, badParam("bad-request", "binCount is required")
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, badParam("bad-request", "binCount must be a positive integer")
	}
	return n, nil
}

// parseAggKind parses the aggKind parameter, defaulting to plain.
func parseAggKind(r *http.Request) (string, *paramError) {
	v := r.URL.Query().Get("aggKind")
	if v == "" {
		return "plain", nil
	}
	switch v {
	case "plain", "time-weighted-scalar", "x-bins-1":
		return v, nil
	default:
		return "", badParam("bad-request", "aggKind \""+v+"\" is not supported")
	}
}

// parseCacheUsage parses the cacheUsage parameter, defaulting to Use.
func parseCacheUsage(r *http.Request) (patchcache.CacheUsage, *paramError) {
	switch r.URL.Query().Get("cacheUsage") {
	case "", "use":
		return patchcache.Use, nil
	case "ignore":
		return patchcache.Ignore, nil
	case "recompute":
		return patchcache.Recompute, nil
	default:
		return 0, badParam("bad-request", "cacheUsage must be one of use, ignore, recompute")
	}
}

// queryTimeout resolves the effective per-request deadline: the parsed
// timeoutMs parameter if present, else the node's configured default.
func queryTimeout(p queryParams, cfg *config.Node) time.Duration {
	if p.TimeoutMs > 0 {
		return time.Duration(p.TimeoutMs) * time.Millisecond
	}
	return cfg.QueryTimeout.Duration
}
