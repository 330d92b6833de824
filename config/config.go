// Package config decodes a node's static configuration: its identity
// within the cluster, where it finds event-container files and the patch
// cache on disk, the catalog database it points at, and the disk I/O
// tuning knobs also exposed as per-request query overrides (§5, §6.5).
//
// Grounded on original_source/daqbuffer/src/config.rs's NodeConfig shape
// (node index, per-backend storage roots, cache directory) and the
// teacher's plain-struct-plus-tags convention used throughout for
// anything decoded from JSON.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Backend is one storage facility's on-disk layout: the root directory
// its event-container files live under, and the keyspace/split-count
// parameters multifile.Discover needs to find them (§4.4).
type Backend struct {
	Name       string `json:"name"`
	Root       string `json:"root"`
	Keyspace   int    `json:"keyspace"`
	SplitCount int    `json:"splitCount"`
}

// Node is the static configuration of one daqbuffer process.
type Node struct {
	// NodeIndex and NodeCount place this process in the cluster's
	// consistent-hash ring for patch-cache ownership (§4.8).
	NodeIndex int `json:"nodeIndex"`
	NodeCount int `json:"nodeCount"`

	// ListenAddr is the TCP address the node's peer-fanout listener binds.
	ListenAddr string `json:"listenAddr"`
	// HTTPAddr is the address the httpapi server binds, empty to disable.
	HTTPAddr string `json:"httpAddr"`

	// CacheRoot is the directory patchcache.Cache writes patch files under.
	CacheRoot string `json:"cacheRoot"`

	Backends []Backend `json:"backends"`

	CatalogDSN string `json:"catalogDsn"`

	// OTLPEndpoint is the OTel collector gRPC endpoint logging.New exports
	// logs to; empty disables OTel export and logs to stderr only.
	OTLPEndpoint string `json:"otlpEndpoint"`

	// DiskIoBufferSize and DiskStatsEveryKb are the defaults applied when
	// an incoming query omits the corresponding override (§6 query schema).
	DiskIoBufferSize int `json:"diskIoBufferSize"`
	DiskStatsEveryKb int `json:"diskStatsEveryKb"`

	// DiskConcurrency bounds simultaneously open event-container files
	// per node (§5).
	DiskConcurrency int `json:"diskConcurrency"`

	// QueryTimeout is the default watchdog deadline applied to a request
	// that doesn't specify timeoutMs (§7).
	QueryTimeout Duration `json:"queryTimeout"`

	// Peers lists the other cluster nodes reachable for fan-out, indexed
	// by node index.
	Peers []string `json:"peers"`

	// Proxy marks this process as a stateless aggregator: it owns no
	// shard of its own (Backends is ignored for local file discovery) and
	// no patch-cache slice, only ever fanning a query out to Peers and
	// surfacing the merged result over HTTP (§4.9, SPEC_FULL.md "Node/
	// proxy split"). A proxy node runs no peer-fanout listener of its own,
	// since it has nothing of its own for another node to sub-query.
	Proxy bool `json:"proxy"`
}

// Duration wraps time.Duration with JSON (de)serialization from Go
// duration strings ("30s", "2m"), following the teacher's duration.go
// convention at the module root.
type Duration struct {
	time.Duration
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: bad duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

// Backend looks up a configured backend by name.
func (n *Node) Backend(name string) (Backend, bool) {
	for _, b := range n.Backends {
		if b.Name == name {
			return b, true
		}
	}
	return Backend{}, false
}

// Load decodes a Node config from r as JSON, applying defaults for any
// zero-valued tuning knob.
func Load(r io.Reader) (*Node, error) {
	var n Node
	if err := json.NewDecoder(r).Decode(&n); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	n.applyDefaults()
	if err := n.validate(); err != nil {
		return nil, err
	}
	return &n, nil
}

// LoadFile opens path and decodes it with Load.
func LoadFile(path string) (*Node, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

func (n *Node) applyDefaults() {
	if n.DiskIoBufferSize <= 0 {
		n.DiskIoBufferSize = 1 << 20
	}
	if n.DiskStatsEveryKb <= 0 {
		n.DiskStatsEveryKb = 1 << 10
	}
	if n.DiskConcurrency <= 0 {
		n.DiskConcurrency = 16
	}
	if n.QueryTimeout.Duration <= 0 {
		n.QueryTimeout.Duration = 10 * time.Second
	}
	if n.NodeCount <= 0 {
		n.NodeCount = 1
	}
}

func (n *Node) validate() error {
	if n.NodeIndex < 0 || n.NodeIndex >= n.NodeCount {
		return fmt.Errorf("config: nodeIndex %d out of range [0,%d)", n.NodeIndex, n.NodeCount)
	}
	if n.CacheRoot == "" && !n.Proxy {
		return fmt.Errorf("config: cacheRoot is required")
	}
	seen := make(map[string]struct{}, len(n.Backends))
	for _, b := range n.Backends {
		if b.Name == "" || b.Root == "" {
			return fmt.Errorf("config: backend entries require name and root")
		}
		if _, dup := seen[b.Name]; dup {
			return fmt.Errorf("config: duplicate backend %q", b.Name)
		}
		seen[b.Name] = struct{}{}
	}
	return nil
}
