package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/psi-daq/daqbuffer-go/catalog"
	"github.com/psi-daq/daqbuffer-go/netpod"
)

// channelEntry is one line of the import file: a plain JSON mirror of
// catalog.Config, since Config itself carries netpod types that don't
// round-trip through encoding/json the way a human-edited import file
// would want to write them (scalar type and shape as small integers
// rather than netpod's internal representation).
type channelEntry struct {
	Backend    string `json:"backend"`
	Name       string `json:"name"`
	ScalarType int    `json:"scalarType"`
	ShapeN     int    `json:"shapeN"`
	Keyspace   int    `json:"keyspace"`
	SplitCount int    `json:"splitCount"`
	ByteOrder  string `json:"byteOrder"`
	SourceName string `json:"sourceName"`
}

// runImport loads a JSON array of channelEntry from -file and upserts each
// one into the catalog, grounded on the original's channel-configuration
// import tool (original_source/daqbuffer/src/ binaries that seed the
// catalog ahead of ingest rather than discovering it live).
func runImport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	dsn := fs.String("catalog-dsn", "", "Postgres connection string")
	path := fs.String("file", "", "path to a JSON array of channel entries")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dsn == "" || *path == "" {
		return errors.New("import: -catalog-dsn and -file are required")
	}

	f, err := os.Open(*path)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}
	defer f.Close()
	var entries []channelEntry
	if err := json.NewDecoder(f).Decode(&entries); err != nil {
		return fmt.Errorf("import: decode %s: %w", *path, err)
	}

	pg, pool, err := catalog.Connect(ctx, *dsn, "daqbuffer-import")
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}
	defer pool.Close()

	for _, e := range entries {
		shape := netpod.ScalarShape
		if e.ShapeN > 0 {
			shape = netpod.WaveShape(e.ShapeN)
		}
		cfg := catalog.Config{
			Backend: e.Backend, Name: e.Name,
			ScalarType: netpod.ScalarType(e.ScalarType), Shape: shape,
			Keyspace: e.Keyspace, SplitCount: e.SplitCount,
			ByteOrder: e.ByteOrder, SourceName: e.SourceName,
		}
		if err := pg.Upsert(ctx, cfg); err != nil {
			return fmt.Errorf("import: %s/%s: %w", e.Backend, e.Name, err)
		}
	}
	fmt.Fprintf(os.Stdout, "imported %d channel entries\n", len(entries))
	return nil
}
