package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	_ "modernc.org/sqlite" // register the sqlite driver

	daqbuffer "github.com/psi-daq/daqbuffer-go"
	"github.com/psi-daq/daqbuffer-go/netpod"
)

// SQLiteLookup is a Lookup backed by an in-memory or on-disk SQLite
// database, standing in for a live Postgres catalog in tests that don't
// want to stand up a real cluster (§6.5), mirroring the teacher's own use
// of modernc.org/sqlite as a pure-Go embeddable SQL engine
// (rpm/sqlite.Open, internal/dnf).
//
// It implements the same Lookup contract as PG but with a much smaller
// schema, since tests populate it directly with SeedChannel rather than
// exercising the full channels/configs/configentries shape a live scan
// would produce.
type SQLiteLookup struct {
	db *sql.DB
}

var _ Lookup = (*SQLiteLookup)(nil)

// OpenSQLite opens (creating if necessary) a SQLite-backed catalog
// substitute at path. Pass ":memory:" for a throwaway in-process catalog.
func OpenSQLite(path string) (*SQLiteLookup, error) {
	u := url.URL{
		Scheme:   "file",
		Opaque:   path,
		RawQuery: url.Values{"_pragma": {"foreign_keys(1)"}}.Encode(),
	}
	db, err := sql.Open("sqlite", u.String())
	if err != nil {
		return nil, fmt.Errorf("catalog: open sqlite: %w", err)
	}
	const schema = `
		CREATE TABLE IF NOT EXISTS channel_config (
			backend text NOT NULL,
			name text NOT NULL,
			scalar_type integer NOT NULL,
			shape_n integer NOT NULL DEFAULT 0,
			keyspace integer NOT NULL,
			split_count integer NOT NULL,
			byte_order text NOT NULL DEFAULT 'big',
			source_name text NOT NULL DEFAULT '',
			PRIMARY KEY (backend, name)
		)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: create sqlite schema: %w", err)
	}
	return &SQLiteLookup{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteLookup) Close() error { return s.db.Close() }

// SeedChannel inserts or replaces one channel's configuration, for tests
// to set up fixtures without going through the import CLI path.
func (s *SQLiteLookup) SeedChannel(ctx context.Context, cfg Config) error {
	const q = `
		INSERT INTO channel_config (backend, name, scalar_type, shape_n, keyspace, split_count, byte_order, source_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (backend, name) DO UPDATE SET
			scalar_type=excluded.scalar_type, shape_n=excluded.shape_n,
			keyspace=excluded.keyspace, split_count=excluded.split_count,
			byte_order=excluded.byte_order, source_name=excluded.source_name`
	shapeN := 0
	if cfg.Shape.IsWave() {
		shapeN = cfg.Shape.N
	}
	_, err := s.db.ExecContext(ctx, q, cfg.Backend, cfg.Name, byte(cfg.ScalarType), shapeN, cfg.Keyspace, cfg.SplitCount, cfg.ByteOrder, cfg.SourceName)
	return err
}

// ChannelConfig implements Lookup.
func (s *SQLiteLookup) ChannelConfig(ctx context.Context, backend, name string) (Config, error) {
	const q = `SELECT scalar_type, shape_n, keyspace, split_count, byte_order, source_name
		FROM channel_config WHERE backend = ? AND name = ?`
	var scalarType byte
	var shapeN, keyspace, splitCount int
	var byteOrder, sourceName string
	row := s.db.QueryRowContext(ctx, q, backend, name)
	if err := row.Scan(&scalarType, &shapeN, &keyspace, &splitCount, &byteOrder, &sourceName); err != nil {
		return Config{}, &daqbuffer.Error{Inner: err, Kind: daqbuffer.ErrMissing, Op: "catalog.ChannelConfig",
			Message: fmt.Sprintf("%s/%s", backend, name)}
	}
	shape := netpod.ScalarShape
	if shapeN > 0 {
		shape = netpod.WaveShape(shapeN)
	}
	return Config{
		Backend: backend, Name: name,
		ScalarType: netpod.ScalarType(scalarType), Shape: shape,
		Keyspace: keyspace, SplitCount: splitCount,
		ByteOrder: byteOrder, SourceName: sourceName,
	}, nil
}

// Search implements Lookup.
func (s *SQLiteLookup) Search(ctx context.Context, backend, namePattern string) ([]Config, error) {
	const q = `SELECT name, scalar_type, shape_n, keyspace, split_count, byte_order, source_name
		FROM channel_config WHERE backend = ? AND name LIKE ? ORDER BY name`
	rows, err := s.db.QueryContext(ctx, q, backend, "%"+namePattern+"%")
	if err != nil {
		return nil, fmt.Errorf("catalog: sqlite search: %w", err)
	}
	defer rows.Close()

	var out []Config
	for rows.Next() {
		var name string
		var scalarType byte
		var shapeN, keyspace, splitCount int
		var byteOrder, sourceName string
		if err := rows.Scan(&name, &scalarType, &shapeN, &keyspace, &splitCount, &byteOrder, &sourceName); err != nil {
			return nil, fmt.Errorf("catalog: sqlite search: scan: %w", err)
		}
		shape := netpod.ScalarShape
		if shapeN > 0 {
			shape = netpod.WaveShape(shapeN)
		}
		out = append(out, Config{
			Backend: backend, Name: name,
			ScalarType: netpod.ScalarType(scalarType), Shape: shape,
			Keyspace: keyspace, SplitCount: splitCount,
			ByteOrder: byteOrder, SourceName: sourceName,
		})
	}
	return out, rows.Err()
}
