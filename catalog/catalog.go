// Package catalog is the read-only-from-the-core's-perspective channel,
// config, and datafile registry (§6.5): a Postgres database accessed
// through pgx/v5, fronted by a narrow Lookup interface so the retrieval
// pipeline never imports pgx directly.
//
// Grounded on the teacher's datastore/postgres (pgxpool.Pool lifecycle,
// poolstats registration) and internal/cache (the Live weak-pointer cache
// backing ChannelConfig lookups).
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	daqbuffer "github.com/psi-daq/daqbuffer-go"
	"github.com/psi-daq/daqbuffer-go/internal/cache"
	"github.com/psi-daq/daqbuffer-go/netpod"
	"github.com/psi-daq/daqbuffer-go/pkg/poolstats"
)

// Config is one channel's parsed configuration entry (§6.5): the scalar
// type and shape its event containers carry, and the directory-layout
// parameters multifile.Discover needs to find them.
type Config struct {
	Backend    string
	Name       string
	ScalarType netpod.ScalarType
	Shape      netpod.Shape
	Keyspace   int
	SplitCount int
	ByteOrder  string
	SourceName string
}

// Lookup is the core's only contract with the catalog: given a channel,
// return its configuration, or search for channels by name substring
// (§7's /api/4/search). Implemented by *PG (live Postgres) and by the
// sqlite-backed test substitute in sqlite.go.
type Lookup interface {
	ChannelConfig(ctx context.Context, backend, name string) (Config, error)
	Search(ctx context.Context, backend, namePattern string) ([]Config, error)
}

var _ Lookup = (*PG)(nil)

// querier is the subset of *pgxpool.Pool that PG needs, so PG can be
// exercised against a pgxmock-free fake in tests that do want to stay on
// the pgx wire protocol rather than falling back to sqlite.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgx.CommandTag, error)
}

// PG is a Lookup backed by a live Postgres catalog.
type PG struct {
	pool  querier
	cache cache.Live[chKey, Config]
}

type chKey struct {
	backend, name string
}

// Connect opens a pgxpool.Pool against connString, runs pending migrations,
// registers its pool statistics with Prometheus, and returns a PG ready to
// serve lookups.
func Connect(ctx context.Context, connString, applicationName string) (*PG, *pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, nil, fmt.Errorf("catalog: parse connString: %w", err)
	}
	const appnameKey = "application_name"
	if _, ok := cfg.ConnConfig.RuntimeParams[appnameKey]; !ok {
		cfg.ConnConfig.RuntimeParams[appnameKey] = applicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("catalog: connect: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("catalog: migrate: %w", err)
	}

	if err := prometheus.Register(poolstats.NewCollector(pool, applicationName)); err != nil {
		// Already registered (e.g. a second PG in the same process during
		// tests): not fatal, the first registration still scrapes this pool.
		_ = err
	}

	return &PG{pool: pool}, pool, nil
}

// NewPG wraps an already-connected querier (a *pgxpool.Pool, or a fake in
// tests) without performing migrations or metrics registration.
func NewPG(pool querier) *PG {
	return &PG{pool: pool}
}

// ChannelConfig returns the catalog's record for (backend, name). The
// looked-up record is cached for as long as the garbage collector finds it
// live; the returned Config is a copy, so holding it does not keep the
// cache entry alive.
func (c *PG) ChannelConfig(ctx context.Context, backend, name string) (Config, error) {
	v, err := c.cache.Get(ctx, chKey{backend, name}, func(ctx context.Context, k chKey) (*Config, error) {
		return c.queryChannelConfig(ctx, k.backend, k.name)
	})
	if err != nil {
		return Config{}, err
	}
	return *v, nil
}

func (c *PG) queryChannelConfig(ctx context.Context, backend, name string) (*Config, error) {
	const q = `
		SELECT e.scalar_type, e.shape_n, e.keyspace, e.split_count, e.byte_order, e.source_name
		FROM channels ch
		JOIN configentries e ON e.channel = ch.rowid
		WHERE ch.facility = $1 AND ch.name = $2
		ORDER BY e.ts DESC
		LIMIT 1`
	var scalarType byte
	var shapeN, keyspace, splitCount int
	var byteOrder, sourceName string
	row := c.pool.QueryRow(ctx, q, backend, name)
	if err := row.Scan(&scalarType, &shapeN, &keyspace, &splitCount, &byteOrder, &sourceName); err != nil {
		return nil, &daqbuffer.Error{Inner: err, Kind: daqbuffer.ErrMissing, Op: "catalog.ChannelConfig",
			Message: fmt.Sprintf("%s/%s", backend, name)}
	}
	shape := netpod.ScalarShape
	if shapeN > 0 {
		shape = netpod.WaveShape(shapeN)
	}
	return &Config{
		Backend: backend, Name: name,
		ScalarType: netpod.ScalarType(scalarType), Shape: shape,
		Keyspace: keyspace, SplitCount: splitCount,
		ByteOrder: byteOrder, SourceName: sourceName,
	}, nil
}

// Upsert inserts or replaces cfg's configuration entry, creating the
// parent channel row if this is the first entry seen for it. Used by the
// import subcommand to load a channel list ahead of ingest, grounded on
// the teacher's own upsert-on-conflict convention in its postgres stores
// (libvuln/libindex always write catalog-shaped data with ON CONFLICT
// DO UPDATE rather than a separate existence check).
func (c *PG) Upsert(ctx context.Context, cfg Config) error {
	const upsertChannel = `
		INSERT INTO channels (facility, name) VALUES ($1, $2)
		ON CONFLICT (facility, name) DO NOTHING
		RETURNING rowid`
	var channelID int64
	row := c.pool.QueryRow(ctx, upsertChannel, cfg.Backend, cfg.Name)
	if err := row.Scan(&channelID); err != nil {
		const selectChannel = `SELECT rowid FROM channels WHERE facility = $1 AND name = $2`
		row := c.pool.QueryRow(ctx, selectChannel, cfg.Backend, cfg.Name)
		if err := row.Scan(&channelID); err != nil {
			return fmt.Errorf("catalog: upsert channel %s/%s: %w", cfg.Backend, cfg.Name, err)
		}
	}

	shapeN := 0
	if cfg.Shape.IsWave() {
		shapeN = cfg.Shape.N
	}
	const insertEntry = `
		INSERT INTO configentries (channel, ts, scalar_type, shape_n, keyspace, split_count, byte_order, source_name)
		VALUES ($1, now(), $2, $3, $4, $5, $6, $7)`
	_, err := c.pool.Exec(ctx, insertEntry, channelID, byte(cfg.ScalarType), shapeN, cfg.Keyspace, cfg.SplitCount, cfg.ByteOrder, cfg.SourceName)
	if err != nil {
		return fmt.Errorf("catalog: upsert config entry %s/%s: %w", cfg.Backend, cfg.Name, err)
	}
	c.cache.Clear()
	return nil
}

// Search returns every channel on backend whose name contains namePattern,
// ordered by name, capped at searchLimit rows (§7's /api/4/search does not
// page; a cluster-wide channel count small enough for this endpoint to be
// useful is assumed).
const searchLimit = 500

func (c *PG) Search(ctx context.Context, backend, namePattern string) ([]Config, error) {
	const q = `
		SELECT DISTINCT ON (ch.name) ch.name, e.scalar_type, e.shape_n, e.keyspace, e.split_count, e.byte_order, e.source_name
		FROM channels ch
		JOIN configentries e ON e.channel = ch.rowid
		WHERE ch.facility = $1 AND ch.name ILIKE $2
		ORDER BY ch.name, e.ts DESC
		LIMIT $3`
	rows, err := c.pool.Query(ctx, q, backend, "%"+namePattern+"%", searchLimit)
	if err != nil {
		return nil, fmt.Errorf("catalog: search: %w", err)
	}
	defer rows.Close()

	var out []Config
	for rows.Next() {
		var name string
		var scalarType byte
		var shapeN, keyspace, splitCount int
		var byteOrder, sourceName string
		if err := rows.Scan(&name, &scalarType, &shapeN, &keyspace, &splitCount, &byteOrder, &sourceName); err != nil {
			return nil, fmt.Errorf("catalog: search: scan: %w", err)
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

// pgTimeout bounds how long a single catalog round-trip is allowed to
// take when a caller doesn't already carry a tighter deadline (§7).
const pgTimeout = 5 * time.Second

// WithTimeout applies the catalog's default round-trip deadline to ctx if
// it doesn't already carry one.
func WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, pgTimeout)
}
