package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// MigrationTable is the name of the table tracking which migrations have
// already run, mirroring the teacher's per-store *_migrations convention
// (datastore/postgres/migrations.IndexerMigrationTable).
const MigrationTable = "catalog_migrations"

// migration is one forward-only schema step. Unlike the teacher's
// remind101/migrate.Migration, Up operates directly on a pgx.Tx rather
// than a database/sql.Tx: remind101/migrate only drives database/sql, and
// this catalog is pgx-native throughout, so Migrate below is a small
// hand-rolled sequential runner instead (see DESIGN.md).
type migration struct {
	ID int
	SQL string
}

// migrations is the catalog's full migration history, applied in ID
// order. Schema mirrors the tables implied by
// original_source/daqbuffer/src/config.rs's scanConfig/checkConfig
// (channels, configs, configentries) plus a datafiles table for file-sets
// recorded through RegisterFile (§6.5 item 2a).
var migrations = []migration{
	{
		ID: 1,
		SQL: `
			CREATE TABLE IF NOT EXISTS channels (
				rowid BIGSERIAL PRIMARY KEY,
				facility text NOT NULL,
				name text NOT NULL
			);
			CREATE UNIQUE INDEX IF NOT EXISTS channels_unique_idx ON channels (facility, name);

			CREATE TABLE IF NOT EXISTS configs (
				rowid BIGSERIAL PRIMARY KEY,
				node bigint NOT NULL,
				channel bigint NOT NULL REFERENCES channels(rowid),
				filesize bigint NOT NULL,
				parseduntil bigint NOT NULL
			);
			CREATE UNIQUE INDEX IF NOT EXISTS configs_unique_idx ON configs (node, channel);

			CREATE TABLE IF NOT EXISTS configentries (
				rowid BIGSERIAL PRIMARY KEY,
				config bigint NOT NULL REFERENCES configs(rowid),
				channel bigint NOT NULL REFERENCES channels(rowid),
				ts bigint NOT NULL,
				pulse bigint NOT NULL,
				keyspace smallint NOT NULL,
				split_count smallint NOT NULL,
				scalar_type smallint NOT NULL,
				compression smallint NOT NULL DEFAULT -1,
				shape_n integer NOT NULL DEFAULT 0,
				byte_order text NOT NULL DEFAULT 'big',
				source_name text NOT NULL DEFAULT ''
			);
			CREATE INDEX IF NOT EXISTS configentries_channel_ts_idx ON configentries (channel, ts DESC);
		`,
	},
	{
		ID: 2,
		SQL: `
			CREATE TABLE IF NOT EXISTS datafiles (
				rowid BIGSERIAL PRIMARY KEY,
				channel bigint NOT NULL REFERENCES channels(rowid),
				time_bin_index bigint NOT NULL,
				split_index integer NOT NULL,
				path text NOT NULL
			);
			CREATE UNIQUE INDEX IF NOT EXISTS datafiles_unique_idx ON datafiles (channel, time_bin_index, split_index);
		`,
	},
}

// Migrate applies every migration not yet recorded in MigrationTable, in
// ID order, each inside its own transaction.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+MigrationTable+` (id integer PRIMARY KEY)`); err != nil {
		return fmt.Errorf("catalog: create migration table: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := pool.Query(ctx, `SELECT id FROM `+MigrationTable)
	if err != nil {
		return fmt.Errorf("catalog: read migration table: %w", err)
	}
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("catalog: scan migration id: %w", err)
		}
		applied[id] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("catalog: read migration table: %w", err)
	}

	for _, m := range migrations {
		if applied[m.ID] {
			continue
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("catalog: begin migration %d: %w", m.ID, err)
		}
		if _, err := tx.Exec(ctx, m.SQL); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("catalog: apply migration %d: %w", m.ID, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO `+MigrationTable+` (id) VALUES ($1)`, m.ID); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("catalog: record migration %d: %w", m.ID, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("catalog: commit migration %d: %w", m.ID, err)
		}
	}
	return nil
}
