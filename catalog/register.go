package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RegisterFile records one discovered event-container file against its
// channel, time-bin index, and split index in the datafiles table (modeled
// on original_source/daqbuffer/src/scan.rs's directory-walking scanner).
// Nothing in this module calls it: the import CLI subcommand loads a JSON
// channel list through [PG.Upsert] and does not walk directories.
//
// It upserts the owning channel row first (a file for a channel the
// catalog has never seen creates one), then the datafiles row, so import
// can run repeatedly over a directory tree without erroring on files it
// has already registered.
func RegisterFile(ctx context.Context, pool *pgxpool.Pool, backend, channel string, timeBinIndex int64, splitIndex int, path string) error {
	var channelRowID int64
	const upsertChannel = `
		INSERT INTO channels (facility, name) VALUES ($1, $2)
		ON CONFLICT (facility, name) DO UPDATE SET facility = EXCLUDED.facility
		RETURNING rowid`
	if err := pool.QueryRow(ctx, upsertChannel, backend, channel).Scan(&channelRowID); err != nil {
		return fmt.Errorf("catalog: register file: upsert channel %s/%s: %w", backend, channel, err)
	}

	const upsertFile = `
		INSERT INTO datafiles (channel, time_bin_index, split_index, path)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (channel, time_bin_index, split_index) DO UPDATE SET path = EXCLUDED.path`
	if _, err := pool.Exec(ctx, upsertFile, channelRowID, timeBinIndex, splitIndex, path); err != nil {
		return fmt.Errorf("catalog: register file: insert datafile %s: %w", path, err)
	}
	return nil
}
