package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sequencerFeed/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS feed_transactions (
	chain_id          BIGINT      NOT NULL,
	sequence_number   BIGINT      NOT NULL,
	l1_block_number   BIGINT      NOT NULL,
	timestamp         BIGINT      NOT NULL,
	tx_hash           TEXT,
	to_address        TEXT,
	contract_creation BOOLEAN     NOT NULL,
	value             NUMERIC     NOT NULL,
	data              TEXT        NOT NULL,
	selector          TEXT,
	method            TEXT,
	connection_id     INTEGER     NOT NULL,
	received_at       TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (chain_id, sequence_number)
);

CREATE TABLE IF NOT EXISTS feed_window_metrics (
	chain_id            BIGINT      NOT NULL,
	destination         TEXT        NOT NULL,
	window_size_seconds BIGINT      NOT NULL,
	window_start_ts     TIMESTAMPTZ NOT NULL,
	window_end_ts       TIMESTAMPTZ NOT NULL,
	tx_count            BIGINT      NOT NULL,
	creation_count      BIGINT      NOT NULL,
	value_sum           NUMERIC     NOT NULL,
	calldata_bytes      BIGINT      NOT NULL,
	first_sequence      BIGINT      NOT NULL,
	last_sequence       BIGINT      NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (chain_id, destination, window_size_seconds, window_start_ts)
);

CREATE TABLE IF NOT EXISTS feed_state (
	name                 TEXT PRIMARY KEY,
	last_sequence_number BIGINT      NOT NULL,
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store provides Postgres persistence for relayed transactions.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the relay tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// PutTxBatch inserts transaction records. Rows already stored for the same
// sequence number are left untouched.
func (s *Store) PutTxBatch(ctx context.Context, records []model.TxRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(`
			INSERT INTO feed_transactions (
				chain_id, sequence_number, l1_block_number, timestamp, tx_hash, to_address,
				contract_creation, value, data, selector, method, connection_id, received_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
			ON CONFLICT (chain_id, sequence_number) DO NOTHING
		`,
			int64(rec.ChainID),
			rec.SequenceNumber,
			int64(rec.L1BlockNumber),
			int64(rec.Timestamp),
			nullString(rec.TxHash),
			nullString(rec.To),
			rec.ContractCreation,
			rec.Value,
			rec.Data,
			nullString(rec.Selector),
			nullString(rec.Method),
			int32(rec.ConnectionID),
			nullString(rec.ReceivedAt),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range records {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
	}
	return nil
}

// UpsertWindowMetrics inserts or updates destination window metrics.
func (s *Store) UpsertWindowMetrics(ctx context.Context, metrics []model.DestinationWindowMetrics) error {
	if len(metrics) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range metrics {
		batch.Queue(`
			INSERT INTO feed_window_metrics (
				chain_id, destination, window_size_seconds, window_start_ts, window_end_ts,
				tx_count, creation_count, value_sum, calldata_bytes, first_sequence, last_sequence,
				created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now(),now())
			ON CONFLICT (chain_id, destination, window_size_seconds, window_start_ts)
			DO UPDATE SET
				window_end_ts = EXCLUDED.window_end_ts,
				tx_count = EXCLUDED.tx_count,
				creation_count = EXCLUDED.creation_count,
				value_sum = EXCLUDED.value_sum,
				calldata_bytes = EXCLUDED.calldata_bytes,
				first_sequence = LEAST(feed_window_metrics.first_sequence, EXCLUDED.first_sequence),
				last_sequence = GREATEST(feed_window_metrics.last_sequence, EXCLUDED.last_sequence),
				updated_at = now()
		`,
			int64(m.ChainID),
			m.Destination,
			m.WindowSizeSecs,
			m.WindowStart,
			m.WindowEnd,
			int64(m.TxCount),
			int64(m.CreationCount),
			m.ValueSum,
			int64(m.CallDataBytes),
			m.FirstSequence,
			m.LastSequence,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range metrics {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert window metrics: %w", err)
		}
	}
	return nil
}

// LoadState returns the last relayed sequence number stored under name.
func (s *Store) LoadState(ctx context.Context, name string) (int64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var seq int64
	row := s.pool.QueryRow(ctx, `SELECT last_sequence_number FROM feed_state WHERE name=$1`, name)
	if err := row.Scan(&seq); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return seq, true, nil
}

// SaveState upserts the last relayed sequence number for name.
func (s *Store) SaveState(ctx context.Context, name string, seq int64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO feed_state (name, last_sequence_number, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_sequence_number = EXCLUDED.last_sequence_number, updated_at = now()
	`, name, seq)
	return err
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
