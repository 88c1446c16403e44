package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"txcanceller/internal/application"
	"txcanceller/internal/domain"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// ReplacementRepository is an append-only audit trail of replacement attempts.
type ReplacementRepository struct {
	db   *sql.DB
	conn clickhouse.Conn
}

func NewRepository(dsn string) (*ReplacementRepository, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("clickhouse dsn is required")
	}
	options, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, err
	}
	db := clickhouse.OpenDB(options)
	if err := db.Ping(); err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, err
	}
	if err := createSchema(db); err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, err
	}
	return &ReplacementRepository{db: db, conn: conn}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS replacements (
		id String,
		original_hash String,
		replacement_hash String,
		from_addr String,
		nonce UInt64,
		status LowCardinality(String),
		max_priority_fee_per_gas String,
		max_fee_per_gas String,
		gas_limit String,
		fee_sample_cid String,
		error String,
		occurred_at DateTime64(3, 'UTC')
	) ENGINE = MergeTree
	PARTITION BY toYYYYMM(occurred_at)
	ORDER BY (from_addr, nonce, occurred_at)`)
	return err
}

func (r *ReplacementRepository) PublishReplacement(ctx context.Context, event domain.ReplacementEvent) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	batch, err := r.conn.PrepareBatch(ctx, `INSERT INTO replacements (id, original_hash, replacement_hash, from_addr, nonce, status,
		max_priority_fee_per_gas, max_fee_per_gas, gas_limit, fee_sample_cid, error, occurred_at)`)
	if err != nil {
		return err
	}
	if err := batch.Append(
		event.ID,
		strings.ToLower(event.OriginalHash),
		strings.ToLower(event.ReplacementHash),
		strings.ToLower(event.From),
		event.Nonce,
		string(event.Status),
		event.MaxPriorityFeePerGas,
		event.MaxFeePerGas,
		event.GasLimit,
		event.FeeSampleCID,
		event.Error,
		event.OccurredAt.UTC(),
	); err != nil {
		_ = batch.Abort()
		return err
	}
	return batch.Send()
}

func (r *ReplacementRepository) QueryReplacements(ctx context.Context, filter application.HistoryFilter) ([]domain.ReplacementEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query, args := buildHistoryQuery(filter)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.ReplacementEvent
	for rows.Next() {
		var (
			event  domain.ReplacementEvent
			status string
		)
		if err := rows.Scan(
			&event.ID,
			&event.OriginalHash,
			&event.ReplacementHash,
			&event.From,
			&event.Nonce,
			&status,
			&event.MaxPriorityFeePerGas,
			&event.MaxFeePerGas,
			&event.GasLimit,
			&event.FeeSampleCID,
			&event.Error,
			&event.OccurredAt,
		); err != nil {
			return nil, err
		}
		event.Status = domain.ReplacementStatus(status)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func buildHistoryQuery(filter application.HistoryFilter) (string, []any) {
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if filter.OriginalHash != "" {
		clauses = append(clauses, "original_hash = ?")
		args = append(args, strings.ToLower(filter.OriginalHash))
	}
	if filter.From != "" {
		clauses = append(clauses, "from_addr = ?")
		args = append(args, strings.ToLower(filter.From))
	}

	query := `SELECT id, original_hash, replacement_hash, from_addr, nonce, status,
		max_priority_fee_per_gas, max_fee_per_gas, gas_limit, fee_sample_cid, error, occurred_at
		FROM replacements`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY occurred_at DESC LIMIT ?"
	args = append(args, filter.NormalizedLimit())
	return query, args
}

func (r *ReplacementRepository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.db.PingContext(ctx)
}

func (r *ReplacementRepository) Close() error {
	return errors.Join(r.conn.Close(), r.db.Close())
}
