package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"txcanceller/internal/domain"

	_ "github.com/go-sql-driver/mysql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(dsn string) (*Repository, error) {
	if dsn == "" {
		return nil, errors.New("db dsn is required")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

func createSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS pending_transactions (
			hash VARCHAR(66) NOT NULL,
			from_addr VARCHAR(42) NOT NULL,
			nonce BIGINT UNSIGNED NOT NULL,
			max_priority_fee_per_gas DECIMAL(65,0) NOT NULL,
			gas_limit DECIMAL(65,0) NOT NULL,
			created_at BIGINT NOT NULL,
			PRIMARY KEY (hash),
			KEY pending_nonce_idx (nonce)
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return ensureColumn(db, "pending_transactions", "from_addr", "VARCHAR(42) NOT NULL DEFAULT ''")
}

func ensureColumn(db *sql.DB, table, column, definition string) error {
	var count int
	row := db.QueryRow(
		`SELECT COUNT(*) FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND COLUMN_NAME = ?`,
		table,
		column,
	)
	if err := row.Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	_, err := db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition))
	return err
}

func (r *Repository) Set(ctx context.Context, tx domain.PendingTransaction) error {
	if tx.Hash == "" {
		return errors.New("hash is required")
	}
	ctx, span := startDBSpan(ctx, "mysql.SetPending",
		attribute.String("tx.hash", tx.Hash),
		attribute.Int64("tx.nonce", int64(tx.Nonce)),
	)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `INSERT INTO pending_transactions (hash, from_addr, nonce, max_priority_fee_per_gas, gas_limit, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			from_addr = VALUES(from_addr),
			nonce = VALUES(nonce),
			max_priority_fee_per_gas = VALUES(max_priority_fee_per_gas),
			gas_limit = VALUES(gas_limit),
			created_at = VALUES(created_at)`,
		tx.Hash,
		tx.From,
		tx.Nonce,
		bigString(tx.MaxPriorityFeePerGas),
		bigString(tx.GasLimit),
		tx.Timestamp.UnixNano(),
	)
	if err != nil {
		recordSpanError(span, err)
	}
	return err
}

func (r *Repository) List(ctx context.Context) ([]domain.PendingTransaction, error) {
	ctx, span := startDBSpan(ctx, "mysql.ListPending")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT hash, from_addr, nonce, max_priority_fee_per_gas, gas_limit, created_at
		FROM pending_transactions ORDER BY nonce ASC, hash ASC`)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	defer rows.Close()

	var records []domain.PendingTransaction
	for rows.Next() {
		var (
			record    domain.PendingTransaction
			fee       string
			gasLimit  string
			createdAt int64
		)
		if err := rows.Scan(&record.Hash, &record.From, &record.Nonce, &fee, &gasLimit, &createdAt); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		if record.MaxPriorityFeePerGas, err = parseBig(fee); err != nil {
			recordSpanError(span, err)
			return nil, fmt.Errorf("record %s: %w", record.Hash, err)
		}
		if record.GasLimit, err = parseBig(gasLimit); err != nil {
			recordSpanError(span, err)
			return nil, fmt.Errorf("record %s: %w", record.Hash, err)
		}
		record.Timestamp = time.Unix(0, createdAt).UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("pending.count", len(records)))
	return records, nil
}

func (r *Repository) Remove(ctx context.Context, hash string) error {
	ctx, span := startDBSpan(ctx, "mysql.RemovePending", attribute.String("tx.hash", hash))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `DELETE FROM pending_transactions WHERE hash = ?`, hash)
	if err != nil {
		recordSpanError(span, err)
	}
	return err
}

func (r *Repository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func startDBSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("db.system", "mysql"))
	return otel.Tracer("txcanceller/mysql").Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseBig(raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal %q", raw)
	}
	return value, nil
}
