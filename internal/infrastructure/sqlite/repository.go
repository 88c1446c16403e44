package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"txcanceller/internal/domain"

	_ "modernc.org/sqlite"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	if dbPath == "" {
		return nil, errors.New("db path is required")
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer at a time.
	db.SetMaxOpenConns(1)
	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

func createSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS pending_transactions (
			hash TEXT PRIMARY KEY,
			from_addr TEXT NOT NULL,
			nonce INTEGER NOT NULL,
			max_priority_fee_per_gas TEXT NOT NULL,
			gas_limit TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS pending_nonce_idx ON pending_transactions (nonce)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) Set(ctx context.Context, tx domain.PendingTransaction) error {
	if tx.Hash == "" {
		return errors.New("hash is required")
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `INSERT INTO pending_transactions (hash, from_addr, nonce, max_priority_fee_per_gas, gas_limit, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET
			from_addr = excluded.from_addr,
			nonce = excluded.nonce,
			max_priority_fee_per_gas = excluded.max_priority_fee_per_gas,
			gas_limit = excluded.gas_limit,
			created_at = excluded.created_at`,
		tx.Hash,
		tx.From,
		int64(tx.Nonce),
		bigString(tx.MaxPriorityFeePerGas),
		bigString(tx.GasLimit),
		tx.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (r *Repository) List(ctx context.Context) ([]domain.PendingTransaction, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT hash, from_addr, nonce, max_priority_fee_per_gas, gas_limit, created_at
		FROM pending_transactions ORDER BY nonce ASC, hash ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.PendingTransaction
	for rows.Next() {
		var (
			record    domain.PendingTransaction
			nonce     int64
			fee       string
			gasLimit  string
			createdAt string
		)
		if err := rows.Scan(&record.Hash, &record.From, &nonce, &fee, &gasLimit, &createdAt); err != nil {
			return nil, err
		}
		record.Nonce = uint64(nonce)
		if record.MaxPriorityFeePerGas, err = parseBig(fee); err != nil {
			return nil, fmt.Errorf("record %s: %w", record.Hash, err)
		}
		if record.GasLimit, err = parseBig(gasLimit); err != nil {
			return nil, fmt.Errorf("record %s: %w", record.Hash, err)
		}
		if record.Timestamp, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("record %s: %w", record.Hash, err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *Repository) Remove(ctx context.Context, hash string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `DELETE FROM pending_transactions WHERE hash = ?`, hash)
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

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseBig(raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", raw)
	}
	return value, nil
}
