package memory

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"txcanceller/internal/domain"
)

// Store keeps pending transactions in process memory. It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	records map[string]domain.PendingTransaction
}

func NewStore() *Store {
	return &Store{records: make(map[string]domain.PendingTransaction)}
}

func (s *Store) Set(ctx context.Context, tx domain.PendingTransaction) error {
	if tx.Hash == "" {
		return errors.New("hash is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[tx.Hash] = clone(tx)
	return nil
}

func (s *Store) List(ctx context.Context) ([]domain.PendingTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.PendingTransaction, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, clone(record))
	}
	return out, nil
}

func (s *Store) Remove(ctx context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, hash)
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return nil
}

func clone(tx domain.PendingTransaction) domain.PendingTransaction {
	if tx.MaxPriorityFeePerGas != nil {
		tx.MaxPriorityFeePerGas = new(big.Int).Set(tx.MaxPriorityFeePerGas)
	}
	if tx.GasLimit != nil {
		tx.GasLimit = new(big.Int).Set(tx.GasLimit)
	}
	return tx
}
