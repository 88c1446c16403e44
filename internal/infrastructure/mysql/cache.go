package mysql

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"time"

	"txcanceller/internal/domain"

	"github.com/redis/go-redis/v9"
)

const (
	pendingCacheVersionKey = "txcanceller:pending:version"
	pendingCacheKeyPrefix  = "txcanceller:pending:v"
	defaultCacheTTL        = 30 * time.Second
)

type CacheConfig struct {
	Addr string
	TTL  time.Duration
}

// PendingRepository is the store the cache sits in front of.
type PendingRepository interface {
	Set(ctx context.Context, tx domain.PendingTransaction) error
	List(ctx context.Context) ([]domain.PendingTransaction, error)
	Remove(ctx context.Context, hash string) error
	Ping(ctx context.Context) error
}

// CachedRepository serves List from redis and bumps a version key on every write.
type CachedRepository struct {
	base  PendingRepository
	cache *redis.Client
	ttl   time.Duration
}

func NewCachedRepository(base PendingRepository, cfg CacheConfig) (*CachedRepository, error) {
	if base == nil {
		return nil, errors.New("base repository is required")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return &CachedRepository{base: base}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return newCachedRepository(base, client, cfg.TTL), nil
}

func newCachedRepository(base PendingRepository, client *redis.Client, ttl time.Duration) *CachedRepository {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachedRepository{base: base, cache: client, ttl: ttl}
}

func (r *CachedRepository) Set(ctx context.Context, tx domain.PendingTransaction) error {
	if err := r.base.Set(ctx, tx); err != nil {
		return err
	}
	r.invalidate(ctx)
	return nil
}

func (r *CachedRepository) Remove(ctx context.Context, hash string) error {
	if err := r.base.Remove(ctx, hash); err != nil {
		return err
	}
	r.invalidate(ctx)
	return nil
}

func (r *CachedRepository) List(ctx context.Context) ([]domain.PendingTransaction, error) {
	if r.cache == nil {
		return r.base.List(ctx)
	}
	version, ok := r.cacheVersion(ctx)
	if !ok {
		return r.base.List(ctx)
	}
	key := pendingCacheKeyPrefix + version
	if cached, err := r.cache.Get(ctx, key).Bytes(); err == nil {
		if records, err := decodeCachedPending(cached); err == nil {
			return records, nil
		}
	}

	records, err := r.base.List(ctx)
	if err != nil {
		return nil, err
	}
	if payload, err := encodeCachedPending(records); err == nil {
		_ = r.cache.Set(ctx, key, payload, r.ttl).Err()
	}
	return records, nil
}

func (r *CachedRepository) Ping(ctx context.Context) error {
	if err := r.base.Ping(ctx); err != nil {
		return err
	}
	if r.cache == nil {
		return nil
	}
	return r.cache.Ping(ctx).Err()
}

func (r *CachedRepository) Close() error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Close()
}

func (r *CachedRepository) cacheVersion(ctx context.Context) (string, bool) {
	version, err := r.cache.Get(ctx, pendingCacheVersionKey).Result()
	if err == nil {
		return version, true
	}
	if errors.Is(err, redis.Nil) {
		return "0", true
	}
	return "", false
}

func (r *CachedRepository) invalidate(ctx context.Context) {
	if r.cache == nil {
		return
	}
	_ = r.cache.Incr(ctx, pendingCacheVersionKey).Err()
}

type cachedPending struct {
	Hash                 string `json:"hash"`
	From                 string `json:"from"`
	Nonce                uint64 `json:"nonce"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas"`
	GasLimit             string `json:"gasLimit"`
	Timestamp            int64  `json:"timestamp"`
}

func encodeCachedPending(records []domain.PendingTransaction) ([]byte, error) {
	rows := make([]cachedPending, 0, len(records))
	for _, record := range records {
		rows = append(rows, cachedPending{
			Hash:                 record.Hash,
			From:                 record.From,
			Nonce:                record.Nonce,
			MaxPriorityFeePerGas: bigString(record.MaxPriorityFeePerGas),
			GasLimit:             bigString(record.GasLimit),
			Timestamp:            record.Timestamp.UnixNano(),
		})
	}
	return json.Marshal(rows)
}

func decodeCachedPending(payload []byte) ([]domain.PendingTransaction, error) {
	var rows []cachedPending
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, err
	}
	records := make([]domain.PendingTransaction, 0, len(rows))
	for _, row := range rows {
		var (
			fee, gas *big.Int
			err      error
		)
		if fee, err = parseBig(row.MaxPriorityFeePerGas); err != nil {
			return nil, err
		}
		if gas, err = parseBig(row.GasLimit); err != nil {
			return nil, err
		}
		records = append(records, domain.PendingTransaction{
			Hash:                 row.Hash,
			From:                 row.From,
			Nonce:                row.Nonce,
			MaxPriorityFeePerGas: fee,
			GasLimit:             gas,
			Timestamp:            time.Unix(0, row.Timestamp).UTC(),
		})
	}
	return records, nil
}
