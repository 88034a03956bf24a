package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/domain"
	"github.com/prohmpiriya/ticket-ledger/pkg/logger"
)

// CachedRepository decorates an AccountRepository with a Redis read-through account cache
type CachedRepository struct {
	AccountRepository
	client    redis.Cmdable
	ttl       time.Duration
	keyPrefix string
}

// NewCachedRepository creates a new CachedRepository
func NewCachedRepository(inner AccountRepository, client redis.Cmdable, ttl time.Duration, keyPrefix string) *CachedRepository {
	if keyPrefix == "" {
		keyPrefix = "ledger:account:"
	}
	return &CachedRepository{
		AccountRepository: inner,
		client:            client,
		ttl:               ttl,
		keyPrefix:         keyPrefix,
	}
}

func (r *CachedRepository) key(addr domain.Address) string {
	return r.keyPrefix + addr.String()
}

// GetAccount serves from cache when possible; cache failures fall through to the backing store
func (r *CachedRepository) GetAccount(ctx context.Context, addr domain.Address) (*domain.Account, error) {
	key := r.key(addr)

	raw, err := r.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var acc domain.Account
		if jsonErr := json.Unmarshal(raw, &acc); jsonErr == nil {
			return &acc, nil
		}
		logger.WarnCtx(ctx, "Discarding corrupt cached account", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		logger.WarnCtx(ctx, "Account cache read failed", zap.String("key", key), zap.Error(err))
	}

	acc, err := r.AccountRepository.GetAccount(ctx, addr)
	if err != nil || acc == nil {
		return acc, err
	}

	payload, err := json.Marshal(acc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal account: %w", err)
	}
	if err := r.client.Set(ctx, key, string(payload), r.ttl).Err(); err != nil {
		logger.WarnCtx(ctx, "Account cache write failed", zap.String("key", key), zap.Error(err))
	}
	return acc, nil
}

// Commit writes through to the backing store and invalidates every touched account
func (r *CachedRepository) Commit(ctx context.Context, batch *CommitBatch) error {
	if err := r.AccountRepository.Commit(ctx, batch); err != nil {
		return err
	}
	if len(batch.Accounts) == 0 {
		return nil
	}
	keys := make([]string, 0, len(batch.Accounts))
	for _, acc := range batch.Accounts {
		keys = append(keys, r.key(acc.Address))
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		// stale entries expire after ttl
		logger.ErrorCtx(ctx, "Account cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
	}
	return nil
}

// Ping checks both the backing store and Redis
func (r *CachedRepository) Ping(ctx context.Context) error {
	if err := r.AccountRepository.Ping(ctx); err != nil {
		return err
	}
	return r.client.Ping(ctx).Err()
}
