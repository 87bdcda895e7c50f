package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const redisCacheTTL = 5 * time.Minute
const redisKeyPrefix = "gw:key:"

// KeyStore looks up an API key record by its hash.
type KeyStore interface {
	Lookup(ctx context.Context, keyHash string) (*APIKeyRecord, error)
}

// CachedKeyStore implements KeyStore with PostgreSQL as the system of
// record and Redis as a hot-path cache, mirroring the teacher's layered
// auth store.
type CachedKeyStore struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func NewCachedKeyStore(db *pgxpool.Pool, rdb *redis.Client) *CachedKeyStore {
	return &CachedKeyStore{db: db, redis: rdb}
}

func (s *CachedKeyStore) Lookup(ctx context.Context, keyHash string) (*APIKeyRecord, error) {
	if s.redis != nil {
		cached, err := s.redis.Get(ctx, redisKeyPrefix+keyHash).Bytes()
		if err == nil {
			var rec APIKeyRecord
			if err := json.Unmarshal(cached, &rec); err == nil {
				return &rec, nil
			}
		}
	}

	rec, err := s.lookupDB(ctx, keyHash)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	if s.redis != nil {
		data, err := json.Marshal(rec)
		if err == nil {
			s.redis.Set(ctx, redisKeyPrefix+keyHash, data, redisCacheTTL)
		}
	}

	return rec, nil
}

func (s *CachedKeyStore) lookupDB(ctx context.Context, keyHash string) (*APIKeyRecord, error) {
	var rec APIKeyRecord
	var allowedModelsJSON []byte

	err := s.db.QueryRow(ctx, `
		SELECT id, key_hash, key_prefix, name, rate_capacity, rate_refill_per_second,
		       allowed_models, created_at, expires_at, status
		FROM api_keys
		WHERE key_hash = $1
		  AND status = 'active'
		  AND (expires_at IS NULL OR expires_at > NOW())
	`, keyHash).Scan(
		&rec.ID,
		&rec.KeyHash,
		&rec.KeyPrefix,
		&rec.Name,
		&rec.RateCapacity,
		&rec.RateRefillPerSecond,
		&allowedModelsJSON,
		&rec.CreatedAt,
		&rec.ExpiresAt,
		&rec.Status,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query api_keys: %w", err)
	}

	if len(allowedModelsJSON) > 0 {
		json.Unmarshal(allowedModelsJSON, &rec.AllowedModels)
	}

	// Update last_used_at asynchronously (fire-and-forget), matching the
	// teacher's non-blocking audit write.
	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.db.Exec(bgCtx, `UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, rec.ID)
	}()

	return &rec, nil
}
