package auth

import (
	"context"

	"github.com/agentgraphsociety/llm-gateway/internal/config"
)

// DevKeyStore resolves API keys from the in-process configuration table
// instead of Postgres. It is the development/fallback path spec.md §6
// describes for api_keys when no database is configured; it resolves to
// the same AuthInfo shape as CachedKeyStore.
type DevKeyStore struct {
	byHash map[string]*APIKeyRecord
}

// NewDevKeyStore builds a DevKeyStore from the configured api_keys table,
// hashing each raw key once at startup.
func NewDevKeyStore(keys []config.DevAPIKey, defaultRate config.KeyRateLimit) *DevKeyStore {
	byHash := make(map[string]*APIKeyRecord, len(keys))
	for _, k := range keys {
		rate := defaultRate
		if k.Rate != nil {
			rate = *k.Rate
		}
		hash := HashKey(k.Key)
		byHash[hash] = &APIKeyRecord{
			ID:                  hash[:12],
			KeyHash:             hash,
			KeyPrefix:           KeyPrefix(k.Key),
			Name:                k.Name,
			RateCapacity:        rate.Capacity,
			RateRefillPerSecond: rate.RefillPerSecond,
			AllowedModels:       k.AllowedModels,
			Status:              "active",
		}
	}
	return &DevKeyStore{byHash: byHash}
}

func (s *DevKeyStore) Lookup(ctx context.Context, keyHash string) (*APIKeyRecord, error) {
	rec, ok := s.byHash[keyHash]
	if !ok {
		return nil, nil
	}
	return rec, nil
}
