package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math/big"
	"time"
)

const alphanumeric = "abcdefghijklmnopqrstuvwxyz0123456789"

// GenerateKey creates a new API key with the format: gw-{env}-{32 random alphanumeric chars}
func GenerateKey(env string) (string, error) {
	random, err := randomString(32)
	if err != nil {
		return "", fmt.Errorf("generate random: %w", err)
	}
	return fmt.Sprintf("gw-%s-%s", env, random), nil
}

// HashKey returns the SHA-256 hex digest of an API key. Only the hash is
// ever persisted; the raw key is shown to the operator once, at creation.
func HashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", h)
}

// KeyPrefix extracts a display-safe prefix from a key: gw-{env}-{first 8 chars}
func KeyPrefix(key string) string {
	if len(key) < 16 {
		return key
	}
	dashes := 0
	for i, c := range key {
		if c == '-' {
			dashes++
			if dashes == 2 {
				end := i + 9 // dash + 8 chars
				if end > len(key) {
					end = len(key)
				}
				return key[:end]
			}
		}
	}
	return key[:16]
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	max := big.NewInt(int64(len(alphanumeric)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = alphanumeric[idx.Int64()]
	}
	return string(b), nil
}

// APIKeyRecord is the admission store's durable record for a key (§3,
// backs Admission/J). The raw key is never stored; only KeyHash is.
type APIKeyRecord struct {
	ID                   string    `json:"id"`
	KeyHash              string    `json:"key_hash"`
	KeyPrefix            string    `json:"key_prefix"`
	Name                 string    `json:"name"`
	RateCapacity         float64   `json:"rate_capacity"`
	RateRefillPerSecond  float64   `json:"rate_refill_per_second"`
	AllowedModels        []string  `json:"allowed_models"` // empty = all
	CreatedAt            time.Time `json:"created_at"`
	ExpiresAt            time.Time `json:"expires_at"`
	Status               string    `json:"status"` // active, revoked
}

func (r *APIKeyRecord) MarshalJSON() ([]byte, error) {
	type Alias APIKeyRecord
	return json.Marshal((*Alias)(r))
}

func (r *APIKeyRecord) UnmarshalJSON(data []byte) error {
	type Alias APIKeyRecord
	return json.Unmarshal(data, (*Alias)(r))
}

// ParseDuration parses a duration string like "365d", "30d", "24h".
func ParseDuration(s string) (time.Duration, error) {
	if len(s) == 0 {
		return 0, fmt.Errorf("empty duration")
	}
	last := s[len(s)-1]
	if last == 'd' {
		var days int
		_, err := fmt.Sscanf(s, "%dd", &days)
		if err != nil {
			return 0, fmt.Errorf("parse days: %w", err)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
