package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iammorganparry/hive-sync/internal/models"
)

const apiKeyPrefix = "hive_"

// APIKeyStore manages hashed admin API keys.
type APIKeyStore struct {
	db *DB
}

func NewAPIKeyStore(db *DB) *APIKeyStore {
	return &APIKeyStore{db: db}
}

// HashKey returns the stored form of a raw key.
func HashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// Create generates a new key. The raw key is returned once and never stored.
func (s *APIKeyStore) Create(ctx context.Context, name string, perms []models.Permission) (string, *models.APIKey, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", nil, fmt.Errorf("generate key: %w", err)
	}
	raw := apiKeyPrefix + hex.EncodeToString(buf)

	permsJSON, err := json.Marshal(perms)
	if err != nil {
		return "", nil, fmt.Errorf("marshal permissions: %w", err)
	}

	key := &models.APIKey{
		ID:          uuid.New().String(),
		Name:        name,
		KeyHash:     HashKey(raw),
		Permissions: perms,
		CreatedAt:   time.Now().UTC(),
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, name, key_hash, permissions, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		key.ID, key.Name, key.KeyHash, string(permsJSON), toMillis(key.CreatedAt),
	)
	if err != nil {
		return "", nil, fmt.Errorf("insert api key: %w", err)
	}
	return raw, key, nil
}

// Lookup finds the key matching raw and stamps its last use. Returns nil, nil
// for unknown keys.
func (s *APIKeyStore) Lookup(ctx context.Context, raw string) (*models.APIKey, error) {
	var key models.APIKey
	var permsJSON string
	var created int64
	var lastUsed sql.NullInt64

	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, key_hash, permissions, created_at, last_used_at
		FROM api_keys WHERE key_hash = ?`, HashKey(raw),
	).Scan(&key.ID, &key.Name, &key.KeyHash, &permsJSON, &created, &lastUsed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup api key: %w", err)
	}

	if err := json.Unmarshal([]byte(permsJSON), &key.Permissions); err != nil {
		return nil, fmt.Errorf("decode permissions: %w", err)
	}
	key.CreatedAt = fromMillis(created)
	key.LastUsedAt = fromNullMillis(lastUsed)

	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = ? WHERE id = ?`, toMillis(now), key.ID); err != nil {
		return nil, fmt.Errorf("touch api key: %w", err)
	}
	return &key, nil
}
