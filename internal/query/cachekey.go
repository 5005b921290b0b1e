package query

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"freight-insights/internal/domain"
)

// CacheKey computes the deterministic content hash for one execution:
// sha256 over the canonical JSON of (definition, parameters). Keys carry a
// per-definition prefix so pattern invalidation can target one definition.
func CacheKey(def *domain.QueryDefinition, params domain.RuntimeParameters) (string, error) {
	payload := struct {
		Definition *domain.QueryDefinition `json:"definition"`
		Parameters domain.RuntimeParameters `json:"parameters"`
	}{def, params}

	// json.Marshal sorts map keys, so equal inputs serialize identically.
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("serialize cache key: %w", err)
	}
	sum := sha256.Sum256(b)

	scope := def.ID
	if scope == "" {
		scope = def.Name
	}
	return fmt.Sprintf("query:%s:%s", scope, hex.EncodeToString(sum[:])), nil
}

// InvalidationPattern returns the cache pattern covering every cached
// execution of the given definition.
func InvalidationPattern(defID string) string {
	return fmt.Sprintf("query:%s:*", defID)
}
