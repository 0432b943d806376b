package cache

import (
	"encoding/hex"
	"encoding/json"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// keyPrefix namespaces every key written by this service, so a shared Redis
// deployment can host other applications without collisions.
const keyPrefix = "sentra"

// Logical cache namespaces. Invalidation always targets a namespace, never the
// whole keyspace.
const (
	NamespaceDecision   = "decision"
	NamespaceHierarchy  = "hierarchy"
	NamespacePermission = "permission"
	NamespaceProfile    = "profile"
)

// Key builds a namespaced cache key from its parts.
func Key(namespace string, parts ...string) string {
	b := strings.Builder{}
	b.WriteString(keyPrefix)
	b.WriteByte(':')
	b.WriteString(namespace)
	for _, p := range parts {
		b.WriteByte(':')
		b.WriteString(p)
	}
	return b.String()
}

// Prefix builds a namespaced key prefix for bulk invalidation.
func Prefix(namespace string, parts ...string) string {
	return Key(namespace, parts...) + ":"
}

// HashSecret digests credential material into a fixed-width hex string.
// Raw tokens must never appear in cache keys.
func HashSecret(raw string) string {
	sum := blake2b.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:16])
}

// HashContext digests an evaluation context object into a stable hex string.
// encoding/json sorts map keys, so equal contexts hash identically regardless
// of insertion order.
func HashContext(ctx map[string]any) string {
	if len(ctx) == 0 {
		return "0"
	}
	raw, err := json.Marshal(ctx)
	if err != nil {
		// Unmarshalable contexts degrade to the empty-context bucket rather
		// than failing the evaluation.
		return "0"
	}
	sum := blake2b.Sum256(raw)
	return hex.EncodeToString(sum[:16])
}
