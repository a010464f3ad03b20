// Package kv stores small JSON documents per visitor namespace. It replaces the browser's
// local storage: each namespace holds independent keys such as the cart and the last order.
package kv

import (
	"context"
	"fmt"
	"strings"

	"github.com/hanko-field/storefront/internal/platform/config"
)

// Keys used by the storefront.
const (
	KeyCart      = "cart"
	KeyLastOrder = "lastOrder"
)

// Store reads and writes opaque values addressed by namespace and key.
// A missing key yields an error for which IsNotFound reports true.
type Store interface {
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Set(ctx context.Context, namespace, key string, value []byte) error
	Delete(ctx context.Context, namespace, key string) error
	Close() error
}

// Open constructs the backend selected by configuration.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", config.StorageBackendMemory:
		return NewMemoryStore(), nil
	case config.StorageBackendSQLite:
		return OpenSQLite(ctx, cfg.SQLitePath)
	case config.StorageBackendFirestore:
		provider := NewProvider(cfg.FirestoreProjectID, cfg.FirestoreEmulatorHost)
		return NewFirestoreStore(provider, cfg.FirestoreCollection), nil
	default:
		return nil, fmt.Errorf("kv: unknown backend %q", cfg.Backend)
	}
}

func validateAddress(op, namespace, key string) error {
	if strings.TrimSpace(namespace) == "" {
		return newError(op, ErrInvalidAddress, categoryNone)
	}
	if strings.TrimSpace(key) == "" || strings.Contains(key, "/") {
		return newError(op, ErrInvalidAddress, categoryNone)
	}
	return nil
}
