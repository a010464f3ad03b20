package kv

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestFirestoreStoreAgainstEmulator(t *testing.T) {
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	provider := NewProvider("storefront-test", host)
	store := NewFirestoreStore(provider, "kv-test-"+time.Now().UTC().Format("20060102150405"))
	t.Cleanup(func() { _ = store.Close() })

	exerciseStore(t, store)
}

func TestProviderRequiresProject(t *testing.T) {
	t.Setenv("GOOGLE_CLOUD_PROJECT", "")
	provider := NewProvider("", "127.0.0.1:1")
	if _, err := provider.Client(context.Background()); err == nil {
		t.Fatalf("expected error without project id")
	}
	if err := provider.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if _, err := provider.Client(context.Background()); err != ErrProviderClosed {
		t.Fatalf("expected ErrProviderClosed, got %v", err)
	}
}
